package llm

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewTitleExtractor_OpenAI(t *testing.T) {
	t.Parallel()

	cfg := FactoryConfig{
		Provider:    "openai",
		Timeout:     30 * time.Second,
		Temperature: 0.1,
		OpenAI: OpenAIConfig{
			APIKey:  "sk-test-key",
			Model:   "gpt-4o-mini",
			BaseURL: "https://api.openai.com/v1",
		},
	}

	extractor, err := NewTitleExtractor(cfg)

	require.NoError(t, err)
	require.NotNil(t, extractor)
	assert.Equal(t, "openai", extractor.Provider())
	assert.Equal(t, "gpt-4o-mini", extractor.Model())
}

func TestNewTitleExtractor_Anthropic(t *testing.T) {
	t.Parallel()

	cfg := FactoryConfig{
		Provider:    "anthropic",
		Timeout:     45 * time.Second,
		Temperature: 0.1,
		Anthropic: AnthropicConfig{
			APIKey:  "sk-ant-test-key",
			Model:   "claude-3-5-haiku-20241022",
			BaseURL: "https://api.anthropic.com",
		},
	}

	extractor, err := NewTitleExtractor(cfg)

	require.NoError(t, err)
	require.NotNil(t, extractor)
	assert.Equal(t, "anthropic", extractor.Provider())
	assert.Equal(t, "claude-3-5-haiku-20241022", extractor.Model())
}

func TestNewTitleExtractor_Unknown(t *testing.T) {
	t.Parallel()

	cfg := FactoryConfig{
		Provider: "unknown-provider",
	}

	extractor, err := NewTitleExtractor(cfg)

	require.Error(t, err)
	assert.Nil(t, extractor)
	assert.Contains(t, err.Error(), "unsupported LLM provider")
	assert.Contains(t, err.Error(), "unknown-provider")
}

func TestNewTitleExtractor_EmptyProvider(t *testing.T) {
	t.Parallel()

	cfg := FactoryConfig{
		Provider: "",
	}

	extractor, err := NewTitleExtractor(cfg)

	require.Error(t, err)
	assert.Nil(t, extractor)
	assert.Contains(t, err.Error(), "unsupported LLM provider")
}
