package pubmed

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewRateLimiter(t *testing.T) {
	t.Run("creates limiter with NCBI rate (3 req/sec)", func(t *testing.T) {
		rl := NewRateLimiter(3, 3)

		require.NotNil(t, rl)
		// Should allow a burst of 3
		for i := 0; i < 3; i++ {
			assert.True(t, rl.Allow(), "request %d should be within burst", i+1)
		}
		// 4th request should be denied immediately
		assert.False(t, rl.Allow())
	})

	t.Run("creates limiter with fractional rate", func(t *testing.T) {
		// 0.5 requests per second (1 request every 2 seconds)
		rl := NewRateLimiter(0.5, 1)

		require.NotNil(t, rl)
		assert.True(t, rl.Allow())
		assert.False(t, rl.Allow())
	})
}

func TestRateLimiter_Wait(t *testing.T) {
	t.Run("burst allows instant requests", func(t *testing.T) {
		rl := NewRateLimiter(100, 5)

		ctx := context.Background()
		start := time.Now()

		for i := 0; i < 5; i++ {
			require.NoError(t, rl.Wait(ctx))
		}

		elapsed := time.Since(start)
		assert.Less(t, elapsed, 50*time.Millisecond,
			"burst requests should be nearly instant, took %v", elapsed)
	})

	t.Run("waits for token after burst exhausted", func(t *testing.T) {
		// 10 requests per second = 100ms between requests
		rl := NewRateLimiter(10, 1)

		ctx := context.Background()
		require.NoError(t, rl.Wait(ctx))

		start := time.Now()
		require.NoError(t, rl.Wait(ctx))
		elapsed := time.Since(start)

		assert.GreaterOrEqual(t, elapsed, 90*time.Millisecond,
			"should wait for token, waited only %v", elapsed)
	})

	t.Run("respects context deadline", func(t *testing.T) {
		rl := NewRateLimiter(1, 1)

		// Exhaust the burst
		assert.True(t, rl.Allow())

		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
		defer cancel()

		// rate.Limiter.Wait reports "would exceed context deadline" rather
		// than returning context.DeadlineExceeded directly
		err := rl.Wait(ctx)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "deadline")
	})

	t.Run("returns immediately with canceled context", func(t *testing.T) {
		rl := NewRateLimiter(1, 1)

		assert.True(t, rl.Allow())

		ctx, cancel := context.WithCancel(context.Background())
		cancel()

		err := rl.Wait(ctx)
		require.Error(t, err)
		assert.ErrorIs(t, err, context.Canceled)
	})
}

func TestRateLimiter_SetRate(t *testing.T) {
	t.Run("updates rate limit", func(t *testing.T) {
		rl := NewRateLimiter(1, 1)

		assert.True(t, rl.Allow())
		assert.False(t, rl.Allow())

		// Increase rate to 1000/sec (1ms per token)
		rl.SetRate(1000)
		time.Sleep(5 * time.Millisecond)

		assert.True(t, rl.Allow())
	})
}

func TestRateLimiter_Tokens(t *testing.T) {
	t.Run("returns current token count", func(t *testing.T) {
		rl := NewRateLimiter(10, 5)

		assert.InDelta(t, 5.0, rl.Tokens(), 0.1)

		rl.Allow()
		rl.Allow()

		assert.InDelta(t, 3.0, rl.Tokens(), 0.1)
	})
}

func TestRateLimiter_Concurrency(t *testing.T) {
	t.Run("is safe for concurrent use", func(t *testing.T) {
		rl := NewRateLimiter(1000, 100)
		ctx := context.Background()

		var wg sync.WaitGroup
		errChan := make(chan error, 100)

		for i := 0; i < 10; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				for j := 0; j < 10; j++ {
					if err := rl.Wait(ctx); err != nil {
						errChan <- err
						return
					}
				}
			}()
		}

		for i := 0; i < 10; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				for j := 0; j < 10; j++ {
					rl.Allow()
				}
			}()
		}

		wg.Wait()
		close(errChan)

		for err := range errChan {
			t.Errorf("unexpected error during concurrent access: %v", err)
		}
	})
}
