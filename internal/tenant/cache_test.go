package tenant

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

type countingReader struct {
	mu    sync.Mutex
	calls int
	gate  chan struct{}
}

func (c *countingReader) Get(_ context.Context, tenantID string) (Settings, error) {
	c.mu.Lock()
	c.calls++
	gate := c.gate
	c.mu.Unlock()
	if gate != nil {
		<-gate
	}
	return Settings{TenantID: tenantID, PresenceTagID: "tag-1", LogChannelID: "chan-1"}, nil
}

func TestCacheServesFromMemoryUntilTTL(t *testing.T) {
	reader := &countingReader{}
	cache := NewCache(reader, time.Minute)
	now := time.Unix(1000, 0)
	cache.now = func() time.Time { return now }

	ctx := context.Background()
	first, err := cache.Get(ctx, "t1")
	require.NoError(t, err)
	require.Equal(t, "tag-1", first.PresenceTagID)

	_, err = cache.Get(ctx, "t1")
	require.NoError(t, err)
	require.Equal(t, 1, reader.calls, "second read inside the TTL must hit the cache")

	now = now.Add(2 * time.Minute)
	_, err = cache.Get(ctx, "t1")
	require.NoError(t, err)
	require.Equal(t, 2, reader.calls, "expired entry must be re-read")
}

func TestCacheCollapsesConcurrentMisses(t *testing.T) {
	gate := make(chan struct{})
	reader := &countingReader{gate: gate}
	cache := NewCache(reader, time.Minute)

	const workers = 8
	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, _ = cache.Get(context.Background(), "t1")
		}()
	}

	require.Eventually(t, func() bool {
		reader.mu.Lock()
		defer reader.mu.Unlock()
		return reader.calls >= 1
	}, time.Second, time.Millisecond)
	close(gate)
	wg.Wait()

	reader.mu.Lock()
	calls := reader.calls
	reader.mu.Unlock()
	require.Equal(t, 1, calls, "concurrent misses for one tenant must share a single read")
}

func TestCacheInvalidateForcesReload(t *testing.T) {
	reader := &countingReader{}
	cache := NewCache(reader, time.Hour)

	ctx := context.Background()
	_, err := cache.Get(ctx, "t1")
	require.NoError(t, err)
	cache.Invalidate("t1")
	_, err = cache.Get(ctx, "t1")
	require.NoError(t, err)
	require.Equal(t, 2, reader.calls)
}
