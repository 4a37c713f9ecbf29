package userauth_test

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	ua "github.com/panyam/userauth"
)

// slowHasher records how many calls overlap
type slowHasher struct {
	active, peak atomic.Int32
	delay        time.Duration
}

func (h *slowHasher) enter() {
	n := h.active.Add(1)
	for {
		p := h.peak.Load()
		if n <= p || h.peak.CompareAndSwap(p, n) {
			break
		}
	}
	time.Sleep(h.delay)
	h.active.Add(-1)
}

func (h *slowHasher) Hash(p string) (string, error)    { h.enter(); return "digest:" + p, nil }
func (h *slowHasher) Verify(p, d string) (bool, error) { h.enter(); return d == "digest:"+p, nil }
func (h *slowHasher) NeedsRehash(string) bool          { return false }

func TestHashPool_BoundsConcurrency(t *testing.T) {
	defer goleak.VerifyNone(t, ignoreCacheJanitor)

	h := &slowHasher{delay: 10 * time.Millisecond}
	pool := ua.NewHashPool(h, 2)

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := pool.Hash(context.Background(), "pw")
			assert.NoError(t, err)
		}()
	}
	wg.Wait()
	assert.LessOrEqual(t, h.peak.Load(), int32(2))
	assert.GreaterOrEqual(t, h.peak.Load(), int32(1))

	ok, err := pool.Verify(context.Background(), "pw", "digest:pw")
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestHashPool_CancelledWhileWaiting(t *testing.T) {
	h := &slowHasher{delay: 50 * time.Millisecond}
	pool := ua.NewHashPool(h, 1)

	done := make(chan struct{})
	go func() {
		defer close(done)
		_, _ = pool.Hash(context.Background(), "first")
	}()
	// let the first call take the only slot
	require.Eventually(t, func() bool { return h.active.Load() == 1 }, time.Second, time.Millisecond)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := pool.Hash(ctx, "second")
	require.Error(t, err)
	assert.Equal(t, "HASH_POOL_CANCELLED", ua.ErrorCode(err))
	<-done
}
