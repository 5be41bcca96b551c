package guard

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryLocker_RejectsSecondAcquire(t *testing.T) {
	l := NewMemoryLocker(time.Minute)
	ctx := context.Background()

	release, err := l.Acquire(ctx, "session-1")
	require.NoError(t, err)

	_, err = l.Acquire(ctx, "session-1")
	assert.ErrorIs(t, err, ErrHeld)

	_, err = l.Acquire(ctx, "session-2")
	assert.NoError(t, err)

	require.NoError(t, release(ctx))

	_, err = l.Acquire(ctx, "session-1")
	assert.NoError(t, err)
}

func TestMemoryLocker_ExpiredLockCanBeTaken(t *testing.T) {
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	l := NewMemoryLocker(time.Second)
	l.now = func() time.Time { return now }

	stale, err := l.Acquire(context.Background(), "s")
	require.NoError(t, err)

	now = now.Add(2 * time.Second)
	_, err = l.Acquire(context.Background(), "s")
	require.NoError(t, err)

	// снятие протухшей блокировки не трогает новую
	require.NoError(t, stale(context.Background()))
	_, err = l.Acquire(context.Background(), "s")
	assert.ErrorIs(t, err, ErrHeld)
}

func TestMemoryLocker_Concurrent(t *testing.T) {
	l := NewMemoryLocker(time.Minute)

	var acquired atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := l.Acquire(context.Background(), "same"); err == nil {
				acquired.Add(1)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(1), acquired.Load())
}

func TestRedisLocker_GenerateKey(t *testing.T) {
	l := NewRedisLocker("localhost:0", "storefront", time.Minute)
	defer l.Close()

	assert.Equal(t, "storefront:submit:user-1", l.GenerateKey("submit", "user-1"))
}
