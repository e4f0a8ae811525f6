package keylock

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLocker_SameKeySerialized(t *testing.T) {
	l := New[uint64]()

	var active, maxActive atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			unlock := l.Lock(1)
			defer unlock()

			cur := active.Add(1)
			for {
				prev := maxActive.Load()
				if cur <= prev || maxActive.CompareAndSwap(prev, cur) {
					break
				}
			}
			time.Sleep(time.Millisecond)
			active.Add(-1)
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(1), maxActive.Load())
	assert.Zero(t, l.Len(), "entries are dropped once released")
}

func TestLocker_DifferentKeysParallel(t *testing.T) {
	l := New[uint64]()

	unlock1 := l.Lock(1)
	defer unlock1()

	done := make(chan struct{})
	go func() {
		unlock2 := l.Lock(2)
		unlock2()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("lock on a different key blocked")
	}
}

func TestLocker_LockContextCancelled(t *testing.T) {
	l := New[string]()

	unlock := l.Lock("guild")

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	u, err := l.LockContext(ctx, "guild")
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Nil(t, u)
	assert.Equal(t, 1, l.Len(), "waiter reference released on cancellation")

	unlock()
	assert.Zero(t, l.Len())

	u, err = l.LockContext(context.Background(), "guild")
	require.NoError(t, err)
	u()
}

func TestLocker_AlreadyCancelledContext(t *testing.T) {
	l := New[string]()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := l.LockContext(ctx, "guild")
	assert.ErrorIs(t, err, context.Canceled)
	assert.Zero(t, l.Len())
}

func TestLocker_UnlockIdempotent(t *testing.T) {
	l := New[int]()
	unlock := l.Lock(5)
	unlock()
	unlock()
	assert.Zero(t, l.Len())

	unlock = l.Lock(5)
	unlock()
}
