package utils

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLockLPsMutualExclusion(t *testing.T) {
	ctx := context.Background()

	unlock, err := LockLPs(ctx, "org-1", 1)
	require.NoError(t, err)

	acquired := make(chan struct{})
	go func() {
		u, err := LockLPs(ctx, "org-1", 1)
		if err == nil {
			u()
		}
		close(acquired)
	}()

	select {
	case <-acquired:
		t.Fatal("second holder acquired the lock while the first still held it")
	default:
	}

	unlock()
	<-acquired
}

func TestLockLPsDifferentOrgsDoNotContend(t *testing.T) {
	ctx := context.Background()
	unlock1, err := LockLPs(ctx, "org-1", 1)
	require.NoError(t, err)
	defer unlock1()

	unlock2, err := LockLPs(ctx, "org-2", 1)
	require.NoError(t, err)
	unlock2()
}

func TestLockLPsCollapsesDuplicates(t *testing.T) {
	ctx := context.Background()
	// A duplicate id must not self-deadlock.
	unlock, err := LockLPs(ctx, "org-1", 3, 3, 3)
	require.NoError(t, err)
	unlock()
}

// Two overlapping multi-LP operations taking their locks in opposite caller
// order must not deadlock: acquisition is sorted ascending internally.
func TestLockLPsOrderingPreventsDeadlock(t *testing.T) {
	ctx := context.Background()
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(2)
		go func() {
			defer wg.Done()
			unlock, err := LockLPs(ctx, "org-1", 1, 2)
			assert.NoError(t, err)
			unlock()
		}()
		go func() {
			defer wg.Done()
			unlock, err := LockLPs(ctx, "org-1", 2, 1)
			assert.NoError(t, err)
			unlock()
		}()
	}
	wg.Wait()
}
