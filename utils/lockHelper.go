package utils

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/bsm/redislock"
	"github.com/mmdatafocus/wms_backend/config"
)

// Per-LP mutual exclusion. Every mutating registry operation holds the locks
// of all affected LPs across: read state -> validate -> append ledger ->
// update LP -> write genealogy -> commit. Multi-LP operations acquire in
// ascending LP id order so two overlapping operations can never deadlock.
//
// In-process mutexes serialize within one instance; when Redis is configured
// a redislock per LP extends the same scope across instances.

const lpLockTTL = 30 * time.Second

type lockEntry struct {
	mu   sync.Mutex
	refs int
}

type lpLockManager struct {
	mu    sync.Mutex
	locks map[string]*lockEntry
}

var lpLocks = &lpLockManager{locks: make(map[string]*lockEntry)}

func (m *lpLockManager) acquire(key string) *lockEntry {
	m.mu.Lock()
	e, ok := m.locks[key]
	if !ok {
		e = &lockEntry{}
		m.locks[key] = e
	}
	e.refs++
	m.mu.Unlock()

	e.mu.Lock()
	return e
}

func (m *lpLockManager) release(key string, e *lockEntry) {
	e.mu.Unlock()

	m.mu.Lock()
	e.refs--
	if e.refs == 0 {
		delete(m.locks, key)
	}
	m.mu.Unlock()
}

// LockLPs acquires the mutual-exclusion scope for the given LPs and returns
// the release func. Duplicate ids collapse; acquisition order is ascending id.
func LockLPs(ctx context.Context, orgId string, lpIds ...int) (func(), error) {
	ids := UniqueSlice(lpIds)
	sort.Ints(ids)

	type held struct {
		key   string
		entry *lockEntry
		rlock *redislock.Lock
	}
	heldLocks := make([]held, 0, len(ids))

	releaseAll := func() {
		for i := len(heldLocks) - 1; i >= 0; i-- {
			h := heldLocks[i]
			if h.rlock != nil {
				_ = h.rlock.Release(context.Background())
			}
			lpLocks.release(h.key, h.entry)
		}
	}

	locker := config.GetRedisLock()
	for _, id := range ids {
		key := fmt.Sprintf("lpLock:%s:%d", orgId, id)
		entry := lpLocks.acquire(key)
		h := held{key: key, entry: entry}

		if locker != nil {
			rlock, err := locker.Obtain(ctx, key, lpLockTTL, &redislock.Options{
				RetryStrategy: redislock.LinearBackoff(50 * time.Millisecond),
			})
			if err != nil {
				lpLocks.release(key, entry)
				releaseAll()
				if err == redislock.ErrNotObtained {
					return nil, fmt.Errorf("could not obtain lock for lp %d", id)
				}
				return nil, err
			}
			h.rlock = rlock
		}
		heldLocks = append(heldLocks, h)
	}
	return releaseAll, nil
}
