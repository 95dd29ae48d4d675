package trading

import (
	"fmt"
	"sync"
	"time"

	"github.com/esx-sim/esx/internal/domain"
)

// LockManager serializes matching per stock. Acquire blocks up to the
// deadline and fails with ResourceBusy so callers can retry instead of
// queueing without bound.
type LockManager struct {
	mu       sync.Mutex
	locks    map[int64]chan struct{}
	deadline time.Duration
}

// NewLockManager creates a lock manager with the given acquire deadline.
func NewLockManager(deadline time.Duration) *LockManager {
	return &LockManager{
		locks:    make(map[int64]chan struct{}),
		deadline: deadline,
	}
}

func (m *LockManager) lock(stockID int64) chan struct{} {
	m.mu.Lock()
	defer m.mu.Unlock()
	ch, ok := m.locks[stockID]
	if !ok {
		ch = make(chan struct{}, 1)
		m.locks[stockID] = ch
	}
	return ch
}

// Acquire takes the stock's lock, returning the release function.
func (m *LockManager) Acquire(stockID int64) (func(), error) {
	ch := m.lock(stockID)

	timer := time.NewTimer(m.deadline)
	defer timer.Stop()

	select {
	case ch <- struct{}{}:
		return func() { <-ch }, nil
	case <-timer.C:
		return nil, fmt.Errorf("%w: stock %d is locked", domain.ErrResourceBusy, stockID)
	}
}
