package auction

import "sync"

// lockSet hands out one mutex per item. Entries are reference counted and
// removed when the last holder unlocks, so the map only holds items with
// admissions in flight.
type lockSet struct {
	mu    sync.Mutex
	locks map[int64]*itemLock
}

type itemLock struct {
	mu   sync.Mutex
	refs int
}

func newLockSet() *lockSet {
	return &lockSet{locks: make(map[int64]*itemLock)}
}

// Lock blocks until the caller holds itemID's critical section and returns
// the function that releases it.
func (s *lockSet) Lock(itemID int64) (unlock func()) {
	s.mu.Lock()
	l, ok := s.locks[itemID]
	if !ok {
		l = &itemLock{}
		s.locks[itemID] = l
	}
	l.refs++
	s.mu.Unlock()

	l.mu.Lock()
	return func() {
		l.mu.Unlock()
		s.mu.Lock()
		l.refs--
		if l.refs == 0 {
			delete(s.locks, itemID)
		}
		s.mu.Unlock()
	}
}

// size returns the number of items with a live lock entry
func (s *lockSet) size() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.locks)
}
