package riskstate

import (
	"sync/atomic"
	"time"

	"github.com/sawpanic/niftyrun/internal/domain"
)

// Reader is the read-only view the decision core depends on
type Reader interface {
	Current() domain.RiskState
}

// Store holds the latest published RiskState. Reads never block and always see a
// complete snapshot; every publish bumps Version.
type Store struct {
	current atomic.Pointer[domain.RiskState]
	now     func() time.Time
}

// NewStore creates a store seeded with initial at version 1
func NewStore(initial domain.RiskState) *Store {
	s := &Store{now: time.Now}
	initial.Version = 1
	if initial.UpdatedAt.IsZero() {
		initial.UpdatedAt = s.now()
	}
	s.current.Store(&initial)
	return s
}

// Current returns a copy of the latest snapshot
func (s *Store) Current() domain.RiskState {
	return *s.current.Load()
}

// Version returns the version of the latest snapshot
func (s *Store) Version() uint64 {
	return s.current.Load().Version
}

// publish swaps in next as a new version. Only the Publisher goroutine and Restore call it.
func (s *Store) publish(next domain.RiskState) domain.RiskState {
	prev := s.current.Load()
	next.Version = prev.Version + 1
	next.UpdatedAt = s.now()
	s.current.Store(&next)
	return next
}
