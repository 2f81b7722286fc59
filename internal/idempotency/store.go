// Package idempotency deduplicates order submissions by caller-supplied
// key. The first submission for a key claims it; concurrent duplicates wait
// for the claimant's result, and later duplicates within the retention
// window receive the recorded report without a second venue call.
package idempotency

import (
	"context"
	"sync"
	"time"

	"tradegate/internal/domain"
)

// DefaultTTL is the retention window for recorded reports.
const DefaultTTL = 24 * time.Hour

// Outcome is the recorded result of a submission: the report plus, for
// risk-locked submissions, the lock signal so replays surface the exact
// rejection the first attempt saw.
type Outcome struct {
	Report     *domain.ExecutionReport
	LockSignal *domain.RiskSignal
}

func (o *Outcome) clone() *Outcome {
	out := &Outcome{Report: o.Report.Clone()}
	if o.LockSignal != nil {
		sig := *o.LockSignal
		out.LockSignal = &sig
	}
	return out
}

type entry struct {
	outcome   *Outcome // nil while the claimant is in flight
	done      chan struct{}
	expiresAt time.Time
}

// Store is an in-memory idempotency store with atomic claim semantics.
type Store struct {
	ttl time.Duration
	now func() time.Time

	mu      sync.Mutex
	entries map[string]*entry
}

// NewStore creates a store retaining recorded reports for ttl
// (DefaultTTL if ttl <= 0).
func NewStore(ttl time.Duration) *Store {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &Store{
		ttl:     ttl,
		now:     time.Now,
		entries: make(map[string]*entry),
	}
}

// Claim is held by the single submission executing for a key. Exactly one of
// Resolve or Release must be called.
type Claim struct {
	store *Store
	key   string
	entry *entry
}

// Acquire returns either the previously recorded outcome for key, or a
// Claim granting the caller the right to execute. If another submission
// holds the claim, Acquire blocks until it resolves or releases. A released
// claim (venue call failed, nothing recorded) lets the next waiter
// re-execute.
func (s *Store) Acquire(ctx context.Context, key string) (*Claim, *Outcome, error) {
	for {
		s.mu.Lock()
		e, ok := s.entries[key]
		if ok && e.outcome == nil {
			// In flight: wait for the claimant outside the lock.
			done := e.done
			s.mu.Unlock()
			select {
			case <-ctx.Done():
				return nil, nil, ctx.Err()
			case <-done:
			}
			continue
		}
		if ok && s.now().Before(e.expiresAt) {
			outcome := e.outcome.clone()
			s.mu.Unlock()
			return nil, outcome, nil
		}
		// Absent or expired: take the claim.
		e = &entry{done: make(chan struct{})}
		s.entries[key] = e
		s.mu.Unlock()
		return &Claim{store: s, key: key, entry: e}, nil, nil
	}
}

// Resolve records the outcome for the claimed key and wakes waiters.
func (c *Claim) Resolve(outcome Outcome) {
	c.store.mu.Lock()
	c.entry.outcome = outcome.clone()
	c.entry.expiresAt = c.store.now().Add(c.store.ttl)
	c.store.mu.Unlock()
	close(c.entry.done)
}

// Release abandons the claim without recording a result, so a retry with the
// same key executes afresh.
func (c *Claim) Release() {
	c.store.mu.Lock()
	if c.store.entries[c.key] == c.entry {
		delete(c.store.entries, c.key)
	}
	c.store.mu.Unlock()
	close(c.entry.done)
}

// Sweep drops expired entries and returns how many were removed.
func (s *Store) Sweep() int {
	now := s.now()
	s.mu.Lock()
	defer s.mu.Unlock()
	removed := 0
	for key, e := range s.entries {
		if e.outcome != nil && !now.Before(e.expiresAt) {
			delete(s.entries, key)
			removed++
		}
	}
	return removed
}

// Run sweeps expired entries at the given interval until ctx is cancelled.
func (s *Store) Run(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = time.Hour
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.Sweep()
		}
	}
}

// Len reports the number of stored entries, including in-flight claims.
func (s *Store) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.entries)
}
