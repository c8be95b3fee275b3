/**
 * @description
 * Per-account mutual exclusion for balance mutation. Several due transfers can
 * share one source account within a batch run; without serialization two
 * concurrent balance reads could both pass the sufficiency check against the
 * same stale balance and double-debit. The registry hands out one lock per
 * account id, created lazily and shared across all callers in the process.
 *
 * Locks on distinct accounts never block each other.
 */

package locks

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
)

// DefaultWaitTimeout bounds how long a caller waits for an account lock.
const DefaultWaitTimeout = 30 * time.Second

// AcquireTimeoutError reports that the per-account lock could not be acquired
// within the bounded wait. The protected task was not run.
type AcquireTimeoutError struct {
	AccountID uuid.UUID
	Waited    time.Duration
}

func (e *AcquireTimeoutError) Error() string {
	return fmt.Sprintf("timed out after %s waiting for lock on account %s", e.Waited, e.AccountID)
}

// Registry owns the per-account locks. Construct with NewRegistry and inject
// it; it must be shared by every code path that mutates account balances.
type Registry struct {
	mu          sync.Mutex
	locks       map[uuid.UUID]chan struct{}
	waitTimeout time.Duration
}

// NewRegistry creates a lock registry with the given acquisition wait bound.
// A non-positive timeout falls back to DefaultWaitTimeout.
func NewRegistry(waitTimeout time.Duration) *Registry {
	if waitTimeout <= 0 {
		waitTimeout = DefaultWaitTimeout
	}
	return &Registry{
		locks:       make(map[uuid.UUID]chan struct{}),
		waitTimeout: waitTimeout,
	}
}

// lockFor returns the semaphore for an account, creating it on first use.
func (r *Registry) lockFor(accountID uuid.UUID) chan struct{} {
	r.mu.Lock()
	defer r.mu.Unlock()
	sem, ok := r.locks[accountID]
	if !ok {
		sem = make(chan struct{}, 1)
		r.locks[accountID] = sem
	}
	return sem
}

// WithAccountLock runs fn while holding the account's lock. Acquisition waits
// at most the registry's bound; on timeout fn is not run and an
// *AcquireTimeoutError is returned. The lock is always released, including
// when fn panics.
func (r *Registry) WithAccountLock(ctx context.Context, accountID uuid.UUID, fn func() error) error {
	sem := r.lockFor(accountID)

	timer := time.NewTimer(r.waitTimeout)
	defer timer.Stop()

	select {
	case sem <- struct{}{}:
	case <-timer.C:
		return &AcquireTimeoutError{AccountID: accountID, Waited: r.waitTimeout}
	case <-ctx.Done():
		return ctx.Err()
	}

	defer func() { <-sem }()
	return fn()
}

// Remove drops the lock entry for one account. Memory hygiene only: call it
// between batch runs, never while a task may be in flight for the account.
func (r *Registry) Remove(accountID uuid.UUID) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.locks, accountID)
}

// Clear drops all lock entries. Same caveat as Remove.
func (r *Registry) Clear() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := len(r.locks)
	r.locks = make(map[uuid.UUID]chan struct{})
	return n
}

// Len reports how many accounts currently have a lock entry.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.locks)
}
