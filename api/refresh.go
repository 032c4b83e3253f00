package api

import (
	"sync"
)

type refreshResult struct {
	token string
	err   error
}

// RefreshCoordinator makes credential refresh single-flight. The first
// caller to join becomes the leader and performs the refresh; callers that
// join while it is in flight receive a future that settles with the
// leader's outcome. Futures are released in the order they were created.
//
// A coordinator may be shared by several clients that use the same session.
type RefreshCoordinator struct {
	mu       sync.Mutex
	inFlight bool
	waiters  []chan refreshResult
}

// NewRefreshCoordinator returns an idle coordinator.
func NewRefreshCoordinator() *RefreshCoordinator {
	return &RefreshCoordinator{}
}

// join returns leader=true when no refresh is in flight; the caller must
// then call settle exactly once. Otherwise it returns a future for the
// in-flight refresh.
func (r *RefreshCoordinator) join() (leader bool, wait <-chan refreshResult) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if !r.inFlight {
		r.inFlight = true
		return true, nil
	}
	ch := make(chan refreshResult, 1)
	r.waiters = append(r.waiters, ch)
	return false, ch
}

// settle clears the in-flight flag and then resolves every waiter with the
// same outcome, oldest first.
func (r *RefreshCoordinator) settle(token string, err error) {
	r.mu.Lock()
	waiters := r.waiters
	r.waiters = nil
	r.inFlight = false
	r.mu.Unlock()
	for _, ch := range waiters {
		ch <- refreshResult{token: token, err: err}
	}
}

// InFlight reports whether a refresh is running.
func (r *RefreshCoordinator) InFlight() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.inFlight
}

// Waiting returns the number of callers blocked on the in-flight refresh.
func (r *RefreshCoordinator) Waiting() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.waiters)
}
