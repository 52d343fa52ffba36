// Package staging manages the transient filesystem workspace used by
// backup and restore operations: a mutual-exclusion lease per staging
// root and helpers for locating data inside extracted archives.
package staging

import (
	"errors"
	"sync"
)

// ErrConflict is returned when a lease for the root is already held.
// A second backup-creation request observes this immediately rather
// than queuing.
var ErrConflict = errors.New("staging root is busy")

// LeaseRegistry hands out at most one lease per staging root.
type LeaseRegistry struct {
	mu   sync.Mutex
	held map[string]struct{}
}

func NewLeaseRegistry() *LeaseRegistry {
	return &LeaseRegistry{held: make(map[string]struct{})}
}

// Acquire takes the lease for root, or fails with ErrConflict when it
// is already held. The returned release function is idempotent and
// must be called on every exit path.
func (r *LeaseRegistry) Acquire(root string) (release func(), err error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, busy := r.held[root]; busy {
		return nil, ErrConflict
	}
	r.held[root] = struct{}{}

	var once sync.Once
	return func() {
		once.Do(func() {
			r.mu.Lock()
			delete(r.held, root)
			r.mu.Unlock()
		})
	}, nil
}

// Held reports whether the root's lease is currently taken.
func (r *LeaseRegistry) Held(root string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, busy := r.held[root]
	return busy
}
