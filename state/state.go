// Package state guards the mutable value shared by every handler of a server.
package state

import "sync"

// Guarded owns a value of type S and hands out exclusive access one caller at a time.
// The zero value guards the zero S.
type Guarded[S any] struct {
	mu sync.Mutex
	v  S
}

func New[S any](initial S) *Guarded[S] {
	return &Guarded[S]{v: initial}
}

// With runs fn with exclusive access to the value. The lock is released when fn
// returns or panics; a panic is re-raised after the release.
func (g *Guarded[S]) With(fn func(*S) error) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	return fn(&g.v)
}

// Snapshot returns a shallow copy of the value taken under the lock.
func (g *Guarded[S]) Snapshot() S {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.v
}
