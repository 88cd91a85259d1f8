package server

import (
	"errors"
	"fmt"
	"sort"
	"sync/atomic"

	"typed-rpc/definition"
	"typed-rpc/message"
)

var (
	ErrDuplicateRPC = errors.New("rpc already registered")
	ErrServing      = errors.New("server already serving")
)

type entry[S any] struct {
	definition.Entry[S]
	calls    atomic.Uint64
	failures atomic.Uint64
}

// Registry maps identifiers to type-erased handler entries. Entries are added before
// the server starts; during serving the map is only read, so lookups take no lock.
type Registry[S any] struct {
	entries map[message.ID]*entry[S]
	frozen  atomic.Bool
}

func NewRegistry[S any]() *Registry[S] {
	return &Registry[S]{entries: make(map[message.ID]*entry[S])}
}

// Register adds e. A second entry for the same identifier is rejected here rather
// than at call time.
func (r *Registry[S]) Register(e definition.Entry[S]) error {
	if r.frozen.Load() {
		return fmt.Errorf("register %s: %w", e.Name(), ErrServing)
	}
	if prev, dup := r.entries[e.ID()]; dup {
		return fmt.Errorf("%w: %s (%d) collides with %s", ErrDuplicateRPC, e.Name(), uint32(e.ID()), prev.Name())
	}
	r.entries[e.ID()] = &entry[S]{Entry: e}
	return nil
}

func (r *Registry[S]) Lookup(id message.ID) (definition.Entry[S], bool) {
	e, ok := r.entries[id]
	if !ok {
		return nil, false
	}
	return e.Entry, true
}

func (r *Registry[S]) lookup(id message.ID) (*entry[S], bool) {
	e, ok := r.entries[id]
	return e, ok
}

// Name implements middleware.Namer.
func (r *Registry[S]) Name(id message.ID) string {
	if e, ok := r.entries[id]; ok {
		return e.Name()
	}
	return id.String()
}

func (r *Registry[S]) Len() int {
	return len(r.entries)
}

// freeze marks the registry read-only.
func (r *Registry[S]) freeze() {
	r.frozen.Store(true)
}

// Stat is a snapshot of one entry's counters.
type Stat struct {
	ID       message.ID `json:"id"`
	Name     string     `json:"name"`
	Calls    uint64     `json:"calls"`
	Failures uint64     `json:"failures"`
}

// Entries returns the registered entries ordered by identifier.
func (r *Registry[S]) Entries() []definition.Entry[S] {
	sorted := r.sorted()
	out := make([]definition.Entry[S], len(sorted))
	for i, e := range sorted {
		out[i] = e.Entry
	}
	return out
}

// Stats returns per-entry counters ordered by identifier.
func (r *Registry[S]) Stats() []Stat {
	sorted := r.sorted()
	stats := make([]Stat, len(sorted))
	for i, e := range sorted {
		stats[i] = Stat{
			ID:       e.ID(),
			Name:     e.Name(),
			Calls:    e.calls.Load(),
			Failures: e.failures.Load(),
		}
	}
	return stats
}

func (r *Registry[S]) sorted() []*entry[S] {
	out := make([]*entry[S], 0, len(r.entries))
	for _, e := range r.entries {
		out = append(out, e)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID() < out[j].ID() })
	return out
}
