package state

import (
	"errors"
	"sync"
	"testing"
	"time"
)

type names struct {
	list []string
}

func TestWithMutualExclusion(t *testing.T) {
	g := New(names{})

	const workers, perWorker = 8, 200
	var wg sync.WaitGroup
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < perWorker; i++ {
				_ = g.With(func(s *names) error {
					// read-modify-write that would lose updates without the lock
					n := len(s.list)
					next := make([]string, n+1)
					copy(next, s.list)
					next[n] = "x"
					s.list = next
					return nil
				})
			}
		}()
	}
	wg.Wait()

	if got := len(g.Snapshot().list); got != workers*perWorker {
		t.Fatalf("lost updates: got %d, want %d", got, workers*perWorker)
	}
}

func TestWithReturnsError(t *testing.T) {
	g := New(0)
	want := errors.New("boom")
	if err := g.With(func(n *int) error { *n = 3; return want }); !errors.Is(err, want) {
		t.Fatalf("expected %v, got %v", want, err)
	}
	if g.Snapshot() != 3 {
		t.Fatal("mutation before the error should be kept")
	}
}

func TestWithReleasesLockOnPanic(t *testing.T) {
	g := New(0)

	func() {
		defer func() {
			if recover() == nil {
				t.Fatal("expected panic to propagate")
			}
		}()
		_ = g.With(func(*int) error { panic("handler exploded") })
	}()

	done := make(chan struct{})
	go func() {
		_ = g.With(func(n *int) error { *n++; return nil })
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("lock was not released after panic")
	}
}
