package server

import (
	"errors"
	"testing"

	"typed-rpc/codec"
	"typed-rpc/definition"
)

func TestRegistryLookup(t *testing.T) {
	r := NewRegistry[tally]()
	if err := r.Register(definition.Implement(appendRPC, appendValue)); err != nil {
		t.Fatal(err)
	}

	e, ok := r.Lookup(appendRPC.ID())
	if !ok || e.Name() != "Append" {
		t.Fatalf("Lookup(1) = %v, %v", e, ok)
	}
	payload, _ := codec.MsgpackCodec{}.Encode(3)
	call, err := e.Bind(codec.MsgpackCodec{}, payload)
	if err != nil {
		t.Fatal(err)
	}
	st := &tally{}
	if _, err := call(st); err != nil || st.Total != 3 {
		t.Fatalf("looked up entry did not run the handler: %+v, %v", st, err)
	}

	if _, ok := r.Lookup(99); ok {
		t.Fatal("Lookup found an unregistered id")
	}
	if got := r.Name(99); got != "rpc#99" {
		t.Fatalf("Name of unknown id = %q", got)
	}
}

func TestRegistryEntriesSorted(t *testing.T) {
	r := NewRegistry[tally]()
	for _, e := range []definition.Entry[tally]{
		definition.Implement(panicRPC, explode),
		definition.Implement(appendRPC, appendValue),
		definition.Implement(failRPC, fail),
	} {
		if err := r.Register(e); err != nil {
			t.Fatal(err)
		}
	}

	entries := r.Entries()
	if len(entries) != 3 {
		t.Fatalf("expect 3 entries, got %d", len(entries))
	}
	for i, want := range []string{"Append", "Fail", "Panic"} {
		if entries[i].Name() != want {
			t.Fatalf("entry %d is %s, want %s", i, entries[i].Name(), want)
		}
	}

	stats := r.Stats()
	for i := range stats {
		if stats[i].ID != entries[i].ID() {
			t.Fatalf("Stats and Entries disagree on order at %d", i)
		}
	}
}

func TestRegistryFrozen(t *testing.T) {
	r := NewRegistry[tally]()
	r.freeze()
	err := r.Register(definition.Implement(appendRPC, appendValue))
	if !errors.Is(err, ErrServing) {
		t.Fatalf("expect ErrServing, got %v", err)
	}
	if r.Len() != 0 {
		t.Fatal("frozen registry accepted an entry")
	}
}
