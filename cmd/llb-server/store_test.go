package main

import (
	"fmt"
	"sync"
	"testing"

	"llb.lopezb.com/internal/pds/loglogbeta"
)

func TestStoreViewMissingKey(t *testing.T) {
	s := NewStore()

	called := false
	err := s.View("ghost", func(sk *loglogbeta.Sketch) error {
		called = true
		if sk != nil {
			t.Error("expected nil sketch for missing key")
		}
		return nil
	})
	if err != nil {
		t.Fatalf("View returned error: %v", err)
	}
	if !called {
		t.Error("View callback was not invoked")
	}
}

func TestStoreMutateCreatesAndUpdates(t *testing.T) {
	s := NewStore()

	s.Mutate("key", func(cur *loglogbeta.Sketch) (*loglogbeta.Sketch, bool) {
		if cur != nil {
			t.Error("expected nil sketch on first Mutate")
		}
		sk, _ := loglogbeta.New(14)
		sk.Add([]byte("a"))
		return sk, true
	})

	s.Mutate("key", func(cur *loglogbeta.Sketch) (*loglogbeta.Sketch, bool) {
		if cur == nil {
			t.Fatal("sketch missing on second Mutate")
		}
		cur.Add([]byte("b"))
		return cur, true
	})

	var count uint64
	_ = s.View("key", func(sk *loglogbeta.Sketch) error {
		count = sk.Cardinality()
		return nil
	})
	if count != 2 {
		t.Errorf("cardinality: got %d, want 2", count)
	}
}

func TestStoreMutateDiscard(t *testing.T) {
	s := NewStore()

	// Returning store=false on a missing key must not create it.
	s.Mutate("ghost", func(cur *loglogbeta.Sketch) (*loglogbeta.Sketch, bool) {
		return cur, false
	})
	if s.Len() != 0 {
		t.Errorf("Len: got %d, want 0", s.Len())
	}
}

func TestStoreDelete(t *testing.T) {
	s := NewStore()

	sk, _ := loglogbeta.New(14)
	s.Set("key", sk)

	if !s.Delete("key") {
		t.Error("Delete of existing key should return true")
	}
	if s.Delete("key") {
		t.Error("Delete of missing key should return false")
	}
	if s.Len() != 0 {
		t.Errorf("Len after delete: got %d, want 0", s.Len())
	}
}

func TestStoreLenAcrossShards(t *testing.T) {
	s := NewStore()

	const n = 1000
	for i := 0; i < n; i++ {
		sk, _ := loglogbeta.New(14)
		s.Set(fmt.Sprintf("key-%d", i), sk)
	}
	if s.Len() != n {
		t.Errorf("Len: got %d, want %d", s.Len(), n)
	}
}

// TestStoreConcurrentMutate hammers a single key from many goroutines.
// Run with -race to verify the shard locking.
func TestStoreConcurrentMutate(t *testing.T) {
	s := NewStore()

	const goroutines = 16
	const perGoroutine = 200

	var wg sync.WaitGroup
	wg.Add(goroutines)
	for g := 0; g < goroutines; g++ {
		go func(g int) {
			defer wg.Done()
			for i := 0; i < perGoroutine; i++ {
				element := []byte(fmt.Sprintf("g%d-e%d", g, i))
				s.Mutate("shared", func(cur *loglogbeta.Sketch) (*loglogbeta.Sketch, bool) {
					sk := cur
					if sk == nil {
						sk, _ = loglogbeta.New(14)
					}
					sk.Add(element)
					return sk, true
				})
			}
		}(g)
	}
	wg.Wait()

	var count uint64
	_ = s.View("shared", func(sk *loglogbeta.Sketch) error {
		count = sk.Cardinality()
		return nil
	})
	want := uint64(goroutines * perGoroutine)
	if count != want {
		t.Errorf("cardinality after concurrent adds: got %d, want %d", count, want)
	}
}
