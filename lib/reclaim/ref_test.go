package reclaim

import (
	"sync"
	"testing"
)

func TestRefEncoding(t *testing.T) {
	r := MakeRef(42, false)
	if r.Index() != 42 || r.Marked() {
		t.Errorf("Expected unmarked index 42, got %v", r)
	}

	m := r.WithMark()
	if m.Index() != 42 || !m.Marked() {
		t.Errorf("Expected marked index 42, got %v", m)
	}
	if m.Unmarked() != r {
		t.Errorf("Expected Unmarked to clear the mark")
	}
	if !m.Same(r) {
		t.Errorf("Expected marked and unmarked refs to target the same record")
	}
	if MakeRef(7, false).WithMarkOf(m) != MakeRef(7, true) {
		t.Errorf("Expected WithMarkOf to copy the mark")
	}

	if !Nil.IsNil() || !Nil.WithMark().IsNil() {
		t.Errorf("Expected nil to stay nil with a mark")
	}
	if MakeRef(MaxIndex, true).Index() != MaxIndex {
		t.Errorf("Expected the largest index to round trip")
	}
	if m.String() != "<42,d>" || r.String() != "<42>" {
		t.Errorf("Expected string forms <42> and <42,d>, got %s and %s", r, m)
	}
}

func TestLinkGeneration(t *testing.T) {
	var l Link
	if !l.Load().IsNil() || l.LoadTagged().Gen() != 0 {
		t.Fatalf("Expected zero link to be nil at generation 0")
	}

	old := l.LoadTagged()
	if !l.CompareAndSwap(old, MakeRef(1, false)) {
		t.Fatalf("Expected first CAS to succeed")
	}
	if l.LoadTagged().Gen() != 1 {
		t.Errorf("Expected generation 1, got %d", l.LoadTagged().Gen())
	}

	// A -> B -> A: the reference matches again, the generation does not
	mid := l.LoadTagged()
	l.Store(MakeRef(2, false))
	l.Store(MakeRef(1, false))
	if l.Load() != mid.Ref() {
		t.Fatalf("Expected the link to hold the first reference again")
	}
	if l.CompareAndSwap(mid, MakeRef(3, false)) {
		t.Errorf("Expected CAS with a stale generation to fail")
	}
}

func TestLinkSetMark(t *testing.T) {
	var l Link
	l.Store(MakeRef(5, false))

	r, ok := l.SetMark()
	if !ok || r != MakeRef(5, false) {
		t.Errorf("Expected SetMark to mark <5>, got %v %v", r, ok)
	}
	if !l.Load().Marked() {
		t.Errorf("Expected the link to be marked")
	}
	if _, ok := l.SetMark(); ok {
		t.Errorf("Expected the second SetMark to report an existing mark")
	}
}

func TestLinkConcurrentSetMark(t *testing.T) {
	var l Link
	l.Store(MakeRef(9, false))

	var wg sync.WaitGroup
	var mu sync.Mutex
	winners := 0
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, ok := l.SetMark(); ok {
				mu.Lock()
				winners++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	if winners != 1 {
		t.Errorf("Expected exactly one goroutine to set the mark, got %d", winners)
	}
}
