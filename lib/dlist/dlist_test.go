package dlist

import (
	"bytes"
	"errors"
	"github.com/ValentinKolb/lfmm/lib/reclaim"
	"github.com/ValentinKolb/lfmm/lib/reclaim/engines"
	"math/rand"
	"sort"
	"strings"
	"sync"
	"testing"
)

func newTestList(t *testing.T, impl reclaim.Implementation) *List[int] {
	t.Helper()
	opts := DefaultOptions()
	opts.Engine = impl
	l, err := New[int](opts)
	if err != nil {
		t.Fatalf("Expected list to be created, got %v", err)
	}
	t.Cleanup(func() { _ = l.Close() })
	return l
}

func expectCode(t *testing.T, code reclaim.ErrCode, fn func()) {
	t.Helper()
	defer func() {
		err, ok := recover().(*reclaim.Error)
		if !ok || err.Code != code {
			t.Errorf("Expected violation %s, got %v", code, err)
		}
	}()
	fn()
}

func equalInts(a, b []int) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

func TestList(t *testing.T) {
	for _, impl := range engines.Implementations {
		t.Run(string(impl), func(t *testing.T) {
			t.Run("PushBackPopFront", func(t *testing.T) {
				l := newTestList(t, impl)
				th := l.Register()
				defer l.Unregister(th)

				for i := 1; i <= 3; i++ {
					l.PushBack(th, i)
				}
				if l.Len() != 3 {
					t.Errorf("Expected length 3, got %d", l.Len())
				}
				if vals := l.Values(th); !equalInts(vals, []int{1, 2, 3}) {
					t.Errorf("Expected values [1 2 3], got %v", vals)
				}

				for i := 1; i <= 3; i++ {
					v, ok := l.PopFront(th)
					if !ok || v != i {
						t.Errorf("Expected to pop %d, got %d (%v)", i, v, ok)
					}
				}
				if _, ok := l.PopFront(th); ok {
					t.Errorf("Expected pop on an empty list to fail")
				}
				if l.Len() != 0 || !l.Empty(th) {
					t.Errorf("Expected empty list, got length %d", l.Len())
				}
			})

			t.Run("PushFrontPopFront", func(t *testing.T) {
				l := newTestList(t, impl)
				th := l.Register()
				defer l.Unregister(th)

				for i := 1; i <= 3; i++ {
					l.PushFront(th, i)
				}
				for i := 3; i >= 1; i-- {
					if v, ok := l.PopFront(th); !ok || v != i {
						t.Errorf("Expected to pop %d, got %d (%v)", i, v, ok)
					}
				}
			})

			t.Run("PushFrontPopBack", func(t *testing.T) {
				l := newTestList(t, impl)
				th := l.Register()
				defer l.Unregister(th)

				for i := 1; i <= 3; i++ {
					l.PushFront(th, i)
				}
				for i := 1; i <= 3; i++ {
					if v, ok := l.PopBack(th); !ok || v != i {
						t.Errorf("Expected to pop %d, got %d (%v)", i, v, ok)
					}
				}
				if _, ok := l.PopBack(th); ok {
					t.Errorf("Expected pop on an empty list to fail")
				}
			})

			t.Run("Iterator", func(t *testing.T) {
				l := newTestList(t, impl)
				th := l.Register()
				defer l.Unregister(th)

				empty := l.Front(th)
				if !empty.AtEnd() || empty.Valid() {
					t.Errorf("Expected front of an empty list to be at the end")
				}
				empty.Close()

				for i := 1; i <= 3; i++ {
					l.PushBack(th, i)
				}

				it := l.Front(th)
				var forward []int
				for !it.AtEnd() {
					v, _ := it.Value()
					forward = append(forward, v)
					it.Next()
				}
				it.Close()
				if !equalInts(forward, []int{1, 2, 3}) {
					t.Errorf("Expected forward values [1 2 3], got %v", forward)
				}

				it = l.Back(th)
				var backward []int
				for !it.AtEnd() {
					v, _ := it.Value()
					backward = append(backward, v)
					it.Prev()
				}
				it.Close()
				if !equalInts(backward, []int{3, 2, 1}) {
					t.Errorf("Expected backward values [3 2 1], got %v", backward)
				}
			})

			t.Run("InsertErase", func(t *testing.T) {
				l := newTestList(t, impl)
				th := l.Register()
				defer l.Unregister(th)

				l.PushBack(th, 1)
				l.PushBack(th, 3)

				it := l.Front(th)
				it.Next()
				l.Insert(it, 2)
				if vals := l.Values(th); !equalInts(vals, []int{1, 2, 3}) {
					t.Errorf("Expected values [1 2 3] after insert, got %v", vals)
				}

				if v, ok := it.Value(); !ok || v != 3 {
					t.Errorf("Expected iterator to stay on 3, got %d (%v)", v, ok)
				}
				if !l.Erase(it) {
					t.Errorf("Expected erase to succeed")
				}
				if l.Erase(it) {
					t.Errorf("Expected second erase of the same record to fail")
				}
				if it.Valid() {
					t.Errorf("Expected iterator on an erased record to be invalid")
				}
				if it.Next() {
					t.Errorf("Expected no live record after the erased tail record")
				}

				// insert at the end behaves like push back
				l.Insert(it, 4)
				it.Close()

				if vals := l.Values(th); !equalInts(vals, []int{1, 2, 4}) {
					t.Errorf("Expected values [1 2 4], got %v", vals)
				}
				if l.Len() != 3 {
					t.Errorf("Expected length 3, got %d", l.Len())
				}
			})

			t.Run("InsertAtHead", func(t *testing.T) {
				l := newTestList(t, impl)
				th := l.Register()
				defer l.Unregister(th)

				l.PushBack(th, 2)
				it := l.Front(th)
				it.Prev()
				if !it.AtEnd() {
					t.Fatalf("Expected iterator on the head sentinel")
				}
				l.Insert(it, 1)
				it.Close()

				if vals := l.Values(th); !equalInts(vals, []int{1, 2}) {
					t.Errorf("Expected values [1 2], got %v", vals)
				}
			})

			t.Run("IteratorLimit", func(t *testing.T) {
				opts := DefaultOptions()
				opts.Engine = impl
				opts.IterMax = 2
				l, err := New[int](opts)
				if err != nil {
					t.Fatalf("Expected list to be created, got %v", err)
				}
				defer l.Close()

				th := l.Register()
				a, b := l.Front(th), l.Back(th)
				expectCode(t, reclaim.ErrCIterLimit, func() { l.Front(th) })
				expectCode(t, reclaim.ErrCPinsHeld, func() { l.Unregister(th) })

				a.Close()
				a.Close()
				b.Close()
				l.Unregister(th)
			})

			t.Run("ReclaimsPopped", func(t *testing.T) {
				l := newTestList(t, impl)
				th := l.Register()
				defer l.Unregister(th)

				const n = 2000
				for i := 0; i < n; i++ {
					l.PushBack(th, i)
					if _, ok := l.PopFront(th); !ok {
						t.Fatalf("Expected pop %d to succeed", i)
					}
				}

				info := l.GetInfo()
				if info.Retired != n {
					t.Errorf("Expected %d retired records, got %d", n, info.Retired)
				}
				if info.Reclaimed == 0 {
					t.Errorf("Expected popped records to be reclaimed")
				}
				if info.ArenaRecords >= n {
					t.Errorf("Expected records to be reused, arena holds %d", info.ArenaRecords)
				}

				var buf bytes.Buffer
				l.WriteMetrics(&buf)
				if !strings.Contains(buf.String(), "lfmm_") {
					t.Errorf("Expected engine metrics, got %q", buf.String())
				}
			})

			t.Run("Concurrent", func(t *testing.T) {
				testConcurrent(t, impl)
			})
		})
	}
}

func TestInvalidOptions(t *testing.T) {
	opts := DefaultOptions()
	opts.IterMax = 0
	if _, err := New[int](opts); !errors.Is(err, reclaim.ErrInvalidConfig) {
		t.Errorf("Expected ErrInvalidConfig for zero iterators, got %v", err)
	}

	opts = DefaultOptions()
	opts.Engine = "epoch"
	if _, err := New[int](opts); !errors.Is(err, reclaim.ErrInvalidConfig) {
		t.Errorf("Expected ErrInvalidConfig for an unknown engine, got %v", err)
	}

	eng, err := engines.New[int](reclaim.ImplRefCount, reclaim.Config{Threads: 2, PinMax: 8, Links: 1})
	if err != nil {
		t.Fatalf("Expected engine to be created, got %v", err)
	}
	if _, err := NewWithEngine(eng, 1); !errors.Is(err, reclaim.ErrInvalidConfig) {
		t.Errorf("Expected ErrInvalidConfig for single link records, got %v", err)
	}
}

func TestCorrectPrev(t *testing.T) {
	l := newTestList(t, reclaim.ImplRefCount)
	th := l.Register()
	defer l.Unregister(th)

	for i := 1; i <= 3; i++ {
		l.PushBack(th, i)
	}

	t.Run("Idempotent", func(t *testing.T) {
		n1 := l.deref(th, l.nextLink(l.head))
		refs := l.eng.Node(l.head).Refs()

		prev := l.correctPrev(th, l.copyRef(th, l.head), n1)
		if prev != l.head {
			t.Errorf("Expected head as predecessor, got %v", prev)
		}
		if l.prevLink(n1).Load() != l.head {
			t.Errorf("Expected prev link to stay on head")
		}
		if got := l.eng.Node(l.head).Refs(); got != refs {
			t.Errorf("Expected head refs to stay %d, got %d", refs, got)
		}
		l.release(th, prev)
		l.release(th, n1)
	})

	t.Run("UnlinksDeleted", func(t *testing.T) {
		n1 := l.deref(th, l.nextLink(l.head))
		n2 := l.deref(th, l.nextLink(n1))

		link := l.nextLink(n1).LoadTagged()
		if !l.eng.CasTagged(l.nextLink(n1), link, link.Ref().WithMark()) {
			t.Fatalf("Expected to mark the first record")
		}
		l.prevLink(n1).SetMark()

		prev := l.correctPrev(th, l.copyRef(th, l.head), n2)
		if prev != l.head {
			t.Errorf("Expected head as predecessor, got %v", prev)
		}
		if l.nextLink(l.head).Load() != n2 {
			t.Errorf("Expected deleted record to be unlinked from head")
		}
		if l.prevLink(n2).Load() != l.head {
			t.Errorf("Expected prev link of the second record to point at head")
		}
		l.release(th, prev)
		l.release(th, n2)
		if v := l.retire(th, n1); v != 1 {
			t.Errorf("Expected retired value 1, got %d", v)
		}

		if vals := l.Values(th); !equalInts(vals, []int{2, 3}) {
			t.Errorf("Expected values [2 3], got %v", vals)
		}
	})
}

// valuesBackward collects the values from the last record to the first
func valuesBackward(l *List[int], th reclaim.Thread) []int {
	var vals []int
	it := l.Back(th)
	defer it.Close()
	for !it.AtEnd() {
		if v, ok := it.Value(); ok {
			vals = append(vals, v)
		}
		if !it.Prev() {
			break
		}
	}
	return vals
}

// testConcurrent runs randomized operations on all threads and checks that every pushed
// value ends up exactly once in the list or in the output of a pop or erase
func testConcurrent(t *testing.T, impl reclaim.Implementation) {
	l := newTestList(t, impl)

	const workers = 8
	ops := 25_000
	if testing.Short() {
		ops = 400
	}

	pushed := make([][]int, workers)
	removed := make([][]int, workers)

	var wg sync.WaitGroup
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func(w int) {
			defer wg.Done()
			th := l.Register()
			defer l.Unregister(th)
			rng := rand.New(rand.NewSource(int64(w) + 1))

			for i := 0; i < ops; i++ {
				value := w*1_000_000 + i
				switch rng.Intn(6) {
				case 0:
					l.PushFront(th, value)
					pushed[w] = append(pushed[w], value)
				case 1:
					l.PushBack(th, value)
					pushed[w] = append(pushed[w], value)
				case 2:
					if v, ok := l.PopFront(th); ok {
						removed[w] = append(removed[w], v)
					}
				case 3:
					if v, ok := l.PopBack(th); ok {
						removed[w] = append(removed[w], v)
					}
				case 4:
					it := l.Front(th)
					for steps := rng.Intn(4); steps > 0 && it.Next(); steps-- {
					}
					l.Insert(it, value)
					pushed[w] = append(pushed[w], value)
					it.Close()
				case 5:
					it := l.Back(th)
					if v, ok := it.Value(); ok && l.Erase(it) {
						removed[w] = append(removed[w], v)
					}
					it.Close()
				}
			}
		}(w)
	}
	wg.Wait()

	th := l.Register()
	defer l.Unregister(th)
	remaining := l.Values(th)
	backward := valuesBackward(l, th)

	var all, out []int
	for w := 0; w < workers; w++ {
		all = append(all, pushed[w]...)
		out = append(out, removed[w]...)
	}
	net := len(all) - len(out)

	if l.Len() != net || len(remaining) != net || len(backward) != net {
		t.Errorf("Expected length %d, forward %d and backward %d to match %d pushed minus %d removed",
			l.Len(), len(remaining), len(backward), len(all), len(out))
	}
	for i := range backward {
		if i < len(remaining) && backward[i] != remaining[len(remaining)-1-i] {
			t.Errorf("Expected backward traversal to mirror the forward one at position %d", i)
			break
		}
	}
	out = append(out, remaining...)
	sort.Ints(all)
	sort.Ints(out)

	for i := 1; i < len(out); i++ {
		if out[i] == out[i-1] {
			t.Errorf("Expected value %d to be seen once", out[i])
		}
	}
	if !equalInts(all, out) {
		t.Errorf("Expected %d values to be conserved, got %d", len(all), len(out))
	}
}
