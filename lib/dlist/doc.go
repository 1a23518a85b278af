// Package dlist implements a lock-free doubly-linked list on top of a reclamation engine.
//
// The list follows the Sundell and Tsigas design. Every record has a prev and a next
// link. A record is deleted by first marking its next link, then its prev link, and is
// physically unlinked afterwards by whichever thread notices the marks. Only next links
// are authoritative: the forward chain from the head sentinel always describes the list,
// while prev links may lag behind concurrent deletions and are repaired lazily by
// correctPrev.
//
// All operations take the Thread returned by Register. The list is sized at construction
// for a fixed number of threads and a fixed number of live iterators per thread.
//
// Operations:
//   - PushFront, PushBack: insert next to a sentinel
//   - PopFront, PopBack: delete the first or last record, false on an empty list
//   - Front, Back: iterators positioned on the first or last record
//   - Insert, Erase: insert before or delete the record an iterator is positioned on
//   - Len, Range, Values: size and traversal
//
// Example:
//
//	l, _ := dlist.New[int](dlist.DefaultOptions())
//	t := l.Register()
//	defer l.Unregister(t)
//
//	l.PushBack(t, 1)
//	l.PushBack(t, 2)
//	v, ok := l.PopFront(t) // 1, true
package dlist
