package reclaim

import (
	"fmt"
	"sync/atomic"
)

// --------------------------------------------------------------------------
// Ref
// --------------------------------------------------------------------------

// Ref is a reference to a record in an Arena: the record index shifted left by one,
// with the logical delete mark in the lowest bit. Index 0 is the nil record.
type Ref uint32

// Nil is the unmarked nil reference
const Nil Ref = 0

// MaxIndex is the largest record index a Ref can address
const MaxIndex = 1<<31 - 1

// MakeRef builds a reference to the record with the given index
func MakeRef(index uint32, marked bool) Ref {
	r := Ref(index << 1)
	if marked {
		r |= 1
	}
	return r
}

// Index returns the arena index of the referenced record
func (r Ref) Index() uint32 { return uint32(r >> 1) }

// Marked reports whether the logical delete mark is set
func (r Ref) Marked() bool { return r&1 == 1 }

// Unmarked returns the reference with the mark cleared
func (r Ref) Unmarked() Ref { return r &^ 1 }

// WithMark returns the reference with the mark set
func (r Ref) WithMark() Ref { return r | 1 }

// WithMarkOf returns the reference carrying the mark of other
func (r Ref) WithMarkOf(other Ref) Ref { return r.Unmarked() | other&1 }

// IsNil reports whether the reference targets no record, regardless of its mark
func (r Ref) IsNil() bool { return r>>1 == 0 }

// Same reports whether both references target the same record, ignoring marks
func (r Ref) Same(other Ref) bool { return r>>1 == other>>1 }

func (r Ref) String() string {
	if r.Marked() {
		return fmt.Sprintf("<%d,d>", r.Index())
	}
	return fmt.Sprintf("<%d>", r.Index())
}

// --------------------------------------------------------------------------
// Tagged
// --------------------------------------------------------------------------

// Tagged is the full contents of a Link: a generation counter in the upper 32 bits
// and the Ref in the lower 32 bits.
type Tagged uint64

func makeTagged(gen uint32, r Ref) Tagged {
	return Tagged(uint64(gen)<<32 | uint64(r))
}

// Ref returns the reference part of the word
func (t Tagged) Ref() Ref { return Ref(uint32(t)) }

// Gen returns the generation part of the word
func (t Tagged) Gen() uint32 { return uint32(t >> 32) }

// --------------------------------------------------------------------------
// Link
// --------------------------------------------------------------------------

// Link is an atomically updated tagged reference. The zero value is a nil link.
//
// The methods of Link are raw word operations and never touch reference counts.
// Structural changes must go through Engine.CasRef and Engine.StoreRef. SetMark is
// the exception, since setting the mark keeps the target unchanged.
type Link struct {
	word atomic.Uint64
}

// Load returns the current reference
func (l *Link) Load() Ref {
	return Tagged(l.word.Load()).Ref()
}

// LoadTagged returns the current reference together with its generation
func (l *Link) LoadTagged() Tagged {
	return Tagged(l.word.Load())
}

// CompareAndSwap replaces old with new and bumps the generation. It fails if
// either the reference or the generation changed since old was loaded.
func (l *Link) CompareAndSwap(old Tagged, new Ref) bool {
	return l.word.CompareAndSwap(uint64(old), uint64(makeTagged(old.Gen()+1, new)))
}

// Store unconditionally replaces the reference and bumps the generation
func (l *Link) Store(new Ref) {
	for {
		old := l.LoadTagged()
		if l.CompareAndSwap(old, new) {
			return
		}
	}
}

// SetMark sets the logical delete mark while keeping the target. It returns the
// reference that was marked and whether this call set the mark.
func (l *Link) SetMark() (Ref, bool) {
	for {
		old := l.LoadTagged()
		r := old.Ref()
		if r.Marked() {
			return r, false
		}
		if l.CompareAndSwap(old, r.WithMark()) {
			return r, true
		}
	}
}

// reset clears the link outside of any concurrent access
func (l *Link) reset() {
	l.word.Store(uint64(makeTagged(l.LoadTagged().Gen()+1, Nil)))
}
