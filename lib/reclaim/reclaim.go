package reclaim

import "io"

// --------------------------------------------------------------------------
// Helper Types
// --------------------------------------------------------------------------

type Implementation string

const (
	ImplRefCount Implementation = "refcount"
	ImplHazard   Implementation = "hazard"
)

// Feature represents engine features as bit flags
type Feature uint64

const (
	FeatureRecycle      Feature = 1 << iota // Reclaimed records return to the thread that created them
	FeatureTrace                            // Scans use the trace handshake on reference counts
	FeatureCleanUpAll                       // Threads repair records retired by other threads
	FeatureVersionCheck                     // Scans re-validate the install version of candidates
)

func (f Feature) String() string {
	switch f {
	case FeatureRecycle:
		return "Recycle"
	case FeatureTrace:
		return "Trace"
	case FeatureCleanUpAll:
		return "CleanUpAll"
	case FeatureVersionCheck:
		return "VersionCheck"
	default:
		return "Unknown"
	}
}

// Info is a snapshot of the state of an engine. The counters are read one by one
// and are not guaranteed to be consistent with each other while threads are active.
type Info struct {
	Engine            Implementation `json:"engine"`
	Threads           int            `json:"threads"`
	ActiveThreads     int            `json:"active_threads"`
	ArenaRecords      int            `json:"arena_records"`
	ArenaFree         int            `json:"arena_free"`
	Created           int64          `json:"created"`
	Retired           int64          `json:"retired"`
	Reclaimed         int64          `json:"reclaimed"`
	Recycled          int64          `json:"recycled"`
	Released          int64          `json:"released"`
	Pending           int64          `json:"pending"`
	Scans             int64          `json:"scans"`
	CleanUps          int64          `json:"clean_ups"`
	SupportedFeatures []Feature      `json:"supported_features"`
}

// Thread is a registered thread context. It must only be used by one goroutine at a time.
type Thread interface {
	// ID returns the slot of the thread, in [0, Config.Threads)
	ID() int
}

// Hooks are implemented by the container that consumes an engine.
type Hooks interface {
	// RepairRecord retargets the links of the retired record r away from records that
	// are themselves retired. It may run concurrently on several threads for the same
	// record and must only change links with CAS.
	RepairRecord(t Thread, r Ref)

	// Sever clears all outgoing links of r right before it is reclaimed. If concurrent
	// is set, other threads may still run RepairRecord on r and the links must be cleared
	// with CAS. Otherwise plain stores are safe.
	Sever(t Thread, r Ref, concurrent bool)
}

// --------------------------------------------------------------------------
// Engine Interface
// --------------------------------------------------------------------------

// Engine is a memory reclamation engine for records with payload T. All record
// access goes through the calling thread's pins: a record returned by CreateRecord
// or PinDeref stays valid until the thread unpins it.
//
// Thread-safety: Every method that takes a Thread may be called concurrently from
// different threads. A single Thread must not be used concurrently.
type Engine[T any] interface {

	// --------------------------------------------------------------------------
	// Threads
	// --------------------------------------------------------------------------

	// Register claims a thread slot. It panics if all slots are taken.
	Register() Thread

	// Unregister releases the thread slot. The thread must not hold pins. Retired records
	// that could not be reclaimed yet stay with the slot and are processed by its next owner.
	Unregister(t Thread)

	// SetHooks installs the container callbacks. It must be called before the first
	// DeleteRecord.
	SetHooks(h Hooks)

	// --------------------------------------------------------------------------
	// Records
	// --------------------------------------------------------------------------

	// CreateRecord returns a fresh record holding value, pinned by t
	CreateRecord(t Thread, value T) Ref

	// DeleteRecord retires r. The record must be unlinked from the shared structure and
	// pinned by t. The pin is consumed.
	DeleteRecord(t Thread, r Ref)

	// Node returns the record behind r, or nil for a nil reference
	Node(r Ref) *Node[T]

	// --------------------------------------------------------------------------
	// Pins
	// --------------------------------------------------------------------------

	// PinDeref reads l and pins its target. The returned reference carries the mark that
	// was read. A nil target is returned unpinned. The record owning l must be pinned.
	PinDeref(t Thread, l *Link) Ref

	// Pin adds a pin to a record the caller already keeps alive by other means
	Pin(t Thread, r Ref)

	// Unpin drops one pin of r
	Unpin(t Thread, r Ref)

	// --------------------------------------------------------------------------
	// Links
	// --------------------------------------------------------------------------

	// CasRef replaces old with new and moves one counted reference from the old target
	// to the new one. The caller must pin the new target.
	CasRef(l *Link, old, new Ref) bool

	// CasTagged is CasRef with the generation included in the comparison
	CasTagged(l *Link, old Tagged, new Ref) bool

	// StoreRef is the unsynchronized variant of CasRef for links no other thread writes
	StoreRef(l *Link, new Ref)

	// --------------------------------------------------------------------------
	// Utility Operations
	// --------------------------------------------------------------------------

	// SupportsFeature checks if the engine supports a specific feature
	SupportsFeature(feature Feature) bool

	// GetInfo returns a snapshot of the engine counters
	GetInfo() Info

	// WriteMetrics writes the engine metrics in Prometheus text format
	WriteMetrics(w io.Writer)

	// Close releases resources held by the engine. Threads must not be used afterwards.
	Close() error
}
