// Package reclaim defines the contract between a lock-free container and the
// memory reclamation engine it is built on.
//
// Records live in an Arena and are addressed by index. A Ref packs the index
// together with a one-bit logical delete mark, and a Link stores a Ref together
// with a generation counter in a single atomic word. Every successful mutation of
// a Link bumps the generation, so a stale compare value can never match a word
// that was changed and changed back (ABA).
//
// An Engine decides when a retired record may be handed out again by CreateRecord.
// Two engines implement the contract:
//
//   - engines/refcount: reference counts on every record plus per-thread pin tables,
//     a two-pass trace handshake during scans, cross-thread clean-up of retired
//     records and lock-free recycle channels that return reclaimed records to the
//     thread that allocated them.
//   - engines/hazard: globally visible hazard slots and a versioned reference count
//     check. Reclaimed records go back to the arena's shared free stack.
//
// Threads are explicit: every engine call takes the Thread returned by Register.
// A Thread must only be used by one goroutine at a time.
//
// The consumer of an engine (for example the list in lib/dlist) implements Hooks:
//
//   - RepairRecord retargets the links of a retired record away from other retired
//     records, so that chains of deleted records do not keep each other alive.
//   - Sever clears all outgoing links of a record right before it is reclaimed.
//
// Misuse that indicates a sizing or programming mistake (too many threads, too many
// pins, retiring a record twice) panics with an *Error. Contention is never reported
// to the caller.
package reclaim
