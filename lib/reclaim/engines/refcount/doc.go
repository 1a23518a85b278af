// Package refcount implements the reference-counting reclamation engine.
//
// Every record carries the number of counted links pointing at it. Threads pin records
// they read in a per-thread pin table. A retired record is reclaimed once a scan
// observes a zero count, sets the trace flag, observes the zero count again and finds
// the record in no pin table. Any CasRef that links the record again clears the trace
// flag, so a record that was re-linked and unlinked during the scan survives it.
//
// Retired records stay on the retiring thread's retire list. Once the list reaches the
// clean threshold the thread asks the container to repair the links of its retired
// records and scans once. At the scan threshold it keeps repairing and scanning, asks
// the other threads' retired records to be repaired as well (claiming each one so its
// owner cannot reclaim it meanwhile) and backs off between rounds.
//
// A reclaimed record goes back to the thread that created it: directly to the private
// free list if the scanning thread is the creator, otherwise through a bounded
// single-producer single-consumer recycle channel. When the channel is full the record
// is pushed to the arena's shared free stack.
//
// Usage:
//
//	eng, err := refcount.New[int](reclaim.DefaultConfig())
//	t := eng.Register()
//	defer eng.Unregister(t)
//	r := eng.CreateRecord(t, 42)
package refcount
