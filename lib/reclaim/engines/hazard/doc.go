// Package hazard implements the hazard slot reclamation engine.
//
// Every thread publishes the records it is reading in a small table of hazard slots.
// A retired record is reclaimed once a scan finds it in no thread's hazard slots and
// observes that nothing linked it again while the scan ran.
//
// Records still carry counted references, since a retired record may be reachable
// through the links of other retired records until the container repairs them. The
// scan remembers the install version of every candidate with a zero count before it
// collects the hazard slots and requires the same version and a zero count afterwards.
//
// Reclaimed records are pushed to the arena's shared free stack instead of being
// recycled to the thread that created them, and threads never repair records retired
// by other threads. This keeps the engine small at the cost of more traffic on the
// shared free stack under heavy churn.
package hazard
