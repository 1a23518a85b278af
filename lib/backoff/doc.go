// Package backoff provides a contention-adaptive wait strategy for CAS retry loops.
//
// A Backoff tracks a contention estimate ("ticks"). While the estimate is below the
// spin threshold, Wait only yields the processor. Once the threshold is exceeded it
// sleeps, starting at MinSleep and doubling every further threshold crossing until
// MaxSleep is reached. Lowering the estimate with Dec shrinks the sleep the same way.
//
// A Backoff is a plain value meant to live on the stack of a single goroutine:
//
//	var bo backoff.Backoff
//	for !link.CompareAndSwap(old, new) {
//	    bo.Wait()
//	}
//
// The zero value uses DefaultOptions.
package backoff
