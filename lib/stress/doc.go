// Package stress runs randomized concurrent workloads against a dlist.List and checks
// the list afterwards.
//
// Every worker registers its own thread and performs a random mix of push, pop, insert
// and erase operations. Operation results are sent through a util.MPSC queue to a single
// collector goroutine that keeps go-metrics timers per operation. Once all workers are
// done the list is traversed and compared against the operation log:
//
//   - the number of live records must equal pushes and inserts minus pops and erases
//   - a traversal must see exactly that many records
//   - no value may be removed twice or be both removed and still in the list
//
// Example:
//
//	report, err := stress.Run(context.Background(), stress.DefaultConfig())
//	if err != nil {
//		return err
//	}
//	if err := report.Check(); err != nil {
//		return err
//	}
package stress
