// Package util provides small helpers shared by the stress harness and the command line tools.
//
// The package contains:
//   - mpsc: an unbounded lock-free multi-producer single-consumer queue that delivers into a channel
//   - statistics: summary statistics over samples, used for per-worker throughput reports
//   - functions: seed generation for randomized workloads
package util
