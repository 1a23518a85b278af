// Package cmd implements the command-line interface of lfmm.
//
// The package is organized into several subpackages:
//
//   - stress: runs randomized concurrent workloads against the list and checks the result
//   - perf: benchmarks list operations on the selected reclamation engine
//   - util: shared flag, configuration and logging helpers (internal use)
//
// Every flag can also be set through an environment variable with the LFMM_ prefix,
// e.g. LFMM_ENGINE=hazard or LFMM_ITER_MAX=8. Variables are also read from .env and
// .env.local in the working directory.
//
// See lfmm -help for a list of all commands.
package cmd
