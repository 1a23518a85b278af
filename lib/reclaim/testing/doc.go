// Package testing provides standardised tests and benchmarks for
// reclamation engines that satisfy the reclaim.Engine interface.
//
// The package contains:
//   - testing: A test suite for validating conformance to the Engine contract, including
//     a concurrent safety test that tracks every record id through its life
//   - benchmark: Performance tests for record churn, pinning and link updates
//
// Example usage:
//
//	// Creating a factory function for your implementation
//	factory := func(cfg reclaim.Config) (reclaim.Engine[testing.Payload], error) {
//		return NewMyEngine[testing.Payload](cfg)
//	}
//
//	// Running the standard test suite
//	testing.RunEngineTests(t, "MyEngine", factory)
//
//	// Running performance benchmarks
//	testing.RunEngineBenchmarks(b, "MyEngine", factory)
package testing
