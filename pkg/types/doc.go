// Package types defines the core data structures for the test runner.
//
// This package contains the fundamental types shared by every component,
// including:
//   - Scenario and Step definitions (steps are a tagged union over adapter types)
//   - Run options, step results and run results
//   - Persisted run and step records
//   - Aggregated project statistics
package types
