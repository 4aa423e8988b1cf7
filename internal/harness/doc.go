// Package harness runs account scenarios written in YAML against a fresh
// in-memory host and checks the resulting message trace and module state.
//
// # Scenario Format
//
//	name: lending_on_oracle
//	description: "Upgrades respect the requirements of dependents"
//	catalog: catalog.cue
//	setup:
//	  - install: acme:oracle@1.2.0
//	flow:
//	  - install: acme:lending
//	  - upgrade:
//	      - module: acme:oracle@2.0.0
//	    expect:
//	      error: REQUIREMENT_NOT_MET
//	assertions:
//	  - type: dependents
//	    module: acme:oracle
//	    dependents: [acme:lending]
//
// The catalog path is relative to the scenario file. Setup steps must
// succeed. A flow step without expect must succeed; with expect it must fail
// with the given error code (STEPS_EXCEEDED for the step quota).
//
// # Assertion Types
//
//   - trace_contains: a message of the given type (and target) was dispatched
//   - trace_order: message types appear in the given order
//   - trace_count: a message type was dispatched exactly N times
//   - dependents: the recorded dependents of a module
//   - installed: a module is installed, optionally at a version
//   - not_installed: a module is absent from the address book
//
// # Addresses
//
// The trace names addresses instead of printing them: "owner", "stranger",
// "factory" and "admin" for the fixed actors, the module id for account
// modules, and "provider:name@version" for shared API and native instances.
//
// # Golden Files
//
// RunWithGolden compares the flow trace against
// testdata/golden/{scenario name}.golden. Regenerate with:
//
//	go test ./internal/harness -update
package harness
