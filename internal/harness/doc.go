// Package harness provides end-to-end conformance testing for the render
// and hydration pipeline.
//
// A scenario names a registered page, a render mode, and optional
// post-hydration writes. Run renders the page server-side, carries the
// HTML and side-channel records across a real wire round trip (canonical
// JSON out, decoded JSON back), hydrates them into a fresh client
// runtime, and returns both sides for assertion.
//
// # Scenario Shape
//
//	out, err := harness.Run(&harness.Scenario{
//	    Name:  "profile_sync",
//	    Page:  "profile",
//	    Mode:  harness.ModeSync,
//	    Token: "tok-1",
//	})
//
// Pages are registered once (see pages.go for the built-in conformance
// pages) and looked up by name, so the CLI and the tests drive the same
// definitions.
//
// # Deterministic Execution
//
// Scenarios pin their render token, so two runs of the same scenario
// journal identical chunk streams. Golden comparison (RunWithGolden)
// additionally requires the page to settle synchronously or through
// synchronous generators; pages built on real timers cannot be compared
// byte-for-byte and are asserted structurally instead.
//
// Golden files live in testdata/golden and are canonical JSON, one
// snapshot per scenario:
//
//	go test ./internal/harness -update
package harness
