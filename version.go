// Package flowgate is a risk-gated workflow execution runtime: workflows run
// as dependency-ordered parallel waves, every run is gated by a
// per-deliverable risk rules document, and each rule evaluation and routing
// decision is audited.
package flowgate

// Version information for the flowgate runtime.
const (
	// Version is the current runtime version
	Version = "development"

	// BuildDate is set during build time
	BuildDate = "development"

	// GitCommit is set during build time
	GitCommit = "unknown"
)
