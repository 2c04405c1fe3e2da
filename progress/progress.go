// Package progress maintains the canonical view of one pipeline turn by
// folding telemetry records into phase, model, web-source and cost state. The
// wire protocol guarantees neither ordering nor delivery of every lifecycle
// event: the vendor may skip phases outright, reissue web results, or race a
// completion against a reset. The fold therefore enforces the invariants the
// protocol does not. Skipped phases are repaired to completed, capture scopes
// keep only their first result, and unknown lookups are tolerated silently.
// Final state depends only on fold order, which makes replaying a buffered
// backlog indistinguishable from live delivery.
package progress

import "github.com/odai-labs/bridge/event"

// Status is the lifecycle state of a phase or model run.
type Status string

const (
	// StatusPending means not started.
	StatusPending Status = "pending"
	// StatusRunning means in flight.
	StatusRunning Status = "running"
	// StatusCompleted means finished successfully.
	StatusCompleted Status = "completed"
	// StatusFailed means finished unsuccessfully.
	StatusFailed Status = "failed"
)

type (
	// Phase is one of the six fixed pipeline stages.
	Phase struct {
		// ID is the stable phase identifier used on the wire.
		ID string
		// Index is the phase's position in execution order.
		Index int
		// Name is the display name. The local name is kept even when the
		// vendor reports its own.
		Name string

		Status  Status
		Percent float64

		// Step fields describe the currently running step, when known.
		Step       string
		StepName   string
		StepStatus string

		DurationMS int64
		// Details accumulates step-scoped detail payloads keyed by step id.
		// A later update for the same step overwrites it; different steps
		// accumulate.
		Details map[string]any
		// Summary is the phase completion summary, verbatim from the vendor.
		Summary map[string]any
	}

	// ModelRun is one sampled model call during inference. Identity is
	// (ModelID, SampleIndex); several samples of one model run concurrently,
	// batched into waves.
	ModelRun struct {
		ModelID        string
		Provider       string
		SampleIndex    int
		WaveNumber     int
		Status         Status
		TokensUsed     int
		ThinkingTokens int
		DurationMS     int64
		ErrorMessage   string
	}

	// ScrapedSource is a scraped web source with its sub-link count.
	ScrapedSource struct {
		event.WebSource
		SubLinks int
	}

	// WebCapture holds the retained web results for one capture scope.
	WebCapture struct {
		Sources []event.WebSource
		Scraped []ScrapedSource
	}
)

// Phase identifiers, in execution order.
const (
	PhaseSafety            = "safety"
	PhasePreAnalysis       = "pre_analysis"
	PhaseBudgetAllocation  = "budget_allocation"
	PhasePromptEngineering = "prompt_engineering"
	PhaseInference         = "inference"
	PhaseSelection         = "selection"
)

// phaseTable fixes the order and display names of the pipeline stages.
var phaseTable = []struct {
	id   string
	name string
}{
	{PhaseSafety, "Safety Check"},
	{PhasePreAnalysis, "Parallel Pre-Analysis"},
	{PhaseBudgetAllocation, "Compute Allocation"},
	{PhasePromptEngineering, "Prompt Engineering"},
	{PhaseInference, "Parallel Inference"},
	{PhaseSelection, "Sample Selection"},
}

// initialPhases returns all six phases in pending state.
func initialPhases() []Phase {
	phases := make([]Phase, len(phaseTable))
	for i, p := range phaseTable {
		phases[i] = Phase{ID: p.id, Index: i, Name: p.name, Status: StatusPending}
	}
	return phases
}
