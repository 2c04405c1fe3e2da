// Package event defines the wire vocabulary of the ODAI pipeline stream: the
// closed set of event types emitted by the vendor, the Record envelope that
// frames them, and the typed payloads carried by each event. The Classify
// function in this package is the single place that decides how a record is
// routed (text stream, telemetry side-channel, terminal handling).
package event

import "encoding/json"

// Type identifies one kind of vendor stream event. The set is closed: the
// vendor contract enumerates these types and nothing else. New upstream types
// classify as ClassUnknown until this vocabulary is extended.
type Type string

const (
	// TypeMessageStart opens a chat completion chunk sequence.
	TypeMessageStart Type = "message.start"
	// TypeMessageDelta carries an incremental fragment of generated text.
	TypeMessageDelta Type = "message.delta"
	// TypeMessageComplete closes the completion and reports token usage.
	TypeMessageComplete Type = "message.complete"
	// TypePhaseStart marks a pipeline phase transitioning to running.
	TypePhaseStart Type = "phase.start"
	// TypePhaseProgress reports step-level progress within a running phase.
	TypePhaseProgress Type = "phase.progress"
	// TypePhaseComplete marks a phase finishing, successfully or not.
	TypePhaseComplete Type = "phase.complete"
	// TypeModelActive reports one model sample starting during inference.
	TypeModelActive Type = "model.active"
	// TypeModelComplete reports a model sample finishing.
	TypeModelComplete Type = "model.complete"
	// TypeWebSearch reports web search activity (executing or completed).
	TypeWebSearch Type = "web.search"
	// TypeWebScrape reports web scrape activity (executing or completed).
	TypeWebScrape Type = "web.scrape"
	// TypeCostEstimate carries the turn's current cost estimate.
	TypeCostEstimate Type = "cost.estimate"
	// TypeBudgetConfirmation asks the client to confirm spend above threshold.
	TypeBudgetConfirmation Type = "budget.confirmation_required"
	// TypeError reports a vendor-side error, recoverable or fatal.
	TypeError Type = "error"
	// TypeDone terminates the stream. It never carries a payload.
	TypeDone Type = "done"
)

// Record is the atomic wire unit: one parsed SSE frame. Data holds the raw
// JSON payload so records can be relayed verbatim without a decode/encode
// round trip; Data is nil for the done sentinel.
type Record struct {
	Type Type            `json:"event_type"`
	Data json.RawMessage `json:"data"`
}

// Decode unmarshals the record payload into v. It is a convenience for
// consumers that need typed access to one payload kind.
func (r Record) Decode(v any) error {
	return json.Unmarshal(r.Data, v)
}
