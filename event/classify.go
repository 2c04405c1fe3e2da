package event

// Class buckets a record for routing. The relay consults the class to decide
// whether a record feeds the text stream, the telemetry side-channel, or
// terminates the read loop.
type Class int

const (
	// ClassUnknown marks event types outside the known vocabulary. The relay
	// ignores them so upstream additions cannot corrupt either stream.
	ClassUnknown Class = iota
	// ClassText marks records contributing generated text (message.start,
	// message.delta).
	ClassText
	// ClassCompletion marks the usage-bearing completion record.
	ClassCompletion
	// ClassTelemetry marks pipeline telemetry forwarded to the session bus.
	ClassTelemetry
	// ClassError marks vendor-reported errors.
	ClassError
	// ClassTerminal marks the done sentinel.
	ClassTerminal
)

// String returns the class name for logging.
func (c Class) String() string {
	switch c {
	case ClassText:
		return "text"
	case ClassCompletion:
		return "completion"
	case ClassTelemetry:
		return "telemetry"
	case ClassError:
		return "error"
	case ClassTerminal:
		return "terminal"
	default:
		return "unknown"
	}
}

// Classify maps an event type to its routing class. Telemetry membership is
// an explicit allow-list over the fixed vocabulary, not a naming convention:
// a new vendor event type classifies as unknown until it is added here, so
// it can never leak into either stream by accident.
func Classify(t Type) Class {
	switch t {
	case TypeMessageStart, TypeMessageDelta:
		return ClassText
	case TypeMessageComplete:
		return ClassCompletion
	case TypePhaseStart, TypePhaseProgress, TypePhaseComplete,
		TypeModelActive, TypeModelComplete,
		TypeWebSearch, TypeWebScrape,
		TypeCostEstimate, TypeBudgetConfirmation:
		return ClassTelemetry
	case TypeError:
		return ClassError
	case TypeDone:
		return ClassTerminal
	default:
		return ClassUnknown
	}
}

// IsTelemetry reports whether records of type t belong on the session bus.
// Error records are included: the client keeps an error log that must survive
// telemetry reconnects, so errors travel the side-channel in addition to
// terminating handling on the text stream when fatal.
func IsTelemetry(t Type) bool {
	return Classify(t) == ClassTelemetry || t == TypeError
}
