package gadget

// Outcome is the sum type an Execute closure returns in place of throwing
// control-flow exceptions. The source material models task completion,
// human-input requests, abort, and timeout as typed throws; here they are
// explicit variants the executor pattern-matches on instead of catching.
type Outcome struct {
	kind outcomeKind

	// Result, Cost and Media populate the plain-result variant.
	Result string
	Cost   float64
	Media  []MediaOutput

	// Message populates the task-complete variant.
	Message string

	// Question populates the human-input-required variant.
	Question string

	// Err populates the abort variant.
	Err error
}

type outcomeKind int

const (
	outcomeResult outcomeKind = iota
	outcomeTaskComplete
	outcomeHumanInputRequired
	outcomeAbort
)

// MediaOutput is a media blob produced by a gadget, stored in the
// session-scoped media store and referenced from the result text by an
// opaque id.
type MediaOutput struct {
	MediaType string
	Bytes     []byte
}

// Result builds a normal, successful Outcome.
func Result(result string) Outcome { return Outcome{kind: outcomeResult, Result: result} }

// ResultWithCost builds a successful Outcome carrying a reported USD cost.
func ResultWithCost(result string, cost float64) Outcome {
	return Outcome{kind: outcomeResult, Result: result, Cost: cost}
}

// ResultWithMedia builds a successful Outcome carrying media outputs.
func ResultWithMedia(result string, media ...MediaOutput) Outcome {
	return Outcome{kind: outcomeResult, Result: result, Media: media}
}

// TaskComplete builds the task-completion signal: the loop terminates
// gracefully after emitting message as this call's result.
func TaskComplete(message string) Outcome {
	return Outcome{kind: outcomeTaskComplete, Message: message}
}

// HumanInputRequired builds the human-input-required signal: the loop
// suspends and emits a human_input_required event carrying question.
func HumanInputRequired(question string) Outcome {
	return Outcome{kind: outcomeHumanInputRequired, Question: question}
}

// Abort builds the abort sentinel: terminates only the issuing gadget's
// task, distinct from run-wide cancellation.
func Abort(err error) Outcome { return Outcome{kind: outcomeAbort, Err: err} }

// IsResult reports whether this is a plain successful outcome.
func (o Outcome) IsResult() bool { return o.kind == outcomeResult }

// IsTaskComplete reports whether this is the task-completion signal.
func (o Outcome) IsTaskComplete() bool { return o.kind == outcomeTaskComplete }

// IsHumanInputRequired reports whether this is the human-input-required
// signal.
func (o Outcome) IsHumanInputRequired() bool { return o.kind == outcomeHumanInputRequired }

// IsAbort reports whether this is the abort sentinel.
func (o Outcome) IsAbort() bool { return o.kind == outcomeAbort }
