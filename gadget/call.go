package gadget

import (
	"encoding/json"
	"time"
)

// TerminalState classifies how a dispatched gadget call concluded.
type TerminalState string

const (
	StateCompleted      TerminalState = "completed"
	StateFailed         TerminalState = "failed"
	StateTimedOut       TerminalState = "timed-out"
	StateAborted        TerminalState = "aborted"
	StateApprovalDenied TerminalState = "approval-denied"
)

// ParseOrigin records which bytes of the source text stream produced a
// Call, for diagnostics and round-trip testing.
type ParseOrigin struct {
	StartOffset int
	EndOffset   int
}

// Call is a gadget invocation record parsed from a model turn.
type Call struct {
	InvocationID string
	Name         string
	Parameters   map[string]any
	Origin       ParseOrigin
}

// Signal classifies a completed Result's terminal meaning beyond plain
// success, consulted by the loop's S7 termination check (task completion)
// and suspend handling (human input required). Zero value means "ordinary
// result".
type Signal string

const (
	SignalNone               Signal = ""
	SignalTaskComplete       Signal = "task_complete"
	SignalHumanInputRequired Signal = "human_input_required"
)

// Result is the outcome of dispatching a Call.
type Result struct {
	InvocationID string
	Name         string
	Payload      string // tagged JSON envelope: {"data":...} or {"error":...}
	Media        []MediaOutput
	CostUSD      float64
	Elapsed      time.Duration
	State        TerminalState
	Signal       Signal
	RetryHint    *RetryHint
}

// RetryReason classifies why a dispatched call failed in a way the
// planner can act on next turn. Adopted from the teacher's planner
// retry-hint taxonomy; not in the distilled core spec but a natural
// complement to the self-healing error propagation policy (§7).
type RetryReason string

const (
	RetryReasonInvalidArguments RetryReason = "invalid_arguments"
	RetryReasonMissingFields    RetryReason = "missing_fields"
	RetryReasonMalformedCall    RetryReason = "malformed_call"
	RetryReasonTimeout          RetryReason = "timeout"
	RetryReasonRateLimited      RetryReason = "rate_limited"
	RetryReasonGadgetUnavailable RetryReason = "gadget_unavailable"
)

// RetryHint suggests how the planner should adjust its next attempt after
// a failed gadget call.
type RetryHint struct {
	Reason         RetryReason
	MissingFields  []string
	Message        string
	RestrictToName string
}

// SuccessEnvelope renders the {"data": ...} JSON text for a successful
// result payload. Gadgets that need a structured result encode it as a
// JSON string themselves; the envelope always quotes data as a string so
// consumers can reliably unmarshal the outer envelope first.
func SuccessEnvelope(data string) string {
	b, _ := json.Marshal(struct {
		Data string `json:"data"`
	}{Data: data})
	return string(b)
}

// ErrorEnvelope renders the {"error": msg} JSON text for a failed result
// payload.
func ErrorEnvelope(msg string) string {
	b, _ := json.Marshal(struct {
		Error string `json:"error"`
	}{Error: msg})
	return string(b)
}
