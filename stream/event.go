// Package stream implements the agent loop's stream parser: Parser turns a
// sequence of raw provider text chunks into a sequence of typed events
// (text, gadget_call, parse_error), recognizing marker-delimited gadget
// invocations embedded in the free-form text and tolerating a marker being
// split across chunk boundaries. The thinking, usage and finish event
// types are declared here, but Parser does not produce them.
package stream

import (
	"github.com/gadgetrun/agentcore/gadget"
	"github.com/gadgetrun/agentcore/model"
)

// EventType classifies a parsed Event.
type EventType string

const (
	EventText       EventType = "text"
	EventGadgetCall EventType = "gadget_call"
	EventThinking   EventType = "thinking"
	EventUsage      EventType = "usage"
	EventFinish     EventType = "finish"
	EventParseError EventType = "parse_error"
)

// Event is one item of the parser's output sequence. Only the fields
// relevant to Type are populated.
type Event struct {
	Type EventType

	Text string // EventText

	Call *gadget.Call // EventGadgetCall

	Thinking string // EventThinking

	Usage *model.TokenUsage // EventUsage

	FinishReason string // EventFinish

	ParseErrorReason string // EventParseError
	// ParseErrorText carries the buffered content that could not be
	// resolved into a gadget call before the stream ended.
	ParseErrorText string
}
