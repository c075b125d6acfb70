package stream

import (
	"strings"

	"github.com/gadgetrun/agentcore/gadget"
	"github.com/google/uuid"
)

// SchemaLookup resolves a gadget's declared parameter schema by name, used
// to direct coercion at parse time. Registries implement this directly.
type SchemaLookup func(gadgetName string) *gadget.Schema

// Parser turns raw provider text into a sequence of Events, recognizing
// marker-delimited gadget calls and tolerating a marker split across any
// two adjacent Feed calls. It buffers only as much trailing text as could
// still be the start of a marker; everything before that point is emitted
// as text and never revisited.
type Parser struct {
	markers Markers
	schema  SchemaLookup

	buf        strings.Builder
	inCall     bool
	pendingTag string // gadget name once the open marker has closed
}

// NewParser builds a Parser using the given markers (DefaultMarkers if
// zero-valued) and an optional schema lookup used for coercion; a nil
// lookup causes every gadget's parameters to use the pattern-based default
// heuristic.
func NewParser(markers Markers, schema SchemaLookup) *Parser {
	if markers == (Markers{}) {
		markers = DefaultMarkers
	}
	return &Parser{markers: markers, schema: schema}
}

// Feed appends one chunk of provider text and returns every Event that
// can now be emitted with certainty. Call Close once the stream ends to
// flush any remaining buffered content.
func (p *Parser) Feed(chunk string) []Event {
	p.buf.WriteString(chunk)
	return p.drain(false)
}

// Close signals end of stream, flushing any buffered text and converting
// an unterminated call into a parse_error event.
func (p *Parser) Close() []Event {
	return p.drain(true)
}

func (p *Parser) drain(final bool) []Event {
	var events []Event
	for {
		buf := p.buf.String()

		if p.inCall {
			idx := strings.Index(buf, p.markers.Close)
			if idx >= 0 {
				body := buf[:idx]
				rest := buf[idx+len(p.markers.Close):]
				p.resetBuf(rest)
				events = append(events, p.buildCallEvent(p.pendingTag, body))
				p.inCall = false
				p.pendingTag = ""
				continue
			}
			if final {
				events = append(events, Event{
					Type:             EventParseError,
					ParseErrorReason: "unterminated gadget call marker",
					ParseErrorText:   buf,
				})
				p.resetBuf("")
			}
			return events
		}

		openIdx := strings.Index(buf, p.markers.OpenPrefix)
		if openIdx < 0 {
			hold := longestPrefixOverlap(buf, p.markers.OpenPrefix)
			if final {
				hold = 0
			}
			if hold < len(buf) {
				if text := buf[:len(buf)-hold]; text != "" {
					events = append(events, Event{Type: EventText, Text: text})
				}
			}
			p.resetBuf(buf[len(buf)-hold:])
			return events
		}

		if text := buf[:openIdx]; text != "" {
			events = append(events, Event{Type: EventText, Text: text})
		}
		afterPrefix := buf[openIdx+len(p.markers.OpenPrefix):]
		suffixIdx := strings.Index(afterPrefix, p.markers.OpenSuffix)
		if suffixIdx < 0 {
			if final {
				// Opening marker never closed: treat the whole thing as a
				// parse error, not silently-dropped text.
				events = append(events, Event{
					Type:             EventParseError,
					ParseErrorReason: "unterminated gadget name marker",
					ParseErrorText:   buf[openIdx:],
				})
				p.resetBuf("")
				return events
			}
			p.resetBuf(buf[openIdx:])
			return events
		}

		name := afterPrefix[:suffixIdx]
		rest := afterPrefix[suffixIdx+len(p.markers.OpenSuffix):]
		p.resetBuf(rest)
		p.inCall = true
		p.pendingTag = name
	}
}

func (p *Parser) resetBuf(s string) {
	p.buf.Reset()
	p.buf.WriteString(s)
}

func (p *Parser) buildCallEvent(name, body string) Event {
	params, err := ParseCallBody(name, body, p.schemaFor(name))
	if err != nil {
		return Event{
			Type:             EventParseError,
			ParseErrorReason: err.Error(),
			ParseErrorText:   body,
		}
	}
	return Event{
		Type: EventGadgetCall,
		Call: &gadget.Call{
			InvocationID: uuid.NewString(),
			Name:         name,
			Parameters:   params,
		},
	}
}

func (p *Parser) schemaFor(name string) *gadget.Schema {
	if p.schema == nil {
		return nil
	}
	return p.schema(name)
}

// ParseCallBody parses the text between a gadget call's open and close
// markers into a parameter mapping, trying structured form (JSON/YAML)
// first and falling back to block form (ARG:<path> preludes).
func ParseCallBody(name, body string, schema *gadget.Schema) (map[string]any, error) {
	trimmed := strings.TrimSpace(body)
	if trimmed != "" && looksStructured(trimmed) {
		if params, err := parseStructuredForm(trimmed); err == nil {
			return params, nil
		}
	}
	entries, err := parseBlockForm(body)
	if err != nil {
		return nil, err
	}
	raw, err := placeBlockForm(entries)
	if err != nil {
		return nil, err
	}
	return coerceTree(raw, schema), nil
}

// looksStructured is a cheap heuristic distinguishing a structured-form
// body (starts with a JSON/YAML mapping) from block form (starts with an
// ARG: prelude).
func looksStructured(trimmed string) bool {
	return !strings.HasPrefix(trimmed, argPrefix)
}
