package stream

import "strings"

// Markers configures the literal delimiter tokens recognized by Parser.
// OpenPrefix/OpenSuffix bracket the gadget name (e.g.
// "<<<GADGET:Calculator>>>"); Close terminates the parameter body.
type Markers struct {
	OpenPrefix string
	OpenSuffix string
	Close      string
}

// DefaultMarkers are the delimiter tokens used when a Parser is built
// without an explicit Markers override.
var DefaultMarkers = Markers{
	OpenPrefix: "<<<GADGET:",
	OpenSuffix: ">>>",
	Close:      "<<<END_GADGET>>>",
}

// longestPrefixOverlap returns the length of the longest suffix of s that
// is also a proper prefix of marker. It is the amount of s that must be
// held back because it might be the start of marker once more bytes
// arrive — the chunk-boundary tolerance discipline required by §4.1: never
// back up once a byte has been emitted, so the parser must recognize the
// earliest *possible* start of a marker before committing text before it.
func longestPrefixOverlap(s, marker string) int {
	max := len(marker) - 1
	if max > len(s) {
		max = len(s)
	}
	for l := max; l > 0; l-- {
		if strings.HasSuffix(s, marker[:l]) {
			return l
		}
	}
	return 0
}
