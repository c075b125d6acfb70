package stream

import (
	"encoding/json"

	"github.com/gadgetrun/agentcore/gadget"
)

// EncodeCall renders a gadget call in the exact marker-delimited wire form
// the parser can reproduce, using the structured (JSON) form. Re-parsing
// this text yields an identical call record (§8.5).
func EncodeCall(call *gadget.Call) string {
	return EncodeCallWithMarkers(DefaultMarkers, call)
}

// EncodeCallWithMarkers renders call using the given marker set.
func EncodeCallWithMarkers(markers Markers, call *gadget.Call) string {
	body, err := json.Marshal(call.Parameters)
	if err != nil {
		body = []byte("{}")
	}
	return markers.OpenPrefix + call.Name + markers.OpenSuffix + string(body) + markers.Close
}
