// Package wire implements the event-framed message codec over the
// persistent websocket connection, the authenticated upgrade handshake,
// and the router that dispatches inbound events into typed handlers.
package wire

import (
	"encoding/json"
	"time"
)

// Envelope is the textual message frame in both directions:
// {"event": string, "data": object}.
type Envelope struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data"`
}

// encode builds a server→client frame. Every outbound data object
// carries a server timestamp in milliseconds since epoch.
func encode(event string, data map[string]any) []byte {
	if data == nil {
		data = make(map[string]any, 1)
	}
	data["time"] = time.Now().UnixMilli()
	raw, err := json.Marshal(data)
	if err != nil {
		raw = []byte(`{}`)
	}
	b, _ := json.Marshal(Envelope{Event: event, Data: raw})
	return b
}

// Diagnostic envelopes: systemmessage carries user-facing
// validation/authorization failures; error carries protocol-level
// failures tied to the original event.
func systemMessage(message string) []byte {
	return encode("systemmessage", map[string]any{"message": message})
}

func protocolError(originalEvent, message string) []byte {
	return encode("error", map[string]any{
		"originalEvent": originalEvent,
		"message":       message,
	})
}
