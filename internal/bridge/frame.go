package bridge

import "encoding/json"

// Frame is the wire format exchanged with the browser-side process.
// Control frames carry only a type; command frames carry an id, an
// action and a payload, and expect a correlated reply with the same id.
type Frame struct {
	ID      string          `json:"id,omitempty"`
	Type    string          `json:"type"`
	Action  string          `json:"action,omitempty"`
	Payload json.RawMessage `json:"payload,omitempty"`
	Result  json.RawMessage `json:"result,omitempty"`
	Error   string          `json:"error,omitempty"`
}

const (
	FrameTypePing     = "ping"
	FrameTypePong     = "pong"
	FrameTypeCommand  = "command"
	FrameTypeResponse = "response"
	FrameTypeEvent    = "event"
)

var (
	pingFrame = []byte(`{"type":"ping"}`)
	pongFrame = []byte(`{"type":"pong"}`)
)
