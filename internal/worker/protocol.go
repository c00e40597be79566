package worker

import "encoding/json"

// Frame types exchanged with the worker, one JSON object per text message.
const (
	FrameInvoke = "invoke"
	FrameResult = "result"
	FrameError  = "error"
	FrameEvent  = "event"
)

// Frame is the envelope of every websocket message. Which fields are set
// depends on Type.
type Frame struct {
	Type    string          `json:"type"`
	ID      string          `json:"id,omitempty"`
	Command string          `json:"command,omitempty"`
	Args    any             `json:"args,omitempty"`
	Result  json.RawMessage `json:"result,omitempty"`
	Error   string          `json:"error,omitempty"`
	Event   string          `json:"event,omitempty"`
	Payload json.RawMessage `json:"payload,omitempty"`
}
