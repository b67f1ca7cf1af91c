package transport

import (
	"encoding/json"
	"fmt"
)

// Realtime channel event names. The client emits join-session, send-message
// and typing; the server pushes new-message and user-typing.
const (
	EventJoinSession = "join-session"
	EventSendMessage = "send-message"
	EventTyping      = "typing"
	EventNewMessage  = "new-message"
	EventUserTyping  = "user-typing"
)

// Frame is the envelope of every realtime channel message.
type Frame struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
}

// NewFrame wraps a payload into a Frame.
func NewFrame(event string, payload interface{}) (Frame, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return Frame{}, fmt.Errorf("failed to encode %s payload: %w", event, err)
	}
	return Frame{Event: event, Data: data}, nil
}

// Decode unmarshals the frame's payload into v.
func (f Frame) Decode(v interface{}) error {
	if len(f.Data) == 0 {
		return fmt.Errorf("%s frame has no payload", f.Event)
	}
	return json.Unmarshal(f.Data, v)
}

// JoinPayload binds the current session to the realtime channel.
type JoinPayload struct {
	SessionID string `json:"sessionId"`
	UserType  string `json:"userType"`
}

// TypingPayload carries a typing indicator in either direction.
type TypingPayload struct {
	SessionID string `json:"sessionId"`
	UserType  string `json:"userType"`
	IsTyping  bool   `json:"isTyping"`
}
