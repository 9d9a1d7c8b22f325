// Package event defines the frames pushed over a live connection.
//
// Every frame is a JSON envelope {"event": "<name>", "data": <payload>}.
// Presence frames always carry the full online-user list, never a diff.
package event

import (
	"encoding/json"
	"errors"
	"fmt"
)

// Name identifies a frame type on the wire
type Name string

const (
	// OnlineUsers carries the full presence snapshot ([]string of user IDs).
	// Clients also send it with no data to request the current snapshot.
	OnlineUsers Name = "getOnlineUsers"
	// NewMessage carries a persisted chat message addressed to the receiver
	NewMessage Name = "newMessage"
	// MessageUpdated carries an edited chat message
	MessageUpdated Name = "messageUpdated"
	// MessageDeleted carries the ID of a deleted chat message
	MessageDeleted Name = "messageDeleted"
	// Error carries an ErrorInfo for a frame the server could not process
	Error Name = "error"
)

var (
	// ErrMissingEvent is returned when a frame has no event name
	ErrMissingEvent = errors.New("frame has no event name")
)

// Envelope is the wire form of every frame
type Envelope struct {
	Event Name            `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
}

// ErrorInfo contains error details sent to a client
type ErrorInfo struct {
	Code        string `json:"code"`
	Message     string `json:"message"`
	Recoverable bool   `json:"recoverable"`
	RetryAfter  int    `json:"retry_after,omitempty"` // milliseconds
}

// Deleted is the payload of a MessageDeleted frame
type Deleted struct {
	MessageID string `json:"messageId"`
}

// Encode marshals payload into an envelope for the named event.
// A nil payload produces a frame without data.
func Encode(name Name, payload interface{}) ([]byte, error) {
	if name == "" {
		return nil, ErrMissingEvent
	}

	env := Envelope{Event: name}
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			return nil, fmt.Errorf("failed to encode %s payload: %w", name, err)
		}
		env.Data = data
	}

	frame, err := json.Marshal(env)
	if err != nil {
		return nil, fmt.Errorf("failed to encode %s envelope: %w", name, err)
	}
	return frame, nil
}

// Decode parses a frame. Unknown event names are returned as-is; callers
// decide whether to ignore them.
func Decode(raw []byte) (*Envelope, error) {
	var env Envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return nil, fmt.Errorf("invalid frame: %w", err)
	}
	if env.Event == "" {
		return nil, ErrMissingEvent
	}
	return &env, nil
}

// DecodeData unmarshals the envelope payload into v.
func (e *Envelope) DecodeData(v interface{}) error {
	if len(e.Data) == 0 {
		return fmt.Errorf("%s frame has no data", e.Event)
	}
	if err := json.Unmarshal(e.Data, v); err != nil {
		return fmt.Errorf("invalid %s payload: %w", e.Event, err)
	}
	return nil
}
