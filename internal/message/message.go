// Package message defines the chat message record pushed to recipients
// and the validation applied to send and edit requests.
package message

import (
	"time"

	"github.com/google/uuid"
)

// Message is the persisted chat message record. The same shape is pushed
// to the receiver's live connections in a newMessage frame.
type Message struct {
	ID         string    `json:"_id" bson:"_id"`
	SenderID   string    `json:"senderId" bson:"senderId"`
	ReceiverID string    `json:"receiverId" bson:"receiverId"`
	Text       string    `json:"text,omitempty" bson:"text,omitempty"`
	Image      string    `json:"image,omitempty" bson:"image,omitempty"`
	Edited     bool      `json:"edited" bson:"edited"`
	CreatedAt  time.Time `json:"createdAt" bson:"createdAt"`
	UpdatedAt  time.Time `json:"updatedAt" bson:"updatedAt"`
}

// SendRequest is the body of a send-message request
type SendRequest struct {
	Text  string `json:"text"`
	Image string `json:"image"`
}

// EditRequest is the body of an edit-message request
type EditRequest struct {
	Text string `json:"text"`
}

// New builds a message from sender to receiver. The request must already be
// sanitized and validated.
func New(senderID, receiverID string, req SendRequest, now time.Time) *Message {
	now = now.UTC()
	return &Message{
		ID:         uuid.NewString(),
		SenderID:   senderID,
		ReceiverID: receiverID,
		Text:       req.Text,
		Image:      req.Image,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
}

// Counterpart returns the other participant of the conversation from userID's side
func (m *Message) Counterpart(userID string) string {
	if m.SenderID == userID {
		return m.ReceiverID
	}
	return m.SenderID
}
