package message

import (
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/real-rm/livechat/internal/constants"
)

// ValidationError represents a validation error
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation error on field '%s': %s", e.Field, e.Message)
}

// Validate checks a send request: text or image is required, text is at most
// MaxMessageTextLength characters, and the receiver is someone else.
func (r *SendRequest) Validate(senderID, receiverID string) error {
	if receiverID == "" {
		return &ValidationError{Field: "receiverId", Message: "receiver is required"}
	}

	if senderID == receiverID {
		return &ValidationError{Field: "receiverId", Message: "Cannot send messages to yourself"}
	}

	if r.Text == "" && r.Image == "" {
		return &ValidationError{Field: "text", Message: "Text or image is required"}
	}

	if err := validateText(r.Text); err != nil {
		return err
	}

	if len(r.Image) > constants.MaxImageRefLength {
		return &ValidationError{
			Field:   "image",
			Message: fmt.Sprintf("image reference exceeds maximum length of %d characters", constants.MaxImageRefLength),
		}
	}

	return nil
}

// Sanitize strips null bytes and surrounding whitespace from user input
func (r *SendRequest) Sanitize() {
	r.Text = sanitizeString(r.Text)
	r.Image = sanitizeString(r.Image)
}

// Validate checks an edit request: the new text is required and bounded
func (r *EditRequest) Validate() error {
	if r.Text == "" {
		return &ValidationError{Field: "text", Message: "Text is required"}
	}
	return validateText(r.Text)
}

// Sanitize strips null bytes and surrounding whitespace from user input
func (r *EditRequest) Sanitize() {
	r.Text = sanitizeString(r.Text)
}

func validateText(text string) error {
	if utf8.RuneCountInString(text) > constants.MaxMessageTextLength {
		return &ValidationError{
			Field:   "text",
			Message: fmt.Sprintf("Message text is too long (max %d characters)", constants.MaxMessageTextLength),
		}
	}
	return nil
}

// sanitizeString removes null bytes and trims whitespace.
// HTML escaping belongs at render time, not here.
func sanitizeString(s string) string {
	s = strings.ReplaceAll(s, "\x00", "")
	return strings.TrimSpace(s)
}
