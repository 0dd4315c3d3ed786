package models

import "fmt"

type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation error for field '%s': %s", e.Field, e.Message)
}

// ValidateMessageEnvelope checks the fields a consumer cannot work without.
// Records failing it are dropped, never retried.
func ValidateMessageEnvelope(msg *MessageEnvelope) error {
	if msg == nil {
		return &ValidationError{
			Field:   "envelope",
			Message: "message envelope cannot be nil",
		}
	}

	if msg.MessageID == "" {
		return &ValidationError{
			Field:   "messageId",
			Message: "message id is required",
		}
	}

	if msg.IsRetry && msg.OriginalMessageID == "" {
		return &ValidationError{
			Field:   "originalMessageId",
			Message: "retry records must reference the original message",
		}
	}

	if msg.RetryCount < 0 {
		return &ValidationError{
			Field:   "retryCount",
			Message: "retry count cannot be negative",
		}
	}

	return nil
}
