package client

import (
	"fmt"

	"github.com/google/uuid"
)

// ProviderError is a terminal transport or protocol failure talking to a
// provider. It is not retried.
type ProviderError struct {
	Provider       string
	Model          string
	ConversationID uuid.UUID
	Status         int
	StatusText     string
	Err            error
}

func (e *ProviderError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("provider %s (model %s, conversation %s): %v", e.Provider, e.Model, e.ConversationID, e.Err)
	}
	return fmt.Sprintf("provider %s (model %s, conversation %s): %d %s", e.Provider, e.Model, e.ConversationID, e.Status, e.StatusText)
}

func (e *ProviderError) Unwrap() error {
	return e.Err
}

// RetryExhaustedError is returned when the attempt budget ran out without a
// successful response.
type RetryExhaustedError struct {
	Provider       string
	Model          string
	ConversationID uuid.UUID
	Attempts       int
	LastStatus     int
}

func (e *RetryExhaustedError) Error() string {
	return fmt.Sprintf("max retries reached after %d attempts for provider %s (model %s, conversation %s), last status %d",
		e.Attempts, e.Provider, e.Model, e.ConversationID, e.LastStatus)
}
