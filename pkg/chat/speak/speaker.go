// Package speak wraps the resilient client and the validator in an outer
// retry loop keyed on validation failure rather than transport failure.
package speak

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/go-go-golems/parley/pkg/chat/api"
	"github.com/go-go-golems/parley/pkg/chat/client"
	"github.com/go-go-golems/parley/pkg/chat/providers"
	"github.com/go-go-golems/parley/pkg/chat/validate"
	"github.com/go-go-golems/parley/pkg/conversation"
	"github.com/go-go-golems/parley/pkg/events"
)

// ExhaustedError is returned after the validation retry budget ran out. It
// carries the failure reason of the last attempt.
type ExhaustedError struct {
	Provider       string
	Model          string
	ConversationID uuid.UUID
	Attempts       int
	LastReason     string
}

func (e *ExhaustedError) Error() string {
	return fmt.Sprintf("speak retries exhausted after %d attempts for provider %s (model %s, conversation %s): %s",
		e.Attempts, e.Provider, e.Model, e.ConversationID, e.LastReason)
}

// Speaker produces validated responses. Usage and request totals accumulate
// on the conversation across attempts regardless of outcome.
type Speaker struct {
	client    *client.Client
	validator *validate.Validator
	provider  providers.Provider
	publisher *events.PublisherManager

	maxAttempts int
	retryDelay  time.Duration
	sleep       func(ctx context.Context, d time.Duration) error
}

type Option func(*Speaker)

func WithMaxAttempts(n int) Option {
	return func(s *Speaker) {
		if n > 0 {
			s.maxAttempts = n
		}
	}
}

func WithRetryDelay(d time.Duration) Option {
	return func(s *Speaker) { s.retryDelay = d }
}

func WithPublisher(p *events.PublisherManager) Option {
	return func(s *Speaker) { s.publisher = p }
}

func WithSleep(sleep func(ctx context.Context, d time.Duration) error) Option {
	return func(s *Speaker) { s.sleep = sleep }
}

func New(c *client.Client, v *validate.Validator, provider providers.Provider, opts ...Option) *Speaker {
	s := &Speaker{
		client:      c,
		validator:   v,
		provider:    provider,
		maxAttempts: 3,
		retryDelay:  1 * time.Second,
		sleep: func(ctx context.Context, d time.Duration) error {
			timer := time.NewTimer(d)
			defer timer.Stop()
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-timer.C:
				return nil
			}
		},
	}
	for _, opt := range opts {
		if opt != nil {
			opt(s)
		}
	}
	return s
}

// Speak produces a validated response or fails with an ExhaustedError after
// the attempt budget. Between attempts the provider's post-validation hook
// adjusts the options based on the failure reason.
func (s *Speaker) Speak(ctx context.Context, conv *conversation.Conversation, opts *providers.SpeakOptions) (*api.Response, error) {
	lastReason := ""
	s.publish(conv, events.EventTypeSpeakStart, nil)

	for attempt := 1; attempt <= s.maxAttempts; attempt++ {
		resp, err := s.client.Speak(ctx, conv, opts)
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			lastReason = err.Error()
			log.Warn().
				Str("provider", s.provider.Name()).
				Int("attempt", attempt).
				Err(err).
				Msg("speak attempt failed")
		} else {
			result := s.validator.Validate(resp, conv)
			if result.Valid {
				if resp.FromCache {
					s.publish(conv, events.EventTypeCacheHit, nil)
				}
				s.publish(conv, events.EventTypeSpeakComplete, map[string]interface{}{
					"attempts": attempt,
				})
				return resp, nil
			}
			lastReason = result.Reason
			log.Warn().
				Str("provider", s.provider.Name()).
				Int("attempt", attempt).
				Str("reason", result.Reason).
				Msg("response failed validation")
			opts = s.provider.AdjustOptions(opts, result.Reason)
		}

		if attempt < s.maxAttempts {
			s.publish(conv, events.EventTypeSpeakRetry, map[string]interface{}{
				"attempt": attempt,
				"reason":  lastReason,
			})
			if err := s.sleep(ctx, s.retryDelay); err != nil {
				return nil, err
			}
		}
	}

	return nil, &ExhaustedError{
		Provider:       s.provider.Name(),
		Model:          conv.Model,
		ConversationID: conv.ID,
		Attempts:       s.maxAttempts,
		LastReason:     lastReason,
	}
}

func (s *Speaker) publish(conv *conversation.Conversation, type_ events.EventType, fields map[string]interface{}) {
	if s.publisher == nil {
		return
	}
	event := events.NewEvent(type_, conv.ID, fields)
	event.Provider = conv.Provider
	event.Model = conv.Model
	s.publisher.PublishBlind(event)
}
