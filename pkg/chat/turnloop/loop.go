// Package turnloop drives multi-turn conversations: speak, dispatch the
// requested tools, feed results back, and repeat until the model stops asking
// for tools or the turn budget runs out.
package turnloop

import (
	"context"
	"fmt"
	"strings"

	"github.com/rs/zerolog/log"

	"github.com/go-go-golems/parley/pkg/chat/api"
	"github.com/go-go-golems/parley/pkg/chat/providers"
	"github.com/go-go-golems/parley/pkg/chat/speak"
	"github.com/go-go-golems/parley/pkg/conversation"
	"github.com/go-go-golems/parley/pkg/events"
	"github.com/go-go-golems/parley/pkg/store"
	"github.com/go-go-golems/parley/pkg/tools"
)

const defaultMaxTurns = 5

// Loop runs bounded tool-dispatch turns over a conversation.
type Loop struct {
	speaker    *speak.Speaker
	dispatcher *tools.Dispatcher
	store      store.ConversationStore
	publisher  *events.PublisherManager

	maxTurns int
}

type Option func(*Loop)

// WithMaxTurns overrides the turn budget for one Run.
func WithMaxTurns(n int) Option {
	return func(l *Loop) {
		if n > 0 {
			l.maxTurns = n
		}
	}
}

func WithStore(s store.ConversationStore) Option {
	return func(l *Loop) { l.store = s }
}

func WithPublisher(p *events.PublisherManager) Option {
	return func(l *Loop) { l.publisher = p }
}

func New(speaker *speak.Speaker, dispatcher *tools.Dispatcher, opts ...Option) *Loop {
	l := &Loop{
		speaker:    speaker,
		dispatcher: dispatcher,
		maxTurns:   defaultMaxTurns,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(l)
		}
	}
	return l
}

// Run appends the prompt to the conversation and drives turns until the model
// stops requesting tools or the budget is exhausted. Hitting the budget is
// not an error: the loop warns and returns the last response.
//
// The conversation is persisted after every exchange, so an interrupted run
// can resume from its last saved state.
func (l *Loop) Run(ctx context.Context, conv *conversation.Conversation, prompt string, opts *providers.SpeakOptions) (*api.Response, error) {
	if len(conv.Messages) == 0 {
		if err := l.registerTools(conv); err != nil {
			return nil, err
		}
	}

	conv.AppendMessages(conversation.NewChatMessage(conversation.RoleUser, prompt))

	var lastResponse *api.Response

	for turn := 1; turn <= l.maxTurns; turn++ {
		if err := ctx.Err(); err != nil {
			return lastResponse, err
		}

		l.publish(events.NewEvent(events.EventTypeTurnStart, conv.ID, map[string]interface{}{
			"turn": turn,
		}))

		resp, err := l.speaker.Speak(ctx, conv, opts)
		if err != nil {
			l.publish(events.NewEvent(events.EventTypeError, conv.ID, map[string]interface{}{
				"turn":  turn,
				"error": err.Error(),
			}))
			l.persist(conv)
			return lastResponse, err
		}
		lastResponse = resp
		conv.TurnCount++
		l.persist(conv)

		uses := conv.PendingToolUses()
		if len(uses) == 0 {
			// Consumers get a deep copy: the loop keeps mutating conv while
			// the event is in flight.
			l.publish(events.NewEvent(events.EventTypeTurnComplete, conv.ID, map[string]interface{}{
				"turn":         turn,
				"conversation": conv.Clone(),
			}))
			return resp, nil
		}

		followUp := l.dispatchAll(ctx, conv, uses)

		conv.AppendMessages(conversation.NewChatMessage(conversation.RoleUser, followUp))
		l.persist(conv)

		l.publish(events.NewEvent(events.EventTypeTurnComplete, conv.ID, map[string]interface{}{
			"turn":         turn,
			"tools":        len(uses),
			"conversation": conv.Clone(),
		}))
	}

	log.Warn().
		Str("conversationID", conv.ID.String()).
		Int("maxTurns", l.maxTurns).
		Msg("turn budget exhausted, returning last response")

	return lastResponse, nil
}

// dispatchAll runs the pending tool uses sequentially in emission order,
// appends their results as tool messages, and returns the follow-up prompt.
func (l *Loop) dispatchAll(ctx context.Context, conv *conversation.Conversation, uses []*conversation.ToolUseContent) string {
	var feedback []string

	for _, use := range uses {
		l.publish(events.NewEvent(events.EventTypeToolDispatch, conv.ID, map[string]interface{}{
			"tool":   use.Name,
			"toolID": use.ToolID,
		}))

		result := l.dispatcher.Dispatch(ctx, use)

		conv.AppendMessages(conversation.NewMessage(conversation.RoleTool, []conversation.MessageContent{
			&conversation.ToolResultContent{
				ToolID: result.ToolID,
				Result: result.Content,
			},
		}))

		if result.Feedback {
			feedback = append(feedback, fmt.Sprintf("%s: %s", result.Name, result.Content))
		}

		l.publish(events.NewEvent(events.EventTypeToolResult, conv.ID, map[string]interface{}{
			"tool":     result.Name,
			"toolID":   result.ToolID,
			"feedback": result.Feedback,
		}))
	}

	if len(feedback) > 0 {
		return "Some tool calls failed:\n" + strings.Join(feedback, "\n") + "\nPlease adjust and continue."
	}
	return "Tool results are above. Please continue."
}

func (l *Loop) registerTools(conv *conversation.Conversation) error {
	if l.dispatcher == nil {
		return nil
	}
	for _, def := range l.dispatcher.Definitions() {
		if err := conv.RegisterTool(def.Spec()); err != nil {
			return err
		}
	}
	return nil
}

func (l *Loop) persist(conv *conversation.Conversation) {
	if l.store == nil {
		return
	}
	if err := l.store.Save(conv); err != nil {
		log.Error().
			Str("conversationID", conv.ID.String()).
			Err(err).
			Msg("failed to persist conversation")
	}
}

func (l *Loop) publish(event *events.Event) {
	if l.publisher == nil {
		return
	}
	l.publisher.PublishBlind(event)
}
