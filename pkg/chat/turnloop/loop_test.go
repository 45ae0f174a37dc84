package turnloop

import (
	"context"
	"encoding/json"
	"fmt"
	"testing"
	"time"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/ThreeDotsLabs/watermill/pubsub/gochannel"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/go-go-golems/parley/pkg/chat/api"
	"github.com/go-go-golems/parley/pkg/chat/client"
	"github.com/go-go-golems/parley/pkg/chat/providers"
	"github.com/go-go-golems/parley/pkg/chat/speak"
	"github.com/go-go-golems/parley/pkg/chat/validate"
	"github.com/go-go-golems/parley/pkg/conversation"
	"github.com/go-go-golems/parley/pkg/events"
	"github.com/go-go-golems/parley/pkg/patch"
	"github.com/go-go-golems/parley/pkg/store"
	"github.com/go-go-golems/parley/pkg/tools"
)

type scriptedTransport struct {
	responses []*api.Response
	calls     int
}

func (t *scriptedTransport) Send(ctx context.Context, req *api.Request) (*api.Response, error) {
	idx := t.calls
	if idx >= len(t.responses) {
		idx = len(t.responses) - 1
	}
	t.calls++
	resp := *t.responses[idx]
	return &resp, nil
}

type countingStore struct {
	saves int
	last  *conversation.Conversation
}

func (s *countingStore) Save(conv *conversation.Conversation) error {
	s.saves++
	s.last = conv
	return nil
}

func (s *countingStore) Load(id uuid.UUID) (*conversation.Conversation, error) {
	return nil, store.ErrNotFound
}

func (s *countingStore) List() ([]store.Summary, error) { return nil, nil }

func (s *countingStore) PatchLog(id uuid.UUID) patch.LogStore { return patch.NewMemoryLog() }

type echoInput struct {
	Message string `json:"message" jsonschema:"required"`
}

func newEchoTool(t *testing.T) *tools.Definition {
	t.Helper()
	def, err := tools.NewDefinition("echo", "Echo the message back.", echoInput{},
		func(ctx context.Context, input json.RawMessage) (string, error) {
			var in echoInput
			if err := json.Unmarshal(input, &in); err != nil {
				return "", err
			}
			return "echo: " + in.Message, nil
		})
	require.NoError(t, err)
	return def
}

func toolUseResponse(id string, name string, input string) *api.Response {
	return &api.Response{
		Status: 200,
		Content: []api.Content{
			api.NewToolUseContent(id, name, json.RawMessage(input)),
		},
		StopReason: api.StopReasonToolUse,
	}
}

func finalResponse(text string) *api.Response {
	return &api.Response{
		Status:     200,
		Content:    []api.Content{api.NewTextContent(text)},
		StopReason: api.StopReasonEndTurn,
	}
}

func newTestLoop(t *testing.T, transport api.Transport, fileStore store.ConversationStore, opts ...Option) *Loop {
	t.Helper()
	provider, err := providers.New(providers.ProviderClaude, transport)
	require.NoError(t, err)

	speaker := speak.New(client.New(provider), validate.New(), provider,
		speak.WithSleep(func(ctx context.Context, d time.Duration) error { return nil }),
	)
	dispatcher := tools.NewDispatcher(newEchoTool(t))

	allOpts := append([]Option{WithStore(fileStore)}, opts...)
	return New(speaker, dispatcher, allOpts...)
}

func TestRunSingleTurn(t *testing.T) {
	transport := &scriptedTransport{responses: []*api.Response{finalResponse("done")}}
	fileStore := &countingStore{}
	loop := newTestLoop(t, transport, fileStore)
	conv := conversation.New(providers.ProviderClaude, "test-model")

	resp, err := loop.Run(context.Background(), conv, "just answer", &providers.SpeakOptions{})
	require.NoError(t, err)

	assert.Equal(t, "done", resp.Text())
	assert.Equal(t, 1, conv.TurnCount)
	assert.Equal(t, 1, fileStore.saves)

	// user prompt + assistant answer
	require.Len(t, conv.Messages, 2)
	assert.Equal(t, conversation.RoleUser, conv.Messages[0].Role)
	assert.Equal(t, conversation.RoleAssistant, conv.Messages[1].Role)
}

func TestRunDispatchesToolsAndContinues(t *testing.T) {
	transport := &scriptedTransport{responses: []*api.Response{
		toolUseResponse("tu-1", "echo", `{"message":"hello"}`),
		finalResponse("all finished"),
	}}
	fileStore := &countingStore{}
	loop := newTestLoop(t, transport, fileStore)
	conv := conversation.New(providers.ProviderClaude, "test-model")

	resp, err := loop.Run(context.Background(), conv, "use the tool", &providers.SpeakOptions{})
	require.NoError(t, err)

	assert.Equal(t, "all finished", resp.Text())
	assert.Equal(t, 2, conv.TurnCount)

	// The echo tool is registered on the fresh conversation.
	_, ok := conv.GetTool("echo")
	assert.True(t, ok)

	// user, assistant tool use, tool result, follow-up user, assistant final
	require.Len(t, conv.Messages, 5)
	assert.Equal(t, conversation.RoleTool, conv.Messages[2].Role)

	result, ok := conv.Messages[2].Parts[0].(*conversation.ToolResultContent)
	require.True(t, ok)
	assert.Equal(t, "tu-1", result.ToolID)
	assert.Equal(t, "echo: hello", result.Result)

	assert.Equal(t, conversation.RoleUser, conv.Messages[3].Role)

	// Persisted after each exchange: two speaks plus the tool follow-up.
	assert.Equal(t, 3, fileStore.saves)
}

func TestRunToolFailureBecomesFeedback(t *testing.T) {
	failing, err := tools.NewDefinition("boom", "Always fails.", echoInput{},
		func(ctx context.Context, input json.RawMessage) (string, error) {
			return "", fmt.Errorf("disk on fire")
		})
	require.NoError(t, err)

	transport := &scriptedTransport{responses: []*api.Response{
		toolUseResponse("tu-1", "boom", `{"message":"x"}`),
		finalResponse("recovered"),
	}}
	provider, err := providers.New(providers.ProviderClaude, transport)
	require.NoError(t, err)
	speaker := speak.New(client.New(provider), validate.New(), provider,
		speak.WithSleep(func(ctx context.Context, d time.Duration) error { return nil }),
	)
	loop := New(speaker, tools.NewDispatcher(failing))
	conv := conversation.New(providers.ProviderClaude, "test-model")

	resp, err := loop.Run(context.Background(), conv, "try it", &providers.SpeakOptions{})
	require.NoError(t, err)
	assert.Equal(t, "recovered", resp.Text())

	// The failure is delivered as a tool result plus corrective follow-up, not
	// as a Go error.
	result, ok := conv.Messages[2].Parts[0].(*conversation.ToolResultContent)
	require.True(t, ok)
	assert.Contains(t, result.Result, "disk on fire")
	assert.Contains(t, conv.Messages[3].Text(), "failed")
}

func TestRunStopsAtTurnBudget(t *testing.T) {
	// The model never stops asking for the tool.
	transport := &scriptedTransport{responses: []*api.Response{
		toolUseResponse("tu-1", "echo", `{"message":"again"}`),
	}}
	fileStore := &countingStore{}
	loop := newTestLoop(t, transport, fileStore, WithMaxTurns(3))
	conv := conversation.New(providers.ProviderClaude, "test-model")

	resp, err := loop.Run(context.Background(), conv, "loop forever", &providers.SpeakOptions{})

	// Hitting the budget is a warning, not an error.
	require.NoError(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, 3, conv.TurnCount)
	assert.Equal(t, 3, transport.calls)
}

func TestRunPublishesConversationSnapshot(t *testing.T) {
	pubsub := gochannel.NewGoChannel(gochannel.Config{OutputChannelBuffer: 32}, watermill.NopLogger{})
	messages, err := pubsub.Subscribe(context.Background(), "loop.events")
	require.NoError(t, err)

	publisher := events.NewPublisherManager()
	publisher.SubscribePublisher("loop.events", pubsub)

	transport := &scriptedTransport{responses: []*api.Response{finalResponse("done")}}
	loop := newTestLoop(t, transport, &countingStore{}, WithPublisher(publisher))
	conv := conversation.New(providers.ProviderClaude, "test-model")

	_, err = loop.Run(context.Background(), conv, "just answer", &providers.SpeakOptions{})
	require.NoError(t, err)

	start := nextLoopEvent(t, messages)
	assert.Equal(t, events.EventTypeTurnStart, start.Type)

	complete := nextLoopEvent(t, messages)
	assert.Equal(t, events.EventTypeTurnComplete, complete.Type)
	assert.Equal(t, conv.ID, complete.ConversationID)

	// The turn-complete event carries a snapshot of the conversation as it
	// stood when the turn finished.
	snapshot, ok := complete.Fields["conversation"].(map[string]interface{})
	require.True(t, ok)
	assert.Len(t, snapshot["messages"], 2)
}

func nextLoopEvent(t *testing.T, messages <-chan *message.Message) *events.Event {
	t.Helper()
	select {
	case msg := <-messages:
		msg.Ack()
		event := &events.Event{}
		require.NoError(t, json.Unmarshal(msg.Payload, event))
		return event
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for loop event")
		return nil
	}
}

func TestRunCancelledContext(t *testing.T) {
	transport := &scriptedTransport{responses: []*api.Response{
		toolUseResponse("tu-1", "echo", `{"message":"x"}`),
	}}
	loop := newTestLoop(t, transport, &countingStore{})
	conv := conversation.New(providers.ProviderClaude, "test-model")

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := loop.Run(ctx, conv, "never mind", &providers.SpeakOptions{})
	assert.ErrorIs(t, err, context.Canceled)
}
