package speak

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/ThreeDotsLabs/watermill/pubsub/gochannel"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/go-go-golems/parley/pkg/chat/api"
	"github.com/go-go-golems/parley/pkg/chat/cache"
	"github.com/go-go-golems/parley/pkg/chat/client"
	"github.com/go-go-golems/parley/pkg/chat/providers"
	"github.com/go-go-golems/parley/pkg/chat/validate"
	"github.com/go-go-golems/parley/pkg/conversation"
	"github.com/go-go-golems/parley/pkg/events"
)

// recordingTransport replays scripted responses and records the requests it
// saw.
type recordingTransport struct {
	responses []*api.Response
	requests  []*api.Request
}

func (t *recordingTransport) Send(ctx context.Context, req *api.Request) (*api.Response, error) {
	reqCopy := *req
	t.requests = append(t.requests, &reqCopy)

	idx := len(t.requests) - 1
	if idx >= len(t.responses) {
		idx = len(t.responses) - 1
	}
	resp := *t.responses[idx]
	return &resp, nil
}

func textResponse(text string) *api.Response {
	return &api.Response{
		Status:     200,
		Content:    []api.Content{api.NewTextContent(text)},
		StopReason: api.StopReasonEndTurn,
	}
}

func badToolResponse() *api.Response {
	return &api.Response{
		Status: 200,
		Content: []api.Content{
			api.NewToolUseContent("tu-1", "no_such_tool", json.RawMessage(`{}`)),
		},
		StopReason: api.StopReasonToolUse,
	}
}

func newSpeaker(t *testing.T, transport api.Transport, opts ...Option) *Speaker {
	t.Helper()
	provider, err := providers.New(providers.ProviderClaude, transport)
	require.NoError(t, err)

	c := client.New(provider)
	allOpts := append([]Option{
		WithSleep(func(ctx context.Context, d time.Duration) error { return nil }),
	}, opts...)
	return New(c, validate.New(), provider, allOpts...)
}

func TestSpeakValidFirstAttempt(t *testing.T) {
	transport := &recordingTransport{responses: []*api.Response{textResponse("fine")}}
	s := newSpeaker(t, transport)
	conv := conversation.New(providers.ProviderClaude, "test-model")
	conv.AppendMessages(conversation.NewChatMessage(conversation.RoleUser, "go"))

	resp, err := s.Speak(context.Background(), conv, &providers.SpeakOptions{})
	require.NoError(t, err)
	assert.Equal(t, "fine", resp.Text())
	assert.Len(t, transport.requests, 1)
}

func TestSpeakRetriesOnValidationFailure(t *testing.T) {
	transport := &recordingTransport{responses: []*api.Response{
		badToolResponse(),
		textResponse("corrected"),
	}}
	s := newSpeaker(t, transport)
	conv := conversation.New(providers.ProviderClaude, "test-model")
	conv.AppendMessages(conversation.NewChatMessage(conversation.RoleUser, "go"))

	resp, err := s.Speak(context.Background(), conv, &providers.SpeakOptions{})
	require.NoError(t, err)
	assert.Equal(t, "corrected", resp.Text())
	assert.Len(t, transport.requests, 2)
}

func TestSpeakAdjustsOptionsBetweenAttempts(t *testing.T) {
	transport := &recordingTransport{responses: []*api.Response{
		badToolResponse(),
		textResponse("corrected"),
	}}
	s := newSpeaker(t, transport)
	conv := conversation.New(providers.ProviderClaude, "test-model")
	conv.AppendMessages(conversation.NewChatMessage(conversation.RoleUser, "go"))

	temperature := 0.9
	_, err := s.Speak(context.Background(), conv, &providers.SpeakOptions{Temperature: &temperature})
	require.NoError(t, err)

	require.Len(t, transport.requests, 2)
	require.NotNil(t, transport.requests[0].Temperature)
	require.NotNil(t, transport.requests[1].Temperature)
	assert.Less(t, *transport.requests[1].Temperature, *transport.requests[0].Temperature)
}

func newEventCollector(t *testing.T) (*events.PublisherManager, <-chan *message.Message) {
	t.Helper()
	pubsub := gochannel.NewGoChannel(gochannel.Config{OutputChannelBuffer: 16}, watermill.NopLogger{})
	messages, err := pubsub.Subscribe(context.Background(), "speak.events")
	require.NoError(t, err)

	publisher := events.NewPublisherManager()
	publisher.SubscribePublisher("speak.events", pubsub)
	return publisher, messages
}

func nextEventType(t *testing.T, messages <-chan *message.Message) events.EventType {
	t.Helper()
	select {
	case msg := <-messages:
		msg.Ack()
		event := &events.Event{}
		require.NoError(t, json.Unmarshal(msg.Payload, event))
		return event.Type
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for speak event")
		return ""
	}
}

func TestSpeakPublishesLifecycleEvents(t *testing.T) {
	publisher, messages := newEventCollector(t)

	transport := &recordingTransport{responses: []*api.Response{
		badToolResponse(),
		textResponse("corrected"),
	}}
	s := newSpeaker(t, transport, WithPublisher(publisher))
	conv := conversation.New(providers.ProviderClaude, "test-model")
	conv.AppendMessages(conversation.NewChatMessage(conversation.RoleUser, "go"))

	_, err := s.Speak(context.Background(), conv, &providers.SpeakOptions{})
	require.NoError(t, err)

	assert.Equal(t, events.EventTypeSpeakStart, nextEventType(t, messages))
	assert.Equal(t, events.EventTypeSpeakRetry, nextEventType(t, messages))
	assert.Equal(t, events.EventTypeSpeakComplete, nextEventType(t, messages))
}

func TestSpeakPublishesCacheHit(t *testing.T) {
	publisher, messages := newEventCollector(t)

	transport := &recordingTransport{responses: []*api.Response{textResponse("answer")}}
	provider, err := providers.New(providers.ProviderClaude, transport)
	require.NoError(t, err)

	c := client.New(provider, client.WithCache(cache.NewMemoryCache()))
	s := New(c, validate.New(), provider,
		WithPublisher(publisher),
		WithSleep(func(ctx context.Context, d time.Duration) error { return nil }),
	)

	conv1 := conversation.New(providers.ProviderClaude, "test-model")
	conv1.AppendMessages(conversation.NewChatMessage(conversation.RoleUser, "same question"))
	_, err = s.Speak(context.Background(), conv1, &providers.SpeakOptions{})
	require.NoError(t, err)

	// The equivalent conversation replays from the cache.
	conv2 := conversation.New(providers.ProviderClaude, "test-model")
	conv2.AppendMessages(conversation.NewChatMessage(conversation.RoleUser, "same question"))
	_, err = s.Speak(context.Background(), conv2, &providers.SpeakOptions{})
	require.NoError(t, err)

	types := make([]events.EventType, 0, 5)
	for i := 0; i < 5; i++ {
		types = append(types, nextEventType(t, messages))
	}
	assert.Equal(t, []events.EventType{
		events.EventTypeSpeakStart,
		events.EventTypeSpeakComplete,
		events.EventTypeSpeakStart,
		events.EventTypeCacheHit,
		events.EventTypeSpeakComplete,
	}, types)
	assert.Len(t, transport.requests, 1)
}

func TestSpeakExhaustsValidationRetries(t *testing.T) {
	transport := &recordingTransport{responses: []*api.Response{badToolResponse()}}
	s := newSpeaker(t, transport, WithMaxAttempts(3))
	conv := conversation.New(providers.ProviderClaude, "test-model")
	conv.AppendMessages(conversation.NewChatMessage(conversation.RoleUser, "go"))

	_, err := s.Speak(context.Background(), conv, &providers.SpeakOptions{})
	require.Error(t, err)

	var exhausted *ExhaustedError
	require.ErrorAs(t, err, &exhausted)
	assert.Equal(t, 3, exhausted.Attempts)
	assert.Contains(t, exhausted.LastReason, "no_such_tool")
	assert.Len(t, transport.requests, 3)
}
