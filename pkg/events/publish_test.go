package events

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/ThreeDotsLabs/watermill/pubsub/gochannel"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPublisherManagerDistributesWithSequenceNumbers(t *testing.T) {
	pubsub := gochannel.NewGoChannel(gochannel.Config{OutputChannelBuffer: 8}, watermill.NopLogger{})
	messages, err := pubsub.Subscribe(context.Background(), "test.events")
	require.NoError(t, err)

	manager := NewPublisherManager()
	manager.SubscribePublisher("test.events", pubsub)

	conversationID := uuid.New()
	require.NoError(t, manager.Publish(NewEvent(EventTypeTurnStart, conversationID, nil)))
	require.NoError(t, manager.Publish(NewEvent(EventTypeTurnComplete, conversationID, map[string]interface{}{
		"turn": 1,
	})))

	first := receiveMessage(t, messages)
	assert.Equal(t, "0", first.Metadata.Get("sequence_number"))
	assert.Equal(t, string(EventTypeTurnStart), first.Metadata.Get("event_type"))

	var event Event
	require.NoError(t, json.Unmarshal(first.Payload, &event))
	assert.Equal(t, EventTypeTurnStart, event.Type)
	assert.Equal(t, conversationID, event.ConversationID)

	second := receiveMessage(t, messages)
	assert.Equal(t, "1", second.Metadata.Get("sequence_number"))
}

func receiveMessage(t *testing.T, messages <-chan *message.Message) *message.Message {
	t.Helper()
	select {
	case msg := <-messages:
		msg.Ack()
		return msg
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for event")
		return nil
	}
}
