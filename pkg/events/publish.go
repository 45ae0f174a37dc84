package events

import (
	"encoding/json"
	"fmt"
	"sync"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/rs/zerolog/log"
)

// PublisherManager distributes events to a set of watermill publishers. A
// publisher is subscribed with a topic; every published event is sent to all
// publishers on the topic they registered with.
//
// The manager stamps each outgoing message with a sequence number in the
// order Publish handles them.
type PublisherManager struct {
	publishers     map[string][]message.Publisher
	sequenceNumber uint64
	mutex          sync.Mutex
}

func NewPublisherManager() *PublisherManager {
	return &PublisherManager{
		publishers: make(map[string][]message.Publisher),
	}
}

func (m *PublisherManager) SubscribePublisher(topic string, pub message.Publisher) {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	m.publishers[topic] = append(m.publishers[topic], pub)
}

// Publish serializes the event to JSON and distributes it to all registered
// publishers. Individual publisher failures are logged, not propagated.
func (m *PublisherManager) Publish(event *Event) error {
	m.mutex.Lock()
	defer m.mutex.Unlock()

	b, err := json.Marshal(event)
	if err != nil {
		return err
	}

	msg := message.NewMessage(watermill.NewUUID(), b)
	msg.Metadata.Set("sequence_number", fmt.Sprintf("%d", m.sequenceNumber))
	msg.Metadata.Set("event_type", string(event.Type))
	m.sequenceNumber++

	for topic, pubs := range m.publishers {
		for _, pub := range pubs {
			if err := pub.Publish(topic, msg); err != nil {
				log.Warn().Err(err).Str("topic", topic).Msg("failed to publish event")
			}
		}
	}

	return nil
}

// PublishBlind is Publish for callers that treat event delivery as best
// effort.
func (m *PublisherManager) PublishBlind(event *Event) {
	if err := m.Publish(event); err != nil {
		log.Warn().Err(err).Msg("failed to publish event")
	}
}
