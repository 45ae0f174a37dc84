package conversation

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
)

type ContentType string

const (
	ContentTypeText       ContentType = "text"
	ContentTypeImage      ContentType = "image"
	ContentTypeToolUse    ContentType = "tool-use"
	ContentTypeToolResult ContentType = "tool-result"
)

// MessageContent is an interface for the different kinds of content parts a
// message can carry.
type MessageContent interface {
	ContentType() ContentType
	String() string
}

type Role string

const (
	RoleSystem    Role = "system"
	RoleAssistant Role = "assistant"
	RoleUser      Role = "user"
	RoleTool      Role = "tool"
)

type TextContent struct {
	Text string `json:"text"`
}

func (c *TextContent) ContentType() ContentType {
	return ContentTypeText
}

func (c *TextContent) String() string {
	return c.Text
}

var _ MessageContent = (*TextContent)(nil)

// ToolUseContent is a structured request from the model to execute a named
// tool. Thinking holds the free text the model emitted alongside the call.
type ToolUseContent struct {
	ToolID   string          `json:"toolID"`
	Name     string          `json:"name"`
	Input    json.RawMessage `json:"input"`
	Thinking string          `json:"thinking,omitempty"`
}

func (t *ToolUseContent) ContentType() ContentType {
	return ContentTypeToolUse
}

func (t *ToolUseContent) String() string {
	return fmt.Sprintf("ToolUseContent{ToolID: %s, Name: %s, Input: %s}", t.ToolID, t.Name, t.Input)
}

var _ MessageContent = (*ToolUseContent)(nil)

type ToolResultContent struct {
	ToolID string `json:"toolID"`
	Result string `json:"result"`
}

func (t *ToolResultContent) ContentType() ContentType {
	return ContentTypeToolResult
}

func (t *ToolResultContent) String() string {
	return fmt.Sprintf("ToolResultContent{ToolID: %s, Result: %s}", t.ToolID, t.Result)
}

var _ MessageContent = (*ToolResultContent)(nil)

type ImageContent struct {
	ImageURL  string `json:"imageURL,omitempty"`
	ImageName string `json:"imageName,omitempty"`
	MediaType string `json:"mediaType,omitempty"`
	Data      []byte `json:"data,omitempty"`
}

func (i *ImageContent) ContentType() ContentType {
	return ContentTypeImage
}

func (i *ImageContent) String() string {
	return fmt.Sprintf("ImageContent{ImageURL: %s, ImageName: %s}", i.ImageURL, i.ImageName)
}

var _ MessageContent = (*ImageContent)(nil)

// Message is a single entry in a conversation. The part sequence is ordered
// and immutable once the message has been appended to a conversation.
type Message struct {
	ID         uuid.UUID `json:"id"`
	Role       Role      `json:"role"`
	Time       time.Time `json:"time"`
	LastUpdate time.Time `json:"lastUpdate"`

	Parts []MessageContent `json:"parts"`

	// Metadata can carry a link to the raw provider response that produced
	// this message, usage information, etc.
	Metadata map[string]interface{} `json:"metadata,omitempty"`
}

type MessageOption func(*Message)

func WithMetadata(metadata map[string]interface{}) MessageOption {
	return func(message *Message) {
		message.Metadata = metadata
	}
}

func WithTime(t time.Time) MessageOption {
	return func(message *Message) {
		message.Time = t
	}
}

func WithID(id uuid.UUID) MessageOption {
	return func(message *Message) {
		message.ID = id
	}
}

func NewMessage(role Role, parts []MessageContent, options ...MessageOption) *Message {
	ret := &Message{
		ID:         uuid.New(),
		Role:       role,
		Time:       time.Now(),
		LastUpdate: time.Now(),
		Parts:      parts,
	}

	for _, option := range options {
		option(ret)
	}

	return ret
}

func NewChatMessage(role Role, text string, options ...MessageOption) *Message {
	return NewMessage(role, []MessageContent{&TextContent{Text: text}}, options...)
}

// ToolUses returns the tool-use parts of the message in emission order.
func (m *Message) ToolUses() []*ToolUseContent {
	var uses []*ToolUseContent
	for _, part := range m.Parts {
		if use, ok := part.(*ToolUseContent); ok {
			uses = append(uses, use)
		}
	}
	return uses
}

// Text concatenates all text parts of the message.
func (m *Message) Text() string {
	var sb strings.Builder
	for _, part := range m.Parts {
		if text, ok := part.(*TextContent); ok {
			sb.WriteString(text.Text)
		}
	}
	return sb.String()
}

func (m *Message) View() string {
	return fmt.Sprintf("[%s]: %s", m.Role, strings.TrimRight(m.Text(), "\n"))
}

type partEnvelope struct {
	ContentType ContentType     `json:"contentType"`
	Content     json.RawMessage `json:"content"`
}

func (m *Message) MarshalJSON() ([]byte, error) {
	type Alias Message
	envelopes := make([]partEnvelope, 0, len(m.Parts))
	for _, part := range m.Parts {
		b, err := json.Marshal(part)
		if err != nil {
			return nil, err
		}
		envelopes = append(envelopes, partEnvelope{
			ContentType: part.ContentType(),
			Content:     b,
		})
	}

	return json.Marshal(&struct {
		Parts []partEnvelope `json:"parts"`
		*Alias
	}{
		Parts: envelopes,
		Alias: (*Alias)(m),
	})
}

func (m *Message) UnmarshalJSON(data []byte) error {
	type Alias Message
	aux := &struct {
		Parts []partEnvelope `json:"parts"`
		*Alias
	}{
		Alias: (*Alias)(m),
	}
	if err := json.Unmarshal(data, aux); err != nil {
		return err
	}

	m.Parts = nil
	for _, envelope := range aux.Parts {
		part, err := unmarshalPart(envelope)
		if err != nil {
			return err
		}
		m.Parts = append(m.Parts, part)
	}

	return nil
}

func unmarshalPart(envelope partEnvelope) (MessageContent, error) {
	switch envelope.ContentType {
	case ContentTypeText:
		v := &TextContent{}
		return v, json.Unmarshal(envelope.Content, v)
	case ContentTypeToolUse:
		v := &ToolUseContent{}
		return v, json.Unmarshal(envelope.Content, v)
	case ContentTypeToolResult:
		v := &ToolResultContent{}
		return v, json.Unmarshal(envelope.Content, v)
	case ContentTypeImage:
		v := &ImageContent{}
		return v, json.Unmarshal(envelope.Content, v)
	default:
		return nil, errors.Errorf("unknown content type %s", envelope.ContentType)
	}
}
