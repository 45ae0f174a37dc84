package conversation

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
	clone "github.com/huandu/go-clone"
	"github.com/pkg/errors"
)

// TokenUsage tracks cumulative token consumption across a conversation.
type TokenUsage struct {
	InputTokens  int `json:"input_tokens" yaml:"input_tokens"`
	OutputTokens int `json:"output_tokens" yaml:"output_tokens"`
	TotalTokens  int `json:"total_tokens" yaml:"total_tokens"`
}

func (u *TokenUsage) Add(other TokenUsage) {
	u.InputTokens += other.InputTokens
	u.OutputTokens += other.OutputTokens
	u.TotalTokens += other.TotalTokens
}

// ToolSpec describes a tool registered on a conversation: its name and the
// JSON schema its input must conform to.
type ToolSpec struct {
	Name        string          `json:"name"`
	Description string          `json:"description,omitempty"`
	InputSchema json.RawMessage `json:"input_schema"`
}

// Conversation is the aggregate the turn loop drives: an ordered, append-only
// message sequence plus the registered tools and running totals.
type Conversation struct {
	ID           uuid.UUID `json:"id"`
	Provider     string    `json:"provider"`
	Model        string    `json:"model"`
	SystemPrompt string    `json:"system_prompt,omitempty"`

	Messages []*Message          `json:"messages"`
	Tools    map[string]ToolSpec `json:"tools,omitempty"`

	Usage        TokenUsage `json:"usage"`
	RequestCount int        `json:"request_count"`
	TurnCount    int        `json:"turn_count"`

	Created time.Time `json:"created"`
	Updated time.Time `json:"updated"`
}

type ConversationOption func(*Conversation)

func WithConversationID(id uuid.UUID) ConversationOption {
	return func(c *Conversation) {
		c.ID = id
	}
}

func WithSystemPrompt(prompt string) ConversationOption {
	return func(c *Conversation) {
		c.SystemPrompt = prompt
	}
}

func New(provider string, model string, options ...ConversationOption) *Conversation {
	ret := &Conversation{
		ID:       uuid.New(),
		Provider: provider,
		Model:    model,
		Tools:    map[string]ToolSpec{},
		Created:  time.Now(),
		Updated:  time.Now(),
	}

	for _, option := range options {
		option(ret)
	}

	return ret
}

// AppendMessages adds messages to the end of the conversation. The message
// sequence is append-only; messages are never mutated after this point.
func (c *Conversation) AppendMessages(msgs ...*Message) {
	c.Messages = append(c.Messages, msgs...)
	c.Updated = time.Now()
}

// RegisterTool registers a tool on the conversation. Tools are immutable once
// registered; re-registering the same name is an error.
func (c *Conversation) RegisterTool(spec ToolSpec) error {
	if spec.Name == "" {
		return errors.New("tool name cannot be empty")
	}
	if c.Tools == nil {
		c.Tools = map[string]ToolSpec{}
	}
	if _, ok := c.Tools[spec.Name]; ok {
		return errors.Errorf("tool %s is already registered", spec.Name)
	}
	c.Tools[spec.Name] = spec
	return nil
}

// GetTool looks up a registered tool by name.
func (c *Conversation) GetTool(name string) (ToolSpec, bool) {
	spec, ok := c.Tools[name]
	return spec, ok
}

// LastMessage returns the most recently appended message, or nil on an empty
// conversation.
func (c *Conversation) LastMessage() *Message {
	if len(c.Messages) == 0 {
		return nil
	}
	return c.Messages[len(c.Messages)-1]
}

// PendingToolUses returns the tool-use parts of the last message if it is an
// assistant message, in the order the model emitted them.
func (c *Conversation) PendingToolUses() []*ToolUseContent {
	last := c.LastMessage()
	if last == nil || last.Role != RoleAssistant {
		return nil
	}
	return last.ToolUses()
}

// Clone returns a deep copy of the conversation, used for snapshots handed to
// event consumers.
func (c *Conversation) Clone() *Conversation {
	return clone.Clone(c).(*Conversation)
}
