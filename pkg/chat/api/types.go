// Package api holds the provider-agnostic request and response shapes the
// orchestration engine works with. The wire format of any one vendor is the
// transport's business; only this abstracted shape crosses into the engine.
package api

import (
	"context"
	"encoding/json"
	"time"
)

type StopReason string

const (
	StopReasonEndTurn      StopReason = "end_turn"
	StopReasonMaxTokens    StopReason = "max_tokens"
	StopReasonToolUse      StopReason = "tool_use"
	StopReasonStopSequence StopReason = "stop_sequence"
)

// Usage is the token accounting a provider reports for a single response.
type Usage struct {
	InputTokens  int `json:"input_tokens"`
	OutputTokens int `json:"output_tokens"`
	TotalTokens  int `json:"total_tokens"`
}

// RateLimit is the quota snapshot attached to a provider response. It is
// consumed by the 429 backoff calculation and never persisted.
type RateLimit struct {
	RequestsRemaining int       `json:"requests_remaining"`
	TokensRemaining   int       `json:"tokens_remaining"`
	RequestsReset     time.Time `json:"requests_reset"`
	TokensReset       time.Time `json:"tokens_reset"`
}

const (
	ContentTypeText       = "text"
	ContentTypeImage      = "image"
	ContentTypeToolUse    = "tool_use"
	ContentTypeToolResult = "tool_result"
)

// Content is a single block in a message or response. Exactly one of the
// pointer fields matching Type is set.
type Content struct {
	Type       string             `json:"type"`
	Text       *string            `json:"text,omitempty"`
	Image      *ImageContent      `json:"image,omitempty"`
	ToolUse    *ToolUseContent    `json:"tool_use,omitempty"`
	ToolResult *ToolResultContent `json:"tool_result,omitempty"`
}

type ImageContent struct {
	MediaType string `json:"media_type"`
	Data      string `json:"data"`
}

type ToolUseContent struct {
	ID    string          `json:"id"`
	Name  string          `json:"name"`
	Input json.RawMessage `json:"input"`
}

type ToolResultContent struct {
	ToolUseID string `json:"tool_use_id"`
	Content   string `json:"content"`
}

func NewTextContent(text string) Content {
	return Content{Type: ContentTypeText, Text: &text}
}

func NewToolUseContent(toolID, toolName string, toolInput json.RawMessage) Content {
	return Content{
		Type: ContentTypeToolUse,
		ToolUse: &ToolUseContent{
			ID:    toolID,
			Name:  toolName,
			Input: toolInput,
		},
	}
}

func NewToolResultContent(toolUseID, content string) Content {
	return Content{
		Type: ContentTypeToolResult,
		ToolResult: &ToolResultContent{
			ToolUseID: toolUseID,
			Content:   content,
		},
	}
}

// Tool describes a callable tool the way providers expect it: name,
// description, and a JSON schema for its input.
type Tool struct {
	Name        string          `json:"name"`
	Description string          `json:"description,omitempty"`
	InputSchema json.RawMessage `json:"input_schema"`
}

// Message is a single request-side message: a role plus ordered content
// blocks.
type Message struct {
	Role    string    `json:"role"`
	Content []Content `json:"content"`
}

// Request is the fully-prepared provider request payload. It is what gets
// fingerprinted for the request cache, so its serialization must be
// deterministic for semantically identical requests.
type Request struct {
	Provider      string    `json:"provider"`
	Model         string    `json:"model"`
	System        string    `json:"system,omitempty"`
	Messages      []Message `json:"messages"`
	MaxTokens     int       `json:"max_tokens"`
	Temperature   *float64  `json:"temperature,omitempty"`
	TopP          *float64  `json:"top_p,omitempty"`
	StopSequences []string  `json:"stop_sequences,omitempty"`
	Tools         []Tool    `json:"tools,omitempty"`
}

// Response is the structured response shape every transport reduces a
// provider reply to.
type Response struct {
	Status     int        `json:"status"`
	StatusText string     `json:"status_text"`
	Model      string     `json:"model,omitempty"`
	Content    []Content  `json:"content"`
	Usage      Usage      `json:"usage"`
	RateLimit  RateLimit  `json:"rate_limit"`
	StopReason StopReason `json:"stop_reason,omitempty"`

	// FromCache is set on responses replayed from the request cache so
	// downstream accounting is not double-charged.
	FromCache bool `json:"from_cache,omitempty"`
}

// OK reports whether the response carries a 2xx status.
func (r *Response) OK() bool {
	return r.Status >= 200 && r.Status < 300
}

// ToolUses returns the tool-use blocks of the response in emission order.
func (r *Response) ToolUses() []*ToolUseContent {
	var uses []*ToolUseContent
	for _, c := range r.Content {
		if c.Type == ContentTypeToolUse && c.ToolUse != nil {
			uses = append(uses, c.ToolUse)
		}
	}
	return uses
}

// Text concatenates the text blocks of the response.
func (r *Response) Text() string {
	text := ""
	for _, c := range r.Content {
		if c.Type == ContentTypeText && c.Text != nil {
			text += *c.Text
		}
	}
	return text
}

// Transport performs the actual network exchange for a fully-prepared
// request. Transport-level failures (DNS, connection reset, malformed reply)
// are reported as errors; HTTP-level failures come back as a Response with a
// non-2xx Status.
type Transport interface {
	Send(ctx context.Context, req *Request) (*Response, error)
}
