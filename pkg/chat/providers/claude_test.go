package providers

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/go-go-golems/parley/pkg/chat/api"
	"github.com/go-go-golems/parley/pkg/conversation"
)

func newClaudeConversation(t *testing.T) *conversation.Conversation {
	t.Helper()
	conv := conversation.New(ProviderClaude, "test-model", conversation.WithSystemPrompt("be precise"))
	require.NoError(t, conv.RegisterTool(conversation.ToolSpec{
		Name:        "zeta",
		InputSchema: json.RawMessage(`{"type":"object"}`),
	}))
	require.NoError(t, conv.RegisterTool(conversation.ToolSpec{
		Name:        "alpha",
		InputSchema: json.RawMessage(`{"type":"object"}`),
	}))
	return conv
}

func TestClaudePrepareRequest(t *testing.T) {
	p := &ClaudeProvider{}
	conv := newClaudeConversation(t)
	conv.AppendMessages(conversation.NewChatMessage(conversation.RoleUser, "hello"))

	req, err := p.PrepareRequest(conv, &SpeakOptions{})
	require.NoError(t, err)

	assert.Equal(t, "be precise", req.System)
	assert.Equal(t, defaultMaxTokens, req.MaxTokens)
	require.Len(t, req.Messages, 1)
	assert.Equal(t, "user", req.Messages[0].Role)

	// Tools are sorted by name so equivalent conversations fingerprint the
	// same.
	require.Len(t, req.Tools, 2)
	assert.Equal(t, "alpha", req.Tools[0].Name)
	assert.Equal(t, "zeta", req.Tools[1].Name)
}

func TestClaudePrepareRequestToolMessagesBecomeUser(t *testing.T) {
	p := &ClaudeProvider{}
	conv := conversation.New(ProviderClaude, "test-model")
	conv.AppendMessages(
		conversation.NewChatMessage(conversation.RoleUser, "go"),
		conversation.NewMessage(conversation.RoleAssistant, []conversation.MessageContent{
			&conversation.ToolUseContent{
				ToolID:   "tu-1",
				Name:     "alpha",
				Input:    json.RawMessage(`{}`),
				Thinking: "let me check",
			},
		}),
		conversation.NewMessage(conversation.RoleTool, []conversation.MessageContent{
			&conversation.ToolResultContent{ToolID: "tu-1", Result: "it worked"},
		}),
	)

	req, err := p.PrepareRequest(conv, &SpeakOptions{})
	require.NoError(t, err)
	require.Len(t, req.Messages, 3)

	// Thinking text is re-emitted as a text block before the tool use.
	assistant := req.Messages[1]
	require.Len(t, assistant.Content, 2)
	assert.Equal(t, api.ContentTypeText, assistant.Content[0].Type)
	assert.Equal(t, "let me check", *assistant.Content[0].Text)
	assert.Equal(t, api.ContentTypeToolUse, assistant.Content[1].Type)

	// Tool results ride in user messages.
	assert.Equal(t, "user", req.Messages[2].Role)
	require.Len(t, req.Messages[2].Content, 1)
	assert.Equal(t, api.ContentTypeToolResult, req.Messages[2].Content[0].Type)
}

func TestClaudeInterpretStopReason(t *testing.T) {
	p := &ClaudeProvider{}

	assert.Equal(t, api.StopReasonMaxTokens, p.InterpretStopReason(&api.Response{StopReason: "max_tokens"}))
	assert.Equal(t, api.StopReasonToolUse, p.InterpretStopReason(&api.Response{StopReason: "tool_use"}))
	assert.Equal(t, api.StopReasonStopSequence, p.InterpretStopReason(&api.Response{StopReason: "stop_sequence"}))
	assert.Equal(t, api.StopReasonEndTurn, p.InterpretStopReason(&api.Response{StopReason: ""}))
	assert.Equal(t, api.StopReasonEndTurn, p.InterpretStopReason(&api.Response{StopReason: "weird"}))
}

func TestClaudeAdjustOptionsTruncation(t *testing.T) {
	p := &ClaudeProvider{}

	next := p.AdjustOptions(&SpeakOptions{MaxTokens: 1000}, "response truncated mid tool call")
	assert.Equal(t, 2000, next.MaxTokens)

	// Default budget doubles too when no explicit budget was set.
	next = p.AdjustOptions(&SpeakOptions{}, "response truncated mid tool call")
	assert.Equal(t, defaultMaxTokens*2, next.MaxTokens)
}

func TestClaudeAdjustOptionsDemotesTemperature(t *testing.T) {
	p := &ClaudeProvider{}

	temperature := 0.9
	next := p.AdjustOptions(&SpeakOptions{Temperature: &temperature}, "tool foo input invalid")
	require.NotNil(t, next.Temperature)
	assert.InDelta(t, 0.6, *next.Temperature, 1e-9)

	// The original options are untouched.
	assert.InDelta(t, 0.9, temperature, 1e-9)

	// Demotion floors at a low but nonzero temperature.
	low := 0.3
	next = p.AdjustOptions(&SpeakOptions{Temperature: &low}, "tool foo input invalid")
	assert.InDelta(t, 0.2, *next.Temperature, 1e-9)
}
