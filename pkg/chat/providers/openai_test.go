package providers

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/go-go-golems/parley/pkg/chat/api"
	"github.com/go-go-golems/parley/pkg/conversation"
)

func TestOpenAIPrepareRequestSystemIsFirstMessage(t *testing.T) {
	p := &OpenAIProvider{}
	conv := conversation.New(ProviderOpenAI, "test-model", conversation.WithSystemPrompt("be brief"))
	conv.AppendMessages(conversation.NewChatMessage(conversation.RoleUser, "hello"))

	req, err := p.PrepareRequest(conv, &SpeakOptions{})
	require.NoError(t, err)

	assert.Empty(t, req.System)
	require.Len(t, req.Messages, 2)
	assert.Equal(t, "system", req.Messages[0].Role)
	assert.Equal(t, "be brief", *req.Messages[0].Content[0].Text)
	assert.Equal(t, "user", req.Messages[1].Role)
}

func TestOpenAIPrepareRequestKeepsToolRole(t *testing.T) {
	p := &OpenAIProvider{}
	conv := conversation.New(ProviderOpenAI, "test-model")
	conv.AppendMessages(conversation.NewMessage(conversation.RoleTool, []conversation.MessageContent{
		&conversation.ToolResultContent{ToolID: "tu-1", Result: "ok"},
	}))

	req, err := p.PrepareRequest(conv, &SpeakOptions{})
	require.NoError(t, err)
	require.Len(t, req.Messages, 1)
	assert.Equal(t, "tool", req.Messages[0].Role)
}

func TestOpenAIInterpretStopReason(t *testing.T) {
	p := &OpenAIProvider{}

	assert.Equal(t, api.StopReasonMaxTokens, p.InterpretStopReason(&api.Response{StopReason: "length"}))
	assert.Equal(t, api.StopReasonToolUse, p.InterpretStopReason(&api.Response{StopReason: "tool_calls"}))
	assert.Equal(t, api.StopReasonStopSequence, p.InterpretStopReason(&api.Response{StopReason: "content_filter"}))
	assert.Equal(t, api.StopReasonEndTurn, p.InterpretStopReason(&api.Response{StopReason: "stop"}))
}

func TestProviderFactory(t *testing.T) {
	transport := NewHTTPTransport("http://localhost", "key")

	claude, err := New(ProviderClaude, transport)
	require.NoError(t, err)
	assert.Equal(t, ProviderClaude, claude.Name())

	openai, err := New(ProviderOpenAI, transport)
	require.NoError(t, err)
	assert.Equal(t, ProviderOpenAI, openai.Name())

	_, err = New("mystery", transport)
	require.Error(t, err)

	_, err = New(ProviderClaude, nil)
	require.Error(t, err)
}
