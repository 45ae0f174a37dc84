package validate

import (
	"encoding/json"
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/go-go-golems/parley/pkg/chat/api"
	"github.com/go-go-golems/parley/pkg/conversation"
)

const pathsSchema = `{
	"type": "object",
	"properties": {
		"paths": {
			"type": "array",
			"items": {"type": "string"}
		}
	},
	"required": ["paths"]
}`

func newConversationWithTool(t *testing.T) *conversation.Conversation {
	t.Helper()
	conv := conversation.New("claude", "test-model")
	err := conv.RegisterTool(conversation.ToolSpec{
		Name:        "request_files",
		InputSchema: json.RawMessage(pathsSchema),
	})
	require.NoError(t, err)
	return conv
}

func TestValidateTextResponse(t *testing.T) {
	conv := conversation.New("claude", "test-model")
	resp := &api.Response{
		Status:     200,
		Content:    []api.Content{api.NewTextContent("all done")},
		StopReason: api.StopReasonEndTurn,
	}

	result := New().Validate(resp, conv)
	assert.True(t, result.Valid)
	assert.Empty(t, result.Reason)
}

func TestValidateTruncatedToolCall(t *testing.T) {
	conv := newConversationWithTool(t)
	resp := &api.Response{
		Status: 200,
		Content: []api.Content{
			api.NewToolUseContent("tu-1", "request_files", json.RawMessage(`{"paths":["a.go"]}`)),
		},
		StopReason: api.StopReasonMaxTokens,
	}

	result := New().Validate(resp, conv)
	assert.False(t, result.Valid)
	assert.Contains(t, result.Reason, "truncated")
}

func TestValidateUnknownTool(t *testing.T) {
	conv := newConversationWithTool(t)
	resp := &api.Response{
		Status: 200,
		Content: []api.Content{
			api.NewToolUseContent("tu-1", "delete_everything", json.RawMessage(`{}`)),
		},
		StopReason: api.StopReasonToolUse,
	}

	result := New().Validate(resp, conv)
	assert.False(t, result.Valid)
	assert.Contains(t, result.Reason, "delete_everything")
	assert.Contains(t, result.Reason, "not registered")
}

func TestValidateSchemaViolationNamesField(t *testing.T) {
	conv := newConversationWithTool(t)
	resp := &api.Response{
		Status: 200,
		Content: []api.Content{
			api.NewToolUseContent("tu-1", "request_files", json.RawMessage(`{"query":"oops"}`)),
		},
		StopReason: api.StopReasonToolUse,
	}

	result := New().Validate(resp, conv)
	assert.False(t, result.Valid)
	assert.Contains(t, result.Reason, "request_files")
	assert.Contains(t, result.Reason, "paths")
}

func TestValidateEmptyInputAgainstSchema(t *testing.T) {
	conv := newConversationWithTool(t)
	resp := &api.Response{
		Status: 200,
		Content: []api.Content{
			api.NewToolUseContent("tu-1", "request_files", nil),
		},
		StopReason: api.StopReasonToolUse,
	}

	// Empty input is treated as {} and fails the required-field check rather
	// than crashing the validator.
	result := New().Validate(resp, conv)
	assert.False(t, result.Valid)
	assert.Contains(t, result.Reason, "paths")
}

func TestValidateSemanticCheck(t *testing.T) {
	conv := conversation.New("claude", "test-model")
	resp := &api.Response{
		Status:     200,
		Content:    []api.Content{api.NewTextContent("I refuse")},
		StopReason: api.StopReasonEndTurn,
	}

	v := New(WithCheck(func(resp *api.Response) error {
		return errors.New("answer must contain code")
	}))

	result := v.Validate(resp, conv)
	assert.False(t, result.Valid)
	assert.Contains(t, result.Reason, "answer must contain code")
}

func TestValidateValidToolCall(t *testing.T) {
	conv := newConversationWithTool(t)
	resp := &api.Response{
		Status: 200,
		Content: []api.Content{
			api.NewToolUseContent("tu-1", "request_files", json.RawMessage(`{"paths":["a.go","b.go"]}`)),
		},
		StopReason: api.StopReasonToolUse,
	}

	result := New().Validate(resp, conv)
	assert.True(t, result.Valid)
}
