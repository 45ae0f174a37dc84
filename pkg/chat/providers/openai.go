package providers

import (
	"context"
	"strings"

	"github.com/go-go-golems/parley/pkg/chat/api"
	"github.com/go-go-golems/parley/pkg/conversation"
)

// OpenAIProvider shapes requests the OpenAI way: the system prompt is the
// first message and tool results keep their tool role.
type OpenAIProvider struct {
	transport api.Transport
}

var _ Provider = (*OpenAIProvider)(nil)

func (p *OpenAIProvider) Name() string {
	return ProviderOpenAI
}

func (p *OpenAIProvider) PrepareRequest(conv *conversation.Conversation, opts *SpeakOptions) (*api.Request, error) {
	opts = opts.Clone()

	maxTokens := opts.MaxTokens
	if maxTokens <= 0 {
		maxTokens = defaultMaxTokens
	}

	req := &api.Request{
		Provider:      p.Name(),
		Model:         conv.Model,
		MaxTokens:     maxTokens,
		Temperature:   opts.Temperature,
		TopP:          opts.TopP,
		StopSequences: opts.StopSequences,
		Tools:         toolsFromConversation(conv),
	}

	if conv.SystemPrompt != "" {
		req.Messages = append(req.Messages, api.Message{
			Role:    string(conversation.RoleSystem),
			Content: []api.Content{api.NewTextContent(conv.SystemPrompt)},
		})
	}

	for _, msg := range conv.Messages {
		req.Messages = append(req.Messages, api.Message{
			Role:    string(msg.Role),
			Content: blocksFromParts(msg.Parts),
		})
	}

	return req, nil
}

func (p *OpenAIProvider) Send(ctx context.Context, req *api.Request) (*api.Response, error) {
	return p.transport.Send(ctx, req)
}

func (p *OpenAIProvider) InterpretStopReason(resp *api.Response) api.StopReason {
	switch string(resp.StopReason) {
	case "length", "max_tokens":
		return api.StopReasonMaxTokens
	case "tool_calls", "function_call", "tool_use":
		return api.StopReasonToolUse
	case "content_filter", "stop_sequence":
		return api.StopReasonStopSequence
	default:
		return api.StopReasonEndTurn
	}
}

func (p *OpenAIProvider) AdjustOptions(opts *SpeakOptions, reason string) *SpeakOptions {
	next := opts.Clone()

	if strings.Contains(reason, "truncated") {
		maxTokens := next.MaxTokens
		if maxTokens <= 0 {
			maxTokens = defaultMaxTokens
		}
		next.MaxTokens = maxTokens * 2
		return next
	}

	next.Temperature = demoteTemperature(next.Temperature)
	return next
}
