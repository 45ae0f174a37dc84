package providers

import (
	"context"
	"sort"
	"strings"

	"github.com/go-go-golems/parley/pkg/chat/api"
	"github.com/go-go-golems/parley/pkg/conversation"
)

const defaultMaxTokens = 4096

// ClaudeProvider shapes requests the Anthropic way: the system prompt rides
// in its own field and tool results are folded into user messages.
type ClaudeProvider struct {
	transport api.Transport
}

var _ Provider = (*ClaudeProvider)(nil)

func (p *ClaudeProvider) Name() string {
	return ProviderClaude
}

func (p *ClaudeProvider) PrepareRequest(conv *conversation.Conversation, opts *SpeakOptions) (*api.Request, error) {
	opts = opts.Clone()

	maxTokens := opts.MaxTokens
	if maxTokens <= 0 {
		maxTokens = defaultMaxTokens
	}

	req := &api.Request{
		Provider:      p.Name(),
		Model:         conv.Model,
		System:        conv.SystemPrompt,
		MaxTokens:     maxTokens,
		Temperature:   opts.Temperature,
		TopP:          opts.TopP,
		StopSequences: opts.StopSequences,
		Tools:         toolsFromConversation(conv),
	}

	for _, msg := range conv.Messages {
		if msg.Role == conversation.RoleSystem {
			// System text rides in the dedicated request field.
			if req.System == "" {
				req.System = msg.Text()
			}
			continue
		}

		role := string(msg.Role)
		if msg.Role == conversation.RoleTool {
			// Tool results go back as user messages carrying tool_result
			// blocks.
			role = string(conversation.RoleUser)
		}

		req.Messages = append(req.Messages, api.Message{
			Role:    role,
			Content: blocksFromParts(msg.Parts),
		})
	}

	return req, nil
}

func (p *ClaudeProvider) Send(ctx context.Context, req *api.Request) (*api.Response, error) {
	return p.transport.Send(ctx, req)
}

func (p *ClaudeProvider) InterpretStopReason(resp *api.Response) api.StopReason {
	switch string(resp.StopReason) {
	case "max_tokens":
		return api.StopReasonMaxTokens
	case "tool_use":
		return api.StopReasonToolUse
	case "stop_sequence":
		return api.StopReasonStopSequence
	default:
		return api.StopReasonEndTurn
	}
}

func (p *ClaudeProvider) AdjustOptions(opts *SpeakOptions, reason string) *SpeakOptions {
	next := opts.Clone()

	if strings.Contains(reason, "truncated") {
		maxTokens := next.MaxTokens
		if maxTokens <= 0 {
			maxTokens = defaultMaxTokens
		}
		next.MaxTokens = maxTokens * 2
		return next
	}

	// Structured-output failures usually come from sampling too hot.
	next.Temperature = demoteTemperature(next.Temperature)
	return next
}

func demoteTemperature(temperature *float64) *float64 {
	demoted := 0.2
	if temperature != nil && *temperature-0.3 > demoted {
		demoted = *temperature - 0.3
	}
	return &demoted
}

// toolsFromConversation converts the registered tool specs, sorted by name so
// the prepared request serializes deterministically.
func toolsFromConversation(conv *conversation.Conversation) []api.Tool {
	if len(conv.Tools) == 0 {
		return nil
	}

	names := make([]string, 0, len(conv.Tools))
	for name := range conv.Tools {
		names = append(names, name)
	}
	sort.Strings(names)

	tools := make([]api.Tool, 0, len(names))
	for _, name := range names {
		spec := conv.Tools[name]
		tools = append(tools, api.Tool{
			Name:        spec.Name,
			Description: spec.Description,
			InputSchema: spec.InputSchema,
		})
	}
	return tools
}

func blocksFromParts(parts []conversation.MessageContent) []api.Content {
	var blocks []api.Content
	for _, part := range parts {
		switch v := part.(type) {
		case *conversation.TextContent:
			blocks = append(blocks, api.NewTextContent(v.Text))
		case *conversation.ToolUseContent:
			if v.Thinking != "" {
				blocks = append(blocks, api.NewTextContent(v.Thinking))
			}
			blocks = append(blocks, api.NewToolUseContent(v.ToolID, v.Name, v.Input))
		case *conversation.ToolResultContent:
			blocks = append(blocks, api.NewToolResultContent(v.ToolID, v.Result))
		case *conversation.ImageContent:
			blocks = append(blocks, api.Content{
				Type: api.ContentTypeImage,
				Image: &api.ImageContent{
					MediaType: v.MediaType,
					Data:      string(v.Data),
				},
			})
		}
	}
	return blocks
}
