// Package providers implements the per-vendor behavior behind one common
// interface: shaping requests, sending them, interpreting stop reasons, and
// adjusting options after a validation failure.
package providers

import (
	"context"

	"github.com/pkg/errors"

	"github.com/go-go-golems/parley/pkg/chat/api"
	"github.com/go-go-golems/parley/pkg/conversation"
)

const (
	ProviderClaude = "claude"
	ProviderOpenAI = "openai"
)

// SpeakOptions are the per-call knobs a caller can set on a single speak
// exchange.
type SpeakOptions struct {
	Temperature   *float64 `json:"temperature,omitempty" yaml:"temperature,omitempty"`
	TopP          *float64 `json:"top_p,omitempty" yaml:"top_p,omitempty"`
	MaxTokens     int      `json:"max_tokens,omitempty" yaml:"max_tokens,omitempty"`
	StopSequences []string `json:"stop_sequences,omitempty" yaml:"stop_sequences,omitempty"`
}

func (o *SpeakOptions) Clone() *SpeakOptions {
	if o == nil {
		return &SpeakOptions{}
	}
	ret := *o
	if o.Temperature != nil {
		temperature := *o.Temperature
		ret.Temperature = &temperature
	}
	if o.TopP != nil {
		topP := *o.TopP
		ret.TopP = &topP
	}
	ret.StopSequences = append([]string(nil), o.StopSequences...)
	return &ret
}

// Provider is one model vendor. Selection happens through New, keyed on the
// provider name stored on the conversation.
type Provider interface {
	Name() string

	// PrepareRequest builds the fully-prepared request payload for this
	// vendor from the conversation and per-call options.
	PrepareRequest(conv *conversation.Conversation, opts *SpeakOptions) (*api.Request, error)

	// Send performs the network exchange for a prepared request.
	Send(ctx context.Context, req *api.Request) (*api.Response, error)

	// InterpretStopReason normalizes the vendor's stop reason into the
	// abstract one.
	InterpretStopReason(resp *api.Response) api.StopReason

	// AdjustOptions is the post-validation hook: given the failure reason of
	// the previous attempt, it returns the options to use for the next one.
	AdjustOptions(opts *SpeakOptions, reason string) *SpeakOptions
}

// New selects a provider implementation by name.
func New(name string, transport api.Transport) (Provider, error) {
	if transport == nil {
		return nil, errors.New("provider transport is nil")
	}

	switch name {
	case ProviderClaude:
		return &ClaudeProvider{transport: transport}, nil
	case ProviderOpenAI:
		return &OpenAIProvider{transport: transport}, nil
	default:
		return nil, errors.Errorf("unknown provider %s", name)
	}
}
