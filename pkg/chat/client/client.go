// Package client implements the resilient request layer: one logical speak
// call against a provider, with cache consultation, status-driven retry and
// backoff, usage accounting, and tool-use extraction.
package client

import (
	"context"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/go-go-golems/parley/pkg/chat/api"
	"github.com/go-go-golems/parley/pkg/chat/cache"
	"github.com/go-go-golems/parley/pkg/chat/providers"
	"github.com/go-go-golems/parley/pkg/conversation"
	"github.com/go-go-golems/parley/pkg/usage"
)

const fingerprintKind = "speak"

type Options struct {
	// MaxRetries bounds transport attempts for one speak call.
	MaxRetries int
	// InitialBackoff seeds the doubling 5xx backoff schedule.
	InitialBackoff time.Duration
	// RequestTimeout is the deadline applied to each network call.
	RequestTimeout time.Duration
	// CacheEnabled globally switches request caching; when off the client
	// never reads or writes the cache.
	CacheEnabled bool
	// CacheTTL is the lifetime of written cache entries.
	CacheTTL time.Duration
}

func DefaultOptions() Options {
	return Options{
		MaxRetries:     3,
		InitialBackoff: 1 * time.Second,
		RequestTimeout: 120 * time.Second,
		CacheEnabled:   true,
		CacheTTL:       5 * 24 * time.Hour,
	}
}

// Client issues one logical speak call per Speak invocation.
type Client struct {
	provider providers.Provider
	cache    cache.Cache
	tracker  *usage.Tracker
	opts     Options

	sleep func(ctx context.Context, d time.Duration) error
	now   func() time.Time
}

type Option func(*Client)

func WithCache(c cache.Cache) Option {
	return func(cl *Client) { cl.cache = c }
}

func WithTracker(t *usage.Tracker) Option {
	return func(cl *Client) { cl.tracker = t }
}

func WithOptions(opts Options) Option {
	return func(cl *Client) { cl.opts = opts }
}

// WithSleep overrides the backoff sleep, used to observe the schedule in
// tests.
func WithSleep(sleep func(ctx context.Context, d time.Duration) error) Option {
	return func(cl *Client) { cl.sleep = sleep }
}

// WithClock overrides the time source used for rate-limit reset math.
func WithClock(now func() time.Time) Option {
	return func(cl *Client) { cl.now = now }
}

func New(provider providers.Provider, opts ...Option) *Client {
	c := &Client{
		provider: provider,
		opts:     DefaultOptions(),
		sleep:    sleepContext,
		now:      time.Now,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(c)
		}
	}
	return c
}

func sleepContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// Speak produces one provider response for the conversation, or fails. On
// success the extracted assistant message has been appended to the
// conversation and usage accounting updated.
func (c *Client) Speak(ctx context.Context, conv *conversation.Conversation, opts *providers.SpeakOptions) (*api.Response, error) {
	req, err := c.provider.PrepareRequest(conv, opts)
	if err != nil {
		return nil, &ProviderError{
			Provider:       c.provider.Name(),
			Model:          conv.Model,
			ConversationID: conv.ID,
			Err:            err,
		}
	}

	fingerprint := ""
	if c.cacheable() {
		fingerprint, err = cache.Fingerprint(fingerprintKind, c.provider.Name(), req)
		if err != nil {
			log.Warn().Err(err).Msg("failed to fingerprint request, skipping cache")
			fingerprint = ""
		}
		if fingerprint != "" {
			if resp, ok := c.cache.Get(fingerprint); ok {
				log.Debug().
					Str("provider", c.provider.Name()).
					Str("fingerprint", fingerprint).
					Msg("request cache hit")
				conv.AppendMessages(BuildAssistantMessage(resp))
				return resp, nil
			}
		}
	}

	resp, err := c.send(ctx, conv, req)
	if err != nil {
		return nil, err
	}

	resp.StopReason = c.provider.InterpretStopReason(resp)

	if c.tracker != nil {
		c.tracker.SetLimits(c.provider.Name(), resp.RateLimit)
		c.tracker.Record(c.provider.Name(), resp.Usage)
	}
	conv.Usage.Add(conversation.TokenUsage{
		InputTokens:  resp.Usage.InputTokens,
		OutputTokens: resp.Usage.OutputTokens,
		TotalTokens:  resp.Usage.TotalTokens,
	})

	conv.AppendMessages(BuildAssistantMessage(resp))

	if c.cacheable() && fingerprint != "" {
		c.cache.Set(fingerprint, resp, c.opts.CacheTTL)
	}

	return resp, nil
}

func (c *Client) cacheable() bool {
	return c.opts.CacheEnabled && c.cache != nil
}

// send runs the bounded retry loop: 2xx wins, 429 waits for the provider
// reset, 5xx backs off with doubling delay, anything else fails immediately.
func (c *Client) send(ctx context.Context, conv *conversation.Conversation, req *api.Request) (*api.Response, error) {
	delay := c.opts.InitialBackoff
	lastStatus := 0

	for attempt := 1; attempt <= c.opts.MaxRetries; attempt++ {
		callCtx := ctx
		cancel := func() {}
		if c.opts.RequestTimeout > 0 {
			callCtx, cancel = context.WithTimeout(ctx, c.opts.RequestTimeout)
		}
		resp, err := c.provider.Send(callCtx, req)
		cancel()

		if err != nil {
			// Unexpected transport exception: fail immediately, wrapping the
			// cause.
			return nil, &ProviderError{
				Provider:       c.provider.Name(),
				Model:          conv.Model,
				ConversationID: conv.ID,
				Err:            err,
			}
		}

		conv.RequestCount++
		lastStatus = resp.Status

		switch {
		case resp.OK():
			return resp, nil

		case resp.Status == 429:
			wait := delay
			if reset := resp.RateLimit.RequestsReset; !reset.IsZero() {
				if until := reset.Sub(c.now()); until > wait {
					wait = until
				}
			}
			log.Warn().
				Str("provider", c.provider.Name()).
				Int("attempt", attempt).
				Dur("wait", wait).
				Msg("rate limited, waiting for reset")
			if err := c.sleep(ctx, wait); err != nil {
				return nil, err
			}
			// Rate-limit waits do not escalate the exponential delay.

		case resp.Status >= 500:
			log.Warn().
				Str("provider", c.provider.Name()).
				Int("status", resp.Status).
				Int("attempt", attempt).
				Dur("backoff", delay).
				Msg("server error, backing off")
			if err := c.sleep(ctx, delay); err != nil {
				return nil, err
			}
			delay *= 2

		default:
			return nil, &ProviderError{
				Provider:       c.provider.Name(),
				Model:          conv.Model,
				ConversationID: conv.ID,
				Status:         resp.Status,
				StatusText:     resp.StatusText,
			}
		}
	}

	return nil, &RetryExhaustedError{
		Provider:       c.provider.Name(),
		Model:          conv.Model,
		ConversationID: conv.ID,
		Attempts:       c.opts.MaxRetries,
		LastStatus:     lastStatus,
	}
}

// BuildAssistantMessage turns a provider response into the assistant message
// appended to the conversation. Free text preceding a tool-use block becomes
// that tool's thinking; trailing text after the last tool-use block is
// appended to the last tool's thinking.
func BuildAssistantMessage(resp *api.Response) *conversation.Message {
	var parts []conversation.MessageContent
	var lastUse *conversation.ToolUseContent
	pending := ""

	for _, block := range resp.Content {
		switch block.Type {
		case api.ContentTypeText:
			if block.Text != nil {
				pending += *block.Text
			}
		case api.ContentTypeToolUse:
			if block.ToolUse == nil {
				continue
			}
			use := &conversation.ToolUseContent{
				ToolID:   block.ToolUse.ID,
				Name:     block.ToolUse.Name,
				Input:    block.ToolUse.Input,
				Thinking: pending,
			}
			pending = ""
			lastUse = use
			parts = append(parts, use)
		}
	}

	if pending != "" {
		if lastUse != nil {
			lastUse.Thinking += pending
		} else {
			parts = append(parts, &conversation.TextContent{Text: pending})
		}
	}

	metadata := map[string]interface{}{
		"model":       resp.Model,
		"stop_reason": string(resp.StopReason),
		"usage":       resp.Usage,
	}
	if resp.FromCache {
		metadata["from_cache"] = true
	}

	return conversation.NewMessage(conversation.RoleAssistant, parts, conversation.WithMetadata(metadata))
}
