// Package usage tracks per-provider quota estimates across all conversations
// in the process. Counters are updated atomically per completed call; a lost
// update only skews the estimate, never conversation content.
package usage

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/go-go-golems/parley/pkg/chat/api"
)

// Quota is the locally-tracked remaining budget for one provider.
type Quota struct {
	RequestsRemaining int64
	TokensRemaining   int64
	RequestsReset     time.Time
	TokensReset       time.Time
}

type providerQuota struct {
	requestsRemaining atomic.Int64
	tokensRemaining   atomic.Int64

	mu            sync.Mutex
	requestsReset time.Time
	tokensReset   time.Time
}

// Tracker is shared process-wide state; construct it once at startup and pass
// it to the components that need it.
type Tracker struct {
	mu        sync.RWMutex
	providers map[string]*providerQuota
}

func NewTracker() *Tracker {
	return &Tracker{
		providers: map[string]*providerQuota{},
	}
}

func (t *Tracker) quotaFor(provider string) *providerQuota {
	t.mu.RLock()
	q, ok := t.providers[provider]
	t.mu.RUnlock()
	if ok {
		return q
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	if q, ok := t.providers[provider]; ok {
		return q
	}
	q = &providerQuota{}
	t.providers[provider] = q
	return q
}

// SetLimits seeds the tracked quota from a rate-limit snapshot attached to a
// provider response.
func (t *Tracker) SetLimits(provider string, limit api.RateLimit) {
	q := t.quotaFor(provider)
	q.requestsRemaining.Store(int64(limit.RequestsRemaining))
	q.tokensRemaining.Store(int64(limit.TokensRemaining))

	q.mu.Lock()
	q.requestsReset = limit.RequestsReset
	q.tokensReset = limit.TokensReset
	q.mu.Unlock()
}

// Record decrements the tracked quota by the usage one completed call
// reported.
func (t *Tracker) Record(provider string, used api.Usage) {
	q := t.quotaFor(provider)
	q.requestsRemaining.Add(-1)
	q.tokensRemaining.Add(-int64(used.TotalTokens))
}

// Snapshot returns the current quota estimate for a provider.
func (t *Tracker) Snapshot(provider string) Quota {
	q := t.quotaFor(provider)

	q.mu.Lock()
	requestsReset := q.requestsReset
	tokensReset := q.tokensReset
	q.mu.Unlock()

	return Quota{
		RequestsRemaining: q.requestsRemaining.Load(),
		TokensRemaining:   q.tokensRemaining.Load(),
		RequestsReset:     requestsReset,
		TokensReset:       tokensReset,
	}
}
