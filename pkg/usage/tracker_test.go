package usage

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/go-go-golems/parley/pkg/chat/api"
)

func TestTrackerRecordDecrements(t *testing.T) {
	tracker := NewTracker()
	reset := time.Now().Add(time.Minute)

	tracker.SetLimits("claude", api.RateLimit{
		RequestsRemaining: 100,
		TokensRemaining:   5000,
		RequestsReset:     reset,
	})

	tracker.Record("claude", api.Usage{TotalTokens: 150})
	tracker.Record("claude", api.Usage{TotalTokens: 50})

	quota := tracker.Snapshot("claude")
	assert.Equal(t, int64(98), quota.RequestsRemaining)
	assert.Equal(t, int64(4800), quota.TokensRemaining)
	assert.Equal(t, reset, quota.RequestsReset)
}

func TestTrackerProvidersAreIndependent(t *testing.T) {
	tracker := NewTracker()

	tracker.SetLimits("claude", api.RateLimit{RequestsRemaining: 10})
	tracker.SetLimits("openai", api.RateLimit{RequestsRemaining: 20})
	tracker.Record("claude", api.Usage{TotalTokens: 1})

	assert.Equal(t, int64(9), tracker.Snapshot("claude").RequestsRemaining)
	assert.Equal(t, int64(20), tracker.Snapshot("openai").RequestsRemaining)
}

func TestTrackerUnknownProviderSnapshot(t *testing.T) {
	tracker := NewTracker()
	quota := tracker.Snapshot("unseen")
	assert.Equal(t, int64(0), quota.RequestsRemaining)
	assert.True(t, quota.RequestsReset.IsZero())
}
