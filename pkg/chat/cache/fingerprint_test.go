package cache

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/go-go-golems/parley/pkg/chat/api"
)

func sampleRequest() *api.Request {
	return &api.Request{
		Provider:  "claude",
		Model:     "test-model",
		System:    "be helpful",
		MaxTokens: 1024,
		Messages: []api.Message{
			{Role: "user", Content: []api.Content{api.NewTextContent("hello")}},
		},
		Tools: []api.Tool{
			{Name: "request_files", InputSchema: json.RawMessage(`{"type":"object"}`)},
		},
	}
}

func TestFingerprintDeterministic(t *testing.T) {
	a, err := Fingerprint("speak", "claude", sampleRequest())
	require.NoError(t, err)
	b, err := Fingerprint("speak", "claude", sampleRequest())
	require.NoError(t, err)

	assert.Equal(t, a, b)
	assert.Len(t, a, 64)
}

func TestFingerprintSensitiveToRequest(t *testing.T) {
	base, err := Fingerprint("speak", "claude", sampleRequest())
	require.NoError(t, err)

	changed := sampleRequest()
	changed.Messages[0].Content = []api.Content{api.NewTextContent("hello!")}
	other, err := Fingerprint("speak", "claude", changed)
	require.NoError(t, err)

	assert.NotEqual(t, base, other)
}

func TestFingerprintSensitiveToKindAndProvider(t *testing.T) {
	req := sampleRequest()

	speak, err := Fingerprint("speak", "claude", req)
	require.NoError(t, err)
	embed, err := Fingerprint("embed", "claude", req)
	require.NoError(t, err)
	openai, err := Fingerprint("speak", "openai", req)
	require.NoError(t, err)

	assert.NotEqual(t, speak, embed)
	assert.NotEqual(t, speak, openai)
}
