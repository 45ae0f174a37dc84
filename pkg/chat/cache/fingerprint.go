package cache

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"

	"github.com/pkg/errors"

	"github.com/go-go-golems/parley/pkg/chat/api"
)

// Fingerprint computes the deterministic cache key for a prepared request:
// (kind, provider, canonical serialization of the request). The payload is
// round-tripped through an untyped value so that map keys come out sorted and
// two semantically identical requests always hash to the same bytes.
func Fingerprint(kind string, providerName string, req *api.Request) (string, error) {
	raw, err := json.Marshal(req)
	if err != nil {
		return "", errors.Wrap(err, "failed to serialize request")
	}

	var untyped interface{}
	if err := json.Unmarshal(raw, &untyped); err != nil {
		return "", errors.Wrap(err, "failed to canonicalize request")
	}

	canonical, err := json.Marshal(map[string]interface{}{
		"kind":     kind,
		"provider": providerName,
		"request":  untyped,
	})
	if err != nil {
		return "", errors.Wrap(err, "failed to serialize canonical request")
	}

	hash := sha256.Sum256(canonical)
	return hex.EncodeToString(hash[:]), nil
}
