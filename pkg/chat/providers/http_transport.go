package providers

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/pkg/errors"

	"github.com/go-go-golems/parley/pkg/chat/api"
)

// HTTPTransport talks to a model gateway speaking the abstract request and
// response shapes over JSON. Rate-limit headers are folded into the response
// snapshot for the backoff calculation.
type HTTPTransport struct {
	httpClient *http.Client
	baseURL    string
	apiKey     string
}

var _ api.Transport = (*HTTPTransport)(nil)

func NewHTTPTransport(baseURL string, apiKey string) *HTTPTransport {
	return &HTTPTransport{
		httpClient: &http.Client{},
		baseURL:    baseURL,
		apiKey:     apiKey,
	}
}

func (t *HTTPTransport) setHeaders(req *http.Request) {
	req.Header.Set("Authorization", "Bearer "+t.apiKey)
	req.Header.Set("Content-Type", "application/json")
}

func (t *HTTPTransport) Send(ctx context.Context, req *api.Request) (*api.Response, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return nil, errors.Wrap(err, "failed to serialize request")
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, t.baseURL+"/v1/messages", bytes.NewBuffer(body))
	if err != nil {
		return nil, err
	}
	t.setHeaders(httpReq)

	httpResp, err := t.httpClient.Do(httpReq)
	if err != nil {
		return nil, err
	}
	defer func(Body io.ReadCloser) {
		_ = Body.Close()
	}(httpResp.Body)

	respBody, err := io.ReadAll(httpResp.Body)
	if err != nil {
		return nil, errors.Wrap(err, "failed to read response body")
	}

	resp := &api.Response{
		Status:     httpResp.StatusCode,
		StatusText: http.StatusText(httpResp.StatusCode),
		RateLimit:  rateLimitFromHeaders(httpResp.Header),
	}

	if len(respBody) > 0 {
		if err := json.Unmarshal(respBody, resp); err != nil && httpResp.StatusCode < 300 {
			return nil, errors.Wrap(err, "failed to decode response body")
		}
	}

	// Header-derived fields win over whatever the body claims.
	resp.Status = httpResp.StatusCode
	resp.StatusText = http.StatusText(httpResp.StatusCode)

	return resp, nil
}

func rateLimitFromHeaders(header http.Header) api.RateLimit {
	limit := api.RateLimit{}

	if v := header.Get("x-ratelimit-remaining-requests"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			limit.RequestsRemaining = n
		}
	}
	if v := header.Get("x-ratelimit-remaining-tokens"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			limit.TokensRemaining = n
		}
	}
	if v := header.Get("x-ratelimit-reset-requests"); v != "" {
		if ts, err := time.Parse(time.RFC3339, v); err == nil {
			limit.RequestsReset = ts
		}
	}
	if v := header.Get("x-ratelimit-reset-tokens"); v != "" {
		if ts, err := time.Parse(time.RFC3339, v); err == nil {
			limit.TokensReset = ts
		}
	}

	return limit
}
