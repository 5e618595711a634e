package upstream

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// ErrUpstream marks failures of the proxy itself (unreachable, non-2xx,
// undecodable body). Callers distinguish these from local storage errors so
// operators can tell "the proxy is down" from "our database is down".
var ErrUpstream = errors.New("upstream error")

// Client fetches usage telemetry from a CLIProxyAPI-compatible management
// endpoint.
type Client struct {
	baseURL    string
	authToken  string
	httpClient *http.Client
}

// NewClient builds a client for the given base URL. The timeout is a hard
// cap per request; callers pass shorter deadlines through ctx for
// interactive triggers.
func NewClient(baseURL, authToken string, timeout time.Duration) *Client {
	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		authToken:  authToken,
		httpClient: &http.Client{Timeout: timeout},
	}
}

// FetchUsage pulls every usage record reported at or after since.
func (c *Client) FetchUsage(ctx context.Context, since time.Time) ([]UsageRecord, error) {
	query := url.Values{"since": {since.UTC().Format(time.RFC3339)}}
	endpoint := fmt.Sprintf("%s/v0/management/usage/records?%s", c.baseURL, query.Encode())

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("build usage request: %w", err)
	}
	if c.authToken != "" {
		req.Header.Set("Authorization", "Bearer "+c.authToken)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUpstream, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, fmt.Errorf("%w: status %d: %s", ErrUpstream, resp.StatusCode, strings.TrimSpace(string(body)))
	}

	var envelope struct {
		Records []json.RawMessage `json:"records"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&envelope); err != nil {
		return nil, fmt.Errorf("%w: decode response: %v", ErrUpstream, err)
	}

	records := make([]UsageRecord, 0, len(envelope.Records))
	for _, raw := range envelope.Records {
		var rec UsageRecord
		if err := json.Unmarshal(raw, &rec); err != nil {
			return nil, fmt.Errorf("%w: decode record: %v", ErrUpstream, err)
		}
		rec.Raw = raw
		records = append(records, rec)
	}
	return records, nil
}
