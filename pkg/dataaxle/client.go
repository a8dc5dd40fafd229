// Package dataaxle provides a client for the Data Axle business match API.
package dataaxle

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"time"

	"github.com/rotisserie/eris"

	"github.com/leadfactory/leadfactory/internal/resilience"
)

// Client defines the Data Axle operations used for enrichment.
type Client interface {
	// Match finds the best firmographic record for a business by name and
	// location. A nil result with no error means no match was found.
	Match(ctx context.Context, req MatchRequest) (*MatchResult, error)
}

// MatchRequest identifies the business to match.
type MatchRequest struct {
	Name   string `json:"name"`
	Region string `json:"region,omitempty"`
}

// MatchResult is a single matched business record.
type MatchResult struct {
	Name      string  `json:"name"`
	Domain    string  `json:"domain"`
	Phone     string  `json:"phone"`
	Employees int     `json:"employees"`
	SICCode   string  `json:"sic_code"`
	Score     float64 `json:"score"`
}

type matchResponse struct {
	Matches []MatchResult `json:"matches"`
}

// Option configures the Data Axle client.
type Option func(*httpClient)

// WithBaseURL sets a custom base URL (for testing).
func WithBaseURL(url string) Option {
	return func(c *httpClient) {
		c.baseURL = url
	}
}

// WithHTTPClient sets a custom HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *httpClient) {
		c.http = hc
	}
}

type httpClient struct {
	apiKey  string
	baseURL string
	http    *http.Client
}

// NewClient creates a new Data Axle client.
func NewClient(apiKey string, opts ...Option) Client {
	c := &httpClient{
		apiKey:  apiKey,
		baseURL: "https://api.data-axle.com/v1",
		http: &http.Client{
			Timeout: 30 * time.Second,
			Transport: &http.Transport{
				MaxIdleConnsPerHost: 20,
				IdleConnTimeout:     90 * time.Second,
			},
		},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func (c *httpClient) Match(ctx context.Context, matchReq MatchRequest) (*MatchResult, error) {
	if matchReq.Name == "" {
		return nil, eris.New("dataaxle: business name is required")
	}

	payload, err := json.Marshal(matchReq)
	if err != nil {
		return nil, eris.Wrap(err, "dataaxle: marshal request")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/businesses/match", bytes.NewReader(payload))
	if err != nil {
		return nil, eris.Wrap(err, "dataaxle: create request")
	}
	req.Header.Set("X-AUTH-TOKEN", c.apiKey)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, resilience.NewTransientError(eris.Wrap(err, "dataaxle: match"), 0)
	}
	defer resp.Body.Close() //nolint:errcheck

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, eris.Wrap(err, "dataaxle: read response body")
	}

	if resilience.IsTransientHTTPStatus(resp.StatusCode) {
		return nil, resilience.NewTransientError(
			eris.Errorf("dataaxle: status %d: %s", resp.StatusCode, string(body)),
			resp.StatusCode,
		)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, eris.Errorf("dataaxle: unexpected status %d: %s", resp.StatusCode, string(body))
	}

	var result matchResponse
	if err := json.Unmarshal(body, &result); err != nil {
		return nil, eris.Wrap(err, "dataaxle: unmarshal response")
	}

	// Matches come back highest score first.
	if len(result.Matches) == 0 {
		return nil, nil
	}
	return &result.Matches[0], nil
}
