package dataaxle

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/leadfactory/leadfactory/internal/model"
	"github.com/leadfactory/leadfactory/internal/resilience"
)

func TestMatch_Success(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "test-key", r.Header.Get("X-AUTH-TOKEN"))
		assert.Equal(t, "/businesses/match", r.URL.Path)

		var req MatchRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "Acme Dental", req.Name)
		assert.Equal(t, "west", req.Region)

		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(matchResponse{Matches: []MatchResult{
			{Name: "Acme Dental LLC", Domain: "acmedental.com", Employees: 12, Score: 0.97},
			{Name: "Acme Dental Supply", Domain: "acmedentalsupply.com", Score: 0.41},
		}})
	}))
	defer srv.Close()

	client := NewClient("test-key", WithBaseURL(srv.URL))
	got, err := client.Match(context.Background(), MatchRequest{Name: "Acme Dental", Region: "west"})

	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, "acmedental.com", got.Domain)
	assert.Equal(t, 12, got.Employees)
}

func TestMatch_NoMatches(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(matchResponse{})
	}))
	defer srv.Close()

	client := NewClient("test-key", WithBaseURL(srv.URL))
	got, err := client.Match(context.Background(), MatchRequest{Name: "Nonexistent"})

	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestMatch_EmptyName(t *testing.T) {
	t.Parallel()

	client := NewClient("test-key")
	_, err := client.Match(context.Background(), MatchRequest{})
	require.Error(t, err)
}

func TestMatch_ServerErrorIsTransient(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	client := NewClient("test-key", WithBaseURL(srv.URL))
	_, err := client.Match(context.Background(), MatchRequest{Name: "Acme"})

	require.Error(t, err)
	assert.True(t, resilience.IsTransient(err))
}

type stubClient struct {
	result *MatchResult
	err    error
}

func (s *stubClient) Match(_ context.Context, _ MatchRequest) (*MatchResult, error) {
	return s.result, s.err
}

func TestSource_EnrichFillsDomain(t *testing.T) {
	t.Parallel()

	src := NewSource(&stubClient{result: &MatchResult{Domain: "acmedental.com"}}, 0.05)
	b := model.Business{ID: "b1", Name: "Acme Dental", GeoBucket: "west"}

	require.NoError(t, src.Enrich(context.Background(), &b))
	assert.Equal(t, "acmedental.com", b.Domain)
}

func TestSource_EnrichKeepsExistingDomain(t *testing.T) {
	t.Parallel()

	src := NewSource(&stubClient{result: &MatchResult{Domain: "other.com"}}, 0.05)
	b := model.Business{ID: "b1", Name: "Acme Dental", Domain: "acmedental.com"}

	require.NoError(t, src.Enrich(context.Background(), &b))
	assert.Equal(t, "acmedental.com", b.Domain)
}

func TestSource_EnrichNoMatch(t *testing.T) {
	t.Parallel()

	src := NewSource(&stubClient{}, 0.05)
	b := model.Business{ID: "b1", Name: "Acme Dental"}

	require.Error(t, src.Enrich(context.Background(), &b))
}

func TestSource_EstimateCost(t *testing.T) {
	t.Parallel()

	src := NewSource(&stubClient{}, 0.05)
	assert.InDelta(t, 0.05, src.EstimateCost(model.Business{}), 0.0001)
	assert.Equal(t, "dataaxle", src.Name())
	assert.Equal(t, "business_match", src.Operation())
}
