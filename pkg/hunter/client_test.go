package hunter

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

func TestDomainSearch_Success(t *testing.T) {
	t.Parallel()

	want := DomainSearchResponse{
		Data: DomainSearchData{
			Domain:       "acme.com",
			Organization: "Acme Corp",
			Emails: []Email{
				{Value: "info@acme.com", Type: "generic", Confidence: 60},
				{Value: "jane@acme.com", Type: "personal", Confidence: 94, FirstName: "Jane", LastName: "Doe", Position: "CEO"},
			},
		},
	}

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodGet, r.Method)
		assert.Equal(t, "test-key", r.Header.Get("X-API-KEY"))
		assert.Equal(t, "/domain-search", r.URL.Path)
		assert.Equal(t, "acme.com", r.URL.Query().Get("domain"))

		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(want)
	}))
	defer srv.Close()

	client := NewClient("test-key", WithBaseURL(srv.URL))
	got, err := client.DomainSearch(context.Background(), "acme.com")

	require.NoError(t, err)
	assert.Equal(t, "acme.com", got.Data.Domain)
	require.Len(t, got.Data.Emails, 2)
	assert.Equal(t, "jane@acme.com", got.Best().Value)
}

func TestDomainSearch_EmptyDomain(t *testing.T) {
	t.Parallel()

	client := NewClient("test-key")
	_, err := client.DomainSearch(context.Background(), "")
	require.Error(t, err)
}

func TestDomainSearch_RateLimitIsTransient(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
		w.Write([]byte(`{"errors":[{"details":"rate limit exceeded"}]}`))
	}))
	defer srv.Close()

	client := NewClient("test-key", WithBaseURL(srv.URL))
	_, err := client.DomainSearch(context.Background(), "acme.com")

	require.Error(t, err)
	assert.Contains(t, err.Error(), "429")
	assert.True(t, resilience.IsTransient(err))
}

func TestDomainSearch_ClientErrorNotTransient(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
		w.Write([]byte(`{"errors":[{"details":"invalid key"}]}`))
	}))
	defer srv.Close()

	client := NewClient("bad-key", WithBaseURL(srv.URL))
	_, err := client.DomainSearch(context.Background(), "acme.com")

	require.Error(t, err)
	assert.Contains(t, err.Error(), "401")
	assert.False(t, resilience.IsTransient(err))
}

type stubClient struct {
	resp *DomainSearchResponse
	err  error
}

func (s *stubClient) DomainSearch(_ context.Context, _ string) (*DomainSearchResponse, error) {
	return s.resp, s.err
}

func TestSource_Enrich(t *testing.T) {
	t.Parallel()

	src := NewSource(&stubClient{resp: &DomainSearchResponse{
		Data: DomainSearchData{Emails: []Email{
			{Value: "jane@acme.com", Confidence: 94, FirstName: "Jane", LastName: "Doe"},
		}},
	}}, 0.01)

	b := model.Business{ID: "b1", Domain: "acme.com"}
	require.NoError(t, src.Enrich(context.Background(), &b))
	assert.Equal(t, "jane@acme.com", b.Email)
	assert.Equal(t, "Jane Doe", b.ContactName)
}

func TestSource_EnrichNoDomain(t *testing.T) {
	t.Parallel()

	src := NewSource(&stubClient{}, 0.01)
	b := model.Business{ID: "b1"}
	require.Error(t, src.Enrich(context.Background(), &b))
	assert.Zero(t, src.EstimateCost(b))
}

func TestSource_EnrichNoEmails(t *testing.T) {
	t.Parallel()

	src := NewSource(&stubClient{resp: &DomainSearchResponse{}}, 0.01)
	b := model.Business{ID: "b1", Domain: "acme.com"}
	require.Error(t, src.Enrich(context.Background(), &b))
}

func TestSource_EstimateCost(t *testing.T) {
	t.Parallel()

	src := NewSource(&stubClient{}, 0.01)
	assert.InDelta(t, 0.01, src.EstimateCost(model.Business{Domain: "acme.com"}), 0.0001)
	assert.Equal(t, "hunter", src.Name())
	assert.Equal(t, "email_lookup", src.Operation())
}
