package hunter

import (
	"context"
	"strings"

	"github.com/rotisserie/eris"

	"github.com/leadfactory/leadfactory/internal/gateway"
	"github.com/leadfactory/leadfactory/internal/model"
)

// Source adapts the Hunter client to the gateway enrichment interface.
// Each lookup carries a flat per-call price.
type Source struct {
	client     Client
	costPerUSD float64
}

// NewSource wraps a Hunter client as an enrichment source.
func NewSource(client Client, costPerLookupUSD float64) *Source {
	return &Source{client: client, costPerUSD: costPerLookupUSD}
}

func (s *Source) Name() string { return "hunter" }

func (s *Source) Operation() string { return "email_lookup" }

// EstimateCost returns the flat per-lookup price. Businesses without a
// domain cost nothing because the lookup is skipped.
func (s *Source) EstimateCost(b model.Business) float64 {
	if b.Domain == "" {
		return 0
	}
	return s.costPerUSD
}

// Enrich fills the business contact fields from the best-confidence email
// Hunter has for its domain.
func (s *Source) Enrich(ctx context.Context, b *model.Business) error {
	if b.Domain == "" {
		return eris.Errorf("hunter: business %s has no domain", b.ID)
	}

	resp, err := s.client.DomainSearch(ctx, b.Domain)
	if err != nil {
		return err
	}

	best := resp.Best()
	if best == nil {
		return eris.Errorf("hunter: no emails found for %s", b.Domain)
	}

	b.Email = best.Value
	if name := strings.TrimSpace(best.FirstName + " " + best.LastName); name != "" {
		b.ContactName = name
	}
	return nil
}

var _ gateway.Source = (*Source)(nil)
