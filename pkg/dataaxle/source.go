package dataaxle

import (
	"context"

	"github.com/rotisserie/eris"

	"github.com/leadfactory/leadfactory/internal/gateway"
	"github.com/leadfactory/leadfactory/internal/model"
)

// Source adapts the Data Axle client to the gateway enrichment interface.
// Each match carries a flat per-call price.
type Source struct {
	client     Client
	costPerUSD float64
}

// NewSource wraps a Data Axle client as an enrichment source.
func NewSource(client Client, costPerMatchUSD float64) *Source {
	return &Source{client: client, costPerUSD: costPerMatchUSD}
}

func (s *Source) Name() string { return "dataaxle" }

func (s *Source) Operation() string { return "business_match" }

// EstimateCost returns the flat per-match price.
func (s *Source) EstimateCost(model.Business) float64 {
	return s.costPerUSD
}

// Enrich fills the business domain from the best Data Axle match. The
// domain is what downstream email lookup keys on, so a business that
// already has one is left alone.
func (s *Source) Enrich(ctx context.Context, b *model.Business) error {
	match, err := s.client.Match(ctx, MatchRequest{Name: b.Name, Region: b.GeoBucket})
	if err != nil {
		return err
	}
	if match == nil {
		return eris.Errorf("dataaxle: no match for %q", b.Name)
	}

	if b.Domain == "" {
		b.Domain = match.Domain
	}
	return nil
}

var _ gateway.Source = (*Source)(nil)
