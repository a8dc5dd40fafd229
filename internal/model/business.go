package model

import (
	"fmt"
	"time"
)

// Business is a lead candidate sourced into the platform.
type Business struct {
	ID             string     `json:"id"`
	Name           string     `json:"name"`
	Domain         string     `json:"domain,omitempty"`
	Email          string     `json:"email,omitempty"`
	ContactName    string     `json:"contact_name,omitempty"`
	GeoBucket      string     `json:"geo_bucket"`
	VertBucket     string     `json:"vert_bucket"`
	CampaignID     string     `json:"campaign_id,omitempty"`
	LastEnrichedAt *time.Time `json:"last_enriched_at,omitempty"`
}

// Segment is a distinct (geo, vertical) grouping of businesses with a
// count of businesses still pending enrichment.
type Segment struct {
	GeoBucket  string `json:"geo_bucket"`
	VertBucket string `json:"vert_bucket"`
	Pending    int    `json:"pending"`
}

// Key returns the canonical "geo/vert" segment key.
func (s Segment) Key() string {
	return fmt.Sprintf("%s/%s", s.GeoBucket, s.VertBucket)
}
