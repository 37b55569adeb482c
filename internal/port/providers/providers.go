// Package providers defines the provider-selection port used during
// remediation.
package providers

import "context"

// Query asks for providers able to hold a replica in a region.
type Query struct {
	Region          string  `json:"region"`
	MinAvailability float64 `json:"min_availability"`
	MaxPrice        float64 `json:"max_price"`
	Limit           int     `json:"limit"`
}

// Candidate is one provider able to take the deal, with its current
// asking price.
type Candidate struct {
	ProviderID         string  `json:"provider_id"`
	Region             string  `json:"region"`
	PriceUSDPerTiB     float64 `json:"price_usd_per_tib_month"`
	Availability       float64 `json:"availability"`
	RetrievalLatencyMs float64 `json:"retrieval_latency_ms,omitempty"`
}

// Selector finds candidate providers for a replication deal, best
// (cheapest) first. An empty result is not an error.
type Selector interface {
	FindBestProviders(ctx context.Context, q Query) ([]Candidate, error)
}
