// Package dataset defines stored datasets and the replication deals
// that hold their replicas.
package dataset

import "time"

// Dataset is one piece of content a project replicates.
type Dataset struct {
	ID        string    `json:"id"`
	ProjectID string    `json:"project_id"`
	Name      string    `json:"name"`
	CID       string    `json:"cid"`
	SizeBytes int64     `json:"size_bytes"`
	CreatedAt time.Time `json:"created_at"`
}

// DealStatus tracks a replication deal on chain.
type DealStatus string

const (
	DealActive     DealStatus = "active"
	DealExpired    DealStatus = "expired"
	DealTerminated DealStatus = "terminated"
)

// Deal is one replica of a dataset held by a provider in a region.
type Deal struct {
	ID            string     `json:"id"`
	DatasetID     string     `json:"dataset_id"`
	ProviderID    string     `json:"provider_id"`
	Region        string     `json:"region"`
	ChainDealID   string     `json:"chain_deal_id,omitempty"`
	Status        DealStatus `json:"status"`
	PriceFIL      float64    `json:"price_fil"`
	CollateralFIL float64    `json:"collateral_fil"`
	StartAt       time.Time  `json:"start_at"`
	ExpiryAt      time.Time  `json:"expiry_at"`
}
