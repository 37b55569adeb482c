// Package dealmaker defines the deal-execution port. Executing an
// action creates a real on-chain storage deal, so callers must never
// retry a failed call without operator input.
package dealmaker

import "context"

// Params describes the deal to create.
type Params struct {
	DataCID       string  `json:"data_cid"`
	ProviderID    string  `json:"provider_id"`
	DurationDays  int     `json:"duration_days"`
	PriceFIL      float64 `json:"price_fil"`
	CollateralFIL float64 `json:"collateral_fil"`
	Verified      bool    `json:"verified"`
}

// Result identifies the created deal.
type Result struct {
	DealID string `json:"deal_id"`
	TxHash string `json:"tx_hash"`
}

// Executor submits storage deals.
type Executor interface {
	CreateDeal(ctx context.Context, p Params) (*Result, error)
}
