package postgres

import (
	"context"
	"fmt"

	"github.com/filops/filops/internal/domain/dataset"
)

func (s *Store) ListDatasets(ctx context.Context, projectID string) ([]*dataset.Dataset, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, project_id, name, cid, size_bytes, created_at
		 FROM datasets WHERE project_id = $1 ORDER BY created_at`, projectID)
	if err != nil {
		return nil, fmt.Errorf("list datasets: %w", err)
	}
	defer rows.Close()

	var datasets []*dataset.Dataset
	for rows.Next() {
		var d dataset.Dataset
		if err := rows.Scan(&d.ID, &d.ProjectID, &d.Name, &d.CID, &d.SizeBytes, &d.CreatedAt); err != nil {
			return nil, err
		}
		datasets = append(datasets, &d)
	}
	return datasets, rows.Err()
}

func (s *Store) ListActiveDeals(ctx context.Context, datasetID string) ([]*dataset.Deal, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, dataset_id, provider_id, region, chain_deal_id, status, price_fil, collateral_fil, start_at, expiry_at
		 FROM deals
		 WHERE dataset_id = $1 AND status = $2 AND expiry_at > now()
		 ORDER BY start_at`,
		datasetID, string(dataset.DealActive))
	if err != nil {
		return nil, fmt.Errorf("list active deals: %w", err)
	}
	defer rows.Close()

	var deals []*dataset.Deal
	for rows.Next() {
		var d dataset.Deal
		if err := rows.Scan(&d.ID, &d.DatasetID, &d.ProviderID, &d.Region, &d.ChainDealID,
			&d.Status, &d.PriceFIL, &d.CollateralFIL, &d.StartAt, &d.ExpiryAt); err != nil {
			return nil, err
		}
		deals = append(deals, &d)
	}
	return deals, rows.Err()
}

func (s *Store) CreateDeal(ctx context.Context, d *dataset.Deal) error {
	row := s.pool.QueryRow(ctx,
		`INSERT INTO deals (dataset_id, provider_id, region, chain_deal_id, status, price_fil, collateral_fil, start_at, expiry_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		 RETURNING id`,
		d.DatasetID, d.ProviderID, d.Region, d.ChainDealID, d.Status, d.PriceFIL, d.CollateralFIL, d.StartAt, d.ExpiryAt)
	if err := row.Scan(&d.ID); err != nil {
		return fmt.Errorf("create deal: %w", err)
	}
	return nil
}
