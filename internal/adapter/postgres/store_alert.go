package postgres

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/filops/filops/internal/domain/alert"
)

const alertColumns = `id, project_id, severity, summary, details, status, source, created_at`

func (s *Store) CreateAlert(ctx context.Context, a *alert.Alert) error {
	detailsJSON, err := json.Marshal(a.Details)
	if err != nil {
		return fmt.Errorf("marshal alert details: %w", err)
	}

	row := s.pool.QueryRow(ctx,
		`INSERT INTO alerts (project_id, severity, summary, details, source)
		 VALUES ($1, $2, $3, $4, $5)
		 RETURNING `+alertColumns,
		a.ProjectID, a.Severity, a.Summary, detailsJSON, a.Source)

	created, err := scanAlert(row)
	if err != nil {
		return fmt.Errorf("create alert: %w", err)
	}
	*a = created
	return nil
}

func (s *Store) ListAlerts(ctx context.Context, filter alert.ListFilter) ([]*alert.Alert, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+alertColumns+` FROM alerts
		 WHERE ($1 = '' OR project_id = $1)
		   AND ($2 = '' OR severity = $2)
		   AND ($3 = '' OR status = $3)
		 ORDER BY created_at DESC`,
		filter.ProjectID, string(filter.Severity), string(filter.Status))
	if err != nil {
		return nil, fmt.Errorf("list alerts: %w", err)
	}
	defer rows.Close()

	var alerts []*alert.Alert
	for rows.Next() {
		a, err := scanAlert(rows)
		if err != nil {
			return nil, err
		}
		alerts = append(alerts, &a)
	}
	return alerts, rows.Err()
}

func scanAlert(row scannable) (alert.Alert, error) {
	var a alert.Alert
	var detailsJSON []byte
	err := row.Scan(&a.ID, &a.ProjectID, &a.Severity, &a.Summary, &detailsJSON, &a.Status, &a.Source, &a.CreatedAt)
	if err != nil {
		return a, err
	}
	if detailsJSON != nil {
		if err := json.Unmarshal(detailsJSON, &a.Details); err != nil {
			return a, fmt.Errorf("unmarshal alert details: %w", err)
		}
	}
	return a, nil
}
