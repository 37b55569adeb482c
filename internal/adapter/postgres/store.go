package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/filops/filops/internal/domain"
	"github.com/filops/filops/internal/domain/agent"
	"github.com/filops/filops/internal/domain/policy"
)

// Store implements database.Store using PostgreSQL.
type Store struct {
	pool *pgxpool.Pool
}

// NewStore creates a new Store backed by the given connection pool.
func NewStore(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

// scannable abstracts pgx.Row and pgx.Rows for shared scan helpers.
type scannable interface {
	Scan(dest ...any) error
}

// --- Policies ---

const policyColumns = `id, project_id, name, version, doc, active, created_at, updated_at`

func (s *Store) CreatePolicy(ctx context.Context, p *policy.Policy) error {
	docJSON, err := json.Marshal(p.Doc)
	if err != nil {
		return fmt.Errorf("marshal policy doc: %w", err)
	}

	row := s.pool.QueryRow(ctx,
		`INSERT INTO policies (project_id, name, doc, active)
		 VALUES ($1, $2, $3, $4)
		 RETURNING `+policyColumns,
		p.ProjectID, p.Name, docJSON, p.Active)

	created, err := scanPolicy(row)
	if err != nil {
		return fmt.Errorf("create policy: %w", err)
	}
	*p = created
	return nil
}

func (s *Store) GetPolicy(ctx context.Context, id string) (*policy.Policy, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+policyColumns+` FROM policies WHERE id = $1`, id)

	p, err := scanPolicy(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("get policy %s: %w", id, domain.ErrNotFound)
		}
		return nil, fmt.Errorf("get policy %s: %w", id, err)
	}
	return &p, nil
}

func (s *Store) ListPolicies(ctx context.Context, projectID string, activeOnly bool) ([]*policy.Policy, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+policyColumns+` FROM policies
		 WHERE project_id = $1 AND (NOT $2 OR active)
		 ORDER BY created_at DESC`, projectID, activeOnly)
	if err != nil {
		return nil, fmt.Errorf("list policies: %w", err)
	}
	defer rows.Close()

	var policies []*policy.Policy
	for rows.Next() {
		p, err := scanPolicy(rows)
		if err != nil {
			return nil, err
		}
		policies = append(policies, &p)
	}
	return policies, rows.Err()
}

func (s *Store) UpdatePolicy(ctx context.Context, p *policy.Policy) error {
	docJSON, err := json.Marshal(p.Doc)
	if err != nil {
		return fmt.Errorf("marshal policy doc: %w", err)
	}

	tag, err := s.pool.Exec(ctx,
		`UPDATE policies
		 SET name = $2, doc = $3, active = $4, version = version + 1, updated_at = now()
		 WHERE id = $1 AND version = $5`,
		p.ID, p.Name, docJSON, p.Active, p.Version)
	if err != nil {
		return fmt.Errorf("update policy %s: %w", p.ID, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("update policy %s: %w", p.ID, domain.ErrConflict)
	}
	p.Version++
	return nil
}

func (s *Store) SetPolicyActive(ctx context.Context, id string, active bool) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE policies SET active = $2, updated_at = now() WHERE id = $1`, id, active)
	if err != nil {
		return fmt.Errorf("set policy active %s: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("set policy active %s: %w", id, domain.ErrNotFound)
	}
	return nil
}

func (s *Store) DeletePolicy(ctx context.Context, id string) error {
	tag, err := s.pool.Exec(ctx, `DELETE FROM policies WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("delete policy %s: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("delete policy %s: %w", id, domain.ErrNotFound)
	}
	return nil
}

func (s *Store) CountAgentsByPolicy(ctx context.Context, policyID string, statuses []agent.Status) (int, error) {
	set := make([]string, len(statuses))
	for i, st := range statuses {
		set[i] = string(st)
	}

	var count int
	err := s.pool.QueryRow(ctx,
		`SELECT count(*) FROM agents WHERE policy_id = $1 AND status = ANY($2)`,
		policyID, set).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("count agents by policy %s: %w", policyID, err)
	}
	return count, nil
}

func scanPolicy(row scannable) (policy.Policy, error) {
	var p policy.Policy
	var docJSON []byte
	err := row.Scan(&p.ID, &p.ProjectID, &p.Name, &p.Version, &docJSON, &p.Active, &p.CreatedAt, &p.UpdatedAt)
	if err != nil {
		return p, err
	}
	if err := json.Unmarshal(docJSON, &p.Doc); err != nil {
		return p, fmt.Errorf("unmarshal policy doc: %w", err)
	}
	return p, nil
}
