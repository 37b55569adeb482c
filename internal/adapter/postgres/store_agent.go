package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/filops/filops/internal/domain"
	"github.com/filops/filops/internal/domain/agent"
)

const agentColumns = `id, kind, project_id, policy_id, status, config, last_heartbeat, error_count, error_message, created_at, updated_at`

func (s *Store) CreateAgent(ctx context.Context, a *agent.Agent) error {
	configJSON, err := json.Marshal(a.Config)
	if err != nil {
		return fmt.Errorf("marshal agent config: %w", err)
	}

	row := s.pool.QueryRow(ctx,
		`INSERT INTO agents (kind, project_id, policy_id, config)
		 VALUES ($1, $2, $3, $4)
		 RETURNING `+agentColumns,
		a.Kind, a.ProjectID, a.PolicyID, configJSON)

	created, err := scanAgent(row)
	if err != nil {
		return fmt.Errorf("create agent: %w", err)
	}
	*a = created
	return nil
}

func (s *Store) GetAgent(ctx context.Context, id string) (*agent.Agent, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+agentColumns+` FROM agents WHERE id = $1`, id)

	a, err := scanAgent(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("get agent %s: %w", id, domain.ErrNotFound)
		}
		return nil, fmt.Errorf("get agent %s: %w", id, err)
	}
	return &a, nil
}

func (s *Store) ListAgents(ctx context.Context, filter agent.ListFilter) ([]*agent.Agent, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+agentColumns+` FROM agents
		 WHERE ($1 = '' OR project_id = $1)
		   AND ($2 = '' OR policy_id::text = $2)
		   AND ($3 = '' OR kind = $3)
		   AND ($4 = '' OR status = $4)
		 ORDER BY created_at DESC`,
		filter.ProjectID, filter.PolicyID, string(filter.Kind), string(filter.Status))
	if err != nil {
		return nil, fmt.Errorf("list agents: %w", err)
	}
	defer rows.Close()

	var agents []*agent.Agent
	for rows.Next() {
		a, err := scanAgent(rows)
		if err != nil {
			return nil, err
		}
		agents = append(agents, &a)
	}
	return agents, rows.Err()
}

func (s *Store) UpdateAgentStatus(ctx context.Context, id string, status agent.Status) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE agents SET status = $2, updated_at = now() WHERE id = $1`, id, string(status))
	if err != nil {
		return fmt.Errorf("update agent status %s: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("update agent status %s: %w", id, domain.ErrNotFound)
	}
	return nil
}

func (s *Store) UpdateAgentHeartbeat(ctx context.Context, id string, at time.Time, status agent.Status) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE agents SET last_heartbeat = $2, status = $3, updated_at = now() WHERE id = $1`,
		id, at, string(status))
	if err != nil {
		return fmt.Errorf("update agent heartbeat %s: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("update agent heartbeat %s: %w", id, domain.ErrNotFound)
	}
	return nil
}

func (s *Store) RecordAgentError(ctx context.Context, id string, message string) (int, error) {
	var count int
	err := s.pool.QueryRow(ctx,
		`UPDATE agents
		 SET error_count = error_count + 1, error_message = $2, status = $3, updated_at = now()
		 WHERE id = $1
		 RETURNING error_count`,
		id, message, string(agent.StatusError)).Scan(&count)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return 0, fmt.Errorf("record agent error %s: %w", id, domain.ErrNotFound)
		}
		return 0, fmt.Errorf("record agent error %s: %w", id, err)
	}
	return count, nil
}

func (s *Store) ResetAgentErrors(ctx context.Context, id string) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE agents SET error_count = 0, error_message = '', updated_at = now() WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("reset agent errors %s: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("reset agent errors %s: %w", id, domain.ErrNotFound)
	}
	return nil
}

func scanAgent(row scannable) (agent.Agent, error) {
	var a agent.Agent
	var configJSON []byte
	err := row.Scan(&a.ID, &a.Kind, &a.ProjectID, &a.PolicyID, &a.Status, &configJSON,
		&a.LastHeartbeat, &a.ErrorCount, &a.ErrorMessage, &a.CreatedAt, &a.UpdatedAt)
	if err != nil {
		return a, err
	}
	if err := json.Unmarshal(configJSON, &a.Config); err != nil {
		return a, fmt.Errorf("unmarshal agent config: %w", err)
	}
	return a, nil
}
