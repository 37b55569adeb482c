package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/filops/filops/internal/domain"
	"github.com/filops/filops/internal/domain/action"
)

const actionColumns = `id, agent_id, dataset_id, kind, status, metadata, result, error, created_at, executed_at`

func (s *Store) CreateAction(ctx context.Context, a *action.Action) error {
	metaJSON, err := json.Marshal(a.Metadata)
	if err != nil {
		return fmt.Errorf("marshal action metadata: %w", err)
	}

	row := s.pool.QueryRow(ctx,
		`INSERT INTO actions (agent_id, dataset_id, kind, metadata)
		 VALUES ($1, $2, $3, $4)
		 RETURNING `+actionColumns,
		a.AgentID, a.DatasetID, a.Kind, metaJSON)

	created, err := scanAction(row)
	if err != nil {
		return fmt.Errorf("create action: %w", err)
	}
	*a = created
	return nil
}

func (s *Store) GetAction(ctx context.Context, id string) (*action.Action, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+actionColumns+` FROM actions WHERE id = $1`, id)

	a, err := scanAction(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("get action %s: %w", id, domain.ErrNotFound)
		}
		return nil, fmt.Errorf("get action %s: %w", id, err)
	}
	return &a, nil
}

func (s *Store) ListActionsByAgent(ctx context.Context, agentID string) ([]*action.Action, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+actionColumns+` FROM actions WHERE agent_id = $1 ORDER BY created_at DESC`, agentID)
	if err != nil {
		return nil, fmt.Errorf("list actions: %w", err)
	}
	defer rows.Close()

	var actions []*action.Action
	for rows.Next() {
		a, err := scanAction(rows)
		if err != nil {
			return nil, err
		}
		actions = append(actions, &a)
	}
	return actions, rows.Err()
}

// TransitionAction is the at-most-once gate: the UPDATE only matches
// when the current status is in from, so of N concurrent callers
// exactly one wins and the rest get ErrInvalidState.
func (s *Store) TransitionAction(ctx context.Context, id string, from []action.Status, to action.Status) error {
	set := make([]string, len(from))
	for i, st := range from {
		set[i] = string(st)
	}

	tag, err := s.pool.Exec(ctx,
		`UPDATE actions SET status = $3 WHERE id = $1 AND status = ANY($2)`,
		id, set, string(to))
	if err != nil {
		return fmt.Errorf("transition action %s to %s: %w", id, to, err)
	}
	if tag.RowsAffected() == 0 {
		var exists bool
		if err := s.pool.QueryRow(ctx,
			`SELECT EXISTS (SELECT 1 FROM actions WHERE id = $1)`, id).Scan(&exists); err != nil {
			return fmt.Errorf("transition action %s: %w", id, err)
		}
		if !exists {
			return fmt.Errorf("transition action %s: %w", id, domain.ErrNotFound)
		}
		return fmt.Errorf("transition action %s to %s: %w", id, to, domain.ErrInvalidState)
	}
	return nil
}

func (s *Store) RejectAction(ctx context.Context, id string, reason string) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE actions SET status = $2, error = $3 WHERE id = $1 AND status = $4`,
		id, string(action.StatusRejected), reason, string(action.StatusProposed))
	if err != nil {
		return fmt.Errorf("reject action %s: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		var exists bool
		if err := s.pool.QueryRow(ctx,
			`SELECT EXISTS (SELECT 1 FROM actions WHERE id = $1)`, id).Scan(&exists); err != nil {
			return fmt.Errorf("reject action %s: %w", id, err)
		}
		if !exists {
			return fmt.Errorf("reject action %s: %w", id, domain.ErrNotFound)
		}
		return fmt.Errorf("reject action %s: %w", id, domain.ErrInvalidState)
	}
	return nil
}

func (s *Store) CompleteAction(ctx context.Context, id string, result map[string]any) error {
	resultJSON, err := json.Marshal(result)
	if err != nil {
		return fmt.Errorf("marshal action result: %w", err)
	}

	tag, err := s.pool.Exec(ctx,
		`UPDATE actions SET status = $2, result = $3, executed_at = now()
		 WHERE id = $1 AND status = $4`,
		id, string(action.StatusCompleted), resultJSON, string(action.StatusExecuting))
	if err != nil {
		return fmt.Errorf("complete action %s: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("complete action %s: %w", id, domain.ErrInvalidState)
	}
	return nil
}

func (s *Store) FailAction(ctx context.Context, id string, errMsg string) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE actions SET status = $2, error = $3, executed_at = now()
		 WHERE id = $1 AND status = $4`,
		id, string(action.StatusFailed), errMsg, string(action.StatusExecuting))
	if err != nil {
		return fmt.Errorf("fail action %s: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("fail action %s: %w", id, domain.ErrInvalidState)
	}
	return nil
}

func scanAction(row scannable) (action.Action, error) {
	var a action.Action
	var metaJSON, resultJSON []byte
	err := row.Scan(&a.ID, &a.AgentID, &a.DatasetID, &a.Kind, &a.Status, &metaJSON,
		&resultJSON, &a.Error, &a.CreatedAt, &a.ExecutedAt)
	if err != nil {
		return a, err
	}
	if metaJSON != nil {
		if err := json.Unmarshal(metaJSON, &a.Metadata); err != nil {
			return a, fmt.Errorf("unmarshal action metadata: %w", err)
		}
	}
	if resultJSON != nil {
		if err := json.Unmarshal(resultJSON, &a.Result); err != nil {
			return a, fmt.Errorf("unmarshal action result: %w", err)
		}
	}
	return a, nil
}
