package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/nidhogg/nuka-mind/internal/thought"
)

const thoughtColumns = `thought_id, source_task_id, COALESCE(parent_thought_id, ''), status,
	priority, round_created, depth, cycle_attempts, content,
	processing_context, final_action_result, created_at, updated_at`

type scanner interface {
	Scan(dest ...any) error
}

func scanThought(row scanner) (*thought.Thought, error) {
	var (
		th         thought.Thought
		status     string
		pctxJSON   []byte
		resultJSON []byte
	)
	if err := row.Scan(&th.ID, &th.SourceTaskID, &th.ParentThoughtID, &status,
		&th.Priority, &th.RoundCreated, &th.Depth, &th.CycleAttempts, &th.Content,
		&pctxJSON, &resultJSON, &th.CreatedAt, &th.UpdatedAt); err != nil {
		return nil, err
	}
	th.Status = thought.Status(status)
	if len(pctxJSON) > 0 {
		if err := json.Unmarshal(pctxJSON, &th.ProcessingContext); err != nil {
			return nil, fmt.Errorf("decode processing context: %w", err)
		}
	}
	if len(resultJSON) > 0 {
		var r thought.ActionSelectionResult
		if err := json.Unmarshal(resultJSON, &r); err != nil {
			return nil, fmt.Errorf("decode final action: %w", err)
		}
		th.FinalAction = &r
	}
	return &th, nil
}

// AddThought inserts a thought row.
func (s *Store) AddThought(ctx context.Context, th *thought.Thought) error {
	pctxJSON, err := json.Marshal(th.ProcessingContext)
	if err != nil {
		return fmt.Errorf("marshal processing context: %w", err)
	}
	_, err = s.db.Exec(ctx,
		`INSERT INTO thoughts (thought_id, source_task_id, parent_thought_id, status,
			priority, round_created, depth, cycle_attempts, content, processing_context,
			created_at, updated_at)
		 VALUES ($1, $2, NULLIF($3, ''), $4, $5, $6, $7, $8, $9, $10, $11, $12)`,
		th.ID, th.SourceTaskID, th.ParentThoughtID, string(th.Status),
		th.Priority, th.RoundCreated, th.Depth, th.CycleAttempts, th.Content, pctxJSON,
		th.CreatedAt, th.UpdatedAt)
	if err != nil {
		return fmt.Errorf("add thought %s: %w", th.ID, mapErr(err))
	}
	return nil
}

// GetThought loads a thought by id.
func (s *Store) GetThought(ctx context.Context, thoughtID string) (*thought.Thought, error) {
	th, err := scanThought(s.db.QueryRow(ctx,
		`SELECT `+thoughtColumns+` FROM thoughts WHERE thought_id = $1`, thoughtID))
	if err != nil {
		return nil, fmt.Errorf("get thought %s: %w", thoughtID, mapErr(err))
	}
	return th, nil
}

// ChildThoughts lists the follow-ups of a thought.
func (s *Store) ChildThoughts(ctx context.Context, thoughtID string) ([]*thought.Thought, error) {
	rows, err := s.db.Query(ctx,
		`SELECT `+thoughtColumns+` FROM thoughts
		 WHERE parent_thought_id = $1 ORDER BY created_at`, thoughtID)
	if err != nil {
		return nil, fmt.Errorf("list child thoughts: %w", err)
	}
	defer rows.Close()

	var out []*thought.Thought
	for rows.Next() {
		th, err := scanThought(rows)
		if err != nil {
			return nil, fmt.Errorf("scan child thought: %w", err)
		}
		out = append(out, th)
	}
	return out, rows.Err()
}

// ClaimThought moves a specific thought PENDING -> PROCESSING.
// The status predicate makes concurrent claims leave exactly one winner.
func (s *Store) ClaimThought(ctx context.Context, thoughtID string) (*thought.Thought, error) {
	th, err := scanThought(s.db.QueryRow(ctx,
		`UPDATE thoughts SET status = 'processing', updated_at = now()
		 WHERE thought_id = $1 AND status = 'pending'
		 RETURNING `+thoughtColumns, thoughtID))
	if errors.Is(err, pgx.ErrNoRows) {
		if _, getErr := s.GetThought(ctx, thoughtID); getErr != nil {
			return nil, fmt.Errorf("claim thought: %w", getErr)
		}
		return nil, fmt.Errorf("claim thought %s: %w", thoughtID, thought.ErrClaimConflict)
	}
	if err != nil {
		return nil, fmt.Errorf("claim thought %s: %w", thoughtID, err)
	}
	return th, nil
}

// ClaimNextThought claims the highest priority, oldest-round pending thought.
func (s *Store) ClaimNextThought(ctx context.Context) (*thought.Thought, error) {
	th, err := scanThought(s.db.QueryRow(ctx,
		`UPDATE thoughts SET status = 'processing', updated_at = now()
		 WHERE status = 'pending' AND thought_id = (
			SELECT th.thought_id FROM thoughts th
			JOIN tasks t ON t.task_id = th.source_task_id
			WHERE th.status = 'pending' AND t.status IN ('pending', 'active')
			ORDER BY th.priority DESC, th.round_created ASC, th.created_at ASC
			LIMIT 1
			FOR UPDATE OF th SKIP LOCKED
		 )
		 RETURNING `+thoughtColumns))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, thought.ErrNoClaimableThought
	}
	if err != nil {
		return nil, fmt.Errorf("claim next thought: %w", err)
	}
	return th, nil
}

// RequeueThought returns a processing thought to the pending queue.
func (s *Store) RequeueThought(ctx context.Context, thoughtID string, cycleAttempts int) error {
	tag, err := s.db.Exec(ctx,
		`UPDATE thoughts SET status = 'pending', cycle_attempts = $2, updated_at = now()
		 WHERE thought_id = $1 AND status = 'processing'`,
		thoughtID, cycleAttempts)
	if err != nil {
		return fmt.Errorf("requeue thought %s: %w", thoughtID, err)
	}
	if tag.RowsAffected() != 1 {
		return fmt.Errorf("requeue thought %s: %w", thoughtID, thought.ErrInvalidTransition)
	}
	return nil
}

// RecoverStale requeues thoughts left PROCESSING by a worker that never
// committed, e.g. after a crash.
func (s *Store) RecoverStale(ctx context.Context, cutoff time.Time) (int, error) {
	tag, err := s.db.Exec(ctx,
		`UPDATE thoughts SET status = 'pending', updated_at = now()
		 WHERE status = 'processing' AND updated_at < $1`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("recover stale thoughts: %w", err)
	}
	return int(tag.RowsAffected()), nil
}

// UpdateThoughtStatus commits a new status conditioned on the current one.
// Re-applying the status a thought already has is a no-op.
func (s *Store) UpdateThoughtStatus(ctx context.Context, thoughtID string, status thought.Status, result *thought.ActionSelectionResult) error {
	var current string
	if err := s.db.QueryRow(ctx,
		`SELECT status FROM thoughts WHERE thought_id = $1`, thoughtID).Scan(&current); err != nil {
		return fmt.Errorf("update thought %s: %w", thoughtID, mapErr(err))
	}
	from := thought.Status(current)
	if from == status {
		return nil
	}
	if err := thought.Transition(from, status); err != nil {
		return fmt.Errorf("update thought %s: %w", thoughtID, err)
	}

	var resultJSON []byte
	if result != nil {
		b, err := json.Marshal(result)
		if err != nil {
			return fmt.Errorf("marshal final action: %w", err)
		}
		resultJSON = b
	}
	tag, err := s.db.Exec(ctx,
		`UPDATE thoughts SET status = $3, final_action_result = $4, updated_at = now()
		 WHERE thought_id = $1 AND status = $2`,
		thoughtID, current, string(status), resultJSON)
	if err != nil {
		return fmt.Errorf("update thought %s: %w", thoughtID, err)
	}
	if tag.RowsAffected() == 1 {
		return nil
	}

	// Lost a race: succeed only if the winner wrote the same status.
	if err := s.db.QueryRow(ctx,
		`SELECT status FROM thoughts WHERE thought_id = $1`, thoughtID).Scan(&current); err != nil {
		return fmt.Errorf("update thought %s: %w", thoughtID, mapErr(err))
	}
	if thought.Status(current) == status {
		return nil
	}
	return fmt.Errorf("update thought %s: %w: now %q", thoughtID, thought.ErrInvalidTransition, current)
}
