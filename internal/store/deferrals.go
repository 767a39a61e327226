package store

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/nidhogg/nuka-mind/internal/thought"
)

// SaveDeferralReportMapping stores the correlation id of a deferral message.
func (s *Store) SaveDeferralReportMapping(ctx context.Context, messageID, taskID, thoughtID string, pkg *thought.DeferralPackage) error {
	var pkgJSON []byte
	if pkg != nil {
		b, err := json.Marshal(pkg)
		if err != nil {
			return fmt.Errorf("marshal deferral package: %w", err)
		}
		pkgJSON = b
	}
	_, err := s.db.Exec(ctx,
		`INSERT INTO deferral_reports (message_id, task_id, thought_id, package)
		 VALUES ($1, $2, $3, $4)
		 ON CONFLICT (message_id) DO UPDATE SET
			task_id = EXCLUDED.task_id,
			thought_id = EXCLUDED.thought_id,
			package = EXCLUDED.package`,
		messageID, taskID, thoughtID, pkgJSON)
	if err != nil {
		return fmt.Errorf("save deferral %s: %w", messageID, err)
	}
	return nil
}

// GetDeferralReportContext resolves a correlation id back to its task and thought.
func (s *Store) GetDeferralReportContext(ctx context.Context, messageID string) (*thought.DeferralReport, error) {
	r := thought.DeferralReport{MessageID: messageID}
	var pkgJSON []byte
	err := s.db.QueryRow(ctx,
		`SELECT task_id, thought_id, package, COALESCE(resolved_by, ''), COALESCE(resolution, ''), resolved_at
		 FROM deferral_reports WHERE message_id = $1`,
		messageID).Scan(&r.TaskID, &r.ThoughtID, &pkgJSON, &r.ResolvedBy, &r.Resolution, &r.ResolvedAt)
	if err != nil {
		return nil, fmt.Errorf("deferral %s: %w", messageID, mapErr(err))
	}
	if len(pkgJSON) > 0 {
		var pkg thought.DeferralPackage
		if err := json.Unmarshal(pkgJSON, &pkg); err != nil {
			return nil, fmt.Errorf("decode deferral package: %w", err)
		}
		r.Package = &pkg
	}
	return &r, nil
}

// ResolveDeferral stamps the answer on an open deferral. The resolved_by
// predicate lets exactly one of several concurrent answers win.
func (s *Store) ResolveDeferral(ctx context.Context, messageID, waID, resolution string, at time.Time) error {
	tag, err := s.db.Exec(ctx,
		`UPDATE deferral_reports SET resolved_by = $2, resolution = $3, resolved_at = $4
		 WHERE message_id = $1 AND resolved_by IS NULL`,
		messageID, waID, resolution, at)
	if err != nil {
		return fmt.Errorf("resolve deferral %s: %w", messageID, err)
	}
	if tag.RowsAffected() == 1 {
		return nil
	}

	var by string
	if err := s.db.QueryRow(ctx,
		`SELECT COALESCE(resolved_by, '') FROM deferral_reports WHERE message_id = $1`,
		messageID).Scan(&by); err != nil {
		return fmt.Errorf("resolve deferral %s: %w", messageID, mapErr(err))
	}
	return fmt.Errorf("resolve deferral %s: %w by %s", messageID, thought.ErrAlreadyResolved, by)
}
