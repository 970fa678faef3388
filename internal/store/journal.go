package store

import (
	"context"
	"fmt"
	"time"

	"github.com/roach88/packdelivery/internal/orchestrator"
)

// RecordTransition appends t to the log and updates the unit's last known
// state. Writing the same seq twice is a no-op.
//
// Implements orchestrator.Journal.
func (s *Store) RecordTransition(ctx context.Context, t orchestrator.Transition) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("record transition: %w", err)
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx, `
		INSERT INTO transitions
		(seq, request_id, unit, state, local_path, message, recorded_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(seq) DO NOTHING
	`,
		t.Seq,
		t.RequestID,
		t.Unit,
		t.State.String(),
		t.LocalPath,
		t.Message,
		t.At.UTC().Format(time.RFC3339Nano),
	)
	if err != nil {
		return fmt.Errorf("record transition: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return nil
	}

	// Only Ready carries a path; every other state clears it.
	_, err = tx.ExecContext(ctx, `
		INSERT INTO units (name, state, local_path, last_seq)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(name) DO UPDATE SET
			state = excluded.state,
			local_path = excluded.local_path,
			last_seq = excluded.last_seq
		WHERE excluded.last_seq > units.last_seq
	`,
		t.Unit,
		t.State.String(),
		t.LocalPath,
		t.Seq,
	)
	if err != nil {
		return fmt.Errorf("record unit state: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("record transition: %w", err)
	}
	return nil
}

var _ orchestrator.Journal = (*Store)(nil)
