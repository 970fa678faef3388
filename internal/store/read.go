package store

import (
	"context"
	"fmt"
	"time"

	"github.com/roach88/packdelivery/internal/orchestrator"
)

// TransitionRecord is one stored transition.
type TransitionRecord struct {
	Seq        int64     `json:"seq"`
	RequestID  string    `json:"request_id,omitempty"`
	Unit       string    `json:"unit"`
	State      string    `json:"state"`
	LocalPath  string    `json:"local_path,omitempty"`
	Message    string    `json:"message,omitempty"`
	RecordedAt time.Time `json:"recorded_at"`
}

// UnitRecord is a unit's last known state.
type UnitRecord struct {
	Name      string `json:"name"`
	State     string `json:"state"`
	LocalPath string `json:"local_path,omitempty"`
	LastSeq   int64  `json:"last_seq"`
}

// Transitions returns the log in seq order. A non-empty unit filters it.
func (s *Store) Transitions(ctx context.Context, unit string) ([]TransitionRecord, error) {
	query := `
		SELECT seq, request_id, unit, state, local_path, message, recorded_at
		FROM transitions
	`
	var args []any
	if unit != "" {
		query += " WHERE unit = ?"
		args = append(args, unit)
	}
	query += " ORDER BY seq ASC"

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query transitions: %w", err)
	}
	defer rows.Close()

	var out []TransitionRecord
	for rows.Next() {
		var (
			r  TransitionRecord
			at string
		)
		if err := rows.Scan(&r.Seq, &r.RequestID, &r.Unit, &r.State, &r.LocalPath, &r.Message, &at); err != nil {
			return nil, fmt.Errorf("scan transition: %w", err)
		}
		r.RecordedAt, err = time.Parse(time.RFC3339Nano, at)
		if err != nil {
			return nil, fmt.Errorf("transition %d: bad timestamp %q: %w", r.Seq, at, err)
		}
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate transitions: %w", err)
	}
	return out, nil
}

// Units returns every unit's last known state, by name.
func (s *Store) Units(ctx context.Context) ([]UnitRecord, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT name, state, local_path, last_seq
		FROM units
		ORDER BY name ASC
	`)
	if err != nil {
		return nil, fmt.Errorf("query units: %w", err)
	}
	defer rows.Close()

	var out []UnitRecord
	for rows.Next() {
		var r UnitRecord
		if err := rows.Scan(&r.Name, &r.State, &r.LocalPath, &r.LastSeq); err != nil {
			return nil, fmt.Errorf("scan unit: %w", err)
		}
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate units: %w", err)
	}
	return out, nil
}

// ReadyPaths returns the recorded local path of every unit last seen Ready.
func (s *Store) ReadyPaths(ctx context.Context) (map[string]string, error) {
	units, err := s.Units(ctx)
	if err != nil {
		return nil, err
	}
	out := make(map[string]string)
	for _, u := range units {
		if u.State == orchestrator.Ready.String() && u.LocalPath != "" {
			out[u.Name] = u.LocalPath
		}
	}
	return out, nil
}

// MaxSeq returns the highest recorded seq, or 0 for an empty journal. A new
// session's clock starts from it.
func (s *Store) MaxSeq(ctx context.Context) (int64, error) {
	var seq int64
	if err := s.db.QueryRowContext(ctx, "SELECT COALESCE(MAX(seq), 0) FROM transitions").Scan(&seq); err != nil {
		return 0, fmt.Errorf("query max seq: %w", err)
	}
	return seq, nil
}
