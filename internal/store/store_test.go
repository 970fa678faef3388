package store

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/packdelivery/internal/orchestrator"
)

func createTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "journal.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func transition(seq int64, unit string, state orchestrator.State, path string) orchestrator.Transition {
	return orchestrator.Transition{
		Seq:       seq,
		RequestID: "req-1",
		Unit:      unit,
		State:     state,
		LocalPath: path,
		At:        time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC),
	}
}

func TestOpen_Pragmas(t *testing.T) {
	s := createTestStore(t)
	assert.NoError(t, s.verifyPragma("journal_mode", "wal"))
	assert.NoError(t, s.verifyPragma("user_version", "1"))
}

func TestOpen_Reopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "journal.db")
	ctx := context.Background()

	s, err := Open(path)
	require.NoError(t, err)
	require.NoError(t, s.RecordTransition(ctx, transition(1, "Level1", orchestrator.Queued, "")))
	require.NoError(t, s.Close())

	s, err = Open(path)
	require.NoError(t, err)
	defer s.Close()

	seq, err := s.MaxSeq(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), seq)
}

func TestRecordTransition_LogAndUnitState(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()

	for _, tr := range []orchestrator.Transition{
		transition(1, "Level1", orchestrator.Queued, ""),
		transition(2, "Level1", orchestrator.Downloading, ""),
		transition(3, "Music", orchestrator.Queued, ""),
		transition(4, "Level1", orchestrator.Ready, "/device/Level1"),
		transition(5, "Music", orchestrator.Failed, ""),
	} {
		require.NoError(t, s.RecordTransition(ctx, tr))
	}

	all, err := s.Transitions(ctx, "")
	require.NoError(t, err)
	require.Len(t, all, 5)
	for i, r := range all {
		assert.Equal(t, int64(i+1), r.Seq)
	}
	assert.Equal(t, time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC), all[0].RecordedAt)

	level, err := s.Transitions(ctx, "Level1")
	require.NoError(t, err)
	require.Len(t, level, 3)
	assert.Equal(t, "Ready", level[2].State)
	assert.Equal(t, "/device/Level1", level[2].LocalPath)

	units, err := s.Units(ctx)
	require.NoError(t, err)
	assert.Equal(t, []UnitRecord{
		{Name: "Level1", State: "Ready", LocalPath: "/device/Level1", LastSeq: 4},
		{Name: "Music", State: "Failed", LastSeq: 5},
	}, units)

	paths, err := s.ReadyPaths(ctx)
	require.NoError(t, err)
	assert.Equal(t, map[string]string{"Level1": "/device/Level1"}, paths)
}

func TestRecordTransition_Idempotent(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()

	tr := transition(7, "Level1", orchestrator.Ready, "/a")
	require.NoError(t, s.RecordTransition(ctx, tr))
	require.NoError(t, s.RecordTransition(ctx, tr))

	all, err := s.Transitions(ctx, "")
	require.NoError(t, err)
	assert.Len(t, all, 1)
}

func TestRecordTransition_EvictionClearsPath(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.RecordTransition(ctx, transition(1, "Level1", orchestrator.Ready, "/a")))
	require.NoError(t, s.RecordTransition(ctx, transition(2, "Level1", orchestrator.Unrequested, "")))

	paths, err := s.ReadyPaths(ctx)
	require.NoError(t, err)
	assert.Empty(t, paths)
}

func TestRecordTransition_OlderSeqDoesNotRegressUnit(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.RecordTransition(ctx, transition(5, "Level1", orchestrator.Ready, "/a")))
	require.NoError(t, s.RecordTransition(ctx, transition(3, "Level1", orchestrator.Downloading, "")))

	units, err := s.Units(ctx)
	require.NoError(t, err)
	require.Len(t, units, 1)
	assert.Equal(t, "Ready", units[0].State)
}

func TestMaxSeq_Empty(t *testing.T) {
	s := createTestStore(t)
	seq, err := s.MaxSeq(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(0), seq)
}

func TestJournal_WithOrchestratorClock(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()
	require.NoError(t, s.RecordTransition(ctx, transition(10, "Level1", orchestrator.Queued, "")))

	start, err := s.MaxSeq(ctx)
	require.NoError(t, err)
	clock := orchestrator.NewClockAt(start)
	require.NoError(t, s.RecordTransition(ctx, transition(clock.Next(), "Level1", orchestrator.Downloading, "")))

	all, err := s.Transitions(ctx, "Level1")
	require.NoError(t, err)
	require.Len(t, all, 2)
	assert.Equal(t, int64(11), all[1].Seq)
}
