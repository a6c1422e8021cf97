package catalog

import (
	"context"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"finopstrack/internal/core"
	"finopstrack/internal/store"
)

const sample = `
tasks:
  - name: Daily close of books
    assignee: Asha Rao
    reporting_managers: [Ravi Menon]
    escalation_managers: [Meera Iyer]
    effective_from: "2026-03-01"
    duration: daily
    subtasks:
      - name: Pull bank statements
        start_time: "05:00"
      - name: Reconcile ledgers
        description: Match GL against bank
        start_time: "07:30"
  - name: Weekly accruals
    assignee: Kiran Shah
    effective_from: "2026-03-02"
    duration: weekly
    is_active: false
    subtasks:
      - name: Book accruals
        start_time: "10:00"
`

func newEngine(t *testing.T) *core.Engine {
	t.Helper()
	st, err := store.Open(context.Background(), t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })
	return core.NewEngine(st, slog.New(slog.NewTextHandler(io.Discard, nil)), time.UTC)
}

func TestParse(t *testing.T) {
	f, err := Parse(strings.NewReader(sample))
	require.NoError(t, err)
	require.Len(t, f.Tasks, 2)

	first := f.Tasks[0]
	assert.Equal(t, "Daily close of books", first.Name)
	assert.Equal(t, []string{"Ravi Menon"}, first.ReportingManagers)
	require.Len(t, first.Subtasks, 2)
	require.NotNil(t, first.Subtasks[1].Description)
	assert.Equal(t, "Match GL against bank", *first.Subtasks[1].Description)

	require.NotNil(t, f.Tasks[1].IsActive)
	assert.False(t, *f.Tasks[1].IsActive)

	draft := first.draft()
	assert.Equal(t, core.DurationDaily, draft.Duration)
	assert.Equal(t, "07:30", draft.Subtasks[1].StartTime)
}

func TestParseEmptyAndUnknownFields(t *testing.T) {
	f, err := Parse(strings.NewReader(""))
	require.NoError(t, err)
	assert.Empty(t, f.Tasks)

	_, err = Parse(strings.NewReader("tasks:\n  - name: x\n    owner: y\n"))
	assert.Error(t, err)
}

func TestParseFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "catalog.yaml")
	require.NoError(t, os.WriteFile(path, []byte(sample), 0o600))
	f, err := ParseFile(path)
	require.NoError(t, err)
	assert.Len(t, f.Tasks, 2)

	_, err = ParseFile(filepath.Join(t.TempDir(), "nope.yaml"))
	assert.Error(t, err)
}

func TestImportIsIdempotent(t *testing.T) {
	ctx := context.Background()
	engine := newEngine(t)
	im := NewImporter(engine, slog.New(slog.NewTextHandler(io.Discard, nil)))

	f, err := Parse(strings.NewReader(sample))
	require.NoError(t, err)

	report, err := im.Import(ctx, f, "Ravi Menon")
	require.NoError(t, err)
	assert.Equal(t, []string{"Daily close of books", "Weekly accruals"}, report.Created)
	assert.Empty(t, report.Skipped)

	// Names match case-insensitively.
	f.Tasks[0].Name = "DAILY CLOSE OF BOOKS"
	report, err = im.Import(ctx, f, "Ravi Menon")
	require.NoError(t, err)
	assert.Empty(t, report.Created)
	assert.Equal(t, []string{"DAILY CLOSE OF BOOKS", "Weekly accruals"}, report.Skipped)

	tasks, err := engine.ListTasks(ctx, core.TaskFilter{})
	require.NoError(t, err)
	assert.Len(t, tasks, 2)
}

func TestImportContinuesPastInvalidTasks(t *testing.T) {
	ctx := context.Background()
	engine := newEngine(t)
	im := NewImporter(engine, slog.New(slog.NewTextHandler(io.Discard, nil)))

	f := &File{Tasks: []TaskSpec{
		{Name: "Broken", EffectiveFrom: "2026-03-01", Subtasks: []SubtaskSpec{{Name: "x", StartTime: "25:00"}}},
		{Name: "Fine", EffectiveFrom: "2026-03-01", Subtasks: []SubtaskSpec{{Name: "y", StartTime: "06:00"}}},
	}}
	report, err := im.Import(ctx, f, "")
	require.Error(t, err)
	assert.True(t, core.IsValidation(err))
	assert.Equal(t, []string{"Broken"}, report.Failed)
	assert.Equal(t, []string{"Fine"}, report.Created)
}
