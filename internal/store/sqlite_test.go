package store

import (
	"context"
	"errors"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/entity-enrich/internal/model"
)

func newTestSQLiteStore(t *testing.T) *SQLiteStore {
	t.Helper()
	dbPath := filepath.Join(t.TempDir(), "test.db")
	st, err := NewSQLite(dbPath)
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() }) //nolint:errcheck
	require.NoError(t, st.Migrate(context.Background()))
	return st
}

func TestSQLite_MigrateIdempotent(t *testing.T) {
	st := newTestSQLiteStore(t)
	require.NoError(t, st.Migrate(context.Background()))
}

func TestSQLite_RunLifecycle(t *testing.T) {
	st := newTestSQLiteStore(t)
	ctx := context.Background()

	run, err := st.CreateRun(ctx, "data/firms.xlsx", 4)
	require.NoError(t, err)
	assert.NotEmpty(t, run.ID)
	assert.Equal(t, model.RunStatusLoaded, run.Status)

	require.NoError(t, st.UpdateRunStatus(ctx, run.ID, model.RunStatusLEIResolved))

	got, err := st.GetRun(ctx, run.ID)
	require.NoError(t, err)
	assert.Equal(t, model.RunStatusLEIResolved, got.Status)
	assert.Equal(t, "data/firms.xlsx", got.Input)
	assert.Equal(t, 4, got.Rows)
	assert.Nil(t, got.Result)

	result := &model.RunResult{
		Stages: []model.StageResult{{Name: model.StageLEI, Status: model.StageStatusComplete, Requested: 2, Merged: 1}},
		Report: &model.CompletenessReport{Total: 4, Rows: []model.AttributeCompleteness{
			{Attribute: "lei", NonMissing: 2, Missing: 2, Completeness: 50},
		}},
	}
	require.NoError(t, st.CompleteRun(ctx, run.ID, result))

	got, err = st.GetRun(ctx, run.ID)
	require.NoError(t, err)
	assert.Equal(t, model.RunStatusComplete, got.Status)
	require.NotNil(t, got.Result)
	assert.Equal(t, result.Stages, got.Result.Stages)
	assert.Equal(t, 50.0, got.Result.Report.Rows[0].Completeness)
}

func TestSQLite_FailRun(t *testing.T) {
	st := newTestSQLiteStore(t)
	ctx := context.Background()

	run, err := st.CreateRun(ctx, "in.csv", 1)
	require.NoError(t, err)
	require.NoError(t, st.FailRun(ctx, run.ID, "shape mismatch"))

	got, err := st.GetRun(ctx, run.ID)
	require.NoError(t, err)
	assert.Equal(t, model.RunStatusFailed, got.Status)
	assert.Equal(t, "shape mismatch", got.Error)
}

func TestSQLite_RunNotFound(t *testing.T) {
	st := newTestSQLiteStore(t)
	ctx := context.Background()

	_, err := st.GetRun(ctx, "missing")
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrRunNotFound))

	err = st.UpdateRunStatus(ctx, "missing", model.RunStatusReported)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrRunNotFound))
}

func TestSQLite_ListRuns(t *testing.T) {
	st := newTestSQLiteStore(t)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		run, err := st.CreateRun(ctx, "in.csv", i)
		require.NoError(t, err)
		if i == 0 {
			require.NoError(t, st.FailRun(ctx, run.ID, "boom"))
		}
	}

	all, err := st.ListRuns(ctx, RunFilter{})
	require.NoError(t, err)
	assert.Len(t, all, 3)

	failed, err := st.ListRuns(ctx, RunFilter{Status: model.RunStatusFailed})
	require.NoError(t, err)
	require.Len(t, failed, 1)
	assert.Equal(t, "boom", failed[0].Error)

	limited, err := st.ListRuns(ctx, RunFilter{Limit: 2})
	require.NoError(t, err)
	assert.Len(t, limited, 2)
}

func TestSQLite_Stages(t *testing.T) {
	st := newTestSQLiteStore(t)
	ctx := context.Background()

	run, err := st.CreateRun(ctx, "in.csv", 2)
	require.NoError(t, err)

	stage, err := st.CreateStage(ctx, run.ID, model.StageLEI)
	require.NoError(t, err)
	assert.Equal(t, model.StageStatusRunning, stage.Status)

	res := &model.StageResult{
		Name:      model.StageLEI,
		Status:    model.StageStatusComplete,
		Requested: 2,
		Merged:    1,
		Batches:   1,
		Outcomes:  model.TallySnapshot{Found: 1, NotFound: 1},
	}
	require.NoError(t, st.CompleteStage(ctx, stage.ID, res))

	stages, err := st.ListStages(ctx, run.ID)
	require.NoError(t, err)
	require.Len(t, stages, 1)
	assert.Equal(t, model.StageStatusComplete, stages[0].Status)
	require.NotNil(t, stages[0].Result)
	assert.Equal(t, *res, *stages[0].Result)

	err = st.CompleteStage(ctx, "missing", res)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "stage not found")
}

func TestSQLite_Failures(t *testing.T) {
	st := newTestSQLiteStore(t)
	ctx := context.Background()

	run, err := st.CreateRun(ctx, "in.csv", 2)
	require.NoError(t, err)

	require.NoError(t, st.RecordFailures(ctx, run.ID, nil))

	failures := []model.LookupFailure{
		{Stage: model.StageLEI, Row: 0, Name: "Acme", Outcome: model.OutcomeError, Reason: "gleif: unexpected status 500"},
		{Stage: model.StageFirmographics, Row: 1, Name: "Tesla", Outcome: model.OutcomeRateLimited, Reason: "quota"},
	}
	require.NoError(t, st.RecordFailures(ctx, run.ID, failures))

	got, err := st.ListFailures(ctx, run.ID)
	require.NoError(t, err)
	assert.Equal(t, failures, got)

	none, err := st.ListFailures(ctx, "other")
	require.NoError(t, err)
	assert.Empty(t, none)
}
