package sqlite

import (
	"encoding/json"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openTestDB(t *testing.T) *DB {
	t.Helper()
	db, err := Open(filepath.Join(t.TempDir(), "tagtune.db"))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return db
}

func TestOpenMigrates(t *testing.T) {
	db := openTestDB(t)

	version, dirty, err := db.MigrateVersion()
	require.NoError(t, err)
	assert.Equal(t, uint(1), version)
	assert.False(t, dirty)

	// Running again is a no-op.
	require.NoError(t, db.MigrateUp())
}

func TestMigrateDown(t *testing.T) {
	db := openTestDB(t)
	require.NoError(t, db.MigrateDown())

	version, _, err := db.MigrateVersion()
	require.NoError(t, err)
	assert.Equal(t, uint(0), version)

	var n int
	err = db.QueryRow(`SELECT COUNT(*) FROM sqlite_master WHERE type = 'table' AND name = 'tuning_runs'`).Scan(&n)
	require.NoError(t, err)
	assert.Equal(t, 0, n)
}

func TestRunRoundTrip(t *testing.T) {
	db := openTestDB(t)
	runs := NewRunStore(db)

	r := &Run{
		Stage:      "localizer",
		DataFolder: "/data/set1",
		Dimensions: 15,
		Config:     json.RawMessage(`{"n_iterations":10}`),
	}
	require.NoError(t, runs.Insert(r))
	require.NotEmpty(t, r.RunID)
	assert.Equal(t, StatusRunning, r.Status)

	got, err := runs.Get(r.RunID)
	require.NoError(t, err)
	assert.Equal(t, "localizer", got.Stage)
	assert.Equal(t, 15, got.Dimensions)
	assert.JSONEq(t, `{"n_iterations":10}`, string(got.Config))
	assert.Nil(t, got.BestValue)
	assert.Nil(t, got.CompletedAt)

	require.NoError(t, runs.Complete(r.RunID, -0.75,
		json.RawMessage(`{"localizer":{"min_num_pixels":100}}`),
		json.RawMessage(`{"metric":"score","score":{"f_score":0.75}}`)))

	got, err = runs.Get(r.RunID)
	require.NoError(t, err)
	assert.Equal(t, StatusComplete, got.Status)
	require.NotNil(t, got.BestValue)
	assert.InDelta(t, -0.75, *got.BestValue, 1e-12)
	assert.JSONEq(t, `{"localizer":{"min_num_pixels":100}}`, string(got.BestSettings))
	require.NotNil(t, got.CompletedAt)
	assert.False(t, got.CompletedAt.Before(got.StartedAt))
}

func TestRunFailAndMissing(t *testing.T) {
	db := openTestDB(t)
	runs := NewRunStore(db)

	r := &Run{Stage: "gridfitter", DataFolder: "/data"}
	require.NoError(t, runs.Insert(r))
	require.NoError(t, runs.Fail(r.RunID, errors.New("boom")))

	got, err := runs.Get(r.RunID)
	require.NoError(t, err)
	assert.Equal(t, StatusFailed, got.Status)
	assert.Equal(t, "boom", got.Error)

	_, err = runs.Get("nope")
	assert.ErrorIs(t, err, ErrNotFound)
	assert.ErrorIs(t, runs.Complete("nope", 0, nil, nil), ErrNotFound)
}

func TestListRuns(t *testing.T) {
	db := openTestDB(t)
	runs := NewRunStore(db)

	base := time.Unix(1700000000, 0)
	for i, stage := range []string{"localizer", "ellipsefitter", "gridfitter"} {
		require.NoError(t, runs.Insert(&Run{Stage: stage, DataFolder: "/d", StartedAt: base.Add(time.Duration(i) * time.Minute)}))
	}

	all, err := runs.List(0)
	require.NoError(t, err)
	require.Len(t, all, 3)
	assert.Equal(t, "gridfitter", all[0].Stage)
	assert.Equal(t, "localizer", all[2].Stage)

	limited, err := runs.List(2)
	require.NoError(t, err)
	assert.Len(t, limited, 2)
}

func TestTrials(t *testing.T) {
	db := openTestDB(t)
	runs := NewRunStore(db)
	trials := NewTrialStore(db)

	r := &Run{Stage: "localizer", DataFolder: "/d"}
	require.NoError(t, runs.Insert(r))

	for i := 2; i >= 0; i-- {
		require.NoError(t, trials.Insert(&Trial{
			RunID:     r.RunID,
			Iteration: i,
			Phase:     "init",
			Query:     []float64{0.1 * float64(i), 0.5},
			Value:     -float64(i),
			Best:      -2,
		}))
	}

	got, err := trials.ListByRun(r.RunID)
	require.NoError(t, err)
	require.Len(t, got, 3)
	for i, tr := range got {
		assert.Equal(t, i, tr.Iteration)
		assert.InDeltaSlice(t, []float64{0.1 * float64(i), 0.5}, tr.Query, 1e-12)
	}

	n, err := trials.Count(r.RunID)
	require.NoError(t, err)
	assert.Equal(t, 3, n)

	// Trials reference an existing run.
	err = trials.Insert(&Trial{RunID: "missing", Query: []float64{0}})
	assert.Error(t, err)
}
