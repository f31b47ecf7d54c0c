package db

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/banshee-data/roomview/internal/capture"
	"github.com/banshee-data/roomview/internal/export"
	"github.com/banshee-data/roomview/internal/viewer"
)

func TestRunStore_CreateAndGet(t *testing.T) {
	store := NewRunStore(newTestDB(t).DB)
	ctx := context.Background()

	run := &Run{}
	require.NoError(t, store.CreateRun(ctx, run))
	assert.Len(t, run.ID, 36, "generated uuid")
	assert.False(t, run.StartedAt.IsZero())

	got, err := store.GetRun(ctx, run.ID)
	require.NoError(t, err)
	assert.Equal(t, run.ID, got.ID)
	assert.Equal(t, "idle", got.State)
	assert.Nil(t, got.FinishedAt)
	assert.Equal(t, run.StartedAt.UnixNano(), got.StartedAt.UnixNano())

	_, err = store.GetRun(ctx, "missing")
	assert.ErrorIs(t, err, ErrRunNotFound)
}

func TestRunStore_RecorderLifecycle(t *testing.T) {
	store := NewRunStore(newTestDB(t).DB)
	ctx := context.Background()
	start := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

	require.NoError(t, store.RunStarted(ctx, "run-1", start))
	got, err := store.GetRun(ctx, "run-1")
	require.NoError(t, err)
	assert.Equal(t, "planning", got.State)

	runErr := errors.New("no rooms found in current model")
	require.NoError(t, store.RunFinished(ctx, "run-1", capture.StateFailed, start.Add(time.Second), runErr))
	got, err = store.GetRun(ctx, "run-1")
	require.NoError(t, err)
	assert.Equal(t, "failed", got.State)
	assert.Equal(t, runErr.Error(), got.Error)
	require.NotNil(t, got.FinishedAt)
	assert.Equal(t, start.Add(time.Second), *got.FinishedAt)

	err = store.RunFinished(ctx, "nope", capture.StateDone, start, nil)
	assert.ErrorIs(t, err, ErrRunNotFound)
}

func TestRunStore_ListRuns(t *testing.T) {
	store := NewRunStore(newTestDB(t).DB)
	ctx := context.Background()
	base := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

	for i, id := range []string{"a", "b", "c"} {
		require.NoError(t, store.CreateRun(ctx, &Run{ID: id, StartedAt: base.Add(time.Duration(i) * time.Minute)}))
	}

	runs, err := store.ListRuns(ctx, 2)
	require.NoError(t, err)
	require.Len(t, runs, 2)
	assert.Equal(t, "c", runs[0].ID)
	assert.Equal(t, "b", runs[1].ID)

	all, err := store.ListRuns(ctx, 0)
	require.NoError(t, err)
	assert.Len(t, all, 3)
}

func TestRunStore_WriteDatasetRoundTrip(t *testing.T) {
	store := NewRunStore(newTestDB(t).DB)
	ctx := context.Background()
	require.NoError(t, store.RunStarted(ctx, "run-1", time.Now()))

	ds := export.Dataset{RunID: "run-1", Results: []capture.Result{
		{Name: "Bath", DbIDsInView: []viewer.ObjectID{77}, Properties: []viewer.PropertyRecord{
			{DbID: 77, Name: "Sink", Properties: []viewer.Property{{DisplayName: "Mark", DisplayValue: "S1"}}},
		}},
		{Name: "Kitchen", DbIDsInView: []viewer.ObjectID{}, Properties: []viewer.PropertyRecord{}, Error: "query_visible: timeout"},
	}}
	require.NoError(t, store.WriteDataset(ctx, ds))

	got, err := store.Results(ctx, "run-1")
	require.NoError(t, err)
	if diff := cmp.Diff(ds.Results, got); diff != "" {
		t.Errorf("results mismatch (-want +got):\n%s", diff)
	}

	run, err := store.GetRun(ctx, "run-1")
	require.NoError(t, err)
	assert.Equal(t, 2, run.RoomCount)
	// The recorder owns the state; writing results leaves it alone.
	assert.Equal(t, "planning", run.State)

	// Rewriting replaces the previous results.
	ds.Results = ds.Results[:1]
	require.NoError(t, store.WriteDataset(ctx, ds))
	got, err = store.Results(ctx, "run-1")
	require.NoError(t, err)
	assert.Len(t, got, 1)
}

func TestRunStore_WriteDatasetWithoutRecorder(t *testing.T) {
	store := NewRunStore(newTestDB(t).DB)
	ctx := context.Background()

	require.NoError(t, store.WriteDataset(ctx, export.Dataset{RunID: "orphan", Results: []capture.Result{{Name: "Hall"}}}))

	run, err := store.GetRun(ctx, "orphan")
	require.NoError(t, err)
	assert.Equal(t, "done", run.State)
	assert.Equal(t, 1, run.RoomCount)

	got, err := store.Results(ctx, "orphan")
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.NotNil(t, got[0].DbIDsInView)
	assert.NotNil(t, got[0].Properties)
}

func TestRunStore_ResultsUnknownRun(t *testing.T) {
	store := NewRunStore(newTestDB(t).DB)
	got, err := store.Results(context.Background(), "missing")
	require.NoError(t, err)
	assert.Empty(t, got)
}
