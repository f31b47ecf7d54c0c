package capture

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/spatial/r3"

	"github.com/banshee-data/roomview/internal/config"
	"github.com/banshee-data/roomview/internal/fsutil"
	"github.com/banshee-data/roomview/internal/geometry"
	"github.com/banshee-data/roomview/internal/planner"
	"github.com/banshee-data/roomview/internal/testutil"
	"github.com/banshee-data/roomview/internal/timeutil"
	"github.com/banshee-data/roomview/internal/viewer"
)

var kitchenTarget = r3.Vec{X: 12, Y: 2, Z: 1.5}

func house() *testutil.FakeViewer {
	return testutil.NewFakeViewer(
		testutil.FakeObject{ID: 1, Name: "Hall", Category: "Revit Rooms", Box: geometry.NewBox(r3.Vec{}, r3.Vec{X: 4, Y: 4, Z: 3})},
		testutil.FakeObject{ID: 2, Name: "Kitchen", Category: "Revit Rooms", Box: geometry.NewBox(r3.Vec{X: 10}, r3.Vec{X: 14, Y: 4, Z: 3})},
		testutil.FakeObject{ID: 3, Name: "Bath", Category: "Revit Rooms", Box: geometry.NewBox(r3.Vec{X: 20}, r3.Vec{X: 23, Y: 3, Z: 3})},
		testutil.FakeObject{ID: 50, Name: "Door A", Category: "Doors", Box: geometry.NewBox(r3.Vec{X: 9.9, Y: 1.5}, r3.Vec{X: 10.1, Y: 2.5, Z: 2.1})},
	)
}

type recordingExporter struct {
	mu      sync.Mutex
	calls   int
	runID   string
	results []Result
	err     error
}

func (e *recordingExporter) Export(_ context.Context, runID string, results []Result) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.calls++
	e.runID = runID
	e.results = results
	return e.err
}

type recordingRecorder struct {
	mu       sync.Mutex
	started  []string
	finished []State
	errs     []error
}

func (r *recordingRecorder) RunStarted(_ context.Context, runID string, _ time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.started = append(r.started, runID)
	return nil
}

func (r *recordingRecorder) RunFinished(_ context.Context, _ string, state State, _ time.Time, runErr error) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.finished = append(r.finished, state)
	r.errs = append(r.errs, runErr)
	return nil
}

func sequentialIDs() func() string {
	n := 0
	return func() string {
		n++
		return fmt.Sprintf("run-%d", n)
	}
}

type harness struct {
	fv  *testutil.FakeViewer
	fs  *fsutil.MemoryFileSystem
	exp *recordingExporter
	rec *recordingRecorder
	cfg *config.PipelineConfig
}

func newHarness(fv *testutil.FakeViewer) *harness {
	return &harness{
		fv:  fv,
		fs:  fsutil.NewMemoryFileSystem(),
		exp: &recordingExporter{},
		rec: &recordingRecorder{},
		cfg: config.EmptyPipelineConfig(),
	}
}

func (h *harness) orchestrator(opts ...Option) *Orchestrator {
	base := []Option{
		WithConfig(h.cfg),
		WithFileSystem(h.fs),
		WithOutputDir("/out"),
		WithRecorder(h.rec),
		WithClock(timeutil.NewMockClock(time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC))),
		withIDGenerator(sequentialIDs()),
	}
	return New(h.fv, h.exp, append(base, opts...)...)
}

func resultNames(rs []Result) []string {
	names := make([]string, len(rs))
	for i, r := range rs {
		names[i] = r.Name
	}
	return names
}

func TestRun_ThreeRoomsReverseOrder(t *testing.T) {
	h := newHarness(house())
	h.fv.Delay = time.Millisecond

	var transitions []string
	o := h.orchestrator(WithStateObserver(func(_ string, from, to State) {
		transitions = append(transitions, from.String()+">"+to.String())
	}))

	rep, err := o.Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, "run-1", rep.RunID)
	assert.Equal(t, StateDone, rep.State)
	assert.Equal(t, 3, rep.Planned)
	assert.Equal(t, []string{"Bath", "Kitchen", "Hall"}, resultNames(rep.Results))
	assert.Equal(t, []string{"idle>planning", "planning>draining", "draining>done"}, transitions)
	assert.Equal(t, StateDone, o.State())

	// Captures never overlap.
	assert.Equal(t, 1, h.fv.MaxConcurrent())

	// Exporter fired once with the same results.
	assert.Equal(t, 1, h.exp.calls)
	assert.Equal(t, "run-1", h.exp.runID)
	assert.Equal(t, resultNames(rep.Results), resultNames(h.exp.results))

	assert.Equal(t, []string{"/out/Bath.png", "/out/Hall.png", "/out/Kitchen.png"}, h.fs.Files("/out"))
	assert.Equal(t, "/out/Kitchen.png", rep.Results[1].ImagePath)

	assert.Equal(t, []string{"run-1"}, h.rec.started)
	assert.Equal(t, []State{StateDone}, h.rec.finished)
}

func TestRun_StepSequencePerRoom(t *testing.T) {
	h := newHarness(house())
	_, err := h.orchestrator().Run(context.Background())
	require.NoError(t, err)

	var ops []string
	for _, c := range h.fv.Calls() {
		switch c.Op {
		case testutil.OpSetView, testutil.OpSetUp, testutil.OpFocal, testutil.OpCapture, testutil.OpSelect:
			ops = append(ops, c.Op)
		}
	}
	one := []string{testutil.OpSetView, testutil.OpSetUp, testutil.OpFocal, testutil.OpCapture, testutil.OpSelect}
	var want []string
	for i := 0; i < 3; i++ {
		want = append(want, one...)
	}
	assert.Equal(t, want, ops)

	for _, c := range h.fv.CallsFor(testutil.OpSetUp) {
		assert.Equal(t, r3.Vec{Z: 1}, c.Up)
	}
	for _, c := range h.fv.CallsFor(testutil.OpFocal) {
		assert.Equal(t, 10.0, c.Focal)
	}
	for _, c := range h.fv.CallsFor(testutil.OpCapture) {
		assert.Equal(t, 512, c.Width)
		assert.Equal(t, 512, c.Height)
	}

	// The kitchen is entered through its door, everything at eye height.
	views := h.fv.CallsFor(testutil.OpSetView)
	require.Len(t, views, 3)
	assert.Equal(t, kitchenTarget, views[1].Target)
	assert.InDelta(t, 11, views[1].Position.X, 0.05)
	for _, v := range views {
		assert.InDelta(t, 1.7, v.Position.Z, 1e-9)
	}
}

func TestRun_PlannedDrainOrder(t *testing.T) {
	h := newHarness(house())
	order := config.DrainPlanned
	h.cfg.DrainOrder = &order

	rep, err := h.orchestrator().Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{"Hall", "Kitchen", "Bath"}, resultNames(rep.Results))
}

func TestRun_NoRoomsFails(t *testing.T) {
	h := newHarness(testutil.NewFakeViewer())
	o := h.orchestrator()

	rep, err := o.Run(context.Background())
	var sfe *planner.SearchFailureError
	require.ErrorAs(t, err, &sfe)
	assert.ErrorIs(t, err, planner.ErrNoRooms)
	assert.Equal(t, StateFailed, rep.State)
	assert.Equal(t, StateFailed, o.State())

	assert.Empty(t, h.fv.CallsFor(testutil.OpSetView))
	assert.Empty(t, h.fv.CallsFor(testutil.OpCapture))
	assert.Equal(t, 0, h.exp.calls)
	assert.Equal(t, []State{StateFailed}, h.rec.finished)
}

func TestRun_StepFailures(t *testing.T) {
	boom := errors.New("viewer error")
	tests := []struct {
		name      string
		setup     func(h *harness)
		wantNames []string
		check     func(t *testing.T, h *harness, rep *Report)
	}{
		{
			name:      "capture failure omits room",
			setup:     func(h *harness) { h.fv.FailAtTarget(testutil.OpCapture, kitchenTarget, boom) },
			wantNames: []string{"Bath", "Hall"},
			check: func(t *testing.T, h *harness, _ *Report) {
				assert.False(t, h.fs.Exists("/out/Kitchen.png"))
				// No visibility query for the failed room.
				assert.Len(t, h.fv.CallsFor(testutil.OpSelect), 2)
			},
		},
		{
			name:      "transition failure omits room",
			setup:     func(h *harness) { h.fv.FailAtTarget(testutil.OpSetView, kitchenTarget, boom) },
			wantNames: []string{"Bath", "Hall"},
			check: func(t *testing.T, h *harness, _ *Report) {
				assert.Len(t, h.fv.CallsFor(testutil.OpCapture), 2)
			},
		},
		{
			name:      "focal length failure omits room",
			setup:     func(h *harness) { h.fv.FailAtTarget(testutil.OpFocal, kitchenTarget, boom) },
			wantNames: []string{"Bath", "Hall"},
		},
		{
			name:      "visibility failure keeps image",
			setup:     func(h *harness) { h.fv.FailAtTarget(testutil.OpSelect, kitchenTarget, boom) },
			wantNames: []string{"Bath", "Kitchen", "Hall"},
			check: func(t *testing.T, h *harness, rep *Report) {
				k := rep.Results[1]
				assert.Empty(t, k.DbIDsInView)
				assert.NotNil(t, k.DbIDsInView)
				assert.Contains(t, k.Error, StepVisibility)
				assert.True(t, h.fs.Exists("/out/Kitchen.png"))
				assert.Empty(t, rep.Results[0].Error)
			},
		},
		{
			name:      "image write failure keeps result",
			setup:     func(h *harness) { h.fs.FailWrites("/out/Kitchen.png", boom) },
			wantNames: []string{"Bath", "Kitchen", "Hall"},
			check: func(t *testing.T, h *harness, rep *Report) {
				assert.Empty(t, rep.Results[1].ImagePath)
				assert.Empty(t, rep.Results[1].Error)
			},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness(house())
			tt.setup(h)

			rep, err := h.orchestrator().Run(context.Background())
			require.NoError(t, err)
			assert.Equal(t, StateDone, rep.State)
			assert.Equal(t, tt.wantNames, resultNames(rep.Results))
			assert.Equal(t, 1, h.exp.calls)
			if tt.check != nil {
				tt.check(t, h, rep)
			}
		})
	}
}

func TestRun_StepTimeout(t *testing.T) {
	h := newHarness(house())
	timeout := "20ms"
	h.cfg.StepTimeout = &timeout
	release := h.fv.Hold(testutil.OpCapture)
	defer release()

	rep, err := h.orchestrator().Run(context.Background())
	require.NoError(t, err)
	assert.Empty(t, rep.Results)
	assert.Len(t, h.fv.CallsFor(testutil.OpCapture), 3)
	// Zero results still reach the exporter.
	assert.Equal(t, 1, h.exp.calls)
	assert.Empty(t, h.exp.results)
}

func TestRun_RejectsConcurrentTrigger(t *testing.T) {
	h := newHarness(house())
	release := h.fv.Hold(testutil.OpCapture)
	o := h.orchestrator()

	done := make(chan error, 1)
	go func() {
		_, err := o.Run(context.Background())
		done <- err
	}()

	require.Eventually(t, func() bool {
		return len(h.fv.CallsFor(testutil.OpCapture)) > 0
	}, time.Second, time.Millisecond)

	rep, err := o.Run(context.Background())
	assert.Nil(t, rep)
	assert.ErrorIs(t, err, ErrRunInProgress)
	assert.Equal(t, StateDraining, o.State())

	release()
	require.NoError(t, <-done)
	assert.Equal(t, 1, h.exp.calls)

	// Once finished a new trigger starts cleanly with a fresh run.
	rep, err = o.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "run-2", rep.RunID)
	assert.Len(t, rep.Results, 3)
	assert.Equal(t, 2, h.exp.calls)
}

func TestRun_CancelStopsDrain(t *testing.T) {
	h := newHarness(house())
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	o := h.orchestrator(WithStateObserver(func(_ string, _, to State) {
		if to == StateDraining {
			cancel()
		}
	}))

	rep, err := o.Run(ctx)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, StateFailed, rep.State)
	assert.Empty(t, h.fv.CallsFor(testutil.OpSetView))
	assert.Equal(t, 0, h.exp.calls)
	// The cancelled run is still recorded.
	assert.Equal(t, []State{StateFailed}, h.rec.finished)
}

func TestRun_ExportErrorReturned(t *testing.T) {
	h := newHarness(house())
	h.exp.err = errors.New("sink failed")

	rep, err := h.orchestrator().Run(context.Background())
	assert.ErrorIs(t, err, h.exp.err)
	assert.Equal(t, StateDone, rep.State)
	assert.Len(t, rep.Results, 3)
	require.Len(t, h.rec.errs, 1)
	assert.ErrorIs(t, h.rec.errs[0], h.exp.err)
}

func TestRun_VisibleIDsFlattened(t *testing.T) {
	fv := house()
	fv.SetVisible(kitchenTarget, 40, 12, 40)
	h := newHarness(fv)

	rep, err := h.orchestrator().Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []viewer.ObjectID{40, 12}, rep.Results[1].DbIDsInView)
}

func TestRun_NilExporter(t *testing.T) {
	h := newHarness(house())
	o := New(h.fv, nil, WithFileSystem(h.fs), WithOutputDir("/out"))

	rep, err := o.Run(context.Background())
	require.NoError(t, err)
	assert.Len(t, rep.Results, 3)
	assert.NotEmpty(t, rep.RunID)
}

func TestStateString(t *testing.T) {
	tests := map[State]string{
		StateIdle:     "idle",
		StatePlanning: "planning",
		StateDraining: "draining",
		StateDone:     "done",
		StateFailed:   "failed",
		State(42):     "unknown",
	}
	for s, want := range tests {
		assert.Equal(t, want, s.String())
	}
}

func TestStepError(t *testing.T) {
	inner := errors.New("lost context")
	err := error(&StepError{Room: "Kitchen", Step: StepCapture, Err: inner})
	assert.ErrorIs(t, err, inner)
	assert.Equal(t, `room "Kitchen": capture_image: lost context`, err.Error())
}

func TestRun_DistinctRoomNamesKeepDistinctImages(t *testing.T) {
	names := []string{"会议室", "厨房", "Room (A)", "Room [A]"}
	var objs []testutil.FakeObject
	for i, n := range names {
		minX := float64(i * 10)
		objs = append(objs, testutil.FakeObject{
			ID:       viewer.ObjectID(i + 1),
			Name:     n,
			Category: "Revit Rooms",
			Box:      geometry.NewBox(r3.Vec{X: minX}, r3.Vec{X: minX + 4, Y: 4, Z: 3}),
		})
	}
	h := newHarness(testutil.NewFakeViewer(objs...))

	rep, err := h.orchestrator().Run(context.Background())
	require.NoError(t, err)
	require.Len(t, rep.Results, len(names))

	assert.Len(t, h.fs.Files("/out"), len(names))
	contents := make(map[string]bool, len(names))
	for _, n := range names {
		path := "/out/" + n + ".png"
		data, err := h.fs.ReadFile(path)
		require.NoError(t, err, "missing image for %q", n)
		contents[string(data)] = true
	}
	assert.Len(t, contents, len(names), "each room keeps its own screenshot")
}
