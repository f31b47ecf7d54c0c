// Package capture drives the viewer through one viewpoint at a time and
// collects what each room shows.
package capture

import (
	"context"
	"errors"
	"sync"

	"github.com/google/uuid"

	"github.com/banshee-data/roomview/internal/config"
	"github.com/banshee-data/roomview/internal/fsutil"
	"github.com/banshee-data/roomview/internal/monitoring"
	"github.com/banshee-data/roomview/internal/planner"
	"github.com/banshee-data/roomview/internal/timeutil"
	"github.com/banshee-data/roomview/internal/viewer"
)

// Orchestrator plans viewpoints and drains them sequentially through the
// viewer. Only one run may be active at a time.
type Orchestrator struct {
	viewer   viewer.Viewer
	exporter Exporter
	cfg      *config.PipelineConfig
	fs       fsutil.FileSystem
	outDir   string
	clock    timeutil.Clock
	recorder Recorder
	observer StateObserver
	newID    func() string

	mu      sync.Mutex
	state   State
	running bool
}

// Option configures an Orchestrator.
type Option func(*Orchestrator)

// WithConfig sets the pipeline configuration. Defaults apply otherwise.
func WithConfig(cfg *config.PipelineConfig) Option {
	return func(o *Orchestrator) { o.cfg = cfg }
}

// WithFileSystem sets where screenshots are written.
func WithFileSystem(fs fsutil.FileSystem) Option {
	return func(o *Orchestrator) { o.fs = fs }
}

// WithOutputDir sets the screenshot directory.
func WithOutputDir(dir string) Option {
	return func(o *Orchestrator) { o.outDir = dir }
}

// WithClock replaces the wall clock.
func WithClock(c timeutil.Clock) Option {
	return func(o *Orchestrator) { o.clock = c }
}

// WithRecorder persists run lifecycle events.
func WithRecorder(r Recorder) Option {
	return func(o *Orchestrator) { o.recorder = r }
}

// WithStateObserver reports every state transition.
func WithStateObserver(fn StateObserver) Option {
	return func(o *Orchestrator) { o.observer = fn }
}

// withIDGenerator replaces uuid generation in tests.
func withIDGenerator(fn func() string) Option {
	return func(o *Orchestrator) { o.newID = fn }
}

// New creates an orchestrator driving v. A nil exporter skips the export
// step.
func New(v viewer.Viewer, exporter Exporter, opts ...Option) *Orchestrator {
	o := &Orchestrator{
		viewer:   v,
		exporter: exporter,
		cfg:      config.EmptyPipelineConfig(),
		fs:       fsutil.OSFileSystem{},
		outDir:   ".",
		clock:    timeutil.RealClock{},
		newID:    uuid.NewString,
	}
	for _, opt := range opts {
		opt(o)
	}
	if o.cfg == nil {
		o.cfg = config.EmptyPipelineConfig()
	}
	return o
}

// State returns the phase of the current or most recent run.
func (o *Orchestrator) State() State {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.state
}

func (o *Orchestrator) transition(r *run, to State) {
	o.mu.Lock()
	from := o.state
	o.state = to
	o.mu.Unlock()

	r.state = to
	monitoring.Logf("[Capture] run %s: %s -> %s", r.id, from, to)
	if o.observer != nil {
		o.observer(r.id, from, to)
	}
}

// Run plans every room, captures them one after another and hands the
// results to the exporter. A planning failure aborts the run before any
// capture. The returned report is non-nil whenever the run started.
func (o *Orchestrator) Run(ctx context.Context) (*Report, error) {
	o.mu.Lock()
	if o.running {
		o.mu.Unlock()
		return nil, ErrRunInProgress
	}
	o.running = true
	o.mu.Unlock()
	defer func() {
		o.mu.Lock()
		o.running = false
		o.mu.Unlock()
	}()

	r := newRun(o.newID(), o.clock.Now(), o.cfg.GetDrainOrder())
	o.recordStart(ctx, r)

	o.transition(r, StatePlanning)
	vps, err := planner.NewPlanner(o.viewer, o.cfg).PlanViewpoints(ctx)
	if err != nil {
		return o.fail(ctx, r, err)
	}
	r.push(vps)

	if err := o.fs.MkdirAll(o.outDir, 0o755); err != nil {
		monitoring.Logf("[Capture] create output dir %s: %v", o.outDir, err)
	}

	o.transition(r, StateDraining)
	for {
		if err := ctx.Err(); err != nil {
			return o.fail(ctx, r, err)
		}
		vp, ok := r.pop()
		if !ok {
			break
		}
		if res, ok := o.captureRoom(ctx, vp); ok {
			r.results = append(r.results, res)
		}
	}
	monitoring.Logf("[Capture] run %s: captured %d of %d planned rooms", r.id, len(r.results), r.planned)

	o.transition(r, StateDone)
	var exportErr error
	if o.exporter != nil {
		exportErr = o.exporter.Export(ctx, r.id, r.results)
	}
	o.recordFinish(ctx, r, exportErr)
	return r.report(o.clock.Now()), exportErr
}

func (o *Orchestrator) fail(ctx context.Context, r *run, err error) (*Report, error) {
	monitoring.Logf("[Capture] run %s failed: %v", r.id, err)
	o.transition(r, StateFailed)
	o.recordFinish(ctx, r, err)
	return r.report(o.clock.Now()), err
}

// captureRoom performs the camera transition, screenshot and visibility
// query for one viewpoint. It reports false when the room must be omitted.
func (o *Orchestrator) captureRoom(ctx context.Context, vp planner.Viewpoint) (Result, bool) {
	up := o.cfg.GetUpVector()
	focal := o.cfg.GetFocalLengthMM()

	transition := []struct {
		name string
		fn   func(context.Context) error
	}{
		{StepSetView, func(c context.Context) error { return o.viewer.SetView(c, vp.Position, vp.Target) }},
		{StepUpVector, func(c context.Context) error { return o.viewer.SetUpVector(c, up) }},
		{StepFocalLength, func(c context.Context) error { return o.viewer.SetFocalLength(c, focal) }},
	}
	for _, s := range transition {
		if err := o.step(ctx, vp.RoomName, s.name, s.fn); err != nil {
			monitoring.Logf("[Capture] omitting room: %v", err)
			return Result{}, false
		}
	}

	var img []byte
	err := o.step(ctx, vp.RoomName, StepCapture, func(c context.Context) error {
		var err error
		img, err = o.viewer.CaptureImage(c, o.cfg.GetImageWidth(), o.cfg.GetImageHeight())
		return err
	})
	if err != nil {
		monitoring.Logf("[Capture] omitting room: %v", err)
		return Result{}, false
	}

	res := Result{Name: vp.RoomName, DbIDsInView: []viewer.ObjectID{}}
	var sel []viewer.Selection
	err = o.step(ctx, vp.RoomName, StepVisibility, func(c context.Context) error {
		var err error
		sel, err = o.viewer.QueryVisibleObjects(c, viewer.Region{})
		return err
	})
	if err != nil {
		monitoring.Logf("[Capture] %v", err)
		res.Error = err.Error()
	} else {
		res.DbIDsInView = viewer.FlattenSelections(sel)
	}

	if path, err := o.writeImage(vp.RoomName, img); err != nil {
		monitoring.Logf("[Capture] %v", &StepError{Room: vp.RoomName, Step: StepWriteImage, Err: err})
	} else {
		res.ImagePath = path
	}
	return res, true
}

// step runs fn under the per-step timeout and wraps any failure.
func (o *Orchestrator) step(ctx context.Context, room, name string, fn func(context.Context) error) error {
	sctx, cancel := o.stepContext(ctx)
	defer cancel()
	if err := fn(sctx); err != nil {
		return &StepError{Room: room, Step: name, Err: err}
	}
	return nil
}

func (o *Orchestrator) stepContext(ctx context.Context) (context.Context, context.CancelFunc) {
	if d := o.cfg.GetStepTimeout(); d > 0 {
		return context.WithTimeout(ctx, d)
	}
	return context.WithCancel(ctx)
}

func (o *Orchestrator) writeImage(room string, img []byte) (string, error) {
	path, err := fsutil.ArtifactPath(o.outDir, room, ".png")
	if err != nil {
		return "", err
	}
	if err := o.fs.WriteFile(path, img, 0o644); err != nil {
		return "", err
	}
	return path, nil
}

func (o *Orchestrator) recordStart(ctx context.Context, r *run) {
	if o.recorder == nil {
		return
	}
	if err := o.recorder.RunStarted(ctx, r.id, r.startedAt); err != nil {
		monitoring.Logf("[Capture] record start of run %s: %v", r.id, err)
	}
}

func (o *Orchestrator) recordFinish(ctx context.Context, r *run, runErr error) {
	if o.recorder == nil {
		return
	}
	// A cancelled run is still recorded.
	if ctx.Err() != nil {
		ctx = context.WithoutCancel(ctx)
	}
	if err := o.recorder.RunFinished(ctx, r.id, r.state, o.clock.Now(), runErr); err != nil && !errors.Is(err, context.Canceled) {
		monitoring.Logf("[Capture] record finish of run %s: %v", r.id, err)
	}
}
