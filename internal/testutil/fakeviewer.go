package testutil

import (
	"context"
	"fmt"
	"slices"
	"sync"
	"time"

	"gonum.org/v1/gonum/spatial/r3"

	"github.com/banshee-data/roomview/internal/geometry"
	"github.com/banshee-data/roomview/internal/viewer"
)

// Operation names recorded by FakeViewer.
const (
	OpFind       = "find"
	OpProperties = "properties"
	OpBounds     = "bounds"
	OpBulk       = "bulk"
	OpSetView    = "setView"
	OpSetUp      = "setUp"
	OpFocal      = "focal"
	OpCapture    = "capture"
	OpSelect     = "select"
)

// FakeObject is one object of the fake model.
type FakeObject struct {
	ID         viewer.ObjectID
	Name       string
	ExternalID string
	Category   string
	Box        geometry.Box
	Hidden     bool
	Properties []viewer.Property
}

// Call is one recorded FakeViewer invocation.
type Call struct {
	Op       string
	Category string
	IDs      []viewer.ObjectID
	Position r3.Vec
	Target   r3.Vec
	Up       r3.Vec
	Focal    float64
	Width    int
	Height   int
}

// FakeViewer is an in-memory viewer.Viewer with scripted failures. It
// records every call and counts overlapping camera-side operations so tests
// can assert that captures never interleave.
type FakeViewer struct {
	mu sync.Mutex

	// Unit is returned by UnitString. Empty means meters.
	Unit string
	// Delay is slept inside every camera-side call, widening the window in
	// which an overlapping call would be detected.
	Delay time.Duration

	objects []FakeObject
	visible map[r3.Vec][]viewer.ObjectID

	searchErr map[string]error
	objectErr map[string]map[viewer.ObjectID]error
	targetErr map[string]map[r3.Vec]error
	holds     map[string]chan struct{}

	position, target, up r3.Vec
	focal                float64

	calls    []Call
	inFlight int
	maxSeen  int
}

// NewFakeViewer creates a fake holding objs in search order.
func NewFakeViewer(objs ...FakeObject) *FakeViewer {
	return &FakeViewer{
		objects:   objs,
		visible:   make(map[r3.Vec][]viewer.ObjectID),
		searchErr: make(map[string]error),
		objectErr: make(map[string]map[viewer.ObjectID]error),
		targetErr: make(map[string]map[r3.Vec]error),
		holds:     make(map[string]chan struct{}),
	}
}

// FailSearch makes searches for category fail with err.
func (f *FakeViewer) FailSearch(category string, err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.searchErr[category] = err
}

// FailObject makes op (OpProperties, OpBounds or OpBulk) fail with err
// whenever id is involved.
func (f *FakeViewer) FailObject(op string, id viewer.ObjectID, err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.objectErr[op] == nil {
		f.objectErr[op] = make(map[viewer.ObjectID]error)
	}
	f.objectErr[op][id] = err
}

// FailAtTarget makes a camera-side op fail with err while the camera looks
// at target. For OpSetView the requested target is matched.
func (f *FakeViewer) FailAtTarget(op string, target r3.Vec, err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.targetErr[op] == nil {
		f.targetErr[op] = make(map[r3.Vec]error)
	}
	f.targetErr[op][target] = err
}

// SetVisible scripts the ids QueryVisibleObjects returns while the camera
// looks at target. Unscripted targets report every non-hidden object whose
// box contains the target.
func (f *FakeViewer) SetVisible(target r3.Vec, ids ...viewer.ObjectID) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.visible[target] = ids
}

// Hold blocks every later call of op until the returned release func is
// called or the call's context ends.
func (f *FakeViewer) Hold(op string) (release func()) {
	ch := make(chan struct{})
	f.mu.Lock()
	f.holds[op] = ch
	f.mu.Unlock()
	var once sync.Once
	return func() {
		once.Do(func() {
			f.mu.Lock()
			delete(f.holds, op)
			f.mu.Unlock()
			close(ch)
		})
	}
}

// Calls returns a copy of every recorded call.
func (f *FakeViewer) Calls() []Call {
	f.mu.Lock()
	defer f.mu.Unlock()
	return slices.Clone(f.calls)
}

// CallsFor returns the recorded calls of one op.
func (f *FakeViewer) CallsFor(op string) []Call {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []Call
	for _, c := range f.calls {
		if c.Op == op {
			out = append(out, c)
		}
	}
	return out
}

// MaxConcurrent is the highest number of camera-side calls seen in flight at
// once.
func (f *FakeViewer) MaxConcurrent() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.maxSeen
}

// Camera returns the last applied position, target, up vector and focal
// length.
func (f *FakeViewer) Camera() (position, target, up r3.Vec, focal float64) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.position, f.target, f.up, f.focal
}

func (f *FakeViewer) record(c Call) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, c)
}

func (f *FakeViewer) object(id viewer.ObjectID) (FakeObject, bool) {
	for _, o := range f.objects {
		if o.ID == id {
			return o, true
		}
	}
	return FakeObject{}, false
}

// beginCamera marks a camera-side call in flight, waits on any hold and the
// configured delay, and returns the error scripted for the current target.
func (f *FakeViewer) beginCamera(ctx context.Context, op string, target r3.Vec) (func(), error) {
	f.mu.Lock()
	f.inFlight++
	if f.inFlight > f.maxSeen {
		f.maxSeen = f.inFlight
	}
	hold := f.holds[op]
	delay := f.Delay
	err := f.targetErr[op][target]
	f.mu.Unlock()

	done := func() {
		f.mu.Lock()
		f.inFlight--
		f.mu.Unlock()
	}

	if hold != nil {
		select {
		case <-hold:
		case <-ctx.Done():
			return done, ctx.Err()
		}
	}
	if delay > 0 {
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return done, ctx.Err()
		}
	}
	return done, err
}

// FindObjectsByCategory implements viewer.ModelDatabase.
func (f *FakeViewer) FindObjectsByCategory(ctx context.Context, category string, opts viewer.SearchOptions) ([]viewer.ObjectID, error) {
	f.record(Call{Op: OpFind, Category: category})
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.searchErr[category]; err != nil {
		return nil, err
	}
	var ids []viewer.ObjectID
	for _, o := range f.objects {
		if o.Category != category || (o.Hidden && !opts.SearchHidden) {
			continue
		}
		ids = append(ids, o.ID)
	}
	return ids, nil
}

// GetProperties implements viewer.ModelDatabase.
func (f *FakeViewer) GetProperties(ctx context.Context, id viewer.ObjectID) (viewer.Properties, error) {
	f.record(Call{Op: OpProperties, IDs: []viewer.ObjectID{id}})
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.objectErr[OpProperties][id]; err != nil {
		return viewer.Properties{}, err
	}
	o, ok := f.object(id)
	if !ok {
		return viewer.Properties{}, viewer.NotFoundError(fmt.Sprintf("dbId %d", id))
	}
	return viewer.Properties{DbID: o.ID, ExternalID: o.ExternalID, Name: o.Name, Properties: slices.Clone(o.Properties)}, nil
}

// GetWorldBoundingBox implements viewer.ModelDatabase.
func (f *FakeViewer) GetWorldBoundingBox(ctx context.Context, id viewer.ObjectID) (geometry.Box, error) {
	f.record(Call{Op: OpBounds, IDs: []viewer.ObjectID{id}})
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.objectErr[OpBounds][id]; err != nil {
		return geometry.Box{}, err
	}
	o, ok := f.object(id)
	if !ok {
		return geometry.Box{}, viewer.NotFoundError(fmt.Sprintf("dbId %d", id))
	}
	return o.Box, nil
}

// BulkGetProperties implements viewer.ModelDatabase. Unknown ids are
// dropped from the result.
func (f *FakeViewer) BulkGetProperties(ctx context.Context, ids []viewer.ObjectID, opts viewer.BulkOptions) ([]viewer.PropertyRecord, error) {
	f.record(Call{Op: OpBulk, IDs: slices.Clone(ids)})
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, id := range ids {
		if err := f.objectErr[OpBulk][id]; err != nil {
			return nil, err
		}
	}
	out := make([]viewer.PropertyRecord, 0, len(ids))
	for _, id := range ids {
		o, ok := f.object(id)
		if !ok || (o.Hidden && opts.IgnoreHidden) {
			continue
		}
		rec := viewer.PropertyRecord{DbID: o.ID, Name: o.Name, Properties: filterProps(o.Properties, opts.PropFilter)}
		if opts.NeedsExternalID {
			rec.ExternalID = o.ExternalID
		}
		out = append(out, rec)
	}
	return out, nil
}

func filterProps(props []viewer.Property, filter []string) []viewer.Property {
	out := make([]viewer.Property, 0, len(props))
	for _, p := range props {
		if len(filter) == 0 || slices.Contains(filter, p.DisplayName) {
			out = append(out, p)
		}
	}
	return out
}

// UnitString implements viewer.ModelDatabase.
func (f *FakeViewer) UnitString() string {
	if f.Unit == "" {
		return "m"
	}
	return f.Unit
}

// SetView implements viewer.Camera.
func (f *FakeViewer) SetView(ctx context.Context, position, target r3.Vec) error {
	f.record(Call{Op: OpSetView, Position: position, Target: target})
	done, err := f.beginCamera(ctx, OpSetView, target)
	defer done()
	if err != nil {
		return err
	}
	f.mu.Lock()
	f.position, f.target = position, target
	f.mu.Unlock()
	return nil
}

// SetUpVector implements viewer.Camera.
func (f *FakeViewer) SetUpVector(ctx context.Context, up r3.Vec) error {
	_, target, _, _ := f.Camera()
	f.record(Call{Op: OpSetUp, Up: up, Target: target})
	done, err := f.beginCamera(ctx, OpSetUp, target)
	defer done()
	if err != nil {
		return err
	}
	f.mu.Lock()
	f.up = up
	f.mu.Unlock()
	return nil
}

// SetFocalLength implements viewer.Camera.
func (f *FakeViewer) SetFocalLength(ctx context.Context, mm float64) error {
	_, target, _, _ := f.Camera()
	f.record(Call{Op: OpFocal, Focal: mm, Target: target})
	done, err := f.beginCamera(ctx, OpFocal, target)
	defer done()
	if err != nil {
		return err
	}
	f.mu.Lock()
	f.focal = mm
	f.mu.Unlock()
	return nil
}

// CaptureImage implements viewer.ImageCapturer. The returned bytes are a
// deterministic placeholder naming the size and target, not a real PNG.
func (f *FakeViewer) CaptureImage(ctx context.Context, width, height int) ([]byte, error) {
	pos, target, _, _ := f.Camera()
	f.record(Call{Op: OpCapture, Position: pos, Target: target, Width: width, Height: height})
	done, err := f.beginCamera(ctx, OpCapture, target)
	defer done()
	if err != nil {
		return nil, err
	}
	return []byte(fmt.Sprintf("fake-png %dx%d target=%v", width, height, target)), nil
}

// QueryVisibleObjects implements viewer.Selector.
func (f *FakeViewer) QueryVisibleObjects(ctx context.Context, region viewer.Region) ([]viewer.Selection, error) {
	pos, target, _, _ := f.Camera()
	f.record(Call{Op: OpSelect, Position: pos, Target: target})
	done, err := f.beginCamera(ctx, OpSelect, target)
	defer done()
	if err != nil {
		return nil, err
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	if ids, ok := f.visible[target]; ok {
		return []viewer.Selection{{IDs: slices.Clone(ids)}}, nil
	}
	ids := make([]viewer.ObjectID, 0)
	for _, o := range f.objects {
		if !o.Hidden && o.Box.ContainsPoint(target) {
			ids = append(ids, o.ID)
		}
	}
	return []viewer.Selection{{IDs: ids}}, nil
}

var _ viewer.Viewer = (*FakeViewer)(nil)
