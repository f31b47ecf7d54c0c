// Package offline is a headless viewer over the sqlite model store. It keeps
// camera state in memory, answers visibility with a pinhole frustum test and
// renders captures as plan-view PNGs.
package offline

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sync"

	"gonum.org/v1/gonum/spatial/r3"

	"github.com/banshee-data/roomview/internal/geometry"
	"github.com/banshee-data/roomview/internal/scene"
	"github.com/banshee-data/roomview/internal/viewer"
)

// filmHalfHeightMM is half the frame height of 35 mm film.
const filmHalfHeightMM = 12.0

const (
	defaultFocalMM  = 35.0
	defaultViewport = 512
)

var errNoView = errors.New("camera view not set")

// Camera is the current camera state.
type Camera struct {
	Position r3.Vec
	Target   r3.Vec
	Up       r3.Vec
	FocalMM  float64
	// Width and Height are the viewport the selector projects into. They
	// follow the size of the most recent capture.
	Width, Height int

	viewSet bool
}

// Viewer implements viewer.Viewer over a scene store.
type Viewer struct {
	store *scene.Store
	unit  string

	mu  sync.Mutex
	cam Camera
}

var _ viewer.Viewer = (*Viewer)(nil)

// New creates a viewer over store. The model unit is read once.
func New(ctx context.Context, store *scene.Store) (*Viewer, error) {
	unit, err := store.Unit(ctx)
	if err != nil {
		return nil, err
	}
	return &Viewer{
		store: store,
		unit:  unit,
		cam: Camera{
			Up:      r3.Vec{Z: 1},
			FocalMM: defaultFocalMM,
			Width:   defaultViewport,
			Height:  defaultViewport,
		},
	}, nil
}

func (v *Viewer) FindObjectsByCategory(ctx context.Context, category string, opts viewer.SearchOptions) ([]viewer.ObjectID, error) {
	return v.store.FindObjectsByCategory(ctx, category, opts)
}

func (v *Viewer) GetProperties(ctx context.Context, id viewer.ObjectID) (viewer.Properties, error) {
	return v.store.GetProperties(ctx, id)
}

func (v *Viewer) GetWorldBoundingBox(ctx context.Context, id viewer.ObjectID) (geometry.Box, error) {
	return v.store.GetWorldBoundingBox(ctx, id)
}

func (v *Viewer) BulkGetProperties(ctx context.Context, ids []viewer.ObjectID, opts viewer.BulkOptions) ([]viewer.PropertyRecord, error) {
	return v.store.BulkGetProperties(ctx, ids, opts)
}

func (v *Viewer) UnitString() string { return v.unit }

// SetView moves the camera. Position and target must differ.
func (v *Viewer) SetView(ctx context.Context, position, target r3.Vec) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if r3.Norm(r3.Sub(target, position)) == 0 {
		return fmt.Errorf("camera position equals target %v", target)
	}
	v.mu.Lock()
	defer v.mu.Unlock()
	v.cam.Position = position
	v.cam.Target = target
	v.cam.viewSet = true
	return nil
}

func (v *Viewer) SetUpVector(ctx context.Context, up r3.Vec) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if r3.Norm(up) == 0 {
		return errors.New("up vector must be non-zero")
	}
	v.mu.Lock()
	v.cam.Up = r3.Unit(up)
	v.mu.Unlock()
	return nil
}

func (v *Viewer) SetFocalLength(ctx context.Context, mm float64) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if mm <= 0 || math.IsNaN(mm) || math.IsInf(mm, 0) {
		return fmt.Errorf("focal length must be positive, got %v", mm)
	}
	v.mu.Lock()
	v.cam.FocalMM = mm
	v.mu.Unlock()
	return nil
}

// Camera returns a copy of the current camera state.
func (v *Viewer) Camera() Camera {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.cam
}

// FieldOfView returns the vertical field of view in radians for a focal
// length in millimeters.
func FieldOfView(focalMM float64) float64 {
	return 2 * math.Atan(filmHalfHeightMM/focalMM)
}

// QueryVisibleObjects returns the non-hidden objects any of whose box corners
// or center project inside region. Objects enclosing the camera are always
// visible.
func (v *Viewer) QueryVisibleObjects(ctx context.Context, region viewer.Region) ([]viewer.Selection, error) {
	cam := v.Camera()
	if !cam.viewSet {
		return nil, errNoView
	}
	candidates, err := v.store.Candidates(ctx)
	if err != nil {
		return nil, err
	}

	if region.IsFull() {
		region = fullRegion(cam)
	}
	proj := newProjection(cam)

	ids := make([]viewer.ObjectID, 0)
	for _, c := range candidates {
		if c.Hidden {
			continue
		}
		if c.Box.ContainsPoint(cam.Position) || proj.anyInside(c.Box, region) {
			ids = append(ids, c.ID)
		}
	}
	return []viewer.Selection{{IDs: ids}}, nil
}

// projection maps world points to viewport pixels for a pinhole camera.
type projection struct {
	eye                r3.Vec
	forward, right, up r3.Vec
	tanHalf, aspect    float64
	width, height      float64
}

func newProjection(cam Camera) projection {
	forward := r3.Unit(r3.Sub(cam.Target, cam.Position))
	right := r3.Cross(forward, cam.Up)
	if r3.Norm(right) == 0 {
		// Looking along the up axis; any perpendicular will do.
		right = r3.Cross(forward, r3.Vec{X: 1})
		if r3.Norm(right) == 0 {
			right = r3.Cross(forward, r3.Vec{Y: 1})
		}
	}
	right = r3.Unit(right)
	return projection{
		eye:     cam.Position,
		forward: forward,
		right:   right,
		up:      r3.Cross(right, forward),
		tanHalf: math.Tan(FieldOfView(cam.FocalMM) / 2),
		aspect:  float64(cam.Width) / float64(cam.Height),
		width:   float64(cam.Width),
		height:  float64(cam.Height),
	}
}

// pixel returns the viewport position of p, and false when p is behind the
// camera.
func (pr projection) pixel(p r3.Vec) (float64, float64, bool) {
	d := r3.Sub(p, pr.eye)
	z := r3.Dot(d, pr.forward)
	if z <= 0 {
		return 0, 0, false
	}
	ndcX := r3.Dot(d, pr.right) / z / (pr.tanHalf * pr.aspect)
	ndcY := r3.Dot(d, pr.up) / z / pr.tanHalf
	return (ndcX + 1) / 2 * pr.width, (1 - ndcY) / 2 * pr.height, true
}

func (pr projection) anyInside(b geometry.Box, region viewer.Region) bool {
	points := append(b.Corners(), b.Center())
	for _, p := range points {
		x, y, ok := pr.pixel(p)
		if !ok {
			continue
		}
		if x >= float64(region.Left) && x <= float64(region.Right) &&
			y >= float64(region.Top) && y <= float64(region.Bottom) {
			return true
		}
	}
	return false
}
