// Package viewer defines the boundary between the capture pipeline and the
// 3D viewer it drives: the model database that owns geometry and metadata,
// the camera, the image capture service and the visible-object selector.
//
// Implementations live elsewhere (internal/viewer/offline for headless runs,
// internal/testutil for scripted fakes). Nothing in this package talks to a
// real viewer.
package viewer

import (
	"context"
	"errors"
	"fmt"

	"gonum.org/v1/gonum/spatial/r3"

	"github.com/banshee-data/roomview/internal/geometry"
)

// ErrNotFound is returned by searches and lookups that match nothing.
var ErrNotFound = errors.New("not found")

// ObjectID identifies an object (a "dbId") inside the loaded model.
type ObjectID int

// SearchOptions narrows a category search.
type SearchOptions struct {
	// Attributes restricts matching to these property names (e.g. "Category").
	// Empty matches any attribute.
	Attributes []string
	// SearchHidden includes hidden objects in the result.
	SearchHidden bool
}

// BulkOptions controls a bulk property fetch.
type BulkOptions struct {
	// PropFilter restricts the returned properties to these display names.
	// Empty returns every property.
	PropFilter []string
	// NeedsExternalID includes each object's external id in the records.
	NeedsExternalID bool
	// IgnoreHidden drops hidden objects from the result.
	IgnoreHidden bool
}

// Properties is the single-object property lookup result.
type Properties struct {
	DbID       ObjectID   `json:"dbId"`
	ExternalID string     `json:"externalId"`
	Name       string     `json:"name"`
	Properties []Property `json:"properties"`
}

// Property is one displayed attribute of an object.
type Property struct {
	DisplayName     string `json:"displayName"`
	DisplayCategory string `json:"displayCategory,omitempty"`
	DisplayValue    string `json:"displayValue"`
}

// PropertyRecord is one entry of a bulk property fetch.
type PropertyRecord struct {
	DbID       ObjectID   `json:"dbId"`
	ExternalID string     `json:"externalId,omitempty"`
	Name       string     `json:"name"`
	Properties []Property `json:"properties"`
}

// Region is a rectangle in viewport pixels. The zero Region means the full
// viewport.
type Region struct {
	Left, Top, Right, Bottom int
}

// IsFull reports whether the region selects the whole viewport.
func (r Region) IsFull() bool {
	return r == Region{}
}

// Selection groups the ids selected from one model.
type Selection struct {
	Model string     `json:"model,omitempty"`
	IDs   []ObjectID `json:"ids"`
}

// ModelDatabase answers geometry and metadata queries about the loaded model.
type ModelDatabase interface {
	// FindObjectsByCategory returns the ids whose searched attributes match
	// category. An empty result is not an error; callers decide.
	FindObjectsByCategory(ctx context.Context, category string, opts SearchOptions) ([]ObjectID, error)
	// GetProperties returns the metadata of one object.
	GetProperties(ctx context.Context, id ObjectID) (Properties, error)
	// GetWorldBoundingBox returns the union of the world bounds of every
	// fragment belonging to the object.
	GetWorldBoundingBox(ctx context.Context, id ObjectID) (geometry.Box, error)
	// BulkGetProperties resolves many objects in one call.
	BulkGetProperties(ctx context.Context, ids []ObjectID, opts BulkOptions) ([]PropertyRecord, error)
	// UnitString returns the model's length unit (e.g. "m", "ft").
	UnitString() string
}

// Camera performs camera transitions.
type Camera interface {
	// SetView moves the camera to position, looking at target.
	SetView(ctx context.Context, position, target r3.Vec) error
	// SetUpVector orients the camera's up axis.
	SetUpVector(ctx context.Context, up r3.Vec) error
	// SetFocalLength sets the lens focal length in millimeters.
	SetFocalLength(ctx context.Context, mm float64) error
}

// ImageCapturer produces a screenshot of the current view.
type ImageCapturer interface {
	// CaptureImage returns an encoded PNG of exactly width x height pixels,
	// independent of the on-screen viewport size.
	CaptureImage(ctx context.Context, width, height int) ([]byte, error)
}

// Selector reports which objects are visible in the current view.
type Selector interface {
	QueryVisibleObjects(ctx context.Context, region Region) ([]Selection, error)
}

// Viewer bundles every collaborator the pipeline consumes.
type Viewer interface {
	ModelDatabase
	Camera
	ImageCapturer
	Selector
}

// FlattenSelections concatenates the ids of every selection, preserving
// order and dropping duplicates.
func FlattenSelections(sel []Selection) []ObjectID {
	seen := make(map[ObjectID]struct{})
	out := make([]ObjectID, 0)
	for _, s := range sel {
		for _, id := range s.IDs {
			if _, ok := seen[id]; ok {
				continue
			}
			seen[id] = struct{}{}
			out = append(out, id)
		}
	}
	return out
}

// NotFoundError wraps ErrNotFound with the thing that was searched for.
func NotFoundError(what string) error {
	return fmt.Errorf("%s: %w", what, ErrNotFound)
}
