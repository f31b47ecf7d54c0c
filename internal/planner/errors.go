package planner

import (
	"errors"
	"fmt"

	"github.com/banshee-data/roomview/internal/viewer"
)

var (
	// ErrNoRooms is returned when the room search matches nothing.
	ErrNoRooms = errors.New("no rooms found in current model")
	// ErrNoDoors is reported when the door search matches nothing. It only
	// ever surfaces in logs: planning continues with the fallback formula.
	ErrNoDoors = errors.New("no doors found in current model")
	// ErrEmptyBounds is returned for objects with no geometric fragments.
	ErrEmptyBounds = errors.New("bounding box is empty")
)

// SearchFailureError aborts a whole planning run: the candidate search
// failed or found nothing to plan.
type SearchFailureError struct {
	Kind     string // "rooms" or "doors"
	Category string
	Err      error
}

func (e *SearchFailureError) Error() string {
	return fmt.Sprintf("search for %s (category %q) failed: %v", e.Kind, e.Category, e.Err)
}

func (e *SearchFailureError) Unwrap() error { return e.Err }

// GeometryResolutionError means one object's bounding box could not be
// resolved. The object is skipped; the batch continues.
type GeometryResolutionError struct {
	ObjectID viewer.ObjectID
	Name     string
	Err      error
}

func (e *GeometryResolutionError) Error() string {
	return fmt.Sprintf("resolve bounding box of %q (dbId %d): %v", e.Name, e.ObjectID, e.Err)
}

func (e *GeometryResolutionError) Unwrap() error { return e.Err }
