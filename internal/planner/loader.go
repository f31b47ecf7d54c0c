package planner

import (
	"context"
	"errors"
	"fmt"

	"github.com/banshee-data/roomview/internal/geometry"
	"github.com/banshee-data/roomview/internal/monitoring"
	"github.com/banshee-data/roomview/internal/viewer"
)

// Loader fetches room and door candidates from the model database.
type Loader struct {
	db           viewer.ModelDatabase
	roomCategory string
	doorCategory string
	search       viewer.SearchOptions
}

// NewLoader creates a Loader for the given categories.
func NewLoader(db viewer.ModelDatabase, roomCategory, doorCategory string, search viewer.SearchOptions) *Loader {
	return &Loader{
		db:           db,
		roomCategory: roomCategory,
		doorCategory: doorCategory,
		search:       search,
	}
}

// LoadRooms returns every room in the model. Bounding boxes are left
// unresolved. A failed or empty search is a SearchFailureError.
func (l *Loader) LoadRooms(ctx context.Context) ([]Room, error) {
	ids, err := l.db.FindObjectsByCategory(ctx, l.roomCategory, l.search)
	if err == nil && len(ids) == 0 {
		err = ErrNoRooms
	} else if errors.Is(err, viewer.ErrNotFound) {
		err = fmt.Errorf("%w: %v", ErrNoRooms, err)
	}
	if err != nil {
		return nil, &SearchFailureError{Kind: "rooms", Category: l.roomCategory, Err: err}
	}

	rooms := make([]Room, 0, len(ids))
	for _, id := range ids {
		ext, name := l.describe(ctx, id, "room")
		rooms = append(rooms, Room{DbID: id, ExternalID: ext, Name: name, Box: geometry.EmptyBox()})
	}
	return rooms, nil
}

// LoadDoors returns every door with a resolved bounding box. Doors whose
// bounds cannot be resolved are logged and skipped. Finding no doors is not
// fatal; any other search failure is a SearchFailureError.
func (l *Loader) LoadDoors(ctx context.Context) ([]Door, error) {
	ids, err := l.db.FindObjectsByCategory(ctx, l.doorCategory, l.search)
	if errors.Is(err, viewer.ErrNotFound) || (err == nil && len(ids) == 0) {
		monitoring.Logf("[Planner] %v (category %q); every room uses the fallback viewpoint", ErrNoDoors, l.doorCategory)
		return nil, nil
	}
	if err != nil {
		return nil, &SearchFailureError{Kind: "doors", Category: l.doorCategory, Err: err}
	}

	doors := make([]Door, 0, len(ids))
	for _, id := range ids {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		ext, name := l.describe(ctx, id, "door")
		box, err := resolveBox(ctx, l.db, id, name)
		if err != nil {
			monitoring.Logf("[Planner] skipping door: %v", err)
			continue
		}
		doors = append(doors, Door{DbID: id, ExternalID: ext, Name: name, Box: box})
	}
	return doors, nil
}

// describe looks up the external id and display name of an object. A failed
// lookup is logged and replaced by a placeholder name so the object can
// still be planned.
func (l *Loader) describe(ctx context.Context, id viewer.ObjectID, kind string) (string, string) {
	props, err := l.db.GetProperties(ctx, id)
	if err != nil {
		name := fmt.Sprintf("%s-%d", kind, id)
		monitoring.Logf("[Planner] properties of %s %d unavailable, using %q: %v", kind, id, name, err)
		return "", name
	}
	name := props.Name
	if name == "" {
		name = fmt.Sprintf("%s-%d", kind, id)
	}
	return props.ExternalID, name
}

// resolveBox fetches an object's world bounding box, treating an empty box
// as a resolution failure.
func resolveBox(ctx context.Context, db viewer.ModelDatabase, id viewer.ObjectID, name string) (geometry.Box, error) {
	box, err := db.GetWorldBoundingBox(ctx, id)
	if err == nil && box.IsEmpty() {
		err = ErrEmptyBounds
	}
	if err != nil {
		return geometry.Box{}, &GeometryResolutionError{ObjectID: id, Name: name, Err: err}
	}
	return box, nil
}
