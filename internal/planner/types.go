package planner

import (
	"gonum.org/v1/gonum/spatial/r3"

	"github.com/banshee-data/roomview/internal/geometry"
	"github.com/banshee-data/roomview/internal/viewer"
)

// Room is one room-category object of the model.
type Room struct {
	DbID       viewer.ObjectID
	ExternalID string
	Name       string
	// Box is the union of the room's fragment bounds. It stays empty until
	// the planner resolves it.
	Box geometry.Box
}

// Door is one door-category object with its resolved bounding box.
type Door struct {
	DbID       viewer.ObjectID
	ExternalID string
	Name       string
	Box        geometry.Box
}

// Viewpoint is a planned camera placement for one room. It is never mutated
// after planning and is consumed exactly once by the capture orchestrator.
type Viewpoint struct {
	RoomName string          `json:"name"`
	RoomID   viewer.ObjectID `json:"dbId"`
	Position r3.Vec          `json:"position"`
	Target   r3.Vec          `json:"target"`
	// ViaDoor is the door the position was derived from, or zero when the
	// fallback formula was used.
	ViaDoor viewer.ObjectID `json:"viaDoor,omitempty"`
}

// Params are the geometric inputs of the viewpoint formula.
type Params struct {
	EyeHeightMeters  float64
	DoorOffsetMeters float64
	// Multiplier converts meters into model units.
	Multiplier float64
	// NearestDoor ranks intersecting doors by distance to the room center
	// instead of taking the first one found.
	NearestDoor bool
}
