package planner

import (
	"context"
	"math"

	"gonum.org/v1/gonum/spatial/r3"

	"github.com/banshee-data/roomview/internal/config"
	"github.com/banshee-data/roomview/internal/geometry"
	"github.com/banshee-data/roomview/internal/monitoring"
	"github.com/banshee-data/roomview/internal/units"
	"github.com/banshee-data/roomview/internal/viewer"
)

// PlanViewpoint computes the camera placement for one room.
//
// The target is the room center. When a door's bounds intersect the room,
// the camera stands DoorOffsetMeters inside the room from that door's center
// toward the target; otherwise it sits halfway between the room's max corner
// and the target. Either way the height is replaced by eye level above the
// room floor.
func PlanViewpoint(room Room, doors []Door, p Params) Viewpoint {
	target := room.Box.Center()
	vp := Viewpoint{RoomName: room.Name, RoomID: room.DbID, Target: target}

	if door, ok := pickDoor(room, doors, target, p.NearestDoor); ok {
		dc := door.Box.Center()
		dir := geometry.Direction(dc, target)
		vp.Position = r3.Add(dc, r3.Scale(p.DoorOffsetMeters*p.Multiplier, dir))
		vp.ViaDoor = door.DbID
	} else {
		vp.Position = geometry.Midpoint(room.Box.Max, target)
	}
	vp.Position.Z = room.Box.Min.Z + p.EyeHeightMeters*p.Multiplier
	return vp
}

func pickDoor(room Room, doors []Door, target r3.Vec, nearest bool) (Door, bool) {
	var (
		best  Door
		found bool
		bestD = math.Inf(1)
	)
	for _, d := range doors {
		if !room.Box.Intersects(d.Box) {
			continue
		}
		if !nearest {
			return d, true
		}
		// Strict comparison keeps the earliest door on ties.
		if dist := geometry.Distance(d.Box.Center(), target); dist < bestD {
			best, bestD, found = d, dist, true
		}
	}
	return best, found
}

// Planner turns the rooms of the loaded model into viewpoints.
type Planner struct {
	db     viewer.ModelDatabase
	cfg    *config.PipelineConfig
	loader *Loader
}

// NewPlanner creates a planner over db. A nil cfg uses defaults.
func NewPlanner(db viewer.ModelDatabase, cfg *config.PipelineConfig) *Planner {
	if cfg == nil {
		cfg = config.EmptyPipelineConfig()
	}
	search := viewer.SearchOptions{
		Attributes:   []string{cfg.GetSearchAttribute()},
		SearchHidden: cfg.GetSearchHidden(),
	}
	return &Planner{
		db:     db,
		cfg:    cfg,
		loader: NewLoader(db, cfg.GetRoomCategory(), cfg.GetDoorCategory(), search),
	}
}

// Params derives the formula inputs from the configuration and the model's
// unit string.
func (p *Planner) Params() Params {
	return Params{
		EyeHeightMeters:  p.cfg.GetEyeHeightMeters(),
		DoorOffsetMeters: p.cfg.GetDoorOffsetMeters(),
		Multiplier:       units.Multiplier(p.db.UnitString()),
		NearestDoor:      p.cfg.GetDoorSelection() == config.DoorNearest,
	}
}

// PlanViewpoints returns one viewpoint per room whose geometry resolves, in
// the order the room search returned them. Rooms whose bounds cannot be
// resolved are logged and omitted.
func (p *Planner) PlanViewpoints(ctx context.Context) ([]Viewpoint, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	rooms, err := p.loader.LoadRooms(ctx)
	if err != nil {
		return nil, err
	}
	doors, err := p.loader.LoadDoors(ctx)
	if err != nil {
		return nil, err
	}

	params := p.Params()
	monitoring.Logf("[Planner] planning %d rooms against %d doors (unit %q, multiplier %.5f)",
		len(rooms), len(doors), p.db.UnitString(), params.Multiplier)

	out := make([]Viewpoint, 0, len(rooms))
	for _, room := range rooms {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		box, err := resolveBox(ctx, p.db, room.DbID, room.Name)
		if err != nil {
			monitoring.Logf("[Planner] skipping room: %v", err)
			continue
		}
		room.Box = box
		out = append(out, PlanViewpoint(room, doors, params))
	}
	monitoring.Logf("[Planner] planned %d of %d rooms", len(out), len(rooms))
	return out, nil
}
