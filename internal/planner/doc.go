// Package planner computes one camera viewpoint per room of a building model.
//
// Rooms and doors are fetched fresh from the model database on every run.
// A room's camera looks at the center of its bounding box from just inside
// the first door that touches the room, or from halfway between the box's
// upper corner and its center when no door touches it. The camera height is
// always standing eye height above the room floor.
//
// Distances are configured in meters and scaled by the model unit
// multiplier (see internal/units), so a feet model gets the same physical
// offsets as a metric one.
package planner
