// Package geometry holds the small amount of 3D math the viewpoint planner
// needs: axis-aligned world boxes and direction helpers over r3 vectors.
package geometry

import (
	"math"

	"gonum.org/v1/gonum/spatial/r3"
)

// directionEpsilon is the shortest segment for which a direction is defined.
// Anything shorter is treated as a zero-length segment.
const directionEpsilon = 1e-12

// Box is an axis-aligned bounding box in world coordinates (model units).
// A Box with Min greater than Max on any axis is empty.
type Box struct {
	Min r3.Vec `json:"min"`
	Max r3.Vec `json:"max"`
}

// NewBox returns the box spanning the two corners, regardless of their order.
func NewBox(a, b r3.Vec) Box {
	return Box{
		Min: r3.Vec{X: math.Min(a.X, b.X), Y: math.Min(a.Y, b.Y), Z: math.Min(a.Z, b.Z)},
		Max: r3.Vec{X: math.Max(a.X, b.X), Y: math.Max(a.Y, b.Y), Z: math.Max(a.Z, b.Z)},
	}
}

// EmptyBox returns a box that contains nothing. Union with any box b yields b,
// which makes it the starting value when accumulating fragment bounds.
func EmptyBox() Box {
	inf := math.Inf(1)
	return Box{
		Min: r3.Vec{X: inf, Y: inf, Z: inf},
		Max: r3.Vec{X: -inf, Y: -inf, Z: -inf},
	}
}

// IsEmpty reports whether the box encloses no points.
func (b Box) IsEmpty() bool {
	return b.Max.X < b.Min.X || b.Max.Y < b.Min.Y || b.Max.Z < b.Min.Z
}

// Center returns the midpoint of the box.
func (b Box) Center() r3.Vec {
	return r3.Scale(0.5, r3.Add(b.Min, b.Max))
}

// Union returns the smallest box enclosing both b and other.
func (b Box) Union(other Box) Box {
	return Box{
		Min: r3.Vec{X: math.Min(b.Min.X, other.Min.X), Y: math.Min(b.Min.Y, other.Min.Y), Z: math.Min(b.Min.Z, other.Min.Z)},
		Max: r3.Vec{X: math.Max(b.Max.X, other.Max.X), Y: math.Max(b.Max.Y, other.Max.Y), Z: math.Max(b.Max.Z, other.Max.Z)},
	}
}

// Intersects reports whether the two boxes overlap. Boxes that only share a
// face, edge or corner count as intersecting, so a door frame flush with a
// room boundary still matches that room.
func (b Box) Intersects(other Box) bool {
	if b.IsEmpty() || other.IsEmpty() {
		return false
	}
	return !(other.Max.X < b.Min.X || other.Min.X > b.Max.X ||
		other.Max.Y < b.Min.Y || other.Min.Y > b.Max.Y ||
		other.Max.Z < b.Min.Z || other.Min.Z > b.Max.Z)
}

// ContainsPoint reports whether p lies inside or on the box.
func (b Box) ContainsPoint(p r3.Vec) bool {
	return p.X >= b.Min.X && p.X <= b.Max.X &&
		p.Y >= b.Min.Y && p.Y <= b.Max.Y &&
		p.Z >= b.Min.Z && p.Z <= b.Max.Z
}

// Corners returns the eight vertices of a non-empty box.
func (b Box) Corners() []r3.Vec {
	if b.IsEmpty() {
		return nil
	}
	out := make([]r3.Vec, 0, 8)
	for _, x := range [2]float64{b.Min.X, b.Max.X} {
		for _, y := range [2]float64{b.Min.Y, b.Max.Y} {
			for _, z := range [2]float64{b.Min.Z, b.Max.Z} {
				out = append(out, r3.Vec{X: x, Y: y, Z: z})
			}
		}
	}
	return out
}

// Direction returns the unit vector pointing from "from" towards "to".
// A zero-length segment has no direction and yields the zero vector.
func Direction(from, to r3.Vec) r3.Vec {
	d := r3.Sub(to, from)
	if r3.Norm(d) < directionEpsilon {
		return r3.Vec{}
	}
	return r3.Unit(d)
}

// Midpoint returns the point halfway between a and b.
func Midpoint(a, b r3.Vec) r3.Vec {
	return r3.Scale(0.5, r3.Add(a, b))
}

// Distance returns the Euclidean distance between a and b.
func Distance(a, b r3.Vec) float64 {
	return r3.Norm(r3.Sub(a, b))
}
