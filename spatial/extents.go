package spatial

import (
	"math"

	"github.com/go-gl/mathgl/mgl64"
)

// Extents is an axis-aligned bounding box.
type Extents struct {
	MinX float64 `json:"min_x"`
	MinY float64 `json:"min_y"`
	MinZ float64 `json:"min_z"`
	MaxX float64 `json:"max_x"`
	MaxY float64 `json:"max_y"`
	MaxZ float64 `json:"max_z"`
}

// EmptyExtents returns the cleared box. Its min is greater than its max on
// every axis so it never overlaps anything.
func EmptyExtents() Extents {
	return Extents{
		MinX: math.MaxFloat64,
		MinY: math.MaxFloat64,
		MinZ: math.MaxFloat64,
		MaxX: -math.MaxFloat64,
		MaxY: -math.MaxFloat64,
		MaxZ: -math.MaxFloat64,
	}
}

// NewExtents returns the box spanning min and max.
func NewExtents(min, max mgl64.Vec3) Extents {
	return Extents{
		MinX: min[0],
		MinY: min[1],
		MinZ: min[2],
		MaxX: max[0],
		MaxY: max[1],
		MaxZ: max[2],
	}
}

// ExtentsFromCenter returns the box centered on center with the given half
// extents.
func ExtentsFromCenter(center, halfExtents mgl64.Vec3) Extents {
	return NewExtents(center.Sub(halfExtents), center.Add(halfExtents))
}

func (e Extents) Min() mgl64.Vec3 {
	return mgl64.Vec3{e.MinX, e.MinY, e.MinZ}
}

func (e Extents) Max() mgl64.Vec3 {
	return mgl64.Vec3{e.MaxX, e.MaxY, e.MaxZ}
}

func (e Extents) Center() mgl64.Vec3 {
	return e.Min().Add(e.Max()).Mul(0.5)
}

func (e Extents) HalfExtents() mgl64.Vec3 {
	return e.Max().Sub(e.Min()).Mul(0.5)
}

// IsEmpty reports whether the box is inverted on any axis, which is the case
// for EmptyExtents.
func (e Extents) IsEmpty() bool {
	return e.MinX > e.MaxX || e.MinY > e.MaxY || e.MinZ > e.MaxZ
}

// IsValid reports whether all the coordinates are finite and min <= max on
// every axis.
func (e Extents) IsValid() bool {
	for _, v := range [6]float64{e.MinX, e.MinY, e.MinZ, e.MaxX, e.MaxY, e.MaxZ} {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return false
		}
	}
	return !e.IsEmpty()
}

// Union returns the smallest box containing e and o. An empty operand is
// ignored.
func (e Extents) Union(o Extents) Extents {
	switch {
	case e.IsEmpty():
		return o
	case o.IsEmpty():
		return e
	}
	return e.expand(o)
}

// expand grows e to o without the emptiness checks of Union.
func (e Extents) expand(o Extents) Extents {
	if e.MinX > o.MinX {
		e.MinX = o.MinX
	}
	if e.MinY > o.MinY {
		e.MinY = o.MinY
	}
	if e.MinZ > o.MinZ {
		e.MinZ = o.MinZ
	}
	if e.MaxX < o.MaxX {
		e.MaxX = o.MaxX
	}
	if e.MaxY < o.MaxY {
		e.MaxY = o.MaxY
	}
	if e.MaxZ < o.MaxZ {
		e.MaxZ = o.MaxZ
	}
	return e
}

// Overlaps reports whether e and o intersect. Touching faces count as an
// overlap.
func (e Extents) Overlaps(o Extents) bool {
	return e.MinX <= o.MaxX &&
		e.MinY <= o.MaxY &&
		e.MinZ <= o.MaxZ &&
		e.MaxX >= o.MinX &&
		e.MaxY >= o.MinY &&
		e.MaxZ >= o.MinZ
}

// Contains reports whether o is inside e, boundaries included.
func (e Extents) Contains(o Extents) bool {
	return e.MinX <= o.MinX &&
		e.MinY <= o.MinY &&
		e.MinZ <= o.MinZ &&
		e.MaxX >= o.MaxX &&
		e.MaxY >= o.MaxY &&
		e.MaxZ >= o.MaxZ
}

func (e Extents) ContainsPoint(p mgl64.Vec3) bool {
	return e.MinX <= p[0] && p[0] <= e.MaxX &&
		e.MinY <= p[1] && p[1] <= e.MaxY &&
		e.MinZ <= p[2] && p[2] <= e.MaxZ
}

// DistanceSquared returns the squared distance between p and the closest
// point of the box. It is 0 when p is inside.
func (e Extents) DistanceSquared(p mgl64.Vec3) float64 {
	var d float64
	d += axisDistanceSquared(p[0], e.MinX, e.MaxX)
	d += axisDistanceSquared(p[1], e.MinY, e.MaxY)
	d += axisDistanceSquared(p[2], e.MinZ, e.MaxZ)
	return d
}

func axisDistanceSquared(v, min, max float64) float64 {
	switch {
	case v < min:
		return (min - v) * (min - v)
	case v > max:
		return (v - max) * (v - max)
	default:
		return 0
	}
}

// surface returns the sum of the box dimensions, the cost used when choosing
// a split axis.
func (e Extents) surface() float64 {
	return (e.MaxX - e.MinX) + (e.MaxY - e.MinY) + (e.MaxZ - e.MinZ)
}
