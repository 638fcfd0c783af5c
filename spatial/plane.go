package spatial

import (
	"github.com/go-gl/mathgl/mgl64"
)

// Plane is a half-space. A point p is inside when Normal.Dot(p) >= D.
type Plane struct {
	Normal mgl64.Vec3 `json:"normal"`
	D      float64    `json:"d"`
}

func NewPlane(nx, ny, nz, d float64) Plane {
	return Plane{
		Normal: mgl64.Vec3{nx, ny, nz},
		D:      d,
	}
}

// Distance returns the signed distance from p to the plane. It is positive
// inside.
func (p Plane) Distance(v mgl64.Vec3) float64 {
	return p.Normal.Dot(v) - p.D
}

// normalized returns the plane scaled so that its normal has unit length. A
// degenerate plane is returned as is.
func (p Plane) normalized() Plane {
	l := p.Normal.Len()
	if l == 0 {
		return p
	}
	return Plane{
		Normal: p.Normal.Mul(1 / l),
		D:      p.D / l,
	}
}

// FrustumPlanes extracts the left, right, top, bottom, near and far planes
// of a column-major view-projection matrix. Normals point inside the
// frustum.
func FrustumPlanes(viewProjection mgl64.Mat4) []Plane {
	m := viewProjection
	return []Plane{
		NewPlane(m[3]+m[0], m[7]+m[4], m[11]+m[8], -(m[15] + m[12])).normalized(),
		NewPlane(m[3]-m[0], m[7]-m[4], m[11]-m[8], -(m[15] - m[12])).normalized(),
		NewPlane(m[3]-m[1], m[7]-m[5], m[11]-m[9], -(m[15] - m[13])).normalized(),
		NewPlane(m[3]+m[1], m[7]+m[5], m[11]+m[9], -(m[15] + m[13])).normalized(),
		NewPlane(m[3]+m[2], m[7]+m[6], m[11]+m[10], -(m[15] + m[14])).normalized(),
		NewPlane(m[3]-m[2], m[7]-m[6], m[11]-m[10], -(m[15] - m[14])).normalized(),
	}
}

// IsInsidePlanes reports whether the box is at least partially inside every
// plane. It tests the corner furthest along each normal.
func (e Extents) IsInsidePlanes(planes []Plane) bool {
	for i := range planes {
		if !e.isInsidePlane(&planes[i]) {
			return false
		}
	}
	return true
}

// IsFullyInsidePlanes reports whether the whole box is inside every plane. It
// tests the corner furthest against each normal.
func (e Extents) IsFullyInsidePlanes(planes []Plane) bool {
	for i := range planes {
		if !e.isFullyInsidePlane(&planes[i]) {
			return false
		}
	}
	return true
}

func (e *Extents) isInsidePlane(p *Plane) bool {
	n := p.Normal
	x, y, z := e.MaxX, e.MaxY, e.MaxZ
	if n[0] < 0 {
		x = e.MinX
	}
	if n[1] < 0 {
		y = e.MinY
	}
	if n[2] < 0 {
		z = e.MinZ
	}
	return n[0]*x+n[1]*y+n[2]*z >= p.D
}

func (e *Extents) isFullyInsidePlane(p *Plane) bool {
	n := p.Normal
	x, y, z := e.MaxX, e.MaxY, e.MaxZ
	if n[0] > 0 {
		x = e.MinX
	}
	if n[1] > 0 {
		y = e.MinY
	}
	if n[2] > 0 {
		z = e.MinZ
	}
	return n[0]*x+n[1]*y+n[2]*z >= p.D
}
