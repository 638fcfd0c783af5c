package models

import (
	"math"

	"github.com/aukilabs/go-tooling/pkg/errors"
	"github.com/go-gl/mathgl/mgl64"
	"github.com/kenazlabs/kenaz/messages"
	"github.com/kenazlabs/kenaz/spatial"
)

// Camera is a perspective camera with its frustum planes precomputed.
type Camera struct {
	messages.Camera

	viewProjection mgl64.Mat4
	planes         []spatial.Plane
}

// NewCamera validates a camera description and computes its frustum.
func NewCamera(c messages.Camera) (*Camera, error) {
	switch {
	case !finiteVec(c.Eye) || !finiteVec(c.Target) || !finiteVec(c.Up):
		return nil, errors.New("camera vectors must be finite").
			WithType(ErrTypeInvalidCamera)

	case c.Eye.ApproxEqual(c.Target):
		return nil, errors.New("camera eye and target are the same").
			WithType(ErrTypeInvalidCamera)

	case c.Up.Len() == 0 || c.Target.Sub(c.Eye).Cross(c.Up).Len() == 0:
		return nil, errors.New("camera up vector is parallel to its direction").
			WithType(ErrTypeInvalidCamera)

	case !(c.FOV > 0 && c.FOV < 180):
		return nil, errors.New("camera field of view out of range").
			WithType(ErrTypeInvalidCamera).
			WithTag("fov", c.FOV)

	case !(c.Aspect > 0) || math.IsInf(c.Aspect, 0):
		return nil, errors.New("invalid camera aspect ratio").
			WithType(ErrTypeInvalidCamera).
			WithTag("aspect", c.Aspect)

	case !(c.Near > 0) || !(c.Far > c.Near) || math.IsInf(c.Far, 0):
		return nil, errors.New("invalid camera clipping distances").
			WithType(ErrTypeInvalidCamera).
			WithTag("near", c.Near).
			WithTag("far", c.Far)
	}

	proj := mgl64.Perspective(mgl64.DegToRad(c.FOV), c.Aspect, c.Near, c.Far)
	view := mgl64.LookAtV(c.Eye, c.Target, c.Up)
	viewProjection := proj.Mul4(view)

	return &Camera{
		Camera:         c,
		viewProjection: viewProjection,
		planes:         spatial.FrustumPlanes(viewProjection),
	}, nil
}

func (c *Camera) ViewProjection() mgl64.Mat4 {
	return c.viewProjection
}

// Planes returns the six frustum planes, pointing inward.
func (c *Camera) Planes() []spatial.Plane {
	return c.planes
}

func finiteVec(v mgl64.Vec3) bool {
	for _, f := range v {
		if math.IsNaN(f) || math.IsInf(f, 0) {
			return false
		}
	}
	return true
}
