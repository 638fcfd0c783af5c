package models

import (
	"math"
	"testing"

	"github.com/aukilabs/go-tooling/pkg/errors"
	"github.com/go-gl/mathgl/mgl64"
	"github.com/kenazlabs/kenaz/messages"
	"github.com/kenazlabs/kenaz/spatial"
	"github.com/stretchr/testify/require"
)

func testCamera() messages.Camera {
	return messages.Camera{
		Eye:    mgl64.Vec3{0, 0, 0},
		Target: mgl64.Vec3{0, 0, -1},
		Up:     mgl64.Vec3{0, 1, 0},
		FOV:    90,
		Aspect: 1,
		Near:   1,
		Far:    100,
	}
}

func TestNewCamera(t *testing.T) {
	t.Run("computes the frustum", func(t *testing.T) {
		c, err := NewCamera(testCamera())
		require.NoError(t, err)
		require.Len(t, c.Planes(), 6)

		expected := mgl64.Perspective(mgl64.DegToRad(90), 1, 1, 100).Mul4(mgl64.LookAtV(
			mgl64.Vec3{0, 0, 0},
			mgl64.Vec3{0, 0, -1},
			mgl64.Vec3{0, 1, 0},
		))
		require.Equal(t, expected, c.ViewProjection())

		require.True(t, box(0, 0, -20).IsInsidePlanes(c.Planes()))
		require.False(t, box(0, 0, 20).IsInsidePlanes(c.Planes()))
		require.False(t, spatial.NewExtents(mgl64.Vec3{-1, -1, -200}, mgl64.Vec3{1, 1, -150}).IsInsidePlanes(c.Planes()))
	})

	invalid := map[string]func(c *messages.Camera){
		"nan eye":              func(c *messages.Camera) { c.Eye[0] = math.NaN() },
		"eye equals target":    func(c *messages.Camera) { c.Target = c.Eye },
		"zero up":              func(c *messages.Camera) { c.Up = mgl64.Vec3{} },
		"up along direction":   func(c *messages.Camera) { c.Up = mgl64.Vec3{0, 0, 1} },
		"zero fov":             func(c *messages.Camera) { c.FOV = 0 },
		"flat fov":             func(c *messages.Camera) { c.FOV = 180 },
		"negative aspect":      func(c *messages.Camera) { c.Aspect = -1 },
		"zero near":            func(c *messages.Camera) { c.Near = 0 },
		"far before near":      func(c *messages.Camera) { c.Far = 0.5 },
		"infinite far":         func(c *messages.Camera) { c.Far = math.Inf(1) },
		"infinite target axis": func(c *messages.Camera) { c.Target[1] = math.Inf(-1) },
	}

	for name, mutate := range invalid {
		t.Run(name, func(t *testing.T) {
			c := testCamera()
			mutate(&c)

			_, err := NewCamera(c)
			require.Error(t, err)
			require.True(t, errors.IsType(err, ErrTypeInvalidCamera))
		})
	}
}
