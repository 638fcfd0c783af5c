package spatial

import (
	"math"
	"testing"

	"github.com/go-gl/mathgl/mgl64"
	"github.com/stretchr/testify/require"
)

func TestExtentsUnion(t *testing.T) {
	a := unitBox(0, 0, 0)
	b := unitBox(5, -3, 2)

	require.Equal(t, NewExtents(mgl64.Vec3{0, -3, 0}, mgl64.Vec3{6, 1, 3}), a.Union(b))
	require.Equal(t, a, a.Union(EmptyExtents()))
	require.Equal(t, b, EmptyExtents().Union(b))
	require.True(t, EmptyExtents().Union(EmptyExtents()).IsEmpty())
}

func TestExtentsOverlaps(t *testing.T) {
	a := unitBox(0, 0, 0)

	require.True(t, a.Overlaps(unitBox(1, 1, 1)))
	require.True(t, a.Overlaps(unitBox(0.5, 0, 0)))
	require.False(t, a.Overlaps(unitBox(1.01, 0, 0)))
	require.False(t, a.Overlaps(EmptyExtents()))
}

func TestExtentsContains(t *testing.T) {
	a := NewExtents(mgl64.Vec3{0, 0, 0}, mgl64.Vec3{10, 10, 10})

	require.True(t, a.Contains(a))
	require.True(t, a.Contains(unitBox(9, 9, 9)))
	require.False(t, a.Contains(unitBox(9.5, 0, 0)))
	require.True(t, a.ContainsPoint(mgl64.Vec3{10, 0, 5}))
	require.False(t, a.ContainsPoint(mgl64.Vec3{10, -0.1, 5}))
}

func TestExtentsDistanceSquared(t *testing.T) {
	a := unitBox(0, 0, 0)

	require.Zero(t, a.DistanceSquared(mgl64.Vec3{0.5, 0.5, 0.5}))
	require.Equal(t, float64(4), a.DistanceSquared(mgl64.Vec3{3, 0.5, 0.5}))
	require.Equal(t, float64(3), a.DistanceSquared(mgl64.Vec3{-1, 2, -1}))
}

func TestExtentsIsValid(t *testing.T) {
	require.True(t, unitBox(0, 0, 0).IsValid())
	require.True(t, NewExtents(mgl64.Vec3{1, 1, 1}, mgl64.Vec3{1, 1, 1}).IsValid())
	require.False(t, EmptyExtents().IsValid())
	require.False(t, NewExtents(mgl64.Vec3{math.NaN(), 0, 0}, mgl64.Vec3{1, 1, 1}).IsValid())
	require.False(t, NewExtents(mgl64.Vec3{0, 0, 0}, mgl64.Vec3{math.Inf(1), 1, 1}).IsValid())
}

func TestExtentsFromCenter(t *testing.T) {
	e := ExtentsFromCenter(mgl64.Vec3{1, 2, 3}, mgl64.Vec3{0.5, 1, 1.5})
	require.Equal(t, NewExtents(mgl64.Vec3{0.5, 1, 1.5}, mgl64.Vec3{1.5, 3, 4.5}), e)
	require.Equal(t, mgl64.Vec3{1, 2, 3}, e.Center())
	require.Equal(t, mgl64.Vec3{0.5, 1, 1.5}, e.HalfExtents())
}
