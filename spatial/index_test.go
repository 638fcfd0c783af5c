package spatial

import (
	"math/rand"
	"sort"
	"testing"

	"github.com/go-gl/mathgl/mgl64"
	"github.com/stretchr/testify/require"
)

type testEntity struct {
	ID      int
	Handle  Handle
	Extents Extents
}

func unitBox(x, y, z float64) Extents {
	return NewExtents(mgl64.Vec3{x, y, z}, mgl64.Vec3{x + 1, y + 1, z + 1})
}

// randomEntities returns n unit boxes laid on distinct points of a lattice
// with a spacing of 2 so that no two boxes touch.
func randomEntities(rnd *rand.Rand, n int, size int, flat bool) []*testEntity {
	used := make(map[[3]int]bool, n)
	entities := make([]*testEntity, 0, n)

	for len(entities) < n {
		p := [3]int{rnd.Intn(size), rnd.Intn(size), rnd.Intn(size)}
		if flat {
			p[1] = 0
		}
		if used[p] {
			continue
		}
		used[p] = true

		entities = append(entities, &testEntity{
			ID:      len(entities) + 1,
			Extents: unitBox(float64(p[0]*2), float64(p[1]*2), float64(p[2]*2)),
		})
	}
	return entities
}

func randomQuery(rnd *rand.Rand, max float64) Extents {
	min := mgl64.Vec3{rnd.Float64() * max, rnd.Float64() * max, rnd.Float64() * max}
	size := mgl64.Vec3{rnd.Float64() * max / 4, rnd.Float64() * max / 4, rnd.Float64() * max / 4}
	return NewExtents(min, min.Add(size))
}

func ids(entities []*testEntity) []int {
	res := make([]int, 0, len(entities))
	for _, e := range entities {
		res = append(res, e.ID)
	}
	sort.Ints(res)
	return res
}

func pairIDs(pairs []Pair[*testEntity]) [][2]int {
	res := make([][2]int, 0, len(pairs))
	for _, p := range pairs {
		a, b := p.A.ID, p.B.ID
		if a > b {
			a, b = b, a
		}
		res = append(res, [2]int{a, b})
	}
	sort.Slice(res, func(i, j int) bool {
		if res[i][0] != res[j][0] {
			return res[i][0] < res[j][0]
		}
		return res[i][1] < res[j][1]
	})
	return res
}

func bruteOverlapping(entities []*testEntity, query Extents) []int {
	var res []*testEntity
	for _, e := range entities {
		if query.Overlaps(e.Extents) {
			res = append(res, e)
		}
	}
	return ids(res)
}

func bruteSphere(entities []*testEntity, center mgl64.Vec3, radius float64) []int {
	var res []*testEntity
	for _, e := range entities {
		if e.Extents.DistanceSquared(center) <= radius*radius {
			res = append(res, e)
		}
	}
	return ids(res)
}

func bruteVisible(entities []*testEntity, planes []Plane) []int {
	var res []*testEntity
	for _, e := range entities {
		if e.Extents.IsInsidePlanes(planes) {
			res = append(res, e)
		}
	}
	return ids(res)
}

func brutePairs(entities []*testEntity) [][2]int {
	var res []Pair[*testEntity]
	for i := range entities {
		for j := i + 1; j < len(entities); j++ {
			if entities[i].Extents.Overlaps(entities[j].Extents) {
				res = append(res, Pair[*testEntity]{A: entities[i], B: entities[j]})
			}
		}
	}
	return pairIDs(res)
}

func newTestIndexes(t *testing.T) map[string]Index[*testEntity] {
	grid, err := NewGrid[*testEntity](NewExtents(
		mgl64.Vec3{-20, -20, -20},
		mgl64.Vec3{220, 220, 220},
	), 8)
	require.NoError(t, err)

	return map[string]Index[*testEntity]{
		"tree":              NewAABBTree[*testEntity](),
		"high quality tree": NewAABBTree[*testEntity](WithHighQuality()),
		"grid":              grid,
	}
}

func TestIndexRoundTrip(t *testing.T) {
	for name, idx := range newTestIndexes(t) {
		t.Run(name, func(t *testing.T) {
			rnd := rand.New(rand.NewSource(7))
			entities := randomEntities(rnd, 200, 50, false)
			for _, e := range entities {
				idx.Add(&e.Handle, e, e.Extents)
			}
			idx.Finalize()
			require.Equal(t, len(entities), idx.Len())

			for _, e := range entities {
				res := idx.OverlappingNodes(e.Extents, nil)
				require.Equal(t, []int{e.ID}, ids(res))

				extents, ok := idx.Extents(&e.Handle)
				require.True(t, ok)
				require.Equal(t, e.Extents, extents)
			}
		})
	}
}

func TestIndexBoundary(t *testing.T) {
	for name, idx := range newTestIndexes(t) {
		t.Run(name, func(t *testing.T) {
			e := &testEntity{ID: 1, Extents: unitBox(10, 10, 10)}
			idx.Add(&e.Handle, e, e.Extents)
			idx.Finalize()

			touching := NewExtents(mgl64.Vec3{11, 11, 11}, mgl64.Vec3{12, 12, 12})
			require.Len(t, idx.OverlappingNodes(touching, nil), 1)

			apart := NewExtents(mgl64.Vec3{11.001, 11, 11}, mgl64.Vec3{12, 12, 12})
			require.Empty(t, idx.OverlappingNodes(apart, nil))

			require.Len(t, idx.SphereOverlappingNodes(mgl64.Vec3{13, 10.5, 10.5}, 2, nil), 1)
			require.Empty(t, idx.SphereOverlappingNodes(mgl64.Vec3{13.5, 10.5, 10.5}, 2, nil))
		})
	}
}

func TestIndexRemove(t *testing.T) {
	for name, idx := range newTestIndexes(t) {
		t.Run(name, func(t *testing.T) {
			rnd := rand.New(rand.NewSource(11))
			entities := randomEntities(rnd, 50, 20, false)
			for _, e := range entities {
				idx.Add(&e.Handle, e, e.Extents)
			}
			idx.Finalize()

			removed := entities[10]
			idx.Remove(&removed.Handle)
			require.False(t, removed.Handle.Valid())
			idx.Remove(&removed.Handle)
			idx.Finalize()

			remaining := append(append([]*testEntity{}, entities[:10]...), entities[11:]...)
			require.Equal(t, len(remaining), idx.Len())

			all := NewExtents(mgl64.Vec3{-1, -1, -1}, mgl64.Vec3{100, 100, 100})
			require.Equal(t, ids(remaining), ids(idx.OverlappingNodes(all, nil)))

			for _, e := range remaining {
				extents, ok := idx.Extents(&e.Handle)
				require.True(t, ok)
				require.Equal(t, e.Extents, extents)
			}
		})
	}
}

func TestIndexRemoveAll(t *testing.T) {
	for name, idx := range newTestIndexes(t) {
		t.Run(name, func(t *testing.T) {
			a := &testEntity{ID: 1, Extents: unitBox(0, 0, 0)}
			b := &testEntity{ID: 2, Extents: unitBox(4, 0, 0)}
			idx.Add(&a.Handle, a, a.Extents)
			idx.Add(&b.Handle, b, b.Extents)
			idx.Finalize()

			idx.Remove(&a.Handle)
			idx.Remove(&b.Handle)
			idx.Finalize()

			require.Zero(t, idx.Len())
			require.False(t, a.Handle.Valid())
			require.False(t, b.Handle.Valid())
			require.Empty(t, idx.OverlappingNodes(unitBox(0, 0, 0), nil))
			require.Empty(t, idx.OverlappingPairs(nil))

			idx.Add(&a.Handle, a, a.Extents)
			idx.Finalize()
			require.Equal(t, []int{1}, ids(idx.OverlappingNodes(a.Extents, nil)))
		})
	}
}

func TestIndexClear(t *testing.T) {
	for name, idx := range newTestIndexes(t) {
		t.Run(name, func(t *testing.T) {
			entities := randomEntities(rand.New(rand.NewSource(3)), 20, 10, false)
			for _, e := range entities {
				idx.Add(&e.Handle, e, e.Extents)
			}
			idx.Finalize()

			idx.Clear()
			require.Zero(t, idx.Len())
			for _, e := range entities {
				require.False(t, e.Handle.Valid())
			}
		})
	}
}

func TestIndexAppendsResults(t *testing.T) {
	for name, idx := range newTestIndexes(t) {
		t.Run(name, func(t *testing.T) {
			e := &testEntity{ID: 5, Extents: unitBox(1, 1, 1)}
			idx.Add(&e.Handle, e, e.Extents)
			idx.Finalize()

			previous := &testEntity{ID: 99}
			out := []*testEntity{previous, previous}

			res := idx.OverlappingNodes(e.Extents, out[:1])
			require.Len(t, res, 2)
			require.Equal(t, previous, res[0])
			require.Equal(t, e, res[1])

			stale := &testEntity{ID: 98}
			buf := []*testEntity{previous, stale, stale, stale}
			n := 1

			res = idx.SphereOverlappingNodes(mgl64.Vec3{1.5, 1.5, 1.5}, 1, buf[:n])
			require.Equal(t, []*testEntity{previous, e}, res)
			require.Equal(t, e, buf[1], "results are written in place")
			require.Equal(t, stale, buf[2])

			res = idx.VisibleNodes(nil, buf[:0])
			require.Equal(t, []*testEntity{e}, res)

			pairs := []Pair[*testEntity]{{A: stale, B: stale}, {A: stale, B: stale}}
			require.Empty(t, idx.OverlappingPairs(pairs[:0]))
		})
	}
}

func TestIndexQueriesMatchLinearScan(t *testing.T) {
	proj := mgl64.Perspective(mgl64.DegToRad(60), 1.5, 0.5, 80)
	view := mgl64.LookAtV(
		mgl64.Vec3{-5, 40, -5},
		mgl64.Vec3{50, 10, 50},
		mgl64.Vec3{0, 1, 0},
	)
	planes := FrustumPlanes(proj.Mul4(view))

	for name, idx := range newTestIndexes(t) {
		t.Run(name, func(t *testing.T) {
			rnd := rand.New(rand.NewSource(42))
			entities := randomEntities(rnd, 500, 50, false)
			for _, e := range entities {
				idx.Add(&e.Handle, e, e.Extents)
			}
			idx.Finalize()

			for i := 0; i < 50; i++ {
				query := randomQuery(rnd, 100)
				require.Equal(t,
					bruteOverlapping(entities, query),
					ids(idx.OverlappingNodes(query, nil)),
				)

				center := mgl64.Vec3{rnd.Float64() * 100, rnd.Float64() * 100, rnd.Float64() * 100}
				radius := rnd.Float64() * 15
				require.Equal(t,
					bruteSphere(entities, center, radius),
					ids(idx.SphereOverlappingNodes(center, radius, nil)),
				)
			}

			require.Equal(t, bruteVisible(entities, planes), ids(idx.VisibleNodes(planes, nil)))
		})
	}
}

func TestIndexPairsMatchLinearScan(t *testing.T) {
	for name, idx := range newTestIndexes(t) {
		t.Run(name, func(t *testing.T) {
			rnd := rand.New(rand.NewSource(5))

			var entities []*testEntity
			for i := 1; i <= 300; i++ {
				min := mgl64.Vec3{rnd.Float64() * 60, rnd.Float64() * 60, rnd.Float64() * 60}
				size := mgl64.Vec3{1 + rnd.Float64()*6, 1 + rnd.Float64()*6, 1 + rnd.Float64()*6}
				e := &testEntity{ID: i, Extents: NewExtents(min, min.Add(size))}
				entities = append(entities, e)
				idx.Add(&e.Handle, e, e.Extents)
			}
			idx.Finalize()

			require.Equal(t, brutePairs(entities), pairIDs(idx.OverlappingPairs(nil)))
		})
	}
}

func TestIndexUpdateMatchesLinearScan(t *testing.T) {
	for name, idx := range newTestIndexes(t) {
		t.Run(name, func(t *testing.T) {
			rnd := rand.New(rand.NewSource(9))
			entities := randomEntities(rnd, 300, 40, false)
			for _, e := range entities {
				idx.Add(&e.Handle, e, e.Extents)
			}
			idx.Finalize()

			for round := 0; round < 5; round++ {
				for i := round; i < len(entities); i += 7 {
					e := entities[i]
					offset := mgl64.Vec3{rnd.Float64()*4 - 2, rnd.Float64()*4 - 2, rnd.Float64()*4 - 2}
					e.Extents = NewExtents(e.Extents.Min().Add(offset), e.Extents.Max().Add(offset))
					idx.Update(&e.Handle, e, e.Extents)
				}
				idx.Finalize()

				for j := 0; j < 20; j++ {
					query := randomQuery(rnd, 80)
					require.Equal(t,
						bruteOverlapping(entities, query),
						ids(idx.OverlappingNodes(query, nil)),
					)
				}
				require.Equal(t, brutePairs(entities), pairIDs(idx.OverlappingPairs(nil)))
			}
		})
	}
}
