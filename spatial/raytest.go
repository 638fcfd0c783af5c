package spatial

import (
	"math"
	"slices"

	"github.com/go-gl/mathgl/mgl64"
)

// Ray is a half line. Hits are searched for factors in [0, MaxFactor).
type Ray struct {
	Origin    mgl64.Vec3 `json:"origin"`
	Direction mgl64.Vec3 `json:"direction"`
	MaxFactor float64    `json:"max_factor"`
}

// At returns the point at the given factor along the ray.
func (r Ray) At(factor float64) mgl64.Vec3 {
	return r.Origin.Add(r.Direction.Mul(factor))
}

// RayHit describes where a ray hits an entity.
type RayHit struct {
	Factor float64    `json:"factor"`
	Point  mgl64.Vec3 `json:"point"`
	Normal mgl64.Vec3 `json:"normal"`
}

// RayCallback tests a ray against an entity whose extents are hit at
// minDistance. It returns the hit and true when the entity is hit closer
// than upperBound.
type RayCallback[T any] func(tree *AABBTree[T], item T, ray Ray, minDistance, upperBound float64) (RayHit, bool)

// RayResult is the closest hit found by RayTest.
type RayResult[T any] struct {
	RayHit
	Tree *AABBTree[T]
	Item T
}

type rayCandidate[T any] struct {
	tree     *AABBTree[T]
	index    int
	distance float64
}

// RayTest returns the closest entity hit by the ray among all the trees.
// Nodes are visited by increasing distance and the search bound shrinks with
// every accepted hit. Trees must be finalized.
func RayTest[T any](trees []*AABBTree[T], ray Ray, callback RayCallback[T]) (RayResult[T], bool) {
	s := raySlab{
		origin:    ray.Origin,
		direction: ray.Direction,
		inverse: mgl64.Vec3{
			inverse(ray.Direction[0]),
			inverse(ray.Direction[1]),
			inverse(ray.Direction[2]),
		},
	}

	var result RayResult[T]
	var found bool

	upperBound := ray.MaxFactor

	// Sorted by decreasing distance, the closest candidate is last.
	var candidates []rayCandidate[T]

	process := func(tree *AABBTree[T], index int) {
		node := &tree.nodes[index]
		if node.escape == 1 && node.handle == nil {
			return
		}

		distance, ok := s.distance(node.extents, upperBound)
		if !ok {
			return
		}

		if node.escape == 1 {
			if hit, ok := callback(tree, node.item, ray, distance, upperBound); ok {
				result = RayResult[T]{
					RayHit: hit,
					Tree:   tree,
					Item:   node.item,
				}
				found = true
				upperBound = hit.Factor
			}
			return
		}

		i := 0
		for i < len(candidates) && distance <= candidates[i].distance {
			i++
		}
		candidates = slices.Insert(candidates, i, rayCandidate[T]{
			tree:     tree,
			index:    index,
			distance: distance,
		})
	}

	for _, tree := range trees {
		if tree != nil && tree.endNode != 0 && tree.numExternalNodes != 0 {
			process(tree, 0)
		}
	}

	for len(candidates) != 0 {
		c := candidates[len(candidates)-1]
		candidates = candidates[:len(candidates)-1]

		// A closer hit may have been found since it was queued.
		if c.distance >= upperBound {
			continue
		}

		nodes := c.tree.nodes
		end := min(c.index+nodes[c.index].escape, len(nodes))
		for i := c.index + 1; i < end; i += nodes[i].escape {
			process(c.tree, i)
		}
	}

	return result, found
}

// HitExtents returns a callback that reports the entry point of the ray into
// the extents of the entities as the hit.
func HitExtents[T any](extentsOf func(T) Extents) RayCallback[T] {
	return func(tree *AABBTree[T], item T, ray Ray, minDistance, upperBound float64) (RayHit, bool) {
		if minDistance >= upperBound {
			return RayHit{}, false
		}

		point := ray.At(minDistance)
		return RayHit{
			Factor: minDistance,
			Point:  point,
			Normal: faceNormal(extentsOf(item), point),
		}, true
	}
}

// Intersect returns where the ray enters the box. A ray starting inside the
// box hits it at factor 0.
func (r Ray) Intersect(e Extents) (RayHit, bool) {
	s := raySlab{
		origin:    r.Origin,
		direction: r.Direction,
		inverse: mgl64.Vec3{
			inverse(r.Direction[0]),
			inverse(r.Direction[1]),
			inverse(r.Direction[2]),
		},
	}

	upperBound := r.MaxFactor
	if upperBound <= 0 {
		upperBound = math.Inf(1)
	}

	factor, ok := s.distance(e, upperBound)
	if !ok {
		return RayHit{}, false
	}

	point := r.At(factor)
	return RayHit{
		Factor: factor,
		Point:  point,
		Normal: faceNormal(e, point),
	}, true
}

type raySlab struct {
	origin    mgl64.Vec3
	direction mgl64.Vec3
	inverse   mgl64.Vec3
}

// distance returns the factor at which the ray enters the box, 0 when the
// origin is inside it.
func (s *raySlab) distance(e Extents, upperBound float64) (float64, bool) {
	if e.ContainsPoint(s.origin) {
		return 0, true
	}

	tmin, tmax := s.axis(0, e.MinX, e.MaxX)
	tymin, tymax := s.axis(1, e.MinY, e.MaxY)
	if tmin > tymax || tymin > tmax {
		return 0, false
	}
	tmin = math.Max(tmin, tymin)
	tmax = math.Min(tmax, tymax)

	tzmin, tzmax := s.axis(2, e.MinZ, e.MaxZ)
	if tmin > tzmax || tzmin > tmax {
		return 0, false
	}
	tmin = math.Max(tmin, tzmin)
	tmax = math.Min(tmax, tzmax)

	if tmin < 0 {
		tmin = tmax
	}
	if tmin < 0 || tmin >= upperBound {
		return 0, false
	}
	return tmin, true
}

func (s *raySlab) axis(i int, min, max float64) (float64, float64) {
	o := s.origin[i]
	if s.direction[i] < 0 {
		return (max - o) * s.inverse[i], (min - o) * s.inverse[i]
	}
	return scaleSlab(min-o, s.inverse[i]), scaleSlab(max-o, s.inverse[i])
}

// scaleSlab avoids 0 * Inf when the ray is parallel to a slab and starts on
// its boundary.
func scaleSlab(delta, inverse float64) float64 {
	if delta == 0 {
		return 0
	}
	return delta * inverse
}

func inverse(v float64) float64 {
	if v == 0 {
		return math.Inf(1)
	}
	return 1 / v
}

// faceNormal returns the outward normal of the face of e closest to p.
func faceNormal(e Extents, p mgl64.Vec3) mgl64.Vec3 {
	faces := [6]struct {
		distance float64
		normal   mgl64.Vec3
	}{
		{math.Abs(p[0] - e.MinX), mgl64.Vec3{-1, 0, 0}},
		{math.Abs(p[0] - e.MaxX), mgl64.Vec3{1, 0, 0}},
		{math.Abs(p[1] - e.MinY), mgl64.Vec3{0, -1, 0}},
		{math.Abs(p[1] - e.MaxY), mgl64.Vec3{0, 1, 0}},
		{math.Abs(p[2] - e.MinZ), mgl64.Vec3{0, 0, -1}},
		{math.Abs(p[2] - e.MaxZ), mgl64.Vec3{0, 0, 1}},
	}

	best := 0
	for i := 1; i < len(faces); i++ {
		if faces[i].distance < faces[best].distance {
			best = i
		}
	}
	return faces[best].normal
}
