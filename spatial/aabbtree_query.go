package spatial

import (
	"github.com/go-gl/mathgl/mgl64"
)

func (t *AABBTree[T]) OverlappingNodes(query Extents, out []T) []T {
	if t.numExternalNodes == 0 {
		return out
	}

	nodes := t.nodes
	for i := 0; i < t.endNode; {
		node := &nodes[i]
		if !query.Overlaps(node.extents) {
			i += node.escape
			continue
		}

		if node.escape == 1 {
			if node.handle != nil {
				out = append(out, node.item)
			}
			i++
			continue
		}

		if query.Contains(node.extents) {
			out = t.appendSubtree(i, out)
			i += node.escape
			continue
		}
		i++
	}
	return out
}

func (t *AABBTree[T]) SphereOverlappingNodes(center mgl64.Vec3, radius float64, out []T) []T {
	if t.numExternalNodes == 0 {
		return out
	}

	radiusSquared := radius * radius
	nodes := t.nodes
	for i := 0; i < t.endNode; {
		node := &nodes[i]
		if node.extents.DistanceSquared(center) > radiusSquared {
			i += node.escape
			continue
		}

		if node.handle != nil {
			out = append(out, node.item)
		}
		i++
	}
	return out
}

// OverlappingPairs appends every couple of overlapping leaves. Each leaf is
// only tested against the nodes that follow it.
func (t *AABBTree[T]) OverlappingPairs(out []Pair[T]) []Pair[T] {
	if t.numExternalNodes == 0 {
		return out
	}

	nodes := t.nodes
	endNode := t.endNode
	for current := 0; current < endNode; current++ {
		c := &nodes[current]
		if c.handle == nil {
			continue
		}

		for i := current + 1; i < endNode; {
			node := &nodes[i]
			if !c.extents.Overlaps(node.extents) {
				i += node.escape
				continue
			}

			if node.handle != nil {
				out = append(out, Pair[T]{A: c.item, B: node.item})
			}
			i++
		}
	}
	return out
}

// VisibleNodes appends the leaves at least partially inside every plane.
func (t *AABBTree[T]) VisibleNodes(planes []Plane, out []T) []T {
	if t.numExternalNodes == 0 {
		return out
	}

	nodes := t.nodes
	for i := 0; i < t.endNode; {
		node := &nodes[i]
		if !node.extents.IsInsidePlanes(planes) {
			i += node.escape
			continue
		}

		if node.escape == 1 {
			if node.handle != nil {
				out = append(out, node.item)
			}
			i++
			continue
		}

		if node.extents.IsFullyInsidePlanes(planes) {
			out = t.appendSubtree(i, out)
			i += node.escape
			continue
		}
		i++
	}
	return out
}

// appendSubtree appends all the leaves under the internal node at index.
func (t *AABBTree[T]) appendSubtree(index int, out []T) []T {
	end := min(index+t.nodes[index].escape, len(t.nodes))
	for i := index + 1; i < end; i++ {
		if n := &t.nodes[i]; n.handle != nil {
			out = append(out, n.item)
		}
	}
	return out
}

// Walk calls fn for each entity in the tree, in storage order, until fn
// returns false.
func (t *AABBTree[T]) Walk(fn func(item T, extents Extents) bool) {
	for i := 0; i < t.endNode; i++ {
		if n := &t.nodes[i]; n.handle != nil {
			if !fn(n.item, n.extents) {
				return
			}
		}
	}
}
