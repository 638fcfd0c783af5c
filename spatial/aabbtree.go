package spatial

import (
	"math"
)

const (
	// The maximum number of leaves grouped under a single parent.
	numNodesLeaf = 4

	startUpdateReset = math.MaxInt32
	endUpdateReset   = -math.MaxInt32

	// DefaultReboundRatio forces a rebound once ratio*updates exceeds the
	// number of entities.
	DefaultReboundRatio = 2

	// DefaultRebuildRatio forces a rebuild once updates exceed ratio times
	// the number of entities while a rebound is pending.
	DefaultRebuildRatio = 3
)

var (
	_ Index[int] = (*AABBTree[int])(nil)
)

// A tree node. Leaves have an escape offset of 1 and a handle. Internal
// nodes hold the union of their subtree and an escape offset equal to the
// number of slots of their subtree. Cleared leaves have an escape offset of 1
// and no handle.
type treeNode[T any] struct {
	extents Extents
	escape  int
	item    T
	handle  *Handle
}

func (n *treeNode[T]) clear() {
	var zero T

	n.extents = EmptyExtents()
	n.escape = 1
	n.item = zero
	n.handle = nil
}

// TreeOption configures an AABBTree.
type TreeOption func(*treeConfig)

type treeConfig struct {
	highQuality  bool
	reboundRatio int
	rebuildRatio int
}

// WithHighQuality makes rebuilds choose each split axis with a surface area
// heuristic. Builds are slower, queries are faster. Meant for entities that
// rarely move.
func WithHighQuality() TreeOption {
	return func(c *treeConfig) {
		c.highQuality = true
	}
}

// WithReboundRatio overrides DefaultReboundRatio.
func WithReboundRatio(v int) TreeOption {
	return func(c *treeConfig) {
		if v > 0 {
			c.reboundRatio = v
		}
	}
}

// WithRebuildRatio overrides DefaultRebuildRatio.
func WithRebuildRatio(v int) TreeOption {
	return func(c *treeConfig) {
		if v > 0 {
			c.rebuildRatio = v
		}
	}
}

// AABBTree is a dynamic bounding volume hierarchy stored as a flat slice of
// nodes in depth-first order. Subtrees are skipped with escape offsets.
//
// Mutations mark the tree as needing a rebuild (full restructure) or a
// rebound (refresh of ancestor extents). Finalize applies the pending work.
type AABBTree[T any] struct {
	nodes      []treeNode[T]
	buildNodes []treeNode[T]
	nodesStack []int

	endNode          int
	needsRebuild     bool
	needsRebound     bool
	numAdds          int
	numUpdates       int
	numExternalNodes int
	startUpdate      int
	endUpdate        int
	ignoreY          bool

	highQuality  bool
	reboundRatio int
	rebuildRatio int
}

// NewAABBTree creates an empty tree.
func NewAABBTree[T any](options ...TreeOption) *AABBTree[T] {
	c := treeConfig{
		reboundRatio: DefaultReboundRatio,
		rebuildRatio: DefaultRebuildRatio,
	}
	for _, o := range options {
		o(&c)
	}

	return &AABBTree[T]{
		nodesStack:   make([]int, 0, 32),
		startUpdate:  startUpdateReset,
		endUpdate:    endUpdateReset,
		highQuality:  c.highQuality,
		reboundRatio: c.reboundRatio,
		rebuildRatio: c.rebuildRatio,
	}
}

// HighQuality reports whether the tree uses the surface area heuristic.
func (t *AABBTree[T]) HighQuality() bool {
	return t.highQuality
}

func (t *AABBTree[T]) Len() int {
	return t.numExternalNodes
}

// NeedsFinalize reports whether a rebuild or a rebound is pending.
func (t *AABBTree[T]) NeedsFinalize() bool {
	return t.needsRebuild || t.needsRebound
}

// RootExtents returns the extents of the whole tree. The tree must be
// finalized.
func (t *AABBTree[T]) RootExtents() (Extents, bool) {
	if t.numExternalNodes == 0 || len(t.nodes) == 0 {
		return EmptyExtents(), false
	}
	return t.nodes[0].extents, true
}

func (t *AABBTree[T]) Extents(h *Handle) (Extents, bool) {
	if !h.Valid() || h.index() >= len(t.nodes) {
		return Extents{}, false
	}
	return t.nodes[h.index()].extents, true
}

func (t *AABBTree[T]) Add(h *Handle, item T, extents Extents) {
	if h.Valid() {
		t.Update(h, item, extents)
		return
	}

	endNode := t.endNode
	h.set(endNode)

	node := treeNode[T]{
		extents: extents,
		escape:  1,
		item:    item,
		handle:  h,
	}
	if endNode < len(t.nodes) {
		t.nodes[endNode] = node
	} else {
		t.nodes = append(t.nodes, node)
	}

	t.endNode = endNode + 1
	t.needsRebuild = true
	t.numAdds++
	t.numExternalNodes++
}

// Update moves an entity to new extents. Growing past its previous extents
// counts toward a rebound on the next Finalize, and leaving its parent forces
// one. Shrinking never does: ancestors keep enclosing
// the entity but may stay larger than the union of their children until the
// next rebound or rebuild, so callers cannot rely on tight parent extents.
func (t *AABBTree[T]) Update(h *Handle, item T, extents Extents) {
	if !h.Valid() {
		t.Add(h, item, extents)
		return
	}

	index := h.index()
	node := &t.nodes[index]

	doUpdate := t.needsRebuild ||
		t.needsRebound ||
		!node.extents.Contains(extents)

	node.extents = extents
	node.item = item

	if !doUpdate || t.needsRebuild || len(t.nodes) <= 1 {
		return
	}

	t.numUpdates++
	if t.startUpdate > index {
		t.startUpdate = index
	}
	if t.endUpdate < index {
		t.endUpdate = index
	}

	if !t.needsRebound {
		if t.reboundRatio*t.numUpdates > t.numExternalNodes {
			t.needsRebound = true
		} else if parent := t.findParent(index); parent == nil || !parent.extents.Contains(extents) {
			t.needsRebound = true
		}
		return
	}

	if t.numUpdates > t.rebuildRatio*t.numExternalNodes {
		t.needsRebuild = true
		t.numAdds = t.numUpdates
	}
}

// findParent walks backwards from a node until it finds a node whose subtree
// spans it.
func (t *AABBTree[T]) findParent(index int) *treeNode[T] {
	dist := 0
	for i := index - 1; i >= 0; i-- {
		dist++
		if t.nodes[i].escape > dist {
			return &t.nodes[i]
		}
	}
	return nil
}

func (t *AABBTree[T]) Remove(h *Handle) {
	if !h.Valid() {
		return
	}

	if t.numExternalNodes > 1 {
		index := h.index()
		t.nodes[index].clear()

		if index+1 >= t.endNode {
			endNode := t.endNode
			for endNode > 0 && t.nodes[endNode-1].handle == nil {
				endNode--
			}
			t.endNode = endNode
		} else {
			t.needsRebuild = true
		}
		t.numExternalNodes--
	} else {
		t.Clear()
	}

	h.reset()
}

func (t *AABBTree[T]) Clear() {
	for i := 0; i < t.endNode && i < len(t.nodes); i++ {
		if h := t.nodes[i].handle; h != nil {
			h.reset()
		}
	}
	clear(t.nodes)

	t.nodes = t.nodes[:0]
	t.endNode = 0
	t.needsRebuild = false
	t.needsRebound = false
	t.numAdds = 0
	t.numUpdates = 0
	t.numExternalNodes = 0
	t.startUpdate = startUpdateReset
	t.endUpdate = endUpdateReset
}

func (t *AABBTree[T]) Finalize() {
	if t.needsRebuild {
		t.rebuild()
	} else if t.needsRebound {
		t.rebound()
	}
}

// rebound recomputes the extents of the internal nodes whose subtree
// intersects the updated range, without changing the tree shape.
func (t *AABBTree[T]) rebound() {
	nodes := t.nodes
	if len(nodes) > 1 {
		startUpdate := t.startUpdate
		endUpdate := t.endUpdate

		stack := t.nodesStack[:0]
		topIndex := 0
		for {
			top := &nodes[topIndex]
			currentIndex := topIndex
			currentEscape := topIndex + top.escape

			for i := topIndex + 1; i < currentEscape; {
				node := &nodes[i]
				escape := i + node.escape
				if i >= endUpdate {
					break
				}
				if node.escape > 1 && escape > startUpdate {
					stack = append(stack, topIndex)
					topIndex = i
				}
				i = escape
			}

			if topIndex != currentIndex {
				continue
			}

			i := topIndex + 1
			extents := nodes[i].extents
			for i += nodes[i].escape; i < currentEscape; i += nodes[i].escape {
				extents = extents.expand(nodes[i].extents)
			}
			top.extents = extents

			endUpdate = topIndex
			if len(stack) == 0 {
				break
			}
			topIndex = stack[len(stack)-1]
			stack = stack[:len(stack)-1]
		}
		t.nodesStack = stack[:0]
	}

	t.needsRebuild = false
	t.needsRebound = false
	t.numAdds = 0
	t.startUpdate = startUpdateReset
	t.endUpdate = endUpdateReset
}

// rebuild restructures the tree from its current leaves.
func (t *AABBTree[T]) rebuild() {
	if t.numExternalNodes > 0 {
		var build []treeNode[T]
		if t.numExternalNodes == len(t.nodes) {
			build = t.nodes
			t.nodes = t.buildNodes[:0]
		} else {
			build = t.buildNodes[:0]
			for i := 0; i < t.endNode; i++ {
				if t.nodes[i].handle != nil {
					build = append(build, t.nodes[i])
				}
			}
		}

		numBuild := len(build)
		if numBuild > 1 {
			if numBuild > numNodesLeaf && t.numAdds > 0 {
				switch {
				case t.highQuality:
					sortNodesHighQuality(build)
				case t.ignoreY:
					sortNodesNoY(build)
				default:
					sortNodes(build)
				}
			}

			t.nodes = resizeNodes(t.nodes, 2*numBuild)
			t.recursiveBuild(build, 0, numBuild, 0)

			endNode := t.nodes[0].escape
			clear(t.nodes[endNode:])
			t.nodes = t.nodes[:endNode]
			t.endNode = endNode

			root := t.nodes[0].extents
			deltaX := root.MaxX - root.MinX
			deltaY := root.MaxY - root.MinY
			deltaZ := root.MaxZ - root.MinZ
			t.ignoreY = 4*deltaY < math.Min(deltaX, deltaZ)
		} else {
			t.nodes = resizeNodes(t.nodes, 1)
			t.place(build[0], 0)
			t.endNode = 1
		}

		clear(build)
		t.buildNodes = build[:0]
	}

	t.needsRebuild = false
	t.needsRebound = false
	t.numAdds = 0
	t.numUpdates = 0
	t.startUpdate = startUpdateReset
	t.endUpdate = endUpdateReset
}

// recursiveBuild lays out build[start:end] as the subtree rooted at
// nodeIndex.
func (t *AABBTree[T]) recursiveBuild(build []treeNode[T], start, end, nodeIndex int) {
	nodes := t.nodes
	lastIndex := nodeIndex + 1

	var extents Extents
	var last *treeNode[T]

	if start+numNodesLeaf >= end {
		extents = build[start].extents
		t.place(build[start], lastIndex)

		for n := start + 1; n < end; n++ {
			extents = extents.expand(build[n].extents)
			lastIndex++
			t.place(build[n], lastIndex)
		}

		last = &nodes[lastIndex]
	} else {
		split := (start + end) >> 1

		if start+1 >= split {
			t.place(build[start], lastIndex)
		} else {
			t.recursiveBuild(build, start, split, lastIndex)
		}

		last = &nodes[lastIndex]
		extents = last.extents
		lastIndex += last.escape

		if split+1 >= end {
			t.place(build[split], lastIndex)
		} else {
			t.recursiveBuild(build, split, end, lastIndex)
		}

		last = &nodes[lastIndex]
		extents = extents.expand(last.extents)
	}

	nodes[nodeIndex] = treeNode[T]{
		extents: extents,
		escape:  lastIndex + last.escape - nodeIndex,
	}
}

func (t *AABBTree[T]) place(n treeNode[T], index int) {
	n.escape = 1
	n.handle.set(index)
	t.nodes[index] = n
}

func resizeNodes[T any](nodes []treeNode[T], size int) []treeNode[T] {
	if cap(nodes) < size {
		resized := make([]treeNode[T], size)
		copy(resized, nodes)
		return resized
	}
	return nodes[:size]
}
