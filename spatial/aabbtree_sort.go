package spatial

type sortKey int

const (
	keyX sortKey = iota
	keyY
	keyZ
	keyXZ
	keyZX
)

func (k sortKey) of(e *Extents, reverse bool) float64 {
	var v float64
	switch k {
	case keyX:
		v = e.MinX + e.MaxX
	case keyY:
		v = e.MinY + e.MaxY
	case keyZ:
		v = e.MinZ + e.MaxZ
	case keyXZ:
		v = e.MinX + e.MinZ + e.MaxX + e.MaxZ
	case keyZX:
		v = e.MinX - e.MinZ + e.MaxX - e.MaxZ
	}

	if reverse {
		return -v
	}
	return v
}

// nodeSorter orders build nodes so that consecutive ranges are spatially
// close. The axis and direction alternate across the whole recursion.
type nodeSorter[T any] struct {
	nodes   []treeNode[T]
	axis    sortKey
	reverse bool
}

func sortNodes[T any](nodes []treeNode[T]) {
	s := nodeSorter[T]{nodes: nodes, axis: keyX}
	s.sort(0, len(nodes), func(axis sortKey) sortKey {
		switch axis {
		case keyX:
			return keyZ
		case keyZ:
			return keyY
		default:
			return keyX
		}
	})
}

// sortNodesNoY ignores the Y axis. Used for flat scenes.
func sortNodesNoY[T any](nodes []treeNode[T]) {
	s := nodeSorter[T]{nodes: nodes, axis: keyX}
	s.sort(0, len(nodes), func(axis sortKey) sortKey {
		if axis == keyX {
			return keyZ
		}
		return keyX
	})
}

func (s *nodeSorter[T]) sort(start, end int, next func(sortKey) sortKey) {
	split := (start + end) >> 1

	s.nthElement(start, split, end, s.axis, s.reverse)
	s.axis = next(s.axis)
	s.reverse = !s.reverse

	if start+numNodesLeaf < split {
		s.sort(start, split, next)
	}
	if split+numNodesLeaf < end {
		s.sort(split, end, next)
	}
}

// sortNodesHighQuality picks for each split the key that minimizes the
// summed dimensions of both halves.
func sortNodesHighQuality[T any](nodes []treeNode[T]) {
	s := nodeSorter[T]{nodes: nodes}
	s.sortHighQuality(0, len(nodes))
}

func (s *nodeSorter[T]) sortHighQuality(start, end int) {
	split := (start + end) >> 1

	var sah [keyZX + 1]float64
	for k := keyX; k <= keyZX; k++ {
		s.nthElement(start, split, end, k, false)
		sah[k] = s.surface(start, split) + s.surface(split, end)
	}

	var best sortKey
	switch {
	case sah[keyX] <= sah[keyY] &&
		sah[keyX] <= sah[keyZ] &&
		sah[keyX] <= sah[keyXZ] &&
		sah[keyX] <= sah[keyZX]:
		best = keyX

	case sah[keyZ] <= sah[keyY] &&
		sah[keyZ] <= sah[keyXZ] &&
		sah[keyZ] <= sah[keyZX]:
		best = keyZ

	case sah[keyY] <= sah[keyXZ] &&
		sah[keyY] <= sah[keyZX]:
		best = keyY

	case sah[keyXZ] <= sah[keyZX]:
		best = keyXZ

	default:
		best = keyZX
	}

	s.nthElement(start, split, end, best, s.reverse)
	s.reverse = !s.reverse

	if start+numNodesLeaf < split {
		s.sortHighQuality(start, split)
	}
	if split+numNodesLeaf < end {
		s.sortHighQuality(split, end)
	}
}

// surface returns the summed dimensions of the union of nodes[start:end].
func (s *nodeSorter[T]) surface(start, end int) float64 {
	e := s.nodes[start].extents
	for i := start + 1; i < end; i++ {
		e = e.expand(s.nodes[i].extents)
	}
	return e.surface()
}

// nthElement partially orders nodes[first:last] so that the node at nth is
// the one a full sort would put there, with smaller keys before it and
// greater keys after it.
func (s *nodeSorter[T]) nthElement(first, nth, last int, k sortKey, reverse bool) {
	nodes := s.nodes
	key := func(i int) float64 {
		return k.of(&nodes[i].extents, reverse)
	}

	for last-first > 8 {
		mid := median3(
			key(first),
			key(first+((last-first)>>1)),
			key(last-1),
		)

		firstPos := first
		lastPos := last
		var midPos int
		for ; ; firstPos++ {
			for key(firstPos) < mid {
				firstPos++
			}

			lastPos--
			for mid < key(lastPos) {
				lastPos--
			}

			if firstPos >= lastPos {
				midPos = firstPos
				break
			}
			nodes[firstPos], nodes[lastPos] = nodes[lastPos], nodes[firstPos]
		}

		if midPos <= nth {
			first = midPos
		} else {
			last = midPos
		}
	}

	insertionSort(nodes, first, last, key)
}

func insertionSort[T any](nodes []treeNode[T], first, last int, key func(int) float64) {
	for sorted := first + 1; sorted < last; sorted++ {
		tmp := nodes[sorted]
		tmpKey := key(sorted)

		next := sorted
		for next > first && tmpKey < key(next-1) {
			nodes[next] = nodes[next-1]
			next--
		}
		if next != sorted {
			nodes[next] = tmp
		}
	}
}

func median3(a, b, c float64) float64 {
	if a < b {
		switch {
		case b < c:
			return b
		case a < c:
			return c
		default:
			return a
		}
	}

	switch {
	case a < c:
		return a
	case b < c:
		return c
	default:
		return b
	}
}
