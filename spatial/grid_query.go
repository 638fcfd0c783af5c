package spatial

import (
	"github.com/go-gl/mathgl/mgl64"
)

func (g *Grid[T]) OverlappingNodes(query Extents, out []T) []T {
	if g.numNodes == 0 || !g.overlapsGrid(query.MinX, query.MinZ, query.MaxX, query.MaxZ) {
		return out
	}

	minX, firstRow, maxX, lastRow := g.cellRange(query.MinX, query.MinZ, query.MaxX, query.MaxZ)

	g.queryIndex++
	queryIndex := g.queryIndex

	for row := firstRow; row <= lastRow; row += g.numCellsX {
		internalRow := firstRow < row && row < lastRow
		cs := row + minX
		ce := row + maxX

		for ci := cs; ci <= ce; ci++ {
			// Nodes in cells surrounded by other query cells overlap the
			// query on X and Z.
			yOnly := internalRow && cs < ci && ci < ce

			for _, n := range g.cells[ci] {
				if n.queryIndex == queryIndex {
					continue
				}
				n.queryIndex = queryIndex

				if yOnly {
					if query.MinY <= n.extents.MaxY && query.MaxY >= n.extents.MinY {
						out = append(out, n.item)
					}
				} else if query.Overlaps(n.extents) {
					out = append(out, n.item)
				}
			}
		}
	}
	return out
}

func (g *Grid[T]) SphereOverlappingNodes(center mgl64.Vec3, radius float64, out []T) []T {
	minX := center[0] - radius
	minZ := center[2] - radius
	maxX := center[0] + radius
	maxZ := center[2] + radius
	if g.numNodes == 0 || !g.overlapsGrid(minX, minZ, maxX, maxZ) {
		return out
	}

	firstX, firstRow, lastX, lastRow := g.cellRange(minX, minZ, maxX, maxZ)
	radiusSquared := radius * radius

	g.queryIndex++
	queryIndex := g.queryIndex

	for row := firstRow; row <= lastRow; row += g.numCellsX {
		for ci := row + firstX; ci <= row+lastX; ci++ {
			for _, n := range g.cells[ci] {
				if n.queryIndex == queryIndex {
					continue
				}
				n.queryIndex = queryIndex

				if n.extents.DistanceSquared(center) <= radiusSquared {
					out = append(out, n.item)
				}
			}
		}
	}
	return out
}

// OverlappingPairs appends every couple of overlapping entities sharing at
// least one cell. Couples sharing several cells are reported once.
func (g *Grid[T]) OverlappingPairs(out []Pair[T]) []Pair[T] {
	if g.numNodes == 0 {
		return out
	}

	pairs := g.pairs
	clear(pairs)

	for _, cell := range g.cells {
		for i := 0; i < len(cell)-1; i++ {
			a := cell[i]
			for j := i + 1; j < len(cell); j++ {
				b := cell[j]

				key := pairKey(a.id, b.id)
				if _, ok := pairs[key]; ok {
					continue
				}

				if a.extents.Overlaps(b.extents) {
					pairs[key] = struct{}{}
					out = append(out, Pair[T]{A: a.item, B: b.item})
				}
			}
		}
	}
	return out
}

func pairKey(a, b int) uint64 {
	if a > b {
		a, b = b, a
	}
	return uint64(uint32(a))<<32 | uint64(uint32(b))
}

// VisibleNodes appends the entities at least partially inside every plane.
// Sparse grids are scanned linearly. Dense grids are walked row by row, then
// cell by cell, only testing the planes the enclosing row or cell is not
// fully inside of.
func (g *Grid[T]) VisibleNodes(planes []Plane, out []T) []T {
	if g.numNodes == 0 {
		return out
	}

	if g.numNodes < 2*g.numCellsZ {
		for _, n := range g.nodes[:g.numNodes] {
			if n.extents.IsInsidePlanes(planes) {
				out = append(out, n.item)
			}
		}
		return out
	}

	clip, ok := g.clipPlanes(planes)
	if !ok {
		return out
	}
	firstX, firstRow, lastX, lastRow := g.cellRange(clip.MinX, clip.MinZ, clip.MaxX, clip.MaxZ)

	g.queryIndex++
	queryIndex := g.queryIndex

	cellSize := g.cellSize
	rowExtents := Extents{
		MinX: g.extents.MinX + float64(firstX)*cellSize,
		MinY: g.extents.MinY,
		MaxX: g.extents.MinX + float64(lastX+1)*cellSize,
		MaxY: g.extents.MaxY,
	}

	for row := firstRow; row <= lastRow; row += g.numCellsX {
		rowExtents.MinZ = g.extents.MinZ + float64(row/g.numCellsX)*cellSize
		rowExtents.MaxZ = rowExtents.MinZ + cellSize

		var visible bool
		g.rowPlanes, visible = partialPlanes(&rowExtents, planes, g.rowPlanes[:0])
		if !visible {
			continue
		}

		cellExtents := rowExtents
		for x := firstX; x <= lastX; x++ {
			cell := g.cells[row+x]
			if len(cell) == 0 {
				continue
			}

			cellExtents.MinX = g.extents.MinX + float64(x)*cellSize
			cellExtents.MaxX = cellExtents.MinX + cellSize

			g.cellPlanes, visible = partialPlanes(&cellExtents, g.rowPlanes, g.cellPlanes[:0])
			if !visible {
				continue
			}

			for _, n := range cell {
				if n.queryIndex == queryIndex {
					continue
				}
				n.queryIndex = queryIndex

				if len(g.cellPlanes) == 0 || n.extents.IsInsidePlanes(g.cellPlanes) {
					out = append(out, n.item)
				}
			}
		}
	}
	return out
}

// partialPlanes appends to out the planes e is not fully inside of. It
// returns false when e is entirely outside one of the planes.
func partialPlanes(e *Extents, planes []Plane, out []Plane) ([]Plane, bool) {
	for i := range planes {
		p := &planes[i]
		if !e.isInsidePlane(p) {
			return out, false
		}
		if !e.isFullyInsidePlane(p) {
			out = append(out, *p)
		}
	}
	return out, true
}

// clipPlanes shrinks the grid extents on X and Z to the region where each
// plane can have a point of the grid inside it. It returns false when no
// region is left.
func (g *Grid[T]) clipPlanes(planes []Plane) (Extents, bool) {
	grid := g.extents
	e := grid

	for i := range planes {
		n := planes[i].Normal
		d := planes[i].D

		if n[0] != 0 {
			rest := maxProduct(n[1], grid.MinY, grid.MaxY) + maxProduct(n[2], grid.MinZ, grid.MaxZ)
			bound := (d - rest) / n[0]
			if n[0] > 0 {
				e.MinX = max(e.MinX, bound)
			} else {
				e.MaxX = min(e.MaxX, bound)
			}
		}

		if n[2] != 0 {
			rest := maxProduct(n[0], grid.MinX, grid.MaxX) + maxProduct(n[1], grid.MinY, grid.MaxY)
			bound := (d - rest) / n[2]
			if n[2] > 0 {
				e.MinZ = max(e.MinZ, bound)
			} else {
				e.MaxZ = min(e.MaxZ, bound)
			}
		}

		if e.MinX > e.MaxX || e.MinZ > e.MaxZ {
			return e, false
		}
	}
	return e, true
}

// maxProduct returns the maximum of k*v for v in [min, max].
func maxProduct(k, min, max float64) float64 {
	if k < 0 {
		return k * min
	}
	return k * max
}
