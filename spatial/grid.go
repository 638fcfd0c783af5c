package spatial

import (
	"math"

	"github.com/aukilabs/go-tooling/pkg/errors"
)

const (
	ErrTypeOutOfBounds = "spatial_out_of_bounds"
)

var (
	_ Index[int] = (*Grid[int])(nil)
)

type gridNode[T any] struct {
	id      int
	extents Extents

	// Inclusive cell range. Rows are premultiplied by the number of cells
	// along X.
	minX   int
	minRow int
	maxX   int
	maxRow int

	queryIndex uint64
	item       T
	handle     *Handle
}

func (n *gridNode[T]) clear() {
	var zero T

	n.queryIndex = 0
	n.item = zero
	n.handle = nil
}

// Grid is a uniform grid over the XZ plane. Each cell lists the entities
// whose extents overlap it. Y is stored per entity and not gridded.
//
// The grid covers fixed extents. Only boxes lying inside them can be stored,
// anything else makes Add and Update panic.
type Grid[T any] struct {
	extents   Extents
	cellSize  float64
	numCellsX int
	numCellsZ int

	cells      [][]*gridNode[T]
	nodes      []*gridNode[T]
	numNodes   int
	queryIndex uint64

	rowPlanes  []Plane
	cellPlanes []Plane
	pairs      map[uint64]struct{}
}

// NewGrid creates a grid covering the given extents with square cells.
func NewGrid[T any](extents Extents, cellSize float64) (*Grid[T], error) {
	if !extents.IsValid() || extents.MaxX == extents.MinX || extents.MaxZ == extents.MinZ {
		return nil, errors.New("invalid grid extents").
			WithType(ErrTypeOutOfBounds).
			WithTag("extents", extents)
	}
	if !(cellSize > 0) || math.IsInf(cellSize, 0) {
		return nil, errors.New("invalid grid cell size").
			WithType(ErrTypeOutOfBounds).
			WithTag("cell_size", cellSize)
	}

	numCellsX := int(math.Ceil((extents.MaxX - extents.MinX) / cellSize))
	numCellsZ := int(math.Ceil((extents.MaxZ - extents.MinZ) / cellSize))

	return &Grid[T]{
		extents:   extents,
		cellSize:  cellSize,
		numCellsX: numCellsX,
		numCellsZ: numCellsZ,
		cells:     make([][]*gridNode[T], numCellsX*numCellsZ),
		pairs:     make(map[uint64]struct{}),
	}, nil
}

func (g *Grid[T]) GridExtents() Extents {
	return g.extents
}

func (g *Grid[T]) CellSize() float64 {
	return g.cellSize
}

// Cells returns the number of cells along X and Z.
func (g *Grid[T]) Cells() (int, int) {
	return g.numCellsX, g.numCellsZ
}

func (g *Grid[T]) Len() int {
	return g.numNodes
}

func (g *Grid[T]) Extents(h *Handle) (Extents, bool) {
	if !h.Valid() || h.index() >= g.numNodes {
		return Extents{}, false
	}
	return g.nodes[h.index()].extents, true
}

// Accepts reports whether Add and Update can store the given extents without
// panicking.
func (g *Grid[T]) Accepts(e Extents) bool {
	return e.IsValid() && g.extents.Contains(e)
}

// Finalize does nothing, the grid is always up to date.
func (g *Grid[T]) Finalize() {
}

func (g *Grid[T]) Add(h *Handle, item T, extents Extents) {
	if h.Valid() {
		g.Update(h, item, extents)
		return
	}

	minX, minRow, maxX, maxRow := g.mustCellRange(extents)

	id := g.numNodes
	h.set(id)

	var node *gridNode[T]
	if id < len(g.nodes) {
		node = g.nodes[id]
	} else {
		node = &gridNode[T]{id: id}
		g.nodes = append(g.nodes, node)
	}

	node.extents = extents
	node.item = item
	node.handle = h
	node.minX = minX
	node.minRow = minRow
	node.maxX = maxX
	node.maxRow = maxRow

	g.numNodes = id + 1
	g.addToCells(node)
}

func (g *Grid[T]) Update(h *Handle, item T, extents Extents) {
	if !h.Valid() {
		g.Add(h, item, extents)
		return
	}

	newMinX, newMinRow, newMaxX, newMaxRow := g.mustCellRange(extents)

	node := g.nodes[h.index()]
	node.extents = extents
	node.item = item

	oldMinX, oldMinRow, oldMaxX, oldMaxRow := node.minX, node.minRow, node.maxX, node.maxRow
	if oldMinX == newMinX &&
		oldMinRow == newMinRow &&
		oldMaxX == newMaxX &&
		oldMaxRow == newMaxRow {
		return
	}

	node.minX = newMinX
	node.minRow = newMinRow
	node.maxX = newMaxX
	node.maxRow = newMaxRow

	minX := min(oldMinX, newMinX)
	maxX := max(oldMaxX, newMaxX)
	maxRow := max(oldMaxRow, newMaxRow)

	for row := min(oldMinRow, newMinRow); row <= maxRow; row += g.numCellsX {
		newRow := newMinRow <= row && row <= newMaxRow
		oldRow := oldMinRow <= row && row <= oldMaxRow

		for x := minX; x <= maxX; x++ {
			newCell := newRow && newMinX <= x && x <= newMaxX
			oldCell := oldRow && oldMinX <= x && x <= oldMaxX

			switch {
			case newCell && !oldCell:
				g.cells[row+x] = append(g.cells[row+x], node)
			case oldCell && !newCell:
				g.removeFromCell(row+x, node)
			}
		}
	}
}

func (g *Grid[T]) Remove(h *Handle) {
	if !h.Valid() {
		return
	}

	index := h.index()
	h.reset()

	if g.numNodes <= 1 {
		g.Clear()
		return
	}

	g.numNodes--
	last := g.numNodes

	node := g.nodes[index]
	g.removeFromCells(node)
	node.clear()

	if index < last {
		moved := g.nodes[last]
		g.nodes[index] = moved
		g.nodes[last] = node
		node.id = last
		moved.id = index
		moved.handle.set(index)
	}
}

func (g *Grid[T]) Clear() {
	for i := 0; i < g.numNodes; i++ {
		if h := g.nodes[i].handle; h != nil {
			h.reset()
		}
	}

	clear(g.cells)
	clear(g.nodes)
	g.nodes = g.nodes[:0]
	g.numNodes = 0
	g.queryIndex = 0
}

func (g *Grid[T]) addToCells(node *gridNode[T]) {
	for row := node.minRow; row <= node.maxRow; row += g.numCellsX {
		for ci := row + node.minX; ci <= row+node.maxX; ci++ {
			g.cells[ci] = append(g.cells[ci], node)
		}
	}
}

func (g *Grid[T]) removeFromCells(node *gridNode[T]) {
	for row := node.minRow; row <= node.maxRow; row += g.numCellsX {
		for ci := row + node.minX; ci <= row+node.maxX; ci++ {
			g.removeFromCell(ci, node)
		}
	}
}

func (g *Grid[T]) removeFromCell(ci int, node *gridNode[T]) {
	cell := g.cells[ci]
	for i, n := range cell {
		if n != node {
			continue
		}

		last := len(cell) - 1
		cell[i] = cell[last]
		cell[last] = nil
		if last == 0 {
			g.cells[ci] = nil
		} else {
			g.cells[ci] = cell[:last]
		}
		return
	}
}

// mustCellRange returns the cells covered by a box stored in the grid.
func (g *Grid[T]) mustCellRange(e Extents) (minX, minRow, maxX, maxRow int) {
	if !e.IsValid() {
		panic(errors.New("invalid extents").
			WithType(ErrTypeOutOfBounds).
			WithTag("extents", e))
	}
	if !g.extents.Contains(e) {
		panic(errors.New("extents out of grid bounds").
			WithType(ErrTypeOutOfBounds).
			WithTag("extents", e).
			WithTag("grid_extents", g.extents))
	}
	return g.cellRange(e.MinX, e.MinZ, e.MaxX, e.MaxZ)
}

// cellRange returns the cells covering an XZ rectangle, clamped to the grid.
func (g *Grid[T]) cellRange(minX, minZ, maxX, maxZ float64) (int, int, int, int) {
	return g.column(minX),
		g.row(minZ) * g.numCellsX,
		g.column(maxX),
		g.row(maxZ) * g.numCellsX
}

func (g *Grid[T]) column(x float64) int {
	return clampCell(math.Floor((x-g.extents.MinX)/g.cellSize), g.numCellsX)
}

func (g *Grid[T]) row(z float64) int {
	return clampCell(math.Floor((z-g.extents.MinZ)/g.cellSize), g.numCellsZ)
}

func clampCell(v float64, numCells int) int {
	switch {
	case v < 0 || math.IsNaN(v):
		return 0
	case v >= float64(numCells):
		return numCells - 1
	default:
		return int(v)
	}
}

// overlapsGrid reports whether an XZ rectangle intersects the grid.
func (g *Grid[T]) overlapsGrid(minX, minZ, maxX, maxZ float64) bool {
	return minX <= g.extents.MaxX && maxX >= g.extents.MinX &&
		minZ <= g.extents.MaxZ && maxZ >= g.extents.MinZ
}
