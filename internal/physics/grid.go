package physics

import (
	"math"
	"slices"
)

// cellKey addresses one column of the broad-phase grid on the XZ plane.
type cellKey struct {
	col, row int64
}

// cellLimit bounds cell coordinates well inside int64; farther positions
// share the edge cells.
const cellLimit = 1 << 40

// SpatialGrid is a sparse uniform grid over the XZ plane used as the contact
// broad phase. Cells are keyed by integer coordinates so the world needs no
// fixed extent; cell slices keep their capacity between steps.
type SpatialGrid struct {
	cellSize    float64
	invCellSize float64
	cells       map[cellKey][]uint32
	scratch     []uint32 // reusable buffer for query results
}

// NewSpatialGrid creates a grid. cellSize should be at least the contact
// distance (two radii) so neighbours are always in adjacent cells.
func NewSpatialGrid(cellSize float64) *SpatialGrid {
	if cellSize <= 0 {
		cellSize = 1
	}
	return &SpatialGrid{
		cellSize:    cellSize,
		invCellSize: 1.0 / cellSize,
		cells:       make(map[cellKey][]uint32),
		scratch:     make([]uint32, 0, 64),
	}
}

// Clear empties every cell without releasing memory.
func (g *SpatialGrid) Clear() {
	for k, c := range g.cells {
		g.cells[k] = c[:0]
	}
}

func (g *SpatialGrid) key(x, z float64) cellKey {
	return cellKey{col: g.coord(x), row: g.coord(z)}
}

func (g *SpatialGrid) coord(v float64) int64 {
	c := math.Floor(v * g.invCellSize)
	switch {
	case math.IsNaN(c):
		return 0
	case c < -cellLimit:
		return -cellLimit
	case c > cellLimit:
		return cellLimit
	}
	return int64(c)
}

// Insert adds the entity index at (x, z).
func (g *SpatialGrid) Insert(entityID uint32, x, z float64) {
	k := g.key(x, z)
	g.cells[k] = append(g.cells[k], entityID)
}

// QueryRadius returns entity indices that may lie within radius of (cx, cz).
// The result may contain entities outside the radius; callers do the narrow
// phase. The returned slice is reused by the next call.
func (g *SpatialGrid) QueryRadius(cx, cz, radius float64) []uint32 {
	g.scratch = g.scratch[:0]
	lo := g.key(cx-radius, cz-radius)
	hi := g.key(cx+radius, cz+radius)

	// a query wider than the allocated cells walks the map instead
	span := float64(hi.col-lo.col+1) * float64(hi.row-lo.row+1)
	if span > float64(len(g.cells)) {
		for k, cell := range g.cells {
			if k.col >= lo.col && k.col <= hi.col && k.row >= lo.row && k.row <= hi.row {
				g.scratch = append(g.scratch, cell...)
			}
		}
		slices.Sort(g.scratch)
		return g.scratch
	}

	for row := lo.row; row <= hi.row; row++ {
		for col := lo.col; col <= hi.col; col++ {
			g.scratch = append(g.scratch, g.cells[cellKey{col, row}]...)
		}
	}
	return g.scratch
}

// Stats returns grid statistics for debugging.
func (g *SpatialGrid) Stats() GridStats {
	var total, maxInCell, nonEmpty int
	for _, cell := range g.cells {
		n := len(cell)
		total += n
		if n > maxInCell {
			maxInCell = n
		}
		if n > 0 {
			nonEmpty++
		}
	}
	return GridStats{
		AllocatedCells: len(g.cells),
		NonEmptyCells:  nonEmpty,
		TotalEntities:  total,
		MaxInCell:      maxInCell,
	}
}

// GridStats contains grid statistics for debugging.
type GridStats struct {
	AllocatedCells int
	NonEmptyCells  int
	TotalEntities  int
	MaxInCell      int
}
