package psffit

import (
	"fmt"
	"image"
	"iter"
)

// SpatialCell is one rectangular sub-region of the exposure. It owns the
// candidates whose centers fall inside it, in insertion order.
type SpatialCell struct {
	Bounds     image.Rectangle
	candidates []*PsfCandidate
}

// Candidates yields the cell's candidates lazily, in insertion order.
// When includeBad is false, candidates marked Bad in the status map are
// skipped. The sequence is restartable.
func (c *SpatialCell) Candidates(status StatusMap, includeBad bool) iter.Seq[*PsfCandidate] {
	return func(yield func(*PsfCandidate) bool) {
		for _, cand := range c.candidates {
			if !includeBad && status.Get(cand.index) == StatusBad {
				continue
			}
			if !yield(cand) {
				return
			}
		}
	}
}

// BestCandidates is Candidates limited to the first limit surviving
// candidates of the cell. Candidates arrive pre-sorted by quality from the
// upstream selector, so insertion order is best-first. limit <= 0 means all.
func (c *SpatialCell) BestCandidates(status StatusMap, limit int, includeBad bool) iter.Seq[*PsfCandidate] {
	return func(yield func(*PsfCandidate) bool) {
		n := 0
		for cand := range c.Candidates(status, includeBad) {
			if limit > 0 && n >= limit {
				return
			}
			if !yield(cand) {
				return
			}
			n++
		}
	}
}

func (c *SpatialCell) Len() int { return len(c.candidates) }

// SpatialCellGrid partitions an exposure's bounding box into a regular grid
// of rectangular cells. Membership is fixed at insertion time; only candidate
// status changes across iterations.
type SpatialCellGrid struct {
	Bounds     image.Rectangle
	CellWidth  int
	CellHeight int

	nx, ny      int
	cells       []*SpatialCell
	numInserted int
	numRejected int
}

// NewSpatialCellGrid builds an empty grid over bounds with cells of the given
// pixel dimensions. The last row/column of cells absorbs any remainder.
func NewSpatialCellGrid(bounds image.Rectangle, cellWidth, cellHeight int) *SpatialCellGrid {
	nx := (bounds.Dx() + cellWidth - 1) / cellWidth
	ny := (bounds.Dy() + cellHeight - 1) / cellHeight
	if nx < 1 {
		nx = 1
	}
	if ny < 1 {
		ny = 1
	}
	cells := make([]*SpatialCell, 0, nx*ny)
	for iy := 0; iy < ny; iy++ {
		for ix := 0; ix < nx; ix++ {
			r := image.Rect(
				bounds.Min.X+ix*cellWidth,
				bounds.Min.Y+iy*cellHeight,
				bounds.Min.X+(ix+1)*cellWidth,
				bounds.Min.Y+(iy+1)*cellHeight,
			).Intersect(bounds)
			cells = append(cells, &SpatialCell{Bounds: r})
		}
	}
	return &SpatialCellGrid{
		Bounds:     bounds,
		CellWidth:  cellWidth,
		CellHeight: cellHeight,
		nx:         nx,
		ny:         ny,
		cells:      cells,
	}
}

// Insert places the candidate into the cell containing its center. A center
// outside the grid's bounding box is rejected: the candidate is dropped, the
// rejection counter incremented, and an error returned for the caller to log.
func (g *SpatialCellGrid) Insert(cand *PsfCandidate) error {
	x, y := cand.Center.X, cand.Center.Y
	minX, minY := float64(g.Bounds.Min.X), float64(g.Bounds.Min.Y)
	maxX, maxY := float64(g.Bounds.Max.X), float64(g.Bounds.Max.Y)
	if x < minX || x >= maxX || y < minY || y >= maxY {
		g.numRejected++
		return fmt.Errorf("candidate %d center (%.1f,%.1f) outside grid bounds %v",
			cand.Source, x, y, g.Bounds)
	}
	ix := int(x-minX) / g.CellWidth
	iy := int(y-minY) / g.CellHeight
	if ix >= g.nx {
		ix = g.nx - 1
	}
	if iy >= g.ny {
		iy = g.ny - 1
	}
	cell := g.cells[iy*g.nx+ix]
	cell.candidates = append(cell.candidates, cand)
	g.numInserted++
	return nil
}

// Cells yields the grid's cells lazily. No cross-cell ordering is guaranteed
// beyond being deterministic.
func (g *SpatialCellGrid) Cells() iter.Seq[*SpatialCell] {
	return func(yield func(*SpatialCell) bool) {
		for _, c := range g.cells {
			if !yield(c) {
				return
			}
		}
	}
}

// Candidates yields all candidates across all cells.
func (g *SpatialCellGrid) Candidates(status StatusMap, includeBad bool) iter.Seq[*PsfCandidate] {
	return func(yield func(*PsfCandidate) bool) {
		for _, c := range g.cells {
			for cand := range c.Candidates(status, includeBad) {
				if !yield(cand) {
					return
				}
			}
		}
	}
}

// CountCandidates counts candidates across all cells, optionally skipping
// Bad ones.
func (g *SpatialCellGrid) CountCandidates(status StatusMap, includeBad bool) int {
	n := 0
	for range g.Candidates(status, includeBad) {
		n++
	}
	return n
}

// NumInserted is the number of candidates accepted into the grid.
func (g *SpatialCellGrid) NumInserted() int { return g.numInserted }

// NumRejected is the number of candidates dropped at insertion because their
// center fell outside the grid's bounding box.
func (g *SpatialCellGrid) NumRejected() int { return g.numRejected }
