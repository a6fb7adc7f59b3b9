package psffit

import (
	"image"
	"testing"
)

func TestCellGridLayout(t *testing.T) {
	grid := NewSpatialCellGrid(image.Rect(0, 0, 100, 100), 30, 30)

	var cells []*SpatialCell
	for c := range grid.Cells() {
		cells = append(cells, c)
	}
	if len(cells) != 16 {
		t.Fatalf("cell count: got %d, want 16", len(cells))
	}

	// The last row/column absorbs the remainder: cells never extend past the
	// grid bounds.
	for _, c := range cells {
		if !c.Bounds.In(grid.Bounds) {
			t.Errorf("cell %v extends past grid bounds %v", c.Bounds, grid.Bounds)
		}
	}
	if last := cells[len(cells)-1].Bounds; last.Max.X != 100 || last.Max.Y != 100 {
		t.Errorf("last cell should touch the grid corner, got %v", last)
	}
}

func TestCellGridInsert(t *testing.T) {
	exp := gaussianExposure(t, 100, 100, nil)
	grid := NewSpatialCellGrid(image.Rect(0, 0, 100, 100), 50, 50)

	inside := newTestCandidate(0, 10, 10, exp)
	if err := grid.Insert(inside); err != nil {
		t.Fatalf("insert inside: %v", err)
	}
	outside := newTestCandidate(1, 150, 10, exp)
	if err := grid.Insert(outside); err == nil {
		t.Error("insert outside bounds should return an error")
	}

	if grid.NumInserted() != 1 {
		t.Errorf("inserted: got %d, want 1", grid.NumInserted())
	}
	if grid.NumRejected() != 1 {
		t.Errorf("rejected: got %d, want 1", grid.NumRejected())
	}
}

func TestCellGridCandidateIteration(t *testing.T) {
	exp := gaussianExposure(t, 100, 100, nil)
	grid := NewSpatialCellGrid(image.Rect(0, 0, 100, 100), 50, 50)

	cands := []*PsfCandidate{
		newTestCandidate(0, 10, 10, exp),
		newTestCandidate(1, 20, 10, exp),
		newTestCandidate(2, 80, 80, exp),
	}
	for _, c := range cands {
		if err := grid.Insert(c); err != nil {
			t.Fatalf("insert: %v", err)
		}
	}

	status := NewStatusMap(len(cands))
	if got := grid.CountCandidates(status, true); got != 3 {
		t.Errorf("count all: got %d, want 3", got)
	}

	status.Set(1, StatusBad)
	if got := grid.CountCandidates(status, false); got != 2 {
		t.Errorf("count good: got %d, want 2", got)
	}
	if got := grid.CountCandidates(status, true); got != 3 {
		t.Errorf("count with bad: got %d, want 3", got)
	}

	// Bad candidates are invisible to the filtered iteration.
	for cand := range grid.Candidates(status, false) {
		if cand.index == 1 {
			t.Error("bad candidate yielded by filtered iteration")
		}
	}

	// The sequence is restartable: a second pass sees the same candidates.
	first, second := 0, 0
	seq := grid.Candidates(status, false)
	for range seq {
		first++
	}
	for range seq {
		second++
	}
	if first != second {
		t.Errorf("restarted sequence: got %d then %d", first, second)
	}
}

func TestCellInsertionOrderPreserved(t *testing.T) {
	exp := gaussianExposure(t, 100, 100, nil)
	grid := NewSpatialCellGrid(image.Rect(0, 0, 100, 100), 100, 100)

	for i := 0; i < 5; i++ {
		if err := grid.Insert(newTestCandidate(i, float64(10+i), 50, exp)); err != nil {
			t.Fatalf("insert: %v", err)
		}
	}

	status := NewStatusMap(5)
	want := 0
	for cand := range grid.Candidates(status, true) {
		if cand.index != want {
			t.Fatalf("iteration order: got index %d, want %d", cand.index, want)
		}
		want++
	}
}

func TestBestCandidatesLimit(t *testing.T) {
	exp := gaussianExposure(t, 100, 100, nil)
	grid := NewSpatialCellGrid(image.Rect(0, 0, 100, 100), 100, 100)

	for i := 0; i < 5; i++ {
		if err := grid.Insert(newTestCandidate(i, float64(10+i), 50, exp)); err != nil {
			t.Fatalf("insert: %v", err)
		}
	}
	status := NewStatusMap(5)
	status.Set(0, StatusBad)

	var got []int
	for cell := range grid.Cells() {
		for cand := range cell.BestCandidates(status, 2, false) {
			got = append(got, cand.index)
		}
	}
	// Candidate 0 is bad, so the best two survivors are 1 and 2.
	if len(got) != 2 || got[0] != 1 || got[1] != 2 {
		t.Errorf("best candidates: got %v, want [1 2]", got)
	}

	// limit <= 0 means no cap.
	n := 0
	for cell := range grid.Cells() {
		for range cell.BestCandidates(status, 0, false) {
			n++
		}
	}
	if n != 4 {
		t.Errorf("uncapped best candidates: got %d, want 4", n)
	}
}
