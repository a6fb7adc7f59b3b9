package psffit

import (
	"math"
	"testing"
)

func chi2Candidates(chi2s []float64) []*PsfCandidate {
	cands := make([]*PsfCandidate, len(chi2s))
	for i, c := range chi2s {
		cands[i] = &PsfCandidate{Source: int64(i), Chi2: c, index: i}
	}
	return cands
}

func TestClipChi2Graduated(t *testing.T) {
	clipper := &OutlierClipper{ReducedChi2Threshold: 2.0, SpatialReject: 3.0, NIterations: 3}
	// Flagged: 3.0 (over threshold), NaN, -1.0 (negative). Survivors: 0.5, 1.0.
	chi2s := []float64{0.5, 3.0, math.NaN(), -1.0, 1.0}

	// First iteration clips only the worst third: NaN sorts ahead of
	// everything finite.
	cands := chi2Candidates(chi2s)
	status := NewStatusMap(len(cands))
	n := clipper.ClipChi2(cands, status, 0)
	if n != 1 {
		t.Fatalf("iteration 0: clipped %d, want 1", n)
	}
	if status.Get(2) != StatusBad {
		t.Error("iteration 0 should clip the NaN candidate first")
	}

	// Last iteration clips every flagged candidate.
	cands = chi2Candidates(chi2s)
	status = NewStatusMap(len(cands))
	n = clipper.ClipChi2(cands, status, 2)
	if n != 3 {
		t.Fatalf("iteration 2: clipped %d, want 3", n)
	}
	for _, i := range []int{1, 2, 3} {
		if status.Get(i) != StatusBad {
			t.Errorf("candidate %d should be bad", i)
		}
	}
	for _, i := range []int{0, 4} {
		if status.Get(i) != StatusUnknown {
			t.Errorf("candidate %d should survive", i)
		}
	}
}

func TestGraduatedCountMonotone(t *testing.T) {
	clipper := &OutlierClipper{NIterations: 3}
	for _, flagged := range []int{0, 1, 2, 5, 17} {
		prev := 0
		for iter := 0; iter < clipper.NIterations; iter++ {
			n := clipper.graduatedCount(flagged, iter)
			if n < prev {
				t.Errorf("flagged=%d: count dropped from %d to %d at iteration %d",
					flagged, prev, n, iter)
			}
			prev = n
		}
		if prev != flagged {
			t.Errorf("flagged=%d: final iteration clips %d, want all", flagged, prev)
		}
	}
}

func spatialRecords(residuals [][]float64) []ResidualRecord {
	records := make([]ResidualRecord, len(residuals))
	for i, r := range residuals {
		records[i] = ResidualRecord{
			Cand:             &PsfCandidate{Source: int64(i), index: i},
			SpatialResiduals: r,
		}
	}
	return records
}

func TestClipSpatialRejectsOutlier(t *testing.T) {
	clipper := &OutlierClipper{ReducedChi2Threshold: 2.0, SpatialReject: 3.0, NIterations: 1}

	var residuals [][]float64
	for i := 0; i < 20; i++ {
		residuals = append(residuals, []float64{float64(i%5-2) * 1e-4})
	}
	residuals = append(residuals, []float64{1.0}) // index 20

	records := spatialRecords(residuals)
	status := NewStatusMap(len(records))
	n := clipper.ClipSpatial(records, 1, status, 0)
	if n != 1 {
		t.Fatalf("clipped %d, want 1", n)
	}
	if status.Get(20) != StatusBad {
		t.Error("outlier should be marked bad")
	}
	for i := 0; i < 20; i++ {
		if status.Get(i) != StatusUnknown {
			t.Errorf("inlier %d should survive", i)
		}
	}
}

func TestClipSpatialIgnoresChi2Rejects(t *testing.T) {
	clipper := &OutlierClipper{ReducedChi2Threshold: 2.0, SpatialReject: 3.0, NIterations: 1}

	var residuals [][]float64
	for i := 0; i < 20; i++ {
		residuals = append(residuals, []float64{0})
	}
	residuals = append(residuals, []float64{1.0}) // index 20

	records := spatialRecords(residuals)
	status := NewStatusMap(len(records))
	// The outlier already fell to the chi^2 pass: the spatial pass must not
	// count it again, and the remaining residuals are clean.
	status.Set(20, StatusBad)
	if n := clipper.ClipSpatial(records, 1, status, 0); n != 0 {
		t.Errorf("clipped %d, want 0", n)
	}
}

func TestClipSpatialTightResidualsKeepEveryone(t *testing.T) {
	clipper := &OutlierClipper{ReducedChi2Threshold: 2.0, SpatialReject: 3.0, NIterations: 1}

	// All residuals well inside the floored rms: nothing to clip even though
	// the sample stdev is essentially zero.
	var residuals [][]float64
	for i := 0; i < 10; i++ {
		residuals = append(residuals, []float64{float64(i%2) * 1e-6})
	}
	records := spatialRecords(residuals)
	status := NewStatusMap(len(records))
	if n := clipper.ClipSpatial(records, 1, status, 0); n != 0 {
		t.Errorf("clipped %d, want 0", n)
	}
}

func TestClipSpatialCountsCandidateOnceAcrossComponents(t *testing.T) {
	clipper := &OutlierClipper{ReducedChi2Threshold: 2.0, SpatialReject: 3.0, NIterations: 1}

	// The same candidate is an outlier in both components; it must be
	// reported once, not twice.
	var residuals [][]float64
	for i := 0; i < 20; i++ {
		residuals = append(residuals, []float64{float64(i%5-2) * 1e-4, float64(i%3-1) * 1e-4})
	}
	residuals = append(residuals, []float64{1.0, -1.0})

	records := spatialRecords(residuals)
	status := NewStatusMap(len(records))
	if n := clipper.ClipSpatial(records, 2, status, 0); n != 1 {
		t.Errorf("clipped %d, want 1", n)
	}
	if status.Get(20) != StatusBad {
		t.Error("outlier should be marked bad")
	}
}

func TestClipSpatialEmptySurvivors(t *testing.T) {
	clipper := &OutlierClipper{NIterations: 1, SpatialReject: 3.0}
	status := NewStatusMap(0)
	if n := clipper.ClipSpatial(nil, 1, status, 0); n != 0 {
		t.Errorf("clipped %d from empty records, want 0", n)
	}
}
