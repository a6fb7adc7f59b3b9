package psffit

import (
	"math"
	"sort"
)

// spatialRMSFloor guards the spatial clip against near-zero residual spread.
// Below this the clipped stdev is dominated by numerical noise.
const spatialRMSFloor = 1.0e-4

// OutlierClipper applies the two robust rejection passes of each iteration.
// Clipping severity is graduated: iteration i removes round(n*(i+1)/nIter)
// of the flagged candidates, worst first, so early iterations only drop the
// clearest outliers and later ones approach removing all flagged.
type OutlierClipper struct {
	ReducedChi2Threshold float64
	SpatialReject        float64
	NIterations          int
}

// graduatedCount is the number of flagged candidates actually rejected at
// the given 0-based iteration.
func (c *OutlierClipper) graduatedCount(flagged, iteration int) int {
	return int(float64(flagged)*float64(iteration+1)/float64(c.NIterations) + 0.5)
}

// ClipChi2 is the global chi^2 pass: candidates whose reduced chi^2 is
// negative, above the threshold, or NaN are flagged; the worst graduated
// fraction is marked Bad. Negative chi^2 is treated as clip-worthy rather
// than an error.
// TODO: review whether negative chi^2 can still occur with the Cholesky
// amplitude solve, or only guarded a solver bug upstream.
func (c *OutlierClipper) ClipChi2(cands []*PsfCandidate, status StatusMap, iteration int) int {
	var flagged []*PsfCandidate
	for _, cand := range cands {
		rchi2 := cand.Chi2
		if rchi2 < 0 || rchi2 > c.ReducedChi2Threshold || math.IsNaN(rchi2) {
			flagged = append(flagged, cand)
		}
	}

	sort.SliceStable(flagged, func(i, j int) bool {
		return chi2SortKey(flagged[i].Chi2) > chi2SortKey(flagged[j].Chi2)
	})

	numBad := c.graduatedCount(len(flagged), iteration)
	for i := 0; i < numBad && i < len(flagged); i++ {
		status.Set(flagged[i].index, StatusBad)
	}
	return min(numBad, len(flagged))
}

// chi2SortKey orders NaN ahead of every finite value so undefined fits are
// rejected first.
func chi2SortKey(chi2 float64) float64 {
	if math.IsNaN(chi2) {
		return math.Inf(1)
	}
	return chi2
}

// ClipSpatial is the per-component spatial residual pass. Only candidates
// that survived the chi^2 pass participate. Each component independently
// flags candidates more than SpatialReject clipped-sigmas from the clipped
// mean and rejects its worst graduated fraction; status writes are deferred
// until all components' flags are computed, so no component sees a partial
// round.
func (c *OutlierClipper) ClipSpatial(records []ResidualRecord, nComponents int, status StatusMap, iteration int) int {
	survivors := make([]*ResidualRecord, 0, len(records))
	for i := range records {
		if status.Get(records[i].Cand.index) != StatusBad {
			survivors = append(survivors, &records[i])
		}
	}
	if len(survivors) == 0 {
		return 0
	}

	toMark := make(map[int]struct{})
	values := make([]float64, len(survivors))
	for k := 0; k < nComponents; k++ {
		for i, r := range survivors {
			values[i] = r.SpatialResiduals[k]
		}
		mean, rms := clippedMeanStdev(values, 3.0, 3)
		if rms < spatialRMSFloor {
			rms = spatialRMSFloor
		}

		type flaggedRec struct {
			index     int
			deviation float64
		}
		var flagged []flaggedRec
		for _, r := range survivors {
			dev := math.Abs(r.SpatialResiduals[k] - mean)
			if dev > c.SpatialReject*rms {
				flagged = append(flagged, flaggedRec{index: r.Cand.index, deviation: dev})
			}
		}
		sort.SliceStable(flagged, func(a, b int) bool {
			return flagged[a].deviation > flagged[b].deviation
		})

		numBad := c.graduatedCount(len(flagged), iteration)
		for i := 0; i < numBad && i < len(flagged); i++ {
			toMark[flagged[i].index] = struct{}{}
		}
	}

	for idx := range toMark {
		status.Set(idx, StatusBad)
	}
	return len(toMark)
}
