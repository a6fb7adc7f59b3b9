package psffit

import (
	"context"
	"math"
	"sync"

	"gonum.org/v1/gonum/mat"
)

// ResidualRecord holds one candidate's fit against the current basis for one
// iteration. Records are recomputed from scratch every iteration and
// discarded at its end.
type ResidualRecord struct {
	Cand *PsfCandidate
	// Amplitudes are the least-squares coefficients of the basis images.
	Amplitudes []float64
	// TotalAmplitude is the sum of each coefficient times its basis
	// image's flux.
	TotalAmplitude float64
	// SpatialResiduals is, per component, the observed amplitude fraction
	// minus the value the spatial polynomial predicts at the candidate's
	// center.
	SpatialResiduals []float64
	// Chi2 is the reduced chi^2 of the pixel-level fit.
	Chi2 float64
}

// ResidualEvaluator projects candidates onto a basis snapshot.
type ResidualEvaluator struct {
	// Lam floors the per-pixel variance at Lam*|data| in the chi^2 sum.
	Lam float64
}

// amplitudeSolver solves the least-squares fit of fixed basis images to a
// stamp through the normal equations. The factorization is computed once per
// basis and shared read-only across candidate goroutines.
type amplitudeSolver struct {
	basisImages [][]float64
	nPix        int
	chol        mat.Cholesky
	ok          bool
}

func newAmplitudeSolver(basis *Basis) *amplitudeSolver {
	k := basis.NComponents()
	nPix := basis.KernelSize * basis.KernelSize
	images := make([][]float64, k)
	for i, comp := range basis.Components {
		data := comp.Image.DataFloat32()
		img := make([]float64, nPix)
		for p := 0; p < nPix; p++ {
			img[p] = float64(data[p])
		}
		images[i] = img
	}
	s := &amplitudeSolver{basisImages: images, nPix: nPix}
	gram := mat.NewSymDense(k, nil)
	for a := 0; a < k; a++ {
		for b := a; b < k; b++ {
			dot := 0.0
			for p := 0; p < nPix; p++ {
				dot += images[a][p] * images[b][p]
			}
			gram.SetSym(a, b, dot)
		}
	}
	s.ok = s.chol.Factorize(gram)
	return s
}

// solve returns the amplitude per basis image for the stamp pixels.
func (s *amplitudeSolver) solve(data []float32) ([]float64, bool) {
	if !s.ok {
		return nil, false
	}
	k := len(s.basisImages)
	rhs := mat.NewVecDense(k, nil)
	for a := 0; a < k; a++ {
		dot := 0.0
		for p := 0; p < s.nPix; p++ {
			dot += s.basisImages[a][p] * float64(data[p])
		}
		rhs.SetVec(a, dot)
	}
	var coef mat.VecDense
	if err := s.chol.SolveVecTo(&coef, rhs); err != nil {
		return nil, false
	}
	amps := make([]float64, k)
	for a := 0; a < k; a++ {
		amps[a] = coef.AtVec(a)
	}
	return amps, true
}

// Evaluate fits every inserted candidate against the basis, Bad ones
// included, and returns their residual records. Re-measuring clipped
// candidates keeps their chi^2 current against the latest basis, so the next
// round's rejection passes judge them on fresh numbers and a candidate
// clipped once can re-enter. Candidates whose stamp cannot be constructed are
// skipped for this iteration and retain their previous status and chi^2.
// Candidate fits are independent, so they run as a parallel map with one
// private output slot each.
func (e *ResidualEvaluator) Evaluate(ctx context.Context, basis *Basis, grid *SpatialCellGrid, status StatusMap) []ResidualRecord {
	var cands []*PsfCandidate
	for cand := range grid.Candidates(status, true) {
		cands = append(cands, cand)
	}

	solver := newAmplitudeSolver(basis)
	slots := make([]*ResidualRecord, len(cands))

	var wg sync.WaitGroup
	for i, cand := range cands {
		if ctx != nil && ctx.Err() != nil {
			break
		}
		wg.Add(1)
		go func(slot int, c *PsfCandidate) {
			defer wg.Done()
			slots[slot] = e.evaluateOne(solver, basis, c)
		}(i, cand)
	}
	wg.Wait()

	records := make([]ResidualRecord, 0, len(cands))
	for _, r := range slots {
		if r != nil {
			records = append(records, *r)
		}
	}
	return records
}

func (e *ResidualEvaluator) evaluateOne(solver *amplitudeSolver, basis *Basis, cand *PsfCandidate) *ResidualRecord {
	st, err := cand.UndistortedStamp(basis.KernelSize)
	if err != nil {
		return nil
	}
	data := st.Image.DataFloat32()
	amps, ok := solver.solve(data)
	if !ok {
		return nil
	}

	total := 0.0
	for k, a := range amps {
		total += a * basis.Components[k].Flux
	}

	nPix := basis.KernelSize * basis.KernelSize
	varData := st.Variance.DataFloat32()
	chi2 := 0.0
	for p := 0; p < nPix; p++ {
		model := 0.0
		for k, a := range amps {
			model += a * solver.basisImages[k][p]
		}
		d := float64(data[p])
		v := float64(varData[p])
		if floor := e.Lam * math.Abs(d); v < floor {
			v = floor
		}
		if v < 1e-30 {
			v = 1e-30
		}
		r := d - model
		chi2 += r * r / v
	}
	dof := nPix - len(amps)
	if dof < 1 {
		dof = 1
	}
	chi2 /= float64(dof)
	cand.Chi2 = chi2

	residuals := make([]float64, len(amps))
	for k, a := range amps {
		frac := 0.0
		if total != 0 {
			frac = a / total
		}
		residuals[k] = frac - basis.Components[k].Spatial.Eval(cand.Center.X, cand.Center.Y)
	}

	return &ResidualRecord{
		Cand:             cand,
		Amplitudes:       amps,
		TotalAmplitude:   total,
		SpatialResiduals: residuals,
		Chi2:             chi2,
	}
}
