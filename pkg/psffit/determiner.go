package psffit

import (
	"context"
	"log/slog"
)

// PsfDeterminer runs the iterative PCA PSF estimation: a fixed number of
// fit / evaluate / clip rounds followed by one final refit that uses the
// last round's clipping decisions.
type PsfDeterminer struct {
	Params   *PsfDeterminerParams
	Log      *slog.Logger
	Observer IterationObserver
}

// NewPsfDeterminer creates a determiner with the given parameters and the
// default logger.
func NewPsfDeterminer(params *PsfDeterminerParams) *PsfDeterminer {
	return &PsfDeterminer{Params: params, Log: slog.Default()}
}

// DeterminePsf determines a PCA PSF model for an exposure given a non-empty
// list of pre-selected star candidates. It returns the final basis, fit
// diagnostics, and the first unrecoverable error; there is no early-exit
// convergence test, the loop always runs the configured number of rounds.
func (d *PsfDeterminer) DeterminePsf(ctx context.Context, exposure *Exposure, candidates []*PsfCandidate) (*Basis, *FitDiagnostics, error) {
	p := d.Params
	log := d.Log
	if log == nil {
		log = slog.Default()
	}

	if len(candidates) == 0 {
		return nil, nil, ErrNoCandidates
	}
	if err := p.Validate(); err != nil {
		return nil, nil, err
	}

	// Derive the common kernel size once; it governs every stamp request
	// for the rest of the run.
	sizes := make([]float64, len(candidates))
	for i, cand := range candidates {
		sizes[i] = cand.Size
	}
	kernelSize := DeriveKernelSize(p.KernelSize, sizes, p.KernelSizeMin, p.KernelSizeMax)
	if p.KernelSize >= 15 {
		log.Warn("not scaling kernel size by stellar quadrupole moment, using absolute value",
			"kernelSize", kernelSize)
	} else {
		log.Debug("derived kernel size", "median", medianFloat64(sizes), "kernelSize", kernelSize)
	}

	grid := NewSpatialCellGrid(exposure.Bounds, p.SizeCellX, p.SizeCellY)
	for i, cand := range candidates {
		cand.index = i
		if err := grid.Insert(cand); err != nil {
			log.Info("dropping candidate at insertion", "err", err)
		}
	}
	if grid.NumInserted() == 0 {
		return nil, nil, &FitAbortedError{Iteration: 0, NumCandidates: len(candidates), Err: ErrNoCandidates}
	}

	status := NewStatusMap(len(candidates))

	// The chi^2 pass judges only candidates that actually made it into the
	// grid; out-of-bounds candidates never receive a chi^2 and must not
	// soak up the rejection budget.
	var gridCands []*PsfCandidate
	for cand := range grid.Candidates(status, true) {
		gridCands = append(gridCands, cand)
	}

	fitter := &BasisFitter{
		NComponents:            p.NEigenComponents,
		SpatialOrder:           p.SpatialOrder,
		BorderWidth:            p.BorderWidth,
		ConstantWeight:         p.ConstantWeight,
		NStarPerCell:           p.NStarPerCell,
		NStarPerCellSpatialFit: p.NStarPerCellSpatialFit,
		Solver:                 newSpatialSolver(p),
	}
	evaluator := &ResidualEvaluator{Lam: p.Lam}
	clipper := &OutlierClipper{
		ReducedChi2Threshold: p.ReducedChi2ForPsfCandidates,
		SpatialReject:        p.SpatialReject,
		NIterations:          p.NIterForPsf,
	}

	var (
		basis       *Basis
		eigenvalues []float64
		fitChi2     float64
		err         error
	)

	for iter := 0; iter < p.NIterForPsf; iter++ {
		if ctx != nil && ctx.Err() != nil {
			return nil, nil, ctx.Err()
		}

		// The basis fit uses the Good/Bad status as it stood at the end
		// of the previous round.
		basis, eigenvalues, fitChi2, err = fitter.Fit(grid, status, kernelSize)
		if err != nil {
			return nil, nil, &FitAbortedError{Iteration: iter, NumCandidates: grid.NumInserted(), Err: err}
		}

		records := evaluator.Evaluate(ctx, basis, grid, status)

		// All candidates are innocent until proven guilty on this round.
		status.Reset()
		nChi2 := clipper.ClipChi2(gridCands, status, iter)
		nSpatial := clipper.ClipSpatial(records, basis.NComponents(), status, iter)

		log.Debug("clipping round complete",
			"iteration", iter,
			"chi2Clipped", nChi2,
			"spatialClipped", nSpatial,
			"spatialFitChi2", fitChi2)

		if d.Observer != nil {
			d.Observer(&IterationSnapshot{
				Iteration:         iter,
				KernelSize:        kernelSize,
				EigenValues:       eigenvalues,
				SpatialFitChi2:    fitChi2,
				NumClippedChi2:    nChi2,
				NumClippedSpatial: nSpatial,
				Statuses:          append([]CandidateStatus(nil), status...),
				Basis:             basis,
			})
		}
	}

	// One last time, to take advantage of the last iteration's clipping.
	basis, eigenvalues, fitChi2, err = fitter.Fit(grid, status, kernelSize)
	if err != nil {
		return nil, nil, &FitAbortedError{Iteration: p.NIterForPsf, NumCandidates: grid.NumInserted(), Err: err}
	}

	numAvail := grid.CountCandidates(status, true)
	numGood := grid.CountCandidates(status, false)
	for cand := range grid.Candidates(status, true) {
		if status.Get(cand.index) == StatusBad {
			cand.Status = StatusBad
		} else {
			cand.Status = StatusGood
		}
	}

	diag := &FitDiagnostics{
		SpatialFitChi2: fitChi2,
		EigenValues:    eigenvalues,
		KernelSize:     kernelSize,
		NumAvailStars:  numAvail,
		NumGoodStars:   numGood,
		NumOutOfBounds: grid.NumRejected(),
		Grid:           grid,
		Statuses:       status,
	}
	log.Info("PSF determination complete",
		"numAvailStars", numAvail,
		"numGoodStars", numGood,
		"spatialFitChi2", fitChi2)

	return basis, diag, nil
}
