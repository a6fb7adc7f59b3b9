package psffit

import "fmt"

// CandidateStatus is the per-iteration fitting status of a PSF candidate.
type CandidateStatus int

const (
	StatusUnknown CandidateStatus = iota
	StatusGood
	StatusBad
)

func (s CandidateStatus) String() string {
	switch s {
	case StatusUnknown:
		return "Unknown"
	case StatusGood:
		return "Good"
	case StatusBad:
		return "Bad"
	default:
		return fmt.Sprintf("CandidateStatus(%d)", int(s))
	}
}

// StatusMap holds the clipping status of every candidate in a fit run,
// indexed by the candidate's arena index. It is re-initialized at the start
// of each iteration's rejection passes so that status never leaks across
// iterations through a shared mutable field.
type StatusMap []CandidateStatus

func NewStatusMap(n int) StatusMap {
	return make(StatusMap, n)
}

// Reset marks every candidate Unknown ("innocent until proven guilty").
func (m StatusMap) Reset() {
	for i := range m {
		m[i] = StatusUnknown
	}
}

func (m StatusMap) Get(i int) CandidateStatus { return m[i] }

func (m StatusMap) Set(i int, s CandidateStatus) { m[i] = s }

// CountBad returns the number of candidates currently marked Bad.
func (m StatusMap) CountBad() int {
	n := 0
	for _, s := range m {
		if s == StatusBad {
			n++
		}
	}
	return n
}

// PsfDeterminerParams contains all parameters for PSF determination.
type PsfDeterminerParams struct {
	// Use the non-linear solver for the spatial variation of the kernel.
	NonLinearSpatialFit bool `yaml:"non_linear_spatial_fit"`
	// Number of eigen components for PSF kernel creation.
	NEigenComponents int `yaml:"n_eigen_components"`
	// Spatial polynomial order for PSF kernel creation.
	SpatialOrder int `yaml:"spatial_order"`
	// Size of a spatial cell in pixels, column and row direction.
	SizeCellX int `yaml:"size_cell_x"`
	SizeCellY int `yaml:"size_cell_y"`
	// Number of stars per cell used for the basis fit. Zero means all.
	NStarPerCell int `yaml:"n_star_per_cell"`
	// Number of stars per cell used for the spatial model fit. The spatial
	// fit benefits from more positions than the basis needs, so its cap is
	// looser. Zero means all.
	NStarPerCellSpatialFit int `yaml:"n_star_per_cell_spatial_fit"`
	// Radius of the kernel to create, relative to the square root of the
	// stellar quadrupole moments. Values >= 15 are taken as an absolute
	// kernel size instead.
	KernelSize int `yaml:"kernel_size"`
	// Clamp bounds for the derived kernel size.
	KernelSizeMin int `yaml:"kernel_size_min"`
	KernelSizeMax int `yaml:"kernel_size_max"`
	// Number of pixels to ignore around the edge of candidate stamps.
	BorderWidth int `yaml:"border_width"`
	// Give each candidate the same weight, independent of magnitude.
	ConstantWeight bool `yaml:"constant_weight"`
	// Number of iterations of the candidate clipping loop.
	NIterForPsf int `yaml:"n_iter_for_psf"`
	// Tolerance of the spatial fit.
	Tolerance float64 `yaml:"tolerance"`
	// Floor for the variance plane: variance is never below Lam*data.
	Lam float64 `yaml:"lam"`
	// Reduced chi^2 threshold for candidate rejection.
	ReducedChi2ForPsfCandidates float64 `yaml:"reduced_chi2_for_psf_candidates"`
	// Rejection threshold (stdev) for candidates based on the spatial fit.
	SpatialReject float64 `yaml:"spatial_reject"`
}

// NewPsfDeterminerParams creates a PsfDeterminerParams with default values.
func NewPsfDeterminerParams() *PsfDeterminerParams {
	return &PsfDeterminerParams{
		NonLinearSpatialFit:         false,
		NEigenComponents:            3,
		SpatialOrder:                2,
		SizeCellX:                   256,
		SizeCellY:                   256,
		NStarPerCell:                3,
		NStarPerCellSpatialFit:      5,
		KernelSize:                  5,
		KernelSizeMin:               13,
		KernelSizeMax:               45,
		BorderWidth:                 0,
		ConstantWeight:              true,
		NIterForPsf:                 3,
		Tolerance:                   1e-2,
		Lam:                         0.05,
		ReducedChi2ForPsfCandidates: 2.0,
		SpatialReject:               3.0,
	}
}

// Validate checks parameter ranges that would otherwise fail deep inside the fit.
func (p *PsfDeterminerParams) Validate() error {
	if p.NEigenComponents < 1 {
		return fmt.Errorf("nEigenComponents must be >= 1, got %d", p.NEigenComponents)
	}
	if p.SpatialOrder < 0 {
		return fmt.Errorf("spatialOrder must be >= 0, got %d", p.SpatialOrder)
	}
	if p.SizeCellX < 10 || p.SizeCellY < 10 {
		return fmt.Errorf("cell size must be >= 10 pixels, got %dx%d", p.SizeCellX, p.SizeCellY)
	}
	if p.NIterForPsf < 1 {
		return fmt.Errorf("nIterForPsf must be >= 1, got %d", p.NIterForPsf)
	}
	if p.KernelSizeMin < 3 || p.KernelSizeMin%2 == 0 {
		return fmt.Errorf("kernelSizeMin must be an odd number >= 3, got %d", p.KernelSizeMin)
	}
	if p.KernelSizeMax < p.KernelSizeMin {
		return fmt.Errorf("kernelSizeMax %d below kernelSizeMin %d", p.KernelSizeMax, p.KernelSizeMin)
	}
	return nil
}

// FitDiagnostics carries QA information about a completed PSF determination,
// intended for a metadata sink.
type FitDiagnostics struct {
	// Chi^2 of the final spatial model fit.
	SpatialFitChi2 float64
	// Final eigenvalues in units of chi^2 per star per degree of freedom.
	EigenValues []float64
	// Kernel size actually used for the run.
	KernelSize int
	// Number of candidates that made it into the cell grid, ignoring status.
	NumAvailStars int
	// Number of candidates still good after the loop.
	NumGoodStars int
	// Candidates dropped at insertion because their center fell outside
	// the exposure bounding box.
	NumOutOfBounds int

	// Grid and Statuses capture the final state of the run for diagnostic
	// rendering. Statuses is indexed like the candidate slice passed to
	// DeterminePsf.
	Grid     *SpatialCellGrid
	Statuses StatusMap
}

// IterationSnapshot is handed to the observer callback once per iteration.
// It exposes the same data the interactive debugger of the original design
// showed, without any effect on the fit's outcome.
type IterationSnapshot struct {
	Iteration         int
	KernelSize        int
	EigenValues       []float64
	SpatialFitChi2    float64
	NumClippedChi2    int
	NumClippedSpatial int
	Statuses          []CandidateStatus
	Basis             *Basis
}

// IterationObserver is invoked once per iteration with a snapshot of the
// fit state. It must not mutate the snapshot's Basis.
type IterationObserver func(*IterationSnapshot)
