package psffit

import (
	"fmt"
	"image"
	"math"

	"gonum.org/v1/gonum/mat"
)

// BasisComponent is one eigen-image of the PSF basis together with the
// polynomial describing how its relative amplitude varies across the field.
type BasisComponent struct {
	// Image is the kernelSize x kernelSize eigen-image, unit L2 norm.
	Image Mat
	// Flux is the sum of the eigen-image's pixel values.
	Flux float64
	// Spatial maps focal-plane position to the component's amplitude
	// fraction.
	Spatial SpatialPolynomial
}

// Basis is the fitted PSF model state for one iteration: a low-rank pixel
// basis plus per-component spatial polynomials. A basis is a snapshot; the
// next iteration replaces it entirely.
type Basis struct {
	KernelSize int
	Bounds     image.Rectangle
	Components []BasisComponent
}

func (b *Basis) NComponents() int { return len(b.Components) }

// KernelAt reconstructs the local PSF kernel at (x, y) as a row-major pixel
// slice of side KernelSize, normalized to unit sum.
func (b *Basis) KernelAt(x, y float64) []float64 {
	nPix := b.KernelSize * b.KernelSize
	kernel := make([]float64, nPix)
	for _, comp := range b.Components {
		amp := comp.Spatial.Eval(x, y)
		data := comp.Image.DataFloat32()
		for i := 0; i < nPix; i++ {
			kernel[i] += amp * float64(data[i])
		}
	}
	sum := 0.0
	for _, v := range kernel {
		sum += v
	}
	if sum != 0 {
		for i := range kernel {
			kernel[i] /= sum
		}
	}
	return kernel
}

// BasisFitter computes the eigen-image basis and its spatial model from the
// surviving candidates across all cells.
type BasisFitter struct {
	NComponents    int
	SpatialOrder   int
	BorderWidth    int
	ConstantWeight bool
	// NStarPerCell caps how many candidates per cell enter the eigen-image
	// computation, best-first. NStarPerCellSpatialFit is the looser cap for
	// the spatial model fit, which wants position coverage more than shape
	// purity. Zero means all.
	NStarPerCell           int
	NStarPerCellSpatialFit int
	Solver                 SpatialSolver
}

// fitInput is one candidate's contribution to the basis fit.
type fitInput struct {
	cand   *PsfCandidate
	stamp  *Stamp
	shape  []float64 // flux-normalized stamp pixels
	weight float64
}

// Fit computes the basis from all non-Bad candidates, re-registered to a
// common grid of side kernelSize. It returns the basis, the eigenvalues
// normalized to chi^2 per star per degree of freedom, and the chi^2 of the
// spatial model fit.
func (f *BasisFitter) Fit(grid *SpatialCellGrid, status StatusMap, kernelSize int) (*Basis, []float64, float64, error) {
	inputs := f.collect(grid, status, kernelSize, f.NStarPerCell)
	n := len(inputs)
	if n < f.NComponents {
		return nil, nil, 0, &InsufficientCandidatesError{Got: n, Need: f.NComponents}
	}
	nPix := kernelSize * kernelSize

	// Snapshot PCA through the star-space Gram matrix: its eigenvalues are
	// those of the empirical covariance, and eigen-images are recovered as
	// weighted combinations of the input shapes.
	gram := mat.NewSymDense(n, nil)
	for i := 0; i < n; i++ {
		for j := i; j < n; j++ {
			dot := 0.0
			for p := 0; p < nPix; p++ {
				dot += inputs[i].shape[p] * inputs[j].shape[p]
			}
			gram.SetSym(i, j, inputs[i].weight*inputs[j].weight*dot)
		}
	}

	var es mat.EigenSym
	if !es.Factorize(gram, true) {
		return nil, nil, 0, fmt.Errorf("eigendecomposition of candidate covariance failed")
	}
	vals := es.Values(nil) // ascending
	var vecs mat.Dense
	es.VectorsTo(&vecs)

	components := make([]BasisComponent, f.NComponents)
	rawEigenvalues := make([]float64, f.NComponents)
	basisImages := make([][]float64, f.NComponents)
	for k := 0; k < f.NComponents; k++ {
		col := n - 1 - k // largest eigenvalues first
		rawEigenvalues[k] = vals[col]

		img := make([]float64, nPix)
		for i := 0; i < n; i++ {
			c := vecs.At(i, col) * inputs[i].weight
			for p := 0; p < nPix; p++ {
				img[p] += c * inputs[i].shape[p]
			}
		}
		norm := 0.0
		flux := 0.0
		for _, v := range img {
			norm += v * v
			flux += v
		}
		norm = math.Sqrt(norm)
		if norm == 0 {
			return nil, nil, 0, fmt.Errorf("degenerate eigen-image for component %d", k)
		}
		sign := 1.0
		if flux < 0 {
			sign = -1
		}
		for p := range img {
			img[p] *= sign / norm
		}
		basisImages[k] = img

		m := NewMatWithSize(kernelSize, kernelSize)
		dst := m.DataFloat32()
		flux = 0
		for p, v := range img {
			dst[p] = float32(v)
			flux += v
		}
		components[k] = BasisComponent{Image: m, Flux: flux}
	}

	// Eigenvalues in units of reduced chi^2 per star: divide by the number
	// of fitted stars times the per-star degrees of freedom.
	size := kernelSize + 2*f.BorderWidth
	nu := float64(size*size - 1)
	eigenvalues := make([]float64, f.NComponents)
	for k, l := range rawEigenvalues {
		eigenvalues[k] = l / (float64(n) * nu)
	}

	// Per-candidate amplitude fractions feed the spatial model fit. The
	// spatial fit draws from a larger per-cell pool than the eigen-image
	// computation did.
	spatialInputs := f.collect(grid, status, kernelSize, f.NStarPerCellSpatialFit)
	positions := make([]Point2d, len(spatialInputs))
	fractions := make([][]float64, len(spatialInputs))
	for i, in := range spatialInputs {
		positions[i] = in.cand.Center
		amps := projectAmplitudes(in.stamp.Image, basisImages)
		fractions[i] = amplitudeFractions(amps, components)
	}

	polys, err := f.Solver.Fit(positions, fractions, f.SpatialOrder, grid.Bounds)
	if err != nil {
		return nil, nil, 0, err
	}
	for k := range components {
		components[k].Spatial = polys[k]
	}

	spatialChi2 := 0.0
	for i := range spatialInputs {
		for k := range components {
			r := fractions[i][k] - polys[k].Eval(positions[i].X, positions[i].Y)
			spatialChi2 += r * r
		}
	}

	basis := &Basis{
		KernelSize: kernelSize,
		Bounds:     grid.Bounds,
		Components: components,
	}
	return basis, eigenvalues, spatialChi2, nil
}

// collect gathers the stamps of up to perCell surviving candidates per cell.
// Candidates whose stamp cannot be constructed are skipped here and retried
// next iteration.
func (f *BasisFitter) collect(grid *SpatialCellGrid, status StatusMap, kernelSize, perCell int) []fitInput {
	var inputs []fitInput
	for cell := range grid.Cells() {
		for cand := range cell.BestCandidates(status, perCell, false) {
			st, err := cand.UndistortedStamp(kernelSize)
			if err != nil {
				continue
			}
			data := st.Image.DataFloat32()
			nPix := kernelSize * kernelSize
			sum := 0.0
			for p := 0; p < nPix; p++ {
				sum += float64(data[p])
			}
			if sum <= 0 {
				continue
			}
			shape := make([]float64, nPix)
			for p := 0; p < nPix; p++ {
				shape[p] = float64(data[p]) / sum
			}
			weight := 1.0
			if !f.ConstantWeight {
				weight = inverseNoiseWeight(st)
			}
			inputs = append(inputs, fitInput{cand: cand, stamp: st, shape: shape, weight: weight})
		}
	}
	return inputs
}

// inverseNoiseWeight weights a candidate by the inverse RMS of its variance
// plane, so noisy stamps pull less on the basis.
func inverseNoiseWeight(st *Stamp) float64 {
	data := st.Variance.DataFloat32()
	nPix := st.Size * st.Size
	sum := 0.0
	for p := 0; p < nPix; p++ {
		sum += float64(data[p])
	}
	meanVar := sum / float64(nPix)
	if meanVar <= 0 {
		return 1
	}
	return 1 / math.Sqrt(meanVar)
}

// projectAmplitudes returns the least-squares amplitudes of the orthonormal
// basis images for a stamp, which reduce to projections.
func projectAmplitudes(img Mat, basisImages [][]float64) []float64 {
	data := img.DataFloat32()
	amps := make([]float64, len(basisImages))
	for k, b := range basisImages {
		dot := 0.0
		for p, v := range b {
			dot += float64(data[p]) * v
		}
		amps[k] = dot
	}
	return amps
}

// amplitudeFractions converts raw amplitudes to fractions of the candidate's
// total fitted amplitude (sum of amplitude times basis flux).
func amplitudeFractions(amps []float64, components []BasisComponent) []float64 {
	total := 0.0
	for k, a := range amps {
		total += a * components[k].Flux
	}
	fractions := make([]float64, len(amps))
	if total == 0 {
		return fractions
	}
	for k, a := range amps {
		fractions[k] = a / total
	}
	return fractions
}
