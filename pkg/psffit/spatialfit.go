package psffit

import (
	"image"
	"math"

	"gonum.org/v1/gonum/mat"
)

// SpatialSolver fits one 2-D polynomial per basis component to the observed
// per-candidate amplitude fractions. The two implementations are selected by
// configuration; both satisfy the same contract.
type SpatialSolver interface {
	// Fit takes candidate centers and, per candidate, one amplitude
	// fraction per component. It returns one polynomial per component.
	Fit(positions []Point2d, fractions [][]float64, order int, bounds image.Rectangle) ([]SpatialPolynomial, error)
}

func newSpatialSolver(p *PsfDeterminerParams) SpatialSolver {
	if p.NonLinearSpatialFit {
		return &NonLinearSpatialSolver{Tolerance: p.Tolerance, MaxIterations: 200}
	}
	return &LinearSpatialSolver{}
}

// LinearSpatialSolver fits each component's polynomial independently by
// QR least squares.
type LinearSpatialSolver struct{}

func (s *LinearSpatialSolver) Fit(positions []Point2d, fractions [][]float64, order int, bounds image.Rectangle) ([]SpatialPolynomial, error) {
	n := len(positions)
	nComponents := len(fractions[0])
	nTerms := nSpatialTerms(order)
	if n < nTerms {
		return nil, &SingularFitError{Component: -1,
			Reason: "fewer candidates than polynomial terms"}
	}

	design := mat.NewDense(n, nTerms, nil)
	proto := SpatialPolynomial{Order: order, Bounds: bounds}
	for i, pos := range positions {
		u, v := proto.normalize(pos.X, pos.Y)
		design.SetRow(i, spatialTerms(u, v, order))
	}

	var qr mat.QR
	qr.Factorize(design)

	polys := make([]SpatialPolynomial, nComponents)
	rhs := mat.NewVecDense(n, nil)
	for k := 0; k < nComponents; k++ {
		for i := 0; i < n; i++ {
			rhs.SetVec(i, fractions[i][k])
		}
		var coef mat.VecDense
		if err := qr.SolveVecTo(&coef, false, rhs); err != nil {
			return nil, &SingularFitError{Component: k, Reason: err.Error()}
		}
		coeffs := make([]float64, nTerms)
		for t := 0; t < nTerms; t++ {
			c := coef.AtVec(t)
			if math.IsNaN(c) || math.IsInf(c, 0) {
				return nil, &SingularFitError{Component: k, Reason: "non-finite coefficient"}
			}
			coeffs[t] = c
		}
		polys[k] = SpatialPolynomial{Order: order, Bounds: bounds, Coeffs: coeffs}
	}
	return polys, nil
}

// NonLinearSpatialSolver fits all components' polynomial coefficients jointly
// with a Levenberg-Marquardt descent on the total squared spatial residual.
type NonLinearSpatialSolver struct {
	Tolerance     float64
	MaxIterations int
}

func (s *NonLinearSpatialSolver) Fit(positions []Point2d, fractions [][]float64, order int, bounds image.Rectangle) ([]SpatialPolynomial, error) {
	n := len(positions)
	nComponents := len(fractions[0])
	nTerms := nSpatialTerms(order)
	nParams := nComponents * nTerms
	if n < nTerms {
		return nil, &SingularFitError{Component: -1,
			Reason: "fewer candidates than polynomial terms"}
	}

	proto := SpatialPolynomial{Order: order, Bounds: bounds}
	terms := make([][]float64, n)
	for i, pos := range positions {
		u, v := proto.normalize(pos.X, pos.Y)
		terms[i] = spatialTerms(u, v, order)
	}

	// Residuals are ordered candidate-major: r[i*K+k].
	nResiduals := n * nComponents
	x := make([]float64, nParams)
	residualsAt := func(params []float64, out []float64) {
		for i := 0; i < n; i++ {
			for k := 0; k < nComponents; k++ {
				pred := 0.0
				for t := 0; t < nTerms; t++ {
					pred += params[k*nTerms+t] * terms[i][t]
				}
				out[i*nComponents+k] = pred - fractions[i][k]
			}
		}
	}

	fi := make([]float64, nResiduals)
	fiNew := make([]float64, nResiduals)
	residualsAt(x, fi)
	cost := sumOfSquares(fi)

	lambda := 1e-3
	nu := 2.0
	jtj := mat.NewSymDense(nParams, nil)
	jtf := make([]float64, nParams)
	xNew := make([]float64, nParams)
	improved := false

	for iter := 0; iter < s.MaxIterations; iter++ {
		// The model is linear in the coefficients, so the Jacobian rows
		// are just the monomial terms of the matching component.
		for a := 0; a < nParams; a++ {
			jtf[a] = 0
			for b := a; b < nParams; b++ {
				jtj.SetSym(a, b, 0)
			}
		}
		for i := 0; i < n; i++ {
			for k := 0; k < nComponents; k++ {
				r := fi[i*nComponents+k]
				for t := 0; t < nTerms; t++ {
					a := k*nTerms + t
					ja := terms[i][t]
					jtf[a] += ja * r
					for t2 := t; t2 < nTerms; t2++ {
						b := k*nTerms + t2
						jtj.SetSym(a, b, jtj.At(a, b)+ja*terms[i][t2])
					}
				}
			}
		}

		gradNorm := 0.0
		for a := 0; a < nParams; a++ {
			gradNorm += jtf[a] * jtf[a]
		}
		if math.Sqrt(gradNorm) < s.Tolerance*(cost+1e-300) {
			break
		}

		stepped := false
		for tries := 0; tries < 20; tries++ {
			damped := mat.NewSymDense(nParams, nil)
			damped.CopySym(jtj)
			for a := 0; a < nParams; a++ {
				damped.SetSym(a, a, damped.At(a, a)+lambda)
			}
			rhs := mat.NewVecDense(nParams, nil)
			for a := 0; a < nParams; a++ {
				rhs.SetVec(a, -jtf[a])
			}

			var chol mat.Cholesky
			if !chol.Factorize(damped) {
				lambda *= nu
				continue
			}
			var dx mat.VecDense
			if err := chol.SolveVecTo(&dx, rhs); err != nil {
				lambda *= nu
				continue
			}

			for a := 0; a < nParams; a++ {
				xNew[a] = x[a] + dx.AtVec(a)
			}
			residualsAt(xNew, fiNew)
			costNew := sumOfSquares(fiNew)

			if costNew < cost && !math.IsNaN(costNew) {
				improvement := (cost - costNew) / (cost + 1e-300)
				copy(x, xNew)
				copy(fi, fiNew)
				cost = costNew
				lambda = math.Max(lambda/3.0, 1e-15)
				nu = 2.0
				improved = true
				stepped = true
				if improvement < s.Tolerance {
					iter = s.MaxIterations // converged
				}
				break
			}
			lambda *= nu
			nu *= 2.0
			if lambda > 1e16 {
				break
			}
		}
		if !stepped {
			break
		}
	}

	if !improved && cost > 0 {
		// Zero coefficients can already be the optimum (all fractions zero);
		// otherwise failing to take a single step means the normal equations
		// never factorized.
		nonZero := false
		for i := range fi {
			if fi[i] != 0 {
				nonZero = true
				break
			}
		}
		if nonZero {
			return nil, &SingularFitError{Component: -1, Reason: "non-linear solver failed to converge"}
		}
	}

	polys := make([]SpatialPolynomial, nComponents)
	for k := 0; k < nComponents; k++ {
		coeffs := make([]float64, nTerms)
		copy(coeffs, x[k*nTerms:(k+1)*nTerms])
		for _, c := range coeffs {
			if math.IsNaN(c) || math.IsInf(c, 0) {
				return nil, &SingularFitError{Component: k, Reason: "non-finite coefficient"}
			}
		}
		polys[k] = SpatialPolynomial{Order: order, Bounds: bounds, Coeffs: coeffs}
	}
	return polys, nil
}

func sumOfSquares(fi []float64) float64 {
	s := 0.0
	for _, v := range fi {
		s += v * v
	}
	return s
}
