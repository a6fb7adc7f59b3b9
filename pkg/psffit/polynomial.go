package psffit

import "image"

// SpatialPolynomial is a 2-D polynomial over focal-plane position, used to
// model how a basis component's relative amplitude varies across the field.
// Coordinates are normalized to [-1, 1] over the exposure bounding box for
// numerical conditioning of the fit.
type SpatialPolynomial struct {
	Order  int
	Bounds image.Rectangle
	// Coeffs are ordered by total degree, then by increasing power of y:
	// 1, x, y, x^2, xy, y^2, ...
	Coeffs []float64
}

// nSpatialTerms is the number of coefficients of a 2-D polynomial of the
// given total order.
func nSpatialTerms(order int) int {
	return (order + 1) * (order + 2) / 2
}

func (p *SpatialPolynomial) normalize(x, y float64) (float64, float64) {
	w := float64(p.Bounds.Dx())
	h := float64(p.Bounds.Dy())
	if w <= 0 {
		w = 1
	}
	if h <= 0 {
		h = 1
	}
	u := 2*(x-float64(p.Bounds.Min.X))/w - 1
	v := 2*(y-float64(p.Bounds.Min.Y))/h - 1
	return u, v
}

// Eval evaluates the polynomial at (x, y) in parent pixel coordinates.
func (p *SpatialPolynomial) Eval(x, y float64) float64 {
	u, v := p.normalize(x, y)
	terms := spatialTerms(u, v, p.Order)
	sum := 0.0
	for i, t := range terms {
		sum += p.Coeffs[i] * t
	}
	return sum
}

// spatialTerms returns the monomials of a 2-D polynomial of the given order
// evaluated at normalized coordinates (u, v), in coefficient order.
func spatialTerms(u, v float64, order int) []float64 {
	terms := make([]float64, 0, nSpatialTerms(order))
	upow := make([]float64, order+1)
	vpow := make([]float64, order+1)
	upow[0], vpow[0] = 1, 1
	for i := 1; i <= order; i++ {
		upow[i] = upow[i-1] * u
		vpow[i] = vpow[i-1] * v
	}
	for d := 0; d <= order; d++ {
		for j := 0; j <= d; j++ {
			terms = append(terms, upow[d-j]*vpow[j])
		}
	}
	return terms
}
