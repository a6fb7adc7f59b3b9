package psffit

import (
	"image"
	"math"
	"testing"
)

// ---------------------------------------------------------------------------
// synthetic exposure helpers
// ---------------------------------------------------------------------------

type synthStar struct {
	x, y  float64
	flux  float64
	sigma float64
}

// gaussianExposure builds an exposure with circular Gaussian stars on a flat
// zero background and a synthesized variance plane.
func gaussianExposure(t *testing.T, width, height int, stars []synthStar) *Exposure {
	t.Helper()
	img := NewMatWithSize(height, width)
	data := img.DataFloat32()
	for _, s := range stars {
		r := int(6*s.sigma) + 1
		x0, x1 := int(s.x)-r, int(s.x)+r
		y0, y1 := int(s.y)-r, int(s.y)+r
		if x0 < 0 {
			x0 = 0
		}
		if y0 < 0 {
			y0 = 0
		}
		if x1 > width-1 {
			x1 = width - 1
		}
		if y1 > height-1 {
			y1 = height - 1
		}
		norm := s.flux / (2 * math.Pi * s.sigma * s.sigma)
		for y := y0; y <= y1; y++ {
			for x := x0; x <= x1; x++ {
				dx := float64(x) - s.x
				dy := float64(y) - s.y
				data[y*width+x] += float32(norm * math.Exp(-(dx*dx+dy*dy)/(2*s.sigma*s.sigma)))
			}
		}
	}
	exp, err := NewExposure(MaskedImage{Image: img}, image.Rect(0, 0, width, height))
	if err != nil {
		t.Fatalf("build exposure: %v", err)
	}
	// A substantial read noise keeps the wing variance realistic; otherwise
	// parts-per-thousand model mismatch dominates the chi^2.
	exp.SynthesizeVariance(1.0, 10.0, 0.05)
	return exp
}

// newTestCandidate creates a candidate with its arena index already assigned,
// as the determiner would do at insertion time.
func newTestCandidate(index int, x, y float64, exp *Exposure) *PsfCandidate {
	c := NewPsfCandidate(int64(index), x, y, 2.0, exp)
	c.index = index
	return c
}
