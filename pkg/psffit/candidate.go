package psffit

import (
	"math"
)

// Point2d represents a 2D point with float64 coordinates.
type Point2d struct {
	X, Y float64
}

// PsfCandidate is a single pre-selected star considered for the PSF model.
// Candidates are created once per run; across iterations only their fit
// chi^2 and (at the very end) their final status change.
type PsfCandidate struct {
	// Source is the identifier of the originating detection.
	Source int64
	// Center of the star in parent pixel coordinates.
	Center Point2d
	// Size is the second-moment-derived size (major axis length of the
	// quadrupole ellipse), used to derive the common kernel size.
	Size float64

	// Chi2 is the reduced chi^2 of the most recent basis fit to this
	// candidate. Negative or NaN values are clip-worthy, not errors.
	Chi2 float64

	// Status is the final Good/Bad classification, written back after the
	// fit loop so callers can flag the originating detections.
	Status CandidateStatus

	exposure *Exposure
	index    int // arena index assigned by the determiner

	stamp     *Stamp // cached cutout for the current kernel size
	stampSize int
}

// NewPsfCandidate creates a candidate for a star at (x, y) on the given
// exposure. size is the second-moment-derived size of the detection.
func NewPsfCandidate(source int64, x, y, size float64, exposure *Exposure) *PsfCandidate {
	return &PsfCandidate{
		Source:   source,
		Center:   Point2d{X: x, Y: y},
		Size:     size,
		Chi2:     math.NaN(),
		exposure: exposure,
		index:    -1,
	}
}

// UndistortedStamp returns the candidate's cutout re-registered to a square
// grid of the given odd side. The stamp is cached per size; the kernel size
// is fixed after Init so in practice the cache is filled once.
func (c *PsfCandidate) UndistortedStamp(size int) (*Stamp, error) {
	if c.stamp != nil && c.stampSize == size {
		return c.stamp, nil
	}
	st, err := c.exposure.Stamp(c.Center.X, c.Center.Y, size)
	if err != nil {
		return nil, err
	}
	if c.stamp != nil {
		c.stamp.Close()
	}
	c.stamp = st
	c.stampSize = size
	return st, nil
}

// QuadrupoleAxisLength converts second moments (Ixx, Iyy, Ixy) to the major
// axis length of the corresponding ellipse, the size measure used for kernel
// size derivation.
func QuadrupoleAxisLength(ixx, iyy, ixy float64) float64 {
	t := (ixx + iyy) / 2
	d := (ixx - iyy) / 2
	lambdaMax := t + math.Sqrt(d*d+ixy*ixy)
	if lambdaMax <= 0 {
		return 0
	}
	return math.Sqrt(lambdaMax)
}

// DeriveKernelSize computes the common kernel side for a run. A configured
// kernel size >= 15 is used verbatim as an absolute size; otherwise the side
// is 2*round(kernelSize*sqrt(median(sizes)))+1, clamped to [min, max].
func DeriveKernelSize(configured int, sizes []float64, min, max int) int {
	if configured >= 15 {
		return configured
	}
	m := medianFloat64(sizes)
	size := 2*int(float64(configured)*math.Sqrt(m)+0.5) + 1
	if size < min {
		size = min
	}
	if size > max {
		size = max
	}
	return size
}
