package psffit

import (
	"fmt"
	"image"
	"math"
)

// MaskedImage bundles an image plane with its mask and variance planes.
// All three share the same dimensions; Mask and Variance may be empty.
type MaskedImage struct {
	Image    Mat
	Mask     Mat
	Variance Mat
}

// Exposure is a masked image with a parent bounding box and optional
// detector metadata. It is consumed as-is: this package never constructs
// exposures from raw detections.
type Exposure struct {
	MaskedImage
	Bounds   image.Rectangle
	Detector string
}

// NewExposure wraps a masked image with its parent bounding box.
func NewExposure(mi MaskedImage, bounds image.Rectangle) (*Exposure, error) {
	if mi.Image.Empty() {
		return nil, fmt.Errorf("exposure image plane is empty")
	}
	if mi.Image.Rows() != bounds.Dy() || mi.Image.Cols() != bounds.Dx() {
		return nil, fmt.Errorf("image plane %dx%d does not match bounding box %v",
			mi.Image.Cols(), mi.Image.Rows(), bounds)
	}
	if !mi.Variance.Empty() &&
		(mi.Variance.Rows() != mi.Image.Rows() || mi.Variance.Cols() != mi.Image.Cols()) {
		return nil, fmt.Errorf("variance plane %dx%d does not match image plane %dx%d",
			mi.Variance.Cols(), mi.Variance.Rows(), mi.Image.Cols(), mi.Image.Rows())
	}
	return &Exposure{MaskedImage: mi, Bounds: bounds}, nil
}

// SynthesizeVariance fills in a variance plane from a CCD noise model:
// readNoise^2 + image/gain, floored at lam*image. Used when the input
// exposure carries no variance plane of its own.
func (e *Exposure) SynthesizeVariance(gain, readNoise, lam float64) {
	rows, cols := e.Image.Rows(), e.Image.Cols()
	if e.Variance.Empty() {
		e.Variance = NewMatWithSize(rows, cols)
	}
	img := e.Image.DataFloat32()
	vr := e.Variance.DataFloat32()
	if gain <= 0 {
		gain = 1
	}
	rn2 := readNoise * readNoise
	for i := 0; i < rows*cols; i++ {
		v := rn2 + math.Abs(float64(img[i]))/gain
		if floor := lam * math.Abs(float64(img[i])); v < floor {
			v = floor
		}
		vr[i] = float32(v)
	}
}

// Stamp is a candidate cutout re-registered to a common pixel grid: a square
// image of odd side Size whose center pixel lies exactly on the candidate
// center.
type Stamp struct {
	Image    Mat
	Variance Mat
	Size     int
}

func (s *Stamp) Close() {
	s.Image.Close()
	s.Variance.Close()
}

// Stamp extracts a bilinear-resampled cutout of the given odd size centered
// on (cx, cy), both in parent coordinates. Returns ErrStampOutOfBounds when
// the cutout would sample outside the exposure.
func (e *Exposure) Stamp(cx, cy float64, size int) (*Stamp, error) {
	if size < 1 || size%2 == 0 {
		return nil, fmt.Errorf("stamp size must be a positive odd number, got %d", size)
	}
	lx := cx - float64(e.Bounds.Min.X)
	ly := cy - float64(e.Bounds.Min.Y)
	half := float64(size / 2)

	w := float64(e.Image.Cols())
	h := float64(e.Image.Rows())
	if lx-half < 0 || ly-half < 0 || lx+half > w-1 || ly+half > h-1 {
		return nil, fmt.Errorf("stamp of size %d at (%.1f,%.1f): %w", size, cx, cy, ErrStampOutOfBounds)
	}

	st := &Stamp{
		Image:    NewMatWithSize(size, size),
		Variance: NewMatWithSize(size, size),
		Size:     size,
	}
	imgData := st.Image.DataFloat32()
	varData := st.Variance.DataFloat32()
	hasVar := !e.Variance.Empty()
	hasMask := !e.Mask.Empty()

	for i := 0; i < size; i++ {
		sy := ly - half + float64(i)
		for j := 0; j < size; j++ {
			sx := lx - half + float64(j)
			imgData[i*size+j] = float32(BilinearSamplePixelValue(e.Image, sy, sx))
			v := 1.0
			if hasVar {
				v = BilinearSamplePixelValue(e.Variance, sy, sx)
			}
			if hasMask {
				// A masked pixel contributes with effectively zero weight.
				if e.Mask.At(int(sy+0.5), int(sx+0.5)) != 0 {
					v = math.MaxFloat32
				}
			}
			varData[i*size+j] = float32(v)
		}
	}
	return st, nil
}

// ToFloat32Mat converts a uint16 pixel array to a float32 Mat normalized to [0, 1].
func ToFloat32Mat(pixels []uint16, bpp, width, height int) Mat {
	data := NewMatWithSize(height, width)
	dest := data.DataFloat32()
	scalingRatio := float32(uint32(1) << uint(bpp))
	numPixels := width * height
	for i := 0; i < numPixels; i++ {
		dest[i] = float32(pixels[i]) / scalingRatio
	}
	return data
}

// BilinearSamplePixelValue samples a pixel value using bilinear interpolation.
func BilinearSamplePixelValue(img Mat, y, x float64) float64 {
	y0 := int(math.Floor(y))
	y1 := y0 + 1
	if y1 > img.Rows()-1 {
		y1 = img.Rows() - 1
	}
	x0 := int(math.Floor(x))
	x1 := x0 + 1
	if x1 > img.Cols()-1 {
		x1 = img.Cols() - 1
	}
	yRatio := y - float64(y0)
	xRatio := x - float64(x0)

	data := img.DataFloat32()
	width := img.Cols()
	p00 := float64(data[y0*width+x0])
	p01 := float64(data[y0*width+x1])
	p10 := float64(data[y1*width+x0])
	p11 := float64(data[y1*width+x1])
	interpolatedX0 := p00 + xRatio*(p01-p00)
	interpolatedX1 := p10 + xRatio*(p11-p10)
	return interpolatedX0 + yRatio*(interpolatedX1-interpolatedX0)
}
