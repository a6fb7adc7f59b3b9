package psffit

import (
	"bytes"
	"fmt"
	"image"
	"image/color"
	"image/jpeg"
	"os"

	"golang.org/x/image/draw"
	"golang.org/x/image/font"
	"golang.org/x/image/font/basicfont"
	"golang.org/x/image/math/fixed"
)

var (
	statusColorGood    = color.RGBA{0, 255, 0, 255}
	statusColorUnknown = color.RGBA{255, 255, 0, 255}
	statusColorBad     = color.RGBA{255, 0, 0, 255}
	cellLineColor      = color.RGBA{80, 80, 80, 255}
)

// RenderCellOverlay generates a JPG showing the spatial cell grid and every
// candidate colored by its clipping status, and writes it to a file. Purely
// diagnostic; never required for correctness.
func RenderCellOverlay(grid *SpatialCellGrid, status StatusMap, outputPath string) error {
	img, err := renderCellImage(grid, status)
	if err != nil {
		return err
	}
	f, err := os.Create(outputPath)
	if err != nil {
		return fmt.Errorf("create overlay file: %w", err)
	}
	defer f.Close()
	return jpeg.Encode(f, img, &jpeg.Options{Quality: 90})
}

// RenderCellOverlayBytes is RenderCellOverlay returning JPEG bytes.
func RenderCellOverlayBytes(grid *SpatialCellGrid, status StatusMap) ([]byte, error) {
	img, err := renderCellImage(grid, status)
	if err != nil {
		return nil, err
	}
	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, img, &jpeg.Options{Quality: 90}); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func renderCellImage(grid *SpatialCellGrid, status StatusMap) (*image.RGBA, error) {
	if grid == nil {
		return nil, fmt.Errorf("no cell grid to render")
	}

	// Render at reduced resolution (800px wide, proportional height)
	const targetWidth = 800
	scale := float64(targetWidth) / float64(grid.Bounds.Dx())
	imgW := targetWidth
	imgH := int(float64(grid.Bounds.Dy()) * scale)
	if imgH < 100 {
		imgH = 100
	}

	img := image.NewRGBA(image.Rect(0, 0, imgW, imgH))
	for y := 0; y < imgH; y++ {
		for x := 0; x < imgW; x++ {
			img.Set(x, y, color.RGBA{0, 0, 0, 255})
		}
	}

	toLocal := func(x, y float64) (int, int) {
		return int((x - float64(grid.Bounds.Min.X)) * scale),
			int((y - float64(grid.Bounds.Min.Y)) * scale)
	}

	for cell := range grid.Cells() {
		x0, y0 := toLocal(float64(cell.Bounds.Min.X), float64(cell.Bounds.Min.Y))
		x1, y1 := toLocal(float64(cell.Bounds.Max.X), float64(cell.Bounds.Max.Y))
		drawRectOutline(img, x0, y0, x1, y1, cellLineColor)

		nGood := 0
		for range cell.Candidates(status, false) {
			nGood++
		}
		drawLabel(img, x0+4, y0+12, fmt.Sprintf("%d/%d", nGood, cell.Len()))

		for cand := range cell.Candidates(status, true) {
			cx, cy := toLocal(cand.Center.X, cand.Center.Y)
			var c color.RGBA
			switch status.Get(cand.index) {
			case StatusBad:
				c = statusColorBad
			case StatusGood:
				c = statusColorGood
			default:
				c = statusColorUnknown
			}
			drawMarker(img, cx, cy, 3, c)
		}
	}
	return img, nil
}

// RenderPsfMosaic reconstructs the PSF model on an nx x ny grid of field
// positions and writes the mosaic of kernels as a JPG. Each kernel is
// normalized to its own peak and magnified with nearest-neighbor scaling so
// individual pixels stay visible.
func RenderPsfMosaic(basis *Basis, nx, ny, magnification int, outputPath string) error {
	if basis == nil {
		return fmt.Errorf("no basis to render")
	}
	if nx < 1 || ny < 1 {
		return fmt.Errorf("mosaic grid must be at least 1x1, got %dx%d", nx, ny)
	}
	if magnification < 1 {
		magnification = 1
	}

	const gap = 2
	stamp := basis.KernelSize * magnification
	imgW := nx*stamp + (nx+1)*gap
	imgH := ny*stamp + (ny+1)*gap
	mosaic := image.NewRGBA(image.Rect(0, 0, imgW, imgH))

	for iy := 0; iy < ny; iy++ {
		fy := float64(basis.Bounds.Min.Y) + (float64(iy)+0.5)*float64(basis.Bounds.Dy())/float64(ny)
		for ix := 0; ix < nx; ix++ {
			fx := float64(basis.Bounds.Min.X) + (float64(ix)+0.5)*float64(basis.Bounds.Dx())/float64(nx)
			kernel := basis.KernelAt(fx, fy)

			peak := 0.0
			for _, v := range kernel {
				if v > peak {
					peak = v
				}
			}
			gray := image.NewGray(image.Rect(0, 0, basis.KernelSize, basis.KernelSize))
			for p, v := range kernel {
				g := 0.0
				if peak > 0 {
					g = v / peak
				}
				if g < 0 {
					g = 0
				}
				gray.Pix[p] = uint8(g * 255)
			}

			x0 := gap + ix*(stamp+gap)
			y0 := gap + iy*(stamp+gap)
			dst := image.Rect(x0, y0, x0+stamp, y0+stamp)
			draw.NearestNeighbor.Scale(mosaic, dst, gray, gray.Bounds(), draw.Src, nil)
		}
	}

	f, err := os.Create(outputPath)
	if err != nil {
		return fmt.Errorf("create mosaic file: %w", err)
	}
	defer f.Close()
	return jpeg.Encode(f, mosaic, &jpeg.Options{Quality: 90})
}

func drawRectOutline(img *image.RGBA, x0, y0, x1, y1 int, c color.RGBA) {
	b := img.Bounds()
	clamp := func(v, lo, hi int) int {
		if v < lo {
			return lo
		}
		if v > hi {
			return hi
		}
		return v
	}
	x0 = clamp(x0, b.Min.X, b.Max.X-1)
	x1 = clamp(x1, b.Min.X, b.Max.X-1)
	y0 = clamp(y0, b.Min.Y, b.Max.Y-1)
	y1 = clamp(y1, b.Min.Y, b.Max.Y-1)
	for x := x0; x <= x1; x++ {
		img.Set(x, y0, c)
		img.Set(x, y1, c)
	}
	for y := y0; y <= y1; y++ {
		img.Set(x0, y, c)
		img.Set(x1, y, c)
	}
}

func drawMarker(img *image.RGBA, cx, cy, r int, c color.RGBA) {
	for y := cy - r; y <= cy+r; y++ {
		for x := cx - r; x <= cx+r; x++ {
			dx, dy := x-cx, y-cy
			if dx*dx+dy*dy <= r*r && image.Pt(x, y).In(img.Bounds()) {
				img.Set(x, y, c)
			}
		}
	}
}

func drawLabel(img *image.RGBA, x, y int, text string) {
	d := &font.Drawer{
		Dst:  img,
		Src:  image.NewUniform(color.RGBA{200, 200, 200, 255}),
		Face: basicfont.Face7x13,
		Dot:  fixed.P(x, y),
	}
	d.DrawString(text)
}
