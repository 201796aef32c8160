package processing

import (
	"image"
	"image/color"
	"math"

	"github.com/disintegration/imaging"
	"golang.org/x/image/draw"

	"github.com/menta2k/photo-album/pkg/types"
)

var (
	subjectColor = color.NRGBA{0, 255, 0, 255}   // model box
	cropColor    = color.NRGBA{255, 204, 0, 255} // suggested crop
	centerColor  = color.NRGBA{0, 170, 255, 255} // image center
)

// CreateDebugOverlay draws the detected subject box (normalized, may be zero)
// and the suggested crop rectangle (pixels) on a copy of img.
func (p *Processor) CreateDebugOverlay(img image.Image, subject types.Box, crop types.CropArea) *image.NRGBA {
	nrgba := imaging.Clone(img)
	w := nrgba.Bounds().Dx()
	h := nrgba.Bounds().Dy()

	stroke := int(math.Max(2, 0.004*float64(min(w, h))))

	if subject.W > 0 && subject.H > 0 {
		x0 := int(clamp(subject.X, 0, 1)*float64(w) + 0.5)
		y0 := int(clamp(subject.Y, 0, 1)*float64(h) + 0.5)
		x1 := int(clamp(subject.X+subject.W, 0, 1)*float64(w) + 0.5)
		y1 := int(clamp(subject.Y+subject.H, 0, 1)*float64(h) + 0.5)
		drawRect(nrgba, image.Rect(x0, y0, x1, y1), subjectColor, stroke)
	}

	if crop.Width > 0 && crop.Height > 0 {
		drawRect(nrgba, crop.Rect(), cropColor, stroke)
	}

	ix, iy := w/2, h/2
	fill(nrgba, image.Rect(ix-6, iy, ix+6, iy+1), centerColor)
	fill(nrgba, image.Rect(ix, iy-6, ix+1, iy+6), centerColor)

	return nrgba
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

// drawRect outlines r with a stroke-wide border drawn inside r.
func drawRect(img *image.NRGBA, r image.Rectangle, c color.NRGBA, stroke int) {
	if r.Empty() {
		return
	}
	stroke = min(stroke, r.Dx(), r.Dy())
	fill(img, image.Rect(r.Min.X, r.Min.Y, r.Max.X, r.Min.Y+stroke), c)
	fill(img, image.Rect(r.Min.X, r.Max.Y-stroke, r.Max.X, r.Max.Y), c)
	fill(img, image.Rect(r.Min.X, r.Min.Y, r.Min.X+stroke, r.Max.Y), c)
	fill(img, image.Rect(r.Max.X-stroke, r.Min.Y, r.Max.X, r.Max.Y), c)
}

// fill paints the part of r inside img
func fill(img *image.NRGBA, r image.Rectangle, c color.NRGBA) {
	draw.Draw(img, r.Intersect(img.Bounds()), image.NewUniform(c), image.Point{}, draw.Src)
}
