package suggest

import (
	"context"
	"image"
	"math"

	"github.com/disintegration/imaging"

	"github.com/menta2k/photo-album/pkg/types"
)

// DefaultSalientMaxDim is the working resolution of the energy map
const DefaultSalientMaxDim = 256

// Salient places the crop over the busiest part of the image. Edge energy
// (absolute luminance gradient) is measured on a downscaled grayscale copy
// and the crop-sized window with the highest total energy wins; ties go to
// the window nearest the center.
type Salient struct {
	MaxDim int
}

// NewSalient creates a Salient suggester with DefaultSalientMaxDim
func NewSalient() *Salient {
	return &Salient{MaxDim: DefaultSalientMaxDim}
}

// Suggest returns the largest crop of the given aspect that fits img,
// positioned over the highest-energy window. The result is always inside
// the image. Cancelling ctx aborts the energy scan with ctx.Err().
func (s *Salient) Suggest(ctx context.Context, img image.Image, aspect float64) (types.CropArea, error) {
	w, h, err := size(img)
	if err != nil {
		return types.CropArea{}, err
	}
	cw, ch := FitAspect(w, h, aspect)
	if cw == w && ch == h {
		return types.CropArea{Width: w, Height: h}, nil
	}

	maxDim := s.MaxDim
	if maxDim <= 0 {
		maxDim = DefaultSalientMaxDim
	}
	small := imaging.Grayscale(imaging.Fit(img, maxDim, maxDim, imaging.Box))
	sw, sh := small.Bounds().Dx(), small.Bounds().Dy()

	sum, err := energyIntegral(ctx, small)
	if err != nil {
		return types.CropArea{}, err
	}

	ww := min(max(int(math.Round(float64(cw)*float64(sw)/float64(w))), 1), sw)
	wh := min(max(int(math.Round(float64(ch)*float64(sh)/float64(h))), 1), sh)

	bestX, bestY := (sw-ww)/2, (sh-wh)/2
	bestE := windowSum(sum, sw, bestX, bestY, ww, wh)
	bestD := centerDistance(bestX, bestY, ww, wh, sw, sh)
	for y := 0; y <= sh-wh; y++ {
		for x := 0; x <= sw-ww; x++ {
			e := windowSum(sum, sw, x, y, ww, wh)
			if e < bestE {
				continue
			}
			d := centerDistance(x, y, ww, wh, sw, sh)
			if e > bestE || d < bestD {
				bestX, bestY, bestE, bestD = x, y, e, d
			}
		}
	}

	x := int(math.Round(float64(bestX) * float64(w) / float64(sw)))
	y := int(math.Round(float64(bestY) * float64(h) / float64(sh)))
	return types.CropArea{
		X:      min(max(x, 0), w-cw),
		Y:      min(max(y, 0), h-ch),
		Width:  cw,
		Height: ch,
	}, nil
}

// energyIntegral builds a summed-area table of gradient energy with one
// extra leading row and column of zeros.
func energyIntegral(ctx context.Context, g *image.NRGBA) ([]float64, error) {
	w, h := g.Bounds().Dx(), g.Bounds().Dy()
	lum := func(x, y int) float64 {
		x = min(max(x, 0), w-1)
		y = min(max(y, 0), h-1)
		return float64(g.Pix[y*g.Stride+x*4])
	}

	stride := w + 1
	sum := make([]float64, stride*(h+1))
	for y := 0; y < h; y++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		var row float64
		for x := 0; x < w; x++ {
			e := math.Abs(lum(x+1, y)-lum(x-1, y)) + math.Abs(lum(x, y+1)-lum(x, y-1))
			row += e
			sum[(y+1)*stride+x+1] = sum[y*stride+x+1] + row
		}
	}
	return sum, nil
}

func windowSum(sum []float64, w, x, y, ww, wh int) float64 {
	stride := w + 1
	return sum[(y+wh)*stride+x+ww] - sum[y*stride+x+ww] - sum[(y+wh)*stride+x] + sum[y*stride+x]
}

func centerDistance(x, y, ww, wh, w, h int) float64 {
	dx := float64(2*x+ww-w) / 2
	dy := float64(2*y+wh-h) / 2
	return dx*dx + dy*dy
}
