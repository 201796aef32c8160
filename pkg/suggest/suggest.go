// Package suggest proposes an initial crop rectangle for the crop dialog.
//
// Every Suggester returns a CropArea in source pixel coordinates with the
// requested aspect ratio that lies fully inside the image, so it can be fed
// straight to the geometry transformer at rotation 0.
package suggest

import (
	"context"
	"image"
	"math"
	"strconv"
	"strings"

	apperr "github.com/menta2k/photo-album/pkg/errors"
	"github.com/menta2k/photo-album/pkg/types"
)

// DefaultAspect is the upload dialog's 16:9
const DefaultAspect = 16.0 / 9.0

// Suggester picks a crop of the given aspect ratio (width / height).
type Suggester interface {
	Suggest(ctx context.Context, img image.Image, aspect float64) (types.CropArea, error)
}

// ParseAspect accepts "16:9", "16/9", "1.5" or "" (DefaultAspect).
func ParseAspect(s string) (float64, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return DefaultAspect, nil
	}
	if w, h, ok := strings.Cut(strings.Replace(s, "/", ":", 1), ":"); ok {
		wf, err1 := strconv.ParseFloat(strings.TrimSpace(w), 64)
		hf, err2 := strconv.ParseFloat(strings.TrimSpace(h), 64)
		if err1 != nil || err2 != nil || wf <= 0 || hf <= 0 {
			return 0, apperr.New(apperr.ErrCodeInvalidInput, "invalid aspect ratio %q", s)
		}
		return wf / hf, nil
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil || v <= 0 || math.IsInf(v, 0) {
		return 0, apperr.New(apperr.ErrCodeInvalidInput, "invalid aspect ratio %q", s)
	}
	return v, nil
}

// FitAspect returns the largest width x height of the given aspect that
// fits inside a w x h image. Both sides are at least 1.
func FitAspect(w, h int, aspect float64) (int, int) {
	if aspect <= 0 || math.IsNaN(aspect) || math.IsInf(aspect, 0) {
		aspect = DefaultAspect
	}
	cw, ch := w, int(math.Round(float64(w)/aspect))
	if ch > h {
		cw, ch = int(math.Round(float64(h)*aspect)), h
	}
	return min(max(cw, 1), w), min(max(ch, 1), h)
}

// Centered suggests the largest crop centered on the image.
type Centered struct{}

func (Centered) Suggest(ctx context.Context, img image.Image, aspect float64) (types.CropArea, error) {
	w, h, err := size(img)
	if err != nil {
		return types.CropArea{}, err
	}
	cw, ch := FitAspect(w, h, aspect)
	return types.CropArea{X: (w - cw) / 2, Y: (h - ch) / 2, Width: cw, Height: ch}, nil
}

// Chain tries each Suggester in turn and returns the first success.
type Chain []Suggester

func (c Chain) Suggest(ctx context.Context, img image.Image, aspect float64) (types.CropArea, error) {
	var lastErr error
	for _, s := range c {
		crop, err := s.Suggest(ctx, img, aspect)
		if err == nil {
			return crop, nil
		}
		if ctx.Err() != nil {
			return types.CropArea{}, ctx.Err()
		}
		lastErr = err
	}
	if lastErr == nil {
		lastErr = apperr.New(apperr.ErrCodeInternal, "no suggester configured")
	}
	return types.CropArea{}, lastErr
}

// NearestPointToCenter returns the point of a normalized box closest to the
// image center (0.5, 0.5).
func NearestPointToCenter(box types.Box) (float64, float64) {
	return clamp(0.5, box.X, box.X+box.W), clamp(0.5, box.Y, box.Y+box.H)
}

// OptimalCropBox returns the normalized box of the largest crop with the
// given aspect that is centered on (cx, cy) and stays inside the image,
// scaled down by zoom in (0, 1]. Centers near an edge are clamped inwards.
func OptimalCropBox(cx, cy, aspect float64, imgW, imgH int, zoom float64) types.Box {
	if zoom <= 0 {
		zoom = 1
	}
	w, h := float64(imgW), float64(imgH)
	px, py := cx*w, cy*h

	halfW := math.Min(px, w-px)
	halfH := math.Min(py, h-py)

	width := math.Min(2*halfW, aspect*2*halfH) * clamp(zoom, 0.01, 1)
	height := width / aspect

	x0 := clamp(px-width/2, 0, w-width)
	y0 := clamp(py-height/2, 0, h-height)
	return types.Box{X: x0 / w, Y: y0 / h, W: width / w, H: height / h}
}

// BoxToCrop converts a normalized box to pixels, clamped to the image.
func BoxToCrop(b types.Box, imgW, imgH int) types.CropArea {
	x := int(math.Round(b.X * float64(imgW)))
	y := int(math.Round(b.Y * float64(imgH)))
	cw := int(math.Round(b.W * float64(imgW)))
	ch := int(math.Round(b.H * float64(imgH)))

	x = min(max(x, 0), imgW-1)
	y = min(max(y, 0), imgH-1)
	cw = min(max(cw, 1), imgW-x)
	ch = min(max(ch, 1), imgH-y)
	return types.CropArea{X: x, Y: y, Width: cw, Height: ch}
}

// CropToBox is the inverse of BoxToCrop
func CropToBox(c types.CropArea, imgW, imgH int) types.Box {
	return types.Box{
		X: float64(c.X) / float64(imgW),
		Y: float64(c.Y) / float64(imgH),
		W: float64(c.Width) / float64(imgW),
		H: float64(c.Height) / float64(imgH),
	}
}

func size(img image.Image) (int, int, error) {
	if img == nil {
		return 0, 0, apperr.New(apperr.ErrCodeInvalidInput, "image is required")
	}
	b := img.Bounds()
	if b.Empty() {
		return 0, 0, apperr.New(apperr.ErrCodeInvalidInput, "image is empty")
	}
	return b.Dx(), b.Dy(), nil
}

func clamp(v, lo, hi float64) float64 {
	if hi < lo {
		return lo
	}
	return math.Max(lo, math.Min(hi, v))
}
