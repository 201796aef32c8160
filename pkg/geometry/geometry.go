// Package geometry rotates and crops rasters the way the crop dialog previews
// them: the source is rotated clockwise about its center inside a square
// "safe area" canvas large enough to hold it at any angle, and the crop
// rectangle is then copied out of that canvas into a buffer of exactly the
// requested size.
package geometry

import (
	"image"
	"image/color"
	"math"

	"github.com/disintegration/imaging"
	"golang.org/x/image/draw"

	apperr "github.com/menta2k/photo-album/pkg/errors"
	"github.com/menta2k/photo-album/pkg/types"
)

// Origin selects the point crop coordinates are measured from
type Origin int

const (
	// OriginRotatedBounds measures from the top-left corner of the rotated
	// image's bounding box. At rotation 0 this is the source's own top-left.
	OriginRotatedBounds Origin = iota
	// OriginCanvas measures from the top-left corner of the safe-area canvas.
	// This is where the web crop dialog measures from, so a crop saved by it
	// round-trips unchanged. For a source smaller than the canvas the image
	// sits (side-w)/2, (side-h)/2 pixels in from that corner.
	OriginCanvas
)

// BoundsPolicy decides what happens when the crop leaves the canvas
type BoundsPolicy int

const (
	// BoundsClip copies whatever canvas pixels overlap the crop; the rest of
	// the output stays transparent.
	BoundsClip BoundsPolicy = iota
	// BoundsStrict rejects crops that leave the canvas with OUT_OF_BOUNDS.
	BoundsStrict
)

// DefaultMaxCanvasSide caps both the safe-area canvas and the crop output
const DefaultMaxCanvasSide = 16384

// Options controls how Render interprets and checks the crop
type Options struct {
	Origin        Origin
	Bounds        BoundsPolicy
	MaxCanvasSide int // 0 means DefaultMaxCanvasSide
}

func (o Options) maxSide() int {
	if o.MaxCanvasSide > 0 {
		return o.MaxCanvasSide
	}
	return DefaultMaxCanvasSide
}

// CheckSize rejects a crop or canvas side above the limit with IMAGE_TOO_LARGE
func (o Options) CheckSize(crop types.CropArea, side int) error {
	limit := o.maxSide()
	if side > limit {
		return apperr.New(apperr.ErrCodeImageTooLarge, "safe-area canvas %dpx exceeds limit %dpx", side, limit)
	}
	if crop.Width > limit || crop.Height > limit {
		return apperr.New(apperr.ErrCodeImageTooLarge, "crop %dx%d exceeds limit %dpx", crop.Width, crop.Height, limit)
	}
	return nil
}

// ParseOrigin maps "bounds"/"canvas" to an Origin
func ParseOrigin(s string) (Origin, error) {
	switch s {
	case "", "bounds", "rotated":
		return OriginRotatedBounds, nil
	case "canvas":
		return OriginCanvas, nil
	}
	return 0, apperr.New(apperr.ErrCodeInvalidInput, "unknown crop origin %q (want bounds or canvas)", s)
}

// SafeArea returns the side of the smallest square that contains a
// width x height image at any rotation: the diagonal of a max(w,h) square.
func SafeArea(width, height int) float64 {
	maxSize := float64(max(width, height))
	return 2 * ((maxSize / 2) * math.Sqrt2)
}

// CanvasSide is SafeArea rounded up to whole pixels
func CanvasSide(width, height int) int {
	return int(math.Ceil(SafeArea(width, height)))
}

// NormalizeRotation maps any finite angle in degrees into [0, 360)
func NormalizeRotation(degrees float64) (float64, error) {
	if math.IsNaN(degrees) || math.IsInf(degrees, 0) {
		return 0, apperr.New(apperr.ErrCodeInvalidRotation, "rotation must be a finite number, got %v", degrees)
	}
	r := math.Mod(degrees, 360)
	if r < 0 {
		r += 360
	}
	if r == 360 {
		r = 0
	}
	return r, nil
}

// ValidateCrop checks the parts of the crop invariant that do not depend on
// the canvas size.
func ValidateCrop(crop types.CropArea) error {
	if crop.Width <= 0 || crop.Height <= 0 {
		return apperr.New(apperr.ErrCodeInvalidCrop, "crop size must be positive, got %dx%d", crop.Width, crop.Height)
	}
	if crop.X < 0 || crop.Y < 0 {
		return apperr.New(apperr.ErrCodeInvalidCrop, "crop offset must not be negative, got (%d,%d)", crop.X, crop.Y)
	}
	return nil
}

// Render rotates src clockwise by rotation degrees inside a safe-area canvas
// and returns the crop region as a new raster of exactly crop.Width x
// crop.Height pixels.
func Render(src image.Image, crop types.CropArea, rotation float64, opts Options) (*image.NRGBA, error) {
	if err := ValidateCrop(crop); err != nil {
		return nil, err
	}
	deg, err := NormalizeRotation(rotation)
	if err != nil {
		return nil, err
	}

	b := src.Bounds()
	if b.Empty() {
		return nil, apperr.New(apperr.ErrCodeInvalidInput, "source image is empty")
	}

	side := CanvasSide(b.Dx(), b.Dy())
	if err := opts.CheckSize(crop, side); err != nil {
		return nil, err
	}

	// imaging rotates counter-clockwise; right angles and 0 are exact.
	rotated := imaging.Rotate(src, -deg, color.Transparent)
	rb := rotated.Bounds()
	placed := image.Pt((side-rb.Dx())/2, (side-rb.Dy())/2)

	var origin image.Point
	if opts.Origin == OriginRotatedBounds {
		origin = placed
	}
	region := crop.Rect().Add(origin)
	canvasRect := image.Rect(0, 0, side, side)

	if opts.Bounds == BoundsStrict && !region.In(canvasRect) {
		return nil, apperr.New(apperr.ErrCodeOutOfBounds, "crop %v leaves the %dx%d canvas", region, side, side)
	}

	canvas := imaging.New(side, side, color.Transparent)
	draw.Draw(canvas, rb.Sub(rb.Min).Add(placed), rotated, rb.Min, draw.Src)

	out := imaging.New(crop.Width, crop.Height, color.Transparent)
	if visible := region.Intersect(canvasRect); !visible.Empty() {
		draw.Draw(out, visible.Sub(region.Min), canvas, visible.Min, draw.Src)
	}
	return out, nil
}
