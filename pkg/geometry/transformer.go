package geometry

import (
	"context"
	"image"
	"time"

	apperr "github.com/menta2k/photo-album/pkg/errors"
	"github.com/menta2k/photo-album/pkg/processing"
	"github.com/menta2k/photo-album/pkg/types"
)

// DefaultQuality is the JPEG quality of transform output (0.95)
const DefaultQuality = 95

// MaxJPEGSide is the largest side the JPEG encoder accepts
const MaxJPEGSide = 65535

// Config holds the render options and the output encoding
type Config struct {
	Options
	Format   string
	Quality  int
	Lossless bool
}

// DefaultConfig clips silently, measures crops from the rotated bounds,
// caps the canvas at DefaultMaxCanvasSide and encodes JPEG at quality 95.
func DefaultConfig() Config {
	return Config{
		Options: Options{MaxCanvasSide: DefaultMaxCanvasSide},
		Format:  processing.FormatJPEG,
		Quality: DefaultQuality,
	}
}

// Observer is notified after every transform
type Observer interface {
	ObserveTransform(elapsed time.Duration, err error)
}

// Output is an encoded transform result
type Output struct {
	Data        []byte
	Width       int
	Height      int
	Format      string
	ContentType string
}

// Transformer decodes a source, renders the crop and encodes the result
type Transformer struct {
	proc     *processing.Processor
	config   Config
	observer Observer
}

// New creates a Transformer with the default configuration
func New() *Transformer {
	return NewWithConfig(processing.NewProcessor(), DefaultConfig())
}

// NewWithConfig creates a Transformer using proc for decode and encode
func NewWithConfig(proc *processing.Processor, cfg Config) *Transformer {
	if cfg.Quality <= 0 || cfg.Quality > 100 {
		cfg.Quality = DefaultQuality
	}
	return &Transformer{proc: proc, config: cfg}
}

// SetObserver installs an observer for transform timings and failures
func (t *Transformer) SetObserver(o Observer) {
	t.observer = o
}

// Config returns the transformer configuration
func (t *Transformer) Config() Config {
	return t.config
}

// Transform loads source (file path or http(s) URL), crops and rotates it.
// Load failures are DECODE_ERROR, serialization failures ENCODE_ERROR.
func (t *Transformer) Transform(ctx context.Context, source string, crop types.CropArea, rotation float64) (*Output, error) {
	start := time.Now()
	out, err := t.transform(crop, rotation, func() (image.Image, error) {
		return t.proc.LoadImageSmart(ctx, source)
	})
	t.observe(start, err)
	return out, err
}

// TransformBytes is Transform for an encoded source already in memory
func (t *Transformer) TransformBytes(data []byte, crop types.CropArea, rotation float64) (*Output, error) {
	start := time.Now()
	out, err := t.transform(crop, rotation, func() (image.Image, error) {
		return t.proc.DecodeBytes(data)
	})
	t.observe(start, err)
	return out, err
}

// TransformImage is Transform for an already decoded source
func (t *Transformer) TransformImage(img image.Image, crop types.CropArea, rotation float64) (*Output, error) {
	start := time.Now()
	out, err := t.transform(crop, rotation, func() (image.Image, error) {
		return img, nil
	})
	t.observe(start, err)
	return out, err
}

func (t *Transformer) transform(crop types.CropArea, rotation float64, load func() (image.Image, error)) (*Output, error) {
	// Reject bad input before touching the source.
	if err := ValidateCrop(crop); err != nil {
		return nil, err
	}
	if _, err := NormalizeRotation(rotation); err != nil {
		return nil, err
	}
	if err := t.config.CheckSize(crop, 0); err != nil {
		return nil, err
	}
	format, err := processing.NormalizeFormat(t.config.Format)
	if err != nil {
		return nil, err
	}
	if format == processing.FormatJPEG && (crop.Width > MaxJPEGSide || crop.Height > MaxJPEGSide) {
		return nil, apperr.New(apperr.ErrCodeImageTooLarge, "crop %dx%d exceeds the JPEG limit of %dpx", crop.Width, crop.Height, MaxJPEGSide)
	}

	src, err := load()
	if err != nil {
		return nil, err
	}

	raster, err := Render(src, crop, rotation, t.config.Options)
	if err != nil {
		return nil, err
	}

	data, err := t.proc.EncodeBytes(raster, processing.EncodeOptions{
		Format:   format,
		Quality:  t.config.Quality,
		Lossless: t.config.Lossless,
	})
	if err != nil {
		return nil, err
	}

	b := raster.Bounds()
	return &Output{
		Data:        data,
		Width:       b.Dx(),
		Height:      b.Dy(),
		Format:      format,
		ContentType: processing.ContentType(format),
	}, nil
}

func (t *Transformer) observe(start time.Time, err error) {
	if t.observer != nil {
		t.observer.ObserveTransform(time.Since(start), err)
	}
}
