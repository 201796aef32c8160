package processing

import (
	"bytes"
	"context"
	"encoding/base64"
	"image"
	"io"
	"math"
	"net/http"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/chai2010/webp"
	"github.com/disintegration/imaging"
	_ "golang.org/x/image/webp"

	apperr "github.com/menta2k/photo-album/pkg/errors"
)

// Output formats understood by Encode
const (
	FormatJPEG = "jpeg"
	FormatPNG  = "png"
	FormatWebP = "webp"
)

// Config holds limits for loading images
type Config struct {
	FetchTimeout  time.Duration
	MaxFetchBytes int64
	UserAgent     string
	MinImageSize  int
	// MaxPixels and MaxCanvasSide are checked against the image header
	// before any pixel data is decoded. MaxCanvasSide bounds the rotation
	// canvas, ceil(max(w,h) * sqrt2).
	MaxPixels     int64
	MaxCanvasSide int
}

// DefaultConfig returns the loader limits used by NewProcessor
func DefaultConfig() Config {
	return Config{
		FetchTimeout:  30 * time.Second,
		MaxFetchBytes: 50 << 20,
		UserAgent:     "Photo-Album/1.0",
		MinImageSize:  1,
		MaxPixels:     100_000_000,
		MaxCanvasSide: 16384,
	}
}

// Processor handles raster loading, encoding and derived images
type Processor struct {
	config Config
	client *http.Client
}

// NewProcessor creates a new image processor
func NewProcessor() *Processor {
	return NewProcessorWithConfig(DefaultConfig())
}

// NewProcessorWithConfig creates a processor with custom limits
func NewProcessorWithConfig(cfg Config) *Processor {
	if cfg.FetchTimeout <= 0 {
		cfg.FetchTimeout = DefaultConfig().FetchTimeout
	}
	if cfg.MaxFetchBytes <= 0 {
		cfg.MaxFetchBytes = DefaultConfig().MaxFetchBytes
	}
	if cfg.MaxPixels <= 0 {
		cfg.MaxPixels = DefaultConfig().MaxPixels
	}
	if cfg.MaxCanvasSide <= 0 {
		cfg.MaxCanvasSide = DefaultConfig().MaxCanvasSide
	}
	return &Processor{
		config: cfg,
		client: &http.Client{Timeout: cfg.FetchTimeout},
	}
}

// EncodeOptions selects the output format of Encode
type EncodeOptions struct {
	Format   string
	Quality  int
	Lossless bool
}

// ImageInfo contains basic image metadata
type ImageInfo struct {
	Width       int     `json:"width"`
	Height      int     `json:"height"`
	AspectRatio float64 `json:"aspectRatio"`
	Area        int     `json:"area"`
}

// LoadImageFromURL downloads and decodes an image
func (p *Processor) LoadImageFromURL(ctx context.Context, imageURL string) (image.Image, error) {
	parsedURL, err := url.Parse(imageURL)
	if err != nil {
		return nil, apperr.Wrap(apperr.ErrCodeInvalidInput, err, "invalid URL")
	}
	if parsedURL.Scheme != "http" && parsedURL.Scheme != "https" {
		return nil, apperr.New(apperr.ErrCodeInvalidInput, "unsupported URL scheme: %s (only http and https are supported)", parsedURL.Scheme)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, imageURL, nil)
	if err != nil {
		return nil, apperr.Wrap(apperr.ErrCodeInvalidInput, err, "failed to create request")
	}
	req.Header.Set("User-Agent", p.config.UserAgent)

	resp, err := p.client.Do(req)
	if err != nil {
		return nil, apperr.Wrap(apperr.ErrCodeDecode, err, "failed to download image")
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, apperr.New(apperr.ErrCodeDecode, "failed to download image: HTTP %s", resp.Status)
	}

	contentType := resp.Header.Get("Content-Type")
	if !strings.HasPrefix(contentType, "image/") {
		return nil, apperr.New(apperr.ErrCodeDecode, "URL does not point to an image (Content-Type: %s)", contentType)
	}

	data, err := io.ReadAll(io.LimitReader(resp.Body, p.config.MaxFetchBytes+1))
	if err != nil {
		return nil, apperr.Wrap(apperr.ErrCodeDecode, err, "failed to read image data")
	}
	if int64(len(data)) > p.config.MaxFetchBytes {
		return nil, apperr.New(apperr.ErrCodeImageTooLarge, "image exceeds %d bytes", p.config.MaxFetchBytes)
	}

	return p.DecodeBytes(data)
}

// LoadImage loads an image from a file path, honoring EXIF orientation
func (p *Processor) LoadImage(path string) (image.Image, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, apperr.Wrap(apperr.ErrCodeDecode, err, "failed to open %s", path)
	}
	img, err := p.DecodeBytes(data)
	if err != nil {
		if apperr.Is(err, apperr.ErrCodeImageTooLarge) {
			return nil, err
		}
		return nil, apperr.Wrap(apperr.ErrCodeDecode, err, "unknown format for %s", path)
	}
	return img, nil
}

// LoadImageSmart loads an image from either a file path or URL
func (p *Processor) LoadImageSmart(ctx context.Context, source string) (image.Image, error) {
	if strings.HasPrefix(source, "http://") || strings.HasPrefix(source, "https://") {
		return p.LoadImageFromURL(ctx, source)
	}
	return p.LoadImage(source)
}

// DecodeBytes decodes an encoded raster, falling back to the WebP decoder
func (p *Processor) DecodeBytes(data []byte) (image.Image, error) {
	if len(data) == 0 {
		return nil, apperr.New(apperr.ErrCodeDecode, "empty image data")
	}
	if err := p.checkDimensions(data); err != nil {
		return nil, err
	}

	img, err := imaging.Decode(bytes.NewReader(data), imaging.AutoOrientation(true))
	if err == nil {
		return img, nil
	}

	if img, werr := webp.Decode(bytes.NewReader(data)); werr == nil {
		return img, nil
	}

	return nil, apperr.Wrap(apperr.ErrCodeDecode, err, "unknown or unsupported image format")
}

// checkDimensions reads only the header of data and rejects images that are
// too large to decode or rotate. Unrecognized headers are left to the decoder.
func (p *Processor) checkDimensions(data []byte) error {
	cfg, _, err := image.DecodeConfig(bytes.NewReader(data))
	if err != nil {
		return nil
	}
	if cfg.Width <= 0 || cfg.Height <= 0 {
		return apperr.New(apperr.ErrCodeDecode, "invalid image dimensions %dx%d", cfg.Width, cfg.Height)
	}
	if pixels := int64(cfg.Width) * int64(cfg.Height); pixels > p.config.MaxPixels {
		return apperr.New(apperr.ErrCodeImageTooLarge, "image %dx%d has %d pixels (limit %d)",
			cfg.Width, cfg.Height, pixels, p.config.MaxPixels)
	}
	side := math.Ceil(float64(max(cfg.Width, cfg.Height)) * math.Sqrt2)
	if side > float64(p.config.MaxCanvasSide) {
		return apperr.New(apperr.ErrCodeImageTooLarge, "image %dx%d needs a %.0fpx rotation canvas (limit %d)",
			cfg.Width, cfg.Height, side, p.config.MaxCanvasSide)
	}
	return nil
}

// Encode writes img to w in the requested format
func (p *Processor) Encode(w io.Writer, img image.Image, opts EncodeOptions) error {
	format, err := NormalizeFormat(opts.Format)
	if err != nil {
		return err
	}
	quality := opts.Quality
	if quality <= 0 || quality > 100 {
		quality = 95
	}

	switch format {
	case FormatWebP:
		err = webp.Encode(w, img, &webp.Options{Lossless: opts.Lossless, Quality: float32(quality)})
	case FormatPNG:
		err = imaging.Encode(w, img, imaging.PNG)
	default:
		err = imaging.Encode(w, img, imaging.JPEG, imaging.JPEGQuality(quality))
	}
	if err != nil {
		return apperr.Wrap(apperr.ErrCodeEncode, err, "failed to encode %s", format)
	}
	return nil
}

// EncodeBytes encodes img into a byte slice
func (p *Processor) EncodeBytes(img image.Image, opts EncodeOptions) ([]byte, error) {
	var buf bytes.Buffer
	if err := p.Encode(&buf, img, opts); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// GetImageInfo returns basic information about an image
func (p *Processor) GetImageInfo(img image.Image) ImageInfo {
	bounds := img.Bounds()
	width, height := bounds.Dx(), bounds.Dy()

	info := ImageInfo{Width: width, Height: height, Area: width * height}
	if height > 0 {
		info.AspectRatio = float64(width) / float64(height)
	}
	return info
}

// ValidateImage checks the image against the minimum size
func (p *Processor) ValidateImage(img image.Image) error {
	bounds := img.Bounds()
	if bounds.Dx() < p.config.MinImageSize || bounds.Dy() < p.config.MinImageSize {
		return apperr.New(apperr.ErrCodeInvalidInput, "image too small: %dx%d (minimum: %d)",
			bounds.Dx(), bounds.Dy(), p.config.MinImageSize)
	}
	return nil
}

// Thumbnail scales and crops img to exactly width x height
func (p *Processor) Thumbnail(img image.Image, width, height int) image.Image {
	return imaging.Thumbnail(img, width, height, imaging.Lanczos)
}

// PrepareImageForModel converts an image to base64 for sending to vision models
func (p *Processor) PrepareImageForModel(img image.Image, format string, maxDim int, quality int) (string, error) {
	if maxDim > 0 {
		b := img.Bounds()
		w, h := b.Dx(), b.Dy()
		if w > maxDim || h > maxDim {
			if w >= h {
				img = imaging.Resize(img, maxDim, 0, imaging.Lanczos)
			} else {
				img = imaging.Resize(img, 0, maxDim, imaging.Lanczos)
			}
		}
	}

	data, err := p.EncodeBytes(img, EncodeOptions{Format: format, Quality: quality})
	if err != nil {
		return "", err
	}
	return base64.StdEncoding.EncodeToString(data), nil
}

// NormalizeFormat maps a format name or file extension to a canonical format
func NormalizeFormat(format string) (string, error) {
	switch strings.TrimPrefix(strings.ToLower(strings.TrimSpace(format)), ".") {
	case "", "jpg", "jpeg":
		return FormatJPEG, nil
	case "png":
		return FormatPNG, nil
	case "webp":
		return FormatWebP, nil
	default:
		return "", apperr.New(apperr.ErrCodeInvalidFormat, "unsupported output format: %s", format)
	}
}

// ContentType returns the MIME type for a canonical format
func ContentType(format string) string {
	switch format {
	case FormatPNG:
		return "image/png"
	case FormatWebP:
		return "image/webp"
	default:
		return "image/jpeg"
	}
}

// Extension returns the file extension (without dot) for a canonical format
func Extension(format string) string {
	switch format {
	case FormatPNG:
		return "png"
	case FormatWebP:
		return "webp"
	default:
		return "jpg"
	}
}
