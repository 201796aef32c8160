// Package photoalbum rotates and crops photos the way the album's crop
// dialog previews them, and suggests an initial crop.
//
// Basic usage:
//
//	pa := photoalbum.New()
//
//	// Rotate 12 degrees clockwise, then cut 800x450 pixels starting 120px
//	// from the left and 40px from the top of the rotated image.
//	out, err := pa.Crop(ctx, "photo.jpg", types.CropArea{X: 120, Y: 40, Width: 800, Height: 450}, 12)
//	if err != nil {
//		log.Fatal(err)
//	}
//	os.WriteFile("photo_crop.jpg", out.Data, 0o644)
//
// The package wires three components:
//
//  1. Processing (pkg/processing): loading from files or URLs, decoding and encoding
//  2. Geometry (pkg/geometry): the safe-area rotation and crop
//  3. Suggest (pkg/suggest): centered, salient and vision-model crop suggestions
//
// The HTTP service with albums, uploads and persistence lives in pkg/server
// and pkg/library; cmd/photo-album runs it.
package photoalbum

import (
	"context"
	"fmt"
	"image"
	"os"

	"github.com/menta2k/photo-album/internal/utils"
	"github.com/menta2k/photo-album/pkg/geometry"
	"github.com/menta2k/photo-album/pkg/processing"
	"github.com/menta2k/photo-album/pkg/suggest"
	"github.com/menta2k/photo-album/pkg/types"
)

// Version of the photo-album library
const Version = "1.0.0"

// PhotoAlbum is a high-level entry point to crop and suggest
type PhotoAlbum struct {
	proc        *processing.Processor
	transformer *geometry.Transformer
	suggester   suggest.Suggester
}

// New creates a PhotoAlbum with JPEG output and salient crop suggestions
func New() *PhotoAlbum {
	return NewWithConfig(processing.DefaultConfig(), geometry.DefaultConfig(), nil)
}

// NewWithConfig creates a PhotoAlbum with custom loader limits, transform
// options and suggester. A nil suggester selects the salient one.
func NewWithConfig(procConfig processing.Config, geomConfig geometry.Config, s suggest.Suggester) *PhotoAlbum {
	proc := processing.NewProcessorWithConfig(procConfig)
	if s == nil {
		s = suggest.Chain{suggest.NewSalient(), suggest.Centered{}}
	}
	return &PhotoAlbum{
		proc:        proc,
		transformer: geometry.NewWithConfig(proc, geomConfig),
		suggester:   s,
	}
}

// LoadImage loads an image from a file path or an http(s) URL
func (pa *PhotoAlbum) LoadImage(ctx context.Context, source string) (image.Image, error) {
	return pa.proc.LoadImageSmart(ctx, source)
}

// GetImageInfo returns basic information about an image
func (pa *PhotoAlbum) GetImageInfo(img image.Image) processing.ImageInfo {
	return pa.proc.GetImageInfo(img)
}

// Crop loads source, rotates it clockwise by rotation degrees and encodes
// the crop rectangle.
func (pa *PhotoAlbum) Crop(ctx context.Context, source string, crop types.CropArea, rotation float64) (*geometry.Output, error) {
	return pa.transformer.Transform(ctx, source, crop, rotation)
}

// CropImage is Crop for a decoded image
func (pa *PhotoAlbum) CropImage(img image.Image, crop types.CropArea, rotation float64) (*geometry.Output, error) {
	return pa.transformer.TransformImage(img, crop, rotation)
}

// SuggestCrop proposes a crop of the given aspect ratio (width/height)
func (pa *PhotoAlbum) SuggestCrop(ctx context.Context, img image.Image, aspect float64) (types.CropArea, error) {
	return pa.suggester.Suggest(ctx, img, aspect)
}

// ProcessImageFile crops inputPath into outputDir and returns the written
// path, named <input>_crop.<ext>.
func (pa *PhotoAlbum) ProcessImageFile(ctx context.Context, inputPath, outputDir string, crop types.CropArea, rotation float64) (string, error) {
	out, err := pa.Crop(ctx, inputPath, crop, rotation)
	if err != nil {
		return "", fmt.Errorf("failed to crop %s: %w", inputPath, err)
	}
	if err := utils.EnsureDir(outputDir); err != nil {
		return "", fmt.Errorf("failed to create output directory: %w", err)
	}
	path := utils.GenerateOutputFilename(inputPath, outputDir, "", "_crop", processing.Extension(out.Format))
	if err := os.WriteFile(path, out.Data, 0o644); err != nil {
		return "", fmt.Errorf("failed to write %s: %w", path, err)
	}
	return path, nil
}
