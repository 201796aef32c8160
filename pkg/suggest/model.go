package suggest

import (
	"context"
	"image"

	"github.com/menta2k/photo-album/pkg/detection"
	apperr "github.com/menta2k/photo-album/pkg/errors"
	"github.com/menta2k/photo-album/pkg/processing"
	"github.com/menta2k/photo-album/pkg/types"
)

// Defaults for the image sent to the vision model
const (
	DefaultModelMaxDim  = 1024
	DefaultModelQuality = 85
)

// Model asks a vision model for the primary subject and centers the largest
// aspect-correct crop on the point of the subject box nearest the image
// center.
type Model struct {
	Detector *detection.Detector
	Proc     *processing.Processor
	// Zoom shrinks the crop around its center; 1 keeps it as large as possible.
	Zoom    float64
	MaxDim  int
	Quality int
}

// NewModel creates a Model suggester with default encoding settings
func NewModel(d *detection.Detector, proc *processing.Processor) *Model {
	return &Model{
		Detector: d,
		Proc:     proc,
		Zoom:     1,
		MaxDim:   DefaultModelMaxDim,
		Quality:  DefaultModelQuality,
	}
}

// Suggest fails when the model reports no subject, so a Chain can fall
// back to another strategy.
func (m *Model) Suggest(ctx context.Context, img image.Image, aspect float64) (types.CropArea, error) {
	crop, _, err := m.SuggestWithResult(ctx, img, aspect)
	return crop, err
}

// SuggestWithResult also returns the raw detection, for debug overlays.
func (m *Model) SuggestWithResult(ctx context.Context, img image.Image, aspect float64) (types.CropArea, *types.AnalysisResult, error) {
	w, h, err := size(img)
	if err != nil {
		return types.CropArea{}, nil, err
	}
	if aspect <= 0 {
		aspect = DefaultAspect
	}

	b64, err := m.Proc.PrepareImageForModel(img, processing.FormatJPEG, m.MaxDim, m.Quality)
	if err != nil {
		return types.CropArea{}, nil, err
	}
	result, err := m.Detector.DetectSubject(ctx, b64)
	if err != nil {
		return types.CropArea{}, nil, err
	}
	if !detection.HasSubject(result) {
		return types.CropArea{}, result, apperr.New(apperr.ErrCodeUnsupported, "model %s found no subject", m.Detector.Model())
	}

	cx, cy := NearestPointToCenter(result.Primary.Box)
	box := OptimalCropBox(cx, cy, aspect, w, h, m.Zoom)
	return BoxToCrop(box, w, h), result, nil
}
