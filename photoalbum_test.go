package photoalbum

import (
	"bytes"
	"context"
	"image"
	"image/color"
	"image/jpeg"
	"image/png"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperr "github.com/menta2k/photo-album/pkg/errors"
	"github.com/menta2k/photo-album/pkg/geometry"
	"github.com/menta2k/photo-album/pkg/processing"
	"github.com/menta2k/photo-album/pkg/suggest"
	"github.com/menta2k/photo-album/pkg/types"
)

// createTestImage draws a bright square subject on a dark background
func createTestImage(width, height int) *image.NRGBA {
	img := image.NewNRGBA(image.Rect(0, 0, width, height))
	for y := 0; y < height; y++ {
		for x := 0; x < width; x++ {
			if x > width/3 && x < 2*width/3 && y > height/3 && y < 2*height/3 {
				img.Set(x, y, color.NRGBA{255, 255, 255, 255})
			} else {
				img.Set(x, y, color.NRGBA{64, 64, 64, 255})
			}
		}
	}
	return img
}

func TestNew(t *testing.T) {
	pa := New()
	require.NotNil(t, pa)
	assert.NotNil(t, pa.proc)
	assert.NotNil(t, pa.transformer)
	assert.NotNil(t, pa.suggester)
}

func TestGetImageInfo(t *testing.T) {
	info := New().GetImageInfo(createTestImage(400, 300))
	assert.Equal(t, 400, info.Width)
	assert.Equal(t, 300, info.Height)
	assert.InDelta(t, 4.0/3.0, info.AspectRatio, 1e-9)
	assert.Equal(t, 120000, info.Area)
}

func TestCropImage(t *testing.T) {
	pa := New()
	out, err := pa.CropImage(createTestImage(200, 100), types.CropArea{X: 50, Y: 25, Width: 100, Height: 50}, 0)
	require.NoError(t, err)

	assert.Equal(t, processing.FormatJPEG, out.Format)
	assert.Equal(t, "image/jpeg", out.ContentType)
	img, err := jpeg.Decode(bytes.NewReader(out.Data))
	require.NoError(t, err)
	assert.Equal(t, image.Rect(0, 0, 100, 50), img.Bounds())

	_, err = pa.CropImage(createTestImage(10, 10), types.CropArea{Width: 0, Height: 5}, 0)
	assert.True(t, apperr.Is(err, apperr.ErrCodeInvalidCrop))
}

func TestNewWithConfigStrict(t *testing.T) {
	gc := geometry.DefaultConfig()
	gc.Bounds = geometry.BoundsStrict
	gc.Format = processing.FormatPNG
	pa := NewWithConfig(processing.DefaultConfig(), gc, suggest.Centered{})

	out, err := pa.CropImage(createTestImage(20, 20), types.CropArea{Width: 20, Height: 20}, 0)
	require.NoError(t, err)
	assert.Equal(t, "image/png", out.ContentType)

	_, err = pa.CropImage(createTestImage(20, 20), types.CropArea{X: 10, Width: 20, Height: 20}, 0)
	assert.True(t, apperr.Is(err, apperr.ErrCodeOutOfBounds))
}

func TestSuggestCrop(t *testing.T) {
	pa := NewWithConfig(processing.DefaultConfig(), geometry.DefaultConfig(), suggest.Centered{})
	crop, err := pa.SuggestCrop(context.Background(), createTestImage(400, 300), 1)
	require.NoError(t, err)
	assert.Equal(t, types.CropArea{X: 50, Y: 0, Width: 300, Height: 300}, crop)
}

func TestProcessImageFile(t *testing.T) {
	dir := t.TempDir()
	input := filepath.Join(dir, "subject.png")
	f, err := os.Create(input)
	require.NoError(t, err)
	require.NoError(t, png.Encode(f, createTestImage(120, 90)))
	require.NoError(t, f.Close())

	outDir := filepath.Join(dir, "out")
	path, err := New().ProcessImageFile(context.Background(), input, outDir, types.CropArea{Width: 90, Height: 120}, 270)
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(outDir, "subject_crop.jpg"), path)

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	img, err := jpeg.Decode(bytes.NewReader(data))
	require.NoError(t, err)
	assert.Equal(t, image.Rect(0, 0, 90, 120), img.Bounds())

	_, err = New().ProcessImageFile(context.Background(), filepath.Join(dir, "missing.png"), outDir, types.CropArea{Width: 1, Height: 1}, 0)
	assert.Error(t, err)
}
