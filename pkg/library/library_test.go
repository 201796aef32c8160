package library

import (
	"bytes"
	"context"
	"image"
	"image/color"
	"image/png"
	"io"
	"io/fs"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/charmbracelet/log"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/menta2k/photo-album/pkg/album"
	apperr "github.com/menta2k/photo-album/pkg/errors"
	"github.com/menta2k/photo-album/pkg/geometry"
	"github.com/menta2k/photo-album/pkg/persist"
	"github.com/menta2k/photo-album/pkg/processing"
	"github.com/menta2k/photo-album/pkg/storage"
	"github.com/menta2k/photo-album/pkg/types"
)

const user = "user-1"

// flakyStore fails Save while failSave is set.
type flakyStore struct {
	*persist.MemoryStore
	failSave bool
}

func (f *flakyStore) Save(ctx context.Context, userID string, st album.State) error {
	if f.failSave {
		return apperr.New(apperr.ErrCodePersist, "disk full")
	}
	return f.MemoryStore.Save(ctx, userID, st)
}

type fixture struct {
	svc   *Service
	store *flakyStore
	blobs *storage.LocalStore
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	blobs, err := storage.NewLocalStore(t.TempDir(), "http://test")
	require.NoError(t, err)
	store := &flakyStore{MemoryStore: persist.NewMemoryStore()}
	clock := time.Date(2026, 5, 1, 10, 0, 0, 0, time.UTC)

	svc := New(store, blobs, geometry.New(), processing.NewProcessor(), Options{
		Logger: log.New(io.Discard),
		Now: func() time.Time {
			clock = clock.Add(time.Second)
			return clock
		},
	})
	return &fixture{svc: svc, store: store, blobs: blobs}
}

func (f *fixture) fileCount(t *testing.T) int {
	t.Helper()
	n := 0
	err := filepath.WalkDir(f.blobs.Root(), func(_ string, d fs.DirEntry, err error) error {
		if err == nil && !d.IsDir() {
			n++
		}
		return err
	})
	require.NoError(t, err)
	return n
}

func pngBytes(t *testing.T, w, h int) []byte {
	t.Helper()
	img := image.NewNRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.Set(x, y, color.NRGBA{uint8(x), uint8(y), 128, 255})
		}
	}
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, img))
	return buf.Bytes()
}

func TestAlbumLifecycle(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	a, err := f.svc.CreateAlbum(ctx, user, "Holidays", "2026")
	require.NoError(t, err)

	albums, err := f.svc.ListAlbums(ctx, user)
	require.NoError(t, err)
	require.Len(t, albums, 1)
	assert.Equal(t, a, albums[0])

	name := "Summer"
	updated, err := f.svc.UpdateAlbum(ctx, user, a.ID, album.AlbumUpdate{Name: &name})
	require.NoError(t, err)
	assert.Equal(t, "Summer", updated.Name)
	assert.True(t, updated.UpdatedAt.After(a.UpdatedAt))

	got, err := f.svc.GetAlbum(ctx, user, a.ID)
	require.NoError(t, err)
	assert.Equal(t, updated, got)

	other, err := f.svc.ListAlbums(ctx, "user-2")
	require.NoError(t, err)
	assert.Empty(t, other)

	require.NoError(t, f.svc.DeleteAlbum(ctx, user, a.ID))
	_, err = f.svc.GetAlbum(ctx, user, a.ID)
	assert.True(t, apperr.Is(err, apperr.ErrCodeAlbumNotFound))
}

func TestStateSurvivesRestart(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	a, err := f.svc.CreateAlbum(ctx, user, "Kept", "")
	require.NoError(t, err)

	fresh := New(f.store, f.blobs, geometry.New(), processing.NewProcessor(), Options{Logger: log.New(io.Discard)})
	got, err := fresh.GetAlbum(ctx, user, a.ID)
	require.NoError(t, err)
	assert.Equal(t, "Kept", got.Name)
}

func TestUploadPhotoOriginal(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	a, err := f.svc.CreateAlbum(ctx, user, "A", "")
	require.NoError(t, err)

	p, err := f.svc.UploadPhoto(ctx, user, a.ID, Upload{
		Filename:    "cat.png",
		ContentType: "image/png",
		Data:        pngBytes(t, 64, 48),
	})
	require.NoError(t, err)

	assert.NotEmpty(t, p.ID)
	assert.Equal(t, 64, p.Width)
	assert.Equal(t, 48, p.Height)
	assert.Equal(t, "cat.png", p.Name)
	assert.True(t, strings.HasPrefix(p.Src, "http://test/photos/user-1/"+a.ID+"/"), p.Src)
	assert.True(t, strings.HasSuffix(p.Src, ".png"))
	assert.True(t, strings.HasSuffix(p.Thumbnail, ".jpg"))
	assert.Equal(t, 2, f.fileCount(t))

	got, err := f.svc.GetAlbum(ctx, user, a.ID)
	require.NoError(t, err)
	assert.Equal(t, p.Src, got.CoverImage, "first photo becomes the cover")

	photos, err := f.svc.PhotosForAlbum(ctx, user, a.ID)
	require.NoError(t, err)
	require.Len(t, photos, 1)
	assert.Equal(t, p, photos[0])
}

func TestUploadPhotoCropped(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	a, err := f.svc.CreateAlbum(ctx, user, "A", "")
	require.NoError(t, err)

	p, err := f.svc.UploadPhoto(ctx, user, a.ID, Upload{
		Filename: "wide.png",
		Data:     pngBytes(t, 80, 60),
		Crop:     &types.CropArea{X: 10, Y: 10, Width: 40, Height: 30},
		Rotation: 90,
	})
	require.NoError(t, err)

	assert.Equal(t, 40, p.Width)
	assert.Equal(t, 30, p.Height)
	assert.Equal(t, "wide.png", p.Name)
	assert.True(t, strings.HasSuffix(p.Src, ".jpg"), "cropped photos are stored as JPEG")
}

func TestUploadPhotoRejects(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	a, err := f.svc.CreateAlbum(ctx, user, "A", "")
	require.NoError(t, err)

	tests := []struct {
		name    string
		albumID string
		up      Upload
		code    apperr.Code
	}{
		{"non-image type", a.ID, Upload{Filename: "a.txt", ContentType: "text/plain", Data: []byte("hi")}, apperr.ErrCodeInvalidFormat},
		{"sniffed non-image", a.ID, Upload{Filename: "a.bin", Data: []byte("plain text")}, apperr.ErrCodeInvalidFormat},
		{"empty", a.ID, Upload{Filename: "a.png", ContentType: "image/png"}, apperr.ErrCodeInvalidInput},
		{"unknown album", "nope", Upload{Filename: "a.png", ContentType: "image/png", Data: pngBytes(t, 4, 4)}, apperr.ErrCodeAlbumNotFound},
		{"corrupt image", a.ID, Upload{Filename: "a.png", ContentType: "image/png", Data: []byte("\x89PNG garbage")}, apperr.ErrCodeDecode},
		{"bad crop", a.ID, Upload{Filename: "a.png", ContentType: "image/png", Data: pngBytes(t, 4, 4), Crop: &types.CropArea{Width: 0, Height: 2}}, apperr.ErrCodeInvalidCrop},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := f.svc.UploadPhoto(ctx, user, tt.albumID, tt.up)
			require.Error(t, err)
			assert.Equal(t, tt.code, apperr.GetCode(err), err.Error())
		})
	}
	assert.Equal(t, 0, f.fileCount(t), "rejected uploads leave no files")
}

func TestUploadPhotoEnforcesMinimumSize(t *testing.T) {
	blobs, err := storage.NewLocalStore(t.TempDir(), "http://test")
	require.NoError(t, err)
	cfg := processing.DefaultConfig()
	cfg.MinImageSize = 16
	svc := New(persist.NewMemoryStore(), blobs, geometry.New(), processing.NewProcessorWithConfig(cfg), Options{Logger: log.New(io.Discard)})

	ctx := context.Background()
	a, err := svc.CreateAlbum(ctx, user, "A", "")
	require.NoError(t, err)

	_, err = svc.UploadPhoto(ctx, user, a.ID, Upload{Filename: "tiny.png", ContentType: "image/png", Data: pngBytes(t, 8, 8)})
	assert.True(t, apperr.Is(err, apperr.ErrCodeInvalidInput), "got %v", err)

	// The stored rendering is checked, not the source.
	_, err = svc.UploadPhoto(ctx, user, a.ID, Upload{
		Filename: "big.png", ContentType: "image/png", Data: pngBytes(t, 64, 64),
		Crop: &types.CropArea{Width: 10, Height: 10},
	})
	assert.True(t, apperr.Is(err, apperr.ErrCodeInvalidInput), "got %v", err)

	p, err := svc.UploadPhoto(ctx, user, a.ID, Upload{Filename: "ok.png", ContentType: "image/png", Data: pngBytes(t, 16, 16)})
	require.NoError(t, err)
	assert.Equal(t, 16, p.Width)
}

func TestUploadPhotoRollsBackFilesWhenSaveFails(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	a, err := f.svc.CreateAlbum(ctx, user, "A", "")
	require.NoError(t, err)

	f.store.failSave = true
	_, err = f.svc.UploadPhoto(ctx, user, a.ID, Upload{Filename: "a.png", ContentType: "image/png", Data: pngBytes(t, 8, 8)})
	assert.True(t, apperr.Is(err, apperr.ErrCodePersist))
	assert.Equal(t, 0, f.fileCount(t))

	f.store.failSave = false
	photos, err := f.svc.PhotosForAlbum(ctx, user, a.ID)
	require.NoError(t, err)
	assert.Empty(t, photos, "failed save must not be visible")
}

func TestDeletePhotoMovesCover(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	a, err := f.svc.CreateAlbum(ctx, user, "A", "")
	require.NoError(t, err)

	first, err := f.svc.UploadPhoto(ctx, user, a.ID, Upload{Filename: "1.png", Data: pngBytes(t, 8, 8)})
	require.NoError(t, err)
	second, err := f.svc.UploadPhoto(ctx, user, a.ID, Upload{Filename: "2.png", Data: pngBytes(t, 8, 8)})
	require.NoError(t, err)
	require.Equal(t, 4, f.fileCount(t))

	require.NoError(t, f.svc.DeletePhoto(ctx, user, first.ID))
	assert.Equal(t, 2, f.fileCount(t))

	got, err := f.svc.GetAlbum(ctx, user, a.ID)
	require.NoError(t, err)
	assert.Equal(t, second.Src, got.CoverImage)

	err = f.svc.DeletePhoto(ctx, user, first.ID)
	assert.True(t, apperr.Is(err, apperr.ErrCodePhotoNotFound))
}

func TestDeleteAlbumRemovesFiles(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	a, err := f.svc.CreateAlbum(ctx, user, "A", "")
	require.NoError(t, err)
	for i := 0; i < 3; i++ {
		_, err := f.svc.UploadPhoto(ctx, user, a.ID, Upload{Filename: "p.png", Data: pngBytes(t, 8, 8)})
		require.NoError(t, err)
	}
	require.Equal(t, 6, f.fileCount(t))

	require.NoError(t, f.svc.DeleteAlbum(ctx, user, a.ID))
	assert.Equal(t, 0, f.fileCount(t))

	_, err = f.svc.PhotosForAlbum(ctx, user, a.ID)
	assert.True(t, apperr.Is(err, apperr.ErrCodeAlbumNotFound))
}

func TestClearUserData(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	a, err := f.svc.CreateAlbum(ctx, user, "A", "")
	require.NoError(t, err)
	_, err = f.svc.UploadPhoto(ctx, user, a.ID, Upload{Filename: "p.png", Data: pngBytes(t, 8, 8)})
	require.NoError(t, err)

	keep, err := f.svc.CreateAlbum(ctx, "user-2", "Theirs", "")
	require.NoError(t, err)

	require.NoError(t, f.svc.ClearUserData(ctx, user))
	assert.Equal(t, 0, f.fileCount(t))

	albums, err := f.svc.ListAlbums(ctx, user)
	require.NoError(t, err)
	assert.Empty(t, albums)

	saved, err := f.store.Load(ctx, user)
	require.NoError(t, err)
	assert.Empty(t, saved.Albums)

	_, err = f.svc.GetAlbum(ctx, "user-2", keep.ID)
	assert.NoError(t, err)
}

func TestRequiresUser(t *testing.T) {
	f := newFixture(t)
	_, err := f.svc.ListAlbums(context.Background(), "")
	assert.True(t, apperr.Is(err, apperr.ErrCodeUnauthorized))
	assert.True(t, apperr.Is(f.svc.ClearUserData(context.Background(), ""), apperr.ErrCodeUnauthorized))
}
