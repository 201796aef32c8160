// Package library is the album service behind the HTTP API. It combines the
// per-user album State with a persistence Store and a BlobStore for the
// photo files.
//
// State changes are serialized per service: every mutation loads the user's
// current State, applies one album.State operation and saves the result
// before it becomes visible. Photo files are uploaded before the State
// changes and removed again if the change cannot be saved. Deletions work
// the other way round: the State is saved first and stale files are removed
// afterwards on a best-effort basis.
package library

import (
	"context"
	"image"
	"net/http"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/charmbracelet/log"
	"golang.org/x/sync/errgroup"

	"github.com/menta2k/photo-album/pkg/album"
	apperr "github.com/menta2k/photo-album/pkg/errors"
	"github.com/menta2k/photo-album/pkg/geometry"
	"github.com/menta2k/photo-album/pkg/persist"
	"github.com/menta2k/photo-album/pkg/processing"
	"github.com/menta2k/photo-album/pkg/storage"
	"github.com/menta2k/photo-album/pkg/types"
)

const (
	// DefaultThumbnailSize bounds the longer thumbnail edge
	DefaultThumbnailSize = 320
	thumbnailQuality     = 85
	blobDeleteWorkers    = 4
)

// Options tunes a Service. Zero values select the defaults.
type Options struct {
	Logger        *log.Logger
	Now           func() time.Time
	ThumbnailSize int
}

// Service manages albums and photos for many users.
type Service struct {
	mu          sync.Mutex
	cache       map[string]album.State
	store       persist.Store
	blobs       storage.BlobStore
	transformer *geometry.Transformer
	proc        *processing.Processor
	logger      *log.Logger
	now         func() time.Time
	thumbSize   int
}

// Upload is a photo as received from a client
type Upload struct {
	Filename    string
	ContentType string
	Data        []byte
	// Crop, when set, stores the rotated and cropped rendering instead of
	// the original bytes.
	Crop     *types.CropArea
	Rotation float64
}

// New creates a Service.
func New(store persist.Store, blobs storage.BlobStore, transformer *geometry.Transformer, proc *processing.Processor, opts Options) *Service {
	if opts.Logger == nil {
		opts.Logger = log.Default()
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.ThumbnailSize <= 0 {
		opts.ThumbnailSize = DefaultThumbnailSize
	}
	return &Service{
		cache:       make(map[string]album.State),
		store:       store,
		blobs:       blobs,
		transformer: transformer,
		proc:        proc,
		logger:      opts.Logger,
		now:         opts.Now,
		thumbSize:   opts.ThumbnailSize,
	}
}

// state returns the cached State, loading it on first use. Callers hold s.mu.
func (s *Service) state(ctx context.Context, userID string) (album.State, error) {
	if st, ok := s.cache[userID]; ok {
		return st, nil
	}
	st, err := s.store.Load(ctx, userID)
	if err != nil {
		return album.State{}, err
	}
	s.cache[userID] = st
	return st, nil
}

// commit saves next and only then makes it the cached State. Callers hold s.mu.
func (s *Service) commit(ctx context.Context, userID string, next album.State) error {
	if err := s.store.Save(ctx, userID, next); err != nil {
		return err
	}
	s.cache[userID] = next
	return nil
}

// mutate applies fn to the user's State and commits the result.
func (s *Service) mutate(ctx context.Context, userID string, fn func(album.State) (album.State, error)) error {
	if userID == "" {
		return apperr.New(apperr.ErrCodeUnauthorized, "no user")
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	st, err := s.state(ctx, userID)
	if err != nil {
		return err
	}
	next, err := fn(st)
	if err != nil {
		return err
	}
	return s.commit(ctx, userID, next)
}

func (s *Service) read(ctx context.Context, userID string) (album.State, error) {
	if userID == "" {
		return album.State{}, apperr.New(apperr.ErrCodeUnauthorized, "no user")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state(ctx, userID)
}

// ListAlbums returns the user's albums in creation order.
func (s *Service) ListAlbums(ctx context.Context, userID string) ([]types.Album, error) {
	st, err := s.read(ctx, userID)
	if err != nil {
		return nil, err
	}
	out := make([]types.Album, len(st.Albums))
	copy(out, st.Albums)
	return out, nil
}

// GetAlbum returns one album.
func (s *Service) GetAlbum(ctx context.Context, userID, albumID string) (types.Album, error) {
	st, err := s.read(ctx, userID)
	if err != nil {
		return types.Album{}, err
	}
	a, ok := st.Album(albumID)
	if !ok {
		return types.Album{}, apperr.New(apperr.ErrCodeAlbumNotFound, "album %q not found", albumID)
	}
	return a, nil
}

// CreateAlbum adds an album.
func (s *Service) CreateAlbum(ctx context.Context, userID, name, description string) (types.Album, error) {
	var created types.Album
	err := s.mutate(ctx, userID, func(st album.State) (album.State, error) {
		next, a, err := st.CreateAlbum(name, description, s.now())
		created = a
		return next, err
	})
	if err != nil {
		return types.Album{}, err
	}
	s.logger.Debug("album created", "user", userID, "album", created.ID, "name", created.Name)
	return created, nil
}

// UpdateAlbum patches an album's name, description or cover.
func (s *Service) UpdateAlbum(ctx context.Context, userID, albumID string, upd album.AlbumUpdate) (types.Album, error) {
	var updated types.Album
	err := s.mutate(ctx, userID, func(st album.State) (album.State, error) {
		next, a, err := st.UpdateAlbum(albumID, upd, s.now())
		updated = a
		return next, err
	})
	return updated, err
}

// DeleteAlbum removes an album with all of its photos and their files.
func (s *Service) DeleteAlbum(ctx context.Context, userID, albumID string) error {
	var removed []types.Photo
	err := s.mutate(ctx, userID, func(st album.State) (album.State, error) {
		next, photos, err := st.DeleteAlbum(albumID)
		removed = photos
		return next, err
	})
	if err != nil {
		return err
	}
	s.deleteBlobs(ctx, photoURLs(removed...))
	s.logger.Info("album deleted", "user", userID, "album", albumID, "photos", len(removed))
	return nil
}

// PhotosForAlbum lists an album's photos in upload order.
func (s *Service) PhotosForAlbum(ctx context.Context, userID, albumID string) ([]types.Photo, error) {
	st, err := s.read(ctx, userID)
	if err != nil {
		return nil, err
	}
	if _, ok := st.Album(albumID); !ok {
		return nil, apperr.New(apperr.ErrCodeAlbumNotFound, "album %q not found", albumID)
	}
	photos := st.PhotosForAlbum(albumID)
	if photos == nil {
		photos = []types.Photo{}
	}
	return photos, nil
}

// UploadPhoto stores a new photo and its thumbnail and adds it to the album.
func (s *Service) UploadPhoto(ctx context.Context, userID, albumID string, up Upload) (types.Photo, error) {
	if len(up.Data) == 0 {
		return types.Photo{}, apperr.New(apperr.ErrCodeInvalidInput, "empty upload")
	}
	contentType := up.ContentType
	if contentType == "" || contentType == "application/octet-stream" {
		contentType = http.DetectContentType(up.Data)
	}
	if !strings.HasPrefix(contentType, "image/") {
		return types.Photo{}, apperr.New(apperr.ErrCodeInvalidFormat, "%s is not an image (%s)", up.Filename, contentType)
	}
	if _, err := s.GetAlbum(ctx, userID, albumID); err != nil {
		return types.Photo{}, err
	}

	stored, filename, img, err := s.prepare(up)
	if err != nil {
		return types.Photo{}, err
	}
	if err := s.proc.ValidateImage(img); err != nil {
		return types.Photo{}, err
	}
	thumb, err := s.proc.EncodeBytes(s.proc.Thumbnail(img, s.thumbSize, s.thumbSize), processing.EncodeOptions{
		Format:  processing.FormatJPEG,
		Quality: thumbnailQuality,
	})
	if err != nil {
		return types.Photo{}, err
	}

	src, err := s.blobs.Upload(ctx, userID, albumID, filename, stored)
	if err != nil {
		return types.Photo{}, err
	}
	thumbURL, err := s.blobs.Upload(ctx, userID, albumID, "thumb.jpg", thumb)
	if err != nil {
		s.deleteBlobs(ctx, []string{src})
		return types.Photo{}, err
	}

	b := img.Bounds()
	photo := types.Photo{
		AlbumID:   albumID,
		Src:       src,
		Thumbnail: thumbURL,
		Name:      up.Filename,
		Width:     b.Dx(),
		Height:    b.Dy(),
	}
	err = s.mutate(ctx, userID, func(st album.State) (album.State, error) {
		now := s.now()
		next, err := st.AddPhoto(photo, now)
		if err != nil {
			return st, err
		}
		photo = next.Photos[len(next.Photos)-1]
		return next, nil
	})
	if err != nil {
		s.logger.Warn("rolling back photo upload", "user", userID, "album", albumID, "err", err)
		s.deleteBlobs(ctx, []string{src, thumbURL})
		return types.Photo{}, err
	}

	s.logger.Info("photo uploaded", "user", userID, "album", albumID, "photo", photo.ID,
		"size", len(stored), "dims", []int{photo.Width, photo.Height}, "cropped", up.Crop != nil)
	return photo, nil
}

// prepare returns the bytes to store, the name they are stored under and the
// decoded raster used for dimensions and the thumbnail.
func (s *Service) prepare(up Upload) ([]byte, string, image.Image, error) {
	if up.Crop == nil {
		img, err := s.proc.DecodeBytes(up.Data)
		if err != nil {
			return nil, "", nil, err
		}
		return up.Data, up.Filename, img, nil
	}

	out, err := s.transformer.TransformBytes(up.Data, *up.Crop, up.Rotation)
	if err != nil {
		return nil, "", nil, err
	}
	img, err := s.proc.DecodeBytes(out.Data)
	if err != nil {
		return nil, "", nil, err
	}
	base := strings.TrimSuffix(up.Filename, filepath.Ext(up.Filename))
	if base == "" {
		base = "photo"
	}
	return out.Data, base + "." + processing.Extension(out.Format), img, nil
}

// DeletePhoto removes a photo and its files.
func (s *Service) DeletePhoto(ctx context.Context, userID, photoID string) error {
	var removed types.Photo
	err := s.mutate(ctx, userID, func(st album.State) (album.State, error) {
		next, p, err := st.DeletePhoto(photoID, s.now())
		removed = p
		return next, err
	})
	if err != nil {
		return err
	}
	s.deleteBlobs(ctx, photoURLs(removed))
	s.logger.Info("photo deleted", "user", userID, "photo", photoID)
	return nil
}

// ClearUserData deletes every album, photo and file the user owns.
func (s *Service) ClearUserData(ctx context.Context, userID string) error {
	if userID == "" {
		return apperr.New(apperr.ErrCodeUnauthorized, "no user")
	}
	s.mu.Lock()
	st, err := s.state(ctx, userID)
	if err == nil {
		err = s.store.Delete(ctx, userID)
	}
	if err == nil {
		s.cache[userID] = st.Clear()
	}
	s.mu.Unlock()
	if err != nil {
		return err
	}

	s.deleteBlobs(ctx, photoURLs(st.Photos...))
	s.logger.Info("user data cleared", "user", userID, "albums", len(st.Albums), "photos", len(st.Photos))
	return nil
}

// deleteBlobs removes files concurrently. Failures are logged, never returned:
// the State no longer references the files.
func (s *Service) deleteBlobs(ctx context.Context, urls []string) {
	g, gctx := errgroup.WithContext(context.WithoutCancel(ctx))
	g.SetLimit(blobDeleteWorkers)
	for _, u := range urls {
		g.Go(func() error {
			ok, err := s.blobs.Delete(gctx, u)
			switch {
			case err != nil:
				s.logger.Warn("failed to delete photo file", "url", u, "err", err)
			case !ok:
				s.logger.Debug("photo file already gone", "url", u)
			}
			return nil
		})
	}
	_ = g.Wait()
}

func photoURLs(photos ...types.Photo) []string {
	var urls []string
	for _, p := range photos {
		if p.Src != "" {
			urls = append(urls, p.Src)
		}
		if p.Thumbnail != "" {
			urls = append(urls, p.Thumbnail)
		}
	}
	return urls
}
