// Package storage keeps uploaded photo files and hands out their public URLs.
//
// Objects live in the "photos" bucket under <user>/<album>/<uuid>.<ext>. The
// public URL of an object is <baseURL>/photos/<path>, and deleting by URL
// recovers the object path from everything after "photos/".
package storage

import (
	"context"
	"net/http"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/google/uuid"

	"github.com/menta2k/photo-album/internal/utils"
	apperr "github.com/menta2k/photo-album/pkg/errors"
)

// Bucket is the name of the photo bucket and the URL segment in front of
// every object path.
const Bucket = "photos"

// BlobStore stores photo files.
type BlobStore interface {
	// Upload stores data as a new object and returns its public URL.
	Upload(ctx context.Context, userID, albumID, filename string, data []byte) (string, error)

	// Delete removes the object behind a public URL. It reports false when
	// the URL does not point into the bucket or the object is already gone.
	Delete(ctx context.Context, publicURL string) (bool, error)
}

// LocalStore is a BlobStore on the local filesystem, served over HTTP by
// Handler.
type LocalStore struct {
	root    string
	baseURL string
}

// NewLocalStore creates the bucket directory under root if needed.
// baseURL is the externally visible server address, e.g. http://localhost:8080.
func NewLocalStore(root, baseURL string) (*LocalStore, error) {
	if root == "" {
		return nil, apperr.New(apperr.ErrCodeInvalidInput, "storage root is required")
	}
	if err := utils.EnsureDir(root); err != nil {
		return nil, apperr.Wrap(apperr.ErrCodeStorage, err, "create storage root %s", root)
	}
	return &LocalStore{root: root, baseURL: strings.TrimRight(baseURL, "/")}, nil
}

// Root returns the directory holding the bucket contents
func (s *LocalStore) Root() string {
	return s.root
}

// ObjectPath builds the bucket-relative path for a new upload
func ObjectPath(userID, albumID, filename string) string {
	ext := utils.GetFileExtension(filename)
	if ext == "" {
		ext = "bin"
	}
	return path.Join(segment(userID), segment(albumID), uuid.NewString()+"."+ext)
}

// PublicURL returns the URL an object path is served under
func (s *LocalStore) PublicURL(objectPath string) string {
	return s.baseURL + "/" + Bucket + "/" + objectPath
}

func (s *LocalStore) Upload(ctx context.Context, userID, albumID, filename string, data []byte) (string, error) {
	if userID == "" || albumID == "" {
		return "", apperr.New(apperr.ErrCodeInvalidInput, "user and album are required for upload")
	}
	if err := ctx.Err(); err != nil {
		return "", err
	}

	objectPath := ObjectPath(userID, albumID, filename)
	full := filepath.Join(s.root, filepath.FromSlash(objectPath))
	if err := utils.EnsureDir(filepath.Dir(full)); err != nil {
		return "", apperr.Wrap(apperr.ErrCodeStorage, err, "create album dir")
	}
	// O_EXCL: uuid names never collide, so an existing file means a bug.
	f, err := os.OpenFile(full, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
	if err != nil {
		return "", apperr.Wrap(apperr.ErrCodeStorage, err, "create object %s", objectPath)
	}
	if _, err := f.Write(data); err != nil {
		f.Close()
		os.Remove(full)
		return "", apperr.Wrap(apperr.ErrCodeStorage, err, "write object %s", objectPath)
	}
	if err := f.Close(); err != nil {
		os.Remove(full)
		return "", apperr.Wrap(apperr.ErrCodeStorage, err, "close object %s", objectPath)
	}
	return s.PublicURL(objectPath), nil
}

func (s *LocalStore) Delete(ctx context.Context, publicURL string) (bool, error) {
	objectPath, ok := ObjectPathFromURL(publicURL)
	if !ok {
		return false, nil
	}
	if !isLocalPath(objectPath) {
		return false, apperr.New(apperr.ErrCodeInvalidInput, "object path %q escapes the bucket", objectPath)
	}
	if err := ctx.Err(); err != nil {
		return false, err
	}

	err := os.Remove(filepath.Join(s.root, filepath.FromSlash(objectPath)))
	switch {
	case err == nil:
		return true, nil
	case os.IsNotExist(err):
		return false, nil
	default:
		return false, apperr.Wrap(apperr.ErrCodeStorage, err, "remove object %s", objectPath)
	}
}

// Handler serves bucket objects; mount it at /photos/.
func (s *LocalStore) Handler() http.Handler {
	return http.StripPrefix("/"+Bucket+"/", http.FileServer(http.Dir(s.root)))
}

// ObjectPathFromURL extracts the bucket-relative path from a public URL.
func ObjectPathFromURL(publicURL string) (string, bool) {
	u, err := url.Parse(publicURL)
	if err != nil {
		return "", false
	}
	_, objectPath, found := strings.Cut(u.Path, Bucket+"/")
	if !found || objectPath == "" {
		return "", false
	}
	return objectPath, true
}

func isLocalPath(p string) bool {
	if strings.HasPrefix(p, "/") || strings.Contains(p, `\`) {
		return false
	}
	for _, part := range strings.Split(p, "/") {
		if part == ".." {
			return false
		}
	}
	return true
}

func segment(s string) string {
	s = utils.SanitizeFilename(s)
	if s == "" {
		return "_"
	}
	return s
}

var _ BlobStore = (*LocalStore)(nil)
