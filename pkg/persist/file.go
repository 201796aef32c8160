package persist

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/menta2k/photo-album/pkg/album"
	apperr "github.com/menta2k/photo-album/pkg/errors"
)

// FileStore writes one snapshot file per user under a base directory.
type FileStore struct {
	mu      sync.RWMutex
	baseDir string
}

// NewFileStore creates a file-based store.
// If baseDir is empty, defaults to ~/.config/photo-album/state/
func NewFileStore(baseDir string) (*FileStore, error) {
	if baseDir == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return nil, apperr.Wrap(apperr.ErrCodePersist, err, "get home dir")
		}
		baseDir = filepath.Join(home, ".config", "photo-album", "state")
	}
	if err := os.MkdirAll(baseDir, 0o700); err != nil {
		return nil, apperr.Wrap(apperr.ErrCodePersist, err, "create state dir")
	}
	return &FileStore{baseDir: baseDir}, nil
}

// Path returns the base directory for snapshot files.
func (s *FileStore) Path() string {
	return s.baseDir
}

func (s *FileStore) statePath(userID string) string {
	return filepath.Join(s.baseDir, StorageKey+"-"+fileSafe(userID)+".json")
}

func (s *FileStore) Load(ctx context.Context, userID string) (album.State, error) {
	if err := requireUser(userID); err != nil {
		return album.State{}, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	data, err := os.ReadFile(s.statePath(userID))
	if err != nil {
		if os.IsNotExist(err) {
			return album.State{}, nil
		}
		return album.State{}, apperr.Wrap(apperr.ErrCodePersist, err, "read state file")
	}
	return Unmarshal(data)
}

// Save writes to a temporary file and renames it over the old snapshot, so a
// crash never leaves a half-written file behind.
func (s *FileStore) Save(ctx context.Context, userID string, state album.State) error {
	if err := requireUser(userID); err != nil {
		return err
	}
	data, err := Marshal(state)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	path := s.statePath(userID)
	tmp, err := os.CreateTemp(s.baseDir, ".state-*")
	if err != nil {
		return apperr.Wrap(apperr.ErrCodePersist, err, "create temp file")
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return apperr.Wrap(apperr.ErrCodePersist, err, "write state file")
	}
	if err := tmp.Close(); err != nil {
		return apperr.Wrap(apperr.ErrCodePersist, err, "close state file")
	}
	if err := os.Chmod(tmp.Name(), 0o600); err != nil {
		return apperr.Wrap(apperr.ErrCodePersist, err, "chmod state file")
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		return apperr.Wrap(apperr.ErrCodePersist, err, "replace state file")
	}
	return nil
}

func (s *FileStore) Delete(ctx context.Context, userID string) error {
	if err := requireUser(userID); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := os.Remove(s.statePath(userID)); err != nil && !os.IsNotExist(err) {
		return apperr.Wrap(apperr.ErrCodePersist, err, "remove state file")
	}
	return nil
}

// fileSafe keeps user ids like "github:42" or "a/b" from escaping baseDir.
func fileSafe(id string) string {
	return strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-', r == '_':
			return r
		}
		return '_'
	}, id)
}

var _ Store = (*FileStore)(nil)
