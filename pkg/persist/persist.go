// Package persist saves and restores a user's album State.
//
// State is written as a versioned snapshot under the "album-storage" key:
//
//	{"version":1,"state":{"albums":[...],"photos":[...]}}
//
// Three backends are provided:
//   - MemoryStore: process-local, nothing survives a restart
//   - FileStore: one JSON file per user, for the CLI and single-node servers
//   - RedisStore: shared storage for multi-instance deployments
//
// A user with no saved data loads as an empty State.
package persist

import (
	"context"
	"encoding/json"

	"github.com/menta2k/photo-album/pkg/album"
	apperr "github.com/menta2k/photo-album/pkg/errors"
)

// StorageKey names the persisted album state
const StorageKey = "album-storage"

// SnapshotVersion is the snapshot layout written by this package
const SnapshotVersion = 1

// Store is the interface for state persistence backends.
type Store interface {
	// Load returns the user's saved state, or an empty State when none exists.
	Load(ctx context.Context, userID string) (album.State, error)

	// Save replaces the user's saved state.
	Save(ctx context.Context, userID string, state album.State) error

	// Delete removes the user's saved state. Deleting missing data is not an error.
	Delete(ctx context.Context, userID string) error
}

// Snapshot is the on-disk and on-wire form of a State
type Snapshot struct {
	Version int         `json:"version"`
	State   album.State `json:"state"`
}

// Marshal encodes state as a current-version snapshot
func Marshal(state album.State) ([]byte, error) {
	data, err := json.Marshal(Snapshot{Version: SnapshotVersion, State: state})
	if err != nil {
		return nil, apperr.Wrap(apperr.ErrCodePersist, err, "encode snapshot")
	}
	return data, nil
}

// Unmarshal decodes a snapshot. Snapshots written by a newer layout are
// rejected with UNSUPPORTED rather than silently dropping fields.
func Unmarshal(data []byte) (album.State, error) {
	var snap Snapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return album.State{}, apperr.Wrap(apperr.ErrCodePersist, err, "decode snapshot")
	}
	if snap.Version != SnapshotVersion {
		return album.State{}, apperr.New(apperr.ErrCodeUnsupported, "snapshot version %d is not supported", snap.Version)
	}
	return snap.State, nil
}

func requireUser(userID string) error {
	if userID == "" {
		return apperr.New(apperr.ErrCodeInvalidInput, "user id is required")
	}
	return nil
}
