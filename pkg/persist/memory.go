package persist

import (
	"context"
	"sync"

	"github.com/menta2k/photo-album/pkg/album"
)

// MemoryStore keeps snapshots in process memory. It is used for tests and
// for servers started without a persistence backend.
type MemoryStore struct {
	mu   sync.RWMutex
	data map[string][]byte
}

// NewMemoryStore creates an empty in-memory store
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{data: make(map[string][]byte)}
}

func (s *MemoryStore) Load(ctx context.Context, userID string) (album.State, error) {
	if err := requireUser(userID); err != nil {
		return album.State{}, err
	}
	s.mu.RLock()
	data, ok := s.data[userID]
	s.mu.RUnlock()
	if !ok {
		return album.State{}, nil
	}
	return Unmarshal(data)
}

// Save stores an encoded copy so later changes to state cannot leak in.
func (s *MemoryStore) Save(ctx context.Context, userID string, state album.State) error {
	if err := requireUser(userID); err != nil {
		return err
	}
	data, err := Marshal(state)
	if err != nil {
		return err
	}
	s.mu.Lock()
	s.data[userID] = data
	s.mu.Unlock()
	return nil
}

func (s *MemoryStore) Delete(ctx context.Context, userID string) error {
	if err := requireUser(userID); err != nil {
		return err
	}
	s.mu.Lock()
	delete(s.data, userID)
	s.mu.Unlock()
	return nil
}

var _ Store = (*MemoryStore)(nil)
