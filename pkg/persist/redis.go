package persist

import (
	"context"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/menta2k/photo-album/pkg/album"
	apperr "github.com/menta2k/photo-album/pkg/errors"
)

// RedisConfig configures the Redis connection
type RedisConfig struct {
	Addr     string
	Password string
	DB       int
	// KeyPrefix defaults to StorageKey
	KeyPrefix string
}

// RedisStore keeps snapshots in Redis so several server instances share
// the same album state.
type RedisStore struct {
	client *redis.Client
	prefix string
}

// NewRedisStore connects to Redis and verifies the connection with PING.
func NewRedisStore(ctx context.Context, cfg RedisConfig) (*RedisStore, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		client.Close()
		return nil, apperr.Wrap(apperr.ErrCodeNetwork, err, "connect to redis at %s", cfg.Addr)
	}
	return NewRedisStoreWithClient(client, cfg.KeyPrefix), nil
}

// NewRedisStoreWithClient wraps an existing client
func NewRedisStoreWithClient(client *redis.Client, prefix string) *RedisStore {
	if prefix == "" {
		prefix = StorageKey
	}
	return &RedisStore{client: client, prefix: prefix}
}

func (s *RedisStore) key(userID string) string {
	return s.prefix + ":" + userID
}

func (s *RedisStore) Load(ctx context.Context, userID string) (album.State, error) {
	if err := requireUser(userID); err != nil {
		return album.State{}, err
	}
	data, err := s.client.Get(ctx, s.key(userID)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return album.State{}, nil
		}
		return album.State{}, apperr.Wrap(apperr.ErrCodePersist, err, "redis get")
	}
	return Unmarshal(data)
}

func (s *RedisStore) Save(ctx context.Context, userID string, state album.State) error {
	if err := requireUser(userID); err != nil {
		return err
	}
	data, err := Marshal(state)
	if err != nil {
		return err
	}
	if err := s.client.Set(ctx, s.key(userID), data, 0).Err(); err != nil {
		return apperr.Wrap(apperr.ErrCodePersist, err, "redis set")
	}
	return nil
}

func (s *RedisStore) Delete(ctx context.Context, userID string) error {
	if err := requireUser(userID); err != nil {
		return err
	}
	if err := s.client.Del(ctx, s.key(userID)).Err(); err != nil {
		return apperr.Wrap(apperr.ErrCodePersist, err, "redis del")
	}
	return nil
}

// Close releases the Redis connection pool.
func (s *RedisStore) Close() error {
	return s.client.Close()
}

var _ Store = (*RedisStore)(nil)
