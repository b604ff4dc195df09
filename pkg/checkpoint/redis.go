package checkpoint

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/Sternrassler/bina-scraper/pkg/listing"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

const backendRedis = "redis"

// RedisStore keeps the checkpoint under bina:checkpoint:<kind>. Every save is
// a single SET, which Redis applies atomically.
type RedisStore struct {
	redis  *redis.Client
	kind   listing.Kind
	ttl    time.Duration
	logger zerolog.Logger
	now    func() time.Time
}

// NewRedisStore creates a Redis-backed store. ttl 0 keeps the checkpoint
// until it is cleared.
func NewRedisStore(redisClient *redis.Client, kind listing.Kind, ttl time.Duration, logger zerolog.Logger) *RedisStore {
	if redisClient == nil {
		panic("redis client cannot be nil")
	}
	return &RedisStore{redis: redisClient, kind: kind, ttl: ttl, logger: logger, now: time.Now}
}

// Key returns the Redis key of the checkpoint.
func (s *RedisStore) Key() string {
	return fmt.Sprintf("bina:checkpoint:%s", s.kind)
}

// Load reads the checkpoint. A corrupt value is renamed to <key>:corrupt.
func (s *RedisStore) Load(ctx context.Context) (*Checkpoint, error) {
	key := s.Key()
	data, err := s.redis.Get(ctx, key).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, nil
		}
		return nil, fmt.Errorf("redis get: %w", err)
	}

	cp, err := decode(data, "redis:"+key, s.kind)
	if err != nil {
		checkpointCorruptTotal.WithLabelValues(backendRedis).Inc()
		if renameErr := s.redis.Rename(ctx, key, key+":corrupt").Err(); renameErr != nil {
			s.logger.Error().Err(renameErr).Str("key", key).Msg("Failed to move corrupt checkpoint aside")
		}
		return nil, err
	}
	return cp, nil
}

// Save replaces the checkpoint.
func (s *RedisStore) Save(ctx context.Context, cp *Checkpoint) error {
	data, err := encode(cp, s.now())
	if err != nil {
		return err
	}
	if err := s.redis.Set(ctx, s.Key(), data, s.ttl).Err(); err != nil {
		checkpointSavesTotal.WithLabelValues(backendRedis, "error").Inc()
		return fmt.Errorf("redis set: %w", err)
	}
	checkpointSavesTotal.WithLabelValues(backendRedis, "ok").Inc()
	return nil
}

// Clear deletes the checkpoint key.
func (s *RedisStore) Clear(ctx context.Context) error {
	if err := s.redis.Del(ctx, s.Key()).Err(); err != nil {
		return fmt.Errorf("redis del: %w", err)
	}
	return nil
}
