/*
Copyright © 2024 Acronis International GmbH.

Released under MIT license.
*/

package waitingroom

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// Redis keys. Liveness markers use the bare visitor UUID as the key, which
// keeps the layout compatible with pre-existing deployments of the store.
const (
	redisKeyQueue    = "queue"
	redisKeyActive   = "active"
	redisKeyCapacity = "active_user_limit"
)

// defaultOpTimeout bounds a single store operation so that one slow call can
// never stall a reconciliation tick indefinitely.
const defaultOpTimeout = 3 * time.Second

// RedisStore implements Store on top of Redis list and keyspace primitives.
//
// The queue and active set are Redis lists; promotion uses LMOVE, which pops
// and inserts in a single command, so concurrent promoters can never move the
// same element twice. Liveness markers are plain keys with TTL.
type RedisStore struct {
	client    redis.Cmdable
	opTimeout time.Duration
}

var _ Store = (*RedisStore)(nil)

// RedisStoreOption configures the RedisStore.
type RedisStoreOption func(*RedisStore)

// WithOpTimeout overrides the per-operation timeout.
func WithOpTimeout(timeout time.Duration) RedisStoreOption {
	return func(s *RedisStore) {
		if timeout > 0 {
			s.opTimeout = timeout
		}
	}
}

// NewRedisStore creates a Store backed by Redis.
// The caller owns the client lifecycle.
func NewRedisStore(client redis.Cmdable, opts ...RedisStoreOption) *RedisStore {
	s := &RedisStore{client: client, opTimeout: defaultOpTimeout}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *RedisStore) opContext(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, s.opTimeout)
}

// Enqueue implements Store.
func (s *RedisStore) Enqueue(ctx context.Context, id uuid.UUID) (int64, error) {
	ctx, cancel := s.opContext(ctx)
	defer cancel()
	length, err := s.client.RPush(ctx, redisKeyQueue, id.String()).Result()
	if err != nil {
		return 0, fmt.Errorf("rpush %s: %w", redisKeyQueue, err)
	}
	return length, nil
}

// QueueLen implements Store.
func (s *RedisStore) QueueLen(ctx context.Context) (int64, error) {
	ctx, cancel := s.opContext(ctx)
	defer cancel()
	length, err := s.client.LLen(ctx, redisKeyQueue).Result()
	if err != nil {
		return 0, fmt.Errorf("llen %s: %w", redisKeyQueue, err)
	}
	return length, nil
}

// QueuePosition implements Store.
func (s *RedisStore) QueuePosition(ctx context.Context, id uuid.UUID) (int64, error) {
	ctx, cancel := s.opContext(ctx)
	defer cancel()
	pos, err := s.client.LPos(ctx, redisKeyQueue, id.String(), redis.LPosArgs{}).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return 0, ErrVisitorNotFound
		}
		return 0, fmt.Errorf("lpos %s: %w", redisKeyQueue, err)
	}
	return pos, nil
}

// PromoteOne implements Store.
func (s *RedisStore) PromoteOne(ctx context.Context) (uuid.UUID, error) {
	ctx, cancel := s.opContext(ctx)
	defer cancel()
	val, err := s.client.LMove(ctx, redisKeyQueue, redisKeyActive, "LEFT", "RIGHT").Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return uuid.Nil, ErrQueueEmpty
		}
		return uuid.Nil, fmt.Errorf("lmove %s -> %s: %w", redisKeyQueue, redisKeyActive, err)
	}
	id, err := uuid.Parse(val)
	if err != nil {
		return uuid.Nil, fmt.Errorf("parse promoted visitor id %q: %w", val, err)
	}
	return id, nil
}

// AddActive implements Store.
func (s *RedisStore) AddActive(ctx context.Context, id uuid.UUID) error {
	ctx, cancel := s.opContext(ctx)
	defer cancel()
	if err := s.client.RPush(ctx, redisKeyActive, id.String()).Err(); err != nil {
		return fmt.Errorf("rpush %s: %w", redisKeyActive, err)
	}
	return nil
}

// RemoveActive implements Store.
func (s *RedisStore) RemoveActive(ctx context.Context, id uuid.UUID) (bool, error) {
	ctx, cancel := s.opContext(ctx)
	defer cancel()
	removed, err := s.client.LRem(ctx, redisKeyActive, 0, id.String()).Result()
	if err != nil {
		return false, fmt.Errorf("lrem %s: %w", redisKeyActive, err)
	}
	return removed > 0, nil
}

// ActiveLen implements Store.
func (s *RedisStore) ActiveLen(ctx context.Context) (int64, error) {
	ctx, cancel := s.opContext(ctx)
	defer cancel()
	length, err := s.client.LLen(ctx, redisKeyActive).Result()
	if err != nil {
		return 0, fmt.Errorf("llen %s: %w", redisKeyActive, err)
	}
	return length, nil
}

// ActiveWindow implements Store.
func (s *RedisStore) ActiveWindow(ctx context.Context, limit int64) ([]uuid.UUID, error) {
	ctx, cancel := s.opContext(ctx)
	defer cancel()
	vals, err := s.client.LRange(ctx, redisKeyActive, 0, limit-1).Result()
	if err != nil {
		return nil, fmt.Errorf("lrange %s: %w", redisKeyActive, err)
	}
	ids := make([]uuid.UUID, 0, len(vals))
	for _, val := range vals {
		id, parseErr := uuid.Parse(val)
		if parseErr != nil {
			return nil, fmt.Errorf("parse active visitor id %q: %w", val, parseErr)
		}
		ids = append(ids, id)
	}
	return ids, nil
}

// SetLivenessMarker implements Store. The marker value is the admission time.
func (s *RedisStore) SetLivenessMarker(ctx context.Context, id uuid.UUID, ttl time.Duration) error {
	ctx, cancel := s.opContext(ctx)
	defer cancel()
	if err := s.client.Set(ctx, id.String(), time.Now().UTC().Format(time.RFC3339), ttl).Err(); err != nil {
		return fmt.Errorf("set liveness marker: %w", err)
	}
	return nil
}

// RefreshLivenessMarker implements Store.
func (s *RedisStore) RefreshLivenessMarker(ctx context.Context, id uuid.UUID, ttl time.Duration) (bool, error) {
	ctx, cancel := s.opContext(ctx)
	defer cancel()
	refreshed, err := s.client.Expire(ctx, id.String(), ttl).Result()
	if err != nil {
		return false, fmt.Errorf("expire liveness marker: %w", err)
	}
	return refreshed, nil
}

// LivenessMarkerExists implements Store.
func (s *RedisStore) LivenessMarkerExists(ctx context.Context, id uuid.UUID) (bool, error) {
	ctx, cancel := s.opContext(ctx)
	defer cancel()
	n, err := s.client.Exists(ctx, id.String()).Result()
	if err != nil {
		return false, fmt.Errorf("exists liveness marker: %w", err)
	}
	return n > 0, nil
}

// DeleteLivenessMarker implements Store.
func (s *RedisStore) DeleteLivenessMarker(ctx context.Context, id uuid.UUID) error {
	ctx, cancel := s.opContext(ctx)
	defer cancel()
	if err := s.client.Del(ctx, id.String()).Err(); err != nil {
		return fmt.Errorf("del liveness marker: %w", err)
	}
	return nil
}

// Capacity implements Store.
func (s *RedisStore) Capacity(ctx context.Context) (int64, error) {
	ctx, cancel := s.opContext(ctx)
	defer cancel()
	capacity, err := s.client.Get(ctx, redisKeyCapacity).Int64()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return 0, ErrCapacityNotSet
		}
		return 0, fmt.Errorf("get %s: %w", redisKeyCapacity, err)
	}
	return capacity, nil
}

// SetCapacity implements Store.
func (s *RedisStore) SetCapacity(ctx context.Context, capacity int64) error {
	ctx, cancel := s.opContext(ctx)
	defer cancel()
	if err := s.client.Set(ctx, redisKeyCapacity, capacity, 0).Err(); err != nil {
		return fmt.Errorf("set %s: %w", redisKeyCapacity, err)
	}
	return nil
}

// Ping implements Store.
func (s *RedisStore) Ping(ctx context.Context) error {
	ctx, cancel := s.opContext(ctx)
	defer cancel()
	return s.client.Ping(ctx).Err()
}
