package repository

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	appErrors "github.com/noah-isme/lesson-grid-api/pkg/errors"
)

const idempotencyPending = "__pending__"

// IdempotencyRepository remembers the outcome of requests carrying an idempotency key.
// Redis is used when available so every replica sees the same reservation; otherwise
// an in-process map keeps single-instance deployments correct.
type IdempotencyRepository struct {
	client *redis.Client
	prefix string

	mu    sync.Mutex
	local map[string]idempotencyEntry
	now   func() time.Time
}

type idempotencyEntry struct {
	value     []byte
	expiresAt time.Time
}

// NewIdempotencyRepository constructs the store; client may be nil.
func NewIdempotencyRepository(client *redis.Client, prefix string) *IdempotencyRepository {
	if prefix == "" {
		prefix = "idem"
	}
	return &IdempotencyRepository{
		client: client,
		prefix: prefix,
		local:  make(map[string]idempotencyEntry),
		now:    time.Now,
	}
}

func (r *IdempotencyRepository) key(key string) string {
	return r.prefix + ":" + key
}

// Reserve claims key for ttl. It returns false when the key is already held.
func (r *IdempotencyRepository) Reserve(ctx context.Context, key string, ttl time.Duration) (bool, error) {
	if r.client != nil {
		ok, err := r.client.SetNX(ctx, r.key(key), idempotencyPending, ttl).Result()
		if err != nil {
			return false, fmt.Errorf("reserve idempotency key: %w", err)
		}
		return ok, nil
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	r.purgeLocked()
	if _, exists := r.local[key]; exists {
		return false, nil
	}
	r.local[key] = idempotencyEntry{value: []byte(idempotencyPending), expiresAt: r.now().Add(ttl)}
	return true, nil
}

// Complete stores the final result for a reserved key.
func (r *IdempotencyRepository) Complete(ctx context.Context, key string, result interface{}, ttl time.Duration) error {
	payload, err := json.Marshal(result)
	if err != nil {
		return fmt.Errorf("marshal idempotent result: %w", err)
	}
	if r.client != nil {
		if err := r.client.Set(ctx, r.key(key), payload, ttl).Err(); err != nil {
			return fmt.Errorf("store idempotent result: %w", err)
		}
		return nil
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	r.local[key] = idempotencyEntry{value: payload, expiresAt: r.now().Add(ttl)}
	return nil
}

// Load decodes a stored result into dest. It returns ErrCacheMiss for unknown keys and
// ErrDuplicateToken while the first request is still in flight.
func (r *IdempotencyRepository) Load(ctx context.Context, key string, dest interface{}) error {
	var raw []byte
	if r.client != nil {
		val, err := r.client.Get(ctx, r.key(key)).Bytes()
		if err != nil {
			if err == redis.Nil {
				return appErrors.ErrCacheMiss
			}
			return fmt.Errorf("load idempotent result: %w", err)
		}
		raw = val
	} else {
		r.mu.Lock()
		r.purgeLocked()
		entry, ok := r.local[key]
		r.mu.Unlock()
		if !ok {
			return appErrors.ErrCacheMiss
		}
		raw = entry.value
	}

	if string(raw) == idempotencyPending {
		return appErrors.ErrDuplicateToken
	}
	if err := json.Unmarshal(raw, dest); err != nil {
		return fmt.Errorf("decode idempotent result: %w", err)
	}
	return nil
}

// Release drops a reservation so a failed request can be retried with the same key.
func (r *IdempotencyRepository) Release(ctx context.Context, key string) error {
	if r.client != nil {
		if err := r.client.Del(ctx, r.key(key)).Err(); err != nil {
			return fmt.Errorf("release idempotency key: %w", err)
		}
		return nil
	}
	r.mu.Lock()
	delete(r.local, key)
	r.mu.Unlock()
	return nil
}

func (r *IdempotencyRepository) purgeLocked() {
	now := r.now()
	for k, entry := range r.local {
		if now.After(entry.expiresAt) {
			delete(r.local, k)
		}
	}
}
