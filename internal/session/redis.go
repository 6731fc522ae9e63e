package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/SHANKHAN254/fys-investment-bot/internal/domain"
	"github.com/SHANKHAN254/fys-investment-bot/pkg/cache"
)

const namespace = "bot:session"

// RedisStore keeps sessions across restarts. With a ttl, idle sessions expire
// and the next message starts the conversation over.
type RedisStore struct {
	cache *cache.Cache
	ttl   time.Duration
}

func NewRedisStore(c *cache.Cache, ttl time.Duration) *RedisStore {
	return &RedisStore{cache: c, ttl: ttl}
}

func (r *RedisStore) Get(ctx context.Context, ownerID string) (*domain.Session, error) {
	raw, err := r.cache.Get(ctx, namespace, ownerID)
	if errors.Is(err, cache.ErrMiss) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("load session: %w", err)
	}

	var s domain.Session
	if err := json.Unmarshal([]byte(raw), &s); err != nil {
		// unreadable session: treat as absent so the user restarts cleanly
		_ = r.cache.Delete(ctx, namespace, ownerID)
		return nil, ErrNotFound
	}
	return &s, nil
}

func (r *RedisStore) Save(ctx context.Context, s *domain.Session) error {
	data, err := json.Marshal(s)
	if err != nil {
		return err
	}
	if err := r.cache.Set(ctx, namespace, s.OwnerID, data, r.ttl); err != nil {
		return fmt.Errorf("save session: %w", err)
	}
	return nil
}

func (r *RedisStore) Delete(ctx context.Context, ownerID string) error {
	return r.cache.Delete(ctx, namespace, ownerID)
}
