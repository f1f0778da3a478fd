package reconcile

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/coursepass/coursepass-backend/pkg/redis"
)

// IdempotencyGuard deduplicates webhook deliveries across the retry window.
type IdempotencyGuard struct {
	store redis.IdempotencyStore
	ttl   time.Duration
	scope string
}

func NewIdempotencyGuard(store redis.IdempotencyStore, ttl time.Duration, scope string) (*IdempotencyGuard, error) {
	if store == nil {
		return nil, errors.New("idempotency store is required")
	}
	if ttl < 0 {
		return nil, errors.New("ttl must be non-negative")
	}
	if scope == "" {
		return nil, errors.New("scope is required")
	}
	return &IdempotencyGuard{
		store: store,
		ttl:   ttl,
		scope: scope,
	}, nil
}

// CheckAndMark returns true when the key was already processed. The mark is
// placed optimistically; callers that fail to process must Delete it so the
// provider's retry can land.
func (g *IdempotencyGuard) CheckAndMark(ctx context.Context, key string) (bool, error) {
	if key == "" {
		return false, errors.New("idempotency key is required")
	}
	storeKey := g.store.IdempotencyKey(g.scope, key)
	set, err := g.store.SetNX(ctx, storeKey, "1", g.ttl)
	if err != nil {
		return false, fmt.Errorf("set idempotency key: %w", err)
	}
	return !set, nil
}

func (g *IdempotencyGuard) Delete(ctx context.Context, key string) error {
	if key == "" {
		return errors.New("idempotency key is required")
	}
	storeKey := g.store.IdempotencyKey(g.scope, key)
	return g.store.Del(ctx, storeKey)
}
