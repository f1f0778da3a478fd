package reconcile

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeIdempotencyStore struct {
	data   map[string]string
	setErr error
}

func newFakeIdempotencyStore() *fakeIdempotencyStore {
	return &fakeIdempotencyStore{data: make(map[string]string)}
}

func (s *fakeIdempotencyStore) Get(ctx context.Context, key string) (string, error) {
	v, ok := s.data[key]
	if !ok {
		return "", errors.New("not found")
	}
	return v, nil
}

func (s *fakeIdempotencyStore) SetNX(ctx context.Context, key string, value any, ttl time.Duration) (bool, error) {
	if s.setErr != nil {
		return false, s.setErr
	}
	if _, exists := s.data[key]; exists {
		return false, nil
	}
	s.data[key] = "1"
	return true, nil
}

func (s *fakeIdempotencyStore) IdempotencyKey(scope, id string) string {
	return strings.Join([]string{"cp", "idempotency", scope, id}, ":")
}

func (s *fakeIdempotencyStore) Del(ctx context.Context, keys ...string) error {
	for _, key := range keys {
		delete(s.data, key)
	}
	return nil
}

func TestIdempotencyGuardCheckAndMark(t *testing.T) {
	ctx := context.Background()
	store := newFakeIdempotencyStore()
	guard, err := NewIdempotencyGuard(store, time.Hour, "webhooks:stripe")
	require.NoError(t, err)

	already, err := guard.CheckAndMark(ctx, "stripe:pi_123:payment_succeeded")
	require.NoError(t, err)
	assert.False(t, already)

	already, err = guard.CheckAndMark(ctx, "stripe:pi_123:payment_succeeded")
	require.NoError(t, err)
	assert.True(t, already)

	// a different event kind for the same payment is a distinct delivery
	already, err = guard.CheckAndMark(ctx, "stripe:pi_123:payment_refunded")
	require.NoError(t, err)
	assert.False(t, already)
}

func TestIdempotencyGuardDeleteAllowsRetry(t *testing.T) {
	ctx := context.Background()
	store := newFakeIdempotencyStore()
	guard, err := NewIdempotencyGuard(store, time.Hour, "webhooks:stripe")
	require.NoError(t, err)

	_, err = guard.CheckAndMark(ctx, "stripe:pi_123:payment_succeeded")
	require.NoError(t, err)

	require.NoError(t, guard.Delete(ctx, "stripe:pi_123:payment_succeeded"))

	already, err := guard.CheckAndMark(ctx, "stripe:pi_123:payment_succeeded")
	require.NoError(t, err)
	assert.False(t, already)
}

func TestIdempotencyGuardStoreFailure(t *testing.T) {
	ctx := context.Background()
	store := newFakeIdempotencyStore()
	store.setErr = errors.New("connection refused")
	guard, err := NewIdempotencyGuard(store, time.Hour, "webhooks:stripe")
	require.NoError(t, err)

	_, err = guard.CheckAndMark(ctx, "stripe:pi_123:payment_succeeded")
	require.Error(t, err)
}

func TestNewIdempotencyGuardValidation(t *testing.T) {
	_, err := NewIdempotencyGuard(nil, time.Hour, "scope")
	require.Error(t, err)

	_, err = NewIdempotencyGuard(newFakeIdempotencyStore(), -time.Hour, "scope")
	require.Error(t, err)

	_, err = NewIdempotencyGuard(newFakeIdempotencyStore(), time.Hour, "")
	require.Error(t, err)
}
