package repository

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	appErrors "github.com/noah-isme/lesson-grid-api/pkg/errors"
)

func TestIdempotencyRepositoryLocalLifecycle(t *testing.T) {
	repo := NewIdempotencyRepository(nil, "drop")
	now := time.Date(2025, 3, 10, 9, 0, 0, 0, time.UTC)
	repo.now = func() time.Time { return now }
	ctx := context.Background()

	ok, err := repo.Reserve(ctx, "k-1", time.Minute)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = repo.Reserve(ctx, "k-1", time.Minute)
	require.NoError(t, err)
	assert.False(t, ok)

	var out map[string]string
	assert.ErrorIs(t, repo.Load(ctx, "k-1", &out), appErrors.ErrDuplicateToken)

	require.NoError(t, repo.Complete(ctx, "k-1", map[string]string{"session_id": "s-2"}, time.Minute))
	require.NoError(t, repo.Load(ctx, "k-1", &out))
	assert.Equal(t, "s-2", out["session_id"])

	assert.ErrorIs(t, repo.Load(ctx, "unknown", &out), appErrors.ErrCacheMiss)
}

func TestIdempotencyRepositoryLocalExpiryAndRelease(t *testing.T) {
	repo := NewIdempotencyRepository(nil, "")
	now := time.Date(2025, 3, 10, 9, 0, 0, 0, time.UTC)
	repo.now = func() time.Time { return now }
	ctx := context.Background()

	ok, _ := repo.Reserve(ctx, "k-2", time.Minute)
	require.True(t, ok)
	require.NoError(t, repo.Release(ctx, "k-2"))
	ok, _ = repo.Reserve(ctx, "k-2", time.Minute)
	require.True(t, ok)

	now = now.Add(2 * time.Minute)
	ok, _ = repo.Reserve(ctx, "k-2", time.Minute)
	assert.True(t, ok, "expired reservation is reclaimed")
}
