package store

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/puppeteer-mcp/puppeteer-mcp/internal/types"
)

func newTestRedisStore(t *testing.T) (*RedisStore, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	s, err := NewRedisStore(context.Background(), "redis://"+mr.Addr(), time.Hour, 0)
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s, mr
}

func TestRedisStoreCreateGetDelete(t *testing.T) {
	s, _ := newTestRedisStore(t)
	ctx := context.Background()

	sess, err := s.Create(ctx, types.SessionData{
		UserID:   "u1",
		Username: "alice",
		Roles:    []string{types.RoleUser},
	})
	require.NoError(t, err)
	require.NotEmpty(t, sess.ID)

	got, err := s.Get(ctx, sess.ID)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, "u1", got.UserID)
	assert.Equal(t, []string{types.RoleUser}, got.Roles)

	require.NoError(t, s.Delete(ctx, sess.ID))
	got, err = s.Get(ctx, sess.ID)
	require.NoError(t, err)
	assert.Nil(t, got)

	err = s.Delete(ctx, sess.ID)
	assert.True(t, errors.Is(err, types.ErrSessionNotFound))
}

func TestRedisStoreGetMissingReturnsNilNil(t *testing.T) {
	s, _ := newTestRedisStore(t)

	got, err := s.Get(context.Background(), "missing")
	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestRedisStoreTTLExpiry(t *testing.T) {
	s, mr := newTestRedisStore(t)
	ctx := context.Background()

	sess, err := s.Create(ctx, types.SessionData{UserID: "u1", TTL: time.Minute})
	require.NoError(t, err)

	mr.FastForward(2 * time.Minute)

	got, err := s.Get(ctx, sess.ID)
	require.NoError(t, err)
	assert.Nil(t, got, "expired session should be absent")
}

func TestRedisStoreUpdate(t *testing.T) {
	s, _ := newTestRedisStore(t)
	ctx := context.Background()

	sess, err := s.Create(ctx, types.SessionData{UserID: "u1", Metadata: map[string]string{"a": "1"}})
	require.NoError(t, err)

	updated, err := s.Update(ctx, sess.ID, types.SessionData{Metadata: map[string]string{"b": "2"}})
	require.NoError(t, err)
	assert.Equal(t, "1", updated.Metadata["a"])
	assert.Equal(t, "2", updated.Metadata["b"])

	_, err = s.Update(ctx, "missing", types.SessionData{})
	assert.True(t, errors.Is(err, types.ErrSessionNotFound))
}

func TestRedisStoreListAndCount(t *testing.T) {
	s, _ := newTestRedisStore(t)
	ctx := context.Background()

	_, err := s.Create(ctx, types.SessionData{UserID: "u1"})
	require.NoError(t, err)
	_, err = s.Create(ctx, types.SessionData{UserID: "u2"})
	require.NoError(t, err)

	all, err := s.List(ctx, "")
	require.NoError(t, err)
	assert.Len(t, all, 2)

	u1, err := s.List(ctx, "u1")
	require.NoError(t, err)
	assert.Len(t, u1, 1)

	n, err := s.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, n)
}

func TestRedisStoreTouch(t *testing.T) {
	s, mr := newTestRedisStore(t)
	ctx := context.Background()

	sess, err := s.Create(ctx, types.SessionData{UserID: "u1", TTL: time.Minute})
	require.NoError(t, err)

	require.NoError(t, s.Touch(ctx, sess.ID, time.Hour))

	mr.FastForward(30 * time.Minute)
	got, err := s.Get(ctx, sess.ID)
	require.NoError(t, err)
	require.NotNil(t, got, "touched session should outlive original TTL")
}

func TestRedisStoreSessionCap(t *testing.T) {
	mr := miniredis.RunT(t)
	s, err := NewRedisStore(context.Background(), "redis://"+mr.Addr(), time.Hour, 1)
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	ctx := context.Background()

	_, err = s.Create(ctx, types.SessionData{UserID: "u1"})
	require.NoError(t, err)
	_, err = s.Create(ctx, types.SessionData{UserID: "u2"})
	assert.True(t, errors.Is(err, types.ErrTooManySessions))
}

func TestRedisStoreUnreachable(t *testing.T) {
	_, err := NewRedisStore(context.Background(), "redis://127.0.0.1:1", time.Hour, 0)
	require.Error(t, err)
	assert.True(t, errors.Is(err, types.ErrStoreUnavailable))
}
