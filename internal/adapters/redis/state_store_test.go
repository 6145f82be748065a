package redis

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/target/agentops-console/internal/ports"
)

func newTestRedis(t *testing.T) (*miniredis.Miniredis, *redis.Client) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return mr, client
}

func newStore(t *testing.T, client redis.UniversalClient, ttl time.Duration) *StateStore {
	t.Helper()
	s, err := NewStateStore(StateStoreOptions{Client: client, DeviceID: "device-1", TTL: ttl})
	require.NoError(t, err)
	return s
}

func TestNewStateStore_Validation(t *testing.T) {
	_, client := newTestRedis(t)

	_, err := NewStateStore(StateStoreOptions{DeviceID: "d"})
	assert.Error(t, err)
	_, err = NewStateStore(StateStoreOptions{Client: client})
	assert.Error(t, err)

	s, err := NewStateStore(StateStoreOptions{Client: client, DeviceID: "d", Prefix: "custom:"})
	require.NoError(t, err)
	assert.Equal(t, "custom:d", s.Key())
}

func TestStateStore_SaveAndLoad(t *testing.T) {
	_, client := newTestRedis(t)
	s := newStore(t, client, 0)
	ctx := context.Background()

	st, err := s.Load(ctx)
	require.NoError(t, err)
	assert.True(t, st.Empty())

	require.NoError(t, s.SaveTokens(ctx, "a1", "r1"))
	require.NoError(t, s.SaveTenant(ctx, "org-1", "proj-1"))

	st, err = s.Load(ctx)
	require.NoError(t, err)
	assert.Equal(t, ports.DeviceState{AccessToken: "a1", RefreshToken: "r1", OrganizationID: "org-1", ProjectID: "proj-1"}, st)

	// Selecting an organization clears the project field.
	require.NoError(t, s.SaveTenant(ctx, "org-2", ""))
	st, err = s.Load(ctx)
	require.NoError(t, err)
	assert.Equal(t, "org-2", st.OrganizationID)
	assert.Empty(t, st.ProjectID)
	assert.Equal(t, "a1", st.AccessToken)
}

func TestStateStore_ClearRemovesHash(t *testing.T) {
	mr, client := newTestRedis(t)
	s := newStore(t, client, 0)
	ctx := context.Background()

	require.NoError(t, s.SaveTokens(ctx, "a1", "r1"))
	require.NoError(t, s.SaveTenant(ctx, "org-1", "proj-1"))
	require.True(t, mr.Exists(s.Key()))

	require.NoError(t, s.Clear(ctx))
	assert.False(t, mr.Exists(s.Key()))

	st, err := s.Load(ctx)
	require.NoError(t, err)
	assert.True(t, st.Empty())
}

func TestStateStore_TTL(t *testing.T) {
	mr, client := newTestRedis(t)
	s := newStore(t, client, time.Hour)
	ctx := context.Background()

	require.NoError(t, s.SaveTokens(ctx, "a1", "r1"))
	assert.Equal(t, time.Hour, mr.TTL(s.Key()))

	mr.FastForward(2 * time.Hour)
	st, err := s.Load(ctx)
	require.NoError(t, err)
	assert.True(t, st.Empty())
}

func TestStateStore_DevicesAreIsolated(t *testing.T) {
	_, client := newTestRedis(t)
	ctx := context.Background()

	a := newStore(t, client, 0)
	b, err := NewStateStore(StateStoreOptions{Client: client, DeviceID: "device-2"})
	require.NoError(t, err)

	require.NoError(t, a.SaveTokens(ctx, "a1", "r1"))
	st, err := b.Load(ctx)
	require.NoError(t, err)
	assert.True(t, st.Empty())
}
