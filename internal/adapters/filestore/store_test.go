package filestore

import (
	"context"
	"os"
	"path/filepath"
	"runtime"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/target/agentops-console/internal/ports"
)

func newStore(t *testing.T) *Store {
	t.Helper()
	s, err := New(filepath.Join(t.TempDir(), "nested", "state.json"))
	require.NoError(t, err)
	return s
}

func TestNew_RequiresPath(t *testing.T) {
	_, err := New("")
	assert.Error(t, err)
}

func TestLoad_MissingFileIsEmpty(t *testing.T) {
	s := newStore(t)
	st, err := s.Load(context.Background())
	require.NoError(t, err)
	assert.True(t, st.Empty())
}

func TestSaveKeepsOtherKeys(t *testing.T) {
	s := newStore(t)
	ctx := context.Background()

	require.NoError(t, s.SaveTokens(ctx, "a1", "r1"))
	require.NoError(t, s.SaveTenant(ctx, "org-1", "proj-1"))
	require.NoError(t, s.SaveTokens(ctx, "a2", "r2"))

	st, err := s.Load(ctx)
	require.NoError(t, err)
	assert.Equal(t, ports.DeviceState{AccessToken: "a2", RefreshToken: "r2", OrganizationID: "org-1", ProjectID: "proj-1"}, st)

	if runtime.GOOS != "windows" {
		info, err := os.Stat(s.Path())
		require.NoError(t, err)
		assert.Equal(t, os.FileMode(0o600), info.Mode().Perm())
	}
}

func TestClear_RemovesAllKeys(t *testing.T) {
	s := newStore(t)
	ctx := context.Background()

	require.NoError(t, s.SaveTokens(ctx, "a1", "r1"))
	require.NoError(t, s.SaveTenant(ctx, "org-1", "proj-1"))
	require.NoError(t, s.Clear(ctx))

	_, err := os.Stat(s.Path())
	assert.True(t, os.IsNotExist(err))

	st, err := s.Load(ctx)
	require.NoError(t, err)
	assert.True(t, st.Empty())

	// Clearing twice is fine.
	require.NoError(t, s.Clear(ctx))
}

func TestLoad_CorruptFile(t *testing.T) {
	s := newStore(t)
	require.NoError(t, os.MkdirAll(filepath.Dir(s.Path()), 0o700))
	require.NoError(t, os.WriteFile(s.Path(), []byte("{not json"), 0o600))

	_, err := s.Load(context.Background())
	assert.Error(t, err)
}

func TestNoTempFilesLeftBehind(t *testing.T) {
	s := newStore(t)
	ctx := context.Background()
	for i := 0; i < 5; i++ {
		require.NoError(t, s.SaveTokens(ctx, "a", "r"))
	}
	entries, err := os.ReadDir(filepath.Dir(s.Path()))
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "state.json", entries[0].Name())
}
