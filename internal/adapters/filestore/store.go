// Package filestore persists device state as a JSON file in the user's config directory.
package filestore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sync"

	"github.com/target/agentops-console/internal/ports"
)

var _ ports.StateStore = (*Store)(nil)

// Store keeps DeviceState in a single file. Writes go through a temp file and a rename so a
// crash never leaves half the keys on disk.
type Store struct {
	path string
	mu   sync.Mutex
}

// New returns a store writing to path. The parent directory is created on first write.
func New(path string) (*Store, error) {
	if path == "" {
		return nil, errors.New("state file path is required")
	}
	return &Store{path: path}, nil
}

// Path returns the backing file.
func (s *Store) Path() string { return s.path }

// Load reads the state file. A missing file is an empty state.
func (s *Store) Load(_ context.Context) (ports.DeviceState, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.read()
}

// SaveTokens replaces the token pair, keeping the tenant ids.
func (s *Store) SaveTokens(_ context.Context, accessToken, refreshToken string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	st, err := s.read()
	if err != nil {
		return err
	}
	st.AccessToken, st.RefreshToken = accessToken, refreshToken
	return s.write(st)
}

// SaveTenant replaces the tenant ids, keeping the tokens.
func (s *Store) SaveTenant(_ context.Context, organizationID, projectID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	st, err := s.read()
	if err != nil {
		return err
	}
	st.OrganizationID, st.ProjectID = organizationID, projectID
	return s.write(st)
}

// Clear removes the file, dropping all four keys at once.
func (s *Store) Clear(_ context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := os.Remove(s.path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("remove state file: %w", err)
	}
	return nil
}

func (s *Store) read() (ports.DeviceState, error) {
	var st ports.DeviceState
	raw, err := os.ReadFile(s.path)
	if errors.Is(err, fs.ErrNotExist) {
		return st, nil
	}
	if err != nil {
		return st, fmt.Errorf("read state file: %w", err)
	}
	if len(raw) == 0 {
		return st, nil
	}
	if err := json.Unmarshal(raw, &st); err != nil {
		return ports.DeviceState{}, fmt.Errorf("decode state file %s: %w", s.path, err)
	}
	return st, nil
}

func (s *Store) write(st ports.DeviceState) error {
	if st.Empty() {
		if err := os.Remove(s.path); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("remove state file: %w", err)
		}
		return nil
	}
	raw, err := json.MarshalIndent(st, "", "  ")
	if err != nil {
		return fmt.Errorf("encode state: %w", err)
	}
	dir := filepath.Dir(s.path)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return fmt.Errorf("create state dir: %w", err)
	}
	tmp, err := os.CreateTemp(dir, ".state-*.json")
	if err != nil {
		return fmt.Errorf("create temp state file: %w", err)
	}
	tmpName := tmp.Name()
	cleanup := func() { _ = os.Remove(tmpName) }

	if err := tmp.Chmod(0o600); err != nil {
		_ = tmp.Close()
		cleanup()
		return fmt.Errorf("chmod temp state file: %w", err)
	}
	if _, err := tmp.Write(raw); err != nil {
		_ = tmp.Close()
		cleanup()
		return fmt.Errorf("write temp state file: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		_ = tmp.Close()
		cleanup()
		return fmt.Errorf("sync temp state file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		cleanup()
		return fmt.Errorf("close temp state file: %w", err)
	}
	if err := os.Rename(tmpName, s.path); err != nil {
		cleanup()
		return fmt.Errorf("replace state file: %w", err)
	}
	return nil
}
