package sealed

import (
	"context"
	"errors"
	"log/slog"

	"github.com/target/agentops-console/internal/ports"
)

var _ ports.StateStore = (*StateStore)(nil)

// StateStore seals the access and refresh tokens of an underlying store. Tenant ids are kept
// in the clear so operators can inspect which tenant a device last used.
type StateStore struct {
	inner  ports.StateStore
	sealer *Sealer
	logger *slog.Logger
}

// NewStateStore wraps inner.
func NewStateStore(inner ports.StateStore, sealer *Sealer, logger *slog.Logger) (*StateStore, error) {
	if inner == nil {
		return nil, errors.New("inner state store is required")
	}
	if sealer == nil {
		return nil, errors.New("sealer is required")
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &StateStore{inner: inner, sealer: sealer, logger: logger.With("component", "sealed_state")}, nil
}

// Load opens the stored tokens. Tokens that cannot be opened, whether written before sealing
// was enabled or under another key, are dropped so the session restores as signed out.
func (s *StateStore) Load(ctx context.Context) (ports.DeviceState, error) {
	st, err := s.inner.Load(ctx)
	if err != nil {
		return ports.DeviceState{}, err
	}
	access, aerr := s.sealer.Open(st.AccessToken)
	refresh, rerr := s.sealer.Open(st.RefreshToken)
	if aerr != nil || rerr != nil {
		s.logger.WarnContext(ctx, "stored tokens could not be opened; discarding them", "error", errors.Join(aerr, rerr))
		st.AccessToken, st.RefreshToken = "", ""
		return st, nil
	}
	st.AccessToken, st.RefreshToken = access, refresh
	return st, nil
}

func (s *StateStore) SaveTokens(ctx context.Context, accessToken, refreshToken string) error {
	access, err := s.sealer.Seal(accessToken)
	if err != nil {
		return err
	}
	refresh, err := s.sealer.Seal(refreshToken)
	if err != nil {
		return err
	}
	return s.inner.SaveTokens(ctx, access, refresh)
}

func (s *StateStore) SaveTenant(ctx context.Context, organizationID, projectID string) error {
	return s.inner.SaveTenant(ctx, organizationID, projectID)
}

func (s *StateStore) Clear(ctx context.Context) error {
	return s.inner.Clear(ctx)
}
