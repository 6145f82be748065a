// Package postgres provides the PostgreSQL-backed device state store.
package postgres

import (
	"context"
	"database/sql"
	"errors"

	apperrors "github.com/target/agentops-console/internal/errors"
	"github.com/target/agentops-console/internal/ports"
)

var _ ports.StateStore = (*StateStore)(nil)

// StateStore keeps one device_state row per device. Clear is a single DELETE.
type StateStore struct {
	db       *sql.DB
	deviceID string
}

// NewStateStore creates a store for deviceID over db. The schema must already exist
// (see migrate.Run).
func NewStateStore(db *sql.DB, deviceID string) (*StateStore, error) {
	if db == nil {
		return nil, errors.New("database handle is required")
	}
	if deviceID == "" {
		return nil, errors.New("device id is required")
	}
	return &StateStore{db: db, deviceID: deviceID}, nil
}

func (s *StateStore) Load(ctx context.Context) (ports.DeviceState, error) {
	var st ports.DeviceState
	err := s.db.QueryRowContext(ctx, `
		SELECT access_token, refresh_token, organization_id, project_id
		FROM device_state
		WHERE device_id = $1`, s.deviceID,
	).Scan(&st.AccessToken, &st.RefreshToken, &st.OrganizationID, &st.ProjectID)
	if errors.Is(err, sql.ErrNoRows) {
		return ports.DeviceState{}, nil
	}
	if err != nil {
		return ports.DeviceState{}, apperrors.MapDBError(err)
	}
	return st, nil
}

func (s *StateStore) SaveTokens(ctx context.Context, accessToken, refreshToken string) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO device_state (device_id, access_token, refresh_token)
		VALUES ($1, $2, $3)
		ON CONFLICT (device_id) DO UPDATE
		SET access_token = EXCLUDED.access_token,
		    refresh_token = EXCLUDED.refresh_token,
		    updated_at = now()`,
		s.deviceID, accessToken, refreshToken,
	)
	return apperrors.MapDBError(err)
}

func (s *StateStore) SaveTenant(ctx context.Context, organizationID, projectID string) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO device_state (device_id, organization_id, project_id)
		VALUES ($1, $2, $3)
		ON CONFLICT (device_id) DO UPDATE
		SET organization_id = EXCLUDED.organization_id,
		    project_id = EXCLUDED.project_id,
		    updated_at = now()`,
		s.deviceID, organizationID, projectID,
	)
	return apperrors.MapDBError(err)
}

func (s *StateStore) Clear(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM device_state WHERE device_id = $1`, s.deviceID)
	return apperrors.MapDBError(err)
}
