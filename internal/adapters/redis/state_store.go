// Package redis provides the Redis-backed device state store, for console hosts that run
// on machines without a writable home directory.
package redis

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/target/agentops-console/internal/ports"
)

const (
	fieldAccessToken    = "access_token"
	fieldRefreshToken   = "refresh_token"
	fieldOrganizationID = "organization_id"
	fieldProjectID      = "project_id"
)

var _ ports.StateStore = (*StateStore)(nil)

// StateStore keeps one hash per device. Clear is a single DEL, so all four keys go at once.
type StateStore struct {
	client redis.UniversalClient
	key    string
	ttl    time.Duration
}

// StateStoreOptions configures a StateStore.
type StateStoreOptions struct {
	Client   redis.UniversalClient
	DeviceID string
	// Prefix is prepended to the device id; defaults to "agentops:device:".
	Prefix string
	// TTL is refreshed on every write; zero keeps the hash forever.
	TTL time.Duration
}

// NewStateStore creates a Redis-based device state store.
func NewStateStore(opts StateStoreOptions) (*StateStore, error) {
	if opts.Client == nil {
		return nil, errors.New("redis client is required")
	}
	if opts.DeviceID == "" {
		return nil, errors.New("device id is required")
	}
	prefix := opts.Prefix
	if prefix == "" {
		prefix = "agentops:device:"
	}
	return &StateStore{client: opts.Client, key: prefix + opts.DeviceID, ttl: opts.TTL}, nil
}

// Key returns the hash key for this device.
func (s *StateStore) Key() string { return s.key }

func (s *StateStore) Load(ctx context.Context) (ports.DeviceState, error) {
	vals, err := s.client.HGetAll(ctx, s.key).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return ports.DeviceState{}, nil
		}
		return ports.DeviceState{}, fmt.Errorf("redis hgetall: %w", err)
	}
	return ports.DeviceState{
		AccessToken:    vals[fieldAccessToken],
		RefreshToken:   vals[fieldRefreshToken],
		OrganizationID: vals[fieldOrganizationID],
		ProjectID:      vals[fieldProjectID],
	}, nil
}

func (s *StateStore) SaveTokens(ctx context.Context, accessToken, refreshToken string) error {
	return s.set(ctx, map[string]string{fieldAccessToken: accessToken, fieldRefreshToken: refreshToken})
}

func (s *StateStore) SaveTenant(ctx context.Context, organizationID, projectID string) error {
	return s.set(ctx, map[string]string{fieldOrganizationID: organizationID, fieldProjectID: projectID})
}

func (s *StateStore) Clear(ctx context.Context) error {
	if err := s.client.Del(ctx, s.key).Err(); err != nil {
		return fmt.Errorf("redis del: %w", err)
	}
	return nil
}

// set writes non-empty fields and deletes empty ones in one MULTI/EXEC.
func (s *StateStore) set(ctx context.Context, fields map[string]string) error {
	_, err := s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		var drop []string
		values := make([]any, 0, len(fields)*2)
		for k, v := range fields {
			if v == "" {
				drop = append(drop, k)
				continue
			}
			values = append(values, k, v)
		}
		if len(values) > 0 {
			pipe.HSet(ctx, s.key, values...)
		}
		if len(drop) > 0 {
			pipe.HDel(ctx, s.key, drop...)
		}
		if s.ttl > 0 {
			pipe.Expire(ctx, s.key, s.ttl)
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("redis save device state: %w", err)
	}
	return nil
}
