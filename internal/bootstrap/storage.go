package bootstrap

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"

	"github.com/target/agentops-console/config"
	"github.com/target/agentops-console/internal/adapters/filestore"
	"github.com/target/agentops-console/internal/adapters/postgres"
	redisadapter "github.com/target/agentops-console/internal/adapters/redis"
	"github.com/target/agentops-console/internal/adapters/sealed"
	"github.com/target/agentops-console/internal/ports"
)

// StateBackend is the device state store and whatever connection it holds.
type StateBackend struct {
	Store    ports.StateStore
	DeviceID string
	close    func() error
}

// Close releases the backend's connection, if any.
func (b StateBackend) Close() error {
	if b.close == nil {
		return nil
	}
	return b.close()
}

// BuildStateStore opens the device state backend selected by STORAGE_BACKEND and, when
// STORAGE_ENCRYPTION_KEY is set, seals the tokens written to it.
func BuildStateStore(ctx context.Context, cfg config.AppConfig, logger *slog.Logger) (StateBackend, error) {
	backend, err := openStateBackend(ctx, cfg, logger)
	if err != nil || cfg.Storage.EncryptionKey == "" {
		return backend, err
	}

	key, err := sealed.ParseKey(cfg.Storage.EncryptionKey)
	if err != nil {
		_ = backend.Close()
		return StateBackend{}, fmt.Errorf("STORAGE_ENCRYPTION_KEY: %w", err)
	}
	sealer, err := sealed.NewSealer(key)
	if err != nil {
		_ = backend.Close()
		return StateBackend{}, err
	}
	store, err := sealed.NewStateStore(backend.Store, sealer, logger)
	if err != nil {
		_ = backend.Close()
		return StateBackend{}, err
	}
	backend.Store = store
	return backend, nil
}

func openStateBackend(ctx context.Context, cfg config.AppConfig, logger *slog.Logger) (StateBackend, error) {
	switch cfg.Storage.Backend {
	case config.StorageBackendFile, "":
		s, err := filestore.New(cfg.Storage.Path)
		if err != nil {
			return StateBackend{}, err
		}
		logger.DebugContext(ctx, "device state in file", "path", s.Path())
		return StateBackend{Store: s}, nil

	case config.StorageBackendRedis:
		deviceID, err := DeviceID(cfg.Storage)
		if err != nil {
			return StateBackend{}, err
		}
		client, err := ConnectRedis(ctx, cfg.Redis, logger)
		if err != nil {
			return StateBackend{}, err
		}
		s, err := redisadapter.NewStateStore(redisadapter.StateStoreOptions{
			Client:   client,
			DeviceID: deviceID,
			Prefix:   cfg.Redis.KeyPrefix,
			TTL:      cfg.Storage.TTL,
		})
		if err != nil {
			_ = client.Close()
			return StateBackend{}, err
		}
		return StateBackend{Store: s, DeviceID: deviceID, close: client.Close}, nil

	case config.StorageBackendPostgres:
		deviceID, err := DeviceID(cfg.Storage)
		if err != nil {
			return StateBackend{}, err
		}
		db, err := ConnectDB(ctx, cfg.Postgres, logger)
		if err != nil {
			return StateBackend{}, err
		}
		s, err := postgres.NewStateStore(db, deviceID)
		if err != nil {
			_ = db.Close()
			return StateBackend{}, err
		}
		return StateBackend{Store: s, DeviceID: deviceID, close: db.Close}, nil

	default:
		return StateBackend{}, fmt.Errorf("unknown storage backend %q", cfg.Storage.Backend)
	}
}

// DeviceID returns STORAGE_DEVICE_ID, or the id generated on first use and kept beside the
// state file. State is keyed by device, not by account.
func DeviceID(cfg config.StorageConfig) (string, error) {
	if cfg.DeviceID != "" {
		return cfg.DeviceID, nil
	}
	path := cfg.DeviceIDPath()
	raw, err := os.ReadFile(path)
	if err == nil {
		if id := strings.TrimSpace(string(raw)); id != "" {
			return id, nil
		}
	} else if !errors.Is(err, fs.ErrNotExist) {
		return "", fmt.Errorf("read device id: %w", err)
	}

	id := uuid.NewString()
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return "", fmt.Errorf("create device id dir: %w", err)
	}
	if err := os.WriteFile(path, []byte(id+"\n"), 0o600); err != nil {
		return "", fmt.Errorf("write device id: %w", err)
	}
	return id, nil
}
