package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"
)

// StorageBackend selects where device state is persisted.
type StorageBackend string

const (
	StorageBackendFile     StorageBackend = "file"
	StorageBackendRedis    StorageBackend = "redis"
	StorageBackendPostgres StorageBackend = "postgres"
)

// UnmarshalText implements encoding.TextUnmarshaler for StorageBackend.
func (b *StorageBackend) UnmarshalText(text []byte) error {
	v := strings.ToLower(strings.TrimSpace(string(text)))
	switch v {
	case "file", "redis", "postgres":
		*b = StorageBackend(v)
		return nil
	default:
		return fmt.Errorf("invalid StorageBackend: %q (valid options: file, redis, postgres)", v)
	}
}

// StorageConfig contains device state persistence settings.
type StorageConfig struct {
	Backend StorageBackend `env:"BACKEND" envDefault:"file"`
	// Path is the state file for the file backend. Defaults under the user config dir.
	Path string `env:"PATH"`
	// DeviceID keys the state in shared backends. Generated and stored beside Path when empty.
	DeviceID string `env:"DEVICE_ID"`
	// TTL expires device state in redis; zero keeps it forever.
	TTL time.Duration `env:"TTL" envDefault:"720h"`
	// EncryptionKey seals stored tokens with AES-256-GCM. 32 bytes as hex or base64.
	EncryptionKey string `env:"ENCRYPTION_KEY"`
}

// Sanitize fills the default state path.
func (c *StorageConfig) Sanitize() {
	c.Path = strings.TrimSpace(c.Path)
	if c.Path == "" {
		dir, err := os.UserConfigDir()
		if err != nil {
			dir = os.TempDir()
		}
		c.Path = filepath.Join(dir, "agentops-console", "state.json")
	}
	c.DeviceID = strings.TrimSpace(c.DeviceID)
	c.EncryptionKey = strings.TrimSpace(c.EncryptionKey)
	if c.TTL < 0 {
		c.TTL = 0
	}
}

// DeviceIDPath is where a generated device id is kept.
func (c *StorageConfig) DeviceIDPath() string {
	return filepath.Join(filepath.Dir(c.Path), "device-id")
}
