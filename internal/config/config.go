package config

import (
	"os"

	"github.com/google/uuid"
)

// Config is the server configuration, read from the environment.
type Config struct {
	// ListenAddr is the HTTP/websocket bind address.
	ListenAddr string
	// StoreDriver is sqlite (default), postgres or mysql.
	StoreDriver string
	// StoreDSN is driver-specific; a file path for sqlite.
	StoreDSN string
	// SnapshotPath is the bbolt file caching document snapshots.
	SnapshotPath string
	// RedisAddr enables the cross-node relay when non-empty.
	RedisAddr string
	// NodeID identifies this server instance on the relay and stamps
	// server-side replicated operations.
	NodeID string
}

func Load() Config {
	return Config{
		ListenAddr:   envOr("NOTEHUB_ADDR", ":8080"),
		StoreDriver:  envOr("NOTEHUB_DB_DRIVER", "sqlite"),
		StoreDSN:     envOr("NOTEHUB_DB_DSN", "data/notehub.db"),
		SnapshotPath: envOr("NOTEHUB_SNAPSHOT_PATH", "data/snapshots.db"),
		RedisAddr:    os.Getenv("REDIS_ADDR"),
		NodeID:       envOr("NOTEHUB_NODE_ID", "node-"+uuid.New().String()),
	}
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
