package storage

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"time"

	logx "rankbot/pkg/logx"
)

var ErrClosed = errors.New("storage closed")

// Config configures storage.
//
// Driver values:
//   - "file": dependency-free file backend (snapshot + append journal)
//   - "sqlite": SQLite database file
//
// If Driver is empty, "sqlite" is assumed.
type Config struct {
	Driver      string
	Path        string
	BusyTimeout time.Duration // sqlite only; 0 means default
}

// Store is the durable key -> JSON value map used by the bot.
type Store interface {
	Get(ctx context.Context, key string) (json.RawMessage, bool, error)
	Set(ctx context.Context, key string, value any) error
	Delete(ctx context.Context, key string) error

	// Compact reclaims space (journal rewrite for the file driver,
	// VACUUM-lite pragmas for sqlite). Safe to call periodically.
	Compact(ctx context.Context) error

	Close() error
}

// Open initializes the configured store.
func Open(cfg Config, log logx.Logger) (Store, error) {
	driver := strings.ToLower(strings.TrimSpace(cfg.Driver))
	if log.IsZero() {
		log = logx.Nop()
	}

	switch driver {
	case "", "sqlite", "sqlite3":
		return openSQLite(cfg, log)
	case "file":
		return openFile(cfg, log)
	default:
		return nil, errors.New("unknown storage driver: " + driver)
	}
}

// GetJSON reads key and decodes it into T. The bool reports presence.
func GetJSON[T any](ctx context.Context, st Store, key string) (T, bool, error) {
	var out T
	raw, ok, err := st.Get(ctx, key)
	if err != nil || !ok {
		return out, ok, err
	}
	if err := json.Unmarshal(raw, &out); err != nil {
		return out, true, err
	}
	return out, true, nil
}
