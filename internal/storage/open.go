package storage

import (
	"errors"
	"strings"

	"cyclebot/internal/crypt"
	logx "cyclebot/pkg/logx"
)

// Open initializes the configured store.
// It returns (nil, nil) if storage is disabled.
func Open(cfg Config, codec *crypt.Codec, log logx.Logger) (Store, error) {
	driver := strings.ToLower(strings.TrimSpace(cfg.Driver))
	if driver == "" || driver == "none" {
		return nil, nil
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	if codec == nil {
		codec, _ = crypt.New("")
	}

	switch driver {
	case "sqlite", "sqlite3":
		return openSQLite(cfg, codec, log)
	case "memory", "mem":
		return NewMemory(), nil
	default:
		return nil, errors.New("unknown storage driver: " + driver)
	}
}
