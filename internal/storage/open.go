package storage

import (
	"context"
	"errors"
	"strings"

	"tabhop/internal/hop"
	logx "tabhop/pkg/logx"
)

// Store is the persistence API used by the app and the control layer.
type Store interface {
	AppendRun(ctx context.Context, e RunEvent) error
	// ListRuns returns up to limit events, newest first. limit <= 0 means all retained.
	ListRuns(ctx context.Context, limit int) ([]RunEvent, error)
	SaveLastParams(ctx context.Context, p hop.Params) error
	// LoadLastParams reports ok=false when nothing was saved yet.
	LoadLastParams(ctx context.Context) (p hop.Params, ok bool, err error)
	Close() error
}

// Open initializes the configured store.
// It returns (nil, nil) if storage is disabled.
func Open(cfg Config, log logx.Logger) (Store, error) {
	driver := strings.ToLower(strings.TrimSpace(cfg.Driver))
	if driver == "" || driver == "none" {
		return nil, nil
	}
	if log.IsZero() {
		log = logx.Nop()
	}

	switch driver {
	case "file":
		return openFile(cfg, log)
	case "sqlite", "sqlite3":
		return openSQLite(cfg, log)
	default:
		return nil, errors.New("unknown storage driver: " + driver)
	}
}
