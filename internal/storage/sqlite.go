package storage

import (
	"context"
	"database/sql"
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"time"

	_ "modernc.org/sqlite"

	"tabhop/internal/hop"
	logx "tabhop/pkg/logx"
)

//go:embed migrations.sql
var migrationsFS embed.FS

const keyLastParams = "last_params"

type sqliteStore struct {
	db  *sql.DB
	log logx.Logger

	maxRuns    int
	opCount    atomic.Uint64
	pruneEvery uint64
}

func openSQLite(cfg Config, log logx.Logger) (Store, error) {
	if strings.TrimSpace(cfg.Path) == "" {
		return nil, errors.New("sqlite path is required")
	}
	path := cfg.Path
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	// SQLite prefers a single writer.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	st := &sqliteStore{db: db, log: log, maxRuns: cfg.maxRunEvents(), pruneEvery: 200}

	if cfg.BusyTimeout > 0 {
		_, _ = db.Exec(fmt.Sprintf("PRAGMA busy_timeout = %d", cfg.BusyTimeout.Milliseconds()))
	}
	_, _ = db.Exec("PRAGMA journal_mode = WAL")
	_, _ = db.Exec("PRAGMA synchronous = NORMAL")

	if err := st.migrate(context.Background()); err != nil {
		_ = db.Close()
		return nil, err
	}
	return st, nil
}

func (s *sqliteStore) migrate(ctx context.Context) error {
	b, err := migrationsFS.ReadFile("migrations.sql")
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, string(b))
	return err
}

func (s *sqliteStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func (s *sqliteStore) AppendRun(ctx context.Context, e RunEvent) error {
	if s == nil || s.db == nil {
		return ErrDisabled
	}
	if e.At.IsZero() {
		e.At = time.Now()
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO runs(at, run_id, type, label, item, reason, err, hops, skipped)
		 VALUES(?,?,?,?,?,?,?,?,?)`,
		e.At.UTC().Format(time.RFC3339Nano), e.RunID, e.Type, nullStr(e.Label), nullStr(e.Item),
		nullStr(e.Reason), nullStr(e.Error), e.Hops, e.Skipped,
	)
	if err == nil && s.opCount.Add(1)%s.pruneEvery == 0 {
		pctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
		if perr := s.prune(pctx); perr != nil {
			s.log.Debug("runs prune failed", logx.Err(perr))
		}
		cancel()
	}
	return err
}

func (s *sqliteStore) ListRuns(ctx context.Context, limit int) ([]RunEvent, error) {
	if s == nil || s.db == nil {
		return nil, ErrDisabled
	}
	if limit <= 0 {
		limit = s.maxRuns
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT at, run_id, type, label, item, reason, err, hops, skipped
		 FROM runs ORDER BY id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []RunEvent
	for rows.Next() {
		var (
			e                               RunEvent
			at                              string
			label, item, reason, errMessage sql.NullString
		)
		if err := rows.Scan(&at, &e.RunID, &e.Type, &label, &item, &reason, &errMessage, &e.Hops, &e.Skipped); err != nil {
			return nil, err
		}
		e.At, _ = time.Parse(time.RFC3339Nano, at)
		e.Label, e.Item, e.Reason, e.Error = label.String, item.String, reason.String, errMessage.String
		out = append(out, e)
	}
	return out, rows.Err()
}

func (s *sqliteStore) SaveLastParams(ctx context.Context, p hop.Params) error {
	if s == nil || s.db == nil {
		return ErrDisabled
	}
	b, err := json.Marshal(p)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO kv(key, value, updated_at) VALUES(?,?,?)
		 ON CONFLICT(key) DO UPDATE SET value=excluded.value, updated_at=excluded.updated_at`,
		keyLastParams, string(b), time.Now().UTC().Format(time.RFC3339Nano),
	)
	return err
}

func (s *sqliteStore) LoadLastParams(ctx context.Context) (hop.Params, bool, error) {
	if s == nil || s.db == nil {
		return hop.Params{}, false, ErrDisabled
	}
	var raw string
	err := s.db.QueryRowContext(ctx, `SELECT value FROM kv WHERE key = ?`, keyLastParams).Scan(&raw)
	if errors.Is(err, sql.ErrNoRows) {
		return hop.Params{}, false, nil
	}
	if err != nil {
		return hop.Params{}, false, err
	}
	var p hop.Params
	if err := json.Unmarshal([]byte(raw), &p); err != nil {
		return hop.Params{}, false, fmt.Errorf("decode last params: %w", err)
	}
	return p, true, nil
}

func (s *sqliteStore) prune(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx,
		`DELETE FROM runs WHERE id <= (SELECT id FROM runs ORDER BY id DESC LIMIT 1 OFFSET ?)`, s.maxRuns)
	return err
}

func nullStr(v string) any {
	if strings.TrimSpace(v) == "" {
		return nil
	}
	return v
}
