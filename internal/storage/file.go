package storage

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"tabhop/internal/hop"
	logx "tabhop/pkg/logx"
)

// fileStore is a dependency-free persistence backend.
//
// Files:
//   - <prefix>.runs.jsonl (append-only JSON Lines, compacted to the newest MaxRunEvents)
//   - <prefix>.last.json  (snapshot of the last accepted params)
type fileStore struct {
	log logx.Logger

	mu sync.Mutex

	runsPath string
	runsFile *os.File
	lastPath string

	maxRuns   int
	runWrites int
}

func openFile(cfg Config, log logx.Logger) (Store, error) {
	path := strings.TrimSpace(cfg.Path)
	if path == "" {
		return nil, errors.New("storage.path is required for file driver")
	}

	dir := filepath.Dir(path)
	base := filepath.Base(path)
	base = strings.TrimSuffix(base, filepath.Ext(base))
	prefix := filepath.Join(dir, base)

	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, err
	}

	runsPath := prefix + ".runs.jsonl"
	rf, err := os.OpenFile(runsPath, os.O_CREATE|os.O_APPEND|os.O_RDWR, 0o600)
	if err != nil {
		return nil, err
	}

	return &fileStore{
		log:      log,
		runsPath: runsPath,
		runsFile: rf,
		lastPath: prefix + ".last.json",
		maxRuns:  cfg.maxRunEvents(),
	}, nil
}

func (s *fileStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.runsFile == nil {
		return nil
	}
	err := s.runsFile.Close()
	s.runsFile = nil
	return err
}

func (s *fileStore) AppendRun(_ context.Context, e RunEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.runsFile == nil {
		return errors.New("runs journal closed")
	}
	if err := json.NewEncoder(s.runsFile).Encode(e); err != nil {
		return err
	}
	s.runWrites++
	if s.runWrites%500 == 0 {
		if err := s.compactLocked(); err != nil {
			s.log.Debug("runs compact failed", logx.Err(err))
		}
	}
	return nil
}

func (s *fileStore) ListRuns(_ context.Context, limit int) ([]RunEvent, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if limit <= 0 {
		limit = s.maxRuns
	}
	all, err := readRuns(s.runsPath)
	if err != nil {
		return nil, err
	}
	if len(all) > limit {
		all = all[len(all)-limit:]
	}
	out := make([]RunEvent, 0, len(all))
	for i := len(all) - 1; i >= 0; i-- {
		out = append(out, all[i])
	}
	return out, nil
}

func (s *fileStore) SaveLastParams(_ context.Context, p hop.Params) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return writeJSONAtomic(s.lastPath, p)
}

func (s *fileStore) LoadLastParams(_ context.Context) (hop.Params, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	b, err := os.ReadFile(s.lastPath)
	if errors.Is(err, os.ErrNotExist) {
		return hop.Params{}, false, nil
	}
	if err != nil {
		return hop.Params{}, false, err
	}
	var p hop.Params
	if err := json.Unmarshal(b, &p); err != nil {
		return hop.Params{}, false, err
	}
	return p, true, nil
}

// compactLocked rewrites the journal keeping only the newest maxRuns events.
func (s *fileStore) compactLocked() error {
	all, err := readRuns(s.runsPath)
	if err != nil {
		return err
	}
	if len(all) <= s.maxRuns {
		return nil
	}
	all = all[len(all)-s.maxRuns:]

	tmp := s.runsPath + ".tmp"
	f, err := os.OpenFile(tmp, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0o600)
	if err != nil {
		return err
	}
	w := bufio.NewWriter(f)
	enc := json.NewEncoder(w)
	for _, e := range all {
		if err := enc.Encode(e); err != nil {
			_ = f.Close()
			return err
		}
	}
	if err := w.Flush(); err != nil {
		_ = f.Close()
		return err
	}
	if err := f.Close(); err != nil {
		return err
	}
	if err := os.Rename(tmp, s.runsPath); err != nil {
		return err
	}
	_ = s.runsFile.Close()
	rf, err := os.OpenFile(s.runsPath, os.O_CREATE|os.O_APPEND|os.O_RDWR, 0o600)
	if err != nil {
		s.runsFile = nil
		return err
	}
	s.runsFile = rf
	return nil
}

func readRuns(path string) ([]RunEvent, error) {
	f, err := os.Open(path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	defer f.Close()
	var out []RunEvent
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		var e RunEvent
		if err := json.Unmarshal(sc.Bytes(), &e); err != nil {
			continue
		}
		out = append(out, e)
	}
	return out, sc.Err()
}

func writeJSONAtomic(path string, v any) error {
	tmp := path + ".tmp"
	f, err := os.OpenFile(tmp, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0o600)
	if err != nil {
		return err
	}
	if err := json.NewEncoder(f).Encode(v); err != nil {
		_ = f.Close()
		return err
	}
	if err := f.Close(); err != nil {
		return err
	}
	return os.Rename(tmp, path)
}
