package provider

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"sync"

	"tabhop/internal/hop"
	"tabhop/internal/hop/selector"
	logx "tabhop/pkg/logx"
)

var ErrUnknownItem = errors.New("unknown item")

// Static is an in-memory provider over a fixed, mutable list of items. The daemon
// uses it in demo mode, where activations are only logged.
type Static struct {
	mu     sync.Mutex
	items  []hop.ItemID
	active hop.ItemID
	gen    uint64
	vers   Versioner
	log    logx.Logger

	onActivate func(id hop.ItemID, gen uint64)
}

func NewStatic(items []hop.ItemID, log logx.Logger) *Static {
	if log.IsZero() {
		log = logx.Nop()
	}
	s := &Static{log: log}
	s.SetItems(items)
	return s
}

// Demo returns a provider with n items named tab-1..tab-n.
func Demo(n int, log logx.Logger) *Static {
	items := make([]hop.ItemID, 0, n)
	for i := 1; i <= n; i++ {
		items = append(items, hop.ItemID("tab-"+strconv.Itoa(i)))
	}
	return NewStatic(items, log)
}

// OnActivate registers a hook invoked after every activation, outside the lock.
func (s *Static) OnActivate(fn func(id hop.ItemID, gen uint64)) {
	s.mu.Lock()
	s.onActivate = fn
	s.mu.Unlock()
}

// SetItems replaces the item list. The pool version changes on the next
// ListPool if the resolved pool differs.
func (s *Static) SetItems(items []hop.ItemID) {
	s.mu.Lock()
	s.items = append([]hop.ItemID(nil), items...)
	s.mu.Unlock()
}

func (s *Static) Items() []hop.ItemID {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]hop.ItemID(nil), s.items...)
}

// Active returns the last activated item and its generation.
func (s *Static) Active() (hop.ItemID, uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.active, s.gen
}

func (s *Static) ListPool(ctx context.Context, spec hop.PoolSpec) (selector.Pool, error) {
	if err := ctx.Err(); err != nil {
		return selector.Pool{}, err
	}
	s.mu.Lock()
	items := append([]hop.ItemID(nil), s.items...)
	s.mu.Unlock()
	return s.vers.Snapshot(spec, items), nil
}

func (s *Static) Activate(ctx context.Context, id hop.ItemID, gen uint64) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	found := false
	for _, it := range s.items {
		if it == id {
			found = true
			break
		}
	}
	if !found {
		s.mu.Unlock()
		return fmt.Errorf("activate %s: %w", id, ErrUnknownItem)
	}
	s.active, s.gen = id, gen
	hook := s.onActivate
	s.mu.Unlock()

	s.log.Info("activate", logx.String("item", string(id)), logx.Uint64("gen", gen))
	if hook != nil {
		hook(id, gen)
	}
	return nil
}

func (s *Static) FocusContainer(ctx context.Context) error { return ctx.Err() }
