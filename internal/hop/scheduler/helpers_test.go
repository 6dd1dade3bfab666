package scheduler

import (
	"context"
	"errors"
	"math/rand"
	"sort"
	"strconv"
	"sync"
	"testing"
	"time"

	"tabhop/internal/eventbus"
	"tabhop/internal/hop"
	"tabhop/internal/hop/selector"
	logx "tabhop/pkg/logx"
)

// manualClock fires timers only from Advance, in deadline order.
type manualClock struct {
	mu     sync.Mutex
	now    time.Time
	seq    int
	timers []*manualTimer
	armed  []time.Duration
}

type manualTimer struct {
	c       *manualClock
	at      time.Time
	seq     int
	f       func()
	stopped bool
	fired   bool
}

func newManualClock() *manualClock {
	return &manualClock{now: time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *manualClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *manualClock) AfterFunc(d time.Duration, f func()) Timer {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.seq++
	t := &manualTimer{c: c, at: c.now.Add(d), seq: c.seq, f: f}
	c.timers = append(c.timers, t)
	c.armed = append(c.armed, d)
	return t
}

func (t *manualTimer) Stop() bool {
	t.c.mu.Lock()
	defer t.c.mu.Unlock()
	if t.fired || t.stopped {
		return false
	}
	t.stopped = true
	return true
}

// pending returns the live timers ordered by deadline.
func (c *manualClock) pending() []*manualTimer {
	c.mu.Lock()
	defer c.mu.Unlock()
	var out []*manualTimer
	for _, t := range c.timers {
		if !t.fired && !t.stopped {
			out = append(out, t)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].at.Equal(out[j].at) {
			return out[i].at.Before(out[j].at)
		}
		return out[i].seq < out[j].seq
	})
	return out
}

func (c *manualClock) Advance(d time.Duration) {
	c.mu.Lock()
	target := c.now.Add(d)
	c.mu.Unlock()
	for {
		p := c.pending()
		c.mu.Lock()
		if len(p) == 0 || p[0].at.After(target) {
			c.now = target
			c.mu.Unlock()
			return
		}
		next := p[0]
		if next.at.After(c.now) {
			c.now = next.at
		}
		next.fired = true
		c.mu.Unlock()
		next.f()
	}
}

func (c *manualClock) armedDelays() []time.Duration {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]time.Duration(nil), c.armed...)
}

type activation struct {
	id  hop.ItemID
	gen uint64
	at  time.Time
}

type fakeProvider struct {
	mu          sync.Mutex
	clock       Clock
	items       []hop.ItemID
	version     uint64
	listErr     error
	activateErr map[hop.ItemID]error
	activated   []activation
	focused     int
}

func newFakeProvider(n int) *fakeProvider {
	p := &fakeProvider{version: 1, activateErr: map[hop.ItemID]error{}}
	for i := 1; i <= n; i++ {
		p.items = append(p.items, hop.ItemID("t"+strconv.Itoa(i)))
	}
	return p
}

func (p *fakeProvider) ListPool(_ context.Context, spec hop.PoolSpec) (selector.Pool, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.listErr != nil {
		return selector.Pool{}, p.listErr
	}
	var out []hop.ItemID
	switch spec.Kind {
	case hop.PoolRange:
		for i, id := range p.items {
			if pos := i + 1; pos >= spec.Start && pos <= spec.End {
				out = append(out, id)
			}
		}
	case hop.PoolSet:
		want := map[hop.ItemID]bool{}
		for _, id := range spec.Items {
			want[id] = true
		}
		for _, id := range p.items {
			if want[id] {
				out = append(out, id)
			}
		}
	}
	return selector.Pool{Items: out, Version: p.version}, nil
}

func (p *fakeProvider) Activate(_ context.Context, id hop.ItemID, gen uint64) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if err := p.activateErr[id]; err != nil {
		return err
	}
	var at time.Time
	if p.clock != nil {
		at = p.clock.Now()
	}
	p.activated = append(p.activated, activation{id: id, gen: gen, at: at})
	return nil
}

func (p *fakeProvider) FocusContainer(context.Context) error {
	p.mu.Lock()
	p.focused++
	p.mu.Unlock()
	return nil
}

func (p *fakeProvider) ids() []hop.ItemID {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]hop.ItemID, len(p.activated))
	for i, a := range p.activated {
		out[i] = a.id
	}
	return out
}

func (p *fakeProvider) last() activation {
	p.mu.Lock()
	defer p.mu.Unlock()
	if len(p.activated) == 0 {
		return activation{}
	}
	return p.activated[len(p.activated)-1]
}

func (p *fakeProvider) set(fn func(p *fakeProvider)) {
	p.mu.Lock()
	fn(p)
	p.mu.Unlock()
}

var errGone = errors.New("tab gone")

type fixture struct {
	svc   *Service
	clock *manualClock
	prov  *fakeProvider
	bus   eventbus.Bus
}

func newFixture(t *testing.T, items int, tun Tunables) *fixture {
	t.Helper()
	clock := newManualClock()
	prov := newFakeProvider(items)
	prov.clock = clock
	bus := eventbus.New()
	svc := New(prov, tun, logx.Nop(), bus, WithClock(clock), WithRand(rand.New(rand.NewSource(1))))
	return &fixture{svc: svc, clock: clock, prov: prov, bus: bus}
}

func seqConfig(n int, interval, duration time.Duration) hop.RunConfig {
	return hop.RunConfig{
		Label:    "test",
		Pool:     hop.RangePool(1, n),
		Interval: interval,
		Variance: hop.Variance{Mode: hop.VarianceNone},
		Mode:     hop.SelectSequential,
		Duration: duration,
	}
}

func mustStart(t *testing.T, s *Service, cfg hop.RunConfig) State {
	t.Helper()
	st, err := s.Start(context.Background(), cfg)
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	return st
}

func equalIDs(got []hop.ItemID, want ...string) bool {
	if len(got) != len(want) {
		return false
	}
	for i := range got {
		if string(got[i]) != want[i] {
			return false
		}
	}
	return true
}
