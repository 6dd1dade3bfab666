package trigger

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"tabhop/internal/control"
	"tabhop/internal/eventbus"
	"tabhop/internal/hop/scheduler"
	logx "tabhop/pkg/logx"
)

// TopicFired is published after every trigger firing, started or skipped.
const TopicFired = "trigger.fired"

const (
	// Source labels runs started by a trigger without a preset label.
	Source             = "trigger"
	defaultFireTimeout = 5 * time.Second
)

// Starter is the part of the controller triggers drive.
type Starter interface {
	Start(ctx context.Context, req control.StartRequest) (control.ActionResult, error)
	State(ctx context.Context) control.StateResult
}

type Trigger struct {
	Name     string
	Schedule string
	Preset   string
	// SkipIfActive leaves a running or paused run alone instead of replacing it.
	SkipIfActive bool
}

type Config struct {
	Timezone    string // IANA TZ; empty means Local
	Triggers    []Trigger
	FireTimeout time.Duration
}

type FireEvent struct {
	Name    string `json:"name"`
	Preset  string `json:"preset"`
	RunID   string `json:"runId,omitempty"`
	Skipped bool   `json:"skipped,omitempty"`
	Error   string `json:"error,omitempty"`
}

type Info struct {
	Name      string    `json:"name"`
	Preset    string    `json:"preset"`
	Spec      string    `json:"spec"`
	Next      time.Time `json:"next"`
	Prev      time.Time `json:"prev"`
	Fires     int       `json:"fires"`
	LastError string    `json:"lastError,omitempty"`
}

type def struct {
	Trigger
	spec    string
	every   time.Duration
	entryID cron.EntryID
}

type stats struct {
	fires   int
	lastErr string
}

type Service struct {
	log     logx.Logger
	bus     eventbus.Bus
	starter Starter
	parser  cron.Parser

	mu   sync.Mutex
	cfg  Config
	loc  *time.Location
	c    *cron.Cron
	defs []*def
	ctx  context.Context

	statsMu sync.Mutex
	stats   map[string]*stats
}

var parser = cron.NewParser(cron.SecondOptional | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)

// ValidateSchedule reports whether raw would register.
func ValidateSchedule(raw string) error {
	ps, err := ParseSchedule(raw)
	if err != nil {
		return err
	}
	if ps.Kind == SpecCron {
		if _, err := parser.Parse(ps.Cron); err != nil {
			return fmt.Errorf("invalid cron %q: %w", ps.Cron, err)
		}
	}
	return nil
}

// New returns a stopped service. bus may be nil.
func New(starter Starter, log logx.Logger, bus eventbus.Bus) *Service {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Service{
		log:     log,
		bus:     bus,
		starter: starter,
		parser:  parser,
		ctx:     context.Background(),
		stats:   map[string]*stats{},
	}
}

// Apply replaces the trigger set. Invalid triggers are skipped and reported;
// valid ones are registered regardless.
func (s *Service) Apply(cfg Config) error {
	var (
		errs []error
		defs []*def
		seen = map[string]bool{}
	)
	for _, t := range cfg.Triggers {
		t.Name = strings.TrimSpace(t.Name)
		if t.Name == "" {
			errs = append(errs, errors.New("trigger name required"))
			continue
		}
		if seen[t.Name] {
			errs = append(errs, fmt.Errorf("trigger %s: duplicate name", t.Name))
			continue
		}
		seen[t.Name] = true
		if err := ValidateSchedule(t.Schedule); err != nil {
			errs = append(errs, fmt.Errorf("trigger %s: %w", t.Name, err))
			continue
		}
		ps, _ := ParseSchedule(t.Schedule)
		d := &def{Trigger: t}
		if ps.Kind == SpecInterval {
			d.every = ps.Every
			d.spec = "@every " + ps.Every.String()
		} else {
			d.spec = ps.Cron
		}
		defs = append(defs, d)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	tzChanged := strings.TrimSpace(s.cfg.Timezone) != strings.TrimSpace(cfg.Timezone)
	s.cfg = cfg
	if s.c != nil {
		for _, d := range s.defs {
			if d.entryID != 0 {
				s.c.Remove(d.entryID)
			}
		}
	}
	s.defs = defs
	if s.c != nil {
		if tzChanged {
			s.restartLocked()
		} else {
			s.registerAllLocked()
		}
	}

	s.statsMu.Lock()
	for name := range s.stats {
		if !seen[name] {
			delete(s.stats, name)
		}
	}
	s.statsMu.Unlock()

	s.log.Debug("triggers applied", logx.Int("count", len(defs)), logx.Int("invalid", len(errs)))
	return errors.Join(errs...)
}

func (s *Service) Start(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.c != nil {
		return
	}
	s.ctx = ctx
	s.loc = s.loadLocationLocked()
	s.c = cron.New(cron.WithParser(s.parser), cron.WithLocation(s.loc))
	s.registerAllLocked()
	s.c.Start()
	s.log.Info("triggers started", logx.String("tz", s.loc.String()), logx.Int("triggers", len(s.defs)))
}

// Stop waits for in-flight firings until ctx is done.
func (s *Service) Stop(ctx context.Context) {
	s.mu.Lock()
	c := s.c
	s.c = nil
	for _, d := range s.defs {
		d.entryID = 0
	}
	s.mu.Unlock()
	if c == nil {
		return
	}
	select {
	case <-c.Stop().Done():
	case <-ctx.Done():
	}
	s.log.Info("triggers stopped")
}

func (s *Service) Snapshot() []Info {
	s.mu.Lock()
	out := make([]Info, 0, len(s.defs))
	for _, d := range s.defs {
		info := Info{Name: d.Name, Preset: d.Preset, Spec: d.spec}
		if s.c != nil && d.entryID != 0 {
			e := s.c.Entry(d.entryID)
			info.Next, info.Prev = e.Next, e.Prev
		}
		out = append(out, info)
	}
	s.mu.Unlock()

	s.statsMu.Lock()
	for i := range out {
		if st := s.stats[out[i].Name]; st != nil {
			out[i].Fires = st.fires
			out[i].LastError = st.lastErr
		}
	}
	s.statsMu.Unlock()
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// Fire runs the named trigger now. It reports false for unknown names.
func (s *Service) Fire(name string) bool {
	s.mu.Lock()
	var t Trigger
	found := false
	for _, d := range s.defs {
		if d.Name == name {
			t, found = d.Trigger, true
			break
		}
	}
	base, timeout := s.ctx, s.fireTimeoutLocked()
	s.mu.Unlock()
	if !found {
		return false
	}
	s.fire(base, t, timeout)
	return true
}

func (s *Service) fire(base context.Context, t Trigger, timeout time.Duration) {
	ctx, cancel := context.WithTimeout(base, timeout)
	defer cancel()

	ev := FireEvent{Name: t.Name, Preset: t.Preset}
	if t.SkipIfActive && s.starter.State(ctx).Phase != scheduler.PhaseStopped {
		ev.Skipped = true
		s.log.Info("trigger skipped; run active", logx.String("trigger", t.Name))
	} else {
		res, err := s.starter.Start(ctx, control.StartRequest{Preset: t.Preset, Source: Source})
		if err != nil {
			ev.Error = err.Error()
			s.log.Warn("trigger start failed", logx.String("trigger", t.Name), logx.String("preset", t.Preset), logx.Err(err))
		} else {
			ev.RunID = res.State.RunID
			s.log.Info("trigger started run", logx.String("trigger", t.Name), logx.String("preset", t.Preset), logx.String("run_id", ev.RunID))
		}
	}

	s.statsMu.Lock()
	st := s.stats[t.Name]
	if st == nil {
		st = &stats{}
		s.stats[t.Name] = st
	}
	st.fires++
	st.lastErr = ev.Error
	s.statsMu.Unlock()

	if s.bus != nil {
		s.bus.Publish(eventbus.Event{Type: TopicFired, Time: time.Now(), Data: ev})
	}
}

func (s *Service) registerAllLocked() {
	for _, d := range s.defs {
		if err := s.addLocked(d); err != nil {
			s.log.Error("trigger register failed", logx.String("trigger", d.Name), logx.String("spec", d.spec), logx.Err(err))
			continue
		}
		s.log.Debug("trigger registered", logx.String("trigger", d.Name), logx.String("spec", d.spec), logx.String("preset", d.Preset))
	}
}

func (s *Service) addLocked(d *def) error {
	// captured here: restartLocked holds s.mu while waiting for running jobs
	t, base, timeout := d.Trigger, s.ctx, s.fireTimeoutLocked()
	job := cron.FuncJob(func() { s.fire(base, t, timeout) })
	if d.every > 0 {
		sched, _ := intervalWithSpread(d.every, time.Now().In(s.loc), d.Name)
		d.entryID = s.c.Schedule(sched, job)
		return nil
	}
	id, err := s.c.AddJob(d.spec, job)
	if err != nil {
		return err
	}
	d.entryID = id
	return nil
}

func (s *Service) fireTimeoutLocked() time.Duration {
	if s.cfg.FireTimeout <= 0 {
		return defaultFireTimeout
	}
	return s.cfg.FireTimeout
}

func (s *Service) restartLocked() {
	if s.c != nil {
		<-s.c.Stop().Done()
	}
	s.loc = s.loadLocationLocked()
	s.c = cron.New(cron.WithParser(s.parser), cron.WithLocation(s.loc))
	s.registerAllLocked()
	s.c.Start()
	s.log.Info("triggers restarted", logx.String("tz", s.loc.String()), logx.Int("triggers", len(s.defs)))
}

func (s *Service) loadLocationLocked() *time.Location {
	tz := strings.TrimSpace(s.cfg.Timezone)
	if tz == "" {
		return time.Local
	}
	loc, err := time.LoadLocation(tz)
	if err != nil {
		s.log.Warn("invalid timezone; falling back to Local", logx.String("tz", tz), logx.Err(err))
		return time.Local
	}
	return loc
}
