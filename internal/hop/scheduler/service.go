package scheduler

import (
	"math/rand"
	"sync"
	"time"

	"tabhop/internal/eventbus"
	"tabhop/internal/hop"
	"tabhop/internal/hop/history"
	"tabhop/internal/hop/selector"
	logx "tabhop/pkg/logx"
)

type Service struct {
	mu sync.Mutex

	tun      Tunables
	provider ItemProvider
	clock    Clock
	rnd      *rand.Rand
	log      logx.Logger
	bus      eventbus.Bus

	// run state
	phase     Phase
	cfg       hop.RunConfig
	runID     string
	startedAt time.Time
	deadline  time.Time     // zero iff Stopped
	remaining time.Duration // valid while Paused
	timer     Timer         // non-nil iff Running
	timerGen  uint64
	sel       selector.State
	hist      *history.Log
	hops      int
	skipped   int
	lastItem  hop.ItemID
	lastStop  StopReason

	guard activationGuard
}

type Option func(*Service)

func WithClock(c Clock) Option {
	return func(s *Service) {
		if c != nil {
			s.clock = c
		}
	}
}

// WithRand sets the random source used for delays and random selection.
func WithRand(r *rand.Rand) Option {
	return func(s *Service) {
		if r != nil {
			s.rnd = r
		}
	}
}

func New(provider ItemProvider, tun Tunables, log logx.Logger, bus eventbus.Bus, opts ...Option) *Service {
	if log.IsZero() {
		log = logx.Nop()
	}
	tun = tun.normalized()
	s := &Service{
		tun:      tun,
		provider: provider,
		clock:    SystemClock(),
		rnd:      rand.New(rand.NewSource(time.Now().UnixNano())),
		log:      log,
		bus:      bus,
		phase:    PhaseStopped,
		hist:     history.New(tun.HistoryCapacity),
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

// Apply swaps the tunables. History capacity takes effect at the next Start.
func (s *Service) Apply(t Tunables) {
	s.mu.Lock()
	s.tun = t.normalized()
	s.mu.Unlock()
}

func (s *Service) Tunables() Tunables {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.tun
}

// State returns a snapshot of the run.
func (s *Service) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stateLocked()
}

// Close stops any run with ReasonShutdown.
func (s *Service) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stopLocked(ReasonShutdown)
}

func (s *Service) stateLocked() State {
	st := State{
		Phase:         s.phase,
		HistoryDepth:  s.hist.Len(),
		HistoryCursor: s.hist.Cursor(),
		Hops:          s.hops,
		Skipped:       s.skipped,
		RunID:         s.runID,
		LastItem:      s.lastItem,
		LastStop:      s.lastStop,
	}
	switch s.phase {
	case PhaseRunning:
		st.RemainingMs = max(0, s.deadline.Sub(s.clock.Now())).Milliseconds()
	case PhasePaused:
		st.RemainingMs = s.remaining.Milliseconds()
	}
	if s.phase != PhaseStopped {
		started, deadline := s.startedAt, s.deadline
		st.StartedAt = &started
		st.Deadline = &deadline
		cfg := s.cfg
		st.Config = &cfg
	}
	return st
}

func (s *Service) publishLocked(topic string, data EventData) {
	data.State = s.stateLocked()
	if data.RunID == "" {
		data.RunID = s.runID
	}
	if data.Label == "" {
		data.Label = s.cfg.Label
	}
	if s.bus == nil {
		return
	}
	now := s.clock.Now()
	s.bus.Publish(eventbus.Event{Type: topic, Time: now, Data: data})
	if topic != TopicState {
		s.bus.Publish(eventbus.Event{Type: TopicState, Time: now, Data: data})
	}
}
