package scheduler

import (
	"context"
	"fmt"

	"github.com/oklog/ulid/v2"

	"tabhop/internal/hop"
	"tabhop/internal/hop/history"
	"tabhop/internal/hop/selector"
	logx "tabhop/pkg/logx"
)

// Start validates cfg and begins a new run, stopping any current one first.
// An invalid cfg is rejected before any state changes.
func (s *Service) Start(ctx context.Context, cfg hop.RunConfig) (State, error) {
	if err := cfg.Validate(); err != nil {
		return State{}, err
	}
	if ctx == nil {
		ctx = context.Background()
	}
	if err := ctx.Err(); err != nil {
		return State{}, fmt.Errorf("start: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.stopLocked(ReasonRestart)

	now := s.clock.Now()
	if s.hist.Capacity() != s.tun.HistoryCapacity {
		s.hist = history.New(s.tun.HistoryCapacity)
	} else {
		s.hist.Reset()
	}
	s.sel = selector.State{}
	s.cfg = cfg
	s.runID = ulid.Make().String()
	s.startedAt = now
	s.deadline = now.Add(cfg.Duration)
	s.remaining = 0
	s.hops, s.skipped = 0, 0
	s.lastItem = ""
	s.lastStop = ""
	s.phase = PhaseRunning
	s.armLocked(0)

	s.log.Info("run started",
		logx.String("run_id", s.runID),
		logx.String("label", cfg.Label),
		logx.String("pool", cfg.Pool.String()),
		logx.String("mode", string(cfg.Mode)),
		logx.String("variance", string(cfg.Variance.Mode)),
		logx.Duration("interval", cfg.Interval),
		logx.Duration("duration", cfg.Duration),
	)
	s.publishLocked(TopicStarted, EventData{})
	return s.stateLocked(), nil
}

// Stop ends the run. Stopping a stopped service is a no-op.
func (s *Service) Stop(ctx context.Context) Result {
	return s.StopWithReason(ctx, ReasonExplicit)
}

func (s *Service) StopWithReason(_ context.Context, reason StopReason) Result {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stopLocked(reason)
	return ResultOK
}

// Pause freezes the remaining run time. Only valid while Running.
func (s *Service) Pause(_ context.Context) Result {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.phase != PhaseRunning {
		return ResultRejected
	}
	s.disarmLocked()
	s.remaining = max(0, s.deadline.Sub(s.clock.Now()))
	s.phase = PhasePaused
	s.log.Info("run paused", logx.String("run_id", s.runID), logx.Duration("remaining", s.remaining))
	s.publishLocked(TopicPaused, EventData{})
	return ResultOK
}

// Resume restarts the clock from the remaining time and hops immediately.
// Only valid while Paused.
func (s *Service) Resume(_ context.Context) Result {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.phase != PhasePaused {
		return ResultRejected
	}
	s.deadline = s.clock.Now().Add(s.remaining)
	s.remaining = 0
	s.phase = PhaseRunning
	s.armLocked(0)
	s.log.Info("run resumed", logx.String("run_id", s.runID), logx.Time("deadline", s.deadline))
	s.publishLocked(TopicResumed, EventData{})
	return ResultOK
}

// HopNow performs one hop immediately and re-arms the timer. Only valid while Running.
func (s *Service) HopNow(ctx context.Context) Result {
	if ctx == nil {
		ctx = context.Background()
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.phase != PhaseRunning {
		return ResultRejected
	}
	s.disarmLocked()
	s.tickLocked(ctx)
	return ResultOK
}

// StepBack re-activates the previous history entry within the back window.
func (s *Service) StepBack(ctx context.Context) (hop.ItemID, Result) {
	return s.navigate(ctx, "back", func() (hop.ItemID, bool) { return s.hist.StepBack(s.tun.BackWindow) })
}

// StepForward re-activates the next history entry after a StepBack.
func (s *Service) StepForward(ctx context.Context) (hop.ItemID, Result) {
	return s.navigate(ctx, "forward", func() (hop.ItemID, bool) { return s.hist.StepForward() })
}

func (s *Service) navigate(ctx context.Context, dir string, step func() (hop.ItemID, bool)) (hop.ItemID, Result) {
	if ctx == nil {
		ctx = context.Background()
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	switch s.phase {
	case PhaseRunning:
	case PhasePaused:
		if !s.tun.NavigateWhilePaused {
			return "", ResultRejected
		}
	default:
		return "", ResultRejected
	}

	id, ok := step()
	if !ok {
		return "", ResultAtBoundary
	}

	data := EventData{Item: id, Reason: dir}
	if err := s.activateLocked(ctx, id); err != nil {
		s.log.Warn("navigation activate failed", logx.String("run_id", s.runID), logx.String("item", string(id)), logx.Err(err))
		data.Error = err.Error()
	} else {
		s.lastItem = id
	}
	s.log.Debug("navigated", logx.String("dir", dir), logx.String("item", string(id)), logx.Int("cursor", s.hist.Cursor()))

	if s.phase == PhaseRunning {
		s.disarmLocked()
		s.rescheduleLocked()
	}
	s.publishLocked(TopicNavigated, data)
	return id, ResultOK
}

// OnHumanInput stops a Running run configured to cancel on human input.
func (s *Service) OnHumanInput() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.phase != PhaseRunning || !s.cfg.CancelOnHumanInput {
		return
	}
	s.log.Info("human input detected", logx.String("run_id", s.runID))
	s.stopLocked(ReasonHumanInput)
}

// OnExternalActivation stops a Running run configured to cancel on human input when
// ev was not caused by the scheduler's own activations.
func (s *Service) OnExternalActivation(ev ActivationEvent) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.phase != PhaseRunning || !s.cfg.CancelOnHumanInput {
		return
	}
	if s.guard.own(ev, s.clock.Now(), s.tun.SelfActivationWindow) {
		s.log.Trace("own activation observed", logx.String("item", string(ev.Item)), logx.Uint64("gen", ev.Gen))
		return
	}
	s.log.Info("external activation detected",
		logx.String("run_id", s.runID),
		logx.String("item", string(ev.Item)),
		logx.Uint64("gen", ev.Gen),
		logx.Uint64("last_gen", s.guard.last()),
	)
	s.stopLocked(ReasonExternalActivation)
}

// OnHotkey handles classified hotkeys. HotkeyStop stops a Running or Paused run
// configured with StopOnHotkey.
func (s *Service) OnHotkey(name string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if name != HotkeyStop || s.phase == PhaseStopped || !s.cfg.StopOnHotkey {
		return
	}
	s.stopLocked(ReasonHotkey)
}
