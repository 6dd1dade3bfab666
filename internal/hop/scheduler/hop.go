package scheduler

import (
	"context"
	"errors"
	"time"

	"tabhop/internal/hop"
	"tabhop/internal/hop/delay"
	"tabhop/internal/hop/selector"
	logx "tabhop/pkg/logx"
)

var errEmptyPool = errors.New("pool is empty")

// armLocked schedules the next firing after d. The previous timer, if any, is
// superseded by bumping the generation.
func (s *Service) armLocked(d time.Duration) {
	if s.timer != nil {
		s.timer.Stop()
	}
	s.timerGen++
	gen := s.timerGen
	s.timer = s.clock.AfterFunc(d, func() { s.onTimer(gen) })
}

func (s *Service) disarmLocked() {
	if s.timer != nil {
		s.timer.Stop()
		s.timer = nil
	}
	// ignore callbacks that already fired and wait for the lock
	s.timerGen++
}

func (s *Service) onTimer(gen uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if gen != s.timerGen || s.phase != PhaseRunning {
		return
	}
	s.timer = nil
	s.tickLocked(context.Background())
}

// tickLocked runs one scheduled hop: deadline check, hop, re-arm.
func (s *Service) tickLocked(ctx context.Context) {
	if s.clock.Now().Sub(s.deadline) >= 0 {
		s.stopLocked(ReasonDeadline)
		return
	}
	s.hopLocked(ctx)
	s.rescheduleLocked()
}

// rescheduleLocked arms the next hop at min(nextDelay, remaining), or stops the run
// when no time remains. It is a no-op unless Running.
func (s *Service) rescheduleLocked() {
	if s.phase != PhaseRunning {
		return
	}
	remaining := s.deadline.Sub(s.clock.Now())
	if remaining <= 0 {
		s.stopLocked(ReasonDeadline)
		return
	}
	next := delay.Compute(s.cfg.Variance, s.cfg.Interval, s.rnd)
	s.armLocked(min(next, remaining))
	s.log.Trace("next hop armed", logx.Duration("in", min(next, remaining)), logx.Duration("remaining", remaining))
}

// hopLocked performs one switch. Provider failures skip the hop and never stop the run.
func (s *Service) hopLocked(ctx context.Context) {
	lctx, cancel := context.WithTimeout(ctx, s.tun.ActivationTimeout)
	pool, err := s.provider.ListPool(lctx, s.cfg.Pool)
	cancel()
	if err != nil {
		s.skipLocked("", err)
		return
	}

	id, st, ok := selector.Next(pool, s.cfg.Mode, s.sel, s.rnd)
	if !ok {
		s.skipLocked("", errEmptyPool)
		return
	}
	s.sel = st

	if err := s.activateLocked(ctx, id); err != nil {
		s.skipLocked(id, err)
		return
	}
	s.hist.Record(id)
	s.hops++
	s.lastItem = id
	s.log.Debug("hop",
		logx.String("run_id", s.runID),
		logx.String("item", string(id)),
		logx.Int("hops", s.hops),
		logx.Uint64("pool_version", pool.Version),
		logx.Int("pool_size", len(pool.Items)),
	)
	s.publishLocked(TopicSwitched, EventData{Item: id})
}

// activateLocked brings the container forward and activates id, tagging the
// activation with a fresh generation before the call.
func (s *Service) activateLocked(ctx context.Context, id hop.ItemID) error {
	fctx, cancel := context.WithTimeout(ctx, s.tun.ActivationTimeout)
	if err := s.provider.FocusContainer(fctx); err != nil {
		s.log.Debug("focus container failed", logx.Err(err))
	}
	cancel()

	gen := s.guard.issue(id, s.clock.Now())
	actx, cancel := context.WithTimeout(ctx, s.tun.ActivationTimeout)
	defer cancel()
	return s.provider.Activate(actx, id, gen)
}

func (s *Service) skipLocked(id hop.ItemID, err error) {
	s.skipped++
	if errors.Is(err, errEmptyPool) {
		s.log.Debug("hop skipped: empty pool", logx.String("run_id", s.runID))
	} else {
		s.log.Warn("hop skipped", logx.String("run_id", s.runID), logx.String("item", string(id)), logx.Err(err))
	}
	s.publishLocked(TopicSkipped, EventData{Item: id, Error: err.Error()})
}

// stopLocked tears the run down. Idempotent.
func (s *Service) stopLocked(reason StopReason) {
	if s.phase == PhaseStopped {
		return
	}
	s.disarmLocked()
	runID, label := s.runID, s.cfg.Label
	hops := s.hops
	s.phase = PhaseStopped
	s.deadline = time.Time{}
	s.remaining = 0
	s.lastStop = reason
	s.cfg = hop.RunConfig{}

	s.log.Info("run stopped",
		logx.String("run_id", runID),
		logx.String("reason", string(reason)),
		logx.Int("hops", hops),
		logx.Int("skipped", s.skipped),
	)
	s.publishLocked(TopicStopped, EventData{RunID: runID, Label: label, Reason: string(reason)})
}
