package scheduler

import (
	"context"
	"errors"
	"reflect"
	"testing"
	"time"

	"tabhop/internal/hop"
	logx "tabhop/pkg/logx"
)

var bg = context.Background()

func TestSequentialRunStopsAtDeadline(t *testing.T) {
	t.Parallel()
	f := newFixture(t, 5, DefaultTunables())
	mustStart(t, f.svc, seqConfig(5, time.Second, 5*time.Second))

	f.clock.Advance(10 * time.Second)

	if got := f.prov.ids(); !equalIDs(got, "t1", "t2", "t3", "t4", "t5") {
		t.Fatalf("activations = %v, want t1..t5", got)
	}
	st := f.svc.State()
	if st.Phase != PhaseStopped {
		t.Fatalf("phase = %s, want stopped", st.Phase)
	}
	if st.LastStop != ReasonDeadline {
		t.Fatalf("last stop = %s, want deadline", st.LastStop)
	}
	if st.Hops != 5 || st.HistoryDepth != 5 {
		t.Fatalf("hops=%d depth=%d, want 5/5", st.Hops, st.HistoryDepth)
	}
}

func TestDeadlineNeverOverrun(t *testing.T) {
	t.Parallel()
	f := newFixture(t, 3, DefaultTunables())
	cfg := seqConfig(3, 700*time.Millisecond, 4*time.Second)
	cfg.Mode = hop.SelectRandom
	cfg.Variance = hop.Variance{Mode: hop.VariancePercentage, Percent: 0.5}
	st := mustStart(t, f.svc, cfg)
	deadline := *st.Deadline

	f.clock.Advance(time.Minute)

	if f.svc.State().Phase != PhaseStopped {
		t.Fatal("run should have stopped")
	}
	f.prov.mu.Lock()
	defer f.prov.mu.Unlock()
	if len(f.prov.activated) == 0 {
		t.Fatal("no hops fired")
	}
	for i, a := range f.prov.activated {
		if a.at.After(deadline) {
			t.Fatalf("hop %d at %s after deadline %s", i, a.at, deadline)
		}
	}
	for _, d := range f.clock.armedDelays() {
		if d > 4*time.Second {
			t.Fatalf("armed delay %s exceeds run duration", d)
		}
	}
}

func TestPauseResumePreservesRemaining(t *testing.T) {
	t.Parallel()
	f := newFixture(t, 3, DefaultTunables())
	mustStart(t, f.svc, seqConfig(3, 3*time.Second, 10*time.Second))
	f.clock.Advance(4 * time.Second) // hops at 0s and 3s

	if r := f.svc.Pause(bg); r != ResultOK {
		t.Fatalf("Pause = %s", r)
	}
	before := f.svc.State()
	if before.Phase != PhasePaused || before.RemainingMs != 6000 {
		t.Fatalf("paused state = %s remaining=%d, want paused/6000", before.Phase, before.RemainingMs)
	}

	f.clock.Advance(time.Hour)
	if n := len(f.prov.ids()); n != 2 {
		t.Fatalf("hops during pause: got %d activations, want 2", n)
	}
	if got := f.svc.State().RemainingMs; got != 6000 {
		t.Fatalf("remaining after long pause = %d, want 6000", got)
	}

	if r := f.svc.Resume(bg); r != ResultOK {
		t.Fatalf("Resume = %s", r)
	}
	if got := f.svc.State().RemainingMs; got != 6000 {
		t.Fatalf("remaining right after resume = %d, want 6000", got)
	}
	f.clock.Advance(0) // immediate hop on resume
	if n := len(f.prov.ids()); n != 3 {
		t.Fatalf("resume should hop immediately, activations = %d", n)
	}
	f.clock.Advance(6 * time.Second)
	st := f.svc.State()
	if st.Phase != PhaseStopped || st.LastStop != ReasonDeadline {
		t.Fatalf("after remaining time: phase=%s reason=%s", st.Phase, st.LastStop)
	}
}

func TestPauseResumeInvalidPhases(t *testing.T) {
	t.Parallel()
	f := newFixture(t, 2, DefaultTunables())
	if r := f.svc.Pause(bg); r != ResultRejected {
		t.Fatalf("Pause while stopped = %s, want rejected", r)
	}
	if r := f.svc.Resume(bg); r != ResultRejected {
		t.Fatalf("Resume while stopped = %s, want rejected", r)
	}
	mustStart(t, f.svc, seqConfig(2, time.Second, time.Minute))
	if r := f.svc.Resume(bg); r != ResultRejected {
		t.Fatalf("Resume while running = %s, want rejected", r)
	}
	f.svc.Pause(bg)
	if r := f.svc.Pause(bg); r != ResultRejected {
		t.Fatalf("Pause while paused = %s, want rejected", r)
	}
	if f.svc.timer != nil {
		t.Fatal("timer armed while paused")
	}
}

func TestStopIsIdempotent(t *testing.T) {
	t.Parallel()
	f := newFixture(t, 3, DefaultTunables())
	mustStart(t, f.svc, seqConfig(3, time.Second, time.Minute))
	f.clock.Advance(1500 * time.Millisecond)

	if r := f.svc.Stop(bg); r != ResultOK {
		t.Fatalf("Stop = %s", r)
	}
	once := f.svc.State()
	if r := f.svc.Stop(bg); r != ResultOK {
		t.Fatalf("second Stop = %s", r)
	}
	twice := f.svc.State()
	if !reflect.DeepEqual(once, twice) {
		t.Fatalf("state changed by second stop:\n%+v\n%+v", once, twice)
	}
	if once.Phase != PhaseStopped || once.Deadline != nil || f.svc.timer != nil || !f.svc.deadline.IsZero() {
		t.Fatalf("stopped state not torn down: %+v", once)
	}

	// stopping a never-started service is a no-op too
	g := newFixture(t, 1, DefaultTunables())
	if r := g.svc.Stop(bg); r != ResultOK || g.svc.State().Phase != PhaseStopped {
		t.Fatal("Stop on fresh service should be a no-op")
	}
}

func TestHumanInputBeforeFirstHop(t *testing.T) {
	t.Parallel()
	f := newFixture(t, 3, DefaultTunables())
	cfg := seqConfig(3, time.Second, time.Minute)
	cfg.CancelOnHumanInput = true
	mustStart(t, f.svc, cfg)

	f.svc.OnHumanInput()
	f.clock.Advance(10 * time.Second)

	st := f.svc.State()
	if st.Phase != PhaseStopped || st.LastStop != ReasonHumanInput {
		t.Fatalf("phase=%s reason=%s, want stopped/human_input", st.Phase, st.LastStop)
	}
	if n := len(f.prov.ids()); n != 0 {
		t.Fatalf("activations = %d, want 0", n)
	}
}

func TestHumanInputIgnored(t *testing.T) {
	t.Parallel()
	f := newFixture(t, 3, DefaultTunables())
	mustStart(t, f.svc, seqConfig(3, time.Second, time.Minute)) // flag off
	f.svc.OnHumanInput()
	if f.svc.State().Phase != PhaseRunning {
		t.Fatal("human input should not stop a run without the cancel flag")
	}

	cfg := seqConfig(3, time.Second, time.Minute)
	cfg.CancelOnHumanInput = true
	mustStart(t, f.svc, cfg)
	f.svc.Pause(bg)
	f.svc.OnHumanInput()
	if f.svc.State().Phase != PhasePaused {
		t.Fatal("human input should not cancel a paused run")
	}
}

func TestHopNow(t *testing.T) {
	t.Parallel()
	f := newFixture(t, 4, DefaultTunables())
	if r := f.svc.HopNow(bg); r != ResultRejected {
		t.Fatalf("HopNow while stopped = %s, want rejected", r)
	}
	mustStart(t, f.svc, seqConfig(4, 10*time.Second, time.Minute))
	f.clock.Advance(time.Second) // first hop at 0

	if r := f.svc.HopNow(bg); r != ResultOK {
		t.Fatalf("HopNow = %s", r)
	}
	if got := f.prov.ids(); !equalIDs(got, "t1", "t2") {
		t.Fatalf("activations = %v, want t1 t2", got)
	}
	// the interrupted wait is replaced by a full interval from now
	f.clock.Advance(9 * time.Second)
	if n := len(f.prov.ids()); n != 2 {
		t.Fatalf("activations after 9s = %d, want 2", n)
	}
	f.clock.Advance(time.Second)
	if n := len(f.prov.ids()); n != 3 {
		t.Fatalf("activations after 10s = %d, want 3", n)
	}

	f.svc.Pause(bg)
	if r := f.svc.HopNow(bg); r != ResultRejected {
		t.Fatalf("HopNow while paused = %s, want rejected", r)
	}
}

func TestHopNowPastDeadlineStops(t *testing.T) {
	t.Parallel()
	f := newFixture(t, 2, DefaultTunables())
	mustStart(t, f.svc, seqConfig(2, time.Minute, 2*time.Second))
	f.clock.Advance(0)
	// move the clock without firing: the armed timer is due after the deadline check
	f.clock.mu.Lock()
	f.clock.now = f.clock.now.Add(3 * time.Second)
	f.clock.mu.Unlock()

	f.svc.HopNow(bg)
	st := f.svc.State()
	if st.Phase != PhaseStopped || st.LastStop != ReasonDeadline {
		t.Fatalf("phase=%s reason=%s, want stopped/deadline", st.Phase, st.LastStop)
	}
	if n := len(f.prov.ids()); n != 1 {
		t.Fatalf("activations = %d, want 1", n)
	}
}

func TestHistoryNavigation(t *testing.T) {
	t.Parallel()
	f := newFixture(t, 5, DefaultTunables())
	if _, r := f.svc.StepBack(bg); r != ResultRejected {
		t.Fatalf("StepBack while stopped = %s, want rejected", r)
	}
	mustStart(t, f.svc, seqConfig(5, time.Second, time.Minute))
	f.clock.Advance(2 * time.Second) // t1 t2 t3

	id, r := f.svc.StepBack(bg)
	if r != ResultOK || id != "t2" {
		t.Fatalf("StepBack = %s, %s; want t2 ok", id, r)
	}
	if last := f.prov.last(); last.id != "t2" || last.gen == 0 {
		t.Fatalf("last activation = %+v, want t2 with generation", last)
	}
	id, r = f.svc.StepForward(bg)
	if r != ResultOK || id != "t3" {
		t.Fatalf("StepForward = %s, %s; want t3 ok", id, r)
	}
	if _, r := f.svc.StepForward(bg); r != ResultAtBoundary {
		t.Fatalf("StepForward at end = %s, want at_boundary", r)
	}

	// navigation re-arms the timer with a full interval
	f.svc.StepBack(bg)
	f.clock.Advance(999 * time.Millisecond)
	if n := len(f.prov.ids()); n != 6 {
		t.Fatalf("activations = %d, want 6 (3 hops + 3 navigations)", n)
	}
	f.clock.Advance(time.Millisecond)
	if last := f.prov.last(); last.id != "t4" {
		t.Fatalf("next hop after navigation = %s, want t4", last.id)
	}
	// branching discards the abandoned forward entry
	st := f.svc.State()
	if st.HistoryDepth != 2 || st.HistoryCursor != 1 {
		t.Fatalf("history depth=%d cursor=%d, want 2/1", st.HistoryDepth, st.HistoryCursor)
	}
}

func TestNavigationWhilePaused(t *testing.T) {
	t.Parallel()
	f := newFixture(t, 3, DefaultTunables())
	mustStart(t, f.svc, seqConfig(3, time.Second, time.Minute))
	f.clock.Advance(time.Second)
	f.svc.Pause(bg)

	id, r := f.svc.StepBack(bg)
	if r != ResultOK || id != "t1" {
		t.Fatalf("StepBack while paused = %s, %s; want t1 ok", id, r)
	}
	if f.svc.timer != nil {
		t.Fatal("navigation while paused must not arm a timer")
	}
	if st := f.svc.State(); st.Phase != PhasePaused {
		t.Fatalf("phase = %s, want paused", st.Phase)
	}

	tun := DefaultTunables()
	tun.NavigateWhilePaused = false
	f.svc.Apply(tun)
	if _, r := f.svc.StepForward(bg); r != ResultRejected {
		t.Fatalf("StepForward with paused navigation disabled = %s, want rejected", r)
	}
}

func TestBackWindowBoundary(t *testing.T) {
	t.Parallel()
	tun := DefaultTunables()
	tun.BackWindow = 2
	f := newFixture(t, 5, tun)
	mustStart(t, f.svc, seqConfig(5, time.Second, time.Minute))
	f.clock.Advance(4 * time.Second) // 5 hops

	for i := 0; i < 2; i++ {
		if _, r := f.svc.StepBack(bg); r != ResultOK {
			t.Fatalf("StepBack %d = %s", i, r)
		}
	}
	if _, r := f.svc.StepBack(bg); r != ResultAtBoundary {
		t.Fatalf("StepBack past window = %s, want at_boundary", r)
	}
}

func TestExternalActivation(t *testing.T) {
	t.Parallel()
	f := newFixture(t, 3, DefaultTunables())
	cfg := seqConfig(3, time.Second, time.Minute)
	cfg.CancelOnHumanInput = true
	mustStart(t, f.svc, cfg)
	f.clock.Advance(0)
	own := f.prov.last()

	f.svc.OnExternalActivation(ActivationEvent{Item: own.id, Gen: own.gen})
	f.svc.OnExternalActivation(ActivationEvent{Item: own.id})
	if f.svc.State().Phase != PhaseRunning {
		t.Fatal("own activation stopped the run")
	}

	// untagged echo outside the window is treated as human
	f.clock.Advance(600 * time.Millisecond)
	f.svc.OnExternalActivation(ActivationEvent{Item: own.id})
	st := f.svc.State()
	if st.Phase != PhaseStopped || st.LastStop != ReasonExternalActivation {
		t.Fatalf("phase=%s reason=%s, want stopped/external_activation", st.Phase, st.LastStop)
	}
}

func TestExternalActivationUnknownGeneration(t *testing.T) {
	t.Parallel()
	f := newFixture(t, 3, DefaultTunables())
	cfg := seqConfig(3, time.Second, time.Minute)
	cfg.CancelOnHumanInput = true
	mustStart(t, f.svc, cfg)
	f.clock.Advance(0)

	f.svc.OnExternalActivation(ActivationEvent{Item: "t2", Gen: 999})
	if st := f.svc.State(); st.Phase != PhaseStopped {
		t.Fatalf("phase = %s, want stopped", st.Phase)
	}
}

func TestHotkeyStop(t *testing.T) {
	t.Parallel()
	f := newFixture(t, 2, DefaultTunables())
	cfg := seqConfig(2, time.Second, time.Minute)
	mustStart(t, f.svc, cfg)
	f.svc.OnHotkey(HotkeyStop)
	if f.svc.State().Phase != PhaseRunning {
		t.Fatal("hotkey should be ignored without StopOnHotkey")
	}

	cfg.StopOnHotkey = true
	mustStart(t, f.svc, cfg)
	f.svc.Pause(bg)
	f.svc.OnHotkey("other")
	if f.svc.State().Phase != PhasePaused {
		t.Fatal("unknown hotkey should be ignored")
	}
	f.svc.OnHotkey(HotkeyStop)
	if st := f.svc.State(); st.Phase != PhaseStopped || st.LastStop != ReasonHotkey {
		t.Fatalf("phase=%s reason=%s, want stopped/hotkey", st.Phase, st.LastStop)
	}
}

func TestProviderFailuresSkipHops(t *testing.T) {
	t.Parallel()
	f := newFixture(t, 3, DefaultTunables())
	f.prov.set(func(p *fakeProvider) { p.activateErr["t2"] = errGone })
	mustStart(t, f.svc, seqConfig(3, time.Second, time.Minute))
	f.clock.Advance(2 * time.Second) // t1, t2 (fails), t3

	if got := f.prov.ids(); !equalIDs(got, "t1", "t3") {
		t.Fatalf("activations = %v, want t1 t3", got)
	}
	st := f.svc.State()
	if st.Phase != PhaseRunning || st.Skipped != 1 || st.Hops != 2 {
		t.Fatalf("phase=%s skipped=%d hops=%d", st.Phase, st.Skipped, st.Hops)
	}

	f.prov.set(func(p *fakeProvider) { p.listErr = errors.New("provider offline") })
	f.clock.Advance(time.Second)
	f.prov.set(func(p *fakeProvider) { p.listErr = nil; p.items = nil })
	f.clock.Advance(time.Second)
	st = f.svc.State()
	if st.Phase != PhaseRunning || st.Skipped != 3 {
		t.Fatalf("after list error and empty pool: phase=%s skipped=%d", st.Phase, st.Skipped)
	}
}

func TestStartRejectsInvalidConfig(t *testing.T) {
	t.Parallel()
	f := newFixture(t, 3, DefaultTunables())
	first := mustStart(t, f.svc, seqConfig(3, time.Second, time.Minute))

	bad := seqConfig(3, 0, time.Minute)
	if _, err := f.svc.Start(bg, bad); !errors.Is(err, hop.ErrInvalidConfig) {
		t.Fatalf("Start(invalid) error = %v, want ErrInvalidConfig", err)
	}
	st := f.svc.State()
	if st.Phase != PhaseRunning || st.RunID != first.RunID {
		t.Fatalf("invalid start mutated state: %+v", st)
	}
}

func TestRestartResetsRun(t *testing.T) {
	t.Parallel()
	f := newFixture(t, 3, DefaultTunables())
	events, unsub := f.bus.Subscribe(64)
	defer unsub()

	first := mustStart(t, f.svc, seqConfig(3, time.Second, time.Minute))
	f.clock.Advance(2 * time.Second)
	second := mustStart(t, f.svc, seqConfig(3, time.Second, time.Minute))

	if second.RunID == first.RunID || second.RunID == "" {
		t.Fatalf("run ids not distinct: %q %q", first.RunID, second.RunID)
	}
	if second.HistoryDepth != 0 || second.Hops != 0 {
		t.Fatalf("history not reset: %+v", second)
	}
	f.clock.Advance(0)
	if last := f.prov.last(); last.id != "t1" {
		t.Fatalf("sequential cursor not reset, first hop = %s", last.id)
	}

	var restartStop bool
	for len(events) > 0 {
		e := <-events
		if e.Type != TopicStopped {
			continue
		}
		if d, ok := e.Data.(EventData); ok && d.Reason == string(ReasonRestart) && d.RunID == first.RunID {
			restartStop = true
		}
	}
	if !restartStop {
		t.Fatal("missing hop.stopped event with restart reason")
	}
}

func TestEventsPublished(t *testing.T) {
	t.Parallel()
	f := newFixture(t, 2, DefaultTunables())
	events, unsub := f.bus.Subscribe(64)
	defer unsub()

	mustStart(t, f.svc, seqConfig(2, time.Second, 1500*time.Millisecond))
	f.clock.Advance(5 * time.Second)

	seen := map[string]int{}
	for len(events) > 0 {
		e := <-events
		seen[e.Type]++
	}
	if seen[TopicStarted] != 1 || seen[TopicSwitched] != 2 || seen[TopicStopped] != 1 {
		t.Fatalf("unexpected events: %v", seen)
	}
	if seen[TopicState] != 4 {
		t.Fatalf("state events = %d, want 4", seen[TopicState])
	}
}

func TestStaleTimerCallbackIgnored(t *testing.T) {
	t.Parallel()
	f := newFixture(t, 2, DefaultTunables())
	mustStart(t, f.svc, seqConfig(2, time.Second, time.Minute))
	f.svc.mu.Lock()
	stale := f.svc.timerGen
	f.svc.mu.Unlock()

	f.svc.Pause(bg)
	f.svc.onTimer(stale)
	if n := len(f.prov.ids()); n != 0 {
		t.Fatalf("stale callback performed %d hops", n)
	}
	f.svc.Resume(bg)
	f.svc.Stop(bg)
	f.svc.onTimer(stale + 1)
	if st := f.svc.State(); st.Phase != PhaseStopped || len(f.prov.ids()) != 0 {
		t.Fatal("callback after stop resurrected the run")
	}
}

func TestSystemClockRun(t *testing.T) {
	t.Parallel()
	prov := newFakeProvider(3)
	svc := New(prov, DefaultTunables(), logx.Nop(), nil)
	if _, err := svc.Start(bg, seqConfig(3, 20*time.Millisecond, 120*time.Millisecond)); err != nil {
		t.Fatalf("Start: %v", err)
	}
	deadline := time.Now().Add(3 * time.Second)
	for svc.State().Phase != PhaseStopped {
		if time.Now().After(deadline) {
			t.Fatal("run did not stop on its own")
		}
		time.Sleep(10 * time.Millisecond)
	}
	if n := len(prov.ids()); n < 1 || n > 7 {
		t.Fatalf("activations = %d, want 1..7", n)
	}
}

func TestCloseStopsWithShutdown(t *testing.T) {
	t.Parallel()
	f := newFixture(t, 2, DefaultTunables())
	mustStart(t, f.svc, seqConfig(2, time.Second, time.Minute))
	f.svc.Close()
	if st := f.svc.State(); st.Phase != PhaseStopped || st.LastStop != ReasonShutdown {
		t.Fatalf("phase=%s reason=%s", st.Phase, st.LastStop)
	}
}
