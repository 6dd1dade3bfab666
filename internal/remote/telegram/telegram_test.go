package telegram

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	tele "gopkg.in/telebot.v4"

	"tabhop/internal/control"
	"tabhop/internal/eventbus"
	"tabhop/internal/hop"
	"tabhop/internal/hop/scheduler"
	logx "tabhop/pkg/logx"
)

type call struct {
	method string
	params string
}

type fakeDispatcher struct {
	mu    sync.Mutex
	calls []call
}

func (f *fakeDispatcher) Dispatch(_ context.Context, method string, params json.RawMessage) (any, error) {
	f.mu.Lock()
	f.calls = append(f.calls, call{method: method, params: string(params)})
	f.mu.Unlock()
	running := scheduler.State{
		Phase:         scheduler.PhaseRunning,
		RemainingMs:   42_400,
		Hops:          3,
		HistoryDepth:  3,
		HistoryCursor: 2,
		LastItem:      "17",
		Config:        &hop.RunConfig{Label: "work"},
	}
	switch method {
	case control.MethodStart:
		var req control.StartRequest
		_ = json.Unmarshal(params, &req)
		if req.Preset == "nope" {
			return nil, fmt.Errorf("%w: nope", control.ErrUnknownPreset)
		}
		return control.ActionResult{Result: scheduler.ResultOK, State: running}, nil
	case control.MethodBack:
		return control.ActionResult{Result: scheduler.ResultAtBoundary, State: running}, nil
	case control.MethodState:
		return control.StateResult{State: scheduler.State{Phase: scheduler.PhaseStopped, LastStop: scheduler.ReasonDeadline}}, nil
	case control.MethodPresets:
		return []control.Preset{{Name: "work", Params: hop.DefaultParams()}}, nil
	default:
		return control.ActionResult{Result: scheduler.ResultOK}, nil
	}
}

func (f *fakeDispatcher) last() call {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.calls) == 0 {
		return call{}
	}
	return f.calls[len(f.calls)-1]
}

type fakeSender struct {
	mu   sync.Mutex
	sent []string
	to   []string
}

func (f *fakeSender) Send(to tele.Recipient, what interface{}, _ ...interface{}) (*tele.Message, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent = append(f.sent, fmt.Sprint(what))
	f.to = append(f.to, to.Recipient())
	return &tele.Message{}, nil
}

func (f *fakeSender) messages() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.sent...)
}

func newTestService(d Dispatcher, cfg Config) *Service {
	s := newService(d, logx.Nop())
	s.Apply(cfg)
	return s
}

func TestParseCommand(t *testing.T) {
	t.Parallel()
	tests := []struct {
		text string
		name string
		args []string
		ok   bool
	}{
		{text: "/hop_start work", name: "hop_start", args: []string{"work"}, ok: true},
		{text: "/HOP_Stop@tabhop_bot", name: "hop_stop", ok: true},
		{text: "  /hop_runs   5 ", name: "hop_runs", args: []string{"5"}, ok: true},
		{text: "hello", ok: false},
		{text: "", ok: false},
		{text: "/", ok: false},
	}
	for _, tt := range tests {
		name, args, ok := parseCommand(tt.text)
		if ok != tt.ok || name != tt.name || strings.Join(args, " ") != strings.Join(tt.args, " ") {
			t.Fatalf("parseCommand(%q) = %q %v %v", tt.text, name, args, ok)
		}
	}
}

func TestReplyOwnerOnly(t *testing.T) {
	t.Parallel()
	d := &fakeDispatcher{}
	s := newTestService(d, Config{OwnerUserIDs: []int64{7}})
	ctx := context.Background()

	if got := s.Reply(ctx, 99, "/hop_stop"); got != "" {
		t.Fatalf("non-owner got reply %q", got)
	}
	if len(d.calls) != 0 {
		t.Fatal("non-owner command must not reach the controller")
	}
	if got := s.Reply(ctx, 7, "just chatting"); got != "" {
		t.Fatalf("plain text got reply %q", got)
	}

	got := s.Reply(ctx, 7, "/hop_start work")
	if !strings.HasPrefix(got, "ok\nphase: running (work)") || !strings.Contains(got, "remaining: 42s") {
		t.Fatalf("unexpected start reply:\n%s", got)
	}
	c := d.last()
	if c.method != control.MethodStart || !strings.Contains(c.params, `"preset":"work"`) || !strings.Contains(c.params, `"source":"telegram"`) {
		t.Fatalf("unexpected dispatch: %+v", c)
	}

	s.Apply(Config{OwnerUserIDs: []int64{8}})
	if got := s.Reply(ctx, 7, "/hop_stop"); got != "" {
		t.Fatal("owners should follow Apply")
	}
}

func TestReplyCommands(t *testing.T) {
	t.Parallel()
	d := &fakeDispatcher{}
	s := newTestService(d, Config{OwnerUserIDs: []int64{1}, CommandsPerSec: 100})
	ctx := context.Background()

	tests := []struct {
		text   string
		method string
		want   string
	}{
		{text: "/hop_back", method: control.MethodBack, want: "at_boundary"},
		{text: "/hop_status", method: control.MethodState, want: "last stop: deadline"},
		{text: "/hop_presets", method: control.MethodPresets, want: "work: tabs 1-1 every 5s for 1m (random)"},
		{text: "/hop_runs 500", method: control.MethodRuns, want: "ok"},
		{text: "/hop_start nope", method: control.MethodStart, want: "unknown preset"},
	}
	for _, tt := range tests {
		got := s.Reply(ctx, 1, tt.text)
		if !strings.Contains(got, tt.want) {
			t.Fatalf("%s: reply %q does not contain %q", tt.text, got, tt.want)
		}
		if c := d.last(); c.method != tt.method {
			t.Fatalf("%s: dispatched %q, want %q", tt.text, c.method, tt.method)
		}
	}
	if c := d.calls[3]; !strings.Contains(c.params, `"limit":50`) {
		t.Fatalf("runs limit should be capped: %s", c.params)
	}

	n := len(d.calls)
	if got := s.Reply(ctx, 1, "/hop_runs zero"); !strings.Contains(got, "limit") || len(d.calls) != n {
		t.Fatalf("bad runs arg: %q", got)
	}
	if got := s.Reply(ctx, 1, "/whatever"); !strings.Contains(got, "/hop_start") {
		t.Fatalf("unknown command should get help, got %q", got)
	}
}

func TestReplyRateLimited(t *testing.T) {
	t.Parallel()
	d := &fakeDispatcher{}
	s := newTestService(d, Config{OwnerUserIDs: []int64{1}, CommandsPerSec: 1})
	ctx := context.Background()
	limited := false
	for i := 0; i < 5; i++ {
		if s.Reply(ctx, 1, "/hop_next") == "slow down" {
			limited = true
		}
	}
	if !limited {
		t.Fatal("expected rate limiting after the burst")
	}
}

func TestNotifyStopped(t *testing.T) {
	t.Parallel()
	snd := &fakeSender{}
	s := newTestService(&fakeDispatcher{}, Config{NotifyChatID: 555})
	s.send = snd

	bus := eventbus.New()
	run := s.Notifier(bus)
	// queued before the loop starts
	bus.Publish(eventbus.Event{Type: scheduler.TopicSwitched, Data: scheduler.EventData{RunID: "r"}})
	bus.Publish(eventbus.Event{Type: scheduler.TopicStopped, Data: scheduler.EventData{
		RunID:  "01HZZZZZZZZZZZZZABCDEFGH",
		Label:  "work",
		Reason: string(scheduler.ReasonDeadline),
		State:  scheduler.State{Hops: 4, Skipped: 1},
	}})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		run(ctx)
		close(done)
	}()
	defer func() {
		cancel()
		<-done
	}()

	deadline := time.Now().Add(2 * time.Second)
	for len(snd.messages()) == 0 && time.Now().Before(deadline) {
		time.Sleep(10 * time.Millisecond)
	}
	msgs := snd.messages()
	if len(msgs) != 1 {
		t.Fatalf("notifications = %q, want one", msgs)
	}
	if want := "work run ABCDEFGH stopped: deadline\nhops: 4 skipped: 1"; msgs[0] != want {
		t.Fatalf("message = %q, want %q", msgs[0], want)
	}
	snd.mu.Lock()
	to := snd.to[0]
	snd.mu.Unlock()
	if to != "555" {
		t.Fatalf("sent to %q", to)
	}
}

func TestNewRequiresToken(t *testing.T) {
	t.Parallel()
	if _, err := New(Config{}, &fakeDispatcher{}, logx.Nop()); err == nil {
		t.Fatal("empty token should be rejected")
	}
}
