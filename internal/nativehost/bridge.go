package nativehost

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"sort"
	"strconv"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"tabhop/internal/eventbus"
	"tabhop/internal/hop"
	"tabhop/internal/hop/scheduler"
	"tabhop/internal/hop/selector"
	"tabhop/internal/provider"
	logx "tabhop/pkg/logx"
)

var (
	ErrClosed = errors.New("native host closed")
	ErrRemote = errors.New("extension error")
)

// Calls made to the extension.
const (
	callTabsList     = "tabs.list"
	callTabsActivate = "tabs.activate"
	callWindowFocus  = "window.focus"
)

// Events received from the extension.
const (
	EventHumanInput   = "human.input"
	EventTabActivated = "tab.activated"
	EventTabsChanged  = "tabs.changed"
	EventHotkey       = "hotkey"
)

// EventStateChanged is pushed to the extension on every scheduler transition.
const EventStateChanged = "state.changed"

// Sink receives the extension's activity events.
type Sink interface {
	OnHumanInput()
	OnExternalActivation(ev scheduler.ActivationEvent)
	OnHotkey(name string)
}

// Dispatcher serves control requests sent by the extension popup.
type Dispatcher interface {
	Dispatch(ctx context.Context, method string, params json.RawMessage) (any, error)
}

// Tab is one browser tab as reported by tabs.list.
type Tab struct {
	ID     int64  `json:"id"`
	Index  int    `json:"index"`
	Active bool   `json:"active,omitempty"`
	Title  string `json:"title,omitempty"`
}

type activateParams struct {
	TabID int64  `json:"tabId"`
	Gen   uint64 `json:"gen,omitempty"`
}

type activatedEvent struct {
	TabID int64  `json:"tabId"`
	Gen   uint64 `json:"gen,omitempty"`
}

type hotkeyEvent struct {
	Name string `json:"name"`
}

type Config struct {
	// HumanInputThrottle is the minimum spacing of forwarded human.input events.
	HumanInputThrottle time.Duration
	EventBuffer        int
}

func (c Config) normalized() Config {
	if c.HumanInputThrottle <= 0 {
		c.HumanInputThrottle = 500 * time.Millisecond
	}
	if c.EventBuffer <= 0 {
		c.EventBuffer = 64
	}
	return c
}

// Bridge is the host side of one extension connection. It implements the
// scheduler's ItemProvider and feeds extension events to a Sink.
//
// Inbound frames are read on one goroutine that never blocks on the scheduler:
// responses complete pending calls, events are queued for a separate dispatcher
// goroutine, control requests run on their own goroutine.
type Bridge struct {
	r   io.Reader
	w   io.Writer
	cfg Config
	log logx.Logger

	wmu sync.Mutex

	mu      sync.Mutex
	nextID  int
	pending map[int]chan *frame
	closed  bool

	done   chan struct{}
	events chan *frame

	bindMu sync.RWMutex
	sink   Sink
	ctl    Dispatcher

	human *rate.Limiter
	vers  provider.Versioner
}

func New(r io.Reader, w io.Writer, cfg Config, log logx.Logger) *Bridge {
	if log.IsZero() {
		log = logx.Nop()
	}
	cfg = cfg.normalized()
	return &Bridge{
		r:       r,
		w:       w,
		cfg:     cfg,
		log:     log,
		pending: map[int]chan *frame{},
		done:    make(chan struct{}),
		events:  make(chan *frame, cfg.EventBuffer),
		human:   rate.NewLimiter(rate.Every(cfg.HumanInputThrottle), 1),
	}
}

// Bind attaches the event sink and control dispatcher. Either may be nil.
func (b *Bridge) Bind(sink Sink, ctl Dispatcher) {
	b.bindMu.Lock()
	b.sink, b.ctl = sink, ctl
	b.bindMu.Unlock()
}

func (b *Bridge) bound() (Sink, Dispatcher) {
	b.bindMu.RLock()
	defer b.bindMu.RUnlock()
	return b.sink, b.ctl
}

// Done is closed when the connection ends.
func (b *Bridge) Done() <-chan struct{} { return b.done }

// Run reads frames until the extension disconnects (nil) or a read fails.
// Pending calls fail with ErrClosed afterwards. A blocked read is only released by
// closing the reader.
func (b *Bridge) Run(ctx context.Context) error {
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		b.dispatchEvents(ctx)
	}()

	err := b.readLoop(ctx)
	b.shutdown()
	wg.Wait()
	if errors.Is(err, io.EOF) || errors.Is(err, io.ErrClosedPipe) {
		b.log.Info("extension disconnected")
		return nil
	}
	return err
}

func (b *Bridge) readLoop(ctx context.Context) error {
	for {
		if err := ctx.Err(); err != nil {
			return nil
		}
		data, err := ReadMessage(b.r)
		if err != nil {
			return err
		}
		f, err := parseFrame(data)
		if err != nil {
			b.log.Warn("invalid frame", logx.Err(err), logx.Int("bytes", len(data)))
			_ = b.write(errorResponse(0, fmt.Errorf("invalid request: %w", err)))
			continue
		}
		switch f.kind() {
		case kindResponse:
			b.complete(f)
		case kindEvent:
			select {
			case b.events <- f:
			default:
				b.log.Warn("event queue full, dropping", logx.String("event", f.Event))
			}
		case kindRequest:
			go b.serve(ctx, f)
		}
	}
}

func (b *Bridge) shutdown() {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return
	}
	b.closed = true
	pending := b.pending
	b.pending = map[int]chan *frame{}
	b.mu.Unlock()

	for _, ch := range pending {
		close(ch)
	}
	close(b.done)
}

func (b *Bridge) complete(f *frame) {
	b.mu.Lock()
	ch, ok := b.pending[f.ID]
	delete(b.pending, f.ID)
	b.mu.Unlock()
	if !ok {
		b.log.Debug("response without pending call", logx.Int("id", f.ID))
		return
	}
	ch <- f
}

func (b *Bridge) dispatchEvents(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-b.done:
			return
		case f := <-b.events:
			b.handleEvent(f)
		}
	}
}

func (b *Bridge) handleEvent(f *frame) {
	sink, _ := b.bound()
	switch f.Event {
	case EventHumanInput:
		if !b.human.Allow() {
			return
		}
		if sink != nil {
			sink.OnHumanInput()
		}
	case EventTabActivated:
		var ev activatedEvent
		if err := json.Unmarshal(f.Data, &ev); err != nil {
			b.log.Warn("bad tab.activated payload", logx.Err(err))
			return
		}
		if sink != nil {
			sink.OnExternalActivation(scheduler.ActivationEvent{Item: tabItem(ev.TabID), Gen: ev.Gen})
		}
	case EventTabsChanged:
		v := b.vers.Bump()
		b.log.Debug("tabs changed", logx.Uint64("pool_version", v))
	case EventHotkey:
		var ev hotkeyEvent
		if err := json.Unmarshal(f.Data, &ev); err != nil {
			b.log.Warn("bad hotkey payload", logx.Err(err))
			return
		}
		if sink != nil {
			sink.OnHotkey(ev.Name)
		}
	default:
		b.log.Debug("unknown event", logx.String("event", f.Event))
	}
}

func (b *Bridge) serve(ctx context.Context, f *frame) {
	_, ctl := b.bound()
	if ctl == nil {
		_ = b.write(errorResponse(f.ID, errors.New("control not available")))
		return
	}
	result, err := ctl.Dispatch(ctx, f.Method, f.Params)
	if err != nil {
		b.log.Debug("control request failed", logx.String("method", f.Method), logx.Err(err))
		_ = b.write(errorResponse(f.ID, err))
		return
	}
	_ = b.write(successResponse(f.ID, result))
}

func (b *Bridge) write(v any) error {
	msg, err := json.Marshal(v)
	if err != nil {
		return err
	}
	b.wmu.Lock()
	defer b.wmu.Unlock()
	return WriteMessage(b.w, msg)
}

// Notify pushes an event to the extension.
func (b *Bridge) Notify(event string, data any) error {
	select {
	case <-b.done:
		return ErrClosed
	default:
	}
	return b.write(Event{Event: event, Data: data})
}

// call sends a request to the extension and waits for its response.
func (b *Bridge) call(ctx context.Context, method string, params, out any) error {
	var raw json.RawMessage
	if params != nil {
		p, err := json.Marshal(params)
		if err != nil {
			return err
		}
		raw = p
	}

	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return ErrClosed
	}
	b.nextID++
	id := b.nextID
	ch := make(chan *frame, 1)
	b.pending[id] = ch
	b.mu.Unlock()

	if err := b.write(Request{ID: id, Method: method, Params: raw}); err != nil {
		b.forget(id)
		return fmt.Errorf("%s: %w", method, err)
	}

	select {
	case <-ctx.Done():
		b.forget(id)
		return fmt.Errorf("%s: %w", method, ctx.Err())
	case f, ok := <-ch:
		if !ok {
			return fmt.Errorf("%s: %w", method, ErrClosed)
		}
		if !f.Ok {
			return fmt.Errorf("%s: %w: %s", method, ErrRemote, f.Error)
		}
		if out != nil && len(f.Result) > 0 {
			if err := json.Unmarshal(f.Result, out); err != nil {
				return fmt.Errorf("%s: decode result: %w", method, err)
			}
		}
		return nil
	}
}

func (b *Bridge) forget(id int) {
	b.mu.Lock()
	delete(b.pending, id)
	b.mu.Unlock()
}

// Tabs lists the tabs of the current window in index order.
func (b *Bridge) Tabs(ctx context.Context) ([]Tab, error) {
	var tabs []Tab
	if err := b.call(ctx, callTabsList, nil, &tabs); err != nil {
		return nil, err
	}
	sortTabs(tabs)
	return tabs, nil
}

func (b *Bridge) ListPool(ctx context.Context, spec hop.PoolSpec) (selector.Pool, error) {
	tabs, err := b.Tabs(ctx)
	if err != nil {
		return selector.Pool{}, err
	}
	items := make([]hop.ItemID, len(tabs))
	for i, t := range tabs {
		items[i] = tabItem(t.ID)
	}
	return b.vers.Snapshot(spec, items), nil
}

func (b *Bridge) Activate(ctx context.Context, id hop.ItemID, gen uint64) error {
	tabID, err := strconv.ParseInt(string(id), 10, 64)
	if err != nil {
		return fmt.Errorf("activate: bad tab id %q", id)
	}
	return b.call(ctx, callTabsActivate, activateParams{TabID: tabID, Gen: gen}, nil)
}

func (b *Bridge) FocusContainer(ctx context.Context) error {
	return b.call(ctx, callWindowFocus, nil, nil)
}

// Forwarder subscribes to state changes now and returns the loop that pushes
// them to the extension until ctx ends or the connection closes.
func (b *Bridge) Forwarder(bus eventbus.Bus) func(context.Context) error {
	ch, unsub := eventbus.SubscribeTopics(bus, 32, scheduler.TopicState)
	return func(ctx context.Context) error {
		defer unsub()
		return b.forward(ctx, ch)
	}
}

func (b *Bridge) forward(ctx context.Context, ch <-chan eventbus.Event) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-b.done:
			return nil
		case e, ok := <-ch:
			if !ok {
				return nil
			}
			data, ok := e.Data.(scheduler.EventData)
			if !ok || e.Type != scheduler.TopicState {
				continue
			}
			if err := b.Notify(EventStateChanged, data.State); err != nil && !errors.Is(err, ErrClosed) {
				b.log.Debug("state push failed", logx.Err(err))
			}
		}
	}
}

func tabItem(id int64) hop.ItemID { return hop.ItemID(strconv.FormatInt(id, 10)) }

func sortTabs(tabs []Tab) {
	sort.SliceStable(tabs, func(i, j int) bool { return tabs[i].Index < tabs[j].Index })
}
