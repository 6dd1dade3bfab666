// Package control is the operation surface shared by every front end (JSON-RPC,
// native messaging, Telegram, triggers). It resolves start requests into run
// configurations and remembers the last accepted parameters.
package control

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"

	"tabhop/internal/hop"
	"tabhop/internal/hop/scheduler"
	"tabhop/internal/storage"
	logx "tabhop/pkg/logx"
)

var (
	ErrUnknownPreset = errors.New("unknown preset")
	ErrUnknownMethod = errors.New("unknown method")
	ErrBadParams     = errors.New("invalid params")
)

// Hopper is the scheduler surface used by the controller.
type Hopper interface {
	Start(ctx context.Context, cfg hop.RunConfig) (scheduler.State, error)
	Stop(ctx context.Context) scheduler.Result
	Pause(ctx context.Context) scheduler.Result
	Resume(ctx context.Context) scheduler.Result
	HopNow(ctx context.Context) scheduler.Result
	StepBack(ctx context.Context) (hop.ItemID, scheduler.Result)
	StepForward(ctx context.Context) (hop.ItemID, scheduler.Result)
	State() scheduler.State
}

// Settings are the reloadable inputs of request resolution.
type Settings struct {
	Policy   hop.VariancePolicy
	Defaults hop.Params
	Presets  map[string]hop.Params
}

// StartRequest selects the parameters of a new run. Params wins over Preset;
// with neither, the last accepted params are reused, falling back to the defaults.
type StartRequest struct {
	Params *hop.Params `json:"params,omitempty"`
	Preset string      `json:"preset,omitempty"`
	// Source labels runs started without a preset (cli, rpc, telegram, trigger ...).
	Source string `json:"source,omitempty"`
}

type ActionResult struct {
	Result scheduler.Result `json:"result"`
	Item   hop.ItemID       `json:"item,omitempty"`
	State  scheduler.State  `json:"state"`
}

// StateResult is the run state plus the params a new start would reuse.
type StateResult struct {
	scheduler.State
	LastParams *hop.Params `json:"lastParams,omitempty"`
}

type Preset struct {
	Name   string     `json:"name"`
	Params hop.Params `json:"params"`
}

type RunsRequest struct {
	Limit int `json:"limit,omitempty"`
}

type Controller struct {
	hop   Hopper
	store storage.Store
	log   logx.Logger

	mu  sync.RWMutex
	set Settings
}

// New returns a controller. store may be nil when persistence is disabled.
func New(h Hopper, store storage.Store, set Settings, log logx.Logger) *Controller {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Controller{hop: h, store: store, log: log, set: set.Normalized()}
}

// Normalized fills the policy and defaults and lowercases preset names.
func (set Settings) Normalized() Settings {
	if set.Policy == "" {
		set.Policy = hop.VarianceReject
	}
	if set.Defaults.Seconds == 0 && set.Defaults.TotalMinutes == 0 {
		set.Defaults = hop.DefaultParams()
	}
	presets := make(map[string]hop.Params, len(set.Presets))
	for name, p := range set.Presets {
		presets[strings.ToLower(strings.TrimSpace(name))] = p
	}
	set.Presets = presets
	return set
}

// Apply swaps the settings; runs already started are unaffected.
func (c *Controller) Apply(set Settings) {
	set = set.Normalized()
	c.mu.Lock()
	c.set = set
	c.mu.Unlock()
}

func (c *Controller) settings() Settings {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.set
}

// Resolve turns req into the params and run config a Start would use.
func (c *Controller) Resolve(ctx context.Context, req StartRequest) (hop.Params, hop.RunConfig, error) {
	set := c.settings()

	var (
		p     hop.Params
		label = strings.TrimSpace(req.Source)
	)
	switch {
	case req.Params != nil:
		p = *req.Params
	case strings.TrimSpace(req.Preset) != "":
		name := strings.ToLower(strings.TrimSpace(req.Preset))
		preset, ok := set.Presets[name]
		if !ok {
			return hop.Params{}, hop.RunConfig{}, fmt.Errorf("%w: %s", ErrUnknownPreset, req.Preset)
		}
		p = preset
		label = name
	default:
		p = c.lastOrDefault(ctx, set)
	}
	if p.Label != "" {
		label = p.Label
	}

	cfg, err := p.RunConfig(set.Policy)
	if err != nil {
		return hop.Params{}, hop.RunConfig{}, err
	}
	cfg.Label = label
	return p, cfg, nil
}

func (c *Controller) lastOrDefault(ctx context.Context, set Settings) hop.Params {
	if c.store != nil {
		p, ok, err := c.store.LoadLastParams(ctx)
		if err != nil {
			c.log.Warn("load last params failed", logx.Err(err))
		}
		if ok {
			return p
		}
	}
	return set.Defaults
}

// Start resolves req and starts a run, replacing any current one.
// Accepted params are persisted as the new last params.
func (c *Controller) Start(ctx context.Context, req StartRequest) (ActionResult, error) {
	p, cfg, err := c.Resolve(ctx, req)
	if err != nil {
		return ActionResult{}, err
	}
	st, err := c.hop.Start(ctx, cfg)
	if err != nil {
		return ActionResult{}, err
	}
	if c.store != nil {
		if err := c.store.SaveLastParams(ctx, p); err != nil {
			c.log.Warn("save last params failed", logx.Err(err))
		}
	}
	return ActionResult{Result: scheduler.ResultOK, State: st}, nil
}

func (c *Controller) Stop(ctx context.Context) ActionResult {
	return c.result(c.hop.Stop(ctx), "")
}

func (c *Controller) Pause(ctx context.Context) ActionResult {
	return c.result(c.hop.Pause(ctx), "")
}

func (c *Controller) Resume(ctx context.Context) ActionResult {
	return c.result(c.hop.Resume(ctx), "")
}

func (c *Controller) Next(ctx context.Context) ActionResult {
	return c.result(c.hop.HopNow(ctx), "")
}

func (c *Controller) Back(ctx context.Context) ActionResult {
	id, r := c.hop.StepBack(ctx)
	return c.result(r, id)
}

func (c *Controller) Forward(ctx context.Context) ActionResult {
	id, r := c.hop.StepForward(ctx)
	return c.result(r, id)
}

func (c *Controller) result(r scheduler.Result, id hop.ItemID) ActionResult {
	return ActionResult{Result: r, Item: id, State: c.hop.State()}
}

func (c *Controller) State(ctx context.Context) StateResult {
	out := StateResult{State: c.hop.State()}
	p := c.lastOrDefault(ctx, c.settings())
	out.LastParams = &p
	return out
}

// Presets lists the configured presets sorted by name.
func (c *Controller) Presets() []Preset {
	set := c.settings()
	out := make([]Preset, 0, len(set.Presets))
	for name, p := range set.Presets {
		out = append(out, Preset{Name: name, Params: p})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

func (c *Controller) HasPreset(name string) bool { return c.settings().HasPreset(name) }

// HasPreset matches name case-insensitively; set must be normalized.
func (set Settings) HasPreset(name string) bool {
	_, ok := set.Presets[strings.ToLower(strings.TrimSpace(name))]
	return ok
}

func (c *Controller) Runs(ctx context.Context, req RunsRequest) ([]storage.RunEvent, error) {
	if c.store == nil {
		return nil, storage.ErrDisabled
	}
	limit := req.Limit
	if limit <= 0 {
		limit = 50
	}
	return c.store.ListRuns(ctx, limit)
}
