package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"tabhop/internal/control"
	"tabhop/internal/hop"
	"tabhop/internal/hop/scheduler"
	"tabhop/internal/nativehost"
	"tabhop/internal/observability/pprof"
	"tabhop/internal/rpc"
	"tabhop/internal/storage"
	"tabhop/internal/trigger"
)

const DefaultRPCAddr = "127.0.0.1:7474"

// Default returns the configuration used when no file exists.
func Default() *Config {
	return &Config{
		Logging: LoggingConfig{Level: "info", Console: true},
	}
}

// Validate checks everything the daemon would otherwise discover at apply time.
func Validate(cfg *Config) error {
	if cfg == nil {
		return errors.New("config is nil")
	}
	var errs []error
	if _, err := cfg.Tunables(); err != nil {
		errs = append(errs, err)
	}
	set, err := cfg.ControlSettings()
	if err != nil {
		errs = append(errs, err)
	} else {
		if _, err := set.Defaults.RunConfig(set.Policy); err != nil {
			errs = append(errs, fmt.Errorf("defaults: %w", err))
		}
		for name, p := range set.Presets {
			if _, err := p.RunConfig(set.Policy); err != nil {
				errs = append(errs, fmt.Errorf("presets.%s: %w", name, err))
			}
		}
		seen := map[string]bool{}
		for i, t := range cfg.Triggers {
			name := strings.TrimSpace(t.Name)
			if name == "" {
				errs = append(errs, fmt.Errorf("triggers[%d]: name is required", i))
				continue
			}
			if seen[name] {
				errs = append(errs, fmt.Errorf("triggers[%d]: duplicate name %q", i, name))
			}
			seen[name] = true
			if err := trigger.ValidateSchedule(t.Schedule); err != nil {
				errs = append(errs, fmt.Errorf("triggers.%s: %w", name, err))
			}
			if !set.HasPreset(t.Preset) {
				errs = append(errs, fmt.Errorf("triggers.%s: unknown preset %q", name, t.Preset))
			}
		}
	}
	if tz := strings.TrimSpace(cfg.Timezone); tz != "" {
		if _, err := time.LoadLocation(tz); err != nil {
			errs = append(errs, fmt.Errorf("timezone: %w", err))
		}
	}
	if _, err := cfg.NativeHostConfig(); err != nil {
		errs = append(errs, err)
	}
	if _, err := cfg.StorageConfig(); err != nil {
		errs = append(errs, err)
	}
	if tg := cfg.Telegram; tg != nil && tg.Enabled {
		if strings.TrimSpace(tg.Token) == "" {
			errs = append(errs, errors.New("telegram.token is required when telegram is enabled"))
		}
		if len(tg.OwnerUserIDs) == 0 {
			errs = append(errs, errors.New("telegram.owner_user_ids must not be empty"))
		}
		if _, err := ParseDurationField("telegram.poll_timeout", tg.PollTimeout); err != nil {
			errs = append(errs, err)
		}
	}
	if err := cfg.DebugServerConfig().Validate(); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

func (c *Config) Tunables() (scheduler.Tunables, error) {
	s := c.Scheduler
	t := scheduler.DefaultTunables()
	if s.HistoryCapacity < 0 || s.BackWindow < 0 {
		return t, errors.New("scheduler: history_capacity and back_window must be >= 0")
	}
	if s.HistoryCapacity > 0 {
		t.HistoryCapacity = s.HistoryCapacity
	}
	if s.BackWindow > 0 {
		t.BackWindow = s.BackWindow
	}
	var err error
	if t.ActivationTimeout, err = ParseDurationOrDefault("scheduler.activation_timeout", s.ActivationTimeout, t.ActivationTimeout); err != nil {
		return t, err
	}
	if t.SelfActivationWindow, err = ParseDurationOrDefault("scheduler.self_activation_window", s.SelfActivationWindow, t.SelfActivationWindow); err != nil {
		return t, err
	}
	if s.NavigateWhilePaused != nil {
		t.NavigateWhilePaused = *s.NavigateWhilePaused
	}
	return t, nil
}

// ControlSettings maps defaults, presets and the variance policy for the controller.
func (c *Config) ControlSettings() (control.Settings, error) {
	policy, err := hop.ParseVariancePolicy(c.Scheduler.VarianceConflict)
	if err != nil {
		return control.Settings{}, fmt.Errorf("scheduler.variance_conflict: %w", err)
	}
	set := control.Settings{
		Policy:   policy,
		Defaults: hop.DefaultParams(),
	}
	if c.Defaults != nil {
		set.Defaults = *c.Defaults
	}
	if len(c.Presets) > 0 {
		set.Presets = make(map[string]hop.Params, len(c.Presets))
		for name, p := range c.Presets {
			name = strings.TrimSpace(name)
			if name == "" {
				return control.Settings{}, errors.New("presets: empty preset name")
			}
			set.Presets[name] = p
		}
	}
	return set.Normalized(), nil
}

// TriggerConfig returns the enabled triggers.
func (c *Config) TriggerConfig() trigger.Config {
	out := trigger.Config{Timezone: strings.TrimSpace(c.Timezone)}
	for _, t := range c.Triggers {
		if !t.IsEnabled() {
			continue
		}
		out.Triggers = append(out.Triggers, trigger.Trigger{
			Name:         strings.TrimSpace(t.Name),
			Schedule:     t.Schedule,
			Preset:       t.Preset,
			SkipIfActive: t.SkipIfActive,
		})
	}
	return out
}

func (c *Config) RPCServerConfig() rpc.Config {
	addr := strings.TrimSpace(c.RPC.Addr)
	if addr == "" {
		addr = DefaultRPCAddr
	}
	return rpc.Config{Addr: addr, Token: strings.TrimSpace(c.RPC.Token), WebSocket: c.RPC.WebSocket}
}

func (c *Config) NativeHostConfig() (nativehost.Config, error) {
	th, err := ParseDurationField("scheduler.human_input_throttle", c.Scheduler.HumanInputThrottle)
	if err != nil {
		return nativehost.Config{}, err
	}
	if c.NativeHost.EventBuffer < 0 {
		return nativehost.Config{}, errors.New("nativehost.event_buffer must be >= 0")
	}
	return nativehost.Config{HumanInputThrottle: th, EventBuffer: c.NativeHost.EventBuffer}, nil
}

// StorageConfig returns a disabled config when the section is omitted.
func (c *Config) StorageConfig() (storage.Config, error) {
	s := c.Storage
	if s == nil {
		return storage.Config{}, nil
	}
	busy, err := ParseDurationField("storage.busy_timeout", s.BusyTimeout)
	if err != nil {
		return storage.Config{}, err
	}
	if s.MaxRunEvents < 0 {
		return storage.Config{}, errors.New("storage.max_run_events must be >= 0")
	}
	return storage.Config{
		Driver:       strings.TrimSpace(s.Driver),
		Path:         strings.TrimSpace(s.Path),
		BusyTimeout:  busy,
		MaxRunEvents: s.MaxRunEvents,
	}, nil
}

// TelegramPollTimeout returns the long poll timeout, 10s by default.
func (c *Config) TelegramPollTimeout() time.Duration {
	if c.Telegram == nil {
		return 10 * time.Second
	}
	d, err := ParseDurationOrDefault("telegram.poll_timeout", c.Telegram.PollTimeout, 10*time.Second)
	if err != nil {
		return 10 * time.Second
	}
	return d
}

// DebugServerConfig returns a disabled config when the section is omitted.
func (c *Config) DebugServerConfig() pprof.Config {
	d := c.Debug
	if d == nil {
		return pprof.Config{}
	}
	return pprof.Config{
		Enabled:              d.Enabled,
		Addr:                 strings.TrimSpace(d.Addr),
		Token:                strings.TrimSpace(d.Token),
		MutexProfileFraction: d.MutexProfileFraction,
		BlockProfileRate:     d.BlockProfileRate,
	}
}
