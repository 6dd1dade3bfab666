package config

import (
	"tabhop/internal/hop"
)

// Config is the daemon configuration file. Every section is optional.
type Config struct {
	Logging    LoggingConfig         `json:"logging"`
	Scheduler  SchedulerConfig       `json:"scheduler"`
	Defaults   *hop.Params           `json:"defaults,omitempty"`
	Presets    map[string]hop.Params `json:"presets,omitempty"`
	Triggers   []TriggerConfig       `json:"triggers,omitempty"`
	// Timezone is the IANA zone cron triggers run in; empty means Local.
	Timezone   string                `json:"timezone,omitempty"`
	RPC        RPCConfig             `json:"rpc"`
	NativeHost NativeHostConfig      `json:"nativehost"`
	Storage    *StorageConfig        `json:"storage,omitempty"`
	Telegram   *TelegramConfig       `json:"telegram,omitempty"`
	Debug      *DebugConfig          `json:"debug,omitempty"`
}

type LoggingConfig struct {
	Level   string      `json:"level"`
	Console bool        `json:"console"`
	JSON    bool        `json:"json,omitempty"`
	File    LoggingFile `json:"file"`
}

type LoggingFile struct {
	Enabled bool   `json:"enabled"`
	Path    string `json:"path"`
}

// SchedulerConfig tunes the hop scheduler.
//
// All durations are Go duration strings (e.g. "500ms", "2s").
// Defaults (when fields are omitted/zero):
//   - history_capacity: 200
//   - back_window: 10
//   - activation_timeout: "2s"
//   - self_activation_window: "500ms"
//   - variance_conflict: "reject"
//   - navigate_while_paused: true
//   - human_input_throttle: "500ms"
type SchedulerConfig struct {
	HistoryCapacity      int    `json:"history_capacity,omitempty"`
	BackWindow           int    `json:"back_window,omitempty"`
	ActivationTimeout    string `json:"activation_timeout,omitempty"`
	SelfActivationWindow string `json:"self_activation_window,omitempty"`

	// VarianceConflict is "reject" or "prefer_range".
	VarianceConflict string `json:"variance_conflict,omitempty"`

	// NavigateWhilePaused is a pointer so an explicit false can be told apart from "omitted".
	NavigateWhilePaused *bool `json:"navigate_while_paused,omitempty"`

	HumanInputThrottle string `json:"human_input_throttle,omitempty"`
}

// TriggerConfig starts a preset run on a schedule.
//
// Schedule accepts cron expressions (seconds optional, descriptors like "@hourly"),
// intervals ("30m", "02:30", "every:45s") and daily times ("at:09:30").
type TriggerConfig struct {
	Name         string `json:"name"`
	Schedule     string `json:"schedule"`
	Preset       string `json:"preset"`
	Enabled      *bool  `json:"enabled,omitempty"`
	SkipIfActive bool   `json:"skip_if_active,omitempty"`
}

func (t TriggerConfig) IsEnabled() bool { return t.Enabled == nil || *t.Enabled }

// RPCConfig controls the JSON-RPC control endpoint.
//
// Security note: bind to localhost unless a token is set.
type RPCConfig struct {
	Enabled   bool   `json:"enabled"`
	Addr      string `json:"addr,omitempty"`  // default: "127.0.0.1:7474"
	Token     string `json:"token,omitempty"` // optional bearer token (do not log)
	WebSocket bool   `json:"websocket,omitempty"`
}

type NativeHostConfig struct {
	EventBuffer int `json:"event_buffer,omitempty"`
}

// StorageConfig controls the optional persistence layer.
//
// Example:
//
//	"storage": { "driver": "sqlite", "path": "./tabhop.db" }
type StorageConfig struct {
	Driver       string `json:"driver"`
	Path         string `json:"path"`
	BusyTimeout  string `json:"busy_timeout,omitempty"` // Go duration string (sqlite)
	MaxRunEvents int    `json:"max_run_events,omitempty"`
}

type TelegramConfig struct {
	Enabled      bool    `json:"enabled"`
	Token        string  `json:"token"`
	OwnerUserIDs []int64 `json:"owner_user_ids"`
	// PollTimeout is a Go duration string (e.g. "10s", "2m").
	PollTimeout string `json:"poll_timeout,omitempty"`
	// NotifyChatID receives a message whenever a run stops. 0 disables.
	NotifyChatID int64 `json:"notify_chat_id,omitempty"`
}

// DebugConfig enables the pprof and status endpoint. Keep it on localhost or set a token.
type DebugConfig struct {
	Enabled              bool   `json:"enabled"`
	Addr                 string `json:"addr,omitempty"` // default: "127.0.0.1:6060"
	Token                string `json:"token,omitempty"`
	MutexProfileFraction int    `json:"mutex_profile_fraction,omitempty"`
	BlockProfileRate     int    `json:"block_profile_rate,omitempty"`
}
