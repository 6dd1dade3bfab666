package storage

import (
	"errors"
	"time"
)

var ErrDisabled = errors.New("storage disabled")

// DefaultMaxRunEvents bounds the journal; older events are pruned.
const DefaultMaxRunEvents = 5000

// Config configures storage.
//
// If Driver is empty or "none", storage is disabled.
type Config struct {
	Driver       string
	Path         string
	BusyTimeout  time.Duration // sqlite only; 0 means default
	MaxRunEvents int           // 0 means DefaultMaxRunEvents
}

func (c Config) maxRunEvents() int {
	if c.MaxRunEvents <= 0 {
		return DefaultMaxRunEvents
	}
	return c.MaxRunEvents
}

// RunEvent is one journal entry derived from a scheduler event.
type RunEvent struct {
	At      time.Time `json:"at"`
	RunID   string    `json:"runId"`
	Type    string    `json:"type"`
	Label   string    `json:"label,omitempty"`
	Item    string    `json:"item,omitempty"`
	Reason  string    `json:"reason,omitempty"`
	Error   string    `json:"error,omitempty"`
	Hops    int       `json:"hops"`
	Skipped int       `json:"skipped"`
}
