package scheduler

import (
	"context"
	"time"

	"tabhop/internal/hop"
	"tabhop/internal/hop/selector"
)

type Phase string

const (
	PhaseStopped Phase = "stopped"
	PhaseRunning Phase = "running"
	PhasePaused  Phase = "paused"
)

// Result is the structured outcome of a control operation.
type Result string

const (
	ResultOK         Result = "ok"
	ResultRejected   Result = "rejected"
	ResultAtBoundary Result = "at_boundary"
)

type StopReason string

const (
	ReasonExplicit           StopReason = "explicit"
	ReasonDeadline           StopReason = "deadline"
	ReasonHumanInput         StopReason = "human_input"
	ReasonExternalActivation StopReason = "external_activation"
	ReasonHotkey             StopReason = "hotkey"
	ReasonRestart            StopReason = "restart"
	ReasonShutdown           StopReason = "shutdown"
)

// HotkeyStop is the hotkey name that stops a run configured with StopOnHotkey.
const HotkeyStop = "stop"

// ItemProvider enumerates and activates items.
//
// Implementations must not call back into the Service synchronously from these
// methods; events are delivered from their own goroutine.
type ItemProvider interface {
	// ListPool returns the candidate items for spec in a stable order.
	ListPool(ctx context.Context, spec hop.PoolSpec) (selector.Pool, error)
	// Activate focuses id. gen is the activation generation; providers that can echo it
	// back with the resulting activation event should do so.
	Activate(ctx context.Context, id hop.ItemID, gen uint64) error
	// FocusContainer brings the surrounding window forward.
	FocusContainer(ctx context.Context) error
}

// ActivationEvent reports that an item became active outside of the scheduler's
// control flow. Gen is the echoed activation generation, 0 when unknown.
type ActivationEvent struct {
	Item hop.ItemID `json:"item"`
	Gen  uint64     `json:"gen,omitempty"`
}

// Tunables are the service-wide knobs; they can change between runs.
type Tunables struct {
	HistoryCapacity int
	BackWindow      int
	// ActivationTimeout bounds every provider call.
	ActivationTimeout time.Duration
	// SelfActivationWindow is how long an activation without generation that matches
	// the last issued item is attributed to the scheduler.
	SelfActivationWindow time.Duration
	NavigateWhilePaused  bool
}

func DefaultTunables() Tunables {
	return Tunables{
		HistoryCapacity:      200,
		BackWindow:           10,
		ActivationTimeout:    2 * time.Second,
		SelfActivationWindow: 500 * time.Millisecond,
		NavigateWhilePaused:  true,
	}
}

func (t Tunables) normalized() Tunables {
	d := DefaultTunables()
	if t.HistoryCapacity <= 0 {
		t.HistoryCapacity = d.HistoryCapacity
	}
	if t.BackWindow <= 0 {
		t.BackWindow = d.BackWindow
	}
	if t.ActivationTimeout <= 0 {
		t.ActivationTimeout = d.ActivationTimeout
	}
	if t.SelfActivationWindow <= 0 {
		t.SelfActivationWindow = d.SelfActivationWindow
	}
	return t
}

// State is a point-in-time view of the run.
type State struct {
	Phase         Phase          `json:"phase"`
	RemainingMs   int64          `json:"remainingMs"`
	HistoryDepth  int            `json:"historyDepth"`
	HistoryCursor int            `json:"historyCursor"`
	Hops          int            `json:"hops"`
	Skipped       int            `json:"skipped"`
	RunID         string         `json:"runId,omitempty"`
	StartedAt     *time.Time     `json:"startedAt,omitempty"`
	Deadline      *time.Time     `json:"deadline,omitempty"`
	LastItem      hop.ItemID     `json:"lastItem,omitempty"`
	LastStop      StopReason     `json:"lastStop,omitempty"`
	Config        *hop.RunConfig `json:"config,omitempty"`
}

// Event topics published on the bus.
const (
	TopicStarted   = "hop.started"
	TopicStopped   = "hop.stopped"
	TopicPaused    = "hop.paused"
	TopicResumed   = "hop.resumed"
	TopicSwitched  = "hop.switched"
	TopicSkipped   = "hop.skipped"
	TopicNavigated = "hop.navigated"
	TopicState     = "hop.state"
)

// EventData is the payload of every scheduler bus event.
type EventData struct {
	RunID  string     `json:"runId,omitempty"`
	Label  string     `json:"label,omitempty"`
	Item   hop.ItemID `json:"item,omitempty"`
	Reason string     `json:"reason,omitempty"`
	Error  string     `json:"error,omitempty"`
	State  State      `json:"state"`
}
