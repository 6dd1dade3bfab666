package hop

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

var (
	// ErrInvalidConfig wraps every run configuration rejection.
	ErrInvalidConfig = errors.New("invalid run config")
	// ErrConflictingVariance is returned when percentage and range variance are both requested.
	ErrConflictingVariance = fmt.Errorf("%w: percentage and range variance are mutually exclusive", ErrInvalidConfig)
)

// ItemID identifies one switchable item (a browser tab id rendered in decimal).
type ItemID string

type PoolKind string

const (
	// PoolRange selects 1-based inclusive positions over the provider's stable order.
	PoolRange PoolKind = "range"
	// PoolSet selects an explicit list of item ids.
	PoolSet PoolKind = "set"
)

// PoolSpec describes which items are eligible for selection.
type PoolSpec struct {
	Kind  PoolKind `json:"kind"`
	Start int      `json:"start,omitempty"`
	End   int      `json:"end,omitempty"`
	Items []ItemID `json:"items,omitempty"`
}

func RangePool(start, end int) PoolSpec { return PoolSpec{Kind: PoolRange, Start: start, End: end} }

func SetPool(items ...ItemID) PoolSpec {
	return PoolSpec{Kind: PoolSet, Items: append([]ItemID(nil), items...)}
}

func (p PoolSpec) String() string {
	switch p.Kind {
	case PoolRange:
		return fmt.Sprintf("range[%d..%d]", p.Start, p.End)
	case PoolSet:
		return fmt.Sprintf("set(%d)", len(p.Items))
	default:
		return string(p.Kind)
	}
}

type VarianceMode string

const (
	VarianceNone          VarianceMode = "none"
	VariancePercentage    VarianceMode = "percentage"
	VarianceAbsoluteRange VarianceMode = "absoluteRange"
)

// Variance configures the random deviation applied to the base interval.
//
// For absoluteRange, Min/Max are offset magnitudes around the base interval unless
// Absolute is set, in which case they are the low/high bounds of the delay itself.
type Variance struct {
	Mode     VarianceMode  `json:"mode"`
	Percent  float64       `json:"percent,omitempty"`
	Min      time.Duration `json:"min,omitempty"`
	Max      time.Duration `json:"max,omitempty"`
	Absolute bool          `json:"absolute,omitempty"`
}

type SelectionMode string

const (
	SelectRandom     SelectionMode = "random"
	SelectSequential SelectionMode = "sequential"
)

// RunConfig is immutable for the lifetime of one run.
type RunConfig struct {
	// Label names the origin of the run (preset name, "cli", "extension", ...).
	Label string `json:"label,omitempty"`

	Pool     PoolSpec      `json:"pool"`
	Interval time.Duration `json:"interval"`
	Variance Variance      `json:"variance"`
	Mode     SelectionMode `json:"mode"`
	Duration time.Duration `json:"duration"`

	CancelOnHumanInput bool `json:"cancel_on_human_input"`
	StopOnHotkey       bool `json:"stop_on_hotkey,omitempty"`
}

// Validate reports the first configuration error. It never modifies c.
func (c RunConfig) Validate() error {
	switch c.Pool.Kind {
	case PoolRange:
		if c.Pool.Start < 1 {
			return fmt.Errorf("%w: pool range start must be >= 1 (got %d)", ErrInvalidConfig, c.Pool.Start)
		}
		if c.Pool.End < c.Pool.Start {
			return fmt.Errorf("%w: pool range end %d is before start %d", ErrInvalidConfig, c.Pool.End, c.Pool.Start)
		}
	case PoolSet:
		if len(c.Pool.Items) == 0 {
			return fmt.Errorf("%w: pool set is empty", ErrInvalidConfig)
		}
		for i, id := range c.Pool.Items {
			if strings.TrimSpace(string(id)) == "" {
				return fmt.Errorf("%w: pool set item %d is blank", ErrInvalidConfig, i)
			}
		}
	default:
		return fmt.Errorf("%w: unknown pool kind %q", ErrInvalidConfig, c.Pool.Kind)
	}

	if c.Interval <= 0 {
		return fmt.Errorf("%w: interval must be > 0", ErrInvalidConfig)
	}
	if c.Duration <= 0 {
		return fmt.Errorf("%w: duration must be > 0", ErrInvalidConfig)
	}

	switch c.Mode {
	case SelectRandom, SelectSequential:
	default:
		return fmt.Errorf("%w: unknown selection mode %q", ErrInvalidConfig, c.Mode)
	}

	v := c.Variance
	switch v.Mode {
	case VarianceNone, "":
	case VariancePercentage:
		if v.Percent < 0 || v.Percent > 1 {
			return fmt.Errorf("%w: variance percent must be within [0,1] (got %g)", ErrInvalidConfig, v.Percent)
		}
	case VarianceAbsoluteRange:
		if v.Min < 0 || v.Max < 0 {
			return fmt.Errorf("%w: variance range bounds must be >= 0", ErrInvalidConfig)
		}
		if v.Min > v.Max {
			return fmt.Errorf("%w: variance range min %s is above max %s", ErrInvalidConfig, v.Min, v.Max)
		}
		if v.Absolute && v.Max <= 0 {
			return fmt.Errorf("%w: absolute variance range needs max > 0", ErrInvalidConfig)
		}
	default:
		return fmt.Errorf("%w: unknown variance mode %q", ErrInvalidConfig, v.Mode)
	}
	return nil
}
