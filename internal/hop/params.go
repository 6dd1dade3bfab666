package hop

import (
	"fmt"
	"math"
	"strings"
	"time"
)

// VariancePolicy decides what happens when both variance kinds are requested.
type VariancePolicy string

const (
	// VarianceReject refuses the run with ErrConflictingVariance.
	VarianceReject VariancePolicy = "reject"
	// VariancePreferRange keeps the range variance and drops the percentage.
	VariancePreferRange VariancePolicy = "prefer_range"
)

// Resolve picks the variance mode for independent percentage and range switches.
// Both set is ErrConflictingVariance under VarianceReject; otherwise range wins.
func (policy VariancePolicy) Resolve(percentOn, rangeOn bool) (VarianceMode, error) {
	switch {
	case percentOn && rangeOn && policy != VariancePreferRange:
		return "", ErrConflictingVariance
	case rangeOn:
		return VarianceAbsoluteRange, nil
	case percentOn:
		return VariancePercentage, nil
	default:
		return VarianceNone, nil
	}
}

func ParseVariancePolicy(raw string) (VariancePolicy, error) {
	switch VariancePolicy(strings.ToLower(strings.TrimSpace(raw))) {
	case "", VarianceReject:
		return VarianceReject, nil
	case VariancePreferRange:
		return VariancePreferRange, nil
	default:
		return "", fmt.Errorf("unknown variance policy %q (want reject|prefer_range)", raw)
	}
}

// Floors applied to user supplied parameters.
const (
	MinSeconds      = 0.1
	MinTotalMinutes = 0.1
	MinRangeSeconds = 0.1
)

// Params is the flat parameter form shared with the browser extension popup.
// Field names match the extension's persisted "lastParams" object.
type Params struct {
	Label string `json:"label,omitempty"`

	TabStart int `json:"tabStart"`
	TabEnd   int `json:"tabEnd"`

	Seconds      float64 `json:"seconds"`
	TotalMinutes float64 `json:"totalMinutes"`

	JitterEnabled bool    `json:"jitterEnabled"`
	JitterPct     float64 `json:"jitterPct"`

	RangeEnabled  bool    `json:"rangeEnabled"`
	RangeMin      float64 `json:"rangeMin"`
	RangeMax      float64 `json:"rangeMax"`
	RangeAbsolute bool    `json:"rangeAbsolute,omitempty"`

	Mode SelectionMode `json:"mode"`

	StopOnHuman  bool `json:"stopOnHuman"`
	StopOnHotkey bool `json:"stopOnHotkey,omitempty"`

	UseSelectedTabs bool     `json:"useSelectedTabs,omitempty"`
	SelectedTabs    []ItemID `json:"selectedTabs,omitempty"`
}

// DefaultParams returns the extension's initial form values.
func DefaultParams() Params {
	return Params{
		TabStart:     1,
		TabEnd:       1,
		Seconds:      5,
		TotalMinutes: 1,
		JitterPct:    0.25,
		RangeMin:     1,
		RangeMax:     2,
		Mode:         SelectRandom,
		StopOnHuman:  true,
	}
}

// RunConfig converts p into a validated RunConfig.
//
// Zero values fall back to the defaults, values below the floors are raised to them,
// negative values are rejected.
func (p Params) RunConfig(policy VariancePolicy) (RunConfig, error) {
	if p.Seconds < 0 || p.TotalMinutes < 0 || p.RangeMin < 0 || p.RangeMax < 0 || p.TabStart < 0 || p.TabEnd < 0 {
		return RunConfig{}, fmt.Errorf("%w: negative parameter", ErrInvalidConfig)
	}
	if math.IsNaN(p.Seconds) || math.IsNaN(p.TotalMinutes) || math.IsNaN(p.JitterPct) || math.IsNaN(p.RangeMin) || math.IsNaN(p.RangeMax) {
		return RunConfig{}, fmt.Errorf("%w: parameter is not a number", ErrInvalidConfig)
	}

	vmode, err := policy.Resolve(p.JitterEnabled, p.RangeEnabled)
	if err != nil {
		return RunConfig{}, err
	}

	seconds := p.Seconds
	if seconds == 0 {
		seconds = 5
	}
	seconds = math.Max(MinSeconds, seconds)
	minutes := p.TotalMinutes
	if minutes == 0 {
		minutes = 1
	}
	minutes = math.Max(MinTotalMinutes, minutes)

	cfg := RunConfig{
		Label:              strings.TrimSpace(p.Label),
		Interval:           secondsToDuration(seconds),
		Duration:           time.Duration(minutes * float64(time.Minute)),
		Mode:               p.Mode,
		CancelOnHumanInput: p.StopOnHuman,
		StopOnHotkey:       p.StopOnHotkey,
		Variance:           Variance{Mode: VarianceNone},
	}
	if cfg.Mode == "" {
		cfg.Mode = SelectRandom
	}

	if p.UseSelectedTabs {
		cfg.Pool = SetPool(p.SelectedTabs...)
	} else {
		start := p.TabStart
		if start == 0 {
			start = 1
		}
		end := p.TabEnd
		if end == 0 {
			end = start
		}
		cfg.Pool = RangePool(start, end)
	}

	switch vmode {
	case VarianceAbsoluteRange:
		lo := p.RangeMin
		if lo == 0 {
			lo = 1
		}
		lo = math.Max(MinRangeSeconds, lo)
		hi := math.Max(lo, p.RangeMax)
		cfg.Variance = Variance{
			Mode:     VarianceAbsoluteRange,
			Min:      secondsToDuration(lo),
			Max:      secondsToDuration(hi),
			Absolute: p.RangeAbsolute,
		}
	case VariancePercentage:
		cfg.Variance = Variance{Mode: VariancePercentage, Percent: math.Max(0, math.Min(1, p.JitterPct))}
	}

	if err := cfg.Validate(); err != nil {
		return RunConfig{}, err
	}
	return cfg, nil
}

func secondsToDuration(s float64) time.Duration {
	return time.Duration(math.Round(s * float64(time.Second)))
}
