// Package delay computes the wait between two hops.
package delay

import (
	"math/rand"
	"time"

	"tabhop/internal/hop"
)

// Floor is the smallest delay ever returned; it guarantees forward progress.
const Floor = 50 * time.Millisecond

// Source is the subset of *rand.Rand used here.
type Source interface {
	Float64() float64
}

type globalSource struct{}

func (globalSource) Float64() float64 { return rand.Float64() }

// Compute returns the next delay for base under variance v.
//
//   - none: base
//   - percentage p: uniform in [max(Floor, base*(1-p)), base*(1+p)]
//   - absoluteRange: a magnitude uniform in [Min, Max] added to or subtracted from base
//     (random sign), or, with Absolute set, uniform in [Min, Max] directly
//
// The result is never below Floor. A nil rnd uses the math/rand global source.
func Compute(v hop.Variance, base time.Duration, rnd Source) time.Duration {
	if rnd == nil {
		rnd = globalSource{}
	}

	var d time.Duration
	switch v.Mode {
	case hop.VariancePercentage:
		d = percentage(base, v.Percent, rnd)
	case hop.VarianceAbsoluteRange:
		if v.Absolute {
			d = uniform(v.Min, v.Max, rnd)
		} else {
			mag := uniform(v.Min, v.Max, rnd)
			if rnd.Float64() < 0.5 {
				d = base - mag
			} else {
				d = base + mag
			}
		}
	default:
		d = base
	}
	return clamp(d)
}

func percentage(base time.Duration, p float64, rnd Source) time.Duration {
	p = clampPercent(p)
	if p == 0 {
		return base
	}
	lo := max(Floor, scale(base, 1-p))
	hi := scale(base, 1+p)
	if hi < lo {
		return lo
	}
	return uniform(lo, hi, rnd)
}

func uniform(lo, hi time.Duration, rnd Source) time.Duration {
	if hi <= lo {
		return lo
	}
	return lo + time.Duration(rnd.Float64()*float64(hi-lo))
}

func scale(d time.Duration, f float64) time.Duration {
	return time.Duration(float64(d) * f)
}

func clampPercent(p float64) float64 {
	if p < 0 {
		return 0
	}
	if p > 1 {
		return 1
	}
	return p
}

func clamp(d time.Duration) time.Duration {
	if d < Floor {
		return Floor
	}
	return d
}
