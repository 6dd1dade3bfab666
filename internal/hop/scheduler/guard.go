package scheduler

import (
	"time"

	"tabhop/internal/hop"
)

const guardSlots = 8

type issued struct {
	gen  uint64
	item hop.ItemID
	at   time.Time
}

// activationGuard tags programmatic activations with a generation so the activation
// observer can tell them apart from human ones.
type activationGuard struct {
	next uint64
	ring [guardSlots]issued
	pos  int
}

// issue records a programmatic activation of item and returns its generation.
func (g *activationGuard) issue(item hop.ItemID, now time.Time) uint64 {
	g.next++
	g.ring[g.pos] = issued{gen: g.next, item: item, at: now}
	g.pos = (g.pos + 1) % guardSlots
	return g.next
}

// own reports whether ev was caused by one of the recent programmatic activations.
// An echoed generation is authoritative; without one, the item must match an
// activation issued within window.
func (g *activationGuard) own(ev ActivationEvent, now time.Time, window time.Duration) bool {
	for _, is := range g.ring {
		if is.gen == 0 {
			continue
		}
		if ev.Gen != 0 {
			if is.gen == ev.Gen {
				return true
			}
			continue
		}
		if is.item == ev.Item && now.Sub(is.at) <= window {
			return true
		}
	}
	return false
}

func (g *activationGuard) last() uint64 { return g.next }
