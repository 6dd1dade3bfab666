// Package selector picks the next item of a hop from the current pool.
package selector

import (
	"math/rand"

	"tabhop/internal/hop"
)

// Pool is one observation of the provider's candidate list.
//
// Version is bumped by the provider whenever membership or order changes.
// Providers that cannot track changes report 0.
type Pool struct {
	Items   []hop.ItemID
	Version uint64
}

// State is the sequential-mode state carried between hops.
type State struct {
	Order   []hop.ItemID
	Next    int
	Version uint64
	Valid   bool
}

// Source is the subset of *rand.Rand used here.
type Source interface {
	Intn(n int) int
}

type globalSource struct{}

func (globalSource) Intn(n int) int { return rand.Intn(n) }

// Next returns the item to activate, the updated selector state and ok=false when the
// pool is empty (the caller skips the hop). pool is never modified.
func Next(pool Pool, mode hop.SelectionMode, prior State, rnd Source) (hop.ItemID, State, bool) {
	if len(pool.Items) == 0 {
		return "", prior, false
	}
	if mode == hop.SelectSequential {
		return sequential(pool, prior)
	}
	if rnd == nil {
		rnd = globalSource{}
	}
	return pool.Items[rnd.Intn(len(pool.Items))], prior, true
}

func sequential(pool Pool, st State) (hop.ItemID, State, bool) {
	if needsRebuild(pool, st) {
		st = State{
			Order:   append([]hop.ItemID(nil), pool.Items...),
			Version: pool.Version,
			Valid:   true,
		}
	}
	id := st.Order[st.Next]
	st.Next = (st.Next + 1) % len(st.Order)
	return id, st, true
}

func needsRebuild(pool Pool, st State) bool {
	if !st.Valid || len(st.Order) == 0 {
		return true
	}
	if st.Next < 0 || st.Next >= len(st.Order) {
		return true
	}
	if st.Version != pool.Version {
		return true
	}
	// Unversioned providers: an evicted item forces a rebuild.
	return !contains(pool.Items, st.Order[st.Next])
}

func contains(items []hop.ItemID, id hop.ItemID) bool {
	for _, it := range items {
		if it == id {
			return true
		}
	}
	return false
}
