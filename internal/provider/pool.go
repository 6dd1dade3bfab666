// Package provider holds item providers that do not need a browser and the pool
// helpers shared with the native-messaging bridge.
package provider

import (
	"hash/fnv"
	"sync"

	"tabhop/internal/hop"
	"tabhop/internal/hop/selector"
)

// Resolve filters items (in provider order) down to the members of spec.
// Range positions are 1-based and inclusive; positions past the end are ignored.
func Resolve(spec hop.PoolSpec, items []hop.ItemID) []hop.ItemID {
	var out []hop.ItemID
	switch spec.Kind {
	case hop.PoolRange:
		lo, hi := max(spec.Start, 1), min(spec.End, len(items))
		for i := lo; i <= hi; i++ {
			out = append(out, items[i-1])
		}
	case hop.PoolSet:
		want := make(map[hop.ItemID]struct{}, len(spec.Items))
		for _, id := range spec.Items {
			want[id] = struct{}{}
		}
		for _, id := range items {
			if _, ok := want[id]; ok {
				out = append(out, id)
			}
		}
	}
	return out
}

// Versioner stamps resolved pools with a version that changes only when the
// pool's membership or order changes. Items outside the pool never affect it.
type Versioner struct {
	mu      sync.Mutex
	sum     uint64
	version uint64
}

// Observe records a resolved pool and returns the current version. The first
// observation is version 1.
func (v *Versioner) Observe(pool []hop.ItemID) uint64 {
	sum := fingerprint(pool)
	v.mu.Lock()
	defer v.mu.Unlock()
	if v.version == 0 || sum != v.sum {
		v.sum = sum
		v.version++
	}
	return v.version
}

// Bump forces a new version, for sources that report changes without a list.
// The last fingerprint is kept so an unchanged pool does not bump again.
func (v *Versioner) Bump() uint64 {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.version++
	return v.version
}

func (v *Versioner) Version() uint64 {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.version
}

// Snapshot resolves spec against items and stamps the result with a version.
func (v *Versioner) Snapshot(spec hop.PoolSpec, items []hop.ItemID) selector.Pool {
	pool := Resolve(spec, items)
	return selector.Pool{Items: pool, Version: v.Observe(pool)}
}

func fingerprint(items []hop.ItemID) uint64 {
	h := fnv.New64a()
	for _, id := range items {
		_, _ = h.Write([]byte(id))
		_, _ = h.Write([]byte{0})
	}
	return h.Sum64()
}
