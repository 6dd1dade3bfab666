package provider

import (
	"context"
	"errors"
	"reflect"
	"testing"

	"tabhop/internal/hop"
	logx "tabhop/pkg/logx"
)

func ids(s ...string) []hop.ItemID {
	out := make([]hop.ItemID, len(s))
	for i, v := range s {
		out[i] = hop.ItemID(v)
	}
	return out
}

func TestResolve(t *testing.T) {
	t.Parallel()
	items := ids("a", "b", "c", "d")
	tests := []struct {
		name string
		spec hop.PoolSpec
		want []hop.ItemID
	}{
		{"full range", hop.RangePool(1, 4), ids("a", "b", "c", "d")},
		{"inner range", hop.RangePool(2, 3), ids("b", "c")},
		{"range past end", hop.RangePool(3, 9), ids("c", "d")},
		{"range beyond items", hop.RangePool(7, 9), nil},
		{"set keeps provider order", hop.SetPool(ids("d", "a")...), ids("a", "d")},
		{"set with unknown", hop.SetPool(ids("x", "b")...), ids("b")},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Resolve(tt.spec, items); !reflect.DeepEqual(got, tt.want) {
				t.Fatalf("Resolve = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestVersionerChangesOnlyOnDifference(t *testing.T) {
	t.Parallel()
	var v Versioner
	v1 := v.Observe(ids("a", "b"))
	if v1 != 1 {
		t.Fatalf("first version = %d, want 1", v1)
	}
	if got := v.Observe(ids("a", "b")); got != v1 {
		t.Fatalf("same list bumped version to %d", got)
	}
	v2 := v.Observe(ids("b", "a"))
	if v2 == v1 {
		t.Fatal("reorder did not bump version")
	}
	if got := v.Observe(ids("ab")); got == v2 {
		t.Fatal("concatenation collision")
	}
	if b := v.Bump(); b != v.Version() {
		t.Fatalf("Bump = %d, Version = %d", b, v.Version())
	}
}

func TestVersionerTracksResolvedPool(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name   string
		spec   hop.PoolSpec
		before []hop.ItemID
		after  []hop.ItemID
		bump   bool
		want   uint64
	}{
		{name: "tab appended past range", spec: hop.RangePool(1, 2), before: ids("a", "b", "c"), after: ids("a", "b", "c", "d"), want: 1},
		{name: "tab closed past range", spec: hop.RangePool(1, 2), before: ids("a", "b", "c"), after: ids("a", "b"), want: 1},
		{name: "tab inserted inside range", spec: hop.RangePool(1, 2), before: ids("a", "b", "c"), after: ids("x", "a", "b", "c"), want: 2},
		{name: "unselected tab added", spec: hop.SetPool("a", "c"), before: ids("a", "b", "c"), after: ids("a", "b", "z", "c"), want: 1},
		{name: "bump then same list", spec: hop.RangePool(1, 2), before: ids("a", "b"), after: ids("a", "b"), bump: true, want: 2},
		{name: "bump then real change", spec: hop.RangePool(1, 2), before: ids("a", "b"), after: ids("b", "a"), bump: true, want: 3},
	}
	for _, tt := range tests {
		var v Versioner
		if got := v.Snapshot(tt.spec, tt.before).Version; got != 1 {
			t.Fatalf("%s: first version = %d", tt.name, got)
		}
		if tt.bump {
			v.Bump()
		}
		if got := v.Snapshot(tt.spec, tt.after).Version; got != tt.want {
			t.Fatalf("%s: version = %d, want %d", tt.name, got, tt.want)
		}
		if got := v.Snapshot(tt.spec, tt.after).Version; got != tt.want {
			t.Fatalf("%s: repeat snapshot moved version to %d", tt.name, got)
		}
	}
}

func TestStaticProvider(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	p := Demo(3, logx.Nop())

	pool, err := p.ListPool(ctx, hop.RangePool(1, 2))
	if err != nil {
		t.Fatalf("ListPool: %v", err)
	}
	if !reflect.DeepEqual(pool.Items, ids("tab-1", "tab-2")) || pool.Version == 0 {
		t.Fatalf("pool = %+v", pool)
	}

	var hooked hop.ItemID
	p.OnActivate(func(id hop.ItemID, _ uint64) { hooked = id })
	if err := p.Activate(ctx, "tab-2", 7); err != nil {
		t.Fatalf("Activate: %v", err)
	}
	if id, gen := p.Active(); id != "tab-2" || gen != 7 || hooked != "tab-2" {
		t.Fatalf("active = %s/%d hooked=%s", id, gen, hooked)
	}
	if err := p.Activate(ctx, "nope", 8); !errors.Is(err, ErrUnknownItem) {
		t.Fatalf("Activate unknown = %v", err)
	}

	before := pool.Version
	p.SetItems(ids("tab-2", "tab-3"))
	pool, _ = p.ListPool(ctx, hop.RangePool(1, 2))
	if pool.Version == before {
		t.Fatal("SetItems did not bump pool version")
	}

	cctx, cancel := context.WithCancel(ctx)
	cancel()
	if _, err := p.ListPool(cctx, hop.RangePool(1, 1)); err == nil {
		t.Fatal("ListPool ignored cancelled context")
	}
}
