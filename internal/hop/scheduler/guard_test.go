package scheduler

import (
	"testing"
	"time"
)

func TestActivationGuard(t *testing.T) {
	t.Parallel()
	var g activationGuard
	t0 := time.Unix(100, 0)
	window := 500 * time.Millisecond

	g1 := g.issue("a", t0)
	g2 := g.issue("b", t0.Add(100*time.Millisecond))
	if g1 == 0 || g2 != g1+1 || g.last() != g2 {
		t.Fatalf("generations %d %d last %d", g1, g2, g.last())
	}

	tests := []struct {
		name string
		ev   ActivationEvent
		now  time.Time
		want bool
	}{
		{"echoed gen", ActivationEvent{Item: "zzz", Gen: g1}, t0.Add(time.Hour), true},
		{"unknown gen", ActivationEvent{Item: "b", Gen: 42}, t0, false},
		{"item within window", ActivationEvent{Item: "b"}, t0.Add(200 * time.Millisecond), true},
		{"item outside window", ActivationEvent{Item: "a"}, t0.Add(time.Second), false},
		{"other item", ActivationEvent{Item: "c"}, t0, false},
	}
	for _, tt := range tests {
		if got := g.own(tt.ev, tt.now, window); got != tt.want {
			t.Errorf("%s: own = %v, want %v", tt.name, got, tt.want)
		}
	}
}

func TestActivationGuardRingEvicts(t *testing.T) {
	t.Parallel()
	var g activationGuard
	now := time.Unix(0, 0)
	first := g.issue("a", now)
	for i := 0; i < guardSlots; i++ {
		g.issue("x", now)
	}
	if g.own(ActivationEvent{Gen: first}, now, time.Second) {
		t.Fatal("evicted generation still attributed")
	}
}
