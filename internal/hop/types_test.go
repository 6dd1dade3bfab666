package hop

import (
	"errors"
	"testing"
	"time"
)

func validConfig() RunConfig {
	return RunConfig{
		Pool:     RangePool(1, 5),
		Interval: time.Second,
		Variance: Variance{Mode: VarianceNone},
		Mode:     SelectSequential,
		Duration: 5 * time.Second,
	}
}

func TestRunConfigValidate(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name   string
		mutate func(c *RunConfig)
		ok     bool
	}{
		{name: "valid", mutate: func(c *RunConfig) {}, ok: true},
		{name: "start zero", mutate: func(c *RunConfig) { c.Pool.Start = 0 }},
		{name: "end before start", mutate: func(c *RunConfig) { c.Pool = RangePool(4, 2) }},
		{name: "single item range", mutate: func(c *RunConfig) { c.Pool = RangePool(3, 3) }, ok: true},
		{name: "empty set", mutate: func(c *RunConfig) { c.Pool = SetPool() }},
		{name: "blank set item", mutate: func(c *RunConfig) { c.Pool = SetPool("1", " ") }},
		{name: "set", mutate: func(c *RunConfig) { c.Pool = SetPool("10", "11") }, ok: true},
		{name: "unknown pool", mutate: func(c *RunConfig) { c.Pool.Kind = "window" }},
		{name: "zero interval", mutate: func(c *RunConfig) { c.Interval = 0 }},
		{name: "negative duration", mutate: func(c *RunConfig) { c.Duration = -time.Second }},
		{name: "unknown mode", mutate: func(c *RunConfig) { c.Mode = "shuffle" }},
		{name: "percent in range", mutate: func(c *RunConfig) { c.Variance = Variance{Mode: VariancePercentage, Percent: 1} }, ok: true},
		{name: "percent above one", mutate: func(c *RunConfig) { c.Variance = Variance{Mode: VariancePercentage, Percent: 1.5} }},
		{name: "range min above max", mutate: func(c *RunConfig) {
			c.Variance = Variance{Mode: VarianceAbsoluteRange, Min: 2 * time.Second, Max: time.Second}
		}},
		{name: "range ok", mutate: func(c *RunConfig) {
			c.Variance = Variance{Mode: VarianceAbsoluteRange, Min: time.Second, Max: 2 * time.Second}
		}, ok: true},
		{name: "absolute range zero", mutate: func(c *RunConfig) {
			c.Variance = Variance{Mode: VarianceAbsoluteRange, Absolute: true}
		}},
		{name: "unknown variance", mutate: func(c *RunConfig) { c.Variance.Mode = "gauss" }},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			c := validConfig()
			tt.mutate(&c)
			err := c.Validate()
			if tt.ok && err != nil {
				t.Fatalf("Validate() error: %v", err)
			}
			if !tt.ok {
				if err == nil {
					t.Fatal("expected validation error")
				}
				if !errors.Is(err, ErrInvalidConfig) {
					t.Fatalf("error %v does not wrap ErrInvalidConfig", err)
				}
			}
		})
	}
}

func TestParamsRunConfigDefaultsAndFloors(t *testing.T) {
	t.Parallel()
	cfg, err := Params{TabStart: 2, Seconds: 0.01, TotalMinutes: 0, Mode: SelectSequential}.RunConfig(VarianceReject)
	if err != nil {
		t.Fatalf("RunConfig: %v", err)
	}
	if cfg.Pool.Kind != PoolRange || cfg.Pool.Start != 2 || cfg.Pool.End != 2 {
		t.Fatalf("pool = %+v, want range 2..2", cfg.Pool)
	}
	if cfg.Interval != 100*time.Millisecond {
		t.Fatalf("interval = %s, want 100ms floor", cfg.Interval)
	}
	if cfg.Duration != time.Minute {
		t.Fatalf("duration = %s, want default 1m", cfg.Duration)
	}
	if cfg.Variance.Mode != VarianceNone {
		t.Fatalf("variance = %+v, want none", cfg.Variance)
	}
}

func TestParamsRunConfigVariance(t *testing.T) {
	t.Parallel()

	p := DefaultParams()
	p.TabEnd = 4
	p.JitterEnabled = true
	p.JitterPct = 3
	cfg, err := p.RunConfig(VarianceReject)
	if err != nil {
		t.Fatalf("RunConfig: %v", err)
	}
	if cfg.Variance.Mode != VariancePercentage || cfg.Variance.Percent != 1 {
		t.Fatalf("variance = %+v, want percentage clamped to 1", cfg.Variance)
	}

	p = DefaultParams()
	p.RangeEnabled = true
	p.RangeMin = 3
	p.RangeMax = 1
	cfg, err = p.RunConfig(VarianceReject)
	if err != nil {
		t.Fatalf("RunConfig: %v", err)
	}
	if cfg.Variance.Min != 3*time.Second || cfg.Variance.Max != 3*time.Second {
		t.Fatalf("range = %s..%s, want max raised to min", cfg.Variance.Min, cfg.Variance.Max)
	}
}

func TestParamsConflictingVariance(t *testing.T) {
	t.Parallel()
	p := DefaultParams()
	p.JitterEnabled = true
	p.RangeEnabled = true

	if _, err := p.RunConfig(VarianceReject); !errors.Is(err, ErrConflictingVariance) {
		t.Fatalf("reject policy error = %v, want ErrConflictingVariance", err)
	}
	if !errors.Is(ErrConflictingVariance, ErrInvalidConfig) {
		t.Fatal("ErrConflictingVariance should wrap ErrInvalidConfig")
	}

	cfg, err := p.RunConfig(VariancePreferRange)
	if err != nil {
		t.Fatalf("prefer_range: %v", err)
	}
	if cfg.Variance.Mode != VarianceAbsoluteRange {
		t.Fatalf("prefer_range variance = %s, want absoluteRange", cfg.Variance.Mode)
	}
}

func TestParamsSelectedTabs(t *testing.T) {
	t.Parallel()
	p := DefaultParams()
	p.UseSelectedTabs = true
	if _, err := p.RunConfig(VarianceReject); !errors.Is(err, ErrInvalidConfig) {
		t.Fatalf("empty selection error = %v, want ErrInvalidConfig", err)
	}
	p.SelectedTabs = []ItemID{"7", "9"}
	cfg, err := p.RunConfig(VarianceReject)
	if err != nil {
		t.Fatalf("RunConfig: %v", err)
	}
	if cfg.Pool.Kind != PoolSet || len(cfg.Pool.Items) != 2 {
		t.Fatalf("pool = %+v, want set of 2", cfg.Pool)
	}
}

func TestParamsRejectsNegative(t *testing.T) {
	t.Parallel()
	p := DefaultParams()
	p.Seconds = -1
	if _, err := p.RunConfig(VarianceReject); !errors.Is(err, ErrInvalidConfig) {
		t.Fatalf("error = %v, want ErrInvalidConfig", err)
	}
	p = DefaultParams()
	p.TabStart, p.TabEnd = 5, 2
	if _, err := p.RunConfig(VarianceReject); !errors.Is(err, ErrInvalidConfig) {
		t.Fatalf("inverted range error = %v, want ErrInvalidConfig", err)
	}
}

func TestParseVariancePolicy(t *testing.T) {
	t.Parallel()
	for in, want := range map[string]VariancePolicy{"": VarianceReject, "REJECT": VarianceReject, "prefer_range": VariancePreferRange} {
		got, err := ParseVariancePolicy(in)
		if err != nil || got != want {
			t.Fatalf("ParseVariancePolicy(%q) = %q, %v; want %q", in, got, err, want)
		}
	}
	if _, err := ParseVariancePolicy("coinflip"); err == nil {
		t.Fatal("expected error for unknown policy")
	}
}

func TestVariancePolicyResolve(t *testing.T) {
	t.Parallel()
	tests := []struct {
		policy   VariancePolicy
		pct, rng bool
		want     VarianceMode
		wantErr  bool
	}{
		{VarianceReject, false, false, VarianceNone, false},
		{VarianceReject, true, false, VariancePercentage, false},
		{VarianceReject, false, true, VarianceAbsoluteRange, false},
		{VarianceReject, true, true, "", true},
		{VariancePreferRange, true, true, VarianceAbsoluteRange, false},
		{VariancePreferRange, true, false, VariancePercentage, false},
	}
	for _, tt := range tests {
		got, err := tt.policy.Resolve(tt.pct, tt.rng)
		if (err != nil) != tt.wantErr || got != tt.want {
			t.Fatalf("%s.Resolve(%v, %v) = %q, %v; want %q err=%v", tt.policy, tt.pct, tt.rng, got, err, tt.want, tt.wantErr)
		}
		if tt.wantErr && !errors.Is(err, ErrConflictingVariance) {
			t.Fatalf("error = %v, want ErrConflictingVariance", err)
		}
	}
}
