package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/urfave/cli"

	"tabhop/internal/control"
	"tabhop/internal/hop"
	"tabhop/internal/hop/scheduler"
	"tabhop/internal/rpc"
	"tabhop/internal/storage"
)

const callTimeout = 10 * time.Second

var startFlags = []cli.Flag{
	cli.StringFlag{Name: "preset, p", Usage: "start a configured preset"},
	cli.StringFlag{Name: "label", Usage: "label shown in status and notifications"},
	cli.StringFlag{Name: "tabs, t", Usage: "1-based tab range, e.g. 2-6 or 4"},
	cli.Float64Flag{Name: "interval, i", Usage: "base seconds between hops"},
	cli.Float64Flag{Name: "duration, d", Usage: "total run minutes"},
	cli.Float64Flag{Name: "jitter", Usage: "percentage variance, 0-1 (enables jitter)"},
	cli.Float64Flag{Name: "range-min", Usage: "range variance lower bound in seconds (enables range)"},
	cli.Float64Flag{Name: "range-max", Usage: "range variance upper bound in seconds (enables range)"},
	cli.BoolFlag{Name: "range-absolute", Usage: "use the range as the whole delay instead of an offset"},
	cli.BoolFlag{Name: "random", Usage: "pick tabs at random"},
	cli.BoolFlag{Name: "sequential", Usage: "walk tabs in order"},
	cli.BoolTFlag{Name: "stop-on-human", Usage: "stop when the user interacts (default true)"},
	cli.BoolFlag{Name: "stop-on-hotkey", Usage: "stop on the extension's stop hotkey"},
}

// paramFlags change the params of a start; --preset and --label do not.
var paramFlags = []string{
	"tabs", "interval", "duration", "jitter", "range-min", "range-max",
	"range-absolute", "random", "sequential", "stop-on-human", "stop-on-hotkey",
}

// flagSource is the part of *cli.Context buildParams reads.
type flagSource interface {
	IsSet(name string) bool
	String(name string) string
	Float64(name string) float64
	Bool(name string) bool
	BoolT(name string) bool
}

func anyParamSet(f flagSource) bool {
	for _, n := range paramFlags {
		if f.IsSet(n) {
			return true
		}
	}
	return false
}

func parseTabRange(raw string) (int, int, error) {
	raw = strings.TrimSpace(raw)
	lo, hi, found := strings.Cut(raw, "-")
	start, err := strconv.Atoi(strings.TrimSpace(lo))
	if err != nil {
		return 0, 0, fmt.Errorf("invalid tab range %q", raw)
	}
	end := start
	if found {
		if end, err = strconv.Atoi(strings.TrimSpace(hi)); err != nil {
			return 0, 0, fmt.Errorf("invalid tab range %q", raw)
		}
	}
	if start < 1 || end < start {
		return 0, 0, fmt.Errorf("invalid tab range %q", raw)
	}
	return start, end, nil
}

// buildParams overlays the set flags on base.
func buildParams(base hop.Params, f flagSource) (hop.Params, error) {
	p := base
	if f.IsSet("tabs") {
		start, end, err := parseTabRange(f.String("tabs"))
		if err != nil {
			return p, err
		}
		p.TabStart, p.TabEnd = start, end
		p.UseSelectedTabs, p.SelectedTabs = false, nil
	}
	if f.IsSet("interval") {
		p.Seconds = f.Float64("interval")
	}
	if f.IsSet("duration") {
		p.TotalMinutes = f.Float64("duration")
	}
	// A variance flag replaces the base's other variance kind. Passing both
	// leaves the choice to the server's variance policy.
	jitterSet := f.IsSet("jitter")
	rangeSet := f.IsSet("range-min") || f.IsSet("range-max") || f.IsSet("range-absolute")
	if jitterSet {
		p.JitterPct = f.Float64("jitter")
		p.JitterEnabled = p.JitterPct > 0
		if !rangeSet {
			p.RangeEnabled = false
		}
	}
	if rangeSet {
		p.RangeEnabled = true
		if f.IsSet("range-min") {
			p.RangeMin = f.Float64("range-min")
		}
		if f.IsSet("range-max") {
			p.RangeMax = f.Float64("range-max")
		}
		if f.IsSet("range-absolute") {
			p.RangeAbsolute = f.Bool("range-absolute")
		}
		if !jitterSet {
			p.JitterEnabled = false
		}
	}
	switch {
	case f.Bool("random") && f.Bool("sequential"):
		return p, fmt.Errorf("--random and --sequential are mutually exclusive")
	case f.Bool("random"):
		p.Mode = hop.SelectRandom
	case f.Bool("sequential"):
		p.Mode = hop.SelectSequential
	}
	if f.IsSet("stop-on-human") {
		p.StopOnHuman = f.BoolT("stop-on-human")
	}
	if f.IsSet("stop-on-hotkey") {
		p.StopOnHotkey = f.Bool("stop-on-hotkey")
	}
	return p, nil
}

func dial(c *cli.Context) *rpc.Client {
	return rpc.Dial(c.GlobalString("addr"), c.GlobalString("token"))
}

func callContext() (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.Background(), callTimeout)
}

func start(c *cli.Context) error {
	client := dial(c)
	defer client.Close()
	ctx, cancel := callContext()
	defer cancel()

	req := control.StartRequest{Preset: c.String("preset"), Source: "cli"}
	if anyParamSet(c) || c.IsSet("label") {
		base, err := startBase(ctx, client, req.Preset)
		if err != nil {
			return err
		}
		p, err := buildParams(base, c)
		if err != nil {
			return err
		}
		if c.IsSet("label") {
			p.Label = c.String("label")
		}
		req.Params, req.Preset = &p, ""
	}

	res, err := client.Start(ctx, req)
	if err != nil {
		return err
	}
	printAction(c, res)
	return nil
}

// startBase returns the params flags are applied to: the named preset, else the
// daemon's last params, else the defaults.
func startBase(ctx context.Context, client *rpc.Client, preset string) (hop.Params, error) {
	if preset != "" {
		ps, err := client.Presets(ctx)
		if err != nil {
			return hop.Params{}, err
		}
		for _, p := range ps {
			if strings.EqualFold(p.Name, preset) {
				if p.Params.Label == "" {
					p.Params.Label = p.Name
				}
				return p.Params, nil
			}
		}
		return hop.Params{}, fmt.Errorf("unknown preset %q", preset)
	}
	st, err := client.State(ctx)
	if err != nil {
		return hop.Params{}, err
	}
	if st.LastParams != nil {
		return *st.LastParams, nil
	}
	return hop.DefaultParams(), nil
}

func actionCommand(name, usage string) cli.Command {
	method := "hop." + name
	return cli.Command{
		Name:  name,
		Usage: usage,
		Action: func(c *cli.Context) error {
			client := dial(c)
			defer client.Close()
			ctx, cancel := callContext()
			defer cancel()
			res, err := client.Call(ctx, method)
			if err != nil {
				return err
			}
			printAction(c, res)
			return nil
		},
	}
}

func status(c *cli.Context) error {
	client := dial(c)
	defer client.Close()
	ctx, cancel := callContext()
	defer cancel()
	st, err := client.State(ctx)
	if err != nil {
		return err
	}
	if c.GlobalBool("json") {
		fmt.Println(rpc.Pretty(st))
		return nil
	}
	fmt.Println(formatState(st.State))
	if st.LastStop != "" {
		fmt.Println("last stop:", st.LastStop)
	}
	return nil
}

func presets(c *cli.Context) error {
	client := dial(c)
	defer client.Close()
	ctx, cancel := callContext()
	defer cancel()
	ps, err := client.Presets(ctx)
	if err != nil {
		return err
	}
	if c.GlobalBool("json") {
		fmt.Println(rpc.Pretty(ps))
		return nil
	}
	if len(ps) == 0 {
		fmt.Println("no presets configured")
	}
	for _, p := range ps {
		fmt.Printf("%-16s tabs %d-%d every %gs for %gm (%s)\n",
			p.Name, p.Params.TabStart, p.Params.TabEnd, p.Params.Seconds, p.Params.TotalMinutes, p.Params.Mode)
	}
	return nil
}

func runs(c *cli.Context) error {
	client := dial(c)
	defer client.Close()
	ctx, cancel := callContext()
	defer cancel()
	evs, err := client.Runs(ctx, c.Int("limit"))
	if err != nil {
		if rpc.ErrorCode(err) != 0 && strings.Contains(err.Error(), storage.ErrDisabled.Error()) {
			return fmt.Errorf("the daemon has no storage configured")
		}
		return err
	}
	if c.GlobalBool("json") {
		fmt.Println(rpc.Pretty(evs))
		return nil
	}
	for _, e := range evs {
		line := fmt.Sprintf("%s  %-14s %s", e.At.Local().Format(time.DateTime), e.Type, e.RunID)
		if e.Item != "" {
			line += "  item=" + e.Item
		}
		if e.Reason != "" {
			line += "  reason=" + e.Reason
		}
		if e.Error != "" {
			line += "  error=" + e.Error
		}
		fmt.Println(line)
	}
	return nil
}

func watch(c *cli.Context) error {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()
	jsonOut := c.GlobalBool("json")
	client, err := rpc.DialWS(ctx, c.GlobalString("addr"), c.GlobalString("token"), func(st scheduler.State) {
		if jsonOut {
			fmt.Println(rpc.Pretty(st))
			return
		}
		fmt.Printf("[%s] %s\n", time.Now().Format(time.TimeOnly), strings.ReplaceAll(formatState(st), "\n", " | "))
	})
	if err != nil {
		return err
	}
	defer client.Close()
	<-ctx.Done()
	return nil
}

func printAction(c *cli.Context, res control.ActionResult) {
	if c.GlobalBool("json") {
		fmt.Println(rpc.Pretty(res))
		return
	}
	line := string(res.Result)
	if res.Item != "" {
		line += " item=" + string(res.Item)
	}
	fmt.Println(line)
	fmt.Println(formatState(res.State))
}

func formatState(st scheduler.State) string {
	if st.Phase == scheduler.PhaseStopped {
		return "phase: stopped"
	}
	label := ""
	if st.Config != nil && st.Config.Label != "" {
		label = " (" + st.Config.Label + ")"
	}
	remaining := (time.Duration(st.RemainingMs) * time.Millisecond).Round(time.Second)
	s := fmt.Sprintf("phase: %s%s\nremaining: %s\nhops: %d skipped: %d\nhistory: %d/%d",
		st.Phase, label, remaining, st.Hops, st.Skipped, st.HistoryCursor+1, st.HistoryDepth)
	if st.LastItem != "" {
		s += "\nitem: " + string(st.LastItem)
	}
	return s
}
