package telegram

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"tabhop/internal/control"
	"tabhop/internal/hop/scheduler"
	"tabhop/internal/storage"
)

// Source labels runs started from Telegram without a preset.
const Source = "telegram"

type command struct {
	name   string
	desc   string
	method string
}

var commands = []command{
	{"hop_start", "Start a run: /hop_start [preset]", control.MethodStart},
	{"hop_stop", "Stop the run", control.MethodStop},
	{"hop_pause", "Pause the run", control.MethodPause},
	{"hop_resume", "Resume a paused run", control.MethodResume},
	{"hop_next", "Hop now", control.MethodNext},
	{"hop_back", "Go back in history", control.MethodBack},
	{"hop_forward", "Go forward in history", control.MethodForward},
	{"hop_status", "Show the run state", control.MethodState},
	{"hop_presets", "List presets", control.MethodPresets},
	{"hop_runs", "Recent run events: /hop_runs [n]", control.MethodRuns},
}

func lookup(name string) (command, bool) {
	for _, c := range commands {
		if c.name == name {
			return c, true
		}
	}
	return command{}, false
}

// parseCommand splits "/hop_start@bot work" into ("hop_start", ["work"]).
func parseCommand(text string) (string, []string, bool) {
	fields := strings.Fields(text)
	if len(fields) == 0 || !strings.HasPrefix(fields[0], "/") {
		return "", nil, false
	}
	name := strings.TrimPrefix(fields[0], "/")
	if at := strings.IndexByte(name, '@'); at >= 0 {
		name = name[:at]
	}
	return strings.ToLower(name), fields[1:], name != ""
}

// params builds the JSON params for c from the command arguments.
func params(c command, args []string) (json.RawMessage, error) {
	switch c.method {
	case control.MethodStart:
		req := control.StartRequest{Source: Source}
		if len(args) > 0 {
			req.Preset = args[0]
		}
		return json.Marshal(req)
	case control.MethodRuns:
		req := control.RunsRequest{Limit: 10}
		if len(args) > 0 {
			n, err := strconv.Atoi(args[0])
			if err != nil || n <= 0 {
				return nil, fmt.Errorf("%w: limit must be a positive number", control.ErrBadParams)
			}
			req.Limit = min(n, 50)
		}
		return json.Marshal(req)
	default:
		return nil, nil
	}
}

func formatResult(v any) string {
	switch r := v.(type) {
	case control.ActionResult:
		s := string(r.Result)
		if r.Item != "" {
			s += " item=" + string(r.Item)
		}
		return s + "\n" + formatState(r.State)
	case control.StateResult:
		s := formatState(r.State)
		if r.LastStop != "" {
			s += "\nlast stop: " + string(r.LastStop)
		}
		return s
	case []control.Preset:
		if len(r) == 0 {
			return "no presets configured"
		}
		var b strings.Builder
		for _, p := range r {
			fmt.Fprintf(&b, "%s: tabs %d-%d every %gs for %gm (%s)\n",
				p.Name, p.Params.TabStart, p.Params.TabEnd, p.Params.Seconds, p.Params.TotalMinutes, p.Params.Mode)
		}
		return strings.TrimRight(b.String(), "\n")
	case []storage.RunEvent:
		if len(r) == 0 {
			return "no run events"
		}
		var b strings.Builder
		for _, e := range r {
			fmt.Fprintf(&b, "%s %s %s", e.At.Format("01-02 15:04:05"), e.Type, shortID(e.RunID))
			if e.Reason != "" {
				b.WriteString(" reason=" + e.Reason)
			}
			if e.Item != "" {
				b.WriteString(" item=" + string(e.Item))
			}
			b.WriteByte('\n')
		}
		return strings.TrimRight(b.String(), "\n")
	default:
		return fmt.Sprint(v)
	}
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

func formatError(err error) string {
	switch {
	case errors.Is(err, control.ErrUnknownPreset):
		return "unknown preset; see /hop_presets"
	case errors.Is(err, storage.ErrDisabled):
		return "storage is disabled"
	default:
		return "error: " + err.Error()
	}
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[len(id)-8:]
	}
	return id
}

// handle runs one command text and returns the reply. Unknown commands get a help text.
func handle(ctx context.Context, d Dispatcher, text string) string {
	name, args, ok := parseCommand(text)
	if !ok {
		return ""
	}
	c, ok := lookup(name)
	if !ok {
		return help()
	}
	raw, err := params(c, args)
	if err != nil {
		return formatError(err)
	}
	res, err := d.Dispatch(ctx, c.method, raw)
	if err != nil {
		return formatError(err)
	}
	return formatResult(res)
}

func help() string {
	var b strings.Builder
	b.WriteString("commands:\n")
	for _, c := range commands {
		fmt.Fprintf(&b, "/%s - %s\n", c.name, c.desc)
	}
	return strings.TrimRight(b.String(), "\n")
}
