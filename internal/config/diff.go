package config

import (
	"reflect"
	"sort"
	"strings"

	"tabhop/internal/hop"
	logx "tabhop/pkg/logx"
)

// Change summarizes what a reload touched.
type Change struct {
	// Sections lists the changed top-level keys, sorted.
	Sections []string
	// Attrs are safe to log; secrets are reported only as "_set" booleans.
	Attrs []logx.Field
	// RestartRequired lists sections that only take effect after a restart.
	RestartRequired []string
}

func (c Change) Has(section string) bool {
	for _, s := range c.Sections {
		if s == section {
			return true
		}
	}
	return false
}

func SummarizeChange(oldCfg, newCfg *Config) Change {
	if oldCfg == nil {
		oldCfg = &Config{}
	}
	if newCfg == nil {
		newCfg = &Config{}
	}
	var ch Change
	mark := func(section string, restart bool, attrs ...logx.Field) {
		ch.Sections = append(ch.Sections, section)
		ch.Attrs = append(ch.Attrs, attrs...)
		if restart {
			ch.RestartRequired = append(ch.RestartRequired, section)
		}
	}

	if !reflect.DeepEqual(oldCfg.Logging, newCfg.Logging) {
		mark("logging", false,
			logx.String("logging.level", newCfg.Logging.Level),
			logx.Bool("logging.console", newCfg.Logging.Console),
			logx.Bool("logging.file_enabled", newCfg.Logging.File.Enabled),
		)
	}

	if !reflect.DeepEqual(oldCfg.Scheduler, newCfg.Scheduler) {
		mark("scheduler", false,
			logx.Int("scheduler.history_capacity", newCfg.Scheduler.HistoryCapacity),
			logx.Int("scheduler.back_window", newCfg.Scheduler.BackWindow),
			logx.String("scheduler.variance_conflict", strings.TrimSpace(newCfg.Scheduler.VarianceConflict)),
		)
	}

	if canonicalHashJSON(oldCfg.Defaults) != canonicalHashJSON(newCfg.Defaults) {
		mark("defaults", false)
	}

	if changed := diffPresets(oldCfg.Presets, newCfg.Presets); len(changed) > 0 {
		mark("presets", false,
			logx.Int("presets.count", len(newCfg.Presets)),
			logx.String("presets.changed", strings.Join(changed, ",")),
		)
	}

	if !reflect.DeepEqual(oldCfg.Triggers, newCfg.Triggers) {
		enabled := 0
		for _, t := range newCfg.Triggers {
			if t.IsEnabled() {
				enabled++
			}
		}
		mark("triggers", false,
			logx.Int("triggers.count", len(newCfg.Triggers)),
			logx.Int("triggers.enabled", enabled),
		)
	}

	if strings.TrimSpace(oldCfg.Timezone) != strings.TrimSpace(newCfg.Timezone) {
		mark("timezone", false, logx.String("timezone", strings.TrimSpace(newCfg.Timezone)))
	}

	if oldCfg.RPC != newCfg.RPC {
		mark("rpc", true,
			logx.Bool("rpc.enabled", newCfg.RPC.Enabled),
			logx.String("rpc.addr", strings.TrimSpace(newCfg.RPC.Addr)),
			logx.Bool("rpc.token_set", strings.TrimSpace(newCfg.RPC.Token) != ""),
			logx.Bool("rpc.websocket", newCfg.RPC.WebSocket),
		)
	}

	if oldCfg.NativeHost != newCfg.NativeHost {
		mark("nativehost", true, logx.Int("nativehost.event_buffer", newCfg.NativeHost.EventBuffer))
	}

	var oS, nS StorageConfig
	if oldCfg.Storage != nil {
		oS = *oldCfg.Storage
	}
	if newCfg.Storage != nil {
		nS = *newCfg.Storage
	}
	if oS != nS {
		mark("storage", true,
			logx.String("storage.driver", strings.TrimSpace(nS.Driver)),
			logx.Bool("storage.path_set", strings.TrimSpace(nS.Path) != ""),
			logx.String("storage.busy_timeout", strings.TrimSpace(nS.BusyTimeout)),
		)
	}

	// never log the token
	var oT, nT TelegramConfig
	if oldCfg.Telegram != nil {
		oT = *oldCfg.Telegram
	}
	if newCfg.Telegram != nil {
		nT = *newCfg.Telegram
	}
	tokenChanged := oT.Token != nT.Token
	if tokenChanged || oT.Enabled != nT.Enabled || oT.PollTimeout != nT.PollTimeout ||
		oT.NotifyChatID != nT.NotifyChatID || !reflect.DeepEqual(oT.OwnerUserIDs, nT.OwnerUserIDs) {
		mark("telegram", tokenChanged || oT.Enabled != nT.Enabled || oT.PollTimeout != nT.PollTimeout,
			logx.Bool("telegram.enabled", nT.Enabled),
			logx.Int("telegram.owner_count", len(nT.OwnerUserIDs)),
			logx.Bool("telegram.token_set", strings.TrimSpace(nT.Token) != ""),
			logx.Bool("telegram.notify", nT.NotifyChatID != 0),
		)
	}

	var oD, nD DebugConfig
	if oldCfg.Debug != nil {
		oD = *oldCfg.Debug
	}
	if newCfg.Debug != nil {
		nD = *newCfg.Debug
	}
	if oD != nD {
		mark("debug", false,
			logx.Bool("debug.enabled", nD.Enabled),
			logx.String("debug.addr", strings.TrimSpace(nD.Addr)),
			logx.Bool("debug.token_set", strings.TrimSpace(nD.Token) != ""),
		)
	}

	sort.Strings(ch.Sections)
	sort.Strings(ch.RestartRequired)
	return ch
}

func diffPresets(oldM, newM map[string]hop.Params) []string {
	set := map[string]struct{}{}
	for k := range oldM {
		set[k] = struct{}{}
	}
	for k := range newM {
		set[k] = struct{}{}
	}
	out := make([]string, 0, len(set))
	for name := range set {
		o, okO := oldM[name]
		n, okN := newM[name]
		if okO != okN || canonicalHashJSON(o) != canonicalHashJSON(n) {
			out = append(out, name)
		}
	}
	sort.Strings(out)
	return out
}
