package app

import (
	"context"
	"strings"

	"tabhop/internal/config"
	logx "tabhop/pkg/logx"
)

// startReload fans committed config changes out to the live components.
func (a *App) startReload() {
	sub := a.cfgm.Subscribe(8)
	a.sup.Go0("config.reload", func(c context.Context) {
		defer a.cfgm.Unsubscribe(sub)
		lastApplied := a.cfgm.Get()
		for {
			select {
			case <-c.Done():
				return
			case newCfg, ok := <-sub:
				if !ok {
					return
				}
				// Coalesce bursts: keep only the latest config in the channel.
			drain:
				for {
					select {
					case newer := <-sub:
						if newer != nil {
							newCfg = newer
						}
					default:
						break drain
					}
				}
				a.applyConfig(c, lastApplied, newCfg)
				lastApplied = newCfg
			}
		}
	})
}

// applyConfig pushes the hot-reloadable parts of newCfg. Sections that need a
// restart are only logged.
func (a *App) applyConfig(ctx context.Context, oldCfg, newCfg *config.Config) config.Change {
	ch := config.SummarizeChange(oldCfg, newCfg)
	if len(ch.Sections) == 0 {
		a.log.Info("config reloaded (no changes)")
		return ch
	}
	fields := append([]logx.Field{logx.String("changed", strings.Join(ch.Sections, ","))}, ch.Attrs...)
	a.log.Debug("config change summary", fields...)

	if ch.Has("logging") {
		a.logs.Apply(loggingConfig(newCfg))
	}

	if ch.Has("scheduler") {
		if tun, err := newCfg.Tunables(); err != nil {
			a.log.Warn("invalid scheduler config; keeping previous", logx.Err(err))
		} else {
			a.sched.Apply(tun)
		}
	}

	if ch.Has("scheduler") || ch.Has("defaults") || ch.Has("presets") {
		if set, err := newCfg.ControlSettings(); err != nil {
			a.log.Warn("invalid defaults or presets; keeping previous", logx.Err(err))
		} else {
			a.ctl.Apply(set)
		}
	}

	if ch.Has("triggers") || ch.Has("timezone") || ch.Has("presets") {
		if err := a.triggers.Apply(newCfg.TriggerConfig()); err != nil {
			a.log.Warn("some triggers were not registered", logx.Err(err))
		}
	}

	if ch.Has("telegram") && a.tg != nil && telegramEnabled(newCfg) {
		a.tg.Apply(telegramConfig(newCfg))
	}

	if ch.Has("debug") {
		a.debug.Reconfigure(ctx, newCfg.DebugServerConfig())
	}

	if len(ch.RestartRequired) > 0 {
		a.log.Warn("config changes need a restart to take effect",
			logx.String("sections", strings.Join(ch.RestartRequired, ",")))
	}
	a.log.Info("config reloaded", fields...)
	return ch
}
