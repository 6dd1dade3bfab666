package app

import (
	"fmt"
	"net"
	"strings"

	"tabhop/internal/config"
	"tabhop/internal/observability/pprof"
	"tabhop/internal/remote/telegram"
	logx "tabhop/pkg/logx"
)

func loggingConfig(cfg *config.Config) logx.Config {
	return logx.Config{
		Level:   cfg.Logging.Level,
		Console: cfg.Logging.Console,
		JSON:    cfg.Logging.JSON,
		File: logx.FileConfig{
			Enabled: cfg.Logging.File.Enabled,
			Path:    cfg.Logging.File.Path,
		},
	}
}

func telegramEnabled(cfg *config.Config) bool {
	return cfg.Telegram != nil && cfg.Telegram.Enabled
}

func telegramConfig(cfg *config.Config) telegram.Config {
	if cfg.Telegram == nil {
		return telegram.Config{}
	}
	return telegram.Config{
		Token:        strings.TrimSpace(cfg.Telegram.Token),
		OwnerUserIDs: cfg.Telegram.OwnerUserIDs,
		PollTimeout:  cfg.TelegramPollTimeout(),
		NotifyChatID: cfg.Telegram.NotifyChatID,
	}
}

// checkExposure rejects an RPC listener reachable from other hosts without a token.
func checkExposure(cfg *config.Config) error {
	if !cfg.RPC.Enabled {
		return nil
	}
	rc := cfg.RPCServerConfig()
	if rc.Token != "" {
		return nil
	}
	if _, _, err := net.SplitHostPort(rc.Addr); err != nil {
		return fmt.Errorf("rpc.addr: %w", err)
	}
	if pprof.IsLoopbackAddr(rc.Addr) {
		return nil
	}
	return fmt.Errorf("rpc.addr %q is not a loopback address; set rpc.token", rc.Addr)
}
