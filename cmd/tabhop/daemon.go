package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/urfave/cli"

	"tabhop/internal/app"
)

var daemonFlags = []cli.Flag{
	cli.IntFlag{
		Name:  "demo-items",
		Usage: "size of the in-memory demo tab pool",
		Value: 8,
	},
}

func daemon(c *cli.Context) error {
	return runDaemon(app.Options{
		ConfigPath: c.GlobalString("config"),
		DemoItems:  c.Int("demo-items"),
	})
}

func runDaemon(opts app.Options) error {
	sig := make(chan os.Signal, 1)
	signal.Notify(sig, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(sig)

	a, err := app.NewApp(opts)
	if err != nil {
		return fmt.Errorf("fatal: %w", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if err := a.Start(ctx); err != nil {
		shutdown(a, app.StopFatalError)
		return fmt.Errorf("fatal start: %w", err)
	}

	reason := app.StopUnknown
	select {
	case s := <-sig:
		reason = app.StopSIGINT
		if s == syscall.SIGTERM {
			reason = app.StopSIGTERM
		}
	case <-a.Done():
		reason = app.StopFatalError
		if a.Err() == nil && opts.NativeIn != nil {
			reason = app.StopExtensionGone
		}
	}
	shutdown(a, reason)
	if reason == app.StopFatalError {
		return a.Err()
	}
	return nil
}

func shutdown(a *app.App, reason app.StopReason) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	_ = a.Stop(ctx, reason)
}

// nativeHost runs the daemon over the browser's stdio. Stdout belongs to the
// protocol; logs go to stderr or the configured file.
func nativeHost(c *cli.Context) error {
	return runDaemon(app.Options{
		ConfigPath: c.GlobalString("config"),
		NativeIn:   io.Reader(os.Stdin),
		NativeOut:  os.Stdout,
	})
}
