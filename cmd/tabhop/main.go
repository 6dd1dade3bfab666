package main

import (
	"fmt"
	"os"
	"strings"

	"github.com/urfave/cli"
)

var version = "dev"

const (
	defaultConfig = "./tabhop.json"
	defaultAddr   = "http://127.0.0.1:7474"
)

var globalFlags = []cli.Flag{
	cli.StringFlag{
		Name:   "config, c",
		Usage:  "path to the config file (json or yaml)",
		Value:  defaultConfig,
		EnvVar: "TABHOP_CONFIG",
	},
	cli.StringFlag{
		Name:   "addr",
		Usage:  "daemon JSON-RPC base URL",
		Value:  defaultAddr,
		EnvVar: "TABHOP_ADDR",
	},
	cli.StringFlag{
		Name:   "token",
		Usage:  "bearer token for the daemon",
		EnvVar: "TABHOP_TOKEN",
	},
	cli.BoolFlag{
		Name:  "json",
		Usage: "print raw JSON results",
	},
}

func newApp() *cli.App {
	app := cli.NewApp()
	app.Name = "tabhop"
	app.Usage = "hop between browser tabs on a schedule"
	app.UsageText = "tabhop [global options] <command> [arguments...]"
	app.Version = version
	app.Flags = globalFlags
	app.Commands = []cli.Command{
		{
			Name:   "daemon",
			Usage:  "run the scheduler daemon",
			Action: daemon,
			Flags:  daemonFlags,
		},
		{
			Name:        "nativehost",
			Usage:       "browser native messaging host",
			Subcommands: nativeHostCommands,
		},
		{
			Name:      "start",
			Usage:     "start a run (no flags reuses the last parameters)",
			UsageText: "tabhop start [--preset name] [--tabs 1-5] [--interval 30] [--duration 10] ...",
			Action:    start,
			Flags:     startFlags,
		},
		actionCommand("stop", "stop the run"),
		actionCommand("pause", "pause the run"),
		actionCommand("resume", "resume a paused run"),
		actionCommand("next", "hop now"),
		actionCommand("back", "step back in history"),
		actionCommand("forward", "step forward in history"),
		{
			Name:    "status",
			Aliases: []string{"st"},
			Usage:   "show the run state",
			Action:  status,
		},
		{
			Name:   "watch",
			Usage:  "follow state changes over WebSocket",
			Action: watch,
		},
		{
			Name:   "presets",
			Usage:  "list configured presets",
			Action: presets,
		},
		{
			Name:   "runs",
			Usage:  "show recent run events",
			Action: runs,
			Flags: []cli.Flag{
				cli.IntFlag{Name: "limit, n", Value: 20, Usage: "number of events"},
			},
		},
		{
			Name:   "version",
			Usage:  "print the version",
			Action: func(*cli.Context) error { fmt.Println(version); return nil },
		},
	}
	return app
}

// browserLaunch reports whether the process was started by a browser through
// the native messaging manifest rather than by a user.
func browserLaunch(args []string) bool {
	if len(args) == 0 {
		return false
	}
	a := args[0]
	// chrome passes the caller origin, firefox the manifest path and extension id
	return strings.HasPrefix(a, "chrome-extension://") || strings.HasSuffix(a, ".json") && len(args) >= 2
}

func main() {
	args := os.Args
	if browserLaunch(args[1:]) {
		args = []string{args[0], "nativehost", "run"}
	}
	if err := newApp().Run(args); err != nil {
		fmt.Fprintln(os.Stderr, "tabhop:", err)
		os.Exit(1)
	}
}
