package main

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/urfave/cli"

	"tabhop/internal/nativehost"
)

var nativeHostCommands = []cli.Command{
	{
		Name:   "run",
		Usage:  "serve the extension over stdio (started by the browser)",
		Action: nativeHost,
		Hidden: true,
	},
	{
		Name:   "install",
		Usage:  "write the native messaging manifest for a browser",
		Action: installHost,
		Flags: []cli.Flag{
			cli.StringFlag{
				Name:  "browser, b",
				Usage: "chrome, chromium, edge, brave or firefox",
				Value: string(nativehost.BrowserChrome),
			},
			cli.StringFlag{
				Name:  "extension-id, e",
				Usage: "extension id allowed to connect",
			},
			cli.StringFlag{
				Name:  "host-path",
				Usage: "absolute path of the tabhop binary (default: this executable)",
			},
		},
	},
	{
		Name:   "manifest",
		Usage:  "print the manifest without installing it",
		Action: printManifest,
		Flags: []cli.Flag{
			cli.StringFlag{Name: "browser, b", Value: string(nativehost.BrowserChrome)},
			cli.StringFlag{Name: "extension-id, e"},
			cli.StringFlag{Name: "host-path"},
		},
	},
}

func hostPath(c *cli.Context) (string, error) {
	if p := c.String("host-path"); p != "" {
		return filepath.Abs(p)
	}
	exe, err := os.Executable()
	if err != nil {
		return "", err
	}
	return filepath.EvalSymlinks(exe)
}

func installHost(c *cli.Context) error {
	browser, err := nativehost.ParseBrowser(c.String("browser"))
	if err != nil {
		return err
	}
	path, err := hostPath(c)
	if err != nil {
		return err
	}
	in := nativehost.Installer{HostPath: path, ExtensionID: c.String("extension-id")}
	out, err := in.Install(browser)
	if err != nil {
		return err
	}
	fmt.Printf("installed %s manifest for %s at %s\n", nativehost.HostName, browser, out)
	return nil
}

func printManifest(c *cli.Context) error {
	browser, err := nativehost.ParseBrowser(c.String("browser"))
	if err != nil {
		return err
	}
	path, err := hostPath(c)
	if err != nil {
		return err
	}
	fmt.Println(string(nativehost.Manifest(browser, path, c.String("extension-id"))))
	return nil
}
