package nativehost

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
)

// HostName must match the name the extension passes to connectNative.
const HostName = "dev.tabhop.host"

type Browser string

const (
	BrowserChrome   Browser = "chrome"
	BrowserChromium Browser = "chromium"
	BrowserFirefox  Browser = "firefox"
	BrowserEdge     Browser = "edge"
	BrowserBrave    Browser = "brave"
)

func ParseBrowser(s string) (Browser, error) {
	switch b := Browser(s); b {
	case BrowserChrome, BrowserChromium, BrowserFirefox, BrowserEdge, BrowserBrave:
		return b, nil
	}
	return "", fmt.Errorf("unsupported browser %q", s)
}

type chromeManifest struct {
	Name           string   `json:"name"`
	Description    string   `json:"description"`
	Path           string   `json:"path"`
	Type           string   `json:"type"`
	AllowedOrigins []string `json:"allowed_origins"`
}

type firefoxManifest struct {
	Name              string   `json:"name"`
	Description       string   `json:"description"`
	Path              string   `json:"path"`
	Type              string   `json:"type"`
	AllowedExtensions []string `json:"allowed_extensions"`
}

// Manifest renders the host manifest for browser.
func Manifest(browser Browser, hostPath, extensionID string) []byte {
	const desc = "tabhop tab hopping scheduler"
	var v any
	if browser == BrowserFirefox {
		v = firefoxManifest{Name: HostName, Description: desc, Path: hostPath, Type: "stdio",
			AllowedExtensions: []string{extensionID}}
	} else {
		v = chromeManifest{Name: HostName, Description: desc, Path: hostPath, Type: "stdio",
			AllowedOrigins: []string{"chrome-extension://" + extensionID + "/"}}
	}
	b, _ := json.MarshalIndent(v, "", "  ")
	return b
}

// ManifestPath returns where browser looks for host manifests on platform.
func ManifestPath(browser Browser, platform, home string) string {
	file := HostName + ".json"
	switch platform {
	case "linux":
		switch browser {
		case BrowserChrome:
			return filepath.Join(home, ".config", "google-chrome", "NativeMessagingHosts", file)
		case BrowserChromium:
			return filepath.Join(home, ".config", "chromium", "NativeMessagingHosts", file)
		case BrowserFirefox:
			return filepath.Join(home, ".mozilla", "native-messaging-hosts", file)
		case BrowserEdge:
			return filepath.Join(home, ".config", "microsoft-edge", "NativeMessagingHosts", file)
		case BrowserBrave:
			return filepath.Join(home, ".config", "BraveSoftware", "Brave-Browser", "NativeMessagingHosts", file)
		}
	case "darwin":
		base := filepath.Join(home, "Library", "Application Support")
		switch browser {
		case BrowserChrome:
			return filepath.Join(base, "Google", "Chrome", "NativeMessagingHosts", file)
		case BrowserChromium:
			return filepath.Join(base, "Chromium", "NativeMessagingHosts", file)
		case BrowserFirefox:
			return filepath.Join(base, "Mozilla", "NativeMessagingHosts", file)
		case BrowserEdge:
			return filepath.Join(base, "Microsoft Edge", "NativeMessagingHosts", file)
		case BrowserBrave:
			return filepath.Join(base, "BraveSoftware", "Brave-Browser", "NativeMessagingHosts", file)
		}
	}
	return ""
}

// Installer writes host manifests. Home overrides the user's home directory.
type Installer struct {
	HostPath    string
	ExtensionID string
	Home        string
}

func (in Installer) Install(browser Browser) (string, error) {
	if in.HostPath == "" {
		return "", errors.New("host path is required")
	}
	if in.ExtensionID == "" {
		return "", errors.New("extension id is required")
	}
	home := in.Home
	if home == "" {
		h, err := os.UserHomeDir()
		if err != nil {
			return "", err
		}
		home = h
	}
	path := ManifestPath(browser, runtime.GOOS, home)
	if path == "" {
		return "", fmt.Errorf("unsupported browser/platform: %s/%s", browser, runtime.GOOS)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return "", fmt.Errorf("create manifest directory: %w", err)
	}
	if err := os.WriteFile(path, Manifest(browser, in.HostPath, in.ExtensionID), 0o644); err != nil {
		return "", fmt.Errorf("write manifest: %w", err)
	}
	return path, nil
}
