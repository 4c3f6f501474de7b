package browser

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"os/exec"
)

var (
	ErrAllEnginesFailed = errors.New("all browser engines failed to launch")
	ErrSessionClosed    = errors.New("browser session closed")
	ErrMemoryExceeded   = errors.New("browser memory limit exceeded")
)

// Identity is the set of emulation overrides applied to a page before the
// first navigation.
type Identity struct {
	UserAgent      string
	Platform       string
	AcceptLanguage string
	Locale         string
	Timezone       string
	Latitude       float64
	Longitude      float64
	ViewportWidth  int
	ViewportHeight int
	Headers        map[string]string
	// InitScripts run in every new document before any site script.
	InitScripts []string
}

// Page is the engine-neutral handle the rest of the scraper works with.
// Evaluate expects an expression; wrap statements in an IIFE.
type Page interface {
	Navigate(ctx context.Context, url string) error
	Reload(ctx context.Context) error
	Evaluate(ctx context.Context, js string, out any) error
	HTML(ctx context.Context) (string, error)
	URL(ctx context.Context) (string, error)
	MoveMouse(ctx context.Context, x, y float64) error
	ApplyIdentity(ctx context.Context, id Identity) error
	Close() error
}

// Browser is one running engine process.
type Browser interface {
	NewPage(ctx context.Context) (Page, error)
	PID() int
	Close() error
}

// Engine launches browsers of one kind.
type Engine interface {
	Name() string
	Launch(ctx context.Context) (Browser, error)
}

// LaunchOptions are shared by every engine implementation.
type LaunchOptions struct {
	ExecPath     string
	Headless     bool
	WindowWidth  int
	WindowHeight int
}

// EnginesFromNames builds the ordered engine list for the session manager.
func EnginesFromNames(names []string, opts LaunchOptions) ([]Engine, error) {
	if opts.ExecPath == "" {
		opts.ExecPath = FindChromeBinary()
	}

	engines := make([]Engine, 0, len(names))
	for _, name := range names {
		switch name {
		case "chromedp":
			engines = append(engines, NewChromedpEngine(opts))
		case "rod":
			engines = append(engines, NewRodEngine(opts))
		default:
			return nil, fmt.Errorf("browser: unknown engine %q", name)
		}
	}
	if len(engines) == 0 {
		return nil, fmt.Errorf("browser: no engines configured")
	}
	return engines, nil
}

// Click runs a scripted click on the first element matching selector and
// reports whether one was found.
func Click(ctx context.Context, p Page, selector string) (bool, error) {
	sel, err := json.Marshal(selector)
	if err != nil {
		return false, err
	}
	js := fmt.Sprintf(`(() => {
		const el = document.querySelector(%s);
		if (!el) return false;
		el.scrollIntoView({block: "center"});
		el.click();
		return true;
	})()`, sel)

	var clicked bool
	if err := p.Evaluate(ctx, js, &clicked); err != nil {
		return false, err
	}
	return clicked, nil
}

const (
	htmlScript = `document.documentElement.outerHTML`
	urlScript  = `window.location.href`
)

// FindChromeBinary locates a Chrome or Chromium binary. An empty result
// lets the engine fall back to its own discovery.
func FindChromeBinary() string {
	if bin := os.Getenv("CHROME_BIN"); bin != "" {
		return bin
	}

	names := []string{"google-chrome-stable", "google-chrome", "chromium", "chromium-browser"}
	for _, name := range names {
		if path, err := exec.LookPath(name); err == nil {
			return path
		}
	}

	paths := []string{
		"/usr/bin/google-chrome-stable",
		"/usr/bin/google-chrome",
		"/usr/bin/chromium-browser",
		"/usr/bin/chromium",
		"/snap/bin/chromium",
		"/opt/google/chrome/google-chrome",
	}
	for _, p := range paths {
		if _, err := os.Stat(p); err == nil {
			return p
		}
	}

	return ""
}

// automationFlags hide the most obvious automation switches. Shared by both
// engines so a fallback launch looks the same as the primary one.
var automationFlags = map[string]string{
	"disable-blink-features":   "AutomationControlled",
	"disable-infobars":         "",
	"disable-dev-shm-usage":    "",
	"disable-gpu":              "",
	"no-sandbox":               "",
	"disable-setuid-sandbox":   "",
	"no-first-run":             "",
	"no-default-browser-check": "",
	"lang":                     "pl-PL",
}
