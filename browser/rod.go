package browser

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/launcher"
	"github.com/go-rod/rod/lib/launcher/flags"
	"github.com/go-rod/rod/lib/proto"
)

// RodEngine launches Chrome through go-rod's launcher. It is the fallback
// when chromedp cannot start a browser.
type RodEngine struct {
	opts LaunchOptions
}

func NewRodEngine(opts LaunchOptions) *RodEngine {
	return &RodEngine{opts: opts}
}

func (e *RodEngine) Name() string { return "rod" }

func (e *RodEngine) Launch(ctx context.Context) (Browser, error) {
	l := launcher.New().
		Headless(e.opts.Headless).
		NoSandbox(true).
		Leakless(false)
	for name, value := range automationFlags {
		if value == "" {
			l = l.Set(flags.Flag(name))
		} else {
			l = l.Set(flags.Flag(name), value)
		}
	}
	if e.opts.WindowWidth > 0 && e.opts.WindowHeight > 0 {
		l = l.Set("window-size", strconv.Itoa(e.opts.WindowWidth)+","+strconv.Itoa(e.opts.WindowHeight))
	}
	if e.opts.ExecPath != "" {
		l = l.Bin(e.opts.ExecPath)
	}

	u, err := l.Context(ctx).Launch()
	if err != nil {
		return nil, fmt.Errorf("rod: launch: %w", err)
	}

	b := rod.New().ControlURL(u)
	if err := b.Connect(); err != nil {
		l.Kill()
		return nil, fmt.Errorf("rod: connect: %w", err)
	}

	return &rodBrowser{browser: b, launcher: l}, nil
}

type rodBrowser struct {
	browser  *rod.Browser
	launcher *launcher.Launcher
}

func (b *rodBrowser) PID() int { return b.launcher.PID() }

func (b *rodBrowser) NewPage(ctx context.Context) (Page, error) {
	p, err := b.browser.Context(ctx).Page(proto.TargetCreateTarget{URL: ""})
	if err != nil {
		return nil, fmt.Errorf("rod: open tab: %w", err)
	}
	// Detach from the creating context; callers pass their own per call.
	return &rodPage{page: p.Context(context.Background())}, nil
}

func (b *rodBrowser) Close() error {
	err := b.browser.Close()
	b.launcher.Kill()
	return err
}

type rodPage struct {
	page *rod.Page
}

func (p *rodPage) Navigate(ctx context.Context, url string) error {
	pg := p.page.Context(ctx)
	if err := pg.Navigate(url); err != nil {
		return fmt.Errorf("rod: navigate: %w", err)
	}
	return pg.WaitLoad()
}

func (p *rodPage) Reload(ctx context.Context) error {
	pg := p.page.Context(ctx)
	if err := pg.Reload(); err != nil {
		return fmt.Errorf("rod: reload: %w", err)
	}
	return pg.WaitLoad()
}

func (p *rodPage) Evaluate(ctx context.Context, js string, out any) error {
	res, err := p.page.Context(ctx).Eval(js)
	if err != nil {
		return err
	}
	if out == nil {
		return nil
	}
	raw, err := json.Marshal(res.Value)
	if err != nil {
		return fmt.Errorf("rod: encode result: %w", err)
	}
	return json.Unmarshal(raw, out)
}

func (p *rodPage) HTML(ctx context.Context) (string, error) {
	return p.page.Context(ctx).HTML()
}

func (p *rodPage) URL(ctx context.Context) (string, error) {
	var url string
	err := p.Evaluate(ctx, urlScript, &url)
	return url, err
}

func (p *rodPage) MoveMouse(ctx context.Context, x, y float64) error {
	return proto.InputDispatchMouseEvent{
		Type: proto.InputDispatchMouseEventTypeMouseMoved,
		X:    x,
		Y:    y,
	}.Call(p.page.Context(ctx))
}

func (p *rodPage) ApplyIdentity(ctx context.Context, id Identity) error {
	pg := p.page.Context(ctx)

	if id.UserAgent != "" {
		err := pg.SetUserAgent(&proto.NetworkSetUserAgentOverride{
			UserAgent:      id.UserAgent,
			AcceptLanguage: id.AcceptLanguage,
			Platform:       id.Platform,
		})
		if err != nil {
			return fmt.Errorf("rod: user agent: %w", err)
		}
	}
	if id.Timezone != "" {
		if err := (proto.EmulationSetTimezoneOverride{TimezoneID: id.Timezone}).Call(pg); err != nil {
			return fmt.Errorf("rod: timezone: %w", err)
		}
	}
	if id.Locale != "" {
		if err := (proto.EmulationSetLocaleOverride{Locale: id.Locale}).Call(pg); err != nil {
			return fmt.Errorf("rod: locale: %w", err)
		}
	}
	if id.Latitude != 0 || id.Longitude != 0 {
		lat, lon, acc := id.Latitude, id.Longitude, 50.0
		geo := proto.EmulationSetGeolocationOverride{Latitude: &lat, Longitude: &lon, Accuracy: &acc}
		if err := geo.Call(pg); err != nil {
			return fmt.Errorf("rod: geolocation: %w", err)
		}
	}
	if id.ViewportWidth > 0 && id.ViewportHeight > 0 {
		metrics := proto.EmulationSetDeviceMetricsOverride{
			Width:             id.ViewportWidth,
			Height:            id.ViewportHeight,
			DeviceScaleFactor: 1,
		}
		if err := metrics.Call(pg); err != nil {
			return fmt.Errorf("rod: viewport: %w", err)
		}
	}
	if len(id.Headers) > 0 {
		dict := make([]string, 0, len(id.Headers)*2)
		for k, v := range id.Headers {
			dict = append(dict, k, v)
		}
		if _, err := pg.SetExtraHeaders(dict); err != nil {
			return fmt.Errorf("rod: headers: %w", err)
		}
	}
	for _, script := range id.InitScripts {
		if _, err := pg.EvalOnNewDocument(script); err != nil {
			return fmt.Errorf("rod: init script: %w", err)
		}
	}
	return nil
}

func (p *rodPage) Close() error {
	return p.page.Close()
}
