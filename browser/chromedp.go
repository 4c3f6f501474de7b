package browser

import (
	"context"
	"fmt"
	"time"

	"github.com/chromedp/cdproto/emulation"
	"github.com/chromedp/cdproto/input"
	"github.com/chromedp/cdproto/network"
	"github.com/chromedp/cdproto/page"
	"github.com/chromedp/chromedp"
)

// ChromedpEngine launches Chrome through chromedp's exec allocator.
type ChromedpEngine struct {
	opts LaunchOptions
}

func NewChromedpEngine(opts LaunchOptions) *ChromedpEngine {
	return &ChromedpEngine{opts: opts}
}

func (e *ChromedpEngine) Name() string { return "chromedp" }

// Launch starts the browser process. The process is detached from ctx so it
// outlives the task that happened to launch it; ctx only bounds start-up.
func (e *ChromedpEngine) Launch(ctx context.Context) (Browser, error) {
	opts := append(chromedp.DefaultExecAllocatorOptions[:],
		chromedp.Flag("headless", e.opts.Headless),
	)
	for name, value := range automationFlags {
		if value == "" {
			opts = append(opts, chromedp.Flag(name, true))
		} else {
			opts = append(opts, chromedp.Flag(name, value))
		}
	}
	if e.opts.WindowWidth > 0 && e.opts.WindowHeight > 0 {
		opts = append(opts, chromedp.WindowSize(e.opts.WindowWidth, e.opts.WindowHeight))
	}
	if e.opts.ExecPath != "" {
		opts = append(opts, chromedp.ExecPath(e.opts.ExecPath))
	}

	allocCtx, cancelAlloc := chromedp.NewExecAllocator(context.Background(), opts...)
	// Suppress chromedp log noise
	browserCtx, cancelBrowser := chromedp.NewContext(allocCtx, chromedp.WithLogf(func(string, ...interface{}) {}))

	started := make(chan error, 1)
	go func() { started <- chromedp.Run(browserCtx) }()

	select {
	case err := <-started:
		if err != nil {
			cancelBrowser()
			cancelAlloc()
			return nil, fmt.Errorf("chromedp: start browser: %w", err)
		}
	case <-ctx.Done():
		cancelBrowser()
		cancelAlloc()
		return nil, fmt.Errorf("chromedp: start browser: %w", ctx.Err())
	}

	pid := 0
	if c := chromedp.FromContext(browserCtx); c != nil && c.Browser != nil {
		if proc := c.Browser.Process(); proc != nil {
			pid = proc.Pid
		}
	}

	return &chromedpBrowser{
		ctx:          browserCtx,
		cancel:       cancelBrowser,
		cancelAlloc:  cancelAlloc,
		pid:          pid,
		closeTimeout: 10 * time.Second,
	}, nil
}

type chromedpBrowser struct {
	ctx          context.Context
	cancel       context.CancelFunc
	cancelAlloc  context.CancelFunc
	pid          int
	closeTimeout time.Duration
}

func (b *chromedpBrowser) PID() int { return b.pid }

func (b *chromedpBrowser) NewPage(ctx context.Context) (Page, error) {
	if b.ctx.Err() != nil {
		return nil, ErrSessionClosed
	}
	tabCtx, cancel := chromedp.NewContext(b.ctx)
	p := &chromedpPage{ctx: tabCtx, cancel: cancel}
	if err := p.run(ctx); err != nil {
		cancel()
		return nil, fmt.Errorf("chromedp: open tab: %w", err)
	}
	return p, nil
}

func (b *chromedpBrowser) Close() error {
	done := make(chan error, 1)
	go func() {
		closeCtx, cancel := context.WithTimeout(b.ctx, b.closeTimeout)
		defer cancel()
		done <- chromedp.Cancel(closeCtx)
	}()

	var err error
	select {
	case err = <-done:
	case <-time.After(b.closeTimeout):
		err = fmt.Errorf("chromedp: close timed out after %v", b.closeTimeout)
	}
	b.cancel()
	b.cancelAlloc()
	return err
}

type chromedpPage struct {
	ctx    context.Context
	cancel context.CancelFunc
}

// run executes actions on the tab while honouring the caller's deadline and
// cancellation. Cancelling the derived context does not close the tab.
func (p *chromedpPage) run(ctx context.Context, actions ...chromedp.Action) error {
	runCtx, cancel := context.WithCancel(p.ctx)
	defer cancel()
	if deadline, ok := ctx.Deadline(); ok {
		var cancelDeadline context.CancelFunc
		runCtx, cancelDeadline = context.WithDeadline(runCtx, deadline)
		defer cancelDeadline()
	}
	stop := context.AfterFunc(ctx, cancel)
	defer stop()

	err := chromedp.Run(runCtx, actions...)
	if err != nil && ctx.Err() != nil {
		return fmt.Errorf("%w: %v", ctx.Err(), err)
	}
	if err != nil && p.ctx.Err() != nil {
		return fmt.Errorf("%w: %v", ErrSessionClosed, err)
	}
	return err
}

func (p *chromedpPage) Navigate(ctx context.Context, url string) error {
	return p.run(ctx, chromedp.Navigate(url))
}

func (p *chromedpPage) Reload(ctx context.Context) error {
	return p.run(ctx, chromedp.Reload())
}

func (p *chromedpPage) Evaluate(ctx context.Context, js string, out any) error {
	return p.run(ctx, chromedp.Evaluate(js, out))
}

func (p *chromedpPage) HTML(ctx context.Context) (string, error) {
	var html string
	err := p.run(ctx, chromedp.Evaluate(htmlScript, &html))
	return html, err
}

func (p *chromedpPage) URL(ctx context.Context) (string, error) {
	var url string
	err := p.run(ctx, chromedp.Location(&url))
	return url, err
}

func (p *chromedpPage) MoveMouse(ctx context.Context, x, y float64) error {
	return p.run(ctx, chromedp.MouseEvent(input.MouseMoved, x, y))
}

func (p *chromedpPage) ApplyIdentity(ctx context.Context, id Identity) error {
	return p.run(ctx, chromedp.ActionFunc(func(ctx context.Context) error {
		if err := network.Enable().Do(ctx); err != nil {
			return fmt.Errorf("enable network: %w", err)
		}
		if id.UserAgent != "" {
			ua := emulation.SetUserAgentOverride(id.UserAgent).
				WithAcceptLanguage(id.AcceptLanguage).
				WithPlatform(id.Platform)
			if err := ua.Do(ctx); err != nil {
				return fmt.Errorf("user agent: %w", err)
			}
		}
		if id.Timezone != "" {
			if err := emulation.SetTimezoneOverride(id.Timezone).Do(ctx); err != nil {
				return fmt.Errorf("timezone: %w", err)
			}
		}
		if id.Locale != "" {
			if err := emulation.SetLocaleOverride().WithLocale(id.Locale).Do(ctx); err != nil {
				return fmt.Errorf("locale: %w", err)
			}
		}
		if id.Latitude != 0 || id.Longitude != 0 {
			geo := emulation.SetGeolocationOverride().
				WithLatitude(id.Latitude).
				WithLongitude(id.Longitude).
				WithAccuracy(50)
			if err := geo.Do(ctx); err != nil {
				return fmt.Errorf("geolocation: %w", err)
			}
		}
		if id.ViewportWidth > 0 && id.ViewportHeight > 0 {
			metrics := emulation.SetDeviceMetricsOverride(int64(id.ViewportWidth), int64(id.ViewportHeight), 1, false)
			if err := metrics.Do(ctx); err != nil {
				return fmt.Errorf("viewport: %w", err)
			}
		}
		if len(id.Headers) > 0 {
			headers := make(network.Headers, len(id.Headers))
			for k, v := range id.Headers {
				headers[k] = v
			}
			if err := network.SetExtraHTTPHeaders(headers).Do(ctx); err != nil {
				return fmt.Errorf("headers: %w", err)
			}
		}
		for _, script := range id.InitScripts {
			if _, err := page.AddScriptToEvaluateOnNewDocument(script).Do(ctx); err != nil {
				return fmt.Errorf("init script: %w", err)
			}
		}
		return nil
	}))
}

func (p *chromedpPage) Close() error {
	p.cancel()
	return nil
}
