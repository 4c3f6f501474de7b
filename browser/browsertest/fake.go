// Package browsertest provides in-memory browser fakes for tests.
package browsertest

import (
	"context"
	"encoding/json"
	"errors"
	"sync"

	"otodom-stats/browser"
)

// Page is a scriptable browser.Page. Navigate loads HTML from Sites when the
// URL is known there. EvalFunc answers Evaluate; a nil result leaves out
// untouched.
type Page struct {
	mu sync.Mutex

	Content    string
	CurrentURL string
	Sites      map[string]string

	EvalFunc     func(js string) (any, error)
	NavigateFunc func(ctx context.Context, url string) error
	ReloadFunc   func(p *Page)

	Navigations []string
	Evaluated   []string
	Identity    *browser.Identity
	MouseMoves  int
	Reloads     int
	Closed      bool
}

// NewPage returns a page showing html at url.
func NewPage(url, html string) *Page {
	return &Page{CurrentURL: url, Content: html, Sites: map[string]string{}}
}

func (p *Page) Navigate(ctx context.Context, url string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if p.NavigateFunc != nil {
		if err := p.NavigateFunc(ctx, url); err != nil {
			return err
		}
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	p.Navigations = append(p.Navigations, url)
	p.CurrentURL = url
	if html, ok := p.Sites[url]; ok {
		p.Content = html
	}
	return nil
}

func (p *Page) Reload(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	p.mu.Lock()
	p.Reloads++
	hook := p.ReloadFunc
	p.mu.Unlock()
	if hook != nil {
		hook(p)
	}
	return nil
}

func (p *Page) Evaluate(ctx context.Context, js string, out any) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	p.mu.Lock()
	p.Evaluated = append(p.Evaluated, js)
	fn := p.EvalFunc
	p.mu.Unlock()

	if fn == nil {
		return nil
	}
	v, err := fn(js)
	if err != nil || v == nil || out == nil {
		return err
	}
	raw, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return json.Unmarshal(raw, out)
}

func (p *Page) HTML(ctx context.Context) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.Content, nil
}

func (p *Page) URL(ctx context.Context) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.CurrentURL, nil
}

func (p *Page) MoveMouse(ctx context.Context, x, y float64) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.MouseMoves++
	return nil
}

func (p *Page) ApplyIdentity(ctx context.Context, id browser.Identity) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.Identity = &id
	return nil
}

func (p *Page) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.Closed = true
	return nil
}

// SetContent replaces the page HTML.
func (p *Page) SetContent(html string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.Content = html
}

// Engine is a fake browser.Engine. PageFunc supplies the page for each
// NewPage call.
type Engine struct {
	mu sync.Mutex

	EngineName string
	Err        error
	PageFunc   func() *Page
	Launches   int
	Browsers   []*Browser
}

func (e *Engine) Name() string { return e.EngineName }

func (e *Engine) Launch(ctx context.Context) (browser.Browser, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.Launches++
	if e.Err != nil {
		return nil, e.Err
	}
	b := &Browser{pid: 1000 + e.Launches, pageFunc: e.PageFunc}
	e.Browsers = append(e.Browsers, b)
	return b, nil
}

// Browser is the fake process launched by Engine.
type Browser struct {
	mu       sync.Mutex
	pid      int
	pageFunc func() *Page
	closed   bool
}

func (b *Browser) NewPage(ctx context.Context) (browser.Page, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return nil, errors.New("websocket: close 1006 (abnormal closure)")
	}
	if b.pageFunc != nil {
		return b.pageFunc(), nil
	}
	return NewPage("about:blank", ""), nil
}

func (b *Browser) PID() int { return b.pid }

func (b *Browser) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.closed = true
	return nil
}

// IsClosed reports whether Close was called.
func (b *Browser) IsClosed() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.closed
}
