package browser_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"otodom-stats/browser"
	"otodom-stats/browser/browsertest"
	"otodom-stats/utils"
)

type clock struct{ t time.Time }

func (c *clock) now() time.Time { return c.t }

func newManager(engines []browser.Engine, limits browser.HealthLimits, mem *uint64, c *clock) *browser.Manager {
	m := browser.NewManager(engines, limits, utils.NewDiscardLogger())
	m.WithMemoryProbe(func(int) (uint64, error) { return *mem, nil })
	m.WithClock(c.now)
	return m
}

func TestAcquireReusesHealthySession(t *testing.T) {
	engine := &browsertest.Engine{EngineName: "fake"}
	mem := uint64(100 << 20)
	c := &clock{t: time.Date(2026, 10, 19, 10, 0, 0, 0, time.UTC)}
	m := newManager([]browser.Engine{engine}, browser.HealthLimits{MemoryCriticalMB: 1200}, &mem, c)

	first, err := m.AcquireSession(context.Background())
	require.NoError(t, err)
	second, err := m.AcquireSession(context.Background())
	require.NoError(t, err)

	assert.Same(t, first, second)
	assert.Equal(t, 1, engine.Launches)
	assert.True(t, m.CheckHealth(context.Background()))
}

func TestMemoryCriticalRecyclesSession(t *testing.T) {
	engine := &browsertest.Engine{EngineName: "fake"}
	mem := uint64(100 << 20)
	c := &clock{t: time.Date(2026, 10, 19, 10, 0, 0, 0, time.UTC)}
	m := newManager([]browser.Engine{engine}, browser.HealthLimits{MemoryWarnMB: 700, MemoryCriticalMB: 1200}, &mem, c)

	first, err := m.AcquireSession(context.Background())
	require.NoError(t, err)

	mem = 1300 << 20
	assert.False(t, m.CheckHealth(context.Background()))

	c.t = c.t.Add(time.Second)
	mem = 100 << 20
	second, err := m.AcquireSession(context.Background())
	require.NoError(t, err)

	assert.NotEqual(t, first.ID, second.ID)
	assert.True(t, second.CreatedAt.After(first.CreatedAt))
	assert.True(t, first.Closed())
	assert.True(t, engine.Browsers[0].IsClosed())
	assert.Equal(t, 2, engine.Launches)
}

func TestMemoryWarningOnlyLogs(t *testing.T) {
	engine := &browsertest.Engine{EngineName: "fake"}
	mem := uint64(800 << 20)
	c := &clock{t: time.Now()}
	m := newManager([]browser.Engine{engine}, browser.HealthLimits{MemoryWarnMB: 700, MemoryCriticalMB: 1200}, &mem, c)

	_, err := m.AcquireSession(context.Background())
	require.NoError(t, err)
	assert.True(t, m.CheckHealth(context.Background()))
}

func TestPageAndAgeLimits(t *testing.T) {
	engine := &browsertest.Engine{EngineName: "fake"}
	mem := uint64(0)
	c := &clock{t: time.Date(2026, 10, 19, 10, 0, 0, 0, time.UTC)}
	m := newManager([]browser.Engine{engine}, browser.HealthLimits{MaxPages: 2, MaxAge: time.Hour}, &mem, c)
	ctx := context.Background()

	s, err := m.AcquireSession(ctx)
	require.NoError(t, err)

	page, err := s.NewPage(ctx)
	require.NoError(t, err)
	require.NoError(t, page.Navigate(ctx, "https://example.test/1"))
	assert.True(t, m.CheckHealth(ctx))
	require.NoError(t, page.Navigate(ctx, "https://example.test/2"))
	assert.Equal(t, 2, s.PagesServed())
	assert.False(t, m.CheckHealth(ctx))

	s, err = m.AcquireSession(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, s.PagesServed())

	c.t = c.t.Add(2 * time.Hour)
	assert.False(t, m.CheckHealth(ctx))
}

func TestEngineFallbackOrder(t *testing.T) {
	broken := &browsertest.Engine{EngineName: "chromedp", Err: errors.New("exec: \"google-chrome\": executable file not found")}
	working := &browsertest.Engine{EngineName: "rod"}
	mem := uint64(0)
	m := newManager([]browser.Engine{broken, working}, browser.HealthLimits{}, &mem, &clock{t: time.Now()})

	s, err := m.AcquireSession(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "rod", s.Engine)
	assert.Equal(t, 1, broken.Launches)
	assert.Equal(t, 1, working.Launches)
}

func TestAllEnginesFailed(t *testing.T) {
	a := &browsertest.Engine{EngineName: "chromedp", Err: errors.New("boom")}
	b := &browsertest.Engine{EngineName: "rod", Err: errors.New("bang")}
	mem := uint64(0)
	m := newManager([]browser.Engine{a, b}, browser.HealthLimits{}, &mem, &clock{t: time.Now()})

	_, err := m.AcquireSession(context.Background())
	require.Error(t, err)
	assert.ErrorIs(t, err, browser.ErrAllEnginesFailed)
	assert.Contains(t, err.Error(), "bang")

	// Launch failure is not sticky: a later acquire tries again.
	b.Err = nil
	s, err := m.AcquireSession(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "rod", s.Engine)
}

func TestInvalidateClosesSession(t *testing.T) {
	engine := &browsertest.Engine{EngineName: "fake"}
	mem := uint64(0)
	m := newManager([]browser.Engine{engine}, browser.HealthLimits{}, &mem, &clock{t: time.Now()})
	ctx := context.Background()

	s, err := m.AcquireSession(ctx)
	require.NoError(t, err)
	page, err := s.NewPage(ctx)
	require.NoError(t, err)

	m.Invalidate("task timed out")
	assert.Nil(t, m.Current())
	assert.True(t, s.Closed())

	err = page.Navigate(ctx, "https://example.test")
	assert.ErrorIs(t, err, browser.ErrSessionClosed)
	_, err = s.NewPage(ctx)
	assert.ErrorIs(t, err, browser.ErrSessionClosed)
}

func TestEnginesFromNames(t *testing.T) {
	engines, err := browser.EnginesFromNames([]string{"rod", "chromedp"}, browser.LaunchOptions{ExecPath: "/bin/true"})
	require.NoError(t, err)
	require.Len(t, engines, 2)
	assert.Equal(t, "rod", engines[0].Name())
	assert.Equal(t, "chromedp", engines[1].Name())

	_, err = browser.EnginesFromNames([]string{"firefox"}, browser.LaunchOptions{})
	assert.Error(t, err)
}

func TestClickHelper(t *testing.T) {
	page := browsertest.NewPage("https://example.test", "")
	page.EvalFunc = func(js string) (any, error) { return true, nil }

	ok, err := browser.Click(context.Background(), page, `button[id="accept"]`)
	require.NoError(t, err)
	assert.True(t, ok)
	require.Len(t, page.Evaluated, 1)
	assert.Contains(t, page.Evaluated[0], `"button[id=\"accept\"]"`)
}

func TestCheckMemoryRetiresSessionMidTask(t *testing.T) {
	engine := &browsertest.Engine{EngineName: "fake"}
	mem := uint64(100 << 20)
	c := &clock{t: time.Date(2026, 10, 19, 10, 0, 0, 0, time.UTC)}
	m := newManager([]browser.Engine{engine}, browser.HealthLimits{MemoryCriticalMB: 1200}, &mem, c)

	s, err := m.AcquireSession(context.Background())
	require.NoError(t, err)
	assert.NoError(t, m.CheckMemory(s))

	mem = 1300 << 20
	err = m.CheckMemory(s)
	assert.ErrorIs(t, err, browser.ErrMemoryExceeded)
	assert.False(t, m.CheckHealth(context.Background()))

	next, err := m.AcquireSession(context.Background())
	require.NoError(t, err)
	assert.NotSame(t, s, next)
	assert.Equal(t, 2, engine.Launches)
}
