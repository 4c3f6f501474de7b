package antibot

import (
	"context"
	"fmt"
	"math/rand"
	"sync"
	"time"

	"github.com/paulmach/orb"

	"otodom-stats/browser"
	"otodom-stats/utils"
)

// Options configure the Guard. Site-specific tables come from the caller.
type Options struct {
	Profiles []Profile
	Consent  ConsentRules
	Block    BlockRules
	MinDelay time.Duration
	MaxDelay time.Duration
	// HoverSelectors are candidate targets for hover steps.
	HoverSelectors []string
}

// PageContext is a page prepared with a session's identity.
type PageContext struct {
	Page     browser.Page
	Profile  Profile
	Identity browser.Identity
}

// Guard makes a browser session look like an ordinary Polish desktop user.
// Each new session gets the next profile in rotation; pages of the same
// session share it.
type Guard struct {
	opts   Options
	logger *utils.Logger

	mu          sync.Mutex
	rng         *rand.Rand
	next        int
	sessionID   string
	sessionProf Profile
	// sessionIdent is jittered once per session and city centre so pages of
	// one session report one position.
	sessionIdent  browser.Identity
	sessionCenter orb.Point
	haveIdent     bool
}

// NewGuard builds a Guard. A nil rng is seeded from the clock.
func NewGuard(opts Options, logger *utils.Logger, rng *rand.Rand) *Guard {
	if len(opts.Profiles) == 0 {
		opts.Profiles = DefaultProfiles
	}
	if rng == nil {
		rng = rand.New(rand.NewSource(time.Now().UnixNano()))
	}
	return &Guard{opts: opts, logger: logger, rng: rng}
}

// PrepareSession opens a page on the session and applies identity,
// locale, timezone, geolocation near center and fingerprint overrides
// before anything is loaded.
func (g *Guard) PrepareSession(ctx context.Context, session *browser.Session, center orb.Point) (*PageContext, error) {
	profile, identity := g.identityFor(session.ID, center)

	page, err := session.NewPage(ctx)
	if err != nil {
		return nil, fmt.Errorf("antibot: open page: %w", err)
	}
	if err := page.ApplyIdentity(ctx, identity); err != nil {
		_ = page.Close()
		return nil, fmt.Errorf("antibot: apply identity %s: %w", profile.Name, err)
	}

	g.logger.Debug("[antibot] Session %s using profile %s (%.4f, %.4f)",
		session.ID, profile.Name, identity.Latitude, identity.Longitude)
	return &PageContext{Page: page, Profile: profile, Identity: identity}, nil
}

func (g *Guard) identityFor(sessionID string, center orb.Point) (Profile, browser.Identity) {
	g.mu.Lock()
	defer g.mu.Unlock()

	if sessionID != g.sessionID {
		g.sessionID = sessionID
		g.sessionProf = g.opts.Profiles[g.next%len(g.opts.Profiles)]
		g.next++
		g.haveIdent = false
	}
	if !g.haveIdent || !g.sessionCenter.Equal(center) {
		g.sessionIdent = g.sessionProf.Identity(center, g.rng)
		g.sessionCenter = center
		g.haveIdent = true
	}
	return g.sessionProf, g.sessionIdent
}

func (g *Guard) delay(ctx context.Context) error {
	g.mu.Lock()
	d := utils.RandomDuration(g.rng, g.opts.MinDelay, g.opts.MaxDelay)
	g.mu.Unlock()
	return utils.Sleep(ctx, d)
}

// intn is rng.Intn under the guard's lock.
func (g *Guard) intn(n int) int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.rng.Intn(n)
}
