package antibot

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"otodom-stats/browser"
	"otodom-stats/utils"
)

// Consent strategy identifiers reported in diagnostics.
const (
	ConsentAbsent           = "absent"
	ConsentClick            = "click"
	ConsentStorageInjection = "storage_injection"
	ConsentProceedUnblocked = "proceed_unblocked"
)

// ConsentRules describe one site's consent wall.
type ConsentRules struct {
	// WallSelectors match the overlay while it is visible.
	WallSelectors []string
	// AcceptSelectors are tried in order for the click strategy.
	AcceptSelectors []string
	Cookies         map[string]string
	LocalStorage    map[string]string
	// Settle is how long to wait after an action before rechecking.
	Settle time.Duration
}

// ConsentOutcome records how the wall was dealt with.
type ConsentOutcome struct {
	Handled     bool     `json:"handled"`
	Strategy    string   `json:"strategy"`
	WallPresent bool     `json:"wallPresent"`
	Attempts    []string `json:"attempts,omitempty"`
}

// ResolveConsentWall tries each strategy in order until the wall is gone.
// It never fails; an unresolved wall is reported as proceed_unblocked.
func (g *Guard) ResolveConsentWall(ctx context.Context, page browser.Page) ConsentOutcome {
	rules := g.opts.Consent

	present, err := g.wallVisible(ctx, page)
	if err != nil {
		g.logger.Debug("[antibot] Consent wall check failed: %v", err)
	}
	if !present {
		return ConsentOutcome{Handled: true, Strategy: ConsentAbsent}
	}

	out := ConsentOutcome{WallPresent: true}

	out.Attempts = append(out.Attempts, ConsentClick)
	for _, sel := range rules.AcceptSelectors {
		clicked, err := browser.Click(ctx, page, sel)
		if err != nil {
			g.logger.Debug("[antibot] Consent click %q failed: %v", sel, err)
			continue
		}
		if !clicked {
			continue
		}
		if g.wallGone(ctx, page) {
			g.logger.Info("[antibot] Consent wall accepted via %q", sel)
			out.Handled, out.Strategy = true, ConsentClick
			return out
		}
	}

	out.Attempts = append(out.Attempts, ConsentStorageInjection)
	if err := page.Evaluate(ctx, storageInjectionScript(rules), nil); err != nil {
		g.logger.Debug("[antibot] Consent storage injection failed: %v", err)
	} else if err := page.Reload(ctx); err != nil {
		g.logger.Debug("[antibot] Reload after consent injection failed: %v", err)
	} else if g.wallGone(ctx, page) {
		g.logger.Info("[antibot] Consent wall cleared via storage injection")
		out.Handled, out.Strategy = true, ConsentStorageInjection
		return out
	}

	g.logger.Warn("[antibot] Consent wall unresolved, proceeding with it in place")
	out.Attempts = append(out.Attempts, ConsentProceedUnblocked)
	out.Strategy = ConsentProceedUnblocked
	return out
}

func (g *Guard) wallGone(ctx context.Context, page browser.Page) bool {
	if err := utils.Sleep(ctx, g.opts.Consent.Settle); err != nil {
		return false
	}
	present, err := g.wallVisible(ctx, page)
	return err == nil && !present
}

func (g *Guard) wallVisible(ctx context.Context, page browser.Page) (bool, error) {
	if len(g.opts.Consent.WallSelectors) == 0 {
		return false, nil
	}
	var visible bool
	err := page.Evaluate(ctx, wallVisibleScript(g.opts.Consent.WallSelectors), &visible)
	return visible, err
}

func wallVisibleScript(selectors []string) string {
	return fmt.Sprintf(`(() => {
		const selectors = %s;
		return selectors.some((sel) => {
			const el = document.querySelector(sel);
			if (!el) return false;
			const style = window.getComputedStyle(el);
			return style.display !== 'none' && style.visibility !== 'hidden' && el.getClientRects().length > 0;
		});
	})()`, jsValue(selectors))
}

func storageInjectionScript(rules ConsentRules) string {
	cookies, _ := json.Marshal(rules.Cookies)
	storage, _ := json.Marshal(rules.LocalStorage)
	return fmt.Sprintf(`(() => {
		const cookies = %s || {};
		const storage = %s || {};
		const expires = new Date(Date.now() + 365 * 864e5).toUTCString();
		for (const [name, value] of Object.entries(cookies)) {
			document.cookie = name + '=' + encodeURIComponent(value) + '; path=/; expires=' + expires;
		}
		for (const [key, value] of Object.entries(storage)) {
			try { localStorage.setItem(key, value); } catch (e) {}
		}
		return true;
	})()`, cookies, storage)
}
