package antibot

import (
	"context"
	"fmt"

	"otodom-stats/browser"
)

const (
	stepScroll = iota
	stepHover
	stepPointer
	stepKinds
)

var defaultHoverSelectors = []string{"article", "a[href]", "li", "img"}

// SimulateBrowsing performs 2-4 random scroll, hover and pointer-move
// steps with randomized pauses. Failures are logged and ignored.
func (g *Guard) SimulateBrowsing(ctx context.Context, page browser.Page) {
	steps := 2 + g.intn(3)
	for i := 0; i < steps; i++ {
		if err := g.delay(ctx); err != nil {
			return
		}

		var err error
		switch g.intn(stepKinds) {
		case stepScroll:
			err = page.Evaluate(ctx, fmt.Sprintf(`window.scrollBy({top: %d, behavior: 'smooth'})`, 200+g.intn(700)), nil)
		case stepHover:
			err = page.Evaluate(ctx, hoverScript(g.hoverSelectors(), g.intn(1000)), nil)
		case stepPointer:
			w, h := 1280, 720
			err = page.MoveMouse(ctx, float64(50+g.intn(w-100)), float64(50+g.intn(h-100)))
		}
		if err != nil {
			g.logger.Debug("[antibot] Behaviour step %d failed: %v", i+1, err)
		}
	}
}

func (g *Guard) hoverSelectors() []string {
	if len(g.opts.HoverSelectors) > 0 {
		return g.opts.HoverSelectors
	}
	return defaultHoverSelectors
}

func hoverScript(selectors []string, pick int) string {
	return fmt.Sprintf(`(() => {
		for (const sel of %s) {
			const nodes = document.querySelectorAll(sel);
			if (!nodes.length) continue;
			const el = nodes[%d %% nodes.length];
			const r = el.getBoundingClientRect();
			const opts = {bubbles: true, clientX: r.left + r.width / 2, clientY: r.top + r.height / 2};
			el.dispatchEvent(new MouseEvent('mouseover', opts));
			el.dispatchEvent(new MouseEvent('mouseenter', opts));
			el.dispatchEvent(new MouseEvent('mousemove', opts));
			return true;
		}
		return false;
	})()`, jsValue(selectors), pick)
}
