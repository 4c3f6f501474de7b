package antibot

import (
	"encoding/json"
	"fmt"

	"github.com/go-rod/stealth"
)

// overridesTemplate pins the properties fingerprinting scripts read most
// often. It runs after stealth.JS, which already patches the bulk of the
// headless tells, so later definitions win.
const overridesTemplate = `(() => {
	const define = (obj, prop, value) => {
		try { Object.defineProperty(obj, prop, { get: () => value, configurable: true }); } catch (e) {}
	};

	define(Navigator.prototype, 'webdriver', undefined);
	define(Navigator.prototype, 'languages', %[1]s);
	define(Navigator.prototype, 'language', %[2]s);
	define(Navigator.prototype, 'platform', %[3]s);
	define(Navigator.prototype, 'hardwareConcurrency', %[4]d);
	define(Navigator.prototype, 'deviceMemory', %[5]d);

	const fakePlugins = [
		{ name: 'PDF Viewer', filename: 'internal-pdf-viewer', description: 'Portable Document Format' },
		{ name: 'Chrome PDF Viewer', filename: 'internal-pdf-viewer', description: 'Portable Document Format' },
		{ name: 'Chromium PDF Viewer', filename: 'internal-pdf-viewer', description: 'Portable Document Format' },
		{ name: 'Microsoft Edge PDF Viewer', filename: 'internal-pdf-viewer', description: 'Portable Document Format' },
		{ name: 'WebKit built-in PDF', filename: 'internal-pdf-viewer', description: 'Portable Document Format' },
	];
	const fakeMimeTypes = [
		{ type: 'application/pdf', suffixes: 'pdf', description: 'Portable Document Format' },
		{ type: 'text/pdf', suffixes: 'pdf', description: 'Portable Document Format' },
	];
	const asList = (items) => {
		const list = Object.create(null);
		items.forEach((item, i) => { list[i] = item; });
		list.length = items.length;
		list.item = (i) => items[i] || null;
		list.namedItem = (n) => items.find((it) => it.name === n || it.type === n) || null;
		list[Symbol.iterator] = function* () { yield* items; };
		return list;
	};
	define(Navigator.prototype, 'plugins', asList(fakePlugins));
	define(Navigator.prototype, 'mimeTypes', asList(fakeMimeTypes));

	const vendor = %[6]s;
	const renderer = %[7]s;
	const patchGL = (proto) => {
		if (!proto) return;
		const getParameter = proto.getParameter;
		proto.getParameter = function (param) {
			if (param === 37445) return vendor;
			if (param === 37446) return renderer;
			return getParameter.call(this, param);
		};
	};
	patchGL(window.WebGLRenderingContext && WebGLRenderingContext.prototype);
	patchGL(window.WebGL2RenderingContext && WebGL2RenderingContext.prototype);

	const toDataURL = HTMLCanvasElement.prototype.toDataURL;
	HTMLCanvasElement.prototype.toDataURL = function (...args) {
		const ctx = this.getContext('2d');
		if (ctx && this.width > 0 && this.height > 0) {
			const px = ctx.getImageData(0, 0, 1, 1);
			px.data[3] = px.data[3] ^ 1;
			ctx.putImageData(px, 0, 0);
		}
		return toDataURL.apply(this, args);
	};
})();`

// FingerprintScript returns the init script installed on every page of a
// session using profile p.
func FingerprintScript(p Profile) string {
	overrides := fmt.Sprintf(overridesTemplate,
		jsValue([]string{"pl-PL", "pl", "en-US", "en"}),
		jsValue(Locale),
		jsValue(p.Platform),
		p.HardwareConcurrency,
		p.DeviceMemory,
		jsValue(p.WebGLVendor),
		jsValue(p.WebGLRenderer),
	)
	return stealth.JS + "\n" + overrides
}

func jsValue(v any) string {
	b, err := json.Marshal(v)
	if err != nil {
		return "null"
	}
	return string(b)
}
