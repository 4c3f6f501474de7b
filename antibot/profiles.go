package antibot

import (
	"math/rand"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geo"

	"otodom-stats/browser"
)

const (
	Locale         = "pl-PL"
	Timezone       = "Europe/Warsaw"
	AcceptLanguage = "pl-PL,pl;q=0.9,en-US;q=0.8,en;q=0.7"

	// geolocation is jittered up to this many metres from the city centre
	maxGeoJitterMetres = 4000
)

// Profile is one realistic desktop identity. User agent, client hints and
// the hardware values reported to scripts are kept consistent.
type Profile struct {
	Name                string
	UserAgent           string
	Platform            string
	SecCHUA             string
	SecCHUAPlatform     string
	ViewportWidth       int
	ViewportHeight      int
	HardwareConcurrency int
	DeviceMemory        int
	WebGLVendor         string
	WebGLRenderer       string
}

// DefaultProfiles is the rotation used when none is configured.
var DefaultProfiles = []Profile{
	{
		Name:                "win-chrome-124",
		UserAgent:           "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/124.0.0.0 Safari/537.36",
		Platform:            "Win32",
		SecCHUA:             `"Chromium";v="124", "Google Chrome";v="124", "Not-A.Brand";v="99"`,
		SecCHUAPlatform:     `"Windows"`,
		ViewportWidth:       1920,
		ViewportHeight:      1080,
		HardwareConcurrency: 8,
		DeviceMemory:        8,
		WebGLVendor:         "Google Inc. (NVIDIA)",
		WebGLRenderer:       "ANGLE (NVIDIA, NVIDIA GeForce GTX 1660 Direct3D11 vs_5_0 ps_5_0, D3D11)",
	},
	{
		Name:                "win-chrome-123",
		UserAgent:           "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/123.0.0.0 Safari/537.36",
		Platform:            "Win32",
		SecCHUA:             `"Google Chrome";v="123", "Not:A-Brand";v="8", "Chromium";v="123"`,
		SecCHUAPlatform:     `"Windows"`,
		ViewportWidth:       1536,
		ViewportHeight:      864,
		HardwareConcurrency: 4,
		DeviceMemory:        8,
		WebGLVendor:         "Google Inc. (Intel)",
		WebGLRenderer:       "ANGLE (Intel, Intel(R) UHD Graphics 620 Direct3D11 vs_5_0 ps_5_0, D3D11)",
	},
	{
		Name:                "mac-chrome-124",
		UserAgent:           "Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/124.0.0.0 Safari/537.36",
		Platform:            "MacIntel",
		SecCHUA:             `"Chromium";v="124", "Google Chrome";v="124", "Not-A.Brand";v="99"`,
		SecCHUAPlatform:     `"macOS"`,
		ViewportWidth:       1440,
		ViewportHeight:      900,
		HardwareConcurrency: 10,
		DeviceMemory:        8,
		WebGLVendor:         "Google Inc. (Apple)",
		WebGLRenderer:       "ANGLE (Apple, Apple M1 Pro, OpenGL 4.1)",
	},
	{
		Name:                "linux-chrome-122",
		UserAgent:           "Mozilla/5.0 (X11; Linux x86_64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/122.0.0.0 Safari/537.36",
		Platform:            "Linux x86_64",
		SecCHUA:             `"Chromium";v="122", "Not(A:Brand";v="24", "Google Chrome";v="122"`,
		SecCHUAPlatform:     `"Linux"`,
		ViewportWidth:       1920,
		ViewportHeight:      1080,
		HardwareConcurrency: 12,
		DeviceMemory:        8,
		WebGLVendor:         "Google Inc. (AMD)",
		WebGLRenderer:       "ANGLE (AMD, AMD Radeon RX 580 (polaris10, LLVM 15.0.7), OpenGL 4.6)",
	},
}

// Identity renders the profile as page overrides located near center.
func (p Profile) Identity(center orb.Point, rng *rand.Rand) browser.Identity {
	loc := jitter(center, rng)
	return browser.Identity{
		UserAgent:      p.UserAgent,
		Platform:       p.Platform,
		AcceptLanguage: AcceptLanguage,
		Locale:         Locale,
		Timezone:       Timezone,
		Latitude:       loc.Lat(),
		Longitude:      loc.Lon(),
		ViewportWidth:  p.ViewportWidth,
		ViewportHeight: p.ViewportHeight,
		Headers: map[string]string{
			"Accept-Language":    AcceptLanguage,
			"sec-ch-ua":          p.SecCHUA,
			"sec-ch-ua-mobile":   "?0",
			"sec-ch-ua-platform": p.SecCHUAPlatform,
		},
		InitScripts: []string{FingerprintScript(p)},
	}
}

func jitter(center orb.Point, rng *rand.Rand) orb.Point {
	if center == (orb.Point{}) {
		return center
	}
	bearing := rng.Float64() * 360
	distance := rng.Float64() * maxGeoJitterMetres
	return geo.PointAtBearingAndDistance(center, bearing, distance)
}
