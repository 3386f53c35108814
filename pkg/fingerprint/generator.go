package fingerprint

import (
	"fmt"
	"math/rand/v2"

	"github.com/google/uuid"
)

// Generator produces fingerprint configurations. Realistic distribution
// modelling lives behind this interface; callers treat the result as opaque.
type Generator interface {
	// Generate returns a fingerprint for a random platform.
	Generate() (*Fingerprint, error)

	// GenerateForOS returns a fingerprint imitating the given OS
	// ("windows", "macos", "linux").
	GenerateForOS(os string) (*Fingerprint, error)
}

// Preset bundles a known-good combination of platform parameters.
type preset struct {
	platform  string
	vendor    string
	userAgent string
	webgl     []WebGL
}

var chromeVersions = []string{
	"131.0.0.0", "132.0.0.0", "133.0.0.0", "134.0.0.0", "135.0.0.0",
}

// Screen resolutions with rough real-world weights.
var screens = []struct {
	w, h, weight int
}{
	{1920, 1080, 50},
	{2560, 1440, 15},
	{1366, 768, 12},
	{1536, 864, 8},
	{1440, 900, 5},
	{1680, 1050, 4},
	{2560, 1080, 3},
	{3840, 2160, 2},
	{1280, 720, 1},
}

var timezones = []string{
	"America/New_York", "America/Chicago", "America/Los_Angeles",
	"Europe/London", "Europe/Berlin", "Europe/Paris", "Europe/Warsaw",
	"Asia/Tokyo", "Australia/Sydney",
}

var presets = map[string]preset{
	"windows": {
		platform:  "Win32",
		vendor:    "Google Inc.",
		userAgent: "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/%s Safari/537.36",
		webgl: []WebGL{
			{"WebKit", "WebKit WebGL", "Google Inc. (NVIDIA)", "ANGLE (NVIDIA, NVIDIA GeForce RTX 3080 Direct3D11 vs_5_0 ps_5_0, D3D11)"},
			{"WebKit", "WebKit WebGL", "Google Inc. (NVIDIA)", "ANGLE (NVIDIA, NVIDIA GeForce RTX 4070 Direct3D11 vs_5_0 ps_5_0, D3D11)"},
			{"WebKit", "WebKit WebGL", "Google Inc. (AMD)", "ANGLE (AMD, AMD Radeon RX 6800 XT Direct3D11 vs_5_0 ps_5_0, D3D11)"},
			{"WebKit", "WebKit WebGL", "Google Inc. (Intel)", "ANGLE (Intel, Intel(R) UHD Graphics 630 Direct3D11 vs_5_0 ps_5_0, D3D11)"},
		},
	},
	"macos": {
		platform:  "MacIntel",
		vendor:    "Google Inc.",
		userAgent: "Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/%s Safari/537.36",
		webgl: []WebGL{
			{"WebKit", "WebKit WebGL", "Apple Inc.", "Apple M1"},
			{"WebKit", "WebKit WebGL", "Apple Inc.", "Apple M2 Pro"},
			{"WebKit", "WebKit WebGL", "Google Inc. (Apple)", "ANGLE (Apple, ANGLE Metal Renderer: Apple M1, Unspecified Version)"},
		},
	},
	"linux": {
		platform:  "Linux x86_64",
		vendor:    "Google Inc.",
		userAgent: "Mozilla/5.0 (X11; Linux x86_64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/%s Safari/537.36",
		webgl: []WebGL{
			{"WebKit", "WebKit WebGL", "NVIDIA Corporation", "NVIDIA GeForce RTX 3070/PCIe/SSE2"},
			{"WebKit", "WebKit WebGL", "X.Org", "AMD Radeon RX 6800 XT (navi21, LLVM 15.0.7, DRM 3.49, 6.1.0)"},
			{"WebKit", "WebKit WebGL", "Mesa", "Mesa Intel(R) UHD Graphics 630 (CFL GT2)"},
		},
	},
}

var osNames = []string{"windows", "macos", "linux"}

// PresetGenerator samples fingerprints from a small table of known-good
// platform combinations with light per-sample noise. It is the default when
// no external generator is configured.
type PresetGenerator struct{}

// NewPresetGenerator returns the built-in generator.
func NewPresetGenerator() *PresetGenerator {
	return &PresetGenerator{}
}

// Generate picks a random platform and delegates to GenerateForOS.
func (g *PresetGenerator) Generate() (*Fingerprint, error) {
	return g.GenerateForOS(osNames[rand.IntN(len(osNames))])
}

// GenerateForOS samples a fingerprint for the given OS name. Unknown names
// fall back to windows, the most common platform.
func (g *PresetGenerator) GenerateForOS(os string) (*Fingerprint, error) {
	p, ok := presets[os]
	if !ok {
		p = presets["windows"]
	}

	version := chromeVersions[rand.IntN(len(chromeVersions))]
	screen := pickScreen()
	webgl := p.webgl[rand.IntN(len(p.webgl))]

	fp := &Fingerprint{
		ID: uuid.New().String(),
		Screen: Screen{
			Width:  screen.w,
			Height: screen.h,
		},
		Navigator: Navigator{
			UserAgent:           fmt.Sprintf(p.userAgent, version),
			Platform:            p.platform,
			Language:            "en-US",
			Languages:           []string{"en-US", "en"},
			HardwareConcurrency: []int{4, 8, 12, 16}[rand.IntN(4)],
			DeviceMemory:        []int{4, 8, 16}[rand.IntN(3)],
			Vendor:              p.vendor,
		},
		Timezone: timezones[rand.IntN(len(timezones))],
		WebGL:    webgl,
		Canvas: Canvas{
			NoiseR: rand.Float64() * 0.01,
			NoiseG: rand.Float64() * 0.01,
			NoiseB: rand.Float64() * 0.01,
			NoiseA: rand.Float64() * 0.001,
		},
		Audio: Audio{
			SampleRate:  44100,
			NoiseFactor: rand.Float64() * 1e-5,
		},
	}
	return fp, nil
}

func pickScreen() struct{ w, h, weight int } {
	total := 0
	for _, s := range screens {
		total += s.weight
	}
	n := rand.IntN(total)
	for _, s := range screens {
		n -= s.weight
		if n < 0 {
			return s
		}
	}
	return screens[0]
}
