// Package fingerprint defines the typed browser-fingerprint configuration a
// profile carries and the generator abstraction that produces fresh ones.
//
// The configuration is explicit and validated at load time; only EngineOpts
// is an opaque pass-through for options specific to a particular automation
// engine. Generating realistic parameter distributions is the job of an
// external generator; the preset generator here only samples a small table
// of known-good combinations.
package fingerprint

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
)

// Screen is the advertised screen resolution.
type Screen struct {
	Width  int `json:"width"`
	Height int `json:"height"`
}

// Navigator mirrors the JS navigator properties the session advertises.
type Navigator struct {
	UserAgent           string   `json:"user_agent"`
	Platform            string   `json:"platform"`
	Language            string   `json:"language"`
	Languages           []string `json:"languages,omitempty"`
	HardwareConcurrency int      `json:"hardware_concurrency"`
	DeviceMemory        int      `json:"device_memory"`
	MaxTouchPoints      int      `json:"max_touch_points"`
	Vendor              string   `json:"vendor"`
}

// WebGL is the advertised WebGL vendor/renderer pair.
type WebGL struct {
	Vendor           string `json:"vendor"`
	Renderer         string `json:"renderer"`
	UnmaskedVendor   string `json:"unmasked_vendor"`
	UnmaskedRenderer string `json:"unmasked_renderer"`
}

// Canvas holds the per-channel noise applied to canvas readbacks.
type Canvas struct {
	NoiseR float64 `json:"noise_r"`
	NoiseG float64 `json:"noise_g"`
	NoiseB float64 `json:"noise_b"`
	NoiseA float64 `json:"noise_a"`
}

// Audio holds the audio-context noise parameters.
type Audio struct {
	SampleRate  int     `json:"sample_rate"`
	NoiseFactor float64 `json:"noise_factor"`
}

// Fingerprint is the full parameter set seeded into a browser context.
type Fingerprint struct {
	ID        string    `json:"id"`
	Screen    Screen    `json:"screen"`
	Navigator Navigator `json:"navigator"`
	Timezone  string    `json:"timezone"`
	WebGL     WebGL     `json:"webgl"`
	Canvas    Canvas    `json:"canvas"`
	Audio     Audio     `json:"audio"`
	Fonts     []string  `json:"fonts,omitempty"`
	Plugins   []string  `json:"plugins,omitempty"`

	// EngineOpts is passed through verbatim to the automation engine.
	EngineOpts map[string]any `json:"engine_opts,omitempty"`
}

// Clone returns a deep copy.
func (f *Fingerprint) Clone() *Fingerprint {
	cp := *f
	cp.Navigator.Languages = append([]string(nil), f.Navigator.Languages...)
	cp.Fonts = append([]string(nil), f.Fonts...)
	cp.Plugins = append([]string(nil), f.Plugins...)
	if f.EngineOpts != nil {
		cp.EngineOpts = make(map[string]any, len(f.EngineOpts))
		for k, v := range f.EngineOpts {
			cp.EngineOpts[k] = v
		}
	}
	return &cp
}

// Empty reports whether the fingerprint was never generated. The launcher
// treats an empty fingerprint as "generate one now".
func (f *Fingerprint) Empty() bool {
	return f.Navigator.UserAgent == "" && f.Screen.Width == 0
}

// Validate checks the fields a loaded profile must carry before the
// configuration can be seeded into a context. An empty fingerprint is valid;
// a partially filled one is not.
func (f *Fingerprint) Validate() error {
	if f.Empty() {
		return nil
	}
	if f.Navigator.UserAgent == "" {
		return fmt.Errorf("fingerprint %s: missing user agent", f.ID)
	}
	if f.Screen.Width <= 0 || f.Screen.Height <= 0 {
		return fmt.Errorf("fingerprint %s: invalid screen %dx%d", f.ID, f.Screen.Width, f.Screen.Height)
	}
	if f.Navigator.HardwareConcurrency <= 0 {
		return fmt.Errorf("fingerprint %s: invalid hardware concurrency %d", f.ID, f.Navigator.HardwareConcurrency)
	}
	return nil
}

// Hash returns a short stable digest over the distinguishing parameters,
// used to track uniqueness across a batch.
func (f *Fingerprint) Hash() string {
	data := fmt.Sprintf("%s|%dx%d|%s|%.6f|%s",
		f.Navigator.UserAgent,
		f.Screen.Width, f.Screen.Height,
		f.WebGL.UnmaskedRenderer,
		f.Canvas.NoiseR,
		f.Timezone,
	)
	sum := sha256.Sum256([]byte(data))
	return hex.EncodeToString(sum[:])[:16]
}
