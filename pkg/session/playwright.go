package session

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/playwright-community/playwright-go"

	"github.com/entrhq/mantle/pkg/fingerprint"
	"github.com/entrhq/mantle/pkg/logging"
)

// PlaywrightEngine drives Chromium through Playwright. Each profile gets a
// persistent context rooted at its own user-data directory, so cookies and
// local storage survive across sessions.
type PlaywrightEngine struct {
	mu  sync.Mutex
	pw  *playwright.Playwright
	log *logging.Logger
}

// NewPlaywrightEngine returns an engine that is not yet started.
func NewPlaywrightEngine(log *logging.Logger) *PlaywrightEngine {
	return &PlaywrightEngine{log: log}
}

// Start installs the Playwright driver if needed and launches it. Driver
// output is discarded so it never reaches the terminal.
func (e *PlaywrightEngine) Start() error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.pw != nil {
		return nil
	}

	opts := &playwright.RunOptions{
		Verbose: false,
		Stdout:  io.Discard,
		Stderr:  io.Discard,
	}
	if err := playwright.Install(opts); err != nil {
		return fmt.Errorf("failed to install playwright: %w", err)
	}
	pw, err := playwright.Run(opts)
	if err != nil {
		return fmt.Errorf("failed to start playwright: %w", err)
	}
	e.pw = pw
	return nil
}

// Shutdown stops the Playwright driver. Live handles become invalid.
func (e *PlaywrightEngine) Shutdown() error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.pw == nil {
		return nil
	}
	if err := e.pw.Stop(); err != nil {
		return fmt.Errorf("failed to stop playwright: %w", err)
	}
	e.pw = nil
	return nil
}

// CreateContext launches a persistent Chromium context seeded with the
// profile's fingerprint and proxy, and reopens any saved tabs.
func (e *PlaywrightEngine) CreateContext(ctx context.Context, opts ContextOptions) (Handle, error) {
	e.mu.Lock()
	pw := e.pw
	e.mu.Unlock()
	if pw == nil {
		return nil, fmt.Errorf("engine not started")
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	launchOpts := playwright.BrowserTypeLaunchPersistentContextOptions{
		Headless: playwright.Bool(opts.Headless),
	}
	if fp := opts.Fingerprint; fp != nil && !fp.Empty() {
		launchOpts.UserAgent = playwright.String(fp.Navigator.UserAgent)
		launchOpts.Viewport = &playwright.Size{
			Width:  fp.Screen.Width,
			Height: fp.Screen.Height,
		}
		if fp.Timezone != "" {
			launchOpts.TimezoneId = playwright.String(fp.Timezone)
		}
		if fp.Navigator.Language != "" {
			launchOpts.Locale = playwright.String(fp.Navigator.Language)
		}
	}
	if opts.Proxy.Active() {
		launchOpts.Proxy = &playwright.Proxy{
			Server: opts.Proxy.Server(),
		}
		if opts.Proxy.Username != "" {
			launchOpts.Proxy.Username = playwright.String(opts.Proxy.Username)
			launchOpts.Proxy.Password = playwright.String(opts.Proxy.Password)
		}
	}
	if args := stringSlice(opts.EngineOpts["args"]); len(args) > 0 {
		launchOpts.Args = args
	}

	bctx, err := pw.Chromium.LaunchPersistentContext(opts.UserDataDir, launchOpts)
	if err != nil {
		return nil, fmt.Errorf("failed to launch context: %w", err)
	}

	if fp := opts.Fingerprint; fp != nil && !fp.Empty() {
		script := playwright.Script{Content: playwright.String(initScript(fp))}
		if err := bctx.AddInitScript(script); err != nil {
			_ = bctx.Close()
			return nil, fmt.Errorf("failed to add init script: %w", err)
		}
	}

	h := &playwrightHandle{
		bctx:   bctx,
		closed: make(chan ClosureReason, 1),
	}
	bctx.OnClose(func(playwright.BrowserContext) {
		if h.requested.Load() {
			h.signal(ReasonStopped)
		} else {
			h.signal(ReasonClosed)
		}
	})
	if b := bctx.Browser(); b != nil {
		b.OnDisconnected(func(playwright.Browser) {
			if h.requested.Load() {
				h.signal(ReasonStopped)
			} else {
				h.signal(ReasonCrashed)
			}
		})
	}

	e.restoreTabs(bctx, opts)
	return h, nil
}

// restoreTabs reopens saved URLs in the fresh context. Failures are logged
// and skipped; a tab that no longer loads must not block the launch.
func (e *PlaywrightEngine) restoreTabs(bctx playwright.BrowserContext, opts ContextOptions) {
	for _, url := range opts.RestoreTabs {
		page, err := bctx.NewPage()
		if err != nil {
			e.log.Warnf("restore tab for %s: %v", opts.ProfileID, err)
			return
		}
		if _, err := page.Goto(url, playwright.PageGotoOptions{
			WaitUntil: playwright.WaitUntilStateDomcontentloaded,
		}); err != nil {
			e.log.Warnf("restore tab %s for %s: %v", url, opts.ProfileID, err)
		}
	}
}

// playwrightHandle wraps one persistent context. The closed channel carries
// exactly one reason; requested distinguishes a programmatic close from the
// user closing the window.
type playwrightHandle struct {
	bctx       playwright.BrowserContext
	closed     chan ClosureReason
	requested  atomic.Bool
	signalOnce sync.Once
}

func (h *playwrightHandle) signal(reason ClosureReason) {
	h.signalOnce.Do(func() {
		h.closed <- reason
	})
}

func (h *playwrightHandle) Close() error {
	h.requested.Store(true)
	return h.bctx.Close()
}

func (h *playwrightHandle) Kill() error {
	h.requested.Store(true)
	if b := h.bctx.Browser(); b != nil {
		err := b.Close()
		h.signal(ReasonStopped)
		return err
	}
	err := h.bctx.Close()
	h.signal(ReasonStopped)
	return err
}

func (h *playwrightHandle) AwaitClosed() <-chan ClosureReason {
	return h.closed
}

func (h *playwrightHandle) OpenTabs() []string {
	var urls []string
	for _, page := range h.bctx.Pages() {
		if u := page.URL(); u != "" && u != "about:blank" {
			urls = append(urls, u)
		}
	}
	return urls
}

// initScript builds the JS injected before any page script runs. It pins the
// navigator and screen properties to the fingerprint, masks the WebGL
// vendor/renderer, perturbs canvas readbacks, and hides the webdriver flag.
func initScript(fp *fingerprint.Fingerprint) string {
	var b strings.Builder

	b.WriteString("(() => {\n")
	b.WriteString("Object.defineProperty(navigator, 'webdriver', { get: () => undefined });\n")

	defineNav := func(prop string, value any) {
		raw, _ := json.Marshal(value)
		fmt.Fprintf(&b, "Object.defineProperty(navigator, %q, { get: () => %s });\n", prop, raw)
	}
	defineNav("platform", fp.Navigator.Platform)
	defineNav("vendor", fp.Navigator.Vendor)
	defineNav("hardwareConcurrency", fp.Navigator.HardwareConcurrency)
	if fp.Navigator.DeviceMemory > 0 {
		defineNav("deviceMemory", fp.Navigator.DeviceMemory)
	}
	if len(fp.Navigator.Languages) > 0 {
		defineNav("languages", fp.Navigator.Languages)
	}
	if fp.Navigator.MaxTouchPoints >= 0 {
		defineNav("maxTouchPoints", fp.Navigator.MaxTouchPoints)
	}

	fmt.Fprintf(&b, "Object.defineProperty(screen, 'width', { get: () => %d });\n", fp.Screen.Width)
	fmt.Fprintf(&b, "Object.defineProperty(screen, 'height', { get: () => %d });\n", fp.Screen.Height)
	fmt.Fprintf(&b, "Object.defineProperty(screen, 'availWidth', { get: () => %d });\n", fp.Screen.Width)
	fmt.Fprintf(&b, "Object.defineProperty(screen, 'availHeight', { get: () => %d });\n", fp.Screen.Height)

	if fp.WebGL.UnmaskedVendor != "" || fp.WebGL.UnmaskedRenderer != "" {
		vendor, _ := json.Marshal(fp.WebGL.UnmaskedVendor)
		renderer, _ := json.Marshal(fp.WebGL.UnmaskedRenderer)
		fmt.Fprintf(&b, `const patchGL = (proto) => {
  const orig = proto.getParameter;
  proto.getParameter = function (param) {
    if (param === 37445) return %s;
    if (param === 37446) return %s;
    return orig.call(this, param);
  };
};
if (window.WebGLRenderingContext) patchGL(WebGLRenderingContext.prototype);
if (window.WebGL2RenderingContext) patchGL(WebGL2RenderingContext.prototype);
`, vendor, renderer)
	}

	if fp.Canvas.NoiseR != 0 || fp.Canvas.NoiseG != 0 || fp.Canvas.NoiseB != 0 {
		fmt.Fprintf(&b, `const noise = [%f, %f, %f, %f];
const origGetImageData = CanvasRenderingContext2D.prototype.getImageData;
CanvasRenderingContext2D.prototype.getImageData = function (...args) {
  const data = origGetImageData.apply(this, args);
  for (let i = 0; i < data.data.length; i += 4) {
    data.data[i] = Math.min(255, Math.max(0, data.data[i] + noise[0]));
    data.data[i + 1] = Math.min(255, Math.max(0, data.data[i + 1] + noise[1]));
    data.data[i + 2] = Math.min(255, Math.max(0, data.data[i + 2] + noise[2]));
  }
  return data;
};
`, fp.Canvas.NoiseR, fp.Canvas.NoiseG, fp.Canvas.NoiseB, fp.Canvas.NoiseA)
	}

	b.WriteString("})();\n")
	return b.String()
}

// stringSlice coerces an engine option that may arrive as []string or, after
// a JSON round trip, as []any of strings.
func stringSlice(v any) []string {
	switch vv := v.(type) {
	case []string:
		return vv
	case []any:
		out := make([]string, 0, len(vv))
		for _, item := range vv {
			if s, ok := item.(string); ok {
				out = append(out, s)
			}
		}
		return out
	default:
		return nil
	}
}
