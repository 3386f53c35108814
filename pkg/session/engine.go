package session

import (
	"context"

	"github.com/entrhq/mantle/pkg/fingerprint"
	"github.com/entrhq/mantle/pkg/types"
)

// ClosureReason says how a browser context ended.
type ClosureReason string

const (
	// ReasonStopped means the launcher closed the context programmatically.
	ReasonStopped ClosureReason = "stopped"

	// ReasonClosed means the user closed the browser window.
	ReasonClosed ClosureReason = "closed"

	// ReasonCrashed means the browser ended abruptly.
	ReasonCrashed ClosureReason = "crashed"
)

// ContextOptions seeds an isolated browser context with one profile's
// identity.
type ContextOptions struct {
	ProfileID   string
	UserDataDir string
	Headless    bool

	// Fingerprint parameters applied to the context. Never nil.
	Fingerprint *fingerprint.Fingerprint

	// Proxy is applied when Active(); the engine receives the decrypted
	// credential transiently and never persists it.
	Proxy types.ProxyConfig

	// RestoreTabs are URLs reopened from the previous session.
	RestoreTabs []string

	// EngineOpts are engine-specific options passed through verbatim.
	EngineOpts map[string]any
}

// Handle is one live browser context. The orchestrator never inspects the
// engine beyond this surface.
type Handle interface {
	// Close requests a graceful close.
	Close() error

	// Kill force-terminates the underlying browser.
	Kill() error

	// AwaitClosed yields exactly one ClosureReason when the context ends,
	// whether by Close, by the user, or by a crash.
	AwaitClosed() <-chan ClosureReason

	// OpenTabs returns a best-effort snapshot of open tab URLs, used to
	// save session state before a graceful stop.
	OpenTabs() []string
}

// Engine is the external browser-automation collaborator.
type Engine interface {
	// Start initializes the engine. Must be called before CreateContext.
	Start() error

	// CreateContext launches an isolated context seeded with the options.
	CreateContext(ctx context.Context, opts ContextOptions) (Handle, error)

	// Shutdown releases engine resources. Live handles become invalid.
	Shutdown() error
}
