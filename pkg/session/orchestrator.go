// Package session owns the browser-session lifecycle: launching isolated
// contexts for profiles, monitoring them until they end, and stopping them
// gracefully with a force-kill fallback. At most one session exists per
// profile, and a weighted semaphore caps how many run at once.
package session

import (
	"context"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/semaphore"

	"github.com/entrhq/mantle/pkg/events"
	"github.com/entrhq/mantle/pkg/fingerprint"
	"github.com/entrhq/mantle/pkg/logging"
	"github.com/entrhq/mantle/pkg/profile"
	"github.com/entrhq/mantle/pkg/store"
	"github.com/entrhq/mantle/pkg/supervisor"
	"github.com/entrhq/mantle/pkg/types"
)

// Options tunes the orchestrator. Zero values fall back to the defaults
// noted per field.
type Options struct {
	// MaxSessions caps simultaneously live sessions. Default 5.
	MaxSessions int

	// BatchConcurrency caps parallel launches inside one batch. Default 3.
	BatchConcurrency int

	// StopTimeout bounds the graceful-close wait before Kill. Default 30s.
	StopTimeout time.Duration

	// ZombieAfter force-terminates a session silent for this long.
	// Zero disables the ceiling.
	ZombieAfter time.Duration

	// Headless launches contexts without a visible window.
	Headless bool
}

func (o *Options) fill() {
	if o.MaxSessions <= 0 {
		o.MaxSessions = 5
	}
	if o.BatchConcurrency <= 0 {
		o.BatchConcurrency = 3
	}
	if o.StopTimeout <= 0 {
		o.StopTimeout = 30 * time.Second
	}
}

// Session is one live (or finishing) browser session. Callers may hold a
// Session across its end; Done is closed exactly once when it finalizes.
type Session struct {
	ProfileID string
	StartedAt time.Time

	mu     sync.Mutex
	handle Handle

	done          chan struct{}
	reason        ClosureReason
	stopRequested atomic.Bool
	finalizeOnce  sync.Once
}

func (s *Session) setHandle(h Handle) {
	s.mu.Lock()
	s.handle = h
	s.mu.Unlock()
}

func (s *Session) getHandle() Handle {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.handle
}

// Done is closed when the session has fully ended and its slot is released.
func (s *Session) Done() <-chan struct{} { return s.done }

// Reason reports how the session ended. Valid only after Done is closed.
func (s *Session) Reason() ClosureReason { return s.reason }

// Orchestrator launches and supervises browser sessions on top of the
// profile repository and an automation engine.
type Orchestrator struct {
	repo   *profile.Repository
	engine Engine
	gen    fingerprint.Generator
	bus    *events.Bus
	sup    *supervisor.Supervisor
	log    *logging.Logger
	opts   Options

	sem *semaphore.Weighted

	mu       sync.Mutex
	sessions map[string]*Session
}

// New wires an orchestrator. The engine must already be started.
func New(repo *profile.Repository, engine Engine, gen fingerprint.Generator, bus *events.Bus, log *logging.Logger, opts Options) *Orchestrator {
	opts.fill()
	return &Orchestrator{
		repo:     repo,
		engine:   engine,
		gen:      gen,
		bus:      bus,
		sup:      supervisor.New(opts.MaxSessions+4, log),
		log:      log,
		opts:     opts,
		sem:      semaphore.NewWeighted(int64(opts.MaxSessions)),
		sessions: make(map[string]*Session),
	}
}

// Launch starts a browser session for the profile. If a session already
// exists for it, that session is returned unchanged. When the global cap is
// reached the call fails immediately with ErrConcurrencyLimit; callers that
// want backpressure retry or go through BatchStart.
func (o *Orchestrator) Launch(ctx context.Context, profileID string) (*Session, error) {
	p, err := o.repo.Get(profileID)
	if err != nil {
		return nil, &LaunchError{ProfileID: profileID, Err: err}
	}

	// The slot is acquired before the session becomes visible in the map,
	// so every published session holds a slot and always finalizes.
	o.mu.Lock()
	if existing, ok := o.sessions[profileID]; ok {
		o.mu.Unlock()
		return existing, nil
	}
	if !o.sem.TryAcquire(1) {
		o.mu.Unlock()
		return nil, &LaunchError{ProfileID: profileID, Err: ErrConcurrencyLimit}
	}
	s := &Session{ProfileID: profileID, done: make(chan struct{})}
	o.sessions[profileID] = s
	o.mu.Unlock()

	if err := o.launch(ctx, s, p); err != nil {
		// Concurrent callers may hold this session; finalize settles it
		// so their Done never hangs, and frees the slot and map entry.
		o.finalize(s, ReasonCrashed)
		return nil, &LaunchError{ProfileID: profileID, Err: err}
	}
	return s, nil
}

// launch does the slot-holding part: status transitions, fingerprint
// materialization, context creation, and monitor spawn.
func (o *Orchestrator) launch(ctx context.Context, s *Session, p *types.Profile) error {
	if err := o.repo.SetStatus(p.ID, types.StatusStarting); err != nil {
		return err
	}

	fp, err := o.materializeFingerprint(p)
	if err != nil {
		return err
	}

	dataDir, err := o.repo.BrowserDataDir(p.ID)
	if err != nil {
		return err
	}

	opts := ContextOptions{
		ProfileID:   p.ID,
		UserDataDir: dataDir,
		Headless:    o.opts.Headless,
		Fingerprint: fp,
		Proxy:       p.Proxy,
		RestoreTabs: loadTabState(dataDir),
		EngineOpts:  p.Customization,
	}

	handle, err := o.engine.CreateContext(ctx, opts)
	if err != nil {
		return err
	}

	s.setHandle(handle)
	s.StartedAt = time.Now()

	// A stop issued while the context was being created never saw a
	// handle to close; honor it here instead of going Running.
	if s.stopRequested.Load() {
		if err := handle.Close(); err != nil {
			o.log.Warnf("close for %s after stop during launch: %v", p.ID, err)
		}
		o.finalize(s, ReasonStopped)
		return nil
	}

	if err := o.repo.SetStatus(p.ID, types.StatusRunning); err != nil {
		o.log.Warnf("status update for %s: %v", p.ID, err)
	}
	if err := o.repo.TouchLastUsed(p.ID); err != nil {
		o.log.Warnf("last-used update for %s: %v", p.ID, err)
	}

	o.sup.Spawn("monitor:"+p.ID, func() error {
		o.monitor(s)
		return nil
	})
	return nil
}

// materializeFingerprint returns the profile's fingerprint, generating and
// persisting one when the profile never had one.
func (o *Orchestrator) materializeFingerprint(p *types.Profile) (*fingerprint.Fingerprint, error) {
	if !p.Fingerprint.Empty() {
		return p.Fingerprint.Clone(), nil
	}
	fp, err := o.gen.GenerateForOS(string(p.OS))
	if err != nil {
		return nil, err
	}
	p.Fingerprint = *fp.Clone()
	if err := o.repo.Update(p); err != nil {
		return nil, err
	}
	o.log.Infof("generated fingerprint %s for profile %s", fp.Hash(), p.ID)
	return fp, nil
}

// monitor waits for the context to end, or for the zombie ceiling, and
// finalizes the session either way.
func (o *Orchestrator) monitor(s *Session) {
	var zombie <-chan time.Time
	if o.opts.ZombieAfter > 0 {
		timer := time.NewTimer(o.opts.ZombieAfter)
		defer timer.Stop()
		zombie = timer.C
	}

	handle := s.getHandle()
	select {
	case reason := <-handle.AwaitClosed():
		o.finalize(s, reason)
	case <-zombie:
		o.log.Warnf("session for %s exceeded ceiling %s, killing", s.ProfileID, o.opts.ZombieAfter)
		if err := handle.Kill(); err != nil {
			o.log.Errorf("kill zombie session for %s: %v", s.ProfileID, err)
		}
		o.finalize(s, ReasonCrashed)
	}
}

// finalize ends the session exactly once: records the reason, frees the map
// entry and semaphore slot, settles the profile status, and closes Done.
// The stop path and the monitor both converge here.
func (o *Orchestrator) finalize(s *Session, reason ClosureReason) {
	s.finalizeOnce.Do(func() {
		if s.stopRequested.Load() {
			reason = ReasonStopped
		}
		s.reason = reason

		o.removeSession(s.ProfileID)
		o.sem.Release(1)

		final := types.StatusStopped
		if reason == ReasonCrashed {
			final = types.StatusError
			o.bus.Publish(types.NewCrashEvent(s.ProfileID, nil))
			o.log.Warnf("session for %s ended abnormally", s.ProfileID)
		}
		if err := o.repo.SetStatus(s.ProfileID, final); err != nil {
			o.log.Warnf("final status update for %s: %v", s.ProfileID, err)
		}
		close(s.done)
	})
}

// Stop gracefully ends the profile's session, saving open tabs first. When
// no session exists it is a no-op. If the graceful close does not complete
// within StopTimeout the browser is killed and ErrStopTimeout is returned;
// the session still ends Stopped.
func (o *Orchestrator) Stop(profileID string) error {
	return o.StopWithTimeout(profileID, o.opts.StopTimeout)
}

// StopWithTimeout is Stop with a per-call graceful-close deadline instead of
// the configured default.
func (o *Orchestrator) StopWithTimeout(profileID string, timeout time.Duration) error {
	if timeout <= 0 {
		timeout = o.opts.StopTimeout
	}

	o.mu.Lock()
	s := o.sessions[profileID]
	o.mu.Unlock()
	if s == nil {
		return nil
	}

	s.stopRequested.Store(true)
	if err := o.repo.SetStatus(profileID, types.StatusStopping); err != nil {
		o.log.Warnf("status update for %s: %v", profileID, err)
	}

	handle := s.getHandle()
	if handle == nil {
		// The launch is still creating the context; it checks the stop
		// flag right after and finalizes the session as stopped.
		select {
		case <-s.done:
			return nil
		case <-time.After(timeout):
			return ErrStopTimeout
		}
	}

	o.saveTabState(s)

	go func() {
		if err := handle.Close(); err != nil {
			o.log.Warnf("graceful close for %s: %v", profileID, err)
		}
	}()

	select {
	case <-s.done:
		return nil
	case <-time.After(timeout):
	}

	o.log.Warnf("graceful stop for %s timed out after %s, killing", profileID, timeout)
	if err := handle.Kill(); err != nil {
		o.log.Errorf("kill session for %s: %v", profileID, err)
	}

	select {
	case <-s.done:
	case <-time.After(5 * time.Second):
		// The engine never signaled closure after the kill; settle the
		// bookkeeping ourselves.
		o.finalize(s, ReasonStopped)
		<-s.done
	}
	return ErrStopTimeout
}

// Active returns the profile ids with a live session, unordered.
func (o *Orchestrator) Active() []string {
	o.mu.Lock()
	defer o.mu.Unlock()
	ids := make([]string, 0, len(o.sessions))
	for id := range o.sessions {
		ids = append(ids, id)
	}
	return ids
}

// ActiveCount returns the number of live sessions.
func (o *Orchestrator) ActiveCount() int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return len(o.sessions)
}

// Running reports whether the profile has a live session.
func (o *Orchestrator) Running(profileID string) bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	_, ok := o.sessions[profileID]
	return ok
}

// Shutdown stops every live session, waits for the monitors, and shuts the
// engine down.
func (o *Orchestrator) Shutdown() error {
	_ = o.BatchStop(o.Active())
	o.sup.Wait()
	return o.engine.Shutdown()
}

func (o *Orchestrator) removeSession(profileID string) {
	o.mu.Lock()
	delete(o.sessions, profileID)
	o.mu.Unlock()
}

// tabState is the per-profile saved-tabs document inside the browser data
// directory.
type tabState struct {
	URLs    []string  `json:"urls"`
	SavedAt time.Time `json:"saved_at"`
}

func tabStatePath(dataDir string) string {
	return filepath.Join(dataDir, "browser_state.json")
}

func (o *Orchestrator) saveTabState(s *Session) {
	handle := s.getHandle()
	if handle == nil {
		return
	}
	urls := handle.OpenTabs()
	if len(urls) == 0 {
		return
	}
	dataDir, err := o.repo.BrowserDataDir(s.ProfileID)
	if err != nil {
		o.log.Warnf("tab state dir for %s: %v", s.ProfileID, err)
		return
	}
	st := tabState{URLs: urls, SavedAt: time.Now()}
	if err := store.WriteFileAtomic(tabStatePath(dataDir), st); err != nil {
		o.log.Warnf("save tab state for %s: %v", s.ProfileID, err)
	}
}

// loadTabState returns the previously saved tab URLs, or nil when none were
// saved or the file is unreadable.
func loadTabState(dataDir string) []string {
	var st tabState
	if err := store.ReadFileJSON(tabStatePath(dataDir), &st); err != nil {
		return nil
	}
	return st.URLs
}
