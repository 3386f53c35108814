package session

import (
	"context"
	"fmt"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/entrhq/mantle/pkg/events"
	"github.com/entrhq/mantle/pkg/fingerprint"
	"github.com/entrhq/mantle/pkg/logging"
	"github.com/entrhq/mantle/pkg/profile"
	"github.com/entrhq/mantle/pkg/store"
	"github.com/entrhq/mantle/pkg/types"
	"github.com/entrhq/mantle/pkg/vault"
)

// fakeHandle is a scriptable browser context.
type fakeHandle struct {
	closed     chan ClosureReason
	signalOnce sync.Once
	tabs       []string

	// hangOnClose makes graceful close never complete, forcing the stop
	// timeout path.
	hangOnClose bool
	killed      atomic.Bool
}

func newFakeHandle(tabs []string, hangOnClose bool) *fakeHandle {
	return &fakeHandle{
		closed:      make(chan ClosureReason, 1),
		tabs:        tabs,
		hangOnClose: hangOnClose,
	}
}

func (h *fakeHandle) signal(r ClosureReason) {
	h.signalOnce.Do(func() { h.closed <- r })
}

func (h *fakeHandle) Close() error {
	if h.hangOnClose {
		return nil
	}
	h.signal(ReasonClosed)
	return nil
}

func (h *fakeHandle) Kill() error {
	h.killed.Store(true)
	h.signal(ReasonCrashed)
	return nil
}

func (h *fakeHandle) AwaitClosed() <-chan ClosureReason { return h.closed }
func (h *fakeHandle) OpenTabs() []string                { return h.tabs }

// fakeEngine records every CreateContext call and tracks how many are in
// flight at once.
type fakeEngine struct {
	mu      sync.Mutex
	handles map[string]*fakeHandle
	opts    map[string]ContextOptions
	calls   atomic.Int32

	inflight, peak atomic.Int32
	delay          time.Duration
	tabs           []string
	hangOnClose    bool
	failWith       error
}

func newFakeEngine() *fakeEngine {
	return &fakeEngine{
		handles: make(map[string]*fakeHandle),
		opts:    make(map[string]ContextOptions),
	}
}

func (e *fakeEngine) Start() error    { return nil }
func (e *fakeEngine) Shutdown() error { return nil }

func (e *fakeEngine) CreateContext(ctx context.Context, opts ContextOptions) (Handle, error) {
	n := e.inflight.Add(1)
	for {
		p := e.peak.Load()
		if n <= p || e.peak.CompareAndSwap(p, n) {
			break
		}
	}
	defer e.inflight.Add(-1)

	e.calls.Add(1)
	if e.delay > 0 {
		time.Sleep(e.delay)
	}
	if e.failWith != nil {
		return nil, e.failWith
	}

	h := newFakeHandle(e.tabs, e.hangOnClose)
	e.mu.Lock()
	e.handles[opts.ProfileID] = h
	e.opts[opts.ProfileID] = opts
	e.mu.Unlock()
	return h, nil
}

func (e *fakeEngine) handle(id string) *fakeHandle {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.handles[id]
}

func (e *fakeEngine) contextOpts(id string) ContextOptions {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.opts[id]
}

type testRig struct {
	repo   *profile.Repository
	bus    *events.Bus
	engine *fakeEngine
	orch   *Orchestrator
}

func newTestRig(t *testing.T, engine *fakeEngine, opts Options) *testRig {
	t.Helper()

	dir := t.TempDir()
	st, err := store.New(dir)
	require.NoError(t, err)
	v, err := vault.Open(filepath.Join(dir, "vault.key"))
	require.NoError(t, err)
	log, err := logging.NewLogger("session-test")
	require.NoError(t, err)
	t.Cleanup(func() { _ = log.Close() })

	bus := events.NewBus()
	t.Cleanup(bus.Close)

	repo, err := profile.New(st, v, bus, log)
	require.NoError(t, err)

	orch := New(repo, engine, fingerprint.NewPresetGenerator(), bus, log, opts)
	return &testRig{repo: repo, bus: bus, engine: engine, orch: orch}
}

func (r *testRig) addProfile(t *testing.T, name string) *types.Profile {
	t.Helper()
	p := types.NewProfile(name)
	require.NoError(t, r.repo.Add(p))
	return p
}

func mustStatus(t *testing.T, r *testRig, id string) types.ProfileStatus {
	t.Helper()
	st, err := r.repo.Status(id)
	require.NoError(t, err)
	return st
}

func TestLaunchAndStop(t *testing.T) {
	rig := newTestRig(t, newFakeEngine(), Options{})
	p := rig.addProfile(t, "P")

	s, err := rig.orch.Launch(context.Background(), p.ID)
	require.NoError(t, err)
	require.NotNil(t, s)

	assert.Equal(t, types.StatusRunning, mustStatus(t, rig, p.ID))
	assert.True(t, rig.orch.Running(p.ID))
	assert.Equal(t, 1, rig.orch.ActiveCount())
	assert.NotNil(t, mustGetProfile(t, rig, p.ID).LastUsed)

	require.NoError(t, rig.orch.Stop(p.ID))
	<-s.Done()
	assert.Equal(t, ReasonStopped, s.Reason())
	assert.Equal(t, types.StatusStopped, mustStatus(t, rig, p.ID))
	assert.False(t, rig.orch.Running(p.ID))

	// Stopping again is a no-op.
	assert.NoError(t, rig.orch.Stop(p.ID))
}

func TestLaunchUnknownProfile(t *testing.T) {
	rig := newTestRig(t, newFakeEngine(), Options{})

	_, err := rig.orch.Launch(context.Background(), "nope")
	require.Error(t, err)
	assert.ErrorIs(t, err, profile.ErrNotFound)

	var lerr *LaunchError
	require.ErrorAs(t, err, &lerr)
	assert.Equal(t, "nope", lerr.ProfileID)
}

func TestLaunchFailureMarksError(t *testing.T) {
	engine := newFakeEngine()
	engine.failWith = assert.AnError
	rig := newTestRig(t, engine, Options{})
	p := rig.addProfile(t, "P")

	_, err := rig.orch.Launch(context.Background(), p.ID)
	require.Error(t, err)
	assert.ErrorIs(t, err, assert.AnError)

	assert.Equal(t, types.StatusError, mustStatus(t, rig, p.ID))
	assert.Equal(t, 0, rig.orch.ActiveCount())

	// The slot was released: fixing the engine lets the profile launch.
	engine.failWith = nil
	_, err = rig.orch.Launch(context.Background(), p.ID)
	assert.NoError(t, err)
}

func TestLaunchIsIdempotentPerProfile(t *testing.T) {
	engine := newFakeEngine()
	engine.delay = 10 * time.Millisecond
	rig := newTestRig(t, engine, Options{MaxSessions: 8})
	p := rig.addProfile(t, "P")

	const callers = 8
	sessions := make([]*Session, callers)
	errs := make([]error, callers)
	var wg sync.WaitGroup
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			sessions[i], errs[i] = rig.orch.Launch(context.Background(), p.ID)
		}(i)
	}
	wg.Wait()

	for i := range sessions {
		require.NoError(t, errs[i])
		assert.Same(t, sessions[0], sessions[i])
	}
	assert.Equal(t, 1, rig.orch.ActiveCount())
	assert.Equal(t, int32(1), engine.calls.Load())
}

func TestConcurrencyLimit(t *testing.T) {
	rig := newTestRig(t, newFakeEngine(), Options{MaxSessions: 1})
	a := rig.addProfile(t, "A")
	b := rig.addProfile(t, "B")

	sa, err := rig.orch.Launch(context.Background(), a.ID)
	require.NoError(t, err)

	_, err = rig.orch.Launch(context.Background(), b.ID)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrConcurrencyLimit)
	assert.False(t, rig.orch.Running(b.ID))

	require.NoError(t, rig.orch.Stop(a.ID))
	<-sa.Done()

	_, err = rig.orch.Launch(context.Background(), b.ID)
	assert.NoError(t, err)
}

func TestBatchStartBoundsConcurrency(t *testing.T) {
	engine := newFakeEngine()
	engine.delay = 15 * time.Millisecond
	rig := newTestRig(t, engine, Options{MaxSessions: 20, BatchConcurrency: 3})

	ids := make([]string, 10)
	for i := range ids {
		ids[i] = rig.addProfile(t, "P"+string(rune('A'+i))).ID
	}

	results := rig.orch.BatchStart(context.Background(), ids)
	require.Len(t, results, 10)
	for id, err := range results {
		assert.NoError(t, err, "profile %s", id)
	}
	assert.Equal(t, 10, rig.orch.ActiveCount())
	assert.LessOrEqual(t, engine.peak.Load(), int32(3))

	require.NoError(t, rig.orch.BatchStop(ids))
	assert.Equal(t, 0, rig.orch.ActiveCount())
	for _, id := range ids {
		assert.Equal(t, types.StatusStopped, mustStatus(t, rig, id))
	}
}

func TestBatchStartRecordsPerProfileFailures(t *testing.T) {
	rig := newTestRig(t, newFakeEngine(), Options{})
	p := rig.addProfile(t, "P")

	results := rig.orch.BatchStart(context.Background(), []string{p.ID, "ghost"})
	require.Len(t, results, 2)
	assert.NoError(t, results[p.ID])
	assert.ErrorIs(t, results["ghost"], profile.ErrNotFound)
	assert.Equal(t, 1, rig.orch.ActiveCount())
}

func TestStopTimeoutForceKills(t *testing.T) {
	engine := newFakeEngine()
	engine.hangOnClose = true
	rig := newTestRig(t, engine, Options{StopTimeout: 50 * time.Millisecond})
	p := rig.addProfile(t, "P")

	s, err := rig.orch.Launch(context.Background(), p.ID)
	require.NoError(t, err)

	err = rig.orch.Stop(p.ID)
	assert.ErrorIs(t, err, ErrStopTimeout)

	<-s.Done()
	assert.True(t, rig.engine.handle(p.ID).killed.Load())
	assert.Equal(t, ReasonStopped, s.Reason(), "a requested stop never counts as a crash")
	assert.Equal(t, types.StatusStopped, mustStatus(t, rig, p.ID))
	assert.Equal(t, 0, rig.orch.ActiveCount())
}

func TestCrashedSessionMarksError(t *testing.T) {
	rig := newTestRig(t, newFakeEngine(), Options{})
	p := rig.addProfile(t, "P")

	ch, unsubscribe := rig.bus.Subscribe()
	defer unsubscribe()

	s, err := rig.orch.Launch(context.Background(), p.ID)
	require.NoError(t, err)

	rig.engine.handle(p.ID).signal(ReasonCrashed)
	<-s.Done()

	assert.Equal(t, ReasonCrashed, s.Reason())
	assert.Equal(t, types.StatusError, mustStatus(t, rig, p.ID))
	assert.Equal(t, 0, rig.orch.ActiveCount())

	deadline := time.After(time.Second)
	for {
		select {
		case e := <-ch:
			if e.Type == types.EventSessionCrashed {
				assert.Equal(t, p.ID, e.ProfileID)
				return
			}
		case <-deadline:
			t.Fatal("crash event never published")
		}
	}
}

func TestStopDuringStartingEndsStopped(t *testing.T) {
	engine := newFakeEngine()
	engine.delay = 150 * time.Millisecond
	rig := newTestRig(t, engine, Options{MaxSessions: 1})
	p := rig.addProfile(t, "P")

	var (
		s         *Session
		launchErr error
		launched  = make(chan struct{})
	)
	go func() {
		defer close(launched)
		s, launchErr = rig.orch.Launch(context.Background(), p.ID)
	}()

	deadline := time.After(time.Second)
	for mustStatus(t, rig, p.ID) != types.StatusStarting {
		select {
		case <-deadline:
			t.Fatal("profile never entered starting")
		case <-time.After(time.Millisecond):
		}
	}

	require.NoError(t, rig.orch.Stop(p.ID))
	<-launched
	require.NoError(t, launchErr)
	require.NotNil(t, s)

	<-s.Done()
	assert.Equal(t, ReasonStopped, s.Reason())
	assert.Equal(t, types.StatusStopped, mustStatus(t, rig, p.ID))
	assert.Equal(t, 0, rig.orch.ActiveCount())

	// The slot came back and the profile can start again.
	s2, err := rig.orch.Launch(context.Background(), p.ID)
	require.NoError(t, err)
	assert.Equal(t, types.StatusRunning, mustStatus(t, rig, p.ID))
	require.NoError(t, rig.orch.Stop(p.ID))
	<-s2.Done()
}

func TestConcurrencyLimitNeverYieldsSession(t *testing.T) {
	rig := newTestRig(t, newFakeEngine(), Options{MaxSessions: 1})
	a := rig.addProfile(t, "A")
	b := rig.addProfile(t, "B")

	_, err := rig.orch.Launch(context.Background(), a.ID)
	require.NoError(t, err)

	// With the only slot held, racing launches for another profile must all
	// fail; none may observe a half-published session of a sibling caller.
	const callers = 8
	const rounds = 200
	violations := make([]error, callers)
	var wg sync.WaitGroup
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			for r := 0; r < rounds; r++ {
				s, err := rig.orch.Launch(context.Background(), b.ID)
				if s != nil || err == nil {
					violations[i] = fmt.Errorf("round %d: session=%v, err=%v", r, s != nil, err)
					return
				}
			}
		}(i)
	}
	wg.Wait()

	for i := range violations {
		assert.NoError(t, violations[i], "caller %d received a session past the cap", i)
	}
	assert.False(t, rig.orch.Running(b.ID))
	assert.Equal(t, 1, rig.orch.ActiveCount())
}

func TestStopWithTimeoutOverride(t *testing.T) {
	engine := newFakeEngine()
	engine.hangOnClose = true
	rig := newTestRig(t, engine, Options{StopTimeout: 10 * time.Second})
	p := rig.addProfile(t, "P")

	s, err := rig.orch.Launch(context.Background(), p.ID)
	require.NoError(t, err)

	start := time.Now()
	err = rig.orch.StopWithTimeout(p.ID, 50*time.Millisecond)
	assert.ErrorIs(t, err, ErrStopTimeout)
	assert.Less(t, time.Since(start), 5*time.Second, "per-call deadline applies, not the configured one")

	<-s.Done()
	assert.True(t, rig.engine.handle(p.ID).killed.Load())
	assert.Equal(t, types.StatusStopped, mustStatus(t, rig, p.ID))
}

func TestBatchStartWithLimitOverride(t *testing.T) {
	engine := newFakeEngine()
	engine.delay = 15 * time.Millisecond
	rig := newTestRig(t, engine, Options{MaxSessions: 20, BatchConcurrency: 5})

	ids := make([]string, 8)
	for i := range ids {
		ids[i] = rig.addProfile(t, "P"+string(rune('A'+i))).ID
	}

	results := rig.orch.BatchStartWithLimit(context.Background(), ids, 2)
	require.Len(t, results, 8)
	for id, err := range results {
		assert.NoError(t, err, "profile %s", id)
	}
	assert.LessOrEqual(t, engine.peak.Load(), int32(2))
	require.NoError(t, rig.orch.BatchStop(ids))
}

func TestUserClosedSessionEndsStopped(t *testing.T) {
	rig := newTestRig(t, newFakeEngine(), Options{MaxSessions: 1})
	p := rig.addProfile(t, "P")

	s, err := rig.orch.Launch(context.Background(), p.ID)
	require.NoError(t, err)

	rig.engine.handle(p.ID).signal(ReasonClosed)
	<-s.Done()

	assert.Equal(t, ReasonClosed, s.Reason())
	assert.Equal(t, types.StatusStopped, mustStatus(t, rig, p.ID))

	// The slot came back.
	_, err = rig.orch.Launch(context.Background(), p.ID)
	assert.NoError(t, err)
}

func TestZombieCeilingKillsSilentSessions(t *testing.T) {
	rig := newTestRig(t, newFakeEngine(), Options{ZombieAfter: 30 * time.Millisecond})
	p := rig.addProfile(t, "P")

	s, err := rig.orch.Launch(context.Background(), p.ID)
	require.NoError(t, err)

	select {
	case <-s.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("zombie session never reaped")
	}

	assert.True(t, rig.engine.handle(p.ID).killed.Load())
	assert.Equal(t, ReasonCrashed, s.Reason())
	assert.Equal(t, types.StatusError, mustStatus(t, rig, p.ID))
}

func TestFingerprintMaterializedOnFirstLaunch(t *testing.T) {
	rig := newTestRig(t, newFakeEngine(), Options{})
	p := rig.addProfile(t, "P")
	require.True(t, p.Fingerprint.Empty())

	s, err := rig.orch.Launch(context.Background(), p.ID)
	require.NoError(t, err)

	seeded := rig.engine.contextOpts(p.ID).Fingerprint
	require.NotNil(t, seeded)
	assert.False(t, seeded.Empty())

	stored := mustGetProfile(t, rig, p.ID).Fingerprint
	assert.Equal(t, seeded.ID, stored.ID)

	// The second launch reuses the stored fingerprint instead of rolling a
	// new one.
	require.NoError(t, rig.orch.Stop(p.ID))
	<-s.Done()
	_, err = rig.orch.Launch(context.Background(), p.ID)
	require.NoError(t, err)
	assert.Equal(t, seeded.ID, rig.engine.contextOpts(p.ID).Fingerprint.ID)
}

func TestTabStateSavedAndRestored(t *testing.T) {
	engine := newFakeEngine()
	engine.tabs = []string{"https://example.com/a", "https://example.com/b"}
	rig := newTestRig(t, engine, Options{})
	p := rig.addProfile(t, "P")

	s, err := rig.orch.Launch(context.Background(), p.ID)
	require.NoError(t, err)
	assert.Empty(t, rig.engine.contextOpts(p.ID).RestoreTabs)

	require.NoError(t, rig.orch.Stop(p.ID))
	<-s.Done()

	_, err = rig.orch.Launch(context.Background(), p.ID)
	require.NoError(t, err)
	assert.Equal(t, engine.tabs, rig.engine.contextOpts(p.ID).RestoreTabs)
}

func TestProxyPassedToEngine(t *testing.T) {
	rig := newTestRig(t, newFakeEngine(), Options{})
	p := rig.addProfile(t, "P")

	got := mustGetProfile(t, rig, p.ID)
	got.Proxy = types.ProxyConfig{
		Enabled: true, Type: types.ProxySOCKS5,
		Host: "proxy.example.com", Port: 1080,
		Username: "alice", Password: "pw",
	}
	require.NoError(t, rig.repo.Update(got))

	_, err := rig.orch.Launch(context.Background(), p.ID)
	require.NoError(t, err)

	seeded := rig.engine.contextOpts(p.ID).Proxy
	assert.True(t, seeded.Active())
	assert.Equal(t, "pw", seeded.Password, "engine receives the decrypted credential")
}

func mustGetProfile(t *testing.T, rig *testRig, id string) *types.Profile {
	t.Helper()
	p, err := rig.repo.Get(id)
	require.NoError(t, err)
	return p
}
