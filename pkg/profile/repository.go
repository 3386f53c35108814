// Package profile implements the repository owning all durable launcher
// state: profiles, folders, the tag pool, app settings, the proxy pool and
// the trash. It is the only writer of those documents and maintains two
// derived indices (id -> profile, tag -> profile set) that are always
// equal to a from-scratch recomputation over the live profile set.
//
// The repository assumes a single owning process; concurrent goroutines in
// that process are serialized by an internal lock so no caller ever observes
// a half-updated index.
package profile

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/gobwas/glob"

	"github.com/entrhq/mantle/pkg/events"
	"github.com/entrhq/mantle/pkg/logging"
	"github.com/entrhq/mantle/pkg/proxy"
	"github.com/entrhq/mantle/pkg/store"
	"github.com/entrhq/mantle/pkg/types"
	"github.com/entrhq/mantle/pkg/vault"
)

// Repository is the business-level store for profiles and their satellites.
type Repository struct {
	mu    sync.RWMutex
	store *store.Store
	vault *vault.Vault
	bus   *events.Bus
	log   *logging.Logger
	guard *store.Guard // confines browser-data paths to the data dir

	profiles map[string]*types.Profile // identity index
	folders  map[string]*types.Folder
	trash    []types.TrashEntry
	tagPool  []string
	settings types.AppSettings
	pool     proxy.Pool

	// tagIndex maps tag -> set of profile ids. Mutations maintain it
	// incrementally; tagDirty marks the paths that skipped maintenance
	// (bulk load) so TagCounts can rebuild lazily.
	tagIndex map[string]map[string]struct{}
	tagDirty bool
}

// Document shapes on disk.
type profilesDoc struct {
	Profiles []*types.Profile `json:"profiles"`
}

type foldersDoc struct {
	Folders []*types.Folder `json:"folders"`
}

type tagsDoc struct {
	Tags []string `json:"tags"`
}

type trashDoc struct {
	Items []types.TrashEntry `json:"items"`
}

// New loads all documents from the store and builds the indices. Missing
// documents mean a fresh installation and yield empty defaults; documents
// that exist but fail to parse are real errors and propagate.
func New(st *store.Store, v *vault.Vault, bus *events.Bus, log *logging.Logger) (*Repository, error) {
	guard, err := store.NewGuard(filepath.Join(st.Dir(), "browser_data"))
	if err != nil {
		return nil, err
	}

	r := &Repository{
		store:    st,
		vault:    v,
		guard:    guard,
		bus:      bus,
		log:      log,
		profiles: make(map[string]*types.Profile),
		folders:  make(map[string]*types.Folder),
		tagIndex: make(map[string]map[string]struct{}),
		settings: types.DefaultSettings(),
	}

	if err := r.loadAll(); err != nil {
		return nil, err
	}
	return r, nil
}

func (r *Repository) loadAll() error {
	var pd profilesDoc
	if err := r.readDoc(store.DocProfiles, &pd); err != nil {
		return err
	}
	for _, p := range pd.Profiles {
		pw, err := r.vault.DecryptString(p.Proxy.EncPassword)
		if err != nil {
			return fmt.Errorf("profile %s: %w", p.ID, err)
		}
		p.Proxy.Password = pw
		if err := p.Fingerprint.Validate(); err != nil {
			return fmt.Errorf("profile %s: %w", p.ID, err)
		}
		// A session never survives a process restart.
		p.Status = types.StatusStopped
		r.profiles[p.ID] = p
	}

	var fd foldersDoc
	if err := r.readDoc(store.DocFolders, &fd); err != nil {
		return err
	}
	for _, f := range fd.Folders {
		r.folders[f.ID] = f
	}

	var td tagsDoc
	if err := r.readDoc(store.DocTagPool, &td); err != nil {
		return err
	}
	r.tagPool = td.Tags

	var trd trashDoc
	if err := r.readDoc(store.DocTrash, &trd); err != nil {
		return err
	}
	r.trash = trd.Items

	settings := types.DefaultSettings()
	if err := r.readDoc(store.DocSettings, &settings); err != nil {
		return err
	}
	r.settings = settings

	var pool proxy.Pool
	if err := r.readDoc(store.DocProxyPool, &pool); err != nil {
		return err
	}
	for i := range pool.Proxies {
		pw, err := r.vault.DecryptString(pool.Proxies[i].EncPassword)
		if err != nil {
			return fmt.Errorf("proxy pool entry %d: %w", i, err)
		}
		pool.Proxies[i].Password = pw
	}
	r.pool = pool

	// Bulk load skipped incremental maintenance; rebuild on first use.
	r.tagDirty = true
	return nil
}

// readDoc tolerates a missing document (fresh install) but propagates parse
// and I/O errors.
func (r *Repository) readDoc(doc string, v any) error {
	err := r.store.Read(doc, v)
	if err == nil || errors.Is(err, os.ErrNotExist) {
		return nil
	}
	return err
}

// persist writes a document with one local retry. Repeated failure is fatal
// to the operation; the previously persisted version is intact either way.
func (r *Repository) persist(doc string, v any) error {
	if err := r.store.Write(doc, v); err != nil {
		r.log.Warnf("write of %s failed, retrying once: %v", doc, err)
		if err := r.store.Write(doc, v); err != nil {
			return err
		}
	}
	return nil
}

// encryptedProfiles returns the persistable profile list, sorted for stable
// output, with proxy passwords sealed through the vault. Plaintext passwords
// are excluded from marshaling at the type level; this fills the ciphertext.
func (r *Repository) encryptedProfiles() ([]*types.Profile, error) {
	list := make([]*types.Profile, 0, len(r.profiles))
	for _, p := range r.profiles {
		cp := p.Clone()
		enc, err := r.vault.EncryptString(cp.Proxy.Password)
		if err != nil {
			return nil, err
		}
		cp.Proxy.EncPassword = enc
		list = append(list, cp)
	}
	sort.Slice(list, func(i, j int) bool {
		if list[i].CreatedAt.Equal(list[j].CreatedAt) {
			return list[i].ID < list[j].ID
		}
		return list[i].CreatedAt.Before(list[j].CreatedAt)
	})
	return list, nil
}

func (r *Repository) persistProfiles() error {
	list, err := r.encryptedProfiles()
	if err != nil {
		return err
	}
	return r.persist(store.DocProfiles, profilesDoc{Profiles: list})
}

// Add inserts a new profile, persists it and updates both indices.
func (r *Repository) Add(p *types.Profile) error {
	if p == nil || strings.TrimSpace(p.Name) == "" {
		return fmt.Errorf("%w: profile name must not be empty", ErrValidation)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.profiles[p.ID]; exists {
		return fmt.Errorf("%w: profile id %s already exists", ErrValidation, p.ID)
	}
	r.ensureTagIndex()

	cp := p.Clone()
	if cp.CreatedAt.IsZero() {
		cp.CreatedAt = time.Now()
	}
	cp.UpdatedAt = time.Now()

	r.profiles[cp.ID] = cp
	r.indexTagsAdd(cp)

	if err := r.persistProfiles(); err != nil {
		r.indexTagsRemove(cp)
		delete(r.profiles, cp.ID)
		return err
	}

	r.bus.Publish(types.NewProfileEvent(types.EventProfileCreated, cp.ID))
	return nil
}

// Update replaces an existing profile and adjusts the tag index
// incrementally: stale tag associations are dropped, new ones added. The
// index is never recomputed from scratch on this path.
func (r *Repository) Update(p *types.Profile) error {
	if p == nil || strings.TrimSpace(p.Name) == "" {
		return fmt.Errorf("%w: profile name must not be empty", ErrValidation)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	old, exists := r.profiles[p.ID]
	if !exists {
		return fmt.Errorf("%w: profile %s", ErrNotFound, p.ID)
	}
	r.ensureTagIndex()

	cp := p.Clone()
	cp.CreatedAt = old.CreatedAt // immutable after creation
	cp.UpdatedAt = time.Now()

	r.indexTagsDiff(old, cp)
	r.profiles[cp.ID] = cp

	if err := r.persistProfiles(); err != nil {
		r.indexTagsDiff(cp, old)
		r.profiles[old.ID] = old
		return err
	}

	r.bus.Publish(types.NewProfileEvent(types.EventProfileUpdated, cp.ID))
	return nil
}

// Get returns a copy of the profile.
func (r *Repository) Get(id string) (*types.Profile, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	p, ok := r.profiles[id]
	if !ok {
		return nil, fmt.Errorf("%w: profile %s", ErrNotFound, id)
	}
	return p.Clone(), nil
}

// Filter narrows List results. Zero values mean "no constraint".
type Filter struct {
	// FolderID restricts to one folder; empty means all folders.
	FolderID string

	// Tags keeps profiles carrying at least one of the given tags.
	Tags []string

	// Name filters by name. Patterns containing glob metacharacters are
	// matched with glob semantics; anything else is a substring match.
	// Matching is case-insensitive.
	Name string
}

// List returns copies of the profiles matching the filter, ordered by
// creation time.
func (r *Repository) List(f Filter) []*types.Profile {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var matcher func(string) bool
	if f.Name != "" {
		pattern := strings.ToLower(f.Name)
		if strings.ContainsAny(pattern, "*?[") {
			if g, err := glob.Compile(pattern); err == nil {
				matcher = func(name string) bool { return g.Match(strings.ToLower(name)) }
			}
		}
		if matcher == nil {
			matcher = func(name string) bool { return strings.Contains(strings.ToLower(name), pattern) }
		}
	}

	out := make([]*types.Profile, 0, len(r.profiles))
	for _, p := range r.profiles {
		if f.FolderID != "" && p.FolderID != f.FolderID {
			continue
		}
		if len(f.Tags) > 0 && !hasAnyTag(p, f.Tags) {
			continue
		}
		if matcher != nil && !matcher(p.Name) {
			continue
		}
		out = append(out, p.Clone())
	}

	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out
}

func hasAnyTag(p *types.Profile, tags []string) bool {
	for _, t := range tags {
		if p.HasTag(t) {
			return true
		}
	}
	return false
}

// Count returns the number of live profiles.
func (r *Repository) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.profiles)
}

// SetStatus records a session state-machine transition on the profile and
// announces it on the bus. Status is runtime state; a persistence failure
// here is logged but does not fail the transition.
func (r *Repository) SetStatus(id string, status types.ProfileStatus) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	p, ok := r.profiles[id]
	if !ok {
		return fmt.Errorf("%w: profile %s", ErrNotFound, id)
	}
	if p.Status == status {
		return nil
	}
	p.Status = status

	if err := r.persistProfiles(); err != nil {
		r.log.Warnf("failed to persist status %s for profile %s: %v", status, id, err)
	}

	r.bus.Publish(types.NewStatusEvent(id, status))
	return nil
}

// Status returns the recorded lifecycle state for a profile.
func (r *Repository) Status(id string) (types.ProfileStatus, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	p, ok := r.profiles[id]
	if !ok {
		return "", fmt.Errorf("%w: profile %s", ErrNotFound, id)
	}
	return p.Status, nil
}

// TouchLastUsed stamps the profile's last-used time, used at launch.
func (r *Repository) TouchLastUsed(id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	p, ok := r.profiles[id]
	if !ok {
		return fmt.Errorf("%w: profile %s", ErrNotFound, id)
	}
	now := time.Now()
	p.LastUsed = &now
	return r.persistProfiles()
}

// Settings returns the persisted presentation settings.
func (r *Repository) Settings() types.AppSettings {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.settings
}

// UpdateSettings persists new presentation settings.
func (r *Repository) UpdateSettings(s types.AppSettings) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	old := r.settings
	r.settings = s
	if err := r.persist(store.DocSettings, s); err != nil {
		r.settings = old
		return err
	}
	return nil
}

// AddProxy appends a proxy to the shared pool and persists it.
func (r *Repository) AddProxy(p types.ProxyConfig) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.pool.Add(p)
	if err := r.persistProxyPool(); err != nil {
		r.pool.Proxies = r.pool.Proxies[:len(r.pool.Proxies)-1]
		return err
	}
	return nil
}

// NextProxy rotates the pool and returns the next proxy, persisting the
// rotation cursor. The second return is false when the pool is empty.
func (r *Repository) NextProxy() (types.ProxyConfig, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	p, ok := r.pool.Next()
	if !ok {
		return types.ProxyConfig{}, false
	}
	if err := r.persistProxyPool(); err != nil {
		r.log.Warnf("failed to persist proxy rotation: %v", err)
	}
	return p, true
}

// ClearProxyPool removes every proxy from the pool.
func (r *Repository) ClearProxyPool() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	old := r.pool
	r.pool = proxy.Pool{}
	if err := r.persistProxyPool(); err != nil {
		r.pool = old
		return err
	}
	return nil
}

// ProxyPoolSize returns the number of proxies in the shared pool.
func (r *Repository) ProxyPoolSize() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.pool.Len()
}

func (r *Repository) persistProxyPool() error {
	cp := proxy.Pool{Current: r.pool.Current, Proxies: make([]types.ProxyConfig, len(r.pool.Proxies))}
	copy(cp.Proxies, r.pool.Proxies)
	for i := range cp.Proxies {
		enc, err := r.vault.EncryptString(cp.Proxies[i].Password)
		if err != nil {
			return err
		}
		cp.Proxies[i].EncPassword = enc
	}
	return r.persist(store.DocProxyPool, cp)
}

// BrowserDataDir returns the browser user-data directory for a profile,
// creating it if needed. The id is validated against the data dir boundary
// before any filesystem operation.
func (r *Repository) BrowserDataDir(id string) (string, error) {
	dir, err := r.guard.Join(id)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrValidation, err)
	}
	if err := os.MkdirAll(dir, 0750); err != nil {
		return "", fmt.Errorf("failed to create browser data dir: %w", err)
	}
	return dir, nil
}
