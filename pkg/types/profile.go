package types

import (
	"time"

	"github.com/google/uuid"

	"github.com/entrhq/mantle/pkg/fingerprint"
)

// ProfileStatus is the runtime lifecycle state of a profile's browser session.
type ProfileStatus string

const (
	StatusStopped  ProfileStatus = "stopped"  // StatusStopped means no session is active for the profile.
	StatusStarting ProfileStatus = "starting" // StatusStarting means a browser context is being created.
	StatusRunning  ProfileStatus = "running"  // StatusRunning means the session is live.
	StatusStopping ProfileStatus = "stopping" // StatusStopping means a graceful close is in progress.
	StatusError    ProfileStatus = "error"    // StatusError means the last launch or session failed.
)

// OSType hints the operating system the fingerprint should imitate.
type OSType string

const (
	OSWindows OSType = "windows"
	OSMacOS   OSType = "macos"
	OSLinux   OSType = "linux"
)

// Profile is one isolated browser identity: fingerprint parameters, proxy,
// organization metadata, and runtime status. Profiles are owned by the
// repository and mutated only through its methods.
type Profile struct {
	ID       string        `json:"id"`
	Name     string        `json:"name"`
	FolderID string        `json:"folder_id,omitempty"` // empty = unassigned (root)
	Status   ProfileStatus `json:"status"`

	Proxy ProxyConfig `json:"proxy"`

	Notes string   `json:"notes,omitempty"`
	Tags  []string `json:"tags,omitempty"`

	OS          OSType                  `json:"os_type"`
	Fingerprint fingerprint.Fingerprint `json:"fingerprint"`

	// Customization holds engine-specific browser options passed through
	// verbatim at launch. Typed fields above are preferred; this is the
	// escape hatch for options the launcher does not interpret.
	Customization map[string]any `json:"customization,omitempty"`

	CreatedAt time.Time  `json:"created_at"`
	UpdatedAt time.Time  `json:"updated_at"`
	LastUsed  *time.Time `json:"last_used,omitempty"`
}

// NewProfile returns a stopped profile with a fresh id and timestamps.
func NewProfile(name string) *Profile {
	now := time.Now()
	return &Profile{
		ID:        uuid.New().String(),
		Name:      name,
		Status:    StatusStopped,
		OS:        OSMacOS,
		CreatedAt: now,
		UpdatedAt: now,
	}
}

// Clone returns a deep copy. The repository hands out clones so callers can
// never mutate indexed state behind its back.
func (p *Profile) Clone() *Profile {
	cp := *p
	cp.Tags = append([]string(nil), p.Tags...)
	if p.LastUsed != nil {
		lu := *p.LastUsed
		cp.LastUsed = &lu
	}
	if p.Customization != nil {
		cp.Customization = make(map[string]any, len(p.Customization))
		for k, v := range p.Customization {
			cp.Customization[k] = v
		}
	}
	cp.Fingerprint = *p.Fingerprint.Clone()
	return &cp
}

// HasTag reports whether the profile carries the given tag.
func (p *Profile) HasTag(tag string) bool {
	for _, t := range p.Tags {
		if t == tag {
			return true
		}
	}
	return false
}

// Folder groups profiles in the UI sidebar.
type Folder struct {
	ID       string `json:"id"`
	Name     string `json:"name"`
	Color    string `json:"color"`
	ParentID string `json:"parent_id,omitempty"` // shallow tree, one level deep
}

// NewFolder returns a folder with a fresh id and the default accent color.
func NewFolder(name string) *Folder {
	return &Folder{
		ID:    uuid.New().String(),
		Name:  name,
		Color: "#6366f1",
	}
}

// TrashEntry is a soft-deleted profile snapshot, restorable until purged.
type TrashEntry struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	DeletedAt time.Time `json:"deleted_at"`
	Profile   Profile   `json:"profile"`
}

// AppSettings is presentation state persisted alongside the profile data so
// the launcher reopens where the user left off.
type AppSettings struct {
	ItemsPerPage   int      `json:"items_per_page"`
	SelectedFolder string   `json:"selected_folder"`
	SelectedTags   []string `json:"selected_tags,omitempty"`
	WindowWidth    int      `json:"window_width"`
	WindowHeight   int      `json:"window_height"`
	WindowX        int      `json:"window_x"`
	WindowY        int      `json:"window_y"`
	SidebarWidth   int      `json:"sidebar_width"`
}

// DefaultSettings returns the settings used before the user changes anything.
func DefaultSettings() AppSettings {
	return AppSettings{
		ItemsPerPage: 25,
		WindowWidth:  1400,
		WindowHeight: 800,
		WindowX:      -1, // -1 = center on screen
		WindowY:      -1,
		SidebarWidth: 220,
	}
}
