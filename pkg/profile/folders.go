package profile

import (
	"fmt"
	"sort"
	"strings"

	"github.com/entrhq/mantle/pkg/store"
	"github.com/entrhq/mantle/pkg/types"
)

// AddFolder inserts a new folder.
func (r *Repository) AddFolder(f *types.Folder) error {
	if f == nil || strings.TrimSpace(f.Name) == "" {
		return fmt.Errorf("%w: folder name must not be empty", ErrValidation)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.folders[f.ID]; exists {
		return fmt.Errorf("%w: folder id %s already exists", ErrValidation, f.ID)
	}

	cp := *f
	r.folders[cp.ID] = &cp

	if err := r.persistFolders(); err != nil {
		delete(r.folders, cp.ID)
		return err
	}
	return nil
}

// UpdateFolder replaces an existing folder.
func (r *Repository) UpdateFolder(f *types.Folder) error {
	if f == nil || strings.TrimSpace(f.Name) == "" {
		return fmt.Errorf("%w: folder name must not be empty", ErrValidation)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	old, exists := r.folders[f.ID]
	if !exists {
		return fmt.Errorf("%w: folder %s", ErrNotFound, f.ID)
	}

	cp := *f
	r.folders[cp.ID] = &cp

	if err := r.persistFolders(); err != nil {
		r.folders[old.ID] = old
		return err
	}
	return nil
}

// DeleteFolder removes a folder. Member profiles fall back to unassigned
// (empty folder id); both documents are persisted.
func (r *Repository) DeleteFolder(id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	old, exists := r.folders[id]
	if !exists {
		return fmt.Errorf("%w: folder %s", ErrNotFound, id)
	}

	var moved []*types.Profile
	for _, p := range r.profiles {
		if p.FolderID == id {
			p.FolderID = ""
			moved = append(moved, p)
		}
	}
	delete(r.folders, id)

	if err := r.persistFolders(); err != nil {
		r.folders[id] = old
		for _, p := range moved {
			p.FolderID = id
		}
		return err
	}
	if len(moved) > 0 {
		if err := r.persistProfiles(); err != nil {
			return err
		}
	}
	return nil
}

// Folders returns all folders sorted by name.
func (r *Repository) Folders() []*types.Folder {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]*types.Folder, 0, len(r.folders))
	for _, f := range r.folders {
		cp := *f
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// FolderProfileCount returns the number of profiles assigned to a folder.
func (r *Repository) FolderProfileCount(id string) int {
	r.mu.RLock()
	defer r.mu.RUnlock()

	n := 0
	for _, p := range r.profiles {
		if p.FolderID == id {
			n++
		}
	}
	return n
}

func (r *Repository) persistFolders() error {
	list := make([]*types.Folder, 0, len(r.folders))
	for _, f := range r.folders {
		list = append(list, f)
	}
	sort.Slice(list, func(i, j int) bool { return list[i].ID < list[j].ID })
	return r.persist(store.DocFolders, foldersDoc{Folders: list})
}
