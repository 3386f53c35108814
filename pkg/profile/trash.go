package profile

import (
	"fmt"
	"os"
	"time"

	"github.com/entrhq/mantle/pkg/store"
	"github.com/entrhq/mantle/pkg/types"
)

// Delete soft-deletes a profile: a full snapshot moves into the trash and
// the profile leaves the live set and both indices. Both documents are
// persisted; the browser data directory is kept until the entry is purged.
func (r *Repository) Delete(id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	p, ok := r.profiles[id]
	if !ok {
		return fmt.Errorf("%w: profile %s", ErrNotFound, id)
	}
	r.ensureTagIndex()

	entry := types.TrashEntry{
		ID:        p.ID,
		Name:      p.Name,
		DeletedAt: time.Now(),
		Profile:   *p.Clone(),
	}

	// The snapshot lands in the trash document before the profile leaves
	// the live one, so a crash or write failure between the two leaves the
	// profile present in both documents, never in neither. RestoreFromTrash
	// rejects the resulting id collision.
	r.trash = append(r.trash, entry)
	if err := r.persistTrash(); err != nil {
		r.trash = r.trash[:len(r.trash)-1]
		return err
	}

	delete(r.profiles, id)
	r.indexTagsRemove(p)
	if err := r.persistProfiles(); err != nil {
		r.profiles[id] = p
		r.indexTagsAdd(p)
		r.trash = r.trash[:len(r.trash)-1]
		return err
	}

	r.bus.Publish(types.NewProfileEvent(types.EventProfileDeleted, id))
	return nil
}

// RestoreFromTrash reinstates a trashed profile under its original id, with
// identical field values and tag membership. An id collision with a live
// profile cannot normally happen in a single-owner store and is rejected
// defensively.
func (r *Repository) RestoreFromTrash(id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	idx := r.trashIndex(id)
	if idx < 0 {
		return fmt.Errorf("%w: trash entry %s", ErrNotFound, id)
	}
	if _, live := r.profiles[id]; live {
		return fmt.Errorf("%w: profile id %s is already in use", ErrValidation, id)
	}
	r.ensureTagIndex()

	entry := r.trash[idx]
	p := entry.Profile.Clone()
	p.Status = types.StatusStopped

	r.profiles[id] = p
	r.indexTagsAdd(p)
	r.trash = append(r.trash[:idx], r.trash[idx+1:]...)

	if err := r.persistProfiles(); err != nil {
		delete(r.profiles, id)
		r.indexTagsRemove(p)
		r.trash = append(r.trash, entry)
		return err
	}
	if err := r.persistTrash(); err != nil {
		return err
	}

	r.bus.Publish(types.NewProfileEvent(types.EventProfileRestored, id))
	return nil
}

// Purge permanently removes a trash entry and reclaims the profile's
// browser data directory.
func (r *Repository) Purge(id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	idx := r.trashIndex(id)
	if idx < 0 {
		return fmt.Errorf("%w: trash entry %s", ErrNotFound, id)
	}

	entry := r.trash[idx]
	r.trash = append(r.trash[:idx], r.trash[idx+1:]...)

	if err := r.persistTrash(); err != nil {
		r.trash = append(r.trash, entry)
		return err
	}

	if _, live := r.profiles[id]; live {
		// A stale snapshot of a live profile; drop the entry but keep the
		// browser data.
		r.log.Warnf("purged trash entry %s shadows a live profile, keeping its browser data", id)
	} else if dataDir, err := r.guard.Join(id); err != nil {
		r.log.Warnf("skipping browser data removal for purged profile %s: %v", id, err)
	} else if err := os.RemoveAll(dataDir); err != nil {
		r.log.Warnf("failed to remove browser data for purged profile %s: %v", id, err)
	}

	r.bus.Publish(types.NewProfileEvent(types.EventProfilePurged, id))
	return nil
}

// EmptyTrash purges every entry.
func (r *Repository) EmptyTrash() error {
	r.mu.Lock()
	ids := make([]string, len(r.trash))
	for i, e := range r.trash {
		ids[i] = e.ID
	}
	r.mu.Unlock()

	for _, id := range ids {
		if err := r.Purge(id); err != nil {
			return err
		}
	}
	return nil
}

// Trash returns a copy of all trash entries, newest deletion first.
func (r *Repository) Trash() []types.TrashEntry {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]types.TrashEntry, len(r.trash))
	copy(out, r.trash)
	for i, j := 0, len(out)-1; i < j; i, j = i+1, j-1 {
		out[i], out[j] = out[j], out[i]
	}
	return out
}

func (r *Repository) trashIndex(id string) int {
	for i, e := range r.trash {
		if e.ID == id {
			return i
		}
	}
	return -1
}

func (r *Repository) persistTrash() error {
	return r.persist(store.DocTrash, trashDoc{Items: r.trash})
}
