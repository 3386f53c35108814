package profile

import (
	"fmt"
	"sort"
	"strings"

	"github.com/entrhq/mantle/pkg/store"
	"github.com/entrhq/mantle/pkg/types"
)

// The tag pool is the global set of tags offered in pickers. It exists
// independently of profiles: a pool tag may have zero carriers, and a
// profile may carry a tag that was never pooled.

// AddTag adds a tag to the global pool. Adding an existing tag is a no-op.
func (r *Repository) AddTag(tag string) error {
	tag = strings.TrimSpace(tag)
	if tag == "" {
		return fmt.Errorf("%w: tag must not be empty", ErrValidation)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	for _, t := range r.tagPool {
		if t == tag {
			return nil
		}
	}
	r.tagPool = append(r.tagPool, tag)

	if err := r.persistTagPool(); err != nil {
		r.tagPool = r.tagPool[:len(r.tagPool)-1]
		return err
	}
	return nil
}

// RemoveTag removes a tag from the pool. Profiles keep carrying it.
func (r *Repository) RemoveTag(tag string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	for i, t := range r.tagPool {
		if t == tag {
			old := r.tagPool
			r.tagPool = append(append([]string(nil), old[:i]...), old[i+1:]...)
			if err := r.persistTagPool(); err != nil {
				r.tagPool = old
				return err
			}
			return nil
		}
	}
	return fmt.Errorf("%w: tag %q", ErrNotFound, tag)
}

// RenameTag renames a pool tag and rewrites it on every carrying profile,
// keeping the tag index consistent.
func (r *Repository) RenameTag(oldName, newName string) error {
	newName = strings.TrimSpace(newName)
	if newName == "" {
		return fmt.Errorf("%w: tag must not be empty", ErrValidation)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	r.ensureTagIndex()

	poolIdx := -1
	for i, t := range r.tagPool {
		if t == oldName {
			r.tagPool[i] = newName
			poolIdx = i
			break
		}
	}
	if poolIdx < 0 {
		return fmt.Errorf("%w: tag %q", ErrNotFound, oldName)
	}

	// Remember exactly which tag slots were rewritten so a persist failure
	// can undo them; carriers that already had newName stay untouched.
	type tagSlot struct {
		p *types.Profile
		i int
	}
	var edits []tagSlot
	for id := range r.tagIndex[oldName] {
		p := r.profiles[id]
		for i, t := range p.Tags {
			if t == oldName {
				p.Tags[i] = newName
				edits = append(edits, tagSlot{p: p, i: i})
			}
		}
	}
	if set, ok := r.tagIndex[oldName]; ok {
		delete(r.tagIndex, oldName)
		dst, exists := r.tagIndex[newName]
		if !exists {
			r.tagIndex[newName] = set
		} else {
			for id := range set {
				dst[id] = struct{}{}
			}
		}
	}

	rollback := func() {
		r.tagPool[poolIdx] = oldName
		for _, e := range edits {
			e.p.Tags[e.i] = oldName
		}
		r.tagDirty = true
	}

	if err := r.persistTagPool(); err != nil {
		rollback()
		return err
	}
	if err := r.persistProfiles(); err != nil {
		rollback()
		if perr := r.persistTagPool(); perr != nil {
			r.log.Warnf("restore of tag pool after failed rename: %v", perr)
		}
		return err
	}
	return nil
}

// AllTags returns the union of pool tags and tags carried by live profiles,
// sorted.
func (r *Repository) AllTags() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.ensureTagIndex()

	seen := make(map[string]struct{}, len(r.tagPool)+len(r.tagIndex))
	for _, t := range r.tagPool {
		seen[t] = struct{}{}
	}
	for t := range r.tagIndex {
		seen[t] = struct{}{}
	}

	out := make([]string, 0, len(seen))
	for t := range seen {
		out = append(out, t)
	}
	sort.Strings(out)
	return out
}

// TagPool returns the pooled tags in insertion order.
func (r *Repository) TagPool() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return append([]string(nil), r.tagPool...)
}

func (r *Repository) persistTagPool() error {
	return r.persist(store.DocTagPool, tagsDoc{Tags: r.tagPool})
}
