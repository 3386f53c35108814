package profile

// Tag index maintenance. The index maps tag -> set of profile ids and must
// always equal a recomputation over the live profile set. Mutations keep it
// current incrementally; rebuildTagIndex is the defensive fallback for paths
// that skipped maintenance (bulk load), triggered lazily, never eagerly on
// every mutation.

import "github.com/entrhq/mantle/pkg/types"

func (r *Repository) indexTagsAdd(p *types.Profile) {
	for _, tag := range p.Tags {
		set, ok := r.tagIndex[tag]
		if !ok {
			set = make(map[string]struct{})
			r.tagIndex[tag] = set
		}
		set[p.ID] = struct{}{}
	}
}

func (r *Repository) indexTagsRemove(p *types.Profile) {
	for _, tag := range p.Tags {
		set, ok := r.tagIndex[tag]
		if !ok {
			continue
		}
		delete(set, p.ID)
		if len(set) == 0 {
			delete(r.tagIndex, tag)
		}
	}
}

// indexTagsDiff adjusts the index for an update: associations present on old
// but not new are removed, the reverse added. Unchanged tags are untouched.
func (r *Repository) indexTagsDiff(old, new *types.Profile) {
	oldSet := make(map[string]struct{}, len(old.Tags))
	for _, t := range old.Tags {
		oldSet[t] = struct{}{}
	}
	newSet := make(map[string]struct{}, len(new.Tags))
	for _, t := range new.Tags {
		newSet[t] = struct{}{}
	}

	for tag := range oldSet {
		if _, kept := newSet[tag]; kept {
			continue
		}
		if set, ok := r.tagIndex[tag]; ok {
			delete(set, old.ID)
			if len(set) == 0 {
				delete(r.tagIndex, tag)
			}
		}
	}
	for tag := range newSet {
		if _, had := oldSet[tag]; had {
			continue
		}
		set, ok := r.tagIndex[tag]
		if !ok {
			set = make(map[string]struct{})
			r.tagIndex[tag] = set
		}
		set[new.ID] = struct{}{}
	}
}

// rebuildTagIndex recomputes the index from the live profile set. O(tags x
// profiles); only the lazy fallback path pays it.
func (r *Repository) rebuildTagIndex() {
	r.tagIndex = make(map[string]map[string]struct{})
	for _, p := range r.profiles {
		r.indexTagsAdd(p)
	}
	r.tagDirty = false
}

func (r *Repository) ensureTagIndex() {
	if r.tagDirty {
		r.rebuildTagIndex()
	}
}

// TagCounts returns the number of live profiles carrying each tag, straight
// from the maintained index.
func (r *Repository) TagCounts() map[string]int {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.ensureTagIndex()
	counts := make(map[string]int, len(r.tagIndex))
	for tag, set := range r.tagIndex {
		counts[tag] = len(set)
	}
	return counts
}

// ProfilesByTag returns the ids of live profiles carrying the tag.
func (r *Repository) ProfilesByTag(tag string) []string {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.ensureTagIndex()
	set := r.tagIndex[tag]
	ids := make([]string, 0, len(set))
	for id := range set {
		ids = append(ids, id)
	}
	return ids
}
