package store

import (
	"fmt"
	"path/filepath"
	"strings"
)

// Guard confines per-profile paths to a subtree of the data directory. The
// browser-data directory name is derived from a caller-supplied profile id,
// and Purge removes it recursively, so the id must never be able to point
// the removal outside the data dir.
type Guard struct {
	root string
}

// NewGuard returns a guard rooted at dir, which is cleaned and made
// absolute.
func NewGuard(dir string) (*Guard, error) {
	if dir == "" {
		return nil, fmt.Errorf("guard root cannot be empty")
	}
	abs, err := filepath.Abs(dir)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve guard root: %w", err)
	}
	return &Guard{root: filepath.Clean(abs)}, nil
}

// Root returns the guarded directory.
func (g *Guard) Root() string { return g.root }

// Join resolves name under the root and fails when the result would escape
// it. Separators and traversal components in name are rejected outright.
func (g *Guard) Join(name string) (string, error) {
	if name == "" {
		return "", fmt.Errorf("path element cannot be empty")
	}
	if strings.ContainsAny(name, `/\`) || name == "." || name == ".." {
		return "", fmt.Errorf("invalid path element %q", name)
	}

	p := filepath.Clean(filepath.Join(g.root, name))
	if !g.contains(p) {
		return "", fmt.Errorf("path %q is outside %s", name, g.root)
	}
	return p, nil
}

// Contains reports whether path lies inside the guarded directory.
func (g *Guard) Contains(path string) bool {
	abs, err := filepath.Abs(path)
	if err != nil {
		return false
	}
	return g.contains(filepath.Clean(abs))
}

func (g *Guard) contains(abs string) bool {
	if abs == g.root {
		return true
	}
	return strings.HasPrefix(abs, g.root+string(filepath.Separator))
}
