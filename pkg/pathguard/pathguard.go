// Package pathguard confines filesystem paths to a fixed root directory.
//
// Every path handed out by a Guard has been made absolute, cleaned, and had
// symlinks resolved on its longest existing prefix before the containment
// check. Joining onto a guarded Path yields another guarded Path, so callers
// can build nested paths without ever leaving the root.
package pathguard

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// ErrPermission matches every *PermissionError via errors.Is.
var ErrPermission = errors.New("permission denied")

// PermissionError reports a path that resolves outside the guard root.
type PermissionError struct {
	Op   string
	Path string
}

func (e *PermissionError) Error() string {
	if e.Op == "list" {
		return fmt.Sprintf("Access denied: cannot list '%s' - outside project directory", e.Path)
	}
	return fmt.Sprintf("Access denied: path '%s' is outside project directory", e.Path)
}

// Is reports whether target is ErrPermission.
func (e *PermissionError) Is(target error) bool {
	return target == ErrPermission
}

// Guard validates paths against a canonical root. It is safe for concurrent use.
type Guard struct {
	root string
}

// New returns a Guard rooted at root. The root must exist.
func New(root string) (*Guard, error) {
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("resolving sandbox root %q: %w", root, err)
	}
	resolved, err := filepath.EvalSymlinks(abs)
	if err != nil {
		return nil, fmt.Errorf("resolving sandbox root %q: %w", root, err)
	}
	return &Guard{root: resolved}, nil
}

// Root returns the canonical root directory.
func (g *Guard) Root() string {
	return g.root
}

// Resolve joins parts into a canonical absolute path and verifies it lies
// under the root. Relative paths are taken against the root. As with
// Python's pathlib, an absolute part discards everything before it.
func (g *Guard) Resolve(parts ...string) (string, error) {
	return g.resolve("resolve", parts)
}

func (g *Guard) resolve(op string, parts []string) (string, error) {
	p := g.root
	for _, part := range parts {
		if part == "" {
			continue
		}
		if filepath.IsAbs(part) {
			p = part
		} else {
			p = filepath.Join(p, part)
		}
	}
	resolved := resolveExisting(filepath.Clean(p))
	if !g.Contains(resolved) {
		return "", &PermissionError{Op: op, Path: resolved}
	}
	return resolved, nil
}

// Contains reports whether the canonical path abs lies under the root.
func (g *Guard) Contains(abs string) bool {
	rel, err := filepath.Rel(g.root, abs)
	if err != nil {
		return false
	}
	return rel != ".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator))
}

// Rel returns abs relative to the root, or abs unchanged if it is not under it.
func (g *Guard) Rel(abs string) string {
	rel, err := filepath.Rel(g.root, abs)
	if err != nil || !g.Contains(abs) {
		return abs
	}
	return rel
}

// ListDir returns the sorted entry names of a directory under the root.
func (g *Guard) ListDir(path string) ([]string, error) {
	dir, err := g.resolve("list", []string{path})
	if err != nil {
		return nil, err
	}
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, err
	}
	names := make([]string, len(entries))
	for i, e := range entries {
		names[i] = e.Name()
	}
	return names, nil
}

// Path returns a guarded path value for the joined parts.
func (g *Guard) Path(parts ...string) (Path, error) {
	abs, err := g.Resolve(parts...)
	if err != nil {
		return Path{}, err
	}
	return Path{guard: g, abs: abs}, nil
}

// Path is a canonical absolute path known to lie under its Guard's root.
type Path struct {
	guard *Guard
	abs   string
}

// Join appends segments and re-validates the result.
func (p Path) Join(segments ...string) (Path, error) {
	return p.guard.Path(append([]string{p.abs}, segments...)...)
}

// Parent returns the containing directory. The root is its own parent.
func (p Path) Parent() Path {
	if p.abs == p.guard.root {
		return p
	}
	return Path{guard: p.guard, abs: filepath.Dir(p.abs)}
}

// String returns the canonical absolute path.
func (p Path) String() string {
	return p.abs
}

// Rel returns the path relative to the guard root.
func (p Path) Rel() string {
	return p.guard.Rel(p.abs)
}

// resolveExisting evaluates symlinks on the longest existing prefix of p and
// re-attaches the non-existent remainder.
func resolveExisting(p string) string {
	cur, rest := p, ""
	for {
		if r, err := filepath.EvalSymlinks(cur); err == nil {
			return filepath.Join(r, rest)
		}
		parent := filepath.Dir(cur)
		if parent == cur {
			return p
		}
		rest = filepath.Join(filepath.Base(cur), rest)
		cur = parent
	}
}
