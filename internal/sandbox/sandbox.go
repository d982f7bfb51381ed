// Package sandbox resolves client-supplied paths against a fixed root
// directory and rejects anything that would leave it.
package sandbox

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"syscall"

	"github.com/mahmoud-eltahawy/webls/pkg/models"
)

// ErrPathEscape is returned for paths that resolve outside the root.
var ErrPathEscape = models.ErrPathEscape

// Sandbox is an immutable, canonical root directory.
type Sandbox struct {
	root string
}

// New canonicalizes root and verifies it is an existing directory.
func New(root string) (*Sandbox, error) {
	if root == "" {
		return nil, fmt.Errorf("sandbox root is required")
	}
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("resolve root %s: %w", root, err)
	}
	canonical, err := filepath.EvalSymlinks(abs)
	if err != nil {
		return nil, fmt.Errorf("resolve root %s: %w", root, err)
	}
	info, err := os.Stat(canonical)
	if err != nil {
		return nil, fmt.Errorf("stat root %s: %w", canonical, err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("root %s: %w", canonical, models.ErrNotADirectory)
	}
	return &Sandbox{root: canonical}, nil
}

// Root returns the canonical absolute root.
func (s *Sandbox) Root() string {
	return s.root
}

// Resolve maps a root-relative, slash-separated client path to an absolute
// path inside the root. The parent chain is canonicalized so symlinked
// directories cannot lead outside the root. A final symlink is kept as-is
// (so removing it removes the link), but its target must stay inside the
// root as well. Paths that do not exist yet resolve normally.
func (s *Sandbox) Resolve(rel string) (string, error) {
	if strings.ContainsRune(rel, 0) {
		return "", fmt.Errorf("%w: %q contains NUL", ErrPathEscape, rel)
	}
	if strings.HasPrefix(rel, "/") || strings.HasPrefix(rel, `\`) || filepath.IsAbs(rel) || filepath.VolumeName(rel) != "" {
		return "", fmt.Errorf("%w: %q is absolute", ErrPathEscape, rel)
	}

	joined := filepath.Join(s.root, filepath.FromSlash(rel))
	if !s.contains(joined) {
		return "", fmt.Errorf("%w: %q", ErrPathEscape, rel)
	}
	if joined == s.root {
		return s.root, nil
	}

	parent, err := canonicalPrefix(filepath.Dir(joined))
	if err != nil {
		return "", fmt.Errorf("resolve %q: %w", rel, err)
	}
	if !s.contains(parent) {
		return "", fmt.Errorf("%w: %q", ErrPathEscape, rel)
	}
	resolved := filepath.Join(parent, filepath.Base(joined))

	info, err := os.Lstat(resolved)
	if err == nil && info.Mode()&fs.ModeSymlink != 0 {
		target, err := os.Readlink(resolved)
		if err != nil {
			return "", fmt.Errorf("resolve %q: %w", rel, err)
		}
		if !filepath.IsAbs(target) {
			target = filepath.Join(parent, target)
		}
		target, err = canonicalPrefix(target)
		if err != nil {
			return "", fmt.Errorf("resolve %q: %w", rel, err)
		}
		if !s.contains(target) {
			return "", fmt.Errorf("%w: %q links outside root", ErrPathEscape, rel)
		}
	}
	return resolved, nil
}

// Rel maps an absolute path inside the root back to a client path.
func (s *Sandbox) Rel(abs string) (string, error) {
	if !s.contains(abs) {
		return "", fmt.Errorf("%w: %s", ErrPathEscape, abs)
	}
	rel, err := filepath.Rel(s.root, filepath.Clean(abs))
	if err != nil {
		return "", err
	}
	if rel == "." {
		return "", nil
	}
	return filepath.ToSlash(rel), nil
}

func (s *Sandbox) contains(p string) bool {
	rel, err := filepath.Rel(s.root, filepath.Clean(p))
	if err != nil {
		return false
	}
	return rel != ".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator))
}

// canonicalPrefix evaluates symlinks on the longest existing prefix of p
// and re-appends the missing remainder.
func canonicalPrefix(p string) (string, error) {
	var missing []string
	cur := filepath.Clean(p)
	for {
		resolved, err := filepath.EvalSymlinks(cur)
		if err == nil {
			return filepath.Join(append([]string{resolved}, missing...)...), nil
		}
		if !errors.Is(err, fs.ErrNotExist) && !errors.Is(err, syscall.ENOTDIR) {
			return "", err
		}
		parent := filepath.Dir(cur)
		if parent == cur {
			return filepath.Clean(p), nil
		}
		missing = append([]string{filepath.Base(cur)}, missing...)
		cur = parent
	}
}
