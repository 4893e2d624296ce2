package fsutil

import (
	"errors"
	"path"
	"path/filepath"
	"strings"
)

var (
	// ErrPathEscape is returned when a logical path resolves outside its root.
	ErrPathEscape = errors.New("path escapes root")
	// ErrInvalidName is returned by SafeName for names that cannot name an entry.
	ErrInvalidName = errors.New("invalid name")
)

// CleanRelPath takes a user path like "", ".", "/a/b", "a//b", and returns a
// safe, slash-based, no-leading-slash relative path ("" means root).
func CleanRelPath(p string) string {
	p = strings.TrimSpace(p)
	if p == "" || p == "." || p == "/" {
		return ""
	}
	p = strings.ReplaceAll(p, "\\", "/")
	p = path.Clean("/" + p) // force absolute for stable cleaning
	p = strings.TrimPrefix(p, "/")
	if p == "." {
		return ""
	}
	return p
}

// Resolve joins a client-supplied logical path onto root and returns the
// cleaned absolute result. The result is root itself or a descendant of it;
// anything else is rejected with ErrPathEscape. Symlinks are not evaluated.
func Resolve(root, logical string) (string, error) {
	if strings.Contains(logical, "\x00") {
		return "", ErrPathEscape
	}
	rootClean := filepath.Clean(root)
	logical = strings.ReplaceAll(logical, "\\", "/")
	// a leading slash is relative to root, not to the host filesystem
	logical = strings.TrimLeft(logical, "/")
	abs := filepath.Clean(filepath.Join(rootClean, filepath.FromSlash(logical)))
	if !Within(rootClean, abs) {
		return "", ErrPathEscape
	}
	return abs, nil
}

// Within reports whether abs equals root or lies beneath it. Both paths must
// already be clean.
func Within(root, abs string) bool {
	if abs == root {
		return true
	}
	prefix := root
	if !strings.HasSuffix(prefix, string(filepath.Separator)) {
		prefix += string(filepath.Separator)
	}
	return strings.HasPrefix(abs, prefix)
}

// SafeName reduces a client-supplied file name to its final component.
// Browsers may send full paths ("C:\\tmp\\a.txt") and hostile clients may
// send "../../evil.txt"; both collapse to the base name.
func SafeName(name string) (string, error) {
	name = strings.TrimSpace(name)
	if strings.Contains(name, "\x00") {
		return "", ErrInvalidName
	}
	name = strings.ReplaceAll(name, "\\", "/")
	name = path.Base(name)
	switch name {
	case "", ".", "..", "/":
		return "", ErrInvalidName
	}
	return name, nil
}

// ParentRel returns the logical parent of rel ("" for top-level entries).
func ParentRel(rel string) string {
	rel = CleanRelPath(rel)
	if rel == "" {
		return ""
	}
	p := path.Dir(rel)
	if p == "." {
		return ""
	}
	return p
}

// JoinRel appends name to a logical directory path.
func JoinRel(parent, name string) string {
	parent = CleanRelPath(parent)
	if parent == "" {
		return name
	}
	return parent + "/" + name
}
