// Package files implements the file-tree operations a user may perform inside
// their own sandbox directory. Every logical path is confined with
// fsutil.Resolve before the filesystem is touched.
package files

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"golang.org/x/text/encoding/unicode"

	"filebox/internal/fsutil"
	"filebox/internal/staging"
)

var (
	ErrNotFound      = errors.New("not found")
	ErrForbidden     = errors.New("forbidden")
	ErrAlreadyExists = errors.New("already exists")
	ErrNotDir        = errors.New("not a directory")
	ErrIO            = errors.New("i/o failure")
)

// Entry is one visible child of a directory.
type Entry struct {
	Name    string
	IsDir   bool
	Size    int64
	ModTime time.Time
}

// Uploaded describes a file written by Upload.
type Uploaded struct {
	Rel    string
	SHA256 string
	Size   int64
}

// Tree operates on one confined directory.
type Tree struct {
	Root string
	// AtomicWrites stages Write content and renames it into place instead of
	// truncating the target first.
	AtomicWrites bool
	Stage        *staging.Store
}

func (t *Tree) resolve(rel string) (string, error) {
	abs, err := fsutil.Resolve(t.Root, rel)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrForbidden, err)
	}
	return abs, nil
}

// Stat returns the resolved absolute path and its file info.
func (t *Tree) Stat(ctx context.Context, rel string) (string, fs.FileInfo, error) {
	abs, err := t.resolve(rel)
	if err != nil {
		return "", nil, err
	}
	st, err := os.Stat(abs)
	if err != nil {
		return "", nil, notFound(err)
	}
	return abs, st, nil
}

// List returns the non-hidden children of a directory in lexical order.
// Directories and files are not grouped.
func (t *Tree) List(ctx context.Context, rel string) ([]Entry, error) {
	abs, st, err := t.Stat(ctx, rel)
	if err != nil {
		return nil, err
	}
	if !st.IsDir() {
		return nil, ErrNotDir
	}
	ents, err := os.ReadDir(abs)
	if err != nil {
		return nil, fmt.Errorf("%w: read dir: %v", ErrIO, err)
	}
	out := make([]Entry, 0, len(ents))
	for _, e := range ents {
		name := e.Name()
		if strings.HasPrefix(name, ".") {
			continue
		}
		it := Entry{Name: name, IsDir: e.IsDir()}
		if info, err := e.Info(); err == nil {
			it.Size = info.Size()
			it.ModTime = info.ModTime()
		}
		out = append(out, it)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

// Read returns the file's contents as text. Byte sequences that are not
// valid UTF-8 are replaced with U+FFFD.
func (t *Tree) Read(ctx context.Context, rel string) (string, error) {
	abs, st, err := t.Stat(ctx, rel)
	if err != nil {
		return "", err
	}
	if !st.Mode().IsRegular() {
		return "", ErrNotFound
	}
	b, err := os.ReadFile(abs)
	if err != nil {
		return "", fmt.Errorf("%w: read: %v", ErrIO, err)
	}
	text, err := unicode.UTF8.NewDecoder().Bytes(b)
	if err != nil {
		return strings.ToValidUTF8(string(b), "\uFFFD"), nil
	}
	return string(text), nil
}

// Write replaces the whole file with content.
func (t *Tree) Write(ctx context.Context, rel string, content string) error {
	abs, err := t.resolve(rel)
	if err != nil {
		return err
	}
	if abs == filepath.Clean(t.Root) {
		return ErrForbidden
	}
	if st, err := os.Stat(abs); err == nil && st.IsDir() {
		return fmt.Errorf("%w: is a directory", ErrForbidden)
	}
	if t.AtomicWrites && t.Stage != nil {
		staged, err := t.Stage.Put(ctx, strings.NewReader(content))
		if err != nil {
			return fmt.Errorf("%w: stage: %v", ErrIO, err)
		}
		if err := t.Stage.Commit(staged, abs); err != nil {
			return fmt.Errorf("%w: %v", ErrIO, err)
		}
		return nil
	}
	if err := os.WriteFile(abs, []byte(content), 0o644); err != nil {
		return fmt.Errorf("%w: write: %v", ErrIO, err)
	}
	return nil
}

// CreateFolder creates the directory (and parents). Existing folders are fine.
func (t *Tree) CreateFolder(ctx context.Context, rel string) error {
	abs, err := t.resolve(rel)
	if err != nil {
		return err
	}
	if st, err := os.Stat(abs); err == nil && !st.IsDir() {
		return ErrAlreadyExists
	}
	if err := os.MkdirAll(abs, 0o755); err != nil {
		return fmt.Errorf("%w: mkdir: %v", ErrIO, err)
	}
	return nil
}

// CreateFile creates an empty file, failing with ErrAlreadyExists if the path
// is taken.
func (t *Tree) CreateFile(ctx context.Context, rel string) error {
	abs, err := t.resolve(rel)
	if err != nil {
		return err
	}
	f, err := os.OpenFile(abs, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o644)
	if err != nil {
		if errors.Is(err, fs.ErrExist) {
			return ErrAlreadyExists
		}
		return notFound(err)
	}
	return f.Close()
}

// Delete removes a file, or a directory with everything beneath it.
func (t *Tree) Delete(ctx context.Context, rel string) error {
	abs, err := t.resolve(rel)
	if err != nil {
		return err
	}
	if abs == filepath.Clean(t.Root) {
		return ErrForbidden
	}
	st, err := os.Lstat(abs)
	if err != nil {
		return notFound(err)
	}
	if st.IsDir() {
		err = os.RemoveAll(abs)
	} else {
		err = os.Remove(abs)
	}
	if err != nil {
		return fmt.Errorf("%w: delete: %v", ErrIO, err)
	}
	return nil
}

// Rename gives an entry a new name within its current parent directory and
// returns the new logical path.
func (t *Tree) Rename(ctx context.Context, rel, newName string) (string, error) {
	abs, err := t.resolve(rel)
	if err != nil {
		return "", err
	}
	if abs == filepath.Clean(t.Root) {
		return "", ErrForbidden
	}
	if _, err := os.Lstat(abs); err != nil {
		return "", notFound(err)
	}
	name, err := fsutil.SafeName(newName)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrForbidden, err)
	}
	newRel := fsutil.JoinRel(fsutil.ParentRel(rel), name)
	dst, err := t.resolve(newRel)
	if err != nil {
		return "", err
	}
	if dst == abs {
		return newRel, nil
	}
	if _, err := os.Lstat(dst); err == nil {
		return "", ErrAlreadyExists
	}
	if err := os.Rename(abs, dst); err != nil {
		return "", fmt.Errorf("%w: rename: %v", ErrIO, err)
	}
	return newRel, nil
}

// Open opens a regular file for download. The caller closes it.
func (t *Tree) Open(ctx context.Context, rel string) (*os.File, fs.FileInfo, error) {
	abs, st, err := t.Stat(ctx, rel)
	if err != nil {
		return nil, nil, err
	}
	if !st.Mode().IsRegular() {
		return nil, nil, ErrNotFound
	}
	f, err := os.Open(abs)
	if err != nil {
		return nil, nil, notFound(err)
	}
	return f, st, nil
}

// Upload writes r into directory dirRel under the base name of filename.
// Any directory part of filename is discarded.
func (t *Tree) Upload(ctx context.Context, dirRel, filename string, r io.Reader) (Uploaded, error) {
	dirAbs, st, err := t.Stat(ctx, dirRel)
	if err != nil {
		return Uploaded{}, err
	}
	if !st.IsDir() {
		return Uploaded{}, ErrNotDir
	}
	name, err := fsutil.SafeName(filename)
	if err != nil {
		return Uploaded{}, fmt.Errorf("%w: %v", ErrForbidden, err)
	}
	rel := fsutil.JoinRel(dirRel, name)
	dst, err := t.resolve(rel)
	if err != nil || filepath.Dir(dst) != dirAbs {
		return Uploaded{}, ErrForbidden
	}
	if st, err := os.Stat(dst); err == nil && st.IsDir() {
		return Uploaded{}, fmt.Errorf("%w: is a directory", ErrAlreadyExists)
	}
	if t.Stage == nil {
		return Uploaded{}, errors.New("upload staging not configured")
	}
	staged, err := t.Stage.Put(ctx, r)
	if err != nil {
		return Uploaded{}, fmt.Errorf("%w: stage: %v", ErrIO, err)
	}
	if err := t.Stage.Commit(staged, dst); err != nil {
		return Uploaded{}, fmt.Errorf("%w: %v", ErrIO, err)
	}
	return Uploaded{Rel: rel, SHA256: staged.SHA256, Size: staged.Size}, nil
}

func notFound(err error) error {
	if errors.Is(err, fs.ErrNotExist) {
		return ErrNotFound
	}
	if errors.Is(err, fs.ErrPermission) {
		return ErrForbidden
	}
	return fmt.Errorf("%w: %v", ErrIO, err)
}
