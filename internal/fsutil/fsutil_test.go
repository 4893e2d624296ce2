package fsutil

import (
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestResolve_RootForms(t *testing.T) {
	root := t.TempDir()
	for _, p := range []string{"", ".", "/", "///", "./", "a/..", "a/b/../.."} {
		got, err := Resolve(root, p)
		require.NoError(t, err, "path %q", p)
		assert.Equal(t, filepath.Clean(root), got, "path %q", p)
	}
}

func TestResolve_Descendants(t *testing.T) {
	root := t.TempDir()
	cases := map[string]string{
		"a":           "a",
		"a/b":         filepath.Join("a", "b"),
		"/a/b":        filepath.Join("a", "b"),
		"a//b/":       filepath.Join("a", "b"),
		"a/./b":       filepath.Join("a", "b"),
		"a/b/../c":    filepath.Join("a", "c"),
		`a\b`:         filepath.Join("a", "b"),
		"..a":         "..a",
		"a/../../a/x": "",
	}
	for in, want := range cases {
		got, err := Resolve(root, in)
		if want == "" {
			assert.ErrorIs(t, err, ErrPathEscape, "path %q", in)
			continue
		}
		require.NoError(t, err, "path %q", in)
		assert.Equal(t, filepath.Join(root, want), got, "path %q", in)
	}
}

func TestResolve_NeverEscapes(t *testing.T) {
	root := filepath.Join(t.TempDir(), "share")
	segs := []string{"..", ".", "a", "b", "", "...", `..\`, "/"}
	// every combination of up to four segments
	var walk func(prefix []string, depth int)
	walk = func(prefix []string, depth int) {
		p := strings.Join(prefix, "/")
		got, err := Resolve(root, p)
		if err == nil {
			assert.True(t, Within(root, got), "path %q resolved to %q", p, got)
		} else {
			assert.ErrorIs(t, err, ErrPathEscape)
		}
		if depth == 0 {
			return
		}
		for _, s := range segs {
			walk(append(append([]string{}, prefix...), s), depth-1)
		}
	}
	walk(nil, 4)
}

func TestResolve_SiblingPrefixRejected(t *testing.T) {
	base := t.TempDir()
	root := filepath.Join(base, "alice")
	_, err := Resolve(root, "../alice2/secret")
	assert.ErrorIs(t, err, ErrPathEscape)
}

func TestResolve_NUL(t *testing.T) {
	_, err := Resolve(t.TempDir(), "a\x00b")
	assert.ErrorIs(t, err, ErrPathEscape)
}

func TestCleanRelPath(t *testing.T) {
	cases := map[string]string{
		"":         "",
		".":        "",
		"/":        "",
		"/a/b":     "a/b",
		"a//b":     "a/b",
		"../../x":  "x",
		`a\b\..\c`: "a/c",
		" docs ":   "docs",
	}
	for in, want := range cases {
		assert.Equal(t, want, CleanRelPath(in), "input %q", in)
	}
}

func TestSafeName(t *testing.T) {
	ok := map[string]string{
		"notes.txt":         "notes.txt",
		"../../evil.txt":    "evil.txt",
		`C:\Users\me\a.png`: "a.png",
		"dir/sub/file":      "file",
		".hidden":           ".hidden",
	}
	for in, want := range ok {
		got, err := SafeName(in)
		require.NoError(t, err, "input %q", in)
		assert.Equal(t, want, got)
	}
	for _, bad := range []string{"", " ", ".", "..", "/", "a/..", "x\x00y"} {
		_, err := SafeName(bad)
		assert.ErrorIs(t, err, ErrInvalidName, "input %q", bad)
	}
}

func TestParentRelAndJoinRel(t *testing.T) {
	assert.Equal(t, "", ParentRel(""))
	assert.Equal(t, "", ParentRel("a"))
	assert.Equal(t, "a", ParentRel("a/b"))
	assert.Equal(t, "a/b", ParentRel("/a/b/c/"))

	assert.Equal(t, "x", JoinRel("", "x"))
	assert.Equal(t, "a/x", JoinRel("/a/", "x"))
}
