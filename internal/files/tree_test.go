package files

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"filebox/internal/staging"
)

func newTree(t *testing.T, atomic bool) *Tree {
	t.Helper()
	stage, err := staging.New(t.TempDir())
	require.NoError(t, err)
	return &Tree{Root: t.TempDir(), AtomicWrites: atomic, Stage: stage}
}

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
}

func names(ents []Entry) []string {
	out := make([]string, 0, len(ents))
	for _, e := range ents {
		out = append(out, e.Name)
	}
	return out
}

func TestList_SortedInterleavedAndHidesDotfiles(t *testing.T) {
	ctx := context.Background()
	tr := newTree(t, true)
	writeFile(t, filepath.Join(tr.Root, "b.txt"), "b")
	writeFile(t, filepath.Join(tr.Root, "a", "inner.txt"), "x")
	writeFile(t, filepath.Join(tr.Root, "c", "inner.txt"), "x")
	writeFile(t, filepath.Join(tr.Root, ".secret"), "x")
	require.NoError(t, os.Mkdir(filepath.Join(tr.Root, ".git"), 0o755))

	ents, err := tr.List(ctx, "")
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b.txt", "c"}, names(ents))
	assert.True(t, ents[0].IsDir)
	assert.False(t, ents[1].IsDir)
	assert.Equal(t, int64(1), ents[1].Size)
}

func TestList_Errors(t *testing.T) {
	ctx := context.Background()
	tr := newTree(t, true)
	writeFile(t, filepath.Join(tr.Root, "f.txt"), "x")

	_, err := tr.List(ctx, "missing")
	assert.ErrorIs(t, err, ErrNotFound)
	_, err = tr.List(ctx, "f.txt")
	assert.ErrorIs(t, err, ErrNotDir)
	_, err = tr.List(ctx, "../")
	assert.ErrorIs(t, err, ErrForbidden)
}

func TestWriteRead_RoundTrip(t *testing.T) {
	for _, atomic := range []bool{true, false} {
		ctx := context.Background()
		tr := newTree(t, atomic)
		content := "line one\ndeéjà vu ✓\n"
		require.NoError(t, tr.Write(ctx, "notes.txt", content))
		got, err := tr.Read(ctx, "notes.txt")
		require.NoError(t, err)
		assert.Equal(t, content, got, "atomic=%v", atomic)

		require.NoError(t, tr.Write(ctx, "notes.txt", "short"))
		got, err = tr.Read(ctx, "notes.txt")
		require.NoError(t, err)
		assert.Equal(t, "short", got, "atomic=%v", atomic)
	}
}

func TestRead_InvalidUTF8IsReplaced(t *testing.T) {
	tr := newTree(t, true)
	writeFile(t, filepath.Join(tr.Root, "bin.dat"), "ok\xff\xfeok")
	got, err := tr.Read(context.Background(), "bin.dat")
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(got, "ok"))
	assert.True(t, strings.HasSuffix(got, "ok"))
	assert.Contains(t, got, "\uFFFD")
}

func TestRead_DirectoryIsNotFound(t *testing.T) {
	tr := newTree(t, true)
	require.NoError(t, os.Mkdir(filepath.Join(tr.Root, "d"), 0o755))
	_, err := tr.Read(context.Background(), "d")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestWrite_RejectsEscapeAndRoot(t *testing.T) {
	ctx := context.Background()
	tr := newTree(t, true)
	assert.ErrorIs(t, tr.Write(ctx, "../x.txt", "x"), ErrForbidden)
	assert.ErrorIs(t, tr.Write(ctx, "", "x"), ErrForbidden)
}

func TestCreateFolder_Idempotent(t *testing.T) {
	ctx := context.Background()
	tr := newTree(t, true)
	require.NoError(t, tr.CreateFolder(ctx, "a/b"))
	require.NoError(t, tr.CreateFolder(ctx, "a/b"))
	st, err := os.Stat(filepath.Join(tr.Root, "a", "b"))
	require.NoError(t, err)
	assert.True(t, st.IsDir())
}

func TestCreateFile_TwiceLeavesOriginal(t *testing.T) {
	ctx := context.Background()
	tr := newTree(t, true)
	require.NoError(t, tr.CreateFile(ctx, "todo.txt"))
	require.NoError(t, tr.Write(ctx, "todo.txt", "keep me"))

	err := tr.CreateFile(ctx, "todo.txt")
	assert.ErrorIs(t, err, ErrAlreadyExists)
	got, err := tr.Read(ctx, "todo.txt")
	require.NoError(t, err)
	assert.Equal(t, "keep me", got)
}

func TestDelete_DirectoryRecursive(t *testing.T) {
	ctx := context.Background()
	tr := newTree(t, true)
	writeFile(t, filepath.Join(tr.Root, "docs", "a.txt"), "a")
	writeFile(t, filepath.Join(tr.Root, "docs", "sub", "b.txt"), "b")
	writeFile(t, filepath.Join(tr.Root, "keep.txt"), "k")

	require.NoError(t, tr.Delete(ctx, "docs"))
	ents, err := tr.List(ctx, "")
	require.NoError(t, err)
	assert.Equal(t, []string{"keep.txt"}, names(ents))

	assert.ErrorIs(t, tr.Delete(ctx, "docs"), ErrNotFound)
	assert.ErrorIs(t, tr.Delete(ctx, ""), ErrForbidden)
	assert.ErrorIs(t, tr.Delete(ctx, "../"), ErrForbidden)
}

func TestDelete_UnremovableChildIsIOFailure(t *testing.T) {
	if os.Geteuid() == 0 {
		t.Skip("root ignores directory permissions")
	}
	ctx := context.Background()
	tr := newTree(t, true)
	locked := filepath.Join(tr.Root, "docs", "locked")
	writeFile(t, filepath.Join(locked, "f.txt"), "x")
	require.NoError(t, os.Chmod(locked, 0o500))
	t.Cleanup(func() { _ = os.Chmod(locked, 0o755) })

	err := tr.Delete(ctx, "docs")
	assert.ErrorIs(t, err, ErrIO)
	assert.NotErrorIs(t, err, ErrNotFound)
	assert.FileExists(t, filepath.Join(locked, "f.txt"))
}

func TestRename(t *testing.T) {
	ctx := context.Background()
	tr := newTree(t, true)
	writeFile(t, filepath.Join(tr.Root, "dir", "old.txt"), "data")
	writeFile(t, filepath.Join(tr.Root, "dir", "taken.txt"), "other")

	newRel, err := tr.Rename(ctx, "dir/old.txt", "new.txt")
	require.NoError(t, err)
	assert.Equal(t, "dir/new.txt", newRel)
	got, err := tr.Read(ctx, "dir/new.txt")
	require.NoError(t, err)
	assert.Equal(t, "data", got)

	_, err = tr.Rename(ctx, "dir/new.txt", "taken.txt")
	assert.ErrorIs(t, err, ErrAlreadyExists)

	// directory parts of the new name are dropped
	newRel, err = tr.Rename(ctx, "dir/new.txt", "../../../escaped.txt")
	require.NoError(t, err)
	assert.Equal(t, "dir/escaped.txt", newRel)

	_, err = tr.Rename(ctx, "dir/escaped.txt", "..")
	assert.ErrorIs(t, err, ErrForbidden)
	_, err = tr.Rename(ctx, "dir/missing.txt", "x.txt")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestOpen(t *testing.T) {
	ctx := context.Background()
	tr := newTree(t, true)
	writeFile(t, filepath.Join(tr.Root, "f.bin"), "12345")
	require.NoError(t, os.Mkdir(filepath.Join(tr.Root, "d"), 0o755))

	f, st, err := tr.Open(ctx, "f.bin")
	require.NoError(t, err)
	defer f.Close()
	assert.Equal(t, int64(5), st.Size())

	_, _, err = tr.Open(ctx, "d")
	assert.ErrorIs(t, err, ErrNotFound)
	_, _, err = tr.Open(ctx, "nope")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestUpload_TraversalNameStaysInTarget(t *testing.T) {
	ctx := context.Background()
	tr := newTree(t, true)
	require.NoError(t, tr.CreateFolder(ctx, "inbox"))

	up, err := tr.Upload(ctx, "inbox", "../../evil.txt", strings.NewReader("payload"))
	require.NoError(t, err)
	assert.Equal(t, "inbox/evil.txt", up.Rel)
	assert.Equal(t, int64(7), up.Size)

	b, err := os.ReadFile(filepath.Join(tr.Root, "inbox", "evil.txt"))
	require.NoError(t, err)
	assert.Equal(t, "payload", string(b))
	_, err = os.Stat(filepath.Join(filepath.Dir(tr.Root), "evil.txt"))
	assert.True(t, os.IsNotExist(err))
}

func TestUpload_Errors(t *testing.T) {
	ctx := context.Background()
	tr := newTree(t, true)
	writeFile(t, filepath.Join(tr.Root, "f.txt"), "x")
	require.NoError(t, tr.CreateFolder(ctx, "sub"))

	_, err := tr.Upload(ctx, "missing", "a.txt", strings.NewReader("x"))
	assert.ErrorIs(t, err, ErrNotFound)
	_, err = tr.Upload(ctx, "f.txt", "a.txt", strings.NewReader("x"))
	assert.ErrorIs(t, err, ErrNotDir)
	_, err = tr.Upload(ctx, "", "..", strings.NewReader("x"))
	assert.ErrorIs(t, err, ErrForbidden)
	_, err = tr.Upload(ctx, "", "sub", strings.NewReader("x"))
	assert.ErrorIs(t, err, ErrAlreadyExists)
	_, err = tr.Upload(ctx, "../..", "a.txt", strings.NewReader("x"))
	assert.ErrorIs(t, err, ErrForbidden)
}
