package staging

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPutCommit(t *testing.T) {
	state := t.TempDir()
	s, err := New(state)
	require.NoError(t, err)

	st, err := s.Put(context.Background(), strings.NewReader("hello world"))
	require.NoError(t, err)
	assert.Equal(t, int64(11), st.Size)
	want := sha256.Sum256([]byte("hello world"))
	assert.Equal(t, hex.EncodeToString(want[:]), st.SHA256)
	assert.Equal(t, s.Dir(), filepath.Dir(st.Path))

	dst := filepath.Join(t.TempDir(), "out.txt")
	require.NoError(t, os.WriteFile(dst, []byte("old contents"), 0o644))
	require.NoError(t, s.Commit(st, dst))

	b, err := os.ReadFile(dst)
	require.NoError(t, err)
	assert.Equal(t, "hello world", string(b))
	_, err = os.Stat(st.Path)
	assert.True(t, os.IsNotExist(err), "staged file should be gone")
}

func TestPut_CanceledContext(t *testing.T) {
	s, err := New(t.TempDir())
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = s.Put(ctx, strings.NewReader("data"))
	require.ErrorIs(t, err, context.Canceled)

	ents, err := os.ReadDir(s.Dir())
	require.NoError(t, err)
	assert.Empty(t, ents, "failed puts must not leave temp files")
}

func TestDiscard(t *testing.T) {
	s, err := New(t.TempDir())
	require.NoError(t, err)
	st, err := s.Put(context.Background(), strings.NewReader("x"))
	require.NoError(t, err)
	s.Discard(st)
	_, err = os.Stat(st.Path)
	assert.True(t, os.IsNotExist(err))
}
