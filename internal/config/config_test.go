package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func clearEnv(t *testing.T) {
	t.Helper()
	t.Setenv("PORT", "")
	os.Unsetenv("PORT")
}

func TestLoad_Defaults(t *testing.T) {
	clearEnv(t)
	root := t.TempDir()
	t.Setenv("FILEBOX_STORAGE_ROOT", root)

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, DefaultHost, cfg.Server.Host)
	assert.Equal(t, DefaultPort, cfg.Server.Port)
	assert.Equal(t, int64(DefaultMaxUploadBytes), cfg.Server.MaxUploadBytes)
	assert.Equal(t, DefaultShutdown, cfg.Server.ShutdownTimeout)
	assert.Equal(t, root, cfg.Storage.Root)
	assert.Equal(t, filepath.Join(root, ".filebox"), cfg.Storage.StateDir)
	assert.True(t, cfg.Storage.AtomicWrites)
	assert.Equal(t, "json", cfg.Users.Backend)
	assert.Equal(t, "INFO", cfg.Logging.Level)
	assert.True(t, cfg.Features.WebDAV)
	assert.Equal(t, "0.0.0.0:8080", cfg.Addr())
}

func TestLoad_PortFromEnv(t *testing.T) {
	t.Setenv("FILEBOX_STORAGE_ROOT", t.TempDir())
	t.Setenv("PORT", "9090")

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, 9090, cfg.Server.Port)
}

func TestLoad_File(t *testing.T) {
	clearEnv(t)
	dir := t.TempDir()
	path := filepath.Join(dir, "filebox.yaml")
	content := `
server:
  port: 3000
  shutdown_timeout: 2s
storage:
  root: ` + filepath.Join(dir, "data") + `
  atomic_writes: false
users:
  backend: BADGER
logging:
  level: debug
  format: json
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, 3000, cfg.Server.Port)
	assert.Equal(t, 2*time.Second, cfg.Server.ShutdownTimeout)
	assert.False(t, cfg.Storage.AtomicWrites)
	assert.Equal(t, "badger", cfg.Users.Backend)
	assert.Equal(t, "DEBUG", cfg.Logging.Level)
	assert.Equal(t, "json", cfg.Logging.Format)
}

func TestLoad_Invalid(t *testing.T) {
	clearEnv(t)
	dir := t.TempDir()
	path := filepath.Join(dir, "bad.yaml")
	require.NoError(t, os.WriteFile(path, []byte("users:\n  backend: etcd\n"), 0o644))
	t.Setenv("FILEBOX_STORAGE_ROOT", dir)

	_, err := Load(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "Backend")
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	assert.Error(t, err)
}

func TestLoad_WithValueOverridesEnv(t *testing.T) {
	clearEnv(t)
	t.Setenv("FILEBOX_STORAGE_ROOT", t.TempDir())
	root := t.TempDir()

	cfg, err := Load("", WithValue("storage.root", root))
	require.NoError(t, err)
	assert.Equal(t, root, cfg.Storage.Root)
	assert.Equal(t, filepath.Join(root, ".filebox"), cfg.Storage.StateDir)
}
