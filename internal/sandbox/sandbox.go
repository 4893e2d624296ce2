package sandbox

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"regexp"

	"filebox/internal/fsutil"
)

const (
	DefaultSeedFile = "sample.txt"
	DefaultSeedText = "This is a sample file. Feel free to edit or delete it.\n"
)

// ErrInvalidUsername is returned for names that cannot map to a directory.
var ErrInvalidUsername = errors.New("invalid username")

var usernameRe = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9_.-]{0,63}$`)

// ValidUsername reports whether name is safe to use as a single directory
// component under the root.
func ValidUsername(name string) bool {
	return usernameRe.MatchString(name)
}

// Manager maps authenticated users to their exclusive subtree of Root.
type Manager struct {
	Root     string
	SeedFile string
	SeedText string
	Log      *slog.Logger
}

// For returns Root/username, creating and seeding it on first use.
func (m *Manager) For(username string) (string, error) {
	if !ValidUsername(username) {
		return "", fmt.Errorf("%w: %q", ErrInvalidUsername, username)
	}
	dir, err := fsutil.Resolve(m.Root, username)
	if err != nil || dir == filepath.Clean(m.Root) {
		return "", fmt.Errorf("%w: %q", ErrInvalidUsername, username)
	}

	st, err := os.Stat(dir)
	switch {
	case err == nil:
		if !st.IsDir() {
			return "", fmt.Errorf("sandbox %s: not a directory", dir)
		}
		return dir, nil
	case !errors.Is(err, fs.ErrNotExist):
		return "", fmt.Errorf("stat sandbox: %w", err)
	}

	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("create sandbox: %w", err)
	}
	if err := m.seed(dir); err != nil {
		return "", err
	}
	m.logger().Info("created sandbox", "user", username, "dir", dir)
	return dir, nil
}

func (m *Manager) seed(dir string) error {
	name := m.SeedFile
	if name == "" {
		name = DefaultSeedFile
	}
	text := m.SeedText
	if text == "" {
		text = DefaultSeedText
	}
	name, err := fsutil.SafeName(name)
	if err != nil {
		return fmt.Errorf("seed file name: %w", err)
	}
	f, err := os.OpenFile(filepath.Join(dir, name), os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o644)
	if err != nil {
		if errors.Is(err, fs.ErrExist) {
			return nil
		}
		return fmt.Errorf("seed sandbox: %w", err)
	}
	if _, err := f.WriteString(text); err != nil {
		_ = f.Close()
		return fmt.Errorf("seed sandbox: %w", err)
	}
	return f.Close()
}

func (m *Manager) logger() *slog.Logger {
	if m.Log != nil {
		return m.Log
	}
	return slog.Default()
}
