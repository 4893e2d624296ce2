package staging

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"hash"
	"io"
	"os"
	"path/filepath"

	"github.com/google/uuid"
)

// Store stages incoming bytes under <stateDir>/staging so that the final
// destination only ever sees a complete file.
type Store struct {
	dir string
}

// Staged is a fully written, fsynced temp file waiting to be committed.
type Staged struct {
	Path   string
	SHA256 string
	Size   int64
}

// New creates the staging area at <stateDir>/staging.
func New(stateDir string) (*Store, error) {
	dir := filepath.Join(stateDir, "staging")
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return nil, err
	}
	return &Store{dir: dir}, nil
}

func (s *Store) Dir() string { return s.dir }

// Put streams r into a new temp file, hashing as it goes.
func (s *Store) Put(ctx context.Context, r io.Reader) (Staged, error) {
	tmp := filepath.Join(s.dir, uuid.NewString()+".tmp")
	f, err := os.OpenFile(tmp, os.O_CREATE|os.O_WRONLY|os.O_EXCL, 0o644)
	if err != nil {
		return Staged{}, err
	}

	h := sha256.New()
	n, err := copyCtx(ctx, io.MultiWriter(f, h), r)
	if err == nil {
		err = f.Sync()
	}
	if cerr := f.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		_ = os.Remove(tmp)
		return Staged{}, err
	}
	return Staged{Path: tmp, SHA256: sum(h), Size: n}, nil
}

// Commit moves a staged file to dst, replacing whatever is there.
func (s *Store) Commit(st Staged, dst string) error {
	// move into place (atomic within filesystem)
	if err := os.Rename(st.Path, dst); err != nil {
		// If rename failed due to cross-device, copy+fsync.
		if err2 := copyFile(st.Path, dst); err2 != nil {
			_ = os.Remove(st.Path)
			return fmt.Errorf("commit staged file: rename=%v copy=%v", err, err2)
		}
		_ = os.Remove(st.Path)
	}
	return nil
}

// Discard drops a staged file that will not be committed.
func (s *Store) Discard(st Staged) {
	_ = os.Remove(st.Path)
}

func copyCtx(ctx context.Context, dst io.Writer, src io.Reader) (int64, error) {
	var n int64
	buf := make([]byte, 1024*1024)
	for {
		if ctx.Err() != nil {
			return n, ctx.Err()
		}
		rn, rerr := src.Read(buf)
		if rn > 0 {
			wn, werr := dst.Write(buf[:rn])
			n += int64(wn)
			if werr != nil {
				return n, werr
			}
		}
		if errors.Is(rerr, io.EOF) {
			return n, nil
		}
		if rerr != nil {
			return n, rerr
		}
	}
}

func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()
	out, err := os.OpenFile(dst, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
	if err != nil {
		return err
	}
	defer func() { _ = out.Close() }()
	if _, err := io.Copy(out, in); err != nil {
		return err
	}
	if err := out.Sync(); err != nil {
		return err
	}
	return out.Close()
}

func sum(h hash.Hash) string {
	return hex.EncodeToString(h.Sum(nil))
}
