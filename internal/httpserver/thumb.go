package httpserver

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"image"
	"image/jpeg"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strconv"

	// decoders
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"

	"golang.org/x/image/draw"
	_ "golang.org/x/image/webp"

	"filebox/internal/auth"
	"filebox/internal/fsutil"
)

const (
	thumbMax = 256
	// maxThumbSourcePixels bounds what makeThumb will decode; a small file
	// can declare a huge canvas.
	maxThumbSourcePixels = 50_000_000
)

var errImageTooLarge = errors.New("image too large to thumbnail")

// handleThumb serves a JPEG preview of an image in the caller's sandbox.
// Previews are cached under <state>/thumbs keyed by owner, path and mtime.
func (s *Server) handleThumb(w http.ResponseWriter, r *http.Request) {
	t, err := s.tree(r)
	if err != nil {
		s.serverError(w, r, err)
		return
	}
	raw := r.PathValue("path")
	abs, st, err := t.Stat(r.Context(), raw)
	if err != nil || !st.Mode().IsRegular() || !isImageName(st.Name()) {
		s.notFound(w, r)
		return
	}

	user := auth.UserFromContext(r.Context())
	key := thumbKey(user, fsutil.CleanRelPath(raw), st.ModTime().UnixNano(), st.Size())
	cacheDir := filepath.Join(s.cfg.Storage.StateDir, "thumbs")
	cachePath := filepath.Join(cacheDir, key+".jpg")

	data, err := os.ReadFile(cachePath)
	if err != nil {
		data, err = makeThumb(abs, thumbMax)
		if err != nil {
			s.log.Debug("thumbnail failed", "user", user, "path", raw, "error", err)
			s.notFound(w, r)
			return
		}
		if err := writeCache(cacheDir, cachePath, data); err != nil {
			s.log.Warn("thumbnail cache write failed", "error", err)
		}
	}

	w.Header().Set("Content-Type", "image/jpeg")
	w.Header().Set("Cache-Control", "private, max-age=3600")
	w.Header().Set("Content-Length", strconv.Itoa(len(data)))
	_, _ = w.Write(data)
}

func thumbKey(user, rel string, mtime, size int64) string {
	h := sha256.Sum256([]byte(fmt.Sprintf("%s\x00%s\x00%d\x00%d", user, rel, mtime, size)))
	return hex.EncodeToString(h[:])
}

func writeCache(dir, path string, data []byte) error {
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return err
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o600); err != nil {
		return err
	}
	if err := os.Rename(tmp, path); err != nil {
		_ = os.Remove(tmp)
		return err
	}
	return nil
}

func makeThumb(absPath string, max int) ([]byte, error) {
	f, err := os.Open(absPath)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	cfg, _, err := image.DecodeConfig(f)
	if err != nil {
		return nil, err
	}
	if cfg.Width <= 0 || cfg.Height <= 0 || int64(cfg.Width)*int64(cfg.Height) > maxThumbSourcePixels {
		return nil, errImageTooLarge
	}
	if _, err := f.Seek(0, io.SeekStart); err != nil {
		return nil, err
	}

	src, _, err := image.Decode(f)
	if err != nil {
		return nil, err
	}
	b := src.Bounds()
	w, h := b.Dx(), b.Dy()
	if w <= 0 || h <= 0 {
		return nil, os.ErrInvalid
	}
	if max <= 0 {
		max = thumbMax
	}

	nw, nh := w, h
	if w > h && w > max {
		nw = max
		nh = h * max / w
	} else if h >= w && h > max {
		nh = max
		nw = w * max / h
	}
	nw, nh = atLeastOne(nw), atLeastOne(nh)

	dst := image.NewRGBA(image.Rect(0, 0, nw, nh))
	draw.CatmullRom.Scale(dst, dst.Bounds(), src, b, draw.Over, nil)

	var out bytes.Buffer
	if err := jpeg.Encode(&out, dst, &jpeg.Options{Quality: 82}); err != nil {
		return nil, err
	}
	return out.Bytes(), nil
}

func atLeastOne(n int) int {
	if n < 1 {
		return 1
	}
	return n
}
