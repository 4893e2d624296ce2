package httpserver

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"html/template"
	"mime"
	"net/http"
	"net/url"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"

	"filebox/internal/auth"
	"filebox/internal/files"
	"filebox/internal/fsutil"
	"filebox/internal/users"
)

var templateFuncs = template.FuncMap{
	"browseURL":   browseURL,
	"downloadURL": func(rel string) string { return "/download/" + escapePath(rel) },
	"readURL":     readURL,
	"deleteURL":   func(rel string) string { return "/delete/" + escapePath(rel) },
	"renameURL":   renameURL,
	"thumbURL":    func(rel string) string { return "/thumb/" + escapePath(rel) },
	"humanSize":   humanSize,
}

func browseURL(rel string) string {
	if rel == "" {
		return "/browse/"
	}
	return "/browse/" + escapePath(rel)
}

func readURL(rel string) string   { return "/read/" + escapePath(rel) }
func renameURL(rel string) string { return "/rename/" + escapePath(rel) }

// escapePath escapes each segment of a logical path, keeping the slashes.
func escapePath(rel string) string {
	segs := strings.Split(fsutil.CleanRelPath(rel), "/")
	for i, s := range segs {
		segs[i] = url.PathEscape(s)
	}
	return strings.Join(segs, "/")
}

func humanSize(n int64) string {
	const unit = 1024
	if n < unit {
		return fmt.Sprintf("%d B", n)
	}
	div, exp := int64(unit), 0
	for v := n / unit; v >= unit; v /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f %ciB", float64(n)/float64(div), "KMGTPE"[exp])
}

func (s *Server) render(w http.ResponseWriter, r *http.Request, page string, data any) {
	t, ok := s.pages[page]
	if !ok {
		s.serverError(w, r, fmt.Errorf("unknown page %q", page))
		return
	}
	// render to a buffer so a template error does not leave a half page
	var buf bytes.Buffer
	if err := t.ExecuteTemplate(&buf, "layout", data); err != nil {
		s.serverError(w, r, err)
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	_, _ = buf.WriteTo(w)
}

// notice flashes msg and redirects to target.
func (s *Server) notice(w http.ResponseWriter, r *http.Request, msg, target string) {
	s.sessions.Flash(w, r, msg)
	http.Redirect(w, r, target, http.StatusSeeOther)
}

func (s *Server) notFound(w http.ResponseWriter, r *http.Request) {
	http.Error(w, "not found", http.StatusNotFound)
}

// fileError answers a failed read-side tree operation. Paths outside the
// sandbox are reported exactly like missing ones.
func (s *Server) fileError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, files.ErrNotFound), errors.Is(err, files.ErrForbidden), errors.Is(err, files.ErrNotDir):
		s.notFound(w, r)
	default:
		s.serverError(w, r, err)
	}
}

func (s *Server) formError(w http.ResponseWriter, r *http.Request, err error) {
	var tooBig *http.MaxBytesError
	if errors.As(err, &tooBig) || strings.Contains(err.Error(), "request body too large") {
		http.Error(w, "request too large", http.StatusRequestEntityTooLarge)
		return
	}
	http.Error(w, "bad request", http.StatusBadRequest)
}

func (s *Server) serverError(w http.ResponseWriter, r *http.Request, err error) {
	s.log.Error("request failed", "method", r.Method, "path", r.URL.Path, "error", err)
	http.Error(w, "internal error", http.StatusInternalServerError)
}

// describe turns a tree error into a short user-facing reason.
func describe(err error) string {
	switch {
	case errors.Is(err, files.ErrAlreadyExists):
		return "already exists"
	case errors.Is(err, files.ErrNotFound), errors.Is(err, files.ErrForbidden):
		return "not found"
	case errors.Is(err, files.ErrNotDir):
		return "not a directory"
	case errors.Is(err, fsutil.ErrInvalidName), errors.Is(err, errInvalidName):
		return errInvalidName.Error()
	case errors.Is(err, users.ErrDuplicateUser):
		return "username already taken"
	default:
		return "unexpected error"
	}
}

type statusRecorder struct {
	http.ResponseWriter
	status int
	bytes  int64
}

func (r *statusRecorder) WriteHeader(code int) {
	if r.status == 0 {
		r.status = code
	}
	r.ResponseWriter.WriteHeader(code)
}

func (r *statusRecorder) Write(b []byte) (int, error) {
	if r.status == 0 {
		r.status = http.StatusOK
	}
	n, err := r.ResponseWriter.Write(b)
	r.bytes += int64(n)
	return n, err
}

// Unwrap lets http.ResponseController reach the underlying writer.
func (r *statusRecorder) Unwrap() http.ResponseWriter { return r.ResponseWriter }

// requestInfo is filled in by inner handlers for the access log line.
type requestInfo struct {
	user string
}

type requestInfoKey struct{}

// noteUser records the authenticated user for logRequests.
func noteUser(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if info, ok := r.Context().Value(requestInfoKey{}).(*requestInfo); ok {
			info.user = auth.UserFromContext(r.Context())
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		id := uuid.NewString()
		w.Header().Set("X-Request-Id", id)
		info := &requestInfo{}
		r = r.WithContext(context.WithValue(r.Context(), requestInfoKey{}, info))
		rec := &statusRecorder{ResponseWriter: w}
		next.ServeHTTP(rec, r)
		if rec.status == 0 {
			rec.status = http.StatusOK
		}
		s.log.Info("http",
			"id", id,
			"method", r.Method,
			"path", r.URL.Path,
			"status", rec.status,
			"bytes", rec.bytes,
			"dur", time.Since(start).Round(time.Microsecond),
			"user", info.user,
			"remote", r.RemoteAddr,
		)
	})
}

func isImageName(name string) bool {
	switch strings.ToLower(filepath.Ext(name)) {
	case ".jpg", ".jpeg", ".png", ".gif", ".webp":
		return true
	default:
		return false
	}
}

func contentTypeForName(name string) string {
	ext := strings.ToLower(filepath.Ext(name))
	if ext == "" {
		return ""
	}
	if ct := mime.TypeByExtension(ext); ct != "" {
		return ct
	}
	// Fallbacks for systems with sparse mime tables.
	switch ext {
	case ".jpg", ".jpeg":
		return "image/jpeg"
	case ".png":
		return "image/png"
	case ".gif":
		return "image/gif"
	case ".webp":
		return "image/webp"
	case ".txt", ".log", ".md":
		return "text/plain; charset=utf-8"
	case ".pdf":
		return "application/pdf"
	default:
		return ""
	}
}
