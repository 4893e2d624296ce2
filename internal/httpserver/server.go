package httpserver

import (
	"embed"
	"errors"
	"html/template"
	"io/fs"
	"log/slog"
	"net/http"
	"strings"
	"sync"

	"golang.org/x/net/webdav"

	"filebox/internal/auth"
	"filebox/internal/config"
	"filebox/internal/files"
	"filebox/internal/sandbox"
	"filebox/internal/staging"
	"filebox/internal/users"
)

type Options struct {
	Config    config.Config
	Users     *users.Service
	Sessions  *auth.Sessions
	Sandboxes *sandbox.Manager
	Stage     *staging.Store
	Log       *slog.Logger
}

type Server struct {
	cfg       config.Config
	users     *users.Service
	sessions  *auth.Sessions
	sandboxes *sandbox.Manager
	stage     *staging.Store
	log       *slog.Logger

	pages map[string]*template.Template

	davMu    sync.Mutex
	davLocks map[string]webdav.LockSystem
}

//go:embed templates/*.html
var embeddedTemplates embed.FS

func New(opts Options) (*Server, error) {
	if opts.Users == nil || opts.Sessions == nil || opts.Sandboxes == nil || opts.Stage == nil {
		return nil, errors.New("httpserver: users, sessions, sandboxes and stage are required")
	}
	log := opts.Log
	if log == nil {
		log = slog.Default()
	}
	pages, err := parsePages(embeddedTemplates)
	if err != nil {
		return nil, err
	}
	return &Server{
		cfg:       opts.Config,
		users:     opts.Users,
		sessions:  opts.Sessions,
		sandboxes: opts.Sandboxes,
		stage:     opts.Stage,
		log:       log,
		pages:     pages,
		davLocks:  map[string]webdav.LockSystem{},
	}, nil
}

func parsePages(fsys fs.FS) (map[string]*template.Template, error) {
	out := map[string]*template.Template{}
	for _, page := range []string{"browse.html", "edit.html", "rename.html", "login.html"} {
		t, err := template.New(page).Funcs(templateFuncs).ParseFS(fsys, "templates/layout.html", "templates/"+page)
		if err != nil {
			return nil, err
		}
		out[page] = t
	}
	return out, nil
}

func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	// health
	mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		_, _ = w.Write([]byte("ok\n"))
	})

	// accounts
	mux.HandleFunc("GET /login", s.handleLoginForm)
	mux.HandleFunc("POST /login", s.handleLogin)
	mux.HandleFunc("GET /register", s.handleRegisterForm)
	mux.HandleFunc("POST /register", s.handleRegister)
	mux.HandleFunc("GET /logout", s.handleLogout)

	// file tree, session required
	mux.Handle("GET /{$}", s.require(s.handleBrowse))
	mux.Handle("GET /browse/{path...}", s.require(s.handleBrowse))
	mux.Handle("GET /download/{path...}", s.require(s.handleDownload))
	mux.Handle("GET /read/{path...}", s.require(s.handleReadForm))
	mux.Handle("POST /read/{path...}", s.require(s.handleWrite))
	mux.Handle("POST /upload", s.require(s.handleUpload))
	mux.Handle("POST /create_folder", s.require(s.handleCreateFolder))
	mux.Handle("POST /create_file", s.require(s.handleCreateFile))
	mux.Handle("GET /delete/{path...}", s.require(s.handleDelete))
	mux.Handle("GET /rename/{path...}", s.require(s.handleRenameForm))
	mux.Handle("POST /rename/{path...}", s.require(s.handleRename))

	if s.cfg.Features.Thumbnails {
		mux.Handle("GET /thumb/{path...}", s.require(s.handleThumb))
	}

	// WebDAV over the caller's sandbox; Basic auth since DAV clients have no session
	if s.cfg.Features.WebDAV {
		mux.Handle("/dav/", auth.BasicAuth(s.users, "filebox", noteUser(http.HandlerFunc(s.handleDAV))))
	}

	return s.logRequests(withHeaders(mux))
}

func (s *Server) require(h http.HandlerFunc) http.Handler {
	return auth.Require(s.sessions, noteUser(rejectCrossSite(h)))
}

// tree returns the file tree of the authenticated user.
func (s *Server) tree(r *http.Request) (*files.Tree, error) {
	user := auth.UserFromContext(r.Context())
	if user == "" {
		return nil, files.ErrForbidden
	}
	dir, err := s.sandboxes.For(user)
	if err != nil {
		return nil, err
	}
	return &files.Tree{Root: dir, AtomicWrites: s.cfg.Storage.AtomicWrites, Stage: s.stage}, nil
}

func (s *Server) handleDAV(w http.ResponseWriter, r *http.Request) {
	user := auth.UserFromContext(r.Context())
	dir, err := s.sandboxes.For(user)
	if err != nil {
		s.serverError(w, r, err)
		return
	}
	// same cap as browser uploads; refuse up front when the length is
	// declared so no partial file is left behind
	limit := s.cfg.Server.MaxUploadBytes
	if r.ContentLength > limit {
		http.Error(w, "request too large", http.StatusRequestEntityTooLarge)
		return
	}
	r.Body = http.MaxBytesReader(w, r.Body, limit)
	dav := &webdav.Handler{
		Prefix:     "/dav",
		FileSystem: webdav.Dir(dir),
		LockSystem: s.davLockSystem(user),
		Logger: func(req *http.Request, err error) {
			if err != nil {
				s.log.Debug("webdav", "method", req.Method, "path", req.URL.Path, "user", user, "error", err)
			}
		},
	}
	dav.ServeHTTP(w, r)
}

// davLockSystem returns the user's lock table. Lock names are sandbox-relative
// so tables cannot be shared between users.
func (s *Server) davLockSystem(user string) webdav.LockSystem {
	s.davMu.Lock()
	defer s.davMu.Unlock()
	ls, ok := s.davLocks[user]
	if !ok {
		ls = webdav.NewMemLS()
		s.davLocks[user] = ls
	}
	return ls
}

func withHeaders(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		// Basic hardening / UX.
		w.Header().Set("X-Content-Type-Options", "nosniff")
		w.Header().Set("X-Frame-Options", "DENY")
		w.Header().Set("Referrer-Policy", "same-origin")
		w.Header().Set("Cache-Control", "no-store")
		next.ServeHTTP(w, r)
	})
}

// rejectCrossSite refuses state-changing requests that a browser reports as
// coming from another site. /delete is a GET, so it is covered explicitly.
func rejectCrossSite(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		mutating := r.Method != http.MethodGet && r.Method != http.MethodHead
		if mutating || strings.HasPrefix(r.URL.Path, "/delete/") {
			if r.Header.Get("Sec-Fetch-Site") == "cross-site" {
				http.Error(w, "forbidden", http.StatusForbidden)
				return
			}
		}
		next(w, r)
	}
}
