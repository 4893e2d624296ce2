package httpserver

import (
	"errors"
	"net/http"
	"net/url"
	"strings"

	"filebox/internal/users"
)

type loginPage struct {
	Mode     string // "login" or "register"
	User     string
	Next     string
	Username string
	Flashes  []string
}

// safeNext keeps post-login redirects on this site.
func safeNext(next string) string {
	if !strings.HasPrefix(next, "/") || strings.HasPrefix(next, "//") || strings.Contains(next, "\\") {
		return "/"
	}
	return next
}

func (s *Server) handleLoginForm(w http.ResponseWriter, r *http.Request) {
	s.accountForm(w, r, "login")
}

func (s *Server) handleRegisterForm(w http.ResponseWriter, r *http.Request) {
	s.accountForm(w, r, "register")
}

func (s *Server) accountForm(w http.ResponseWriter, r *http.Request, mode string) {
	if s.sessions.User(r) != "" {
		http.Redirect(w, r, "/", http.StatusSeeOther)
		return
	}
	s.render(w, r, "login.html", loginPage{
		Mode:    mode,
		Next:    safeNext(r.URL.Query().Get("next")),
		Flashes: s.sessions.Flashes(w, r),
	})
}

func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		http.Error(w, "bad request", http.StatusBadRequest)
		return
	}
	username := strings.TrimSpace(r.PostFormValue("username"))
	password := r.PostFormValue("password")
	next := safeNext(r.PostFormValue("next"))

	if err := s.users.Authenticate(r.Context(), username, password); err != nil {
		if !errors.Is(err, users.ErrInvalidCredentials) {
			s.serverError(w, r, err)
			return
		}
		s.log.Info("login failed", "user", username, "remote", r.RemoteAddr)
		s.sessions.Flash(w, r, "Invalid username or password")
		http.Redirect(w, r, "/login?next="+url.QueryEscape(next), http.StatusSeeOther)
		return
	}
	if err := s.sessions.Login(w, r, username); err != nil {
		s.serverError(w, r, err)
		return
	}
	s.log.Info("login", "user", username, "remote", r.RemoteAddr)
	http.Redirect(w, r, next, http.StatusSeeOther)
}

func (s *Server) handleRegister(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		http.Error(w, "bad request", http.StatusBadRequest)
		return
	}
	username := strings.TrimSpace(r.PostFormValue("username"))
	password := r.PostFormValue("password")

	err := s.users.Register(r.Context(), username, password)
	switch {
	case err == nil:
	case errors.Is(err, users.ErrDuplicateUser):
		s.notice(w, r, "Username already exists", "/register")
		return
	case errors.Is(err, users.ErrInvalidUsername):
		s.notice(w, r, "Usernames are 1-64 letters, digits, '.', '_' or '-' and start with a letter or digit", "/register")
		return
	case errors.Is(err, users.ErrEmptyPassword):
		s.notice(w, r, "A password is required", "/register")
		return
	case errors.Is(err, users.ErrPasswordTooLong):
		s.notice(w, r, "Passwords may be at most 72 bytes", "/register")
		return
	default:
		s.serverError(w, r, err)
		return
	}

	// build the sandbox now so a broken storage root shows up at sign-up
	if _, err := s.sandboxes.For(username); err != nil {
		s.serverError(w, r, err)
		return
	}
	if err := s.sessions.Login(w, r, username); err != nil {
		s.serverError(w, r, err)
		return
	}
	s.log.Info("registered", "user", username, "remote", r.RemoteAddr)
	http.Redirect(w, r, "/", http.StatusSeeOther)
}

func (s *Server) handleLogout(w http.ResponseWriter, r *http.Request) {
	user := s.sessions.User(r)
	if err := s.sessions.Logout(w, r); err != nil {
		s.serverError(w, r, err)
		return
	}
	if user != "" {
		s.log.Info("logout", "user", user)
	}
	http.Redirect(w, r, "/login", http.StatusSeeOther)
}
