package auth

import (
	"fmt"
	"net/http"
	"os"

	"github.com/gorilla/securecookie"
	"github.com/gorilla/sessions"
)

const (
	sessionName = "filebox"
	keyUsername = "username"
)

// Sessions binds browser clients to usernames through a gorilla session
// store. The cookie only carries the session id when the store is a
// FilesystemStore.
type Sessions struct {
	store sessions.Store
}

func NewSessions(store sessions.Store) *Sessions {
	return &Sessions{store: store}
}

// NewFilesystemSessions keeps session state in dir, keyed by secret. An empty
// secret gets a random one.
func NewFilesystemSessions(dir string, secret []byte) (*Sessions, error) {
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return nil, fmt.Errorf("session dir: %w", err)
	}
	if len(secret) == 0 {
		secret = securecookie.GenerateRandomKey(32)
	}
	st := sessions.NewFilesystemStore(dir, secret)
	st.Options = &sessions.Options{
		Path:     "/",
		MaxAge:   7 * 24 * 3600,
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
	}
	return &Sessions{store: st}, nil
}

func (s *Sessions) get(r *http.Request) *sessions.Session {
	// a cookie that no longer decodes yields a fresh session
	sess, _ := s.store.Get(r, sessionName)
	return sess
}

// User returns the logged-in username or "".
func (s *Sessions) User(r *http.Request) string {
	v, _ := s.get(r).Values[keyUsername].(string)
	return v
}

// Login starts a fresh session for username. Any session the request
// already carries is erased from the store first.
func (s *Sessions) Login(w http.ResponseWriter, r *http.Request, username string) error {
	if old := s.get(r); !old.IsNew && old.ID != "" {
		old.Options.MaxAge = -1
		if err := old.Save(r, w); err != nil {
			return fmt.Errorf("erase old session: %w", err)
		}
	}
	// store.New bypasses the per-request registry, which still holds the
	// erased session
	sess, _ := s.store.New(r, sessionName)
	// new id on login so a pre-login session id cannot be reused
	sess.ID = ""
	sess.IsNew = true
	for k := range sess.Values {
		delete(sess.Values, k)
	}
	sess.Values[keyUsername] = username
	return sess.Save(r, w)
}

// Logout destroys the session.
func (s *Sessions) Logout(w http.ResponseWriter, r *http.Request) error {
	sess := s.get(r)
	delete(sess.Values, keyUsername)
	sess.Options.MaxAge = -1
	return sess.Save(r, w)
}

// Flash queues a one-shot notice for the next page render.
func (s *Sessions) Flash(w http.ResponseWriter, r *http.Request, msg string) {
	sess := s.get(r)
	sess.AddFlash(msg)
	_ = sess.Save(r, w)
}

// Flashes pops queued notices.
func (s *Sessions) Flashes(w http.ResponseWriter, r *http.Request) []string {
	sess := s.get(r)
	raw := sess.Flashes()
	if len(raw) == 0 {
		return nil
	}
	_ = sess.Save(r, w)
	out := make([]string, 0, len(raw))
	for _, v := range raw {
		if m, ok := v.(string); ok {
			out = append(out, m)
		}
	}
	return out
}
