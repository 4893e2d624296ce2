package httpserver

import (
	"errors"
	"mime"
	"net/http"
	"strings"

	"filebox/internal/auth"
	"filebox/internal/files"
	"filebox/internal/fsutil"
)

type entryView struct {
	files.Entry
	Rel   string
	Image bool
}

type browsePage struct {
	User      string
	Path      string
	Parent    string
	HasParent bool
	Entries   []entryView
	Flashes   []string
	Thumbs    bool
}

func (s *Server) handleBrowse(w http.ResponseWriter, r *http.Request) {
	raw := r.PathValue("path")
	t, err := s.tree(r)
	if err != nil {
		s.serverError(w, r, err)
		return
	}
	ents, err := t.List(r.Context(), raw)
	if err != nil {
		s.fileError(w, r, err)
		return
	}
	rel := fsutil.CleanRelPath(raw)
	views := make([]entryView, 0, len(ents))
	for _, e := range ents {
		views = append(views, entryView{
			Entry: e,
			Rel:   fsutil.JoinRel(rel, e.Name),
			Image: !e.IsDir && isImageName(e.Name),
		})
	}
	s.render(w, r, "browse.html", browsePage{
		User:      auth.UserFromContext(r.Context()),
		Path:      rel,
		Parent:    fsutil.ParentRel(rel),
		HasParent: rel != "",
		Entries:   views,
		Flashes:   s.sessions.Flashes(w, r),
		Thumbs:    s.cfg.Features.Thumbnails,
	})
}

func (s *Server) handleDownload(w http.ResponseWriter, r *http.Request) {
	t, err := s.tree(r)
	if err != nil {
		s.serverError(w, r, err)
		return
	}
	f, st, err := t.Open(r.Context(), r.PathValue("path"))
	if err != nil {
		s.fileError(w, r, err)
		return
	}
	defer f.Close()

	if ct := contentTypeForName(st.Name()); ct != "" {
		w.Header().Set("Content-Type", ct)
	}
	w.Header().Set("Content-Disposition", mime.FormatMediaType("attachment", map[string]string{"filename": st.Name()}))
	http.ServeContent(w, r, st.Name(), st.ModTime(), f)
}

type editPage struct {
	User    string
	Path    string
	Parent  string
	Content string
	Flashes []string
}

func (s *Server) handleReadForm(w http.ResponseWriter, r *http.Request) {
	t, err := s.tree(r)
	if err != nil {
		s.serverError(w, r, err)
		return
	}
	raw := r.PathValue("path")
	content, err := t.Read(r.Context(), raw)
	if err != nil {
		s.fileError(w, r, err)
		return
	}
	rel := fsutil.CleanRelPath(raw)
	s.render(w, r, "edit.html", editPage{
		User:    auth.UserFromContext(r.Context()),
		Path:    rel,
		Parent:  fsutil.ParentRel(rel),
		Content: content,
		Flashes: s.sessions.Flashes(w, r),
	})
}

func (s *Server) handleWrite(w http.ResponseWriter, r *http.Request) {
	t, err := s.tree(r)
	if err != nil {
		s.serverError(w, r, err)
		return
	}
	r.Body = http.MaxBytesReader(w, r.Body, s.cfg.Server.MaxUploadBytes)
	if err := r.ParseForm(); err != nil {
		s.formError(w, r, err)
		return
	}
	raw := r.PathValue("path")
	rel := fsutil.CleanRelPath(raw)
	// only existing files are editable; creation goes through create_file
	if _, st, err := t.Stat(r.Context(), raw); err != nil || !st.Mode().IsRegular() {
		s.notFound(w, r)
		return
	}
	if err := t.Write(r.Context(), raw, r.PostFormValue("content")); err != nil {
		s.notice(w, r, "Could not save "+rel+": "+describe(err), browseURL(fsutil.ParentRel(rel)))
		return
	}
	s.log.Info("file saved", "user", auth.UserFromContext(r.Context()), "path", rel)
	s.notice(w, r, "Saved "+rel, readURL(rel))
}

func (s *Server) handleUpload(w http.ResponseWriter, r *http.Request) {
	t, err := s.tree(r)
	if err != nil {
		s.serverError(w, r, err)
		return
	}
	r.Body = http.MaxBytesReader(w, r.Body, s.cfg.Server.MaxUploadBytes)
	if err := r.ParseMultipartForm(32 << 20); err != nil {
		s.formError(w, r, err)
		return
	}
	defer func() { _ = r.MultipartForm.RemoveAll() }()

	dir := r.FormValue("path")
	back := browseURL(fsutil.CleanRelPath(dir))
	src, fh, err := r.FormFile("file")
	if err != nil {
		s.notice(w, r, "No file selected", back)
		return
	}
	defer src.Close()
	if fh.Filename == "" {
		s.notice(w, r, "No file selected", back)
		return
	}

	up, err := t.Upload(r.Context(), dir, fh.Filename, src)
	if err != nil {
		s.notice(w, r, "Upload failed: "+describe(err), back)
		return
	}
	s.log.Info("file uploaded", "user", auth.UserFromContext(r.Context()), "path", up.Rel, "size", up.Size, "sha256", up.SHA256)
	s.notice(w, r, "Uploaded "+up.Rel, back)
}

// targetIn validates the (path, name) fields used by the create forms and
// returns the new entry's logical path.
func (s *Server) targetIn(t *files.Tree, r *http.Request) (rel, back string, err error) {
	dir := r.FormValue("path")
	back = browseURL(fsutil.CleanRelPath(dir))
	if _, st, err := t.Stat(r.Context(), dir); err != nil {
		return "", back, err
	} else if !st.IsDir() {
		return "", back, files.ErrNotDir
	}
	name := strings.TrimSpace(r.FormValue("name"))
	clean, err := fsutil.SafeName(name)
	if err != nil || clean != name {
		return "", back, errInvalidName
	}
	return fsutil.JoinRel(dir, clean), back, nil
}

var errInvalidName = errors.New("names may not be empty or contain slashes")

func (s *Server) handleCreateFolder(w http.ResponseWriter, r *http.Request) {
	t, err := s.tree(r)
	if err != nil {
		s.serverError(w, r, err)
		return
	}
	rel, back, err := s.targetIn(t, r)
	if err != nil {
		s.notice(w, r, "Could not create folder: "+describe(err), back)
		return
	}
	if err := t.CreateFolder(r.Context(), rel); err != nil {
		s.notice(w, r, "Could not create folder: "+describe(err), back)
		return
	}
	s.notice(w, r, "Created folder "+rel, back)
}

func (s *Server) handleCreateFile(w http.ResponseWriter, r *http.Request) {
	t, err := s.tree(r)
	if err != nil {
		s.serverError(w, r, err)
		return
	}
	rel, back, err := s.targetIn(t, r)
	if err != nil {
		s.notice(w, r, "Could not create file: "+describe(err), back)
		return
	}
	if err := t.CreateFile(r.Context(), rel); err != nil {
		if errors.Is(err, files.ErrAlreadyExists) {
			s.notice(w, r, "File already exists: "+rel, back)
			return
		}
		s.notice(w, r, "Could not create file: "+describe(err), back)
		return
	}
	s.notice(w, r, "Created file "+rel, back)
}

func (s *Server) handleDelete(w http.ResponseWriter, r *http.Request) {
	t, err := s.tree(r)
	if err != nil {
		s.serverError(w, r, err)
		return
	}
	raw := r.PathValue("path")
	rel := fsutil.CleanRelPath(raw)
	back := browseURL(fsutil.ParentRel(rel))
	if err := t.Delete(r.Context(), raw); err != nil {
		if errors.Is(err, files.ErrNotFound) || errors.Is(err, files.ErrForbidden) {
			s.notFound(w, r)
			return
		}
		s.log.Warn("delete failed", "user", auth.UserFromContext(r.Context()), "path", rel, "error", err)
		s.notice(w, r, "Error deleting "+rel+": "+describe(err), back)
		return
	}
	s.log.Info("deleted", "user", auth.UserFromContext(r.Context()), "path", rel)
	s.notice(w, r, "Deleted "+rel, back)
}

type renamePage struct {
	User    string
	Path    string
	Parent  string
	Name    string
	Flashes []string
}

func (s *Server) handleRenameForm(w http.ResponseWriter, r *http.Request) {
	t, err := s.tree(r)
	if err != nil {
		s.serverError(w, r, err)
		return
	}
	raw := r.PathValue("path")
	rel := fsutil.CleanRelPath(raw)
	if _, _, err := t.Stat(r.Context(), raw); err != nil || rel == "" {
		s.notFound(w, r)
		return
	}
	s.render(w, r, "rename.html", renamePage{
		User:    auth.UserFromContext(r.Context()),
		Path:    rel,
		Parent:  fsutil.ParentRel(rel),
		Name:    baseName(rel),
		Flashes: s.sessions.Flashes(w, r),
	})
}

func (s *Server) handleRename(w http.ResponseWriter, r *http.Request) {
	t, err := s.tree(r)
	if err != nil {
		s.serverError(w, r, err)
		return
	}
	raw := r.PathValue("path")
	rel := fsutil.CleanRelPath(raw)
	back := browseURL(fsutil.ParentRel(rel))
	newName := strings.TrimSpace(r.FormValue("new_name"))
	if clean, err := fsutil.SafeName(newName); err != nil || clean != newName {
		s.notice(w, r, "Could not rename: "+errInvalidName.Error(), renameURL(rel))
		return
	}
	newRel, err := t.Rename(r.Context(), raw, newName)
	if err != nil {
		if errors.Is(err, files.ErrNotFound) {
			s.notFound(w, r)
			return
		}
		s.notice(w, r, "Could not rename "+rel+": "+describe(err), back)
		return
	}
	s.log.Info("renamed", "user", auth.UserFromContext(r.Context()), "from", rel, "to", newRel)
	s.notice(w, r, "Renamed to "+newRel, back)
}

func baseName(rel string) string {
	if i := strings.LastIndexByte(rel, '/'); i >= 0 {
		return rel[i+1:]
	}
	return rel
}
