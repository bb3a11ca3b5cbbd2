package handlers

import (
	"fmt"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/newaysecurity/cctv-clocking/internal/facedb"
)

// maxUploadSize limits the total size of an employee photo upload.
const maxUploadSize = 32 << 20 // 32 MB

var nameCleaner = regexp.MustCompile(`[^a-zA-Z0-9 _-]`)

// EmployeesHandler manages the face template store through the dashboard.
type EmployeesHandler struct {
	db  *facedb.Database
	log *slog.Logger
}

// NewEmployeesHandler creates a new employees handler.
func NewEmployeesHandler(db *facedb.Database, log *slog.Logger) *EmployeesHandler {
	if log == nil {
		log = slog.Default()
	}
	return &EmployeesHandler{db: db, log: log}
}

// List returns all known identities with their template counts.
func (h *EmployeesHandler) List(w http.ResponseWriter, r *http.Request) {
	entries := h.db.Entries()
	if entries == nil {
		entries = []facedb.Info{}
	}
	respondJSON(w, http.StatusOK, map[string]any{
		"count":     len(entries),
		"employees": entries,
	})
}

// Create registers a new employee from uploaded reference photos. The
// multipart form carries a name field and one or more images files; the
// photos land in the employee's directory and the store reloads.
func (h *EmployeesHandler) Create(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseMultipartForm(maxUploadSize); err != nil {
		respondError(w, http.StatusBadRequest, "invalid multipart form")
		return
	}

	name := sanitizeName(r.FormValue("name"))
	if name == "" {
		respondError(w, http.StatusBadRequest, "name is required")
		return
	}

	files := r.MultipartForm.File["images"]
	if len(files) == 0 {
		respondError(w, http.StatusBadRequest, "at least one image is required")
		return
	}

	dir := filepath.Join(h.db.Dir(), name)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		respondError(w, http.StatusInternalServerError, "failed to create employee directory")
		return
	}

	saved := 0
	for i, header := range files {
		ext := strings.ToLower(filepath.Ext(header.Filename))
		switch ext {
		case ".jpg", ".jpeg", ".png":
		default:
			continue
		}

		if err := saveUpload(header, filepath.Join(dir, fmt.Sprintf("upload_%02d%s", i+1, ext))); err != nil {
			h.log.Warn("failed to save uploaded photo",
				"employee", sanitizeForLog(name), "error", err)
			continue
		}
		saved++
	}
	if saved == 0 {
		respondError(w, http.StatusBadRequest, "no usable images in upload")
		return
	}

	if _, err := h.db.LoadAll(r.Context()); err != nil {
		respondError(w, http.StatusInternalServerError, "failed to reload face templates")
		return
	}

	respondJSON(w, http.StatusCreated, map[string]any{
		"name":   name,
		"images": saved,
	})
}

// Delete removes an employee and their reference photos.
func (h *EmployeesHandler) Delete(w http.ResponseWriter, r *http.Request) {
	name := sanitizeName(chi.URLParam(r, "name"))
	if name == "" {
		respondError(w, http.StatusBadRequest, "invalid employee name")
		return
	}

	dir := filepath.Join(h.db.Dir(), name)
	if _, err := os.Stat(dir); os.IsNotExist(err) {
		respondError(w, http.StatusNotFound, "employee not found")
		return
	}

	if err := os.RemoveAll(dir); err != nil {
		respondError(w, http.StatusInternalServerError, "failed to remove employee directory")
		return
	}

	if _, err := h.db.LoadAll(r.Context()); err != nil {
		respondError(w, http.StatusInternalServerError, "failed to reload face templates")
		return
	}

	respondJSON(w, http.StatusOK, map[string]bool{"success": true})
}

// Photo serves one of an employee's reference photos from the faces
// directory, for the dashboard's employee gallery.
func (h *EmployeesHandler) Photo(w http.ResponseWriter, r *http.Request) {
	name := sanitizeName(chi.URLParam(r, "name"))
	file := filepath.Base(chi.URLParam(r, "file"))
	if name == "" || file == "." || file == string(filepath.Separator) {
		respondError(w, http.StatusBadRequest, "invalid photo path")
		return
	}

	path := filepath.Join(h.db.Dir(), name, file)
	if _, err := os.Stat(path); err != nil {
		respondError(w, http.StatusNotFound, "photo not found")
		return
	}
	http.ServeFile(w, r, path)
}

// sanitizeName reduces an employee name to a safe directory component.
func sanitizeName(name string) string {
	name = strings.TrimSpace(name)
	name = nameCleaner.ReplaceAllString(name, "")
	return strings.TrimSpace(name)
}

func saveUpload(header *multipart.FileHeader, dst string) error {
	src, err := header.Open()
	if err != nil {
		return fmt.Errorf("opening upload: %w", err)
	}
	defer src.Close()

	out, err := os.Create(dst)
	if err != nil {
		return fmt.Errorf("creating file: %w", err)
	}
	defer out.Close()

	if _, err := io.Copy(out, src); err != nil {
		return fmt.Errorf("writing file: %w", err)
	}
	return nil
}
