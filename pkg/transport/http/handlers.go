package http

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"mime"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strings"

	"github.com/rhuss/atelier/pkg/api"
	"github.com/rhuss/atelier/pkg/debug"
	"github.com/rhuss/atelier/pkg/pathguard"
	"github.com/rhuss/atelier/pkg/spaces"
	"github.com/rhuss/atelier/pkg/transport"
)

// UploadTimeFormat is the timestamp layout in uploaded file names.
const UploadTimeFormat = "20060102_150405"

type uploadResponse struct {
	URL      string `json:"url"`
	Path     string `json:"path"`
	Filename string `json:"filename"`
}

// handleUpload handles POST /api/upload.
func (s *Server) handleUpload(w http.ResponseWriter, r *http.Request) {
	mediaType, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type"))
	if mediaType != "multipart/form-data" {
		transport.WriteAPIError(w, api.NewInvalidRequestError("content_type", "Content-Type must be multipart/form-data"))
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, s.cfg.MaxUploadBytes)
	file, header, err := r.FormFile("file")
	if errors.Is(err, http.ErrMissingFile) {
		transport.WriteAPIError(w, api.NewInvalidRequestError("file", "No file uploaded"))
		return
	}
	var tooLarge *http.MaxBytesError
	if errors.As(err, &tooLarge) {
		transport.WriteAPIError(w, api.NewInvalidRequestError("file", fmt.Sprintf("upload exceeds %d bytes", tooLarge.Limit)))
		return
	}
	if err != nil {
		transport.WriteAPIError(w, api.NewInvalidRequestError("file", "Invalid file: "+err.Error()))
		return
	}
	defer file.Close()

	original := filepath.Base(header.Filename)
	ext := filepath.Ext(original)
	stem := strings.TrimSuffix(original, ext)
	name := fmt.Sprintf("uploaded_%s_%s%s", stem, s.now().Format(UploadTimeFormat), ext)

	dst, err := s.storage.Resolve(name)
	if err != nil {
		transport.WriteAPIError(w, api.NewInvalidRequestError("file", "invalid file name"))
		return
	}
	if err := writeFile(dst, file); err != nil {
		slog.Error("upload failed", "file", name, "error", err.Error())
		transport.WriteAPIError(w, api.NewServerError("Upload failed: "+err.Error()))
		return
	}
	debug.Log("http", "file uploaded", "file", dst, "size", header.Size)

	rel := s.dirName + "/" + name
	transport.WriteJSON(w, http.StatusOK, uploadResponse{
		URL:      s.cfg.PublicURL + "/" + s.dirName + "/" + url.PathEscape(name),
		Path:     rel,
		Filename: header.Filename,
	})
}

func writeFile(path string, src io.Reader) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	if _, err := io.Copy(f, src); err != nil {
		f.Close()
		os.Remove(path)
		return err
	}
	return f.Close()
}

// decodeBody reads a JSON request body into v, writing a 400 on failure.
func decodeBody(w http.ResponseWriter, r *http.Request, v any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, maxJSONBody)
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		transport.WriteAPIError(w, api.NewInvalidRequestError("body", "invalid JSON body: "+err.Error()))
		return false
	}
	return true
}

// handleListSpaces handles GET /api/spaces.
func (s *Server) handleListSpaces(w http.ResponseWriter, r *http.Request) {
	list, err := s.spaces.List(r.Context())
	if err != nil {
		transport.WriteAPIError(w, api.NewServerError("Failed to list spaces: "+err.Error()))
		return
	}
	transport.WriteJSON(w, http.StatusOK, list)
}

// handleLoadSpace handles GET /api/spaces/load/{id}.
func (s *Server) handleLoadSpace(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	canvas, err := s.spaces.Load(r.Context(), id)
	if errors.Is(err, spaces.ErrNotFound) {
		transport.WriteAPIError(w, api.NewNotFoundError("Space not found: "+id))
		return
	}
	if err != nil {
		transport.WriteAPIError(w, api.NewServerError("Failed to load canvas: "+err.Error()))
		return
	}
	transport.WriteJSON(w, http.StatusOK, canvas)
}

// handleSaveSpace handles POST /api/spaces/save.
func (s *Server) handleSaveSpace(w http.ResponseWriter, r *http.Request) {
	var req struct {
		SpaceID string        `json:"space_id"`
		State   spaces.Canvas `json:"state"`
	}
	if !decodeBody(w, r, &req) {
		return
	}
	if req.SpaceID == "" {
		req.SpaceID = spaces.DefaultID
	}
	if req.State == nil {
		req.State = spaces.Canvas{}
	}

	if err := s.spaces.Save(r.Context(), req.SpaceID, req.State); err != nil {
		transport.WriteAPIError(w, api.NewServerError("Save failed: "+err.Error()))
		return
	}
	transport.WriteJSON(w, http.StatusOK, map[string]any{"success": true, "space_id": req.SpaceID})
}

// handleDeleteSpace handles POST /api/spaces/delete.
func (s *Server) handleDeleteSpace(w http.ResponseWriter, r *http.Request) {
	var req struct {
		SpaceID string `json:"space_id"`
	}
	if !decodeBody(w, r, &req) {
		return
	}
	if req.SpaceID == "" {
		transport.WriteAPIError(w, api.NewInvalidRequestError("space_id", "Missing space_id"))
		return
	}

	err := s.spaces.Delete(r.Context(), req.SpaceID)
	if errors.Is(err, spaces.ErrNotFound) {
		transport.WriteAPIError(w, api.NewNotFoundError("Space not found: "+req.SpaceID))
		return
	}
	if err != nil {
		transport.WriteAPIError(w, api.NewServerError("Delete failed: "+err.Error()))
		return
	}
	transport.WriteJSON(w, http.StatusOK, map[string]any{"success": true, "space_id": req.SpaceID})
}

// handleDeleteImage handles POST /api/spaces/delete-image.
func (s *Server) handleDeleteImage(w http.ResponseWriter, r *http.Request) {
	var req struct {
		SpaceID string `json:"space_id"`
		ImageID string `json:"image_id"`
	}
	if !decodeBody(w, r, &req) {
		return
	}
	if req.ImageID == "" {
		transport.WriteAPIError(w, api.NewInvalidRequestError("image_id", "Missing image_id"))
		return
	}
	if req.SpaceID == "" {
		req.SpaceID = spaces.DefaultID
	}

	err := s.spaces.DeleteNode(r.Context(), req.SpaceID, req.ImageID)
	switch {
	case errors.Is(err, spaces.ErrNotFound):
		transport.WriteAPIError(w, api.NewNotFoundError("Space not found: "+req.SpaceID))
		return
	case errors.Is(err, spaces.ErrNodeNotFound):
		transport.WriteAPIError(w, api.NewNotFoundError("Image not found: "+req.ImageID))
		return
	case err != nil:
		transport.WriteAPIError(w, api.NewServerError("Delete failed: "+err.Error()))
		return
	}
	transport.WriteJSON(w, http.StatusOK, map[string]any{
		"success":  true,
		"space_id": req.SpaceID,
		"image_id": req.ImageID,
	})
}

// handleMoveImage handles POST /api/spaces/move-image.
func (s *Server) handleMoveImage(w http.ResponseWriter, r *http.Request) {
	var req struct {
		SourcePath string `json:"source_path"`
		SpaceID    string `json:"space_id"`
	}
	if !decodeBody(w, r, &req) {
		return
	}
	if req.SourcePath == "" || req.SpaceID == "" {
		transport.WriteAPIError(w, api.NewInvalidRequestError("", "Missing source_path or space_id"))
		return
	}

	newPath, err := s.images.Move(req.SourcePath, req.SpaceID)
	switch {
	case errors.Is(err, fs.ErrNotExist):
		transport.WriteAPIError(w, api.NewNotFoundError("Source file not found: "+req.SourcePath))
		return
	case errors.Is(err, pathguard.ErrPermission):
		transport.WriteAPIError(w, api.NewInvalidRequestError("source_path", "source_path is outside the storage directory"))
		return
	case err != nil:
		transport.WriteAPIError(w, api.NewServerError("Move failed: "+err.Error()))
		return
	}
	transport.WriteJSON(w, http.StatusOK, map[string]any{
		"success":  true,
		"new_url":  s.storageURL(newPath),
		"new_path": newPath,
	})
}

// handleStorage serves regular files below the storage directory.
func (s *Server) handleStorage(w http.ResponseWriter, r *http.Request) {
	rel := strings.TrimPrefix(r.URL.Path, "/"+s.dirName+"/")
	abs, err := s.storage.Resolve(filepath.FromSlash(rel))
	if err != nil {
		debug.Log("http", "storage path rejected", "path", r.URL.Path, "error", err.Error())
		http.NotFound(w, r)
		return
	}
	info, err := os.Stat(abs)
	if err != nil || !info.Mode().IsRegular() {
		http.NotFound(w, r)
		return
	}
	http.ServeFile(w, r, abs)
}

// handleIndex serves the frontend entry page.
func (s *Server) handleIndex(w http.ResponseWriter, r *http.Request) {
	http.ServeFile(w, r, filepath.Join(s.cfg.FrontendDir, "index.html"))
}
