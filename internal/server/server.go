package server

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"mime"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"trackprobe/internal/analyzer"
	"trackprobe/internal/library"
	"trackprobe/internal/models"
	"trackprobe/internal/store"
)

// Tracks abstracts the track library for the HTTP handlers.
type Tracks interface {
	ListTracks(ctx context.Context) ([]models.Track, error)
	Track(ctx context.Context, id string) (*models.Track, error)
	Refresh(ctx context.Context, id string) (*models.Track, error)
}

// Details exposes the per-track data stored next to the track record.
type Details interface {
	People(ctx context.Context, trackID string) ([]models.Person, error)
	MediaStreams(ctx context.Context, trackID string) ([]models.MediaStream, error)
}

// Authorizer decides whether a request may use the API.
type Authorizer interface {
	Authorize(r *http.Request) (string, bool)
}

type serverHandler struct {
	tracks    Tracks
	details   Details
	authz     Authorizer
	audioRoot string
	logger    *log.Logger
}

// New creates the HTTP handler that exposes the track API. A nil
// Authorizer leaves the API open.
func New(tracks Tracks, details Details, authz Authorizer, audioRoot string, logger *log.Logger) http.Handler {
	if logger == nil {
		logger = log.Default()
	}

	cleanRoot := filepath.Clean(audioRoot)
	absRoot, err := filepath.Abs(cleanRoot)
	if err != nil {
		logger.Printf("warning: unable to resolve absolute audio root %q: %v", audioRoot, err)
		absRoot = cleanRoot
	}

	h := &serverHandler{
		tracks:    tracks,
		details:   details,
		authz:     authz,
		audioRoot: absRoot,
		logger:    logger,
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/health", h.handleHealth)
	mux.HandleFunc("/tracks", h.handleTracks)
	mux.HandleFunc("/tracks/{id}", h.handleTrack)
	mux.HandleFunc("/tracks/{id}/streams", h.handleStreams)
	mux.HandleFunc("/tracks/{id}/people", h.handlePeople)
	mux.HandleFunc("/tracks/{id}/refresh", h.handleRefresh)
	mux.HandleFunc("/audio/{id}", h.handleAudio)

	return logRequests(mux, logger)
}

func (h *serverHandler) handleHealth(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	h.writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (h *serverHandler) handleTracks(w http.ResponseWriter, r *http.Request) {
	if !h.allow(w, r, http.MethodGet) {
		return
	}

	tracks, err := h.tracks.ListTracks(r.Context())
	if err != nil {
		h.writeError(w, err)
		return
	}
	if tracks == nil {
		tracks = []models.Track{}
	}
	h.writeJSON(w, http.StatusOK, tracks)
}

func (h *serverHandler) handleTrack(w http.ResponseWriter, r *http.Request) {
	if !h.allow(w, r, http.MethodGet) {
		return
	}

	track, err := h.tracks.Track(r.Context(), r.PathValue("id"))
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, track)
}

func (h *serverHandler) handleStreams(w http.ResponseWriter, r *http.Request) {
	if !h.allow(w, r, http.MethodGet) {
		return
	}

	id := r.PathValue("id")
	if _, err := h.tracks.Track(r.Context(), id); err != nil {
		h.writeError(w, err)
		return
	}
	streams, err := h.details.MediaStreams(r.Context(), id)
	if err != nil {
		h.writeError(w, err)
		return
	}
	if streams == nil {
		streams = []models.MediaStream{}
	}
	h.writeJSON(w, http.StatusOK, streams)
}

func (h *serverHandler) handlePeople(w http.ResponseWriter, r *http.Request) {
	if !h.allow(w, r, http.MethodGet) {
		return
	}

	id := r.PathValue("id")
	if _, err := h.tracks.Track(r.Context(), id); err != nil {
		h.writeError(w, err)
		return
	}
	people, err := h.details.People(r.Context(), id)
	if err != nil {
		h.writeError(w, err)
		return
	}
	if people == nil {
		people = []models.Person{}
	}
	h.writeJSON(w, http.StatusOK, people)
}

func (h *serverHandler) handleRefresh(w http.ResponseWriter, r *http.Request) {
	if !h.allow(w, r, http.MethodPost) {
		return
	}

	track, err := h.tracks.Refresh(r.Context(), r.PathValue("id"))
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, track)
}

func (h *serverHandler) handleAudio(w http.ResponseWriter, r *http.Request) {
	if !h.allow(w, r, http.MethodGet, http.MethodHead) {
		return
	}

	track, err := h.tracks.Track(r.Context(), r.PathValue("id"))
	if err != nil {
		h.writeError(w, err)
		return
	}
	if track.IsShortcut || track.Protocol() != models.ProtocolFile {
		w.WriteHeader(http.StatusNotFound)
		return
	}

	resolved, err := filepath.Abs(track.Path)
	if err != nil {
		h.logger.Printf("failed to resolve audio path %s: %v", track.Path, err)
		w.WriteHeader(http.StatusInternalServerError)
		return
	}
	if !pathWithinRoot(h.audioRoot, resolved) {
		w.WriteHeader(http.StatusNotFound)
		return
	}

	info, err := os.Stat(resolved)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		h.logger.Printf("failed to stat audio file %s: %v", resolved, err)
		w.WriteHeader(http.StatusInternalServerError)
		return
	}
	if info.IsDir() {
		w.WriteHeader(http.StatusNotFound)
		return
	}

	w.Header().Set("Content-Type", mimeTypeForFilename(resolved))
	http.ServeFile(w, r, resolved)
}

// allow enforces the request method and the API token.
func (h *serverHandler) allow(w http.ResponseWriter, r *http.Request, methods ...string) bool {
	methodOK := false
	for _, method := range methods {
		if r.Method == method {
			methodOK = true
			break
		}
	}
	if !methodOK {
		w.Header().Set("Allow", strings.Join(methods, ", "))
		w.WriteHeader(http.StatusMethodNotAllowed)
		return false
	}

	if h.authz == nil {
		return true
	}
	if _, ok := h.authz.Authorize(r); !ok {
		w.WriteHeader(http.StatusUnauthorized)
		return false
	}
	return true
}

func (h *serverHandler) writeJSON(w http.ResponseWriter, status int, value any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(value); err != nil {
		h.logger.Printf("failed to encode response: %v", err)
	}
}

func (h *serverHandler) writeError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, store.ErrNotFound):
		status = http.StatusNotFound
	case errors.Is(err, library.ErrProbeInProgress):
		status = http.StatusConflict
	case errors.Is(err, analyzer.ErrAnalyzerFailure):
		status = http.StatusUnprocessableEntity
	case errors.Is(err, context.Canceled):
		// Client went away; nothing useful can be written.
		return
	}
	if status == http.StatusInternalServerError {
		h.logger.Printf("request failed: %v", err)
	}
	h.writeJSON(w, status, map[string]string{"error": err.Error()})
}

type statusWriter struct {
	http.ResponseWriter
	status int
	size   int
}

func (w *statusWriter) WriteHeader(code int) {
	w.status = code
	w.ResponseWriter.WriteHeader(code)
}

func (w *statusWriter) Write(b []byte) (int, error) {
	n, err := w.ResponseWriter.Write(b)
	w.size += n
	return n, err
}

func logRequests(next http.Handler, logger *log.Logger) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		sw := &statusWriter{ResponseWriter: w, status: http.StatusOK}
		start := time.Now()
		next.ServeHTTP(sw, r)
		duration := time.Since(start)
		logger.Printf("%s %s -> %d (%dB) in %s", r.Method, r.URL.Path, sw.status, sw.size, duration)
	})
}

func pathWithinRoot(root, target string) bool {
	rel, err := filepath.Rel(root, target)
	if err != nil {
		return false
	}
	rel = filepath.ToSlash(rel)
	return rel != ".." && !strings.HasPrefix(rel, "../")
}

func mimeTypeForFilename(name string) string {
	ext := strings.ToLower(filepath.Ext(name))
	if ext != "" {
		if fallback, ok := audioMIMETypes[ext]; ok {
			return fallback
		}
		if value := mime.TypeByExtension(ext); value != "" {
			return value
		}
	}
	return "application/octet-stream"
}

var audioMIMETypes = map[string]string{
	".mp3":  "audio/mpeg",
	".m4a":  "audio/mp4",
	".aac":  "audio/aac",
	".wav":  "audio/wav",
	".flac": "audio/flac",
	".ogg":  "audio/ogg",
	".opus": "audio/ogg",
	".wma":  "audio/x-ms-wma",
}
