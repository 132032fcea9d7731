package intake

import (
	"encoding/json"
	"errors"
	"io/fs"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"
)

// HTTPHandler serves published artifacts from the output directory.
type HTTPHandler struct {
	audioDir string
	logger   *zap.Logger
	router   chi.Router
}

// NewHTTPHandler constructs the HTTP handler and wires routes.
func NewHTTPHandler(audioDir string, logger *zap.Logger) *HTTPHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	h := &HTTPHandler{
		audioDir: audioDir,
		logger:   logger,
	}
	h.buildRouter()
	return h
}

func (h *HTTPHandler) buildRouter() {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(2 * time.Minute))

	r.Get("/healthz", h.handleHealth)
	r.Get(AudioPathPrefix+"{filename}", h.handleAudio)
	r.Head(AudioPathPrefix+"{filename}", h.handleAudio)

	h.router = r
}

// Router exposes the configured chi router.
func (h *HTTPHandler) Router() http.Handler {
	return h.router
}

func (h *HTTPHandler) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{
		"status": "ok",
	})
}

func (h *HTTPHandler) handleAudio(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "filename")
	if !servableName(name) {
		writeError(w, http.StatusNotFound, "not found")
		return
	}

	f, err := os.Open(filepath.Join(h.audioDir, name))
	if err != nil {
		if !errors.Is(err, fs.ErrNotExist) {
			h.logger.Error("open artifact", zap.String("file", name), zap.Error(err))
		}
		writeError(w, http.StatusNotFound, "not found")
		return
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil || !info.Mode().IsRegular() {
		writeError(w, http.StatusNotFound, "not found")
		return
	}

	if strings.HasSuffix(name, ".mp3") {
		w.Header().Set("Content-Type", "audio/mpeg")
	}
	http.ServeContent(w, r, name, info.ModTime(), f)
}

// servableName rejects traversal, nested paths and hidden files, which
// includes in-flight temporaries.
func servableName(name string) bool {
	if name == "" || strings.HasPrefix(name, ".") {
		return false
	}
	if strings.ContainsAny(name, `/\`) || strings.Contains(name, "..") {
		return false
	}
	return filepath.Base(name) == name
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{
		"error": msg,
	})
}
