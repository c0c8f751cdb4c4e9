// Package api exposes the HTTP control surface: stream lifecycle,
// pipeline progress, natural-language queries, clip downloads, and the
// websocket event feed.
package api

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"path/filepath"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"

	"github.com/motionmanjevin/inspectre/internal/capture"
	"github.com/motionmanjevin/inspectre/internal/events"
	"github.com/motionmanjevin/inspectre/internal/pipeline"
	"github.com/motionmanjevin/inspectre/internal/query"
	"github.com/motionmanjevin/inspectre/internal/store"
)

// Handler carries the dependencies of every endpoint.
type Handler struct {
	manager    *capture.Manager
	worker     *pipeline.Worker
	store      store.Store
	correlator *query.Correlator
	bus        *events.Broadcaster
	log        *slog.Logger
	clipDir    string
	upgrader   websocket.Upgrader
}

// NewHandler wires the API handler.
func NewHandler(manager *capture.Manager, worker *pipeline.Worker, s store.Store, correlator *query.Correlator, bus *events.Broadcaster, log *slog.Logger, clipDir string) *Handler {
	return &Handler{
		manager:    manager,
		worker:     worker,
		store:      s,
		correlator: correlator,
		bus:        bus,
		log:        log,
		clipDir:    clipDir,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(*http.Request) bool { return true },
		},
	}
}

// Routes mounts every endpoint on a fresh router.
func (h *Handler) Routes() chi.Router {
	r := chi.NewRouter()

	r.Route("/api", func(r chi.Router) {
		r.Post("/stream/start", h.startStream)
		r.Post("/stream/stop", h.stopStream)
		r.Get("/stream/status", h.streamStatus)
		r.Get("/progress", h.progress)
		r.Post("/query", h.runQuery)
		r.Post("/clear", h.clear)
		r.Get("/clips", h.listClips)
		r.Get("/video/{filename}", h.serveVideo)
	})
	r.Get("/ws", h.serveWS)
	r.Get("/healthz", h.health)

	return r
}

type startStreamRequest struct {
	CameraIndex     *int   `json:"camera_index"`
	StreamURL       string `json:"stream_url"`
	MotionThreshold int    `json:"motion_threshold"`
}

func (h *Handler) startStream(w http.ResponseWriter, r *http.Request) {
	var req startStreamRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}

	src := capture.SourceConfig{DeviceIndex: req.CameraIndex, StreamURL: strings.TrimSpace(req.StreamURL)}
	if err := h.manager.Start(src, req.MotionThreshold); err != nil {
		switch {
		case errors.Is(err, capture.ErrInvalidConfiguration):
			writeError(w, http.StatusBadRequest, err.Error())
		case errors.Is(err, capture.ErrSourceUnavailable):
			writeError(w, http.StatusBadRequest, err.Error())
		default:
			h.log.Error("starting stream", slog.Any("error", err))
			writeError(w, http.StatusInternalServerError, "failed to start stream")
		}
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"status": "success",
		"source": src.Label(),
	})
}

func (h *Handler) stopStream(w http.ResponseWriter, _ *http.Request) {
	h.manager.Stop()
	writeJSON(w, http.StatusOK, map[string]string{"status": "success"})
}

func (h *Handler) streamStatus(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, h.manager.Status())
}

func (h *Handler) progress(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, h.worker.Progress())
}

type queryRequest struct {
	Query string `json:"query"`
	TopK  int    `json:"top_k"`
}

func (h *Handler) runQuery(w http.ResponseWriter, r *http.Request) {
	var req queryRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if strings.TrimSpace(req.Query) == "" {
		writeError(w, http.StatusBadRequest, "query cannot be empty")
		return
	}

	res, err := h.correlator.Query(r.Context(), req.Query, req.TopK)
	if err != nil {
		h.log.Error("query failed", slog.Any("error", err))
		writeError(w, http.StatusBadGateway, "query processing failed")
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (h *Handler) clear(w http.ResponseWriter, r *http.Request) {
	if err := h.store.Clear(r.Context()); err != nil {
		h.log.Error("clearing store", slog.Any("error", err))
		writeError(w, http.StatusInternalServerError, "failed to clear analyses")
		return
	}
	h.worker.ResetProgress()
	writeJSON(w, http.StatusOK, map[string]string{"status": "success"})
}

func (h *Handler) listClips(w http.ResponseWriter, r *http.Request) {
	recs, err := h.store.GetAll(r.Context())
	if err != nil {
		h.log.Error("listing analyses", slog.Any("error", err))
		writeError(w, http.StatusInternalServerError, "failed to list analyses")
		return
	}
	if recs == nil {
		recs = []store.StoredRecord{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"clips": recs, "count": len(recs)})
}

// videoContentTypes maps clip extensions to their media type. Anything
// else is refused rather than served as octet-stream.
var videoContentTypes = map[string]string{
	".avi":  "video/x-msvideo",
	".mp4":  "video/mp4",
	".mov":  "video/quicktime",
	".webm": "video/webm",
}

func (h *Handler) serveVideo(w http.ResponseWriter, r *http.Request) {
	name := filepath.Base(chi.URLParam(r, "filename"))
	if name == "." || name == ".." || name == "/" {
		writeError(w, http.StatusBadRequest, "invalid file name")
		return
	}

	ctype, ok := videoContentTypes[strings.ToLower(filepath.Ext(name))]
	if !ok {
		writeError(w, http.StatusBadRequest, "unsupported video format")
		return
	}

	dir, err := filepath.Abs(h.clipDir)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "clip directory unavailable")
		return
	}
	path := filepath.Join(dir, name)
	if !strings.HasPrefix(path, dir+string(filepath.Separator)) {
		writeError(w, http.StatusForbidden, "access denied")
		return
	}

	w.Header().Set("Content-Type", ctype)
	http.ServeFile(w, r, path)
}

func (h *Handler) health(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
