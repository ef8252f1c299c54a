// Package httpapi exposes the pipeline over plain net/http, in the
// teacher's main.go style: a handful of http.HandleFunc routes backed by
// closures over process-wide state, no router framework.
//
// Grounded on the teacher's main.go (/playlist.m3u, /stream/ routes) and
// stream_handler.go's status-code-driven response handling, generalized
// from relayed upstream responses to cache-backed segment bytes. Segments
// are always served whole; Range requests are not honored.
package httpapi

import (
	"encoding/json"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"timeshift-radio/logger"
	"timeshift-radio/playlistgen"
	"timeshift-radio/supervisor"
)

// Handler wires HTTP routes to a running Supervisor.
type Handler struct {
	sup *supervisor.Supervisor
	cfg RequestDefaults
	log logger.Logger
}

// RequestDefaults supplies the values /api/playlist falls back to when a
// query parameter is absent.
type RequestDefaults struct {
	WindowCount int
	TimeShift   time.Duration
	BaseURL     string
}

// New builds a Handler over sup.
func New(sup *supervisor.Supervisor, defaults RequestDefaults) *Handler {
	return &Handler{sup: sup, cfg: defaults, log: logger.Named("httpapi")}
}

// Register attaches every route to mux.
func (h *Handler) Register(mux *http.ServeMux) {
	mux.HandleFunc("/stream.m3u8", h.handleStreamPlaylist)
	mux.HandleFunc("/stream/segment/", h.handleSegment)
	mux.HandleFunc("/stream/unavailable.ts", h.handleUnavailable)
	mux.HandleFunc("/api/playlist", h.handleAPIPlaylist)
	mux.HandleFunc("/api/status", h.handleStatus)
	mux.Handle("/metrics", promhttp.HandlerFor(h.sup.Metrics().Registry(), promhttp.HandlerOpts{}))
}

func (h *Handler) handleStreamPlaylist(w http.ResponseWriter, r *http.Request) {
	playlist := h.sup.Generator().Render(playlistgen.Request{
		WindowCount: h.cfg.WindowCount,
		TimeShift:   h.cfg.TimeShift,
		BaseURL:     h.cfg.BaseURL,
	})

	w.Header().Set("Content-Type", "application/vnd.apple.mpegurl")
	w.Header().Set("Cache-Control", "no-cache, max-age=3")
	w.Write([]byte(playlist.M3U8Content))
}

func (h *Handler) handleSegment(w http.ResponseWriter, r *http.Request) {
	name := strings.TrimPrefix(r.URL.Path, "/stream/segment/")
	name = strings.TrimSuffix(name, ".ts")

	seq, err := strconv.ParseInt(name, 10, 64)
	if err != nil {
		http.NotFound(w, r)
		return
	}

	meta, data, err := h.sup.Cache().GetBySequence(seq)
	if meta == nil {
		http.NotFound(w, r)
		return
	}
	if err != nil || data == nil {
		h.log.Errorf("segment %d indexed but bytes unavailable: %v", seq, err)
		http.Error(w, "segment bytes unavailable", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "video/mp2t")
	w.Header().Set("Cache-Control", "public, max-age=86400")
	w.Write(data)
}

func (h *Handler) handleUnavailable(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "video/mp2t")
	w.Write(playlistgen.UnavailableSegment())
}

// handleAPIPlaylist serves the generator's structured or raw m3u8 output,
// per the windowCount/timeshift/format query parameters spec.md names
// duration/format/timeshift.
func (h *Handler) handleAPIPlaylist(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()

	windowCount := h.cfg.WindowCount
	if raw := q.Get("duration"); raw != "" {
		if secs, err := strconv.Atoi(raw); err == nil && secs >= 1 && secs <= 3600 {
			windowCount = secs
		}
	}

	timeShift := h.cfg.TimeShift
	if raw := q.Get("timeshift"); raw != "" {
		if ms, err := strconv.ParseInt(raw, 10, 64); err == nil && ms >= 0 && ms <= 86400000 {
			timeShift = time.Duration(ms) * time.Millisecond
		}
	}

	playlist := h.sup.Generator().Render(playlistgen.Request{
		WindowCount: windowCount,
		TimeShift:   timeShift,
		BaseURL:     h.cfg.BaseURL,
	})

	format := q.Get("format")
	if format == "json" {
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(playlist)
		return
	}

	w.Header().Set("Content-Type", "application/vnd.apple.mpegurl")
	w.Write([]byte(playlist.M3U8Content))
}

// handleStatus reports the supervisor's aggregated status, including the
// buffer-ready predicate and ETA spec.md requires be exposed somewhere.
func (h *Handler) handleStatus(w http.ResponseWriter, r *http.Request) {
	status := h.sup.Status()
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(status)
}
