// Package api exposes the detection service over HTTP.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"html"
	"io"
	"net/http"
	"sort"
	"time"

	"github.com/santhosh-tekuri/jsonschema/v5"
	"go.uber.org/zap"

	"deepguard/internal/apperr"
	"deepguard/internal/detect"
	"deepguard/internal/observability"
	"deepguard/internal/registry"
	"deepguard/internal/stats"
	"deepguard/internal/store"
)

const maxBodyBytes = 12 << 20

type Detector interface {
	Detect(ctx context.Context, mediaRef, providerID string) (detect.Result, error)
}

type StatsReader interface {
	Snapshot(ctx context.Context) (map[string]stats.Counts, error)
}

type AuditReader interface {
	ListRecentAttempts(ctx context.Context, limit int) ([]store.Attempt, error)
	CountByOutcome(ctx context.Context, modelID string) (map[string]int64, error)
}

type Pinger interface {
	Ping(ctx context.Context) error
}

type Availability interface {
	Available(ctx context.Context) bool
}

type Handler struct {
	Detector Detector
	Registry *registry.Registry
	Logger   *zap.Logger

	// Optional collaborators; nil means not configured.
	Stats    StatsReader
	Audit    AuditReader
	Redis    Pinger
	Database Pinger
	Provider Availability

	schema *jsonschema.Schema
}

func NewHandler(detector Detector, reg *registry.Registry, logger *zap.Logger) (*Handler, error) {
	schema, err := compileDetectSchema()
	if err != nil {
		return nil, fmt.Errorf("compile detect schema: %w", err)
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Handler{
		Detector: detector,
		Registry: reg,
		Logger:   logger,
		schema:   schema,
	}, nil
}

func (h *Handler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("/detect", h.handleDetect)
	mux.HandleFunc("/models", h.handleModels)
	mux.HandleFunc("/health", h.handleHealth)
	mux.HandleFunc("/readyz", h.handleReady)
	mux.HandleFunc("/stats", h.handleStats)
	mux.HandleFunc("/debug", h.handleDebug)
}

func (h *Handler) handleDetect(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err != nil {
		writeJSON(w, http.StatusRequestEntityTooLarge, map[string]any{"error": "request body too large"})
		return
	}
	req, err := decodeDetectRequest(h.schema, body)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]any{"error": err.Error()})
		return
	}

	res, err := h.Detector.Detect(r.Context(), req.MediaURL, req.ModelID)
	if err != nil {
		h.writeDetectError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"result": res.Verdict, "raw": res.Raw})
}

func (h *Handler) writeDetectError(w http.ResponseWriter, err error) {
	kind := apperr.KindOf(err)
	if kind == apperr.KindUnknown {
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			h.Logger.Info("detect request abandoned", zap.Error(err))
		} else {
			h.Logger.Error("detect failed", zap.Error(err))
		}
		writeJSON(w, http.StatusInternalServerError, map[string]any{"error": "detection failed"})
		return
	}

	var ae *apperr.Error
	_ = errors.As(err, &ae)
	payload := map[string]any{"error": ae.Message}
	switch kind {
	case apperr.KindUnknownProvider:
		payload["availableModels"] = ae.Available
	case apperr.KindConfiguration:
		h.Logger.Error("detect misconfigured", zap.String("op", ae.Op), zap.String("error", ae.Message))
	}
	writeJSON(w, apperr.HTTPStatus(kind), payload)
}

func (h *Handler) handleModels(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	ids := h.Registry.IDs()
	models := make([]map[string]string, 0, len(ids))
	for _, id := range ids {
		models = append(models, map[string]string{"id": id})
	}
	writeJSON(w, http.StatusOK, map[string]any{"models": models})
}

func (h *Handler) handleHealth(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (h *Handler) handleReady(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	ctx, cancel := context.WithTimeout(r.Context(), 3*time.Second)
	defer cancel()

	status := http.StatusOK
	payload := map[string]string{
		"status":   "ready",
		"redis":    "disabled",
		"database": "disabled",
		"provider": "unknown",
	}
	if h.Redis != nil {
		payload["redis"] = "ok"
		if err := h.Redis.Ping(ctx); err != nil {
			payload["redis"] = err.Error()
			status = http.StatusServiceUnavailable
		}
	}
	if h.Database != nil {
		payload["database"] = "ok"
		if err := h.Database.Ping(ctx); err != nil {
			payload["database"] = err.Error()
			status = http.StatusServiceUnavailable
		}
	}
	if h.Provider != nil {
		payload["provider"] = "unreachable"
		if h.Provider.Available(ctx) {
			payload["provider"] = "ok"
		}
	}
	if status != http.StatusOK {
		payload["status"] = "unavailable"
	}
	writeJSON(w, status, payload)
}

func (h *Handler) handleStats(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	if h.Stats == nil {
		writeJSON(w, http.StatusOK, map[string]any{"models": map[string]stats.Counts{}})
		return
	}
	snap, err := h.Stats.Snapshot(r.Context())
	if err != nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]any{"error": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"models": snap})
}

func (h *Handler) handleDebug(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	ctx := r.Context()
	var (
		snap   map[string]stats.Counts
		recent []store.Attempt
		totals = make(map[string]map[string]int64)
		err    error
	)
	if h.Stats != nil {
		if snap, err = h.Stats.Snapshot(ctx); err != nil {
			h.Logger.Warn("debug: stats snapshot failed", zap.Error(err))
		}
	}
	if h.Audit != nil {
		if recent, err = h.Audit.ListRecentAttempts(ctx, 20); err != nil {
			h.Logger.Warn("debug: list recent attempts failed", zap.Error(err))
		}
		for _, id := range h.Registry.IDs() {
			counts, err := h.Audit.CountByOutcome(ctx, id)
			if err != nil {
				h.Logger.Warn("debug: count attempts failed", zap.String("model_id", id), zap.Error(err))
				continue
			}
			totals[id] = counts
		}
	}

	ids := make([]string, 0, len(snap))
	for id := range snap {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	w.Header().Set("Content-Type", "text/html")
	_, _ = fmt.Fprintf(w, "<html><body><h1>DeepGuard Debug</h1>")
	_, _ = fmt.Fprintf(w, "<p>Default model: %s</p>", html.EscapeString(h.Registry.DefaultID()))
	_, _ = fmt.Fprintf(w, "<h2>Outcomes</h2><ul>")
	for _, id := range ids {
		c := snap[id]
		_, _ = fmt.Fprintf(w, "<li>%s: genuine=%d fallback=%d</li>", html.EscapeString(id), c.Genuine, c.Fallback)
	}
	_, _ = fmt.Fprintf(w, "</ul>")
	if h.Audit != nil {
		_, _ = fmt.Fprintf(w, "<h2>Recorded attempts</h2><ul>")
		for _, id := range h.Registry.IDs() {
			c, ok := totals[id]
			if !ok {
				continue
			}
			_, _ = fmt.Fprintf(w, "<li>%s: genuine=%d fallback=%d</li>", html.EscapeString(id), c[string(observability.OutcomeGenuine)], c[string(observability.OutcomeFallback)])
		}
		_, _ = fmt.Fprintf(w, "</ul>")
	}
	_, _ = fmt.Fprintf(w, "<h2>Quick actions</h2>")
	_, _ = fmt.Fprintf(w, "<ul><li><a href=\"/health\">Check health</a></li><li><a href=\"/readyz\">Check readiness</a></li></ul>")
	_, _ = fmt.Fprintf(w, "<h2>Recent attempts</h2><ul>")
	for _, a := range recent {
		_, _ = fmt.Fprintf(w, "<li>%s %s %s %s %dms</li>",
			a.CreatedAt.Format(time.RFC3339), html.EscapeString(a.ModelID), a.Outcome, html.EscapeString(a.Reason), a.DurationMS)
	}
	_, _ = fmt.Fprintf(w, "</ul></body></html>")
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}
