// Package server exposes the assistant over HTTP: the query endpoint,
// the cache invalidation hook for the ingestion side, health, and
// Prometheus metrics.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/tavernkeep/loremaster/pkg/assistant"
	"github.com/tavernkeep/loremaster/pkg/config"
)

// Server wraps the HTTP listener and routes.
type Server struct {
	orchestrator *assistant.Orchestrator
	httpServer   *http.Server
	address      string
}

func New(cfg config.ServerConfig, orchestrator *assistant.Orchestrator) *Server {
	s := &Server{
		orchestrator: orchestrator,
		address:      fmt.Sprintf("%s:%d", cfg.Host, cfg.Port),
	}

	router := chi.NewRouter()
	router.Use(requestIDMiddleware)
	router.Use(metricsMiddleware)

	router.Post("/api/campaigns/{campaignUuid}/assistant/query", s.handleQuery)
	router.Post("/api/campaigns/{campaignUuid}/assistant/cache/invalidate", s.handleInvalidate)
	router.Get("/healthz", s.handleHealth)
	router.Handle("/metrics", promhttp.Handler())

	s.httpServer = &http.Server{
		Addr:              s.address,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	return s
}

// Start blocks serving requests until Shutdown or a listener error.
func (s *Server) Start() error {
	slog.Info("http server listening", "address", s.address)
	if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("http server failed: %w", err)
	}
	return nil
}

func (s *Server) Shutdown(ctx context.Context) error {
	slog.Info("http server shutting down")
	return s.httpServer.Shutdown(ctx)
}

type queryRequest struct {
	Query string `json:"query"`
}

func (s *Server) handleQuery(w http.ResponseWriter, r *http.Request) {
	campaignUUID := chi.URLParam(r, "campaignUuid")
	if uuid.Validate(campaignUUID) != nil {
		// A malformed id cannot name a campaign; skip the registry lookup.
		writeError(w, http.StatusNotFound, "campaign_not_found", "unknown campaign")
		return
	}

	var req queryRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_query", "request body must be JSON with a query field")
		return
	}

	response, err := s.orchestrator.Query(r.Context(), campaignUUID, req.Query)
	if err != nil {
		var classified *assistant.Error
		if errors.As(err, &classified) {
			switch classified.Kind {
			case assistant.KindInvalidQuery:
				writeError(w, http.StatusBadRequest, string(classified.Kind), classified.Msg)
			case assistant.KindCampaignNotFound:
				writeError(w, http.StatusNotFound, string(classified.Kind), classified.Msg)
			default:
				writeError(w, http.StatusInternalServerError, string(classified.Kind), classified.Msg)
			}
			return
		}
		writeError(w, http.StatusInternalServerError, "internal", "unexpected failure")
		return
	}

	writeJSON(w, http.StatusOK, response)
}

// handleInvalidate is called by the ingestion service after committing
// note writes, so cached answers never outlive their notes.
func (s *Server) handleInvalidate(w http.ResponseWriter, r *http.Request) {
	campaignUUID := chi.URLParam(r, "campaignUuid")
	if uuid.Validate(campaignUUID) != nil {
		writeError(w, http.StatusNotFound, "campaign_not_found", "unknown campaign")
		return
	}

	removed := s.orchestrator.InvalidateCampaign(campaignUUID)
	slog.Info("cache invalidated", "campaign", campaignUUID, "entries", removed)

	writeJSON(w, http.StatusOK, map[string]any{"invalidated": removed})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		slog.Error("failed to encode response", "error", err)
	}
}

func writeError(w http.ResponseWriter, status int, errorType, message string) {
	writeJSON(w, status, map[string]any{
		"responseType": "error",
		"errorType":    errorType,
		"textResponse": message,
	})
}
