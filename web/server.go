// ABOUTME: HTTP surface for the connector
// ABOUTME: Accepts change notification batches and webhook deliveries
package web

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/harperreed/crmsync/models"
	"github.com/harperreed/crmsync/sync"
	"github.com/harperreed/crmsync/webhook"
)

// BatchHandler processes inbound change notification batches. bypass
// suspends the segment allow-list for batch extracts.
type BatchHandler interface {
	SyncBatch(ctx context.Context, messages []*models.ChangeMessage, bypass bool) error
}

// DeliveryHandler processes inbound webhook deliveries.
type DeliveryHandler interface {
	HandleDelivery(ctx context.Context, d *webhook.Delivery)
}

// Server exposes the connector's two inbound endpoints: POST /notifications
// for platform change batches and POST /webhooks for remote-side pushes.
type Server struct {
	batches    BatchHandler
	deliveries DeliveryHandler
	logger     *slog.Logger
	mux        *http.ServeMux
}

// NewServer wires the HTTP surface.
func NewServer(batches BatchHandler, deliveries DeliveryHandler, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Server{
		batches:    batches,
		deliveries: deliveries,
		logger:     logger,
		mux:        http.NewServeMux(),
	}
	s.mux.HandleFunc("POST /notifications", s.handleNotifications)
	s.mux.HandleFunc("POST /webhooks", s.handleWebhooks)
	s.mux.HandleFunc("GET /status", s.handleStatus)
	return s
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.mux.ServeHTTP(w, r)
}

// Start blocks serving HTTP on addr.
func (s *Server) Start(addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s,
		ReadHeaderTimeout: 10 * time.Second,
	}
	s.logger.Info("listening", "addr", addr)
	return srv.ListenAndServe()
}

// notificationBody is the platform's change notification envelope. Batch
// extracts replay whole audiences and mark themselves with is_export, which
// suspends the segment allow-list for the batch.
type notificationBody struct {
	Messages []*models.ChangeMessage `json:"messages"`
	IsExport bool                    `json:"is_export"`
}

func (s *Server) handleNotifications(w http.ResponseWriter, r *http.Request) {
	var body notificationBody
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		http.Error(w, "invalid notification body", http.StatusBadRequest)
		return
	}

	if err := s.batches.SyncBatch(r.Context(), body.Messages, body.IsExport); err != nil {
		if errors.Is(err, sync.ErrNotConfigured) {
			// The platform retries failed batches; an unconfigured connector
			// should not accumulate a retry backlog.
			s.logger.Warn("batch received before configuration")
			writeJSON(w, http.StatusOK, map[string]any{"status": "not configured"})
			return
		}
		s.logger.Error("batch processing failed", "error", err)
		http.Error(w, "batch processing failed", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"status": "ok", "messages": len(body.Messages)})
}

func (s *Server) handleWebhooks(w http.ResponseWriter, r *http.Request) {
	var d webhook.Delivery
	if err := json.NewDecoder(r.Body).Decode(&d); err != nil {
		http.Error(w, "invalid webhook body", http.StatusBadRequest)
		return
	}
	s.deliveries.HandleDelivery(r.Context(), &d)
	writeJSON(w, http.StatusOK, map[string]any{"status": "ok"})
}

func (s *Server) handleStatus(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"status": "ok"})
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}
