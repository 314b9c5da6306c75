// Package handler exposes the catalog ingestion HTTP API.
package handler

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/Rabenherz112/awesome-selfhosted-web-gen-sub000/internal/catalog"
	"github.com/Rabenherz112/awesome-selfhosted-web-gen-sub000/internal/ingest/publisher"
	"github.com/Rabenherz112/awesome-selfhosted-web-gen-sub000/pkg/config"
	apperrors "github.com/Rabenherz112/awesome-selfhosted-web-gen-sub000/pkg/errors"
	"github.com/Rabenherz112/awesome-selfhosted-web-gen-sub000/pkg/logger"
)

// Ingestor accepts raw catalog records for persistence and announcement.
type Ingestor interface {
	Ingest(ctx context.Context, raw catalog.RawEntry) (*catalog.Entry, error)
	IngestBatch(ctx context.Context, raws []catalog.RawEntry) (*publisher.BatchOutcome, error)
}

// Handler translates ingestion HTTP requests into Ingestor calls.
type Handler struct {
	ingestor Ingestor
	cfg      config.IngestConfig
	logger   *slog.Logger
}

// New creates an ingestion Handler.
func New(ing Ingestor, cfg config.IngestConfig) *Handler {
	return &Handler{
		ingestor: ing,
		cfg:      cfg,
		logger:   logger.WithComponent("ingest-handler"),
	}
}

// Ingest handles POST /api/v1/entries.
func (h *Handler) Ingest(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	log := logger.FromContext(ctx)

	var raw catalog.RawEntry
	if err := json.NewDecoder(r.Body).Decode(&raw); err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	entry, err := h.ingestor.Ingest(ctx, raw)
	if err != nil {
		status := apperrors.HTTPStatusCode(err)
		log.Error("ingestion failed", "entry_id", raw.ID, "status_code", status, "error", err)
		h.writeError(w, status, publicMessage(status, err))
		return
	}
	log.Info("entry accepted", "entry_id", entry.ID)
	h.writeJSON(w, http.StatusAccepted, entry)
}

// IngestBatch handles POST /api/v1/entries/batch.
func (h *Handler) IngestBatch(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	log := logger.FromContext(ctx)

	var raws []catalog.RawEntry
	if err := json.NewDecoder(r.Body).Decode(&raws); err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if h.cfg.MaxBatchSize > 0 && len(raws) > h.cfg.MaxBatchSize {
		h.writeError(w, http.StatusBadRequest,
			fmt.Sprintf("batch of %d entries exceeds limit of %d", len(raws), h.cfg.MaxBatchSize))
		return
	}
	outcome, err := h.ingestor.IngestBatch(ctx, raws)
	if err != nil {
		status := apperrors.HTTPStatusCode(err)
		log.Error("batch ingestion failed", "size", len(raws), "status_code", status, "error", err)
		h.writeError(w, status, publicMessage(status, err))
		return
	}
	log.Info("batch accepted", "accepted", outcome.Accepted, "rejected", len(outcome.Rejected))
	h.writeJSON(w, http.StatusAccepted, outcome)
}

// publicMessage keeps internal failure detail out of 5xx responses.
func publicMessage(status int, err error) string {
	if status >= http.StatusInternalServerError {
		return "ingestion failed"
	}
	return err.Error()
}

func (h *Handler) writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		h.logger.Error("failed to write response", "error", err)
	}
}

func (h *Handler) writeError(w http.ResponseWriter, status int, message string) {
	h.writeJSON(w, status, map[string]string{"error": message})
}
