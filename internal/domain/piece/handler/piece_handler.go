// Package handler implements the piece HTTP JSON handlers.
package handler

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/google/uuid"

	"github.com/FACorreiaa/ledger-intake/internal/domain/common"
	"github.com/FACorreiaa/ledger-intake/internal/domain/piece/service"
	"github.com/FACorreiaa/ledger-intake/internal/domain/record"
)

const maxBodyBytes int64 = 4 << 20 // 4 MiB

// Submitter queues AI responses for processing.
type Submitter interface {
	Submit(job service.Job) error
}

// RecordReader assembles the record of a processed piece.
type RecordReader interface {
	Record(ctx context.Context, pieceID uuid.UUID) (*record.PieceDTO, error)
}

// PieceHandler serves the piece endpoints.
type PieceHandler struct {
	queue   Submitter
	records RecordReader
	logger  *slog.Logger
}

// NewPieceHandler constructs a new handler.
func NewPieceHandler(queue Submitter, records RecordReader, logger *slog.Logger) *PieceHandler {
	return &PieceHandler{queue: queue, records: records, logger: logger}
}

// Register mounts the handlers on mux.
func (h *PieceHandler) Register(mux *http.ServeMux) {
	mux.HandleFunc("POST /v1/pieces/{id}/ai-response", h.SubmitAIResponse)
	mux.HandleFunc("GET /v1/pieces/{id}/record", h.GetRecord)
}

type submitRequest struct {
	IsBankStatement bool            `json:"isBankStatement"`
	Response        json.RawMessage `json:"response"`
}

type submitResponse struct {
	PieceID uuid.UUID `json:"pieceId"`
	Status  string    `json:"status"`
}

type errorResponse struct {
	Error string `json:"error"`
}

// SubmitAIResponse queues the AI response of a piece and answers 202.
func (h *PieceHandler) SubmitAIResponse(w http.ResponseWriter, r *http.Request) {
	pieceID, err := uuid.Parse(r.PathValue("id"))
	if err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid piece id")
		return
	}

	var req submitRequest
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err := dec.Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	var payload any
	if len(req.Response) == 0 || json.Unmarshal(req.Response, &payload) != nil || payload == nil {
		h.writeError(w, http.StatusBadRequest, "response is required")
		return
	}

	err = h.queue.Submit(service.Job{PieceID: pieceID, Payload: payload, IsBankStatement: req.IsBankStatement})
	switch {
	case errors.Is(err, service.ErrQueueFull):
		w.Header().Set("Retry-After", "5")
		h.writeError(w, http.StatusServiceUnavailable, "processing queue is full")
		return
	case errors.Is(err, service.ErrPoolClosed):
		h.writeError(w, http.StatusServiceUnavailable, "server is shutting down")
		return
	case err != nil:
		h.logger.Error("failed to queue AI response", "piece_id", pieceID, "error", err)
		h.writeError(w, http.StatusInternalServerError, "internal error")
		return
	}

	h.writeJSON(w, http.StatusAccepted, submitResponse{PieceID: pieceID, Status: "queued"})
}

// GetRecord returns the assembled record of a processed piece.
func (h *PieceHandler) GetRecord(w http.ResponseWriter, r *http.Request) {
	pieceID, err := uuid.Parse(r.PathValue("id"))
	if err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid piece id")
		return
	}

	dto, err := h.records.Record(r.Context(), pieceID)
	switch {
	case errors.Is(err, common.ErrNotFound):
		h.writeError(w, http.StatusNotFound, "record not found")
		return
	case errors.Is(err, record.ErrNoValidEntries):
		h.writeError(w, http.StatusUnprocessableEntity, "piece has no valid entries")
		return
	case err != nil:
		h.logger.Error("failed to build record", "piece_id", pieceID, "error", err)
		h.writeError(w, http.StatusInternalServerError, "internal error")
		return
	}

	h.writeJSON(w, http.StatusOK, dto)
}

func (h *PieceHandler) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		h.logger.Error("failed to encode response", slog.Any("error", err))
	}
}

func (h *PieceHandler) writeError(w http.ResponseWriter, status int, msg string) {
	h.writeJSON(w, status, errorResponse{Error: msg})
}
