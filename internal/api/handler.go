package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"go.uber.org/zap"

	"github.com/eugenenazirov/liasse-counter/internal/counter"
	"github.com/eugenenazirov/liasse-counter/internal/liasse"
	"github.com/eugenenazirov/liasse-counter/internal/storage"
)

type contextKey string

const requestIDContextKey contextKey = "requestID"

// Handler wires the counter service into HTTP handlers.
type Handler struct {
	service *counter.Service
	logger  *zap.Logger

	clock func() time.Time
}

// HandlerOption configures Handler behaviour.
type HandlerOption func(*Handler)

// WithClock overrides the time source, primarily for tests.
func WithClock(clock func() time.Time) HandlerOption {
	return func(h *Handler) {
		h.clock = clock
	}
}

// WithLogger sets the logger used to report internal errors.
func WithLogger(logger *zap.Logger) HandlerOption {
	return func(h *Handler) {
		h.logger = logger
	}
}

// NewHandler constructs a Handler with the provided dependencies.
func NewHandler(service *counter.Service, opts ...HandlerOption) *Handler {
	h := &Handler{
		service: service,
		logger:  zap.NewNop(),
		clock: func() time.Time {
			return time.Now().UTC()
		},
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

func (h *Handler) handleHealth(w http.ResponseWriter, r *http.Request) {
	_ = r
	resp := healthResponse{
		Status:    "ok",
		Timestamp: h.clock(),
	}
	writeJSON(w, http.StatusOK, resp)
}

func (h *Handler) handleListDenominations(w http.ResponseWriter, r *http.Request) {
	names, err := h.service.Denominations(r.Context())
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, denominationsResponse{Denominations: names, Target: h.service.Target()})
}

func (h *Handler) handleSnapshot(w http.ResponseWriter, r *http.Request) {
	target, ok := parseTarget(w, r)
	if !ok {
		return
	}

	snap, err := h.service.Snapshot(r.Context(), r.PathValue("denomination"), target)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, snap)
}

func (h *Handler) handleAddPile(w http.ResponseWriter, r *http.Request) {
	var req addPileRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request", "unable to parse JSON payload")
		return
	}

	snap, err := h.service.AddPile(r.Context(), r.PathValue("denomination"), req.Amount)
	h.respondSnapshot(w, r, snap, err, http.StatusCreated)
}

func (h *Handler) handleSetPiles(w http.ResponseWriter, r *http.Request) {
	var req setPilesRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request", "unable to parse JSON payload")
		return
	}
	if req.Piles == nil {
		writeError(w, http.StatusBadRequest, "Invalid piles", "piles must be an array of non-negative integers")
		return
	}

	snap, err := h.service.SetPiles(r.Context(), r.PathValue("denomination"), req.Piles)
	h.respondSnapshot(w, r, snap, err, http.StatusOK)
}

func (h *Handler) handleRemovePile(w http.ResponseWriter, r *http.Request) {
	index, err := strconv.Atoi(r.PathValue("index"))
	if err != nil || index < 0 {
		writeError(w, http.StatusBadRequest, "Invalid request", "index must be a non-negative integer")
		return
	}

	snap, err := h.service.RemovePile(r.Context(), r.PathValue("denomination"), index)
	h.respondSnapshot(w, r, snap, err, http.StatusOK)
}

func (h *Handler) handleCompleteBundle(w http.ResponseWriter, r *http.Request) {
	number, err := strconv.Atoi(r.PathValue("number"))
	if err != nil || number < 1 {
		writeError(w, http.StatusBadRequest, "Invalid request", "bundle number must be a positive integer")
		return
	}
	target, ok := parseTarget(w, r)
	if !ok {
		return
	}

	snap, err := h.service.CompleteBundle(r.Context(), r.PathValue("denomination"), number, target)
	h.respondSnapshot(w, r, snap, err, http.StatusOK)
}

func (h *Handler) handleUndo(w http.ResponseWriter, r *http.Request) {
	timestamp, err := strconv.ParseInt(r.PathValue("timestamp"), 10, 64)
	if err != nil || timestamp <= 0 {
		writeError(w, http.StatusBadRequest, "Invalid request", "timestamp must be a positive integer")
		return
	}

	snap, err := h.service.Undo(r.Context(), r.PathValue("denomination"), timestamp)
	h.respondSnapshot(w, r, snap, err, http.StatusOK)
}

func (h *Handler) handleReset(w http.ResponseWriter, r *http.Request) {
	snap, err := h.service.Reset(r.Context(), r.PathValue("denomination"))
	h.respondSnapshot(w, r, snap, err, http.StatusOK)
}

func (h *Handler) respondSnapshot(w http.ResponseWriter, r *http.Request, snap counter.Snapshot, err error, status int) {
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, status, snap)
}

// writeServiceError maps domain errors to HTTP statuses.
func (h *Handler) writeServiceError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, storage.ErrInvalidDenomination),
		errors.Is(err, liasse.ErrInvalidTarget),
		errors.Is(err, counter.ErrInvalidAmount):
		writeError(w, http.StatusBadRequest, "Invalid request", err.Error())
	case errors.Is(err, liasse.ErrBelowTarget):
		writeError(w, http.StatusUnprocessableEntity, "Invalid operation", err.Error(),
			"Add more units before completing this bundle")
	case errors.Is(err, liasse.ErrInvalidOperation):
		writeError(w, http.StatusUnprocessableEntity, "Invalid operation", err.Error())
	case errors.Is(err, liasse.ErrStaleInstruction):
		writeError(w, http.StatusConflict, "Stale instruction", err.Error(),
			"Complete the earlier bundles drawing on these piles first, or reload the instructions")
	case errors.Is(err, liasse.ErrAlreadyCompleted):
		writeError(w, http.StatusConflict, "Already completed", err.Error())
	case errors.Is(err, liasse.ErrNotFound),
		errors.Is(err, counter.ErrBundleNotFound),
		errors.Is(err, counter.ErrPileNotFound):
		writeError(w, http.StatusNotFound, "Not found", err.Error())
	default:
		h.logger.Error("request failed",
			zap.String("path", r.URL.Path),
			zap.String("request_id", requestIDFromContext(r.Context())),
			zap.Error(err),
		)
		writeInternalError(w, err)
	}
}

// parseTarget reads the optional ?target= query parameter; 0 means the service default.
func parseTarget(w http.ResponseWriter, r *http.Request) (int, bool) {
	raw := r.URL.Query().Get("target")
	if raw == "" {
		return 0, true
	}
	target, err := strconv.Atoi(raw)
	if err != nil || target <= 0 {
		writeError(w, http.StatusBadRequest, "Invalid request", "target must be a positive integer")
		return 0, false
	}
	return target, true
}

func requestIDFromContext(ctx context.Context) string {
	if v := ctx.Value(requestIDContextKey); v != nil {
		if id, ok := v.(string); ok {
			return id
		}
	}
	return ""
}

type addPileRequest struct {
	Amount int `json:"amount"`
}

type setPilesRequest struct {
	Piles []int `json:"piles"`
}

type denominationsResponse struct {
	Denominations []string `json:"denominations"`
	Target        int      `json:"target"`
}

type healthResponse struct {
	Status    string    `json:"status"`
	Timestamp time.Time `json:"timestamp"`
}

type errorResponse struct {
	Error      string `json:"error"`
	Details    string `json:"details,omitempty"`
	Suggestion string `json:"suggestion,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	if status != 0 {
		w.WriteHeader(status)
	}
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, message, details string, suggestion ...string) {
	resp := errorResponse{
		Error:   message,
		Details: details,
	}
	if len(suggestion) > 0 {
		resp.Suggestion = suggestion[0]
	}
	writeJSON(w, status, resp)
}

func writeInternalError(w http.ResponseWriter, err error) {
	writeError(w, http.StatusInternalServerError, "Internal error", err.Error())
}
