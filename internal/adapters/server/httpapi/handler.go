// Package httpapi provides the REST HTTP adapter for the server surfaces.
package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"

	"github.com/hylla/shotboard/internal/adapters/server/common"
)

// maxRequestBodyBytes limits decoded JSON payload size for fail-closed request handling.
const maxRequestBodyBytes int64 = 1 << 20

// Handler serves the versioned API subrouter mounted under `/api/v1`.
type Handler struct {
	service common.ProductionService
	logger  common.Logger
}

// APIError represents one structured API failure response.
type APIError struct {
	Code      string         `json:"code"`
	Message   string         `json:"message"`
	Hint      string         `json:"hint,omitempty"`
	RequestID string         `json:"request_id,omitempty"`
	Context   map[string]any `json:"context,omitempty"`
}

// ErrorEnvelope wraps one structured API error.
type ErrorEnvelope struct {
	Error APIError `json:"error"`
}

// NewHandler constructs one HTTP API adapter. logger may be nil.
func NewHandler(service common.ProductionService, logger common.Logger) *Handler {
	return &Handler{
		service: service,
		logger:  logger,
	}
}

// ServeHTTP routes one versioned API request to the matching handler.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if h.service == nil {
		writeJSONError(w, http.StatusServiceUnavailable, APIError{
			Code:    "service_unavailable",
			Message: "production service is not configured",
		})
		return
	}
	parts := splitPath(r.URL.Path)
	switch {
	case matches(parts, "session"):
		if r.Method != http.MethodGet {
			writeMethodNotAllowed(w, http.MethodGet)
			return
		}
		h.handleSession(w, r)
	case matches(parts, "acts"):
		switch r.Method {
		case http.MethodGet:
			h.handleListActs(w, r)
		case http.MethodPost:
			h.handleCreateAct(w, r)
		default:
			writeMethodNotAllowed(w, http.MethodGet, http.MethodPost)
		}
	case matches(parts, "acts", "*"):
		if r.Method != http.MethodGet {
			writeMethodNotAllowed(w, http.MethodGet)
			return
		}
		h.handleGetAct(w, r, parts[1])
	case matches(parts, "acts", "*", "stats"):
		if r.Method != http.MethodGet {
			writeMethodNotAllowed(w, http.MethodGet)
			return
		}
		h.handleActStats(w, r, parts[1])
	case matches(parts, "shots"):
		switch r.Method {
		case http.MethodGet:
			h.handleListShots(w, r)
		case http.MethodPost:
			h.handleCreateShot(w, r)
		default:
			writeMethodNotAllowed(w, http.MethodGet, http.MethodPost)
		}
	case matches(parts, "shots", "*"):
		if r.Method != http.MethodGet {
			writeMethodNotAllowed(w, http.MethodGet)
			return
		}
		h.withShotID(w, r, parts[1], h.handleGetShot)
	case matches(parts, "shots", "*", "status"):
		if r.Method != http.MethodPut {
			writeMethodNotAllowed(w, http.MethodPut)
			return
		}
		h.withShotID(w, r, parts[1], h.handleSetShotStatus)
	case matches(parts, "shots", "*", "history"):
		if r.Method != http.MethodGet {
			writeMethodNotAllowed(w, http.MethodGet)
			return
		}
		h.withShotID(w, r, parts[1], h.handleStatusHistory)
	case matches(parts, "bulk-status"):
		if r.Method != http.MethodPut {
			writeMethodNotAllowed(w, http.MethodPut)
			return
		}
		h.handleBulkSetStatus(w, r)
	default:
		writeJSONError(w, http.StatusNotFound, APIError{
			Code:    "not_found",
			Message: "endpoint not found",
		})
	}
}

// handleSession serves GET `/session`.
func (h *Handler) handleSession(w http.ResponseWriter, r *http.Request) {
	session, err := h.service.Session(r.Context())
	if err != nil {
		h.writeErrorFrom(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"session": session})
}

// handleListActs serves GET `/acts`.
func (h *Handler) handleListActs(w http.ResponseWriter, r *http.Request) {
	acts, err := h.service.ListActs(r.Context())
	if err != nil {
		h.writeErrorFrom(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"acts": acts})
}

// handleCreateAct serves POST `/acts`.
func (h *Handler) handleCreateAct(w http.ResponseWriter, r *http.Request) {
	var req common.CreateActRequest
	if err := decodeJSONBody(r.Context(), w, r, &req); err != nil {
		h.writeErrorFrom(w, r, err)
		return
	}
	act, err := h.service.CreateAct(r.Context(), req)
	if err != nil {
		h.writeErrorFrom(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{"act": act})
}

// handleCreateShot serves POST `/shots`.
func (h *Handler) handleCreateShot(w http.ResponseWriter, r *http.Request) {
	var req common.CreateShotRequest
	if err := decodeJSONBody(r.Context(), w, r, &req); err != nil {
		h.writeErrorFrom(w, r, err)
		return
	}
	shot, err := h.service.CreateShot(r.Context(), req)
	if err != nil {
		h.writeErrorFrom(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{"shot": shot})
}

// handleGetAct serves GET `/acts/{code}`.
func (h *Handler) handleGetAct(w http.ResponseWriter, r *http.Request, code string) {
	act, err := h.service.GetAct(r.Context(), code)
	if err != nil {
		h.writeErrorFrom(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"act": act})
}

// handleActStats serves GET `/acts/{code}/stats`.
func (h *Handler) handleActStats(w http.ResponseWriter, r *http.Request, code string) {
	stats, err := h.service.ActStats(r.Context(), code)
	if err != nil {
		h.writeErrorFrom(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"stats": stats})
}

// handleListShots serves GET `/shots`.
func (h *Handler) handleListShots(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()
	shots, err := h.service.ListShots(r.Context(), common.ListShotsRequest{
		ActCode:    strings.TrimSpace(query.Get("act_code")),
		Priority:   strings.TrimSpace(query.Get("priority")),
		Department: strings.TrimSpace(query.Get("department")),
		Status:     strings.TrimSpace(query.Get("status")),
		Search:     strings.TrimSpace(query.Get("search")),
	})
	if err != nil {
		h.writeErrorFrom(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"shots": shots})
}

// handleGetShot serves GET `/shots/{id}`.
func (h *Handler) handleGetShot(w http.ResponseWriter, r *http.Request, shotID int64) {
	shot, err := h.service.GetShot(r.Context(), shotID)
	if err != nil {
		h.writeErrorFrom(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"shot": shot})
}

// handleSetShotStatus serves PUT `/shots/{id}/status`.
func (h *Handler) handleSetShotStatus(w http.ResponseWriter, r *http.Request, shotID int64) {
	var req common.SetShotStatusRequest
	if err := decodeJSONBody(r.Context(), w, r, &req); err != nil {
		h.writeErrorFrom(w, r, err)
		return
	}
	req.ShotID = shotID
	row, err := h.service.SetShotStatus(r.Context(), req)
	if err != nil {
		h.writeErrorFrom(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"status": row})
}

// handleStatusHistory serves GET `/shots/{id}/history`.
func (h *Handler) handleStatusHistory(w http.ResponseWriter, r *http.Request, shotID int64) {
	query := r.URL.Query()
	req := common.StatusHistoryRequest{
		ShotID:     shotID,
		Department: strings.TrimSpace(query.Get("department")),
	}
	if raw := strings.TrimSpace(query.Get("limit")); raw != "" {
		limit, err := strconv.Atoi(raw)
		if err != nil || limit < 0 {
			writeJSONError(w, http.StatusBadRequest, APIError{
				Code:    "invalid_request",
				Message: "limit must be a non-negative integer",
			})
			return
		}
		req.Limit = limit
	}
	entries, err := h.service.ListStatusHistory(r.Context(), req)
	if err != nil {
		h.writeErrorFrom(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"history": entries})
}

// handleBulkSetStatus serves PUT `/bulk-status`.
func (h *Handler) handleBulkSetStatus(w http.ResponseWriter, r *http.Request) {
	var req common.BulkSetStatusRequest
	if err := decodeJSONBody(r.Context(), w, r, &req); err != nil {
		h.writeErrorFrom(w, r, err)
		return
	}
	updated, err := h.service.BulkSetStatus(r.Context(), req)
	if err != nil {
		h.writeErrorFrom(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"message": fmt.Sprintf("Updated %d shot(s): %s -> %s", updated, strings.TrimSpace(req.Department), strings.TrimSpace(req.Status)),
		"updated": updated,
	})
}

// withShotID parses the `{id}` path segment before calling next.
func (h *Handler) withShotID(w http.ResponseWriter, r *http.Request, raw string, next func(http.ResponseWriter, *http.Request, int64)) {
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || id <= 0 {
		writeJSONError(w, http.StatusBadRequest, APIError{
			Code:    "invalid_request",
			Message: "shot id must be a positive integer",
		})
		return
	}
	next(w, r, id)
}

// splitPath canonicalizes one request path into its segments.
func splitPath(path string) []string {
	path = strings.Trim(strings.TrimSpace(path), "/")
	if path == "" {
		return nil
	}
	return strings.Split(path, "/")
}

// matches reports whether parts fits pattern, where "*" matches any non-empty segment.
func matches(parts []string, pattern ...string) bool {
	if len(parts) != len(pattern) {
		return false
	}
	for i, want := range pattern {
		if want == "*" {
			if strings.TrimSpace(parts[i]) == "" {
				return false
			}
			continue
		}
		if parts[i] != want {
			return false
		}
	}
	return true
}

// writeErrorFrom maps adapter errors into structured HTTP responses.
// Internal failures are logged and reported without detail.
func (h *Handler) writeErrorFrom(w http.ResponseWriter, r *http.Request, err error) {
	requestID := common.RequestIDFromContext(r.Context())
	switch {
	case err == nil:
		writeJSONError(w, http.StatusInternalServerError, APIError{
			Code:      "internal_error",
			Message:   "unknown error",
			RequestID: requestID,
		})
	case errors.Is(err, common.ErrUnauthenticated):
		writeJSONError(w, http.StatusUnauthorized, APIError{
			Code:      "unauthorized",
			Message:   "authentication required",
			RequestID: requestID,
		})
	case errors.Is(err, common.ErrForbidden):
		writeJSONError(w, http.StatusForbidden, APIError{
			Code:      "forbidden",
			Message:   err.Error(),
			RequestID: requestID,
		})
	case errors.Is(err, common.ErrInvalidRequest):
		writeJSONError(w, http.StatusBadRequest, APIError{
			Code:      "invalid_request",
			Message:   err.Error(),
			RequestID: requestID,
		})
	case errors.Is(err, common.ErrNotFound):
		writeJSONError(w, http.StatusNotFound, APIError{
			Code:      "not_found",
			Message:   err.Error(),
			RequestID: requestID,
		})
	case errors.Is(err, common.ErrConflict):
		writeJSONError(w, http.StatusConflict, APIError{
			Code:      "conflict",
			Message:   err.Error(),
			RequestID: requestID,
		})
	default:
		if h.logger != nil {
			h.logger.Error("api request failed",
				"request_id", requestID,
				"method", r.Method,
				"path", r.URL.Path,
				"err", err,
			)
		}
		writeJSONError(w, http.StatusInternalServerError, APIError{
			Code:      "internal_error",
			Message:   "internal server error",
			RequestID: requestID,
		})
	}
}

// writeMethodNotAllowed writes a structured 405 response with `Allow` headers.
func writeMethodNotAllowed(w http.ResponseWriter, methods ...string) {
	if len(methods) > 0 {
		w.Header().Set("Allow", strings.Join(methods, ", "))
	}
	writeJSONError(w, http.StatusMethodNotAllowed, APIError{
		Code:    "method_not_allowed",
		Message: "method not allowed",
	})
}

// writeJSONError writes one structured error envelope.
func writeJSONError(w http.ResponseWriter, statusCode int, apiErr APIError) {
	writeJSON(w, statusCode, ErrorEnvelope{Error: apiErr})
}

// writeJSON writes one JSON response envelope.
func writeJSON(w http.ResponseWriter, statusCode int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		http.Error(w, fmt.Sprintf(`{"error":{"code":"encode_error","message":"%s"}}`, err.Error()), http.StatusInternalServerError)
	}
}

// decodeJSONBody decodes one required JSON request body with strict shape checks.
func decodeJSONBody(ctx context.Context, w http.ResponseWriter, r *http.Request, out any) error {
	reader := http.MaxBytesReader(w, r.Body, maxRequestBodyBytes)
	defer reader.Close()

	decoder := json.NewDecoder(reader)
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(out); err != nil {
		return fmt.Errorf("decode request body: %w", errors.Join(common.ErrInvalidRequest, err))
	}
	// Reject trailing payloads so malformed JSON bodies fail closed.
	if err := decoder.Decode(&struct{}{}); !errors.Is(err, io.EOF) {
		return fmt.Errorf("decode request body: trailing content: %w", common.ErrInvalidRequest)
	}
	select {
	case <-ctx.Done():
		return fmt.Errorf("request canceled: %w", ctx.Err())
	default:
		return nil
	}
}
