package api

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/coursebot/courserag/internal/core"
	"github.com/coursebot/courserag/internal/index"
)

// QueryService answers questions; core.RAGService implements it.
type QueryService interface {
	Query(ctx context.Context, req core.QueryRequest) (*core.QueryResponse, error)
	ClearSession(id string) bool
}

// CatalogService lists indexed courses; index.Index implements it.
type CatalogService interface {
	Catalog(ctx context.Context) (index.Catalog, error)
}

// QueryTimeout bounds a whole query request, including every provider round-trip.
const QueryTimeout = 55 * time.Second

type APIHandler struct {
	queries      QueryService
	catalog      CatalogService
	queryTimeout time.Duration
}

func NewAPIHandler(qs QueryService, cs CatalogService) *APIHandler {
	return &APIHandler{queries: qs, catalog: cs, queryTimeout: QueryTimeout}
}

type errorResponse struct {
	Error string `json:"error"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Printf("Error encoding response: %v", err)
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, errorResponse{Error: msg})
}

// statusFor maps pipeline errors to HTTP status codes.
func statusFor(err error) int {
	switch {
	case errors.Is(err, core.ErrEmptyQuery):
		return http.StatusBadRequest
	case errors.Is(err, core.ErrProviderFailed):
		return http.StatusBadGateway
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	case errors.Is(err, context.Canceled):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func (h *APIHandler) QueryHandler(w http.ResponseWriter, r *http.Request) {
	var req core.QueryRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body: "+err.Error())
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), h.queryTimeout)
	defer cancel()

	resp, err := h.queries.Query(ctx, req)
	if err != nil {
		status := statusFor(err)
		if status >= http.StatusInternalServerError {
			log.Printf("Error answering query: %v", err)
		}
		msg := err.Error()
		switch status {
		case http.StatusBadGateway:
			msg = "The language model is unavailable, please try again later"
		case http.StatusInternalServerError:
			msg = "Failed to answer query"
		}
		writeError(w, status, msg)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func (h *APIHandler) CoursesHandler(w http.ResponseWriter, r *http.Request) {
	cat, err := h.catalog.Catalog(r.Context())
	if err != nil {
		log.Printf("Error listing courses: %v", err)
		writeError(w, http.StatusInternalServerError, "Failed to list courses")
		return
	}
	writeJSON(w, http.StatusOK, cat)
}

func (h *APIHandler) DeleteSessionHandler(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "sessionID")
	if !h.queries.ClearSession(id) {
		writeError(w, http.StatusNotFound, "Session not found")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *APIHandler) HealthHandler(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}
