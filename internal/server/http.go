package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/alfredjeanlab/memlog/internal/api"
	"github.com/alfredjeanlab/memlog/internal/listener"
	"github.com/alfredjeanlab/memlog/internal/store"
)

// maxBodyBytes bounds request bodies.
const maxBodyBytes = 4 << 20

// NewHTTPHandler returns an http.Handler with all routes registered.
// When authToken is non-empty, requests (except GET /v1/health and
// GET /metrics) must include a valid Authorization: Bearer <token> header.
// A nil limiter disables rate limiting.
func (s *RecordServer) NewHTTPHandler(authToken string, limiter *RateLimiter) http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /v1/health", s.handleHealth)
	mux.HandleFunc("POST /v1/records", s.handleIngestRecord)
	mux.HandleFunc("GET /v1/records/{request_id}", s.handleGetRecord)
	mux.HandleFunc("GET /v1/groups/{group_id}/records", s.handleListGroupRecords)
	mux.HandleFunc("DELETE /v1/groups/{group_id}/records", s.handlePurgeGroup)
	mux.HandleFunc("GET /v1/users/{user_id}/records", s.handleListUserRecords)
	mux.HandleFunc("POST /v1/groups/{group_id}/window/confirm", s.handleConfirmWindow)
	mux.HandleFunc("GET /v1/groups/{group_id}/window", s.handleReadWindow)
	mux.HandleFunc("POST /v1/groups/{group_id}/window/close", s.handleCloseWindow)
	mux.HandleFunc("POST /v1/groups/{group_id}/archive", s.handleArchiveGroup)
	mux.HandleFunc("GET /v1/events/stream", s.handleEventStream)
	mux.Handle("GET /metrics", s.metrics.Handler())
	return AuthMiddleware(authToken, RateLimitMiddleware(limiter, mux))
}

// handleHealth handles GET /v1/health.
func (s *RecordServer) handleHealth(w http.ResponseWriter, r *http.Request) {
	if err := s.Health(r.Context()); err != nil {
		writeJSON(w, http.StatusServiceUnavailable, api.HealthResponse{Status: "unavailable", Error: err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, api.HealthResponse{Status: "ok"})
}

// handleIngestRecord handles POST /v1/records.
func (s *RecordServer) handleIngestRecord(w http.ResponseWriter, r *http.Request) {
	var req listener.ObservedRequest
	if !decodeBody(w, r, &req) {
		return
	}
	rec, err := s.IngestRecord(r.Context(), req)
	if err != nil {
		s.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, rec)
}

// handleGetRecord handles GET /v1/records/{request_id}.
func (s *RecordServer) handleGetRecord(w http.ResponseWriter, r *http.Request) {
	rec, err := s.GetRecord(r.Context(), r.PathValue("request_id"))
	if err != nil {
		s.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, rec)
}

// handleListGroupRecords handles GET /v1/groups/{group_id}/records.
func (s *RecordServer) handleListGroupRecords(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	limit, ok := queryLimit(w, r)
	if !ok {
		return
	}
	recs, err := s.ListGroupRecords(r.Context(), api.ListGroupRecordsRequest{
		GroupID: r.PathValue("group_id"),
		Status:  q.Get("status"),
		Start:   q.Get("start"),
		End:     q.Get("end"),
		Limit:   limit,
	})
	if err != nil {
		s.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, api.RecordsResponse{Records: recs})
}

// handleListUserRecords handles GET /v1/users/{user_id}/records.
func (s *RecordServer) handleListUserRecords(w http.ResponseWriter, r *http.Request) {
	limit, ok := queryLimit(w, r)
	if !ok {
		return
	}
	recs, err := s.ListUserRecords(r.Context(), r.PathValue("user_id"), limit)
	if err != nil {
		s.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, api.RecordsResponse{Records: recs})
}

// handlePurgeGroup handles DELETE /v1/groups/{group_id}/records?confirm=true.
func (s *RecordServer) handlePurgeGroup(w http.ResponseWriter, r *http.Request) {
	groupID := r.PathValue("group_id")
	confirm, _ := strconv.ParseBool(r.URL.Query().Get("confirm"))
	n, err := s.PurgeGroup(r.Context(), groupID, confirm)
	if err != nil {
		s.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, api.PurgeGroupResponse{GroupID: groupID, Deleted: n})
}

// handleConfirmWindow handles POST /v1/groups/{group_id}/window/confirm.
// An empty body confirms every LOGGED record of the group.
func (s *RecordServer) handleConfirmWindow(w http.ResponseWriter, r *http.Request) {
	var req api.ConfirmWindowRequest
	if !decodeOptionalBody(w, r, &req) {
		return
	}
	res, err := s.ConfirmWindow(r.Context(), r.PathValue("group_id"), req.AllMessages())
	if err != nil {
		s.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toWindowResult(res))
}

// handleReadWindow handles GET /v1/groups/{group_id}/window.
func (s *RecordServer) handleReadWindow(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	limit, ok := queryLimit(w, r)
	if !ok {
		return
	}
	groupID := r.PathValue("group_id")
	msgs, err := s.ReadWindow(r.Context(), api.ReadWindowRequest{
		GroupID: groupID,
		Start:   q.Get("start"),
		End:     q.Get("end"),
		Limit:   limit,
	})
	if err != nil {
		s.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, api.ReadWindowResponse{GroupID: groupID, Messages: msgs})
}

// handleCloseWindow handles POST /v1/groups/{group_id}/window/close.
func (s *RecordServer) handleCloseWindow(w http.ResponseWriter, r *http.Request) {
	res, err := s.CloseWindow(r.Context(), r.PathValue("group_id"))
	if err != nil {
		s.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toWindowResult(res))
}

// handleArchiveGroup handles POST /v1/groups/{group_id}/archive.
func (s *RecordServer) handleArchiveGroup(w http.ResponseWriter, r *http.Request) {
	res, err := s.ArchiveGroup(r.Context(), r.PathValue("group_id"))
	if err != nil {
		s.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toArchiveResult(res))
}

// decodeBody reads a JSON body into v, writing a 400 on failure.
func decodeBody(w http.ResponseWriter, r *http.Request, v any) bool {
	dec := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes))
	if err := dec.Decode(v); err != nil {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("invalid request body: %v", err))
		return false
	}
	return true
}

// decodeOptionalBody is decodeBody for endpoints where an empty body is valid.
func decodeOptionalBody(w http.ResponseWriter, r *http.Request, v any) bool {
	if r.Body == nil || r.ContentLength == 0 {
		return true
	}
	err := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes)).Decode(v)
	if err != nil && !errors.Is(err, io.EOF) {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("invalid request body: %v", err))
		return false
	}
	return true
}

// queryLimit parses the optional limit query parameter.
func queryLimit(w http.ResponseWriter, r *http.Request) (int, bool) {
	v := r.URL.Query().Get("limit")
	if v == "" {
		return 0, true
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("invalid limit %q", v))
		return 0, false
	}
	return n, true
}

// httpStatus maps a service error to an HTTP status code.
func httpStatus(err error) int {
	switch {
	case isInputError(err):
		return http.StatusBadRequest
	case errors.Is(err, store.ErrNotFound):
		return http.StatusNotFound
	default:
		return http.StatusInternalServerError
	}
}

func (s *RecordServer) writeServiceError(w http.ResponseWriter, err error) {
	code := httpStatus(err)
	if code == http.StatusInternalServerError {
		s.logger.Error("request failed", "error", err)
		writeError(w, code, "internal error")
		return
	}
	writeError(w, code, err.Error())
}

// writeJSON writes a JSON response with the given status code.
func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		slog.Debug("write response", "error", err)
	}
}

// writeError writes a JSON error response.
func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, api.ErrorResponse{Error: message})
}
