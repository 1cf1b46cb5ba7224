package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/rs/zerolog/log"

	"safe-sql-sandbox/internal/assignment"
	"safe-sql-sandbox/internal/auth"
	"safe-sql-sandbox/internal/hint"
	"safe-sql-sandbox/internal/query"
	"safe-sql-sandbox/internal/sandbox"
	"safe-sql-sandbox/internal/sanitizer"
	"safe-sql-sandbox/internal/storage"
)

// QueryRunner executes and grades queries. *query.Service implements it.
type QueryRunner interface {
	Execute(ctx context.Context, assignmentID, rawQuery, userID string) (*sandbox.QueryResult, error)
	Grade(ctx context.Context, assignmentID string, got *sandbox.QueryResult) query.Correctness
}

// HintSource produces hints. *hint.Service implements it.
type HintSource interface {
	Generate(ctx context.Context, req hint.Request) (*hint.Hint, error)
}

// AttemptRecorder records attempts off the request path.
type AttemptRecorder interface {
	Log(a *storage.Attempt)
}

// AttemptHistory lists recorded attempts.
type AttemptHistory interface {
	ListAttempts(ctx context.Context, filter storage.AttemptFilter) ([]storage.Attempt, int, error)
}

type Handlers struct {
	queries  QueryRunner
	catalog  assignment.Store
	hints    HintSource
	attempts AttemptRecorder
	history  AttemptHistory
}

// NewHandlers creates the route handlers. attempts and history may be nil
// when no database is configured.
func NewHandlers(queries QueryRunner, catalog assignment.Store, hints HintSource, attempts AttemptRecorder, history AttemptHistory) *Handlers {
	return &Handlers{
		queries:  queries,
		catalog:  catalog,
		hints:    hints,
		attempts: attempts,
		history:  history,
	}
}

func (h *Handlers) HandleExecute(w http.ResponseWriter, r *http.Request) {
	var req ExecuteRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, "invalid JSON: "+err.Error(), CodeInvalidRequest, http.StatusBadRequest, r)
		return
	}

	if strings.TrimSpace(req.AssignmentID) == "" || req.Query == "" {
		writeError(w, "Missing required fields: assignmentId and query", CodeInvalidRequest, http.StatusBadRequest, r)
		return
	}

	ctx := r.Context()
	userID := auth.UserID(ctx)

	result, err := h.queries.Execute(ctx, req.AssignmentID, req.Query, userID)
	if err != nil {
		writeQueryError(w, r, err)
		return
	}

	correctness := h.queries.Grade(ctx, req.AssignmentID, result)

	if userID != "" && h.attempts != nil {
		h.attempts.Log(&storage.Attempt{
			UserID:          userID,
			AssignmentID:    req.AssignmentID,
			Query:           req.Query,
			ExecutionTimeMs: result.ExecutionTimeMs,
			RowCount:        result.RowCount,
			Correctness:     string(correctness),
			HintsUsed:       req.HintsUsed,
		})
	}

	writeJSON(w, http.StatusOK, Envelope{
		Success: true,
		Data:    ExecuteData{QueryResult: result, Correctness: string(correctness)},
	})
}

// writeQueryError maps the execution error taxonomy onto HTTP statuses.
func writeQueryError(w http.ResponseWriter, r *http.Request, err error) {
	var qe *query.Error
	if !errors.As(err, &qe) {
		log.Error().Err(err).Str("request_id", RequestIDFromContext(r.Context())).Msg("unclassified query failure")
		writeError(w, "Query execution failed", CodeInternal, http.StatusInternalServerError, r)
		return
	}

	switch qe.Kind {
	case query.KindValidation:
		writeJSON(w, http.StatusBadRequest, Envelope{
			Error:          qe.Message,
			Code:           CodeValidation,
			BlockedReasons: qe.Reasons,
			RequestID:      RequestIDFromContext(r.Context()),
		})
	case query.KindTimeout:
		writeError(w, qe.Message, CodeTimeout, http.StatusRequestTimeout, r)
	case query.KindExecution:
		writeError(w, qe.Message, CodeExecution, http.StatusUnprocessableEntity, r)
	case query.KindConnection:
		w.Header().Set("Retry-After", "1")
		writeError(w, qe.Message, CodeUnavailable, http.StatusServiceUnavailable, r)
	default:
		writeError(w, "Query execution failed", CodeInternal, http.StatusInternalServerError, r)
	}
}

// HandleValidate runs the sanitizer only.
func (h *Handlers) HandleValidate(w http.ResponseWriter, r *http.Request) {
	var req ValidateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, "invalid JSON: "+err.Error(), CodeInvalidRequest, http.StatusBadRequest, r)
		return
	}

	writeJSON(w, http.StatusOK, Envelope{Success: true, Data: sanitizer.Sanitize(req.Query)})
}

func (h *Handlers) HandleListAssignments(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	filter := assignment.Filter{
		Page:       atoiOr(q.Get("page"), 1),
		Limit:      atoiOr(q.Get("limit"), assignment.DefaultLimit),
		Difficulty: assignment.Difficulty(q.Get("difficulty")),
		Category:   q.Get("category"),
	}
	if filter.Difficulty != "" && !filter.Difficulty.Valid() {
		writeError(w, "difficulty must be easy, medium or hard", CodeInvalidRequest, http.StatusBadRequest, r)
		return
	}
	filter = filter.Normalize()

	list, total, err := h.catalog.List(r.Context(), filter)
	if err != nil {
		log.Error().Err(err).Str("request_id", RequestIDFromContext(r.Context())).Msg("listing assignments failed")
		writeError(w, "Failed to fetch assignments", CodeInternal, http.StatusInternalServerError, r)
		return
	}

	writeJSON(w, http.StatusOK, Envelope{
		Success:    true,
		Data:       list,
		Pagination: newPagination(filter.Page, filter.Limit, total),
	})
}

func (h *Handlers) HandleGetAssignment(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if id == "" {
		writeError(w, "assignment ID required", CodeInvalidRequest, http.StatusBadRequest, r)
		return
	}

	detail, err := h.catalog.Get(r.Context(), id)
	if errors.Is(err, assignment.ErrNotFound) {
		writeError(w, "Assignment not found", CodeNotFound, http.StatusNotFound, r)
		return
	}
	if err != nil {
		log.Error().Err(err).Str("assignment_id", id).Msg("fetching assignment failed")
		writeError(w, "Failed to fetch assignment", CodeInternal, http.StatusInternalServerError, r)
		return
	}

	writeJSON(w, http.StatusOK, Envelope{Success: true, Data: detail})
}

func (h *Handlers) HandleGenerateHint(w http.ResponseWriter, r *http.Request) {
	var req hint.Request
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, "invalid JSON: "+err.Error(), CodeInvalidRequest, http.StatusBadRequest, r)
		return
	}

	result, err := h.hints.Generate(r.Context(), req)
	switch {
	case errors.Is(err, hint.ErrMissingAssignment):
		writeError(w, "Missing required field: assignmentId", CodeInvalidRequest, http.StatusBadRequest, r)
		return
	case errors.Is(err, assignment.ErrNotFound):
		writeError(w, "Assignment not found", CodeNotFound, http.StatusNotFound, r)
		return
	case err != nil:
		log.Error().Err(err).Str("assignment_id", req.AssignmentID).Msg("hint generation failed")
		writeError(w, "Failed to generate hint", CodeInternal, http.StatusInternalServerError, r)
		return
	}

	writeJSON(w, http.StatusOK, Envelope{Success: true, Data: result})
}

// HandleListAttempts returns the caller's attempt history.
func (h *Handlers) HandleListAttempts(w http.ResponseWriter, r *http.Request) {
	if h.history == nil {
		writeError(w, "database not configured", CodeUnavailable, http.StatusServiceUnavailable, r)
		return
	}

	q := r.URL.Query()
	limit := atoiOr(q.Get("limit"), 20)
	if limit < 1 || limit > 100 {
		limit = 20
	}
	page := max(atoiOr(q.Get("page"), 1), 1)

	filter := storage.AttemptFilter{
		UserID:       auth.UserID(r.Context()),
		AssignmentID: q.Get("assignmentId"),
		Limit:        limit,
		Offset:       (page - 1) * limit,
	}

	attempts, total, err := h.history.ListAttempts(r.Context(), filter)
	if err != nil {
		log.Error().Err(err).Str("request_id", RequestIDFromContext(r.Context())).Msg("listing attempts failed")
		writeError(w, "Failed to fetch attempts", CodeInternal, http.StatusInternalServerError, r)
		return
	}

	writeJSON(w, http.StatusOK, Envelope{
		Success:    true,
		Data:       attempts,
		Pagination: newPagination(page, limit, total),
	})
}

func atoiOr(s string, def int) int {
	if s == "" {
		return def
	}
	n, err := strconv.Atoi(s)
	if err != nil {
		return def
	}
	return n
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Error().Err(err).Msg("failed to encode response")
	}
}

func writeError(w http.ResponseWriter, msg, code string, status int, r *http.Request) {
	resp := Envelope{
		Error:     msg,
		Code:      code,
		RequestID: RequestIDFromContext(r.Context()),
	}
	writeJSON(w, status, resp)
}
