package api

import (
	"safe-sql-sandbox/internal/sandbox"
)

// Envelope wraps every JSON response.
type Envelope struct {
	Success        bool        `json:"success"`
	Data           any         `json:"data,omitempty"`
	Error          string      `json:"error,omitempty"`
	Code           string      `json:"code,omitempty"`
	BlockedReasons []string    `json:"blockedReasons,omitempty"`
	Pagination     *Pagination `json:"pagination,omitempty"`
	RequestID      string      `json:"request_id,omitempty"`
}

// Pagination describes a page of a listing.
type Pagination struct {
	Page       int `json:"page"`
	Limit      int `json:"limit"`
	Total      int `json:"total"`
	TotalPages int `json:"totalPages"`
}

func newPagination(page, limit, total int) *Pagination {
	pages := 0
	if limit > 0 {
		pages = (total + limit - 1) / limit
	}
	return &Pagination{Page: page, Limit: limit, Total: total, TotalPages: pages}
}

// ExecuteRequest runs a query against an assignment's schema.
type ExecuteRequest struct {
	AssignmentID string `json:"assignmentId"`
	Query        string `json:"query"`
	HintsUsed    int    `json:"hintsUsed,omitempty"`
}

// ExecuteData is the query result plus its grade.
type ExecuteData struct {
	*sandbox.QueryResult
	Correctness string `json:"correctness"`
}

// ValidateRequest asks whether a query would be accepted.
type ValidateRequest struct {
	Query string `json:"query"`
}

// HealthResponse is returned by the health check endpoint.
type HealthResponse struct {
	Status   string `json:"status"`
	Database bool   `json:"database"`
	Sandbox  bool   `json:"sandbox"`
	LLMHints bool   `json:"llm_hints"`
	Uptime   string `json:"uptime"`
}

// Error codes carried in Envelope.Code.
const (
	CodeInvalidRequest = "INVALID_REQUEST"
	CodeValidation     = "VALIDATION_ERROR"
	CodeTimeout        = "QUERY_TIMEOUT"
	CodeExecution      = "EXECUTION_ERROR"
	CodeUnavailable    = "DB_UNAVAILABLE"
	CodeNotFound       = "NOT_FOUND"
	CodeAuthRequired   = "AUTH_REQUIRED"
	CodeRateLimited    = "RATE_LIMITED"
	CodeInternal       = "INTERNAL"
)
