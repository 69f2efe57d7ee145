package httpx

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5/middleware"

	"github.com/saunamo/configurator-api/internal/platform/requestctx"
)

const (
	maxCodeLength    = 80
	maxMessageLength = 512
	maxTraceLength   = 64
)

// Error is the JSON error envelope every endpoint returns on failure. The
// envelope is flat: code, message, and status sit next to any detail keys.
type Error struct {
	Code      string
	Message   string
	Status    int
	RequestID string
	TraceID   string
	Details   map[string]any
}

// NewError builds an Error for the given machine-readable code.
func NewError(code, message string, status int) Error {
	if status == 0 {
		status = http.StatusInternalServerError
	}
	return Error{
		Code:    clean(code, maxCodeLength),
		Message: clean(message, maxMessageLength),
		Status:  status,
	}
}

// WithRequestID overrides the request identifier echoed in the payload.
func (e Error) WithRequestID(id string) Error {
	e.RequestID = clean(id, maxCodeLength)
	return e
}

// WithTraceID overrides the trace identifier echoed in the payload.
func (e Error) WithTraceID(id string) Error {
	e.TraceID = clean(id, maxTraceLength)
	return e
}

// WithDetails merges extra keys into the top level of the envelope.
func (e Error) WithDetails(details map[string]any) Error {
	if len(details) == 0 {
		return e
	}
	merged := make(map[string]any, len(details))
	for key, value := range details {
		merged[key] = value
	}
	e.Details = merged
	return e
}

// WriteError renders the envelope, filling request and trace identifiers
// from the context when the caller did not set them.
func WriteError(ctx context.Context, w http.ResponseWriter, err Error) {
	status := err.Status
	if status == 0 {
		status = http.StatusInternalServerError
	}

	body := map[string]any{
		"error":   err.Code,
		"message": err.Message,
		"status":  status,
	}

	if id := firstNonEmpty(err.RequestID, clean(middleware.GetReqID(ctx), maxCodeLength)); id != "" {
		body["request_id"] = id
	}
	if id := firstNonEmpty(err.TraceID, clean(requestctx.TraceID(ctx), maxTraceLength)); id != "" {
		body["trace_id"] = id
	}
	for key, value := range err.Details {
		body[key] = value
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}

func clean(value string, limit int) string {
	if limit <= 0 {
		limit = 256
	}
	value = strings.NewReplacer("\n", " ", "\r", " ").Replace(value)
	value = strings.TrimSpace(value)
	if len(value) > limit {
		value = value[:limit]
	}
	return value
}
