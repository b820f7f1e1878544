package handler

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/IANDYI/progress-service/internal/adapters/middleware"
	"github.com/IANDYI/progress-service/internal/core/domain"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Error codes for failures that are not field validation
const (
	codeNotFound           = "NotFound"
	codeStorageUnavailable = "StorageUnavailable"
	codeDeadlineExceeded   = "DeadlineExceeded"
	codeIntegrity          = "IntegrityViolation"
	codeSchemaDrift        = "SchemaDrift"
	codeInternal           = "Internal"
	codeBadRequest         = "BadRequest"
)

// errorBody is the only error shape the API returns
type errorBody struct {
	Errors []domain.FieldError `json:"errors"`
}

// generateRequestID generates a unique request ID for tracing
func generateRequestID() string {
	return uuid.NewString()
}

// logRequest logs one structured line per request
func logRequest(logger *zap.Logger, requestID string, r *http.Request, statusCode int, start time.Time) {
	userID, _ := middleware.GetUserID(r.Context())
	role, _ := middleware.GetRole(r.Context())

	fields := []zap.Field{
		zap.String("request_id", requestID),
		zap.String("user_id", userID),
		zap.String("role", role),
		zap.String("method", r.Method),
		zap.String("endpoint", r.URL.Path),
		zap.Int("status_code", statusCode),
		zap.Int64("duration_ms", time.Since(start).Milliseconds()),
	}
	switch {
	case statusCode >= 500:
		logger.Error("request failed", fields...)
	case statusCode >= 400:
		logger.Warn("request rejected", fields...)
	default:
		logger.Info("request completed", fields...)
	}
}

// writeJSON writes a JSON response body
func writeJSON(w http.ResponseWriter, status int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

// writeErrors writes the error body
func writeErrors(w http.ResponseWriter, status int, errs ...domain.FieldError) {
	writeJSON(w, status, errorBody{Errors: errs})
}

// badRequest reports a malformed parameter
func badRequest(field, message string) domain.FieldError {
	return domain.FieldError{Field: field, Code: codeBadRequest, Message: message}
}

// errorResponse maps a service error onto its status code and body
func errorResponse(err error) (int, []domain.FieldError) {
	var verr *domain.ValidationError
	switch {
	case errors.As(err, &verr):
		return http.StatusBadRequest, verr.Errors
	case errors.Is(err, domain.ErrUnknownCondition):
		return http.StatusBadRequest, []domain.FieldError{{
			Field: "condition_type", Code: domain.CodeUnknownCondition, Message: err.Error(),
		}}
	case errors.Is(err, domain.ErrNotFound):
		return http.StatusNotFound, []domain.FieldError{{Code: codeNotFound, Message: "entry not found"}}
	case errors.Is(err, domain.ErrStorageUnavailable):
		return http.StatusServiceUnavailable, []domain.FieldError{{Code: codeStorageUnavailable, Message: "storage unavailable, retry later"}}
	case errors.Is(err, domain.ErrDeadlineExceeded):
		return http.StatusServiceUnavailable, []domain.FieldError{{Code: codeDeadlineExceeded, Message: "request timed out"}}
	case errors.Is(err, domain.ErrIntegrityViolation):
		return http.StatusInternalServerError, []domain.FieldError{{Code: codeIntegrity, Message: "entry violates a storage constraint"}}
	case errors.Is(err, domain.ErrSchemaDrift):
		return http.StatusInternalServerError, []domain.FieldError{{Code: codeSchemaDrift, Message: "storage schema does not match the condition registry"}}
	default:
		return http.StatusInternalServerError, []domain.FieldError{{Code: codeInternal, Message: "internal server error"}}
	}
}

// failureCode labels a failed submission for metrics
func failureCode(errs []domain.FieldError) string {
	if len(errs) == 0 {
		return codeInternal
	}
	return string(errs[0].Code)
}
