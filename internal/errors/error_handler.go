package errors

import (
	"encoding/json"
	stderrors "errors"
	"net/http"

	"go.uber.org/zap"
)

// ErrorResponse represents the standard error response format.
type ErrorResponse struct {
	Status    string                 `json:"status"`
	ErrorCode string                 `json:"error_code"`
	Message   string                 `json:"message"`
	Details   map[string]interface{} `json:"details,omitempty"`
	RequestID string                 `json:"request_id,omitempty"`
}

// Handler provides error handling utilities for HTTP responses.
type Handler struct {
	logger *zap.Logger
}

// NewHandler creates a new error handler.
func NewHandler(logger *zap.Logger) *Handler {
	return &Handler{
		logger: logger,
	}
}

// HandleError converts an error to the HTTP error response. Errors that are
// not SyncErrors are reported as internal errors.
func (h *Handler) HandleError(w http.ResponseWriter, r *http.Request, err error) {
	requestID := r.Header.Get("X-Request-ID")

	se, ok := asSyncError(err)
	if !ok {
		h.logger.Error("Unhandled error",
			zap.Error(err),
			zap.String("request_id", requestID))
		h.WriteErrorResponse(w, http.StatusInternalServerError, ErrCodeInternal.String(), "internal error", nil, requestID)
		return
	}

	h.WriteErrorResponse(w, se.HTTPStatus(), se.Code.String(), se.Error(), se.Details, requestID)
}

// WriteErrorResponse writes a JSON error response.
func (h *Handler) WriteErrorResponse(w http.ResponseWriter, statusCode int, errorCode string, message string, details map[string]interface{}, requestID string) {
	h.logger.Warn("HTTP error response",
		zap.Int("status_code", statusCode),
		zap.String("error_code", errorCode),
		zap.String("message", message),
		zap.String("request_id", requestID),
	)

	if len(details) == 0 {
		details = nil
	}

	resp := ErrorResponse{
		Status:    "error",
		ErrorCode: errorCode,
		Message:   message,
		Details:   details,
		RequestID: requestID,
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	json.NewEncoder(w).Encode(resp)
}

// WriteValidationError writes a 400 Bad Request error.
func (h *Handler) WriteValidationError(w http.ResponseWriter, message string, requestID string) {
	h.WriteErrorResponse(w, http.StatusBadRequest, ErrCodeInvalidArgument.String(), message, nil, requestID)
}

// WriteRateLimitedError writes a 429 Too Many Requests error.
func (h *Handler) WriteRateLimitedError(w http.ResponseWriter, requestID string) {
	h.WriteErrorResponse(w, http.StatusTooManyRequests, "RATE_LIMITED", "rate limit exceeded", nil, requestID)
}

func asSyncError(err error) (*SyncError, bool) {
	var se *SyncError
	if err == nil || !stderrors.As(err, &se) {
		return nil, false
	}
	return se, true
}
