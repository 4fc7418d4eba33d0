package httputil

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	apperrors "github.com/medimantra/telehealth/pkg/errors"
	"github.com/medimantra/telehealth/pkg/logger"
	"github.com/medimantra/telehealth/pkg/validator"
)

// MaxBodyBytes caps decoded request bodies.
const MaxBodyBytes = 1 << 20

// Response is the JSON envelope shared by every endpoint. Success flags the
// outcome; failures carry Message and Code, successes may carry Data.
type Response struct {
	Success   bool              `json:"success"`
	Message   string            `json:"message,omitempty"`
	Code      string            `json:"code,omitempty"`
	Fields    map[string]string `json:"fields,omitempty"`
	RequestID string            `json:"requestId,omitempty"`
	Data      any               `json:"data,omitempty"`
}

// WriteJSON writes a JSON response with the given status code.
func WriteJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	// Headers are already sent; nothing meaningful can be done if encoding fails.
	_ = json.NewEncoder(w).Encode(v)
}

// WriteData writes a successful envelope around data.
func WriteData(w http.ResponseWriter, status int, data any) {
	WriteJSON(w, status, Response{Success: true, Data: data})
}

// WriteAck writes a successful envelope carrying only a message.
func WriteAck(w http.ResponseWriter, status int, message string) {
	WriteJSON(w, status, Response{Success: true, Message: message})
}

// DecodeJSON reads at most MaxBodyBytes of JSON into dst and validates it.
// Decode failures are reported as InvalidInput, tag failures as *validator.ValidationError.
func DecodeJSON(w http.ResponseWriter, r *http.Request, dst any) error {
	r.Body = http.MaxBytesReader(w, r.Body, MaxBodyBytes)
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		return apperrors.InvalidInput("invalid request body: " + err.Error())
	}
	return validator.Validate(dst)
}

// WriteError writes the failure envelope for err. AppErrors keep their code,
// status and message; anything unclassified becomes a logged generic 500.
// The request-scoped logger from context is preferred over fallback.
func WriteError(w http.ResponseWriter, r *http.Request, err error, fallback *slog.Logger) {
	l := logger.FromContext(r.Context())
	if l == slog.Default() && fallback != nil {
		l = fallback
	}
	requestID := logger.CorrelationIDFromContext(r.Context())

	var valErr *validator.ValidationError
	if errors.As(err, &valErr) {
		WriteJSON(w, http.StatusBadRequest, Response{
			Message:   "request validation failed",
			Code:      apperrors.CodeValidation,
			Fields:    valErr.Fields(),
			RequestID: requestID,
		})
		return
	}

	var appErr *apperrors.AppError
	if errors.As(err, &appErr) && appErr.Status != 0 {
		if appErr.Status >= http.StatusInternalServerError {
			l.ErrorContext(r.Context(), "internal error",
				slog.String("error", err.Error()),
				slog.String("method", r.Method),
				slog.String("path", r.URL.Path),
			)
		}
		WriteJSON(w, appErr.Status, Response{
			Message:   appErr.Message,
			Code:      appErr.Code,
			RequestID: requestID,
		})
		return
	}

	status := apperrors.HTTPStatus(err)
	code := apperrors.CodeInternal
	message := "an internal error occurred"

	switch {
	case errors.Is(err, apperrors.ErrNotFound):
		code, message = apperrors.CodeNotFound, "resource not found"
	case errors.Is(err, apperrors.ErrAlreadyExists):
		code, message = apperrors.CodeAlreadyExists, "resource already exists"
	case errors.Is(err, apperrors.ErrInvalidInput):
		code, message = apperrors.CodeInvalidInput, err.Error()
	case errors.Is(err, apperrors.ErrUnauthorized):
		code, message = apperrors.CodeUnauthorized, "authentication required"
	case errors.Is(err, apperrors.ErrForbidden):
		code, message = apperrors.CodeForbidden, "insufficient permissions"
	default:
		status = http.StatusInternalServerError
	}

	if status == http.StatusInternalServerError {
		l.ErrorContext(r.Context(), "internal error",
			slog.String("error", err.Error()),
			slog.String("method", r.Method),
			slog.String("path", r.URL.Path),
		)
	}

	WriteJSON(w, status, Response{Message: message, Code: code, RequestID: requestID})
}

// NotFound answers requests for unknown routes.
func NotFound(w http.ResponseWriter, r *http.Request) {
	WriteJSON(w, http.StatusNotFound, Response{
		Message:   "resource not found",
		Code:      apperrors.CodeNotFound,
		RequestID: logger.CorrelationIDFromContext(r.Context()),
	})
}

// MethodNotAllowed answers requests whose route exists under another method.
func MethodNotAllowed(w http.ResponseWriter, r *http.Request) {
	WriteJSON(w, http.StatusMethodNotAllowed, Response{
		Message:   "method not allowed",
		Code:      "METHOD_NOT_ALLOWED",
		RequestID: logger.CorrelationIDFromContext(r.Context()),
	})
}
