package httpclient

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	apperrors "github.com/medimantra/telehealth/pkg/errors"
	"github.com/medimantra/telehealth/pkg/httputil"
)

// ParseResponseError consumes and closes the body of a non-2xx response and
// returns it as an *apperrors.AppError carrying the response status. A
// {success:false, message, code} body keeps its message and code; anything
// else gets a message derived from the status.
func ParseResponseError(resp *http.Response, serviceName string) error {
	defer func() { _ = resp.Body.Close() }()

	body, err := io.ReadAll(io.LimitReader(resp.Body, httputil.MaxBodyBytes))
	if err != nil {
		return apperrors.Transport(fmt.Errorf("%s: read error body (status %d): %w", serviceName, resp.StatusCode, err))
	}

	var envelope httputil.Response
	if json.Unmarshal(body, &envelope) != nil || envelope.Message == "" {
		envelope = httputil.Response{}
	}
	return mapResponseError(resp.StatusCode, envelope)
}

// mapResponseError attaches the sentinel matching status so callers can use
// errors.Is regardless of the code the server chose.
func mapResponseError(status int, envelope httputil.Response) error {
	code, message := envelope.Code, envelope.Message
	if message == "" {
		message = http.StatusText(status)
	}

	var sentinel error
	switch {
	case status == http.StatusBadRequest:
		sentinel, code = apperrors.ErrInvalidInput, orDefault(code, apperrors.CodeInvalidInput)
	case status == http.StatusUnauthorized:
		sentinel, code = apperrors.ErrUnauthorized, orDefault(code, apperrors.CodeUnauthorized)
	case status == http.StatusForbidden:
		sentinel, code = apperrors.ErrForbidden, orDefault(code, apperrors.CodeForbidden)
	case status == http.StatusNotFound:
		sentinel, code = apperrors.ErrNotFound, orDefault(code, apperrors.CodeNotFound)
	case status == http.StatusConflict:
		sentinel, code = apperrors.ErrConflict, orDefault(code, apperrors.CodeConflict)
	case status == http.StatusServiceUnavailable:
		sentinel, code = apperrors.ErrServiceUnavail, orDefault(code, apperrors.CodeUnavailable)
	case status >= http.StatusInternalServerError:
		sentinel, code = apperrors.ErrInternal, orDefault(code, apperrors.CodeInternal)
	}

	return &apperrors.AppError{
		Code:    code,
		Message: message,
		Status:  status,
		Err:     sentinel,
	}
}

func orDefault(v, def string) string {
	if v == "" {
		return def
	}
	return v
}

// IsClientError returns true if the HTTP status code is a 4xx client error.
func IsClientError(status int) bool {
	return status >= 400 && status < 500
}
