// Package httpx holds the JSON request and response helpers shared by every HTTP handler.
package httpx

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/Svyat0y/form-builder-backend/internal/apperr"
)

// maxBodyBytes caps request bodies read by DecodeJSON.
const maxBodyBytes = 1 << 20

const internalMessage = "Internal server error"

// ErrorBody is the JSON envelope of every failed request.
type ErrorBody struct {
	StatusCode int    `json:"statusCode"`
	Message    string `json:"message"`
	Timestamp  string `json:"timestamp"`
	Path       string `json:"path"`
}

// MessageBody is the response of endpoints that only acknowledge.
type MessageBody struct {
	Message string `json:"message"`
}

// WriteJSON writes payload with status as JSON.
func WriteJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

// WriteMessage writes {message} with 200.
func WriteMessage(w http.ResponseWriter, message string) {
	WriteJSON(w, http.StatusOK, MessageBody{Message: message})
}

// WriteError maps err to its status and writes the error envelope. Errors that are not
// *apperr.Error are reported as a generic 500; their detail goes to the log only.
func WriteError(w http.ResponseWriter, r *http.Request, log *zap.Logger, err error) {
	if log == nil {
		log = zap.NewNop()
	}
	kind := apperr.KindOf(err)
	status := apperr.HTTPStatus(kind)
	message := internalMessage
	var ae *apperr.Error
	if errors.As(err, &ae) && kind != apperr.Internal {
		message = ae.Message
	}

	fields := []zap.Field{
		zap.String("method", r.Method),
		zap.String("path", r.URL.Path),
		zap.Int("status", status),
		zap.String("kind", kind.String()),
		zap.Error(err),
	}
	switch {
	case status >= http.StatusInternalServerError, kind == apperr.SecurityViolation:
		log.Error("request failed", fields...)
	default:
		log.Debug("request rejected", fields...)
	}

	WriteJSON(w, status, ErrorBody{
		StatusCode: status,
		Message:    message,
		Timestamp:  time.Now().UTC().Format(time.RFC3339Nano),
		Path:       r.URL.Path,
	})
}

// DecodeJSON reads a single JSON object from the request body into dst. Unknown fields are
// rejected. Every failure is an Invalid error.
func DecodeJSON(r *http.Request, dst any) error {
	if r.Body == nil {
		return apperr.Invalidf("Request body is required")
	}
	dec := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		if errors.Is(err, io.EOF) {
			return apperr.Invalidf("Request body is required")
		}
		return apperr.Wrap(apperr.Invalid, "Malformed JSON body", err)
	}
	if dec.More() {
		return apperr.Invalidf("Request body must contain a single JSON object")
	}
	return nil
}

// ErrInternal wraps an unexpected failure so WriteError hides its detail.
func ErrInternal(format string, args ...any) error {
	return apperr.Wrap(apperr.Internal, internalMessage, fmt.Errorf(format, args...))
}
