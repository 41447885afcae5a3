package httputil

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"

	"github.com/ignite/audience-engine/internal/domain"
	"github.com/ignite/audience-engine/internal/pkg/logger"
)

// MaxBodyBytes bounds decoded request bodies.
const MaxBodyBytes = 1 << 20

// ErrorResponse is the error envelope of every API error.
type ErrorResponse struct {
	Error   string `json:"error"`
	Code    string `json:"code,omitempty"`
	Field   string `json:"field,omitempty"`
	Details any    `json:"details,omitempty"`
}

// JSON writes data with status.
func JSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		logger.Error("json encode failed", "error", err)
	}
}

func OK(w http.ResponseWriter, data any)      { JSON(w, http.StatusOK, data) }
func Created(w http.ResponseWriter, data any) { JSON(w, http.StatusCreated, data) }
func NoContent(w http.ResponseWriter)         { w.WriteHeader(http.StatusNoContent) }

// Error writes a plain error envelope.
func Error(w http.ResponseWriter, status int, message string) {
	JSON(w, status, ErrorResponse{Error: message})
}

func BadRequest(w http.ResponseWriter, message string) {
	JSON(w, http.StatusBadRequest, ErrorResponse{Error: message, Code: "bad_request"})
}

func NotFound(w http.ResponseWriter, message string) {
	JSON(w, http.StatusNotFound, ErrorResponse{Error: message, Code: "not_found"})
}

// InternalError logs err and writes a generic 500.
func InternalError(w http.ResponseWriter, err error) {
	logger.Error("internal error", "error", err)
	JSON(w, http.StatusInternalServerError, ErrorResponse{Error: "internal server error", Code: "internal"})
}

// WriteError maps err onto a status code:
//
//	*domain.ValidationError  400
//	*domain.NotFoundError    404
//	*domain.ConflictError    409
//	*domain.TranslationError 422
//	*domain.StoreError       503
//	anything else            500
func WriteError(w http.ResponseWriter, err error) {
	var (
		ve *domain.ValidationError
		nf *domain.NotFoundError
		ce *domain.ConflictError
		te *domain.TranslationError
		se *domain.StoreError
	)
	switch {
	case errors.As(err, &ve):
		JSON(w, http.StatusBadRequest, ErrorResponse{Error: ve.Error(), Code: "validation", Field: ve.Field})
	case errors.As(err, &nf):
		JSON(w, http.StatusNotFound, ErrorResponse{Error: nf.Error(), Code: "not_found"})
	case errors.As(err, &ce):
		JSON(w, http.StatusConflict, ErrorResponse{Error: ce.Error(), Code: "conflict", Details: map[string]string{"state": ce.State}})
	case errors.As(err, &te):
		JSON(w, http.StatusUnprocessableEntity, ErrorResponse{Error: te.Error(), Code: "translation"})
	case errors.As(err, &se):
		logger.Error("store unavailable", "op", se.Op, "error", se.Err)
		JSON(w, http.StatusServiceUnavailable, ErrorResponse{Error: "store unavailable", Code: "store"})
	case errors.Is(err, context.DeadlineExceeded):
		JSON(w, http.StatusGatewayTimeout, ErrorResponse{Error: "request timed out", Code: "timeout"})
	default:
		InternalError(w, err)
	}
}

// Decode reads a JSON body into dst. It writes a 400 and returns false on
// malformed input.
func Decode(w http.ResponseWriter, r *http.Request, dst any) bool {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, MaxBodyBytes))
	if err := dec.Decode(dst); err != nil {
		if errors.Is(err, io.EOF) {
			BadRequest(w, "request body is required")
			return false
		}
		BadRequest(w, fmt.Sprintf("invalid JSON: %v", err))
		return false
	}
	return true
}
