package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"
)

// Error kinds reported in the error envelope.
const (
	kindBadRequest   = "bad_request"
	kindUnauthorized = "unauthorized"
	kindForbidden    = "forbidden"
	kindNotFound     = "not_found"
	kindInternal     = "internal_server_error"
)

type errorBody struct {
	Error errorDetail `json:"error"`
}

type errorDetail struct {
	Kind    string `json:"kind"`
	Message string `json:"message"`
}

func respondJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if payload == nil {
		return
	}
	_ = json.NewEncoder(w).Encode(payload)
}

func respondError(w http.ResponseWriter, status int, err error) {
	if err == nil {
		err = errors.New("unknown error")
	}
	respondJSON(w, status, errorBody{Error: errorDetail{Kind: kindFor(status), Message: err.Error()}})
}

// internalError logs err and answers without exposing it.
func (a *API) internalError(w http.ResponseWriter, r *http.Request, err error) {
	a.log.Error().Err(err).
		Str("method", r.Method).
		Str("path", r.URL.Path).
		Str("request_id", requestID(r)).
		Msg("request failed")
	respondError(w, http.StatusInternalServerError, errors.New("internal server error"))
}

func kindFor(status int) string {
	switch status {
	case http.StatusBadRequest, http.StatusRequestEntityTooLarge:
		return kindBadRequest
	case http.StatusUnauthorized:
		return kindUnauthorized
	case http.StatusForbidden:
		return kindForbidden
	case http.StatusNotFound:
		return kindNotFound
	default:
		return kindInternal
	}
}

func withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, 5*time.Second)
}
