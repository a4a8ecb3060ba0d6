package server

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/48Nauts-Operator/lineary/internal/sprint"
	"github.com/48Nauts-Operator/lineary/internal/store"
	"github.com/48Nauts-Operator/lineary/internal/webhook"
	"go.uber.org/zap"
)

// errorBody is the envelope every non-2xx response carries. Messages
// describe what failed, never the secret or payload that failed it.
type errorBody struct {
	Error struct {
		Kind    string `json:"kind"`
		Message string `json:"message"`
	} `json:"error"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, kind, message string) {
	var body errorBody
	body.Error.Kind = kind
	body.Error.Message = message
	writeJSON(w, status, body)
}

// respondError maps package sentinels to status codes and error kinds.
// Anything unmatched is a 502 downstream failure, logged server-side
// with the detail the client does not get.
func (s *Server) respondError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, webhook.ErrBadSignature):
		writeError(w, http.StatusUnauthorized, "auth", "signature verification failed")
	case errors.Is(err, webhook.ErrMissingHeader), errors.Is(err, webhook.ErrInvalidPayload):
		writeError(w, http.StatusBadRequest, "validation", err.Error())
	case errors.Is(err, webhook.ErrUnknownHost):
		writeError(w, http.StatusNotFound, "not_found", err.Error())
	case errors.Is(err, sprint.ErrNoSession), errors.Is(err, store.ErrNotFound):
		writeError(w, http.StatusNotFound, "not_found", err.Error())
	case errors.Is(err, sprint.ErrSessionActive),
		errors.Is(err, sprint.ErrSessionNotActive),
		errors.Is(err, sprint.ErrOutOfOrder):
		writeError(w, http.StatusConflict, "conflict", err.Error())
	case errors.Is(err, sprint.ErrEmptySprint):
		writeError(w, http.StatusBadRequest, "validation", err.Error())
	default:
		s.log.Error("request failed", zap.Error(err))
		writeError(w, http.StatusBadGateway, "downstream", "request could not be completed")
	}
}
