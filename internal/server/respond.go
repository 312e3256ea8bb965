package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"

	"github.com/go-chi/chi/v5/middleware"

	"github.com/slok/taskdash/internal/apperror"
	"github.com/slok/taskdash/internal/log"
	"github.com/slok/taskdash/internal/model"
)

const maxBodyBytes = 1 << 20

type errorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message"`
	Details string `json:"details,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// writeError logs the raw error and answers with the classified kind and its
// fixed message. Validation errors also carry the failed rule.
func (s *Server) writeError(w http.ResponseWriter, r *http.Request, where string, err error) {
	logger := s.logger.WithValues(log.Kv{"request-id": middleware.GetReqID(r.Context())})
	kind := apperror.Handle(logger, where, err)

	resp := errorResponse{Error: string(kind), Message: kind.Message()}
	if kind == apperror.KindValidation {
		resp.Details = err.Error()
	}
	writeJSON(w, kind.Status(), resp)
}

func decodeJSON(r *http.Request, v any) error {
	dec := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		if errors.Is(err, io.EOF) {
			return fmt.Errorf("request body is required: %w", model.ErrNotValid)
		}
		return fmt.Errorf("invalid request body: %s: %w", err, model.ErrNotValid)
	}
	return nil
}
