// SPDX-License-Identifier: MIT

package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/sambitos23/walkie-lazy/internal/registry"
)

const maxBodyBytes = 64 << 10

type registerRequest struct {
	Token    string            `json:"token"`
	UserID   string            `json:"userId"`
	Metadata map[string]string `json:"metadata"`
}

type exchangeRequest struct {
	SourceToken string `json:"sourceToken"`
	TargetToken string `json:"targetToken"`
	Message     string `json:"message"`
}

type revokeRequest struct {
	Token string `json:"token"`
}

type verifyRequest struct {
	Token string `json:"token"`
}

func (s *Server) handleRegister(w http.ResponseWriter, r *http.Request) {
	var req registerRequest
	if !decode(w, r, &req) {
		return
	}
	if err := s.svc.Register(r.Context(), req.Token, req.UserID, req.Metadata); err != nil {
		s.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, successBody(r))
}

func (s *Server) handleExchange(w http.ResponseWriter, r *http.Request) {
	var req exchangeRequest
	if !decode(w, r, &req) {
		return
	}
	if req.SourceToken == "" || req.TargetToken == "" {
		writeError(w, http.StatusBadRequest, "invalid_request", "sourceToken and targetToken are required")
		return
	}
	if _, err := s.svc.Exchange(r.Context(), req.SourceToken, req.TargetToken, req.Message); err != nil {
		s.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, successBody(r))
}

func (s *Server) handleRevoke(w http.ResponseWriter, r *http.Request) {
	var req revokeRequest
	if !decode(w, r, &req) {
		return
	}
	if req.Token == "" {
		writeError(w, http.StatusBadRequest, "invalid_request", "token is required")
		return
	}
	if err := s.svc.Revoke(r.Context(), req.Token); err != nil {
		s.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, successBody(r))
}

func (s *Server) handleVerify(w http.ResponseWriter, r *http.Request) {
	var req verifyRequest
	if !decode(w, r, &req) {
		return
	}
	result := s.svc.Verify(r.Context(), req.Token)
	body := successBody(r)
	body["valid"] = result.Valid
	body["reasons"] = result.Reasons
	body["details"] = result.Details
	delete(body, "success")
	writeJSON(w, http.StatusOK, body)
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"status": "ok"})
}

func (s *Server) handleReady(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"status": "ready"})
}

// successBody is the common response envelope carrying the rate-limit
// accounting fields for the current window.
func successBody(r *http.Request) map[string]any {
	body := map[string]any{"success": true, "allowed": true}
	if res, ok := accounting(r); ok && res.Limit > 0 {
		body["limit"] = res.Limit
		body["remaining"] = res.Remaining
		body["reset"] = res.Reset.Unix()
	}
	return body
}

func decode(w http.ResponseWriter, r *http.Request, dst any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", "malformed JSON body")
		return false
	}
	return true
}

func (s *Server) writeServiceError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, registry.ErrBadRequest):
		writeError(w, http.StatusBadRequest, "invalid_request", err.Error())
	case errors.Is(err, registry.ErrInvalidToken):
		writeError(w, http.StatusBadRequest, "invalid_token", err.Error())
	default:
		s.logger.Error().Err(err).Msg("registry operation failed")
		writeError(w, http.StatusInternalServerError, "internal_error", "operation failed")
	}
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

func writeError(w http.ResponseWriter, status int, code, detail string) {
	writeJSON(w, status, map[string]any{"error": code, "detail": detail})
}
