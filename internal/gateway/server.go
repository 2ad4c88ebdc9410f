// Package gateway is the public HTTP ingress: it terminates the signed API,
// verifies Ed25519 request signatures, and forwards to the core service over
// the typed RPC client.
package gateway

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"

	"github.com/google/uuid"

	"github.com/zaebee/aura/internal/config"
	"github.com/zaebee/aura/internal/logger"
	"github.com/zaebee/aura/internal/rpc"
)

const maxBodyBytes = 1 << 20

// Server is the gateway HTTP server.
type Server struct {
	cfg      *config.Config
	core     *rpc.Client
	verifier *Verifier
	version  string
}

// NewServer wires the gateway over the core client.
func NewServer(cfg *config.Config, core *rpc.Client, version string) *Server {
	return &Server{
		cfg:      cfg,
		core:     core,
		verifier: NewVerifier(cfg.Security.TimestampToleranceSeconds),
		version:  version,
	}
}

// Handler returns the HTTP handler with all public routes.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /v1/negotiate", s.signed(s.handleNegotiate))
	mux.HandleFunc("POST /v1/search", s.signed(s.handleSearch))
	mux.HandleFunc("GET /v1/system/status", s.signed(s.handleSystemStatus))
	mux.HandleFunc("GET /v1/deals/{id}", s.signed(s.handleDealStatus))
	mux.HandleFunc("GET /healthz", s.handleHealthz)
	mux.HandleFunc("GET /readyz", s.handleReadyz)
	mux.HandleFunc("GET /health", s.handleHealth)
	return mux
}

// signedRequest carries the verified identity and raw body into a handler.
type signedRequest struct {
	did       string
	requestID string
	body      []byte
}

// signed verifies the signature headers, assigns the request id, and hands
// the verified DID to the handler.
func (s *Server) signed(next func(http.ResponseWriter, *http.Request, *signedRequest)) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		requestID := r.Header.Get(rpc.RequestIDHeader)
		if requestID == "" {
			requestID = uuid.NewString()
		}

		body, err := io.ReadAll(io.LimitReader(r.Body, maxBodyBytes))
		if err != nil {
			writeError(w, http.StatusBadRequest, "unreadable body")
			return
		}

		did, err := s.verifier.Verify(
			r.Method, r.URL.Path,
			r.Header.Get(HeaderAgentID),
			r.Header.Get(HeaderTimestamp),
			r.Header.Get(HeaderSignature),
			body,
		)
		if err != nil {
			var authErr *AuthError
			if errors.As(err, &authErr) {
				logger.Event("GATEWAY", "auth_rejected", map[string]interface{}{
					"request_id": requestID, "path": r.URL.Path, "reason": authErr.Reason,
				})
				writeError(w, http.StatusUnauthorized, authErr.Reason)
				return
			}
			writeError(w, http.StatusUnauthorized, "unauthorized")
			return
		}

		next(w, r, &signedRequest{did: did, requestID: requestID, body: body})
	}
}

func (s *Server) handleNegotiate(w http.ResponseWriter, r *http.Request, sr *signedRequest) {
	var req rpc.NegotiateRequest
	if err := json.Unmarshal(sr.body, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid json")
		return
	}
	// The verified identity always wins over anything in the body.
	req.AgentDID = sr.did

	resp, err := s.core.Negotiate(r.Context(), &req, sr.requestID)
	if err != nil {
		s.writeCoreError(w, sr.requestID, err)
		return
	}
	writeJSON(w, publicNegotiation(resp))
}

// publicNegotiation maps the core response onto the public contract:
// accepted, countered, and rejected payloads ride under data, escalations
// under action_required with template/context keys.
func publicNegotiation(resp *rpc.NegotiateResponse) map[string]interface{} {
	out := map[string]interface{}{
		"session_token": resp.SessionToken,
		"status":        resp.Status,
		"valid_until":   resp.ValidUntil,
	}
	switch {
	case resp.Accepted != nil:
		out["data"] = resp.Accepted
	case resp.Countered != nil:
		out["data"] = resp.Countered
	case resp.Rejected != nil:
		out["data"] = resp.Rejected
	case resp.UIRequired != nil:
		context := resp.UIRequired.ContextData
		if context == nil {
			context = map[string]string{}
		}
		out["action_required"] = map[string]interface{}{
			"template": resp.UIRequired.TemplateID,
			"context":  context,
		}
	}
	return out
}

func (s *Server) handleSearch(w http.ResponseWriter, r *http.Request, sr *signedRequest) {
	var req rpc.SearchRequest
	if err := json.Unmarshal(sr.body, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid json")
		return
	}
	resp, err := s.core.Search(r.Context(), &req, sr.requestID)
	if err != nil {
		s.writeCoreError(w, sr.requestID, err)
		return
	}
	writeJSON(w, resp)
}

func (s *Server) handleSystemStatus(w http.ResponseWriter, r *http.Request, sr *signedRequest) {
	resp, err := s.core.GetSystemStatus(r.Context(), sr.requestID)
	if err != nil {
		s.writeCoreError(w, sr.requestID, err)
		return
	}
	writeJSON(w, resp)
}

func (s *Server) handleDealStatus(w http.ResponseWriter, r *http.Request, sr *signedRequest) {
	dealID := r.PathValue("id")
	if _, err := uuid.Parse(dealID); err != nil {
		writeError(w, http.StatusBadRequest, "deal id must be a UUID")
		return
	}
	resp, err := s.core.CheckDealStatus(r.Context(), dealID, sr.requestID)
	if err != nil {
		s.writeCoreError(w, sr.requestID, err)
		return
	}
	writeJSON(w, resp)
}

// writeCoreError maps a core status onto the public response. Core status
// codes already follow HTTP semantics, so they pass through; transport
// failures become 500.
func (s *Server) writeCoreError(w http.ResponseWriter, requestID string, err error) {
	var statusErr *rpc.StatusError
	if errors.As(err, &statusErr) {
		writeError(w, statusErr.Code, statusErr.Message)
		return
	}
	logger.Error("GATEWAY", fmt.Sprintf("core call failed request_id=%s: %v", requestID, err))
	writeError(w, http.StatusInternalServerError, "core unavailable")
}

func writeJSON(w http.ResponseWriter, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, code int, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(rpc.ErrorResponse{Error: msg})
}
