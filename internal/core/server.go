// Package core serves the negotiation RPC surface over HTTP/JSON on the
// internal port, with gRPC-style status semantics: 400 INVALID_ARGUMENT,
// 500 INTERNAL, 501 UNIMPLEMENTED, 503 UNAVAILABLE.
package core

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/zaebee/aura/internal/config"
	"github.com/zaebee/aura/internal/embedding"
	"github.com/zaebee/aura/internal/hive"
	"github.com/zaebee/aura/internal/logger"
	"github.com/zaebee/aura/internal/market"
	"github.com/zaebee/aura/internal/rpc"
	"github.com/zaebee/aura/internal/store"
	"github.com/zaebee/aura/internal/telemetry"
)

// Server is the core RPC server binding the pipeline, market, store, and
// telemetry together.
type Server struct {
	cfg        *config.Config
	metabolism *hive.Metabolism
	market     *market.Market // nil when crypto-lock is disabled
	store      *store.Store
	telemetry  *telemetry.Cache
	embedder   *embedding.Client

	// Worker budget: a full semaphore turns new RPCs away with 503.
	sem chan struct{}
}

// NewServer wires the core server. mkt is nil when crypto-lock is disabled.
func NewServer(cfg *config.Config, met *hive.Metabolism, mkt *market.Market, st *store.Store, tc *telemetry.Cache, emb *embedding.Client) *Server {
	return &Server{
		cfg:        cfg,
		metabolism: met,
		market:     mkt,
		store:      st,
		telemetry:  tc,
		embedder:   emb,
		sem:        make(chan struct{}, cfg.Server.GRPCMaxWorkers),
	}
}

// Handler returns the HTTP handler with all RPC routes.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /rpc/v1/negotiate", s.budget(s.handleNegotiate))
	mux.HandleFunc("POST /rpc/v1/search", s.budget(s.handleSearch))
	mux.HandleFunc("GET /rpc/v1/system/status", s.budget(s.handleSystemStatus))
	mux.HandleFunc("GET /rpc/v1/deals/{id}", s.budget(s.handleDealStatus))
	mux.HandleFunc("GET /rpc/v1/health", s.handleHealth)
	mux.Handle("GET /metrics", promhttp.Handler())
	return mux
}

// budget enforces the configured concurrent-worker limit. Health stays
// outside the budget so probes keep answering under load.
func (s *Server) budget(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		select {
		case s.sem <- struct{}{}:
			defer func() { <-s.sem }()
			next(w, r)
		default:
			writeError(w, http.StatusServiceUnavailable, "worker budget exhausted")
		}
	}
}

func (s *Server) handleNegotiate(w http.ResponseWriter, r *http.Request) {
	requestID := r.Header.Get(rpc.RequestIDHeader)
	if requestID == "" {
		requestID = uuid.NewString()
	}

	var req rpc.NegotiateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid json")
		return
	}

	resp, err := s.metabolism.Negotiate(r.Context(), &req, requestID)
	switch {
	case errors.Is(err, hive.ErrInitializing):
		writeError(w, http.StatusServiceUnavailable, err.Error())
	case errors.Is(err, hive.ErrInvalidBid):
		writeError(w, http.StatusBadRequest, err.Error())
	case err != nil:
		logger.Error("CORE", fmt.Sprintf("negotiate failed request_id=%s: %v", requestID, err))
		writeError(w, http.StatusInternalServerError, "internal error")
	default:
		writeJSON(w, resp)
	}
}

func (s *Server) handleSearch(w http.ResponseWriter, r *http.Request) {
	requestID := r.Header.Get(rpc.RequestIDHeader)

	var req rpc.SearchRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid json")
		return
	}
	if req.Query == "" {
		writeError(w, http.StatusBadRequest, "query is required")
		return
	}
	if req.Limit <= 0 {
		req.Limit = 3
	}

	vecs, _, err := s.embedder.Embed(r.Context(), []string{req.Query})
	if err != nil || len(vecs) != 1 {
		writeError(w, http.StatusInternalServerError, "embedding failed")
		return
	}
	hits, err := s.store.SearchByVector(r.Context(), vecs[0], req.Limit, req.MinSimilarity)
	if err != nil {
		logger.Error("CORE", fmt.Sprintf("search failed request_id=%s: %v", requestID, err))
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}

	resp := rpc.SearchResponse{Results: make([]rpc.SearchResult, 0, len(hits))}
	for _, hit := range hits {
		resp.Results = append(resp.Results, rpc.SearchResult{
			ItemID:             hit.Item.ID,
			Name:               hit.Item.Name,
			BasePrice:          hit.Item.BasePrice,
			SimilarityScore:    hit.Score,
			DescriptionSnippet: metaSnippet(hit.Item.Meta),
		})
	}
	writeJSON(w, resp)
}

func (s *Server) handleSystemStatus(w http.ResponseWriter, r *http.Request) {
	snap := s.telemetry.Get(r.Context())
	writeJSON(w, rpc.SystemStatus{
		Status:     snap.Status,
		CPUPercent: snap.CPUPercent,
		MemoryMB:   snap.MemoryMB,
		Timestamp:  snap.FetchedAt.Unix(),
		Cached:     snap.Cached,
	})
}

func (s *Server) handleDealStatus(w http.ResponseWriter, r *http.Request) {
	if s.market == nil {
		writeError(w, http.StatusNotImplemented, "crypto-lock mode is disabled")
		return
	}
	dealID := r.PathValue("id")
	if _, err := uuid.Parse(dealID); err != nil {
		writeError(w, http.StatusBadRequest, "deal_id must be a UUID")
		return
	}

	status, err := s.market.CheckStatus(r.Context(), dealID)
	if errors.Is(err, market.ErrDealNotFound) {
		writeJSON(w, rpc.DealStatusResponse{Status: "NOT_FOUND"})
		return
	}
	if err != nil {
		logger.Error("CORE", fmt.Sprintf("deal status failed deal_id=%s: %v", dealID, err))
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}

	resp := rpc.DealStatusResponse{Status: status.Status}
	if status.Secret != "" {
		resp.Secret = &rpc.DealSecret{ReservationCode: status.Secret}
	}
	if status.Proof != nil {
		resp.Proof = &rpc.DealProof{
			TransactionHash: status.Proof.TxHash,
			Block:           status.Proof.Block,
			FromAddress:     status.Proof.FromAddress,
			ConfirmedAt:     status.Proof.ConfirmedAt.Unix(),
		}
	}
	if status.Instructions != nil {
		resp.PaymentInstructions = &rpc.CryptoPayment{
			WalletAddress: status.Instructions.WalletAddress,
			Amount:        status.Instructions.Amount,
			Currency:      status.Instructions.Currency,
			Memo:          status.Instructions.Memo,
			Network:       status.Instructions.Network,
			ExpiresAt:     status.Instructions.ExpiresAt.Unix(),
			DealID:        status.Instructions.DealID,
		}
	}
	writeJSON(w, resp)
}

// handleHealth runs the real store probe so readiness reflects the primary
// dependency, not just process liveness.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if err := s.store.Health(r.Context()); err != nil {
		logger.Error("CORE", fmt.Sprintf("health probe failed: %v", err))
		writeError(w, http.StatusServiceUnavailable, "store unavailable")
		return
	}
	if !s.metabolism.Ready() {
		writeError(w, http.StatusServiceUnavailable, "initializing")
		return
	}
	writeJSON(w, rpc.HealthResponse{Status: "SERVING"})
}

// metaSnippet renders a short description from the item meta for search
// results, leaving out internal pricing fields.
func metaSnippet(meta map[string]interface{}) string {
	if len(meta) == 0 {
		return ""
	}
	public := make(map[string]interface{}, len(meta))
	for k, v := range meta {
		if k == "internal_cost" || k == "value_add_inventory" {
			continue
		}
		public[k] = v
	}
	raw, err := json.Marshal(public)
	if err != nil {
		return ""
	}
	const maxSnippet = 200
	s := string(raw)
	if len(s) > maxSnippet {
		s = s[:maxSnippet] + "..."
	}
	return s
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
