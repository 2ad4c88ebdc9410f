package gateway

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/zaebee/aura/internal/config"
	"github.com/zaebee/aura/internal/rpc"
)

// fakeCore stands in for the core service.
type fakeCore struct {
	healthStatus  int
	healthDelay   time.Duration
	lastNegotiate *rpc.NegotiateRequest

	// Overrides the default accepted reply when set.
	negotiateResponse *rpc.NegotiateResponse
}

func (f *fakeCore) handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /rpc/v1/health", func(w http.ResponseWriter, r *http.Request) {
		if f.healthDelay > 0 {
			time.Sleep(f.healthDelay)
		}
		if f.healthStatus != 0 && f.healthStatus != http.StatusOK {
			w.WriteHeader(f.healthStatus)
			json.NewEncoder(w).Encode(rpc.ErrorResponse{Error: "store unavailable"})
			return
		}
		json.NewEncoder(w).Encode(rpc.HealthResponse{Status: "SERVING"})
	})
	mux.HandleFunc("POST /rpc/v1/negotiate", func(w http.ResponseWriter, r *http.Request) {
		var req rpc.NegotiateRequest
		json.NewDecoder(r.Body).Decode(&req)
		f.lastNegotiate = &req
		if f.negotiateResponse != nil {
			json.NewEncoder(w).Encode(f.negotiateResponse)
			return
		}
		json.NewEncoder(w).Encode(rpc.NegotiateResponse{
			SessionToken: "sess_" + r.Header.Get(rpc.RequestIDHeader),
			Status:       "accepted",
			ValidUntil:   time.Now().Add(10 * time.Minute).Unix(),
			Accepted:     &rpc.Accepted{FinalPrice: req.BidAmount, ReservationCode: "RES-abc123def456"},
		})
	})
	mux.HandleFunc("GET /rpc/v1/deals/{id}", func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(rpc.DealStatusResponse{Status: "PENDING"})
	})
	return mux
}

func testGateway(t *testing.T, core *fakeCore) *Server {
	t.Helper()
	coreSrv := httptest.NewServer(core.handler())
	t.Cleanup(coreSrv.Close)

	cfg := &config.Config{}
	cfg.Server.CoreAddr = coreSrv.URL
	cfg.Server.HealthTimeoutSecs = 1
	cfg.Security.TimestampToleranceSeconds = 60
	return NewServer(cfg, rpc.NewClient(coreSrv.URL, 5*time.Second), "test")
}

func TestHealthz_AlwaysOK(t *testing.T) {
	srv := testGateway(t, &fakeCore{})
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/healthz", nil))
	if rec.Code != 200 {
		t.Fatalf("code = %d, want 200", rec.Code)
	}
	var body map[string]string
	json.Unmarshal(rec.Body.Bytes(), &body)
	if body["status"] != "ok" {
		t.Errorf("status = %q, want ok", body["status"])
	}
}

func TestReadyz_Ready(t *testing.T) {
	srv := testGateway(t, &fakeCore{})
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/readyz", nil))
	if rec.Code != 200 {
		t.Fatalf("code = %d, want 200", rec.Code)
	}
}

func TestReadyz_CoreDown(t *testing.T) {
	srv := testGateway(t, &fakeCore{healthStatus: 503})
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/readyz", nil))
	if rec.Code != 503 {
		t.Fatalf("code = %d, want 503", rec.Code)
	}
	var body struct {
		Status       string            `json:"status"`
		Dependencies map[string]string `json:"dependencies"`
	}
	json.Unmarshal(rec.Body.Bytes(), &body)
	if body.Status != "not_ready" {
		t.Errorf("status = %q, want not_ready", body.Status)
	}
	if body.Dependencies["core_service"] != "error" {
		t.Errorf("core_service = %q, want error", body.Dependencies["core_service"])
	}
}

func TestReadyz_CoreTimeout(t *testing.T) {
	srv := testGateway(t, &fakeCore{healthDelay: 2 * time.Second})
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/readyz", nil))
	if rec.Code != 503 {
		t.Fatalf("code = %d, want 503", rec.Code)
	}
	var body struct {
		Dependencies map[string]string `json:"dependencies"`
	}
	json.Unmarshal(rec.Body.Bytes(), &body)
	if body.Dependencies["core_service"] != "timeout" {
		t.Errorf("core_service = %q, want timeout", body.Dependencies["core_service"])
	}
}

func TestHealth_DetailedAlways200(t *testing.T) {
	srv := testGateway(t, &fakeCore{healthStatus: 503})
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/health", nil))
	if rec.Code != 200 {
		t.Fatalf("code = %d, want 200 even when degraded", rec.Code)
	}
	var body struct {
		Status  string            `json:"status"`
		Version string            `json:"version"`
		Checks  map[string]string `json:"checks"`
	}
	json.Unmarshal(rec.Body.Bytes(), &body)
	if body.Status != "degraded" {
		t.Errorf("status = %q, want degraded", body.Status)
	}
	if body.Version != "test" {
		t.Errorf("version = %q, want test", body.Version)
	}
	if body.Checks["gateway"] != "ok" {
		t.Errorf("gateway check = %q", body.Checks["gateway"])
	}
}

func TestNegotiate_UnsignedRejected(t *testing.T) {
	srv := testGateway(t, &fakeCore{})
	rec := httptest.NewRecorder()
	req := httptest.NewRequest("POST", "/v1/negotiate", nil)
	srv.Handler().ServeHTTP(rec, req)
	if rec.Code != 401 {
		t.Fatalf("code = %d, want 401", rec.Code)
	}
}

func TestNegotiate_SignedRequestUsesVerifiedDID(t *testing.T) {
	core := &fakeCore{}
	srv := testGateway(t, core)
	s := newSigner(t)

	body := []byte(`{"item_id":"hotel_alpha","bid_amount":900,"agent_did":"did:key:spoofed"}`)
	ts := nowStamp()
	req := httptest.NewRequest("POST", "/v1/negotiate", bytes.NewReader(body))
	req.Header.Set(HeaderAgentID, s.did)
	req.Header.Set(HeaderTimestamp, ts)
	req.Header.Set(HeaderSignature, s.sign(t, "POST", "/v1/negotiate", ts, body))

	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)
	if rec.Code != 200 {
		t.Fatalf("code = %d, body %s", rec.Code, rec.Body.String())
	}
	if core.lastNegotiate == nil {
		t.Fatal("core never called")
	}
	if core.lastNegotiate.AgentDID != s.did {
		t.Errorf("forwarded DID = %q, want the verified %q", core.lastNegotiate.AgentDID, s.did)
	}

	var resp rpc.NegotiateResponse
	json.Unmarshal(rec.Body.Bytes(), &resp)
	if resp.Status != "accepted" || resp.Accepted == nil {
		t.Errorf("response = %+v", resp)
	}
}

func signedNegotiate(t *testing.T, srv *Server, body []byte) *httptest.ResponseRecorder {
	t.Helper()
	s := newSigner(t)
	ts := nowStamp()
	req := httptest.NewRequest("POST", "/v1/negotiate", bytes.NewReader(body))
	req.Header.Set(HeaderAgentID, s.did)
	req.Header.Set(HeaderTimestamp, ts)
	req.Header.Set(HeaderSignature, s.sign(t, "POST", "/v1/negotiate", ts, body))
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)
	return rec
}

func TestNegotiate_CounterPayloadRidesUnderData(t *testing.T) {
	core := &fakeCore{negotiateResponse: &rpc.NegotiateResponse{
		SessionToken: "sess_x",
		Status:       "countered",
		ValidUntil:   time.Now().Add(10 * time.Minute).Unix(),
		Countered: &rpc.Countered{
			ProposedPrice: 840,
			Message:       "Thank you for your offer. Let's discuss terms.",
			ReasonCode:    "FLOOR_PRICE_VIOLATION",
		},
	}}
	srv := testGateway(t, core)

	rec := signedNegotiate(t, srv, []byte(`{"item_id":"hotel_alpha","bid_amount":500}`))
	if rec.Code != 200 {
		t.Fatalf("code = %d, body %s", rec.Code, rec.Body.String())
	}

	var body map[string]json.RawMessage
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatal(err)
	}
	if _, leaked := body["countered"]; leaked {
		t.Error("internal countered key leaked onto the public response")
	}
	var data struct {
		ProposedPrice float64 `json:"proposed_price"`
		Message       string  `json:"message"`
	}
	if err := json.Unmarshal(body["data"], &data); err != nil {
		t.Fatalf("data payload missing: %s", rec.Body.String())
	}
	if data.ProposedPrice != 840 {
		t.Errorf("data.proposed_price = %v, want 840", data.ProposedPrice)
	}
	if data.Message == "" {
		t.Error("data.message empty")
	}
}

func TestNegotiate_EscalationRidesUnderActionRequired(t *testing.T) {
	core := &fakeCore{negotiateResponse: &rpc.NegotiateResponse{
		SessionToken: "sess_x",
		Status:       "ui_required",
		ValidUntil:   time.Now().Add(10 * time.Minute).Unix(),
		UIRequired: &rpc.UIRequired{
			TemplateID:  "high_value_confirm",
			ContextData: map[string]string{"item_name": "Hotel Alpha"},
		},
	}}
	srv := testGateway(t, core)

	rec := signedNegotiate(t, srv, []byte(`{"item_id":"hotel_alpha","bid_amount":1500}`))
	if rec.Code != 200 {
		t.Fatalf("code = %d, body %s", rec.Code, rec.Body.String())
	}

	var body struct {
		Status         string `json:"status"`
		ActionRequired struct {
			Template string            `json:"template"`
			Context  map[string]string `json:"context"`
		} `json:"action_required"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatal(err)
	}
	if body.Status != "ui_required" {
		t.Fatalf("status = %q", body.Status)
	}
	if body.ActionRequired.Template != "high_value_confirm" {
		t.Errorf("action_required.template = %q", body.ActionRequired.Template)
	}
	if body.ActionRequired.Context["item_name"] != "Hotel Alpha" {
		t.Errorf("action_required.context = %v", body.ActionRequired.Context)
	}
	if bytes.Contains(rec.Body.Bytes(), []byte("template_id")) {
		t.Error("internal template_id key leaked onto the public response")
	}
}

func TestDealStatus_BadUUID(t *testing.T) {
	srv := testGateway(t, &fakeCore{})
	s := newSigner(t)
	ts := nowStamp()
	req := httptest.NewRequest("GET", "/v1/deals/not-a-uuid", nil)
	req.Header.Set(HeaderAgentID, s.did)
	req.Header.Set(HeaderTimestamp, ts)
	req.Header.Set(HeaderSignature, s.sign(t, "GET", "/v1/deals/not-a-uuid", ts, nil))

	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)
	if rec.Code != 400 {
		t.Fatalf("code = %d, want 400", rec.Code)
	}
}
