package core

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"

	"github.com/zaebee/aura/internal/config"
	"github.com/zaebee/aura/internal/embedding"
	"github.com/zaebee/aura/internal/hive"
	"github.com/zaebee/aura/internal/reasoner"
	"github.com/zaebee/aura/internal/rpc"
	"github.com/zaebee/aura/internal/store"
	"github.com/zaebee/aura/internal/telemetry"
)

type testEnv struct {
	srv        *httptest.Server
	metabolism *hive.Metabolism
}

func newTestEnv(t *testing.T, workers int) *testEnv {
	t.Helper()

	cfg := &config.Config{}
	cfg.Server.GRPCMaxWorkers = workers
	cfg.Logic.TriggerPrice = 1000

	st, err := store.Open(filepath.Join(t.TempDir(), "core.db"), 64)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { st.Close() })

	emb := embedding.NewClient("", "", "", 64)
	seedItems(t, st, emb)

	tc := telemetry.NewCache("http://127.0.0.1:1")
	agg := hive.NewAggregator(st, tc)
	mem := hive.NewMembrane(0.10, 0.30, []string{"breakfast"})
	conn := hive.NewConnector(nil, nil, "", false)
	emit := hive.NewEmitter(hive.LogSink{})
	t.Cleanup(emit.Close)
	met := hive.NewMetabolism(agg, mem, conn, emit)

	srv := httptest.NewServer(NewServer(cfg, met, nil, st, tc, emb).Handler())
	t.Cleanup(srv.Close)
	return &testEnv{srv: srv, metabolism: met}
}

func seedItems(t *testing.T, st *store.Store, emb *embedding.Client) {
	t.Helper()
	items := []store.Item{
		{
			ID: "hotel_alpha", Name: "Hotel Alpha", BasePrice: 1000, FloorPrice: 800, Active: true,
			Meta: map[string]interface{}{"internal_cost": 600.0, "description": "luxury beach hotel with pool"},
		},
		{
			ID: "hotel_beta", Name: "Hotel Beta", BasePrice: 400, FloorPrice: 300, Active: true,
			Meta: map[string]interface{}{"description": "budget downtown hostel"},
		},
	}
	for i := range items {
		vecs, _, err := emb.Embed(context.Background(), []string{items[i].Meta["description"].(string)})
		if err != nil {
			t.Fatal(err)
		}
		items[i].Embedding = vecs[0]
		if err := st.UpsertItem(context.Background(), items[i]); err != nil {
			t.Fatal(err)
		}
	}
}

func postJSON(t *testing.T, url string, body interface{}) *http.Response {
	t.Helper()
	raw, err := json.Marshal(body)
	if err != nil {
		t.Fatal(err)
	}
	resp, err := http.Post(url, "application/json", bytes.NewReader(raw))
	if err != nil {
		t.Fatal(err)
	}
	return resp
}

func decode(t *testing.T, resp *http.Response, out interface{}) {
	t.Helper()
	defer resp.Body.Close()
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		t.Fatal(err)
	}
}

func TestNegotiate_UnavailableWhileInitializing(t *testing.T) {
	env := newTestEnv(t, 4)
	resp := postJSON(t, env.srv.URL+"/rpc/v1/negotiate",
		rpc.NegotiateRequest{ItemID: "hotel_alpha", AgentDID: "did:key:ab", BidAmount: 900})
	if resp.StatusCode != http.StatusServiceUnavailable {
		t.Fatalf("status = %d, want 503", resp.StatusCode)
	}
	var body rpc.ErrorResponse
	decode(t, resp, &body)
	if body.Error != "Metabolism is still initializing" {
		t.Errorf("error = %q", body.Error)
	}
}

func TestNegotiate_LowBidCountered(t *testing.T) {
	env := newTestEnv(t, 4)
	env.metabolism.SetReasoner(reasoner.NewRuleReasoner(1000))

	resp := postJSON(t, env.srv.URL+"/rpc/v1/negotiate",
		rpc.NegotiateRequest{ItemID: "hotel_alpha", AgentDID: "did:key:ab", BidAmount: 500})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", resp.StatusCode)
	}
	var out rpc.NegotiateResponse
	decode(t, resp, &out)
	if out.Status != "countered" {
		t.Fatalf("status = %q, want countered", out.Status)
	}
	if out.Countered.ProposedPrice < 800 {
		t.Errorf("counter %v below floor", out.Countered.ProposedPrice)
	}
}

func TestNegotiate_BadRequests(t *testing.T) {
	env := newTestEnv(t, 4)
	env.metabolism.SetReasoner(reasoner.NewRuleReasoner(1000))

	resp, err := http.Post(env.srv.URL+"/rpc/v1/negotiate", "application/json",
		bytes.NewReader([]byte("{not json")))
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("malformed json status = %d, want 400", resp.StatusCode)
	}

	resp = postJSON(t, env.srv.URL+"/rpc/v1/negotiate",
		rpc.NegotiateRequest{ItemID: "hotel_alpha", AgentDID: "did:key:ab", BidAmount: -1})
	resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("negative bid status = %d, want 400", resp.StatusCode)
	}
}

func TestSearch_RanksByQuery(t *testing.T) {
	env := newTestEnv(t, 4)

	resp := postJSON(t, env.srv.URL+"/rpc/v1/search",
		rpc.SearchRequest{Query: "luxury beach hotel with pool", Limit: 2})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", resp.StatusCode)
	}
	var out rpc.SearchResponse
	decode(t, resp, &out)
	if len(out.Results) == 0 {
		t.Fatal("no results")
	}
	if out.Results[0].ItemID != "hotel_alpha" {
		t.Errorf("top hit = %s, want hotel_alpha", out.Results[0].ItemID)
	}
	for _, hit := range out.Results {
		if bytes.Contains([]byte(hit.DescriptionSnippet), []byte("internal_cost")) {
			t.Errorf("snippet leaks internal_cost: %q", hit.DescriptionSnippet)
		}
	}
}

func TestSearch_EmptyQueryRejected(t *testing.T) {
	env := newTestEnv(t, 4)
	resp := postJSON(t, env.srv.URL+"/rpc/v1/search", rpc.SearchRequest{Query: ""})
	resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", resp.StatusCode)
	}
}

func TestDealStatus_CryptoDisabled(t *testing.T) {
	env := newTestEnv(t, 4)
	resp, err := http.Get(env.srv.URL + "/rpc/v1/deals/0b38a4a2-0111-4b34-9d8f-6d5e00000000")
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusNotImplemented {
		t.Errorf("status = %d, want 501", resp.StatusCode)
	}
}

func TestHealth_ServingAfterReasonerLoads(t *testing.T) {
	env := newTestEnv(t, 4)

	resp, err := http.Get(env.srv.URL + "/rpc/v1/health")
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusServiceUnavailable {
		t.Errorf("pre-init health = %d, want 503", resp.StatusCode)
	}

	env.metabolism.SetReasoner(reasoner.NewRuleReasoner(1000))
	resp, err = http.Get(env.srv.URL + "/rpc/v1/health")
	if err != nil {
		t.Fatal(err)
	}
	var out rpc.HealthResponse
	decode(t, resp, &out)
	if resp.StatusCode != http.StatusOK || out.Status != "SERVING" {
		t.Errorf("health = %d %q, want 200 SERVING", resp.StatusCode, out.Status)
	}
}

func TestBudget_RejectsWhenWorkersExhausted(t *testing.T) {
	env := newTestEnv(t, 1)
	env.metabolism.SetReasoner(reasoner.NewRuleReasoner(1000))

	// Occupy the single worker slot directly.
	srv := &Server{sem: make(chan struct{}, 1)}
	srv.sem <- struct{}{}
	rec := httptest.NewRecorder()
	handler := srv.budget(func(w http.ResponseWriter, r *http.Request) {
		t.Error("handler ran past an exhausted budget")
	})
	handler(rec, httptest.NewRequest(http.MethodPost, "/rpc/v1/negotiate", nil))
	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("status = %d, want 503", rec.Code)
	}

	// Health never passes through the budget.
	resp, err := http.Get(env.srv.URL + "/rpc/v1/health")
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Errorf("health under load = %d, want 200", resp.StatusCode)
	}
}
