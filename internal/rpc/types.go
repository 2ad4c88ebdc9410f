// Package rpc defines the wire contract between the gateway and the core
// service. The surface keeps gRPC-style status semantics but is carried over
// HTTP/JSON on an internal port.
package rpc

// Header carrying the request correlation id across the gateway/core hop.
const RequestIDHeader = "X-Request-Id"

// NegotiateRequest is one sanitized bid forwarded to the core. AgentDID is
// the gateway-verified identity, never a client-supplied field.
type NegotiateRequest struct {
	ItemID     string  `json:"item_id"`
	BidAmount  float64 `json:"bid_amount"`
	Currency   string  `json:"currency,omitempty"`
	AgentDID   string  `json:"agent_did"`
	Reputation float64 `json:"reputation,omitempty"`
}

// CryptoPayment carries the settlement instructions for a locked deal.
type CryptoPayment struct {
	WalletAddress string  `json:"wallet_address"`
	Amount        float64 `json:"amount"`
	Currency      string  `json:"currency"`
	Memo          string  `json:"memo"`
	Network       string  `json:"network"`
	ExpiresAt     int64   `json:"expires_at"`
	DealID        string  `json:"deal_id"`
}

// Accepted is the payload when the bid is taken. Exactly one of
// ReservationCode and CryptoPayment is set depending on crypto-lock mode.
type Accepted struct {
	FinalPrice      float64        `json:"final_price"`
	ReservationCode string         `json:"reservation_code,omitempty"`
	CryptoPayment   *CryptoPayment `json:"crypto_payment,omitempty"`
}

// Countered proposes an alternative price.
type Countered struct {
	ProposedPrice float64 `json:"proposed_price"`
	Message       string  `json:"message"`
	ReasonCode    string  `json:"reason_code"`
}

// Rejected declines the bid.
type Rejected struct {
	ReasonCode string `json:"reason_code"`
	Message    string `json:"message,omitempty"`
}

// UIRequired escalates to a human confirmation flow.
type UIRequired struct {
	TemplateID  string            `json:"template_id"`
	ContextData map[string]string `json:"context_data"`
}

// NegotiateResponse is the full negotiation outcome. Status names which of
// the payload fields is set: accepted, countered, rejected, or ui_required.
type NegotiateResponse struct {
	SessionToken string      `json:"session_token"`
	Status       string      `json:"status"`
	ValidUntil   int64       `json:"valid_until"`
	Accepted     *Accepted   `json:"data,omitempty"`
	Countered    *Countered  `json:"countered,omitempty"`
	Rejected     *Rejected   `json:"rejected,omitempty"`
	UIRequired   *UIRequired `json:"action_required,omitempty"`
}

// SearchRequest is a vector-similarity catalog query.
type SearchRequest struct {
	Query         string  `json:"query"`
	Limit         int     `json:"limit,omitempty"`
	MinSimilarity float64 `json:"min_similarity,omitempty"`
}

// SearchResult is one catalog hit, best matches first.
type SearchResult struct {
	ItemID             string  `json:"id"`
	Name               string  `json:"name"`
	BasePrice          float64 `json:"price"`
	SimilarityScore    float64 `json:"score"`
	DescriptionSnippet string  `json:"details"`
}

// SearchResponse wraps the ranked results.
type SearchResponse struct {
	Results []SearchResult `json:"results"`
}

// SystemStatus mirrors the telemetry snapshot on the wire.
type SystemStatus struct {
	Status     string  `json:"status"`
	CPUPercent float64 `json:"cpu_usage_percent"`
	MemoryMB   float64 `json:"memory_usage_mb"`
	Timestamp  int64   `json:"timestamp"`
	Cached     bool    `json:"cached"`
}

// DealProof mirrors the cached payment proof.
type DealProof struct {
	TransactionHash string `json:"transaction_hash"`
	Block           uint64 `json:"block"`
	FromAddress     string `json:"from_address"`
	ConfirmedAt     int64  `json:"confirmed_at"`
}

// DealSecret carries the revealed reservation code of a paid deal.
type DealSecret struct {
	ReservationCode string `json:"reservation_code"`
}

// DealStatusResponse resolves one deal id.
type DealStatusResponse struct {
	Status              string         `json:"status"`
	Secret              *DealSecret    `json:"secret,omitempty"`
	Proof               *DealProof     `json:"proof,omitempty"`
	PaymentInstructions *CryptoPayment `json:"payment_instructions,omitempty"`
}

// HealthResponse is the core health probe result.
type HealthResponse struct {
	Status string `json:"status"`
}

// ErrorResponse is the JSON error body used across the RPC surface.
type ErrorResponse struct {
	Error string `json:"error"`
}
