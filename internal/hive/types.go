// Package hive implements the negotiation pipeline: aggregator, membrane,
// connector, emitter, and the metabolism orchestrator that runs one bid
// through the stages in order.
package hive

import (
	"context"

	"github.com/zaebee/aura/internal/telemetry"
)

// Intent actions.
const (
	ActionAccept   = "accept"
	ActionCounter  = "counter"
	ActionReject   = "reject"
	ActionEscalate = "escalate"
)

// Rejection reason codes surfaced on the wire.
const (
	ReasonOfferTooLow   = "OFFER_TOO_LOW"
	ReasonItemNotFound  = "ITEM_NOT_FOUND"
	ReasonInternalError = "INTERNAL_ERROR"
)

// NegotiationOffer is the sanitized inbound bid.
type NegotiationOffer struct {
	BidAmount  float64
	AgentDID   string
	Reputation float64
}

// ValueAddon is one perk the item can bundle into a counter.
type ValueAddon struct {
	Item           string
	InternalCost   float64
	PerceivedValue float64
}

// ItemSnapshot carries the item fields the pipeline needs. A zero Snapshot
// (empty ID) means the item was not found; the reasoner rejects downstream.
type ItemSnapshot struct {
	ID           string
	Name         string
	BasePrice    float64
	FloorPrice   float64
	InternalCost float64
	Occupancy    string
	Addons       []ValueAddon
	Meta         map[string]interface{}
}

// Found reports whether the lookup produced a real item.
func (s ItemSnapshot) Found() bool { return s.ID != "" }

// HiveContext is the per-request state assembled by the aggregator and read
// by every later stage. It is never shared across requests.
type HiveContext struct {
	ItemID       string
	Offer        NegotiationOffer
	Item         ItemSnapshot
	SystemHealth *telemetry.Snapshot
	RequestID    string
	Metadata     map[string]string
}

// Intent is the reasoning outcome: what to do, at what price, said how.
// Thought is internal rationale and never reaches the counterparty.
type Intent struct {
	Action   string
	Price    float64
	Message  string
	Thought  string
	Metadata map[string]interface{}

	// Failure marks an intent synthesized from a reasoner error; the
	// membrane rewrites it to a safe counter.
	Failure bool

	// Escalation payload, set when Action is escalate.
	TemplateID  string
	ContextData map[string]string

	// Rejection reason, set when Action is reject.
	ReasonCode string
}

// FailureIntent wraps a reasoner error as a tagged intent instead of letting
// it cross the pipeline as an exception.
func FailureIntent(err error) Intent {
	return Intent{
		Action:  ActionReject,
		Failure: true,
		Thought: "reasoner failure: " + err.Error(),
	}
}

// SetMeta initializes the metadata map lazily and stores one key.
func (in *Intent) SetMeta(key string, val interface{}) {
	if in.Metadata == nil {
		in.Metadata = make(map[string]interface{})
	}
	in.Metadata[key] = val
}

// Reasoner picks an intent from a fully assembled context. Implementations
// live in internal/reasoner; the interface sits here so the orchestrator can
// hold one without an import cycle.
type Reasoner interface {
	Think(ctx context.Context, hc *HiveContext) Intent
	Name() string
}
