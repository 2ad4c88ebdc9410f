package hive

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/zaebee/aura/internal/logger"
	"github.com/zaebee/aura/internal/rpc"
	"github.com/zaebee/aura/internal/telemetry"
)

// ErrInitializing is returned while the reasoner is still loading. The RPC
// layer maps it to UNAVAILABLE.
var ErrInitializing = errors.New("Metabolism is still initializing")

// Metabolism runs one bid through the pipeline stages in order:
// aggregator, reasoner, membrane, connector, emitter.
type Metabolism struct {
	aggregator *Aggregator
	membrane   *Membrane
	connector  *Connector
	emitter    *Emitter

	mu       sync.RWMutex
	reasoner Reasoner
}

// NewMetabolism wires the pipeline. The reasoner arrives later via
// SetReasoner; until then Negotiate reports ErrInitializing.
func NewMetabolism(agg *Aggregator, mem *Membrane, conn *Connector, emit *Emitter) *Metabolism {
	return &Metabolism{
		aggregator: agg,
		membrane:   mem,
		connector:  conn,
		emitter:    emit,
	}
}

// SetReasoner is called when reasoner initialization finishes.
func (m *Metabolism) SetReasoner(r Reasoner) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.reasoner = r
	logger.Success("HIVE", fmt.Sprintf("Reasoner ready: %s", r.Name()))
}

// Ready reports whether the reasoner has loaded.
func (m *Metabolism) Ready() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.reasoner != nil
}

// Negotiate processes one sanitized bid end to end.
func (m *Metabolism) Negotiate(ctx context.Context, req *rpc.NegotiateRequest, requestID string) (*rpc.NegotiateResponse, error) {
	m.mu.RLock()
	reasoner := m.reasoner
	m.mu.RUnlock()
	if reasoner == nil {
		return nil, ErrInitializing
	}

	itemID, agentDID, err := SanitizeInbound(req.ItemID, req.AgentDID, req.BidAmount)
	if err != nil {
		return nil, err
	}
	offer := NegotiationOffer{
		BidAmount:  req.BidAmount,
		AgentDID:   agentDID,
		Reputation: req.Reputation,
	}

	hc, err := m.aggregator.Perceive(ctx, itemID, offer, requestID)
	if err != nil {
		return nil, err
	}

	thinkStart := time.Now()
	intent := reasoner.Think(ctx, hc)
	telemetry.StageDuration.WithLabelValues("reasoner_think").Observe(time.Since(thinkStart).Seconds())

	inspectStart := time.Now()
	intent = m.membrane.Inspect(intent, hc)
	telemetry.StageDuration.WithLabelValues("membrane_inspect").Observe(time.Since(inspectStart).Seconds())

	resp := m.connector.Act(ctx, intent, hc)

	logger.Event("HIVE", "negotiated", map[string]interface{}{
		"request_id": requestID,
		"item_id":    itemID,
		"action":     intent.Action,
		"price":      intent.Price,
		"status":     resp.Status,
	})
	m.emitter.Emit("negotiation_"+resp.Status, true, resp.SessionToken)
	return resp, nil
}
