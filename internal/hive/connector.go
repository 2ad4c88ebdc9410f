package hive

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"fmt"
	"time"

	"github.com/zaebee/aura/internal/logger"
	"github.com/zaebee/aura/internal/market"
	"github.com/zaebee/aura/internal/rpc"
	"github.com/zaebee/aura/internal/telemetry"
)

const sessionValidity = 600 * time.Second

// Connector serializes the final intent into the wire response. In
// crypto-lock mode an accept is routed through the market before the
// reservation code would otherwise leave the building.
type Connector struct {
	market        *market.Market
	converter     *market.PriceConverter
	currency      string
	cryptoEnabled bool
}

// NewConnector wires the connector. mkt and converter may be nil when
// crypto-lock mode is disabled.
func NewConnector(mkt *market.Market, converter *market.PriceConverter, currency string, cryptoEnabled bool) *Connector {
	return &Connector{
		market:        mkt,
		converter:     converter,
		currency:      currency,
		cryptoEnabled: cryptoEnabled && mkt != nil,
	}
}

// Act builds the negotiation response for the validated intent.
func (c *Connector) Act(ctx context.Context, in Intent, hc *HiveContext) *rpc.NegotiateResponse {
	start := time.Now()
	defer func() {
		telemetry.StageDuration.WithLabelValues("connector_act").Observe(time.Since(start).Seconds())
	}()
	telemetry.IntentsTotal.WithLabelValues(in.Action).Inc()

	resp := &rpc.NegotiateResponse{
		SessionToken: "sess_" + hc.RequestID,
		ValidUntil:   time.Now().Add(sessionValidity).Unix(),
	}

	switch in.Action {
	case ActionAccept:
		resp.Status = "accepted"
		resp.Accepted = c.accept(ctx, in, hc)
	case ActionCounter:
		resp.Status = "countered"
		resp.Countered = &rpc.Countered{
			ProposedPrice: in.Price,
			Message:       in.Message,
			ReasonCode:    in.ReasonCode,
		}
	case ActionEscalate:
		resp.Status = "ui_required"
		ui := &rpc.UIRequired{TemplateID: in.TemplateID, ContextData: in.ContextData}
		if ui.ContextData == nil {
			ui.ContextData = map[string]string{}
		}
		resp.UIRequired = ui
	default:
		resp.Status = "rejected"
		reason := in.ReasonCode
		if reason == "" {
			reason = ReasonOfferTooLow
		}
		resp.Rejected = &rpc.Rejected{ReasonCode: reason, Message: in.Message}
	}
	return resp
}

// accept mints the reservation code and, in crypto-lock mode, swaps it for
// payment instructions. If deal creation fails the plaintext code stays in
// the response rather than failing the accept.
func (c *Connector) accept(ctx context.Context, in Intent, hc *HiveContext) *rpc.Accepted {
	code := newReservationCode()
	out := &rpc.Accepted{FinalPrice: in.Price, ReservationCode: code}
	if !c.cryptoEnabled {
		return out
	}

	amount, err := c.converter.USDToCrypto(in.Price, c.currency)
	if err != nil {
		logger.Error("HIVE", fmt.Sprintf("price conversion failed: %v", err))
		return out
	}
	instr, err := c.market.CreateOffer(ctx, hc.Item.ID, hc.Item.Name, in.Price, amount, c.currency, code, hc.Offer.AgentDID)
	if err != nil {
		logger.Error("HIVE", fmt.Sprintf("deal creation failed, releasing plaintext code: %v", err))
		return out
	}

	out.ReservationCode = ""
	out.CryptoPayment = &rpc.CryptoPayment{
		WalletAddress: instr.WalletAddress,
		Amount:        instr.Amount,
		Currency:      instr.Currency,
		Memo:          instr.Memo,
		Network:       instr.Network,
		ExpiresAt:     instr.ExpiresAt.Unix(),
		DealID:        instr.DealID,
	}
	return out
}

// newReservationCode returns an opaque code unique per session.
func newReservationCode() string {
	raw := make([]byte, 9)
	rand.Read(raw)
	return "RES-" + base64.RawURLEncoding.EncodeToString(raw)
}
