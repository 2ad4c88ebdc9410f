// Package market owns the locked-deal lifecycle: creating payment-locked
// offers, verifying on-chain payment, and revealing secrets. No other
// component touches the deals table directly.
package market

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"hash/fnv"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/zaebee/aura/internal/logger"
	"github.com/zaebee/aura/internal/store"
	"github.com/zaebee/aura/internal/telemetry"
)

// ErrDealNotFound is returned by CheckStatus for unknown deal ids.
var ErrDealNotFound = errors.New("deal not found")

const memoAttempts = 5

// PaymentProof identifies the finalized transaction that settled a deal.
type PaymentProof struct {
	TxHash      string    `json:"transaction_hash"`
	Block       uint64    `json:"block"`
	FromAddress string    `json:"from_address"`
	ConfirmedAt time.Time `json:"confirmed_at"`
}

// CryptoProvider is the chain-specific payment verifier. One implementation
// today (Solana); the interface is the multi-chain extension point.
type CryptoProvider interface {
	Address() string
	Network() string
	// VerifyPayment returns a proof only for a finalized transaction to the
	// provider's address matching amount (1e-4 relative tolerance) and memo
	// exactly. A nil proof with nil error means no matching payment yet.
	VerifyPayment(ctx context.Context, amount float64, memo, currency string) (*PaymentProof, error)
}

// PaymentInstructions tell the buyer how to settle a locked deal.
type PaymentInstructions struct {
	WalletAddress string    `json:"wallet_address"`
	Amount        float64   `json:"amount"`
	Currency      string    `json:"currency"`
	Memo          string    `json:"memo"`
	Network       string    `json:"network"`
	ExpiresAt     time.Time `json:"expires_at"`
	DealID        string    `json:"deal_id"`
}

// DealStatus is the resolver outcome for one CheckStatus call.
type DealStatus struct {
	Status       string
	Secret       string
	Proof        *PaymentProof
	Instructions *PaymentInstructions
}

// dealLockShards bounds the lock table; deal ids hash onto a fixed shard
// set instead of growing a mutex per id.
const dealLockShards = 64

// Market creates and resolves locked deals.
type Market struct {
	store    *store.Store
	provider CryptoProvider
	secrets  *SecretBox
	ttl      time.Duration

	// Sharded locks serialize concurrent CheckStatus calls on the same
	// deal; the first finalizer wins. Cross-deal collisions only
	// over-serialize, the SQL status guards keep transitions correct.
	locks [dealLockShards]sync.Mutex
}

// New wires a market over the store, a chain provider, and the secret box.
func New(st *store.Store, provider CryptoProvider, secrets *SecretBox, ttlSeconds int) *Market {
	if ttlSeconds <= 0 {
		ttlSeconds = 3600
	}
	return &Market{
		store:    st,
		provider: provider,
		secrets:  secrets,
		ttl:      time.Duration(ttlSeconds) * time.Second,
	}
}

// CreateOffer locks an accepted negotiation behind payment: it encrypts the
// reservation code, persists a PENDING deal with a unique memo, and returns
// the instructions the buyer needs.
func (m *Market) CreateOffer(ctx context.Context, itemID, itemName string, finalPrice, cryptoAmount float64, currency, reservationCode, buyerDID string) (*PaymentInstructions, error) {
	start := time.Now()
	defer func() {
		telemetry.StageDuration.WithLabelValues("market_create_offer").Observe(time.Since(start).Seconds())
	}()

	ciphertext, err := m.secrets.Seal(reservationCode)
	if err != nil {
		return nil, fmt.Errorf("create offer: %w", err)
	}

	deal := &store.LockedDeal{
		ID:               uuid.NewString(),
		ItemID:           itemID,
		ItemName:         itemName,
		FinalPrice:       finalPrice,
		Currency:         currency,
		CryptoAmount:     cryptoAmount,
		SecretCiphertext: ciphertext,
		BuyerDID:         buyerDID,
		ExpiresAt:        time.Now().Add(m.ttl),
	}

	// The memo binds the on-chain transfer to this deal; regenerate on the
	// rare unique-index collision.
	for attempt := 0; ; attempt++ {
		deal.PaymentMemo, err = newMemo()
		if err != nil {
			return nil, fmt.Errorf("create offer: %w", err)
		}
		err = m.store.InsertDeal(ctx, deal)
		if err == nil {
			break
		}
		if errors.Is(err, store.ErrMemoTaken) && attempt < memoAttempts-1 {
			continue
		}
		return nil, fmt.Errorf("create offer: %w", err)
	}

	telemetry.DealsTotal.WithLabelValues(store.DealPending).Inc()
	logger.Event("MARKET", "deal_created", map[string]interface{}{
		"deal_id": deal.ID, "item_id": itemID, "currency": currency, "amount": cryptoAmount,
	})
	return m.instructions(deal), nil
}

// CheckStatus resolves a deal id to its current state. It is idempotent:
// PAID and EXPIRED are terminal, and a PAID deal is never re-verified
// on-chain.
func (m *Market) CheckStatus(ctx context.Context, dealID string) (*DealStatus, error) {
	start := time.Now()
	defer func() {
		telemetry.StageDuration.WithLabelValues("market_check_status").Observe(time.Since(start).Seconds())
	}()

	lock := m.dealLock(dealID)
	lock.Lock()
	defer lock.Unlock()

	deal, err := m.store.GetDeal(ctx, dealID)
	if errors.Is(err, store.ErrNotFound) {
		return nil, ErrDealNotFound
	}
	if err != nil {
		return nil, err
	}

	switch deal.Status {
	case store.DealPaid:
		return m.resolvePaid(deal)
	case store.DealExpired:
		return &DealStatus{Status: store.DealExpired}, nil
	}

	if time.Now().After(deal.ExpiresAt) {
		if err := m.store.MarkDealExpired(ctx, deal.ID); err != nil {
			return nil, err
		}
		telemetry.DealsTotal.WithLabelValues(store.DealExpired).Inc()
		logger.Event("MARKET", "deal_expired", map[string]interface{}{"deal_id": deal.ID})
		return &DealStatus{Status: store.DealExpired}, nil
	}

	proof, err := m.provider.VerifyPayment(ctx, deal.CryptoAmount, deal.PaymentMemo, deal.Currency)
	if err != nil {
		// Chain trouble is indistinguishable from "not paid yet" for the
		// caller; keep the deal PENDING and let them retry.
		logger.Warn("MARKET", fmt.Sprintf("payment verification failed for deal %s: %v", deal.ID, err))
		return &DealStatus{Status: store.DealPending, Instructions: m.instructions(deal)}, nil
	}
	if proof == nil {
		return &DealStatus{Status: store.DealPending, Instructions: m.instructions(deal)}, nil
	}

	if err := m.store.MarkDealPaid(ctx, deal.ID, proof.TxHash, proof.Block, proof.FromAddress, proof.ConfirmedAt); err != nil {
		return nil, err
	}
	telemetry.DealsTotal.WithLabelValues(store.DealPaid).Inc()
	logger.Event("MARKET", "deal_paid", map[string]interface{}{
		"deal_id": deal.ID, "tx_hash": proof.TxHash, "block": proof.Block,
	})
	secret, err := m.secrets.Open(deal.SecretCiphertext)
	if err != nil {
		return nil, fmt.Errorf("reveal secret for deal %s: %w", deal.ID, err)
	}
	return &DealStatus{Status: store.DealPaid, Secret: secret, Proof: proof}, nil
}

func (m *Market) resolvePaid(deal *store.LockedDeal) (*DealStatus, error) {
	secret, err := m.secrets.Open(deal.SecretCiphertext)
	if err != nil {
		return nil, fmt.Errorf("reveal secret for deal %s: %w", deal.ID, err)
	}
	return &DealStatus{
		Status: store.DealPaid,
		Secret: secret,
		Proof: &PaymentProof{
			TxHash:      deal.TxHash,
			Block:       deal.Block,
			FromAddress: deal.FromAddress,
			ConfirmedAt: deal.PaidAt,
		},
	}, nil
}

func (m *Market) instructions(deal *store.LockedDeal) *PaymentInstructions {
	return &PaymentInstructions{
		WalletAddress: m.provider.Address(),
		Amount:        deal.CryptoAmount,
		Currency:      deal.Currency,
		Memo:          deal.PaymentMemo,
		Network:       m.provider.Network(),
		ExpiresAt:     deal.ExpiresAt,
		DealID:        deal.ID,
	}
}

func (m *Market) dealLock(dealID string) *sync.Mutex {
	h := fnv.New32a()
	h.Write([]byte(dealID))
	return &m.locks[h.Sum32()%dealLockShards]
}

// newMemo returns an 8-character URL-safe random memo.
func newMemo() (string, error) {
	raw := make([]byte, 6)
	if _, err := rand.Read(raw); err != nil {
		return "", fmt.Errorf("memo entropy: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(raw), nil
}
