package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"
)

// Deal statuses. PAID and EXPIRED are terminal.
const (
	DealPending = "PENDING"
	DealPaid    = "PAID"
	DealExpired = "EXPIRED"
)

// ErrMemoTaken is returned when an insert collides with the unique index on
// payment_memo; callers regenerate the memo and retry.
var ErrMemoTaken = errors.New("payment memo already in use")

// LockedDeal is an accepted negotiation whose secret stays encrypted until
// payment is verified on-chain.
type LockedDeal struct {
	ID               string
	ItemID           string
	ItemName         string
	FinalPrice       float64
	Currency         string
	CryptoAmount     float64
	PaymentMemo      string
	SecretCiphertext string
	Status           string
	BuyerDID         string
	TxHash           string
	Block            uint64
	FromAddress      string
	CreatedAt        time.Time
	ExpiresAt        time.Time
	PaidAt           time.Time
	UpdatedAt        time.Time
}

// InsertDeal persists a new PENDING deal.
func (s *Store) InsertDeal(ctx context.Context, d *LockedDeal) error {
	now := nowUTC()
	_, err := s.sql.ExecContext(ctx, `
		INSERT INTO locked_deals
			(id, item_id, item_name, final_price, currency, crypto_amount,
			 payment_memo, secret_ciphertext, status, buyer_did,
			 created_at, expires_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, d.ID, d.ItemID, d.ItemName, d.FinalPrice, d.Currency, d.CryptoAmount,
		d.PaymentMemo, d.SecretCiphertext, DealPending, d.BuyerDID,
		now, d.ExpiresAt.UTC().Format(time.RFC3339Nano), now)
	if err != nil {
		if strings.Contains(err.Error(), "UNIQUE") && strings.Contains(err.Error(), "payment_memo") {
			return ErrMemoTaken
		}
		return fmt.Errorf("insert deal %s: %w", d.ID, err)
	}
	return nil
}

// GetDeal returns a deal by id, or ErrNotFound.
func (s *Store) GetDeal(ctx context.Context, id string) (*LockedDeal, error) {
	row := s.sql.QueryRowContext(ctx, `
		SELECT id, item_id, item_name, final_price, currency, crypto_amount,
		       payment_memo, secret_ciphertext, status,
		       COALESCE(buyer_did, ''), COALESCE(tx_hash, ''),
		       COALESCE(block, 0), COALESCE(from_address, ''),
		       created_at, expires_at, COALESCE(paid_at, ''), updated_at
		FROM locked_deals WHERE id = ?
	`, id)
	d, err := scanDeal(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get deal %s: %w", id, err)
	}
	return d, nil
}

// MarkDealPaid records the verified payment proof. The status guard makes the
// transition idempotent: only the first finalizer flips PENDING to PAID.
func (s *Store) MarkDealPaid(ctx context.Context, id, txHash string, block uint64, fromAddress string, paidAt time.Time) error {
	res, err := s.sql.ExecContext(ctx, `
		UPDATE locked_deals
		SET status = ?, tx_hash = ?, block = ?, from_address = ?, paid_at = ?, updated_at = ?
		WHERE id = ? AND status = ?
	`, DealPaid, txHash, block, fromAddress,
		paidAt.UTC().Format(time.RFC3339Nano), nowUTC(), id, DealPending)
	if err != nil {
		return fmt.Errorf("mark deal %s paid: %w", id, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("mark deal %s paid: no pending row", id)
	}
	return nil
}

// MarkDealExpired flips a PENDING deal to EXPIRED. Terminal states are left
// untouched.
func (s *Store) MarkDealExpired(ctx context.Context, id string) error {
	_, err := s.sql.ExecContext(ctx, `
		UPDATE locked_deals SET status = ?, updated_at = ? WHERE id = ? AND status = ?
	`, DealExpired, nowUTC(), id, DealPending)
	if err != nil {
		return fmt.Errorf("mark deal %s expired: %w", id, err)
	}
	return nil
}

func scanDeal(row rowScanner) (*LockedDeal, error) {
	var d LockedDeal
	var createdAt, expiresAt, paidAt, updatedAt string
	if err := row.Scan(&d.ID, &d.ItemID, &d.ItemName, &d.FinalPrice, &d.Currency,
		&d.CryptoAmount, &d.PaymentMemo, &d.SecretCiphertext, &d.Status,
		&d.BuyerDID, &d.TxHash, &d.Block, &d.FromAddress,
		&createdAt, &expiresAt, &paidAt, &updatedAt); err != nil {
		return nil, err
	}
	d.CreatedAt, _ = time.Parse(time.RFC3339Nano, createdAt)
	d.ExpiresAt, _ = time.Parse(time.RFC3339Nano, expiresAt)
	d.UpdatedAt, _ = time.Parse(time.RFC3339Nano, updatedAt)
	if paidAt != "" {
		d.PaidAt, _ = time.Parse(time.RFC3339Nano, paidAt)
	}
	return &d, nil
}
