// Package solana implements the Solana payment verifier behind the market's
// CryptoProvider interface: JSON-RPC polling of finalized transactions,
// memo matching, and SOL / SPL-token amount checks.
package solana

import (
	"bytes"
	"context"
	"crypto/ed25519"
	"encoding/json"
	"fmt"
	"io"
	"math"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/mr-tron/base58"

	"github.com/zaebee/aura/internal/logger"
	"github.com/zaebee/aura/internal/market"
	"github.com/zaebee/aura/internal/telemetry"
)

const (
	signatureScanLimit = 100
	lamportsPerSOL     = 1e9
	usdcDecimals       = 1e6

	// Relative tolerance for amount matching.
	amountTolerance = 1e-4
)

// Provider verifies payments against a Solana RPC node. It holds one HTTP
// client safe for concurrent use and no per-call state.
type Provider struct {
	rpcURL   string
	network  string
	usdcMint string
	address  string
	usdcATA  string
	http     *http.Client
}

// NewProvider derives the wallet address from the configured private key and
// precomputes the USDC associated token account.
func NewProvider(privateKeyBase58, rpcURL, network, usdcMint string) (*Provider, error) {
	raw, err := base58.Decode(privateKeyBase58)
	if err != nil {
		return nil, fmt.Errorf("decode solana private key: %w", err)
	}
	var pub []byte
	switch len(raw) {
	case ed25519.PrivateKeySize:
		pub = []byte(ed25519.PrivateKey(raw).Public().(ed25519.PublicKey))
	case ed25519.SeedSize:
		pub = []byte(ed25519.NewKeyFromSeed(raw).Public().(ed25519.PublicKey))
	default:
		return nil, fmt.Errorf("solana private key must be %d or %d bytes, got %d",
			ed25519.SeedSize, ed25519.PrivateKeySize, len(raw))
	}

	p := &Provider{
		rpcURL:   rpcURL,
		network:  network,
		usdcMint: usdcMint,
		address:  base58.Encode(pub),
		http:     &http.Client{Timeout: 30 * time.Second},
	}
	if usdcMint != "" {
		ata, err := FindAssociatedTokenAddress(p.address, usdcMint)
		if err != nil {
			return nil, fmt.Errorf("derive usdc account: %w", err)
		}
		p.usdcATA = ata
	}
	logger.Info("SOLANA", fmt.Sprintf("Wallet %s on %s", p.address, network))
	return p, nil
}

// Address returns the receiving wallet address.
func (p *Provider) Address() string { return p.address }

// Network returns the configured cluster name.
func (p *Provider) Network() string { return p.network }

type signatureInfo struct {
	Signature string      `json:"signature"`
	Slot      uint64      `json:"slot"`
	Err       interface{} `json:"err"`
	BlockTime *int64      `json:"blockTime"`
}

// VerifyPayment scans recent finalized transactions to the wallet for one
// whose memo matches exactly and whose transferred amount matches within
// tolerance. Returns (nil, nil) when no matching payment exists yet.
func (p *Provider) VerifyPayment(ctx context.Context, amount float64, memo, currency string) (*market.PaymentProof, error) {
	var sigs []signatureInfo
	err := p.rpcCall(ctx, "getSignaturesForAddress", []interface{}{
		p.address,
		map[string]interface{}{"limit": signatureScanLimit, "commitment": "finalized"},
	}, &sigs)
	if err != nil {
		telemetry.CryptoProviderCalls.WithLabelValues("getSignaturesForAddress", "error").Inc()
		return nil, fmt.Errorf("list signatures: %w", err)
	}
	telemetry.CryptoProviderCalls.WithLabelValues("getSignaturesForAddress", "ok").Inc()

	for _, sig := range sigs {
		if sig.Err != nil {
			continue
		}
		proof, err := p.checkTransaction(ctx, sig, amount, memo, currency)
		if err != nil {
			// One bad transaction never hides a later match.
			logger.Warn("SOLANA", fmt.Sprintf("inspect tx %s: %v", sig.Signature, err))
			continue
		}
		if proof != nil {
			return proof, nil
		}
	}
	return nil, nil
}

type parsedTransaction struct {
	Meta struct {
		PreBalances  []uint64 `json:"preBalances"`
		PostBalances []uint64 `json:"postBalances"`
	} `json:"meta"`
	Transaction struct {
		Message struct {
			AccountKeys []struct {
				Pubkey string `json:"pubkey"`
			} `json:"accountKeys"`
			Instructions []parsedInstruction `json:"instructions"`
		} `json:"message"`
	} `json:"transaction"`
}

type parsedInstruction struct {
	Program string          `json:"program"`
	Parsed  json.RawMessage `json:"parsed"`
}

func (p *Provider) checkTransaction(ctx context.Context, sig signatureInfo, amount float64, memo, currency string) (*market.PaymentProof, error) {
	var tx parsedTransaction
	err := p.rpcCall(ctx, "getTransaction", []interface{}{
		sig.Signature,
		map[string]interface{}{
			"encoding":                       "jsonParsed",
			"commitment":                     "finalized",
			"maxSupportedTransactionVersion": 0,
		},
	}, &tx)
	if err != nil {
		telemetry.CryptoProviderCalls.WithLabelValues("getTransaction", "error").Inc()
		return nil, err
	}
	telemetry.CryptoProviderCalls.WithLabelValues("getTransaction", "ok").Inc()

	if !hasExactMemo(tx.Transaction.Message.Instructions, memo) {
		return nil, nil
	}

	var matched bool
	switch strings.ToUpper(currency) {
	case "SOL":
		matched = p.matchSOLTransfer(&tx, amount)
	case "USDC":
		matched = p.matchUSDCTransfer(&tx, amount)
	default:
		return nil, fmt.Errorf("unsupported currency %q", currency)
	}
	if !matched {
		return nil, nil
	}

	proof := &market.PaymentProof{
		TxHash:      sig.Signature,
		Block:       sig.Slot,
		ConfirmedAt: time.Now(),
	}
	if sig.BlockTime != nil {
		proof.ConfirmedAt = time.Unix(*sig.BlockTime, 0)
	}
	if keys := tx.Transaction.Message.AccountKeys; len(keys) > 0 {
		proof.FromAddress = keys[0].Pubkey
	}
	return proof, nil
}

// hasExactMemo looks for an spl-memo instruction whose content equals memo.
func hasExactMemo(instructions []parsedInstruction, memo string) bool {
	for _, ins := range instructions {
		if ins.Program != "spl-memo" {
			continue
		}
		var content string
		if err := json.Unmarshal(ins.Parsed, &content); err != nil {
			continue
		}
		if content == memo {
			return true
		}
	}
	return false
}

// matchSOLTransfer checks the wallet's balance delta against the expected
// amount in SOL.
func (p *Provider) matchSOLTransfer(tx *parsedTransaction, amount float64) bool {
	keys := tx.Transaction.Message.AccountKeys
	for i, key := range keys {
		if key.Pubkey != p.address {
			continue
		}
		if i >= len(tx.Meta.PreBalances) || i >= len(tx.Meta.PostBalances) {
			return false
		}
		delta := (float64(tx.Meta.PostBalances[i]) - float64(tx.Meta.PreBalances[i])) / lamportsPerSOL
		return amountsMatch(delta, amount)
	}
	return false
}

// matchUSDCTransfer checks spl-token transfers into the wallet's associated
// token account for the configured mint.
func (p *Provider) matchUSDCTransfer(tx *parsedTransaction, amount float64) bool {
	if p.usdcATA == "" {
		return false
	}
	for _, ins := range tx.Transaction.Message.Instructions {
		if ins.Program != "spl-token" {
			continue
		}
		var parsed struct {
			Type string `json:"type"`
			Info struct {
				Destination string `json:"destination"`
				Amount      string `json:"amount"`
				TokenAmount struct {
					UIAmount float64 `json:"uiAmount"`
				} `json:"tokenAmount"`
			} `json:"info"`
		}
		if err := json.Unmarshal(ins.Parsed, &parsed); err != nil {
			continue
		}
		if parsed.Info.Destination != p.usdcATA {
			continue
		}
		switch parsed.Type {
		case "transfer":
			raw, err := strconv.ParseFloat(parsed.Info.Amount, 64)
			if err != nil {
				continue
			}
			if amountsMatch(raw/usdcDecimals, amount) {
				return true
			}
		case "transferChecked":
			if amountsMatch(parsed.Info.TokenAmount.UIAmount, amount) {
				return true
			}
		}
	}
	return false
}

func amountsMatch(got, want float64) bool {
	if want <= 0 {
		return false
	}
	return math.Abs(got-want)/want <= amountTolerance
}

type rpcRequest struct {
	JSONRPC string        `json:"jsonrpc"`
	ID      int           `json:"id"`
	Method  string        `json:"method"`
	Params  []interface{} `json:"params"`
}

type rpcResponse struct {
	Result json.RawMessage `json:"result"`
	Error  *struct {
		Code    int    `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

func (p *Provider) rpcCall(ctx context.Context, method string, params []interface{}, out interface{}) error {
	body, err := json.Marshal(rpcRequest{JSONRPC: "2.0", ID: 1, Method: method, Params: params})
	if err != nil {
		return fmt.Errorf("encode %s: %w", method, err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.rpcURL, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build %s: %w", method, err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := p.http.Do(req)
	if err != nil {
		return fmt.Errorf("%s: %w", method, err)
	}
	defer resp.Body.Close()
	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("read %s: %w", method, err)
	}
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("%s http %d", method, resp.StatusCode)
	}
	var parsed rpcResponse
	if err := json.Unmarshal(raw, &parsed); err != nil {
		return fmt.Errorf("decode %s: %w", method, err)
	}
	if parsed.Error != nil {
		return fmt.Errorf("%s rpc error %d: %s", method, parsed.Error.Code, parsed.Error.Message)
	}
	if out != nil && len(parsed.Result) > 0 && string(parsed.Result) != "null" {
		if err := json.Unmarshal(parsed.Result, out); err != nil {
			return fmt.Errorf("decode %s result: %w", method, err)
		}
	}
	return nil
}
