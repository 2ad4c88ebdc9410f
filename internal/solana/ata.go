package solana

import (
	"crypto/sha256"
	"fmt"

	"filippo.io/edwards25519"
	"github.com/mr-tron/base58"
)

const (
	tokenProgramID           = "TokenkegQfeZyiNwAJbNbGKPFXCWuBvf9Ss623VQ5DA"
	associatedTokenProgramID = "ATokenGPvbdGVxr1b2hvZbsiqW5xWH25efTNsLJA8knL"
)

// FindAssociatedTokenAddress derives the canonical SPL token account for a
// wallet and mint: the first off-curve program-derived address over the
// seeds (wallet, token program, mint), bump counting down from 255.
func FindAssociatedTokenAddress(wallet, mint string) (string, error) {
	walletBytes, err := base58.Decode(wallet)
	if err != nil {
		return "", fmt.Errorf("decode wallet: %w", err)
	}
	mintBytes, err := base58.Decode(mint)
	if err != nil {
		return "", fmt.Errorf("decode mint: %w", err)
	}
	tokenProgram, err := base58.Decode(tokenProgramID)
	if err != nil {
		return "", fmt.Errorf("decode token program: %w", err)
	}
	ataProgram, err := base58.Decode(associatedTokenProgramID)
	if err != nil {
		return "", fmt.Errorf("decode ata program: %w", err)
	}

	for bump := 255; bump >= 0; bump-- {
		h := sha256.New()
		h.Write(walletBytes)
		h.Write(tokenProgram)
		h.Write(mintBytes)
		h.Write([]byte{byte(bump)})
		h.Write(ataProgram)
		h.Write([]byte("ProgramDerivedAddress"))
		candidate := h.Sum(nil)
		if isOffCurve(candidate) {
			return base58.Encode(candidate), nil
		}
	}
	return "", fmt.Errorf("no off-curve address for wallet %s mint %s", wallet, mint)
}

// isOffCurve reports whether the 32 bytes are not a valid ed25519 point.
// Program-derived addresses must have no private key, so on-curve candidates
// are skipped.
func isOffCurve(b []byte) bool {
	_, err := new(edwards25519.Point).SetBytes(b)
	return err != nil
}
