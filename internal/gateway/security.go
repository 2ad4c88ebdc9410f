package gateway

import (
	"crypto/ed25519"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"
)

// Signature headers required on all non-health endpoints.
const (
	HeaderAgentID   = "X-Agent-ID"
	HeaderTimestamp = "X-Timestamp"
	HeaderSignature = "X-Signature"

	didPrefix = "did:key:"
)

// AuthError is a 401 with a reason safe to show the caller. It never carries
// key material.
type AuthError struct {
	Reason string
}

func (e *AuthError) Error() string { return e.Reason }

// Verifier checks the Ed25519 request signature scheme: the signature covers
// METHOD + PATH + TIMESTAMP + hex(SHA-256(canonical JSON body)).
type Verifier struct {
	tolerance time.Duration
	now       func() time.Time
}

// NewVerifier builds a verifier with the configured replay window.
func NewVerifier(toleranceSeconds int) *Verifier {
	if toleranceSeconds <= 0 {
		toleranceSeconds = 60
	}
	return &Verifier{
		tolerance: time.Duration(toleranceSeconds) * time.Second,
		now:       time.Now,
	}
}

// Verify validates the three signature headers against the request line and
// body, returning the verified DID. Handlers must use this DID and never a
// client-supplied agent_did field.
func (v *Verifier) Verify(method, path, agentID, timestamp, signature string, body []byte) (string, error) {
	var missing []string
	if agentID == "" {
		missing = append(missing, HeaderAgentID)
	}
	if timestamp == "" {
		missing = append(missing, HeaderTimestamp)
	}
	if signature == "" {
		missing = append(missing, HeaderSignature)
	}
	if len(missing) > 0 {
		return "", &AuthError{Reason: "Missing required headers: " + strings.Join(missing, ", ")}
	}

	pubKey, err := ParseDID(agentID)
	if err != nil {
		return "", &AuthError{Reason: "Invalid agent DID"}
	}

	ts, err := strconv.ParseInt(timestamp, 10, 64)
	if err != nil {
		return "", &AuthError{Reason: "Invalid timestamp"}
	}
	if diff := math.Abs(float64(v.now().Unix() - ts)); diff > v.tolerance.Seconds() {
		return "", &AuthError{Reason: fmt.Sprintf("Request timestamp too old: %.0fs outside tolerance", diff)}
	}

	bodyHash, err := CanonicalBodyHash(body)
	if err != nil {
		return "", &AuthError{Reason: "Malformed request body"}
	}

	sig, err := hex.DecodeString(signature)
	if err != nil || len(sig) != ed25519.SignatureSize {
		return "", &AuthError{Reason: "Invalid signature"}
	}
	msg := method + path + timestamp + bodyHash
	if !ed25519.Verify(pubKey, []byte(msg), sig) {
		return "", &AuthError{Reason: "Invalid signature"}
	}
	return agentID, nil
}

// ParseDID decodes a did:key DID into its Ed25519 public key.
func ParseDID(did string) (ed25519.PublicKey, error) {
	if !strings.HasPrefix(did, didPrefix) {
		return nil, fmt.Errorf("did must start with %s", didPrefix)
	}
	raw, err := hex.DecodeString(strings.TrimPrefix(did, didPrefix))
	if err != nil {
		return nil, fmt.Errorf("did key is not hex: %w", err)
	}
	if len(raw) != ed25519.PublicKeySize {
		return nil, fmt.Errorf("did key must be %d bytes, got %d", ed25519.PublicKeySize, len(raw))
	}
	return ed25519.PublicKey(raw), nil
}

// CanonicalBodyHash hashes the canonical form of the JSON body: sorted keys,
// minimal separators. An empty body hashes the empty string. Go's map
// marshaling already emits sorted keys with compact separators, matching
// signers in other languages that canonicalize the same way.
func CanonicalBodyHash(body []byte) (string, error) {
	canonical := []byte{}
	if len(body) > 0 {
		var parsed interface{}
		if err := json.Unmarshal(body, &parsed); err != nil {
			return "", fmt.Errorf("parse body: %w", err)
		}
		canonical, _ = json.Marshal(parsed)
	}
	sum := sha256.Sum256(canonical)
	return hex.EncodeToString(sum[:]), nil
}
