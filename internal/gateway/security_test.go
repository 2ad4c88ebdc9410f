package gateway

import (
	"crypto/ed25519"
	"crypto/rand"
	"encoding/hex"
	"strconv"
	"strings"
	"testing"
	"time"
)

type signer struct {
	did  string
	priv ed25519.PrivateKey
}

func newSigner(t *testing.T) *signer {
	t.Helper()
	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		t.Fatal(err)
	}
	return &signer{did: "did:key:" + hex.EncodeToString(pub), priv: priv}
}

func (s *signer) sign(t *testing.T, method, path, timestamp string, body []byte) string {
	t.Helper()
	hash, err := CanonicalBodyHash(body)
	if err != nil {
		t.Fatal(err)
	}
	msg := method + path + timestamp + hash
	return hex.EncodeToString(ed25519.Sign(s.priv, []byte(msg)))
}

func nowStamp() string {
	return strconv.FormatInt(time.Now().Unix(), 10)
}

func TestVerify_ValidSignatureAdmitted(t *testing.T) {
	s := newSigner(t)
	v := NewVerifier(60)
	body := []byte(`{"item_id":"hotel_alpha","bid_amount":900}`)
	ts := nowStamp()
	sig := s.sign(t, "POST", "/v1/negotiate", ts, body)

	did, err := v.Verify("POST", "/v1/negotiate", s.did, ts, sig, body)
	if err != nil {
		t.Fatalf("verify = %v, want nil", err)
	}
	if did != s.did {
		t.Errorf("did = %q, want %q", did, s.did)
	}
}

func TestVerify_BodyTamperRejected(t *testing.T) {
	s := newSigner(t)
	v := NewVerifier(60)
	body := []byte(`{"item_id":"hotel_alpha","bid_amount":900}`)
	ts := nowStamp()
	sig := s.sign(t, "POST", "/v1/negotiate", ts, body)

	tampered := []byte(`{"item_id":"hotel_alpha","bid_amount":901}`)
	_, err := v.Verify("POST", "/v1/negotiate", s.did, ts, sig, tampered)
	if err == nil {
		t.Fatal("tampered body admitted")
	}
	if !strings.Contains(err.Error(), "Invalid signature") {
		t.Errorf("reason = %q, want invalid signature", err.Error())
	}
}

func TestVerify_MethodPathTimestampBinding(t *testing.T) {
	s := newSigner(t)
	v := NewVerifier(60)
	body := []byte(`{"q":"x"}`)
	ts := nowStamp()
	sig := s.sign(t, "POST", "/v1/search", ts, body)

	if _, err := v.Verify("GET", "/v1/search", s.did, ts, sig, body); err == nil {
		t.Error("method swap admitted")
	}
	if _, err := v.Verify("POST", "/v1/negotiate", s.did, ts, sig, body); err == nil {
		t.Error("path swap admitted")
	}
	tsInt, _ := strconv.ParseInt(ts, 10, 64)
	other := strconv.FormatInt(tsInt+1, 10)
	if _, err := v.Verify("POST", "/v1/search", s.did, other, sig, body); err == nil {
		t.Error("timestamp swap admitted")
	}
}

func TestVerify_StaleTimestampRejected(t *testing.T) {
	s := newSigner(t)
	v := NewVerifier(60)
	ts := strconv.FormatInt(time.Now().Unix()-120, 10)
	sig := s.sign(t, "GET", "/v1/system/status", ts, nil)

	_, err := v.Verify("GET", "/v1/system/status", s.did, ts, sig, nil)
	if err == nil {
		t.Fatal("120s-old timestamp admitted")
	}
	if !strings.Contains(err.Error(), "timestamp too old") {
		t.Errorf("reason = %q, want timestamp too old", err.Error())
	}
}

func TestVerify_MissingHeadersListed(t *testing.T) {
	v := NewVerifier(60)
	_, err := v.Verify("POST", "/v1/negotiate", "did:key:ab", nowStamp(), "", nil)
	if err == nil {
		t.Fatal("missing signature admitted")
	}
	if !strings.Contains(err.Error(), HeaderSignature) {
		t.Errorf("reason %q does not name the missing header", err.Error())
	}

	_, err = v.Verify("POST", "/v1/negotiate", "", "", "", nil)
	if err == nil {
		t.Fatal("headerless request admitted")
	}
	for _, h := range []string{HeaderAgentID, HeaderTimestamp, HeaderSignature} {
		if !strings.Contains(err.Error(), h) {
			t.Errorf("reason %q missing header name %s", err.Error(), h)
		}
	}
}

func TestVerify_BadDIDRejected(t *testing.T) {
	v := NewVerifier(60)
	for _, did := range []string{"did:web:foo", "did:key:zz", "did:key:abcd", "plain"} {
		if _, err := v.Verify("GET", "/v1/system/status", did, nowStamp(), strings.Repeat("a", 128), nil); err == nil {
			t.Errorf("did %q admitted", did)
		}
	}
}

func TestCanonicalBodyHash_KeyOrderIndependent(t *testing.T) {
	a, err := CanonicalBodyHash([]byte(`{"b":2,"a":1}`))
	if err != nil {
		t.Fatal(err)
	}
	b, err := CanonicalBodyHash([]byte(`{"a":1, "b":2}`))
	if err != nil {
		t.Fatal(err)
	}
	if a != b {
		t.Errorf("hash depends on key order: %s != %s", a, b)
	}
}

func TestCanonicalBodyHash_EmptyBody(t *testing.T) {
	got, err := CanonicalBodyHash(nil)
	if err != nil {
		t.Fatal(err)
	}
	// SHA-256 of the empty string.
	want := "e3b0c44298fc1c149afbf4c8996fb92427ae41e4649b934ca495991b7852b855"
	if got != want {
		t.Errorf("empty body hash = %s, want %s", got, want)
	}
}
