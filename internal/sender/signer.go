package sender

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
)

// SignatureHeader carries the HMAC signature on signed deliveries.
const SignatureHeader = "X-Relay-Signature"

// Signer computes the per-destination HMAC-SHA256 signature over the
// raw request body. Destinations that configure a shared secret verify
// the header before trusting a batch.
type Signer struct {
	secretKey []byte
}

// NewSigner creates a Signer from a shared secret.
func NewSigner(secret string) *Signer {
	return &Signer{secretKey: []byte(secret)}
}

// Sign returns the hex-encoded signature of body.
func (s *Signer) Sign(body []byte) string {
	h := hmac.New(sha256.New, s.secretKey)
	h.Write(body)
	return hex.EncodeToString(h.Sum(nil))
}

// Verify checks a signature against body in constant time.
func (s *Signer) Verify(body []byte, signature string) bool {
	expected := s.Sign(body)
	return hmac.Equal([]byte(expected), []byte(signature))
}
