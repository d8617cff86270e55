// Package audit signs audit entries for tamper evidence.
package audit

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"strconv"
	"time"
)

// Signer produces HMAC-SHA256 signatures over audit entries so downstream
// consumers can detect tampering between the gateway and the audit sink.
type Signer struct {
	secretKey []byte
}

// NewSigner creates a signer with the given shared secret.
func NewSigner(secretKey string) *Signer {
	return &Signer{secretKey: []byte(secretKey)}
}

// Sign computes the signature for one audit entry.
func (s *Signer) Sign(action, sourceID string, count int, timestamp time.Time) string {
	payload := action + "|" + sourceID + "|" + strconv.Itoa(count) + "|" + timestamp.UTC().Format(time.RFC3339Nano)
	h := hmac.New(sha256.New, s.secretKey)
	h.Write([]byte(payload))
	return hex.EncodeToString(h.Sum(nil))
}

// Verify checks a signature produced by Sign.
func (s *Signer) Verify(action, sourceID string, count int, timestamp time.Time, signature string) bool {
	expected := s.Sign(action, sourceID, count, timestamp)
	return hmac.Equal([]byte(expected), []byte(signature))
}

// SignBatch computes a rolling signature over a flushed batch's entry
// signatures, logged as a checkpoint so the service log and the audit sink
// can be cross-verified.
func (s *Signer) SignBatch(signatures []string) string {
	h := hmac.New(sha256.New, s.secretKey)
	for _, sig := range signatures {
		h.Write([]byte(sig))
	}
	return hex.EncodeToString(h.Sum(nil))
}
