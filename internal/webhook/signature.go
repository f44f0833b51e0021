package webhook

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"

	dErrors "tally/pkg/domain-errors"
)

// Verifier checks that an inbound payload was signed with the shared secret
// agreed with the payment processor. The signature is the hex HMAC-SHA256 of
// the raw request body.
type Verifier struct {
	secret []byte
}

func NewVerifier(secret string) (*Verifier, error) {
	if secret == "" {
		return nil, dErrors.New(dErrors.CodeInternal, "webhook signing secret is required")
	}
	return &Verifier{secret: []byte(secret)}, nil
}

// Sign computes the signature for a payload. Exposed for tests and for the
// sandbox processor simulator.
func (v *Verifier) Sign(payload []byte) string {
	mac := hmac.New(sha256.New, v.secret)
	mac.Write(payload)
	return hex.EncodeToString(mac.Sum(nil))
}

// Verify compares in constant time. A missing or malformed header fails the
// same way a wrong signature does.
func (v *Verifier) Verify(payload []byte, signature string) error {
	provided, err := hex.DecodeString(signature)
	if err != nil {
		return dErrors.New(dErrors.CodeUnauthenticated, "webhook signature is not valid hex")
	}
	mac := hmac.New(sha256.New, v.secret)
	mac.Write(payload)
	if !hmac.Equal(mac.Sum(nil), provided) {
		return dErrors.New(dErrors.CodeUnauthenticated, "webhook signature mismatch")
	}
	return nil
}
