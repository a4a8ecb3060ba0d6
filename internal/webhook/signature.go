package webhook

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"strings"
)

// VerifySignature checks an HMAC-SHA256 signature of the form
// "sha256=<hex>" against the raw body under constant-time comparison.
func VerifySignature(secret string, body []byte, header string) error {
	provided, ok := strings.CutPrefix(header, "sha256=")
	if !ok {
		return ErrBadSignature
	}

	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	expected := hex.EncodeToString(mac.Sum(nil))

	// hmac.Equal is constant-time.
	if !hmac.Equal([]byte(expected), []byte(provided)) {
		return ErrBadSignature
	}
	return nil
}

// Sign computes the signature header value for a body. Used by tests and
// by outbound callback signing.
func Sign(secret string, body []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return "sha256=" + hex.EncodeToString(mac.Sum(nil))
}
