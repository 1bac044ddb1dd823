// Package signature signs and verifies webhook bodies with HMAC-SHA256.
package signature

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"strings"
)

// Header is where gateways put the hex signature of the raw body.
const Header = "X-Signature"

// Sign returns hex(HMAC-SHA256(body, secret)). An empty secret signs nothing.
func Sign(body []byte, secret string) string {
	if secret == "" {
		return ""
	}
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return hex.EncodeToString(mac.Sum(nil))
}

// Verify reports whether sig is the signature of body under secret.
// An empty secret or signature never verifies.
func Verify(body []byte, sig, secret string) bool {
	sig = strings.TrimSpace(sig)
	if secret == "" || sig == "" {
		return false
	}
	// Some gateways send "sha256=<hex>".
	sig = strings.TrimPrefix(sig, "sha256=")

	given, err := hex.DecodeString(sig)
	if err != nil {
		return false
	}
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return hmac.Equal(given, mac.Sum(nil))
}
