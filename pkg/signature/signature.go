// pkg/signature/signature.go
package signature

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
)

const (
	HeaderSignature = "X-Signature"
	HeaderTimestamp = "X-Timestamp"
)

// Sign returns the hex HMAC-SHA256 of "<payload>.<timestamp>".
func Sign(secret string, payload []byte, timestamp int64) string {
	return Token(secret, fmt.Sprintf("%s.%d", string(payload), timestamp))
}

// Token returns the hex HMAC-SHA256 of message.
func Token(secret, message string) string {
	h := hmac.New(sha256.New, []byte(secret))
	h.Write([]byte(message))
	return hex.EncodeToString(h.Sum(nil))
}

// Equal compares two hex signatures in constant time.
func Equal(a, b string) bool {
	return hmac.Equal([]byte(a), []byte(b))
}
