package vnpay

import (
	"crypto/hmac"
	"crypto/sha512"
	"encoding/hex"
	"strings"
)

// Field names reserved for the signature itself. They are never part of the
// signed payload.
const (
	FieldSecureHash     = "vnp_SecureHash"
	FieldSecureHashType = "vnp_SecureHashType"
)

// Sign computes the lowercase hex HMAC-SHA512 of the canonical sign data.
func Sign(secret, signData string) string {
	mac := hmac.New(sha512.New, []byte(secret))
	mac.Write([]byte(signData))
	return hex.EncodeToString(mac.Sum(nil))
}

// Verify recomputes the signature over every field except the signature fields
// themselves and compares it against the received hash in constant time. It
// fails closed: a missing secret, missing hash or any malformed input is a
// verification failure, never an implicit pass.
func Verify(secret string, params Params, receivedHash string) bool {
	if strings.TrimSpace(secret) == "" {
		return false
	}
	received := strings.ToLower(strings.TrimSpace(receivedHash))
	if received == "" {
		return false
	}
	scrubbed := params.Clone()
	delete(scrubbed, FieldSecureHash)
	delete(scrubbed, FieldSecureHashType)
	expected := Sign(secret, scrubbed.SignData())
	return hmac.Equal([]byte(expected), []byte(received))
}
