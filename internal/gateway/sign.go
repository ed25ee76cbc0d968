package gateway

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"strings"
)

func hmacSHA256(body []byte, key string) []byte {
	mac := hmac.New(sha256.New, []byte(key))
	mac.Write(body)
	return mac.Sum(nil)
}

func hmacHex(body []byte, key string) string {
	return hex.EncodeToString(hmacSHA256(body, key))
}

func hmacBase64(body []byte, key string) string {
	return base64.StdEncoding.EncodeToString(hmacSHA256(body, key))
}

// xVerify is hex(sha256(payload + secret)) + "###" + index.
func xVerify(payload, secret, index string) string {
	sum := sha256.Sum256([]byte(payload + secret))
	return hex.EncodeToString(sum[:]) + "###" + index
}

// equalSignature compares two textual signatures in constant time, ignoring hex case.
func equalSignature(got, want string) bool {
	if got == "" || want == "" {
		return false
	}
	return hmac.Equal([]byte(strings.ToLower(strings.TrimSpace(got))), []byte(strings.ToLower(want)))
}

// equalExact is the case-sensitive variant, for base64 signatures.
func equalExact(got, want string) bool {
	got = strings.TrimSpace(got)
	if got == "" || want == "" {
		return false
	}
	return hmac.Equal([]byte(got), []byte(want))
}
