package billing

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"hash"
	"strings"
)

// VerifyWebhookSignature checks a hex HMAC-SHA256 signature of the raw body.
// A "sha256=" prefix on the header is accepted.
func VerifyWebhookSignature(payload []byte, signatureHeader, webhookSecret string) bool {
	sig := strings.TrimSpace(signatureHeader)
	secret := strings.TrimSpace(webhookSecret)
	if sig == "" || secret == "" {
		return false
	}
	sig = strings.TrimPrefix(strings.ToLower(sig), "sha256=")

	decodedSig, err := hex.DecodeString(sig)
	if err != nil {
		return false
	}
	return verifyHMAC(payload, decodedSig, []byte(secret), sha256.New)
}

// SignPayload returns the hex signature VerifyWebhookSignature expects.
func SignPayload(payload []byte, webhookSecret string) string {
	mac := hmac.New(sha256.New, []byte(strings.TrimSpace(webhookSecret)))
	mac.Write(payload)
	return hex.EncodeToString(mac.Sum(nil))
}

func verifyHMAC(payload, expectedSig, secret []byte, hashFunc func() hash.Hash) bool {
	mac := hmac.New(hashFunc, secret)
	mac.Write(payload)
	return hmac.Equal(mac.Sum(nil), expectedSig)
}
