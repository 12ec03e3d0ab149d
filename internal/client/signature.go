package client

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"strings"
)

const (
	SignatureHeader = "X-Gateway-Signature"
	signaturePrefix = "sha256="
)

var ErrInvalidSignature = errors.New("invalid gateway signature")

// Sign returns the header value the gateway sends for payload.
func Sign(secret string, payload []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(payload)
	return signaturePrefix + hex.EncodeToString(mac.Sum(nil))
}

// VerifySignature checks header against the raw callback body.
func VerifySignature(secret string, payload []byte, header string) error {
	header = strings.TrimSpace(header)
	if secret == "" || !strings.HasPrefix(header, signaturePrefix) {
		return ErrInvalidSignature
	}

	expected := Sign(secret, payload)
	if !hmac.Equal([]byte(header), []byte(expected)) {
		return ErrInvalidSignature
	}
	return nil
}
