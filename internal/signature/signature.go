// Package signature verifies Meta webhook deliveries signed with the app secret
// (header x-hub-signature-256: "sha256=<hex hmac of the raw body>").
package signature

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"strings"
)

// HeaderName is the header carrying the body signature.
const HeaderName = "X-Hub-Signature-256"

const prefix = "sha256="

var (
	ErrMissingSignature    = errors.New("signature: missing signature")
	ErrMalformedSignature  = errors.New("signature: malformed signature")
	ErrInvalidSignature    = errors.New("signature: invalid webhook signature")
	ErrSecretNotConfigured = errors.New("signature: app secret not configured")
)

// Verifier checks signatures against a per-platform secret. With
// AllowUnsigned set, deliveries for a platform without a configured secret
// pass through unchecked; otherwise they are rejected.
type Verifier struct {
	AllowUnsigned bool
}

// Verify checks header against the HMAC-SHA256 of body. body must be the raw
// request bytes as received.
func (v Verifier) Verify(body []byte, header, secret string) error {
	if secret == "" {
		if v.AllowUnsigned {
			return nil
		}
		return ErrSecretNotConfigured
	}
	return Verify(body, header, secret)
}

// Verify checks header against the HMAC-SHA256 of body using secret.
func Verify(body []byte, header, secret string) error {
	if secret == "" {
		return ErrSecretNotConfigured
	}
	header = strings.TrimSpace(header)
	if header == "" {
		return ErrMissingSignature
	}
	if !strings.HasPrefix(header, prefix) {
		return ErrMalformedSignature
	}
	provided, err := hex.DecodeString(strings.TrimPrefix(header, prefix))
	if err != nil || len(provided) != sha256.Size {
		return ErrMalformedSignature
	}
	if !hmac.Equal(provided, digest(body, secret)) {
		return ErrInvalidSignature
	}
	return nil
}

// Sign returns the header value a platform would send for body.
func Sign(body []byte, secret string) string {
	return prefix + hex.EncodeToString(digest(body, secret))
}

func digest(body []byte, secret string) []byte {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return mac.Sum(nil)
}
