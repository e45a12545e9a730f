// Package crypto signs and verifies exported snapshot digests. Two schemes
// are supported: HMAC-SHA256 with a passphrase-derived key, and secp256k1
// ECDSA keyed by an Ethereum-style private key.
package crypto

import (
	"fmt"
	"strings"
)

// Signing schemes recorded in snapshot envelopes.
const (
	SchemeNone      = "none"
	SchemeHMAC      = "hmac-sha256"
	SchemeSecp256k1 = "secp256k1"
)

// Signer signs a 32-byte digest.
type Signer interface {
	Scheme() string
	Sign(digest []byte) (string, error)
}

// Verifier checks a signature produced by the matching Signer.
type Verifier interface {
	Scheme() string
	Verify(digest []byte, signature string) error
}

// NormalizeScheme maps config spellings onto the scheme constants.
func NormalizeScheme(s string) (string, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "none":
		return SchemeNone, nil
	case "hmac", "hmac-sha256":
		return SchemeHMAC, nil
	case "secp256k1", "ecdsa":
		return SchemeSecp256k1, nil
	default:
		return "", fmt.Errorf("crypto: unknown signing scheme %q", s)
	}
}
