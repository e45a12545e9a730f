package crypto

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"

	"github.com/alanyoungcy/propengine/internal/domain"
)

// HMACSigner signs and verifies digests with HMAC-SHA256. The same value
// serves both roles since the scheme is symmetric.
type HMACSigner struct {
	key []byte
}

// NewHMACSigner derives the MAC key from passphrase and salt.
func NewHMACSigner(passphrase, salt string) (*HMACSigner, error) {
	if passphrase == "" {
		return nil, errors.New("crypto: hmac passphrase must not be empty")
	}
	return &HMACSigner{key: DeriveKey(passphrase, salt)}, nil
}

// NewHMACSignerFromKey uses key directly.
func NewHMACSignerFromKey(key []byte) *HMACSigner {
	return &HMACSigner{key: append([]byte(nil), key...)}
}

func (h *HMACSigner) Scheme() string { return SchemeHMAC }

// Sign returns the hex-encoded MAC of digest.
func (h *HMACSigner) Sign(digest []byte) (string, error) {
	return hex.EncodeToString(h.mac(digest)), nil
}

// Verify recomputes the MAC and compares it in constant time.
func (h *HMACSigner) Verify(digest []byte, signature string) error {
	got, err := hex.DecodeString(signature)
	if err != nil {
		return fmt.Errorf("crypto: hmac signature is not hex: %w", domain.ErrSignature)
	}
	if !hmac.Equal(got, h.mac(digest)) {
		return fmt.Errorf("crypto: hmac mismatch: %w", domain.ErrSignature)
	}
	return nil
}

// String returns a redacted representation suitable for logging.
func (h *HMACSigner) String() string {
	return fmt.Sprintf("HMACSigner{key=%d bytes}", len(h.key))
}

func (h *HMACSigner) mac(digest []byte) []byte {
	m := hmac.New(sha256.New, h.key)
	m.Write(digest)
	return m.Sum(nil)
}
