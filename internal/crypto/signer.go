package crypto

import (
	"crypto/ecdsa"
	"encoding/hex"
	"fmt"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	ethcrypto "github.com/ethereum/go-ethereum/crypto"

	"github.com/alanyoungcy/propengine/internal/domain"
)

// digestLen is the digest size secp256k1 signing accepts.
const digestLen = 32

// ECDSASigner signs digests with a secp256k1 key.
type ECDSASigner struct {
	privateKey *ecdsa.PrivateKey
	address    common.Address
}

// NewECDSASigner parses a hex secp256k1 private key (0x prefix optional).
func NewECDSASigner(privateKeyHex string) (*ECDSASigner, error) {
	pk, err := ethcrypto.HexToECDSA(strings.TrimPrefix(privateKeyHex, "0x"))
	if err != nil {
		return nil, fmt.Errorf("crypto/signer: invalid private key: %w", err)
	}
	return &ECDSASigner{privateKey: pk, address: ethcrypto.PubkeyToAddress(pk.PublicKey)}, nil
}

// Address returns the address derived from the signer's public key.
func (s *ECDSASigner) Address() common.Address {
	return s.address
}

func (s *ECDSASigner) Scheme() string { return SchemeSecp256k1 }

// Sign returns the 0x-prefixed hex signature r || s || v with v in {27, 28}.
func (s *ECDSASigner) Sign(digest []byte) (string, error) {
	if len(digest) != digestLen {
		return "", fmt.Errorf("crypto/signer: digest must be %d bytes, got %d", digestLen, len(digest))
	}
	sig, err := ethcrypto.Sign(digest, s.privateKey)
	if err != nil {
		return "", fmt.Errorf("crypto/signer: signing: %w", err)
	}
	if sig[64] < 27 {
		sig[64] += 27
	}
	return "0x" + hex.EncodeToString(sig), nil
}

// Verifier returns a verifier bound to this signer's address.
func (s *ECDSASigner) Verifier() *ECDSAVerifier {
	return &ECDSAVerifier{address: s.address}
}

// ECDSAVerifier accepts signatures whose recovered public key maps to the
// configured address. It needs no private material.
type ECDSAVerifier struct {
	address common.Address
}

// NewECDSAVerifier creates a verifier for a hex address.
func NewECDSAVerifier(address string) (*ECDSAVerifier, error) {
	if !common.IsHexAddress(address) {
		return nil, fmt.Errorf("crypto/signer: invalid address %q", address)
	}
	return &ECDSAVerifier{address: common.HexToAddress(address)}, nil
}

func (v *ECDSAVerifier) Scheme() string { return SchemeSecp256k1 }

// Verify recovers the signer's address from signature and compares it.
func (v *ECDSAVerifier) Verify(digest []byte, signature string) error {
	sig, err := hex.DecodeString(strings.TrimPrefix(signature, "0x"))
	if err != nil || len(sig) != 65 {
		return fmt.Errorf("crypto/signer: malformed signature: %w", domain.ErrSignature)
	}
	if len(digest) != digestLen {
		return fmt.Errorf("crypto/signer: digest must be %d bytes: %w", digestLen, domain.ErrSignature)
	}
	if sig[64] >= 27 {
		sig[64] -= 27
	}

	pub, err := ethcrypto.SigToPub(digest, sig)
	if err != nil {
		return fmt.Errorf("crypto/signer: recover public key: %v: %w", err, domain.ErrSignature)
	}
	if got := ethcrypto.PubkeyToAddress(*pub); got != v.address {
		return fmt.Errorf("crypto/signer: signed by %s, want %s: %w", got.Hex(), v.address.Hex(), domain.ErrSignature)
	}
	return nil
}
