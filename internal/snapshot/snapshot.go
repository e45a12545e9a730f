// Package snapshot implements the export format for engine state: a JSON
// envelope carrying the encoded state, its blake3 integrity hash and an
// optional signature over that hash.
//
// Decode verifies before it trusts anything. A hash or signature mismatch is
// reported as domain.ErrIntegrity or domain.ErrSignature and no state is
// returned, so a loader can never partially apply corrupted data.
package snapshot

import (
	"encoding/hex"
	"encoding/json"
	"fmt"
	"time"

	"github.com/zeebo/blake3"

	"github.com/alanyoungcy/propengine/internal/crypto"
	"github.com/alanyoungcy/propengine/internal/domain"
)

// Version is the current state schema version.
const Version = 1

// State is everything needed to rebuild one engine.
type State struct {
	Version    int                      `json:"version"`
	ExportedAt time.Time                `json:"exported_at"`
	ExchangeID string                   `json:"exchange_id"`
	Epoch      uint64                   `json:"epoch"`
	Nodes      []domain.PropertyNode    `json:"nodes"`
	Markets    []domain.MarketHierarchy `json:"markets"`
}

// Envelope is the on-disk wrapper. State holds the exact bytes that were
// hashed.
type Envelope struct {
	State     json.RawMessage `json:"state"`
	Hash      string          `json:"hash"`
	Scheme    string          `json:"scheme"`
	Signature string          `json:"signature,omitempty"`
}

// Encode serialises state into a signed envelope. A nil signer produces an
// unsigned envelope with scheme "none".
func Encode(state *State, signer crypto.Signer) ([]byte, error) {
	if state == nil {
		return nil, fmt.Errorf("snapshot: encode: nil state")
	}
	if state.Version == 0 {
		state.Version = Version
	}

	raw, err := json.Marshal(state)
	if err != nil {
		return nil, fmt.Errorf("snapshot: encode state: %w", err)
	}

	digest := blake3.Sum256(raw)
	env := Envelope{
		State:  raw,
		Hash:   hex.EncodeToString(digest[:]),
		Scheme: crypto.SchemeNone,
	}
	if signer != nil {
		sig, err := signer.Sign(digest[:])
		if err != nil {
			return nil, fmt.Errorf("snapshot: sign: %w", err)
		}
		env.Scheme = signer.Scheme()
		env.Signature = sig
	}

	out, err := json.Marshal(env)
	if err != nil {
		return nil, fmt.Errorf("snapshot: encode envelope: %w", err)
	}
	return out, nil
}

// Decode verifies data and returns the state it carries. When verifier is
// non-nil the envelope must be signed with the verifier's scheme.
func Decode(data []byte, verifier crypto.Verifier) (*State, error) {
	var env Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, fmt.Errorf("snapshot: decode envelope: %v: %w", err, domain.ErrIntegrity)
	}
	if len(env.State) == 0 {
		return nil, fmt.Errorf("snapshot: envelope has no state: %w", domain.ErrIntegrity)
	}

	digest := blake3.Sum256(env.State)
	if hex.EncodeToString(digest[:]) != env.Hash {
		return nil, fmt.Errorf("snapshot: hash mismatch: %w", domain.ErrIntegrity)
	}

	if verifier != nil {
		if env.Scheme != verifier.Scheme() || env.Signature == "" {
			return nil, fmt.Errorf("snapshot: expected %s signature, got scheme %q: %w",
				verifier.Scheme(), env.Scheme, domain.ErrSignature)
		}
		if err := verifier.Verify(digest[:], env.Signature); err != nil {
			return nil, fmt.Errorf("snapshot: verify: %w", err)
		}
	}

	var st State
	if err := json.Unmarshal(env.State, &st); err != nil {
		return nil, fmt.Errorf("snapshot: decode state: %v: %w", err, domain.ErrIntegrity)
	}
	if st.Version != Version {
		return nil, fmt.Errorf("snapshot: unsupported state version %d", st.Version)
	}
	return &st, nil
}
