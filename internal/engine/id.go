package engine

import (
	"encoding/binary"
	"encoding/hex"

	"github.com/zeebo/blake3"

	"github.com/alanyoungcy/propengine/internal/domain"
)

// idContext is the blake3 key-derivation context for node ids. Changing it
// changes every id the engine issues.
const idContext = "propengine 2025 node id v1"

// idLen is the number of hash bytes rendered into an id (32 hex chars).
const idLen = 16

// idIssuer derives stable node ids from a keyed hash of the identifying
// tuple. Identical inputs always produce the same id.
type idIssuer struct {
	key [32]byte
}

func newIDIssuer(secret string) *idIssuer {
	ix := &idIssuer{}
	blake3.DeriveKey(idContext, []byte(secret), ix.key[:])
	return ix
}

// issue hashes (name, type, parentID, nonce, salt). The salt is zero unless
// the caller is stepping past a collision.
func (ix *idIssuer) issue(name string, typ domain.NodeType, parentID string, nonce uint64, salt uint32) string {
	h, err := blake3.NewKeyed(ix.key[:])
	if err != nil {
		// Only returned for keys that are not 32 bytes long.
		panic("engine: blake3 keyed hasher: " + err.Error())
	}

	var num [8]byte
	writeField := func(s string) {
		binary.BigEndian.PutUint64(num[:], uint64(len(s)))
		_, _ = h.Write(num[:])
		_, _ = h.Write([]byte(s))
	}
	writeField(name)
	writeField(string(typ))
	writeField(parentID)
	binary.BigEndian.PutUint64(num[:], nonce)
	_, _ = h.Write(num[:])
	binary.BigEndian.PutUint32(num[:4], salt)
	_, _ = h.Write(num[:4])

	sum := h.Sum(nil)
	return hex.EncodeToString(sum[:idLen])
}
