package snapshot

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/propengine/internal/crypto"
	"github.com/alanyoungcy/propengine/internal/domain"
	"github.com/alanyoungcy/propengine/internal/engine"
	"github.com/alanyoungcy/propengine/internal/storage/badger"
)

const testPrivHex = "b71c71a67e1177ad4e901695e1b4b9ee17ae16c6668d313eac2f96dbcda3f291"

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func buildState(t *testing.T) (*State, *engine.Engine) {
	t.Helper()
	e := engine.New(engine.DefaultConfig(), testLogger())
	root, err := e.CreateNode(engine.NodeSpec{Name: "root", Type: domain.NodeTypeMarket, Value: map[string]any{"fee": 0.01}})
	require.NoError(t, err)
	_, err = e.CreateNode(engine.NodeSpec{Name: "bid", Type: domain.NodeTypePrimitive, ParentID: root.ID, Value: 1.9})
	require.NoError(t, err)

	st := &State{
		ExportedAt: time.Date(2025, 4, 1, 9, 0, 0, 0, time.UTC),
		ExchangeID: "binance",
		Epoch:      e.Epoch(),
	}
	for _, n := range e.Nodes() {
		st.Nodes = append(st.Nodes, *n)
	}
	return st, e
}

func TestEncodeDecode_Unsigned(t *testing.T) {
	st, _ := buildState(t)

	data, err := Encode(st, nil)
	require.NoError(t, err)

	var env Envelope
	require.NoError(t, json.Unmarshal(data, &env))
	assert.Equal(t, crypto.SchemeNone, env.Scheme)
	assert.Empty(t, env.Signature)
	assert.Len(t, env.Hash, 64)

	got, err := Decode(data, nil)
	require.NoError(t, err)
	assert.Equal(t, Version, got.Version)
	assert.Equal(t, "binance", got.ExchangeID)
	assert.Len(t, got.Nodes, 2)
}

func TestDecode_TamperedStateFails(t *testing.T) {
	st, _ := buildState(t)
	data, err := Encode(st, nil)
	require.NoError(t, err)

	tampered := bytes.Replace(data, []byte("1.9"), []byte("9.1"), 1)
	require.NotEqual(t, data, tampered)

	_, err = Decode(tampered, nil)
	assert.ErrorIs(t, err, domain.ErrIntegrity)

	_, err = Decode([]byte("not json"), nil)
	assert.ErrorIs(t, err, domain.ErrIntegrity)
}

func TestEncodeDecode_HMAC(t *testing.T) {
	st, _ := buildState(t)
	signer, err := crypto.NewHMACSigner("pass", "salt")
	require.NoError(t, err)

	data, err := Encode(st, signer)
	require.NoError(t, err)

	_, err = Decode(data, signer)
	require.NoError(t, err)

	wrong, err := crypto.NewHMACSigner("other", "salt")
	require.NoError(t, err)
	_, err = Decode(data, wrong)
	assert.ErrorIs(t, err, domain.ErrSignature)
}

func TestDecode_RequiresSignatureWhenVerifying(t *testing.T) {
	st, _ := buildState(t)
	data, err := Encode(st, nil)
	require.NoError(t, err)

	signer, err := crypto.NewECDSASigner(testPrivHex)
	require.NoError(t, err)
	_, err = Decode(data, signer.Verifier())
	assert.ErrorIs(t, err, domain.ErrSignature)
}

func TestEncodeDecode_ECDSA(t *testing.T) {
	st, _ := buildState(t)
	signer, err := crypto.NewECDSASigner(testPrivHex)
	require.NoError(t, err)

	data, err := Encode(st, signer)
	require.NoError(t, err)

	verifier, err := crypto.NewECDSAVerifier(signer.Address().Hex())
	require.NoError(t, err)
	got, err := Decode(data, verifier)
	require.NoError(t, err)
	assert.Len(t, got.Nodes, 2)

	// Re-hash a modified state with a valid hash but the old signature.
	var env Envelope
	require.NoError(t, json.Unmarshal(data, &env))
	forged := *st
	forged.ExchangeID = "forged"
	reencoded, err := Encode(&forged, nil)
	require.NoError(t, err)
	var fenv Envelope
	require.NoError(t, json.Unmarshal(reencoded, &fenv))
	fenv.Scheme, fenv.Signature = env.Scheme, env.Signature
	forgedData, err := json.Marshal(fenv)
	require.NoError(t, err)

	_, err = Decode(forgedData, verifier)
	assert.ErrorIs(t, err, domain.ErrSignature)
}

func TestPath(t *testing.T) {
	p := Path("binance", time.Date(2025, 4, 1, 9, 0, 0, 5, time.UTC))
	assert.Equal(t, "snapshots/binance/20250401T090000.000000005Z.json", p)
}

func TestExportLoadRestore(t *testing.T) {
	ctx := context.Background()
	store, err := badger.NewStore(badger.InMemoryConfig())
	require.NoError(t, err)
	defer store.Close()

	signer, err := crypto.NewHMACSigner("pass", "")
	require.NoError(t, err)

	st, src := buildState(t)
	exp := NewExporter(store, signer, testLogger())
	p, err := exp.Export(ctx, st)
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(p, "snapshots/binance/"))

	later := *st
	later.ExportedAt = st.ExportedAt.Add(time.Hour)
	p2, err := exp.Export(ctx, &later)
	require.NoError(t, err)

	ld := NewLoader(store, signer, testLogger())
	latest, err := ld.Latest(ctx, "binance")
	require.NoError(t, err)
	assert.Equal(t, p2, latest)

	dst := engine.New(engine.DefaultConfig(), testLogger())
	_, err = ld.LoadInto(ctx, p, dst)
	require.NoError(t, err)
	assert.Equal(t, src.Len(), dst.Len())

	bid := dst.GetNodesByName("bid")[0]
	v, ok, err := dst.Resolve(bid.ID)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, 1.9, v)

	_, err = ld.Latest(ctx, "kraken")
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestLoadInto_RejectsTamperedWithoutApplying(t *testing.T) {
	ctx := context.Background()
	store, err := badger.NewStore(badger.InMemoryConfig())
	require.NoError(t, err)
	defer store.Close()

	st, _ := buildState(t)
	data, err := Encode(st, nil)
	require.NoError(t, err)
	tampered := bytes.Replace(data, []byte("binance"), []byte("bitmexx"), 1)
	require.NoError(t, store.Put(ctx, "snapshots/x/1.json", bytes.NewReader(tampered), ContentType))

	dst := engine.New(engine.DefaultConfig(), testLogger())
	keep, err := dst.CreateNode(engine.NodeSpec{Name: "keep", Type: domain.NodeTypeObject})
	require.NoError(t, err)

	_, err = NewLoader(store, nil, testLogger()).LoadInto(ctx, "snapshots/x/1.json", dst)
	assert.ErrorIs(t, err, domain.ErrIntegrity)
	_, ok := dst.GetNode(keep.ID)
	assert.True(t, ok)
	assert.Equal(t, 1, dst.Len())
}
