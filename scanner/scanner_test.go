package scanner

import (
	"context"
	"math/big"
	"path/filepath"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/veilpool/veil/keychain"
	"github.com/veilpool/veil/note"
	"github.com/veilpool/veil/notedb"
)

// fakeIndex serves canned outputs from the given offset and records which
// nullifiers are spent.
type fakeIndex struct {
	outputs [][]byte
	spent   map[string]bool
	fetches int
}

func (f *fakeIndex) FetchOutputs(_ context.Context, _ string, offset uint64, _ string) ([][]byte, error) {
	f.fetches++
	if offset >= uint64(len(f.outputs)) {
		return nil, nil
	}
	return f.outputs[offset:], nil
}

func (f *fakeIndex) CheckNullifier(_ context.Context, nf *big.Int, _ string) (bool, error) {
	return f.spent[nf.String()], nil
}

type fixture struct {
	scanner *Scanner
	keys    *keychain.Keychain
	codec   *note.Codec
	index   *fakeIndex
	db      *notedb.DB
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	wallet, err := keychain.GenerateWalletKeypair()
	require.NoError(t, err)
	keys, err := keychain.FromSigner(wallet)
	require.NoError(t, err)
	codec, err := note.NewCodec(keys.EncryptionKey())
	require.NoError(t, err)
	db, err := notedb.Open(filepath.Join(t.TempDir(), "cache.db"))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	index := &fakeIndex{spent: map[string]bool{}}
	return &fixture{
		scanner: New(keys, codec, db, index, zerolog.Nop()),
		keys:    keys,
		codec:   codec,
		index:   index,
		db:      db,
	}
}

func (f *fixture) encryptOwn(t *testing.T, amount uint64, leaf uint64) []byte {
	t.Helper()
	n, err := note.New(amount, f.keys.OwnerSecret())
	require.NoError(t, err)
	blob, err := f.codec.Encrypt(n.WithLeafIndex(leaf))
	require.NoError(t, err)
	return blob
}

func encryptForeign(t *testing.T) []byte {
	t.Helper()
	wallet, err := keychain.GenerateWalletKeypair()
	require.NoError(t, err)
	keys, err := keychain.FromSigner(wallet)
	require.NoError(t, err)
	codec, err := note.NewCodec(keys.EncryptionKey())
	require.NoError(t, err)
	n, err := note.New(777, keys.OwnerSecret())
	require.NoError(t, err)
	blob, err := codec.Encrypt(n.WithLeafIndex(0))
	require.NoError(t, err)
	return blob
}

func TestSyncSkipsForeignOutputs(t *testing.T) {
	f := newFixture(t)
	f.index.outputs = [][]byte{
		f.encryptOwn(t, 100, 0),
		encryptForeign(t),
		f.encryptOwn(t, 250, 2),
	}

	notes, err := f.scanner.Sync(context.Background(), Native)
	require.NoError(t, err)
	require.Len(t, notes, 2)
	require.EqualValues(t, 100, notes[0].Amount)
	require.EqualValues(t, 250, notes[1].Amount)

	// All three fetched blobs are cached and the offset covers them.
	offset, err := f.db.FetchOffset(f.scanner.Identity(Native))
	require.NoError(t, err)
	require.EqualValues(t, 3, offset)
}

func TestSyncOffsetIsMonotonic(t *testing.T) {
	f := newFixture(t)
	f.index.outputs = [][]byte{f.encryptOwn(t, 10, 0)}

	_, err := f.scanner.Sync(context.Background(), Native)
	require.NoError(t, err)
	id := f.scanner.Identity(Native)
	offset, err := f.db.FetchOffset(id)
	require.NoError(t, err)
	require.EqualValues(t, 1, offset)

	// No new remote items: offset unchanged, full cache still decoded.
	notes, err := f.scanner.Sync(context.Background(), Native)
	require.NoError(t, err)
	require.Len(t, notes, 1)
	after, err := f.db.FetchOffset(id)
	require.NoError(t, err)
	require.Equal(t, offset, after)

	// A later remote append advances the offset past the old value.
	f.index.outputs = append(f.index.outputs, f.encryptOwn(t, 20, 1))
	notes, err = f.scanner.Sync(context.Background(), Native)
	require.NoError(t, err)
	require.Len(t, notes, 2)
	after, err = f.db.FetchOffset(id)
	require.NoError(t, err)
	require.EqualValues(t, 2, after)
}

func TestUnspentFiltersSpentNullifiers(t *testing.T) {
	f := newFixture(t)
	f.index.outputs = [][]byte{
		f.encryptOwn(t, 100, 0),
		f.encryptOwn(t, 200, 1),
	}

	all, err := f.scanner.Sync(context.Background(), Native)
	require.NoError(t, err)
	require.Len(t, all, 2)

	nf, err := all[0].Nullifier()
	require.NoError(t, err)
	f.index.spent[nf.String()] = true

	unspent, err := f.scanner.Unspent(context.Background(), Native)
	require.NoError(t, err)
	require.Len(t, unspent, 1)
	require.EqualValues(t, 200, unspent[0].Amount)

	balance, err := f.scanner.Balance(context.Background(), Native)
	require.NoError(t, err)
	require.EqualValues(t, 200, balance)
}

func TestClearForcesFullResync(t *testing.T) {
	f := newFixture(t)
	f.index.outputs = [][]byte{f.encryptOwn(t, 5, 0)}

	_, err := f.scanner.Sync(context.Background(), Native)
	require.NoError(t, err)
	require.NoError(t, f.scanner.Clear(Native))

	offset, err := f.db.FetchOffset(f.scanner.Identity(Native))
	require.NoError(t, err)
	require.Zero(t, offset)

	notes, err := f.scanner.Sync(context.Background(), Native)
	require.NoError(t, err)
	require.Len(t, notes, 1)
}

func TestTokenIdentityIsDistinct(t *testing.T) {
	f := newFixture(t)
	pool := Pool{Token: "usdv", Mint: []byte("mint-address")}
	require.NotEqual(t, f.scanner.Identity(Native).Key(), f.scanner.Identity(pool).Key())
	require.Equal(t, notedb.KindToken, f.scanner.Identity(pool).Kind)
}
