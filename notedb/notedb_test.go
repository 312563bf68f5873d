package notedb

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func openTestDB(t *testing.T) *DB {
	t.Helper()
	db, err := Open(filepath.Join(t.TempDir(), "cache.db"))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return db
}

func TestEmptyIdentity(t *testing.T) {
	db := openTestDB(t)
	id := Identity{Kind: KindWallet, Address: []byte("wallet-a")}

	offset, err := db.FetchOffset(id)
	require.NoError(t, err)
	require.Zero(t, offset)

	outputs, err := db.Outputs(id)
	require.NoError(t, err)
	require.Empty(t, outputs)
}

func TestAppendAdvancesOffsetWithOutputs(t *testing.T) {
	db := openTestDB(t)
	id := Identity{Kind: KindWallet, Address: []byte("wallet-a")}

	require.NoError(t, db.AppendOutputs(id, [][]byte{{1}, {2}, {3}}))

	offset, err := db.FetchOffset(id)
	require.NoError(t, err)
	require.EqualValues(t, 3, offset)

	outputs, err := db.Outputs(id)
	require.NoError(t, err)
	require.Equal(t, [][]byte{{1}, {2}, {3}}, outputs)

	// Second batch keeps offset == len(outputs) and preserves order.
	require.NoError(t, db.AppendOutputs(id, [][]byte{{4}}))
	offset, err = db.FetchOffset(id)
	require.NoError(t, err)
	require.EqualValues(t, 4, offset)
	outputs, err = db.Outputs(id)
	require.NoError(t, err)
	require.Equal(t, [][]byte{{1}, {2}, {3}, {4}}, outputs)

	// Empty batch is a no-op.
	require.NoError(t, db.AppendOutputs(id, nil))
	offset, err = db.FetchOffset(id)
	require.NoError(t, err)
	require.EqualValues(t, 4, offset)
}

func TestIdentitiesAreIsolated(t *testing.T) {
	db := openTestDB(t)
	wallet := Identity{Kind: KindWallet, Address: []byte("addr")}
	token := Identity{Kind: KindToken, Address: []byte("addr")}

	require.NoError(t, db.AppendOutputs(wallet, [][]byte{{1}}))

	// Same address bytes under a different kind is a distinct entry.
	offset, err := db.FetchOffset(token)
	require.NoError(t, err)
	require.Zero(t, offset)
}

func TestClear(t *testing.T) {
	db := openTestDB(t)
	id := Identity{Kind: KindToken, Address: []byte("mint")}

	require.NoError(t, db.AppendOutputs(id, [][]byte{{9}, {8}}))
	require.NoError(t, db.Clear(id))

	offset, err := db.FetchOffset(id)
	require.NoError(t, err)
	require.Zero(t, offset)
	outputs, err := db.Outputs(id)
	require.NoError(t, err)
	require.Empty(t, outputs)

	// Clearing an absent entry is not an error.
	require.NoError(t, db.Clear(Identity{Kind: KindWallet, Address: []byte("none")}))
}
