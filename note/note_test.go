package note

import (
	"crypto/rand"
	"errors"
	"math/big"
	"testing"

	"github.com/stretchr/testify/require"
)

func randomKey(t *testing.T) []byte {
	t.Helper()
	key := make([]byte, KeySize)
	_, err := rand.Read(key)
	require.NoError(t, err)
	return key
}

func TestCommitmentDeterminism(t *testing.T) {
	secret := big.NewInt(12345)
	n, err := New(1_000_000, secret)
	require.NoError(t, err)

	cm1 := n.Commitment()
	cm2 := n.Commitment()
	require.Zero(t, cm1.Cmp(cm2), "commitment must be stable across calls")

	// Changing any field changes the commitment.
	other := *n
	other.Amount++
	require.NotZero(t, cm1.Cmp(other.Commitment()))

	other = *n
	other.Blinding = new(big.Int).Add(n.Blinding, big.NewInt(1))
	require.NotZero(t, cm1.Cmp(other.Commitment()))

	other = *n
	other.OwnerSecret = big.NewInt(54321)
	require.NotZero(t, cm1.Cmp(other.Commitment()))
}

func TestNullifierRequiresLeafIndex(t *testing.T) {
	n, err := New(42, big.NewInt(7))
	require.NoError(t, err)

	_, err = n.Nullifier()
	require.ErrorIs(t, err, ErrNoLeafIndex)

	positioned := n.WithLeafIndex(3)
	nf1, err := positioned.Nullifier()
	require.NoError(t, err)
	nf2, err := positioned.Nullifier()
	require.NoError(t, err)
	require.Zero(t, nf1.Cmp(nf2))

	// A different leaf yields a different nullifier.
	nf3, err := n.WithLeafIndex(4).Nullifier()
	require.NoError(t, err)
	require.NotZero(t, nf1.Cmp(nf3))
}

func TestSerializeRoundTrip(t *testing.T) {
	secret := big.NewInt(99)
	n, err := New(10_000_000, secret)
	require.NoError(t, err)
	n = n.WithLeafIndex(17)

	data, err := n.Serialize()
	require.NoError(t, err)
	require.Len(t, data, PlaintextSize)

	decoded, err := Deserialize(data, secret)
	require.NoError(t, err)
	require.Equal(t, n.Amount, decoded.Amount)
	require.Zero(t, n.Blinding.Cmp(decoded.Blinding))
	require.Equal(t, *n.LeafIndex, *decoded.LeafIndex)
	require.Zero(t, n.Commitment().Cmp(decoded.Commitment()))
}

func TestCodecRoundTrip(t *testing.T) {
	key := randomKey(t)
	codec, err := NewCodec(key)
	require.NoError(t, err)

	secret := big.NewInt(314159)
	n, err := New(5_000, secret)
	require.NoError(t, err)
	n = n.WithLeafIndex(0)

	blob, err := codec.Encrypt(n)
	require.NoError(t, err)
	require.NotEmpty(t, blob)

	decoded, err := codec.Decrypt(blob, secret)
	require.NoError(t, err)
	require.Equal(t, n.Amount, decoded.Amount)
	require.Zero(t, n.Commitment().Cmp(decoded.Commitment()))

	nf1, err := n.Nullifier()
	require.NoError(t, err)
	nf2, err := decoded.Nullifier()
	require.NoError(t, err)
	require.Zero(t, nf1.Cmp(nf2))
}

func TestDecryptWrongKey(t *testing.T) {
	codec, err := NewCodec(randomKey(t))
	require.NoError(t, err)
	otherCodec, err := NewCodec(randomKey(t))
	require.NoError(t, err)

	n, err := New(1, big.NewInt(2))
	require.NoError(t, err)
	blob, err := codec.Encrypt(n.WithLeafIndex(0))
	require.NoError(t, err)

	_, err = otherCodec.Decrypt(blob, big.NewInt(2))
	var decErr *DecryptionError
	require.True(t, errors.As(err, &decErr))
}

func TestDecryptGarbage(t *testing.T) {
	codec, err := NewCodec(randomKey(t))
	require.NoError(t, err)

	var decErr *DecryptionError
	_, err = codec.Decrypt([]byte{0x01, 0x02}, big.NewInt(1))
	require.True(t, errors.As(err, &decErr))

	garbage := make([]byte, 64)
	_, err = codec.Decrypt(garbage, big.NewInt(1))
	require.True(t, errors.As(err, &decErr))
}
