// notedb.go - Persisted per-identity cache of encrypted outputs.
//
// One entry per owner identity: the fetch offset (index of the next unseen
// encrypted output at the remote index) and every encrypted output
// accumulated so far. Offset and outputs are written in a single bolt
// transaction so the offset can never advance past outputs that were not
// durably cached.

package notedb

import (
	"encoding/binary"
	"fmt"

	bolt "go.etcd.io/bbolt"
)

// IdentityKind tags how an identity address was derived, keeping wallet and
// token-pool entries from colliding on equal address bytes.
type IdentityKind byte

const (
	// KindWallet keys the entry by the wallet public key.
	KindWallet IdentityKind = 0x01
	// KindToken keys the entry by the wallet's associated token address.
	KindToken IdentityKind = 0x02
)

// Identity is the structured cache key: kind tag plus raw address bytes.
type Identity struct {
	Kind    IdentityKind
	Address []byte
}

// Key returns the bucket key for this identity.
func (id Identity) Key() []byte {
	key := make([]byte, 0, 1+len(id.Address))
	key = append(key, byte(id.Kind))
	return append(key, id.Address...)
}

func (id Identity) String() string {
	kind := "wallet"
	if id.Kind == KindToken {
		kind = "token"
	}
	return fmt.Sprintf("%s:%x", kind, id.Address)
}

var (
	bucketIdentities = []byte("identities")
	bucketOutputs    = []byte("outputs")
	keyOffset        = []byte("offset")
)

// DB is the local note cache. It is the sole owner of the persisted cache
// entries; all other components read notes through it.
type DB struct {
	db *bolt.DB
}

// Open opens (or creates) the cache database at path.
func Open(path string) (*DB, error) {
	db, err := bolt.Open(path, 0600, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to open note cache: %w", err)
	}
	err = db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(bucketIdentities)
		return err
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to init note cache: %w", err)
	}
	return &DB{db: db}, nil
}

// Close releases the underlying database.
func (d *DB) Close() error { return d.db.Close() }

// FetchOffset returns the next unseen remote index for the identity,
// zero if the identity has no entry yet.
func (d *DB) FetchOffset(id Identity) (uint64, error) {
	var offset uint64
	err := d.db.View(func(tx *bolt.Tx) error {
		entry := tx.Bucket(bucketIdentities).Bucket(id.Key())
		if entry == nil {
			return nil
		}
		if v := entry.Get(keyOffset); v != nil {
			offset = binary.BigEndian.Uint64(v)
		}
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("failed to read fetch offset: %w", err)
	}
	return offset, nil
}

// Outputs returns every cached encrypted output for the identity in
// accumulation order.
func (d *DB) Outputs(id Identity) ([][]byte, error) {
	var outputs [][]byte
	err := d.db.View(func(tx *bolt.Tx) error {
		entry := tx.Bucket(bucketIdentities).Bucket(id.Key())
		if entry == nil {
			return nil
		}
		outs := entry.Bucket(bucketOutputs)
		if outs == nil {
			return nil
		}
		return outs.ForEach(func(_, v []byte) error {
			blob := make([]byte, len(v))
			copy(blob, v)
			outputs = append(outputs, blob)
			return nil
		})
	})
	if err != nil {
		return nil, fmt.Errorf("failed to read cached outputs: %w", err)
	}
	return outputs, nil
}

// AppendOutputs durably appends newly fetched encrypted outputs and advances
// the fetch offset by their count, atomically. After a successful call the
// offset equals the number of cached outputs.
func (d *DB) AppendOutputs(id Identity, blobs [][]byte) error {
	if len(blobs) == 0 {
		return nil
	}
	err := d.db.Update(func(tx *bolt.Tx) error {
		entry, err := tx.Bucket(bucketIdentities).CreateBucketIfNotExists(id.Key())
		if err != nil {
			return err
		}
		outs, err := entry.CreateBucketIfNotExists(bucketOutputs)
		if err != nil {
			return err
		}
		var offset uint64
		if v := entry.Get(keyOffset); v != nil {
			offset = binary.BigEndian.Uint64(v)
		}
		var seq [8]byte
		for i, blob := range blobs {
			binary.BigEndian.PutUint64(seq[:], offset+uint64(i))
			if err := outs.Put(seq[:], blob); err != nil {
				return err
			}
		}
		var next [8]byte
		binary.BigEndian.PutUint64(next[:], offset+uint64(len(blobs)))
		return entry.Put(keyOffset, next[:])
	})
	if err != nil {
		return fmt.Errorf("failed to persist outputs: %w", err)
	}
	return nil
}

// Clear removes the offset and accumulated outputs for the identity, forcing
// a full resync on the next read.
func (d *DB) Clear(id Identity) error {
	err := d.db.Update(func(tx *bolt.Tx) error {
		root := tx.Bucket(bucketIdentities)
		if root.Bucket(id.Key()) == nil {
			return nil
		}
		return root.DeleteBucket(id.Key())
	})
	if err != nil {
		return fmt.Errorf("failed to clear cache entry: %w", err)
	}
	return nil
}
