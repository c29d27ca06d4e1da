package bdb_test

import (
	"bytes"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/rstaudt2/tinydecred/walletdb"
	_ "github.com/rstaudt2/tinydecred/walletdb/bdb"
)

// dbType is the database type name for this driver.
const dbType = "bdb"

func TestDriverRegistration(t *testing.T) {
	require.Contains(t, walletdb.SupportedDrivers(), dbType)

	_, err := walletdb.Create("unregistered")
	require.ErrorIs(t, err, walletdb.ErrDbUnknownType)
	_, err = walletdb.Open("unregistered")
	require.ErrorIs(t, err, walletdb.ErrDbUnknownType)
}

func TestOpenNonexistent(t *testing.T) {
	_, err := walletdb.Open(dbType, filepath.Join(t.TempDir(), "missing.db"))
	require.ErrorIs(t, err, walletdb.ErrDbDoesNotExist)
}

func TestInvalidArgs(t *testing.T) {
	// The driver requires exactly one string argument, the database path.
	_, err := walletdb.Create(dbType)
	require.Error(t, err)
	_, err = walletdb.Create(dbType, 42)
	require.Error(t, err)
}

func TestBucketOperations(t *testing.T) {
	db, err := walletdb.Create(dbType, filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	defer db.Close()

	topKey := []byte("top")
	err = walletdb.Update(db, func(tx walletdb.ReadWriteTx) error {
		top, err := tx.CreateTopLevelBucket(topKey)
		require.NoError(t, err)

		require.NoError(t, top.Put([]byte("k1"), []byte("v1")))
		require.NoError(t, top.Put([]byte("k2"), []byte("v2")))
		require.Equal(t, []byte("v1"), top.Get([]byte("k1")))
		require.Nil(t, top.Get([]byte("absent")))

		// Overwrites replace rather than duplicate.
		require.NoError(t, top.Put([]byte("k1"), []byte("v1x")))
		require.Equal(t, []byte("v1x"), top.Get([]byte("k1")))

		// Deleting a missing key is a no-op.
		require.NoError(t, top.Delete([]byte("absent")))
		require.NoError(t, top.Delete([]byte("k2")))
		require.Nil(t, top.Get([]byte("k2")))

		// Nested buckets.
		nested, err := top.CreateBucket([]byte("nested"))
		require.NoError(t, err)
		require.NoError(t, nested.Put([]byte("nk"), []byte("nv")))
		_, err = top.CreateBucket([]byte("nested"))
		require.ErrorIs(t, err, walletdb.ErrBucketExists)
		again, err := top.CreateBucketIfNotExists([]byte("nested"))
		require.NoError(t, err)
		require.Equal(t, []byte("nv"), again.Get([]byte("nk")))

		require.Nil(t, top.NestedReadWriteBucket([]byte("no such")))
		return nil
	})
	require.NoError(t, err)

	// Committed data is visible from a read transaction, and writes are
	// rejected there.
	err = walletdb.View(db, func(tx walletdb.ReadTx) error {
		top := tx.ReadBucket(topKey)
		require.NotNil(t, top)
		require.Equal(t, []byte("v1x"), top.Get([]byte("k1")))
		require.Equal(t, []byte("nv"),
			top.NestedReadBucket([]byte("nested")).Get([]byte("nk")))
		return nil
	})
	require.NoError(t, err)
}

func TestUpdateRollsBackOnError(t *testing.T) {
	db, err := walletdb.Create(dbType, filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	defer db.Close()

	topKey := []byte("top")
	err = walletdb.Update(db, func(tx walletdb.ReadWriteTx) error {
		_, err := tx.CreateTopLevelBucket(topKey)
		return err
	})
	require.NoError(t, err)

	fail := walletdb.ErrInvalid
	err = walletdb.Update(db, func(tx walletdb.ReadWriteTx) error {
		top := tx.ReadWriteBucket(topKey)
		require.NoError(t, top.Put([]byte("k"), []byte("v")))
		return fail
	})
	require.ErrorIs(t, err, fail)

	err = walletdb.View(db, func(tx walletdb.ReadTx) error {
		require.Nil(t, tx.ReadBucket(topKey).Get([]byte("k")))
		return nil
	})
	require.NoError(t, err)
}

func TestCursor(t *testing.T) {
	db, err := walletdb.Create(dbType, filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	defer db.Close()

	topKey := []byte("top")
	keys := [][]byte{[]byte("a"), []byte("b"), []byte("c")}
	err = walletdb.Update(db, func(tx walletdb.ReadWriteTx) error {
		top, err := tx.CreateTopLevelBucket(topKey)
		if err != nil {
			return err
		}
		for _, k := range keys {
			if err := top.Put(k, k); err != nil {
				return err
			}
		}
		return nil
	})
	require.NoError(t, err)

	err = walletdb.View(db, func(tx walletdb.ReadTx) error {
		c := tx.ReadBucket(topKey).ReadCursor()

		var forward [][]byte
		for k, _ := c.First(); k != nil; k, _ = c.Next() {
			kCopy := make([]byte, len(k))
			copy(kCopy, k)
			forward = append(forward, kCopy)
		}
		require.Equal(t, keys, forward)

		k, v := c.Seek([]byte("b"))
		require.True(t, bytes.Equal(k, []byte("b")))
		require.True(t, bytes.Equal(v, []byte("b")))

		k, _ = c.Last()
		require.True(t, bytes.Equal(k, []byte("c")))
		k, _ = c.Prev()
		require.True(t, bytes.Equal(k, []byte("b")))
		return nil
	})
	require.NoError(t, err)
}
