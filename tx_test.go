package revdb

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestNestedTransactionCommitsOnOutermostEnd(t *testing.T) {
	forEachEngine(t, func(t *testing.T, opt Options) {
		db := setupWith(t, opt)

		require.NoError(t, db.Begin())
		require.NoError(t, db.Begin())
		_, err := db.Put("doc", "", []byte(`{}`), 0)
		require.NoError(t, err)
		require.NoError(t, db.End(false))
		require.True(t, db.InTransaction())

		// not visible to handle reads until the outer commit
		_, err = db.GetInfo("doc")
		require.ErrorIs(t, err, ErrNotFound)

		require.NoError(t, db.End(true))
		require.False(t, db.InTransaction())

		info, err := db.GetInfo("doc")
		require.NoError(t, err)
		require.Equal(t, uint64(1), info.Sequence)
	})
}

func TestOutermostAbortRollsBack(t *testing.T) {
	forEachEngine(t, func(t *testing.T, opt Options) {
		db := setupWith(t, opt)

		require.NoError(t, db.Begin())
		require.NoError(t, db.Begin())
		_, err := db.Put("doc", "", []byte(`{}`), 0)
		require.NoError(t, err)
		require.NoError(t, db.End(true))
		require.NoError(t, db.End(false))

		_, err = db.GetInfo("doc")
		require.ErrorIs(t, err, ErrNotFound)
		seq, err := db.LastSequence()
		require.NoError(t, err)
		require.Equal(t, uint64(0), seq)
	})
}

func TestMutationOutsideTransaction(t *testing.T) {
	db := setup(t)

	_, err := db.Put("doc", "", []byte(`{}`), 0)
	require.ErrorIs(t, err, ErrOutsideTransaction)
	_, err = db.StoreBlob([]byte("x"))
	require.ErrorIs(t, err, ErrOutsideTransaction)
	require.ErrorIs(t, db.Purge("doc"), ErrOutsideTransaction)
	require.ErrorIs(t, db.RawPut("s", "k", nil, []byte("v")), ErrOutsideTransaction)
	require.ErrorIs(t, db.Rekey(nil), ErrOutsideTransaction)
	require.ErrorIs(t, db.End(true), ErrOutsideTransaction)
}

func TestTxSeesOwnWrites(t *testing.T) {
	db := setup(t)
	err := db.Write(func(tx *Tx) error {
		_, err := tx.Put("doc", "", []byte(`{"a":1}`), 0)
		require.NoError(t, err)

		rev, err := tx.Get("doc", "")
		require.NoError(t, err)
		require.Equal(t, `{"a":1}`, string(rev.Body))
		require.Equal(t, uint64(1), tx.DocumentCount())
		return nil
	})
	require.NoError(t, err)
}

func TestWriteRollsBackOnError(t *testing.T) {
	db := setup(t)
	boom := errors.New("boom")
	err := db.Write(func(tx *Tx) error {
		if _, err := tx.Put("doc", "", []byte(`{}`), 0); err != nil {
			return err
		}
		return boom
	})
	require.ErrorIs(t, err, boom)

	n, err := db.DocumentCount()
	require.NoError(t, err)
	require.Equal(t, uint64(0), n)
}

func TestWriteRecoversPanics(t *testing.T) {
	db := setup(t)
	err := db.Write(func(tx *Tx) error {
		panic("oops")
	})
	require.ErrorContains(t, err, "oops")
	require.False(t, db.InTransaction())

	err = db.Write(func(tx *Tx) error {
		panic(engineErrf(Conflict, "structured"))
	})
	require.ErrorIs(t, err, ErrConflict)
}

func TestReadSnapshotIsolation(t *testing.T) {
	db := setup(t)
	put(t, db, "a", "", `{}`)

	snap, err := db.BeginRead()
	require.NoError(t, err)
	defer snap.Close()
	require.False(t, snap.IsWritable())

	put(t, db, "b", "", `{}`)

	require.Equal(t, uint64(1), snap.DocumentCount())
	_, err = snap.GetInfo("b")
	require.ErrorIs(t, err, ErrNotFound)
	_, err = snap.Put("c", "", nil, 0)
	require.ErrorIs(t, err, ErrOutsideTransaction)
}

func TestSequencesNotReusedAfterRollback(t *testing.T) {
	db := setup(t)
	put(t, db, "a", "", `{}`)

	require.NoError(t, db.Begin())
	_, err := db.Put("b", "", []byte(`{}`), 0)
	require.NoError(t, err)
	require.NoError(t, db.End(false))

	rev := put(t, db, "c", "", `{}`)
	require.Equal(t, uint64(2), rev.Sequence)
}

func TestDescribeOpenTxns(t *testing.T) {
	db := setup(t)
	require.Equal(t, "NO OPEN TRANSACTIONS", db.DescribeOpenTxns())

	snap, err := db.BeginRead()
	require.NoError(t, err)
	require.Contains(t, db.DescribeOpenTxns(), "1 OPEN TRANSACTIONS")
	require.Contains(t, db.DescribeOpenTxns(), "read, open for")
	snap.Close()
	require.Equal(t, "NO OPEN TRANSACTIONS", db.DescribeOpenTxns())
}

func TestOutermostWriteRefusesToNest(t *testing.T) {
	db := setup(t)
	require.NoError(t, db.Begin())
	called := false
	err := db.write(true, func(tx *Tx) error {
		called = true
		return nil
	})
	require.ErrorIs(t, err, ErrTransactionNotClosed)
	require.False(t, called)
	require.True(t, db.InTransaction())
	require.NoError(t, db.End(false))
	require.False(t, db.InTransaction())

	require.NoError(t, db.write(true, func(tx *Tx) error {
		called = true
		return nil
	}))
	require.True(t, called)
}
