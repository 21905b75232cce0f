package revdb

import (
	"fmt"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func openTestStorage(t *testing.T, engine Engine) storage {
	t.Helper()
	opt := &Options{IsTesting: true}
	var st storage
	var err error
	switch engine {
	case EngineMemory:
		st = newMemStorage()
	case EngineBolt:
		st, err = openBoltStorage(filepath.Join(t.TempDir(), boltFileName), opt)
	case EngineBadger:
		if testing.Short() {
			t.Skip("badger is slow to open")
		}
		st, err = openBadgerStorage(filepath.Join(t.TempDir(), badgerDirName), opt)
	}
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })
	return st
}

func forEachStorage(t *testing.T, f func(t *testing.T, st storage)) {
	for _, e := range []Engine{EngineBolt, EngineMemory, EngineBadger} {
		t.Run(string(e), func(t *testing.T) {
			f(t, openTestStorage(t, e))
		})
	}
}

func collect(c storageCursor, k, v []byte) []string {
	defer c.Close()
	var out []string
	for ; k != nil; k, v = c.Next() {
		out = append(out, string(k)+"="+string(v))
	}
	return out
}

func TestStorageBasics(t *testing.T) {
	forEachStorage(t, func(t *testing.T, st storage) {
		tx, err := st.BeginTx(true)
		require.NoError(t, err)
		require.True(t, tx.Writable())
		require.NoError(t, createBuckets(tx))
		b := tx.Bucket(docsBucket)
		for _, k := range []string{"c", "a", "b", "ab"} {
			require.NoError(t, b.Put([]byte(k), []byte(k+k)))
		}
		require.NoError(t, tx.Bucket(bodiesBucket).Put([]byte("a"), []byte("other bucket")))
		require.Equal(t, "aa", string(b.Get([]byte("a"))))
		require.Nil(t, b.Get([]byte("zz")))
		require.NoError(t, tx.Commit())

		tx, err = st.BeginTx(false)
		require.NoError(t, err)
		require.False(t, tx.Writable())
		b = tx.Bucket(docsBucket)
		require.Equal(t, 4, b.KeyCount())
		require.Equal(t, 1, tx.Bucket(bodiesBucket).KeyCount())
		require.Equal(t, 0, tx.Bucket(blobsBucket).KeyCount())

		c := b.Cursor()
		k, v := c.First()
		require.Equal(t, []string{"a=aa", "ab=abab", "b=bb", "c=cc"}, collect(c, k, v))
		c = b.Cursor()
		k, v = c.Seek([]byte("aa"))
		require.Equal(t, []string{"ab=abab", "b=bb", "c=cc"}, collect(c, k, v))
		c = b.Cursor()
		k, _ = c.Seek([]byte("d"))
		require.Nil(t, k)
		c.Close()
		require.NoError(t, tx.Rollback())
		require.NoError(t, tx.Rollback())
	})
}

func TestStorageRollbackAndDelete(t *testing.T) {
	forEachStorage(t, func(t *testing.T, st storage) {
		tx, err := st.BeginTx(true)
		require.NoError(t, err)
		require.NoError(t, createBuckets(tx))
		require.NoError(t, tx.Bucket(metaBucket).Put([]byte("k1"), []byte("v1")))
		require.NoError(t, tx.Bucket(metaBucket).Put([]byte("k2"), []byte("v2")))
		require.NoError(t, tx.Commit())

		tx, err = st.BeginTx(true)
		require.NoError(t, err)
		require.NoError(t, tx.Bucket(metaBucket).Put([]byte("k3"), []byte("v3")))
		require.NoError(t, tx.Bucket(metaBucket).Delete([]byte("k1")))
		require.NoError(t, tx.Bucket(metaBucket).Delete([]byte("missing")))
		require.Nil(t, tx.Bucket(metaBucket).Get([]byte("k1")))
		require.NoError(t, tx.Rollback())

		tx, err = st.BeginTx(true)
		require.NoError(t, err)
		m := tx.Bucket(metaBucket)
		require.Equal(t, "v1", string(m.Get([]byte("k1"))))
		require.Nil(t, m.Get([]byte("k3")))
		require.NoError(t, m.Delete([]byte("k1")))
		require.NoError(t, tx.Commit())

		tx, err = st.BeginTx(false)
		require.NoError(t, err)
		defer tx.Rollback()
		c := tx.Bucket(metaBucket).Cursor()
		k, v := c.First()
		require.Equal(t, []string{"k2=v2"}, collect(c, k, v))
	})
}

func TestStorageSnapshotIsolation(t *testing.T) {
	forEachStorage(t, func(t *testing.T, st storage) {
		tx, err := st.BeginTx(true)
		require.NoError(t, err)
		require.NoError(t, createBuckets(tx))
		require.NoError(t, tx.Bucket(seqsBucket).Put(seqKey(1), []byte("one")))
		require.NoError(t, tx.Commit())

		rtx, err := st.BeginTx(false)
		require.NoError(t, err)
		defer rtx.Rollback()

		wtx, err := st.BeginTx(true)
		require.NoError(t, err)
		require.NoError(t, wtx.Bucket(seqsBucket).Put(seqKey(2), []byte("two")))
		require.NoError(t, wtx.Commit())

		require.Equal(t, 1, rtx.Bucket(seqsBucket).KeyCount())
		require.Nil(t, rtx.Bucket(seqsBucket).Get(seqKey(2)))
	})
}

func TestStorageManyKeysOrdered(t *testing.T) {
	forEachStorage(t, func(t *testing.T, st storage) {
		tx, err := st.BeginTx(true)
		require.NoError(t, err)
		require.NoError(t, createBuckets(tx))
		b := tx.Bucket(seqsBucket)
		for i := 500; i >= 1; i-- {
			require.NoError(t, b.Put(seqKey(uint64(i)), []byte(fmt.Sprint(i))))
		}
		require.NoError(t, tx.Commit())

		tx, err = st.BeginTx(false)
		require.NoError(t, err)
		defer tx.Rollback()
		c := tx.Bucket(seqsBucket).Cursor()
		defer c.Close()
		var prev uint64
		n := 0
		for k, _ := c.Seek(seqKey(101)); k != nil; k, _ = c.Next() {
			seq, err := decodeSeqKey(k)
			require.NoError(t, err)
			require.Greater(t, seq, prev)
			prev = seq
			n++
		}
		require.Equal(t, 400, n)
		require.Equal(t, uint64(500), prev)
	})
}

func TestSealedStorage(t *testing.T) {
	st := openTestStorage(t, EngineMemory)
	s, err := newSealer(must(NewEncryptionKey()))
	require.NoError(t, err)

	stx, err := st.BeginTx(true)
	require.NoError(t, err)
	require.NoError(t, createBuckets(stx))
	require.NoError(t, writeKeyCheck(stx, s))
	sealed := sealTx(stx, s)
	require.NoError(t, sealed.Bucket(docsBucket).Put([]byte("k"), []byte("plain")))
	require.NoError(t, stx.Commit())

	stx, err = st.BeginTx(false)
	require.NoError(t, err)
	defer stx.Rollback()
	raw := stx.Bucket(docsBucket).Get([]byte("k"))
	require.NotEqual(t, "plain", string(raw))
	require.Equal(t, "plain", string(sealTx(stx, s).Bucket(docsBucket).Get([]byte("k"))))

	c := sealTx(stx, s).Bucket(docsBucket).Cursor()
	k, v := c.First()
	require.Equal(t, []string{"k=plain"}, collect(c, k, v))

	require.NoError(t, verifyKeyCheck(stx, s))
	other, err := newSealer(must(NewEncryptionKey()))
	require.NoError(t, err)
	require.ErrorIs(t, verifyKeyCheck(stx, other), ErrNotADatabase)
	require.ErrorIs(t, verifyKeyCheck(stx, nil), ErrNotADatabase)
	require.Panics(t, func() { sealTx(stx, other).Bucket(docsBucket).Get([]byte("k")) })
}
