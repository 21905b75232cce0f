package revdb

import (
	"errors"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/require"
)

func populate(t testing.TB, db *DB) BlobKey {
	t.Helper()
	k := storeBlob(t, db, []byte("blob content"))
	r := put(t, db, "a", "", blobRef(k))
	put(t, db, "a", r.RevID, `{"v":2}`)
	put(t, db, "b", "", `{"v":1}`)
	setExpiration(t, db, "b", 12345)
	require.NoError(t, db.Write(func(tx *Tx) error {
		return tx.RawPut("info", "k", []byte("meta"), []byte("body"))
	}))
	return k
}

func checkPopulated(t testing.TB, db *DB, k BlobKey) {
	t.Helper()
	rev, err := db.Get("a", "")
	require.NoError(t, err)
	require.Equal(t, `{"v":2}`, string(rev.Body))
	content, err := db.BlobContents(k)
	require.NoError(t, err)
	require.Equal(t, "blob content", string(content))
	exp, err := db.GetExpiration("b")
	require.NoError(t, err)
	require.Equal(t, Expiry(12345), exp)
	raw, err := db.RawGet("info", "k")
	require.NoError(t, err)
	require.Equal(t, "body", string(raw.Body))
	n, err := db.DocumentCount()
	require.NoError(t, err)
	require.Equal(t, uint64(2), n)
}

func rekey(t testing.TB, db *DB, key *EncryptionKey) error {
	t.Helper()
	return db.Write(func(tx *Tx) error {
		return tx.Rekey(key)
	})
}

func TestEncryptedDatabaseNeedsKey(t *testing.T) {
	path := filepath.Join(t.TempDir(), "db")
	key := must(NewEncryptionKey())
	db, err := Open(path, Options{Create: true, IsTesting: true, EncryptionKey: key})
	require.NoError(t, err)
	require.Equal(t, EncryptionXChaCha20Poly1305, db.EncryptionAlgorithm())
	k := populate(t, db)
	require.NoError(t, db.Close())

	_, err = Open(path, Options{IsTesting: true})
	require.ErrorIs(t, err, ErrNotADatabase)
	_, err = Open(path, Options{IsTesting: true, EncryptionKey: must(NewEncryptionKey())})
	require.ErrorIs(t, err, ErrNotADatabase)

	db, err = Open(path, Options{IsTesting: true, EncryptionKey: key})
	require.NoError(t, err)
	defer db.Close()
	checkPopulated(t, db, k)
}

func TestKeyGivenForPlainDatabase(t *testing.T) {
	path := filepath.Join(t.TempDir(), "db")
	db, err := Open(path, Options{Create: true, IsTesting: true})
	require.NoError(t, err)
	require.NoError(t, db.Close())

	_, err = Open(path, Options{IsTesting: true, EncryptionKey: must(NewEncryptionKey())})
	require.ErrorIs(t, err, ErrNotADatabase)
}

func TestRekey(t *testing.T) {
	forEachEngine(t, func(t *testing.T, opt Options) {
		if opt.Engine == EngineMemory {
			t.Skip("rekey persistence needs a file")
		}
		path := filepath.Join(t.TempDir(), "db")
		oldKey := opt.EncryptionKey
		db, err := Open(path, opt)
		require.NoError(t, err)
		k := populate(t, db)

		newKey := must(NewEncryptionKey())
		require.NoError(t, rekey(t, db, newKey))
		require.Equal(t, EncryptionXChaCha20Poly1305, db.EncryptionAlgorithm())
		checkPopulated(t, db, k)

		// writes after the rekey use the new key
		put(t, db, "c", "", `{}`)
		require.NoError(t, db.Close())

		opt.Create = false
		opt.EncryptionKey = oldKey
		_, err = Open(path, opt)
		require.ErrorIs(t, err, ErrNotADatabase)

		opt.EncryptionKey = newKey
		db, err = Open(path, opt)
		require.NoError(t, err)
		checkPopulatedPlus(t, db, k)

		// and back to plaintext
		require.NoError(t, rekey(t, db, nil))
		require.Equal(t, EncryptionNone, db.EncryptionAlgorithm())
		require.NoError(t, db.Close())

		opt.EncryptionKey = nil
		db, err = Open(path, opt)
		require.NoError(t, err)
		defer db.Close()
		checkPopulatedPlus(t, db, k)
	})
}

func checkPopulatedPlus(t testing.TB, db *DB, k BlobKey) {
	t.Helper()
	_, err := db.GetInfo("c")
	require.NoError(t, err)
	require.NoError(t, db.Write(func(tx *Tx) error { return tx.Purge("c") }))
	checkPopulated(t, db, k)
	put(t, db, "c", "", `{}`)
}

func TestRekeyFailureKeepsOldKey(t *testing.T) {
	path := filepath.Join(t.TempDir(), "db")
	oldKey := must(NewEncryptionKey())
	db, err := Open(path, Options{Create: true, IsTesting: true, EncryptionKey: oldKey})
	require.NoError(t, err)
	k := populate(t, db)

	boom := errors.New("disk on fire")
	var calls int
	testRekeyHook = func(bucket string) error {
		calls++
		if bucket == bodiesBucket {
			return boom
		}
		return nil
	}
	defer func() { testRekeyHook = nil }()

	require.NoError(t, db.Begin())
	err = db.Rekey(must(NewEncryptionKey()))
	require.ErrorIs(t, err, boom)
	// the transaction can no longer commit
	require.ErrorIs(t, db.Rekey(nil), boom)
	require.ErrorIs(t, db.End(true), boom)
	require.Greater(t, calls, 0)
	testRekeyHook = nil

	checkPopulated(t, db, k)
	require.NoError(t, db.Close())

	db, err = Open(path, Options{IsTesting: true, EncryptionKey: oldKey})
	require.NoError(t, err)
	defer db.Close()
	checkPopulated(t, db, k)
}

func TestRekeyInsideLargerTransactionRollsBack(t *testing.T) {
	path := filepath.Join(t.TempDir(), "db")
	db, err := Open(path, Options{Create: true, IsTesting: true})
	require.NoError(t, err)
	k := populate(t, db)

	require.NoError(t, db.Begin())
	require.NoError(t, db.Rekey(must(NewEncryptionKey())))
	require.Equal(t, EncryptionNone, db.EncryptionAlgorithm())
	require.NoError(t, db.End(false))
	require.Equal(t, EncryptionNone, db.EncryptionAlgorithm())
	checkPopulated(t, db, k)
	require.NoError(t, db.Close())

	db, err = Open(path, Options{IsTesting: true})
	require.NoError(t, err)
	defer db.Close()
	checkPopulated(t, db, k)
}

func TestEncryptionKeyText(t *testing.T) {
	k := must(NewEncryptionKey())
	s := k.String()
	require.Len(t, s, 64)
	parsed, err := ParseEncryptionKey(s)
	require.NoError(t, err)
	require.Equal(t, k, parsed)

	_, err = ParseEncryptionKey("abcd")
	require.ErrorIs(t, err, ErrInvalidParameter)
	_, err = ParseEncryptionKey("")
	require.ErrorIs(t, err, ErrInvalidParameter)

	var none *EncryptionKey
	require.Equal(t, "none", none.String())
}

func TestUnsupportedAlgorithm(t *testing.T) {
	_, err := Open(filepath.Join(t.TempDir(), "db"), Options{Create: true, EncryptionKey: &EncryptionKey{Algorithm: 99}})
	require.ErrorIs(t, err, &Error{Domain: EngineDomain, Code: int(UnsupportedEncryption)})
}

func TestSealedValuesAreBoundToTheirSlot(t *testing.T) {
	s, err := newSealer(must(NewEncryptionKey()))
	require.NoError(t, err)
	sealed := s.seal(docsBucket, []byte("a"), []byte("secret"))
	require.NotContains(t, string(sealed), "secret")

	plain, err := s.open(docsBucket, []byte("a"), sealed)
	require.NoError(t, err)
	require.Equal(t, "secret", string(plain))

	_, err = s.open(docsBucket, []byte("b"), sealed)
	require.ErrorIs(t, err, ErrNotADatabase)
	_, err = s.open(bodiesBucket, []byte("a"), sealed)
	require.ErrorIs(t, err, ErrNotADatabase)
	_, err = s.open(docsBucket, []byte("a"), sealed[:10])
	require.ErrorIs(t, err, ErrNotADatabase)
}

func TestReadersDuringRekey(t *testing.T) {
	db := setup(t)
	put(t, db, "a", "", `{"v":1}`)

	var stop atomic.Bool
	var wg sync.WaitGroup
	errs := make(chan error, 4)
	for range 4 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for !stop.Load() {
				rev, err := db.Get("a", "")
				if err == nil && string(rev.Body) != `{"v":1}` {
					err = errors.New("unexpected body " + string(rev.Body))
				}
				if err != nil {
					errs <- err
					return
				}
			}
		}()
	}
	for i := 0; i < 100; i++ {
		var key *EncryptionKey
		if i%2 == 0 {
			key = must(NewEncryptionKey())
		}
		require.NoError(t, rekey(t, db, key))
	}
	stop.Store(true)
	wg.Wait()
	close(errs)
	for err := range errs {
		require.NoError(t, err)
	}
}
