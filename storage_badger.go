package revdb

import (
	"slices"

	"github.com/cockroachdb/errors"
	"github.com/dgraph-io/badger/v4"
)

const badgerDirName = "db.badger"

// badgerStorage emulates buckets with key prefixes: every key is stored as
// bucket name, a zero byte, then the bucket-local key.
type badgerStorage struct {
	db *badger.DB
}

func openBadgerStorage(dir string, opt *Options) (storage, error) {
	bopt := badger.DefaultOptions(dir).
		WithLogger(nil).
		WithReadOnly(opt.ReadOnly)
	if opt.IsTesting {
		bopt = bopt.
			WithSyncWrites(false).
			WithNumMemtables(2).
			WithMemTableSize(8 << 20).
			WithValueLogFileSize(16 << 20).
			WithBlockCacheSize(8 << 20)
	} else {
		bopt = bopt.WithSyncWrites(true)
	}
	db, err := badger.Open(bopt)
	if err != nil {
		return nil, storageErr(err)
	}
	return &badgerStorage{db: db}, nil
}

func (s *badgerStorage) BeginTx(writable bool) (storageTx, error) {
	if s.db.IsClosed() {
		return nil, storageErr(badger.ErrDBClosed)
	}
	return &badgerTx{txn: s.db.NewTransaction(writable), db: s.db, writable: writable}, nil
}

func (s *badgerStorage) Close() error {
	return storageErr(s.db.Close())
}

type badgerTx struct {
	db       *badger.DB
	txn      *badger.Txn
	writable bool
}

func (tx *badgerTx) Writable() bool { return tx.writable }

func (tx *badgerTx) Bucket(name string) storageBucket {
	return badgerBucket{tx: tx, prefix: badgerPrefix(name)}
}

func (tx *badgerTx) CreateBucket(name string) (storageBucket, error) {
	return tx.Bucket(name), nil
}

func (tx *badgerTx) Commit() error {
	if !tx.writable {
		tx.txn.Discard()
		return nil
	}
	return storageErr(tx.txn.Commit())
}

func (tx *badgerTx) Rollback() error {
	tx.txn.Discard()
	return nil
}

func (tx *badgerTx) Size() int64 {
	lsm, vlog := tx.db.Size()
	return lsm + vlog
}

func badgerPrefix(name string) []byte {
	p := make([]byte, 0, len(name)+1)
	p = append(p, name...)
	return append(p, 0)
}

type badgerBucket struct {
	tx     *badgerTx
	prefix []byte
}

func (b badgerBucket) key(k []byte) []byte {
	out := make([]byte, 0, len(b.prefix)+len(k))
	out = append(out, b.prefix...)
	return append(out, k...)
}

func (b badgerBucket) Get(key []byte) []byte {
	item, err := b.tx.txn.Get(b.key(key))
	if errors.Is(err, badger.ErrKeyNotFound) {
		return nil
	} else if err != nil {
		panic(storageErr(err))
	}
	v, err := item.ValueCopy(nil)
	if err != nil {
		panic(storageErr(err))
	}
	if v == nil {
		v = []byte{}
	}
	return v
}

func (b badgerBucket) Put(key, value []byte) error {
	// The transaction keeps references to both slices until commit.
	return storageErr(b.tx.txn.Set(b.key(key), slices.Clone(value)))
}

func (b badgerBucket) Delete(key []byte) error {
	return storageErr(b.tx.txn.Delete(b.key(key)))
}

func (b badgerBucket) Cursor() storageCursor {
	opt := badger.DefaultIteratorOptions
	opt.Prefix = b.prefix
	return &badgerCursor{it: b.tx.txn.NewIterator(opt), prefix: b.prefix}
}

func (b badgerBucket) KeyCount() int {
	opt := badger.DefaultIteratorOptions
	opt.Prefix = b.prefix
	opt.PrefetchValues = false
	it := b.tx.txn.NewIterator(opt)
	defer it.Close()
	var n int
	for it.Seek(b.prefix); it.ValidForPrefix(b.prefix); it.Next() {
		n++
	}
	return n
}

type badgerCursor struct {
	it      *badger.Iterator
	prefix  []byte
	started bool
	closed  bool
}

func (c *badgerCursor) First() ([]byte, []byte) {
	c.started = true
	c.it.Seek(c.prefix)
	return c.at()
}

func (c *badgerCursor) Seek(seek []byte) ([]byte, []byte) {
	c.started = true
	k := make([]byte, 0, len(c.prefix)+len(seek))
	k = append(k, c.prefix...)
	c.it.Seek(append(k, seek...))
	return c.at()
}

func (c *badgerCursor) Next() ([]byte, []byte) {
	if !c.started {
		return c.First()
	}
	if !c.it.ValidForPrefix(c.prefix) {
		return nil, nil
	}
	c.it.Next()
	return c.at()
}

func (c *badgerCursor) Close() {
	if !c.closed {
		c.closed = true
		c.it.Close()
	}
}

func (c *badgerCursor) at() ([]byte, []byte) {
	if !c.it.ValidForPrefix(c.prefix) {
		return nil, nil
	}
	item := c.it.Item()
	k := item.KeyCopy(nil)[len(c.prefix):]
	v, err := item.ValueCopy(nil)
	if err != nil {
		panic(storageErr(err))
	}
	if v == nil {
		v = []byte{}
	}
	return k, v
}
