package revdb

// storage represents a key-value storage backend (Bolt, Badger, in-memory).
type storage interface {
	// BeginTx starts a new transaction. Read-only transactions see a stable
	// snapshot of the last commit for their whole lifetime.
	BeginTx(writable bool) (storageTx, error)
	// Close closes the storage.
	Close() error
}

// storageTx represents a storage transaction.
type storageTx interface {
	// Writable returns true if this is a writable transaction.
	Writable() bool

	// Bucket returns a bucket. All buckets used by the database are created
	// when it is opened, so this never returns nil for a known name.
	Bucket(name string) storageBucket

	// CreateBucket creates a bucket if it doesn't exist.
	CreateBucket(name string) (storageBucket, error)

	// Commit commits the transaction.
	Commit() error

	// Rollback aborts the transaction. It should be safe to call multiple times.
	Rollback() error

	// Size returns the database size in bytes (0 if unknown / not applicable).
	Size() int64
}

// storageBucket represents a bucket (sorted key-value collection).
//
// Slices returned by Get and cursors are only valid until the transaction
// ends; callers copy anything they keep.
type storageBucket interface {
	// Get retrieves a value by key. Returns nil if not found.
	Get(key []byte) []byte

	// Put stores a key-value pair.
	Put(key, value []byte) error

	// Delete removes a key.
	Delete(key []byte) error

	// Cursor returns a cursor for iteration. Badger allows only one live
	// iterator per writable transaction, so callers close a cursor before
	// opening another one or writing.
	Cursor() storageCursor

	// KeyCount returns the number of keys in the bucket.
	KeyCount() int
}

// storageCursor iterates over a sorted bucket in ascending key order.
type storageCursor interface {
	// First moves to the first key-value pair.
	First() (key, value []byte)

	// Seek moves to the first key >= seek.
	Seek(seek []byte) (key, value []byte)

	// Next moves to the next key-value pair.
	Next() (key, value []byte)

	// Close releases the cursor.
	Close()
}

const (
	metaBucket   = "meta"
	cryptBucket  = "crypt"
	docsBucket   = "docs"
	bodiesBucket = "bodies"
	seqsBucket   = "seqs"
	expiryBucket = "expiry"
	blobsBucket  = "blobs"
	rawBucket    = "raw"
)

// allBuckets lists every bucket in creation order. cryptBucket holds the
// key check record and is the only bucket whose values are never encrypted.
var allBuckets = []string{metaBucket, cryptBucket, docsBucket, bodiesBucket, seqsBucket, expiryBucket, blobsBucket, rawBucket}

// dataBuckets are re-encrypted by rekey.
var dataBuckets = []string{metaBucket, docsBucket, bodiesBucket, seqsBucket, expiryBucket, blobsBucket, rawBucket}

func createBuckets(stx storageTx) error {
	for _, name := range allBuckets {
		if _, err := stx.CreateBucket(name); err != nil {
			return err
		}
	}
	return nil
}
