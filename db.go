package revdb

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
)

const trackTxns = true

// Engine names a storage engine.
type Engine string

const (
	EngineBolt   Engine = "bolt"
	EngineBadger Engine = "badger"
	EngineMemory Engine = "memory"
)

const formatVersion = "1"

// Keys in metaBucket.
const (
	metaFormat      = "format"
	metaPublicUUID  = "publicUUID"
	metaPrivateUUID = "privateUUID"
	metaLastSeq     = "lastSeq"
	metaDocCount    = "docCount"
)

type DB struct {
	path     string
	engine   Engine
	st       storage
	logger   *slog.Logger
	now      func() time.Time
	maxDepth int
	readOnly bool
	verbose  bool

	mu     sync.Mutex
	depth  int
	wtx    *Tx
	sealer *sealer
	closed bool

	obsMu     sync.Mutex
	observers []*observer

	ReaderCount atomic.Int64
	WriterCount atomic.Int64
	ReadCount   atomic.Uint64
	WriteCount  atomic.Uint64
	compactions atomic.Uint64
	blobsSwept  atomic.Uint64

	txns     []*Tx
	txnsLock sync.Mutex
}

type Options struct {
	// Create makes Open create the database bundle if it does not exist.
	Create   bool
	ReadOnly bool
	// Engine selects the storage engine. Empty means detect from the bundle,
	// or bolt for a new one.
	Engine        Engine
	EncryptionKey *EncryptionKey
	// MaxRevTreeDepth bounds revision history kept by Compact.
	MaxRevTreeDepth int

	Logger  *slog.Logger
	Verbose bool
	// Now is the clock used for expiration; defaults to time.Now.
	Now func() time.Time

	IsTesting bool
	// MmapSize is the initial bolt mmap size. Commits that outgrow it wait
	// for every open read snapshot, enumerators included, to be released.
	MmapSize int
}

// UUIDs identify a database. Both are generated at creation; a copied
// database gets new ones.
type UUIDs struct {
	Public  uuid.UUID
	Private uuid.UUID
}

// Open opens the database bundle at path. The memory engine ignores path.
func Open(path string, opt Options) (db *DB, err error) {
	engine, created, err := resolveEngine(path, &opt)
	if err != nil {
		return nil, err
	}
	if created {
		defer func() {
			if err != nil {
				os.RemoveAll(path)
			}
		}()
	}
	s, err := newSealer(opt.EncryptionKey)
	if err != nil {
		return nil, err
	}

	var st storage
	switch engine {
	case EngineMemory:
		st = newMemStorage()
	case EngineBolt:
		st, err = openBoltStorage(filepath.Join(path, boltFileName), &opt)
	case EngineBadger:
		st, err = openBadgerStorage(filepath.Join(path, badgerDirName), &opt)
	}
	if err != nil {
		return nil, err
	}

	db = &DB{
		path:     path,
		engine:   engine,
		st:       st,
		logger:   opt.Logger,
		now:      opt.Now,
		maxDepth: opt.MaxRevTreeDepth,
		readOnly: opt.ReadOnly,
		verbose:  opt.Verbose,
		sealer:   s,
	}
	if db.logger == nil {
		db.logger = slog.Default()
	}
	if db.now == nil {
		db.now = time.Now
	}
	if db.maxDepth <= 0 {
		db.maxDepth = DefaultMaxRevTreeDepth
	}

	if err := db.initialize(); err != nil {
		st.Close()
		return nil, err
	}
	db.logger.Debug("revdb: opened", slog.String("db", path), slog.String("engine", string(engine)), slog.Bool("encrypted", s != nil))
	return db, nil
}

// resolveEngine validates the engine choice against what is on disk,
// creating the bundle directory when asked to. created reports whether it
// did, so a failed Open can remove it again.
func resolveEngine(path string, opt *Options) (engine Engine, created bool, err error) {
	switch opt.Engine {
	case "", EngineBolt, EngineBadger, EngineMemory:
	default:
		return "", false, engineErrf(InvalidParameter, "unknown storage engine %q", opt.Engine)
	}
	if opt.Engine == EngineMemory {
		return EngineMemory, false, nil
	}
	if path == "" {
		return "", false, engineErrf(InvalidParameter, "database path is empty")
	}
	fi, err := os.Stat(path)
	if os.IsNotExist(err) {
		if !opt.Create || opt.ReadOnly {
			return "", false, notFoundf("database %s does not exist", path)
		}
		if err := os.Mkdir(path, 0755); err != nil {
			return "", false, ioErr(err)
		}
		return defaultEngine(opt.Engine), true, nil
	} else if err != nil {
		return "", false, ioErr(err)
	}
	if !fi.IsDir() {
		return "", false, engineErrf(NotADatabase, "%s is not a database bundle", path)
	}

	found := detectEngine(path)
	if found == "" {
		if !opt.Create || opt.ReadOnly {
			return "", false, notFoundf("no database in %s", path)
		}
		return defaultEngine(opt.Engine), false, nil
	}
	if opt.Engine != "" && opt.Engine != found {
		return "", false, engineErrf(WrongFormat, "database %s uses the %s engine, not %s", path, found, opt.Engine)
	}
	return found, false, nil
}

func defaultEngine(e Engine) Engine {
	if e == "" {
		return EngineBolt
	}
	return e
}

// detectEngine returns the engine whose files exist in the bundle at path.
func detectEngine(path string) Engine {
	if fi, err := os.Stat(filepath.Join(path, badgerDirName)); err == nil && fi.IsDir() {
		return EngineBadger
	}
	if fi, err := os.Stat(filepath.Join(path, boltFileName)); err == nil && !fi.IsDir() {
		return EngineBolt
	}
	return ""
}

func (db *DB) initialize() error {
	if db.readOnly {
		stx, err := db.st.BeginTx(false)
		if err != nil {
			return err
		}
		defer stx.Rollback()
		if stx.Bucket(metaBucket) == nil || stx.Bucket(cryptBucket) == nil {
			return engineErrf(NotADatabase, "database %s is not initialized", db.path)
		}
		return verifyKeyCheck(stx, db.sealer)
	}

	stx, err := db.st.BeginTx(true)
	if err != nil {
		return err
	}
	defer stx.Rollback()
	if err := createBuckets(stx); err != nil {
		return err
	}
	if stx.Bucket(metaBucket).Get([]byte(metaFormat)) == nil {
		if err := writeKeyCheck(stx, db.sealer); err != nil {
			return err
		}
		meta := sealTx(stx, db.sealer).Bucket(metaBucket)
		if err := meta.Put([]byte(metaFormat), []byte(formatVersion)); err != nil {
			return err
		}
		if err := writeUUIDs(meta); err != nil {
			return err
		}
		db.logger.Debug("revdb: created", slog.String("db", db.path))
	} else if err := verifyKeyCheck(stx, db.sealer); err != nil {
		return err
	} else if err := checkFormat(sealTx(stx, db.sealer).Bucket(metaBucket)); err != nil {
		return err
	}
	return stx.Commit()
}

func checkFormat(meta storageBucket) (err error) {
	defer catch(&err)
	if v := string(meta.Get([]byte(metaFormat))); v != formatVersion {
		return engineErrf(WrongFormat, "unsupported database format %q", v)
	}
	return nil
}

func writeUUIDs(meta storageBucket) error {
	pub, priv := uuid.New(), uuid.New()
	if err := meta.Put([]byte(metaPublicUUID), pub[:]); err != nil {
		return err
	}
	return meta.Put([]byte(metaPrivateUUID), priv[:])
}

func (db *DB) Path() string {
	return db.path
}

func (db *DB) Engine() Engine {
	return db.engine
}

func (db *DB) Logger() *slog.Logger {
	return db.logger
}

// Close closes the database. It fails with TransactionNotClosed while a
// transaction is open. Closing twice is a no-op.
func (db *DB) Close() error {
	db.mu.Lock()
	if db.closed {
		db.mu.Unlock()
		return nil
	}
	if db.depth > 0 {
		db.mu.Unlock()
		return engineErrf(TransactionNotClosed, "cannot close %s with an open transaction", db.path)
	}
	db.closed = true
	db.mu.Unlock()

	if n := db.ReaderCount.Load(); n > 0 {
		db.logger.Warn("revdb: closing with open readers", slog.String("db", db.path), slog.Int64("readers", n), slog.String("txns", db.DescribeOpenTxns()))
	}
	err := db.st.Close()
	db.logger.Debug("revdb: closed", slog.String("db", db.path))
	return err
}

// Delete closes the database and removes its bundle from disk.
func (db *DB) Delete() error {
	if err := db.Close(); err != nil {
		return err
	}
	if db.engine == EngineMemory {
		return nil
	}
	return DeleteDatabase(db.path)
}

func (db *DB) UUIDs() (ids UUIDs, err error) {
	err = db.view(func(tx *Tx) error {
		ids, err = tx.UUIDs()
		return err
	})
	return
}

func (tx *Tx) UUIDs() (UUIDs, error) {
	meta := tx.bucket(metaBucket)
	var ids UUIDs
	pub, priv := meta.Get([]byte(metaPublicUUID)), meta.Get([]byte(metaPrivateUUID))
	if len(pub) != 16 || len(priv) != 16 {
		return ids, engineErrf(CorruptData, "missing database UUIDs")
	}
	copy(ids.Public[:], pub)
	copy(ids.Private[:], priv)
	return ids, nil
}

func (tx *Tx) resetUUIDs() error {
	if err := tx.requireWritable(); err != nil {
		return err
	}
	return writeUUIDs(tx.bucket(metaBucket))
}

func (db *DB) addTx(tx *Tx) {
	db.txnsLock.Lock()
	defer db.txnsLock.Unlock()
	db.txns = append(db.txns, tx)
}

func (db *DB) removeTx(tx *Tx) {
	db.txnsLock.Lock()
	defer db.txnsLock.Unlock()

	found := -1
	for i, t := range db.txns {
		if t == tx {
			found = i
			break
		}
	}
	if found < 0 {
		panic("tx not found in list")
	}

	n := len(db.txns)
	db.txns[found] = db.txns[n-1]
	db.txns[n-1] = nil // ensure it gets collected
	db.txns = db.txns[:n-1]
}

// DescribeOpenTxns lists open transactions and snapshots with the stacks
// that opened them, for diagnosing leaked enumerators.
func (db *DB) DescribeOpenTxns() string {
	if !trackTxns {
		return "OPEN TX TRACKING DISABLED"
	}

	db.txnsLock.Lock()
	txns := slices.Clone(db.txns)
	db.txnsLock.Unlock()

	if len(txns) == 0 {
		return "NO OPEN TRANSACTIONS"
	}

	slices.SortFunc(txns, func(a, b *Tx) int {
		return a.startTime.Compare(b.startTime)
	})

	now := time.Now()

	var buf strings.Builder
	fmt.Fprintf(&buf, "%d OPEN TRANSACTIONS:\n", len(txns))
	for _, tx := range txns {
		kind := "read"
		if tx.writable {
			kind = "write"
		}
		ms := now.Sub(tx.startTime).Milliseconds()
		if ms < 100 {
			fmt.Fprintf(&buf, "\n---\n%s, open for %d ms\n", kind, ms)
		} else {
			fmt.Fprintf(&buf, "\n---\n%s, open for %d ms:\n%s", kind, ms, tx.stack)
		}
	}

	return buf.String()
}
