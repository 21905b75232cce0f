package revdb

import (
	"fmt"
	"log/slog"
	"runtime/debug"
	"time"
)

// Tx is a view of the database: either the handle's write transaction,
// shared by every nesting level between Begin and the matching End, or a
// read-only snapshot of the last commit.
type Tx struct {
	db       *DB
	stx      storageTx
	view     storageTx
	writable bool
	managed  bool

	// sealer encrypts this transaction's writes. Rekey replaces it; the new
	// cipher becomes the database's only when the transaction commits.
	sealer  *sealer
	rekeyed bool
	// poison is set when a multi-step operation failed halfway. A poisoned
	// transaction can only roll back.
	poison error

	changes []Change

	startTime time.Time
	stack     []byte
	closed    bool
}

func (db *DB) openTx(writable bool, s *sealer) (*Tx, error) {
	stx, err := db.st.BeginTx(writable)
	if err != nil {
		return nil, err
	}
	tx := &Tx{
		db:       db,
		stx:      stx,
		view:     sealTx(stx, s),
		writable: writable,
		sealer:   s,
	}
	if trackTxns {
		tx.startTime = time.Now()
		tx.stack = debug.Stack()
		db.addTx(tx)
	}
	if writable {
		db.WriterCount.Add(1)
		db.WriteCount.Add(1)
	} else {
		db.ReaderCount.Add(1)
		db.ReadCount.Add(1)
	}
	return tx, nil
}

func (tx *Tx) finish(commit bool) error {
	if tx.closed {
		return nil
	}
	tx.closed = true
	var err error
	if commit {
		err = tx.stx.Commit()
		if err != nil {
			tx.stx.Rollback()
		}
	} else {
		err = tx.stx.Rollback()
	}
	if tx.writable {
		tx.db.WriterCount.Add(-1)
	} else {
		tx.db.ReaderCount.Add(-1)
	}
	if trackTxns {
		tx.db.removeTx(tx)
	}
	return err
}

func (tx *Tx) DB() *DB {
	return tx.db
}

func (tx *Tx) IsWritable() bool {
	return tx.writable
}

// Close releases a snapshot obtained from BeginRead. It does nothing for the
// handle's write transaction, which only End finishes.
func (tx *Tx) Close() {
	if tx.managed {
		return
	}
	tx.finish(false)
}

func (tx *Tx) bucket(name string) storageBucket {
	return nonNil(tx.view.Bucket(name))
}

func (tx *Tx) requireWritable() error {
	if !tx.writable {
		return engineErrf(OutsideTransaction, "cannot modify a read-only snapshot")
	}
	if tx.closed {
		return engineErrf(OutsideTransaction, "transaction is already closed")
	}
	return nil
}

// Begin opens a transaction, or nests inside the one already open. Only the
// outermost Begin starts a storage write transaction.
func (db *DB) Begin() error {
	return db.begin(false)
}

// begin is Begin; with outermost set it fails with TransactionNotClosed
// instead of nesting.
func (db *DB) begin(outermost bool) error {
	db.mu.Lock()
	defer db.mu.Unlock()
	if db.closed {
		return engineErrf(NotOpen, "database is closed")
	}
	if db.readOnly {
		return engineErrf(UnsupportedOperation, "database is read-only")
	}
	if outermost && db.depth > 0 {
		return engineErrf(TransactionNotClosed, "a transaction is already open")
	}
	if db.depth == 0 {
		tx, err := db.openTx(true, db.sealer)
		if err != nil {
			return err
		}
		tx.managed = true
		db.wtx = tx
	}
	db.depth++
	return nil
}

// End closes one nesting level. Only the outermost End commits or rolls
// back, according to its own commit flag; inner levels just unwind.
func (db *DB) End(commit bool) error {
	db.mu.Lock()
	if db.depth == 0 {
		db.mu.Unlock()
		return engineErrf(OutsideTransaction, "End called without Begin")
	}
	db.depth--
	if db.depth > 0 {
		db.mu.Unlock()
		return nil
	}
	tx := db.wtx
	db.wtx = nil

	var err error
	committed := false
	if commit && tx.poison == nil {
		err = tx.finish(true)
		if err == nil {
			committed = true
			if tx.rekeyed {
				db.sealer = tx.sealer
			}
		}
	} else {
		tx.finish(false)
		if commit {
			err = tx.poison
		}
	}
	db.mu.Unlock()

	if err != nil {
		db.logger.Warn("revdb: transaction failed", slog.String("db", db.path), slog.Any("err", err))
	}
	if committed && len(tx.changes) > 0 {
		db.notify(tx.changes)
	}
	return err
}

// InTransaction reports whether Begin has been called more times than End.
func (db *DB) InTransaction() bool {
	db.mu.Lock()
	defer db.mu.Unlock()
	return db.depth > 0
}

func (db *DB) currentTx() (*Tx, error) {
	db.mu.Lock()
	defer db.mu.Unlock()
	if db.depth == 0 {
		return nil, engineErrf(OutsideTransaction, "no transaction is open")
	}
	return db.wtx, nil
}

// inTx runs a mutation on the open transaction, failing with
// OutsideTransaction when there is none.
func (db *DB) inTx(f func(tx *Tx) error) error {
	tx, err := db.currentTx()
	if err != nil {
		return err
	}
	return f(tx)
}

// Write runs f in a nested transaction scope, ending it with commit set to
// whether f succeeded.
func (db *DB) Write(f func(tx *Tx) error) error {
	return db.write(false, f)
}

func (db *DB) write(outermost bool, f func(tx *Tx) error) error {
	if err := db.begin(outermost); err != nil {
		return err
	}
	tx, err := db.currentTx()
	if err != nil {
		return err
	}
	funcErr := safelyCall(f, tx)
	err = db.End(funcErr == nil)
	if funcErr != nil {
		return funcErr
	}
	return err
}

// BeginRead opens a snapshot of the last commit. The caller must Close it.
func (db *DB) BeginRead() (*Tx, error) {
	db.mu.Lock()
	defer db.mu.Unlock()
	if db.closed {
		return nil, engineErrf(NotOpen, "database is closed")
	}
	// Opened under mu so a rekey commit cannot land between picking the
	// sealer and taking the snapshot.
	return db.openTx(false, db.sealer)
}

// Read runs f against a snapshot of the last commit.
func (db *DB) Read(f func(tx *Tx) error) error {
	tx, err := db.BeginRead()
	if err != nil {
		return err
	}
	defer tx.Close()
	return safelyCall(f, tx)
}

// view is Read for internal handle-level reads.
func (db *DB) view(f func(tx *Tx) error) (err error) {
	tx, err := db.BeginRead()
	if err != nil {
		return err
	}
	defer tx.Close()
	defer catch(&err)
	return f(tx)
}

type panicked struct {
	reason interface{}
	stack  string
}

func (p panicked) Error() string {
	return fmt.Sprintf("panic: %v\n\n%s", p.reason, p.stack)
}

func safelyCall(fn func(*Tx) error, tx *Tx) (err error) {
	defer func() {
		if p := recover(); p != nil {
			if e, ok := p.(*Error); ok {
				err = e
				return
			}
			err = panicked{p, string(debug.Stack())}
		}
	}()
	return fn(tx)
}

func (tx *Tx) recordChange(chg Change) {
	tx.changes = append(tx.changes, chg)
}

func (tx *Tx) LastSequence() uint64 {
	return getUint64(tx.bucket(metaBucket), metaLastSeq)
}

func (tx *Tx) DocumentCount() uint64 {
	return getUint64(tx.bucket(metaBucket), metaDocCount)
}

func (tx *Tx) nextSequence() uint64 {
	meta := tx.bucket(metaBucket)
	seq := getUint64(meta, metaLastSeq) + 1
	ensure(putUint64(meta, metaLastSeq, seq))
	return seq
}

func (tx *Tx) adjustDocCount(delta int) {
	meta := tx.bucket(metaBucket)
	n := int64(getUint64(meta, metaDocCount)) + int64(delta)
	if n < 0 {
		panic(engineErrf(CorruptData, "document count went negative"))
	}
	ensure(putUint64(meta, metaDocCount, uint64(n)))
}

func (db *DB) LastSequence() (seq uint64, err error) {
	err = db.view(func(tx *Tx) error {
		seq = tx.LastSequence()
		return nil
	})
	return
}

func (db *DB) DocumentCount() (n uint64, err error) {
	err = db.view(func(tx *Tx) error {
		n = tx.DocumentCount()
		return nil
	})
	return
}
