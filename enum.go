package revdb

import (
	"github.com/cockroachdb/errors"
)

// EnumeratorFlags control what enumerators return.
type EnumeratorFlags uint32

const (
	// IncludeDeleted makes AllDocs and Changes return deleted documents.
	IncludeDeleted EnumeratorFlags = 1 << iota
	// IncludeBodies loads the current revision's body for each document.
	IncludeBodies

	DefaultEnumeratorFlags = IncludeBodies
)

func (f EnumeratorFlags) Contains(v EnumeratorFlags) bool {
	return (f & v) == v
}

// DocEnumerator is a cursor over documents in a read snapshot taken when it
// was created. Call Next until it returns false, then check Err. The
// snapshot is released when the enumerator is exhausted or closed.
//
// With the bolt engine an open snapshot keeps commits from growing the
// database mmap, so a goroutine that holds an enumerator and writes enough
// to need a larger mmap blocks forever. Close the enumerator first, or size
// Options.MmapSize for the expected data.
type DocEnumerator struct {
	db    *DB
	tx    *Tx
	cur   storageCursor
	flags EnumeratorFlags

	// step advances the underlying cursor and returns the next document ID,
	// or false at the end.
	step    func(first bool) (string, bool, error)
	started bool
	done    bool

	info *DocumentInfo
	rev  *Revision
	err  error

	onYield func(info *DocumentInfo)
}

func (db *DB) newEnumerator(bucket string, flags EnumeratorFlags) (*DocEnumerator, error) {
	tx, err := db.BeginRead()
	if err != nil {
		return nil, err
	}
	return &DocEnumerator{
		db:    db,
		tx:    tx,
		cur:   tx.bucket(bucket).Cursor(),
		flags: flags,
	}, nil
}

// AllDocs enumerates documents in document ID order. See DocEnumerator
// for how an open enumerator interacts with writes.
func (db *DB) AllDocs(flags EnumeratorFlags) (*DocEnumerator, error) {
	e, err := db.newEnumerator(docsBucket, flags)
	if err != nil {
		return nil, err
	}
	e.step = func(first bool) (string, bool, error) {
		var k []byte
		if first {
			k, _ = e.cur.First()
		} else {
			k, _ = e.cur.Next()
		}
		if k == nil {
			return "", false, nil
		}
		return string(k), true, nil
	}
	return e, nil
}

// Changes enumerates documents changed after sequence since, in sequence
// order. Each document appears once, with its latest state.
// See DocEnumerator for how an open enumerator interacts with writes.
func (db *DB) Changes(since uint64, flags EnumeratorFlags) (*DocEnumerator, error) {
	e, err := db.newEnumerator(seqsBucket, flags)
	if err != nil {
		return nil, err
	}
	e.step = func(first bool) (string, bool, error) {
		var k, v []byte
		if first {
			if since == ^uint64(0) {
				return "", false, nil
			}
			k, v = e.cur.Seek(seqKey(since + 1))
		} else {
			k, v = e.cur.Next()
		}
		if k == nil {
			return "", false, nil
		}
		if _, err := decodeSeqKey(k); err != nil {
			return "", false, err
		}
		return string(v), true, nil
	}
	return e, nil
}

// Next advances to the next document. It returns false when there are no
// more documents or an error occurred; Err tells the two apart.
func (e *DocEnumerator) Next() (ok bool) {
	if e.done {
		return false
	}
	defer func() {
		if p := recover(); p != nil {
			ee, isErr := p.(*Error)
			if !isErr {
				panic(p)
			}
			e.fail(ee)
			ok = false
		}
	}()

	for {
		docID, found, err := e.step(!e.started)
		e.started = true
		if err != nil {
			e.fail(err)
			return false
		}
		if !found {
			e.info, e.rev = nil, nil
			e.release()
			return false
		}

		rec, err := e.tx.loadDoc(docID)
		if err != nil {
			e.fail(err)
			return false
		}
		if rec == nil {
			e.fail(errors.Wrapf(ErrCorruptData, "index entry for missing document %q", printableID(docID)))
			return false
		}
		info := rec.info(docID)
		if info.IsDeleted() && !e.flags.Contains(IncludeDeleted) {
			continue
		}
		rev := rec.revision(docID, rec.current())
		if e.flags.Contains(IncludeBodies) && rev.available {
			rev.Body = e.tx.readBody(docID, rev.RevID)
		}
		e.info, e.rev = info, rev
		if e.onYield != nil {
			e.onYield(info)
		}
		return true
	}
}

// Info returns the current document's metadata.
func (e *DocEnumerator) Info() *DocumentInfo {
	return e.info
}

// Revision returns the current document's current revision. Its body is
// loaded only with IncludeBodies.
func (e *DocEnumerator) Revision() *Revision {
	return e.rev
}

// Err returns the error that stopped the enumeration, if any.
func (e *DocEnumerator) Err() error {
	return e.err
}

// Close releases the enumerator's snapshot. It is safe to call repeatedly.
func (e *DocEnumerator) Close() {
	e.done = true
	e.info, e.rev = nil, nil
	e.release()
}

func (e *DocEnumerator) fail(err error) {
	e.err = err
	e.info, e.rev = nil, nil
	e.release()
}

func (e *DocEnumerator) release() {
	e.done = true
	if e.cur != nil {
		e.cur.Close()
		e.cur = nil
	}
	if e.tx != nil {
		e.tx.Close()
		e.tx = nil
	}
}
