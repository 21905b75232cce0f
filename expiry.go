package revdb

import (
	"log/slog"
)

// SetExpiration schedules docID to expire at exp; NeverExpires cancels.
// Setting the current value again changes nothing.
func (tx *Tx) SetExpiration(docID string, exp Expiry) (err error) {
	defer catch(&err)
	if err := tx.requireWritable(); err != nil {
		return err
	}
	rec, err := tx.mustLoadDoc(docID)
	if err != nil {
		return err
	}
	if rec.Exp == exp {
		return nil
	}
	b := tx.bucket(expiryBucket)
	if rec.Exp != NeverExpires {
		ensure(b.Delete(expiryKey(rec.Exp, docID)))
	}
	if exp != NeverExpires {
		ensure(b.Put(expiryKey(exp, docID), []byte{1}))
	}
	rec.Exp = exp
	ensure(tx.bucket(docsBucket).Put([]byte(docID), encodeRecord(nil, rec)))
	return nil
}

// GetExpiration returns docID's expiration, or NeverExpires when none is set
// or the document does not exist.
func (tx *Tx) GetExpiration(docID string) (exp Expiry, err error) {
	defer catch(&err)
	if err := validateDocID(docID); err != nil {
		return NeverExpires, err
	}
	rec, err := tx.loadDoc(docID)
	if err != nil || rec == nil {
		return NeverExpires, err
	}
	return rec.Exp, nil
}

// NextExpiration returns the soonest pending expiration in the database, or
// NeverExpires.
func (tx *Tx) NextExpiration() (exp Expiry, err error) {
	defer catch(&err)
	c := tx.bucket(expiryBucket).Cursor()
	defer c.Close()
	k, _ := c.First()
	if k == nil {
		return NeverExpires, nil
	}
	exp, _, err = decodeExpiryKey(k)
	return exp, err
}

// SetExpiration runs in its own transaction, nested in the open one if any.
func (db *DB) SetExpiration(docID string, exp Expiry) error {
	return db.Write(func(tx *Tx) error {
		return tx.SetExpiration(docID, exp)
	})
}

func (db *DB) GetExpiration(docID string) (exp Expiry, err error) {
	err = db.view(func(tx *Tx) error {
		exp, err = tx.GetExpiration(docID)
		return err
	})
	return
}

func (db *DB) NextExpiration() (exp Expiry, err error) {
	err = db.view(func(tx *Tx) error {
		exp, err = tx.NextExpiration()
		return err
	})
	return
}

// ExpiredEnumerator yields documents whose expiration is at or before the
// time it was created, ordered by (expiration, document ID).
type ExpiredEnumerator struct {
	*DocEnumerator
	now     Expiry
	yielded []string
}

// Expired enumerates documents whose expiration has passed. Like the other
// enumerators it holds a snapshot until closed or exhausted.
func (db *DB) Expired() (*ExpiredEnumerator, error) {
	e, err := db.newEnumerator(expiryBucket, IncludeDeleted)
	if err != nil {
		return nil, err
	}
	ee := &ExpiredEnumerator{DocEnumerator: e, now: ExpiryAt(db.now())}
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
		exp, docID, err := decodeExpiryKey(k)
		if err != nil {
			return "", false, err
		}
		if exp > ee.now {
			return "", false, nil
		}
		return docID, true, nil
	}
	e.onYield = func(info *DocumentInfo) {
		ee.yielded = append(ee.yielded, info.DocID)
	}
	return ee, nil
}

// PurgeExpired purges the documents this enumerator has yielded so far that
// are still expired, and returns how many it purged. It closes the
// enumerator first. Calling it again purges nothing.
func (e *ExpiredEnumerator) PurgeExpired() (n int, err error) {
	e.Close()
	ids := e.yielded
	e.yielded = nil
	if len(ids) == 0 {
		return 0, nil
	}

	db := e.db
	err = db.Write(func(tx *Tx) error {
		now := ExpiryAt(db.now())
		for _, docID := range ids {
			rec, err := tx.loadDoc(docID)
			if err != nil {
				return err
			}
			if rec == nil || rec.Exp == NeverExpires || rec.Exp > now {
				continue
			}
			tx.purgeDoc(docID, rec)
			n++
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	if n > 0 {
		db.logger.Info("revdb: purged expired documents", slog.String("db", db.path), slog.Int("count", n))
	}
	return n, nil
}
