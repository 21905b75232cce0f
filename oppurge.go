package revdb

import (
	"bytes"
	"log/slog"
)

// Purge removes docID entirely: every revision and body, its change-feed
// entry and its expiration. Unlike a deletion it leaves no tombstone.
func (tx *Tx) Purge(docID string) (err error) {
	defer catch(&err)
	if err := tx.requireWritable(); err != nil {
		return err
	}
	rec, err := tx.mustLoadDoc(docID)
	if err != nil {
		return err
	}
	tx.purgeDoc(docID, rec)
	return nil
}

func (tx *Tx) purgeDoc(docID string, rec *docRecord) {
	prefix := bodyKeyPrefix(docID)
	bodies := tx.bucket(bodiesBucket)
	var keys [][]byte
	c := bodies.Cursor()
	for k, _ := c.Seek(prefix); k != nil && bytes.HasPrefix(k, prefix); k, _ = c.Next() {
		keys = append(keys, bytes.Clone(k))
	}
	c.Close()
	for _, k := range keys {
		ensure(bodies.Delete(k))
	}

	ensure(tx.bucket(seqsBucket).Delete(seqKey(rec.Seq)))
	if rec.Exp != NeverExpires {
		ensure(tx.bucket(expiryBucket).Delete(expiryKey(rec.Exp, docID)))
	}
	ensure(tx.bucket(docsBucket).Delete([]byte(docID)))
	if rec.isLive() {
		tx.adjustDocCount(-1)
	}

	tx.recordChange(Change{DocID: docID, Sequence: rec.Seq, Op: OpPurge})
	if tx.db.verbose {
		tx.db.logger.Debug("revdb: PURGE", slog.String("doc", printableID(docID)), slog.Int("bodies", len(keys)))
	}
}

func (db *DB) Purge(docID string) error {
	return db.inTx(func(tx *Tx) error {
		return tx.Purge(docID)
	})
}
