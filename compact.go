package revdb

import (
	"log/slog"
	"time"
)

// CompactStats reports what a compaction reclaimed.
type CompactStats struct {
	Documents     int
	RevsPruned    int
	BodiesDropped int
	BlobsKept     int
	BlobsDeleted  int
	Duration      time.Duration
}

// Compact reclaims space in its own write transaction, so it only ever sees
// committed state. It fails with TransactionNotClosed while a transaction is
// open.
//
// It prunes each revision tree to MaxRevTreeDepth, discards the bodies of
// non-leaf revisions, then deletes every blob not referenced by a remaining
// leaf body.
func (db *DB) Compact() (stats CompactStats, err error) {
	start := time.Now()
	err = db.write(true, func(tx *Tx) error {
		stats, err = tx.compact(db.maxDepth)
		return err
	})
	if err != nil {
		return CompactStats{}, err
	}
	stats.Duration = time.Since(start)
	db.compactions.Add(1)
	db.blobsSwept.Add(uint64(stats.BlobsDeleted))
	db.logger.Info("revdb: compacted",
		slog.String("db", db.path),
		slog.Int("docs", stats.Documents),
		slog.Int("revs_pruned", stats.RevsPruned),
		slog.Int("bodies_dropped", stats.BodiesDropped),
		slog.Int("blobs_kept", stats.BlobsKept),
		slog.Int("blobs_deleted", stats.BlobsDeleted),
		slog.Duration("duration", stats.Duration))
	return stats, nil
}

func (tx *Tx) compact(maxDepth int) (stats CompactStats, err error) {
	defer catch(&err)
	if err := tx.requireWritable(); err != nil {
		return stats, err
	}

	// Collect first: badger allows one iterator per write transaction and
	// none while we write.
	type docEntry struct {
		docID string
		rec   *docRecord
	}
	var docs []docEntry
	c := tx.bucket(docsBucket).Cursor()
	for k, v := c.First(); k != nil; k, v = c.Next() {
		rec, err := decodeDoc(string(k), v)
		if err != nil {
			c.Close()
			return stats, err
		}
		docs = append(docs, docEntry{string(k), rec})
	}
	c.Close()
	stats.Documents = len(docs)

	bodies := tx.bucket(bodiesBucket)
	refs := make(map[BlobKey]struct{})
	for _, d := range docs {
		changed := false
		for _, n := range d.rec.prune(maxDepth) {
			stats.RevsPruned++
			if n.HasBody {
				ensure(bodies.Delete(bodyKey(d.docID, n.RevID)))
			}
			changed = true
		}
		for i := range d.rec.Revs {
			n := &d.rec.Revs[i]
			if n.isLeaf() {
				if n.HasBody && n.Flags.Contains(RevHasAttachments) {
					collectBlobRefs(bodies.Get(bodyKey(d.docID, n.RevID)), refs)
				}
				continue
			}
			if n.HasBody {
				ensure(bodies.Delete(bodyKey(d.docID, n.RevID)))
				n.HasBody = false
				stats.BodiesDropped++
				changed = true
			}
		}
		if changed {
			ensure(tx.bucket(docsBucket).Put([]byte(d.docID), encodeRecord(nil, d.rec)))
		}
	}

	keys, err := tx.BlobKeys()
	if err != nil {
		return stats, err
	}
	blobs := tx.bucket(blobsBucket)
	for _, k := range keys {
		if _, ok := refs[k]; ok {
			stats.BlobsKept++
			continue
		}
		ensure(blobs.Delete(k[:]))
		stats.BlobsDeleted++
		if tx.db.verbose {
			tx.db.logger.Debug("revdb: SWEEP", hexAttr("blob", k[:]))
		}
	}
	return stats, nil
}
