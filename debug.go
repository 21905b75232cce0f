package revdb

import (
	"fmt"
	"io"
	"unicode/utf8"
)

type DumpFlags uint64

const (
	DumpDocs = DumpFlags(1 << iota)
	DumpRevs
	DumpBodies
	DumpBlobs
	DumpRaw
	DumpStats

	DumpAll = DumpFlags(0xFFFFFFFFFFFFFFFF)

	indentStep = "  "
)

func (f DumpFlags) Contains(v DumpFlags) bool {
	return (f & v) == v
}

// Dump writes a human-readable listing of the snapshot's contents.
func (tx *Tx) Dump(w io.Writer, f DumpFlags) (err error) {
	defer catch(&err)
	if f.Contains(DumpStats) {
		fmt.Fprintln(w, rpadf('=', "== stats "))
		fmt.Fprintf(w, "docs = %d, last_seq = %d, blobs = %d, size = %d\n", tx.DocumentCount(), tx.LastSequence(), tx.BlobCount(), tx.stx.Size())
	}
	if f.Contains(DumpDocs) {
		if err := tx.dumpDocs(w, f); err != nil {
			return err
		}
	}
	if f.Contains(DumpBlobs) {
		keys, err := tx.BlobKeys()
		if err != nil {
			return err
		}
		fmt.Fprintln(w, rpadf('=', "== blobs (%d) ", len(keys)))
		for i, k := range keys {
			size, _ := tx.BlobSize(k)
			fmt.Fprintf(w, "blob.%d = %s (%d bytes)\n", i+1, k, size)
		}
	}
	if f.Contains(DumpRaw) {
		fmt.Fprintln(w, rpadf('=', "== raw "))
		c := tx.bucket(rawBucket).Cursor()
		defer c.Close()
		for k, v := c.First(); k != nil; k, v = c.Next() {
			store, key, _ := splitByte(string(k), 0)
			fmt.Fprintf(w, "raw.%s/%s (%d bytes)\n", store, printableID(key), len(v))
		}
	}
	return nil
}

func (tx *Tx) dumpDocs(w io.Writer, f DumpFlags) error {
	fmt.Fprintln(w, rpadf('=', "== docs (%d live) ", tx.DocumentCount()))

	type entry struct {
		docID string
		rec   *docRecord
	}
	var docs []entry
	c := tx.bucket(docsBucket).Cursor()
	for k, v := c.First(); k != nil; k, v = c.Next() {
		rec, err := decodeDoc(string(k), v)
		if err != nil {
			fmt.Fprintf(w, "%s ** ERROR: %v\n", printableID(string(k)), err)
			continue
		}
		docs = append(docs, entry{string(k), rec})
	}
	c.Close()

	for _, d := range docs {
		info := d.rec.info(d.docID)
		fmt.Fprintf(w, "%s = %s #%d [%v]", printableID(d.docID), info.RevID, info.Sequence, info.Flags)
		if info.Expiration != NeverExpires {
			fmt.Fprintf(w, " expires %v", info.Expiration)
		}
		fmt.Fprintln(w)
		if !f.Contains(DumpRevs) {
			continue
		}
		for _, i := range d.rec.sortedByPriority() {
			rev := d.rec.revision(d.docID, i)
			fmt.Fprintf(w, "%s%s #%d [%v] %d bytes", indentStep, rev.RevID, rev.Sequence, rev.Flags, rev.BodySize)
			if !rev.available {
				fmt.Fprint(w, " (compacted)")
			}
			fmt.Fprintln(w)
			if f.Contains(DumpBodies) && rev.available {
				fmt.Fprintf(w, "%s%s%s\n", indentStep, indentStep, loggableBody(tx.readBody(d.docID, rev.RevID)))
			}
		}
	}
	return nil
}

// loggableBody renders a body for dumps: text as-is, binary as a size.
func loggableBody(body []byte) string {
	if len(body) == 0 {
		return "<empty>"
	}
	if !utf8.Valid(body) {
		return fmt.Sprintf("<%d binary bytes>", len(body))
	}
	const max = 200
	if len(body) > max {
		return string(body[:max]) + "..."
	}
	return string(body)
}

func (db *DB) Dump(w io.Writer, f DumpFlags) error {
	return db.view(func(tx *Tx) error {
		return tx.Dump(w, f)
	})
}

func rpadf(pad rune, format string, args ...any) string {
	s := fmt.Sprintf(format, args...)
	return rpad(s, 80, pad)
}
