package revdb

import (
	"log/slog"
	"slices"
)

// Put adds a revision to docID as a child of parent and returns it with a
// fresh sequence.
//
// An empty parent creates the document; it fails with Conflict when the
// document exists and is not deleted, and continues the tree of a deleted
// one. A non-empty parent must name a leaf revision (normally the current
// one), otherwise Put fails with Conflict. Bodies referencing blobs get
// RevHasAttachments automatically.
func (tx *Tx) Put(docID string, parent RevID, body []byte, flags RevisionFlags) (rev *Revision, err error) {
	defer catch(&err)
	if err := tx.requireWritable(); err != nil {
		return nil, err
	}
	if err := validateDocID(docID); err != nil {
		return nil, err
	}
	if parent != "" && !parent.IsValid() {
		return nil, engineErrf(BadRevisionID, "invalid parent revision ID %q", parent)
	}
	flags &= storedRevFlags

	rec, err := tx.loadDoc(docID)
	if err != nil {
		return nil, err
	}
	parentIdx := -1
	if parent == "" {
		if rec != nil {
			cur := rec.current()
			if !rec.Revs[cur].isDeleted() {
				return nil, docErr(docID, rec.Revs[cur].RevID, Conflict, "document already exists")
			}
			parentIdx = cur
		}
	} else {
		if rec == nil {
			return nil, docErr(docID, parent, NotFound, "document does not exist")
		}
		parentIdx = rec.find(parent)
		if parentIdx < 0 {
			return nil, docErr(docID, parent, NotFound, "parent revision does not exist")
		}
		if !rec.Revs[parentIdx].isLeaf() {
			return nil, docErr(docID, parent, Conflict, "parent revision is not current")
		}
	}

	prev := tx.beginDocUpdate(rec)
	if rec == nil {
		rec = &docRecord{Exp: NeverExpires}
	}

	if len(findBlobRefs(body)) > 0 {
		flags |= RevHasAttachments
	}
	var parentRevID RevID
	if parentIdx >= 0 {
		parentRevID = rec.Revs[parentIdx].RevID
	}
	revID := newRevID(parentRevID, flags.Contains(RevDeleted), body)
	if rec.find(revID) >= 0 {
		return nil, docErr(docID, revID, Conflict, "revision already exists")
	}

	seq := tx.nextSequence()
	idx := rec.insert(revNode{
		RevID:    revID,
		Seq:      seq,
		Flags:    flags,
		BodySize: len(body),
		HasBody:  true,
	}, parentIdx)
	tx.putBody(docID, revID, body)
	tx.saveDoc(docID, rec, seq, prev)

	if tx.db.verbose {
		tx.db.logger.Debug("revdb: PUT", slog.String("doc", printableID(docID)), slog.String("rev", string(revID)), slog.Uint64("seq", seq))
	}

	rev = rec.revision(docID, idx)
	rev.Body = cloneBody(body)
	return rev, nil
}

// PutExisting inserts a revision together with its ancestry, as received
// from elsewhere. history[0] is the new revision and each following entry is
// the previous one's parent, one generation lower. Unlike Put it may create
// conflicting branches. It returns the revision and how many revisions were
// added; a revision already present is a no-op with a count of 0.
func (tx *Tx) PutExisting(docID string, history []RevID, body []byte, flags RevisionFlags) (rev *Revision, added int, err error) {
	defer catch(&err)
	if err := tx.requireWritable(); err != nil {
		return nil, 0, err
	}
	if err := validateDocID(docID); err != nil {
		return nil, 0, err
	}
	if len(history) == 0 {
		return nil, 0, engineErrf(InvalidParameter, "empty revision history")
	}
	for i, r := range history {
		if !r.IsValid() {
			return nil, 0, engineErrf(BadRevisionID, "invalid revision ID %q", r)
		}
		if i > 0 && r.Generation() != history[i-1].Generation()-1 {
			return nil, 0, engineErrf(BadRevisionID, "revision %s cannot be the parent of %s", r, history[i-1])
		}
	}
	flags &= storedRevFlags

	rec, err := tx.loadDoc(docID)
	if err != nil {
		return nil, 0, err
	}
	common, parentIdx := len(history), -1
	if rec != nil {
		for i, r := range history {
			if j := rec.find(r); j >= 0 {
				common, parentIdx = i, j
				break
			}
		}
		if common == 0 {
			return rec.revision(docID, parentIdx), 0, nil
		}
	}

	prev := tx.beginDocUpdate(rec)
	if rec == nil {
		rec = &docRecord{Exp: NeverExpires}
	}
	if len(findBlobRefs(body)) > 0 {
		flags |= RevHasAttachments
	}

	seq := tx.nextSequence()
	for i := common - 1; i >= 1; i-- {
		parentIdx = rec.insert(revNode{RevID: history[i], Seq: seq}, parentIdx)
	}
	idx := rec.insert(revNode{
		RevID:    history[0],
		Seq:      seq,
		Flags:    flags,
		BodySize: len(body),
		HasBody:  true,
	}, parentIdx)
	tx.putBody(docID, history[0], body)
	tx.saveDoc(docID, rec, seq, prev)

	if tx.db.verbose {
		tx.db.logger.Debug("revdb: PUT.EXISTING", slog.String("doc", printableID(docID)), slog.String("rev", string(history[0])), slog.Int("added", common), slog.Uint64("seq", seq))
	}

	rev = rec.revision(docID, idx)
	rev.Body = cloneBody(body)
	return rev, common, nil
}

// docState is what saveDoc needs to know about a document before the update.
type docState struct {
	seq  uint64
	live bool
}

func (tx *Tx) beginDocUpdate(rec *docRecord) docState {
	if rec == nil {
		return docState{}
	}
	return docState{seq: rec.Seq, live: rec.isLive()}
}

// saveDoc stores rec under its new sequence, replacing the document's
// previous entry in seqsBucket and adjusting the document count.
func (tx *Tx) saveDoc(docID string, rec *docRecord, seq uint64, prev docState) {
	seqs := tx.bucket(seqsBucket)
	if prev.seq != 0 {
		ensure(seqs.Delete(seqKey(prev.seq)))
	}
	rec.Seq = seq
	ensure(seqs.Put(seqKey(seq), []byte(docID)))
	ensure(tx.bucket(docsBucket).Put([]byte(docID), encodeRecord(nil, rec)))

	if live := rec.isLive(); live != prev.live {
		if live {
			tx.adjustDocCount(1)
		} else {
			tx.adjustDocCount(-1)
		}
	}

	cur := rec.currentNode()
	tx.recordChange(Change{
		DocID:    docID,
		RevID:    cur.RevID,
		Sequence: seq,
		BodySize: cur.BodySize,
		Op:       OpPut,
	})
}

// putBody stores a revision body. Empty bodies are not stored at all.
func (tx *Tx) putBody(docID string, revID RevID, body []byte) {
	if len(body) == 0 {
		return
	}
	ensure(tx.bucket(bodiesBucket).Put(bodyKey(docID, revID), body))
}

func cloneBody(body []byte) []byte {
	if body == nil {
		return []byte{}
	}
	return slices.Clone(body)
}

func (db *DB) Put(docID string, parent RevID, body []byte, flags RevisionFlags) (rev *Revision, err error) {
	err = db.inTx(func(tx *Tx) error {
		rev, err = tx.Put(docID, parent, body, flags)
		return err
	})
	return
}

func (db *DB) PutExisting(docID string, history []RevID, body []byte, flags RevisionFlags) (rev *Revision, added int, err error) {
	err = db.inTx(func(tx *Tx) error {
		rev, added, err = tx.PutExisting(docID, history, body, flags)
		return err
	})
	return
}
