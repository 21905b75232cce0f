package revdb

// loadDoc returns the stored record for docID, or nil if there is none.
func (tx *Tx) loadDoc(docID string) (*docRecord, error) {
	raw := tx.bucket(docsBucket).Get([]byte(docID))
	if raw == nil {
		return nil, nil
	}
	return decodeDoc(docID, raw)
}

func decodeDoc(docID string, raw []byte) (*docRecord, error) {
	rec := new(docRecord)
	if err := decodeRecord(raw, rec); err != nil {
		return nil, err
	}
	if len(rec.Revs) == 0 {
		return nil, docErr(docID, "", CorruptRevisionData, "document has no revisions")
	}
	for i := range rec.Revs {
		if p := rec.Revs[i].Parent; p < -1 || p >= len(rec.Revs) || p == i {
			return nil, docErr(docID, rec.Revs[i].RevID, CorruptRevisionData, "invalid parent index")
		}
	}
	return rec, nil
}

func (tx *Tx) mustLoadDoc(docID string) (*docRecord, error) {
	if err := validateDocID(docID); err != nil {
		return nil, err
	}
	rec, err := tx.loadDoc(docID)
	if err != nil {
		return nil, err
	}
	if rec == nil {
		return nil, docErr(docID, "", NotFound, "document does not exist")
	}
	return rec, nil
}

// findRev returns the index of revID, or of the current revision when revID
// is empty.
func (rec *docRecord) findRev(docID string, revID RevID) (int, error) {
	if revID == "" {
		return rec.current(), nil
	}
	i := rec.find(revID)
	if i < 0 {
		return -1, docErr(docID, revID, NotFound, "revision does not exist")
	}
	return i, nil
}

// GetInfo returns docID's metadata without touching any body.
func (tx *Tx) GetInfo(docID string) (info *DocumentInfo, err error) {
	defer catch(&err)
	rec, err := tx.mustLoadDoc(docID)
	if err != nil {
		return nil, err
	}
	return rec.info(docID), nil
}

// GetMeta returns a revision (the current one if revID is empty) without its
// body. Use LoadBody to fetch the body later.
func (tx *Tx) GetMeta(docID string, revID RevID) (rev *Revision, err error) {
	defer catch(&err)
	rec, err := tx.mustLoadDoc(docID)
	if err != nil {
		return nil, err
	}
	i, err := rec.findRev(docID, revID)
	if err != nil {
		return nil, err
	}
	return rec.revision(docID, i), nil
}

// Get returns a revision (the current one if revID is empty) with its body.
// A revision whose body was discarded by compaction comes back with a nil
// Body.
func (tx *Tx) Get(docID string, revID RevID) (rev *Revision, err error) {
	defer catch(&err)
	rec, err := tx.mustLoadDoc(docID)
	if err != nil {
		return nil, err
	}
	i, err := rec.findRev(docID, revID)
	if err != nil {
		return nil, err
	}
	rev = rec.revision(docID, i)
	if rev.available {
		rev.Body = tx.readBody(docID, rev.RevID)
	}
	return rev, nil
}

// LoadBody fills rev.Body. It fails with NotFound when the revision or its
// body no longer exists.
func (tx *Tx) LoadBody(rev *Revision) (err error) {
	defer catch(&err)
	if rev.Body != nil {
		return nil
	}
	rec, err := tx.mustLoadDoc(rev.DocID)
	if err != nil {
		return err
	}
	i := rec.find(rev.RevID)
	if i < 0 {
		return docErr(rev.DocID, rev.RevID, NotFound, "revision does not exist")
	}
	if !rec.Revs[i].HasBody {
		return docErr(rev.DocID, rev.RevID, NotFound, "revision body was compacted away")
	}
	rev.Body = tx.readBody(rev.DocID, rev.RevID)
	rev.available = true
	return nil
}

// readBody returns a copy of a stored body; a missing entry is an empty body.
func (tx *Tx) readBody(docID string, revID RevID) []byte {
	return cloneBody(tx.bucket(bodiesBucket).Get(bodyKey(docID, revID)))
}

// Revisions returns every revision of docID, current first, without bodies.
func (tx *Tx) Revisions(docID string) (revs []*Revision, err error) {
	defer catch(&err)
	rec, err := tx.mustLoadDoc(docID)
	if err != nil {
		return nil, err
	}
	for _, i := range rec.sortedByPriority() {
		revs = append(revs, rec.revision(docID, i))
	}
	return revs, nil
}

func (db *DB) GetInfo(docID string) (info *DocumentInfo, err error) {
	err = db.view(func(tx *Tx) error {
		info, err = tx.GetInfo(docID)
		return err
	})
	return
}

func (db *DB) GetMeta(docID string, revID RevID) (rev *Revision, err error) {
	err = db.view(func(tx *Tx) error {
		rev, err = tx.GetMeta(docID, revID)
		return err
	})
	return
}

func (db *DB) Get(docID string, revID RevID) (rev *Revision, err error) {
	err = db.view(func(tx *Tx) error {
		rev, err = tx.Get(docID, revID)
		return err
	})
	return
}

func (db *DB) LoadBody(rev *Revision) error {
	return db.view(func(tx *Tx) error {
		return tx.LoadBody(rev)
	})
}

func (db *DB) Revisions(docID string) (revs []*Revision, err error) {
	err = db.view(func(tx *Tx) error {
		revs, err = tx.Revisions(docID)
		return err
	})
	return
}
