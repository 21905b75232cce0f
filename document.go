package revdb

import (
	"math"
	"strings"
	"time"
)

// MaxDocIDLength is the longest document ID accepted, in bytes.
const MaxDocIDLength = 1024

// RevisionFlags describe a single revision.
type RevisionFlags uint8

const (
	RevDeleted RevisionFlags = 1 << iota
	RevLeaf
	RevHasAttachments
	// RevIsConflict marks an active leaf that lost the current-revision
	// tie-break. It is computed when revisions are read, never stored.
	RevIsConflict
)

// storedRevFlags are the flags a caller may pass to Put.
const storedRevFlags = RevDeleted | RevHasAttachments

func (f RevisionFlags) Contains(v RevisionFlags) bool {
	return (f & v) == v
}

func (f RevisionFlags) String() string {
	var parts []string
	if f.Contains(RevDeleted) {
		parts = append(parts, "deleted")
	}
	if f.Contains(RevLeaf) {
		parts = append(parts, "leaf")
	}
	if f.Contains(RevHasAttachments) {
		parts = append(parts, "attachments")
	}
	if f.Contains(RevIsConflict) {
		parts = append(parts, "conflict")
	}
	return strings.Join(parts, ",")
}

// DocumentFlags describe a document as a whole, from its current revision.
type DocumentFlags uint8

const (
	DocDeleted DocumentFlags = 1 << iota
	DocConflicted
	DocHasAttachments
	DocExists
)

func (f DocumentFlags) Contains(v DocumentFlags) bool {
	return (f & v) == v
}

func (f DocumentFlags) String() string {
	var parts []string
	if f.Contains(DocExists) {
		parts = append(parts, "exists")
	}
	if f.Contains(DocDeleted) {
		parts = append(parts, "deleted")
	}
	if f.Contains(DocConflicted) {
		parts = append(parts, "conflicted")
	}
	if f.Contains(DocHasAttachments) {
		parts = append(parts, "attachments")
	}
	return strings.Join(parts, ",")
}

// Revision is one version of a document. Body is nil until loaded; fetches
// that only need metadata leave it nil and report the size in BodySize.
type Revision struct {
	DocID       string
	RevID       RevID
	ParentRevID RevID
	Sequence    uint64
	Flags       RevisionFlags
	BodySize    int
	Body        []byte

	// available is false when the body was discarded by compaction.
	available bool
}

func (r *Revision) IsDeleted() bool { return r.Flags.Contains(RevDeleted) }
func (r *Revision) IsLeaf() bool    { return r.Flags.Contains(RevLeaf) }

// IsBodyLoaded reports whether Body holds the revision's content.
func (r *Revision) IsBodyLoaded() bool { return r.Body != nil }

// IsBodyAvailable reports whether the body can still be loaded.
func (r *Revision) IsBodyAvailable() bool { return r.available }

// DocumentInfo is a document's metadata as of its current revision.
type DocumentInfo struct {
	DocID      string
	RevID      RevID
	Sequence   uint64
	Flags      DocumentFlags
	BodySize   int
	Expiration Expiry
}

func (d *DocumentInfo) Exists() bool    { return d.Flags.Contains(DocExists) }
func (d *DocumentInfo) IsDeleted() bool { return d.Flags.Contains(DocDeleted) }

// Expiry is a unix timestamp in milliseconds.
type Expiry uint64

// NeverExpires cancels a document's expiration.
const NeverExpires Expiry = math.MaxUint64

func ExpiryAt(t time.Time) Expiry {
	ms := t.UnixMilli()
	if ms < 0 {
		return 0
	}
	return Expiry(ms)
}

func ExpiryAfter(now time.Time, d time.Duration) Expiry {
	return ExpiryAt(now.Add(d))
}

func (e Expiry) Time() time.Time {
	if e == NeverExpires {
		return time.Time{}
	}
	return time.UnixMilli(int64(e))
}

func (e Expiry) String() string {
	if e == NeverExpires {
		return "never"
	}
	return e.Time().UTC().Format(time.RFC3339Nano)
}

func validateDocID(docID string) error {
	if docID == "" {
		return engineErrf(InvalidParameter, "empty document ID")
	}
	if len(docID) > MaxDocIDLength {
		return engineErrf(InvalidParameter, "document ID is %d bytes, max is %d", len(docID), MaxDocIDLength)
	}
	return nil
}
