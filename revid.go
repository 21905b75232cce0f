package revdb

import (
	"bytes"
	"crypto/sha1"
	"encoding/hex"
	"strconv"
	"strings"
)

// RevID identifies a revision: "<generation>-<digest>". Revisions minted
// locally use a 40-character hex SHA-1 digest; revisions inserted with
// PutExisting may carry any non-empty digest.
type RevID string

// ParseRevID validates the syntax of s.
func ParseRevID(s string) (RevID, error) {
	r := RevID(s)
	if _, _, ok := r.split(); !ok {
		return "", engineErrf(BadRevisionID, "invalid revision ID %q", s)
	}
	return r, nil
}

func (r RevID) split() (gen uint64, digest string, ok bool) {
	genStr, digest, found := splitByte(string(r), '-')
	if !found || genStr == "" || digest == "" {
		return 0, "", false
	}
	gen, err := strconv.ParseUint(genStr, 10, 64)
	if err != nil || gen == 0 {
		return 0, "", false
	}
	return gen, digest, true
}

// Generation returns the revision's depth in its tree, or 0 if r is malformed.
func (r RevID) Generation() uint64 {
	gen, _, _ := r.split()
	return gen
}

// Digest returns the part after the generation.
func (r RevID) Digest() string {
	_, d, _ := r.split()
	return d
}

func (r RevID) IsValid() bool {
	_, _, ok := r.split()
	return ok
}

func (r RevID) String() string {
	return string(r)
}

// CompareRevIDs orders by generation, then digest. Malformed IDs compare as
// plain bytes.
func CompareRevIDs(a, b RevID) int {
	ag, ad, aok := a.split()
	bg, bd, bok := b.split()
	if !aok || !bok {
		return strings.Compare(string(a), string(b))
	}
	switch {
	case ag < bg:
		return -1
	case ag > bg:
		return 1
	}
	return strings.Compare(ad, bd)
}

// newRevID derives a child revision's ID from its parent and content, so
// identical edits of the same parent produce the same ID.
func newRevID(parent RevID, deleted bool, body []byte) RevID {
	h := sha1.New()
	h.Write(appendVarstring(nil, string(parent)))
	if deleted {
		h.Write([]byte{1})
	} else {
		h.Write([]byte{0})
	}
	h.Write(body)
	gen := parent.Generation() + 1
	var buf bytes.Buffer
	buf.WriteString(strconv.FormatUint(gen, 10))
	buf.WriteByte('-')
	buf.WriteString(hex.EncodeToString(h.Sum(nil)))
	return RevID(buf.String())
}
