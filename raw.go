package revdb

import (
	"bytes"
	"strings"
)

// RawDocument is a blind key/value record outside the revision model, kept in
// a named store. Writes are transactional like everything else.
type RawDocument struct {
	Store string
	Key   string
	Meta  []byte
	Body  []byte
}

type rawRecord struct {
	Meta []byte `msgpack:"m,omitempty"`
	Body []byte `msgpack:"b,omitempty"`
}

func validateRawKey(store, key string) error {
	if store == "" || strings.IndexByte(store, 0) >= 0 {
		return engineErrf(InvalidParameter, "invalid raw store name %q", store)
	}
	if key == "" {
		return engineErrf(InvalidParameter, "empty raw document key")
	}
	return nil
}

// RawPut stores meta and body under (store, key). Passing nil for both
// deletes the record.
func (tx *Tx) RawPut(store, key string, meta, body []byte) (err error) {
	defer catch(&err)
	if err := tx.requireWritable(); err != nil {
		return err
	}
	if err := validateRawKey(store, key); err != nil {
		return err
	}
	b := tx.bucket(rawBucket)
	k := rawKey(store, key)
	if meta == nil && body == nil {
		return b.Delete(k)
	}
	return b.Put(k, encodeRecord(nil, &rawRecord{Meta: meta, Body: body}))
}

// RawGet returns the record under (store, key), or NotFound.
func (tx *Tx) RawGet(store, key string) (doc *RawDocument, err error) {
	defer catch(&err)
	if err := validateRawKey(store, key); err != nil {
		return nil, err
	}
	raw := tx.bucket(rawBucket).Get(rawKey(store, key))
	if raw == nil {
		return nil, notFoundf("raw document %s/%s does not exist", store, key)
	}
	var rec rawRecord
	if err := decodeRecord(raw, &rec); err != nil {
		return nil, err
	}
	return &RawDocument{Store: store, Key: key, Meta: cloneBody(rec.Meta), Body: cloneBody(rec.Body)}, nil
}

// RawKeys lists the keys in store in ascending order.
func (tx *Tx) RawKeys(store string) (keys []string, err error) {
	defer catch(&err)
	if store == "" || strings.IndexByte(store, 0) >= 0 {
		return nil, engineErrf(InvalidParameter, "invalid raw store name %q", store)
	}
	prefix := rawKey(store, "")
	c := tx.bucket(rawBucket).Cursor()
	defer c.Close()
	for k, _ := c.Seek(prefix); k != nil && bytes.HasPrefix(k, prefix); k, _ = c.Next() {
		keys = append(keys, string(k[len(prefix):]))
	}
	return keys, nil
}

func (db *DB) RawPut(store, key string, meta, body []byte) error {
	return db.inTx(func(tx *Tx) error {
		return tx.RawPut(store, key, meta, body)
	})
}

func (db *DB) RawGet(store, key string) (doc *RawDocument, err error) {
	err = db.view(func(tx *Tx) error {
		doc, err = tx.RawGet(store, key)
		return err
	})
	return
}
