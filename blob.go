package revdb

import (
	"bytes"
	"crypto/sha1"
	"encoding/base64"
	"strings"
	"sync"

	"github.com/klauspost/compress/zstd"
)

// BlobKey is the SHA-1 digest of a blob's content.
type BlobKey [sha1.Size]byte

// BlobNotFound is the size reported for a blob that does not exist.
const BlobNotFound int64 = -1

const blobKeyPrefix = "sha1-"

func ComputeBlobKey(content []byte) BlobKey {
	return sha1.Sum(content)
}

// String returns the key as bodies reference it: "sha1-<base64>".
func (k BlobKey) String() string {
	return blobKeyPrefix + base64.StdEncoding.EncodeToString(k[:])
}

func ParseBlobKey(s string) (BlobKey, error) {
	var k BlobKey
	rest, ok := strings.CutPrefix(s, blobKeyPrefix)
	if !ok {
		return k, engineErrf(InvalidParameter, "invalid blob key %q", s)
	}
	raw, err := base64.StdEncoding.DecodeString(rest)
	if err != nil || len(raw) != len(k) {
		return k, engineErrf(InvalidParameter, "invalid blob key %q", s)
	}
	copy(k[:], raw)
	return k, nil
}

func (k BlobKey) MarshalText() ([]byte, error) {
	return []byte(k.String()), nil
}

func (k *BlobKey) UnmarshalText(text []byte) error {
	v, err := ParseBlobKey(string(text))
	if err != nil {
		return err
	}
	*k = v
	return nil
}

// Stored blob values are: codec byte, uvarint content size, payload.
const (
	blobCodecRaw  byte = 0
	blobCodecZstd byte = 1

	blobMinCompressSize = 64
)

var (
	zstdEncoder = sync.OnceValue(func() *zstd.Encoder {
		return must(zstd.NewWriter(nil, zstd.WithEncoderConcurrency(1)))
	})
	zstdDecoder = sync.OnceValue(func() *zstd.Decoder {
		return must(zstd.NewReader(nil, zstd.WithDecoderConcurrency(0)))
	})
)

func encodeBlob(content []byte) []byte {
	n := uint64(len(content))
	if len(content) >= blobMinCompressSize {
		z := zstdEncoder().EncodeAll(content, appendUvarint([]byte{blobCodecZstd}, n))
		if len(z) < len(content) {
			return z
		}
	}
	buf := appendUvarint(make([]byte, 1, 1+10+len(content)), n)
	buf[0] = blobCodecRaw
	return append(buf, content...)
}

func decodeBlobHeader(raw []byte) (codec byte, size int, payload []byte, err error) {
	d := makeByteDecoder(raw)
	codec, err = d.Byte()
	if err != nil {
		return
	}
	size, err = d.Uvarinti()
	if err != nil {
		return
	}
	return codec, size, d.Buf, nil
}

func decodeBlob(raw []byte) ([]byte, error) {
	codec, size, payload, err := decodeBlobHeader(raw)
	if err != nil {
		return nil, err
	}
	var content []byte
	switch codec {
	case blobCodecRaw:
		content = bytes.Clone(payload)
	case blobCodecZstd:
		content, err = zstdDecoder().DecodeAll(payload, make([]byte, 0, size))
		if err != nil {
			return nil, dataErrf(raw, 0, err, "failed to decompress blob")
		}
	default:
		return nil, dataErrf(raw, 0, nil, "unknown blob codec %d", codec)
	}
	if len(content) != size {
		return nil, dataErrf(raw, 0, nil, "blob is %d bytes, header says %d", len(content), size)
	}
	if content == nil {
		content = []byte{}
	}
	return content, nil
}

// StoreBlob stores content unless an identical blob already exists, and
// returns its key.
func (tx *Tx) StoreBlob(content []byte) (key BlobKey, err error) {
	defer catch(&err)
	if err := tx.requireWritable(); err != nil {
		return key, err
	}
	key = ComputeBlobKey(content)
	b := tx.bucket(blobsBucket)
	if b.Get(key[:]) != nil {
		return key, nil
	}
	return key, b.Put(key[:], encodeBlob(content))
}

// BlobSize returns the content length of a blob, or BlobNotFound.
func (tx *Tx) BlobSize(key BlobKey) (size int64, err error) {
	defer catch(&err)
	raw := tx.bucket(blobsBucket).Get(key[:])
	if raw == nil {
		return BlobNotFound, nil
	}
	_, n, _, err := decodeBlobHeader(raw)
	if err != nil {
		return BlobNotFound, err
	}
	return int64(n), nil
}

// BlobContents returns a copy of a blob's content, or NotFound.
func (tx *Tx) BlobContents(key BlobKey) (content []byte, err error) {
	defer catch(&err)
	raw := tx.bucket(blobsBucket).Get(key[:])
	if raw == nil {
		return nil, notFoundf("blob %s does not exist", key)
	}
	content, err = decodeBlob(raw)
	if err != nil {
		return nil, err
	}
	if ComputeBlobKey(content) != key {
		return nil, engineErrf(CorruptData, "blob %s does not match its digest", key)
	}
	return content, nil
}

func (tx *Tx) BlobCount() int {
	return tx.bucket(blobsBucket).KeyCount()
}

// BlobKeys returns every blob key in ascending order.
func (tx *Tx) BlobKeys() (keys []BlobKey, err error) {
	defer catch(&err)
	c := tx.bucket(blobsBucket).Cursor()
	defer c.Close()
	for k, _ := c.First(); k != nil; k, _ = c.Next() {
		if len(k) != sha1.Size {
			return nil, dataErrf(k, 0, nil, "invalid blob key")
		}
		keys = append(keys, BlobKey(k))
	}
	return keys, nil
}

// blobBytes sums the content sizes of all blobs.
func (tx *Tx) blobBytes() int64 {
	var total int64
	c := tx.bucket(blobsBucket).Cursor()
	defer c.Close()
	for k, v := c.First(); k != nil; k, v = c.Next() {
		if _, n, _, err := decodeBlobHeader(v); err == nil {
			total += int64(n)
		}
	}
	return total
}

// DeleteBlob removes a blob regardless of references. It reports whether the
// blob existed.
func (tx *Tx) DeleteBlob(key BlobKey) (found bool, err error) {
	defer catch(&err)
	if err := tx.requireWritable(); err != nil {
		return false, err
	}
	b := tx.bucket(blobsBucket)
	if b.Get(key[:]) == nil {
		return false, nil
	}
	return true, b.Delete(key[:])
}

func (db *DB) StoreBlob(content []byte) (key BlobKey, err error) {
	err = db.inTx(func(tx *Tx) error {
		key, err = tx.StoreBlob(content)
		return err
	})
	return
}

func (db *DB) DeleteBlob(key BlobKey) (found bool, err error) {
	err = db.inTx(func(tx *Tx) error {
		found, err = tx.DeleteBlob(key)
		return err
	})
	return
}

func (db *DB) BlobSize(key BlobKey) (size int64, err error) {
	size = BlobNotFound
	err = db.view(func(tx *Tx) error {
		size, err = tx.BlobSize(key)
		return err
	})
	return
}

func (db *DB) BlobContents(key BlobKey) (content []byte, err error) {
	err = db.view(func(tx *Tx) error {
		content, err = tx.BlobContents(key)
		return err
	})
	return
}

func (db *DB) BlobCount() (n int, err error) {
	err = db.view(func(tx *Tx) error {
		n = tx.BlobCount()
		return nil
	})
	return
}

func (db *DB) BlobKeys() (keys []BlobKey, err error) {
	err = db.view(func(tx *Tx) error {
		keys, err = tx.BlobKeys()
		return err
	})
	return
}
