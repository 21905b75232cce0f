package revdb

import (
	"encoding/binary"
	"io"
	"math"
)

func ensureCapacity(buf []byte, minCap int) []byte {
	c := cap(buf)
	if minCap > c {
		if c < 16 {
			c = 16
		}
		for minCap > c {
			c <<= 1
		}
		old := buf
		buf = make([]byte, len(old), c)
		copy(buf, old)
	}
	return buf
}

func grow(buf []byte, n int) (int, []byte) {
	off := len(buf)
	newLen := off + n
	buf = ensureCapacity(buf, newLen)
	return off, buf[:newLen]
}

func appendRaw(buf []byte, chunk []byte) []byte {
	n := len(chunk)
	off, buf := grow(buf, n)
	copy(buf[off:], chunk)
	return buf
}

type bytesBuilder struct {
	Buf []byte
}

var _ io.Writer = (*bytesBuilder)(nil)

func (bb *bytesBuilder) Write(b []byte) (int, error) {
	bb.Buf = appendRaw(bb.Buf, b)
	return len(b), nil
}

func (bb *bytesBuilder) WriteByte(v byte) error {
	off, buf := grow(bb.Buf, 1)
	buf[off] = v
	bb.Buf = buf
	return nil
}

func appendUvarint(buf []byte, v uint64) []byte {
	off, buf := grow(buf, binary.MaxVarintLen64)
	off += binary.PutUvarint(buf[off:], v)
	return buf[:off]
}

func appendVarstring(buf []byte, v string) []byte {
	n := len(v)
	off, buf := grow(buf, binary.MaxVarintLen64+n)
	off += binary.PutUvarint(buf[off:], uint64(n))
	copy(buf[off:], v)
	return buf[:off+n]
}

type byteDecoder struct {
	Orig []byte
	Buf  []byte
}

func makeByteDecoder(buf []byte) byteDecoder {
	return byteDecoder{buf, buf}
}

func (d *byteDecoder) Off() int {
	return len(d.Orig) - len(d.Buf)
}

func (d *byteDecoder) Byte() (byte, error) {
	if len(d.Buf) == 0 {
		return 0, dataErrf(d.Orig, d.Off(), nil, "unexpected end of data")
	}
	v := d.Buf[0]
	d.Buf = d.Buf[1:]
	return v, nil
}

func (d *byteDecoder) Uvarint() (uint64, error) {
	v, n := binary.Uvarint(d.Buf)
	if n <= 0 {
		return 0, dataErrf(d.Orig, d.Off(), nil, "invalid uvarint")
	}
	d.Buf = d.Buf[n:]
	return v, nil
}

func (d *byteDecoder) Uvarinti() (int, error) {
	v, err := d.Uvarint()
	if v > math.MaxInt {
		return 0, dataErrf(d.Orig, d.Off(), nil, "value does not fit into int: %d", v)
	}
	return int(v), err
}

// Key layouts.
//
//	docs:    docID
//	bodies:  varstring(docID) revID
//	seqs:    be64(seq)
//	expiry:  be64(expiry) docID
//	raw:     store 0x00 key

func seqKey(seq uint64) []byte {
	return binary.BigEndian.AppendUint64(make([]byte, 0, 8), seq)
}

func decodeSeqKey(k []byte) (uint64, error) {
	if len(k) != 8 {
		return 0, dataErrf(k, 0, nil, "invalid sequence key")
	}
	return binary.BigEndian.Uint64(k), nil
}

func bodyKeyPrefix(docID string) []byte {
	return appendVarstring(nil, docID)
}

func bodyKey(docID string, revID RevID) []byte {
	buf := appendVarstring(make([]byte, 0, len(docID)+len(revID)+2), docID)
	return append(buf, revID...)
}

func expiryKey(exp Expiry, docID string) []byte {
	buf := binary.BigEndian.AppendUint64(make([]byte, 0, 8+len(docID)), uint64(exp))
	return append(buf, docID...)
}

func decodeExpiryKey(k []byte) (Expiry, string, error) {
	if len(k) < 9 {
		return 0, "", dataErrf(k, 0, nil, "invalid expiry key")
	}
	return Expiry(binary.BigEndian.Uint64(k)), string(k[8:]), nil
}

func rawKey(store, key string) []byte {
	buf := make([]byte, 0, len(store)+1+len(key))
	buf = append(buf, store...)
	buf = append(buf, 0)
	return append(buf, key...)
}

func putUint64(b storageBucket, key string, v uint64) error {
	return b.Put([]byte(key), binary.BigEndian.AppendUint64(nil, v))
}

func getUint64(b storageBucket, key string) uint64 {
	v := b.Get([]byte(key))
	if len(v) != 8 {
		return 0
	}
	return binary.BigEndian.Uint64(v)
}
