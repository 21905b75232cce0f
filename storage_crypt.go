package revdb

import (
	"crypto/cipher"
	"crypto/rand"
	"encoding/hex"
	"strings"

	"github.com/cockroachdb/errors"
	"golang.org/x/crypto/chacha20poly1305"
)

// EncryptionAlgorithm selects the cipher used for values at rest.
type EncryptionAlgorithm byte

const (
	EncryptionNone EncryptionAlgorithm = iota
	EncryptionXChaCha20Poly1305
)

func (a EncryptionAlgorithm) String() string {
	switch a {
	case EncryptionNone:
		return "none"
	case EncryptionXChaCha20Poly1305:
		return "xchacha20-poly1305"
	default:
		return "unknown"
	}
}

// EncryptionKey is a database encryption key. A nil *EncryptionKey means the
// database is not encrypted.
type EncryptionKey struct {
	Algorithm EncryptionAlgorithm
	Bytes     [chacha20poly1305.KeySize]byte
}

func NewEncryptionKey() (*EncryptionKey, error) {
	k := &EncryptionKey{Algorithm: EncryptionXChaCha20Poly1305}
	if _, err := rand.Read(k.Bytes[:]); err != nil {
		return nil, engineErr(CryptoError, err)
	}
	return k, nil
}

// ParseEncryptionKey decodes a 64-character hex key.
func ParseEncryptionKey(s string) (*EncryptionKey, error) {
	raw, err := hex.DecodeString(strings.TrimSpace(s))
	if err != nil || len(raw) != chacha20poly1305.KeySize {
		return nil, engineErrf(InvalidParameter, "encryption key must be %d hex-encoded bytes", chacha20poly1305.KeySize)
	}
	k := &EncryptionKey{Algorithm: EncryptionXChaCha20Poly1305}
	copy(k.Bytes[:], raw)
	return k, nil
}

func (k *EncryptionKey) String() string {
	if k == nil {
		return "none"
	}
	return hex.EncodeToString(k.Bytes[:])
}

func (k *EncryptionKey) algorithm() EncryptionAlgorithm {
	if k == nil {
		return EncryptionNone
	}
	return k.Algorithm
}

// sealer encrypts values with XChaCha20-Poly1305 using a random nonce per
// value. The bucket name and key are bound as associated data, so a sealed
// value cannot be moved to another slot.
type sealer struct {
	alg  EncryptionAlgorithm
	aead cipher.AEAD
}

func newSealer(key *EncryptionKey) (*sealer, error) {
	switch key.algorithm() {
	case EncryptionNone:
		return nil, nil
	case EncryptionXChaCha20Poly1305:
		aead, err := chacha20poly1305.NewX(key.Bytes[:])
		if err != nil {
			return nil, engineErr(CryptoError, err)
		}
		return &sealer{alg: key.Algorithm, aead: aead}, nil
	default:
		return nil, engineErrf(UnsupportedEncryption, "unsupported encryption algorithm %d", key.Algorithm)
	}
}

func sealAD(bucket string, key []byte) []byte {
	ad := make([]byte, 0, len(bucket)+1+len(key))
	ad = append(ad, bucket...)
	ad = append(ad, 0)
	return append(ad, key...)
}

func (s *sealer) seal(bucket string, key, value []byte) []byte {
	nonce := make([]byte, chacha20poly1305.NonceSizeX, chacha20poly1305.NonceSizeX+len(value)+s.aead.Overhead())
	if _, err := rand.Read(nonce); err != nil {
		panic(engineErr(CryptoError, err))
	}
	return s.aead.Seal(nonce, nonce, value, sealAD(bucket, key))
}

func (s *sealer) open(bucket string, key, value []byte) ([]byte, error) {
	if len(value) < chacha20poly1305.NonceSizeX+s.aead.Overhead() {
		return nil, engineErrf(NotADatabase, "sealed value in %s is too short", bucket)
	}
	nonce, ct := value[:chacha20poly1305.NonceSizeX], value[chacha20poly1305.NonceSizeX:]
	plain, err := s.aead.Open(nil, nonce, ct, sealAD(bucket, key))
	if err != nil {
		return nil, engineErr(NotADatabase, errors.Wrapf(err, "decrypting %s", bucket))
	}
	return plain, nil
}

// sealedTx presents decrypted values over an encrypted storage transaction.
type sealedTx struct {
	storageTx
	s *sealer
}

// sealTx wraps stx when s is non-nil.
func sealTx(stx storageTx, s *sealer) storageTx {
	if s == nil {
		return stx
	}
	return sealedTx{stx, s}
}

func (tx sealedTx) Bucket(name string) storageBucket {
	b := tx.storageTx.Bucket(name)
	if b == nil || name == cryptBucket {
		return b
	}
	return sealedBucket{b, name, tx.s}
}

func (tx sealedTx) CreateBucket(name string) (storageBucket, error) {
	b, err := tx.storageTx.CreateBucket(name)
	if err != nil || name == cryptBucket {
		return b, err
	}
	return sealedBucket{b, name, tx.s}, nil
}

type sealedBucket struct {
	storageBucket
	name string
	s    *sealer
}

func (b sealedBucket) Get(key []byte) []byte {
	v := b.storageBucket.Get(key)
	if v == nil {
		return nil
	}
	return must(b.s.open(b.name, key, v))
}

func (b sealedBucket) Put(key, value []byte) error {
	return b.storageBucket.Put(key, b.s.seal(b.name, key, value))
}

func (b sealedBucket) Cursor() storageCursor {
	return sealedCursor{b.storageBucket.Cursor(), b}
}

type sealedCursor struct {
	storageCursor
	b sealedBucket
}

func (c sealedCursor) First() ([]byte, []byte) { return c.open(c.storageCursor.First()) }

func (c sealedCursor) Seek(seek []byte) ([]byte, []byte) { return c.open(c.storageCursor.Seek(seek)) }

func (c sealedCursor) Next() ([]byte, []byte) { return c.open(c.storageCursor.Next()) }

func (c sealedCursor) open(k, v []byte) ([]byte, []byte) {
	if k == nil {
		return nil, nil
	}
	return k, must(c.b.s.open(c.b.name, k, v))
}

// Key check records live in cryptBucket, which is never sealed itself.
var (
	keyAlgorithmKey = []byte("alg")
	keyCheckKey     = []byte("check")
	keyCheckPlain   = []byte("revdb key check")
)

// writeKeyCheck records the algorithm and a sealed canary for s.
func writeKeyCheck(stx storageTx, s *sealer) error {
	b := nonNil(stx.Bucket(cryptBucket))
	if s == nil {
		if err := b.Delete(keyAlgorithmKey); err != nil {
			return err
		}
		return b.Delete(keyCheckKey)
	}
	if err := b.Put(keyAlgorithmKey, []byte{byte(s.alg)}); err != nil {
		return err
	}
	return b.Put(keyCheckKey, s.seal(cryptBucket, keyCheckKey, keyCheckPlain))
}

// verifyKeyCheck confirms that key opens the database. An encrypted database
// opened without a key, an unencrypted one opened with a key, and a wrong key
// all fail with NotADatabase.
func verifyKeyCheck(stx storageTx, s *sealer) error {
	b := nonNil(stx.Bucket(cryptBucket))
	alg := EncryptionNone
	if v := b.Get(keyAlgorithmKey); len(v) == 1 {
		alg = EncryptionAlgorithm(v[0])
	}
	switch {
	case alg == EncryptionNone && s == nil:
		return nil
	case alg == EncryptionNone:
		return engineErrf(NotADatabase, "database is not encrypted, but an encryption key was given")
	case s == nil:
		return engineErrf(NotADatabase, "database is encrypted, but no encryption key was given")
	case s.alg != alg:
		return engineErrf(NotADatabase, "database is encrypted with %v, not %v", alg, s.alg)
	}
	plain, err := s.open(cryptBucket, keyCheckKey, b.Get(keyCheckKey))
	if err != nil {
		return engineErrf(NotADatabase, "wrong encryption key")
	}
	if string(plain) != string(keyCheckPlain) {
		return engineErrf(NotADatabase, "wrong encryption key")
	}
	return nil
}
