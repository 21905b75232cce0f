package revdb

import (
	"bytes"
	"log/slog"
)

// testRekeyHook, when set, runs before each value is rewritten.
var testRekeyHook func(bucket string) error

// Rekey re-encrypts every stored value with newKey, or decrypts the database
// when newKey is nil. It must run inside a transaction; the new key takes
// effect when that transaction commits. If re-encryption fails halfway the
// transaction is poisoned, so committing it rolls back and the old key stays.
func (tx *Tx) Rekey(newKey *EncryptionKey) (err error) {
	if err := tx.requireWritable(); err != nil {
		return err
	}
	if tx.poison != nil {
		return tx.poison
	}
	s, err := newSealer(newKey)
	if err != nil {
		return err
	}

	defer func() {
		if err != nil {
			tx.poison = err
			tx.db.logger.Warn("revdb: rekey failed", slog.String("db", tx.db.path), slog.Any("err", err))
		}
	}()
	defer catch(&err)

	next := sealTx(tx.stx, s)
	var total int
	for _, name := range dataBuckets {
		type kv struct{ k, v []byte }
		var entries []kv
		c := tx.view.Bucket(name).Cursor()
		for k, v := c.First(); k != nil; k, v = c.Next() {
			entries = append(entries, kv{bytes.Clone(k), bytes.Clone(v)})
		}
		c.Close()

		dst := next.Bucket(name)
		for _, e := range entries {
			if testRekeyHook != nil {
				if err := testRekeyHook(name); err != nil {
					return err
				}
			}
			if err := dst.Put(e.k, e.v); err != nil {
				return err
			}
		}
		total += len(entries)
	}
	if err := writeKeyCheck(tx.stx, s); err != nil {
		return err
	}

	tx.view = next
	tx.sealer = s
	tx.rekeyed = true
	tx.db.logger.Info("revdb: rekeyed", slog.String("db", tx.db.path), slog.String("algorithm", newKey.algorithm().String()), slog.Int("values", total))
	return nil
}

// Rekey runs inside the open transaction and fails with OutsideTransaction
// when there is none.
func (db *DB) Rekey(newKey *EncryptionKey) error {
	return db.inTx(func(tx *Tx) error {
		return tx.Rekey(newKey)
	})
}

// EncryptionAlgorithm returns the cipher of the last committed key.
func (db *DB) EncryptionAlgorithm() EncryptionAlgorithm {
	db.mu.Lock()
	defer db.mu.Unlock()
	if db.sealer == nil {
		return EncryptionNone
	}
	return db.sealer.alg
}
