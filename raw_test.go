package revdb

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestRawDocuments(t *testing.T) {
	forEachEngine(t, func(t *testing.T, opt Options) {
		db := setupWith(t, opt)
		err := db.Write(func(tx *Tx) error {
			require.NoError(t, tx.RawPut("checkpoints", "b", []byte("m2"), []byte("body2")))
			require.NoError(t, tx.RawPut("checkpoints", "a", nil, []byte("body1")))
			require.NoError(t, tx.RawPut("checkpointsx", "z", nil, []byte("other store")))
			return tx.RawPut("info", "a", []byte("meta only"), nil)
		})
		require.NoError(t, err)

		doc, err := db.RawGet("checkpoints", "b")
		require.NoError(t, err)
		require.Equal(t, &RawDocument{Store: "checkpoints", Key: "b", Meta: []byte("m2"), Body: []byte("body2")}, doc)

		doc, err = db.RawGet("info", "a")
		require.NoError(t, err)
		require.Equal(t, "meta only", string(doc.Meta))
		require.Empty(t, doc.Body)

		err = db.Read(func(tx *Tx) error {
			keys, err := tx.RawKeys("checkpoints")
			require.NoError(t, err)
			require.Equal(t, []string{"a", "b"}, keys)
			return nil
		})
		require.NoError(t, err)

		require.NoError(t, db.Write(func(tx *Tx) error {
			return tx.RawPut("checkpoints", "a", nil, nil)
		}))
		_, err = db.RawGet("checkpoints", "a")
		require.ErrorIs(t, err, ErrNotFound)

		// raw records are not documents
		n, err := db.DocumentCount()
		require.NoError(t, err)
		require.Equal(t, uint64(0), n)
		seq, err := db.LastSequence()
		require.NoError(t, err)
		require.Equal(t, uint64(0), seq)
	})
}

func TestRawInvalidNames(t *testing.T) {
	db := setup(t)
	err := db.Write(func(tx *Tx) error {
		require.ErrorIs(t, tx.RawPut("", "k", nil, []byte("x")), ErrInvalidParameter)
		require.ErrorIs(t, tx.RawPut("a\x00b", "k", nil, []byte("x")), ErrInvalidParameter)
		require.ErrorIs(t, tx.RawPut("s", "", nil, []byte("x")), ErrInvalidParameter)
		_, err := tx.RawKeys("")
		require.ErrorIs(t, err, ErrInvalidParameter)
		_, err = tx.RawGet("s", "")
		require.ErrorIs(t, err, ErrInvalidParameter)
		return nil
	})
	require.NoError(t, err)
}

func TestRawPutRollsBack(t *testing.T) {
	db := setup(t)
	require.NoError(t, db.Begin())
	require.NoError(t, db.RawPut("s", "k", nil, []byte("v")))
	require.NoError(t, db.End(false))
	_, err := db.RawGet("s", "k")
	require.ErrorIs(t, err, ErrNotFound)
}
