package revdb

import (
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"
)

func TestStats(t *testing.T) {
	db := setup(t)
	r := put(t, db, "a", "", `{}`)
	put(t, db, "a", r.RevID, `{"v":2}`)
	put(t, db, "b", "", `{}`)
	storeBlob(t, db, []byte("twelve bytes"))

	s, err := db.Stats()
	require.NoError(t, err)
	require.Equal(t, uint64(2), s.Documents)
	require.Equal(t, uint64(3), s.LastSequence)
	require.Equal(t, 1, s.Blobs)
	require.Equal(t, int64(12), s.BlobBytes)
	require.Greater(t, s.StorageSize, int64(0))
	require.Equal(t, int64(0), s.Readers)
	require.Equal(t, int64(0), s.Writers)
	require.Equal(t, uint64(4), s.Writes)
	require.Greater(t, s.Reads, uint64(0))
}

func TestCollector(t *testing.T) {
	db := setup(t)
	put(t, db, "a", "", `{}`)
	put(t, db, "b", "", `{}`)
	_, err := db.Compact()
	require.NoError(t, err)

	c := NewCollector(db)
	require.Equal(t, 11, testutil.CollectAndCount(c))

	reg := prometheus.NewPedanticRegistry()
	require.NoError(t, reg.Register(c))

	expected := `
# HELP revdb_documents Number of live documents.
# TYPE revdb_documents gauge
revdb_documents{db="` + db.Path() + `"} 2
# HELP revdb_compactions_total Completed compactions.
# TYPE revdb_compactions_total counter
revdb_compactions_total{db="` + db.Path() + `"} 1
`
	require.NoError(t, testutil.GatherAndCompare(reg, strings.NewReader(expected), "revdb_documents", "revdb_compactions_total"))
}

func TestCollectorOnClosedDatabase(t *testing.T) {
	db := setup(t)
	require.NoError(t, db.Close())
	reg := prometheus.NewRegistry()
	require.NoError(t, reg.Register(NewCollector(db)))
	_, err := reg.Gather()
	require.Error(t, err)
}
