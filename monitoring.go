package revdb

import (
	"github.com/prometheus/client_golang/prometheus"
)

type Stats struct {
	Documents    uint64
	LastSequence uint64
	Blobs        int
	BlobBytes    int64
	StorageSize  int64

	Readers     int64
	Writers     int64
	Reads       uint64
	Writes      uint64
	Compactions uint64
	BlobsSwept  uint64
}

// Stats reads counters from the last committed state.
func (db *DB) Stats() (s Stats, err error) {
	err = db.view(func(tx *Tx) error {
		s.Documents = tx.DocumentCount()
		s.LastSequence = tx.LastSequence()
		s.Blobs = tx.BlobCount()
		s.BlobBytes = tx.blobBytes()
		s.StorageSize = tx.stx.Size()
		return nil
	})
	s.Readers = db.ReaderCount.Load()
	s.Writers = db.WriterCount.Load()
	s.Reads = db.ReadCount.Load()
	s.Writes = db.WriteCount.Load()
	s.Compactions = db.compactions.Load()
	s.BlobsSwept = db.blobsSwept.Load()
	return s, err
}

var (
	descDocuments    = prometheus.NewDesc("revdb_documents", "Number of live documents.", []string{"db"}, nil)
	descLastSequence = prometheus.NewDesc("revdb_last_sequence", "Last assigned sequence number.", []string{"db"}, nil)
	descBlobs        = prometheus.NewDesc("revdb_blobs", "Number of stored blobs.", []string{"db"}, nil)
	descBlobBytes    = prometheus.NewDesc("revdb_blob_bytes", "Total uncompressed size of stored blobs.", []string{"db"}, nil)
	descStorageSize  = prometheus.NewDesc("revdb_storage_size_bytes", "Size reported by the storage engine.", []string{"db"}, nil)
	descReaders      = prometheus.NewDesc("revdb_open_readers", "Open read snapshots.", []string{"db"}, nil)
	descWriters      = prometheus.NewDesc("revdb_open_writers", "Open write transactions.", []string{"db"}, nil)
	descReads        = prometheus.NewDesc("revdb_reads_total", "Read snapshots opened.", []string{"db"}, nil)
	descWrites       = prometheus.NewDesc("revdb_writes_total", "Write transactions opened.", []string{"db"}, nil)
	descCompactions  = prometheus.NewDesc("revdb_compactions_total", "Completed compactions.", []string{"db"}, nil)
	descBlobsSwept   = prometheus.NewDesc("revdb_blobs_swept_total", "Blobs deleted by compaction.", []string{"db"}, nil)
)

type collector struct {
	db *DB
}

// NewCollector exposes db's Stats as Prometheus metrics, labeled with the
// database path.
func NewCollector(db *DB) prometheus.Collector {
	return &collector{db: db}
}

func (c *collector) Describe(ch chan<- *prometheus.Desc) {
	ch <- descDocuments
	ch <- descLastSequence
	ch <- descBlobs
	ch <- descBlobBytes
	ch <- descStorageSize
	ch <- descReaders
	ch <- descWriters
	ch <- descReads
	ch <- descWrites
	ch <- descCompactions
	ch <- descBlobsSwept
}

func (c *collector) Collect(ch chan<- prometheus.Metric) {
	s, err := c.db.Stats()
	if err != nil {
		ch <- prometheus.NewInvalidMetric(descDocuments, err)
		return
	}
	label := c.db.path
	gauge := func(d *prometheus.Desc, v float64) {
		ch <- prometheus.MustNewConstMetric(d, prometheus.GaugeValue, v, label)
	}
	counter := func(d *prometheus.Desc, v float64) {
		ch <- prometheus.MustNewConstMetric(d, prometheus.CounterValue, v, label)
	}
	gauge(descDocuments, float64(s.Documents))
	gauge(descLastSequence, float64(s.LastSequence))
	gauge(descBlobs, float64(s.Blobs))
	gauge(descBlobBytes, float64(s.BlobBytes))
	gauge(descStorageSize, float64(s.StorageSize))
	gauge(descReaders, float64(s.Readers))
	gauge(descWriters, float64(s.Writers))
	counter(descReads, float64(s.Reads))
	counter(descWrites, float64(s.Writes))
	counter(descCompactions, float64(s.Compactions))
	counter(descBlobsSwept, float64(s.BlobsSwept))
}
