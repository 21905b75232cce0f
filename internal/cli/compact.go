package cli

import (
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/andreyvit/revdb"
)

// CompactResult reports what compact reclaimed.
type CompactResult struct {
	Documents     int    `json:"documents" yaml:"documents"`
	RevsPruned    int    `json:"revs_pruned" yaml:"revs_pruned"`
	BodiesDropped int    `json:"bodies_dropped" yaml:"bodies_dropped"`
	BlobsKept     int    `json:"blobs_kept" yaml:"blobs_kept"`
	BlobsDeleted  int    `json:"blobs_deleted" yaml:"blobs_deleted"`
	Duration      string `json:"duration" yaml:"duration"`
}

// NewCompactCommand creates the compact command.
func NewCompactCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:           "compact <db>",
		Short:         "Prune revision history and delete unreferenced blobs",
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runCompact(rootOpts, args[0], cmd)
		},
	}
}

func runCompact(opts *RootOptions, path string, cmd *cobra.Command) error {
	formatter := opts.formatter(cmd)
	return opts.withDB(cmd, path, false, func(db *revdb.DB) error {
		stats, err := db.Compact()
		if err != nil {
			return WrapExitError(ExitFailure, "compaction failed", err)
		}
		res := &CompactResult{
			Documents:     stats.Documents,
			RevsPruned:    stats.RevsPruned,
			BodiesDropped: stats.BodiesDropped,
			BlobsKept:     stats.BlobsKept,
			BlobsDeleted:  stats.BlobsDeleted,
			Duration:      stats.Duration.String(),
		}
		return formatter.Success(res, func(w io.Writer) {
			fmt.Fprintf(w, "compacted %d documents: %d revisions pruned, %d bodies dropped, %d blobs deleted (%d kept) in %s\n",
				res.Documents, res.RevsPruned, res.BodiesDropped, res.BlobsDeleted, res.BlobsKept, res.Duration)
		})
	})
}
