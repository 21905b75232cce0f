package cli

import (
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/andreyvit/revdb"
)

// InfoResult summarizes a database.
type InfoResult struct {
	Path           string `json:"path" yaml:"path"`
	Engine         string `json:"engine" yaml:"engine"`
	Encryption     string `json:"encryption" yaml:"encryption"`
	PublicUUID     string `json:"public_uuid" yaml:"public_uuid"`
	PrivateUUID    string `json:"private_uuid" yaml:"private_uuid"`
	Documents      uint64 `json:"documents" yaml:"documents"`
	LastSequence   uint64 `json:"last_sequence" yaml:"last_sequence"`
	Blobs          int    `json:"blobs" yaml:"blobs"`
	BlobBytes      int64  `json:"blob_bytes" yaml:"blob_bytes"`
	StorageSize    int64  `json:"storage_size" yaml:"storage_size"`
	NextExpiration string `json:"next_expiration,omitempty" yaml:"next_expiration,omitempty"`
}

// NewInfoCommand creates the info command.
func NewInfoCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:           "info <db>",
		Short:         "Show database statistics and identity",
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runInfo(rootOpts, args[0], cmd)
		},
	}
}

func runInfo(opts *RootOptions, path string, cmd *cobra.Command) error {
	formatter := opts.formatter(cmd)
	return opts.withDB(cmd, path, true, func(db *revdb.DB) error {
		stats, err := db.Stats()
		if err != nil {
			return WrapExitError(ExitFailure, "cannot read stats", err)
		}
		ids, err := db.UUIDs()
		if err != nil {
			return WrapExitError(ExitFailure, "cannot read UUIDs", err)
		}
		next, err := db.NextExpiration()
		if err != nil {
			return WrapExitError(ExitFailure, "cannot read expirations", err)
		}
		res := &InfoResult{
			Path:         db.Path(),
			Engine:       string(db.Engine()),
			Encryption:   db.EncryptionAlgorithm().String(),
			PublicUUID:   ids.Public.String(),
			PrivateUUID:  ids.Private.String(),
			Documents:    stats.Documents,
			LastSequence: stats.LastSequence,
			Blobs:        stats.Blobs,
			BlobBytes:    stats.BlobBytes,
			StorageSize:  stats.StorageSize,
		}
		if next != revdb.NeverExpires {
			res.NextExpiration = next.String()
		}
		formatter.VerboseLog("opened %s (%s)", path, res.Engine)
		return formatter.Success(res, func(w io.Writer) {
			fmt.Fprintf(w, "path:          %s\n", res.Path)
			fmt.Fprintf(w, "engine:        %s\n", res.Engine)
			fmt.Fprintf(w, "encryption:    %s\n", res.Encryption)
			fmt.Fprintf(w, "public uuid:   %s\n", res.PublicUUID)
			fmt.Fprintf(w, "documents:     %d\n", res.Documents)
			fmt.Fprintf(w, "last sequence: %d\n", res.LastSequence)
			fmt.Fprintf(w, "blobs:         %d (%d bytes)\n", res.Blobs, res.BlobBytes)
			fmt.Fprintf(w, "storage size:  %d\n", res.StorageSize)
			if res.NextExpiration != "" {
				fmt.Fprintf(w, "next expiry:   %s\n", res.NextExpiration)
			}
		})
	})
}
