package cli

import (
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/andreyvit/revdb"
)

// CopyResult names the new copy and its fresh identity.
type CopyResult struct {
	Source      string `json:"source" yaml:"source"`
	Destination string `json:"destination" yaml:"destination"`
	PublicUUID  string `json:"public_uuid" yaml:"public_uuid"`
}

// NewCopyCommand creates the cp command.
func NewCopyCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "cp <src-db> <dst-db>",
		Short: "Copy a closed database to a new bundle with fresh UUIDs",
		Long: `Copy a closed database bundle to a new path. The destination must not
exist. The copy keeps all documents, blobs and raw records but gets new
public and private UUIDs.`,
		Args:          cobra.ExactArgs(2),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runCopy(rootOpts, args[0], args[1], cmd)
		},
	}
}

func runCopy(opts *RootOptions, src, dst string, cmd *cobra.Command) error {
	formatter := opts.formatter(cmd)
	o, err := opts.dbOptions(cmd, false)
	if err != nil {
		return err
	}
	if err := revdb.CopyDatabase(src, dst, o); err != nil {
		return WrapExitError(ExitFailure, "copy failed", err)
	}
	res := &CopyResult{Source: src, Destination: dst}
	err = opts.withDB(cmd, dst, true, func(db *revdb.DB) error {
		ids, err := db.UUIDs()
		if err != nil {
			return WrapExitError(ExitFailure, "cannot read UUIDs", err)
		}
		res.PublicUUID = ids.Public.String()
		return nil
	})
	if err != nil {
		return err
	}
	return formatter.Success(res, func(w io.Writer) {
		fmt.Fprintf(w, "copied %s to %s (uuid %s)\n", res.Source, res.Destination, res.PublicUUID)
	})
}
