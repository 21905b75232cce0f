package cli

import (
	"bytes"
	"io"

	"github.com/spf13/cobra"

	"github.com/andreyvit/revdb"
)

type dumpOptions struct {
	bodies bool
	revs   bool
}

// NewDumpCommand creates the dump command.
func NewDumpCommand(rootOpts *RootOptions) *cobra.Command {
	dopts := &dumpOptions{}
	cmd := &cobra.Command{
		Use:           "dump <db>",
		Short:         "Print a human-readable listing of the whole database",
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runDump(rootOpts, dopts, args[0], cmd)
		},
	}
	cmd.Flags().BoolVar(&dopts.revs, "revs", true, "list every revision")
	cmd.Flags().BoolVar(&dopts.bodies, "bodies", false, "include bodies")
	return cmd
}

func runDump(opts *RootOptions, dopts *dumpOptions, path string, cmd *cobra.Command) error {
	formatter := opts.formatter(cmd)
	f := revdb.DumpStats | revdb.DumpDocs | revdb.DumpBlobs | revdb.DumpRaw
	if dopts.revs {
		f |= revdb.DumpRevs
	}
	if dopts.bodies {
		f |= revdb.DumpRevs | revdb.DumpBodies
	}
	return opts.withDB(cmd, path, true, func(db *revdb.DB) error {
		var buf bytes.Buffer
		if err := db.Dump(&buf, f); err != nil {
			return WrapExitError(ExitFailure, "dump failed", err)
		}
		return formatter.Success(map[string]string{"dump": buf.String()}, func(w io.Writer) {
			w.Write(buf.Bytes())
		})
	})
}
