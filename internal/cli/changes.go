package cli

import (
	"io"

	"github.com/spf13/cobra"

	"github.com/andreyvit/revdb"
)

type changesOptions struct {
	since uint64
	limit int
}

// NewChangesCommand creates the changes command.
func NewChangesCommand(rootOpts *RootOptions) *cobra.Command {
	copts := &changesOptions{}
	cmd := &cobra.Command{
		Use:           "changes <db>",
		Short:         "List documents changed after a sequence, in sequence order",
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runChanges(rootOpts, copts, args[0], cmd)
		},
	}
	cmd.Flags().Uint64Var(&copts.since, "since", 0, "only documents changed after this sequence")
	cmd.Flags().IntVar(&copts.limit, "limit", 0, "stop after this many documents (0 = all)")
	return cmd
}

func runChanges(opts *RootOptions, copts *changesOptions, path string, cmd *cobra.Command) error {
	formatter := opts.formatter(cmd)
	return opts.withDB(cmd, path, true, func(db *revdb.DB) error {
		e, err := db.Changes(copts.since, revdb.IncludeDeleted)
		if err != nil {
			return WrapExitError(ExitFailure, "cannot enumerate changes", err)
		}
		docs, err := collectDocs(e, copts.limit)
		if err != nil {
			return WrapExitError(ExitFailure, "enumeration failed", err)
		}
		return formatter.Success(docs, func(w io.Writer) {
			printDocs(w, docs)
		})
	})
}
