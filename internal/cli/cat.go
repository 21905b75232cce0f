package cli

import (
	"github.com/spf13/cobra"

	"github.com/andreyvit/revdb"
)

// CatResult is a document revision with its body.
type CatResult struct {
	ID       string `json:"id" yaml:"id"`
	Rev      string `json:"rev" yaml:"rev"`
	Sequence uint64 `json:"seq" yaml:"seq"`
	Deleted  bool   `json:"deleted,omitempty" yaml:"deleted,omitempty"`
	Body     string `json:"body" yaml:"body"`
}

// NewCatCommand creates the cat command.
func NewCatCommand(rootOpts *RootOptions) *cobra.Command {
	var rev string
	cmd := &cobra.Command{
		Use:           "cat <db> <doc-id>",
		Short:         "Print a document body",
		Long:          "Print the body of a document's current revision, or of the revision given by --rev.",
		Args:          cobra.ExactArgs(2),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runCat(rootOpts, args[0], args[1], revdb.RevID(rev), cmd)
		},
	}
	cmd.Flags().StringVar(&rev, "rev", "", "revision ID (default: current)")
	return cmd
}

func runCat(opts *RootOptions, path, docID string, revID revdb.RevID, cmd *cobra.Command) error {
	formatter := opts.formatter(cmd)
	return opts.withDB(cmd, path, true, func(db *revdb.DB) error {
		rev, err := db.Get(docID, revID)
		if err != nil {
			return WrapExitError(ExitFailure, "cannot read "+docID, err)
		}
		if !rev.IsBodyAvailable() {
			return NewExitError(ExitFailure, "body of "+docID+" "+string(rev.RevID)+" was compacted away")
		}
		if formatter.Format == "text" {
			_, err := cmd.OutOrStdout().Write(rev.Body)
			return err
		}
		return formatter.Success(&CatResult{
			ID:       rev.DocID,
			Rev:      string(rev.RevID),
			Sequence: rev.Sequence,
			Deleted:  rev.IsDeleted(),
			Body:     string(rev.Body),
		}, nil)
	})
}
