package cli

import (
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/andreyvit/revdb"
)

// RevSummary describes one node of a revision tree.
type RevSummary struct {
	Rev       string `json:"rev" yaml:"rev"`
	Parent    string `json:"parent,omitempty" yaml:"parent,omitempty"`
	Sequence  uint64 `json:"seq" yaml:"seq"`
	Flags     string `json:"flags,omitempty" yaml:"flags,omitempty"`
	BodySize  int    `json:"body_size" yaml:"body_size"`
	Compacted bool   `json:"compacted,omitempty" yaml:"compacted,omitempty"`
}

// NewRevsCommand creates the revs command.
func NewRevsCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:           "revs <db> <doc-id>",
		Short:         "List a document's revisions, current first",
		Args:          cobra.ExactArgs(2),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runRevs(rootOpts, args[0], args[1], cmd)
		},
	}
}

func runRevs(opts *RootOptions, path, docID string, cmd *cobra.Command) error {
	formatter := opts.formatter(cmd)
	return opts.withDB(cmd, path, true, func(db *revdb.DB) error {
		revs, err := db.Revisions(docID)
		if err != nil {
			return WrapExitError(ExitFailure, "cannot read "+docID, err)
		}
		out := make([]RevSummary, 0, len(revs))
		for _, r := range revs {
			out = append(out, RevSummary{
				Rev:       string(r.RevID),
				Parent:    string(r.ParentRevID),
				Sequence:  r.Sequence,
				Flags:     r.Flags.String(),
				BodySize:  r.BodySize,
				Compacted: !r.IsBodyAvailable(),
			})
		}
		return formatter.Success(out, func(w io.Writer) {
			for _, r := range out {
				fmt.Fprintf(w, "%s #%d", r.Rev, r.Sequence)
				if r.Parent != "" {
					fmt.Fprintf(w, " <- %s", r.Parent)
				}
				if r.Flags != "" {
					fmt.Fprintf(w, " [%s]", r.Flags)
				}
				if r.Compacted {
					fmt.Fprint(w, " (compacted)")
				}
				fmt.Fprintln(w)
			}
		})
	})
}
