package cli

import (
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/andreyvit/revdb"
)

// DocSummary is one line of ls and changes output.
type DocSummary struct {
	ID         string `json:"id" yaml:"id"`
	Rev        string `json:"rev" yaml:"rev"`
	Sequence   uint64 `json:"seq" yaml:"seq"`
	Flags      string `json:"flags,omitempty" yaml:"flags,omitempty"`
	BodySize   int    `json:"body_size" yaml:"body_size"`
	Expiration string `json:"expires,omitempty" yaml:"expires,omitempty"`
}

func summarize(info *revdb.DocumentInfo) DocSummary {
	s := DocSummary{
		ID:       info.DocID,
		Rev:      string(info.RevID),
		Sequence: info.Sequence,
		Flags:    info.Flags.String(),
		BodySize: info.BodySize,
	}
	if info.Expiration != revdb.NeverExpires {
		s.Expiration = info.Expiration.String()
	}
	return s
}

// collectDocs drains e into summaries, stopping after limit entries if
// limit > 0.
func collectDocs(e *revdb.DocEnumerator, limit int) ([]DocSummary, error) {
	defer e.Close()
	docs := []DocSummary{}
	for e.Next() {
		docs = append(docs, summarize(e.Info()))
		if limit > 0 && len(docs) >= limit {
			break
		}
	}
	return docs, e.Err()
}

func printDocs(w io.Writer, docs []DocSummary) {
	for _, d := range docs {
		fmt.Fprintf(w, "%-8d %s %s", d.Sequence, d.ID, d.Rev)
		if d.Flags != "" {
			fmt.Fprintf(w, " [%s]", d.Flags)
		}
		fmt.Fprintln(w)
	}
}

type listOptions struct {
	deleted bool
	limit   int
}

// NewListCommand creates the ls command.
func NewListCommand(rootOpts *RootOptions) *cobra.Command {
	lopts := &listOptions{}
	cmd := &cobra.Command{
		Use:           "ls <db>",
		Short:         "List documents in ID order",
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runList(rootOpts, lopts, args[0], cmd)
		},
	}
	cmd.Flags().BoolVar(&lopts.deleted, "deleted", false, "include deleted documents")
	cmd.Flags().IntVar(&lopts.limit, "limit", 0, "stop after this many documents (0 = all)")
	return cmd
}

func runList(opts *RootOptions, lopts *listOptions, path string, cmd *cobra.Command) error {
	formatter := opts.formatter(cmd)
	var flags revdb.EnumeratorFlags
	if lopts.deleted {
		flags |= revdb.IncludeDeleted
	}
	return opts.withDB(cmd, path, true, func(db *revdb.DB) error {
		e, err := db.AllDocs(flags)
		if err != nil {
			return WrapExitError(ExitFailure, "cannot enumerate documents", err)
		}
		docs, err := collectDocs(e, lopts.limit)
		if err != nil {
			return WrapExitError(ExitFailure, "enumeration failed", err)
		}
		return formatter.Success(docs, func(w io.Writer) {
			printDocs(w, docs)
		})
	})
}
