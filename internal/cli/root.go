package cli

import (
	"fmt"
	"log/slog"
	"slices"

	"github.com/spf13/cobra"

	"github.com/andreyvit/revdb"
)

// RootOptions holds global flags for all commands.
type RootOptions struct {
	Verbose bool
	Format  string // "text" | "json" | "yaml"
	Engine  string
	Key     string // hex-encoded encryption key
}

// ValidFormats defines the allowed output formats.
var ValidFormats = []string{"text", "json", "yaml"}

// NewRootCommand creates the root command for the revdb CLI.
func NewRootCommand() *cobra.Command {
	opts := &RootOptions{}

	cmd := &cobra.Command{
		Use:   "revdb",
		Short: "Inspect and maintain revdb databases",
		Long:  "Command-line access to revdb database bundles: list and read documents, follow changes, compact and copy.",
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if !slices.Contains(ValidFormats, opts.Format) {
				return NewExitError(ExitCommandError, fmt.Sprintf("invalid format %q: must be one of %v", opts.Format, ValidFormats))
			}
			switch revdb.Engine(opts.Engine) {
			case "", revdb.EngineBolt, revdb.EngineBadger:
			default:
				return NewExitError(ExitCommandError, fmt.Sprintf("invalid engine %q: must be bolt or badger", opts.Engine))
			}
			return nil
		},
	}

	cmd.PersistentFlags().BoolVarP(&opts.Verbose, "verbose", "v", false, "verbose output")
	cmd.PersistentFlags().StringVar(&opts.Format, "format", "text", "output format (text|json|yaml)")
	cmd.PersistentFlags().StringVar(&opts.Engine, "engine", "", "storage engine (bolt|badger); detected when empty")
	cmd.PersistentFlags().StringVar(&opts.Key, "key", "", "encryption key, 64 hex digits")

	cmd.AddCommand(NewInfoCommand(opts))
	cmd.AddCommand(NewListCommand(opts))
	cmd.AddCommand(NewCatCommand(opts))
	cmd.AddCommand(NewRevsCommand(opts))
	cmd.AddCommand(NewChangesCommand(opts))
	cmd.AddCommand(NewCompactCommand(opts))
	cmd.AddCommand(NewCopyCommand(opts))
	cmd.AddCommand(NewDumpCommand(opts))

	return cmd
}

func (opts *RootOptions) formatter(cmd *cobra.Command) *OutputFormatter {
	return &OutputFormatter{
		Format:    opts.Format,
		Writer:    cmd.OutOrStdout(),
		ErrWriter: cmd.ErrOrStderr(),
		Verbose:   opts.Verbose,
	}
}

// dbOptions builds revdb.Options from the global flags.
func (opts *RootOptions) dbOptions(cmd *cobra.Command, readOnly bool) (revdb.Options, error) {
	level := slog.LevelWarn
	if opts.Verbose {
		level = slog.LevelDebug
	}
	o := revdb.Options{
		ReadOnly: readOnly,
		Engine:   revdb.Engine(opts.Engine),
		Logger:   slog.New(slog.NewTextHandler(cmd.ErrOrStderr(), &slog.HandlerOptions{Level: level})),
		Verbose:  opts.Verbose,
	}
	if opts.Key != "" {
		key, err := revdb.ParseEncryptionKey(opts.Key)
		if err != nil {
			return o, WrapExitError(ExitCommandError, "invalid --key", err)
		}
		o.EncryptionKey = key
	}
	return o, nil
}

// openDB opens an existing database; it never creates one.
func (opts *RootOptions) openDB(cmd *cobra.Command, path string, readOnly bool) (*revdb.DB, error) {
	o, err := opts.dbOptions(cmd, readOnly)
	if err != nil {
		return nil, err
	}
	db, err := revdb.Open(path, o)
	if err != nil {
		return nil, WrapExitError(ExitCommandError, "cannot open "+path, err)
	}
	return db, nil
}

// withDB opens path, runs f and closes the database, reporting the first error.
func (opts *RootOptions) withDB(cmd *cobra.Command, path string, readOnly bool, f func(db *revdb.DB) error) (err error) {
	db, err := opts.openDB(cmd, path, readOnly)
	if err != nil {
		return err
	}
	defer func() {
		if cerr := db.Close(); err == nil && cerr != nil {
			err = WrapExitError(ExitFailure, "cannot close "+path, cerr)
		}
	}()
	return f(db)
}
