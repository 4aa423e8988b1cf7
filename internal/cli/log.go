package cli

import (
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"

	"github.com/roach88/modacct/internal/store"
)

// LogOptions holds flags for the log command.
type LogOptions struct {
	*RootOptions
	Account int64
	TxToken string
	Bodies  bool
}

// NewLogCommand creates the log command.
func NewLogCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &LogOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "log",
		Short: "Show the message trace of an account or a transaction",
		Long: `Show dispatched messages in execution order. Nested messages are
indented by dispatch depth. Only committed transactions appear.

Examples:
  modacct log --account 1
  modacct log --tx 0192f0c4-... --bodies
  modacct log --account 1 --format json`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if (opts.Account == 0) == (opts.TxToken == "") {
				return NewExitError(ExitCommandError, "exactly one of --account or --tx is required")
			}
			return withSession(cmd, opts.RootOptions, func(ctx context.Context, s *session, f *OutputFormatter) error {
				var (
					entries []store.LogEntry
					err     error
				)
				if opts.TxToken != "" {
					entries, err = s.host.TxLog(ctx, opts.TxToken)
				} else {
					entries, err = s.host.Log(ctx, opts.Account)
				}
				if err != nil {
					return f.Fail("failed to read log", err)
				}
				if entries == nil {
					entries = []store.LogEntry{}
				}
				return f.Emit(entries, func(w io.Writer) {
					if len(entries) == 0 {
						fmt.Fprintln(w, "No messages found.")
						return
					}
					writeTrace(w, entries, opts.Bodies)
				})
			})
		},
	}

	cmd.Flags().Int64Var(&opts.Account, "account", 0, "account id")
	cmd.Flags().StringVar(&opts.TxToken, "tx", "", "transaction token")
	cmd.Flags().BoolVar(&opts.Bodies, "bodies", false, "print message bodies")
	return cmd
}

// writeTrace prints one line per message, indented by depth.
func writeTrace(w io.Writer, entries []store.LogEntry, bodies bool) {
	for _, e := range entries {
		indent := ""
		if e.Depth > 1 {
			indent = strings.Repeat("  ", e.Depth-1)
		}
		fmt.Fprintf(w, "%6d  %s%s  %s -> %s\n", e.Seq, indent, e.Type, e.Sender, e.Target)
		if bodies {
			fmt.Fprintf(w, "        %s%s\n", indent, e.Body)
		}
	}
}
