package cli

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/roach88/modacct/internal/catalog"
)

// NewCatalogCommand creates the catalog command group.
func NewCatalogCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "catalog",
		Short: "Publish module catalogs",
	}
	cmd.AddCommand(newCatalogLoadCommand(rootOpts))
	return cmd
}

func newCatalogLoadCommand(opts *RootOptions) *cobra.Command {
	var sender string

	cmd := &cobra.Command{
		Use:   "load <path>",
		Short: "Upload, deploy and register every entry of a CUE catalog",
		Long: `Load a CUE catalog (a file or a package directory), upload code for each
entry, deploy singletons for api and native entries and register all of
them in one registry call.

Examples:
  modacct catalog load ./catalog.cue
  modacct catalog load ./catalogs --format json`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cat, err := catalog.Load(args[0])
			if err != nil {
				var catErr *catalog.Error
				if errors.As(err, &catErr) {
					f := opts.formatter(cmd)
					_ = f.Error("CATALOG_ERROR", catErr.Error(), map[string]string{"field": catErr.Field})
					exitErr := WrapExitError(ExitFailure, "invalid catalog", err)
					exitErr.Reported = true
					return exitErr
				}
				return WrapExitError(ExitCommandError, "failed to load catalog", err)
			}

			return withSession(cmd, opts, func(ctx context.Context, s *session, f *OutputFormatter) error {
				from := s.cfg.Registry.PlatformAdmin
				if sender != "" {
					if from, err = parseAddr("sender", sender); err != nil {
						return err
					}
				}
				f.VerboseLog("publishing %d entries from %s", len(cat.Entries), args[0])

				modules, err := cat.Publish(ctx, s.host, from)
				if err != nil {
					return f.Fail("failed to publish catalog", err)
				}
				return f.Emit(modules, func(w io.Writer) {
					for _, mod := range modules {
						writeModule(w, mod)
					}
					fmt.Fprintf(w, "Published %d modules\n", len(modules))
				})
			})
		},
	}

	cmd.Flags().StringVar(&sender, "sender", "", "registering address (defaults to the platform admin)")
	return cmd
}
