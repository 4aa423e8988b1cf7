package cli

import (
	"context"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/roach88/modacct/internal/ir"
	"github.com/roach88/modacct/internal/registry"
)

// RegistryOptions holds flags shared by the registry subcommands.
type RegistryOptions struct {
	*RootOptions
	Sender string
}

// NewRegistryCommand creates the registry command group.
func NewRegistryCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &RegistryOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "registry",
		Short: "Manage the module version registry",
	}
	cmd.PersistentFlags().StringVar(&opts.Sender, "sender", "", "acting address (defaults to the configured registry admin)")

	cmd.AddCommand(newRegistryAddCommand(opts))
	cmd.AddCommand(newRegistryRemoveCommand(opts))
	cmd.AddCommand(newRegistryResolveCommand(opts))
	cmd.AddCommand(newRegistryListCommand(opts))
	return cmd
}

// sender returns --sender, or the admin that may manage id's namespace.
func (o *RegistryOptions) sender(id ir.ModuleID) (ir.Addr, error) {
	if o.Sender != "" {
		return parseAddr("sender", o.Sender)
	}
	cfg, err := o.config()
	if err != nil {
		return "", err
	}
	if id.Provider() == ir.PlatformNamespace {
		return cfg.Registry.PlatformAdmin, nil
	}
	return cfg.Registry.Admin, nil
}

func newRegistryAddCommand(opts *RegistryOptions) *cobra.Command {
	var (
		kind   string
		codeID uint64
		addr   string
	)

	cmd := &cobra.Command{
		Use:   "add <provider:name@version>",
		Short: "Register a module version",
		Long: `Register one module version with its reference.

Code-template kinds (app, standalone, account_base) take --code-id;
deployed kinds (api, native) take --addr.

Examples:
  modacct registry add acme:oracle@1.0.0 --kind app --code-id 3
  modacct registry add acme:prices@1.0.0 --kind api --addr mod1...`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			info, err := ir.ParseModuleInfo(args[0])
			if err != nil {
				return WrapExitError(ExitCommandError, "invalid module", err)
			}
			ref, err := ir.DecodeReference(ir.ReferenceRecord{
				Kind:   ir.ReferenceKind(kind),
				CodeID: codeID,
				Addr:   ir.Addr(addr),
			})
			if err != nil {
				return WrapExitError(ExitCommandError, "invalid reference", err)
			}
			return withSession(cmd, opts.RootOptions, func(ctx context.Context, s *session, f *OutputFormatter) error {
				sender, err := opts.sender(info.ID())
				if err != nil {
					return err
				}
				mod := ir.Module{Info: info, Reference: ref}
				if err := s.host.AddModules(ctx, sender, []ir.Module{mod}); err != nil {
					return f.Fail("failed to add module", err)
				}
				return f.Emit(mod, func(w io.Writer) {
					fmt.Fprintf(w, "Added %s (%s)\n", info, kind)
				})
			})
		},
	}

	cmd.Flags().StringVar(&kind, "kind", "", "reference kind (app|api|account_base|standalone|native)")
	_ = cmd.MarkFlagRequired("kind")
	cmd.Flags().Uint64Var(&codeID, "code-id", 0, "code id for code-template kinds")
	cmd.Flags().StringVar(&addr, "addr", "", "instance address for api and native kinds")
	return cmd
}

func newRegistryRemoveCommand(opts *RegistryOptions) *cobra.Command {
	var yank bool

	cmd := &cobra.Command{
		Use:   "remove <provider:name@version>",
		Short: "Remove a module version, optionally yanking it",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			info, err := ir.ParseModuleInfo(args[0])
			if err != nil {
				return WrapExitError(ExitCommandError, "invalid module", err)
			}
			return withSession(cmd, opts.RootOptions, func(ctx context.Context, s *session, f *OutputFormatter) error {
				sender, err := opts.sender(info.ID())
				if err != nil {
					return err
				}
				if err := s.host.RemoveModule(ctx, sender, info, yank); err != nil {
					return f.Fail("failed to remove module", err)
				}
				result := map[string]any{"module": info.String(), "yanked": yank}
				return f.Emit(result, func(w io.Writer) {
					if yank {
						fmt.Fprintf(w, "Yanked %s\n", info)
					} else {
						fmt.Fprintf(w, "Removed %s\n", info)
					}
				})
			})
		},
	}

	cmd.Flags().BoolVar(&yank, "yank", false, "keep the entry in the yanked table")
	return cmd
}

func newRegistryResolveCommand(opts *RegistryOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "resolve <provider:name[@version]>",
		Short: "Resolve a module version; no version means latest",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			info, err := ir.ParseModuleInfo(args[0])
			if err != nil {
				return WrapExitError(ExitCommandError, "invalid module", err)
			}
			return withSession(cmd, opts.RootOptions, func(ctx context.Context, s *session, f *OutputFormatter) error {
				mod, err := s.host.Resolve(ctx, info)
				if err != nil {
					return f.Fail("failed to resolve module", err)
				}
				return f.Emit(mod, func(w io.Writer) {
					writeModule(w, mod)
				})
			})
		},
	}
}

func newRegistryListCommand(opts *RegistryOptions) *cobra.Command {
	var (
		filter    registry.Filter
		pageToken string
		limit     int
		yanked    bool
	)

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List registry entries one page at a time",
		Long: `List live (or yanked) registry entries ordered by provider, name and
version. Pass the printed next token to --page-token for the following page.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withSession(cmd, opts.RootOptions, func(ctx context.Context, s *session, f *OutputFormatter) error {
				page, err := s.host.ListModules(ctx, filter, pageToken, limit, yanked)
				if err != nil {
					return f.Fail("failed to list modules", err)
				}
				return f.Emit(page, func(w io.Writer) {
					if len(page.Modules) == 0 {
						fmt.Fprintln(w, "No modules found.")
						return
					}
					for _, mod := range page.Modules {
						writeModule(w, mod)
					}
					if page.Next != "" {
						fmt.Fprintf(w, "next: %s\n", page.Next)
					}
				})
			})
		},
	}

	cmd.Flags().StringVar(&filter.Provider, "provider", "", "filter by provider")
	cmd.Flags().StringVar(&filter.Name, "name", "", "filter by name")
	cmd.Flags().StringVar(&filter.Version, "version", "", "filter by version")
	cmd.Flags().StringVar(&pageToken, "page-token", "", "resume after this entry")
	cmd.Flags().IntVar(&limit, "limit", registry.DefaultPageSize, fmt.Sprintf("page size (max %d)", registry.MaxPageSize))
	cmd.Flags().BoolVar(&yanked, "yanked", false, "list yanked entries instead")
	return cmd
}

func writeModule(w io.Writer, mod ir.Module) {
	if mod.Reference == nil {
		fmt.Fprintln(w, mod.Info)
		return
	}
	rec := ir.EncodeReference(mod.Reference)
	switch {
	case rec.Addr != "":
		fmt.Fprintf(w, "%-32s %-13s %s\n", mod.Info, rec.Kind, rec.Addr)
	default:
		fmt.Fprintf(w, "%-32s %-13s code %d\n", mod.Info, rec.Kind, rec.CodeID)
	}
}
