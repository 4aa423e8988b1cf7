package cli

import (
	"context"
	"fmt"
	"io"
	"sort"
	"strings"

	"github.com/spf13/cobra"

	"github.com/roach88/modacct/internal/host"
	"github.com/roach88/modacct/internal/ir"
	"github.com/roach88/modacct/internal/manager"
	"github.com/roach88/modacct/internal/store"
)

// AccountOptions holds flags shared by the account subcommands.
type AccountOptions struct {
	*RootOptions
	Account int64
	Sender  string
}

// NewAccountCommand creates the account command group.
func NewAccountCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &AccountOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "account",
		Short: "Create accounts and manage their modules",
	}
	cmd.PersistentFlags().Int64Var(&opts.Account, "account", 0, "account id")
	cmd.PersistentFlags().StringVar(&opts.Sender, "sender", "", "acting address (defaults to the account owner)")

	cmd.AddCommand(newAccountCreateCommand(opts))
	cmd.AddCommand(newAccountListCommand(opts))
	cmd.AddCommand(newAccountModulesCommand(opts))
	cmd.AddCommand(newAccountWhitelistCommand(opts))
	cmd.AddCommand(newAccountInstallCommand(opts))
	cmd.AddCommand(newAccountUninstallCommand(opts))
	cmd.AddCommand(newAccountExecCommand(opts))
	cmd.AddCommand(newAccountUpgradeCommand(opts))
	cmd.AddCommand(newAccountSetAddressCommand(opts))
	return cmd
}

func newAccountCreateCommand(opts *AccountOptions) *cobra.Command {
	var owner string

	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create an account from the latest platform manager and proxy",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			addr, err := parseAddr("owner", owner)
			if err != nil {
				return err
			}
			return withSession(cmd, opts.RootOptions, func(ctx context.Context, s *session, f *OutputFormatter) error {
				account, err := s.host.CreateAccount(ctx, addr)
				if err != nil {
					return f.Fail("failed to create account", err)
				}
				return f.Emit(account, func(w io.Writer) {
					fmt.Fprintf(w, "Created account %d\n", account.ID)
					writeAccount(w, account)
				})
			})
		},
	}

	cmd.Flags().StringVar(&owner, "owner", "", "owner address (required)")
	_ = cmd.MarkFlagRequired("owner")
	return cmd
}

func newAccountListCommand(opts *AccountOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List accounts",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withSession(cmd, opts.RootOptions, func(ctx context.Context, s *session, f *OutputFormatter) error {
				accounts, err := s.host.Accounts(ctx)
				if err != nil {
					return f.Fail("failed to list accounts", err)
				}
				if accounts == nil {
					accounts = []store.Account{}
				}
				return f.Emit(accounts, func(w io.Writer) {
					if len(accounts) == 0 {
						fmt.Fprintln(w, "No accounts found.")
						return
					}
					for _, a := range accounts {
						fmt.Fprintf(w, "%d  owner=%s\n", a.ID, a.Owner)
					}
				})
			})
		},
	}
}

func newAccountModulesCommand(opts *AccountOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "modules",
		Short: "Show an account's installed modules with versions and dependents",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withSession(cmd, opts.RootOptions, func(ctx context.Context, s *session, f *OutputFormatter) error {
				modules, err := s.host.AccountModules(ctx, opts.Account)
				if err != nil {
					return f.Fail("failed to list modules", err)
				}
				return f.Emit(modules, func(w io.Writer) {
					writeInstalled(w, modules)
				})
			})
		},
	}
}

func newAccountWhitelistCommand(opts *AccountOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "whitelist",
		Short: "Show the addresses the account's proxy accepts calls from",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withSession(cmd, opts.RootOptions, func(ctx context.Context, s *session, f *OutputFormatter) error {
				addrs, err := s.host.Whitelist(ctx, opts.Account)
				if err != nil {
					return f.Fail("failed to read whitelist", err)
				}
				if addrs == nil {
					addrs = []ir.Addr{}
				}
				return f.Emit(addrs, func(w io.Writer) {
					for _, a := range addrs {
						fmt.Fprintln(w, a)
					}
				})
			})
		},
	}
}

func newAccountInstallCommand(opts *AccountOptions) *cobra.Command {
	var payload string

	cmd := &cobra.Command{
		Use:   "install <provider:name[@version]>",
		Short: "Install a module on an account",
		Long: `Install a module. No version means the latest registry entry.

Examples:
  modacct account install acme:oracle --account 1
  modacct account install acme:lending@1.0.0 --account 1 --payload '{"rate":5}'`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			info, err := ir.ParseModuleInfo(args[0])
			if err != nil {
				return WrapExitError(ExitCommandError, "invalid module", err)
			}
			initPayload, err := parsePayload(payload)
			if err != nil {
				return err
			}
			return opts.execute(cmd, "install", host.Install{Module: info, InitPayload: initPayload})
		},
	}

	cmd.Flags().StringVar(&payload, "payload", "{}", "init payload (JSON object)")
	return cmd
}

func newAccountUninstallCommand(opts *AccountOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "uninstall <provider:name>",
		Short: "Uninstall a module that nothing depends on",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := ir.ParseModuleID(args[0])
			if err != nil {
				return WrapExitError(ExitCommandError, "invalid module", err)
			}
			return opts.execute(cmd, "uninstall", host.Uninstall{Module: id})
		},
	}
}

func newAccountExecCommand(opts *AccountOptions) *cobra.Command {
	var payload string

	cmd := &cobra.Command{
		Use:   "exec <provider:name>",
		Short: "Forward a payload to an installed module",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := ir.ParseModuleID(args[0])
			if err != nil {
				return WrapExitError(ExitCommandError, "invalid module", err)
			}
			body, err := parsePayload(payload)
			if err != nil {
				return err
			}
			return opts.execute(cmd, "exec", host.ExecOnModule{Module: id, Payload: body})
		},
	}

	cmd.Flags().StringVar(&payload, "payload", "{}", "payload (JSON object)")
	return cmd
}

func newAccountUpgradeCommand(opts *AccountOptions) *cobra.Command {
	var payloads []string

	cmd := &cobra.Command{
		Use:   "upgrade <provider:name[@version]>...",
		Short: "Upgrade modules in one batch",
		Long: `Upgrade one or more modules in a single batch. Dependency requirements
are checked against the post-upgrade versions of the whole batch.

Migrate payloads are given per module with --payload provider:name=JSON.

Examples:
  modacct account upgrade acme:oracle@2.0.0 acme:lending --account 1
  modacct account upgrade acme:vault@1.1.0 --account 1 --payload 'acme:vault={}'`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			byID, err := parsePayloadFlags(payloads)
			if err != nil {
				return err
			}
			batch := make([]manager.UpgradeRequest, 0, len(args))
			for _, arg := range args {
				info, err := ir.ParseModuleInfo(arg)
				if err != nil {
					return WrapExitError(ExitCommandError, "invalid module", err)
				}
				req := manager.UpgradeRequest{Module: info}
				if p, ok := byID[info.ID()]; ok {
					req.Payload = p
					delete(byID, info.ID())
				}
				batch = append(batch, req)
			}
			if len(byID) > 0 {
				extra := make([]string, 0, len(byID))
				for id := range byID {
					extra = append(extra, string(id))
				}
				sort.Strings(extra)
				return NewExitError(ExitCommandError, fmt.Sprintf("--payload for modules not in the batch: %s", strings.Join(extra, ", ")))
			}
			return opts.execute(cmd, "upgrade", host.Upgrade{Batch: batch})
		},
	}

	cmd.Flags().StringArrayVar(&payloads, "payload", nil, "migrate payload as provider:name=JSON (repeatable)")
	return cmd
}

func newAccountSetAddressCommand(opts *AccountOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "set-address <provider:name>=<addr>...",
		Short: "Rewrite address book rows",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			updates := make([]ir.ModuleAddress, 0, len(args))
			for _, arg := range args {
				idPart, addrPart, ok := strings.Cut(arg, "=")
				if !ok {
					return NewExitError(ExitCommandError, fmt.Sprintf("expected provider:name=addr, got %q", arg))
				}
				id, err := ir.ParseModuleID(idPart)
				if err != nil {
					return WrapExitError(ExitCommandError, "invalid module", err)
				}
				addr, err := parseAddr("addr", addrPart)
				if err != nil {
					return err
				}
				updates = append(updates, ir.ModuleAddress{ID: id, Addr: addr})
			}
			return opts.execute(cmd, "set-address", host.UpdateModuleAddresses{Updates: updates})
		},
	}
}

// execute runs call as one host transaction and prints its message trace.
func (o *AccountOptions) execute(cmd *cobra.Command, op string, call host.Call) error {
	return withSession(cmd, o.RootOptions, func(ctx context.Context, s *session, f *OutputFormatter) error {
		account, err := s.host.Account(ctx, o.Account)
		if err != nil {
			return f.Fail(op+" failed", err)
		}
		sender := account.Owner
		if o.Sender != "" {
			if sender, err = parseAddr("sender", o.Sender); err != nil {
				return err
			}
		}
		f.VerboseLog("%s on account %d as %s", op, account.ID, sender)

		result, err := s.host.Execute(ctx, account.ID, sender, call)
		if err != nil {
			return f.Fail(op+" failed", err)
		}
		return f.Emit(result, func(w io.Writer) {
			fmt.Fprintf(w, "tx %s: %d messages\n", result.TxToken, len(result.Trace))
			writeTrace(w, result.Trace, false)
		})
	})
}

// parsePayloadFlags parses repeated provider:name=JSON flags. The JSON may
// itself contain '=', so only the first one separates the id.
func parsePayloadFlags(flags []string) (map[ir.ModuleID]ir.Payload, error) {
	out := make(map[ir.ModuleID]ir.Payload, len(flags))
	for _, fl := range flags {
		idPart, body, ok := strings.Cut(fl, "=")
		if !ok {
			return nil, NewExitError(ExitCommandError, fmt.Sprintf("expected provider:name=JSON, got %q", fl))
		}
		id, err := ir.ParseModuleID(idPart)
		if err != nil {
			return nil, WrapExitError(ExitCommandError, "invalid --payload module", err)
		}
		if _, dup := out[id]; dup {
			return nil, NewExitError(ExitCommandError, fmt.Sprintf("--payload given twice for %s", id))
		}
		p, err := parsePayload(body)
		if err != nil {
			return nil, err
		}
		out[id] = p
	}
	return out, nil
}

func writeAccount(w io.Writer, a store.Account) {
	fmt.Fprintf(w, "  owner:   %s\n", a.Owner)
	fmt.Fprintf(w, "  manager: %s\n", a.Manager)
	fmt.Fprintf(w, "  proxy:   %s\n", a.Proxy)
}

func writeInstalled(w io.Writer, modules []manager.InstalledModule) {
	for _, m := range modules {
		version := m.Version
		if version == "" {
			version = "-"
		}
		fmt.Fprintf(w, "%-28s %-10s %s\n", m.ID, version, m.Addr)
		for _, d := range m.Dependencies {
			fmt.Fprintf(w, "    requires %s %s\n", d.ID, strings.Join(d.VersionReq, ", "))
		}
		if len(m.Dependents) > 0 {
			ids := make([]string, len(m.Dependents))
			for i, id := range m.Dependents {
				ids[i] = string(id)
			}
			fmt.Fprintf(w, "    dependents: %s\n", strings.Join(ids, ", "))
		}
	}
}
