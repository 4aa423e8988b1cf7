package cli

import (
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"

	"github.com/roach88/modacct/internal/config"
	"github.com/roach88/modacct/internal/host"
	"github.com/roach88/modacct/internal/ir"
	"github.com/roach88/modacct/internal/logging"
	"github.com/roach88/modacct/internal/registry"
	"github.com/roach88/modacct/internal/store"
)

// RootOptions holds global flags for all commands.
type RootOptions struct {
	Verbose    bool
	Format     string // "json" | "text"
	ConfigPath string
	Database   string // overrides the configured database

	cfg       *config.Config
	logCloser io.Closer
}

// ValidFormats defines the allowed output formats.
var ValidFormats = []string{"text", "json"}

// NewRootCommand creates the root command for the modacct CLI.
func NewRootCommand() *cobra.Command {
	opts := &RootOptions{}

	cmd := &cobra.Command{
		Use:   "modacct",
		Short: "Modular account manager",
		Long: `Manage modular accounts: a version registry of modules, per-account
address books, dependency tracking and batched upgrades.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			// Validate format flag
			if !isValidFormat(opts.Format) {
				return NewExitError(ExitCommandError,
					fmt.Sprintf("invalid format %q: must be one of %v", opts.Format, ValidFormats))
			}
			cfg, err := opts.config()
			if err != nil {
				return err
			}
			closer, err := logging.Init(cfg.Log)
			if err != nil {
				return WrapExitError(ExitCommandError, "failed to initialize logging", err)
			}
			opts.logCloser = closer
			return nil
		},
		PersistentPostRunE: func(cmd *cobra.Command, args []string) error {
			if opts.logCloser != nil {
				return opts.logCloser.Close()
			}
			return nil
		},
	}

	// Global flags
	cmd.PersistentFlags().BoolVarP(&opts.Verbose, "verbose", "v", false, "verbose output")
	cmd.PersistentFlags().StringVar(&opts.Format, "format", "text", "output format (json|text)")
	cmd.PersistentFlags().StringVarP(&opts.ConfigPath, "config", "c", "", "path to config file")
	cmd.PersistentFlags().StringVar(&opts.Database, "db", "", "path to SQLite database (overrides config)")

	// Add subcommands
	cmd.AddCommand(NewRegistryCommand(opts))
	cmd.AddCommand(NewCatalogCommand(opts))
	cmd.AddCommand(NewAccountCommand(opts))
	cmd.AddCommand(NewLogCommand(opts))
	cmd.AddCommand(NewTestCommand(opts))

	return cmd
}

// isValidFormat checks if the format is one of the allowed values.
func isValidFormat(format string) bool {
	for _, f := range ValidFormats {
		if f == format {
			return true
		}
	}
	return false
}

// config loads the configuration once and applies the --db override.
func (o *RootOptions) config() (*config.Config, error) {
	if o.cfg != nil {
		return o.cfg, nil
	}
	cfg, err := config.Load(o.ConfigPath)
	if err != nil {
		return nil, WrapExitError(ExitCommandError, "failed to load config", err)
	}
	if o.Database != "" {
		cfg.Database = o.Database
	}
	o.cfg = cfg
	return cfg, nil
}

func (o *RootOptions) formatter(cmd *cobra.Command) *OutputFormatter {
	return &OutputFormatter{
		Format:    o.Format,
		Writer:    cmd.OutOrStdout(),
		ErrWriter: cmd.ErrOrStderr(),
		Verbose:   o.Verbose,
	}
}

// session is an open database with a host on top of it.
type session struct {
	cfg   *config.Config
	store *store.Store
	host  *host.Host
}

func (s *session) Close() error {
	return s.store.Close()
}

// open opens the configured database and builds a host over it.
func (o *RootOptions) open(ctx context.Context) (*session, error) {
	cfg, err := o.config()
	if err != nil {
		return nil, err
	}

	st, err := store.Open(cfg.Database)
	if err != nil {
		return nil, WrapExitError(ExitCommandError, "failed to open database", err)
	}

	reg := registry.New(registry.Config{
		Admin:         cfg.Registry.Admin,
		PlatformAdmin: cfg.Registry.PlatformAdmin,
	})
	h, err := host.New(ctx, st, reg, host.Config{
		Factory:       cfg.Host.Factory,
		AddressPrefix: cfg.Host.AddressPrefix,
		MaxSteps:      cfg.Host.MaxSteps,
	})
	if err != nil {
		st.Close()
		return nil, WrapExitError(ExitCommandError, "failed to create host", err)
	}
	return &session{cfg: cfg, store: st, host: h}, nil
}

// withSession runs fn against a freshly opened session.
func withSession(cmd *cobra.Command, opts *RootOptions, fn func(ctx context.Context, s *session, f *OutputFormatter) error) error {
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	s, err := opts.open(ctx)
	if err != nil {
		return err
	}
	defer s.Close()
	return fn(ctx, s, opts.formatter(cmd))
}

// parseAddr validates an address given on the command line.
func parseAddr(flag, s string) (ir.Addr, error) {
	addr := ir.Addr(strings.TrimSpace(s))
	if err := ir.ValidateAddr(addr); err != nil {
		return "", WrapExitError(ExitCommandError, fmt.Sprintf("invalid --%s", flag), err)
	}
	return addr, nil
}

// parsePayload checks a JSON object given on the command line.
func parsePayload(s string) (ir.Payload, error) {
	p, err := ir.ParsePayload([]byte(s))
	if err != nil {
		return nil, WrapExitError(ExitCommandError, "invalid payload", err)
	}
	return p, nil
}
