// Command logit normalizes agent logs and ingests them into a relational mart.
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/hoangnb24/logit-sub000/pkg/agentlog"
	"github.com/hoangnb24/logit-sub000/pkg/config"
	"github.com/hoangnb24/logit-sub000/pkg/envelope"
	"github.com/hoangnb24/logit-sub000/pkg/observability"
	"github.com/hoangnb24/logit-sub000/pkg/store"
)

// Exit codes.
const (
	ExitSuccess           = 0
	ExitRuntimeFailure    = 1
	ExitValidationFailure = 2
	ExitUsageError        = 64
)

var version = "dev"

func main() {
	os.Exit(Run(os.Args, os.Stdout, os.Stderr))
}

// commandError carries the envelope and exit code of a failed command.
type commandError struct {
	exit     int
	envelope *envelope.Envelope
}

func (e *commandError) Error() string {
	if e.envelope.Error != nil {
		return e.envelope.Error.Message
	}
	return "command failed"
}

func runtimeFailure(command, code string, err error) *commandError {
	return &commandError{
		exit: ExitRuntimeFailure,
		envelope: envelope.Fail(command, code, err.Error()).
			WithErrorDetails(map[string]string{"cause": err.Error()}),
	}
}

// app holds state shared by all commands of one invocation.
type app struct {
	stdout io.Writer
	stderr io.Writer

	configPath string
	homeDir    string
	cwd        string
	outDir     string

	cfg    *config.Config
	paths  config.RuntimePaths
	logger *slog.Logger
}

// Run is the entrypoint for testing.
func Run(args []string, stdout, stderr io.Writer) int {
	a := &app{stdout: stdout, stderr: stderr}
	root := a.rootCommand()
	if len(args) > 0 {
		args = args[1:]
	}
	root.SetArgs(args)
	root.SetOut(stdout)
	root.SetErr(stderr)

	err := root.ExecuteContext(context.Background())
	if err == nil {
		return ExitSuccess
	}
	var cmdErr *commandError
	if errors.As(err, &cmdErr) {
		if werr := cmdErr.envelope.Write(stdout); werr != nil {
			_, _ = fmt.Fprintln(stderr, werr)
		}
		return cmdErr.exit
	}
	_, _ = fmt.Fprintf(stderr, "Error: %v\n", err)
	_, _ = fmt.Fprintln(stderr, "Run 'logit --help' for usage.")
	return ExitUsageError
}

func (a *app) rootCommand() *cobra.Command {
	root := &cobra.Command{
		Use:           "logit",
		Short:         "Normalize agent logs and ingest them into a queryable mart",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			return a.setup(cmd)
		},
	}
	flags := root.PersistentFlags()
	flags.StringVar(&a.configPath, "config", "", "Path to a YAML config file")
	flags.StringVar(&a.homeDir, "home-dir", "", "Home directory (default $HOME)")
	flags.StringVar(&a.cwd, "cwd", "", "Working directory (default current directory)")
	flags.StringVar(&a.outDir, "out-dir", "", "Output directory (default ~/.logit/output)")

	root.AddCommand(
		a.normalizeCommand(),
		a.ingestCommand(),
		a.validateCommand(),
		a.inspectCommand(),
		a.versionCommand(),
	)
	return root
}

// setup loads config, resolves runtime paths and installs the logger.
func (a *app) setup(cmd *cobra.Command) error {
	command := commandName(cmd)
	cfg, err := config.Load(a.configPath)
	if err != nil {
		return runtimeFailure(command, "config_invalid", err)
	}
	a.cfg = cfg

	home := a.homeDir
	if home == "" {
		if home, err = os.UserHomeDir(); err != nil {
			return runtimeFailure(command, "runtime_paths_invalid",
				fmt.Errorf("HOME is not set; pass --home-dir: %w", err))
		}
	}
	cwd := a.cwd
	if cwd == "" {
		if cwd, err = os.Getwd(); err != nil {
			return runtimeFailure(command, "runtime_paths_invalid", err)
		}
	}
	out := a.outDir
	if out == "" {
		out = cfg.OutDir
	}
	paths, err := config.ResolveRuntimePaths(home, cwd, out)
	if err != nil {
		return runtimeFailure(command, "runtime_paths_invalid", err)
	}
	a.paths = paths

	a.logger = slog.New(slog.NewTextHandler(a.stderr, &slog.HandlerOptions{Level: cfg.SlogLevel()}))
	slog.SetDefault(a.logger)
	a.logger.Debug("logit starting", "command", command, "out_dir", paths.OutDir)
	return nil
}

func (a *app) openStore(ctx context.Context) (*store.Store, error) {
	return store.Open(ctx, store.Config{
		Driver: store.Driver(a.cfg.Database.Driver),
		DSN:    a.cfg.DatabaseDSN(a.paths.OutDir),
	})
}

func (a *app) telemetry(ctx context.Context) (*observability.Provider, error) {
	oc := observability.DefaultConfig()
	oc.ServiceVersion = version
	oc.Enabled = a.cfg.Telemetry.Enabled
	oc.Insecure = a.cfg.Telemetry.Insecure
	if a.cfg.Telemetry.OTLPEndpoint != "" {
		oc.OTLPEndpoint = a.cfg.Telemetry.OTLPEndpoint
	}
	return observability.New(ctx, oc)
}

func (a *app) write(e *envelope.Envelope) error {
	return e.Write(a.stdout)
}

// commandName renders "ingest refresh" as "ingest.refresh".
func commandName(cmd *cobra.Command) string {
	name := cmd.Name()
	for p := cmd.Parent(); p != nil && p.HasParent(); p = p.Parent() {
		name = p.Name() + "." + name
	}
	return name
}

func (a *app) versionCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return a.write(envelope.OK(commandName(cmd), map[string]string{
				"version":              version,
				"event_schema":         agentlog.SchemaVersion,
				"store_schema_version": store.SchemaVersion,
			}))
		},
	}
}
