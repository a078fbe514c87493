package root

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/docker/agentloop/pkg/cli"
	"github.com/docker/agentloop/pkg/environment"
	"github.com/docker/agentloop/pkg/logging"
	"github.com/docker/agentloop/pkg/telemetry"
)

const AppName = "agentloop"

type rootFlags struct {
	enableOtel   bool
	debugMode    bool
	logFilePath  string
	logFormat    string
	envFiles     []string
	logFile      io.Closer
	shutdownOtel func(context.Context) error
}

func NewRootCmd() *cobra.Command {
	var flags rootFlags

	cmd := &cobra.Command{
		Use:   AppName,
		Short: "agentloop - streaming agent runner",
		Long:  "agentloop runs a model in a tool-calling loop, streaming its output",
		Example: `  agentloop run ./agent.yaml
  agentloop run ./agent.yaml "What time is it in Paris?"
  agentloop serve ./agent.yaml --watch`,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			// Initialize logging before anything else
			if err := flags.setupLogging(); err != nil {
				// If logging setup fails, fall back to stderr so we still get logs
				slog.SetDefault(slog.New(slog.NewTextHandler(cmd.ErrOrStderr(), &slog.HandlerOptions{Level: slog.LevelDebug})))
				slog.Warn("Failed to set up logging", "error", err)
			}

			if flags.enableOtel {
				shutdown, err := telemetry.Init(cmd.Context(), telemetry.Options{
					Endpoint: os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT"),
					Insecure: os.Getenv("OTEL_EXPORTER_OTLP_INSECURE") == "true",
				})
				if err != nil {
					slog.Warn("Failed to initialize OpenTelemetry SDK", "error", err)
				} else {
					flags.shutdownOtel = shutdown
					slog.Debug("OpenTelemetry SDK initialized successfully")
				}
			}

			return nil
		},
		PersistentPostRunE: func(cmd *cobra.Command, args []string) error {
			if flags.shutdownOtel != nil {
				if err := flags.shutdownOtel(context.WithoutCancel(cmd.Context())); err != nil {
					slog.Error("Failed to shut down OpenTelemetry", "error", err)
				}
			}
			if flags.logFile != nil {
				if err := flags.logFile.Close(); err != nil {
					slog.Error("Failed to close log file", "error", err)
				}
			}
			return nil
		},
		// If no subcommand is specified, show help
		RunE: func(cmd *cobra.Command, args []string) error {
			return cmd.Help()
		},
		SilenceErrors: true,
		SilenceUsage:  true,
	}

	cmd.PersistentFlags().BoolVarP(&flags.debugMode, "debug", "d", false, "Enable debug logging")
	cmd.PersistentFlags().BoolVarP(&flags.enableOtel, "otel", "o", false, "Enable OpenTelemetry tracing")
	cmd.PersistentFlags().StringVar(&flags.logFilePath, "log-file", "", "Path to debug log file (default: ~/.agentloop/agentloop.debug.log; only used with --debug)")
	cmd.PersistentFlags().StringVar(&flags.logFormat, "log-format", string(logging.FormatText), "Log format: text or json")
	cmd.PersistentFlags().StringSliceVar(&flags.envFiles, "env-from-file", nil, "Read environment variables from files")

	cmd.AddGroup(&cobra.Group{ID: "core", Title: "Core Commands:"})
	cmd.AddGroup(&cobra.Group{ID: "advanced", Title: "Advanced Commands:"})

	cmd.AddCommand(newVersionCmd())
	cmd.AddCommand(newRunCmd(&flags))
	cmd.AddCommand(newServeCmd(&flags))
	cmd.AddCommand(newSessionsCmd())

	return cmd
}

func Execute(ctx context.Context, stdin io.Reader, stdout, stderr io.Writer, args ...string) error {
	rootCmd := NewRootCmd()
	rootCmd.SetIn(stdin)
	rootCmd.SetOut(stdout)
	rootCmd.SetErr(stderr)
	rootCmd.SetContext(ctx)

	// When no subcommand is given, default to "run".
	rootCmd.SetArgs(defaultToRun(rootCmd, args))

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		return processErr(ctx, err, stderr, rootCmd)
	}
	return nil
}

// defaultToRun prepends "run" to the argument list when no subcommand is
// specified so that "agentloop ./agent.yaml" runs the agent. Help flags
// (--help / -h) are left alone.
func defaultToRun(rootCmd *cobra.Command, args []string) []string {
	for _, arg := range args {
		switch {
		case arg == "--":
			// End of flags, no subcommand found.
			return append([]string{"run"}, args...)
		case arg == "--help" || arg == "-h":
			return args
		case strings.HasPrefix(arg, "-"):
			continue
		case isSubcommand(rootCmd, arg):
			return args
		default:
			return append([]string{"run"}, args...)
		}
	}

	return append([]string{"run"}, args...)
}

// isSubcommand reports whether name matches a registered subcommand or alias.
func isSubcommand(cmd *cobra.Command, name string) bool {
	switch name {
	case "help", "completion", "__complete", "__completeNoDesc":
		return true
	}
	for _, sub := range cmd.Commands() {
		if sub.Name() == name || sub.HasAlias(name) {
			return true
		}
	}
	return false
}

func processErr(ctx context.Context, err error, stderr io.Writer, rootCmd *cobra.Command) error {
	var (
		envErr     *environment.RequiredEnvError
		runtimeErr cli.RuntimeError
	)
	switch {
	case ctx.Err() != nil:
		return ctx.Err()
	case errors.As(err, &envErr):
		fmt.Fprintln(stderr, "The following environment variables must be set:")
		for _, v := range envErr.Missing {
			fmt.Fprintf(stderr, " - %s\n", v)
		}
		fmt.Fprintln(stderr, "\nEither:\n - Set those environment variables before running agentloop\n - Run agentloop with --env-from-file")
	case errors.As(err, &runtimeErr):
		// Runtime errors have already been printed by the command itself
	default:
		// Command line usage errors - show the error and usage
		fmt.Fprintln(stderr, err)
		fmt.Fprintln(stderr)
		if strings.HasPrefix(err.Error(), "unknown command ") || strings.HasPrefix(err.Error(), "accepts ") {
			_ = rootCmd.Usage()
		}
	}

	return err
}

// setupLogging configures slog. Without --debug logs are discarded; with it
// they go to a rotating file, ~/.agentloop/agentloop.debug.log unless
// --log-file says otherwise.
func (f *rootFlags) setupLogging() error {
	format := logging.Format(f.logFormat)
	if format != logging.FormatText && format != logging.FormatJSON {
		return fmt.Errorf("unknown log format %q", f.logFormat)
	}

	logger, closer, err := logging.New(logging.Options{
		Debug:  f.debugMode,
		Format: format,
		File:   strings.TrimSpace(f.logFilePath),
	})
	if err != nil {
		return err
	}
	f.logFile = closer
	slog.SetDefault(logger)
	return nil
}

func (f *rootFlags) environment() (environment.Provider, error) {
	return environment.NewDefaultProvider(f.envFiles...)
}
