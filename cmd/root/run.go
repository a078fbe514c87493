package root

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"github.com/docker/agentloop/pkg/cli"
	"github.com/docker/agentloop/pkg/runtime"
	"github.com/docker/agentloop/pkg/session"
	"github.com/docker/agentloop/pkg/telemetry"
)

type runFlags struct {
	root          *rootFlags
	sessionID     string
	outputJSON    bool
	hideToolCalls bool
	showThinking  bool
	noStore       bool
}

func newRunCmd(root *rootFlags) *cobra.Command {
	flags := runFlags{root: root}

	cmd := &cobra.Command{
		Use:   "run <config-file> [message]...",
		Short: "Run an agent",
		Long: `Run the agent described by a config file. With a message the agent answers it
and exits ("-" reads the message from stdin); otherwise prompts are read line by line.`,
		Example: `  agentloop run ./agent.yaml
  agentloop run ./agent.yaml "summarize README.md"
  echo "hello" | agentloop run ./agent.yaml -
  agentloop run ./agent.yaml --session 1b9c... "and then?"`,
		GroupID: "core",
		Args:    cobra.MinimumNArgs(1),
		RunE:    flags.runRunCommand,
	}

	cmd.Flags().StringVarP(&flags.sessionID, "session", "s", "", "Resume a stored session")
	cmd.Flags().BoolVar(&flags.outputJSON, "json", false, "Print events as JSON lines")
	cmd.Flags().BoolVar(&flags.hideToolCalls, "hide-tool-calls", false, "Do not print tool calls and results")
	cmd.Flags().BoolVar(&flags.showThinking, "show-thinking", false, "Print the model's thinking")
	cmd.Flags().BoolVar(&flags.noStore, "no-store", false, "Do not persist the conversation")
	cmd.MarkFlagsMutuallyExclusive("session", "no-store")

	return cmd
}

func (f *runFlags) runRunCommand(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	configPath := args[0]

	cfg, err := loadConfig(ctx, configPath)
	if err != nil {
		return err
	}
	env, err := f.root.environment()
	if err != nil {
		return err
	}

	agent, err := buildAgent(ctx, cfg, configPath, env)
	if err != nil {
		return err
	}
	defer agent.stop(context.WithoutCancel(ctx))

	var store session.Store = session.NewInMemoryStore()
	if !f.noStore {
		if store, err = openStore(ctx, cfg.Storage.Path); err != nil {
			return err
		}
	}
	defer store.Close()

	sess, err := f.session(ctx, store, strings.Join(args[1:], " "))
	if err != nil {
		return err
	}
	slog.Debug("Running agent", "session_id", sess.ID, "provider", agent.Provider.ID())

	loop := runtime.New(agent.Provider,
		runtime.WithExecutor(agent.Executor),
		runtime.WithLogger(slog.Default().With("session_id", sess.ID)),
		runtime.WithTracer(telemetry.Tracer()),
		runtime.WithStore(store, sess.ID),
	)

	out := cli.NewPrinter(cmd.OutOrStdout())
	return cli.Run(ctx, out, cli.Config{
		AppName:       AppName,
		HideToolCalls: f.hideToolCalls,
		ShowThinking:  f.showThinking,
		OutputJSON:    f.outputJSON,
		Store:         store,
	}, loop, agent.Request, sess, cmd.InOrStdin(), args[1:])
}

func (f *runFlags) session(ctx context.Context, store session.Store, prompt string) (*session.Session, error) {
	if f.sessionID != "" {
		sess, err := store.GetSession(ctx, f.sessionID)
		if errors.Is(err, session.ErrNotFound) {
			return nil, fmt.Errorf("session %s not found", f.sessionID)
		}
		return sess, err
	}

	title := "Interactive session"
	if prompt != "" && prompt != "-" {
		title = session.TitleFrom(prompt)
	}
	sess := session.New(session.WithTitle(title))
	if err := store.AddSession(ctx, sess); err != nil {
		return nil, fmt.Errorf("creating session: %w", err)
	}
	return sess, nil
}

func openStore(ctx context.Context, path string) (*session.SQLiteStore, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return nil, fmt.Errorf("creating session store directory: %w", err)
	}
	store, err := session.NewSQLiteStore(ctx, path)
	if err != nil {
		return nil, fmt.Errorf("opening session store %s: %w", path, err)
	}
	return store, nil
}
