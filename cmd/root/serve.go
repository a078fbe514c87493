package root

import (
	"cmp"
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/docker/agentloop/pkg/config"
	"github.com/docker/agentloop/pkg/server"
	"github.com/docker/agentloop/pkg/telemetry"
)

type serveFlags struct {
	root       *rootFlags
	listenAddr string
	watch      bool
}

func newServeCmd(root *rootFlags) *cobra.Command {
	flags := serveFlags{root: root}

	cmd := &cobra.Command{
		Use:   "serve <config-file>",
		Short: "Start the agentloop API server",
		Long: `Start an HTTP server that runs the agent on stored sessions and streams
the events over Server-Sent Events or a WebSocket`,
		Example: `  agentloop serve ./agent.yaml
  agentloop serve ./agent.yaml --listen unix:///tmp/agentloop.sock --watch`,
		GroupID: "advanced",
		Args:    cobra.ExactArgs(1),
		RunE:    flags.runServeCommand,
	}

	cmd.Flags().StringVarP(&flags.listenAddr, "listen", "l", "", "Address to listen on (default: server.listen from the config)")
	cmd.Flags().BoolVarP(&flags.watch, "watch", "w", false, "Reload the agent when the config file changes")

	return cmd
}

func (f *serveFlags) runServeCommand(cmd *cobra.Command, args []string) error {
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

	store, err := openStore(ctx, cfg.Storage.Path)
	if err != nil {
		return err
	}
	defer store.Close()

	agent, err := buildAgent(ctx, cfg, configPath, env)
	if err != nil {
		return err
	}

	// The current agent changes on reload; stop whichever is live on exit.
	var mu sync.Mutex
	defer func() {
		mu.Lock()
		defer mu.Unlock()
		agent.stop(context.WithoutCancel(ctx))
	}()

	sm := server.NewSessionManager(store, agent.Agent, slog.Default(), telemetry.Tracer())
	srv := server.New(sm, slog.Default())

	addr := cmp.Or(f.listenAddr, cfg.Server.Listen)
	ln, err := server.Listen(ctx, addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", addr, err)
	}
	fmt.Fprintln(cmd.OutOrStdout(), "Listening on "+ln.Addr().String())

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return srv.Serve(ctx, ln)
	})
	if f.watch {
		g.Go(func() error {
			return config.Watch(ctx, configPath, slog.Default(), func(newCfg *config.Config) {
				next, err := buildAgent(ctx, newCfg, configPath, env)
				if err != nil {
					slog.Warn("Keeping previous agent, reload failed", "error", err)
					return
				}
				sm.SetAgent(next.Agent)

				mu.Lock()
				previous := agent
				agent = next
				mu.Unlock()
				previous.stop(ctx)
			})
		})
	}

	return g.Wait()
}
