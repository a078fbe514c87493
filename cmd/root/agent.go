package root

import (
	"cmp"
	"context"
	"fmt"
	"log/slog"
	"path/filepath"

	"github.com/docker/agentloop/pkg/config"
	"github.com/docker/agentloop/pkg/environment"
	"github.com/docker/agentloop/pkg/model/provider"
	"github.com/docker/agentloop/pkg/model/provider/options"
	"github.com/docker/agentloop/pkg/server"
	"github.com/docker/agentloop/pkg/telemetry"
	"github.com/docker/agentloop/pkg/tools"
	"github.com/docker/agentloop/pkg/tools/builtin"
	"github.com/docker/agentloop/pkg/tools/mcp"
)

// loadedAgent is an agent built from a config file together with the
// toolsets it started.
type loadedAgent struct {
	*server.Agent
	toolsets []*tools.StartableToolSet
}

func (a *loadedAgent) stop(ctx context.Context) {
	if err := tools.StopAll(ctx, a.toolsets); err != nil {
		slog.Warn("Failed to stop toolsets", "error", err)
	}
}

func loadConfig(ctx context.Context, path string) (*config.Config, error) {
	return config.Load(ctx, config.NewFileSource(path))
}

// buildAgent creates the provider, starts every toolset and registers its
// tools. On error, toolsets already started are stopped.
func buildAgent(ctx context.Context, cfg *config.Config, configPath string, env environment.Provider) (*loadedAgent, error) {
	if err := config.CheckRequiredEnvVars(ctx, cfg, env); err != nil {
		return nil, err
	}

	p, err := provider.New(ctx, &cfg.Model, env, options.WithLogger(slog.Default()))
	if err != nil {
		return nil, fmt.Errorf("creating provider: %w", err)
	}

	agent := &loadedAgent{}
	registry := tools.NewRegistry(tools.WithTracer(telemetry.Tracer()), tools.WithLogger(slog.Default()))
	configDir := filepath.Dir(configPath)

	for i := range cfg.Toolsets {
		sets, err := createToolSets(ctx, &cfg.Toolsets[i], configDir, env)
		if err != nil {
			agent.stop(ctx)
			return nil, fmt.Errorf("toolsets[%d]: %w", i, err)
		}
		for _, ts := range sets {
			startable := tools.NewStartable(ts)
			if err := startable.Start(ctx); err != nil {
				agent.stop(ctx)
				return nil, fmt.Errorf("toolsets[%d]: starting: %w", i, err)
			}
			agent.toolsets = append(agent.toolsets, startable)
			if err := registry.AddToolSet(ctx, startable); err != nil {
				agent.stop(ctx)
				return nil, fmt.Errorf("toolsets[%d]: %w", i, err)
			}
		}
	}

	req := cfg.CompletionRequest()
	req.Tools = registry.Tools()
	slog.Debug("Agent ready", "provider", p.ID(), "tools", len(req.Tools))

	agent.Agent = &server.Agent{
		Provider: p,
		Executor: registry,
		Request:  req,
	}
	return agent, nil
}

func createToolSets(ctx context.Context, tc *config.ToolsetConfig, configDir string, env environment.Provider) ([]tools.ToolSet, error) {
	switch tc.Type {
	case config.ToolsetBuiltin:
		workingDir := cmp.Or(tc.WorkingDir, configDir)
		if !filepath.IsAbs(workingDir) {
			workingDir = filepath.Join(configDir, workingDir)
		}
		return builtin.NewToolSets(tc.Tools, workingDir)

	case config.ToolsetMCP:
		opts := []mcp.Opt{mcp.WithLogger(slog.Default())}
		if len(tc.Tools) > 0 {
			opts = append(opts, mcp.WithToolFilter(tc.Tools))
		}

		if tc.Remote != nil {
			headers, err := expandMap(ctx, tc.Remote.Headers, env)
			if err != nil {
				return nil, err
			}
			return []tools.ToolSet{mcp.NewRemoteToolset(tc.Remote.URL, headers, opts...)}, nil
		}

		vars, err := expandMap(ctx, tc.Env, env)
		if err != nil {
			return nil, err
		}
		args, err := environment.ExpandAll(ctx, tc.Args, env)
		if err != nil {
			return nil, err
		}
		return []tools.ToolSet{mcp.NewToolsetCommand(tc.Command, args, vars, opts...)}, nil

	default:
		return nil, fmt.Errorf("unknown toolset type %q", tc.Type)
	}
}

func expandMap(ctx context.Context, values map[string]string, env environment.Provider) (map[string]string, error) {
	if len(values) == 0 {
		return nil, nil
	}
	expanded := make(map[string]string, len(values))
	for k, v := range values {
		value, err := environment.Expand(ctx, v, env)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", k, err)
		}
		expanded[k] = value
	}
	return expanded, nil
}
