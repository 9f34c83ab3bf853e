package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/rhuss/atelier/pkg/agent"
	"github.com/rhuss/atelier/pkg/artifact"
	"github.com/rhuss/atelier/pkg/config"
	"github.com/rhuss/atelier/pkg/debug"
	"github.com/rhuss/atelier/pkg/pathguard"
	"github.com/rhuss/atelier/pkg/provider"
	"github.com/rhuss/atelier/pkg/provider/openaicompat"
	"github.com/rhuss/atelier/pkg/replicate"
	"github.com/rhuss/atelier/pkg/sandbox"
	"github.com/rhuss/atelier/pkg/session"
	"github.com/rhuss/atelier/pkg/spaces"
	"github.com/rhuss/atelier/pkg/spaces/filesystem"
	"github.com/rhuss/atelier/pkg/spaces/postgres"
	"github.com/rhuss/atelier/pkg/stream"
	"github.com/rhuss/atelier/pkg/tools/builtins/codeexec"
	"github.com/rhuss/atelier/pkg/tools/mcp"
	transporthttp "github.com/rhuss/atelier/pkg/transport/http"
	"github.com/rhuss/atelier/pkg/transport/ws"
)

func runServe(cmd *cobra.Command, _ []string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}

	debug.Init(debug.Options{
		Categories: cfg.Logging.Debug,
		Level:      cfg.Logging.Level,
		Format:     cfg.Logging.Format,
	})

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	return serve(ctx, cfg)
}

func serve(ctx context.Context, cfg *config.Config) error {
	storageDir := cfg.StorageDir()
	if err := os.MkdirAll(storageDir, 0o755); err != nil {
		return fmt.Errorf("creating storage directory: %w", err)
	}
	guard, err := pathguard.New(cfg.SandboxRoot())
	if err != nil {
		return fmt.Errorf("guarding sandbox root: %w", err)
	}

	if cfg.Replicate.APIToken == "" {
		slog.Warn("no replicate token configured, model runs will fail")
	}
	runner := replicate.NewClient(cfg.Replicate.BaseURL, cfg.Replicate.APIToken,
		replicate.WithPollInterval(cfg.Replicate.PollInterval),
		replicate.WithHTTPClient(&http.Client{Timeout: cfg.Replicate.Timeout}),
	)
	sb, err := sandbox.New(sandbox.Config{
		Guard:      guard,
		Runner:     runner,
		Saver:      replicate.NewDownloader(storageDir, nil),
		StorageDir: storageDir,
		Timeout:    cfg.Sandbox.Timeout,
	})
	if err != nil {
		return fmt.Errorf("creating sandbox: %w", err)
	}
	codeExec := codeexec.New(sb, cfg.Sandbox.ScriptsDir)

	prompt, err := agent.LoadSystemPrompt(cfg.Agent.SystemPromptFile, cfg.Sandbox.ScriptsDir)
	if err != nil {
		return err
	}

	var shared []agent.ToolSource
	if len(cfg.Agent.MCPServers) > 0 {
		servers := make([]mcp.ServerConfig, 0, len(cfg.Agent.MCPServers))
		for _, s := range cfg.Agent.MCPServers {
			servers = append(servers, mcp.ServerConfig{Name: s.Name, Transport: s.Transport, URL: s.URL, Headers: s.Headers})
		}
		remote := mcp.ConnectAll(ctx, servers)
		defer remote.Close()
		shared = append(shared, remote)
	}

	llm := openaicompat.NewClient(cfg.Agent.BaseURL, cfg.Agent.APIKey, cfg.Agent.Timeout)
	defer llm.Close()
	checkModel(ctx, llm, cfg.Agent.Model)

	factory := &agent.Factory{
		Provider: llm,
		CodeExec: codeExec,
		Shared:   shared,
		Config: agent.Config{
			Model:        cfg.Agent.Model,
			MaxTurns:     cfg.Agent.MaxTurns,
			SystemPrompt: prompt,
			Pricing: agent.Pricing{
				InputPerMTok:  cfg.Agent.Pricing.InputPerMTok,
				OutputPerMTok: cfg.Agent.Pricing.OutputPerMTok,
			},
			AllowedTools: cfg.Agent.AllowedTools,
		},
	}

	storageURL := cfg.PublicURL() + "/" + cfg.Storage.Dir
	scanner := artifact.NewScanner(artifact.Config{
		Dir:       storageDir,
		PublicURL: storageURL,
		Window:    cfg.Artifacts.Window,
	})
	sessions := session.NewManager(factory, stream.New(storageDir, scanner), session.Config{
		QueueSize: cfg.Session.QueueSize,
		Reminder:  cfg.Session.Reminder,
	})
	defer sessions.CloseAll()

	store, err := openSpaces(ctx, cfg, storageDir)
	if err != nil {
		return err
	}
	defer store.Close()

	httpCfg := transporthttp.Config{
		Addr:           hostPort(cfg.Server.Host, cfg.Server.HTTPPort),
		StorageDir:     storageDir,
		PublicURL:      cfg.PublicURL(),
		FrontendDir:    cfg.Server.FrontendDir,
		MaxUploadBytes: cfg.Server.MaxUploadBytes,
		ReadTimeout:    cfg.Server.ReadTimeout,
		WriteTimeout:   cfg.Server.WriteTimeout,
	}
	if cfg.Observability.Metrics.Enabled {
		httpCfg.MetricsPath = cfg.Observability.Metrics.Path
	}
	if cfg.MCP.Enabled {
		server, err := mcp.NewServer(codeExec, version)
		if err != nil {
			return fmt.Errorf("creating MCP server: %w", err)
		}
		httpCfg.MCPPath = cfg.MCP.Path
		httpCfg.MCPHandler = mcp.Handler(server)
	}
	httpSrv, err := transporthttp.NewServer(httpCfg, store)
	if err != nil {
		return err
	}
	wsSrv := ws.NewServer(ws.Config{Addr: hostPort(cfg.Server.Host, cfg.Server.WSPort)}, sessions)

	slog.Info("atelier starting",
		"version", version,
		"http_port", cfg.Server.HTTPPort,
		"ws_port", cfg.Server.WSPort,
		"storage", storageDir,
		"sandbox_root", guard.Root(),
		"spaces", cfg.Storage.Backend,
		"model", cfg.Agent.Model,
	)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return httpSrv.Run(gctx) })
	g.Go(func() error { return wsSrv.Run(gctx) })
	return g.Wait()
}

func openSpaces(ctx context.Context, cfg *config.Config, storageDir string) (spaces.Store, error) {
	switch cfg.Storage.Backend {
	case "postgres":
		connectCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
		defer cancel()
		store, err := postgres.New(connectCtx, postgres.Config{
			DSN:            cfg.Storage.Postgres.DSN,
			MaxConns:       cfg.Storage.Postgres.MaxConns,
			MigrateOnStart: cfg.Storage.Postgres.Migrate,
		})
		if err != nil {
			return nil, fmt.Errorf("opening postgres space store: %w", err)
		}
		return store, nil
	case "filesystem", "":
		store, err := filesystem.New(filepath.Join(storageDir, spaces.SpacesDir))
		if err != nil {
			return nil, fmt.Errorf("opening space store: %w", err)
		}
		return store, nil
	}
	return nil, errors.New("unknown space store backend " + strconv.Quote(cfg.Storage.Backend))
}

// checkModel asks the backend for its model list and warns when model is
// missing. Backends without a models endpoint are common, so nothing here
// stops the server from starting.
func checkModel(ctx context.Context, p provider.Provider, model string) bool {
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	models, err := p.ListModels(ctx)
	if err != nil {
		slog.Warn("could not list agent models", "provider", p.Name(), "error", err)
		return false
	}
	for _, m := range models {
		if m.ID == model {
			slog.Info("agent model available", "provider", p.Name(), "model", model)
			return true
		}
	}
	slog.Warn("agent model not offered by backend", "provider", p.Name(), "model", model, "offered", len(models))
	return false
}

func hostPort(host string, port int) string {
	return net.JoinHostPort(host, strconv.Itoa(port))
}
