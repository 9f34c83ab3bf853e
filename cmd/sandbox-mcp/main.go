// Command sandbox-mcp serves the code_exec tool set over MCP stdio, for
// MCP clients that spawn their tool servers as subprocesses.
//
// Logs go to stderr; stdout carries the protocol.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/rhuss/atelier/pkg/debug"
	"github.com/rhuss/atelier/pkg/pathguard"
	"github.com/rhuss/atelier/pkg/replicate"
	"github.com/rhuss/atelier/pkg/sandbox"
	"github.com/rhuss/atelier/pkg/tools/builtins/codeexec"
	"github.com/rhuss/atelier/pkg/tools/mcp"
)

var version = "dev"

type options struct {
	root       string
	storageDir string
	scriptsDir string
	timeout    time.Duration
	logLevel   string
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var opts options
	cmd := &cobra.Command{
		Use:           "sandbox-mcp",
		Short:         "Serve the code_exec tools over MCP stdio",
		Version:       version,
		SilenceErrors: true,
		SilenceUsage:  true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			debug.Init(debug.Options{Level: opts.logLevel, Output: os.Stderr})
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			return run(ctx, opts)
		},
	}
	f := cmd.Flags()
	f.StringVar(&opts.root, "root", ".", "directory sandboxed code is confined to")
	f.StringVar(&opts.storageDir, "storage-dir", "data", "artifact directory, relative to --root")
	f.StringVar(&opts.scriptsDir, "scripts-dir", filepath.Join("skills", "ai_models", "scripts"), "helper scripts served by read_file and list_tools")
	f.DurationVar(&opts.timeout, "timeout", sandbox.DefaultTimeout, "limit for a single exec_code run")
	f.StringVar(&opts.logLevel, "log-level", "INFO", "ERROR, WARN, INFO, DEBUG or TRACE")
	return cmd
}

func run(ctx context.Context, opts options) error {
	guard, err := pathguard.New(opts.root)
	if err != nil {
		return fmt.Errorf("guarding sandbox root: %w", err)
	}
	storageDir := filepath.Join(guard.Root(), opts.storageDir)
	if err := os.MkdirAll(storageDir, 0o755); err != nil {
		return fmt.Errorf("creating storage directory: %w", err)
	}

	token := os.Getenv("REPLICATE_API_TOKEN")
	if token == "" {
		slog.Warn("REPLICATE_API_TOKEN not set, model runs will fail")
	}
	runner := replicate.NewClient(os.Getenv("ATELIER_REPLICATE_URL"), token,
		replicate.WithHTTPClient(&http.Client{Timeout: 10 * time.Minute}),
	)

	sb, err := sandbox.New(sandbox.Config{
		Guard:      guard,
		Runner:     runner,
		Saver:      replicate.NewDownloader(storageDir, nil),
		StorageDir: storageDir,
		Timeout:    opts.timeout,
	})
	if err != nil {
		return err
	}

	server, err := mcp.NewServer(codeexec.New(sb, opts.scriptsDir), version)
	if err != nil {
		return fmt.Errorf("creating MCP server: %w", err)
	}
	slog.Info("sandbox-mcp serving on stdio", "root", guard.Root(), "storage", storageDir)
	return mcp.ServeStdio(ctx, server)
}
