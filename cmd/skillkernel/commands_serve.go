package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"

	"github.com/arcweave/skillkernel/internal/transport"
	"github.com/arcweave/skillkernel/internal/watcher"
)

// buildServeCmd creates "serve": loads configuration, starts the live-wire
// watcher, and serves JSON-RPC over whichever of stdio/SSE config enables
// until a shutdown signal arrives.
func buildServeCmd(configPath *string) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the skill server (stdio and/or SSE JSON-RPC)",
		Long: `Start skillkernel in server mode:

1. Scan the configured skill root and build the routing index
2. Start the live-wire watcher so skill edits reindex without a restart
3. Serve JSON-RPC over stdio, SSE, or both (per transport config)

Graceful shutdown runs on SIGINT/SIGTERM.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd.Context(), *configPath)
		},
	}
	return cmd
}

func runServe(ctx context.Context, configPath string) error {
	rt, err := buildRuntime(configPath)
	if err != nil {
		return err
	}
	defer rt.Close()

	ctx, cancel := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	var broadcaster watcher.Broadcaster
	var stdioServer *transport.StdioServer
	var sseServer *transport.SSEServer
	var httpServer *http.Server
	var metricsServer *http.Server

	if rt.cfg.Transport.StdioEnabled() {
		stdioServer = transport.NewStdioServer(rt.handler)
		broadcaster = stdioServer
	}
	if rt.cfg.Transport.SSEAddr != "" {
		sseServer = transport.NewSSEServer(rt.handler)
		if broadcaster == nil {
			broadcaster = sseServer
		}
	}

	w := rt.newWatcher(broadcaster)
	if err := w.Start(ctx); err != nil {
		return fmt.Errorf("start watcher: %w", err)
	}
	defer w.Close()

	rt.engine.StartSweeper(ctx, rt.cfg.Chunk.TTL())

	if rt.cfg.Observability.MetricsAddr != "" {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.Handler())
		metricsServer = &http.Server{Addr: rt.cfg.Observability.MetricsAddr, Handler: mux}
		go func() {
			slog.Info("metrics endpoint listening", "addr", rt.cfg.Observability.MetricsAddr)
			if err := metricsServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				slog.Error("metrics endpoint stopped", "error", err)
			}
		}()
	}

	if rt.cfg.Cron.Enabled {
		go func() {
			if err := rt.runCronReindexSweep(ctx); err != nil {
				slog.Error("cron reindex sweep stopped", "error", err)
			}
		}()
	}

	errCh := make(chan error, 2)
	running := 0

	if stdioServer != nil {
		running++
		go func() { errCh <- stdioServer.Serve(ctx) }()
	}
	if sseServer != nil {
		running++
		mux := http.NewServeMux()
		mux.HandleFunc("/sse", sseServer.StreamHandler())
		mux.HandleFunc("/rpc", sseServer.RequestHandler())
		httpServer = &http.Server{Addr: rt.cfg.Transport.SSEAddr, Handler: mux}
		go func() {
			slog.Info("sse transport listening", "addr", rt.cfg.Transport.SSEAddr)
			if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				errCh <- err
				return
			}
			errCh <- nil
		}()
	}

	select {
	case <-ctx.Done():
		slog.Info("shutdown signal received")
	case err := <-errCh:
		if err != nil {
			return err
		}
	}

	if httpServer != nil {
		_ = httpServer.Close()
	}
	if metricsServer != nil {
		_ = metricsServer.Close()
	}
	for i := 0; i < running; i++ {
		<-errCh
	}
	return nil
}
