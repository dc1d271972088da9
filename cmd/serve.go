package cmd

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/CodeMonkeyCybersecurity/replayer/internal/api"
	"github.com/CodeMonkeyCybersecurity/replayer/internal/config"
	"github.com/CodeMonkeyCybersecurity/replayer/internal/telemetry"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the replay HTTP API server",
	Long: `Start the HTTP API server.

This server provides:
- POST /api/v1/request, /api/v1/probe, /api/v1/diff
- GET /api/v1/probe/stream (websocket, one frame per candidate)
- GET/POST/DELETE /api/v1/abort
- GET /api/v1/pages, /api/v1/forms
- /health and Prometheus /metrics

Set REPLAYER_API_KEY to require a bearer token on /api/v1.

Example:
  replayer serve --port 8080
  replayer serve --config replayer.toml --tls-cert cert.pem --tls-key key.pem
`,
	RunE: runServe,
}

var (
	tlsCert string
	tlsKey  string
)

func init() {
	rootCmd.AddCommand(serveCmd)

	defaults := config.Default().Server
	serveCmd.Flags().Int("port", defaults.Port, "Port to listen on")
	serveCmd.Flags().String("host", defaults.Host, "Host to bind to")
	serveCmd.Flags().Bool("cors", defaults.EnableCORS, "Enable CORS for browser extensions and local tools")
	serveCmd.Flags().StringVar(&tlsCert, "tls-cert", "", "Path to TLS certificate (optional)")
	serveCmd.Flags().StringVar(&tlsKey, "tls-key", "", "Path to TLS private key (optional)")
	viper.BindPFlag("server.port", serveCmd.Flags().Lookup("port"))
	viper.BindPFlag("server.host", serveCmd.Flags().Lookup("host"))
	viper.BindPFlag("server.cors", serveCmd.Flags().Lookup("cors"))
}

func runServe(cmd *cobra.Command, args []string) error {
	if tlsCert != "" || tlsKey != "" {
		if tlsCert == "" || tlsKey == "" {
			return fmt.Errorf("both --tls-cert and --tls-key must be provided for TLS")
		}
		if _, err := os.Stat(tlsCert); err != nil {
			return fmt.Errorf("TLS cert file not found or not readable: %w", err)
		}
		if _, err := os.Stat(tlsKey); err != nil {
			return fmt.Errorf("TLS key file not found or not readable: %w", err)
		}
	}

	serverLog := log.WithComponent("api-server")
	metrics := telemetry.NewMetrics()

	orch, err := newOrchestrator(cmd.Context(), metrics)
	if err != nil {
		return err
	}
	defer orch.Close()

	serverLog.Infow("Starting replay API server",
		"host", cfg.Server.Host,
		"port", cfg.Server.Port,
		"cors_enabled", cfg.Server.EnableCORS,
		"tls_enabled", tlsCert != "",
		"auth_enabled", cfg.Security.APIKey != "",
		"database", cfg.Database.Driver,
		"config_file", viper.ConfigFileUsed(),
	)
	if cfg.Security.APIKey == "" && cfg.Server.Host != "127.0.0.1" && cfg.Server.Host != "localhost" {
		serverLog.Warnw("API is reachable without authentication",
			"host", cfg.Server.Host,
			"recommendation", "Set REPLAYER_API_KEY",
		)
	}

	if os.Getenv("GIN_MODE") == "" {
		gin.SetMode(gin.ReleaseMode)
	}
	router := api.NewServer(orch, metrics.Handler(), cfg, log).Router()

	addr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)
	server := &http.Server{
		Addr:              addr,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
		// Probes and the websocket stream run longer than a plain request.
		WriteTimeout:   0,
		IdleTimeout:    120 * time.Second,
		MaxHeaderBytes: 1 << 20,
	}

	serverErrors := make(chan error, 1)
	go func() {
		serverLog.Infow("HTTP server listening",
			"address", addr,
			"tls", tlsCert != "",
		)
		if tlsCert != "" && tlsKey != "" {
			serverErrors <- server.ListenAndServeTLS(tlsCert, tlsKey)
		} else {
			serverErrors <- server.ListenAndServe()
		}
	}()

	shutdown := make(chan os.Signal, 1)
	signal.Notify(shutdown, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(shutdown)

	select {
	case err := <-serverErrors:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("server error: %w", err)

	case sig := <-shutdown:
		serverLog.Infow("Received shutdown signal",
			"signal", sig.String(),
		)

		ctx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer cancel()

		if err := server.Shutdown(ctx); err != nil {
			serverLog.Errorw("Graceful shutdown failed",
				"error", err,
			)
			if err := server.Close(); err != nil {
				return fmt.Errorf("failed to stop server: %w", err)
			}
		}
		serverLog.Infow("Server stopped gracefully")
	}
	return nil
}
