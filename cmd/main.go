/*
Package main is the entry point for the messenger server.

It loads configuration, initializes the global logging system, opens the
persistence store, starts the protocol listener and the ops HTTP surface, and
handles operating system interrupt signals (SIGINT, SIGTERM) for a graceful
shutdown.
*/
package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/spf13/pflag"

	"messenger/internal/app/session"
	"messenger/internal/app/store"
	"messenger/internal/configs"
	"messenger/internal/pkg/logx"
	"messenger/internal/server"
)

func main() {
	configPath := pflag.StringP("config", "c", "", "path to the YAML configuration file")
	port := pflag.IntP("port", "p", 0, "override the protocol port")
	httpPort := pflag.Int("http-port", 0, "override the ops HTTP port")
	pflag.Parse()

	cfg, err := configs.LoadConfig(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "FATAL: Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	if *port != 0 {
		cfg.Port = *port
	}
	if *httpPort != 0 {
		cfg.HTTPPort = *httpPort
	}

	if err := initLogging(cfg); err != nil {
		fmt.Fprintf(os.Stderr, "FATAL: Failed to initialize logging: %v\n", err)
		os.Exit(1)
	}

	logx.Logger().Info().
		Str("environment", cfg.Environment).
		Str("server_name", cfg.ServerName).
		Int("port", cfg.Port).
		Int("http_port", cfg.HTTPPort).
		Strs("allowed_origins", cfg.AllowedOrigins).
		Msg("Configuration loaded successfully")

	// Create a context that listens for the interrupt signal from the OS.
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	st, err := store.Open(cfg.DatabasePath())
	if err != nil {
		logx.Fatal(err, "Failed to open the persistence store")
	}
	defer st.Close()

	sm, err := session.NewManager(st, cfg)
	if err != nil {
		logx.Fatal(err, "Failed to initialize the session manager")
	}

	errCh := make(chan error, 2)

	go func() {
		errCh <- server.NewTCPServer(sm, cfg).ListenAndServe(ctx)
	}()
	go func() {
		errCh <- server.NewHTTPServer(sm, cfg).ListenAndServe(ctx)
	}()

	running := 2
	select {
	case <-ctx.Done():
		logx.Info("Received shutdown signal. Starting graceful shutdown...")
	case err := <-errCh:
		running--
		if err != nil {
			logx.Error(err, "Server failed")
		}
		stop()
	}

	// Both listeners watch ctx; wait for them to wind down.
	for ; running > 0; running-- {
		if err := <-errCh; err != nil {
			logx.Error(err, "Server shut down with an error")
		}
	}
	logx.Info("Server gracefully stopped.")
}

// initLogging wires the global logger, teeing into the configured log file
// when one is set.
func initLogging(cfg *configs.AppConfig) error {
	logPath := cfg.LogFilePath()
	if logPath == "" {
		logx.InitGlobalLogger(cfg.Environment == "development")
		return nil
	}

	if err := os.MkdirAll(filepath.Dir(logPath), 0o755); err != nil {
		return fmt.Errorf("failed to create log directory: %w", err)
	}

	f, err := os.OpenFile(logPath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return fmt.Errorf("failed to open log file %s: %w", logPath, err)
	}

	logx.InitGlobalLoggerTo(io.MultiWriter(os.Stderr, f), cfg.Environment == "development")
	return nil
}
