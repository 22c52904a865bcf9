// Package main provides the entry point for the tunnels server.
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/txn2/tunnels/internal/server"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

type serverOptions struct {
	configPath  string
	address     string
	showVersion bool
}

func parseFlags() serverOptions {
	opts := serverOptions{}
	flag.StringVar(&opts.configPath, "config", "", "Path to configuration file")
	flag.StringVar(&opts.address, "address", "", "Server address (overrides config)")
	flag.BoolVar(&opts.showVersion, "version", false, "Show version and exit")
	flag.Parse()
	return opts
}

func setupSignalHandler() context.Context {
	ctx, cancel := context.WithCancel(context.Background())
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		cancel()
	}()
	return ctx
}

func loadConfig(opts serverOptions) (*server.Config, error) {
	if opts.configPath == "" {
		cfg := server.DefaultConfig()
		cfg.Cookies.SigningKey = os.Getenv("TUNNELS_SIGNING_KEY")
		if cfg.Cookies.SigningKey == "" {
			return nil, fmt.Errorf("either -config or TUNNELS_SIGNING_KEY is required")
		}
		return cfg, nil
	}
	return server.LoadConfig(opts.configPath)
}

func run() error {
	opts := parseFlags()

	if opts.showVersion {
		fmt.Printf("tunnels version %s\n", server.Version)
		return nil
	}

	cfg, err := loadConfig(opts)
	if err != nil {
		return err
	}
	if opts.address != "" {
		cfg.Server.Address = opts.address
	}

	steps, err := checkoutSteps()
	if err != nil {
		return fmt.Errorf("building checkout tunnel: %w", err)
	}

	logger := slog.New(slog.NewJSONHandler(os.Stderr, nil))
	slog.SetDefault(logger)

	srv, err := server.New(
		server.WithConfig(cfg),
		server.WithLogger(logger),
		server.WithTunnel("checkout", steps...),
	)
	if err != nil {
		return fmt.Errorf("creating server: %w", err)
	}
	defer func() { _ = srv.Close() }()

	return srv.Run(setupSignalHandler())
}
