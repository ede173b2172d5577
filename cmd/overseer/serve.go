package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/alekspetrov/overseer/internal/api"
	"github.com/alekspetrov/overseer/internal/automation"
	"github.com/alekspetrov/overseer/internal/config"
	"github.com/alekspetrov/overseer/internal/cron"
	"github.com/alekspetrov/overseer/internal/engine"
	"github.com/alekspetrov/overseer/internal/logging"
	"github.com/alekspetrov/overseer/internal/orchestrator"
	"github.com/alekspetrov/overseer/internal/poller"
	"github.com/alekspetrov/overseer/internal/remote"
	"github.com/alekspetrov/overseer/internal/store"
)

func newServeCmd() *cobra.Command {
	var configPath string

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the engine and API server",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(configPath)
		},
	}
	cmd.Flags().StringVarP(&configPath, "config", "c", "", "config file path (default ~/.overseer/config.yaml)")
	return cmd
}

func runServe(configPath string) error {
	if configPath == "" {
		configPath = config.DefaultPath()
	}
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	if err := logging.Init(cfg.Logging); err != nil {
		return fmt.Errorf("failed to initialize logging: %w", err)
	}
	log := logging.WithComponent("serve")

	st, err := store.Open(cfg.Store.Path)
	if err != nil {
		return fmt.Errorf("failed to open store: %w", err)
	}
	defer func() { _ = st.Close() }()
	log.Info("opened state store", "path", cfg.Store.Path)

	resolver, err := config.NewResolver(context.Background(), st)
	if err != nil {
		return fmt.Errorf("failed to initialize settings resolver: %w", err)
	}

	client := remote.NewHTTPClient(cfg.Remote.BaseURL, cfg.Remote.APIKey)
	orch := orchestrator.New(st, client, resolver)

	eng := engine.New()
	eng.Register(poller.NewActiveLoop(st, client, resolver))
	eng.Register(poller.NewIdleLoop(st, client, resolver))
	eng.Register(poller.NewPRStatusLoop(st, client, resolver))
	eng.Register(automation.New(st, client, resolver))
	eng.Register(cron.NewScheduler(st, orch))
	eng.Register(orchestrator.NewBackgroundLoop(orch))
	eng.Start()
	defer eng.Stop()

	server := api.NewServer(st, orch, resolver)
	httpServer := &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
		Handler:      server.Router(),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 60 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Info("starting api server", "addr", httpServer.Addr)
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-errCh:
		return fmt.Errorf("http server error: %w", err)
	case sig := <-sigCh:
		log.Info("shutting down", "signal", sig.String())
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		log.Error("http shutdown error", "error", err)
	}
	return nil
}

func newInitCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "init",
		Short: "Write the default configuration file",
		RunE: func(cmd *cobra.Command, args []string) error {
			path := config.DefaultPath()
			if _, err := os.Stat(path); err == nil {
				return fmt.Errorf("config already exists at %s", path)
			}
			if err := config.Save(config.DefaultConfig(), path); err != nil {
				return fmt.Errorf("failed to write config: %w", err)
			}
			fmt.Printf("Wrote default config to %s\n", path)
			return nil
		},
	}
}
