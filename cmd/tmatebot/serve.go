package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/Maiori44/tmatebot/cli"
	"github.com/Maiori44/tmatebot/command"
	"github.com/Maiori44/tmatebot/config"
	"github.com/Maiori44/tmatebot/display"
	"github.com/Maiori44/tmatebot/logger"
	"github.com/Maiori44/tmatebot/manager"
	"github.com/Maiori44/tmatebot/output"
	"github.com/Maiori44/tmatebot/process"
	"github.com/Maiori44/tmatebot/server"
)

// shutdownTimeout bounds closing every session on exit.
const shutdownTimeout = 30 * time.Second

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the bot's HTTP API",
	RunE: func(cmd *cobra.Command, args []string) error {
		return serve(cmd.Context())
	},
}

func loadSettings() (*config.Settings, error) {
	if configPath != "" {
		return config.LoadFile(configPath)
	}
	return config.Load()
}

func initLogging(cfg *config.Settings) error {
	path := cfg.LogPath
	if path == "" {
		var err error
		if path, err = logger.DefaultLogPath(); err != nil {
			return err
		}
	}
	if err := logger.Init(path, os.Stderr); err != nil {
		return fmt.Errorf("init logging: %w", err)
	}
	logger.SetDebug(cfg.Debug || debug)
	return nil
}

func serve(ctx context.Context) error {
	cfg, err := loadSettings()
	if err != nil {
		return err
	}
	if err := initLogging(cfg); err != nil {
		return err
	}
	defer logger.Close()
	log := logger.WithComponent("main")

	if err := cli.ValidateRequired(ctx, cli.DefaultPrerequisites(cfg.Binary)); err != nil {
		return err
	}
	if len(cfg.AllowList) == 0 {
		log.Warn("allow list is empty, every request will be refused")
	}

	hub := display.NewHub()
	mgr := manager.New(nil, manager.Options{
		Spawner:    process.NewExecSpawner(cfg.Binary, cfg.Args...),
		Sink:       hub,
		Lines:      cfg.Lines,
		ChunkSize:  cfg.ChunkSize,
		Detector:   output.ClientsGone,
		CloseGrace: cfg.CloseGrace,
	})

	janitor, err := manager.NewJanitor(mgr, manager.JanitorOptions{
		Schedule:    cfg.JanitorSchedule,
		ReapOrphans: cfg.ReapOrphans,
		CommandLine: process.CommandLine(cfg.Binary, cfg.Args),

		Surfaces:         hub,
		SurfaceRetention: cfg.SurfaceRetention,
	})
	if err != nil {
		return err
	}

	auth := command.NewAuthorizer(cfg.AllowList, cfg.PasswordHash)
	bot := command.NewBot(mgr, hub, auth, command.Options{
		DefaultTimeout: cfg.DefaultTimeout,
		MaxTimeout:     cfg.MaxTimeout,
	})

	httpServer := &http.Server{
		Addr:              cfg.ListenAddr,
		Handler:           server.New(bot, mgr, hub, auth).Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	// The first sweep marks processes left behind by a previous run.
	janitor.Sweep(ctx)
	janitor.Start()

	errCh := make(chan error, 1)
	go func() {
		log.Info("listening", "addr", cfg.ListenAddr, "binary", cfg.Binary)
		errCh <- httpServer.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if !errors.Is(err, http.ErrServerClosed) {
			janitor.Stop()
			return fmt.Errorf("http server: %w", err)
		}
	case <-ctx.Done():
		log.Info("shutting down")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		log.Error("http shutdown failed", "error", err)
	}
	janitor.Stop()
	report := mgr.Shutdown(shutdownCtx)
	if len(report) > 0 {
		log.Info("closed remaining sessions", "count", len(report), "failed", report.Failed())
	}
	if report.Failed() > 0 {
		return fmt.Errorf("%d sessions could not be closed", report.Failed())
	}
	return nil
}
