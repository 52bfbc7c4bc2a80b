package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/user/termdeck/internal/api"
	"github.com/user/termdeck/internal/config"
	"github.com/user/termdeck/internal/db"
	"github.com/user/termdeck/internal/history"
	"github.com/user/termdeck/internal/hub"
	"github.com/user/termdeck/internal/pty"
	"github.com/user/termdeck/internal/server"
)

func main() {
	if err := run(os.Args[1:]); err != nil {
		slog.Error("termdeck exited with error", "error", err)
		os.Exit(1)
	}
}

func run(args []string) error {
	cfg, err := config.Load(args)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	level, err := cfg.SlogLevel()
	if err != nil {
		return err
	}
	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: level}))
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	database, err := db.Open(ctx, cfg.DBPath)
	if err != nil {
		return err
	}
	defer database.Close()

	recorder := history.NewRecorder(db.NewTerminalRepo(database.SQL()), logger)
	h := hub.New(cfg.Token, nil)
	h.SetBatchInterval(cfg.OutputBatch)

	registry := pty.NewRegistry(pty.NewNativeBackend(), pty.MultiSink(h, recorder), pty.Options{
		Shell:          cfg.Shell,
		ShellArgs:      cfg.ShellArgv,
		Term:           cfg.Term,
		ScrollbackSize: cfg.ScrollbackBytes,
		Logger:         logger,
	})
	terminals := history.Track(registry, recorder)
	h.SetController(terminals)

	router := api.NewRouter(api.Options{
		Token:        cfg.Token,
		Terminals:    terminals,
		History:      recorder,
		Notifier:     h,
		StatsPath:    cfg.StatsPath,
		Pricing:      cfg.Pricing,
		ScanExcludes: cfg.ScanExcludes,
		MaxReadBytes: cfg.MaxReadBytes,
	})

	if cfg.PrintToken {
		fmt.Println(cfg.Token)
	}
	fmt.Printf("\ntermdeck running at http://localhost:%d?token=%s\n\n", cfg.Port, cfg.Token)
	logger.Info("terminal history enabled", "db", cfg.DBPath, "run", recorder.RunID())

	go h.Run(ctx)

	srv := server.New(cfg.Port, h.HandleWebSocket, router, logger)
	serveErr := srv.Start(ctx)

	registry.Shutdown()
	if err := recorder.Shutdown(context.Background()); err != nil {
		logger.Warn("failed to close terminal history", "error", err)
	}
	return serveErr
}
