package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"infrapulse/internal/adapter"
	"infrapulse/internal/config"
	"infrapulse/internal/handler"
	"infrapulse/internal/logging"
	"infrapulse/internal/metrics"
	"infrapulse/internal/repository/sqlite"
	"infrapulse/internal/scheduler"
	"infrapulse/internal/service"
	"infrapulse/internal/vault"
)

func main() {
	configPath := flag.String("config", "", "path to config file (overrides INFRAPULSE_CONFIG)")
	listen := flag.String("listen", "", "HTTP listen address (overrides config)")
	flag.Parse()

	if err := run(*configPath, *listen); err != nil {
		fmt.Fprintf(os.Stderr, "infrapulse: %v\n", err)
		os.Exit(1)
	}
}

func run(configPath, listen string) error {
	var (
		cfg  *config.Config
		from string
		err  error
	)
	if configPath != "" {
		cfg, from, err = config.LoadFromPath(configPath)
	} else {
		cfg, from, err = config.Load()
	}
	if err != nil {
		return err
	}
	if listen != "" {
		cfg.Listen = listen
	}

	log := logging.New(cfg.Log)
	if from != "" {
		log.Info().Str("path", from).Msg("config loaded")
	} else {
		log.Info().Msg("no config file found, using defaults")
	}

	repo, err := sqlite.New(cfg.DBPath)
	if err != nil {
		return fmt.Errorf("open database: %w", err)
	}
	defer repo.Close()
	log.Info().Str("path", cfg.DBPath).Msg("database opened")

	key, err := cfg.VaultKeyBytes()
	if err != nil {
		return fmt.Errorf("vault key: %w", err)
	}
	v, err := vault.New(key, repo)
	if err != nil {
		return fmt.Errorf("init vault: %w", err)
	}

	registry := adapter.NewRegistry(log)
	endpoints := service.NewEndpoints(repo, v, registry, log)
	reconciler := service.NewReconciler(repo, cfg.Scheduler.StaleAfter.Std(), log)
	fabric := service.NewFabric(repo, log)
	m := metrics.New()

	sched := scheduler.New(endpoints, reconciler, registry, m, scheduler.Options{
		Tick:           cfg.Scheduler.Tick.Std(),
		Workers:        int64(cfg.Scheduler.WorkerPoolSize),
		BackoffInitial: cfg.Scheduler.BackoffInitial.Std(),
		BackoffMax:     cfg.Scheduler.BackoffMax.Std(),
	}, log)

	api := handler.New(endpoints, fabric, repo, sched, m, handler.Config{
		AdminToken:  cfg.Auth.AdminToken,
		ViewerToken: cfg.Auth.ViewerToken,
	}, log)

	server := &http.Server{
		Addr:         cfg.Listen,
		Handler:      api.Routes(),
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	schedDone := make(chan error, 1)
	go func() { schedDone <- sched.Run(ctx) }()

	serveErr := make(chan error, 1)
	go func() {
		log.Info().Str("addr", cfg.Listen).Msg("server listening")
		if err := server.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
	}()

	select {
	case err := <-serveErr:
		stop()
		<-schedDone
		return fmt.Errorf("serve: %w", err)
	case <-ctx.Done():
	}

	log.Info().Msg("shutting down")
	stop()
	<-schedDone

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("server shutdown")
	}

	log.Info().Msg("server stopped")
	return nil
}
