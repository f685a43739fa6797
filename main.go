package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"carepool/internal/api"
	"carepool/internal/broadcast"
	"carepool/internal/care"
	"carepool/internal/config"
	"carepool/internal/daemon"
	"carepool/internal/database"
	"carepool/internal/database/migrations"
	"carepool/internal/group"
	"carepool/internal/logger"
	"carepool/internal/notify"
	"carepool/internal/openblock"
	"carepool/internal/push"
	"carepool/internal/schedule"
	"carepool/internal/session"
	"carepool/internal/telemetry"
)

func main() {
	if err := run(); err != nil {
		slog.Error("fatal", slog.String("error", err.Error()))
		os.Exit(1)
	}
}

func run() error {
	cfg := config.NewConfig()
	log := logger.New(cfg)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	tel, err := telemetry.New(cfg.Telemetry)
	if err != nil {
		return err
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := tel.Shutdown(shutdownCtx); err != nil {
			log.Warn("telemetry shutdown failed", slog.String("error", err.Error()))
		}
	}()

	db := database.NewDatabase()
	if err := db.Connect(ctx, cfg.DatabaseURL()); err != nil {
		return err
	}
	defer db.Close()

	// Development convenience; production runs the migrate command.
	if cfg.Server.Environment == config.EnvironmentDevelopment {
		if err := migrations.NewMigrator(db.Pool, log).Up(ctx, 0); err != nil {
			return err
		}
	}

	var broadcaster notify.Broadcaster
	if cfg.Redis.Enabled {
		publisher := broadcast.NewPublisher(log, broadcast.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		if err := publisher.Ping(ctx); err != nil {
			return err
		}
		defer publisher.Close()
		broadcaster = publisher
	}

	var pushSender notify.PushSender
	if cfg.Push.Enabled {
		sender, err := push.NewSender(ctx, log, cfg.Push.CredentialsFile)
		if err != nil {
			return err
		}
		pushSender = sender
	}

	notifier := notify.NewNotifier(log, &db, broadcaster, pushSender)

	server := api.NewServer(cfg.Server, api.Deps{
		Logger:     log,
		Sessions:   session.NewManager(log, &db),
		Groups:     group.NewManager(log, &db, notifier),
		Care:       care.NewManager(log, &db, notifier),
		Schedule:   schedule.NewManager(log, &db, notifier),
		OpenBlocks: openblock.NewManager(log, &db, notifier),
		Notifier:   notifier,
		Telemetry:  tel,
		Ping:       db.Ping,
	})

	daemons := daemon.NewManager(log)
	daemons.Add("session-cleanup", daemon.SessionCleanup(log, &db, time.Hour))
	daemons.Start(ctx)

	errCh := make(chan error, 1)
	go func() {
		errCh <- server.Listen(cfg.Server.Host + ":" + cfg.Server.Port)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	log.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Warn("server shutdown failed", slog.String("error", err.Error()))
	}
	daemons.Wait()
	return nil
}
