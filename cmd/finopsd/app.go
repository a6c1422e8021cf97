package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"

	"finopstrack/internal/config"
	"finopstrack/internal/core"
	"finopstrack/internal/lease"
	"finopstrack/internal/logging"
	"finopstrack/internal/notify"
	"finopstrack/internal/store"

	"github.com/redis/rueidis"
	"github.com/spf13/cobra"
)

// app wires the shared components every subcommand needs.
type app struct {
	cfg        *config.Config
	logger     *slog.Logger
	store      *store.Store
	engine     *core.Engine
	detector   *core.Detector
	resetter   *core.Resetter
	dispatcher *notify.Dispatcher
	redis      rueidis.Client
}

func newApp(ctx context.Context, cmd *cobra.Command, logOut io.Writer) (*app, error) {
	cfg, err := config.Parse(cmd.Flags())
	if err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	logger := logging.NewWithWriter(logOut, cfg.Log.Level, cfg.Log.Format)
	loc := cfg.Schedule.Location

	storeInst, err := store.Open(ctx, cfg.StateDir)
	if err != nil {
		return nil, fmt.Errorf("open store: %w", err)
	}
	a := &app{cfg: cfg, logger: logger, store: storeInst}

	notifier, err := buildNotifier(cfg, logger)
	if err != nil {
		a.close(ctx)
		return nil, err
	}
	a.dispatcher = notify.NewDispatcher(notifier, logger, loc, cfg.Notification.Timeout)

	var sweepLease core.Lease = lease.NewLocal()
	if cfg.RedisAddr != "" {
		client, err := lease.NewRedisClient(cfg.RedisAddr)
		if err != nil {
			a.close(ctx)
			return nil, err
		}
		a.redis = client
		sweepLease = lease.NewRedis(client, "finopsd:lease:", logger)
		logger.Info("using redis sweep lease", "addr", cfg.RedisAddr)
	}

	a.engine = core.NewEngine(storeInst, logger, loc, core.WithNotifier(a.dispatcher))
	a.detector = core.NewDetector(a.engine, storeInst, sweepLease, core.DetectorConfig{
		OverdueCooldown:     cfg.Schedule.OverdueCooldown,
		LongRunningAfter:    cfg.Schedule.LongRunningAfter,
		LongRunningCooldown: cfg.Schedule.LongRunningCooldown,
	}, logger)
	a.resetter = core.NewResetter(a.engine, storeInst, sweepLease, logger)
	return a, nil
}

// close drains pending notifications and releases connections.
func (a *app) close(ctx context.Context) {
	if a.dispatcher != nil {
		drainCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), a.cfg.ShutdownGrace)
		if err := a.dispatcher.Close(drainCtx); err != nil {
			a.logger.Warn("notifications still in flight at exit", "err", err)
		}
		cancel()
	}
	if a.redis != nil {
		a.redis.Close()
	}
	if a.store != nil {
		if err := a.store.Close(); err != nil {
			a.logger.Error("close store", "err", err)
		}
	}
}

func buildNotifier(cfg *config.Config, logger *slog.Logger) (notify.Notifier, error) {
	directory := notify.NewDirectory(nil)
	if cfg.Notification.DirectoryFile != "" {
		d, err := notify.LoadDirectory(cfg.Notification.DirectoryFile)
		if err != nil {
			return nil, err
		}
		directory = d
	}

	var sinks []notify.Notifier
	if smtpCfg := cfg.Notification.SMTP; smtpCfg.Host != "" {
		n, err := notify.NewSMTPNotifier(notify.SMTPConfig{
			Host:     smtpCfg.Host,
			Port:     smtpCfg.Port,
			Username: smtpCfg.Username,
			Password: smtpCfg.Password,
			From:     smtpCfg.From,
		}, directory, logger)
		if err != nil {
			return nil, err
		}
		sinks = append(sinks, n)
	}
	if bark := cfg.Notification.Bark; bark.Enabled {
		n, err := notify.NewBarkNotifier(bark.URL)
		if err != nil {
			return nil, err
		}
		sinks = append(sinks, n)
	}
	if len(sinks) == 0 {
		logger.Info("no notification channel configured, notifications are logged only")
		return notify.NewLogNotifier(logger), nil
	}
	return notify.NewMultiNotifier(sinks...), nil
}
