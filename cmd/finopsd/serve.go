package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"finopstrack/internal/api"
	"finopstrack/internal/core"
	finopsmcp "finopstrack/internal/mcp"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the HTTP API, the MCP endpoint and the periodic sweeps",
	RunE:  runServe,
}

func runServe(cmd *cobra.Command, args []string) error {
	withStdio, _ := cmd.Flags().GetBool("mcp-stdio")

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	logOut := os.Stdout
	if withStdio {
		logOut = os.Stderr
	}
	a, err := newApp(ctx, cmd, logOut)
	if err != nil {
		return err
	}
	defer a.close(ctx)
	logger := a.logger

	scheduler := core.NewScheduler(a.detector, a.resetter, logger, a.cfg.Schedule.Location)
	if err := scheduler.Register(core.ScheduleSpec{
		SLACron:   a.cfg.Schedule.SLACron,
		ResetCron: a.cfg.Schedule.ResetCron,
	}); err != nil {
		return err
	}

	mcpServer := finopsmcp.NewMCPServer(a.engine, a.detector, a.resetter, logger, version)
	server := api.NewServer(a.cfg.Server.Addr, api.Deps{
		Engine:    a.engine,
		Detector:  a.detector,
		Resetter:  a.resetter,
		Scheduler: scheduler,
		Store:     a.store,
		MCP:       mcpServer.HTTPHandler(),
		Logger:    logger,
		AuthToken: a.cfg.Server.AuthToken,
	})

	// Catch up on any reset missed while the daemon was down.
	if _, err := a.resetter.ResetDue(ctx); err != nil {
		logger.Error("startup daily reset", "err", err)
	}

	g, gctx := errgroup.WithContext(ctx)
	scheduler.Start(gctx)

	g.Go(func() error {
		if err := server.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	if withStdio {
		g.Go(func() error {
			if err := mcpServer.RunStdio(gctx); err != nil && !errors.Is(err, context.Canceled) {
				return err
			}
			return nil
		})
	}
	g.Go(func() error {
		<-gctx.Done()
		logger.Info("shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), a.cfg.ShutdownGrace)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			logger.Error("server shutdown", "err", err)
		}
		select {
		case <-scheduler.Stop().Done():
		case <-time.After(a.cfg.ShutdownGrace):
			logger.Warn("scheduler stop timed out")
		}
		return nil
	})

	err = g.Wait()
	logger.Info("shutdown complete")
	return err
}
