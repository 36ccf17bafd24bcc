package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/scrypster/riya/internal/notify"
	"github.com/scrypster/riya/internal/observe"
	"github.com/scrypster/riya/internal/server"
	"github.com/scrypster/riya/web/handlers"
)

func newServeCmd(c *cli) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API, analysis workers and engagement scheduler",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return c.serve(ctx)
		},
	}
}

func (c *cli) serve(ctx context.Context) error {
	logger := c.logger

	// The meter provider must be installed before the engine resolves its
	// metrics.
	shutdownMetrics, err := observe.InitProvider()
	if err != nil {
		return err
	}
	defer func() {
		if err := shutdownMetrics(context.Background()); err != nil {
			logger.Warn().Err(err).Msg("metrics shutdown error")
		}
	}()

	var hub *handlers.WebSocketHub
	dispatchers := notify.Multi{}
	if c.cfg.Notify.WebSocket {
		hub = handlers.NewWebSocketHub(c.cfg.Security.AllowedOrigins, logger)
		dispatchers = append(dispatchers, hub)
	}
	if c.cfg.Notify.Outbox {
		dispatchers = append(dispatchers, notify.NewFileDispatcher(c.cfg.OutboxDir()))
	}
	dispatchers = append(dispatchers, notify.NewLogDispatcher(logger))

	rt, err := c.open(ctx, dispatchers)
	if err != nil {
		return err
	}
	defer func() { _ = rt.Close() }()
	eng := rt.engine

	if err := eng.Start(ctx); err != nil {
		return err
	}

	if hub != nil {
		sub := server.ForwardStageChanges(eng.Bus(), hub)
		defer eng.Bus().Unsubscribe(sub)
	}

	if c.cfg.Notify.Watch {
		inbox := notify.NewInbox(c.cfg.EventsDir(), logger)
		inbox.Handle(notify.EventSessionEnded, func(ctx context.Context, ev notify.Event) error {
			_, err := eng.EndSession(ctx, ev.SessionID)
			return err
		})
		run, err := inbox.Listen()
		if err != nil {
			return err
		}
		inboxCtx, stopInbox := context.WithCancel(ctx)
		inboxDone := make(chan struct{})
		go func() {
			defer close(inboxDone)
			run(inboxCtx)
		}()
		defer func() {
			stopInbox()
			<-inboxDone
		}()
	}

	if c.cfg.Backup.Enabled {
		svc, err := c.backupService()
		if err != nil {
			return err
		}
		go func() {
			if err := svc.Run(ctx); err != nil {
				logger.Error().Err(err).Msg("backup service stopped")
			}
		}()
	}

	addr, err := server.Start(ctx, c.cfg, server.Deps{
		Engine: eng,
		Users:  rt.repo,
		Hub:    hub,
		Logger: logger,
	})
	if err != nil {
		return err
	}
	logger.Info().Str("addr", addr).Str("storage", c.cfg.Storage.Engine).Str("llm", c.cfg.LLM.Provider).Msg("riya running")

	<-ctx.Done()
	logger.Info().Msg("shutting down gracefully")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), c.cfg.Engine.ShutdownTimeout)
	defer cancel()
	if err := eng.Shutdown(shutdownCtx); err != nil {
		logger.Warn().Err(err).Msg("engine shutdown incomplete")
	}
	return nil
}
