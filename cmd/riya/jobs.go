package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/scrypster/riya/internal/notify"
)

// withRuntime opens the store and engine, runs fn and closes both.
func (c *cli) withRuntime(ctx context.Context, dispatcher notify.Dispatcher, fn func(*runtime) error) error {
	rt, err := c.open(ctx, dispatcher)
	if err != nil {
		return err
	}
	defer func() {
		if err := rt.Close(); err != nil {
			c.logger.Warn().Err(err).Msg("failed to close store")
		}
	}()
	return fn(rt)
}

func newDispatchCmd(c *cli) *cobra.Command {
	var outbox bool
	cmd := &cobra.Command{
		Use:   "dispatch",
		Short: "Deliver every due engagement trigger once",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			dispatchers := notify.Multi{notify.NewLogDispatcher(c.logger)}
			if outbox || c.cfg.Notify.Outbox {
				dispatchers = append(dispatchers, notify.NewFileDispatcher(c.cfg.OutboxDir()))
			}
			return c.withRuntime(cmd.Context(), dispatchers, func(rt *runtime) error {
				summary, err := rt.engine.Scheduler.DispatchDue(cmd.Context())
				if err != nil {
					return err
				}
				return printJSON(cmd.OutOrStdout(), summary)
			})
		},
	}
	cmd.Flags().BoolVar(&outbox, "outbox", false, "also write notifications to the outbox directory")
	return cmd
}

func newPredictCmd(c *cli) *cobra.Command {
	return &cobra.Command{
		Use:   "predict [user_id]",
		Short: "Propose engagement triggers for one user or every user",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.withRuntime(cmd.Context(), nil, func(rt *runtime) error {
				if len(args) == 1 {
					triggers, err := rt.engine.Predictor.PredictUser(cmd.Context(), args[0])
					if err != nil {
						return err
					}
					return printJSON(cmd.OutOrStdout(), triggers)
				}
				summary, err := rt.engine.Scheduler.Predict(cmd.Context())
				if err != nil {
					return err
				}
				return printJSON(cmd.OutOrStdout(), summary)
			})
		},
	}
}

func newDepthCmd(c *cli) *cobra.Command {
	var recompute bool
	cmd := &cobra.Command{
		Use:   "depth <user_id>",
		Short: "Show or recompute a user's relationship depth",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.withRuntime(cmd.Context(), nil, func(rt *runtime) error {
				get := rt.engine.Depth.Get
				if recompute {
					get = rt.engine.Depth.Recompute
				}
				depth, err := get(cmd.Context(), args[0])
				if err != nil {
					return err
				}
				return printJSON(cmd.OutOrStdout(), depth)
			})
		},
	}
	cmd.Flags().BoolVar(&recompute, "recompute", true, "recompute from history instead of reading the stored value")
	return cmd
}

func newRescoreCmd(c *cli) *cobra.Command {
	return &cobra.Command{
		Use:   "rescore <user_id>",
		Short: "Re-run confidence scoring over a user's memories",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.withRuntime(cmd.Context(), nil, func(rt *runtime) error {
				summary, err := rt.engine.Confidence.RescoreUser(cmd.Context(), args[0])
				if err != nil {
					return err
				}
				return printJSON(cmd.OutOrStdout(), summary)
			})
		},
	}
}

func newEndSessionCmd(c *cli) *cobra.Command {
	var (
		userID string
		direct bool
	)
	cmd := &cobra.Command{
		Use:   "end-session <session_id>",
		Short: "End a session so its transcript is analyzed",
		Long: `End a session so its transcript is analyzed.

By default a session_ended event file is written to the events directory,
where a running "riya serve" picks it up. With --direct the session is
ended against the store and analyzed in this process.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			sessionID := args[0]
			if !direct {
				if err := notify.NewEventWriter(c.cfg.EventsDir()).SessionEnded(sessionID, userID); err != nil {
					return fmt.Errorf("write session event: %w", err)
				}
				c.logger.Info().Str("session_id", sessionID).Str("dir", c.cfg.EventsDir()).Msg("session_ended event written")
				return nil
			}
			return c.withRuntime(cmd.Context(), nil, func(rt *runtime) error {
				ctx := cmd.Context()
				if err := rt.engine.Start(ctx); err != nil {
					return err
				}
				s, err := rt.engine.EndSession(ctx, sessionID)
				if err != nil {
					_ = rt.engine.Shutdown(ctx)
					return err
				}
				// Shutdown drains the queued analysis job.
				if err := rt.engine.Shutdown(ctx); err != nil {
					return err
				}
				return printJSON(cmd.OutOrStdout(), s)
			})
		},
	}
	cmd.Flags().StringVar(&userID, "user", "", "user the session belongs to (recorded in the event)")
	cmd.Flags().BoolVar(&direct, "direct", false, "end and analyze the session in this process")
	return cmd
}
