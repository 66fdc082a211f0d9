package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/robfig/cron/v3"
	"github.com/spf13/cobra"

	appLog "calingest/internal/log"
	"calingest/internal/web"
)

func serveCmd() *cobra.Command {
	var listen string

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the HTTP API and run scheduled refreshes and sweeps",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := openApp()
			if err != nil {
				return err
			}
			defer a.Close()

			// --listen overrides the config file.
			if listen != "" {
				a.cfg.Listen = listen
			}

			// Root context with cancellation on SIGINT/SIGTERM.
			ctx, cancel := context.WithCancel(cmd.Context())
			defer cancel()

			sigCh := make(chan os.Signal, 1)
			signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
			defer signal.Stop(sigCh)
			go func() {
				select {
				case sig := <-sigCh:
					appLog.Info("signal received, shutting down", "signal", sig.String())
					cancel()
				case <-ctx.Done():
				}
			}()

			sched, err := a.scheduler(ctx)
			if err != nil {
				return err
			}
			sched.Start()
			defer func() {
				// wait for a running refresh to finish
				<-sched.Stop().Done()
			}()

			srv := web.NewServer(a.cfg, a.svc, a.metrics.Handler())
			if err := web.StartServer(ctx, a.cfg, srv.Handler()); err != nil {
				return fmt.Errorf("http server: %w", err)
			}
			appLog.Info("calingest exiting")
			return nil
		},
	}
	cmd.Flags().StringVar(&listen, "listen", "", "HTTP listen address (overrides config if set)")
	return cmd
}

// scheduler registers the refresh and sweep jobs. Overlapping runs of the
// same job are skipped.
func (a *app) scheduler(ctx context.Context) (*cron.Cron, error) {
	c := cron.New(
		cron.WithLocation(a.cfg.Location()),
		cron.WithChain(cron.Recover(cron.DefaultLogger), cron.SkipIfStillRunning(cron.DefaultLogger)),
	)

	if len(a.cfg.Refresh.Users) == 0 {
		appLog.Warn("refresh.users is empty; scheduled ingest disabled")
	} else if _, err := c.AddFunc(a.cfg.Refresh.Cron, func() { a.refresh(ctx) }); err != nil {
		return nil, fmt.Errorf("refresh.cron %q: %w", a.cfg.Refresh.Cron, err)
	}

	if _, err := c.AddFunc(a.cfg.Refresh.SweepCron, func() {
		if _, err := a.svc.Sweep(ctx); err != nil {
			appLog.Error("scheduled sweep failed", err)
		}
	}); err != nil {
		return nil, fmt.Errorf("refresh.sweep_cron %q: %w", a.cfg.Refresh.SweepCron, err)
	}

	appLog.Info("scheduler configured", "refresh", a.cfg.Refresh.Cron, "sweep", a.cfg.Refresh.SweepCron,
		"users", len(a.cfg.Refresh.Users))
	return c, nil
}

// refresh ingests the default window for every configured user.
func (a *app) refresh(ctx context.Context) {
	win, err := a.svc.Window("", "")
	if err != nil {
		appLog.Error("refresh window failed", err)
		return
	}
	for _, u := range a.cfg.Refresh.Users {
		if ctx.Err() != nil {
			return
		}
		res := a.svc.Ingest(ctx, u, win)
		appLog.Info("scheduled ingest", "user", u, "count", res.IngestedCount, "warnings", len(res.Warnings))
	}
}
