package main

import (
	"context"
	"errors"

	"github.com/spf13/cobra"

	"calingest/internal/ingest"
)

// queryCmd builds a read command that runs fn for --user over the window.
func queryCmd(use, short string, fn func(ctx context.Context, svc *ingest.Service, user string, w ingest.Window) (any, error)) *cobra.Command {
	var user, start, end string

	cmd := &cobra.Command{
		Use:   use,
		Short: short,
		RunE: func(cmd *cobra.Command, args []string) error {
			if user == "" {
				return errors.New("--user is required")
			}
			a, err := openApp()
			if err != nil {
				return err
			}
			defer a.Close()

			win, err := a.svc.Window(start, end)
			if err != nil {
				return err
			}
			res, err := fn(cmd.Context(), a.svc, user, win)
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), res)
		},
	}
	cmd.Flags().StringVar(&user, "user", "", "User id")
	windowFlags(cmd, &start, &end)
	return cmd
}

func eventsCmd() *cobra.Command {
	return queryCmd("events", "List stored occurrences in the window",
		func(ctx context.Context, svc *ingest.Service, user string, w ingest.Window) (any, error) {
			evs, err := svc.Events(ctx, user, w)
			return evs, err
		})
}

func availabilityCmd() *cobra.Command {
	return queryCmd("availability", "Show busy/free statistics over work hours",
		func(ctx context.Context, svc *ingest.Service, user string, w ingest.Window) (any, error) {
			st, err := svc.Availability(ctx, user, w)
			return st, err
		})
}

func deltaCmd() *cobra.Command {
	return queryCmd("delta", "Diff stored occurrences against the last snapshot and save a new one",
		func(ctx context.Context, svc *ingest.Service, user string, w ingest.Window) (any, error) {
			res, err := svc.Delta(ctx, user, w)
			return res, err
		})
}
