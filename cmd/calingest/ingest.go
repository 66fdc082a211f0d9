package main

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"calingest/internal/ingest"
)

func ingestCmd() *cobra.Command {
	var users []string
	var start, end string

	cmd := &cobra.Command{
		Use:   "ingest",
		Short: "Load the calendar feed and store occurrences for one or more users",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := openApp()
			if err != nil {
				return err
			}
			defer a.Close()

			if len(users) == 0 {
				users = a.cfg.Refresh.Users
			}
			if len(users) == 0 {
				return errors.New("no users: pass --user or set refresh.users")
			}

			win, err := a.svc.Window(start, end)
			if err != nil {
				return err
			}

			out := make(map[string]ingest.Result, len(users))
			for _, u := range users {
				out[u] = a.svc.Ingest(cmd.Context(), u, win)
			}
			return printJSON(cmd.OutOrStdout(), out)
		},
	}
	cmd.Flags().StringSliceVar(&users, "user", nil, "User id (repeatable; default refresh.users)")
	windowFlags(cmd, &start, &end)
	return cmd
}

func sweepCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "sweep",
		Short: "Delete stored rows and snapshots outside the retention window",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := openApp()
			if err != nil {
				return err
			}
			defer a.Close()

			res, err := a.svc.Sweep(cmd.Context())
			if err != nil {
				return fmt.Errorf("sweep: %w", err)
			}
			return printJSON(cmd.OutOrStdout(), res)
		},
	}
}
