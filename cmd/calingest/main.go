package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"calingest/internal/config"
	"calingest/internal/ics"
	"calingest/internal/ingest"
	appLog "calingest/internal/log"
	"calingest/internal/metrics"
	"calingest/internal/store"
)

var version = "dev"

var (
	configPath string
	jsonLogs   bool
)

func main() {
	rootCmd := &cobra.Command{
		Use:           "calingest",
		Short:         "Calendar feed ingestion: fetch, expand, store, and derive availability and deltas",
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			if jsonLogs {
				appLog.Init(true)
			}
		},
	}
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "/etc/calingest/config.yaml", "Path to config file")
	rootCmd.PersistentFlags().BoolVar(&jsonLogs, "json-logs", false, "Emit JSON logs")

	rootCmd.AddCommand(ingestCmd())
	rootCmd.AddCommand(sweepCmd())
	rootCmd.AddCommand(eventsCmd())
	rootCmd.AddCommand(availabilityCmd())
	rootCmd.AddCommand(deltaCmd())
	rootCmd.AddCommand(serveCmd())

	err := rootCmd.Execute()
	appLog.Sync()
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// app bundles what every command needs.
type app struct {
	cfg     *config.Config
	events  *store.EventStore
	metrics *metrics.Recorder
	svc     *ingest.Service
}

func openApp() (*app, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	appLog.SetLevel(appLog.ParseLevel(cfg.LogLevel))

	events, err := store.OpenEventStore(cfg.DatabasePath)
	if err != nil {
		return nil, fmt.Errorf("open store: %w", err)
	}

	rec := metrics.New()
	svc := ingest.NewService(*cfg, events, store.NewSnapshotStore(cfg.SnapshotDir),
		ics.NewFetcher(cfg.Source.FetchTimeout), rec)

	appLog.Info("effective config",
		"listen", cfg.Listen,
		"timezone", cfg.Timezone,
		"source_mode", cfg.Source.Mode,
		"remote_url", ics.RedactURL(cfg.Source.RemoteURL),
		"local_path", cfg.Source.LocalPath,
		"database", cfg.DatabasePath,
		"past_days", cfg.Retention.PastDays,
		"future_days", cfg.Retention.FutureDays,
		"persist_body", cfg.Body.Persist,
	)
	return &app{cfg: cfg, events: events, metrics: rec, svc: svc}, nil
}

func (a *app) Close() {
	if err := a.events.Close(); err != nil {
		appLog.Error("close store failed", err)
	}
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// windowFlags registers --start and --end on cmd.
func windowFlags(cmd *cobra.Command, start, end *string) {
	cmd.Flags().StringVar(start, "start", "", "First date of the window (YYYY-MM-DD, default today)")
	cmd.Flags().StringVar(end, "end", "", "Last date of the window (YYYY-MM-DD, default start+7)")
}
