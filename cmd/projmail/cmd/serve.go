package cmd

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/spf13/cobra"

	"github.com/wesm/projmail/internal/api"
	"github.com/wesm/projmail/internal/scheduler"
	"github.com/wesm/projmail/internal/source"
	"github.com/wesm/projmail/internal/store"
	"github.com/wesm/projmail/internal/triage"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the HTTP API with scheduled fetches",
	Long: `Run projmail as a long-running daemon. It serves the HTTP API and, when
schedules are configured, fetches new mail and checks reminders on a cron.

Configure schedules in config.toml:
  [schedule]
  fetch = "*/15 * * * *"     # fetch every 15 minutes
  reminders = "0 8 * * *"    # log due reminders at 8 AM
  fetch_max = 50

Use Ctrl+C to stop the daemon gracefully.`,
	RunE: runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, args []string) error {
	s, err := openStore()
	if err != nil {
		return err
	}
	defer s.Close()

	fetch := newFetchFunc(s)
	sched := scheduler.New().WithLogger(logger)
	count, errs := sched.AddFromConfig(cfg,
		func(ctx context.Context) error {
			_, err := fetch(ctx)
			return err
		},
		func(ctx context.Context) error {
			return logDueReminders(s)
		},
	)
	for _, err := range errs {
		logger.Error("failed to schedule job", "error", err)
	}

	ctx, cancel := context.WithCancel(cmd.Context())
	defer cancel()

	sched.Start()

	srv := api.NewServer(cfg, s, logger,
		api.WithScheduler(sched),
		api.WithFetch(fetch),
		api.WithSources(func() []source.Info {
			return source.Describe(source.All(cfg, source.Deps{Ledger: s, Logger: logger}))
		}),
	)

	serverErr := make(chan error, 1)
	go func() {
		if err := srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
	}()

	bindAddr := cfg.Server.BindAddr
	if bindAddr == "" {
		bindAddr = "127.0.0.1"
	}
	fmt.Printf("projmail daemon started\n")
	fmt.Printf("  API server: http://%s\n", net.JoinHostPort(bindAddr, strconv.Itoa(cfg.Server.APIPort)))
	fmt.Printf("  Scheduled jobs: %d\n", count)
	fmt.Printf("  Data directory: %s\n", cfg.Data.DataDir)
	for _, st := range sched.Status() {
		fmt.Printf("  %s: next run at %s\n", st.Name, st.NextRun.Local().Format("2006-01-02 15:04:05"))
	}
	fmt.Println()
	fmt.Println("Press Ctrl+C to stop.")

	var runErr error
	select {
	case <-ctx.Done():
		logger.Info("shutdown requested")
		fmt.Println("\nShutting down...")
	case runErr = <-serverErr:
		logger.Error("API server error", "error", runErr)
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("API server shutdown error", "error", err)
	}

	fmt.Println("Waiting for running jobs to complete...")
	select {
	case <-sched.Stop().Done():
		fmt.Println("Shutdown complete.")
	case <-time.After(30 * time.Second):
		fmt.Println("Shutdown timed out after 30 seconds.")
	}
	return runErr
}

// newFetchFunc fetches from every available source into s. Sources are
// rebuilt per call so config changes and new credentials are picked up.
func newFetchFunc(s *store.Store) api.FetchFunc {
	mgr := triage.NewManager(s, cfg.RawDir()).WithLogger(logger)
	return func(ctx context.Context) (*triage.FetchSummary, error) {
		sources := source.Available(cfg, source.Deps{Ledger: s, Logger: logger})
		defer source.CloseAll(sources, logger)
		summary, err := mgr.FetchAll(ctx, sources, cfg.Schedule.FetchMax)
		if err != nil {
			return nil, err
		}
		logger.Info("fetch complete", "sources", len(sources), "new", len(summary.Created))
		return summary, nil
	}
}

func logDueReminders(s *store.Store) error {
	due, err := s.DueReminders(time.Now())
	if err != nil {
		return err
	}
	for _, m := range due {
		logger.Info("reminder due", "id", m.ID, "sender", m.Sender, "subject", m.Subject)
	}
	if len(due) == 0 {
		logger.Debug("no reminders due")
	}
	return nil
}
