package cmd

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/spf13/cobra"
)

// newTestRootCmd returns a bare root so tests never mutate the global rootCmd.
func newTestRootCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "projmail",
		Short: "Triage email into projects",
	}
}

func TestExecuteContext_CancellationReachesCommand(t *testing.T) {
	var observed atomic.Bool
	started := make(chan struct{})

	root := newTestRootCmd()
	root.AddCommand(&cobra.Command{
		Use: "wait",
		RunE: func(cmd *cobra.Command, args []string) error {
			close(started)
			select {
			case <-cmd.Context().Done():
				observed.Store(true)
				return cmd.Context().Err()
			case <-time.After(5 * time.Second):
				return nil
			}
		},
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	done := make(chan error, 1)
	go func() {
		root.SetArgs([]string{"wait"})
		done <- root.ExecuteContext(ctx)
	}()

	select {
	case <-started:
	case <-time.After(2 * time.Second):
		t.Fatal("command did not start")
	}
	cancel()

	select {
	case err := <-done:
		if !errors.Is(err, context.Canceled) {
			t.Errorf("ExecuteContext error = %v, want context.Canceled", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("ExecuteContext did not return after cancel")
	}
	if !observed.Load() {
		t.Error("command did not observe cancellation")
	}
}

func TestExecute_RunsWithBackgroundContext(t *testing.T) {
	root := newTestRootCmd()
	var ran bool
	root.AddCommand(&cobra.Command{
		Use: "noop",
		RunE: func(cmd *cobra.Command, args []string) error {
			if cmd.Context() == nil {
				t.Error("command context is nil")
			}
			ran = true
			return nil
		},
	})

	root.SetArgs([]string{"noop"})
	if err := root.Execute(); err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if !ran {
		t.Error("command did not run")
	}
}

func TestRootCmd_RegistersCommands(t *testing.T) {
	want := []string{
		"init-db", "fetch", "triage", "ingest", "watch", "list-projects",
		"create-project", "list-messages", "show-message", "list-contacts",
		"show-contact", "check-reminders", "list-sources", "migrate-legacy",
		"serve", "setup-gmail", "add-imap", "version",
	}
	for _, name := range want {
		cmd, _, err := rootCmd.Find([]string{name})
		if err != nil || cmd == rootCmd {
			t.Errorf("command %q not registered", name)
		}
	}

	cmd, _, err := rootCmd.Find([]string{"list-emails"})
	if err != nil || cmd != listMessagesCmd {
		t.Error("list-emails should alias list-messages")
	}
}
