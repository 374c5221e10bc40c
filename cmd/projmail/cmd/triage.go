package cmd

import (
	"fmt"
	"slices"
	"time"

	"github.com/spf13/cobra"

	"github.com/wesm/projmail/internal/store"
)

var triageStatuses []string

var triageCmd = &cobra.Command{
	Use:   "triage",
	Short: "Assign, snooze or ignore queued messages",
	Long: `Walk through queued messages one at a time. For each message choose an
existing project, create a new one, snooze it, or ignore its sender.

By default the queue is every unassigned message plus snoozed messages whose
reminder is due. Use --status to triage other statuses instead. Closing the
input (Ctrl+D) or Ctrl+C stops the session; undecided messages stay queued.

On a terminal the prompts are interactive menus; otherwise a numbered menu is
read line by line from stdin.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := validateStatuses(triageStatuses); err != nil {
			return err
		}

		s, err := openStore()
		if err != nil {
			return err
		}
		defer s.Close()

		queue, err := triageQueue(s, triageStatuses, time.Now())
		if err != nil {
			return err
		}
		if len(queue) == 0 {
			fmt.Println("Nothing to triage.")
			return nil
		}
		fmt.Printf("%d message(s) to triage.\n", len(queue))
		return runTriage(cmd.Context(), s, queue)
	},
}

// triageQueue returns the messages to triage, oldest first. Without
// statuses the queue is the unassigned messages followed by due reminders.
func triageQueue(s *store.Store, statuses []string, now time.Time) ([]*store.Message, error) {
	if len(statuses) > 0 {
		msgs, err := s.ListMessages(statuses...)
		if err != nil {
			return nil, err
		}
		slices.Reverse(msgs)
		return msgs, nil
	}

	queue, err := s.ListMessages(store.StatusUnassigned)
	if err != nil {
		return nil, err
	}
	slices.Reverse(queue)

	due, err := s.DueReminders(now)
	if err != nil {
		return nil, err
	}
	return append(queue, due...), nil
}

var allStatuses = []string{store.StatusUnassigned, store.StatusAssigned, store.StatusSnoozed, store.StatusIgnored}

func validateStatuses(statuses []string) error {
	for _, st := range statuses {
		if !slices.Contains(allStatuses, st) {
			return fmt.Errorf("invalid status %q (valid: unassigned, assigned, snoozed, ignored)", st)
		}
	}
	return nil
}

func init() {
	triageCmd.Flags().StringSliceVar(&triageStatuses, "status", nil, "Triage messages with these statuses (repeatable)")
	rootCmd.AddCommand(triageCmd)
}
