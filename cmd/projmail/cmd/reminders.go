package cmd

import (
	"fmt"
	"io"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/wesm/projmail/internal/store"
)

var checkRemindersCmd = &cobra.Command{
	Use:   "check-reminders",
	Short: "List snoozed emails whose reminder time has passed",
	Long: `List snoozed emails whose reminder time has passed. Reminders stay
due until the email is assigned, snoozed again or ignored; run
'projmail triage' to act on them.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		s, err := openStore()
		if err != nil {
			return err
		}
		defer s.Close()

		due, err := s.DueReminders(time.Now())
		if err != nil {
			return fmt.Errorf("check reminders: %w", err)
		}
		printReminders(os.Stdout, due)
		return nil
	},
}

func printReminders(out io.Writer, due []*store.Message) {
	if len(due) == 0 {
		fmt.Fprintln(out, "No reminders due right now.")
		return
	}
	for _, m := range due {
		fmt.Fprintf(out, "Reminder ready: email %d from %s subject %s\n",
			m.ID, orDash(m.Sender), subjectOrNone(m.Subject))
	}
}

func init() {
	rootCmd.AddCommand(checkRemindersCmd)
}
