package cmd

import (
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/wesm/projmail/internal/mime"
	"github.com/wesm/projmail/internal/store"
	"github.com/wesm/projmail/internal/triage"
)

var (
	listMessagesStatuses []string
	listMessagesJSON     bool
)

var listMessagesCmd = &cobra.Command{
	Use:     "list-messages",
	Aliases: []string{"list-emails"},
	Short:   "List tracked messages",
	Long: `List tracked messages, most recently updated first.

Examples:
  projmail list-messages
  projmail list-messages --status unassigned --status snoozed
  projmail list-messages --status assigned --json`,
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := validateStatuses(listMessagesStatuses); err != nil {
			return err
		}

		s, err := openStore()
		if err != nil {
			return err
		}
		defer s.Close()

		msgs, err := s.ListMessages(listMessagesStatuses...)
		if err != nil {
			return fmt.Errorf("list messages: %w", err)
		}
		projects, err := projectNames(s, msgs)
		if err != nil {
			return err
		}

		if listMessagesJSON {
			out := make([]map[string]any, len(msgs))
			for i, m := range msgs {
				entry := map[string]any{
					"id":          m.ID,
					"external_id": m.ExternalID,
					"sender":      m.Sender,
					"subject":     m.Subject,
					"timestamp":   m.Timestamp,
					"status":      m.Status,
					"project":     projects[m.ID],
				}
				if m.RemindAt.Valid {
					entry["remind_at"] = m.RemindAt.Time
				}
				out[i] = entry
			}
			return printJSON(out)
		}

		if len(msgs) == 0 {
			fmt.Println("No emails tracked with the selected filters.")
			return nil
		}
		printMessageTable(os.Stdout, msgs, projects)
		return nil
	},
}

// projectNames maps message IDs to the name of their project.
func projectNames(s *store.Store, msgs []*store.Message) (map[int64]string, error) {
	names := make(map[int64]string)
	for _, m := range msgs {
		if m.Status != store.StatusAssigned && m.Status != store.StatusSnoozed {
			continue
		}
		p, err := s.ProjectForMessage(m.ID)
		if errors.Is(err, store.ErrNotFound) {
			continue
		}
		if err != nil {
			return nil, err
		}
		names[m.ID] = p.Name
	}
	return names, nil
}

func printMessageTable(out io.Writer, msgs []*store.Message, projects map[int64]string) {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tSTATUS\tPROJECT\tFROM\tSUBJECT")
	for _, m := range msgs {
		project := projects[m.ID]
		if project == "" {
			project = "-"
		}
		status := m.Status
		if m.RemindAt.Valid {
			status += " until " + m.RemindAt.Time.Local().Format("2006-01-02 15:04")
		}
		fmt.Fprintf(w, "%d\t%s\t%s\t%s\t%s\n",
			m.ID, status, project, truncate(m.Sender, 40), truncate(subjectOrNone(m.Subject), 60))
	}
	w.Flush()
	fmt.Fprintf(out, "\n%d message(s)\n", len(msgs))
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n-1]) + "…"
}

var showMessageContent bool

var showMessageCmd = &cobra.Command{
	Use:   "show-message <id>",
	Short: "Show a message",
	Long: `Show a message's headers, status and project. With --content the full
body is printed, read from the archived raw message when available.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		id, err := strconv.ParseInt(args[0], 10, 64)
		if err != nil {
			return fmt.Errorf("invalid message ID %q", args[0])
		}

		s, err := openStore()
		if err != nil {
			return err
		}
		defer s.Close()

		msg, err := s.GetMessage(id)
		if errors.Is(err, store.ErrNotFound) {
			return fmt.Errorf("message %d not found", id)
		}
		if err != nil {
			return err
		}

		fmt.Println(triage.Summary(msg))
		fmt.Println()
		fmt.Printf("Status:  %s\n", msg.Status)
		if msg.RemindAt.Valid {
			fmt.Printf("Remind:  %s\n", msg.RemindAt.Time.Local().Format("Mon Jan 2 15:04 2006"))
		}
		if p, err := s.ProjectForMessage(id); err == nil {
			fmt.Printf("Project: [%d] %s\n", p.ID, p.Name)
		} else if !errors.Is(err, store.ErrNotFound) {
			return err
		}
		fmt.Printf("ID:      %s\n", msg.ExternalID)

		if showMessageContent {
			fmt.Println()
			fmt.Println(strings.TrimSpace(messageText(msg)))
		}
		return nil
	},
}

// messageText returns the plain-text body, preferring the archived raw file.
func messageText(msg *store.Message) string {
	if msg.RawPath.Valid && msg.RawPath.String != "" {
		raw, err := os.ReadFile(msg.RawPath.String)
		if err == nil {
			if text := mime.PlainContent(raw); text != "" {
				return text
			}
		} else {
			logger.Warn("raw message unreadable", "path", msg.RawPath.String, "error", err)
		}
	}
	return msg.Content.String
}

func init() {
	listMessagesCmd.Flags().StringSliceVar(&listMessagesStatuses, "status", nil, "Filter by status (repeatable: unassigned, assigned, snoozed, ignored)")
	listMessagesCmd.Flags().BoolVar(&listMessagesJSON, "json", false, "Output as JSON")
	showMessageCmd.Flags().BoolVar(&showMessageContent, "content", false, "Print the full message body")
	rootCmd.AddCommand(listMessagesCmd)
	rootCmd.AddCommand(showMessageCmd)
}
