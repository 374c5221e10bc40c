package cmd

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/wesm/projmail/internal/store"
)

var listContactsCmd = &cobra.Command{
	Use:   "list-contacts",
	Short: "List contacts derived from message senders",
	RunE: func(cmd *cobra.Command, args []string) error {
		s, err := openStore()
		if err != nil {
			return err
		}
		defer s.Close()

		contacts, err := s.ListContacts()
		if err != nil {
			return fmt.Errorf("list contacts: %w", err)
		}
		if len(contacts) == 0 {
			fmt.Println("No contacts yet. Contacts are created as emails are fetched.")
			return nil
		}

		w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
		fmt.Fprintln(w, "ID\tNAME\tEMAIL")
		for _, c := range contacts {
			fmt.Fprintf(w, "%d\t%s\t%s\n", c.ID, orDash(c.Name.String), orDash(c.Email.String))
		}
		w.Flush()
		fmt.Printf("\n%d contact(s)\n", len(contacts))
		return nil
	},
}

var showContactCmd = &cobra.Command{
	Use:   "show-contact <id>",
	Short: "Show a contact's messages grouped by project",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		id, err := strconv.ParseInt(args[0], 10, 64)
		if err != nil {
			return fmt.Errorf("invalid contact ID %q", args[0])
		}

		s, err := openStore()
		if err != nil {
			return err
		}
		defer s.Close()

		c, err := s.GetContact(id)
		if errors.Is(err, store.ErrNotFound) {
			return fmt.Errorf("contact %d not found", id)
		}
		if err != nil {
			return err
		}
		groups, err := s.ContactMessagesByProject(id)
		if err != nil {
			return err
		}

		fmt.Printf("[%d] %s <%s>\n", c.ID, orDash(c.Name.String), orDash(c.Email.String))
		if len(groups) == 0 {
			fmt.Println("\nNo messages.")
			return nil
		}
		for _, g := range groups {
			if g.Project != nil {
				fmt.Printf("\nProject [%d] %s\n", g.Project.ID, g.Project.Name)
			} else {
				fmt.Println("\nNot in a project")
			}
			for _, m := range g.Messages {
				fmt.Printf("  [%d] %-10s %s\n", m.ID, m.Status, subjectOrNone(m.Subject))
			}
		}
		return nil
	},
}

func orDash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}

func init() {
	rootCmd.AddCommand(listContactsCmd)
	rootCmd.AddCommand(showContactCmd)
}
