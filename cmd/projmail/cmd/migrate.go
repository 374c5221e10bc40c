package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/wesm/projmail/internal/mime"
)

var migrateDryRun bool

var migrateLegacyCmd = &cobra.Command{
	Use:   "migrate-legacy",
	Short: "Move rows from the old emails table into messages and contacts",
	Long: `Copy rows from the legacy single-table layout into the messages table,
creating contacts from senders and keeping project links. Rows that already
exist are left alone, so the command can be run more than once.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		s, err := openStore()
		if err != nil {
			return err
		}
		defer s.Close()

		ok, err := s.HasLegacyTable()
		if err != nil {
			return err
		}
		if !ok {
			fmt.Println("No legacy emails table found; nothing to migrate.")
			return nil
		}

		stats, err := s.MigrateLegacy(migrateDryRun, mime.SplitAddress)
		if err != nil {
			return fmt.Errorf("migrate: %w", err)
		}

		if migrateDryRun {
			fmt.Printf("Dry run: %d legacy email(s) would be migrated.\n", stats.Pending)
			return nil
		}
		fmt.Printf("Migrated %d email(s), created %d contact(s), linked %d to projects.\n",
			stats.Migrated, stats.ContactsCreated, stats.ProjectLinks)
		for _, e := range stats.Errors {
			fmt.Printf("  error: %s\n", e)
		}
		if len(stats.Errors) > 0 {
			return fmt.Errorf("%d row(s) failed to migrate", len(stats.Errors))
		}
		return nil
	},
}

func init() {
	migrateLegacyCmd.Flags().BoolVar(&migrateDryRun, "dry-run", false, "Report what would be migrated without writing")
	rootCmd.AddCommand(migrateLegacyCmd)
}
