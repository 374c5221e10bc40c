package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
)

var initDBCmd = &cobra.Command{
	Use:   "init-db",
	Short: "Initialize the database schema",
	Long: `Initialize the projmail database with the required schema.

This command creates the tables for projects, contacts, messages and the
ignore list. It is safe to run multiple times: tables are only created if
they don't already exist.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		dbPath := cfg.DatabasePath()
		logger.Info("initializing database", "path", dbPath)

		s, err := openStore()
		if err != nil {
			return err
		}
		defer s.Close()

		logger.Info("database initialized successfully")

		stats, err := s.GetStats()
		if err != nil {
			return fmt.Errorf("get stats: %w", err)
		}

		fmt.Printf("Database: %s\n", dbPath)
		fmt.Printf("  Projects:   %d\n", stats.ProjectCount)
		fmt.Printf("  Contacts:   %d\n", stats.ContactCount)
		fmt.Printf("  Messages:   %d\n", stats.MessageCount)
		fmt.Printf("  Unassigned: %d\n", stats.UnassignedCount)
		fmt.Printf("  Snoozed:    %d\n", stats.SnoozedCount)
		fmt.Printf("  Size:       %.2f MB\n", float64(stats.DatabaseSize)/(1024*1024))

		if legacy, err := s.HasLegacyTable(); err == nil && legacy {
			fmt.Println()
			fmt.Println("A legacy emails table was found. Run 'projmail migrate-legacy' to import it.")
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(initDBCmd)
}
