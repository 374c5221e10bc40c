package cmd

import (
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/wesm/projmail/internal/source"
)

var listSourcesCmd = &cobra.Command{
	Use:   "list-sources",
	Short: "Show which email sources are configured",
	RunE: func(cmd *cobra.Command, args []string) error {
		s, err := openStore()
		if err != nil {
			return err
		}
		defer s.Close()

		infos := source.Describe(source.All(cfg, source.Deps{Ledger: s, Logger: logger}))
		w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
		fmt.Fprintln(w, "SOURCE\tSTATUS")
		configured := 0
		for _, info := range infos {
			status := "not configured"
			if info.Configured {
				status = "ready"
				configured++
			}
			fmt.Fprintf(w, "%s\t%s\n", info.Name, status)
		}
		w.Flush()

		if configured == 0 {
			fmt.Printf("\nNo sources ready. Drop .eml files into %s,\n", cfg.InboxDir())
			fmt.Println("run 'projmail setup-gmail' or 'projmail add-imap'.")
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(listSourcesCmd)
}
