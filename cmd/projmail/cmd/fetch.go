package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/wesm/projmail/internal/source"
	"github.com/wesm/projmail/internal/store"
	"github.com/wesm/projmail/internal/triage"
)

var (
	fetchMax        int
	fetchAutoTriage bool
	fetchSource     string
)

var fetchCmd = &cobra.Command{
	Use:   "fetch",
	Short: "Fetch unread email from the configured sources",
	Long: `Fetch unread messages from every configured source and store them as
unassigned messages. Messages from ignored senders are skipped. Each fetched
message is marked processed on its source (moved to processed/, marked read
or recorded in the local ledger) so it is not fetched again.

Examples:
  projmail fetch
  projmail fetch --max 25 --auto-triage
  projmail fetch --source imap:work`,
	RunE: func(cmd *cobra.Command, args []string) error {
		s, err := openStore()
		if err != nil {
			return err
		}
		defer s.Close()

		sources, err := selectSources(s, fetchSource)
		if err != nil {
			return err
		}
		if len(sources) == 0 {
			fmt.Println("No email sources configured. Run 'projmail list-sources' for details.")
			return nil
		}
		defer source.CloseAll(sources, logger)

		fmt.Printf("Fetching up to %d emails per source...\n", fetchMax)
		mgr := triage.NewManager(s, cfg.RawDir()).WithLogger(logger)
		summary, err := mgr.FetchAll(cmd.Context(), sources, fetchMax)
		if err != nil {
			return err
		}
		printFetchSummary(os.Stdout, summary)

		if len(summary.Created) == 0 {
			fmt.Println("\nNo new emails found.")
			return nil
		}
		fmt.Printf("\nIngested %d new email(s).\n", len(summary.Created))

		if !fetchAutoTriage {
			fmt.Println("\nUse 'list-messages --status unassigned' to see them.")
			fmt.Println("Or run 'projmail triage' to triage them now.")
			return nil
		}

		fmt.Println("\nStarting auto-triage...")
		return runTriage(cmd.Context(), s, summary.Created)
	},
}

// selectSources returns the configured sources, or only the named one.
func selectSources(s *store.Store, name string) ([]source.Source, error) {
	deps := source.Deps{Ledger: s, Logger: logger}
	if name == "" {
		return source.Available(cfg, deps), nil
	}

	var names []string
	for _, src := range source.All(cfg, deps) {
		if src.Name() != name {
			names = append(names, src.Name())
			continue
		}
		if !src.Configured() {
			return nil, fmt.Errorf("source %q is not configured", name)
		}
		return []source.Source{src}, nil
	}
	return nil, fmt.Errorf("unknown source %q (known: %s)", name, strings.Join(names, ", "))
}

func printFetchSummary(out io.Writer, summary *triage.FetchSummary) {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "SOURCE\tFETCHED\tNEW\tUPDATED\tSKIPPED\tERRORS")
	for _, st := range summary.Sources {
		if st.Err != nil {
			fmt.Fprintf(w, "%s\t-\t-\t-\t-\t%v\n", st.Source, st.Err)
			continue
		}
		fmt.Fprintf(w, "%s\t%d\t%d\t%d\t%d\t%d\n",
			st.Source, st.Fetched, st.Created, st.Updated, st.Skipped, st.Errors)
	}
	w.Flush()
}

// runTriage prompts for each message and prints the tally. Running out of
// input ends the session without an error.
func runTriage(ctx context.Context, s *store.Store, msgs []*store.Message) error {
	ctrl := triage.NewController(s, triage.NewPrompter(), triage.WithControllerLogger(logger))
	sum, err := ctrl.Run(ctx, msgs)
	fmt.Printf("\nAssigned %d, created %d project(s), snoozed %d, ignored %d, skipped %d.\n",
		sum.Assigned, sum.Created, sum.Snoozed, sum.Ignored, sum.Skipped)
	if errors.Is(err, io.EOF) {
		fmt.Println("Input closed; remaining messages stay in the queue.")
		return nil
	}
	return err
}

func init() {
	fetchCmd.Flags().IntVar(&fetchMax, "max", 10, "Max emails to fetch per source")
	fetchCmd.Flags().BoolVar(&fetchAutoTriage, "auto-triage", false, "Prompt for each fetched email")
	fetchCmd.Flags().StringVar(&fetchSource, "source", "", "Fetch only from this source (see list-sources)")
	rootCmd.AddCommand(fetchCmd)
}
