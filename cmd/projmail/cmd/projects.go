package cmd

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/wesm/projmail/internal/store"
)

var listProjectsJSON bool

var listProjectsCmd = &cobra.Command{
	Use:   "list-projects",
	Short: "List all projects",
	RunE: func(cmd *cobra.Command, args []string) error {
		s, err := openStore()
		if err != nil {
			return err
		}
		defer s.Close()

		projects, err := s.ListProjects()
		if err != nil {
			return fmt.Errorf("list projects: %w", err)
		}

		if listProjectsJSON {
			out := make([]map[string]any, len(projects))
			for i, p := range projects {
				out[i] = map[string]any{
					"id":          p.ID,
					"name":        p.Name,
					"description": p.Description.String,
					"created_at":  p.CreatedAt,
				}
			}
			return printJSON(out)
		}

		if len(projects) == 0 {
			fmt.Println("No projects yet. Fetch emails and create one during triage.")
			return nil
		}
		w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
		fmt.Fprintln(w, "ID\tNAME\tDESCRIPTION")
		for _, p := range projects {
			desc := p.Description.String
			if desc == "" {
				desc = "-"
			}
			fmt.Fprintf(w, "%d\t%s\t%s\n", p.ID, p.Name, desc)
		}
		w.Flush()
		fmt.Printf("\n%d project(s)\n", len(projects))
		return nil
	},
}

var createProjectDescription string

var createProjectCmd = &cobra.Command{
	Use:   "create-project <name>",
	Short: "Create a project",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		s, err := openStore()
		if err != nil {
			return err
		}
		defer s.Close()

		name := strings.Join(args, " ")
		p, err := s.CreateProject(name, createProjectDescription)
		if errors.Is(err, store.ErrProjectExists) {
			return fmt.Errorf("project %q already exists", strings.TrimSpace(name))
		}
		if err != nil {
			return err
		}
		fmt.Printf("Created project [%d] %s\n", p.ID, p.Name)
		return nil
	},
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func init() {
	listProjectsCmd.Flags().BoolVar(&listProjectsJSON, "json", false, "Output as JSON")
	createProjectCmd.Flags().StringVar(&createProjectDescription, "description", "", "Project description")
	rootCmd.AddCommand(listProjectsCmd)
	rootCmd.AddCommand(createProjectCmd)
}
