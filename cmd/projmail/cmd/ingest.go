package cmd

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"slices"
	"strings"

	"github.com/spf13/cobra"

	"github.com/wesm/projmail/internal/fileutil"
	"github.com/wesm/projmail/internal/mbox"
	"github.com/wesm/projmail/internal/source"
	"github.com/wesm/projmail/internal/triage"
)

var ingestCmd = &cobra.Command{
	Use:   "ingest <file|dir>...",
	Short: "Ingest .eml and .mbox files",
	Long: `Ingest .eml files or .mbox exports into the message queue. A directory
argument ingests every .eml and .mbox file directly inside it. Each message
in an mbox file is ingested on its own; extensionless files that start like
an mbox are treated as one. Files are left in place; use the inbox directory
and 'fetch' or 'watch' to have them moved once processed.

Examples:
  projmail ingest ~/Downloads/invoice.eml
  projmail ingest ~/Takeout/Mail/All\ mail.mbox
  projmail ingest ./exported-mail/`,
	Args: cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		paths, err := expandMailArgs(args)
		if err != nil {
			return err
		}

		s, err := openStore()
		if err != nil {
			return err
		}
		defer s.Close()

		mgr := triage.NewManager(s, cfg.RawDir()).WithLogger(logger)
		var t ingestTally
		for _, path := range paths {
			if err := cmd.Context().Err(); err != nil {
				return err
			}
			if isMboxFile(path) {
				err := mgr.IngestMbox(cmd.Context(), path, func(index int, res *triage.IngestResult, err error) {
					t.record(fmt.Sprintf("%s#%d", path, index), res, err)
				})
				if err != nil {
					t.failed++
					fmt.Fprintf(os.Stderr, "  %s: %v\n", path, err)
				}
				continue
			}
			res, err := mgr.IngestFile(cmd.Context(), path)
			t.record(path, res, err)
		}

		fmt.Printf("\nIngested %d new, %d updated, %d skipped.\n", t.created, t.updated, t.skipped)
		if t.failed > 0 {
			return fmt.Errorf("%d message(s) could not be ingested", t.failed)
		}
		return nil
	},
}

type ingestTally struct {
	created, updated, skipped, failed int
}

func (t *ingestTally) record(label string, res *triage.IngestResult, err error) {
	switch {
	case err != nil:
		t.failed++
		fmt.Fprintf(os.Stderr, "  %s: %v\n", label, err)
	case res.Skipped:
		t.skipped++
		fmt.Printf("  %s: skipped (ignored sender %s)\n", label, res.Sender)
	case res.Created:
		t.created++
		fmt.Printf("  %s: [%d] %s\n", label, res.Message.ID, subjectOrNone(res.Message.Subject))
	default:
		t.updated++
		fmt.Printf("  %s: [%d] updated\n", label, res.Message.ID)
	}
}

func isMbox(path string) bool {
	return strings.EqualFold(filepath.Ext(path), ".mbox")
}

// isMboxFile reports whether path should be split as an mbox: by extension,
// or for extensionless files by sniffing for a separator line.
func isMboxFile(path string) bool {
	if isMbox(path) {
		return true
	}
	if filepath.Ext(path) != "" {
		return false
	}
	f, err := os.Open(path)
	if err != nil {
		return false
	}
	defer f.Close()
	ok, _ := mbox.Sniff(f, 4096)
	return ok
}

// expandMailArgs turns file and directory arguments into .eml and .mbox
// file paths. Directories contribute the mail files directly inside them.
func expandMailArgs(args []string) ([]string, error) {
	var paths []string
	for _, arg := range args {
		info, err := os.Stat(arg)
		if err != nil {
			return nil, err
		}
		if !info.IsDir() {
			paths = append(paths, arg)
			continue
		}
		entries, err := os.ReadDir(arg)
		if err != nil {
			return nil, fmt.Errorf("read %s: %w", arg, err)
		}
		var names []string
		for _, e := range entries {
			if !e.IsDir() && (isMbox(e.Name()) || strings.EqualFold(filepath.Ext(e.Name()), ".eml")) {
				names = append(names, e.Name())
			}
		}
		slices.Sort(names)
		for _, name := range names {
			paths = append(paths, filepath.Join(arg, name))
		}
	}
	return paths, nil
}

var watchAutoTriage bool

var watchCmd = &cobra.Command{
	Use:   "watch",
	Short: "Ingest .eml files as they arrive in the inbox directory",
	Long: `Watch the inbox directory and ingest each .eml file dropped into it.
Files already waiting are ingested first. Processed files are moved into the
processed/ subdirectory.

With --auto-triage each new message is triaged as soon as it arrives.
Stop with Ctrl+C.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		s, err := openStore()
		if err != nil {
			return err
		}
		defer s.Close()

		local := source.NewLocal(cfg.InboxDir(), logger)
		if err := fileutil.SecureMkdirAll(local.Dir(), 0700); err != nil {
			return fmt.Errorf("create inbox dir: %w", err)
		}
		mgr := triage.NewManager(s, cfg.RawDir()).WithLogger(logger)

		var ctrl *triage.Controller
		if watchAutoTriage {
			ctrl = triage.NewController(s, triage.NewPrompter(), triage.WithControllerLogger(logger))
		}

		ctx := cmd.Context()
		summary, err := mgr.FetchAll(ctx, []source.Source{local}, 0)
		if err != nil {
			return err
		}
		if n := len(summary.Created); n > 0 {
			fmt.Printf("Ingested %d waiting file(s).\n", n)
		}

		fmt.Printf("Watching %s (Ctrl+C to stop)\n", local.Dir())
		return local.Watch(ctx, func(path string) {
			res, err := mgr.IngestFile(ctx, path)
			if err != nil {
				logger.Error("ingest failed", "file", path, "error", err)
				return
			}
			if err := local.MarkProcessed(ctx, path); err != nil {
				logger.Warn("mark processed failed", "file", path, "error", err)
			}
			if res.Skipped {
				logger.Info("skipped ignored sender", "file", path, "sender", res.Sender)
				return
			}
			fmt.Printf("New message [%d] %s: %s\n", res.Message.ID, res.Message.Sender, subjectOrNone(res.Message.Subject))
			if ctrl == nil || !res.Created {
				return
			}
			if _, err := ctrl.Triage(ctx, res.Message); err != nil && !errors.Is(err, io.EOF) {
				logger.Warn("triage stopped", "id", res.Message.ID, "error", err)
			}
		})
	},
}

func subjectOrNone(subject string) string {
	if strings.TrimSpace(subject) == "" {
		return "(no subject)"
	}
	return subject
}

func init() {
	watchCmd.Flags().BoolVar(&watchAutoTriage, "auto-triage", false, "Triage each new message as it arrives")
	rootCmd.AddCommand(ingestCmd)
	rootCmd.AddCommand(watchCmd)
}
