package source

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/wesm/projmail/internal/fileutil"
	"github.com/wesm/projmail/internal/mime"
)

// LocalName is the name of the drop-directory source.
const LocalName = "local"

// processedDir is where ingested files are moved, relative to the drop dir.
const processedDir = "processed"

// Local reads .eml files dropped into a directory. Processed files are
// moved into a processed/ subdirectory.
type Local struct {
	dir    string
	logger *slog.Logger
	settle time.Duration
}

// NewLocal creates a drop-directory source.
func NewLocal(dir string, logger *slog.Logger) *Local {
	if logger == nil {
		logger = slog.Default()
	}
	return &Local{dir: dir, logger: logger, settle: 500 * time.Millisecond}
}

// Name implements Source.
func (l *Local) Name() string { return LocalName }

// Dir returns the drop directory.
func (l *Local) Dir() string { return l.dir }

// Configured reports whether the drop directory exists.
func (l *Local) Configured() bool {
	info, err := os.Stat(l.dir)
	return err == nil && info.IsDir()
}

// FetchUnread reads pending .eml files in name order. Unreadable files are
// logged and skipped.
func (l *Local) FetchUnread(ctx context.Context, max int) ([]*RawMessage, error) {
	entries, err := os.ReadDir(l.dir)
	if err != nil {
		return nil, fmt.Errorf("read inbox dir: %w", err)
	}

	var names []string
	for _, e := range entries {
		if !e.IsDir() && isEML(e.Name()) {
			names = append(names, e.Name())
		}
	}
	slices.Sort(names)

	var out []*RawMessage
	for _, name := range names {
		if err := ctx.Err(); err != nil {
			return out, err
		}
		if max > 0 && len(out) >= max {
			break
		}
		msg, err := ReadLocalFile(filepath.Join(l.dir, name))
		if err != nil {
			l.logger.Warn("skipping unreadable file", "file", name, "error", err)
			continue
		}
		out = append(out, msg)
	}
	return out, nil
}

// MarkProcessed moves the file into processed/.
func (l *Local) MarkProcessed(_ context.Context, ref string) error {
	dst, err := fileutil.MoveFile(ref, filepath.Join(l.dir, processedDir))
	if err != nil {
		return fmt.Errorf("move processed file: %w", err)
	}
	l.logger.Debug("moved processed file", "from", ref, "to", dst)
	return nil
}

// Watch calls fn for each .eml file created or rewritten in the drop
// directory until ctx ends. Events for a file are coalesced until it has
// been quiet for the settle interval, so fn sees complete files.
func (l *Local) Watch(ctx context.Context, fn func(path string)) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create watcher: %w", err)
	}
	defer watcher.Close()

	if err := watcher.Add(l.dir); err != nil {
		return fmt.Errorf("watch %s: %w", l.dir, err)
	}
	l.logger.Info("watching inbox", "dir", l.dir)

	ready := make(chan string)
	pending := make(map[string]*time.Timer)
	defer func() {
		for _, t := range pending {
			t.Stop()
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return nil

		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if !isEML(event.Name) || event.Op&(fsnotify.Create|fsnotify.Write) == 0 {
				continue
			}
			path := event.Name
			if t, ok := pending[path]; ok {
				t.Reset(l.settle)
				continue
			}
			pending[path] = time.AfterFunc(l.settle, func() {
				select {
				case ready <- path:
				case <-ctx.Done():
				}
			})

		case path := <-ready:
			delete(pending, path)
			if _, err := os.Stat(path); err != nil {
				continue
			}
			fn(path)

		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			l.logger.Warn("watcher error", "error", err)
		}
	}
}

// ReadLocalFile reads one .eml file. A missing or unreadable file is an
// error; malformed content is not.
func ReadLocalFile(path string) (*RawMessage, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", path, err)
	}
	stem := strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
	return &RawMessage{
		Record: mime.ParseRecord(raw, "local-"+stem),
		Ref:    path,
		Source: LocalName,
	}, nil
}

func isEML(name string) bool {
	return strings.EqualFold(filepath.Ext(name), ".eml")
}
