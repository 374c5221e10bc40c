package source

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/wesm/projmail/internal/emlx"
	"github.com/wesm/projmail/internal/mime"
)

// AppleMailName is the name of the Apple Mail source.
const AppleMailName = "applemail"

// AppleMail reads .emlx files from the local Apple Mail store. Apple Mail
// owns those files, so processed messages are tracked in the ledger
// instead of being flagged.
type AppleMail struct {
	mailDir   string
	mailboxes []string
	enabled   bool
	ledger    Ledger
	logger    *slog.Logger
}

// NewAppleMail creates an Apple Mail source reading the named mailboxes
// under mailDir. An empty mailbox list reads every mailbox.
func NewAppleMail(mailDir string, mailboxes []string, enabled bool, ledger Ledger, logger *slog.Logger) *AppleMail {
	if logger == nil {
		logger = slog.Default()
	}
	return &AppleMail{
		mailDir:   mailDir,
		mailboxes: mailboxes,
		enabled:   enabled,
		ledger:    ledger,
		logger:    logger,
	}
}

// Name implements Source.
func (a *AppleMail) Name() string { return AppleMailName }

// Configured reports whether the source is enabled and the mail store exists.
func (a *AppleMail) Configured() bool {
	if !a.enabled || a.ledger == nil || a.mailDir == "" {
		return false
	}
	info, err := os.Stat(a.mailDir)
	return err == nil && info.IsDir()
}

func (a *AppleMail) wants(mb emlx.Mailbox) bool {
	if len(a.mailboxes) == 0 {
		return true
	}
	base := mb.Name
	if i := strings.LastIndexByte(base, '/'); i >= 0 {
		base = base[i+1:]
	}
	for _, want := range a.mailboxes {
		if strings.EqualFold(want, mb.Name) || strings.EqualFold(want, base) {
			return true
		}
	}
	return false
}

// FetchUnread returns messages Apple Mail has not marked read and that
// are not yet in the ledger. Unparseable files are logged and skipped.
func (a *AppleMail) FetchUnread(ctx context.Context, max int) ([]*RawMessage, error) {
	if a.ledger == nil {
		return nil, errors.New("applemail: no ledger")
	}
	mailboxes, err := emlx.DiscoverMailboxes(a.mailDir)
	if err != nil {
		return nil, err
	}

	var out []*RawMessage
	for _, mb := range mailboxes {
		if !a.wants(mb) {
			continue
		}
		for _, path := range mb.Paths() {
			if err := ctx.Err(); err != nil {
				return out, err
			}
			if max > 0 && len(out) >= max {
				return out, nil
			}

			done, err := a.ledger.IsProcessed(AppleMailName, path)
			if err != nil {
				return out, fmt.Errorf("check ledger: %w", err)
			}
			if done {
				continue
			}

			msg, err := emlx.ParseFile(path)
			if err != nil {
				a.logger.Warn("skipping unreadable emlx", "path", path, "error", err)
				continue
			}
			if msg.Read() {
				continue
			}
			out = append(out, a.toRaw(path, msg))
		}
	}
	return out, nil
}

func (a *AppleMail) toRaw(path string, msg *emlx.Message) *RawMessage {
	stem := strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
	rec := mime.ParseRecord(msg.Raw, "applemail-"+stem)
	if strings.TrimSpace(rec.Timestamp) == "" && !msg.DateSent.IsZero() {
		rec.Timestamp = msg.DateSent.Format(time.RFC1123Z)
	}
	return &RawMessage{Record: rec, Ref: path, Source: AppleMailName}
}

// MarkProcessed records the file in the ledger.
func (a *AppleMail) MarkProcessed(_ context.Context, ref string) error {
	if a.ledger == nil {
		return errors.New("applemail: no ledger")
	}
	return a.ledger.MarkProcessed(AppleMailName, ref)
}
