// Package triage ingests messages from sources into the store and walks
// the user through assigning, snoozing or ignoring them.
package triage

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/wesm/projmail/internal/fileutil"
	"github.com/wesm/projmail/internal/mbox"
	"github.com/wesm/projmail/internal/mime"
	"github.com/wesm/projmail/internal/source"
	"github.com/wesm/projmail/internal/store"
)

// maxRawName bounds the archived file name derived from an external id.
const maxRawName = 120

// IngestResult describes what Ingest did with one message.
type IngestResult struct {
	Message *store.Message // nil when Skipped
	Created bool
	Skipped bool // sender is on the ignore list
	Sender  string
}

// SourceStats counts one source's contribution to a FetchAll run.
type SourceStats struct {
	Source  string
	Fetched int
	Created int
	Updated int
	Skipped int
	Errors  int
	Err     error // FetchUnread failure; the source was skipped
}

// FetchSummary is the result of FetchAll.
type FetchSummary struct {
	Created []*store.Message
	Sources []SourceStats
}

// Manager normalizes provider messages, archives their raw bytes and
// upserts them into the store.
type Manager struct {
	store  *store.Store
	rawDir string
	logger *slog.Logger
}

// NewManager creates a Manager that archives raw messages under rawDir.
// An empty rawDir disables archiving.
func NewManager(st *store.Store, rawDir string) *Manager {
	return &Manager{store: st, rawDir: rawDir, logger: slog.Default()}
}

// WithLogger sets the logger.
func (m *Manager) WithLogger(logger *slog.Logger) *Manager {
	m.logger = logger
	return m
}

// Ingest stores one message. Messages from ignored senders are skipped
// without writing anything.
func (m *Manager) Ingest(ctx context.Context, raw *source.RawMessage) (*IngestResult, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	norm := mime.NormalizeRecord(raw.Record)
	name, email := mime.SplitAddress(norm.Sender)
	result := &IngestResult{Sender: email}

	if email != "" {
		ignored, err := m.store.IsSenderIgnored(email)
		if err != nil {
			return nil, fmt.Errorf("check ignored sender: %w", err)
		}
		if ignored {
			m.logger.Debug("skipping ignored sender", "sender", email, "external_id", norm.ExternalID)
			result.Skipped = true
			return result, nil
		}
	}

	in := &store.MessageInput{
		Type:        store.TypeEmail,
		ExternalID:  norm.ExternalID,
		Sender:      norm.Sender,
		SenderName:  name,
		SenderEmail: email,
		Subject:     norm.Subject,
		Snippet:     norm.Snippet,
		Timestamp:   norm.Timestamp,
	}
	if len(raw.Raw) > 0 {
		in.Content = mime.PlainContent(raw.Raw)
		path, err := m.archive(norm.ExternalID, raw.Raw)
		if err != nil {
			return nil, err
		}
		in.RawPath = path
	} else {
		in.Content = raw.Body
	}

	msg, created, err := m.store.UpsertMessage(in)
	if err != nil {
		return nil, fmt.Errorf("store message %s: %w", norm.ExternalID, err)
	}
	result.Message = msg
	result.Created = created
	return result, nil
}

// IngestFile reads and ingests one .eml file. A missing file is an error.
func (m *Manager) IngestFile(ctx context.Context, path string) (*IngestResult, error) {
	raw, err := source.ReadLocalFile(path)
	if err != nil {
		return nil, err
	}
	return m.Ingest(ctx, raw)
}

// MboxSource names messages ingested from mbox files.
const MboxSource = "mbox"

// IngestMbox ingests every message in an mbox file, calling fn with the
// 1-based position and outcome of each. Per-message failures go to fn;
// the returned error is for failures that stop the whole file.
func (m *Manager) IngestMbox(ctx context.Context, path string, fn func(index int, res *IngestResult, err error)) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()

	r := mbox.NewReader(f)
	for index := 1; ; index++ {
		if err := ctx.Err(); err != nil {
			return err
		}
		msg, err := r.Next()
		if err == io.EOF {
			return nil
		}
		if errors.Is(err, mbox.ErrMessageTooLarge) {
			fn(index, nil, err)
			continue
		}
		if err != nil {
			return fmt.Errorf("read %s: %w", path, err)
		}

		res, err := m.Ingest(ctx, &source.RawMessage{
			Record: mime.ParseRecord(msg.Raw, ""),
			Ref:    fmt.Sprintf("%s#%d", path, msg.Index),
			Source: MboxSource,
		})
		fn(index, res, err)
	}
}

// archive writes the raw bytes to <rawDir>/<safe-id>.eml with owner-only
// permissions and returns the path.
func (m *Manager) archive(externalID string, data []byte) (string, error) {
	if m.rawDir == "" {
		return "", nil
	}
	if err := fileutil.SecureMkdirAll(m.rawDir, 0700); err != nil {
		return "", fmt.Errorf("create raw dir: %w", err)
	}
	path := filepath.Join(m.rawDir, SafeName(externalID)+".eml")
	if err := fileutil.SecureWriteFile(path, data, 0600); err != nil {
		return "", fmt.Errorf("archive raw message: %w", err)
	}
	return path, nil
}

// SafeName maps an external id to a file name: characters outside
// [A-Za-z0-9._-] become '_', the readable part is capped at maxRawName
// bytes, and a hash of the exact id is appended so distinct ids never
// share a name.
func SafeName(externalID string) string {
	sum := sha256.Sum256([]byte(externalID))
	return readableName(externalID) + "-" + hex.EncodeToString(sum[:6])
}

func readableName(externalID string) string {
	id := strings.Trim(strings.TrimSpace(externalID), "<>")
	safe := strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
			return r
		case r == '.' || r == '-' || r == '_':
			return r
		}
		return '_'
	}, id)
	safe = strings.TrimLeft(safe, ".")
	if len(safe) > maxRawName {
		safe = safe[:maxRawName]
	}
	if safe == "" {
		safe = "message"
	}
	return safe
}

// FetchAll pulls up to max unread messages from each source and ingests
// them. A failing source is logged and skipped; a failing message is
// logged and the batch continues. Each message is marked processed on
// its provider once it has been stored or skipped.
func (m *Manager) FetchAll(ctx context.Context, sources []source.Source, max int) (*FetchSummary, error) {
	summary := &FetchSummary{}
	for _, src := range sources {
		if err := ctx.Err(); err != nil {
			return summary, err
		}
		stats := m.fetchSource(ctx, src, max, summary)
		summary.Sources = append(summary.Sources, stats)
	}
	return summary, nil
}

func (m *Manager) fetchSource(ctx context.Context, src source.Source, max int, summary *FetchSummary) SourceStats {
	stats := SourceStats{Source: src.Name()}
	log := m.logger.With("source", src.Name())

	msgs, err := src.FetchUnread(ctx, max)
	if err != nil {
		log.Warn("fetch failed, skipping source", "error", err)
		stats.Err = err
		return stats
	}
	stats.Fetched = len(msgs)
	log.Info("fetched messages", "count", len(msgs))

	for _, raw := range msgs {
		res, err := m.Ingest(ctx, raw)
		if err != nil {
			if errors.Is(err, context.Canceled) {
				stats.Err = err
				return stats
			}
			log.Warn("ingest failed", "ref", raw.Ref, "error", err)
			stats.Errors++
			continue
		}
		switch {
		case res.Skipped:
			stats.Skipped++
		case res.Created:
			stats.Created++
			summary.Created = append(summary.Created, res.Message)
		default:
			stats.Updated++
		}

		if err := src.MarkProcessed(ctx, raw.Ref); err != nil {
			log.Warn("mark processed failed", "ref", raw.Ref, "error", err)
		}
	}
	return stats
}
