// Package source adapts mail providers to a common fetch interface. Each
// Source yields unread messages as RawMessage values and can mark a
// message processed on the provider once it has been ingested.
package source

import (
	"context"
	"io"
	"log/slog"

	"github.com/wesm/projmail/internal/config"
	"github.com/wesm/projmail/internal/mime"
)

// Source is one mail provider.
type Source interface {
	// Name identifies the source in logs, flags and the processed ledger.
	Name() string

	// Configured reports whether the source can be fetched from.
	Configured() bool

	// FetchUnread returns up to max unprocessed messages. max <= 0 means
	// no limit.
	FetchUnread(ctx context.Context, max int) ([]*RawMessage, error)

	// MarkProcessed records on the provider that ref has been ingested.
	MarkProcessed(ctx context.Context, ref string) error
}

// RawMessage is a provider record plus the handle needed to mark it
// processed.
type RawMessage struct {
	mime.Record

	// Ref is the provider handle passed back to MarkProcessed.
	Ref string

	// Source is the name of the Source that produced the message.
	Source string
}

// Ledger tracks processed refs for providers that cannot flag messages
// themselves.
type Ledger interface {
	IsProcessed(source, ref string) (bool, error)
	MarkProcessed(source, ref string) error
}

// Deps carries what adapters need beyond the config file.
type Deps struct {
	Ledger Ledger
	Logger *slog.Logger
}

func (d Deps) logger() *slog.Logger {
	if d.Logger == nil {
		return slog.Default()
	}
	return d.Logger
}

// All builds every adapter the config describes, configured or not.
func All(cfg *config.Config, deps Deps) []Source {
	logger := deps.logger()
	sources := []Source{
		NewLocal(cfg.InboxDir(), logger),
		newGmailFromConfig(cfg, logger),
		NewAppleMail(cfg.AppleMail.MailDir, cfg.AppleMail.Mailboxes, cfg.AppleMail.Enabled, deps.Ledger, logger),
	}
	for _, acct := range cfg.IMAP {
		sources = append(sources, newIMAPFromConfig(acct, cfg.TokensDir(), logger))
	}
	return sources
}

// Available probes every adapter and returns the configured ones.
func Available(cfg *config.Config, deps Deps) []Source {
	var out []Source
	for _, s := range All(cfg, deps) {
		if s.Configured() {
			out = append(out, s)
		}
	}
	return out
}

// Info describes a source for listings.
type Info struct {
	Name       string `json:"name"`
	Configured bool   `json:"configured"`
}

// Describe returns listing info for sources.
func Describe(sources []Source) []Info {
	out := make([]Info, len(sources))
	for i, s := range sources {
		out[i] = Info{Name: s.Name(), Configured: s.Configured()}
	}
	return out
}

// CloseAll closes sources that hold connections.
func CloseAll(sources []Source, logger *slog.Logger) {
	for _, s := range sources {
		c, ok := s.(io.Closer)
		if !ok {
			continue
		}
		if err := c.Close(); err != nil && logger != nil {
			logger.Warn("close source", "source", s.Name(), "error", err)
		}
	}
}
