package source

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/wesm/projmail/internal/config"
	"github.com/wesm/projmail/internal/imap"
	"github.com/wesm/projmail/internal/mime"
)

// IMAPPrefix prefixes the names of IMAP sources, one per account.
const IMAPPrefix = "imap:"

// imapClient is the part of *imap.Client the source uses.
type imapClient interface {
	FetchUnseen(ctx context.Context, mailbox string, max int) ([]*imap.Message, error)
	MarkSeen(ctx context.Context, ref string) error
	Close() error
}

// IMAP fetches unseen messages from one account mailbox and sets \Seen
// once a message is processed.
type IMAP struct {
	name       string
	mailbox    string
	configured bool
	dial       func() (imapClient, error)
	logger     *slog.Logger

	mu     sync.Mutex
	client imapClient
}

func newIMAPFromConfig(acct config.IMAPConfig, tokensDir string, logger *slog.Logger) *IMAP {
	cfg := &imap.Config{
		Host:     acct.Host,
		Port:     acct.Port,
		TLS:      acct.TLS,
		STARTTLS: acct.STARTTLS,
		Username: acct.Username,
	}
	id := cfg.Identifier()
	return &IMAP{
		name:       IMAPPrefix + acct.Name,
		mailbox:    acct.Mailbox,
		configured: acct.Enabled && imap.HasCredentials(tokensDir, id),
		logger:     logger,
		dial: func() (imapClient, error) {
			password, err := imap.LoadCredentials(tokensDir, id)
			if err != nil {
				return nil, err
			}
			return imap.NewClient(cfg, password, imap.WithLogger(logger)), nil
		},
	}
}

// Name implements Source.
func (s *IMAP) Name() string { return s.name }

// Configured implements Source.
func (s *IMAP) Configured() bool { return s.configured }

func (s *IMAP) conn() (imapClient, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.client != nil {
		return s.client, nil
	}
	c, err := s.dial()
	if err != nil {
		return nil, err
	}
	s.client = c
	return c, nil
}

// FetchUnread implements Source.
func (s *IMAP) FetchUnread(ctx context.Context, max int) ([]*RawMessage, error) {
	c, err := s.conn()
	if err != nil {
		return nil, err
	}
	msgs, err := c.FetchUnseen(ctx, s.mailbox, max)
	if err != nil {
		return nil, err
	}
	out := make([]*RawMessage, 0, len(msgs))
	for _, m := range msgs {
		out = append(out, &RawMessage{
			Record: mime.ParseRecord(m.Raw, fmt.Sprintf("imap-%s-%d", s.mailbox, m.UID)),
			Ref:    m.Ref,
			Source: s.name,
		})
	}
	return out, nil
}

// MarkProcessed sets \Seen on the message.
func (s *IMAP) MarkProcessed(ctx context.Context, ref string) error {
	c, err := s.conn()
	if err != nil {
		return err
	}
	return c.MarkSeen(ctx, ref)
}

// Close logs out of the server.
func (s *IMAP) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.client == nil {
		return nil
	}
	err := s.client.Close()
	s.client = nil
	return err
}
