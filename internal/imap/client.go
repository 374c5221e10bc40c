package imap

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	imap "github.com/emersion/go-imap/v2"
	"github.com/emersion/go-imap/v2/imapclient"
	"github.com/emersion/go-sasl"
)

// Option is a functional option for Client.
type Option func(*Client)

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(c *Client) { c.logger = logger }
}

// Message is one fetched message.
type Message struct {
	Ref          string
	UID          imap.UID
	InternalDate time.Time
	Raw          []byte
}

// Client reads unseen messages from one IMAP account. The connection is
// opened lazily and reused until Close.
type Client struct {
	config   *Config
	password string
	logger   *slog.Logger

	mu              sync.Mutex
	conn            *imapclient.Client
	selectedMailbox string
}

// NewClient creates a new IMAP client.
func NewClient(cfg *Config, password string, opts ...Option) *Client {
	c := &Client{
		config:   cfg,
		password: password,
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// connect establishes and authenticates the IMAP connection. Caller must hold mu.
func (c *Client) connect(ctx context.Context) error {
	if c.conn != nil {
		return nil
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	addr := c.config.Addr()
	c.logger.Debug("connecting to IMAP server", "addr", addr, "tls", c.config.TLS, "starttls", c.config.STARTTLS)

	imapOpts := &imapclient.Options{}
	var (
		conn *imapclient.Client
		err  error
	)
	switch {
	case c.config.TLS:
		conn, err = imapclient.DialTLS(addr, imapOpts)
	case c.config.STARTTLS:
		conn, err = imapclient.DialStartTLS(addr, imapOpts)
	default:
		conn, err = imapclient.DialInsecure(addr, imapOpts)
	}
	if err != nil {
		return fmt.Errorf("dial IMAP %s: %w", addr, err)
	}

	if err := c.authenticate(conn); err != nil {
		_ = conn.Close()
		return err
	}

	c.conn = conn
	c.selectedMailbox = ""
	c.logger.Debug("connected and authenticated", "user", c.config.Username)
	return nil
}

// authenticate prefers SASL PLAIN when the server advertises it and falls
// back to LOGIN otherwise.
func (c *Client) authenticate(conn *imapclient.Client) error {
	caps := conn.Caps()
	if caps.Has(imap.AuthCap(sasl.Plain)) {
		if err := conn.Authenticate(sasl.NewPlainClient("", c.config.Username, c.password)); err != nil {
			return fmt.Errorf("IMAP AUTHENTICATE PLAIN: %w", err)
		}
		return nil
	}
	if caps.Has(imap.CapLoginDisabled) {
		return fmt.Errorf("IMAP server %s disables LOGIN and does not offer PLAIN", c.config.Host)
	}
	if err := conn.Login(c.config.Username, c.password).Wait(); err != nil {
		return fmt.Errorf("IMAP login: %w", err)
	}
	return nil
}

// withConn runs fn with the active connection, connecting if necessary.
// It holds the mutex for the duration of fn.
func (c *Client) withConn(ctx context.Context, fn func(*imapclient.Client) error) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.connect(ctx); err != nil {
		return err
	}
	return fn(c.conn)
}

// selectMailbox selects a mailbox if not already selected. Caller must hold mu.
func (c *Client) selectMailbox(mailbox string) error {
	if c.selectedMailbox == mailbox {
		return nil
	}
	if _, err := c.conn.Select(mailbox, nil).Wait(); err != nil {
		return fmt.Errorf("SELECT %q: %w", mailbox, err)
	}
	c.selectedMailbox = mailbox
	return nil
}

// FetchUnseen returns up to max messages without the \Seen flag, oldest
// UID first. Bodies are fetched with BODY.PEEK[] so reading does not mark
// them seen. max <= 0 means no limit.
func (c *Client) FetchUnseen(ctx context.Context, mailbox string, max int) ([]*Message, error) {
	var out []*Message
	err := c.withConn(ctx, func(conn *imapclient.Client) error {
		if err := c.selectMailbox(mailbox); err != nil {
			return err
		}

		criteria := &imap.SearchCriteria{NotFlag: []imap.Flag{imap.FlagSeen}}
		searchData, err := conn.UIDSearch(criteria, &imap.SearchOptions{ReturnAll: true}).Wait()
		if err != nil {
			return fmt.Errorf("UID SEARCH UNSEEN: %w", err)
		}
		uidSet, ok := searchData.All.(imap.UIDSet)
		if !ok {
			return nil
		}
		uids, _ := uidSet.Nums()
		if max > 0 && len(uids) > max {
			uids = uids[:max]
		}
		if len(uids) == 0 {
			return nil
		}

		var fetchSet imap.UIDSet
		for _, uid := range uids {
			fetchSet.AddNum(uid)
		}
		fetchOpts := &imap.FetchOptions{
			UID:          true,
			InternalDate: true,
			BodySection:  []*imap.FetchItemBodySection{{Peek: true}},
		}
		msgs, err := conn.Fetch(fetchSet, fetchOpts).Collect()
		if err != nil {
			return fmt.Errorf("UID FETCH: %w", err)
		}

		for _, buf := range msgs {
			var raw []byte
			if len(buf.BodySection) > 0 {
				raw = buf.BodySection[0].Bytes
			}
			if len(raw) == 0 {
				c.logger.Warn("empty IMAP message body", "mailbox", mailbox, "uid", buf.UID)
				continue
			}
			out = append(out, &Message{
				Ref:          MessageRef(mailbox, buf.UID),
				UID:          buf.UID,
				InternalDate: buf.InternalDate,
				Raw:          raw,
			})
		}
		c.logger.Debug("fetched unseen", "mailbox", mailbox, "count", len(out))
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// MarkSeen sets \Seen on the message a ref points to.
func (c *Client) MarkSeen(ctx context.Context, ref string) error {
	mailbox, uid, err := ParseMessageRef(ref)
	if err != nil {
		return err
	}
	return c.withConn(ctx, func(conn *imapclient.Client) error {
		if err := c.selectMailbox(mailbox); err != nil {
			return err
		}
		var uidSet imap.UIDSet
		uidSet.AddNum(uid)
		if err := conn.Store(uidSet, &imap.StoreFlags{
			Op:     imap.StoreFlagsAdd,
			Silent: true,
			Flags:  []imap.Flag{imap.FlagSeen},
		}, nil).Close(); err != nil {
			return fmt.Errorf("UID STORE \\Seen: %w", err)
		}
		return nil
	})
}

// Close logs out and disconnects from the IMAP server.
func (c *Client) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.conn == nil {
		return nil
	}
	conn := c.conn
	c.conn = nil
	c.selectedMailbox = ""
	return conn.Logout().Wait()
}
