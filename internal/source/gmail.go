package source

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/wesm/projmail/internal/config"
	"github.com/wesm/projmail/internal/gmail"
	"github.com/wesm/projmail/internal/mime"
	"github.com/wesm/projmail/internal/oauth"
)

// GmailName is the name of the Gmail source.
const GmailName = "gmail"

// Gmail fetches unread inbox messages through the Gmail REST API and
// clears UNREAD once a message is processed.
type Gmail struct {
	query      string
	configured func() bool
	connect    func(ctx context.Context) (gmail.API, error)
	logger     *slog.Logger

	mu  sync.Mutex
	api gmail.API
}

// NewGmail wraps an existing API client.
func NewGmail(api gmail.API, query string, logger *slog.Logger) *Gmail {
	if logger == nil {
		logger = slog.Default()
	}
	return &Gmail{
		query:      query,
		configured: func() bool { return true },
		connect:    func(context.Context) (gmail.API, error) { return api, nil },
		logger:     logger,
	}
}

// newGmailFromConfig builds a source that authenticates lazily with the
// saved OAuth token. It is unconfigured when Gmail is disabled, the client
// secrets are unusable, or setup-gmail has not been run.
func newGmailFromConfig(cfg *config.Config, logger *slog.Logger) *Gmail {
	g := &Gmail{
		query:      cfg.Gmail.Query,
		configured: func() bool { return false },
		logger:     logger,
	}
	g.connect = func(context.Context) (gmail.API, error) {
		return nil, errors.New("gmail source is not configured")
	}
	if !cfg.Gmail.Enabled || cfg.OAuth.ClientSecrets == "" {
		return g
	}

	mgr, err := oauth.NewManager(cfg.OAuth.ClientSecrets, cfg.TokensDir(), logger)
	if err != nil {
		logger.Debug("gmail unavailable", "error", err)
		return g
	}
	qps := float64(cfg.Gmail.RateLimitQPS)
	g.configured = mgr.HasToken
	g.connect = func(ctx context.Context) (gmail.API, error) {
		ts, err := mgr.TokenSource(ctx)
		if err != nil {
			return nil, fmt.Errorf("gmail token: %w", err)
		}
		return gmail.NewClient(ts,
			gmail.WithLogger(logger),
			gmail.WithRateLimiter(gmail.NewRateLimiter(qps)),
		), nil
	}
	return g
}

// Name implements Source.
func (g *Gmail) Name() string { return GmailName }

// Configured implements Source.
func (g *Gmail) Configured() bool { return g.configured() }

func (g *Gmail) client(ctx context.Context) (gmail.API, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.api != nil {
		return g.api, nil
	}
	api, err := g.connect(ctx)
	if err != nil {
		return nil, err
	}
	g.api = api
	return api, nil
}

// FetchUnread lists messages matching the configured query and downloads
// them in parallel. Messages that fail to download are skipped.
func (g *Gmail) FetchUnread(ctx context.Context, max int) ([]*RawMessage, error) {
	api, err := g.client(ctx)
	if err != nil {
		return nil, err
	}
	ids, err := gmail.ListIDs(ctx, api, g.query, max)
	if err != nil {
		return nil, err
	}
	if len(ids) == 0 {
		return nil, nil
	}

	raws, err := api.GetMessagesRawBatch(ctx, ids)
	if err != nil {
		return nil, fmt.Errorf("fetch messages: %w", err)
	}

	out := make([]*RawMessage, 0, len(raws))
	for i, m := range raws {
		if m == nil {
			g.logger.Warn("gmail message not downloaded", "id", ids[i])
			continue
		}
		out = append(out, &RawMessage{
			Record: mime.ParseRecord(m.Raw, "gmail-"+m.ID),
			Ref:    m.ID,
			Source: GmailName,
		})
	}
	return out, nil
}

// MarkProcessed removes the UNREAD label.
func (g *Gmail) MarkProcessed(ctx context.Context, ref string) error {
	api, err := g.client(ctx)
	if err != nil {
		return err
	}
	return gmail.MarkRead(ctx, api, ref)
}

// Close releases the API client.
func (g *Gmail) Close() error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.api == nil {
		return nil
	}
	err := g.api.Close()
	g.api = nil
	return err
}
