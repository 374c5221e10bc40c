// Package gmail provides a Gmail API client with rate limiting and retry logic.
package gmail

import (
	"context"
	"fmt"
)

// UnreadLabel is the system label Gmail uses for unread messages.
const UnreadLabel = "UNREAD"

// API defines the Gmail operations projmail needs.
// This interface enables mocking for tests without hitting the real API.
type API interface {
	// GetProfile returns the authenticated user's profile.
	GetProfile(ctx context.Context) (*Profile, error)

	// ListMessages returns message IDs matching the query.
	// Use pageToken for pagination. Returns next page token if more results exist.
	ListMessages(ctx context.Context, query string, pageToken string) (*MessageListResponse, error)

	// GetMessageRaw fetches a single message with raw MIME data.
	GetMessageRaw(ctx context.Context, messageID string) (*RawMessage, error)

	// GetMessagesRawBatch fetches multiple messages in parallel with rate limiting.
	// Returns results in the same order as input IDs. Failed fetches return nil.
	GetMessagesRawBatch(ctx context.Context, messageIDs []string) ([]*RawMessage, error)

	// ModifyLabels adds and removes labels on one message.
	ModifyLabels(ctx context.Context, messageID string, add, remove []string) error

	// Close releases any resources held by the client.
	Close() error
}

// Profile represents a Gmail user profile.
type Profile struct {
	EmailAddress  string
	MessagesTotal int64
	ThreadsTotal  int64
}

// MessageListResponse contains a page of message IDs.
type MessageListResponse struct {
	Messages           []MessageID
	NextPageToken      string
	ResultSizeEstimate int64
}

// MessageID represents a message reference from list operations.
type MessageID struct {
	ID       string
	ThreadID string
}

// RawMessage contains the raw MIME data for a message.
type RawMessage struct {
	ID           string
	ThreadID     string
	LabelIDs     []string
	Snippet      string
	InternalDate int64 // Unix milliseconds
	Raw          []byte
}

// ListIDs pages through ListMessages until max IDs are collected or the
// result set is exhausted. max <= 0 means no limit.
func ListIDs(ctx context.Context, api API, query string, max int) ([]string, error) {
	var ids []string
	pageToken := ""
	for {
		resp, err := api.ListMessages(ctx, query, pageToken)
		if err != nil {
			return nil, fmt.Errorf("list messages: %w", err)
		}
		for _, m := range resp.Messages {
			ids = append(ids, m.ID)
			if max > 0 && len(ids) >= max {
				return ids, nil
			}
		}
		if resp.NextPageToken == "" {
			return ids, nil
		}
		pageToken = resp.NextPageToken
	}
}

// MarkRead removes the UNREAD label from a message.
func MarkRead(ctx context.Context, api API, messageID string) error {
	return api.ModifyLabels(ctx, messageID, nil, []string{UnreadLabel})
}
