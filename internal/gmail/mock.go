package gmail

import (
	"context"
	"fmt"
	"slices"
	"sync"
)

// MockAPI is a mock implementation of the Gmail API for testing.
type MockAPI struct {
	mu sync.Mutex

	// Profile to return
	Profile *Profile

	// Messages indexed by ID
	Messages map[string]*RawMessage

	// Message list pages - each page is a list of message IDs
	MessagePages [][]string

	// Error injection
	ProfileError      error
	ListMessagesError error
	GetMessageError   map[string]error // Per-message errors
	ModifyError       map[string]error // Per-message errors

	// Call tracking for assertions
	ListMessagesCalls int
	LastQuery         string
	GetMessageCalls   []string
	ModifyCalls       []LabelChange
}

// LabelChange records one ModifyLabels call.
type LabelChange struct {
	MessageID string
	Add       []string
	Remove    []string
}

// NewMockAPI creates a new mock API with empty state.
func NewMockAPI() *MockAPI {
	return &MockAPI{
		Messages:        make(map[string]*RawMessage),
		GetMessageError: make(map[string]error),
		ModifyError:     make(map[string]error),
	}
}

// GetProfile returns the mock profile.
func (m *MockAPI) GetProfile(ctx context.Context) (*Profile, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.ProfileError != nil {
		return nil, m.ProfileError
	}
	if m.Profile == nil {
		return &Profile{EmailAddress: "test@example.com", MessagesTotal: int64(len(m.Messages))}, nil
	}
	return m.Profile, nil
}

// ListMessages returns mock message IDs with pagination. Without configured
// pages it returns every unread message, sorted by ID.
func (m *MockAPI) ListMessages(ctx context.Context, query string, pageToken string) (*MessageListResponse, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.ListMessagesCalls++
	m.LastQuery = query

	if m.ListMessagesError != nil {
		return nil, m.ListMessagesError
	}

	if len(m.MessagePages) == 0 {
		var ids []string
		for id, msg := range m.Messages {
			if slices.Contains(msg.LabelIDs, UnreadLabel) {
				ids = append(ids, id)
			}
		}
		slices.Sort(ids)
		return &MessageListResponse{Messages: toMessageIDs(ids), ResultSizeEstimate: int64(len(ids))}, nil
	}

	pageNum := 0
	if pageToken != "" {
		if _, err := fmt.Sscanf(pageToken, "page_%d", &pageNum); err != nil {
			return nil, fmt.Errorf("invalid page token: %s", pageToken)
		}
	}
	if pageNum >= len(m.MessagePages) {
		return &MessageListResponse{}, nil
	}

	var next string
	if pageNum+1 < len(m.MessagePages) {
		next = fmt.Sprintf("page_%d", pageNum+1)
	}
	return &MessageListResponse{
		Messages:      toMessageIDs(m.MessagePages[pageNum]),
		NextPageToken: next,
	}, nil
}

func toMessageIDs(ids []string) []MessageID {
	out := make([]MessageID, len(ids))
	for i, id := range ids {
		out[i] = MessageID{ID: id, ThreadID: "thread_" + id}
	}
	return out
}

// GetMessageRaw returns a mock message.
func (m *MockAPI) GetMessageRaw(ctx context.Context, messageID string) (*RawMessage, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.GetMessageCalls = append(m.GetMessageCalls, messageID)

	if err := m.GetMessageError[messageID]; err != nil {
		return nil, err
	}
	msg, ok := m.Messages[messageID]
	if !ok {
		return nil, &NotFoundError{Path: "/messages/" + messageID}
	}
	return msg, nil
}

// GetMessagesRawBatch fetches multiple messages. Like the real client, a
// failed fetch leaves a nil entry instead of failing the batch.
func (m *MockAPI) GetMessagesRawBatch(ctx context.Context, messageIDs []string) ([]*RawMessage, error) {
	results := make([]*RawMessage, len(messageIDs))
	for i, id := range messageIDs {
		msg, err := m.GetMessageRaw(ctx, id)
		if err != nil {
			continue
		}
		results[i] = msg
	}
	return results, nil
}

// ModifyLabels records the change and applies it to the stored message.
func (m *MockAPI) ModifyLabels(ctx context.Context, messageID string, add, remove []string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.ModifyCalls = append(m.ModifyCalls, LabelChange{MessageID: messageID, Add: add, Remove: remove})

	if err := m.ModifyError[messageID]; err != nil {
		return err
	}
	msg, ok := m.Messages[messageID]
	if !ok {
		return &NotFoundError{Path: "/messages/" + messageID}
	}
	labels := slices.DeleteFunc(slices.Clone(msg.LabelIDs), func(l string) bool {
		return slices.Contains(remove, l)
	})
	for _, l := range add {
		if !slices.Contains(labels, l) {
			labels = append(labels, l)
		}
	}
	msg.LabelIDs = labels
	return nil
}

// Close is a no-op for the mock.
func (m *MockAPI) Close() error {
	return nil
}

// SetupMessages adds pre-built messages. Nil entries are skipped.
func (m *MockAPI) SetupMessages(msgs ...*RawMessage) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.Messages == nil {
		m.Messages = make(map[string]*RawMessage)
	}
	for _, msg := range msgs {
		if msg == nil {
			continue
		}
		m.Messages[msg.ID] = msg
	}
}

// AddUnread adds an unread inbox message.
func (m *MockAPI) AddUnread(id string, raw []byte) {
	m.SetupMessages(&RawMessage{
		ID:           id,
		ThreadID:     "thread_" + id,
		LabelIDs:     []string{"INBOX", UnreadLabel},
		Raw:          raw,
		InternalDate: 1704067200000, // 2024-01-01 00:00:00 UTC
	})
}

// Ensure MockAPI implements API interface.
var _ API = (*MockAPI)(nil)
