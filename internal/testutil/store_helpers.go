package testutil

import (
	"fmt"
	"path/filepath"
	"testing"
	"time"

	"github.com/wesm/projmail/internal/store"
)

// NewTestStore creates a temporary database for testing.
// The database is automatically cleaned up when the test completes.
func NewTestStore(t *testing.T) *store.Store {
	t.Helper()

	dbPath := filepath.Join(t.TempDir(), "test.db")
	st, err := store.Open(dbPath)
	if err != nil {
		t.Fatalf("open store: %v", err)
	}

	t.Cleanup(func() {
		st.Close()
	})

	if err := st.InitSchema(); err != nil {
		t.Fatalf("init schema: %v", err)
	}

	return st
}

// FixedClock returns a clock function that always reports t.
func FixedClock(t time.Time) func() time.Time {
	return func() time.Time { return t }
}

// MustCreateProject creates a project or fails the test.
func MustCreateProject(t *testing.T, st *store.Store, name string) *store.Project {
	t.Helper()
	p, err := st.CreateProject(name, "")
	MustNoErr(t, err, "CreateProject "+name)
	return p
}

// MustUpsertMessage stores a message from the given sender with a generated
// external id, or fails the test.
func MustUpsertMessage(t *testing.T, st *store.Store, externalID, senderName, senderEmail string) *store.Message {
	t.Helper()
	sender := senderEmail
	if senderName != "" {
		sender = fmt.Sprintf("%s <%s>", senderName, senderEmail)
	}
	msg, _, err := st.UpsertMessage(&store.MessageInput{
		ExternalID:  externalID,
		Sender:      sender,
		SenderName:  senderName,
		SenderEmail: senderEmail,
		Subject:     "Subject " + externalID,
		Snippet:     "Snippet " + externalID,
		Timestamp:   "Mon, 01 Jan 2024 12:00:00 +0000",
	})
	MustNoErr(t, err, "UpsertMessage "+externalID)
	return msg
}
