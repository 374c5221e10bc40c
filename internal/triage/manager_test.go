package triage

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/wesm/projmail/internal/mime"
	"github.com/wesm/projmail/internal/source"
	"github.com/wesm/projmail/internal/store"
	"github.com/wesm/projmail/internal/testutil"
	testemail "github.com/wesm/projmail/internal/testutil/email"
)

func newManager(t *testing.T) (*Manager, *store.Store, string) {
	t.Helper()
	st := testutil.NewTestStore(t)
	rawDir := filepath.Join(t.TempDir(), "raw")
	return NewManager(st, rawDir), st, rawDir
}

func rawMessage(raw []byte, ref string) *source.RawMessage {
	return &source.RawMessage{Record: mime.ParseRecord(raw, "test-"+ref), Ref: ref, Source: "fake"}
}

func TestIngest_StoresAndArchives(t *testing.T) {
	m, st, rawDir := newManager(t)
	raw := testemail.NewMessage().
		From(`"Ann Lee" <Ann@Example.com>`).
		Subject("Kickoff").
		MessageID("<kick@off>").
		Body("Let's   start\n\nthe project.").
		Bytes()

	res, err := m.Ingest(context.Background(), rawMessage(raw, "1"))
	if err != nil {
		t.Fatalf("Ingest() error = %v", err)
	}
	if !res.Created || res.Skipped {
		t.Errorf("result = %+v, want created", res)
	}
	msg := res.Message
	if msg.ExternalID != "<kick@off>" || msg.Subject != "Kickoff" || msg.Status != store.StatusUnassigned {
		t.Errorf("message = %+v", msg)
	}
	if msg.Snippet != "Let's start the project." {
		t.Errorf("Snippet = %q", msg.Snippet)
	}

	wantPath := filepath.Join(rawDir, SafeName("<kick@off>")+".eml")
	if !msg.RawPath.Valid || msg.RawPath.String != wantPath {
		t.Errorf("RawPath = %v, want %s", msg.RawPath, wantPath)
	}
	data, err := os.ReadFile(wantPath)
	testutil.MustNoErr(t, err, "read archived raw")
	if string(data) != string(raw) {
		t.Error("archived bytes differ from input")
	}

	c, err := st.GetContactByEmail("ann@example.com")
	testutil.MustNoErr(t, err, "GetContactByEmail")
	if c.Name.String != "Ann Lee" {
		t.Errorf("contact name = %q", c.Name.String)
	}

	again, err := m.Ingest(context.Background(), rawMessage(raw, "1"))
	testutil.MustNoErr(t, err, "re-ingest")
	if again.Created || again.Message.ID != msg.ID {
		t.Errorf("re-ingest = %+v, want update of %d", again, msg.ID)
	}
}

func TestIngest_SkipsIgnoredSender(t *testing.T) {
	m, st, rawDir := newManager(t)
	testutil.MustNoErr(t, st.AddIgnoredSender("spam@example.com"), "AddIgnoredSender")

	raw := testemail.NewMessage().From("SPAM@example.com").Bytes()
	res, err := m.Ingest(context.Background(), rawMessage(raw, "1"))
	if err != nil {
		t.Fatalf("Ingest() error = %v", err)
	}
	if !res.Skipped || res.Message != nil {
		t.Errorf("result = %+v, want skipped", res)
	}
	stats, err := st.GetStats()
	testutil.MustNoErr(t, err, "GetStats")
	if stats.MessageCount != 0 {
		t.Errorf("MessageCount = %d, want 0", stats.MessageCount)
	}
	testutil.MustNotExist(t, rawDir)
}

func TestIngest_StructuredRecordWithoutRaw(t *testing.T) {
	m, _, _ := newManager(t)
	res, err := m.Ingest(context.Background(), &source.RawMessage{Record: mime.Record{
		Sender:  "Bob <bob@example.com>",
		Subject: "No raw",
		Body:    "plain body",
	}})
	if err != nil {
		t.Fatalf("Ingest() error = %v", err)
	}
	msg := res.Message
	if !strings.HasPrefix(msg.ExternalID, "synth-") {
		t.Errorf("ExternalID = %q, want synthesized", msg.ExternalID)
	}
	if msg.RawPath.Valid || msg.Content.String != "plain body" {
		t.Errorf("RawPath=%v Content=%v", msg.RawPath, msg.Content)
	}
}

func TestIngestFile(t *testing.T) {
	m, _, _ := newManager(t)
	dir := t.TempDir()
	path := testutil.WriteFile(t, dir, "note.eml", testemail.NewMessage().Subject("From disk").Bytes())

	res, err := m.IngestFile(context.Background(), path)
	if err != nil {
		t.Fatalf("IngestFile() error = %v", err)
	}
	if res.Message.ExternalID != "local-note" {
		t.Errorf("ExternalID = %q, want local-note", res.Message.ExternalID)
	}

	if _, err := m.IngestFile(context.Background(), filepath.Join(dir, "missing.eml")); err == nil {
		t.Error("expected error for missing file")
	}
}

func TestSafeName(t *testing.T) {
	tests := []struct{ in, prefix string }{
		{"<abc@example.com>", "abc_example.com-"},
		{"local-invoice", "local-invoice-"},
		{"../../etc/passwd", "_.._etc_passwd-"},
		{"", "message-"},
		{"...", "message-"},
		{strings.Repeat("x", 300), strings.Repeat("x", maxRawName) + "-"},
	}
	for _, tt := range tests {
		got := SafeName(tt.in)
		if !strings.HasPrefix(got, tt.prefix) || len(got) != len(tt.prefix)+12 {
			t.Errorf("SafeName(%q) = %q, want %q plus a 12-char hash", tt.in, got, tt.prefix)
		}
		if strings.ContainsAny(got, "/\\<>@") {
			t.Errorf("SafeName(%q) = %q contains unsafe characters", tt.in, got)
		}
		if again := SafeName(tt.in); again != got {
			t.Errorf("SafeName(%q) not stable: %q then %q", tt.in, got, again)
		}
	}

	collide := [][2]string{
		{"<a+b@x>", "<a=b@x>"},
		{strings.Repeat("y", 200) + "1", strings.Repeat("y", 200) + "2"},
		{"<abc@x>", "abc@x"},
	}
	for _, pair := range collide {
		if SafeName(pair[0]) == SafeName(pair[1]) {
			t.Errorf("SafeName(%q) == SafeName(%q) = %q", pair[0], pair[1], SafeName(pair[0]))
		}
	}
}

func TestIngest_SimilarIDsKeepSeparateArchives(t *testing.T) {
	m, st, _ := newManager(t)
	rawA := testemail.NewMessage().MessageID("<a+b@x>").Subject("A").Body("message A").Bytes()
	rawB := testemail.NewMessage().MessageID("<a=b@x>").Subject("B").Body("message B").Bytes()

	resA, err := m.Ingest(context.Background(), rawMessage(rawA, "a"))
	testutil.MustNoErr(t, err, "Ingest A")
	resB, err := m.Ingest(context.Background(), rawMessage(rawB, "b"))
	testutil.MustNoErr(t, err, "Ingest B")

	if resA.Message.RawPath.String == resB.Message.RawPath.String {
		t.Fatalf("both messages archived to %s", resA.Message.RawPath.String)
	}

	msgA, err := st.GetMessage(resA.Message.ID)
	testutil.MustNoErr(t, err, "GetMessage A")
	data, err := os.ReadFile(msgA.RawPath.String)
	testutil.MustNoErr(t, err, "read archive A")
	if string(data) != string(rawA) {
		t.Error("message A archive holds another message's bytes")
	}
}

// fakeSource serves fixed messages and records MarkProcessed calls.
type fakeSource struct {
	name    string
	msgs    []*source.RawMessage
	err     error
	marked  []string
	markErr error
}

func (f *fakeSource) Name() string     { return f.name }
func (f *fakeSource) Configured() bool { return true }
func (f *fakeSource) FetchUnread(_ context.Context, max int) ([]*source.RawMessage, error) {
	if f.err != nil {
		return nil, f.err
	}
	if max > 0 && len(f.msgs) > max {
		return f.msgs[:max], nil
	}
	return f.msgs, nil
}
func (f *fakeSource) MarkProcessed(_ context.Context, ref string) error {
	f.marked = append(f.marked, ref)
	return f.markErr
}

func TestFetchAll(t *testing.T) {
	m, st, _ := newManager(t)
	testutil.MustNoErr(t, st.AddIgnoredSender("spam@example.com"), "AddIgnoredSender")
	existing := testemail.NewMessage().MessageID("<old@x>").Bytes()
	_, err := m.Ingest(context.Background(), rawMessage(existing, "0"))
	testutil.MustNoErr(t, err, "seed")

	good := &fakeSource{name: "good", msgs: []*source.RawMessage{
		rawMessage(testemail.NewMessage().MessageID("<new@x>").Bytes(), "a"),
		rawMessage(existing, "b"),
		rawMessage(testemail.NewMessage().From("spam@example.com").MessageID("<spam@x>").Bytes(), "c"),
	}, markErr: errors.New("flag failed")}
	broken := &fakeSource{name: "broken", err: errors.New("offline")}
	limited := &fakeSource{name: "limited", msgs: []*source.RawMessage{
		rawMessage(testemail.NewMessage().MessageID("<l1@x>").Bytes(), "l1"),
		rawMessage(testemail.NewMessage().MessageID("<l2@x>").Bytes(), "l2"),
	}}

	sum, err := m.FetchAll(context.Background(), []source.Source{good, broken, limited}, 1)
	if err != nil {
		t.Fatalf("FetchAll() error = %v", err)
	}
	// max=1 truncates good to its first message too.
	if len(sum.Sources) != 3 {
		t.Fatalf("sources = %d", len(sum.Sources))
	}
	if s := sum.Sources[0]; s.Fetched != 1 || s.Created != 1 {
		t.Errorf("good stats = %+v", s)
	}
	if s := sum.Sources[1]; s.Err == nil {
		t.Errorf("broken stats = %+v, want error", s)
	}
	if s := sum.Sources[2]; s.Created != 1 {
		t.Errorf("limited stats = %+v", s)
	}
	testutil.AssertStrings(t, good.marked, "a")
	testutil.AssertStrings(t, limited.marked, "l1")
	if len(sum.Created) != 2 {
		t.Errorf("created = %d, want 2", len(sum.Created))
	}

	all, err := m.FetchAll(context.Background(), []source.Source{good}, 0)
	testutil.MustNoErr(t, err, "FetchAll unlimited")
	if s := all.Sources[0]; s.Fetched != 3 || s.Created != 0 || s.Updated != 2 || s.Skipped != 1 {
		t.Errorf("unlimited stats = %+v, want 2 updated 1 skipped", s)
	}
}

func TestIngestMbox(t *testing.T) {
	m, st, _ := newManager(t)
	testutil.MustNoErr(t, st.AddIgnoredSender("spam@example.com"), "AddIgnoredSender")

	var buf strings.Builder
	for _, from := range []string{"ann@example.com", "spam@example.com", "bob@example.com"} {
		buf.WriteString("From " + from + " Mon Jan  1 09:00:00 2024\n")
		buf.Write(testemail.NewMessage().From(from).Subject("Hello from " + from).Bytes())
		buf.WriteString("\n")
	}
	path := testutil.WriteFile(t, t.TempDir(), "export.mbox", []byte(buf.String()))

	var created, skipped []int
	err := m.IngestMbox(context.Background(), path, func(index int, res *IngestResult, err error) {
		if err != nil {
			t.Errorf("message %d: %v", index, err)
			return
		}
		switch {
		case res.Skipped:
			skipped = append(skipped, index)
		case res.Created:
			created = append(created, index)
		}
	})
	testutil.MustNoErr(t, err, "IngestMbox")

	if len(created) != 2 || created[0] != 1 || created[1] != 3 {
		t.Errorf("created = %v, want [1 3]", created)
	}
	if len(skipped) != 1 || skipped[0] != 2 {
		t.Errorf("skipped = %v, want [2]", skipped)
	}

	// Re-ingesting the same file updates instead of duplicating.
	var again int
	err = m.IngestMbox(context.Background(), path, func(_ int, res *IngestResult, err error) {
		if err == nil && res.Created {
			again++
		}
	})
	testutil.MustNoErr(t, err, "IngestMbox again")
	if again != 0 {
		t.Errorf("second run created %d messages, want 0", again)
	}
	msgs, err := st.ListMessages()
	testutil.MustNoErr(t, err, "ListMessages")
	if len(msgs) != 2 {
		t.Errorf("stored %d messages, want 2", len(msgs))
	}
}

func TestIngestMbox_MissingFile(t *testing.T) {
	m, _, _ := newManager(t)
	err := m.IngestMbox(context.Background(), filepath.Join(t.TempDir(), "none.mbox"), func(int, *IngestResult, error) {
		t.Error("callback should not run")
	})
	if !errors.Is(err, os.ErrNotExist) {
		t.Errorf("err = %v, want ErrNotExist", err)
	}
}
