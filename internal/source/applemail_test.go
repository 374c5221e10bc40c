package source

import (
	"context"
	"fmt"
	"path/filepath"
	"testing"

	"github.com/wesm/projmail/internal/testutil"
	testemail "github.com/wesm/projmail/internal/testutil/email"
)

type memLedger map[string]bool

func (l memLedger) IsProcessed(source, ref string) (bool, error) { return l[source+"|"+ref], nil }
func (l memLedger) MarkProcessed(source, ref string) error {
	l[source+"|"+ref] = true
	return nil
}

func writeEmlx(t *testing.T, dir, name string, raw []byte, flags int, dateSent string) string {
	t.Helper()
	trailer := fmt.Sprintf(`<?xml version="1.0" encoding="UTF-8"?>
<plist version="1.0"><dict><key>flags</key><integer>%d</integer>%s</dict></plist>`, flags, dateSent)
	return testutil.WriteFile(t, dir, name, []byte(fmt.Sprintf("%d\n%s%s", len(raw), raw, trailer)))
}

func TestAppleMail_FetchUnread(t *testing.T) {
	mail := t.TempDir()
	inbox := filepath.Join(mail, "V10", "13C9A646-1A2B-4C3D-9E8F-E07FFBDDEED3", "INBOX.mbox", "Messages")
	archive := filepath.Join(mail, "V10", "13C9A646-1A2B-4C3D-9E8F-E07FFBDDEED3", "Archive.mbox", "Messages")

	writeEmlx(t, inbox, "1.emlx", testemail.NewMessage().Subject("Unread").MessageID("<u@x>").Bytes(), 0, "")
	writeEmlx(t, inbox, "2.emlx", testemail.NewMessage().Subject("Already read").Bytes(), 1, "")
	writeEmlx(t, inbox, "3.emlx", testemail.NewMessage().Subject("No date").Date("").Bytes(), 0,
		"<key>date-sent</key><integer>252460800</integer>")
	writeEmlx(t, archive, "4.emlx", testemail.NewMessage().Subject("Archived").Bytes(), 0, "")

	ledger := memLedger{}
	src := NewAppleMail(mail, []string{"inbox"}, true, ledger, nil)
	if !src.Configured() {
		t.Fatal("Configured() = false")
	}

	msgs, err := src.FetchUnread(context.Background(), 0)
	if err != nil {
		t.Fatalf("FetchUnread() error = %v", err)
	}
	if len(msgs) != 2 {
		t.Fatalf("got %d messages, want 2 unread INBOX messages", len(msgs))
	}
	if msgs[0].ExternalID != "<u@x>" || msgs[0].Source != AppleMailName {
		t.Errorf("msgs[0] = %+v", msgs[0].Record)
	}
	if msgs[1].ExternalID != "applemail-3" {
		t.Errorf("msgs[1].ExternalID = %q, want applemail-3", msgs[1].ExternalID)
	}
	if msgs[1].Timestamp != "Thu, 01 Jan 2009 00:00:00 +0000" {
		t.Errorf("msgs[1].Timestamp = %q, want plist date", msgs[1].Timestamp)
	}

	if err := src.MarkProcessed(context.Background(), msgs[0].Ref); err != nil {
		t.Fatalf("MarkProcessed() error = %v", err)
	}
	again, err := src.FetchUnread(context.Background(), 0)
	if err != nil {
		t.Fatalf("second FetchUnread() error = %v", err)
	}
	if len(again) != 1 || again[0].Ref != msgs[1].Ref {
		t.Errorf("after MarkProcessed got %d messages", len(again))
	}

	all := NewAppleMail(mail, nil, true, memLedger{}, nil)
	everything, err := all.FetchUnread(context.Background(), 0)
	if err != nil {
		t.Fatalf("FetchUnread(all mailboxes) error = %v", err)
	}
	if len(everything) != 3 {
		t.Errorf("all mailboxes: got %d, want 3", len(everything))
	}
}

func TestAppleMail_Configured(t *testing.T) {
	dir := t.TempDir()
	tests := []struct {
		name string
		src  *AppleMail
		want bool
	}{
		{"disabled", NewAppleMail(dir, nil, false, memLedger{}, nil), false},
		{"no ledger", NewAppleMail(dir, nil, true, nil, nil), false},
		{"missing dir", NewAppleMail(filepath.Join(dir, "nope"), nil, true, memLedger{}, nil), false},
		{"ready", NewAppleMail(dir, nil, true, memLedger{}, nil), true},
	}
	for _, tt := range tests {
		if got := tt.src.Configured(); got != tt.want {
			t.Errorf("%s: Configured() = %v, want %v", tt.name, got, tt.want)
		}
	}
}
