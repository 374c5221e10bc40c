package emlx

import (
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"
)

const testMIME = "From: alice@example.com\r\nSubject: Hello\r\n\r\nBody\r\n"

func plistDoc(body string) string {
	return `<?xml version="1.0" encoding="UTF-8"?>
<!DOCTYPE plist PUBLIC "-//Apple//DTD PLIST 1.0//EN" "http://www.apple.com/DTDs/PropertyList-1.0.dtd">
<plist version="1.0">
<dict>` + body + `</dict>
</plist>
`
}

func emlxBytes(mime, trailer string) []byte {
	return []byte(fmt.Sprintf("%d\n%s%s", len(mime), mime, trailer))
}

func TestParse_Metadata(t *testing.T) {
	// date-sent 252460800 seconds after 2001-01-01 is 2009-01-01.
	wantDate := time.Date(2009, 1, 1, 0, 0, 0, 0, time.UTC)

	tests := []struct {
		name      string
		plist     string
		wantDate  time.Time
		wantFlags uint64
		wantRead  bool
		wantOrig  string
	}{
		{
			name: "real date and read flag",
			plist: plistDoc(`
	<key>date-sent</key><real>252460800</real>
	<key>flags</key><integer>8590195713</integer>
	<key>original-mailbox</key><string>imap://user@example.com/INBOX</string>`),
			wantDate:  wantDate,
			wantFlags: 8590195713,
			wantRead:  true,
			wantOrig:  "imap://user@example.com/INBOX",
		},
		{
			name:      "integer date and unread",
			plist:     plistDoc(`<key>date-sent</key><integer>252460800</integer><key>flags</key><integer>8590195712</integer>`),
			wantDate:  wantDate,
			wantFlags: 8590195712,
		},
		{name: "no plist"},
		{name: "malformed plist", plist: "NOT XML AT ALL"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			msg, err := Parse(emlxBytes(testMIME, tt.plist))
			if err != nil {
				t.Fatalf("Parse: %v", err)
			}
			if string(msg.Raw) != testMIME {
				t.Errorf("Raw = %q, want %q", msg.Raw, testMIME)
			}
			if !msg.DateSent.Equal(tt.wantDate) {
				t.Errorf("DateSent = %v, want %v", msg.DateSent, tt.wantDate)
			}
			if msg.Flags != tt.wantFlags {
				t.Errorf("Flags = %d, want %d", msg.Flags, tt.wantFlags)
			}
			if msg.Read() != tt.wantRead {
				t.Errorf("Read() = %v, want %v", msg.Read(), tt.wantRead)
			}
			if msg.OrigMailbox != tt.wantOrig {
				t.Errorf("OrigMailbox = %q, want %q", msg.OrigMailbox, tt.wantOrig)
			}
		})
	}
}

func TestParse_Framing(t *testing.T) {
	tests := []struct {
		name    string
		data    string
		wantRaw string
		wantErr bool
	}{
		{"empty file", "", "", true},
		{"no newline", "42", "", true},
		{"non-numeric count", "abc\nFrom: test\r\n\r\n", "", true},
		{"negative count", "-1\nstuff", "", true},
		{"count exceeds data", "9999\nshort", "", true},
		{"zero count", "0\n" + plistDoc(""), "", false},
		{"whitespace around count", fmt.Sprintf("  %d  \n%s", len(testMIME), testMIME), testMIME, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			msg, err := Parse([]byte(tt.data))
			if tt.wantErr {
				if err == nil {
					t.Fatal("expected error")
				}
				return
			}
			if err != nil {
				t.Fatalf("Parse: %v", err)
			}
			if string(msg.Raw) != tt.wantRaw {
				t.Errorf("Raw = %q, want %q", msg.Raw, tt.wantRaw)
			}
		})
	}
}

func TestParseFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "1234.emlx")
	if err := os.WriteFile(path, emlxBytes(testMIME, ""), 0600); err != nil {
		t.Fatalf("write: %v", err)
	}
	msg, err := ParseFile(path)
	if err != nil {
		t.Fatalf("ParseFile: %v", err)
	}
	if string(msg.Raw) != testMIME {
		t.Errorf("Raw = %q", msg.Raw)
	}

	if _, err := ParseFile(filepath.Join(t.TempDir(), "missing.emlx")); err == nil {
		t.Error("expected error for missing file")
	}
}
