package emlx

import (
	"os"
	"path/filepath"
	"slices"
	"testing"
)

// mkMailbox creates a legacy-layout mailbox with the given message files.
func mkMailbox(t *testing.T, base string, emlxFiles ...string) {
	t.Helper()
	mkMessages(t, filepath.Join(base, "Messages"), emlxFiles...)
}

func mkMessages(t *testing.T, msgDir string, emlxFiles ...string) {
	t.Helper()
	if err := os.MkdirAll(msgDir, 0700); err != nil {
		t.Fatalf("mkdir %q: %v", msgDir, err)
	}
	for _, name := range emlxFiles {
		path := filepath.Join(msgDir, name)
		if err := os.WriteFile(path, []byte("10\nFrom: x\r\n\r\n"), 0600); err != nil {
			t.Fatalf("write %q: %v", path, err)
		}
	}
}

func TestDiscoverMailboxes_SingleMailbox(t *testing.T) {
	mboxDir := filepath.Join(t.TempDir(), "INBOX.mbox")
	mkMailbox(t, mboxDir, "300.emlx", "10.emlx", "2.emlx", "1.emlx", "5.partial.emlx", "notes.txt")

	mailboxes, err := DiscoverMailboxes(mboxDir)
	if err != nil {
		t.Fatalf("DiscoverMailboxes: %v", err)
	}
	if len(mailboxes) != 1 {
		t.Fatalf("got %d mailboxes, want 1", len(mailboxes))
	}
	mb := mailboxes[0]
	if mb.Name != "INBOX" {
		t.Errorf("Name = %q, want INBOX", mb.Name)
	}
	want := []string{"1.emlx", "10.emlx", "2.emlx", "300.emlx"}
	if !slices.Equal(mb.Files, want) {
		t.Errorf("Files = %v, want %v", mb.Files, want)
	}
	if got := mb.Paths()[0]; got != filepath.Join(mboxDir, "Messages", "1.emlx") {
		t.Errorf("Paths()[0] = %q", got)
	}
}

func TestDiscoverMailboxes_RecursiveWalk(t *testing.T) {
	mail := filepath.Join(t.TempDir(), "Mail")
	guid := "13C9A646-1A2B-4C3D-9E8F-E07FFBDDEED3"

	mkMailbox(t, filepath.Join(mail, "Mailboxes", "Projects", "Acme.mbox"), "1.emlx")
	mkMailbox(t, filepath.Join(mail, "IMAP-me@imap.example.com", "INBOX.imapmbox"), "1.emlx")
	mkMessages(t, filepath.Join(mail, "V10", guid, "Work.mbox", guid, "Data", "Messages"), "7.emlx")
	mkMailbox(t, filepath.Join(mail, "Mailboxes", "Empty.mbox"))

	mailboxes, err := DiscoverMailboxes(mail)
	if err != nil {
		t.Fatalf("DiscoverMailboxes: %v", err)
	}
	var names []string
	for _, mb := range mailboxes {
		names = append(names, mb.Name)
	}
	slices.Sort(names)
	want := []string{"INBOX", "Projects/Acme", "Work"}
	if !slices.Equal(names, want) {
		t.Errorf("names = %v, want %v", names, want)
	}
}

func TestDiscoverMailboxes_NotADirectory(t *testing.T) {
	path := filepath.Join(t.TempDir(), "file.txt")
	if err := os.WriteFile(path, []byte("x"), 0600); err != nil {
		t.Fatal(err)
	}
	if _, err := DiscoverMailboxes(path); err == nil {
		t.Error("expected error for non-directory")
	}
	if _, err := DiscoverMailboxes(filepath.Join(t.TempDir(), "missing")); err == nil {
		t.Error("expected error for missing directory")
	}
}

func TestNameFromPath(t *testing.T) {
	tests := []struct {
		root, path, want string
	}{
		{"/Mail", "/Mail/Mailboxes/Projects/Acme.mbox", "Projects/Acme"},
		{"/Mail", "/Mail/IMAP-me@po14.example.edu/INBOX.imapmbox", "INBOX"},
		{"/Mail", "/Mail/POP-me@pop.example.com/Sent Messages.mbox", "Sent Messages"},
		{"/Mail", "/Mail/V10/13C9A646-1A2B-4C3D-9E8F-E07FFBDDEED3/INBOX.mbox", "INBOX"},
		{"/Mail", "/Mail/INBOX.mbox", "INBOX"},
		{"/Mail/INBOX.mbox", "/Mail/INBOX.mbox", "INBOX"},
	}
	for _, tc := range tests {
		if got := NameFromPath(tc.root, tc.path); got != tc.want {
			t.Errorf("NameFromPath(%q, %q) = %q, want %q", tc.root, tc.path, got, tc.want)
		}
	}
}
