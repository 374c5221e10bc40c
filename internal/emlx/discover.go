package emlx

import (
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"strings"
)

// Mailbox is an Apple Mail mailbox directory containing .emlx files.
type Mailbox struct {
	// Path is the .mbox or .imapmbox directory.
	Path string

	// MsgDir holds the .emlx files: Path/Messages in legacy layouts,
	// Path/<GUID>/Data/Messages in V-numbered layouts.
	MsgDir string

	// Name is the mailbox name with account and container directories
	// removed, e.g. "INBOX" or "Projects/Acme".
	Name string

	// Files are the sorted .emlx file names in MsgDir.
	Files []string
}

// Paths returns the absolute paths of the mailbox's message files.
func (m Mailbox) Paths() []string {
	out := make([]string, len(m.Files))
	for i, f := range m.Files {
		out[i] = filepath.Join(m.MsgDir, f)
	}
	return out
}

// DiscoverMailboxes walks an Apple Mail directory tree and returns every
// mailbox that holds at least one .emlx file, sorted by path. If rootDir is
// itself a mailbox only that one is returned.
func DiscoverMailboxes(rootDir string) ([]Mailbox, error) {
	root, err := filepath.Abs(rootDir)
	if err != nil {
		return nil, fmt.Errorf("emlx discover: abs path: %w", err)
	}
	info, err := os.Stat(root)
	if err != nil {
		return nil, fmt.Errorf("emlx discover: stat %q: %w", root, err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("emlx discover: %q is not a directory", root)
	}

	if mb, ok := loadMailbox(filepath.Dir(root), root); ok {
		return []Mailbox{mb}, nil
	}

	var mailboxes []Mailbox
	err = filepath.WalkDir(root, func(path string, d os.DirEntry, err error) error {
		if err != nil || !d.IsDir() {
			return nil
		}
		if d.Name() == "Messages" {
			return filepath.SkipDir
		}
		if mb, ok := loadMailbox(root, path); ok {
			mailboxes = append(mailboxes, mb)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("emlx discover: walk: %w", err)
	}

	slices.SortFunc(mailboxes, func(a, b Mailbox) int {
		return strings.Compare(a.Path, b.Path)
	})
	return mailboxes, nil
}

func loadMailbox(root, path string) (Mailbox, bool) {
	if !hasMailboxSuffix(filepath.Base(path)) {
		return Mailbox{}, false
	}
	msgDir := findMessagesDir(path)
	if msgDir == "" {
		return Mailbox{}, false
	}
	files := listEmlxFiles(msgDir)
	if len(files) == 0 {
		return Mailbox{}, false
	}
	return Mailbox{Path: path, MsgDir: msgDir, Name: NameFromPath(root, path), Files: files}, true
}

// NameFromPath derives a mailbox name from its path relative to root.
// Container directories (Mailboxes, IMAP-*, POP-*, V<n>, account GUIDs)
// are dropped and .mbox/.imapmbox suffixes stripped.
func NameFromPath(root, mailboxPath string) string {
	rel, err := filepath.Rel(root, mailboxPath)
	if err != nil {
		return stripMailboxSuffix(filepath.Base(mailboxPath))
	}

	var parts []string
	for _, p := range strings.Split(filepath.ToSlash(rel), "/") {
		if isContainerDir(p) {
			continue
		}
		parts = append(parts, stripMailboxSuffix(p))
	}
	if len(parts) == 0 {
		return stripMailboxSuffix(filepath.Base(mailboxPath))
	}
	return strings.Join(parts, "/")
}

func isContainerDir(name string) bool {
	switch {
	case name == "." || name == "Mailboxes":
		return true
	case strings.HasPrefix(name, "IMAP-"), strings.HasPrefix(name, "POP-"):
		return true
	case isVersionDir(name), isUUID(name):
		return true
	}
	return false
}

// isVersionDir matches the top-level Apple Mail store directories V2..V10.
func isVersionDir(name string) bool {
	if len(name) < 2 || name[0] != 'V' {
		return false
	}
	for _, c := range name[1:] {
		if c < '0' || c > '9' {
			return false
		}
	}
	return true
}

// isUUID matches the 8-4-4-4-12 hex form.
func isUUID(s string) bool {
	if len(s) != 36 {
		return false
	}
	for i, c := range s {
		switch i {
		case 8, 13, 18, 23:
			if c != '-' {
				return false
			}
		default:
			if !strings.ContainsRune("0123456789abcdefABCDEF", c) {
				return false
			}
		}
	}
	return true
}

func hasMailboxSuffix(name string) bool {
	lower := strings.ToLower(name)
	return strings.HasSuffix(lower, ".mbox") || strings.HasSuffix(lower, ".imapmbox")
}

func stripMailboxSuffix(name string) string {
	lower := strings.ToLower(name)
	for _, suffix := range []string{".imapmbox", ".mbox"} {
		if strings.HasSuffix(lower, suffix) {
			return name[:len(name)-len(suffix)]
		}
	}
	return name
}

// findMessagesDir locates the Messages directory of a mailbox, or "".
func findMessagesDir(mailboxPath string) string {
	if isDir(filepath.Join(mailboxPath, "Messages")) {
		return filepath.Join(mailboxPath, "Messages")
	}
	entries, err := os.ReadDir(mailboxPath)
	if err != nil {
		return ""
	}
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		if dir := filepath.Join(mailboxPath, e.Name(), "Data", "Messages"); isDir(dir) {
			return dir
		}
	}
	return ""
}

func isDir(path string) bool {
	info, err := os.Stat(path)
	return err == nil && info.IsDir()
}

// listEmlxFiles returns sorted .emlx names, skipping Apple Mail's
// .partial.emlx temp files.
func listEmlxFiles(msgDir string) []string {
	entries, err := os.ReadDir(msgDir)
	if err != nil {
		return nil
	}
	var files []string
	for _, e := range entries {
		name := strings.ToLower(e.Name())
		if e.IsDir() || !strings.HasSuffix(name, ".emlx") || strings.HasSuffix(name, ".partial.emlx") {
			continue
		}
		files = append(files, e.Name())
	}
	slices.Sort(files)
	return files
}
