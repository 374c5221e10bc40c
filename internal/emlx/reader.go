// Package emlx reads Apple Mail .emlx files and finds the mailbox
// directories that hold them.
//
// An .emlx file stores one message:
//   - Line 1: decimal byte count of the raw MIME content
//   - Next N bytes: raw RFC 5322 message
//   - Remainder (optional): XML plist with Apple Mail metadata
package emlx

import (
	"bytes"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"howett.net/plist"
)

// FlagRead is bit 0 of the Apple Mail flags word.
const FlagRead = 1 << 0

// appleEpoch is the reference date of plist date-sent values.
var appleEpoch = time.Date(2001, 1, 1, 0, 0, 0, 0, time.UTC)

// Message represents a parsed .emlx file.
type Message struct {
	// Raw is the RFC 5322 MIME content.
	Raw []byte

	// DateSent comes from the plist; zero when absent.
	DateSent time.Time

	// Flags is the Apple Mail flags word.
	Flags uint64

	// OrigMailbox is the original-mailbox URL from the plist.
	OrigMailbox string
}

// Read reports whether Apple Mail has marked the message read.
func (m *Message) Read() bool {
	return m.Flags&FlagRead != 0
}

// metadata mirrors the plist keys projmail uses. date-sent is written as
// either <real> or <integer>, so it decodes into an interface.
type metadata struct {
	DateSent        any    `plist:"date-sent"`
	Flags           uint64 `plist:"flags"`
	OriginalMailbox string `plist:"original-mailbox"`
}

// Parse parses an .emlx file from its raw bytes. Plist metadata is
// best-effort; a malformed plist leaves the metadata fields zero.
func Parse(data []byte) (*Message, error) {
	if len(data) == 0 {
		return nil, fmt.Errorf("emlx: empty file")
	}

	newline := bytes.IndexByte(data, '\n')
	if newline < 0 {
		return nil, fmt.Errorf("emlx: no newline after byte count")
	}
	countStr := strings.TrimSpace(string(data[:newline]))
	byteCount, err := strconv.ParseInt(countStr, 10, 64)
	if err != nil {
		return nil, fmt.Errorf("emlx: invalid byte count %q: %w", countStr, err)
	}
	if byteCount < 0 {
		return nil, fmt.Errorf("emlx: negative byte count %d", byteCount)
	}

	start := int64(newline + 1)
	end := start + byteCount
	if end > int64(len(data)) {
		return nil, fmt.Errorf("emlx: byte count %d exceeds file size (available: %d)",
			byteCount, int64(len(data))-start)
	}

	msg := &Message{Raw: data[start:end]}
	if rest := bytes.TrimSpace(data[end:]); len(rest) > 0 {
		msg.applyMetadata(rest)
	}
	return msg, nil
}

// ParseFile reads and parses an .emlx file from disk.
func ParseFile(path string) (*Message, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("emlx: read %q: %w", path, err)
	}
	return Parse(data)
}

func (m *Message) applyMetadata(data []byte) {
	var md metadata
	if _, err := plist.Unmarshal(data, &md); err != nil {
		return
	}
	m.Flags = md.Flags
	m.OrigMailbox = md.OriginalMailbox

	switch v := md.DateSent.(type) {
	case float64:
		m.DateSent = appleEpoch.Add(time.Duration(v * float64(time.Second)))
	case uint64:
		m.DateSent = appleEpoch.Add(time.Duration(v) * time.Second)
	case int64:
		m.DateSent = appleEpoch.Add(time.Duration(v) * time.Second)
	}
}
