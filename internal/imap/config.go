// Package imap fetches unseen messages from IMAP servers.
package imap

import (
	"fmt"
	"net/url"
	"strconv"
	"strings"

	imap "github.com/emersion/go-imap/v2"
)

// Config holds connection settings for an IMAP server.
type Config struct {
	Host     string
	Port     int
	TLS      bool // Implicit TLS (IMAPS, port 993)
	STARTTLS bool // STARTTLS upgrade (port 143)
	Username string
}

func (c *Config) port() int {
	if c.Port != 0 {
		return c.Port
	}
	if c.TLS {
		return 993
	}
	return 143
}

// Addr returns the "host:port" string.
func (c *Config) Addr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.port())
}

// Identifier returns a canonical string like "imaps://user@host:port".
// Credentials are keyed by it.
func (c *Config) Identifier() string {
	scheme := "imap"
	if c.TLS {
		scheme = "imaps"
	}
	return fmt.Sprintf("%s://%s@%s:%d", scheme, url.PathEscape(c.Username), c.Host, c.port())
}

// MessageRef builds a message handle as "mailbox|uid".
func MessageRef(mailbox string, uid imap.UID) string {
	return mailbox + "|" + strconv.FormatUint(uint64(uid), 10)
}

// ParseMessageRef splits a handle built by MessageRef. Mailbox names may
// themselves contain "|", so the last separator wins.
func ParseMessageRef(ref string) (mailbox string, uid imap.UID, err error) {
	idx := strings.LastIndexByte(ref, '|')
	if idx < 0 {
		return "", 0, fmt.Errorf("invalid IMAP message ref %q (expected mailbox|uid)", ref)
	}
	n, err := strconv.ParseUint(ref[idx+1:], 10, 32)
	if err != nil || n == 0 {
		return "", 0, fmt.Errorf("invalid UID in message ref %q", ref)
	}
	return ref[:idx], imap.UID(n), nil
}
