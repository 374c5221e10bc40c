// Package mime turns raw RFC 5322 messages into the normalized records
// stored by projmail. Parsing uses enmime.
package mime

import (
	"html"
	"mime"
	"regexp"
	"strings"
	"time"

	"github.com/jhillyerd/enmime"
)

// mediaType returns the lower-cased media type of a part without parameters.
// Parts without a Content-Type are text/plain per RFC 2045.
func mediaType(part *enmime.Part) string {
	ct := strings.TrimSpace(part.ContentType)
	if ct == "" {
		return "text/plain"
	}
	if mt, _, err := mime.ParseMediaType(ct); err == nil {
		return mt
	}
	if i := strings.IndexByte(ct, ';'); i >= 0 {
		ct = ct[:i]
	}
	return strings.ToLower(strings.TrimSpace(ct))
}

// isBodyText reports whether part is inline body text of the given media
// type rather than an attached file.
func isBodyText(part *enmime.Part, want string) bool {
	if part.FirstChild != nil || mediaType(part) != want {
		return false
	}
	if part.FileName != "" {
		return false
	}
	disposition := strings.ToLower(part.Disposition)
	if i := strings.IndexByte(disposition, ';'); i >= 0 {
		disposition = disposition[:i]
	}
	return strings.TrimSpace(disposition) != "attachment"
}

// collectText walks the part tree depth-first and returns the decoded
// content of every body part of the given media type.
func collectText(root *enmime.Part, want string) []string {
	var out []string
	var walk func(p *enmime.Part)
	walk = func(p *enmime.Part) {
		for ; p != nil; p = p.NextSibling {
			if isBodyText(p, want) && len(p.Content) > 0 {
				out = append(out, string(p.Content))
			}
			if p.FirstChild != nil {
				walk(p.FirstChild)
			}
		}
	}
	walk(root)
	return out
}

// dateLayouts covers the Date header shapes seen in practice, most common first.
var dateLayouts = []string{
	time.RFC1123Z,
	time.RFC1123,
	"Mon, 2 Jan 2006 15:04:05 -0700",
	"Mon, 2 Jan 2006 15:04:05 MST",
	"2 Jan 2006 15:04:05 -0700",
	"02 Jan 2006 15:04:05 -0700",
	time.RFC822Z,
	time.RFC822,
	time.RFC850,
	time.ANSIC,
	time.UnixDate,
	time.RFC3339,
	"2006-01-02 15:04:05 -0700",
	"2006-01-02 15:04:05",
}

// ParseDate parses a Date header value into UTC. A trailing parenthesized
// zone comment like "(PST)" is ignored. ok is false when no layout matches.
func ParseDate(s string) (t time.Time, ok bool) {
	s = strings.Join(strings.Fields(s), " ")
	if i := strings.LastIndex(s, "("); i > 0 {
		s = strings.TrimSpace(s[:i])
	}
	for _, layout := range dateLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t.UTC(), true
		}
	}
	return time.Time{}, false
}

var (
	blockTagRe  = regexp.MustCompile(`(?i)<(/?)(p|div|br|hr|h[1-6]|li|tr|blockquote|pre|table|ul|ol)[^>]*>`)
	dropBlockRe = regexp.MustCompile(`(?is)<(script|style|head)[^>]*>.*?</(script|style|head)>`)
	anyTagRe    = regexp.MustCompile(`<[^>]*>`)
)

// StripHTML renders an HTML body as readable plain text: block elements
// become line breaks, entities are decoded and blank runs are collapsed.
func StripHTML(rawHTML string) string {
	text := dropBlockRe.ReplaceAllString(rawHTML, "")
	text = blockTagRe.ReplaceAllString(text, "\n")
	text = anyTagRe.ReplaceAllString(text, "")
	text = html.UnescapeString(text)
	text = strings.NewReplacer("\r\n", "\n", "\r", "\n", "\u00a0", " ").Replace(text)

	var lines []string
	blank := 0
	for _, line := range strings.Split(text, "\n") {
		line = strings.Join(strings.Fields(line), " ")
		if line == "" {
			blank++
			if blank > 1 {
				continue
			}
		} else {
			blank = 0
		}
		lines = append(lines, line)
	}
	return strings.TrimSpace(strings.Join(lines, "\n"))
}
