package mime

import (
	"bytes"
	"strings"
	"time"

	"github.com/emersion/go-message/mail"
	"github.com/google/uuid"
	"github.com/jhillyerd/enmime"

	"github.com/wesm/projmail/internal/textutil"
)

// SnippetLength is the maximum snippet length in runes, ellipsis included.
const SnippetLength = 200

// Record is the structured form of a message as delivered by a provider.
// Raw holds the full RFC 5322 bytes when the provider supplies them.
type Record struct {
	ExternalID string
	Sender     string
	Subject    string
	Timestamp  string
	Body       string // text/plain content only
	Raw        []byte
}

// Normalized is a message reduced to the fields the store persists.
type Normalized struct {
	ExternalID string
	Sender     string
	Subject    string
	Timestamp  string
	Snippet    string
	Date       time.Time // parsed Timestamp; zero when unparseable
}

// Normalize parses raw message bytes. It never fails: malformed input
// yields empty fields. fallbackID is used as the external id when the
// message has no Message-ID header.
func Normalize(raw []byte, fallbackID string) *Normalized {
	return NormalizeRecord(ParseRecord(raw, fallbackID))
}

// ParseRecord extracts the provider record fields from raw message bytes.
// The external id is the Message-ID header when present, else fallbackID.
func ParseRecord(raw []byte, fallbackID string) Record {
	rec := Record{ExternalID: strings.TrimSpace(fallbackID), Raw: raw}

	env, err := enmime.ReadEnvelope(bytes.NewReader(raw))
	if err != nil || env == nil {
		return rec
	}
	if id := strings.TrimSpace(env.GetHeader("Message-ID")); id != "" {
		rec.ExternalID = id
	}
	rec.Sender = env.GetHeader("From")
	rec.Subject = env.GetHeader("Subject")
	rec.Timestamp = env.GetHeader("Date")
	rec.Body = plainText(env)
	return rec
}

// NormalizeRecord normalizes an already-structured provider record. When
// the record carries no external id, a deterministic one is synthesized
// from the raw bytes, or from the header fields when there are none.
func NormalizeRecord(rec Record) *Normalized {
	n := &Normalized{
		ExternalID: strings.TrimSpace(rec.ExternalID),
		Sender:     cleanHeader(rec.Sender),
		Subject:    cleanHeader(rec.Subject),
		Timestamp:  cleanHeader(rec.Timestamp),
		Snippet:    Snippet(rec.Body),
	}
	if n.ExternalID == "" {
		n.ExternalID = SynthesizeID(rec)
	}
	n.Date, _ = ParseDate(n.Timestamp)
	return n
}

// SynthesizeID returns a stable "synth-" id for a record without one.
func SynthesizeID(rec Record) string {
	data := rec.Raw
	if len(data) == 0 {
		data = []byte(strings.Join([]string{rec.Sender, rec.Subject, rec.Timestamp, rec.Body}, "\x00"))
	}
	return "synth-" + uuid.NewSHA1(uuid.NameSpaceOID, data).String()
}

// Snippet collapses whitespace in body and limits it to SnippetLength runes.
func Snippet(body string) string {
	return textutil.Ellipsize(textutil.CollapseSpace(textutil.EnsureUTF8(body)), SnippetLength)
}

func cleanHeader(v string) string {
	return strings.TrimSpace(textutil.EnsureUTF8(v))
}

// SplitAddress splits a From header into display name and email. The email
// is lower-cased; either result may be empty. Encoded words are decoded.
func SplitAddress(sender string) (name, email string) {
	sender = strings.TrimSpace(sender)
	if sender == "" {
		return "", ""
	}
	if addr, err := mail.ParseAddress(sender); err == nil {
		return cleanName(addr.Name), strings.ToLower(strings.TrimSpace(addr.Address))
	}
	if list, err := mail.ParseAddressList(sender); err == nil && len(list) > 0 {
		return cleanName(list[0].Name), strings.ToLower(strings.TrimSpace(list[0].Address))
	}
	bare := strings.Trim(sender, "<>")
	if isBareAddress(bare) {
		return "", strings.ToLower(bare)
	}
	return cleanName(sender), ""
}

func cleanName(name string) string {
	return strings.TrimSpace(strings.Trim(strings.TrimSpace(name), `"'`))
}

// isBareAddress accepts user@host with no whitespace on either side.
func isBareAddress(s string) bool {
	at := strings.LastIndexByte(s, '@')
	return at > 0 && at < len(s)-1 && !strings.ContainsAny(s, " \t<>\"")
}

// Content returns the full body for display, preferring HTML. kind is
// "html" or "text". content is empty when the message has no body text.
func Content(raw []byte) (content, kind string) {
	env, err := enmime.ReadEnvelope(bytes.NewReader(raw))
	if err != nil || env == nil {
		return "", "text"
	}
	if strings.TrimSpace(env.HTML) != "" {
		return env.HTML, "html"
	}
	return plainText(env), "text"
}

// PlainContent returns the body as plain text, rendering HTML when the
// message has no plain part.
func PlainContent(raw []byte) string {
	env, err := enmime.ReadEnvelope(bytes.NewReader(raw))
	if err != nil || env == nil {
		return ""
	}
	if text := plainText(env); text != "" {
		return text
	}
	return StripHTML(env.HTML)
}

func plainText(env *enmime.Envelope) string {
	if env.Root == nil {
		return ""
	}
	return strings.Join(collectText(env.Root, "text/plain"), "\n")
}
