package mime

import (
	"strings"
	"testing"
	"unicode/utf8"

	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"
	testemail "github.com/wesm/projmail/internal/testutil/email"
)

func TestNormalize_Headers(t *testing.T) {
	raw := testemail.NewMessage().
		From("  Jane Doe <jane@example.com> ").
		Subject("Quote for the deck").
		MessageID("<abc123@mail.example.com>").
		Date("Tue, 02 Jan 2024 15:04:05 +0000").
		Body("Hello,\n\n  here is   the quote.\n").
		Bytes()

	got := Normalize(raw, "local-ignored")
	want := &Normalized{
		ExternalID: "<abc123@mail.example.com>",
		Sender:     "Jane Doe <jane@example.com>",
		Subject:    "Quote for the deck",
		Timestamp:  "Tue, 02 Jan 2024 15:04:05 +0000",
		Snippet:    "Hello, here is the quote.",
	}
	if diff := cmp.Diff(want, got, cmpopts.IgnoreFields(Normalized{}, "Date")); diff != "" {
		t.Errorf("Normalize mismatch (-want +got):\n%s", diff)
	}
	if got.Date.IsZero() {
		t.Error("Date should be parsed")
	}
}

func TestNormalize_ExternalIDFallbacks(t *testing.T) {
	noID := testemail.NewMessage().Body("no id here").Bytes()

	if got := Normalize(noID, "local-invoice").ExternalID; got != "local-invoice" {
		t.Errorf("with fallback: ExternalID = %q, want local-invoice", got)
	}

	first := Normalize(noID, "").ExternalID
	second := Normalize(noID, "").ExternalID
	if !strings.HasPrefix(first, "synth-") {
		t.Errorf("synthesized id = %q, want synth- prefix", first)
	}
	if first != second {
		t.Errorf("synthesized id not deterministic: %q vs %q", first, second)
	}

	other := testemail.NewMessage().Body("different body").Bytes()
	if Normalize(other, "").ExternalID == first {
		t.Error("different bytes should synthesize different ids")
	}

	blankID := testemail.NewMessage().MessageID("   ").Body("x").Bytes()
	if got := Normalize(blankID, "gmail-42").ExternalID; got != "gmail-42" {
		t.Errorf("blank Message-ID: ExternalID = %q, want gmail-42", got)
	}
}

func TestNormalize_SnippetPlainOnly(t *testing.T) {
	tests := []struct {
		name string
		raw  []byte
		want string
	}{
		{
			"html only yields empty snippet",
			testemail.NewMessage().Body("").HTML("<p>Rich text only</p>").Bytes(),
			"",
		},
		{
			"alternative uses plain part",
			testemail.NewMessage().Body("Plain   version").HTML("<p>HTML version</p>").Bytes(),
			"Plain version",
		},
		{
			"attachment text is not body",
			testemail.NewMessage().Body("Body text").
				WithAttachment("notes.txt", "text/plain", []byte("attached words")).Bytes(),
			"Body text",
		},
		{
			"no content type is plain",
			[]byte("From: a@example.com\nSubject: bare\n\nbare body\n"),
			"bare body",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Normalize(tt.raw, "x").Snippet; got != tt.want {
				t.Errorf("Snippet = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestNormalize_LongBody(t *testing.T) {
	body := strings.Repeat("word ", 100)
	got := Normalize(testemail.NewMessage().Body(body).Bytes(), "x").Snippet
	want := strings.Repeat("word ", 40)[:199] + "…"
	if got != want {
		t.Errorf("Snippet = %q, want %q", got, want)
	}
}

func TestNormalize_Malformed(t *testing.T) {
	tests := [][]byte{
		nil,
		[]byte(""),
		[]byte("garbage without headers"),
		{0xff, 0xfe, 0x00, 0x01},
	}
	for _, raw := range tests {
		got := Normalize(raw, "local-broken")
		if got == nil {
			t.Fatalf("Normalize(%q) returned nil", raw)
		}
		if got.ExternalID == "" {
			t.Errorf("Normalize(%q) produced empty external id", raw)
		}
	}
}

func TestNormalize_EncodedSubject(t *testing.T) {
	raw := testemail.NewMessage().
		Subject("=?UTF-8?B?Q2Fmw6kgbWVudQ==?=").
		Body("x").
		Bytes()
	if got := Normalize(raw, "x").Subject; got != "Café menu" {
		t.Errorf("Subject = %q, want decoded %q", got, "Café menu")
	}
}

func TestNormalizeRecord(t *testing.T) {
	rec := Record{
		ExternalID: " gmail-17 ",
		Sender:     "Bob <bob@example.com>",
		Subject:    " Hi ",
		Timestamp:  "Mon, 01 Jan 2024 12:00:00 +0000",
		Body:       "line one\nline two",
	}
	got := NormalizeRecord(rec)
	if got.ExternalID != "gmail-17" {
		t.Errorf("ExternalID = %q", got.ExternalID)
	}
	if got.Subject != "Hi" {
		t.Errorf("Subject = %q", got.Subject)
	}
	if got.Snippet != "line one line two" {
		t.Errorf("Snippet = %q", got.Snippet)
	}

	rec.ExternalID = ""
	a := NormalizeRecord(rec).ExternalID
	b := NormalizeRecord(rec).ExternalID
	if !strings.HasPrefix(a, "synth-") || a != b {
		t.Errorf("synthesized ids %q, %q should be equal and prefixed", a, b)
	}
}

func TestNormalizeRecord_RepairsHeaders(t *testing.T) {
	got := NormalizeRecord(Record{ExternalID: "x", Subject: "Caf\xe9 au lait", Sender: "Ren\xe9"})
	for _, v := range []string{got.Subject, got.Sender} {
		if !utf8.ValidString(v) {
			t.Errorf("header %q is not valid UTF-8", v)
		}
	}
	if !strings.HasPrefix(got.Subject, "Caf") || !strings.HasSuffix(got.Subject, " au lait") {
		t.Errorf("Subject = %q, want surrounding text preserved", got.Subject)
	}
}

func TestSplitAddress(t *testing.T) {
	tests := []struct {
		input     string
		wantName  string
		wantEmail string
	}{
		{"John Doe <John@Example.com>", "John Doe", "john@example.com"},
		{`"Doe, John" <john@example.com>`, "Doe, John", "john@example.com"},
		{"john@example.com", "", "john@example.com"},
		{"<john@example.com>", "", "john@example.com"},
		{"John Doe", "John Doe", ""},
		{"", "", ""},
		{"   ", "", ""},
		{"=?UTF-8?Q?Ren=C3=A9?= <rene@example.com>", "René", "rene@example.com"},
	}
	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			name, email := SplitAddress(tt.input)
			if name != tt.wantName || email != tt.wantEmail {
				t.Errorf("SplitAddress(%q) = (%q, %q), want (%q, %q)",
					tt.input, name, email, tt.wantName, tt.wantEmail)
			}
		})
	}
}
