package mime

import (
	"strings"
	"testing"
	"time"
	"unicode/utf8"

	testemail "github.com/wesm/projmail/internal/testutil/email"
)

func TestParseDate(t *testing.T) {
	want := time.Date(2024, 1, 15, 10, 30, 0, 0, time.UTC)
	tests := []struct {
		name  string
		input string
	}{
		{"RFC1123Z", "Mon, 15 Jan 2024 10:30:00 +0000"},
		{"single digit day offset", "Mon, 15 Jan 2024 05:30:00 -0500"},
		{"parenthesized zone", "Mon, 15 Jan 2024 10:30:00 +0000 (UTC)"},
		{"no weekday", "15 Jan 2024 10:30:00 +0000"},
		{"extra whitespace", "Mon,  15 Jan 2024   10:30:00 +0000"},
		{"ISO 8601", "2024-01-15T10:30:00Z"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := ParseDate(tt.input)
			if !ok {
				t.Fatalf("ParseDate(%q) failed", tt.input)
			}
			if !got.Equal(want) {
				t.Errorf("ParseDate(%q) = %v, want %v", tt.input, got, want)
			}
		})
	}

	if _, ok := ParseDate("not a date"); ok {
		t.Error("ParseDate should reject garbage")
	}
}

func TestStripHTML(t *testing.T) {
	tests := []struct {
		name  string
		input string
		want  string
	}{
		{"plain", "hello", "hello"},
		{"paragraphs", "<p>One</p><p>Two</p>", "One\n\nTwo"},
		{"line break", "a<br>b", "a\nb"},
		{"entities", "Tom &amp; Jerry&nbsp;&lt;3", "Tom & Jerry <3"},
		{"script dropped", "<script>alert(1)</script>Hi", "Hi"},
		{"style and head dropped", "<head><title>x</title></head><style>p{}</style><b>Bold</b>", "Bold"},
		{"whitespace collapsed", "<div>  lots   of   space </div>", "lots of space"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := StripHTML(tt.input); got != tt.want {
				t.Errorf("StripHTML(%q) = %q, want %q", tt.input, got, tt.want)
			}
		})
	}
}

func TestContent(t *testing.T) {
	tests := []struct {
		name     string
		raw      []byte
		wantKind string
		contains string
	}{
		{
			"plain only",
			testemail.NewMessage().Body("Just text").Bytes(),
			"text", "Just text",
		},
		{
			"alternative prefers html",
			testemail.NewMessage().Body("plain").HTML("<p>rich</p>").Bytes(),
			"html", "<p>rich</p>",
		},
		{
			"html only",
			testemail.NewMessage().Body("").HTML("<p>only html</p>").Bytes(),
			"html", "only html",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			content, kind := Content(tt.raw)
			if kind != tt.wantKind {
				t.Errorf("kind = %q, want %q", kind, tt.wantKind)
			}
			if !strings.Contains(content, tt.contains) {
				t.Errorf("content = %q, want it to contain %q", content, tt.contains)
			}
		})
	}
}

func TestPlainContent(t *testing.T) {
	got := PlainContent(testemail.NewMessage().Body("").HTML("<p>Hello</p><p>World</p>").Bytes())
	if got != "Hello\n\nWorld" {
		t.Errorf("PlainContent(html only) = %q", got)
	}

	got = PlainContent(testemail.NewMessage().Body("plain wins").HTML("<p>rich</p>").Bytes())
	if strings.TrimSpace(got) != "plain wins" {
		t.Errorf("PlainContent(alternative) = %q, want plain part", got)
	}
}

func TestSnippet_Boundaries(t *testing.T) {
	tests := []struct {
		name    string
		body    string
		wantLen int
		ellipse bool
	}{
		{"empty", "", 0, false},
		{"exactly 200", strings.Repeat("a", 200), 200, false},
		{"201", strings.Repeat("b", 201), 200, true},
		{"long multibyte", strings.Repeat("é", 500), 200, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Snippet(tt.body)
			if n := utf8.RuneCountInString(got); n != tt.wantLen {
				t.Errorf("len = %d runes, want %d", n, tt.wantLen)
			}
			if strings.HasSuffix(got, "…") != tt.ellipse {
				t.Errorf("ellipsis = %v, want %v (%q)", !tt.ellipse, tt.ellipse, got)
			}
		})
	}
}
