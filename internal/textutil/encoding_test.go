package textutil

import (
	"strings"
	"testing"
	"unicode/utf8"

	"golang.org/x/text/encoding/charmap"
	"golang.org/x/text/encoding/japanese"
)

func assertValidUTF8(t *testing.T, s string) {
	t.Helper()
	if !utf8.ValidString(s) {
		t.Errorf("result is not valid UTF-8: %q", s)
	}
}

func TestEnsureUTF8_AlreadyValid(t *testing.T) {
	tests := []string{
		"Hello, World!",
		"你好世界",
		"Привет мир",
		"Hello 👋 World 🌍",
		"",
	}
	for _, in := range tests {
		if got := EnsureUTF8(in); got != in {
			t.Errorf("EnsureUTF8(%q) = %q, want unchanged", in, got)
		}
	}
}

func TestEnsureUTF8_Windows1252(t *testing.T) {
	tests := []struct {
		name     string
		input    []byte
		expected string
	}{
		{"smart single quote", []byte("Rand\x92s Opponent"), "Rand’s Opponent"},
		{"en dash", []byte("2020 \x96 2024"), "2020 – 2024"},
		{"euro sign", []byte("Price: \x80100"), "Price: €100"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := EnsureUTF8(string(tt.input))
			if got != tt.expected {
				t.Errorf("got %q, want %q", got, tt.expected)
			}
		})
	}
}

func TestEnsureUTF8_Latin1(t *testing.T) {
	tests := []struct {
		input    []byte
		expected string
	}{
		{[]byte("Gar\xe7on"), "Garçon"},
		{[]byte("M\xfcnchen"), "München"},
		{[]byte("Espa\xf1a"), "España"},
	}
	for _, tt := range tests {
		got := EnsureUTF8(string(tt.input))
		if got != tt.expected {
			t.Errorf("EnsureUTF8(%q) = %q, want %q", tt.input, got, tt.expected)
		}
	}
}

func TestEnsureUTF8_MixedContent(t *testing.T) {
	got := EnsureUTF8("Re: Can\x92t access the \x93dashboard\x94")
	assertValidUTF8(t, got)
	for _, want := range []string{"Re:", "Can", "access the", "dashboard"} {
		if !strings.Contains(got, want) {
			t.Errorf("result %q should contain %q", got, want)
		}
	}
}

func TestSanitizeUTF8(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		expected string
	}{
		{"valid UTF-8 unchanged", "Hello, 世界!", "Hello, 世界!"},
		{"single invalid byte", "Hello\x80World", "Hello�World"},
		{"multiple invalid bytes", "Test\x80\x81\x82String", "Test���String"},
		{"truncated sequence", "Hello\xc3", "Hello�"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := SanitizeUTF8(tt.input)
			if got != tt.expected {
				t.Errorf("SanitizeUTF8(%q) = %q, want %q", tt.input, got, tt.expected)
			}
			assertValidUTF8(t, got)
		})
	}
}

func TestEncodingByName(t *testing.T) {
	if EncodingByName("Windows-1252") != charmap.Windows1252 {
		t.Error("Windows-1252 should map to charmap.Windows1252")
	}
	if EncodingByName(" Shift_JIS ") != japanese.ShiftJIS {
		t.Error("Shift_JIS should map to japanese.ShiftJIS")
	}
	if EncodingByName("x-unknown") != nil {
		t.Error("unknown charset should return nil")
	}
}
