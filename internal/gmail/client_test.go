package gmail

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"golang.org/x/oauth2"
)

const quotaExceededMsg = "Quota exceeded for quota metric 'Queries'"

// gmailErrorBody builds a Gmail API error response JSON body.
// Optional fields (message, errors, details) are included only when non-zero.
func gmailErrorBody(code int, message string, errors []map[string]string, details []map[string]string) []byte {
	inner := map[string]any{"code": code}
	if message != "" {
		inner["message"] = message
	}
	if errors != nil {
		inner["errors"] = errors
	}
	if details != nil {
		inner["details"] = details
	}
	b, err := json.Marshal(map[string]any{"error": inner})
	if err != nil {
		panic(fmt.Sprintf("failed to marshal test body: %v", err))
	}
	return b
}

func errorWithReason(reason string) []byte {
	return gmailErrorBody(403, "", []map[string]string{{"reason": reason}}, nil)
}

func errorWithDetail(reason string) []byte {
	return gmailErrorBody(403, "", nil, []map[string]string{{"reason": reason}})
}

func TestIsRateLimitError(t *testing.T) {
	tests := []struct {
		name string
		body []byte
		want bool
	}{
		{
			name: "RateLimitExceeded",
			body: errorWithReason("rateLimitExceeded"),
			want: true,
		},
		{
			name: "RateLimitExceededByMessage",
			body: gmailErrorBody(403, quotaExceededMsg, []map[string]string{{"reason": "rateLimitExceeded"}}, nil),
			want: true,
		},
		{
			name: "RateLimitExceededUpperCase",
			body: errorWithDetail("RATE_LIMIT_EXCEEDED"),
			want: true,
		},
		{
			name: "QuotaExceeded",
			body: gmailErrorBody(403, quotaExceededMsg, nil, nil),
			want: true,
		},
		{
			name: "UserRateLimitExceeded",
			body: errorWithReason("userRateLimitExceeded"),
			want: true,
		},
		{
			name: "PermissionDenied",
			body: errorWithReason("forbidden"),
			want: false,
		},
		{
			name: "EmptyBody",
			body: []byte{},
			want: false,
		},
		{
			name: "InvalidJSON",
			body: []byte("not valid json but contains rateLimitExceeded"),
			want: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := isRateLimitError(tt.body); got != tt.want {
				t.Errorf("isRateLimitError() = %v, want %v", got, tt.want)
			}
		})
	}
}

func newTestClient(t *testing.T, handler http.HandlerFunc) *Client {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	c := NewClient(oauth2.StaticTokenSource(&oauth2.Token{AccessToken: "test-token"}), WithBaseURL(srv.URL))
	c.backoff = func(int) time.Duration { return 0 }
	return c
}

func TestClient_GetMessageRaw(t *testing.T) {
	raw := "From: a@example.com\r\nSubject: hi\r\n\r\nbody"
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if got := r.Header.Get("Authorization"); got != "Bearer test-token" {
			t.Errorf("Authorization = %q", got)
		}
		if r.URL.Path != "/users/me/messages/m1" || r.URL.Query().Get("format") != "raw" {
			t.Errorf("unexpected request %s", r.URL)
		}
		fmt.Fprintf(w, `{"id":"m1","threadId":"t1","labelIds":["INBOX","UNREAD"],"internalDate":"1704067200000","raw":%q}`,
			base64.RawURLEncoding.EncodeToString([]byte(raw)))
	})

	msg, err := c.GetMessageRaw(context.Background(), "m1")
	if err != nil {
		t.Fatalf("GetMessageRaw() error = %v", err)
	}
	want := &RawMessage{
		ID:           "m1",
		ThreadID:     "t1",
		LabelIDs:     []string{"INBOX", "UNREAD"},
		InternalDate: 1704067200000,
		Raw:          []byte(raw),
	}
	if diff := cmp.Diff(want, msg); diff != "" {
		t.Errorf("GetMessageRaw mismatch (-want +got):\n%s", diff)
	}
}

func TestClient_ListIDsPaginates(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if q := r.URL.Query().Get("q"); q != "is:unread in:inbox" {
			t.Errorf("q = %q", q)
		}
		switch r.URL.Query().Get("pageToken") {
		case "":
			fmt.Fprint(w, `{"messages":[{"id":"a"},{"id":"b"}],"nextPageToken":"p2"}`)
		case "p2":
			fmt.Fprint(w, `{"messages":[{"id":"c"}]}`)
		default:
			t.Errorf("unexpected page token %q", r.URL.Query().Get("pageToken"))
		}
	})

	ids, err := ListIDs(context.Background(), c, "is:unread in:inbox", 0)
	if err != nil {
		t.Fatalf("ListIDs() error = %v", err)
	}
	if diff := cmp.Diff([]string{"a", "b", "c"}, ids); diff != "" {
		t.Errorf("ids mismatch (-want +got):\n%s", diff)
	}

	ids, err = ListIDs(context.Background(), c, "is:unread in:inbox", 2)
	if err != nil {
		t.Fatalf("ListIDs(max=2) error = %v", err)
	}
	if len(ids) != 2 {
		t.Errorf("ListIDs(max=2) = %v", ids)
	}
}

func TestClient_RetriesServerErrors(t *testing.T) {
	var calls atomic.Int32
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) < 3 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		fmt.Fprint(w, `{"emailAddress":"me@example.com","messagesTotal":3}`)
	})

	profile, err := c.GetProfile(context.Background())
	if err != nil {
		t.Fatalf("GetProfile() error = %v", err)
	}
	if profile.EmailAddress != "me@example.com" {
		t.Errorf("EmailAddress = %q", profile.EmailAddress)
	}
	if got := calls.Load(); got != 3 {
		t.Errorf("calls = %d, want 3", got)
	}
}

func TestClient_NonRetryableErrors(t *testing.T) {
	tests := []struct {
		name    string
		status  int
		body    string
		wantErr string
	}{
		{"not found", http.StatusNotFound, "", "not found"},
		{"forbidden", http.StatusForbidden, string(errorWithReason("forbidden")), "forbidden (403)"},
		{"unauthorized", http.StatusUnauthorized, "", "unauthorized (401)"},
		{"bad request", http.StatusBadRequest, "bad", "request failed (400)"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var calls atomic.Int32
			c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
				calls.Add(1)
				w.WriteHeader(tt.status)
				io.WriteString(w, tt.body)
			})
			_, err := c.GetMessageRaw(context.Background(), "x")
			if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
				t.Fatalf("error = %v, want containing %q", err, tt.wantErr)
			}
			if calls.Load() != 1 {
				t.Errorf("calls = %d, want no retry", calls.Load())
			}
		})
	}

	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	})
	_, err := c.GetMessageRaw(context.Background(), "gone")
	var nf *NotFoundError
	if !errors.As(err, &nf) {
		t.Errorf("error = %v, want *NotFoundError", err)
	}
}

func TestClient_MarkRead(t *testing.T) {
	var body map[string][]string
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.URL.Path != "/users/me/messages/m9/modify" {
			t.Errorf("unexpected request %s %s", r.Method, r.URL.Path)
		}
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			t.Errorf("decode body: %v", err)
		}
		fmt.Fprint(w, `{"id":"m9"}`)
	})

	if err := MarkRead(context.Background(), c, "m9"); err != nil {
		t.Fatalf("MarkRead() error = %v", err)
	}
	want := map[string][]string{"removeLabelIds": {"UNREAD"}}
	if diff := cmp.Diff(want, body); diff != "" {
		t.Errorf("modify body mismatch (-want +got):\n%s", diff)
	}
}

func TestClient_GetMessagesRawBatch(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		id := strings.TrimPrefix(r.URL.Path, "/users/me/messages/")
		if id == "bad" {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		fmt.Fprintf(w, `{"id":%q,"raw":%q}`, id, base64.RawURLEncoding.EncodeToString([]byte("raw-"+id)))
	})

	msgs, err := c.GetMessagesRawBatch(context.Background(), []string{"a", "bad", "c"})
	if err != nil {
		t.Fatalf("GetMessagesRawBatch() error = %v", err)
	}
	if len(msgs) != 3 || msgs[0] == nil || msgs[1] != nil || msgs[2] == nil {
		t.Fatalf("results = %v, want [a nil c]", msgs)
	}
	if string(msgs[2].Raw) != "raw-c" {
		t.Errorf("msgs[2].Raw = %q", msgs[2].Raw)
	}
}

func TestDecodeBase64URL(t *testing.T) {
	for _, in := range []string{"aGk", "aGk="} {
		got, err := decodeBase64URL(in)
		if err != nil || string(got) != "hi" {
			t.Errorf("decodeBase64URL(%q) = %q, %v", in, got, err)
		}
	}
	if _, err := decodeBase64URL("a=b="); err == nil {
		t.Error("expected error for malformed padding")
	}
}
