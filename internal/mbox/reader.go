// Package mbox splits mbox exports into individual RFC 5322 messages.
//
// Messages are delimited by Unix "From " separator lines. Body lines that
// were escaped as ">From " (mboxrd) are unescaped on read.
package mbox

import (
	"bufio"
	"bytes"
	"errors"
	"fmt"
	"io"
	"regexp"
)

// DefaultMaxMessageBytes bounds a single message.
const DefaultMaxMessageBytes = 64 << 20

// ErrMessageTooLarge is returned when a message exceeds the reader's limit.
// The reader stays usable; the next call continues with the following message.
var ErrMessageTooLarge = errors.New("mbox message too large")

// Message is one message split out of an mbox file.
type Message struct {
	// Index is the 1-based position of the message in the file.
	Index int

	// Separator is the "From " line that preceded the message.
	Separator string

	Raw []byte
}

// Reader yields messages from an mbox stream one at a time.
type Reader struct {
	br       *bufio.Reader
	maxBytes int64

	pending string // separator already read for the next message
	index   int
	done    bool
}

// NewReader creates a reader with DefaultMaxMessageBytes.
func NewReader(r io.Reader) *Reader {
	return &Reader{br: bufio.NewReaderSize(r, 64<<10), maxBytes: DefaultMaxMessageBytes}
}

// SetMaxMessageBytes changes the per-message limit. n <= 0 disables it.
func (r *Reader) SetMaxMessageBytes(n int64) {
	r.maxBytes = n
}

// Next returns the next message, or io.EOF when the stream is exhausted.
// Text before the first separator is discarded.
func (r *Reader) Next() (*Message, error) {
	for r.pending == "" {
		if r.done {
			return nil, io.EOF
		}
		line, err := r.readLine()
		if err != nil && err != io.EOF {
			return nil, err
		}
		if IsSeparator(line) {
			r.pending = string(bytes.TrimRight(line, "\r\n"))
		}
		if err == io.EOF {
			r.done = true
		}
	}

	r.index++
	msg := &Message{Index: r.index, Separator: r.pending}
	r.pending = ""

	var buf bytes.Buffer
	tooLarge := false
	for !r.done {
		line, err := r.readLine()
		if err != nil && err != io.EOF {
			return nil, err
		}
		if err == io.EOF {
			r.done = true
		}
		if IsSeparator(line) {
			r.pending = string(bytes.TrimRight(line, "\r\n"))
			break
		}
		line = unescapeFrom(line)
		if r.maxBytes > 0 && int64(buf.Len()+len(line)) > r.maxBytes {
			tooLarge = true
			continue
		}
		if !tooLarge {
			buf.Write(line)
		}
	}

	if tooLarge {
		return nil, fmt.Errorf("message %d: %w (limit %d bytes)", msg.Index, ErrMessageTooLarge, r.maxBytes)
	}
	msg.Raw = trimSeparatorBlank(buf.Bytes())
	return msg, nil
}

func (r *Reader) readLine() ([]byte, error) {
	var out []byte
	for {
		chunk, err := r.br.ReadSlice('\n')
		out = append(out, chunk...)
		if errors.Is(err, bufio.ErrBufferFull) {
			continue
		}
		return out, err
	}
}

// separatorRe matches "From <sender> <asctime date>", e.g.
// "From alice@example.com Mon Jan  2 15:04:05 2006". Some writers append a
// zone or put the year before the time, so only the weekday, a time and a
// four-digit year are required.
var separatorRe = regexp.MustCompile(
	`^From \S+ +(Mon|Tue|Wed|Thu|Fri|Sat|Sun) (.*\d{1,2}:\d{2}.*\b\d{4}\b|.*\b\d{4}\b.*\d{1,2}:\d{2})`)

// IsSeparator reports whether line is an mbox "From " separator.
func IsSeparator(line []byte) bool {
	if !bytes.HasPrefix(line, []byte("From ")) {
		return false
	}
	return separatorRe.Match(bytes.TrimRight(line, "\r\n"))
}

// unescapeFrom strips one '>' from lines matching ^>+From .
func unescapeFrom(line []byte) []byte {
	rest := bytes.TrimLeft(line, ">")
	if len(rest) == len(line) || !bytes.HasPrefix(rest, []byte("From ")) {
		return line
	}
	return line[1:]
}

// trimSeparatorBlank drops the single blank line writers put before the
// next separator.
func trimSeparatorBlank(raw []byte) []byte {
	switch {
	case bytes.HasSuffix(raw, []byte("\r\n\r\n")):
		return raw[:len(raw)-2]
	case bytes.HasSuffix(raw, []byte("\n\n")):
		return raw[:len(raw)-1]
	}
	return raw
}

// Sniff reports whether the first limit bytes of r contain a separator.
func Sniff(r io.Reader, limit int64) (bool, error) {
	sc := bufio.NewScanner(io.LimitReader(r, limit))
	sc.Buffer(make([]byte, 0, 64<<10), 1<<20)
	for sc.Scan() {
		if IsSeparator(sc.Bytes()) {
			return true, nil
		}
	}
	return false, sc.Err()
}
