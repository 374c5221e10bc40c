package store

import (
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"
)

// Message types.
const (
	TypeEmail = "email"
	TypeOther = "other"
)

// Message statuses.
const (
	StatusUnassigned = "unassigned"
	StatusAssigned   = "assigned"
	StatusSnoozed    = "snoozed"
	StatusIgnored    = "ignored"
)

// MessageInput holds the normalized fields written by UpsertMessage.
type MessageInput struct {
	Type        string // defaults to TypeEmail
	ExternalID  string
	Sender      string
	SenderName  string
	SenderEmail string
	Subject     string
	Snippet     string
	Content     string
	Timestamp   string
	RawPath     string
}

// Message is a stored message row.
type Message struct {
	ID         int64
	Type       string
	ExternalID string
	Sender     string
	ContactID  sql.NullInt64
	Subject    string
	Snippet    string
	Content    sql.NullString
	Timestamp  string
	RawPath    sql.NullString
	Status     string
	RemindAt   sql.NullTime
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

var messageFields = []string{
	"id", "type", "external_id", "sender", "contact_id", "subject", "snippet",
	"content", "timestamp", "raw_path", "status", "remind_at", "created_at", "updated_at",
}

var messageColumns = strings.Join(messageFields, ", ")

func prefixedMessageColumns(alias string) string {
	cols := make([]string, len(messageFields))
	for i, f := range messageFields {
		cols[i] = alias + "." + f
	}
	return strings.Join(cols, ", ")
}

// scanMessage scans a message row. Any leading columns selected before the
// message columns are scanned into lead.
func scanMessage(row interface{ Scan(...any) error }, lead ...any) (*Message, error) {
	var m Message
	var sender, subject, snippet, timestamp sql.NullString
	var remindAt sql.NullString
	var created, updated string
	dest := append(lead,
		&m.ID, &m.Type, &m.ExternalID, &sender, &m.ContactID, &subject, &snippet,
		&m.Content, &timestamp, &m.RawPath, &m.Status, &remindAt, &created, &updated,
	)
	if err := row.Scan(dest...); err != nil {
		return nil, err
	}
	m.Sender = sender.String
	m.Subject = subject.String
	m.Snippet = snippet.String
	m.Timestamp = timestamp.String
	m.RemindAt = nullTime(remindAt)
	m.CreatedAt, _ = parseTime(created)
	m.UpdatedAt, _ = parseTime(updated)
	return &m, nil
}

// UpsertMessage inserts a message, or refreshes the content fields of the
// existing row with the same (type, external_id). Status, remind_at and
// project links of an existing row are left untouched. The sender contact is
// ensured in the same transaction. The bool reports whether a row was created.
func (s *Store) UpsertMessage(in *MessageInput) (*Message, bool, error) {
	if in == nil || strings.TrimSpace(in.ExternalID) == "" {
		return nil, false, fmt.Errorf("upsert message: external id is required")
	}
	typ := in.Type
	if typ == "" {
		typ = TypeEmail
	}
	externalID := strings.TrimSpace(in.ExternalID)

	var msg *Message
	var created bool
	err := s.withTx(func(tx *sql.Tx) error {
		contactID, _, err := s.ensureContact(tx, in.SenderName, in.SenderEmail)
		if err != nil {
			return err
		}

		now := s.stamp()
		var id int64
		err = tx.QueryRow(`SELECT id FROM messages WHERE type = ? AND external_id = ?`,
			typ, externalID).Scan(&id)
		switch {
		case errors.Is(err, sql.ErrNoRows):
			res, err := tx.Exec(`
				INSERT INTO messages (type, external_id, sender, contact_id, subject, snippet,
					content, timestamp, raw_path, status, created_at, updated_at)
				VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
			`, typ, externalID, in.Sender, contactID, in.Subject, in.Snippet,
				nullString(in.Content), in.Timestamp, nullString(in.RawPath),
				StatusUnassigned, now, now)
			if err != nil {
				return fmt.Errorf("insert message: %w", err)
			}
			id, err = res.LastInsertId()
			if err != nil {
				return err
			}
			created = true
		case err != nil:
			return fmt.Errorf("lookup message: %w", err)
		default:
			if _, err := tx.Exec(`
				UPDATE messages SET
					sender = ?, contact_id = ?, subject = ?, snippet = ?,
					content = COALESCE(?, content), timestamp = ?,
					raw_path = COALESCE(?, raw_path), updated_at = ?
				WHERE id = ?
			`, in.Sender, contactID, in.Subject, in.Snippet,
				nullString(in.Content), in.Timestamp, nullString(in.RawPath), now, id); err != nil {
				return fmt.Errorf("update message: %w", err)
			}
		}

		msg, err = scanMessage(tx.QueryRow(
			`SELECT `+messageColumns+` FROM messages WHERE id = ?`, id))
		return err
	})
	if err != nil {
		return nil, false, err
	}
	return msg, created, nil
}

// GetMessage returns a message by ID, or ErrNotFound.
func (s *Store) GetMessage(id int64) (*Message, error) {
	m, err := scanMessage(s.db.QueryRow(
		`SELECT `+messageColumns+` FROM messages WHERE id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get message %d: %w", id, err)
	}
	return m, nil
}

// GetMessageByExternalID returns a message by its upsert key, or ErrNotFound.
func (s *Store) GetMessageByExternalID(typ, externalID string) (*Message, error) {
	if typ == "" {
		typ = TypeEmail
	}
	m, err := scanMessage(s.db.QueryRow(
		`SELECT `+messageColumns+` FROM messages WHERE type = ? AND external_id = ?`,
		typ, externalID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get message %q: %w", externalID, err)
	}
	return m, nil
}

// ListMessages returns messages with any of the given statuses, or all
// messages when none are given, most recently updated first.
func (s *Store) ListMessages(statuses ...string) ([]*Message, error) {
	query := `SELECT ` + messageColumns + ` FROM messages`
	var args []any
	if len(statuses) > 0 {
		placeholders := make([]string, len(statuses))
		for i, st := range statuses {
			placeholders[i] = "?"
			args = append(args, st)
		}
		query += ` WHERE status IN (` + strings.Join(placeholders, ", ") + `)`
	}
	query += ` ORDER BY updated_at DESC, id DESC`
	return s.queryMessages(query, args...)
}

// MessagesByProject returns the messages linked to a project, newest first.
func (s *Store) MessagesByProject(projectID int64) ([]*Message, error) {
	if _, err := s.GetProject(projectID); err != nil {
		return nil, err
	}
	return s.queryMessages(`
		SELECT `+prefixedMessageColumns("m")+`
		FROM messages m
		JOIN project_messages pm ON pm.message_id = m.id
		WHERE pm.project_id = ?
		ORDER BY m.updated_at DESC, m.id DESC
	`, projectID)
}

// DueReminders returns snoozed messages whose remind_at is at or before now,
// earliest first.
func (s *Store) DueReminders(now time.Time) ([]*Message, error) {
	return s.queryMessages(`
		SELECT `+messageColumns+` FROM messages
		WHERE status = ? AND remind_at IS NOT NULL AND remind_at <= ?
		ORDER BY remind_at ASC, id ASC
	`, StatusSnoozed, formatTime(now))
}

// ProjectForMessage returns the project a message is linked to, or
// ErrNotFound when it has none.
func (s *Store) ProjectForMessage(messageID int64) (*Project, error) {
	p, err := scanProject(s.db.QueryRow(`
		SELECT p.id, p.name, p.description, p.created_at
		FROM projects p
		JOIN project_messages pm ON pm.project_id = p.id
		WHERE pm.message_id = ?
		ORDER BY pm.id DESC LIMIT 1
	`, messageID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get project for message %d: %w", messageID, err)
	}
	return p, nil
}

func (s *Store) queryMessages(query string, args ...any) ([]*Message, error) {
	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("query messages: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var messages []*Message
	for rows.Next() {
		m, err := scanMessage(rows)
		if err != nil {
			return nil, fmt.Errorf("scan message: %w", err)
		}
		messages = append(messages, m)
	}
	return messages, rows.Err()
}
