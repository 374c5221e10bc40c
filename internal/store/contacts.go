package store

import (
	"database/sql"
	"errors"
	"fmt"
	"strings"
)

// Contact is a person derived from message senders.
type Contact struct {
	ID    int64
	Name  sql.NullString
	Email sql.NullString
	Phone sql.NullString
	Notes sql.NullString
}

// NormalizeEmail returns the identity form of an address: trimmed and lower-cased.
func NormalizeEmail(addr string) string {
	return strings.ToLower(strings.TrimSpace(addr))
}

const contactColumns = `id, name, email, phone, notes`

func scanContact(row interface{ Scan(...any) error }) (*Contact, error) {
	var c Contact
	if err := row.Scan(&c.ID, &c.Name, &c.Email, &c.Phone, &c.Notes); err != nil {
		return nil, err
	}
	return &c, nil
}

// ensureContact gets or creates the contact for email inside tx. An existing
// contact without a name gets name backfilled; an existing name is never
// replaced. Returns a null ID when email is empty.
func (s *Store) ensureContact(tx *sql.Tx, name, email string) (sql.NullInt64, bool, error) {
	email = NormalizeEmail(email)
	name = strings.TrimSpace(name)
	if email == "" {
		return sql.NullInt64{}, false, nil
	}

	var id int64
	var existing sql.NullString
	err := tx.QueryRow(`SELECT id, name FROM contacts WHERE email = ?`, email).Scan(&id, &existing)
	switch {
	case err == nil:
		if name != "" && (!existing.Valid || existing.String == "") {
			if _, err := tx.Exec(`
				UPDATE contacts SET name = ?, updated_at = ? WHERE id = ?
			`, name, s.stamp(), id); err != nil {
				return sql.NullInt64{}, false, fmt.Errorf("backfill contact name: %w", err)
			}
		}
		return sql.NullInt64{Int64: id, Valid: true}, false, nil
	case !errors.Is(err, sql.ErrNoRows):
		return sql.NullInt64{}, false, fmt.Errorf("lookup contact: %w", err)
	}

	now := s.stamp()
	res, err := tx.Exec(`
		INSERT INTO contacts (name, email, created_at, updated_at)
		VALUES (?, ?, ?, ?)
	`, nullString(name), email, now, now)
	if err != nil {
		return sql.NullInt64{}, false, fmt.Errorf("insert contact: %w", err)
	}
	id, err = res.LastInsertId()
	if err != nil {
		return sql.NullInt64{}, false, err
	}
	return sql.NullInt64{Int64: id, Valid: true}, true, nil
}

// EnsureContact gets or creates a contact by email with name backfill.
func (s *Store) EnsureContact(name, email string) (*Contact, error) {
	if NormalizeEmail(email) == "" {
		return nil, fmt.Errorf("ensure contact: email is required")
	}
	var contact *Contact
	err := s.withTx(func(tx *sql.Tx) error {
		id, _, err := s.ensureContact(tx, name, email)
		if err != nil {
			return err
		}
		contact, err = scanContact(tx.QueryRow(
			`SELECT `+contactColumns+` FROM contacts WHERE id = ?`, id.Int64))
		return err
	})
	if err != nil {
		return nil, err
	}
	return contact, nil
}

// GetContact returns a contact by ID, or ErrNotFound.
func (s *Store) GetContact(id int64) (*Contact, error) {
	c, err := scanContact(s.db.QueryRow(
		`SELECT `+contactColumns+` FROM contacts WHERE id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get contact %d: %w", id, err)
	}
	return c, nil
}

// GetContactByEmail looks up a contact by normalized email, or ErrNotFound.
func (s *Store) GetContactByEmail(email string) (*Contact, error) {
	c, err := scanContact(s.db.QueryRow(
		`SELECT `+contactColumns+` FROM contacts WHERE email = ?`, NormalizeEmail(email)))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get contact %q: %w", email, err)
	}
	return c, nil
}

// ListContacts returns all contacts ordered by name then email.
func (s *Store) ListContacts() ([]*Contact, error) {
	rows, err := s.db.Query(`
		SELECT ` + contactColumns + ` FROM contacts
		ORDER BY COALESCE(name, email) COLLATE NOCASE, id
	`)
	if err != nil {
		return nil, fmt.Errorf("query contacts: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var contacts []*Contact
	for rows.Next() {
		c, err := scanContact(rows)
		if err != nil {
			return nil, fmt.Errorf("scan contact: %w", err)
		}
		contacts = append(contacts, c)
	}
	return contacts, rows.Err()
}

// ContactProject groups one contact's messages under a project.
// Project is nil for messages not linked to any project.
type ContactProject struct {
	Project  *Project
	Messages []*Message
}

// ContactMessagesByProject returns the contact's messages grouped by the
// project they are linked to. Unlinked messages are grouped last.
func (s *Store) ContactMessagesByProject(contactID int64) ([]ContactProject, error) {
	rows, err := s.db.Query(`
		SELECT pm.project_id, `+prefixedMessageColumns("m")+`
		FROM messages m
		LEFT JOIN project_messages pm ON pm.message_id = m.id
		WHERE m.contact_id = ?
		ORDER BY pm.project_id IS NULL, pm.project_id, m.timestamp DESC, m.id
	`, contactID)
	if err != nil {
		return nil, fmt.Errorf("query contact messages: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var groups []ContactProject
	index := make(map[int64]int)
	const unlinked = int64(-1)
	for rows.Next() {
		var projectID sql.NullInt64
		msg, err := scanMessage(rows, &projectID)
		if err != nil {
			return nil, fmt.Errorf("scan contact message: %w", err)
		}
		key := unlinked
		if projectID.Valid {
			key = projectID.Int64
		}
		i, ok := index[key]
		if !ok {
			groups = append(groups, ContactProject{})
			i = len(groups) - 1
			index[key] = i
		}
		groups[i].Messages = append(groups[i].Messages, msg)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	for key, i := range index {
		if key == unlinked {
			continue
		}
		p, err := s.GetProject(key)
		if err != nil {
			return nil, err
		}
		groups[i].Project = p
	}
	return groups, nil
}
