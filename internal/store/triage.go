package store

import (
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"
)

// lockMessage loads id and status of a message inside tx.
func lockMessage(tx *sql.Tx, messageID int64) (status string, contactID sql.NullInt64, err error) {
	err = tx.QueryRow(`SELECT status, contact_id FROM messages WHERE id = ?`, messageID).
		Scan(&status, &contactID)
	if errors.Is(err, sql.ErrNoRows) {
		return "", sql.NullInt64{}, ErrNotFound
	}
	if err != nil {
		return "", sql.NullInt64{}, fmt.Errorf("load message %d: %w", messageID, err)
	}
	return status, contactID, nil
}

// Assign links a message to a project and marks it assigned. Any previous
// project link of the message is replaced and a pending reminder is cleared.
// The message's contact, if known, is added to the project's contacts.
func (s *Store) Assign(messageID, projectID int64) error {
	return s.withTx(func(tx *sql.Tx) error {
		return s.assignTx(tx, messageID, projectID)
	})
}

// CreateProjectAndAssign creates a project and assigns a message to it in one
// transaction. If the message is missing or cannot be assigned, no project
// row is written.
func (s *Store) CreateProjectAndAssign(name, description string, messageID int64) (*Project, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, ErrEmptyName
	}

	var project *Project
	err := s.withTx(func(tx *sql.Tx) error {
		p, err := s.insertProject(tx, name, description)
		if err != nil {
			return err
		}
		if err := s.assignTx(tx, messageID, p.ID); err != nil {
			return err
		}
		project = p
		return nil
	})
	if err != nil {
		return nil, err
	}
	return project, nil
}

func (s *Store) assignTx(tx *sql.Tx, messageID, projectID int64) error {
	var exists int
	err := tx.QueryRow(`SELECT 1 FROM projects WHERE id = ?`, projectID).Scan(&exists)
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("assign message %d: %w", messageID, ErrProjectNotFound)
	}
	if err != nil {
		return fmt.Errorf("load project %d: %w", projectID, err)
	}

	status, contactID, err := lockMessage(tx, messageID)
	if err != nil {
		return err
	}
	if status == StatusIgnored {
		return fmt.Errorf("assign message %d from %s: %w", messageID, status, ErrInvalidTransition)
	}

	now := s.stamp()
	if _, err := tx.Exec(`
		UPDATE messages SET status = ?, remind_at = NULL, updated_at = ? WHERE id = ?
	`, StatusAssigned, now, messageID); err != nil {
		return fmt.Errorf("update message status: %w", err)
	}

	if _, err := tx.Exec(`DELETE FROM project_messages WHERE message_id = ?`, messageID); err != nil {
		return fmt.Errorf("clear project link: %w", err)
	}
	if _, err := tx.Exec(`
		INSERT INTO project_messages (project_id, message_id, contact_id, created_at)
		VALUES (?, ?, ?, ?)
	`, projectID, messageID, contactID, now); err != nil {
		return fmt.Errorf("link message to project: %w", err)
	}

	if contactID.Valid {
		if _, err := tx.Exec(`
			INSERT OR IGNORE INTO project_contacts (project_id, contact_id, created_at)
			VALUES (?, ?, ?)
		`, projectID, contactID.Int64, now); err != nil {
			return fmt.Errorf("link contact to project: %w", err)
		}
	}
	return nil
}

// Snooze marks a message snoozed until remindAt. Re-snoozing overwrites the
// previous reminder. Project links are kept.
func (s *Store) Snooze(messageID int64, remindAt time.Time) error {
	if remindAt.IsZero() {
		return fmt.Errorf("snooze message %d: reminder time is required", messageID)
	}
	return s.withTx(func(tx *sql.Tx) error {
		status, _, err := lockMessage(tx, messageID)
		if err != nil {
			return err
		}
		if status == StatusIgnored {
			return fmt.Errorf("snooze message %d from %s: %w", messageID, status, ErrInvalidTransition)
		}
		if _, err := tx.Exec(`
			UPDATE messages SET status = ?, remind_at = ?, updated_at = ? WHERE id = ?
		`, StatusSnoozed, formatTime(remindAt), s.stamp(), messageID); err != nil {
			return fmt.Errorf("snooze message %d: %w", messageID, err)
		}
		return nil
	})
}

// Ignore marks a message ignored and clears any reminder. Ignoring an
// already ignored message is a no-op.
func (s *Store) Ignore(messageID int64) error {
	return s.withTx(func(tx *sql.Tx) error {
		status, _, err := lockMessage(tx, messageID)
		if err != nil {
			return err
		}
		if status == StatusIgnored {
			return nil
		}
		if _, err := tx.Exec(`
			UPDATE messages SET status = ?, remind_at = NULL, updated_at = ? WHERE id = ?
		`, StatusIgnored, s.stamp(), messageID); err != nil {
			return fmt.Errorf("ignore message %d: %w", messageID, err)
		}
		return nil
	})
}

// IsSenderIgnored reports whether addr is in the ignore set.
func (s *Store) IsSenderIgnored(addr string) (bool, error) {
	addr = NormalizeEmail(addr)
	if addr == "" {
		return false, nil
	}
	var n int
	if err := s.db.QueryRow(`SELECT COUNT(*) FROM ignored_senders WHERE email = ?`, addr).Scan(&n); err != nil {
		return false, fmt.Errorf("check ignored sender: %w", err)
	}
	return n > 0, nil
}

// AddIgnoredSender adds addr to the ignore set. Adding an address twice is
// not an error.
func (s *Store) AddIgnoredSender(addr string) error {
	addr = NormalizeEmail(addr)
	if addr == "" {
		return fmt.Errorf("add ignored sender: address is required")
	}
	if _, err := s.db.Exec(`
		INSERT OR IGNORE INTO ignored_senders (email, created_at) VALUES (?, ?)
	`, addr, s.stamp()); err != nil {
		return fmt.Errorf("add ignored sender: %w", err)
	}
	return nil
}

// ListIgnoredSenders returns the ignore set in address order.
func (s *Store) ListIgnoredSenders() ([]string, error) {
	rows, err := s.db.Query(`SELECT email FROM ignored_senders ORDER BY email`)
	if err != nil {
		return nil, fmt.Errorf("query ignored senders: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []string
	for rows.Next() {
		var e string
		if err := rows.Scan(&e); err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

// IsProcessed reports whether a provider ref was already ingested from source.
func (s *Store) IsProcessed(source, ref string) (bool, error) {
	var n int
	if err := s.db.QueryRow(`
		SELECT COUNT(*) FROM processed_refs WHERE source = ? AND ref = ?
	`, source, ref).Scan(&n); err != nil {
		return false, fmt.Errorf("check processed ref: %w", err)
	}
	return n > 0, nil
}

// MarkProcessed records a provider ref as ingested.
func (s *Store) MarkProcessed(source, ref string) error {
	if _, err := s.db.Exec(`
		INSERT OR IGNORE INTO processed_refs (source, ref, created_at) VALUES (?, ?, ?)
	`, source, ref, s.stamp()); err != nil {
		return fmt.Errorf("mark processed %s/%s: %w", source, ref, err)
	}
	return nil
}
