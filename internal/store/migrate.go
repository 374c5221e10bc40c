package store

import (
	"database/sql"
	"fmt"
	"strings"
	"time"
)

// MigrationStats summarizes a MigrateLegacy run.
type MigrationStats struct {
	Pending         int
	Migrated        int
	ContactsCreated int
	ProjectLinks    int
	Errors          []string
}

// legacyEmail is a row of the old single-table layout.
type legacyEmail struct {
	ID         int64
	MessageID  string
	Subject    sql.NullString
	Sender     sql.NullString
	ReceivedAt sql.NullString
	Snippet    sql.NullString
	RawPath    sql.NullString
	Status     sql.NullString
	ProjectID  sql.NullInt64
	RemindAt   sql.NullString
	CreatedAt  sql.NullString
	UpdatedAt  sql.NullString
}

// HasLegacyTable reports whether the database still carries the legacy
// emails table.
func (s *Store) HasLegacyTable() (bool, error) {
	var n int
	err := s.db.QueryRow(`
		SELECT COUNT(*) FROM sqlite_master WHERE type = 'table' AND name = 'emails'
	`).Scan(&n)
	if err != nil {
		return false, fmt.Errorf("check legacy table: %w", err)
	}
	return n > 0, nil
}

// MigrateLegacy copies rows of the legacy emails table into messages,
// creating contacts and project links along the way. Rows already present
// by (type, external_id) are skipped, so reruns are no-ops. Each row
// migrates in its own transaction; a failing row is recorded in
// MigrationStats.Errors and the run continues. With dryRun set nothing is
// written and Pending reports how many rows would migrate.
//
// splitSender turns a raw From header into a display name and normalized
// email; callers pass the same function the ingestion path uses.
func (s *Store) MigrateLegacy(dryRun bool, splitSender func(string) (string, string)) (*MigrationStats, error) {
	ok, err := s.HasLegacyTable()
	if err != nil {
		return nil, err
	}
	if !ok {
		return &MigrationStats{}, nil
	}

	rows, err := s.db.Query(`
		SELECT e.id, e.message_id, e.subject, e.sender, e.received_at, e.snippet,
			e.raw_path, e.status, e.project_id, e.remind_at, e.created_at, e.updated_at
		FROM emails e
		WHERE NOT EXISTS (
			SELECT 1 FROM messages m
			WHERE m.type = 'email' AND m.external_id = TRIM(e.message_id)
		)
		ORDER BY e.created_at, e.id
	`)
	if err != nil {
		return nil, fmt.Errorf("query legacy emails: %w", err)
	}
	var pending []legacyEmail
	for rows.Next() {
		var e legacyEmail
		if err := rows.Scan(&e.ID, &e.MessageID, &e.Subject, &e.Sender, &e.ReceivedAt,
			&e.Snippet, &e.RawPath, &e.Status, &e.ProjectID, &e.RemindAt,
			&e.CreatedAt, &e.UpdatedAt); err != nil {
			_ = rows.Close()
			return nil, fmt.Errorf("scan legacy email: %w", err)
		}
		pending = append(pending, e)
	}
	if err := rows.Err(); err != nil {
		_ = rows.Close()
		return nil, err
	}
	_ = rows.Close()

	stats := &MigrationStats{Pending: len(pending)}
	if dryRun {
		return stats, nil
	}

	for _, e := range pending {
		if err := s.migrateLegacyEmail(e, splitSender, stats); err != nil {
			stats.Errors = append(stats.Errors, fmt.Sprintf("email %d: %v", e.ID, err))
		}
	}
	return stats, nil
}

func (s *Store) migrateLegacyEmail(e legacyEmail, splitSender func(string) (string, string), stats *MigrationStats) error {
	name, email := splitSender(e.Sender.String)

	status := e.Status.String
	switch status {
	case StatusUnassigned, StatusAssigned, StatusSnoozed, StatusIgnored:
	case "":
		status = StatusUnassigned
	default:
		return fmt.Errorf("unknown status %q", status)
	}

	var remindAt sql.NullString
	if status == StatusSnoozed && e.RemindAt.Valid && strings.TrimSpace(e.RemindAt.String) != "" {
		t, err := parseLegacyTime(e.RemindAt.String)
		if err != nil {
			return err
		}
		remindAt = sql.NullString{String: formatTime(t), Valid: true}
	}

	created := s.legacyStamp(e.CreatedAt)
	updated := s.legacyStamp(e.UpdatedAt)

	var contactCreated, linked bool
	err := s.withTx(func(tx *sql.Tx) error {
		contactID, isNew, err := s.ensureContact(tx, name, email)
		if err != nil {
			return err
		}
		contactCreated = isNew

		res, err := tx.Exec(`
			INSERT INTO messages (type, external_id, sender, contact_id, subject, snippet,
				timestamp, raw_path, status, remind_at, created_at, updated_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		`, TypeEmail, strings.TrimSpace(e.MessageID), e.Sender.String, contactID,
			e.Subject.String, e.Snippet.String, e.ReceivedAt.String, e.RawPath,
			status, remindAt, created, updated)
		if err != nil {
			return fmt.Errorf("insert message: %w", err)
		}
		messageID, err := res.LastInsertId()
		if err != nil {
			return err
		}

		if !e.ProjectID.Valid {
			return nil
		}
		var exists int
		if err := tx.QueryRow(`SELECT 1 FROM projects WHERE id = ?`, e.ProjectID.Int64).Scan(&exists); err != nil {
			return fmt.Errorf("project %d: %w", e.ProjectID.Int64, ErrProjectNotFound)
		}
		if _, err := tx.Exec(`
			INSERT INTO project_messages (project_id, message_id, contact_id, created_at)
			VALUES (?, ?, ?, ?)
		`, e.ProjectID.Int64, messageID, contactID, updated); err != nil {
			return fmt.Errorf("link project: %w", err)
		}
		if contactID.Valid {
			if _, err := tx.Exec(`
				INSERT OR IGNORE INTO project_contacts (project_id, contact_id, created_at)
				VALUES (?, ?, ?)
			`, e.ProjectID.Int64, contactID.Int64, updated); err != nil {
				return fmt.Errorf("link contact: %w", err)
			}
		}
		linked = true
		return nil
	})
	if err != nil {
		return err
	}

	stats.Migrated++
	if contactCreated {
		stats.ContactsCreated++
	}
	if linked {
		stats.ProjectLinks++
	}
	return nil
}

// parseLegacyTime reads timestamps written by the legacy tool. Values with
// an offset are honored; naive values were written in local time.
func parseLegacyTime(v string) (time.Time, error) {
	v = strings.TrimSpace(v)
	if t, err := time.Parse(time.RFC3339Nano, v); err == nil {
		return t.UTC(), nil
	}
	for _, layout := range legacyTimeLayouts[2:] {
		if t, err := time.ParseInLocation(layout, v, time.Local); err == nil {
			return t.UTC(), nil
		}
	}
	return time.Time{}, fmt.Errorf("unrecognized legacy timestamp %q", v)
}

// legacyStamp converts created_at/updated_at written by SQLite's datetime()
// (naive UTC) to the store layout, falling back to now.
func (s *Store) legacyStamp(v sql.NullString) string {
	if v.Valid {
		if t, err := parseTime(v.String); err == nil {
			return formatTime(t)
		}
	}
	return s.stamp()
}
