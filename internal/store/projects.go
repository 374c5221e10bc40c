package store

import (
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"
)

// Project is a user-defined bucket that messages are assigned to.
type Project struct {
	ID          int64
	Name        string
	Description sql.NullString
	CreatedAt   time.Time
}

const projectColumns = `id, name, description, created_at`

func scanProject(row interface{ Scan(...any) error }) (*Project, error) {
	var p Project
	var created string
	if err := row.Scan(&p.ID, &p.Name, &p.Description, &created); err != nil {
		return nil, err
	}
	p.CreatedAt, _ = parseTime(created)
	return &p, nil
}

// CreateProject inserts a new project. The name is trimmed; an empty name
// returns ErrEmptyName and a duplicate returns ErrProjectExists. Neither
// case writes a row.
func (s *Store) CreateProject(name, description string) (*Project, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, ErrEmptyName
	}

	var project *Project
	err := s.withTx(func(tx *sql.Tx) error {
		var err error
		project, err = s.insertProject(tx, name, description)
		return err
	})
	if err != nil {
		return nil, err
	}
	return project, nil
}

func (s *Store) insertProject(tx *sql.Tx, name, description string) (*Project, error) {
	now := s.stamp()
	res, err := tx.Exec(`
		INSERT INTO projects (name, description, created_at, updated_at)
		VALUES (?, ?, ?, ?)
	`, name, nullString(strings.TrimSpace(description)), now, now)
	if err != nil {
		if isUniqueViolation(err) {
			return nil, fmt.Errorf("create project %q: %w", name, ErrProjectExists)
		}
		return nil, fmt.Errorf("insert project: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return nil, err
	}
	return scanProject(tx.QueryRow(`SELECT `+projectColumns+` FROM projects WHERE id = ?`, id))
}

// ListProjects returns all projects in creation order.
func (s *Store) ListProjects() ([]*Project, error) {
	rows, err := s.db.Query(`SELECT ` + projectColumns + ` FROM projects ORDER BY created_at, id`)
	if err != nil {
		return nil, fmt.Errorf("query projects: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var projects []*Project
	for rows.Next() {
		p, err := scanProject(rows)
		if err != nil {
			return nil, fmt.Errorf("scan project: %w", err)
		}
		projects = append(projects, p)
	}
	return projects, rows.Err()
}

// GetProject returns the project with the given ID, or ErrProjectNotFound.
func (s *Store) GetProject(id int64) (*Project, error) {
	p, err := scanProject(s.db.QueryRow(
		`SELECT `+projectColumns+` FROM projects WHERE id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrProjectNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get project %d: %w", id, err)
	}
	return p, nil
}

// UpdateProjectDescription replaces a project's description.
func (s *Store) UpdateProjectDescription(id int64, description string) error {
	res, err := s.db.Exec(`
		UPDATE projects SET description = ?, updated_at = ? WHERE id = ?
	`, nullString(strings.TrimSpace(description)), s.stamp(), id)
	if err != nil {
		return fmt.Errorf("update project %d: %w", id, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrProjectNotFound
	}
	return nil
}
