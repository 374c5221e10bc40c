package store

import (
	"errors"
	"fmt"
	"testing"

	"github.com/mattn/go-sqlite3"
)

// typedNilError makes errors.As yield a nil *sqlite3.Error.
type typedNilError struct{}

func (typedNilError) Error() string { return "typed nil" }

func (typedNilError) As(target any) bool {
	if ptr, ok := target.(**sqlite3.Error); ok {
		*ptr = nil
		return true
	}
	return false
}

func TestIsSQLiteError(t *testing.T) {
	constraint := sqlite3.Error{Code: sqlite3.ErrConstraint, ExtendedCode: sqlite3.ErrConstraintUnique}

	tests := []struct {
		name   string
		err    error
		substr string
		want   bool
	}{
		{"wrapped value", fmt.Errorf("insert: %w", constraint), "constraint failed", true},
		{"wrapped pointer", fmt.Errorf("insert: %w", &constraint), "constraint failed", true},
		{"other substring", fmt.Errorf("insert: %w", constraint), "no such table", false},
		{"plain error", errors.New("constraint failed"), "constraint failed", false},
		{"typed nil pointer", typedNilError{}, "", false},
		{"nil", nil, "", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := isSQLiteError(tt.err, tt.substr); got != tt.want {
				t.Errorf("isSQLiteError(%v, %q) = %v, want %v", tt.err, tt.substr, got, tt.want)
			}
		})
	}
}

func TestIsUniqueViolation(t *testing.T) {
	unique := fmt.Errorf("insert: %w", sqlite3.Error{
		Code:         sqlite3.ErrConstraint,
		ExtendedCode: sqlite3.ErrConstraintUnique,
	})
	if !isUniqueViolation(unique) {
		t.Error("unique constraint not detected")
	}

	fk := fmt.Errorf("insert: %w", sqlite3.Error{
		Code:         sqlite3.ErrConstraint,
		ExtendedCode: sqlite3.ErrConstraintForeignKey,
	})
	if isUniqueViolation(fk) {
		t.Error("foreign key failure reported as unique violation")
	}

	if isUniqueViolation(errors.New("UNIQUE constraint failed: projects.name")) {
		t.Error("non-sqlite error reported as unique violation")
	}
}
