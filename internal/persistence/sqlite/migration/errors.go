package migration

import (
	"errors"
	"fmt"
)

var (
	ErrMigrationFailed      = errors.New("migration failed")
	ErrInvalidMigrationFile = errors.New("invalid migration file")
	ErrDuplicateVersion     = errors.New("duplicate migration version")
	// ErrVersionConflict means the embedded files and schema_migrations
	// disagree about what has been applied.
	ErrVersionConflict  = errors.New("migration version conflict")
	ErrChecksumMismatch = errors.New("applied migration was edited")
)

// StepError records which step of which migration failed. Source is the
// embedded file for scan steps and empty for database steps.
type StepError struct {
	Version string
	Source  string
	Step    string
	Err     error
}

func (e *StepError) Error() string {
	switch {
	case e.Version != "" && e.Source != "":
		return fmt.Sprintf("migration %s (%s): %s: %v", e.Version, e.Source, e.Step, e.Err)
	case e.Version != "":
		return fmt.Sprintf("migration %s: %s: %v", e.Version, e.Step, e.Err)
	case e.Source != "":
		return fmt.Sprintf("migration file %s: %s: %v", e.Source, e.Step, e.Err)
	}
	return fmt.Sprintf("migration: %s: %v", e.Step, e.Err)
}

func (e *StepError) Unwrap() error { return e.Err }

func fileError(version, source, step string, err error) error {
	return &StepError{Version: version, Source: source, Step: step, Err: err}
}

func dbError(version, step string, err error) error {
	return &StepError{Version: version, Step: step, Err: err}
}
