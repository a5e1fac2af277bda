package model

import "fmt"

// NotFoundError is returned by storage backends when a run or test result does not exist.
type NotFoundError struct {
	Kind string
	ID   string
}

func (e NotFoundError) Error() string {
	if e.Kind == "" {
		return "not found"
	}

	return fmt.Sprintf("%s %q not found", e.Kind, e.ID)
}

// DuplicateError is returned when a run is saved with an ID that already exists.
type DuplicateError struct {
	ID string
}

func (e DuplicateError) Error() string {
	return fmt.Sprintf("duplicate entry %q", e.ID)
}
