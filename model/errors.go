package model

import (
	"errors"
	"fmt"
)

// Error taxonomy of the engine. Callers match with errors.Is; every error
// surfaced by a component wraps exactly one of these sentinels.
var (
	// ErrNotFound indicates an unknown workflow, instance or task
	ErrNotFound = errors.New("not found")

	// ErrInvalidState indicates an action attempted on a terminal or already-resolved entity
	ErrInvalidState = errors.New("invalid state")

	// ErrConflict indicates a lost compare-and-swap race; re-read state and retry
	// or treat as already handled
	ErrConflict = errors.New("conflict")

	// ErrConfiguration indicates a malformed workflow definition
	ErrConfiguration = errors.New("configuration error")

	// ErrDependency indicates an unavailable external collaborator
	ErrDependency = errors.New("dependency failure")
)

func NotFoundf(format string, args ...interface{}) error {
	return fmt.Errorf(format+": %w", append(args, ErrNotFound)...)
}

func InvalidStatef(format string, args ...interface{}) error {
	return fmt.Errorf(format+": %w", append(args, ErrInvalidState)...)
}

func Conflictf(format string, args ...interface{}) error {
	return fmt.Errorf(format+": %w", append(args, ErrConflict)...)
}

func ConfigErrorf(format string, args ...interface{}) error {
	return fmt.Errorf(format+": %w", append(args, ErrConfiguration)...)
}

func DependencyErrorf(format string, args ...interface{}) error {
	return fmt.Errorf(format+": %w", append(args, ErrDependency)...)
}
