package app

import (
	"errors"
	"fmt"
	"slices"
	"strconv"
	"strings"
)

// ErrNotFound and related errors describe lookup, authorization and storage failures.
var (
	ErrNotFound         = errors.New("not found")
	ErrConflict         = errors.New("conflict")
	ErrPermissionDenied = errors.New("permission denied")
	ErrUnauthenticated  = errors.New("unauthenticated")
	ErrPersistence      = errors.New("persistence failure")
)

// MissingShotsError reports shot ids in a bulk batch that have no shot row.
type MissingShotsError struct {
	IDs []int64
}

// NewMissingShotsError returns a sorted missing-shots error.
func NewMissingShotsError(ids []int64) *MissingShotsError {
	sorted := slices.Clone(ids)
	slices.Sort(sorted)
	return &MissingShotsError{IDs: sorted}
}

// Error implements error.
func (e *MissingShotsError) Error() string {
	parts := make([]string, 0, len(e.IDs))
	for _, id := range e.IDs {
		parts = append(parts, strconv.FormatInt(id, 10))
	}
	return "unknown shot ids: " + strings.Join(parts, ", ")
}

// Is lets errors.Is(err, ErrNotFound) match.
func (e *MissingShotsError) Is(target error) bool {
	return target == ErrNotFound
}

// persistenceError wraps unexpected storage failures so transports report them generically.
func persistenceError(op string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, ErrNotFound) || errors.Is(err, ErrConflict) || errors.Is(err, ErrPersistence) || isValidationError(err) {
		return err
	}
	return fmt.Errorf("%s: %w", op, errors.Join(ErrPersistence, err))
}
