package domain

import (
	"errors"
	"fmt"
)

// ErrValidation is the parent of every input-legality failure; callers match it with errors.Is.
var ErrValidation = errors.New("validation failed")

var (
	ErrInvalidActCode    = fmt.Errorf("%w: act code must match act followed by two digits", ErrValidation)
	ErrInvalidShotCode   = fmt.Errorf("%w: shot code must match shot followed by two digits", ErrValidation)
	ErrInvalidName       = fmt.Errorf("%w: invalid name", ErrValidation)
	ErrInvalidSortOrder  = fmt.Errorf("%w: invalid sort order", ErrValidation)
	ErrInvalidShotID     = fmt.Errorf("%w: invalid shot id", ErrValidation)
	ErrInvalidShotIDs    = fmt.Errorf("%w: invalid shot ids", ErrValidation)
	ErrInvalidDepartment = fmt.Errorf("%w: invalid department", ErrValidation)
	ErrInvalidStatus     = fmt.Errorf("%w: invalid status", ErrValidation)
	ErrInvalidPriority   = fmt.Errorf("%w: invalid priority", ErrValidation)
	ErrInvalidFrameRange = fmt.Errorf("%w: invalid frame range", ErrValidation)
	ErrInvalidActor      = fmt.Errorf("%w: invalid actor", ErrValidation)
	ErrInvalidRole       = fmt.Errorf("%w: invalid role", ErrValidation)
	ErrTransitionDenied  = fmt.Errorf("%w: status transition not allowed", ErrValidation)
)
