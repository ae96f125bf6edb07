package domain

import (
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrStaleLocation marks an operation on a location with no entry in the
	// store. It is soft: callers log it and keep the state unchanged.
	ErrStaleLocation = errors.New("offset location not found")
	// ErrNoSelectedLabware rejects substep transitions that need a selection.
	ErrNoSelectedLabware = errors.New("no labware selected")
	// ErrResetUnsupported is returned when a reset is requested for a default
	// offset, which has nothing further to cascade to.
	ErrResetUnsupported = errors.New("default offsets cannot be reset")
	// ErrMissingDefinitionURI reports a labware record without a URI.
	ErrMissingDefinitionURI = errors.New("labware definition uri required")
	// ErrURIMismatch reports a location that belongs to another labware URI.
	ErrURIMismatch = errors.New("location belongs to a different labware uri")
	// ErrRunNotFound is returned for unknown calibration run IDs.
	ErrRunNotFound = errors.New("calibration run not found")
	// ErrRunExists is returned when a run ID is reused.
	ErrRunExists = errors.New("calibration run already exists")
	// ErrUnknownLabware is returned when a run has no labware with the URI.
	ErrUnknownLabware = errors.New("labware not part of run")
	// ErrMissingLocation rejects position and reset requests without a location.
	ErrMissingLocation = errors.New("offset location required")
	// ErrDuplicateLabware rejects a run listing the same URI twice.
	ErrDuplicateLabware = errors.New("duplicate labware uri")
	// ErrUnknownStep is returned when jumping to a step outside the run's order.
	ErrUnknownStep = errors.New("unknown step")
	// ErrRunChanged is returned when a run was modified while its offsets
	// were being persisted. The persisted offsets stay; applying again
	// reconciles the run.
	ErrRunChanged = errors.New("calibration run changed during apply")
	// ErrApplyInProgress rejects a second concurrent apply of the same run.
	ErrApplyInProgress = errors.New("apply already in progress for run")
)

// StaleLocationError wraps ErrStaleLocation with the location that missed.
type StaleLocationError struct {
	Location OffsetLocation
}

func (e *StaleLocationError) Error() string {
	return fmt.Sprintf("%v: %s", ErrStaleLocation, describeLocation(e.Location))
}

func (e *StaleLocationError) Unwrap() error { return ErrStaleLocation }

// DuplicateLocationError reports two location-specific entries with equal
// locations.
type DuplicateLocationError struct {
	Location LocationSpecific
}

func (e *DuplicateLocationError) Error() string {
	return fmt.Sprintf("duplicate offset location %s", e.Location)
}

// MissingPositionError is returned when a final position is recorded before
// an initial position exists for the location.
type MissingPositionError struct {
	Location OffsetLocation
	Field    string
}

func (e *MissingPositionError) Error() string {
	return fmt.Sprintf("%s missing for %s", e.Field, describeLocation(e.Location))
}

// IncompleteEntry describes one offset that cannot be applied.
type IncompleteEntry struct {
	Location OffsetLocation
	Missing  []string
}

// IncompleteCalibrationError blocks Apply when any confirmed working offset
// lacks the data needed to persist it.
type IncompleteCalibrationError struct {
	URI     string
	Entries []IncompleteEntry
}

func (e *IncompleteCalibrationError) Error() string {
	parts := make([]string, 0, len(e.Entries))
	for _, entry := range e.Entries {
		parts = append(parts, fmt.Sprintf("%s (missing %s)", describeLocation(entry.Location), strings.Join(entry.Missing, ", ")))
	}
	return fmt.Sprintf("incomplete calibration for %s: %s", e.URI, strings.Join(parts, "; "))
}

// IsSoft reports whether err is a logged-and-ignored condition rather than a
// caller contract violation.
func IsSoft(err error) bool {
	return errors.Is(err, ErrStaleLocation)
}

func describeLocation(loc OffsetLocation) string {
	if loc == nil {
		return "<no location>"
	}
	if s, ok := loc.(fmt.Stringer); ok {
		return s.String()
	}
	return loc.Key()
}
