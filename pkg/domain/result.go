package domain

import (
	"fmt"
	"strings"
)

// Severity captures how a diagnostic affects the operation that raised it.
type Severity string

// Diagnostic severities.
const (
	// SeverityBlock rejects the operation; the state is left unchanged.
	SeverityBlock Severity = "block"
	// SeverityWarn is logged and ignored.
	SeverityWarn Severity = "warn"
	SeverityLog  Severity = "log"
)

// Code classifies a diagnostic so callers can react without parsing text.
type Code string

// Diagnostic codes.
const (
	CodeStaleLocation         Code = "stale_location"
	CodeMissingLocation       Code = "missing_location"
	CodeNoSelectedLabware     Code = "no_selected_labware"
	CodeIncompleteCalibration Code = "incomplete_calibration"
	CodeMissingPosition       Code = "missing_position"
	CodeResetUnsupported      Code = "reset_unsupported"
	CodeDuplicateLocation     Code = "duplicate_location"
	CodeInvariant             Code = "invariant"
)

// Violation reports one diagnostic raised by the engine or a rule.
type Violation struct {
	Rule     string   `json:"rule"`
	Code     Code     `json:"code"`
	Severity Severity `json:"severity"`
	Message  string   `json:"message"`
	URI      string   `json:"uri,omitempty"`
	Location string   `json:"location,omitempty"`
}

// Result aggregates diagnostics from engine operations and rules.
type Result struct {
	Violations []Violation `json:"violations,omitempty"`
}

// Merge appends violations from another result.
func (r *Result) Merge(other Result) {
	if len(other.Violations) == 0 {
		return
	}
	r.Violations = append(r.Violations, other.Violations...)
}

// Add appends a single violation.
func (r *Result) Add(v Violation) {
	r.Violations = append(r.Violations, v)
}

// HasBlocking returns true if the result contains blocking violations.
func (r Result) HasBlocking() bool {
	for _, v := range r.Violations {
		if v.Severity == SeverityBlock {
			return true
		}
	}
	return false
}

// Has reports whether a violation with the given code is present.
func (r Result) Has(code Code) bool {
	for _, v := range r.Violations {
		if v.Code == code {
			return true
		}
	}
	return false
}

// Warnings returns the non-blocking violations.
func (r Result) Warnings() []Violation {
	var out []Violation
	for _, v := range r.Violations {
		if v.Severity != SeverityBlock {
			out = append(out, v)
		}
	}
	return out
}

// RuleViolationError is returned when blocking violations are present.
type RuleViolationError struct {
	Result Result
}

func (e RuleViolationError) Error() string {
	var msgs []string
	for _, v := range e.Result.Violations {
		if v.Severity == SeverityBlock {
			msgs = append(msgs, fmt.Sprintf("%s: %s", v.Rule, v.Message))
		}
	}
	if len(msgs) == 0 {
		return "transaction blocked by rules"
	}
	return "transaction blocked by rules: " + strings.Join(msgs, "; ")
}
