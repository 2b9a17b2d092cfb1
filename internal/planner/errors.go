package planner

import (
	"errors"
	"fmt"
	"strings"
)

// PlanError represents an error detected while planning a query.
//
// Plan errors include:
//   - No datasource: a required concept cannot be supplied at the grain
//   - Unexpected base datasource: resolution returned an unwrapped table
//   - Grain corruption: a compiled CTE does not sit at its source grain
//   - No eligible base grain: no CTE can carry the query's row stream
//   - Join target not found: a declared join names an unknown datasource
//
// PlanError includes structured fields for diagnostics.
type PlanError struct {
	// Code identifies the error category.
	Code PlanErrorCode

	// Message is a human-readable description.
	Message string

	// Concept is the concept address involved, if any.
	Concept string

	// Grain is the grain involved, if any.
	Grain string

	// Datasource is the datasource identifier or CTE name involved, if any.
	Datasource string

	// Details contains additional context.
	Details map[string]string

	// Err is the underlying cause, if any.
	Err error
}

// PlanErrorCode categorizes plan errors.
type PlanErrorCode string

const (
	// ErrCodeNoDatasource indicates no datasource supplies a concept.
	ErrCodeNoDatasource PlanErrorCode = "NO_DATASOURCE_FOR_CONCEPT"

	// ErrCodeUnexpectedBase indicates a bare base datasource after resolution.
	ErrCodeUnexpectedBase PlanErrorCode = "UNEXPECTED_BASE_DATASOURCE"

	// ErrCodeGrainCorruption indicates a CTE grain differs from its source grain.
	ErrCodeGrainCorruption PlanErrorCode = "GRAIN_CORRUPTION"

	// ErrCodeNoEligibleBaseGrain indicates no CTE grain fits the query grain.
	ErrCodeNoEligibleBaseGrain PlanErrorCode = "NO_ELIGIBLE_BASE_GRAIN"

	// ErrCodeJoinTargetNotFound indicates a join references an unknown datasource.
	ErrCodeJoinTargetNotFound PlanErrorCode = "JOIN_TARGET_NOT_FOUND"
)

// Error implements the error interface.
func (e *PlanError) Error() string {
	var ctx []string
	if e.Concept != "" {
		ctx = append(ctx, "concept="+e.Concept)
	}
	if e.Datasource != "" {
		ctx = append(ctx, "datasource="+e.Datasource)
	}
	if len(ctx) == 0 {
		return fmt.Sprintf("%s: %s", e.Code, e.Message)
	}
	return fmt.Sprintf("%s: %s (%s)", e.Code, e.Message, strings.Join(ctx, ", "))
}

// Unwrap returns the underlying cause.
func (e *PlanError) Unwrap() error { return e.Err }

// NewNoDatasourceError creates a NO_DATASOURCE_FOR_CONCEPT error.
func NewNoDatasourceError(concept, grain string, cause error) *PlanError {
	return &PlanError{
		Code:    ErrCodeNoDatasource,
		Message: fmt.Sprintf("no datasource can supply %s at %s", concept, grain),
		Concept: concept,
		Grain:   grain,
		Err:     cause,
	}
}

// NewUnexpectedBaseError creates an UNEXPECTED_BASE_DATASOURCE error.
func NewUnexpectedBaseError(identifier string) *PlanError {
	return &PlanError{
		Code:       ErrCodeUnexpectedBase,
		Message:    "resolved datasource was not wrapped as a composite",
		Datasource: identifier,
	}
}

// NewGrainCorruptionError creates a GRAIN_CORRUPTION error.
func NewGrainCorruptionError(cteName, expected, actual string) *PlanError {
	return &PlanError{
		Code:       ErrCodeGrainCorruption,
		Message:    fmt.Sprintf("expected %s, got %s", expected, actual),
		Grain:      expected,
		Datasource: cteName,
		Details:    map[string]string{"expected": expected, "actual": actual},
	}
}

// NewNoEligibleBaseGrainError creates a NO_ELIGIBLE_BASE_GRAIN error.
func NewNoEligibleBaseGrainError(queryGrain string, available []string) *PlanError {
	return &PlanError{
		Code:    ErrCodeNoEligibleBaseGrain,
		Message: fmt.Sprintf("no CTE at or above %s; available: [%s]", queryGrain, strings.Join(available, "; ")),
		Grain:   queryGrain,
		Details: map[string]string{"available": strings.Join(available, "; ")},
	}
}

// NewJoinTargetNotFoundError creates a JOIN_TARGET_NOT_FOUND error.
func NewJoinTargetNotFoundError(cteName, left, right, missing string) *PlanError {
	return &PlanError{
		Code:       ErrCodeJoinTargetNotFound,
		Message:    fmt.Sprintf("join %s -> %s references unknown datasource %s", left, right, missing),
		Datasource: cteName,
		Details:    map[string]string{"left": left, "right": right, "missing": missing},
	}
}

// ErrorCode returns the PlanErrorCode of err, if err wraps a *PlanError.
func ErrorCode(err error) (PlanErrorCode, bool) {
	var pe *PlanError
	if errors.As(err, &pe) {
		return pe.Code, true
	}
	return "", false
}

func hasCode(err error, code PlanErrorCode) bool {
	c, ok := ErrorCode(err)
	return ok && c == code
}

// IsNoDatasource returns true if the error is a NO_DATASOURCE_FOR_CONCEPT error.
// Uses errors.As to handle wrapped errors.
func IsNoDatasource(err error) bool { return hasCode(err, ErrCodeNoDatasource) }

// IsUnexpectedBase returns true if the error is an UNEXPECTED_BASE_DATASOURCE error.
func IsUnexpectedBase(err error) bool { return hasCode(err, ErrCodeUnexpectedBase) }

// IsGrainCorruption returns true if the error is a GRAIN_CORRUPTION error.
func IsGrainCorruption(err error) bool { return hasCode(err, ErrCodeGrainCorruption) }

// IsNoEligibleBaseGrain returns true if the error is a NO_ELIGIBLE_BASE_GRAIN error.
func IsNoEligibleBaseGrain(err error) bool { return hasCode(err, ErrCodeNoEligibleBaseGrain) }

// IsJoinTargetNotFound returns true if the error is a JOIN_TARGET_NOT_FOUND error.
func IsJoinTargetNotFound(err error) bool { return hasCode(err, ErrCodeJoinTargetNotFound) }
