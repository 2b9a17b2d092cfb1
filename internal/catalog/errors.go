package catalog

import (
	"errors"
	"fmt"

	cueerrors "cuelang.org/go/cue/errors"
	"cuelang.org/go/cue/token"
)

// CompileError represents a compilation error with source position.
type CompileError struct {
	Field   string
	Message string
	Pos     token.Pos
}

func (e *CompileError) Error() string {
	if e.Pos.IsValid() {
		return fmt.Sprintf("%s:%d:%d: %s: %s",
			e.Pos.Filename(), e.Pos.Line(), e.Pos.Column(),
			e.Field, e.Message)
	}
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// formatCUEError extracts position info from CUE errors.
func formatCUEError(err error) error {
	if err == nil {
		return nil
	}

	// CUE errors may contain multiple errors
	errs := cueerrors.Errors(err)
	if len(errs) == 0 {
		return err
	}

	firstErr := errs[0]
	positions := cueerrors.Positions(firstErr)
	if len(positions) > 0 {
		return &CompileError{
			Field:   "cue",
			Message: firstErr.Error(),
			Pos:     positions[0],
		}
	}

	return err
}

// LoadError represents an error that occurred while loading a catalog.
type LoadError struct {
	Code    string
	Message string
	Pos     token.Pos // CUE position if available
}

func (e *LoadError) Error() string {
	if e.Pos.IsValid() {
		return fmt.Sprintf("%s:%d:%d: %s: %s", e.Pos.Filename(), e.Pos.Line(), e.Pos.Column(), e.Code, e.Message)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Error code constants, shared with the CLI's JSON output.
const (
	ErrCodeGeneric     = "E001" // Generic/unknown error
	ErrCodeScanError   = "E002" // Directory scan error
	ErrCodeNoFiles     = "E003" // No CUE files found
	ErrCodeLoadFailed  = "E004" // CUE load failed
	ErrCodeNotFound    = "E005" // Path not found
	ErrCodeBuildFailed = "E006" // CUE build failed
	ErrCodeWriteFailed = "E007" // File write error

	// Concept errors
	ErrCodeConceptPurpose   = "E101" // Missing or invalid purpose
	ErrCodeConceptAggregate = "E102" // Invalid aggregate
	ErrCodeDuplicate        = "E103" // Duplicate concept or datasource
	ErrCodeInvalidType      = "E104" // Invalid literal type (e.g., float)

	// Datasource errors
	ErrCodeUnknownConcept = "E111" // Reference to an undeclared concept
	ErrCodeGrainColumn    = "E112" // Grain component not among the columns
	ErrCodeNoColumns      = "E113" // Datasource without columns

	// Query errors
	ErrCodeInvalidSelect = "E121" // Empty or malformed select
	ErrCodeInvalidWhere  = "E122" // Malformed predicate
	ErrCodeInvalidOrder  = "E123" // Malformed order_by
	ErrCodeInvalidLimit  = "E124" // Negative or non-integer limit
)

// MapFieldToErrorCode maps a compile error field to an error code.
func MapFieldToErrorCode(field string) string {
	switch field {
	case "purpose":
		return ErrCodeConceptPurpose
	case "aggregate":
		return ErrCodeConceptAggregate
	case "duplicate":
		return ErrCodeDuplicate
	case "type", "value":
		return ErrCodeInvalidType
	case "concept":
		return ErrCodeUnknownConcept
	case "grain":
		return ErrCodeGrainColumn
	case "columns":
		return ErrCodeNoColumns
	case "select":
		return ErrCodeInvalidSelect
	case "where":
		return ErrCodeInvalidWhere
	case "order_by":
		return ErrCodeInvalidOrder
	case "limit":
		return ErrCodeInvalidLimit
	default:
		return ErrCodeGeneric
	}
}

// convertCompileError converts a compile error to a LoadError with position info.
func convertCompileError(err error, context string) *LoadError {
	var compileErr *CompileError
	if errors.As(err, &compileErr) {
		return &LoadError{
			Code:    MapFieldToErrorCode(compileErr.Field),
			Message: fmt.Sprintf("%s: %s", context, compileErr.Message),
			Pos:     compileErr.Pos,
		}
	}
	return &LoadError{
		Code:    ErrCodeGeneric,
		Message: fmt.Sprintf("%s: %v", context, err),
	}
}
