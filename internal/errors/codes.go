// Package errors provides structured error handling for docindex.
//
// Error codes follow the pattern ERR_XXX_DESCRIPTION where:
//   - 1XX: Configuration errors
//   - 2XX: Document store errors
//   - 3XX: Timeout errors
//   - 4XX: Validation errors (definitions, queries, input)
//   - 5XX: Internal errors (indexing, engine)
package errors

// Category defines error categories for classification.
type Category string

const (
	// CategoryConfig indicates configuration-related errors.
	CategoryConfig Category = "CONFIG"
	// CategoryStore indicates document store errors.
	CategoryStore Category = "STORE"
	// CategoryTimeout indicates a bounded wait that ran out of time.
	CategoryTimeout Category = "TIMEOUT"
	// CategoryValidation indicates input validation errors.
	CategoryValidation Category = "VALIDATION"
	// CategoryInternal indicates indexing or unexpected internal errors.
	CategoryInternal Category = "INTERNAL"
)

// Severity defines error severity levels.
type Severity string

const (
	// SeverityFatal indicates unrecoverable error, must abort.
	SeverityFatal Severity = "FATAL"
	// SeverityError indicates operation failed but can continue.
	SeverityError Severity = "ERROR"
	// SeverityWarning indicates degraded operation, continuing.
	SeverityWarning Severity = "WARNING"
	// SeverityInfo indicates informational only.
	SeverityInfo Severity = "INFO"
)

// Error codes organized by category.
const (
	// Config errors (100-199)
	ErrCodeConfigNotFound = "ERR_101_CONFIG_NOT_FOUND"
	ErrCodeConfigInvalid  = "ERR_102_CONFIG_INVALID"

	// Store errors (200-299)
	ErrCodeDocumentNotFound = "ERR_201_DOCUMENT_NOT_FOUND"
	ErrCodeStoreLocked      = "ERR_202_STORE_LOCKED"
	ErrCodeStoreClosed      = "ERR_203_STORE_CLOSED"
	ErrCodeStoreBusy        = "ERR_204_STORE_BUSY"
	ErrCodeStoreCorrupt     = "ERR_205_STORE_CORRUPT"

	// Timeout errors (300-399)
	ErrCodeWaitTimeout = "ERR_301_WAIT_TIMEOUT"

	// Validation errors (400-499)
	ErrCodeInvalidInput       = "ERR_401_INVALID_INPUT"
	ErrCodeDefinitionConflict = "ERR_402_DEFINITION_CONFLICT"
	ErrCodeInvalidQuery       = "ERR_403_INVALID_QUERY"
	ErrCodeIndexNotFound      = "ERR_404_INDEX_NOT_FOUND"
	ErrCodeInvalidDefinition  = "ERR_405_INVALID_DEFINITION"

	// Internal errors (500-599)
	ErrCodeInternal        = "ERR_501_INTERNAL"
	ErrCodeMapEvaluation   = "ERR_502_MAP_EVALUATION"
	ErrCodeReduceInvariant = "ERR_503_REDUCE_INVARIANT"
	ErrCodeEngineClosed    = "ERR_504_ENGINE_CLOSED"
)

// categoryFromCode extracts category from error code.
func categoryFromCode(code string) Category {
	if len(code) < 7 {
		return CategoryInternal
	}

	// Extract numeric portion (e.g., "101" from "ERR_101_CONFIG_NOT_FOUND")
	numStr := code[4:7]

	switch numStr[0] {
	case '1':
		return CategoryConfig
	case '2':
		return CategoryStore
	case '3':
		return CategoryTimeout
	case '4':
		return CategoryValidation
	default:
		return CategoryInternal
	}
}

// severityFromCode determines severity based on error code.
func severityFromCode(code string) Severity {
	switch code {
	case ErrCodeStoreCorrupt:
		return SeverityFatal
	case ErrCodeReduceInvariant:
		// A suspicious user reduce is reported, never fatal.
		return SeverityWarning
	}

	if isRetryableCode(code) {
		return SeverityWarning
	}

	return SeverityError
}

// isRetryableCode checks if an error code represents a retryable error.
func isRetryableCode(code string) bool {
	switch code {
	case ErrCodeStoreBusy, ErrCodeWaitTimeout:
		return true
	default:
		return false
	}
}
