// Package ragerr provides structured error handling for the query pipeline.
//
// Error codes follow the pattern ERR_XXX_DESCRIPTION where:
//   - 1XX: configuration errors
//   - 2XX: index and storage errors
//   - 3XX: network and provider errors
//   - 4XX: validation errors
//   - 5XX: embedder errors
//   - 6XX: generation errors
package ragerr

// Category defines error categories for classification.
type Category string

const (
	// CategoryConfig indicates configuration-related errors.
	CategoryConfig Category = "CONFIG"
	// CategoryIndex indicates vector/text index and catalog errors.
	CategoryIndex Category = "INDEX"
	// CategoryNetwork indicates network and provider errors.
	CategoryNetwork Category = "NETWORK"
	// CategoryValidation indicates request validation errors.
	CategoryValidation Category = "VALIDATION"
	// CategoryEmbed indicates embedder errors.
	CategoryEmbed Category = "EMBED"
	// CategoryGeneration indicates answer generation errors.
	CategoryGeneration Category = "GENERATION"
	// CategoryInternal indicates unexpected internal errors.
	CategoryInternal Category = "INTERNAL"
)

// Severity defines error severity levels.
type Severity string

const (
	// SeverityFatal indicates unrecoverable error, must abort.
	SeverityFatal Severity = "FATAL"
	// SeverityError indicates operation failed but the process can continue.
	SeverityError Severity = "ERROR"
	// SeverityWarning indicates degraded operation, continuing.
	SeverityWarning Severity = "WARNING"
)

// Error codes organized by category.
const (
	// Config errors (100-199). Fatal at startup: the process does not serve.
	ErrCodeConfigInvalid = "ERR_101_CONFIG_INVALID"
	ErrCodeConfigMissing = "ERR_102_CONFIG_MISSING"

	// Index errors (200-299)
	ErrCodeIndexUnavailable = "ERR_201_INDEX_UNAVAILABLE"
	ErrCodeCatalogCorrupt   = "ERR_202_CATALOG_CORRUPT"

	// Network/provider errors (300-399)
	ErrCodeRateLimited     = "ERR_301_RATE_LIMITED"
	ErrCodeProviderTimeout = "ERR_302_PROVIDER_TIMEOUT"
	ErrCodeProviderFailed  = "ERR_303_PROVIDER_FAILED"

	// Validation errors (400-499)
	ErrCodeEmptyQuery = "ERR_401_EMPTY_QUERY"
	ErrCodeTopKRange  = "ERR_402_TOPK_RANGE"
	ErrCodeBadOption  = "ERR_403_BAD_OPTION"

	// Embedder errors (500-599)
	ErrCodeEmbedderUnavailable = "ERR_501_EMBEDDER_UNAVAILABLE"
	ErrCodeMatrixMissing       = "ERR_502_MATRIX_MISSING"
	ErrCodeEmbedFailed         = "ERR_503_EMBED_FAILED"

	// Generation errors (600-699)
	ErrCodeGenerationFailed = "ERR_601_GENERATION_FAILED"
)

// categoryFromCode derives the category from the numeric range in the code.
func categoryFromCode(code string) Category {
	if len(code) < 7 {
		return CategoryInternal
	}
	switch code[4] {
	case '1':
		return CategoryConfig
	case '2':
		return CategoryIndex
	case '3':
		return CategoryNetwork
	case '4':
		return CategoryValidation
	case '5':
		return CategoryEmbed
	case '6':
		return CategoryGeneration
	default:
		return CategoryInternal
	}
}

// severityFromCode derives the severity from the code. Config errors
// are fatal; everything else is recoverable and the query continues
// with whatever tiers and capabilities remain.
func severityFromCode(code string) Severity {
	switch categoryFromCode(code) {
	case CategoryConfig:
		return SeverityFatal
	case CategoryNetwork:
		return SeverityWarning
	default:
		return SeverityError
	}
}

// isRetryableCode reports whether the operation behind the code may succeed
// on retry.
func isRetryableCode(code string) bool {
	switch code {
	case ErrCodeProviderTimeout, ErrCodeProviderFailed, ErrCodeEmbedFailed, ErrCodeGenerationFailed:
		return true
	default:
		return false
	}
}
