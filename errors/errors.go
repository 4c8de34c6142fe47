package errors

import (
	"fmt"
)

// Error categories for structured error handling
const (
	CategoryConfig      = "config"
	CategoryStore       = "store"
	CategoryCredentials = "credentials"
	CategorySpotify     = "spotify"
	CategoryEngine      = "engine"
	CategoryServer      = "server"
	CategoryValidation  = "validation"
)

// TunedeckError represents a structured error with category and context
type TunedeckError struct {
	Category string
	Code     string
	Message  string
	Cause    error
	Context  map[string]interface{}
}

func (e *TunedeckError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("[%s:%s] %s: %v", e.Category, e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("[%s:%s] %s", e.Category, e.Code, e.Message)
}

func (e *TunedeckError) Unwrap() error {
	return e.Cause
}

func (e *TunedeckError) WithContext(key string, value interface{}) *TunedeckError {
	if e.Context == nil {
		e.Context = make(map[string]interface{})
	}
	e.Context[key] = value
	return e
}

// New creates a new TunedeckError
func New(category, code, message string) *TunedeckError {
	return &TunedeckError{
		Category: category,
		Code:     code,
		Message:  message,
		Context:  make(map[string]interface{}),
	}
}

// Wrap wraps an existing error with TunedeckError
func Wrap(err error, category, code, message string) *TunedeckError {
	return &TunedeckError{
		Category: category,
		Code:     code,
		Message:  message,
		Cause:    err,
		Context:  make(map[string]interface{}),
	}
}

// Config errors
var (
	ErrInvalidPort         = New(CategoryConfig, "INVALID_PORT", "invalid port number")
	ErrInvalidLogLevel     = New(CategoryConfig, "INVALID_LOG_LEVEL", "invalid log level")
	ErrInvalidDatabasePath = New(CategoryConfig, "INVALID_DATABASE_PATH", "invalid database path")
	ErrMissingClientID     = New(CategoryConfig, "MISSING_CLIENT_ID", "spotify client id is not configured")
)

// Store errors
var (
	ErrStoreConnection   = New(CategoryStore, "CONNECTION_FAILED", "database connection failed")
	ErrStoreQuery        = New(CategoryStore, "QUERY_FAILED", "database query failed")
	ErrStoreMigration    = New(CategoryStore, "MIGRATION_FAILED", "database migration failed")
	ErrTransactionFailed = New(CategoryStore, "TRANSACTION_FAILED", "database transaction failed")
)

// Credentials errors
var (
	// ErrNotConnected is distinct from transient failures: it means the user
	// has no linked streaming account and needs to connect one.
	ErrNotConnected = New(CategoryCredentials, "NOT_CONNECTED", "streaming account not connected")
	ErrTokenRefresh = New(CategoryCredentials, "TOKEN_REFRESH_FAILED", "failed to refresh access token")
	ErrTokenPersist = New(CategoryCredentials, "TOKEN_PERSIST_FAILED", "failed to persist refresh token")
)

// Spotify errors
var (
	ErrUpstreamStatus      = New(CategorySpotify, "UPSTREAM_STATUS", "upstream returned non-success status")
	ErrUpstreamUnavailable = New(CategorySpotify, "UPSTREAM_UNAVAILABLE", "upstream request failed")
	ErrUpstreamDecode      = New(CategorySpotify, "UPSTREAM_DECODE", "failed to decode upstream response")
	ErrNoSeeds             = New(CategorySpotify, "NO_SEEDS", "recommendation request requires at least one seed")
)

// Server errors
var (
	ErrServerStart    = New(CategoryServer, "START_FAILED", "server failed to start")
	ErrServerShutdown = New(CategoryServer, "SHUTDOWN_FAILED", "server shutdown failed")
)

// Validation errors
var (
	ErrValidationFailed = New(CategoryValidation, "VALIDATION_FAILED", "validation failed")
	ErrInvalidInput     = New(CategoryValidation, "INVALID_INPUT", "invalid input")
	ErrMissingParameter = New(CategoryValidation, "MISSING_PARAMETER", "missing required parameter")
	ErrInvalidTimeframe = New(CategoryValidation, "INVALID_TIMEFRAME", "unknown timeframe key")
	ErrListTooLong      = New(CategoryValidation, "LIST_TOO_LONG", "list exceeds maximum length")
)

// Helper functions for common error patterns
func IsCategory(err error, category string) bool {
	var tdErr *TunedeckError
	if !As(err, &tdErr) {
		return false
	}
	return tdErr.Category == category
}

// IsNotConnected reports whether err indicates a missing account link.
func IsNotConnected(err error) bool {
	var tdErr *TunedeckError
	if !As(err, &tdErr) {
		return false
	}
	return tdErr.Category == CategoryCredentials && tdErr.Code == "NOT_CONNECTED"
}

func GetErrorCode(err error) string {
	var tdErr *TunedeckError
	if !As(err, &tdErr) {
		return ""
	}
	return tdErr.Code
}

func GetErrorContext(err error) map[string]interface{} {
	var tdErr *TunedeckError
	if !As(err, &tdErr) {
		return nil
	}
	return tdErr.Context
}

// As is a wrapper around errors.As
func As(err error, target interface{}) bool {
	if err == nil {
		return false
	}
	// Simple type assertion for our use case
	if tdErr, ok := err.(*TunedeckError); ok {
		if targetPtr, ok := target.(**TunedeckError); ok {
			*targetPtr = tdErr
			return true
		}
	}
	return false
}
