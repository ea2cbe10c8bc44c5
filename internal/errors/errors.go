// Package errors provides structured error types for fxalert.
//
// Errors carry a machine-readable code, a message, an optional cause and a
// context map that is flattened into structured log fields. Sentinel values
// are exposed for errors.Is checks and every constructor wraps the matching
// sentinel as its cause.
//
// Error code ranges:
// - 1xxx: Configuration errors
// - 2xxx: Ingestion errors
// - 3xxx: Processing errors
// - 5xxx: Communication errors
// - 9xxx: General errors
package errors

import (
	"errors"
	"fmt"
)

// ErrorCode represents a machine-readable error identifier.
type ErrorCode string

// Configuration error codes (1xxx)
const (
	ErrCodeConfigInvalid    ErrorCode = "FXALERT_1001"
	ErrCodeConfigMissing    ErrorCode = "FXALERT_1002"
	ErrCodeConfigValidation ErrorCode = "FXALERT_1003"
)

// Ingestion error codes (2xxx)
const (
	ErrCodeIngestFileNotFound     ErrorCode = "FXALERT_2001"
	ErrCodeIngestPermissionDenied ErrorCode = "FXALERT_2002"
	ErrCodeIngestParseFailed      ErrorCode = "FXALERT_2003"
	ErrCodeIngestReadFailed       ErrorCode = "FXALERT_2004"
)

// Processing error codes (3xxx)
const (
	ErrCodeProcessNoAlerters    ErrorCode = "FXALERT_3001"
	ErrCodeProcessInvalidRecord ErrorCode = "FXALERT_3002"
	ErrCodeProcessEmitFailed    ErrorCode = "FXALERT_3003"
)

// Communication error codes (5xxx)
const (
	ErrCodeCommConnectionFailed ErrorCode = "FXALERT_5001"
	ErrCodeCommTimeout          ErrorCode = "FXALERT_5002"
	ErrCodeCommPublishFailed    ErrorCode = "FXALERT_5003"
)

// General error codes (9xxx)
const (
	ErrCodeUnknown ErrorCode = "FXALERT_9999"
)

// Sentinel errors for type checking with errors.Is()
var (
	// Configuration errors
	ErrConfigInvalid    = errors.New("invalid configuration")
	ErrConfigMissing    = errors.New("configuration not found")
	ErrConfigValidation = errors.New("configuration validation failed")

	// Ingestion errors
	ErrIngestFileNotFound     = errors.New("input file not found")
	ErrIngestPermissionDenied = errors.New("permission denied")
	ErrIngestParseFailed      = errors.New("record parsing failed")
	ErrIngestReadFailed       = errors.New("input read failed")

	// Processing errors
	ErrProcessNoAlerters    = errors.New("no alerters have been specified")
	ErrProcessInvalidRecord = errors.New("invalid record")
	ErrProcessEmitFailed    = errors.New("alert emission failed")

	// Communication errors
	ErrCommConnectionFailed = errors.New("connection failed")
	ErrCommTimeout          = errors.New("communication timeout")
	ErrCommPublishFailed    = errors.New("publish failed")
)

// FxError is the base error type with structured information.
type FxError struct {
	Code        ErrorCode
	Message     string
	Context     map[string]interface{}
	IsRetryable bool
	Cause       error
}

// Error implements the error interface.
func (e *FxError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// Unwrap returns the underlying cause for errors.Is/As support.
func (e *FxError) Unwrap() error {
	return e.Cause
}

// Is matches target against the cause chain.
func (e *FxError) Is(target error) bool {
	return e.Cause != nil && errors.Is(e.Cause, target)
}

// WithContext adds context information to the error.
func (e *FxError) WithContext(key string, value interface{}) *FxError {
	if e.Context == nil {
		e.Context = make(map[string]interface{})
	}
	e.Context[key] = value
	return e
}

// ToMap flattens the error for structured logging.
func (e *FxError) ToMap() map[string]interface{} {
	m := map[string]interface{}{
		"error_code":   string(e.Code),
		"message":      e.Message,
		"is_retryable": e.IsRetryable,
	}
	if len(e.Context) > 0 {
		m["context"] = e.Context
	}
	if e.Cause != nil {
		m["cause"] = e.Cause.Error()
	}
	return m
}

// NewFxError creates a new FxError.
func NewFxError(code ErrorCode, message string, cause error) *FxError {
	return newError(code, cause, false, message)
}

// newError builds an FxError. kv is a list of alternating context keys and
// values.
func newError(code ErrorCode, cause error, retryable bool, message string, kv ...interface{}) *FxError {
	ctx := make(map[string]interface{}, len(kv)/2)
	for i := 0; i+1 < len(kv); i += 2 {
		ctx[kv[i].(string)] = kv[i+1]
	}
	return &FxError{
		Code:        code,
		Message:     message,
		Cause:       cause,
		IsRetryable: retryable,
		Context:     ctx,
	}
}

// NewConfigInvalidError reports a config file that cannot be read or parsed.
func NewConfigInvalidError(message string, cause error) *FxError {
	if cause == nil {
		cause = ErrConfigInvalid
	}
	return newError(ErrCodeConfigInvalid, cause, false, message)
}

// NewConfigMissingError reports a config file that does not exist.
func NewConfigMissingError(path string) *FxError {
	return newError(ErrCodeConfigMissing, ErrConfigMissing, false,
		fmt.Sprintf("configuration file not found: %s", path),
		"path", path)
}

// NewConfigValidationError reports a setting with an unusable value.
func NewConfigValidationError(field string, value interface{}, reason string) *FxError {
	return newError(ErrCodeConfigValidation, ErrConfigValidation, false,
		fmt.Sprintf("validation failed for '%s': %s", field, reason),
		"field", field, "value", fmt.Sprintf("%v", value), "reason", reason)
}

// NewIngestFileNotFoundError reports a missing input file.
func NewIngestFileNotFoundError(path string) *FxError {
	return newError(ErrCodeIngestFileNotFound, ErrIngestFileNotFound, false,
		fmt.Sprintf("input file not found: %s", path),
		"path", path)
}

// NewIngestPermissionDeniedError reports an input file that cannot be opened.
func NewIngestPermissionDeniedError(path string) *FxError {
	return newError(ErrCodeIngestPermissionDenied, ErrIngestPermissionDenied, false,
		fmt.Sprintf("permission denied reading: %s", path),
		"path", path)
}

// maxContextLine bounds the raw line kept on parse errors.
const maxContextLine = 200

// NewIngestParseError reports a line that is not a rate. lineNumber is 1-based.
func NewIngestParseError(line string, lineNumber int, reason string) *FxError {
	if len(line) > maxContextLine {
		line = line[:maxContextLine] + "..."
	}
	return newError(ErrCodeIngestParseFailed, ErrIngestParseFailed, false,
		fmt.Sprintf("failed to parse line %d: %s", lineNumber, reason),
		"line", line, "line_number", lineNumber, "reason", reason)
}

// NewIngestReadError reports a source that failed mid-read.
func NewIngestReadError(source string, cause error) *FxError {
	return newError(ErrCodeIngestReadFailed, errors.Join(ErrIngestReadFailed, cause), false,
		fmt.Sprintf("failed reading %s", source),
		"source", source)
}

// NewProcessNoAlertersError is returned when a processor is built without alerters.
func NewProcessNoAlertersError() *FxError {
	return newError(ErrCodeProcessNoAlerters, ErrProcessNoAlerters, false, "cannot process rates")
}

// NewProcessInvalidRecordError reports a record the engine cannot observe.
func NewProcessInvalidRecordError(index int, reason string) *FxError {
	return newError(ErrCodeProcessInvalidRecord, ErrProcessInvalidRecord, false,
		fmt.Sprintf("record %d rejected: %s", index, reason),
		"index", index, "reason", reason)
}

// NewProcessEmitError wraps a sink failure. It is retryable when the sink
// error is.
func NewProcessEmitError(sink string, cause error) *FxError {
	return newError(ErrCodeProcessEmitFailed, errors.Join(ErrProcessEmitFailed, cause), IsRetryableError(cause),
		fmt.Sprintf("failed to emit alert to %s", sink),
		"sink", sink)
}

// NewCommConnectionError reports a collector that cannot be reached.
func NewCommConnectionError(address string, reason string) *FxError {
	return newError(ErrCodeCommConnectionFailed, ErrCommConnectionFailed, true,
		fmt.Sprintf("failed to connect to %s: %s", address, reason),
		"address", address, "reason", reason)
}

// NewCommTimeoutError reports a call that ran past its deadline.
func NewCommTimeoutError(operation string, timeoutSeconds float64) *FxError {
	return newError(ErrCodeCommTimeout, ErrCommTimeout, true,
		fmt.Sprintf("operation '%s' timed out after %.1fs", operation, timeoutSeconds),
		"operation", operation, "timeout_seconds", timeoutSeconds)
}

// NewCommPublishError reports an alert batch the collector did not accept.
func NewCommPublishError(batchID string, batchSize int, reason string) *FxError {
	return newError(ErrCodeCommPublishFailed, ErrCommPublishFailed, false,
		fmt.Sprintf("publishing batch %s failed: %s", batchID, reason),
		"batch_id", batchID, "batch_size", batchSize, "reason", reason)
}

// IsRetryableError reports whether err, or an FxError it wraps, may succeed
// on retry.
func IsRetryableError(err error) bool {
	var fxErr *FxError
	return errors.As(err, &fxErr) && fxErr.IsRetryable
}

// GetErrorCode returns the code of the first FxError in err's chain, or
// ErrCodeUnknown.
func GetErrorCode(err error) ErrorCode {
	var fxErr *FxError
	if errors.As(err, &fxErr) {
		return fxErr.Code
	}
	return ErrCodeUnknown
}
