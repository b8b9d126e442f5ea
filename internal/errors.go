package internal

import (
	"errors"
	"fmt"
	"strings"
)

// ErrorType represents different types of errors
type ErrorType int

const (
	ErrCredentialMissing ErrorType = iota
	ErrTokenUnavailable
	ErrTokenRefreshFailed
	ErrNotFound
	ErrShareVerificationFailed
	ErrUnsupportedOperation
	ErrPlayURLUnavailable
	ErrUpstreamTransport
	ErrInvalidURL
	ErrRateLimit
)

// ErrorSeverity represents the severity of an error
type ErrorSeverity int

const (
	SeverityInfo ErrorSeverity = iota
	SeverityWarning
	SeverityError
	SeverityCritical
)

// Stage names the pipeline step an error originated from.
type Stage string

const (
	StageInput     Stage = "input"
	StageToken     Stage = "token"
	StageDirectory Stage = "directory"
	StageMetadata  Stage = "metadata"
	StageShare     Stage = "share"
	StageStreaming Stage = "streaming"
	StageFallback  Stage = "fallback"
)

// PanError is the structured failure returned by every resolution path.
// Message is safe to show to end users: it never carries upstream bodies or secrets.
type PanError struct {
	Code       int                    `json:"errno"`
	Message    string                 `json:"message"`
	Type       ErrorType              `json:"-"`
	Severity   ErrorSeverity          `json:"-"`
	Stage      Stage                  `json:"stage,omitempty"`
	Suggestion string                 `json:"suggestion,omitempty"`
	Context    map[string]interface{} `json:"-"`
	cause      error
}

// Error implements the error interface
func (e *PanError) Error() string {
	var parts []string

	parts = append(parts, fmt.Sprintf("pan error (code: %d, type: %s)", e.Code, e.Type.String()))

	if e.Message != "" {
		parts = append(parts, e.Message)
	}

	if e.Suggestion != "" {
		parts = append(parts, fmt.Sprintf("Suggestion: %s", e.Suggestion))
	}

	return strings.Join(parts, " - ")
}

// Unwrap exposes the underlying cause for errors.Is / errors.As.
func (e *PanError) Unwrap() error {
	return e.cause
}

// DetailedError returns a detailed error message with all available information
func (e *PanError) DetailedError() string {
	var parts []string

	parts = append(parts, fmt.Sprintf("[%s] %s Error", e.Severity.String(), e.Type.String()))

	if e.Stage != "" {
		parts = append(parts, fmt.Sprintf("Stage: %s", e.Stage))
	}
	if e.Code != 0 {
		parts = append(parts, fmt.Sprintf("Code: %d", e.Code))
	}
	if e.Message != "" {
		parts = append(parts, fmt.Sprintf("Message: %s", e.Message))
	}

	if len(e.Context) > 0 {
		contextParts := make([]string, 0, len(e.Context))
		for k, v := range e.Context {
			contextParts = append(contextParts, fmt.Sprintf("%s=%v", k, v))
		}
		parts = append(parts, fmt.Sprintf("Context: %s", strings.Join(contextParts, ", ")))
	}

	if e.cause != nil {
		parts = append(parts, fmt.Sprintf("Cause: %v", e.cause))
	}

	if e.Suggestion != "" {
		parts = append(parts, fmt.Sprintf("\nSuggestion: %s", e.Suggestion))
	}

	return strings.Join(parts, "\n")
}

// String returns the string representation of ErrorType
func (et ErrorType) String() string {
	switch et {
	case ErrCredentialMissing:
		return "CredentialMissing"
	case ErrTokenUnavailable:
		return "TokenUnavailable"
	case ErrTokenRefreshFailed:
		return "TokenRefreshFailed"
	case ErrNotFound:
		return "NotFound"
	case ErrShareVerificationFailed:
		return "ShareVerificationFailed"
	case ErrUnsupportedOperation:
		return "UnsupportedOperation"
	case ErrPlayURLUnavailable:
		return "PlayUrlUnavailable"
	case ErrUpstreamTransport:
		return "UpstreamTransportFailure"
	case ErrInvalidURL:
		return "InvalidURL"
	case ErrRateLimit:
		return "RateLimit"
	default:
		return "Unknown"
	}
}

// MarshalText lets ErrorType render by name in JSON payloads.
func (et ErrorType) MarshalText() ([]byte, error) {
	return []byte(et.String()), nil
}

// String returns the string representation of ErrorSeverity
func (es ErrorSeverity) String() string {
	switch es {
	case SeverityInfo:
		return "INFO"
	case SeverityWarning:
		return "WARNING"
	case SeverityError:
		return "ERROR"
	case SeverityCritical:
		return "CRITICAL"
	default:
		return "UNKNOWN"
	}
}

// NewPanError creates a new PanError with default severity and suggestion
func NewPanError(code int, message string, errorType ErrorType) *PanError {
	return &PanError{
		Code:       code,
		Message:    message,
		Type:       errorType,
		Severity:   getDefaultSeverity(errorType),
		Suggestion: getDefaultSuggestion(errorType),
		Context:    make(map[string]interface{}),
	}
}

// WithSuggestion adds a custom suggestion to the error
func (e *PanError) WithSuggestion(suggestion string) *PanError {
	e.Suggestion = suggestion
	return e
}

// WithStage records which pipeline step failed
func (e *PanError) WithStage(stage Stage) *PanError {
	e.Stage = stage
	return e
}

// WithCause attaches an underlying error. It is surfaced by DetailedError and
// Unwrap only, never by Error, so it stays out of user-facing messages.
func (e *PanError) WithCause(err error) *PanError {
	e.cause = err
	return e
}

// WithContext adds context information to the error
func (e *PanError) WithContext(key string, value interface{}) *PanError {
	if e.Context == nil {
		e.Context = make(map[string]interface{})
	}
	e.Context[key] = value
	return e
}

// IsRetryable returns true if the error is retryable
func (e *PanError) IsRetryable() bool {
	switch e.Type {
	case ErrUpstreamTransport, ErrRateLimit:
		return true
	default:
		return false
	}
}

// IsFatal reports whether the error must end a resolution. Token errors are
// not fatal: the pipeline continues without an access token.
func (e *PanError) IsFatal() bool {
	switch e.Type {
	case ErrTokenUnavailable, ErrTokenRefreshFailed:
		return false
	default:
		return true
	}
}

// AsPanError unwraps err into a *PanError if one is in its chain.
func AsPanError(err error) (*PanError, bool) {
	var pe *PanError
	if errors.As(err, &pe) {
		return pe, true
	}
	return nil, false
}

// ErrorTypeOf returns the ErrorType of err, or -1 if err is not a PanError.
func ErrorTypeOf(err error) ErrorType {
	if pe, ok := AsPanError(err); ok {
		return pe.Type
	}
	return -1
}

// ValidationError represents input validation errors
type ValidationError struct {
	Field      string                 `json:"field"`
	Message    string                 `json:"message"`
	Value      interface{}            `json:"value,omitempty"`
	Suggestion string                 `json:"suggestion,omitempty"`
	Context    map[string]interface{} `json:"context,omitempty"`
}

// Error implements the error interface
func (e *ValidationError) Error() string {
	parts := []string{fmt.Sprintf("validation error for %s: %s", e.Field, e.Message)}

	if e.Suggestion != "" {
		parts = append(parts, fmt.Sprintf("Suggestion: %s", e.Suggestion))
	}

	return strings.Join(parts, " - ")
}

// DetailedError returns a detailed validation error message
func (e *ValidationError) DetailedError() string {
	var parts []string

	parts = append(parts, fmt.Sprintf("Validation Error for field '%s'", e.Field))
	parts = append(parts, fmt.Sprintf("Message: %s", e.Message))

	if e.Value != nil {
		parts = append(parts, fmt.Sprintf("Provided value: %v", e.Value))
	}

	if len(e.Context) > 0 {
		contextParts := make([]string, 0, len(e.Context))
		for k, v := range e.Context {
			contextParts = append(contextParts, fmt.Sprintf("%s=%v", k, v))
		}
		parts = append(parts, fmt.Sprintf("Context: %s", strings.Join(contextParts, ", ")))
	}

	if e.Suggestion != "" {
		parts = append(parts, fmt.Sprintf("\nSuggestion: %s", e.Suggestion))
	}

	return strings.Join(parts, "\n")
}

// NewValidationError creates a new ValidationError
func NewValidationError(field, message string) *ValidationError {
	return &ValidationError{
		Field:   field,
		Message: message,
		Context: make(map[string]interface{}),
	}
}

// NewValidationErrorWithValue creates a ValidationError with the invalid value
func NewValidationErrorWithValue(field, message string, value interface{}) *ValidationError {
	return &ValidationError{
		Field:   field,
		Message: message,
		Value:   value,
		Context: make(map[string]interface{}),
	}
}

// WithSuggestion adds a suggestion to the validation error
func (e *ValidationError) WithSuggestion(suggestion string) *ValidationError {
	e.Suggestion = suggestion
	return e
}

// WithContext adds context to the validation error
func (e *ValidationError) WithContext(key string, value interface{}) *ValidationError {
	if e.Context == nil {
		e.Context = make(map[string]interface{})
	}
	e.Context[key] = value
	return e
}

func getDefaultSuggestion(errorType ErrorType) string {
	switch errorType {
	case ErrCredentialMissing:
		return "Provide the account cookie (BDUSS=...; STOKEN=...)"
	case ErrTokenUnavailable:
		return "Supply refresh_token and client_id to enable access token refresh"
	case ErrTokenRefreshFailed:
		return "The refresh token may be revoked; obtain a new one"
	case ErrNotFound:
		return "Check the path or file id exists in the account"
	case ErrShareVerificationFailed:
		return "Check the share link is still valid and the extraction code is correct"
	case ErrUnsupportedOperation:
		return "Save the shared file to your own drive and play it by path"
	case ErrPlayURLUnavailable:
		return "The file may not be a video or the account may lack streaming rights"
	case ErrUpstreamTransport:
		return "The storage provider did not respond correctly; try again later"
	case ErrInvalidURL:
		return "Use a share link like https://pan.baidu.com/s/1AbC123"
	case ErrRateLimit:
		return "Wait before retrying"
	default:
		return "Please check the error details and try again"
	}
}

func getDefaultSeverity(errorType ErrorType) ErrorSeverity {
	switch errorType {
	case ErrTokenUnavailable, ErrTokenRefreshFailed, ErrRateLimit:
		return SeverityWarning
	default:
		return SeverityError
	}
}

// Common error constructors

// NewCredentialMissingError is returned when no cookie was supplied
func NewCredentialMissingError() *PanError {
	return NewPanError(400, "credential is required", ErrCredentialMissing).WithStage(StageInput)
}

// NewNotFoundError creates an error for a missing file or descriptor
func NewNotFoundError(stage Stage, what string) *PanError {
	return NewPanError(404, fmt.Sprintf("%s not found", what), ErrNotFound).WithStage(stage)
}

// NewUpstreamError wraps a transport or decoding failure without exposing it
func NewUpstreamError(stage Stage, operation string, cause error) *PanError {
	return NewPanError(502, fmt.Sprintf("upstream %s failed", operation), ErrUpstreamTransport).
		WithStage(stage).
		WithCause(cause)
}

// NewShareVerificationError covers both a wrong extraction code and a dead share
func NewShareVerificationError(errno int) *PanError {
	return NewPanError(errno, "share verification failed: invalid link or extraction code", ErrShareVerificationFailed).
		WithStage(StageShare)
}

// NewPlayURLUnavailableError is returned when streaming and the static link both failed
func NewPlayURLUnavailableError() *PanError {
	return NewPanError(400, "unable to obtain a play url: streaming failed and no download link", ErrPlayURLUnavailable).
		WithStage(StageFallback)
}

// NewUnsupportedOperationError is returned for shared files, which the
// upstream only streams once they are in the caller's own drive
func NewUnsupportedOperationError(name string) *PanError {
	return NewPanError(400, fmt.Sprintf("shared file %q must be saved to your own drive first", name), ErrUnsupportedOperation).
		WithStage(StageShare)
}

// NewInvalidURLError creates an error for unparseable share links
func NewInvalidURLError(reason string) *PanError {
	return NewPanError(400, fmt.Sprintf("invalid share url: %s", reason), ErrInvalidURL).WithStage(StageInput)
}

// MapErrno converts an upstream errno into a PanError. Zero maps to nil.
func MapErrno(stage Stage, errno int) *PanError {
	switch errno {
	case 0:
		return nil
	case -6, 110, 111:
		return NewPanError(errno, "account session rejected by upstream", ErrCredentialMissing).WithStage(stage).
			WithSuggestion("The cookie may have expired; log in again and copy a fresh BDUSS")
	case -9, 31066:
		return NewPanError(errno, "file does not exist", ErrNotFound).WithStage(stage)
	case -12, -62, 105:
		return NewShareVerificationError(errno).WithStage(stage)
	case 31034, 31045:
		return NewPanError(errno, "request throttled by upstream", ErrRateLimit).WithStage(stage)
	default:
		return NewPanError(errno, fmt.Sprintf("upstream returned error code %d", errno), ErrUpstreamTransport).WithStage(stage)
	}
}
