package domain

import (
	"errors"
	"fmt"
	"strings"
)

// Sentinel errors for configuration and validation failures.
var (
	ErrInvalidName     = errors.New("invalid property name")
	ErrMissingVariable = errors.New("missing required variable")
	ErrInvalidValue    = errors.New("invalid value")
	ErrEmptyPrompt     = errors.New("prompt is required")
	ErrEmptyUID        = errors.New("uid is required")
	ErrLimitOutOfRange = errors.New("limit out of range")
	ErrBatchSize       = errors.New("batch size must be positive")
)

// ConfigError reports missing or invalid configuration. It is raised at
// construction time and never retried.
type ConfigError struct {
	Field   string
	Wrapped error
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("config: %s: %s", e.Wrapped, e.Field)
}

func (e *ConfigError) Unwrap() error { return e.Wrapped }

// NewConfigError creates a ConfigError.
func NewConfigError(field string, wrapped error) *ConfigError {
	return &ConfigError{Field: field, Wrapped: wrapped}
}

// ValidationError wraps a sentinel with the offending field.
type ValidationError struct {
	Field   string
	Value   string
	Wrapped error
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation: %s: %s (value=%q)", e.Wrapped, e.Field, e.Value)
}

func (e *ValidationError) Unwrap() error { return e.Wrapped }

// NewValidationError creates a ValidationError.
func NewValidationError(field, value string, wrapped error) *ValidationError {
	return &ValidationError{Field: field, Value: value, Wrapped: wrapped}
}

// UpstreamError reports a failed call to the embedding provider, the vector
// index, or the artifact store.
type UpstreamError struct {
	Service string
	Op      string
	Err     error
}

func (e *UpstreamError) Error() string {
	return fmt.Sprintf("%s: %s: %v", e.Service, e.Op, e.Err)
}

func (e *UpstreamError) Unwrap() error { return e.Err }

// Upstream creates an UpstreamError.
func Upstream(service, op string, err error) *UpstreamError {
	return &UpstreamError{Service: service, Op: op, Err: err}
}

// maxListedCollections caps the collection names quoted in NotFoundError.
const maxListedCollections = 20

// NotFoundError reports a missing vector index collection.
type NotFoundError struct {
	Collection string
	Existing   []string
}

func (e *NotFoundError) Error() string {
	names := e.Existing
	more := 0
	if len(names) > maxListedCollections {
		more = len(names) - maxListedCollections
		names = names[:maxListedCollections]
	}
	list := "none"
	if len(names) > 0 {
		list = strings.Join(names, ", ")
		if more > 0 {
			list += fmt.Sprintf(" (+%d more)", more)
		}
	}
	return fmt.Sprintf("collection %q not found; existing collections: %s", e.Collection, list)
}

// SchemaError reports a collection that cannot serve similarity queries.
type SchemaError struct {
	Collection string
	Reason     string
}

func (e *SchemaError) Error() string {
	return fmt.Sprintf("collection %q: %s", e.Collection, e.Reason)
}

// IntegrityError reports a violated internal invariant. Always fatal to the run.
type IntegrityError struct {
	What     string
	Expected int
	Got      int
}

func (e *IntegrityError) Error() string {
	return fmt.Sprintf("integrity: %s: expected %d, got %d", e.What, e.Expected, e.Got)
}

// EmptyCorpusError reports a bulk run whose corpus produced no usable samples.
type EmptyCorpusError struct {
	Dataset   string
	Split     string
	TextField string
}

func (e *EmptyCorpusError) Error() string {
	return fmt.Sprintf("no usable samples found in %s:%s; check that text field %q is correct",
		e.Dataset, e.Split, e.TextField)
}

// Class groups errors by who should act on them.
type Class int

const (
	ClassInternal Class = iota // bug or misconfiguration on our side
	ClassClient                // malformed request
	ClassUpstream              // an external dependency failed
)

func (c Class) String() string {
	switch c {
	case ClassClient:
		return "client"
	case ClassUpstream:
		return "upstream"
	default:
		return "internal"
	}
}

// Classify maps an error onto the boundary classes.
func Classify(err error) Class {
	var (
		ve *ValidationError
		ue *UpstreamError
	)
	switch {
	case errors.As(err, &ve):
		return ClassClient
	case errors.As(err, &ue):
		return ClassUpstream
	default:
		return ClassInternal
	}
}
