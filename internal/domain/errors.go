package domain

import (
	"errors"
	"fmt"
)

// ErrorKind classifies pipeline errors by failure unit and recoverability.
type ErrorKind string

const (
	KindDetection            ErrorKind = "detection"
	KindCoordinate           ErrorKind = "coordinate"
	KindAnnotationTransient  ErrorKind = "annotation_transient"
	KindAnnotationFatal      ErrorKind = "annotation_fatal"
	KindValidation           ErrorKind = "validation"
	KindConsistency          ErrorKind = "consistency"
	KindDuplicateRejection   ErrorKind = "duplicate_rejection"
	KindConfig               ErrorKind = "config"
	KindIO                   ErrorKind = "io"
	KindRender               ErrorKind = "render"
)

// DomainError carries an error kind alongside a message and optional cause.
// Kinds identify the unit-scoped failure class counted in run reports.
type DomainError struct {
	Kind    ErrorKind
	Unit    string // element id, batch id, or document id the error is scoped to
	Message string
	Err     error
}

func (e *DomainError) Error() string {
	if e.Unit != "" {
		if e.Err != nil {
			return fmt.Sprintf("[%s] %s: %s: %v", e.Kind, e.Unit, e.Message, e.Err)
		}
		return fmt.Sprintf("[%s] %s: %s", e.Kind, e.Unit, e.Message)
	}
	if e.Err != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Kind, e.Message, e.Err)
	}
	return fmt.Sprintf("[%s] %s", e.Kind, e.Message)
}

func (e *DomainError) Unwrap() error {
	return e.Err
}

// NewError creates a new domain error.
func NewError(kind ErrorKind, unit, message string, err error) *DomainError {
	return &DomainError{
		Kind:    kind,
		Unit:    unit,
		Message: message,
		Err:     err,
	}
}

// Constructors per error kind.

func DetectionError(unit, message string, err error) *DomainError {
	return NewError(KindDetection, unit, message, err)
}

func CoordinateError(unit, message string, err error) *DomainError {
	return NewError(KindCoordinate, unit, message, err)
}

func AnnotationTransientError(unit, message string, err error) *DomainError {
	return NewError(KindAnnotationTransient, unit, message, err)
}

func AnnotationFatalError(unit, message string, err error) *DomainError {
	return NewError(KindAnnotationFatal, unit, message, err)
}

func ValidationError(unit, message string, err error) *DomainError {
	return NewError(KindValidation, unit, message, err)
}

func ConsistencyError(unit, message string, err error) *DomainError {
	return NewError(KindConsistency, unit, message, err)
}

func DuplicateRejection(unit, message string) *DomainError {
	return NewError(KindDuplicateRejection, unit, message, nil)
}

func ConfigError(message string, err error) *DomainError {
	return NewError(KindConfig, "", message, err)
}

func IOError(message string, err error) *DomainError {
	return NewError(KindIO, "", message, err)
}

func RenderError(unit, message string, err error) *DomainError {
	return NewError(KindRender, unit, message, err)
}

// KindOf returns the error kind of err, or "" if err carries no DomainError.
func KindOf(err error) ErrorKind {
	var de *DomainError
	if errors.As(err, &de) {
		return de.Kind
	}
	return ""
}

// IsTransient reports whether err is a retryable annotation failure.
func IsTransient(err error) bool {
	return KindOf(err) == KindAnnotationTransient
}
