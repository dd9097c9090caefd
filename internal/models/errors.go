package models

import (
	"errors"
	"fmt"
)

var (
	ErrValidation      = errors.New("receipt validation failed")
	ErrConsistency     = errors.New("validator reported a different platform")
	ErrPersistence     = errors.New("subscription store failure")
	ErrAcknowledgement = errors.New("purchase acknowledgement failed")
)

// ErrorKind classifies a processing failure.
type ErrorKind string

const (
	KindValidation      ErrorKind = "validation"
	KindConsistency     ErrorKind = "consistency"
	KindPersistence     ErrorKind = "persistence"
	KindAcknowledgement ErrorKind = "acknowledgement"
	KindInternal        ErrorKind = "internal"
)

// ProcessingError is returned by purchase processing. Match it with
// errors.Is against the Err* sentinels above or inspect Kind via errors.As.
type ProcessingError struct {
	Kind ErrorKind
	Op   string
	App  AppType
	Err  error
}

func (e *ProcessingError) Error() string {
	if e.App != "" {
		return fmt.Sprintf("%s %s (%s): %v", e.Kind, e.Op, e.App, e.Err)
	}
	return fmt.Sprintf("%s %s: %v", e.Kind, e.Op, e.Err)
}

func (e *ProcessingError) Unwrap() error {
	return e.Err
}

func (e *ProcessingError) Is(target error) bool {
	switch target {
	case ErrValidation:
		return e.Kind == KindValidation
	case ErrConsistency:
		return e.Kind == KindConsistency
	case ErrPersistence:
		return e.Kind == KindPersistence
	case ErrAcknowledgement:
		return e.Kind == KindAcknowledgement
	}
	return false
}

func NewProcessingError(kind ErrorKind, op string, app AppType, err error) error {
	return &ProcessingError{Kind: kind, Op: op, App: app, Err: err}
}

// KindOf returns the kind of a ProcessingError anywhere in err's chain,
// or KindInternal for anything else.
func KindOf(err error) ErrorKind {
	var pe *ProcessingError
	if errors.As(err, &pe) {
		return pe.Kind
	}
	return KindInternal
}
