package models

import (
	"fmt"

	"github.com/pkg/errors"
)

// ErrorKind classifies pipeline failures
type ErrorKind string

const (
	// ErrorKindSourceUnavailable is a transient source failure that outlived its retries
	ErrorKindSourceUnavailable ErrorKind = "SourceUnavailable"
	// ErrorKindMalformedRecord is a record missing required fields; it is dropped
	ErrorKindMalformedRecord ErrorKind = "MalformedRecord"
	// ErrorKindIdentityAmbiguous is a homonym collision resolved by creating a new entity
	ErrorKindIdentityAmbiguous ErrorKind = "IdentityAmbiguous"
	// ErrorKindHardConflict is an external identifier disagreement needing manual review
	ErrorKindHardConflict ErrorKind = "HardConflict"
	// ErrorKindPersistenceConflict is a lost optimistic insert race on the crosswalk
	ErrorKindPersistenceConflict ErrorKind = "PersistenceConflict"
)

// PipelineError carries the kind and provenance of a per-item failure
type PipelineError struct {
	Kind   ErrorKind
	Source Source
	Key    string
	Err    error
}

// NewPipelineError creates a PipelineError
func NewPipelineError(kind ErrorKind, source Source, key string, err error) *PipelineError {
	return &PipelineError{Kind: kind, Source: source, Key: key, Err: err}
}

func (e *PipelineError) Error() string {
	prefix := string(e.Kind)
	if e.Source != "" {
		prefix = fmt.Sprintf("%s (%s)", prefix, e.Source)
	}
	if e.Key != "" {
		prefix = fmt.Sprintf("%s [%s]", prefix, e.Key)
	}
	if e.Err == nil {
		return prefix
	}
	return fmt.Sprintf("%s: %v", prefix, e.Err)
}

func (e *PipelineError) Unwrap() error {
	return e.Err
}

// KindOf returns the kind of the first PipelineError in err's chain, or "" if none
func KindOf(err error) ErrorKind {
	var pe *PipelineError
	if errors.As(err, &pe) {
		return pe.Kind
	}
	return ""
}

// IsKind reports whether err carries the given kind
func IsKind(err error, kind ErrorKind) bool {
	return KindOf(err) == kind
}
