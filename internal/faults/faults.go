// Package faults defines the error taxonomy used across the reward engine.
// Errors carry a kind that routes them: transient fetch errors degrade one
// account to empty data, integrity errors drop one record, computation errors
// zero one stage, configuration errors fail one brief or operation. Only
// errors that would prevent any valid reward vector reach the orchestrator,
// which answers with the fallback vector instead of propagating.
package faults

import (
	"errors"
	"fmt"
)

// Kind classifies an error for propagation decisions.
type Kind int

const (
	// KindTransient is a network or rate-limit failure worth retrying.
	KindTransient Kind = iota
	// KindIntegrity is a malformed record that should be dropped.
	KindIntegrity
	// KindComputation is a stage-level failure that degrades output to empty.
	KindComputation
	// KindConfiguration is a missing or invalid setting failing one operation.
	KindConfiguration
)

func (k Kind) String() string {
	switch k {
	case KindTransient:
		return "transient"
	case KindIntegrity:
		return "integrity"
	case KindComputation:
		return "computation"
	case KindConfiguration:
		return "configuration"
	}
	return "unknown"
}

// Fault wraps an error with its taxonomy kind.
type Fault struct {
	kind Kind
	msg  string
	err  error
}

func (f *Fault) Error() string {
	if f.err == nil {
		return f.msg
	}
	if f.msg == "" {
		return f.err.Error()
	}
	return f.msg + ": " + f.err.Error()
}

func (f *Fault) Unwrap() error { return f.err }

// Kind returns the fault's classification.
func (f *Fault) Kind() Kind { return f.kind }

func newFault(kind Kind, err error, format string, args ...interface{}) *Fault {
	return &Fault{kind: kind, msg: fmt.Sprintf(format, args...), err: err}
}

// Transient wraps err as a retryable fetch failure.
func Transient(err error, format string, args ...interface{}) error {
	return newFault(KindTransient, err, format, args...)
}

// Integrity wraps err as a malformed-record failure.
func Integrity(err error, format string, args ...interface{}) error {
	return newFault(KindIntegrity, err, format, args...)
}

// Computation wraps err as a stage-level computation failure.
func Computation(err error, format string, args ...interface{}) error {
	return newFault(KindComputation, err, format, args...)
}

// Configuration wraps err as a configuration failure.
func Configuration(err error, format string, args ...interface{}) error {
	return newFault(KindConfiguration, err, format, args...)
}

// KindOf extracts the taxonomy kind from err, unwrapping as needed. The
// second return is false when err carries no fault classification.
func KindOf(err error) (Kind, bool) {
	var f *Fault
	if errors.As(err, &f) {
		return f.kind, true
	}
	return 0, false
}

// IsKind reports whether err is classified as kind.
func IsKind(err error, kind Kind) bool {
	k, ok := KindOf(err)
	return ok && k == kind
}
