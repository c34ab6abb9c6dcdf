// Package errors classifies reconciliation failures. Every error that aborts a
// cycle carries a Kind so status reporting and metrics can tell a retryable
// download problem apart from an operator mistake.
package errors

import (
	"errors"
	"fmt"
)

// Kind is the failure class of a cycle
type Kind string

const (
	// InvalidSettings means the operator settings or a target failed validation
	InvalidSettings Kind = "invalid_settings"
	// DownloadFailed means the artifact could not be fetched
	DownloadFailed Kind = "download_failed"
	// IntegrityFailed means the fetched artifact did not match its checksum
	IntegrityFailed Kind = "integrity_failed"
	// InstallFailed means the binary could not be placed on disk
	InstallFailed Kind = "install_failed"
	// ApplyFailed means the config write or the service action failed
	ApplyFailed Kind = "apply_failed"
	// StateFailed means persisted state could not be read or written
	StateFailed Kind = "state_failed"
)

// Retryable reports whether the next triggering event may succeed without
// operator intervention
func (k Kind) Retryable() bool {
	switch k {
	case DownloadFailed, IntegrityFailed, ApplyFailed, StateFailed:
		return true
	}
	return false
}

// Error is a classified failure
type Error struct {
	Kind Kind
	Op   string
	Err  error
}

func (e *Error) Error() string {
	if e.Op == "" {
		return fmt.Sprintf("%s: %v", e.Kind, e.Err)
	}
	return fmt.Sprintf("%s: %s: %v", e.Kind, e.Op, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// New wraps err with a kind and the operation that failed. A nil err yields nil.
func New(kind Kind, op string, err error) error {
	if err == nil {
		return nil
	}
	return &Error{Kind: kind, Op: op, Err: err}
}

// Newf builds a classified error from a format string
func Newf(kind Kind, op, format string, args ...any) error {
	return &Error{Kind: kind, Op: op, Err: fmt.Errorf(format, args...)}
}

// KindOf returns the kind of the outermost classified error in err's chain,
// or "" when err is unclassified
func KindOf(err error) Kind {
	var ce *Error
	if errors.As(err, &ce) {
		return ce.Kind
	}
	return ""
}

// Is reports whether err is classified as kind
func Is(err error, kind Kind) bool {
	return err != nil && KindOf(err) == kind
}

// Retryable reports whether err may clear on the next cycle
func Retryable(err error) bool {
	return KindOf(err).Retryable()
}
