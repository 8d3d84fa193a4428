package services

import (
	"errors"
	"fmt"
)

// ErrorKind buckets a WarError for callers that only need the taxonomy:
// validation and state errors are rejected before any mutation, contention
// errors may be retried, storage errors are retryable against the store,
// archival errors leave the war live for the next cleanup pass.
type ErrorKind string

const (
	KindValidation ErrorKind = "validation"
	KindState      ErrorKind = "state"
	KindContention ErrorKind = "contention"
	KindNotFound   ErrorKind = "not_found"
	KindStorage    ErrorKind = "storage"
	KindArchival   ErrorKind = "archival"
)

// Error codes surfaced to transport callers.
const (
	CodeInvalidGuild        = "invalid_guild"
	CodeInsufficientLevel   = "insufficient_level"
	CodeInsufficientMembers = "insufficient_members"
	CodeTooManyParticipants = "too_many_participants"
	CodeRegistrationClosed  = "registration_closed"
	CodeWarNotFound         = "war_not_found"
	CodeTerritoryNotFound   = "territory_not_found"
	CodeTerritoryOnCooldown = "territory_on_cooldown"
	CodeBusy                = "busy"
	CodeWrongStatus         = "wrong_status"
	CodeStorageFailure      = "storage_failure"
	CodeArchiveFailure      = "archive_failure"
	CodeArchiveNotFound     = "archive_not_found"
)

// WarError is the discriminated result type for every core operation failure.
type WarError struct {
	Kind    ErrorKind
	Code    string
	Message string
	Err     error // wrapped cause, if any
}

func (e *WarError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *WarError) Unwrap() error { return e.Err }

// Is matches against another *WarError by kind, and by code when the target
// carries one. Lets callers write errors.Is(err, &WarError{Kind: KindState}).
func (e *WarError) Is(target error) bool {
	t, ok := target.(*WarError)
	if !ok {
		return false
	}
	if t.Code != "" && t.Code != e.Code {
		return false
	}
	return t.Kind == "" || t.Kind == e.Kind
}

func validationError(code, format string, args ...interface{}) *WarError {
	return &WarError{Kind: KindValidation, Code: code, Message: fmt.Sprintf(format, args...)}
}

func stateError(format string, args ...interface{}) *WarError {
	return &WarError{Kind: KindState, Code: CodeWrongStatus, Message: fmt.Sprintf(format, args...)}
}

func notFoundError(code, format string, args ...interface{}) *WarError {
	return &WarError{Kind: KindNotFound, Code: code, Message: fmt.Sprintf(format, args...)}
}

func contentionError(code, format string, args ...interface{}) *WarError {
	return &WarError{Kind: KindContention, Code: code, Message: fmt.Sprintf(format, args...)}
}

func storageError(op string, err error) *WarError {
	return &WarError{Kind: KindStorage, Code: CodeStorageFailure, Message: op, Err: err}
}

func archivalError(op string, err error) *WarError {
	return &WarError{Kind: KindArchival, Code: CodeArchiveFailure, Message: op, Err: err}
}

// ErrKind extracts the taxonomy kind from any error returned by the core;
// wrapped non-war errors report as storage failures.
func ErrKind(err error) ErrorKind {
	var we *WarError
	if errors.As(err, &we) {
		return we.Kind
	}
	return KindStorage
}

// ErrCode extracts the error code, empty for non-war errors.
func ErrCode(err error) string {
	var we *WarError
	if errors.As(err, &we) {
		return we.Code
	}
	return ""
}

// ErrVersionConflict is returned by WarStore.SaveTerritory when the territory
// row changed since it was read. The resolver retries on it; it never reaches
// transport callers directly.
var ErrVersionConflict = errors.New("territory version conflict")
