package domain

import (
	"errors"
	"fmt"
	"time"
)

// Code is a machine-readable error code. Codes and message templates are
// consumed by scripts and must stay stable.
type Code string

const (
	CodeGoalNotFound          Code = "GOAL_NOT_FOUND"
	CodeGoalAlreadyExists     Code = "GOAL_ALREADY_EXISTS"
	CodeGoalClaimedByAnother  Code = "GOAL_CLAIMED_BY_ANOTHER_WORKER"
	CodeGoalInvalidTransition Code = "GOAL_INVALID_TRANSITION"
	CodeGoalInvalidInput      Code = "GOAL_INVALID_INPUT"
	CodeGoalConcurrentChange  Code = "GOAL_CONCURRENT_MODIFICATION"
	CodeStorageFailure        Code = "STORAGE_FAILURE"
)

// Error is a domain error with a stable code and templated message.
type Error struct {
	Code     Code
	Message  string
	Metadata map[string]string
	Cause    error
}

func (e *Error) Error() string { return e.Message }

func (e *Error) Unwrap() error { return e.Cause }

// Is matches any *Error with the same code.
func (e *Error) Is(target error) bool {
	if t, ok := target.(*Error); ok {
		return e.Code == t.Code
	}
	return false
}

// Sentinels for errors.Is checks.
var (
	ErrGoalNotFound      = &Error{Code: CodeGoalNotFound}
	ErrGoalAlreadyExists = &Error{Code: CodeGoalAlreadyExists}
	ErrClaimConflict     = &Error{Code: CodeGoalClaimedByAnother}
	ErrIllegalTransition = &Error{Code: CodeGoalInvalidTransition}
	ErrInvalidInput      = &Error{Code: CodeGoalInvalidInput}
	ErrConcurrentChange  = &Error{Code: CodeGoalConcurrentChange}
	ErrStorageFailure    = &Error{Code: CodeStorageFailure}
)

// CodeOf returns the code of the first *Error in err's chain.
func CodeOf(err error) (Code, bool) {
	var de *Error
	if errors.As(err, &de) {
		return de.Code, true
	}
	return "", false
}

// NotFound reports that no goal with id exists.
func NotFound(id GoalID) *Error {
	return &Error{
		Code:     CodeGoalNotFound,
		Message:  fmt.Sprintf("Goal not found: %s", id),
		Metadata: map[string]string{"goal_id": string(id)},
	}
}

// AlreadyExists reports that a goal id is already taken.
func AlreadyExists(id GoalID) *Error {
	return &Error{
		Code:     CodeGoalAlreadyExists,
		Message:  fmt.Sprintf("Goal already exists: %s", id),
		Metadata: map[string]string{"goal_id": string(id)},
	}
}

// ClaimConflict reports that another worker holds an active claim.
func ClaimConflict(id GoalID, existing Claim) *Error {
	expires := existing.ClaimExpiresAt.UTC().Format(time.RFC3339)
	return &Error{
		Code:    CodeGoalClaimedByAnother,
		Message: fmt.Sprintf("Goal %s is claimed by another worker until %s", id, expires),
		Metadata: map[string]string{
			"goal_id":          string(id),
			"claimed_by":       string(existing.ClaimedBy),
			"claim_expires_at": expires,
		},
	}
}

// IllegalTransition reports that operation is not allowed from status.
func IllegalTransition(id GoalID, operation string, status Status) *Error {
	return &Error{
		Code:    CodeGoalInvalidTransition,
		Message: fmt.Sprintf("Cannot %s goal %s: current status is %s", operation, id, status),
		Metadata: map[string]string{
			"goal_id":   string(id),
			"operation": operation,
			"status":    string(status),
		},
	}
}

// InvalidInput reports a rejected command argument.
func InvalidInput(msg string) *Error {
	return &Error{Code: CodeGoalInvalidInput, Message: msg}
}

// ConcurrentChange reports that another writer appended to the goal's stream
// between rehydration and append.
func ConcurrentChange(id GoalID, expected, actual uint64) *Error {
	return &Error{
		Code:    CodeGoalConcurrentChange,
		Message: fmt.Sprintf("Goal %s was modified concurrently: expected version %d, log is at %d", id, expected, actual),
		Metadata: map[string]string{
			"goal_id":  string(id),
			"expected": fmt.Sprint(expected),
			"actual":   fmt.Sprint(actual),
		},
	}
}

// StorageFailure wraps an I/O error from the event log or claim store.
func StorageFailure(operation string, cause error) *Error {
	return &Error{
		Code:     CodeStorageFailure,
		Message:  fmt.Sprintf("Storage failure during %s: %v", operation, cause),
		Metadata: map[string]string{"operation": operation},
		Cause:    cause,
	}
}
