// Package coreerr defines the error kinds surfaced by the workflow core,
// following the spec's "kinds, not types" error design.
package coreerr

import (
	"errors"
	"fmt"
)

// Kind identifies the category of a core error, used by callers to branch
// on failure without depending on a Go type per kind.
type Kind string

const (
	KindWorkflowNotFound  Kind = "WorkflowNotFound"
	KindCycleDetected     Kind = "CycleDetected"
	KindDanglingNode      Kind = "DanglingNode"
	KindUnknownNodeType   Kind = "UnknownNodeType"
	KindUnimplemented     Kind = "Unimplemented"
	KindNoMatchingBranch  Kind = "NoMatchingBranch"
	KindTypeMismatch      Kind = "TypeMismatch"
	KindUnknownExprKind   Kind = "UnknownExprKind"
	KindLLMProviderError  Kind = "LLMProviderError"
	KindToolExecutionErr  Kind = "ToolExecutionError"
	KindBudgetExhausted   Kind = "BudgetExhausted"
	KindPoolInactive      Kind = "PoolInactive"
	KindPoolNotFound      Kind = "PoolNotFound"
	KindSuspended         Kind = "Suspended"
	KindReviewRejected    Kind = "ReviewRejected"
	KindStoreError        Kind = "StoreError"
	KindApprovalNotFound  Kind = "ApprovalNotFound"
	KindNotApproved       Kind = "NotApproved"
	KindSessionNotFound   Kind = "SessionNotFound"
	KindVersionConflict   Kind = "VersionConflict"
	KindInvalidDefinition Kind = "InvalidDefinition"
)

// Error wraps a Kind with a message and an optional underlying cause.
// Every error kind in the core is represented by this single struct rather
// than one Go type per kind.
type Error struct {
	Kind    Kind
	Message string
	Cause   error

	// ApprovalID is set only for KindSuspended, carrying the approval
	// request id the caller should surface to the run controller.
	ApprovalID string
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error {
	return e.Cause
}

// Is lets errors.Is(err, coreerr.New(kind, "")) match on Kind alone.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Kind == e.Kind
}

// New creates an Error of the given kind with a formatted message.
func New(kind Kind, format string, args ...interface{}) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// Wrap creates an Error of the given kind, wrapping cause.
func Wrap(kind Kind, cause error, format string, args ...interface{}) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...), Cause: cause}
}

// Suspended builds the distinguished Suspended(approvalId) signal.
func Suspended(approvalID string) *Error {
	return &Error{Kind: KindSuspended, Message: "execution suspended pending approval", ApprovalID: approvalID}
}

// KindOf extracts the Kind of err if it is (or wraps) a *Error, else "".
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return ""
}

// Is reports whether err is a core error of the given kind.
func Is(err error, kind Kind) bool {
	return KindOf(err) == kind
}

// AsSuspended reports whether err is the distinguished Suspended signal and,
// if so, returns its approval id.
func AsSuspended(err error) (string, bool) {
	var e *Error
	if errors.As(err, &e) && e.Kind == KindSuspended {
		return e.ApprovalID, true
	}
	return "", false
}
