package depgraph

import (
	"fmt"
	"strings"
)

type Kind int

const (
	KindNotFound Kind = iota + 1
	KindInvalidArgument
	KindConflict
	KindForbidden
)

func (k Kind) String() string {
	switch k {
	case KindNotFound:
		return "not_found"
	case KindInvalidArgument:
		return "invalid_argument"
	case KindConflict:
		return "conflict"
	case KindForbidden:
		return "forbidden"
	default:
		return "unknown"
	}
}

// Error is a precondition failure. Callers match the package sentinels with
// errors.Is, or recover the kind with errors.As.
type Error struct {
	Kind    Kind
	Code    string
	Message string
}

func (e *Error) Error() string {
	if e == nil {
		return ""
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

var (
	ErrTaskNotFound        = &Error{Kind: KindNotFound, Code: "NOT_FOUND", Message: "Task not found"}
	ErrDependencyNotFound  = &Error{Kind: KindNotFound, Code: "NOT_FOUND", Message: "Dependency not found"}
	ErrSelfDependency      = &Error{Kind: KindInvalidArgument, Code: "SELF_DEPENDENCY", Message: "A task cannot depend on itself"}
	ErrCircularDependency  = &Error{Kind: KindInvalidArgument, Code: "CIRCULAR_DEPENDENCY", Message: "This dependency would create a circular dependency"}
	ErrInvalidType         = &Error{Kind: KindInvalidArgument, Code: "VALIDATION_ERROR", Message: "dependency_type must be at most 50 characters"}
	ErrInvalidScope        = &Error{Kind: KindInvalidArgument, Code: "INVALID_SCOPE", Message: "No tenant scope resolved"}
	ErrDuplicateDependency = &Error{Kind: KindConflict, Code: "DUPLICATE_DEPENDENCY", Message: "Dependency already exists"}
	ErrForbidden           = &Error{Kind: KindForbidden, Code: "FORBIDDEN", Message: "Forbidden"}
)

// CycleError carries the loop the rejected edge would have closed, starting
// and ending at the dependent task.
type CycleError struct {
	Path []string
}

func (e *CycleError) Error() string {
	return fmt.Sprintf("%s (%s)", ErrCircularDependency.Error(), strings.Join(e.Path, " -> "))
}

func (e *CycleError) Unwrap() error { return ErrCircularDependency }
