package app

import (
	"errors"
	"fmt"
	"net/http"

	"taskdeps/api/internal/depgraph"
)

type DomainError struct {
	Status  int
	Code    string
	Message string
	Details any
}

func (e *DomainError) Error() string {
	if e == nil {
		return ""
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func domainError(status int, code, message string, details any) *DomainError {
	return &DomainError{
		Status:  status,
		Code:    code,
		Message: message,
		Details: details,
	}
}

var (
	errNotMember = domainError(http.StatusForbidden, "FORBIDDEN", "Not a member of this workspace", nil)
	errForbidden = domainError(http.StatusForbidden, "FORBIDDEN", "Forbidden", nil)
)

// graphError translates depgraph failures into HTTP terms. A rejected cycle
// carries the loop it would have closed.
func graphError(err error) (*DomainError, bool) {
	var graphErr *depgraph.Error
	if !errors.As(err, &graphErr) {
		return nil, false
	}

	var details any
	var cycle *depgraph.CycleError
	if errors.As(err, &cycle) {
		details = map[string]any{"cycle": cycle.Path}
	}

	status := http.StatusInternalServerError
	switch graphErr.Kind {
	case depgraph.KindNotFound:
		status = http.StatusNotFound
	case depgraph.KindInvalidArgument:
		status = http.StatusBadRequest
	case depgraph.KindConflict:
		status = http.StatusConflict
	case depgraph.KindForbidden:
		status = http.StatusForbidden
	}
	return domainError(status, graphErr.Code, graphErr.Message, details), true
}
