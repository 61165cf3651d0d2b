// Package tenant models the partition a request operates in.
package tenant

import (
	"errors"
	"strings"
)

type Kind string

const (
	KindWorkspace Kind = "workspace"
	KindUser      Kind = "user"
)

var ErrInvalidScope = errors.New("invalid scope")

// ScopeKey is either Workspace(id) or User(id). The zero value is invalid.
type ScopeKey struct {
	kind Kind
	id   string
}

func Workspace(id string) ScopeKey {
	return ScopeKey{kind: KindWorkspace, id: strings.TrimSpace(id)}
}

func User(id string) ScopeKey {
	return ScopeKey{kind: KindUser, id: strings.TrimSpace(id)}
}

// Parse reverses String.
func Parse(value string) (ScopeKey, error) {
	kind, id, ok := strings.Cut(value, ":")
	if !ok {
		return ScopeKey{}, ErrInvalidScope
	}
	var key ScopeKey
	switch Kind(kind) {
	case KindWorkspace:
		key = Workspace(id)
	case KindUser:
		key = User(id)
	default:
		return ScopeKey{}, ErrInvalidScope
	}
	if !key.Valid() {
		return ScopeKey{}, ErrInvalidScope
	}
	return key, nil
}

func (k ScopeKey) Kind() Kind { return k.kind }

func (k ScopeKey) ID() string { return k.id }

func (k ScopeKey) Valid() bool {
	return (k.kind == KindWorkspace || k.kind == KindUser) && k.id != ""
}

// Column is the tasks column that carries this scope. Only ever one of two
// constants, so it is safe to splice into SQL.
func (k ScopeKey) Column() string {
	if k.kind == KindWorkspace {
		return "workspace_id"
	}
	return "user_id"
}

func (k ScopeKey) String() string {
	return string(k.kind) + ":" + k.id
}
