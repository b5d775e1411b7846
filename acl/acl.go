// Package acl holds role grants for the principals calling into the bridge.
package acl

import (
	"strings"
	"sync"

	"gobridgeledger/types"
)

type Role string

const (
	RoleAdmin    Role = "admin"
	RoleResolver Role = "resolver"
	// acts on behalf of users, e.g. a vault bridging withdrawn proceeds
	RoleGateway  Role = "gateway"
)

// ValidatorRole is scoped to one relayer backend
func ValidatorRole(backendID string) Role {
	return Role("validator:" + backendID)
}

// EndpointRole is held by the messaging endpoint of one backend
func EndpointRole(backendID string) Role {
	return Role("endpoint:" + backendID)
}

type List struct {
	mu     sync.RWMutex
	grants map[Role]map[string]struct{}
}

func New() *List {
	return &List{grants: make(map[Role]map[string]struct{})}
}

// principals are compared case-insensitively so hex addresses match in any casing
func normalize(principal string) string {
	return strings.ToLower(strings.TrimSpace(principal))
}

func (l *List) Grant(role Role, principals ...string) {
	l.mu.Lock()
	defer l.mu.Unlock()

	set, ok := l.grants[role]
	if !ok {
		set = make(map[string]struct{})
		l.grants[role] = set
	}
	for _, p := range principals {
		if p = normalize(p); p != "" {
			set[p] = struct{}{}
		}
	}
}

func (l *List) Revoke(role Role, principal string) {
	l.mu.Lock()
	defer l.mu.Unlock()

	delete(l.grants[role], normalize(principal))
}

func (l *List) Has(principal string, role Role) bool {
	l.mu.RLock()
	defer l.mu.RUnlock()

	_, ok := l.grants[role][normalize(principal)]
	return ok
}

// Require returns Unauthorized unless principal holds role
func (l *List) Require(principal string, role Role) error {
	if l.Has(principal, role) {
		return nil
	}
	return types.Errorf(types.ErrUnauthorized, "%q is not %s", principal, role)
}
