// Copyright 2021 Dalarub & Ettrich GmbH - All Rights Reserved
// Unauthorized copying of this file, via any medium is strictly prohibited
// Proprietary and confidential
// info@dalarub.com
//

package access

import (
	"github.com/google/uuid"

	"github.com/relabs-tech/supportdesk/core"
)

// pseudo roles which can be used in permits
const (
	// RoleEverybody grants a permission to every authenticated principal
	RoleEverybody = "everybody"
	// RoleOwner grants a permission to the principal who owns the target record. For the list
	// operation it grants a listing restricted to the principal's own records.
	RoleOwner = "owner"
)

// Permit grants a role the permission to execute a list of operations
type Permit struct {
	Role       string           `json:"role"`
	Operations []core.Operation `json:"operations"`
}

// Decision is the outcome of an authorization check
type Decision int

// the possible decisions
const (
	Deny Decision = iota
	Allow
)

// Policy is the declarative authorization table of one resource. It maps roles to the
// operations they may perform.
//
// The "admin" role is authorized for every operation by default, unless the resource
// lists permits for "admin" explicitly.
type Policy struct {
	Resource    string
	permissions map[string]map[core.Operation]bool
}

// NewPolicy creates the policy for a resource from its permits
func NewPolicy(resource string, permits []Permit) Policy {
	p := Policy{Resource: resource, permissions: map[string]map[core.Operation]bool{}}
	for _, permit := range permits {
		ops, ok := p.permissions[permit.Role]
		if !ok {
			ops = map[core.Operation]bool{}
			p.permissions[permit.Role] = ops
		}
		for _, operation := range permit.Operations {
			ops[operation] = true
		}
	}
	return p
}

// byRole returns true if one of the principal's roles, or everybody, grants the operation
func (p Policy) byRole(auth *Authorization, operation core.Operation) bool {
	return p.byOwnRole(auth, operation) || p.permissions[RoleEverybody][operation]
}

func (p Policy) byOwnRole(auth *Authorization, operation core.Operation) bool {
	for _, role := range auth.Roles {
		ops, ok := p.permissions[role]
		if !ok {
			if role == RoleAdmin {
				return true // admin by default is always authorized
			}
			continue
		}
		if ops[operation] {
			return true
		}
	}
	return false
}

// GrantedByRole returns true if the principal may perform the operation by one of its roles,
// regardless of ownership
func (p Policy) GrantedByRole(auth *Authorization, operation core.Operation) bool {
	return auth != nil && p.byRole(auth, operation)
}

// GrantedByOwnRole is like GrantedByRole but ignores permits for everybody
func (p Policy) GrantedByOwnRole(auth *Authorization, operation core.Operation) bool {
	return auth != nil && p.byOwnRole(auth, operation)
}

// Authorize decides whether the principal may perform the operation on a record owned by
// owner. Pass uuid.Nil as owner for operations without a target record or for records
// without an owner.
func (p Policy) Authorize(auth *Authorization, operation core.Operation, owner uuid.UUID) Decision {
	if auth == nil {
		return Deny
	}
	if p.byRole(auth, operation) {
		return Allow
	}
	if owner != uuid.Nil && owner == auth.ID && p.permissions[RoleOwner][operation] {
		return Allow
	}
	return Deny
}

// ListScope decides whether the principal may list the resource, and if so, whether the
// listing must be restricted to records owned by the principal.
func (p Policy) ListScope(auth *Authorization) (allowed bool, ownedOnly bool) {
	if auth == nil {
		return false, false
	}
	if p.byRole(auth, core.OperationList) {
		return true, false
	}
	if auth.ID != uuid.Nil && p.permissions[RoleOwner][core.OperationList] {
		return true, true
	}
	return false, false
}
