package domain

import (
	"slices"
	"strings"
)

// Role identifies the caller's production role as supplied by the identity provider.
type Role string

// Role values.
const (
	RoleAdmin   Role = "admin"
	RoleManager Role = "manager"
	RoleStudent Role = "student"
)

// validRoles stores supported roles.
var validRoles = []Role{
	RoleAdmin,
	RoleManager,
	RoleStudent,
}

// Capability names one permission a core operation may require.
type Capability string

// Capability values.
const (
	CapabilityManageProductions Capability = "manage_productions"
	CapabilityUpdateStatus      Capability = "update_status"
	CapabilityViewProductions   Capability = "view_productions"
)

// roleCapabilities maps each role to the capabilities it grants.
var roleCapabilities = map[Role][]Capability{
	RoleAdmin:   {CapabilityManageProductions, CapabilityUpdateStatus, CapabilityViewProductions},
	RoleManager: {CapabilityManageProductions, CapabilityUpdateStatus, CapabilityViewProductions},
	RoleStudent: {CapabilityUpdateStatus, CapabilityViewProductions},
}

// NormalizeRole trims and lowercases a role value.
func NormalizeRole(r Role) Role {
	return Role(strings.TrimSpace(strings.ToLower(string(r))))
}

// IsValidRole reports whether r is a supported role.
func IsValidRole(r Role) bool {
	return slices.Contains(validRoles, r)
}

// CapabilitySet is an immutable set of capabilities.
type CapabilitySet struct {
	caps []Capability
}

// NewCapabilitySet builds a set from caps, dropping duplicates.
func NewCapabilitySet(caps ...Capability) CapabilitySet {
	out := make([]Capability, 0, len(caps))
	for _, c := range caps {
		if !slices.Contains(out, c) {
			out = append(out, c)
		}
	}
	slices.Sort(out)
	return CapabilitySet{caps: out}
}

// CapabilitiesForRole returns the capability set granted to role. Unknown roles get none.
func CapabilitiesForRole(role Role) CapabilitySet {
	return NewCapabilitySet(roleCapabilities[NormalizeRole(role)]...)
}

// Has reports whether the set contains c.
func (s CapabilitySet) Has(c Capability) bool {
	return slices.Contains(s.caps, c)
}

// List returns the capabilities in sorted order.
func (s CapabilitySet) List() []Capability {
	return slices.Clone(s.caps)
}

// Actor is the authenticated caller supplied by the transport layer.
type Actor struct {
	Name         string
	Role         Role
	Capabilities CapabilitySet
}

// NewActor builds an actor whose capabilities derive from role.
func NewActor(name string, role Role) (Actor, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return Actor{}, ErrInvalidActor
	}
	role = NormalizeRole(role)
	if !IsValidRole(role) {
		return Actor{}, ErrInvalidRole
	}
	return Actor{
		Name:         name,
		Role:         role,
		Capabilities: CapabilitiesForRole(role),
	}, nil
}

// Can reports whether the actor holds c.
func (a Actor) Can(c Capability) bool {
	return a.Capabilities.Has(c)
}
