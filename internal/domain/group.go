package domain

import (
	"strings"
	"time"
)

// ResourceType names a class of external resources that can be associated
// with a group, e.g. "workspace" or "catalogmethod".
type ResourceType string

// UserResourceType is the resource type used to target users in invitations.
// The ResourceID of a user resource is the username.
const UserResourceType ResourceType = "user"

// ResourceDescriptor identifies an external resource. The AdministrativeID
// groups resources under a common administration unit (e.g. a catalog module
// for its methods); for many resource types it equals the ResourceID.
type ResourceDescriptor struct {
	AdministrativeID string
	ResourceID       string
}

// Group is a named collection of an owner, administrators, and members, plus
// associated external resources. Resource lists are deduplicated by
// ResourceID within each type.
type Group struct {
	ID           string
	Name         string
	Description  string
	Owner        string
	Admins       []string
	Members      []string
	Resources    map[ResourceType][]ResourceDescriptor
	CustomFields map[string]string
	CreatedAt    time.Time
	ModifiedAt   time.Time
}

// IsMember returns true if the user is the owner, an administrator, or a
// member of the group.
func (g *Group) IsMember(user string) bool {
	if g.Owner == user {
		return true
	}
	return contains(g.Admins, user) || contains(g.Members, user)
}

// IsAdministrator returns true if the user is the owner or an administrator.
func (g *Group) IsAdministrator(user string) bool {
	return g.Owner == user || contains(g.Admins, user)
}

// Validate checks the group invariants: the owner is in neither the admin
// nor member sets, those sets are disjoint, times are ordered, and resource
// lists are deduplicated by ResourceID.
func (g *Group) Validate() error {
	if g.ID == "" {
		return ErrValidation("group id is required")
	}
	if g.Name == "" {
		return ErrValidation("group name is required")
	}
	if g.Owner == "" {
		return ErrValidation("group owner is required")
	}
	if hasDuplicates(g.Admins) {
		return ErrValidation("duplicate users in admins of group %s", g.ID)
	}
	if hasDuplicates(g.Members) {
		return ErrValidation("duplicate users in members of group %s", g.ID)
	}
	for _, a := range g.Admins {
		if a == g.Owner {
			return ErrInvariant("user %s is the owner of group %s", a, g.ID)
		}
		if contains(g.Members, a) {
			return ErrInvariant("user %s is both admin and member of group %s", a, g.ID)
		}
	}
	if contains(g.Members, g.Owner) {
		return ErrInvariant("user %s is the owner of group %s", g.Owner, g.ID)
	}
	for rtype, descs := range g.Resources {
		if err := ValidateResourceType(rtype); err != nil {
			return err
		}
		seen := make(map[string]bool, len(descs))
		for _, d := range descs {
			if d.ResourceID == "" {
				return ErrValidation("empty resource id for type %s in group %s", rtype, g.ID)
			}
			if seen[d.ResourceID] {
				return ErrValidation("duplicate resource %s of type %s in group %s",
					d.ResourceID, rtype, g.ID)
			}
			seen[d.ResourceID] = true
		}
	}
	if g.CreatedAt.IsZero() {
		return ErrValidation("group creation time is required")
	}
	if g.ModifiedAt.Before(g.CreatedAt) {
		return ErrValidation("group modification time is before the creation time")
	}
	return nil
}

// ValidateResourceType checks that a resource type is non-empty and is a
// legal document field name (resource types become key paths in the store).
func ValidateResourceType(t ResourceType) error {
	if t == "" {
		return ErrValidation("resource type is required")
	}
	if strings.ContainsAny(string(t), ". $") {
		return ErrValidation("illegal character in resource type %q", t)
	}
	return nil
}

func contains(users []string, user string) bool {
	for _, u := range users {
		if u == user {
			return true
		}
	}
	return false
}

func hasDuplicates(users []string) bool {
	seen := make(map[string]bool, len(users))
	for _, u := range users {
		if seen[u] {
			return true
		}
		seen[u] = true
	}
	return false
}
