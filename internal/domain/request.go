package domain

import (
	"strings"
	"time"
)

// RequestType is the kind of change a GroupRequest proposes.
type RequestType string

const (
	// RequestGroupMembership is a user asking to join a group.
	RequestGroupMembership RequestType = "request-group-membership"
	// InviteToGroup is a group administrator inviting a user to join.
	// The target user is carried as a resource of type UserResourceType.
	InviteToGroup RequestType = "invite-to-group"
	// RequestAddResource is a resource administrator asking to associate a
	// resource with a group.
	RequestAddResource RequestType = "request-add-resource"
	// InviteResource is a group administrator inviting a resource (via its
	// administrators) into the group.
	InviteResource RequestType = "invite-resource"
)

// Valid reports whether the request type is one of the defined constants.
func (t RequestType) Valid() bool {
	switch t {
	case RequestGroupMembership, InviteToGroup, RequestAddResource, InviteResource:
		return true
	}
	return false
}

// RequestStatusType is the lifecycle state of a GroupRequest. Open requests
// transition exactly once to one of the four terminal states.
type RequestStatusType string

const (
	StatusOpen     RequestStatusType = "open"
	StatusCanceled RequestStatusType = "canceled"
	StatusExpired  RequestStatusType = "expired"
	StatusAccepted RequestStatusType = "accepted"
	StatusDenied   RequestStatusType = "denied"
)

// Valid reports whether the status type is one of the defined constants.
func (t RequestStatusType) Valid() bool {
	switch t {
	case StatusOpen, StatusCanceled, StatusExpired, StatusAccepted, StatusDenied:
		return true
	}
	return false
}

// Closed returns true for the terminal status types.
func (t RequestStatusType) Closed() bool {
	return t.Valid() && t != StatusOpen
}

// RequestStatus is the status of a GroupRequest. ClosedBy is set only for
// accepted and denied requests; ClosedReason only for denied requests.
type RequestStatus struct {
	Type         RequestStatusType
	ClosedBy     string
	ClosedReason string
}

// Open returns an open status.
func Open() RequestStatus { return RequestStatus{Type: StatusOpen} }

// Canceled returns a canceled status.
func Canceled() RequestStatus { return RequestStatus{Type: StatusCanceled} }

// Expired returns an expired status.
func Expired() RequestStatus { return RequestStatus{Type: StatusExpired} }

// Accepted returns an accepted status closed by the given user.
func Accepted(by string) RequestStatus {
	return RequestStatus{Type: StatusAccepted, ClosedBy: by}
}

// Denied returns a denied status closed by the given user. A blank reason is
// dropped; otherwise the reason is trimmed.
func Denied(by, reason string) RequestStatus {
	return RequestStatus{Type: StatusDenied, ClosedBy: by, ClosedReason: strings.TrimSpace(reason)}
}

// StatusFrom builds a status from raw parts, normalizing fields that do not
// apply to the status type the same way the typed constructors do.
func StatusFrom(t RequestStatusType, closedBy, reason string) (RequestStatus, error) {
	switch t {
	case StatusOpen, StatusCanceled, StatusExpired:
		return RequestStatus{Type: t}, nil
	case StatusAccepted:
		if closedBy == "" {
			return RequestStatus{}, ErrValidation("accepted requests must record a closing user")
		}
		return Accepted(closedBy), nil
	case StatusDenied:
		if closedBy == "" {
			return RequestStatus{}, ErrValidation("denied requests must record a closing user")
		}
		return Denied(closedBy, reason), nil
	default:
		return RequestStatus{}, ErrValidation("invalid request status type %q", t)
	}
}

// Validate checks the status invariants.
func (s RequestStatus) Validate() error {
	if !s.Type.Valid() {
		return ErrValidation("invalid request status type %q", s.Type)
	}
	switch s.Type {
	case StatusAccepted:
		if s.ClosedBy == "" {
			return ErrValidation("accepted requests must record a closing user")
		}
		if s.ClosedReason != "" {
			return ErrValidation("closed reason is only allowed on denied requests")
		}
	case StatusDenied:
		if s.ClosedBy == "" {
			return ErrValidation("denied requests must record a closing user")
		}
	default:
		if s.ClosedBy != "" || s.ClosedReason != "" {
			return ErrValidation("closing fields are only allowed on accepted and denied requests")
		}
	}
	return nil
}

// ResourceRef is a typed reference to an external resource, used as the
// target of resource requests and invitations.
type ResourceRef struct {
	Type       ResourceType
	Descriptor ResourceDescriptor
}

// GroupRequest is a proposal to change group membership or resource
// association. It is created open and transitions exactly once to a terminal
// status; resubmission after closure creates a new request id.
type GroupRequest struct {
	ID         string
	GroupID    string
	Requester  string
	Type       RequestType
	Resource   *ResourceRef
	Status     RequestStatus
	CreatedAt  time.Time
	ModifiedAt time.Time
	ExpiresAt  time.Time
}

// Validate checks the request invariants, including the type/resource
// pairing rules and time ordering.
func (r *GroupRequest) Validate() error {
	if r.ID == "" {
		return ErrValidation("request id is required")
	}
	if r.GroupID == "" {
		return ErrValidation("request group id is required")
	}
	if r.Requester == "" {
		return ErrValidation("request requester is required")
	}
	if !r.Type.Valid() {
		return ErrValidation("invalid request type %q", r.Type)
	}
	switch r.Type {
	case RequestGroupMembership:
		if r.Resource != nil {
			return ErrValidation("membership requests must not carry a resource")
		}
	default:
		if r.Resource == nil {
			return ErrValidation("%s requests require a resource", r.Type)
		}
		if err := ValidateResourceType(r.Resource.Type); err != nil {
			return err
		}
		if r.Resource.Descriptor.ResourceID == "" {
			return ErrValidation("%s requests require a resource id", r.Type)
		}
		if r.Type == InviteToGroup && r.Resource.Type != UserResourceType {
			return ErrValidation("group invites must target a %s resource", UserResourceType)
		}
	}
	if err := r.Status.Validate(); err != nil {
		return err
	}
	if r.CreatedAt.IsZero() {
		return ErrValidation("request creation time is required")
	}
	if r.ModifiedAt.Before(r.CreatedAt) {
		return ErrValidation("request modification time is before the creation time")
	}
	if !r.ExpiresAt.After(r.CreatedAt) {
		return ErrValidation("request expiration time must be after the creation time")
	}
	return nil
}
