package domain

import (
	"context"
	"time"
)

// GroupsStorage is the persistence port for groups and group requests.
// Implemented by repository.Storage (MongoDB) and memstore.Store.
//
// Every mutation is a single atomic conditional update against the backing
// database; no implementation may use client-side read-then-write for
// writes. Returned values are copies — callers never hold live handles into
// store state.
type GroupsStorage interface {
	// CreateGroup inserts a new group. Returns AlreadyExistsError if a
	// group with the same id exists.
	CreateGroup(ctx context.Context, g *Group) error
	// GetGroup returns the group with the given id, or NotFoundError.
	GetGroup(ctx context.Context, groupID string) (*Group, error)
	// GroupExists reports whether a group with the given id exists.
	GroupExists(ctx context.Context, groupID string) (bool, error)
	// GetGroups returns all groups, sorted by group id.
	GetGroups(ctx context.Context) ([]*Group, error)

	// AddMember adds a member to a group. Returns InvariantViolationError
	// if the user is already the owner, an admin, or a member.
	AddMember(ctx context.Context, groupID, user string, mod time.Time) error
	// RemoveMember removes a member from a group. Returns NotFoundError if
	// the user is not a member (owner and admins do not count).
	RemoveMember(ctx context.Context, groupID, user string, mod time.Time) error
	// AddAdmin promotes a user to group admin, removing them from the
	// member list if present. Returns InvariantViolationError if the user
	// is the owner or already an admin.
	AddAdmin(ctx context.Context, groupID, user string, mod time.Time) error
	// DemoteAdmin demotes an admin back to a plain member. Returns
	// NotFoundError if the user is not an admin.
	DemoteAdmin(ctx context.Context, groupID, user string, mod time.Time) error

	// AddResource associates a resource with a group. Deduplication is by
	// ResourceID regardless of AdministrativeID; returns AlreadyExistsError
	// if the resource is already associated.
	AddResource(ctx context.Context, groupID string, rtype ResourceType,
		desc ResourceDescriptor, mod time.Time) error
	// RemoveResource removes a resource association by ResourceID. Returns
	// NotFoundError if the group lacks the resource.
	RemoveResource(ctx context.Context, groupID string, rtype ResourceType,
		resourceID string, mod time.Time) error

	// UpdateGroup applies a tri-state diff to a group. Fields already at
	// their target value cause no write and no modification time bump.
	UpdateGroup(ctx context.Context, p *GroupUpdateParams, mod time.Time) error

	// StoreRequest inserts a new request. Open requests are deduplicated
	// by characteristic key: a collision returns DuplicateRequestError
	// carrying the existing open request's id. An id collision returns
	// InvariantViolationError — ids must be caller-generated unique values.
	StoreRequest(ctx context.Context, r *GroupRequest) error
	// GetRequest returns the request with the given id, or NotFoundError.
	GetRequest(ctx context.Context, requestID string) (*GroupRequest, error)
	// GetRequestsByRequester returns requests created by a user, sorted by
	// modification time.
	GetRequestsByRequester(ctx context.Context, requester string,
		p GetRequestsParams) ([]*GroupRequest, error)
	// GetRequestsByTarget returns requests that target a user directly or
	// target resources the user administrates, sorted by modification time.
	GetRequestsByTarget(ctx context.Context, user string, admined ResourceAdminSet,
		p GetRequestsParams) ([]*GroupRequest, error)
	// GetRequestsByGroup returns incoming requests for a group (membership
	// and resource-addition requests), sorted by modification time.
	GetRequestsByGroup(ctx context.Context, groupID string,
		p GetRequestsParams) ([]*GroupRequest, error)

	// CloseRequest atomically transitions an open request to a terminal
	// status and releases its characteristic key. Returns NotFoundError if
	// no open request has the given id — deliberately ambiguous between
	// "no such request" and "already closed".
	CloseRequest(ctx context.Context, requestID string, status RequestStatus,
		mod time.Time) error
	// ExpireRequests transitions all open requests whose expiration time is
	// at or before the given time to expired, using that time as the
	// modification time. Returns the number of requests expired.
	ExpireRequests(ctx context.Context, expireTime time.Time) (int64, error)
}

// Notifier is the notification sink invoked by the application layer after
// a request transition has been durably committed. Delivery failure never
// rolls back the transition.
type Notifier interface {
	// Notify announces a new request to the given targets.
	Notify(ctx context.Context, targets []string, g *Group, r *GroupRequest) error
	// Cancel announces that a request was canceled.
	Cancel(ctx context.Context, requestID string) error
	// Accept announces that a request was accepted.
	Accept(ctx context.Context, targets []string, r *GroupRequest) error
	// Deny announces that a request was denied.
	Deny(ctx context.Context, targets []string, r *GroupRequest) error
	// AddResource announces that a resource was added to a group.
	AddResource(ctx context.Context, targets []string, groupID string,
		rtype ResourceType, resourceID string) error
}

// ResourceAccess is the permission oracle for external resources, queried
// by the application layer to authorize request actions. Implemented by
// the workspace/catalog service adapters, not by this module.
type ResourceAccess interface {
	IsAdministrator(ctx context.Context, rtype ResourceType, resourceID, user string) (bool, error)
	GetAdministrators(ctx context.Context, rtype ResourceType, resourceID string) ([]string, error)
	IsPublic(ctx context.Context, rtype ResourceType, resourceID string) (bool, error)
}
