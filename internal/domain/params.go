package domain

import "time"

// MaxRequestsPerQuery caps the number of requests returned by any request
// list operation.
const MaxRequestsPerQuery = 100

// GetRequestsParams controls filtering and ordering for request list
// operations. Closed requests are excluded unless IncludeClosed is set.
// ExcludeUpTo is a cursor on the modification time: results strictly after
// it for ascending sorts, strictly before it for descending sorts.
type GetRequestsParams struct {
	IncludeClosed bool
	SortAscending bool
	ExcludeUpTo   *time.Time
}

// ResourceAdminSet is the set of resources a user administrates, as
// administrative ids per resource type. Used to widen target queries to
// resource invitations the user can act on.
type ResourceAdminSet map[ResourceType][]string
