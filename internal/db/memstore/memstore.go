// Package memstore provides an in-memory implementation of the domain
// storage port. It backs tests and local development; the mutex plays the
// role of the database's per-document atomicity, so the conditional-update
// semantics match the MongoDB implementation exactly.
package memstore

import (
	"context"
	"fmt"
	"slices"
	"sort"
	"strings"
	"sync"
	"time"

	"grouphub/internal/domain"
)

// Store is a mutex-guarded in-memory domain.GroupsStorage.
type Store struct {
	mu       sync.Mutex
	groups   map[string]*domain.Group
	requests map[string]*domain.GroupRequest
	charKeys map[string]string // characteristic key -> open request id
}

var _ domain.GroupsStorage = (*Store)(nil)

// New returns an empty store.
func New() *Store {
	return &Store{
		groups:   map[string]*domain.Group{},
		requests: map[string]*domain.GroupRequest{},
		charKeys: map[string]string{},
	}
}

// characteristicKey is the open-request dedup key: a composite of the
// fields that make two requests semantically identical.
func characteristicKey(r *domain.GroupRequest) string {
	var rtype, rid string
	if r.Resource != nil {
		rtype = string(r.Resource.Type)
		rid = r.Resource.Descriptor.ResourceID
	}
	return strings.Join([]string{r.GroupID, r.Requester, string(r.Type), rtype, rid}, "\x00")
}

func copyGroup(g *domain.Group) *domain.Group {
	c := *g
	c.Admins = append([]string{}, g.Admins...)
	c.Members = append([]string{}, g.Members...)
	c.Resources = make(map[domain.ResourceType][]domain.ResourceDescriptor, len(g.Resources))
	for rtype, descs := range g.Resources {
		c.Resources[rtype] = append([]domain.ResourceDescriptor{}, descs...)
	}
	c.CustomFields = make(map[string]string, len(g.CustomFields))
	for field, value := range g.CustomFields {
		c.CustomFields[field] = value
	}
	return &c
}

func copyRequest(r *domain.GroupRequest) *domain.GroupRequest {
	c := *r
	if r.Resource != nil {
		ref := *r.Resource
		c.Resource = &ref
	}
	return &c
}

// CreateGroup inserts a new group.
func (s *Store) CreateGroup(_ context.Context, g *domain.Group) error {
	if g == nil {
		return domain.ErrValidation("group is required")
	}
	if err := g.Validate(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.groups[g.ID]; ok {
		return domain.ErrAlreadyExists("group %s already exists", g.ID)
	}
	s.groups[g.ID] = copyGroup(g)
	return nil
}

// GetGroup fetches a group by id.
func (s *Store) GetGroup(_ context.Context, groupID string) (*domain.Group, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	g, ok := s.groups[groupID]
	if !ok {
		return nil, domain.ErrNotFound("no such group %s", groupID)
	}
	return copyGroup(g), nil
}

// GroupExists reports whether a group with the given id exists.
func (s *Store) GroupExists(_ context.Context, groupID string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.groups[groupID]
	return ok, nil
}

// GetGroups returns all groups sorted by group id.
func (s *Store) GetGroups(_ context.Context) ([]*domain.Group, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	groups := make([]*domain.Group, 0, len(s.groups))
	for _, g := range s.groups {
		groups = append(groups, copyGroup(g))
	}
	sort.Slice(groups, func(i, j int) bool { return groups[i].ID < groups[j].ID })
	return groups, nil
}

// AddMember adds a member to a group.
func (s *Store) AddMember(_ context.Context, groupID, user string, mod time.Time) error {
	return s.addUser(groupID, user, mod, false)
}

// AddAdmin promotes a user to admin, removing them from members if present.
func (s *Store) AddAdmin(_ context.Context, groupID, user string, mod time.Time) error {
	return s.addUser(groupID, user, mod, true)
}

func (s *Store) addUser(groupID, user string, mod time.Time, asAdmin bool) error {
	if user == "" {
		return domain.ErrValidation("user is required")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	g, ok := s.groups[groupID]
	if !ok {
		return domain.ErrNotFound("no such group %s", groupID)
	}
	switch {
	case g.Owner == user:
		return domain.ErrInvariant("user %s is the owner of group %s", user, groupID)
	case slices.Contains(g.Admins, user):
		if asAdmin {
			return domain.ErrInvariant(
				"user %s is already an administrator of group %s", user, groupID)
		}
		return domain.ErrInvariant("user %s is an administrator of group %s", user, groupID)
	case !asAdmin && slices.Contains(g.Members, user):
		return domain.ErrInvariant("user %s is already a member of group %s", user, groupID)
	}
	if asAdmin {
		g.Admins = append(g.Admins, user)
		if i := slices.Index(g.Members, user); i >= 0 {
			g.Members = slices.Delete(g.Members, i, i+1)
		}
	} else {
		g.Members = append(g.Members, user)
	}
	g.ModifiedAt = mod
	return nil
}

// RemoveMember removes a member from a group.
func (s *Store) RemoveMember(_ context.Context, groupID, user string, mod time.Time) error {
	return s.demoteUser(groupID, user, mod, false)
}

// DemoteAdmin demotes an admin back to a plain member.
func (s *Store) DemoteAdmin(_ context.Context, groupID, user string, mod time.Time) error {
	return s.demoteUser(groupID, user, mod, true)
}

func (s *Store) demoteUser(groupID, user string, mod time.Time, asAdmin bool) error {
	if user == "" {
		return domain.ErrValidation("user is required")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	g, ok := s.groups[groupID]
	if !ok {
		return domain.ErrNotFound("no such group %s", groupID)
	}
	field := &g.Members
	role := "member"
	if asAdmin {
		field = &g.Admins
		role = "administrator"
	}
	i := slices.Index(*field, user)
	if i < 0 {
		return domain.ErrNotFound("no %s %s in group %s", role, user, groupID)
	}
	*field = slices.Delete(*field, i, i+1)
	if asAdmin {
		g.Members = append(g.Members, user)
	}
	g.ModifiedAt = mod
	return nil
}

// AddResource associates a resource with a group, deduplicated by
// ResourceID regardless of AdministrativeID.
func (s *Store) AddResource(
	_ context.Context,
	groupID string,
	rtype domain.ResourceType,
	desc domain.ResourceDescriptor,
	mod time.Time,
) error {
	if err := domain.ValidateResourceType(rtype); err != nil {
		return err
	}
	if desc.ResourceID == "" {
		return domain.ErrValidation("resource id is required")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	g, ok := s.groups[groupID]
	if !ok {
		return domain.ErrNotFound("no such group %s", groupID)
	}
	for _, d := range g.Resources[rtype] {
		if d.ResourceID == desc.ResourceID {
			return domain.ErrAlreadyExists("group %s already contains %s resource %s",
				groupID, rtype, desc.ResourceID)
		}
	}
	if g.Resources == nil {
		g.Resources = map[domain.ResourceType][]domain.ResourceDescriptor{}
	}
	g.Resources[rtype] = append(g.Resources[rtype], desc)
	g.ModifiedAt = mod
	return nil
}

// RemoveResource removes a resource association by ResourceID.
func (s *Store) RemoveResource(
	_ context.Context,
	groupID string,
	rtype domain.ResourceType,
	resourceID string,
	mod time.Time,
) error {
	if err := domain.ValidateResourceType(rtype); err != nil {
		return err
	}
	if resourceID == "" {
		return domain.ErrValidation("resource id is required")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	g, ok := s.groups[groupID]
	if !ok {
		return domain.ErrNotFound("no such group %s", groupID)
	}
	descs := g.Resources[rtype]
	for i, d := range descs {
		if d.ResourceID == resourceID {
			g.Resources[rtype] = slices.Delete(descs, i, i+1)
			g.ModifiedAt = mod
			return nil
		}
	}
	return domain.ErrNotFound("group %s does not contain %s resource %s",
		groupID, rtype, resourceID)
}

// UpdateGroup applies a tri-state diff. The modification time is bumped
// only when at least one field actually changes.
func (s *Store) UpdateGroup(_ context.Context, p *domain.GroupUpdateParams, mod time.Time) error {
	if p == nil {
		return domain.ErrValidation("update parameters are required")
	}
	if err := p.Validate(); err != nil {
		return err
	}
	if !p.HasUpdate() {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	g, ok := s.groups[p.GroupID]
	if !ok {
		return domain.ErrNotFound("no such group %s", p.GroupID)
	}
	changed := false
	if p.Name.Action == domain.FieldSet && g.Name != p.Name.Value {
		g.Name = p.Name.Value
		changed = true
	}
	switch p.Description.Action {
	case domain.FieldSet:
		if g.Description != p.Description.Value {
			g.Description = p.Description.Value
			changed = true
		}
	case domain.FieldRemove:
		if g.Description != "" {
			g.Description = ""
			changed = true
		}
	}
	for field, item := range p.CustomFields {
		current, exists := g.CustomFields[field]
		switch item.Action {
		case domain.FieldSet:
			if !exists || current != item.Value {
				if g.CustomFields == nil {
					g.CustomFields = map[string]string{}
				}
				g.CustomFields[field] = item.Value
				changed = true
			}
		case domain.FieldRemove:
			if exists {
				delete(g.CustomFields, field)
				changed = true
			}
		}
	}
	if changed {
		g.ModifiedAt = mod
	}
	return nil
}

// StoreRequest inserts a new request, claiming its characteristic key if
// the request is open.
func (s *Store) StoreRequest(_ context.Context, r *domain.GroupRequest) error {
	if r == nil {
		return domain.ErrValidation("request is required")
	}
	if err := r.Validate(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.requests[r.ID]; ok {
		return domain.ErrInvariant("request ID %s already exists in the database; "+
			"the caller is responsible for maintaining unique IDs", r.ID)
	}
	if r.Status.Type == domain.StatusOpen {
		key := characteristicKey(r)
		if existing, ok := s.charKeys[key]; ok {
			return &domain.DuplicateRequestError{RequestID: existing}
		}
		s.charKeys[key] = r.ID
	}
	s.requests[r.ID] = copyRequest(r)
	return nil
}

// GetRequest fetches a request by id.
func (s *Store) GetRequest(_ context.Context, requestID string) (*domain.GroupRequest, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.requests[requestID]
	if !ok {
		return nil, domain.ErrNotFound("no such request %s", requestID)
	}
	return copyRequest(r), nil
}

// GetRequestsByRequester returns requests created by a user.
func (s *Store) GetRequestsByRequester(
	_ context.Context,
	requester string,
	p domain.GetRequestsParams,
) ([]*domain.GroupRequest, error) {
	if requester == "" {
		return nil, domain.ErrValidation("requester is required")
	}
	return s.findRequests(p, func(r *domain.GroupRequest) bool {
		return r.Requester == requester
	}), nil
}

// GetRequestsByTarget returns requests targeting a user or the resources
// the user administrates.
func (s *Store) GetRequestsByTarget(
	_ context.Context,
	user string,
	admined domain.ResourceAdminSet,
	p domain.GetRequestsParams,
) ([]*domain.GroupRequest, error) {
	if user == "" {
		return nil, domain.ErrValidation("user is required")
	}
	return s.findRequests(p, func(r *domain.GroupRequest) bool {
		if r.Resource == nil {
			return false
		}
		if r.Resource.Type == domain.UserResourceType &&
			r.Resource.Descriptor.ResourceID == user {
			return true
		}
		return r.Type == domain.InviteResource &&
			slices.Contains(admined[r.Resource.Type], r.Resource.Descriptor.AdministrativeID)
	}), nil
}

// GetRequestsByGroup returns incoming membership and resource-addition
// requests for a group.
func (s *Store) GetRequestsByGroup(
	_ context.Context,
	groupID string,
	p domain.GetRequestsParams,
) ([]*domain.GroupRequest, error) {
	if groupID == "" {
		return nil, domain.ErrValidation("group id is required")
	}
	return s.findRequests(p, func(r *domain.GroupRequest) bool {
		return r.GroupID == groupID &&
			(r.Type == domain.RequestGroupMembership || r.Type == domain.RequestAddResource)
	}), nil
}

func (s *Store) findRequests(
	p domain.GetRequestsParams,
	match func(*domain.GroupRequest) bool,
) []*domain.GroupRequest {
	s.mu.Lock()
	defer s.mu.Unlock()
	requests := []*domain.GroupRequest{}
	for _, r := range s.requests {
		if !match(r) {
			continue
		}
		if !p.IncludeClosed && r.Status.Type != domain.StatusOpen {
			continue
		}
		if p.ExcludeUpTo != nil {
			if p.SortAscending && !r.ModifiedAt.After(*p.ExcludeUpTo) {
				continue
			}
			if !p.SortAscending && !r.ModifiedAt.Before(*p.ExcludeUpTo) {
				continue
			}
		}
		requests = append(requests, copyRequest(r))
	}
	sort.Slice(requests, func(i, j int) bool {
		if p.SortAscending {
			return requests[i].ModifiedAt.Before(requests[j].ModifiedAt)
		}
		return requests[i].ModifiedAt.After(requests[j].ModifiedAt)
	})
	if len(requests) > domain.MaxRequestsPerQuery {
		requests = requests[:domain.MaxRequestsPerQuery]
	}
	return requests
}

// CloseRequest transitions an open request to a terminal status and
// releases its characteristic key.
func (s *Store) CloseRequest(
	_ context.Context,
	requestID string,
	status domain.RequestStatus,
	mod time.Time,
) error {
	if requestID == "" {
		return domain.ErrValidation("request id is required")
	}
	if status.Type == domain.StatusOpen {
		return domain.ErrValidation("new status cannot be %s", domain.StatusOpen)
	}
	if err := status.Validate(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.requests[requestID]
	if !ok || r.Status.Type != domain.StatusOpen {
		return domain.ErrNotFound("no open request with ID %s", requestID)
	}
	delete(s.charKeys, characteristicKey(r))
	r.Status = status
	r.ModifiedAt = mod
	return nil
}

// ExpireRequests closes all open requests whose expiration time has passed.
func (s *Store) ExpireRequests(_ context.Context, expireTime time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var expired int64
	for _, r := range s.requests {
		if r.Status.Type != domain.StatusOpen || r.ExpiresAt.After(expireTime) {
			continue
		}
		delete(s.charKeys, characteristicKey(r))
		r.Status = domain.Expired()
		r.ModifiedAt = expireTime
		expired++
	}
	return expired, nil
}

// ugly but handy when debugging test failures
func (s *Store) String() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return fmt.Sprintf("memstore{groups: %d, requests: %d, open keys: %d}",
		len(s.groups), len(s.requests), len(s.charKeys))
}
