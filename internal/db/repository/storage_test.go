package repository

// Integration tests against a real MongoDB instance. Set
// GROUPHUB_TEST_MONGO_URI to run them; they skip otherwise. Each test gets
// its own throwaway database. Timestamps use whole milliseconds because
// that is the BSON datetime precision.

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.mongodb.org/mongo-driver/bson"

	"grouphub/internal/domain"
	"grouphub/internal/testutil"
)

var baseTime = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func newTestStorage(t *testing.T) *Storage {
	t.Helper()
	database := testutil.OpenMongo(t)
	s, err := NewStorage(context.Background(), database)
	require.NoError(t, err)
	return s
}

func testGroup(id string) *domain.Group {
	return &domain.Group{
		ID:         id,
		Name:       "Group " + id,
		Owner:      "alice",
		Admins:     []string{"bob"},
		Members:    []string{"carol"},
		CreatedAt:  baseTime,
		ModifiedAt: baseTime,
	}
}

func testRequest(id, groupID, requester string) *domain.GroupRequest {
	return &domain.GroupRequest{
		ID:         id,
		GroupID:    groupID,
		Requester:  requester,
		Type:       domain.RequestGroupMembership,
		Status:     domain.Open(),
		CreatedAt:  baseTime,
		ModifiedAt: baseTime,
		ExpiresAt:  baseTime.Add(14 * 24 * time.Hour),
	}
}

func TestStartupIsIdempotent(t *testing.T) {
	database := testutil.OpenMongo(t)
	ctx := context.Background()

	_, err := NewStorage(ctx, database)
	require.NoError(t, err)
	// a second startup against the same database verifies the existing
	// config document instead of failing on the insert
	_, err = NewStorage(ctx, database)
	require.NoError(t, err)
}

func TestStartupRejectsBadSchema(t *testing.T) {
	database := testutil.OpenMongo(t)
	ctx := context.Background()

	_, err := NewStorage(ctx, database)
	require.NoError(t, err)

	t.Run("version mismatch", func(t *testing.T) {
		_, err := database.Collection(colConfig).UpdateOne(ctx,
			bson.D{{Key: fieldSchemaKey, Value: fieldSchemaKey}},
			bson.D{{Key: "$set", Value: bson.D{{Key: fieldSchemaVersion, Value: 99}}}})
		require.NoError(t, err)

		_, err = NewStorage(ctx, database)
		require.Error(t, err)
		assert.IsType(t, &domain.InvariantViolationError{}, err)
		assert.Contains(t, err.Error(), "incompatible database schema")
	})

	t.Run("mid-update flag", func(t *testing.T) {
		_, err := database.Collection(colConfig).UpdateOne(ctx,
			bson.D{{Key: fieldSchemaKey, Value: fieldSchemaKey}},
			bson.D{{Key: "$set", Value: bson.D{
				{Key: fieldSchemaVersion, Value: schemaVersion},
				{Key: fieldSchemaInUpdate, Value: true},
			}}})
		require.NoError(t, err)

		_, err = NewStorage(ctx, database)
		require.Error(t, err)
		assert.IsType(t, &domain.InvariantViolationError{}, err)
		assert.Contains(t, err.Error(), "middle of an update")
	})
}

func TestGroupRoundTrip(t *testing.T) {
	s := newTestStorage(t)
	ctx := context.Background()

	g := testGroup("g1")
	g.Description = "a group"
	g.Resources = map[domain.ResourceType][]domain.ResourceDescriptor{
		"workspace": {{AdministrativeID: "42", ResourceID: "42"}},
	}
	g.CustomFields = map[string]string{"homepage": "https://example.com"}
	require.NoError(t, s.CreateGroup(ctx, g))

	got, err := s.GetGroup(ctx, "g1")
	require.NoError(t, err)
	assert.Equal(t, g, got)

	err = s.CreateGroup(ctx, testGroup("g1"))
	assert.IsType(t, &domain.AlreadyExistsError{}, err)

	_, err = s.GetGroup(ctx, "nope")
	assert.IsType(t, &domain.NotFoundError{}, err)

	exists, err := s.GroupExists(ctx, "g1")
	require.NoError(t, err)
	assert.True(t, exists)
	exists, err = s.GroupExists(ctx, "nope")
	require.NoError(t, err)
	assert.False(t, exists)
}

func TestGetGroupsSorted(t *testing.T) {
	s := newTestStorage(t)
	ctx := context.Background()
	for _, id := range []string{"gamma", "alpha", "beta"} {
		require.NoError(t, s.CreateGroup(ctx, testGroup(id)))
	}
	groups, err := s.GetGroups(ctx)
	require.NoError(t, err)
	require.Len(t, groups, 3)
	assert.Equal(t, "alpha", groups[0].ID)
	assert.Equal(t, "beta", groups[1].ID)
	assert.Equal(t, "gamma", groups[2].ID)
}

func TestMembershipMutations(t *testing.T) {
	s := newTestStorage(t)
	ctx := context.Background()
	require.NoError(t, s.CreateGroup(ctx, testGroup("g1")))
	mod := baseTime.Add(time.Hour)

	require.NoError(t, s.AddMember(ctx, "g1", "dave", mod))
	g, err := s.GetGroup(ctx, "g1")
	require.NoError(t, err)
	assert.Contains(t, g.Members, "dave")
	assert.Equal(t, mod, g.ModifiedAt)

	err = s.AddMember(ctx, "g1", "alice", mod)
	assert.IsType(t, &domain.InvariantViolationError{}, err)
	assert.EqualError(t, err, "user alice is the owner of group g1")
	err = s.AddMember(ctx, "g1", "bob", mod)
	assert.EqualError(t, err, "user bob is an administrator of group g1")
	err = s.AddMember(ctx, "g1", "dave", mod)
	assert.EqualError(t, err, "user dave is already a member of group g1")
	err = s.AddMember(ctx, "nope", "dave", mod)
	assert.IsType(t, &domain.NotFoundError{}, err)

	// promotion moves dave from members to admins in one update
	require.NoError(t, s.AddAdmin(ctx, "g1", "dave", mod))
	g, err = s.GetGroup(ctx, "g1")
	require.NoError(t, err)
	assert.NotContains(t, g.Members, "dave")
	assert.Contains(t, g.Admins, "dave")

	err = s.AddAdmin(ctx, "g1", "dave", mod)
	assert.EqualError(t, err, "user dave is already an administrator of group g1")

	// demotion moves dave back to members
	require.NoError(t, s.DemoteAdmin(ctx, "g1", "dave", mod))
	g, err = s.GetGroup(ctx, "g1")
	require.NoError(t, err)
	assert.Contains(t, g.Members, "dave")
	assert.NotContains(t, g.Admins, "dave")

	err = s.DemoteAdmin(ctx, "g1", "dave", mod)
	assert.IsType(t, &domain.NotFoundError{}, err)
	assert.EqualError(t, err, "no administrator dave in group g1")

	require.NoError(t, s.RemoveMember(ctx, "g1", "dave", mod))
	err = s.RemoveMember(ctx, "g1", "dave", mod)
	assert.EqualError(t, err, "no member dave in group g1")
}

func TestResourceMutations(t *testing.T) {
	s := newTestStorage(t)
	ctx := context.Background()
	require.NoError(t, s.CreateGroup(ctx, testGroup("g1")))
	mod := baseTime.Add(time.Hour)
	desc := domain.ResourceDescriptor{AdministrativeID: "mod1", ResourceID: "mod1.meth"}

	require.NoError(t, s.AddResource(ctx, "g1", "catalogmethod", desc, mod))
	g, err := s.GetGroup(ctx, "g1")
	require.NoError(t, err)
	assert.Equal(t, []domain.ResourceDescriptor{desc}, g.Resources["catalogmethod"])

	// dedup is on ResourceID regardless of AdministrativeID
	err = s.AddResource(ctx, "g1", "catalogmethod",
		domain.ResourceDescriptor{AdministrativeID: "other", ResourceID: "mod1.meth"}, mod)
	assert.IsType(t, &domain.AlreadyExistsError{}, err)

	err = s.AddResource(ctx, "nope", "catalogmethod", desc, mod)
	assert.IsType(t, &domain.NotFoundError{}, err)

	require.NoError(t, s.RemoveResource(ctx, "g1", "catalogmethod", "mod1.meth", mod))
	err = s.RemoveResource(ctx, "g1", "catalogmethod", "mod1.meth", mod)
	assert.IsType(t, &domain.NotFoundError{}, err)
}

func TestUpdateGroup(t *testing.T) {
	s := newTestStorage(t)
	ctx := context.Background()
	g := testGroup("g1")
	g.Description = "old description"
	require.NoError(t, s.CreateGroup(ctx, g))
	mod := baseTime.Add(time.Hour)

	err := s.UpdateGroup(ctx, &domain.GroupUpdateParams{
		GroupID:      "g1",
		Name:         domain.SetField("New Name"),
		Description:  domain.RemoveField(),
		CustomFields: map[string]domain.OptionalString{"homepage": domain.SetField("https://x")},
	}, mod)
	require.NoError(t, err)

	got, err := s.GetGroup(ctx, "g1")
	require.NoError(t, err)
	assert.Equal(t, "New Name", got.Name)
	assert.Empty(t, got.Description)
	assert.Equal(t, "https://x", got.CustomFields["homepage"])
	assert.Equal(t, mod, got.ModifiedAt)

	// identical update matches nothing and leaves the modification time alone
	later := mod.Add(time.Hour)
	err = s.UpdateGroup(ctx, &domain.GroupUpdateParams{
		GroupID:      "g1",
		Name:         domain.SetField("New Name"),
		Description:  domain.RemoveField(),
		CustomFields: map[string]domain.OptionalString{"homepage": domain.SetField("https://x")},
	}, later)
	require.NoError(t, err)
	got, err = s.GetGroup(ctx, "g1")
	require.NoError(t, err)
	assert.Equal(t, mod, got.ModifiedAt)

	err = s.UpdateGroup(ctx, &domain.GroupUpdateParams{
		GroupID: "nope", Name: domain.SetField("x"),
	}, later)
	assert.IsType(t, &domain.NotFoundError{}, err)
}

func TestRequestRoundTrip(t *testing.T) {
	s := newTestStorage(t)
	ctx := context.Background()

	r := testRequest("r1", "g1", "alice")
	require.NoError(t, s.StoreRequest(ctx, r))

	got, err := s.GetRequest(ctx, "r1")
	require.NoError(t, err)
	assert.Equal(t, r, got)

	invite := testRequest("r2", "g1", "bob")
	invite.Type = domain.InviteToGroup
	invite.Resource = &domain.ResourceRef{
		Type:       domain.UserResourceType,
		Descriptor: domain.ResourceDescriptor{AdministrativeID: "carol", ResourceID: "carol"},
	}
	require.NoError(t, s.StoreRequest(ctx, invite))
	got, err = s.GetRequest(ctx, "r2")
	require.NoError(t, err)
	assert.Equal(t, invite, got)

	_, err = s.GetRequest(ctx, "nope")
	assert.IsType(t, &domain.NotFoundError{}, err)
}

func TestRequestDeduplication(t *testing.T) {
	s := newTestStorage(t)
	ctx := context.Background()

	require.NoError(t, s.StoreRequest(ctx, testRequest("r1", "g1", "alice")))

	err := s.StoreRequest(ctx, testRequest("r2", "g1", "alice"))
	require.Error(t, err)
	var dupErr *domain.DuplicateRequestError
	require.ErrorAs(t, err, &dupErr)
	assert.Equal(t, "r1", dupErr.RequestID)

	// distinct slots for other requesters and groups
	require.NoError(t, s.StoreRequest(ctx, testRequest("r3", "g1", "bob")))
	require.NoError(t, s.StoreRequest(ctx, testRequest("r4", "g2", "alice")))

	// closing frees the slot
	require.NoError(t, s.CloseRequest(ctx, "r1", domain.Canceled(), baseTime.Add(time.Hour)))
	require.NoError(t, s.StoreRequest(ctx, testRequest("r5", "g1", "alice")))

	// id reuse is a caller bug, distinct from a dedup collision
	err = s.StoreRequest(ctx, testRequest("r5", "g9", "zed"))
	assert.IsType(t, &domain.InvariantViolationError{}, err)
}

func TestCloseRequest(t *testing.T) {
	s := newTestStorage(t)
	ctx := context.Background()
	require.NoError(t, s.StoreRequest(ctx, testRequest("r1", "g1", "alice")))
	mod := baseTime.Add(time.Hour)

	require.NoError(t, s.CloseRequest(ctx, "r1", domain.Denied("bob", "not yet"), mod))
	got, err := s.GetRequest(ctx, "r1")
	require.NoError(t, err)
	assert.Equal(t, domain.Denied("bob", "not yet"), got.Status)
	assert.Equal(t, mod, got.ModifiedAt)

	// the second closer loses
	err = s.CloseRequest(ctx, "r1", domain.Canceled(), mod)
	assert.IsType(t, &domain.NotFoundError{}, err)
	assert.EqualError(t, err, "no open request with ID r1")

	err = s.CloseRequest(ctx, "nope", domain.Canceled(), mod)
	assert.IsType(t, &domain.NotFoundError{}, err)

	err = s.CloseRequest(ctx, "r1", domain.Open(), mod)
	assert.IsType(t, &domain.ValidationError{}, err)
}

func TestExpireRequests(t *testing.T) {
	s := newTestStorage(t)
	ctx := context.Background()

	overdue := testRequest("r1", "g1", "alice")
	overdue.ExpiresAt = baseTime.Add(time.Hour)
	require.NoError(t, s.StoreRequest(ctx, overdue))

	fresh := testRequest("r2", "g1", "bob")
	fresh.ExpiresAt = baseTime.Add(48 * time.Hour)
	require.NoError(t, s.StoreRequest(ctx, fresh))

	sweep := baseTime.Add(2 * time.Hour)
	expired, err := s.ExpireRequests(ctx, sweep)
	require.NoError(t, err)
	assert.Equal(t, int64(1), expired)

	got, err := s.GetRequest(ctx, "r1")
	require.NoError(t, err)
	assert.Equal(t, domain.Expired(), got.Status)
	assert.Equal(t, sweep, got.ModifiedAt)

	got, err = s.GetRequest(ctx, "r2")
	require.NoError(t, err)
	assert.Equal(t, domain.Open(), got.Status)

	// the expired request's dedup slot is freed
	require.NoError(t, s.StoreRequest(ctx, testRequest("r6", "g1", "alice")))
}

func TestRequestQueries(t *testing.T) {
	s := newTestStorage(t)
	ctx := context.Background()

	membership := testRequest("r1", "g1", "alice")
	require.NoError(t, s.StoreRequest(ctx, membership))

	addRes := testRequest("r2", "g1", "bob")
	addRes.Type = domain.RequestAddResource
	addRes.Resource = &domain.ResourceRef{
		Type:       "workspace",
		Descriptor: domain.ResourceDescriptor{AdministrativeID: "42", ResourceID: "42"},
	}
	addRes.ModifiedAt = baseTime.Add(time.Hour)
	require.NoError(t, s.StoreRequest(ctx, addRes))

	invite := testRequest("r3", "g1", "carol")
	invite.Type = domain.InviteToGroup
	invite.Resource = &domain.ResourceRef{
		Type:       domain.UserResourceType,
		Descriptor: domain.ResourceDescriptor{AdministrativeID: "dave", ResourceID: "dave"},
	}
	invite.ModifiedAt = baseTime.Add(2 * time.Hour)
	require.NoError(t, s.StoreRequest(ctx, invite))

	resInvite := testRequest("r4", "g1", "carol")
	resInvite.Type = domain.InviteResource
	resInvite.Resource = &domain.ResourceRef{
		Type:       "catalogmethod",
		Descriptor: domain.ResourceDescriptor{AdministrativeID: "mod1", ResourceID: "mod1.meth"},
	}
	resInvite.ModifiedAt = baseTime.Add(3 * time.Hour)
	require.NoError(t, s.StoreRequest(ctx, resInvite))

	t.Run("by requester", func(t *testing.T) {
		got, err := s.GetRequestsByRequester(ctx, "carol", domain.GetRequestsParams{})
		require.NoError(t, err)
		require.Len(t, got, 2)
		assert.Equal(t, "r4", got[0].ID)
		assert.Equal(t, "r3", got[1].ID)
	})

	t.Run("by target", func(t *testing.T) {
		// dave is invited directly and administrates mod1
		got, err := s.GetRequestsByTarget(ctx, "dave", domain.ResourceAdminSet{
			"catalogmethod": {"mod1"},
		}, domain.GetRequestsParams{})
		require.NoError(t, err)
		require.Len(t, got, 2)
		assert.Equal(t, "r4", got[0].ID)
		assert.Equal(t, "r3", got[1].ID)

		got, err = s.GetRequestsByTarget(ctx, "dave", nil, domain.GetRequestsParams{})
		require.NoError(t, err)
		require.Len(t, got, 1)
		assert.Equal(t, "r3", got[0].ID)
	})

	t.Run("by group", func(t *testing.T) {
		// incoming only: membership and resource-addition requests
		got, err := s.GetRequestsByGroup(ctx, "g1", domain.GetRequestsParams{})
		require.NoError(t, err)
		require.Len(t, got, 2)
		assert.Equal(t, "r2", got[0].ID)
		assert.Equal(t, "r1", got[1].ID)
	})

	t.Run("closed and cursor", func(t *testing.T) {
		require.NoError(t, s.CloseRequest(ctx, "r1", domain.Canceled(), baseTime.Add(10*time.Hour)))

		got, err := s.GetRequestsByGroup(ctx, "g1", domain.GetRequestsParams{})
		require.NoError(t, err)
		require.Len(t, got, 1)
		assert.Equal(t, "r2", got[0].ID)

		got, err = s.GetRequestsByGroup(ctx, "g1", domain.GetRequestsParams{
			IncludeClosed: true, SortAscending: true,
		})
		require.NoError(t, err)
		require.Len(t, got, 2)
		assert.Equal(t, "r2", got[0].ID)
		assert.Equal(t, "r1", got[1].ID)

		cursor := baseTime.Add(time.Hour)
		got, err = s.GetRequestsByGroup(ctx, "g1", domain.GetRequestsParams{
			IncludeClosed: true, SortAscending: true, ExcludeUpTo: &cursor,
		})
		require.NoError(t, err)
		require.Len(t, got, 1)
		assert.Equal(t, "r1", got[0].ID)
	})
}
