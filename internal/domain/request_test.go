package domain

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func validRequest() *GroupRequest {
	created := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	return &GroupRequest{
		ID:         NewID(),
		GroupID:    "my-group",
		Requester:  "alice",
		Type:       RequestGroupMembership,
		Status:     Open(),
		CreatedAt:  created,
		ModifiedAt: created,
		ExpiresAt:  created.Add(14 * 24 * time.Hour),
	}
}

func TestStatusConstructors(t *testing.T) {
	assert.Equal(t, RequestStatus{Type: StatusOpen}, Open())
	assert.Equal(t, RequestStatus{Type: StatusCanceled}, Canceled())
	assert.Equal(t, RequestStatus{Type: StatusExpired}, Expired())
	assert.Equal(t, RequestStatus{Type: StatusAccepted, ClosedBy: "bob"}, Accepted("bob"))
	assert.Equal(t,
		RequestStatus{Type: StatusDenied, ClosedBy: "bob", ClosedReason: "no"},
		Denied("bob", "  no  "))
	// blank reasons are dropped
	assert.Equal(t, RequestStatus{Type: StatusDenied, ClosedBy: "bob"}, Denied("bob", "   "))
}

func TestStatusFrom(t *testing.T) {
	s, err := StatusFrom(StatusAccepted, "bob", "")
	require.NoError(t, err)
	assert.Equal(t, Accepted("bob"), s)

	s, err = StatusFrom(StatusDenied, "bob", "nope")
	require.NoError(t, err)
	assert.Equal(t, Denied("bob", "nope"), s)

	// closing fields are dropped for statuses they don't apply to
	s, err = StatusFrom(StatusCanceled, "bob", "nope")
	require.NoError(t, err)
	assert.Equal(t, Canceled(), s)

	_, err = StatusFrom(StatusAccepted, "", "")
	assert.EqualError(t, err, "accepted requests must record a closing user")
	_, err = StatusFrom(StatusDenied, "", "")
	assert.EqualError(t, err, "denied requests must record a closing user")
	_, err = StatusFrom("bogus", "", "")
	assert.EqualError(t, err, `invalid request status type "bogus"`)
}

func TestStatusValidate(t *testing.T) {
	require.NoError(t, Open().Validate())
	require.NoError(t, Accepted("bob").Validate())
	require.NoError(t, Denied("bob", "nope").Validate())

	err := RequestStatus{Type: StatusAccepted}.Validate()
	assert.EqualError(t, err, "accepted requests must record a closing user")
	err = RequestStatus{Type: StatusAccepted, ClosedBy: "bob", ClosedReason: "x"}.Validate()
	assert.EqualError(t, err, "closed reason is only allowed on denied requests")
	err = RequestStatus{Type: StatusOpen, ClosedBy: "bob"}.Validate()
	assert.EqualError(t, err, "closing fields are only allowed on accepted and denied requests")
	err = RequestStatus{Type: "bogus"}.Validate()
	assert.EqualError(t, err, `invalid request status type "bogus"`)
}

func TestStatusTypeClosed(t *testing.T) {
	assert.False(t, StatusOpen.Closed())
	assert.True(t, StatusCanceled.Closed())
	assert.True(t, StatusExpired.Closed())
	assert.True(t, StatusAccepted.Closed())
	assert.True(t, StatusDenied.Closed())
	assert.False(t, RequestStatusType("bogus").Closed())
}

func TestRequestValidate(t *testing.T) {
	require.NoError(t, validRequest().Validate())

	invite := validRequest()
	invite.Type = InviteToGroup
	invite.Resource = &ResourceRef{
		Type:       UserResourceType,
		Descriptor: ResourceDescriptor{AdministrativeID: "bob", ResourceID: "bob"},
	}
	require.NoError(t, invite.Validate())

	addRes := validRequest()
	addRes.Type = RequestAddResource
	addRes.Resource = &ResourceRef{
		Type:       "workspace",
		Descriptor: ResourceDescriptor{AdministrativeID: "42", ResourceID: "42"},
	}
	require.NoError(t, addRes.Validate())
}

func TestRequestValidateErrors(t *testing.T) {
	created := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	tests := []struct {
		name    string
		mutate  func(r *GroupRequest)
		wantErr string
	}{
		{
			name:    "missing id",
			mutate:  func(r *GroupRequest) { r.ID = "" },
			wantErr: "request id is required",
		},
		{
			name:    "missing group id",
			mutate:  func(r *GroupRequest) { r.GroupID = "" },
			wantErr: "request group id is required",
		},
		{
			name:    "missing requester",
			mutate:  func(r *GroupRequest) { r.Requester = "" },
			wantErr: "request requester is required",
		},
		{
			name:    "invalid type",
			mutate:  func(r *GroupRequest) { r.Type = "bogus" },
			wantErr: `invalid request type "bogus"`,
		},
		{
			name: "membership request with resource",
			mutate: func(r *GroupRequest) {
				r.Resource = &ResourceRef{
					Type: "workspace", Descriptor: ResourceDescriptor{ResourceID: "42"},
				}
			},
			wantErr: "membership requests must not carry a resource",
		},
		{
			name:    "invite without resource",
			mutate:  func(r *GroupRequest) { r.Type = InviteToGroup },
			wantErr: "invite-to-group requests require a resource",
		},
		{
			name: "invite targeting non-user resource",
			mutate: func(r *GroupRequest) {
				r.Type = InviteToGroup
				r.Resource = &ResourceRef{
					Type: "workspace", Descriptor: ResourceDescriptor{ResourceID: "42"},
				}
			},
			wantErr: "group invites must target a user resource",
		},
		{
			name: "resource without id",
			mutate: func(r *GroupRequest) {
				r.Type = RequestAddResource
				r.Resource = &ResourceRef{Type: "workspace"}
			},
			wantErr: "request-add-resource requests require a resource id",
		},
		{
			name:    "zero creation time",
			mutate:  func(r *GroupRequest) { r.CreatedAt = time.Time{} },
			wantErr: "request creation time is required",
		},
		{
			name:    "modified before created",
			mutate:  func(r *GroupRequest) { r.ModifiedAt = created.Add(-time.Second) },
			wantErr: "request modification time is before the creation time",
		},
		{
			name:    "expires at creation",
			mutate:  func(r *GroupRequest) { r.ExpiresAt = created },
			wantErr: "request expiration time must be after the creation time",
		},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			r := validRequest()
			tc.mutate(r)
			err := r.Validate()
			require.Error(t, err)
			assert.EqualError(t, err, tc.wantErr)
		})
	}
}

func TestNewID(t *testing.T) {
	a, b := NewID(), NewID()
	assert.Len(t, a, 36)
	assert.NotEqual(t, a, b)
}
