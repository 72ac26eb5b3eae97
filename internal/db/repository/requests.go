package repository

import (
	"context"
	"crypto/md5"
	"encoding/hex"
	"errors"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"grouphub/internal/domain"
)

// requestDoc is the persisted shape of a group request. The characteristic
// key is present only on open requests so the sparse unique index ignores
// closed ones.
type requestDoc struct {
	ID        string    `bson:"id"`
	GroupID   string    `bson:"gid"`
	Requester string    `bson:"requester"`
	Type      string    `bson:"type"`
	Status    string    `bson:"status"`
	ResType   string    `bson:"restype,omitempty"`
	ResAdmin  string    `bson:"resaid,omitempty"`
	ResID     string    `bson:"resrid,omitempty"`
	ClosedBy  string    `bson:"closedby,omitempty"`
	Reason    string    `bson:"reason,omitempty"`
	Created   time.Time `bson:"create"`
	Modified  time.Time `bson:"mod"`
	Expires   time.Time `bson:"expire"`
	CharKey   string    `bson:"charstr,omitempty"`
}

func requestToDoc(r *domain.GroupRequest) requestDoc {
	doc := requestDoc{
		ID:        r.ID,
		GroupID:   r.GroupID,
		Requester: r.Requester,
		Type:      string(r.Type),
		Status:    string(r.Status.Type),
		ClosedBy:  r.Status.ClosedBy,
		Reason:    r.Status.ClosedReason,
		Created:   r.CreatedAt.UTC(),
		Modified:  r.ModifiedAt.UTC(),
		Expires:   r.ExpiresAt.UTC(),
	}
	if r.Resource != nil {
		doc.ResType = string(r.Resource.Type)
		doc.ResAdmin = r.Resource.Descriptor.AdministrativeID
		doc.ResID = r.Resource.Descriptor.ResourceID
	}
	return doc
}

func docToRequest(doc requestDoc) (*domain.GroupRequest, error) {
	status, err := domain.StatusFrom(
		domain.RequestStatusType(doc.Status), doc.ClosedBy, doc.Reason)
	if err != nil {
		return nil, domain.ErrUnavailable(err, "unexpected value in database")
	}
	r := &domain.GroupRequest{
		ID:         doc.ID,
		GroupID:    doc.GroupID,
		Requester:  doc.Requester,
		Type:       domain.RequestType(doc.Type),
		Status:     status,
		CreatedAt:  doc.Created,
		ModifiedAt: doc.Modified,
		ExpiresAt:  doc.Expires,
	}
	if doc.ResID != "" {
		r.Resource = &domain.ResourceRef{
			Type: domain.ResourceType(doc.ResType),
			Descriptor: domain.ResourceDescriptor{
				AdministrativeID: doc.ResAdmin,
				ResourceID:       doc.ResID,
			},
		}
	}
	return r, nil
}

// characteristicKey derives the open-request deduplication key: an MD5 hex
// digest over the fields that make two requests semantically identical.
// Returns the empty string for requests that are not open — only open
// requests occupy a dedup slot.
func characteristicKey(r *domain.GroupRequest) string {
	if r.Status.Type != domain.StatusOpen {
		return ""
	}
	var rtype, rid string
	if r.Resource != nil {
		rtype = string(r.Resource.Type)
		rid = r.Resource.Descriptor.ResourceID
	}
	sum := md5.Sum([]byte(r.GroupID + r.Requester + string(r.Type) + rtype + rid))
	return hex.EncodeToString(sum[:])
}

// StoreRequest inserts a new request, attaching the characteristic key when
// the request is open.
func (s *Storage) StoreRequest(ctx context.Context, r *domain.GroupRequest) error {
	if r == nil {
		return domain.ErrValidation("request is required")
	}
	if err := r.Validate(); err != nil {
		return err
	}
	doc := requestToDoc(r)
	doc.CharKey = characteristicKey(r)

	_, err := s.requests.InsertOne(ctx, doc)
	if err == nil {
		return nil
	}
	switch {
	case isDuplicateOn(err, fieldRequestCharKey):
		// a tiny race window exists between the collision and this lookup,
		// but the key stays valid until the other request closes
		id, lerr := s.requestIDForCharKey(ctx, doc.CharKey)
		if lerr != nil {
			return lerr
		}
		return &domain.DuplicateRequestError{RequestID: id}
	case isDuplicateOn(err, fieldRequestID):
		return domain.ErrInvariant("request ID %s already exists in the database; "+
			"the caller is responsible for maintaining unique IDs", r.ID)
	default:
		return wrapMongoError(err)
	}
}

// requestIDForCharKey resolves a characteristic key to the open request
// holding it. Only called when the key is known to be in the database.
func (s *Storage) requestIDForCharKey(ctx context.Context, key string) (string, error) {
	var doc requestDoc
	err := s.requests.FindOne(ctx, bson.D{{Key: fieldRequestCharKey, Value: key}}).Decode(&doc)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return "", domain.ErrUnavailable(nil,
				"couldn't find request with characteristic key %s", key)
		}
		return "", wrapMongoError(err)
	}
	return doc.ID, nil
}

// GetRequest fetches a request by id.
func (s *Storage) GetRequest(ctx context.Context, requestID string) (*domain.GroupRequest, error) {
	var doc requestDoc
	err := s.requests.FindOne(ctx, bson.D{{Key: fieldRequestID, Value: requestID}}).Decode(&doc)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, domain.ErrNotFound("no such request %s", requestID)
		}
		return nil, wrapMongoError(err)
	}
	return docToRequest(doc)
}

// GetRequestsByRequester returns requests created by a user.
func (s *Storage) GetRequestsByRequester(
	ctx context.Context,
	requester string,
	p domain.GetRequestsParams,
) ([]*domain.GroupRequest, error) {
	if requester == "" {
		return nil, domain.ErrValidation("requester is required")
	}
	return s.findRequests(ctx, bson.D{{Key: fieldRequestRequester, Value: requester}}, p)
}

// GetRequestsByTarget returns requests that target a user directly (user
// resources) or that invite resources the user administrates.
func (s *Storage) GetRequestsByTarget(
	ctx context.Context,
	user string,
	admined domain.ResourceAdminSet,
	p domain.GetRequestsParams,
) ([]*domain.GroupRequest, error) {
	if user == "" {
		return nil, domain.ErrValidation("user is required")
	}
	or := bson.A{
		bson.D{
			{Key: fieldRequestResType, Value: string(domain.UserResourceType)},
			{Key: fieldRequestResID, Value: user},
		},
	}
	for rtype, adminIDs := range admined {
		if len(adminIDs) == 0 {
			continue
		}
		or = append(or, bson.D{
			{Key: fieldRequestType, Value: string(domain.InviteResource)},
			{Key: fieldRequestResType, Value: string(rtype)},
			{Key: fieldRequestResAdmin, Value: bson.D{{Key: "$in", Value: adminIDs}}},
		})
	}
	return s.findRequests(ctx, bson.D{{Key: "$or", Value: or}}, p)
}

// GetRequestsByGroup returns incoming requests for a group: membership and
// resource-addition requests, not invitations sent by the group.
func (s *Storage) GetRequestsByGroup(
	ctx context.Context,
	groupID string,
	p domain.GetRequestsParams,
) ([]*domain.GroupRequest, error) {
	if groupID == "" {
		return nil, domain.ErrValidation("group id is required")
	}
	filter := bson.D{
		{Key: fieldRequestGroupID, Value: groupID},
		{Key: fieldRequestType, Value: bson.D{{Key: "$in", Value: bson.A{
			string(domain.RequestGroupMembership),
			string(domain.RequestAddResource),
		}}}},
	}
	return s.findRequests(ctx, filter, p)
}

func (s *Storage) findRequests(
	ctx context.Context,
	filter bson.D,
	p domain.GetRequestsParams,
) ([]*domain.GroupRequest, error) {
	if !p.IncludeClosed {
		filter = append(filter, bson.E{
			Key: fieldRequestStatus, Value: string(domain.StatusOpen),
		})
	}
	sort := -1
	inequality := "$lt"
	if p.SortAscending {
		sort = 1
		inequality = "$gt"
	}
	if p.ExcludeUpTo != nil {
		filter = append(filter, bson.E{
			Key:   fieldRequestModified,
			Value: bson.D{{Key: inequality, Value: p.ExcludeUpTo.UTC()}},
		})
	}
	opts := options.Find().
		SetSort(bson.D{{Key: fieldRequestModified, Value: sort}}).
		SetLimit(domain.MaxRequestsPerQuery)

	cur, err := s.requests.Find(ctx, filter, opts)
	if err != nil {
		return nil, wrapMongoError(err)
	}
	defer cur.Close(ctx)

	requests := []*domain.GroupRequest{}
	for cur.Next(ctx) {
		var doc requestDoc
		if err := cur.Decode(&doc); err != nil {
			return nil, domain.ErrUnavailable(err, "unexpected value in database")
		}
		r, err := docToRequest(doc)
		if err != nil {
			return nil, err
		}
		requests = append(requests, r)
	}
	if err := cur.Err(); err != nil {
		return nil, wrapMongoError(err)
	}
	return requests, nil
}

// CloseRequest transitions an open request to a terminal status. The open
// guard is part of the update predicate, so racing closers resolve to
// exactly one winner; the loser sees NotFound.
func (s *Storage) CloseRequest(
	ctx context.Context,
	requestID string,
	status domain.RequestStatus,
	mod time.Time,
) error {
	if requestID == "" {
		return domain.ErrValidation("request id is required")
	}
	filter := bson.D{{Key: fieldRequestID, Value: requestID}}
	matched, err := s.closeRequests(ctx, filter, status, mod)
	if err != nil {
		return err
	}
	if matched != 1 {
		return domain.ErrNotFound("no open request with ID %s", requestID)
	}
	return nil
}

// ExpireRequests closes all open requests whose expiration time has passed.
func (s *Storage) ExpireRequests(ctx context.Context, expireTime time.Time) (int64, error) {
	filter := bson.D{{
		Key:   fieldRequestExpires,
		Value: bson.D{{Key: "$lte", Value: expireTime.UTC()}},
	}}
	return s.closeRequests(ctx, filter, domain.Expired(), expireTime)
}

// closeRequests runs the shared closing update: the filter is narrowed to
// open requests, the new status and modification time are set, and the
// characteristic key is cleared to release the dedup slot.
func (s *Storage) closeRequests(
	ctx context.Context,
	filter bson.D,
	status domain.RequestStatus,
	mod time.Time,
) (int64, error) {
	if status.Type == domain.StatusOpen {
		return 0, domain.ErrValidation("new status cannot be %s", domain.StatusOpen)
	}
	if err := status.Validate(); err != nil {
		return 0, err
	}
	filter = append(filter, bson.E{
		Key: fieldRequestStatus, Value: string(domain.StatusOpen),
	})
	set := bson.D{
		{Key: fieldRequestStatus, Value: string(status.Type)},
		{Key: fieldRequestModified, Value: mod.UTC()},
	}
	if status.ClosedBy != "" {
		set = append(set, bson.E{Key: fieldRequestClosedBy, Value: status.ClosedBy})
	}
	if status.ClosedReason != "" {
		set = append(set, bson.E{Key: fieldRequestReason, Value: status.ClosedReason})
	}
	update := bson.D{
		{Key: "$set", Value: set},
		{Key: "$unset", Value: bson.D{{Key: fieldRequestCharKey, Value: ""}}},
	}

	res, err := s.requests.UpdateMany(ctx, filter, update)
	if err != nil {
		return 0, wrapMongoError(err)
	}
	return res.MatchedCount, nil
}
