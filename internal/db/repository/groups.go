package repository

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"grouphub/internal/domain"
)

// resource subdocument fields
const (
	fieldResAdminID = "aid"
	fieldResID      = "rid"
)

type resourceDoc struct {
	AdministrativeID string `bson:"aid"`
	ResourceID       string `bson:"rid"`
}

// groupDoc is the persisted shape of a group. Kept separate from the domain
// type so the domain stays decoupled from the storage schema.
type groupDoc struct {
	ID          string                   `bson:"id"`
	Name        string                   `bson:"name"`
	Description string                   `bson:"desc,omitempty"`
	Owner       string                   `bson:"own"`
	Admins      []string                 `bson:"admin"`
	Members     []string                 `bson:"memb"`
	Resources   map[string][]resourceDoc `bson:"resources"`
	Custom      map[string]string        `bson:"custom"`
	Created     time.Time                `bson:"create"`
	Modified    time.Time                `bson:"mod"`
}

func groupToDoc(g *domain.Group) groupDoc {
	doc := groupDoc{
		ID:          g.ID,
		Name:        g.Name,
		Description: g.Description,
		Owner:       g.Owner,
		Admins:      append([]string{}, g.Admins...),
		Members:     append([]string{}, g.Members...),
		Resources:   make(map[string][]resourceDoc, len(g.Resources)),
		Custom:      make(map[string]string, len(g.CustomFields)),
		Created:     g.CreatedAt.UTC(),
		Modified:    g.ModifiedAt.UTC(),
	}
	for rtype, descs := range g.Resources {
		rdocs := make([]resourceDoc, 0, len(descs))
		for _, d := range descs {
			rdocs = append(rdocs, resourceDoc{
				AdministrativeID: d.AdministrativeID,
				ResourceID:       d.ResourceID,
			})
		}
		doc.Resources[string(rtype)] = rdocs
	}
	for field, value := range g.CustomFields {
		doc.Custom[field] = value
	}
	return doc
}

func docToGroup(doc groupDoc) *domain.Group {
	g := &domain.Group{
		ID:           doc.ID,
		Name:         doc.Name,
		Description:  doc.Description,
		Owner:        doc.Owner,
		Admins:       doc.Admins,
		Members:      doc.Members,
		Resources:    make(map[domain.ResourceType][]domain.ResourceDescriptor, len(doc.Resources)),
		CustomFields: doc.Custom,
		CreatedAt:    doc.Created,
		ModifiedAt:   doc.Modified,
	}
	if g.Admins == nil {
		g.Admins = []string{}
	}
	if g.Members == nil {
		g.Members = []string{}
	}
	if g.CustomFields == nil {
		g.CustomFields = map[string]string{}
	}
	for rtype, rdocs := range doc.Resources {
		descs := make([]domain.ResourceDescriptor, 0, len(rdocs))
		for _, d := range rdocs {
			descs = append(descs, domain.ResourceDescriptor{
				AdministrativeID: d.AdministrativeID,
				ResourceID:       d.ResourceID,
			})
		}
		g.Resources[domain.ResourceType(rtype)] = descs
	}
	return g
}

// CreateGroup inserts a new group document.
func (s *Storage) CreateGroup(ctx context.Context, g *domain.Group) error {
	if g == nil {
		return domain.ErrValidation("group is required")
	}
	if err := g.Validate(); err != nil {
		return err
	}
	if _, err := s.groups.InsertOne(ctx, groupToDoc(g)); err != nil {
		if mongo.IsDuplicateKeyError(err) {
			return domain.ErrAlreadyExists("group %s already exists", g.ID)
		}
		return wrapMongoError(err)
	}
	return nil
}

// GetGroup fetches a group by id.
func (s *Storage) GetGroup(ctx context.Context, groupID string) (*domain.Group, error) {
	var doc groupDoc
	err := s.groups.FindOne(ctx, bson.D{{Key: fieldGroupID, Value: groupID}}).Decode(&doc)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, domain.ErrNotFound("no such group %s", groupID)
		}
		return nil, wrapMongoError(err)
	}
	return docToGroup(doc), nil
}

// GroupExists reports whether a group with the given id exists.
func (s *Storage) GroupExists(ctx context.Context, groupID string) (bool, error) {
	count, err := s.groups.CountDocuments(ctx, bson.D{{Key: fieldGroupID, Value: groupID}})
	if err != nil {
		return false, wrapMongoError(err)
	}
	return count == 1, nil
}

// GetGroups returns all groups sorted by group id.
func (s *Storage) GetGroups(ctx context.Context) ([]*domain.Group, error) {
	opts := options.Find().SetSort(bson.D{{Key: fieldGroupID, Value: 1}})
	cur, err := s.groups.Find(ctx, bson.D{}, opts)
	if err != nil {
		return nil, wrapMongoError(err)
	}
	defer cur.Close(ctx)

	groups := []*domain.Group{}
	for cur.Next(ctx) {
		var doc groupDoc
		if err := cur.Decode(&doc); err != nil {
			return nil, domain.ErrUnavailable(err, "unexpected value in database")
		}
		groups = append(groups, docToGroup(doc))
	}
	if err := cur.Err(); err != nil {
		return nil, wrapMongoError(err)
	}
	return groups, nil
}

// AddMember adds a member to a group.
func (s *Storage) AddMember(ctx context.Context, groupID, user string, mod time.Time) error {
	return s.addUser(ctx, groupID, user, mod, false)
}

// AddAdmin promotes a user to admin, atomically removing them from the
// member list if present.
func (s *Storage) AddAdmin(ctx context.Context, groupID, user string, mod time.Time) error {
	return s.addUser(ctx, groupID, user, mod, true)
}

func (s *Storage) addUser(
	ctx context.Context,
	groupID, user string,
	mod time.Time,
	asAdmin bool,
) error {
	if user == "" {
		return domain.ErrValidation("user is required")
	}
	notUser := bson.D{{Key: "$ne", Value: user}}
	filter := bson.D{
		{Key: fieldGroupID, Value: groupID},
		{Key: fieldGroupOwner, Value: notUser},
		{Key: fieldGroupAdmins, Value: notUser},
	}
	if !asAdmin {
		filter = append(filter, bson.E{Key: fieldGroupMembers, Value: notUser})
	}

	target := fieldGroupMembers
	if asAdmin {
		target = fieldGroupAdmins
	}
	update := bson.D{
		{Key: "$addToSet", Value: bson.D{{Key: target, Value: user}}},
		{Key: "$set", Value: bson.D{{Key: fieldGroupModified, Value: mod.UTC()}}},
	}
	if asAdmin {
		update = append(update, bson.E{
			Key: "$pull", Value: bson.D{{Key: fieldGroupMembers, Value: user}},
		})
	}

	res, err := s.groups.UpdateOne(ctx, filter, update)
	if err != nil {
		return wrapMongoError(err)
	}
	if res.MatchedCount != 1 {
		return s.classifyAddUserMiss(ctx, groupID, user, asAdmin)
	}
	// a match implies a modification, no further check needed
	return nil
}

// classifyAddUserMiss re-fetches the group to disambiguate a zero-match
// conditional update on a user add.
func (s *Storage) classifyAddUserMiss(
	ctx context.Context,
	groupID, user string,
	asAdmin bool,
) error {
	g, err := s.GetGroup(ctx, groupID) // not found surfaces here
	if err != nil {
		return err
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
	default:
		// membership changed between the update and the re-fetch; the
		// caller can simply retry
		return fmt.Errorf("no group matched add query for group %s and user %s",
			groupID, user)
	}
}

// RemoveMember removes a member from a group.
func (s *Storage) RemoveMember(ctx context.Context, groupID, user string, mod time.Time) error {
	return s.demoteUser(ctx, groupID, user, mod, false)
}

// DemoteAdmin demotes an admin, atomically re-adding them as a member.
func (s *Storage) DemoteAdmin(ctx context.Context, groupID, user string, mod time.Time) error {
	return s.demoteUser(ctx, groupID, user, mod, true)
}

func (s *Storage) demoteUser(
	ctx context.Context,
	groupID, user string,
	mod time.Time,
	asAdmin bool,
) error {
	if user == "" {
		return domain.ErrValidation("user is required")
	}
	field := fieldGroupMembers
	if asAdmin {
		field = fieldGroupAdmins
	}
	filter := bson.D{
		{Key: fieldGroupID, Value: groupID},
		{Key: field, Value: user},
	}
	update := bson.D{
		{Key: "$pull", Value: bson.D{{Key: field, Value: user}}},
		{Key: "$set", Value: bson.D{{Key: fieldGroupModified, Value: mod.UTC()}}},
	}
	if asAdmin {
		update = append(update, bson.E{
			Key: "$addToSet", Value: bson.D{{Key: fieldGroupMembers, Value: user}},
		})
	}

	res, err := s.groups.UpdateOne(ctx, filter, update)
	if err != nil {
		return wrapMongoError(err)
	}
	if res.MatchedCount != 1 {
		if _, err := s.GetGroup(ctx, groupID); err != nil {
			return err
		}
		role := "member"
		if asAdmin {
			role = "administrator"
		}
		return domain.ErrNotFound("no %s %s in group %s", role, user, groupID)
	}
	return nil
}

// AddResource associates a resource with a group. Deduplication is by
// ResourceID regardless of AdministrativeID.
func (s *Storage) AddResource(
	ctx context.Context,
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
	path := fieldGroupResources + "." + string(rtype)
	filter := bson.D{
		{Key: fieldGroupID, Value: groupID},
		{Key: path + "." + fieldResID, Value: bson.D{{Key: "$ne", Value: desc.ResourceID}}},
	}
	update := bson.D{
		{Key: "$push", Value: bson.D{{Key: path, Value: resourceDoc{
			AdministrativeID: desc.AdministrativeID,
			ResourceID:       desc.ResourceID,
		}}}},
		{Key: "$set", Value: bson.D{{Key: fieldGroupModified, Value: mod.UTC()}}},
	}

	res, err := s.groups.UpdateOne(ctx, filter, update)
	if err != nil {
		return wrapMongoError(err)
	}
	if res.MatchedCount != 1 {
		if _, err := s.GetGroup(ctx, groupID); err != nil {
			return err
		}
		return domain.ErrAlreadyExists("group %s already contains %s resource %s",
			groupID, rtype, desc.ResourceID)
	}
	return nil
}

// RemoveResource removes a resource association by ResourceID.
func (s *Storage) RemoveResource(
	ctx context.Context,
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
	path := fieldGroupResources + "." + string(rtype)
	filter := bson.D{
		{Key: fieldGroupID, Value: groupID},
		{Key: path + "." + fieldResID, Value: resourceID},
	}
	update := bson.D{
		{Key: "$pull", Value: bson.D{{Key: path, Value: bson.D{
			{Key: fieldResID, Value: resourceID},
		}}}},
		{Key: "$set", Value: bson.D{{Key: fieldGroupModified, Value: mod.UTC()}}},
	}

	res, err := s.groups.UpdateOne(ctx, filter, update)
	if err != nil {
		return wrapMongoError(err)
	}
	if res.MatchedCount != 1 {
		if _, err := s.GetGroup(ctx, groupID); err != nil {
			return err
		}
		return domain.ErrNotFound("group %s does not contain %s resource %s",
			groupID, rtype, resourceID)
	}
	return nil
}

// UpdateGroup applies a tri-state diff to a group. The filter requires at
// least one targeted field to differ from its desired value, so an update
// that changes nothing writes nothing and the modification time stands.
func (s *Storage) UpdateGroup(
	ctx context.Context,
	p *domain.GroupUpdateParams,
	mod time.Time,
) error {
	if p == nil {
		return domain.ErrValidation("update parameters are required")
	}
	if err := p.Validate(); err != nil {
		return err
	}
	if !p.HasUpdate() {
		return nil
	}

	or := bson.A{}
	set := bson.D{{Key: fieldGroupModified, Value: mod.UTC()}}
	unset := bson.D{}

	appendItem := func(field string, item domain.OptionalString) {
		switch item.Action {
		case domain.FieldSet:
			or = append(or, bson.D{{Key: field, Value: bson.D{{Key: "$ne", Value: item.Value}}}})
			set = append(set, bson.E{Key: field, Value: item.Value})
		case domain.FieldRemove:
			or = append(or, bson.D{{Key: field, Value: bson.D{{Key: "$ne", Value: nil}}}})
			unset = append(unset, bson.E{Key: field, Value: ""})
		}
	}

	appendItem(fieldGroupName, p.Name)
	appendItem(fieldGroupDesc, p.Description)
	for field, item := range p.CustomFields {
		appendItem(fieldGroupCustom+"."+field, item)
	}

	filter := bson.D{
		{Key: fieldGroupID, Value: p.GroupID},
		{Key: "$or", Value: or},
	}
	update := bson.D{{Key: "$set", Value: set}}
	if len(unset) > 0 {
		update = append(update, bson.E{Key: "$unset", Value: unset})
	}

	res, err := s.groups.UpdateOne(ctx, filter, update)
	if err != nil {
		return wrapMongoError(err)
	}
	if res.MatchedCount != 1 {
		// either the group is missing or the update changed nothing
		if _, err := s.GetGroup(ctx, p.GroupID); err != nil {
			return err
		}
	}
	return nil
}
