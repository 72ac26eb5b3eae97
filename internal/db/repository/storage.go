// Package repository implements the domain storage port using MongoDB.
//
// Every mutation is expressed as a single conditional update (predicate and
// mutation in one round trip); concurrency control is delegated entirely to
// MongoDB's per-document atomicity and unique indexes. No client-side locks
// or read-then-write cycles are used.
package repository

import (
	"context"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"grouphub/internal/domain"
)

const schemaVersion = 1

// collection names
const (
	colConfig   = "config"
	colGroups   = "groups"
	colRequests = "requests"
)

// group document fields
const (
	fieldGroupID        = "id"
	fieldGroupName      = "name"
	fieldGroupDesc      = "desc"
	fieldGroupOwner     = "own"
	fieldGroupAdmins    = "admin"
	fieldGroupMembers   = "memb"
	fieldGroupResources = "resources"
	fieldGroupCustom    = "custom"
	fieldGroupCreated   = "create"
	fieldGroupModified  = "mod"
)

// request document fields
const (
	fieldRequestID        = "id"
	fieldRequestGroupID   = "gid"
	fieldRequestRequester = "requester"
	fieldRequestType      = "type"
	fieldRequestStatus    = "status"
	fieldRequestResType   = "restype"
	fieldRequestResAdmin  = "resaid"
	fieldRequestResID     = "resrid"
	fieldRequestClosedBy  = "closedby"
	fieldRequestReason    = "reason"
	fieldRequestCreated   = "create"
	fieldRequestModified  = "mod"
	fieldRequestExpires   = "expire"
	fieldRequestCharKey   = "charstr"
)

// config document fields
const (
	fieldSchemaKey      = "schema"
	fieldSchemaVersion  = "schemaver"
	fieldSchemaInUpdate = "inupdate"
)

// Storage is a MongoDB-backed implementation of domain.GroupsStorage.
type Storage struct {
	groups   *mongo.Collection
	requests *mongo.Collection
	config   *mongo.Collection
}

var _ domain.GroupsStorage = (*Storage)(nil)

// NewStorage builds the storage facade over the given database, creating
// the indexes and verifying the schema configuration document. Integrity
// failures (schema version mismatch, mid-upgrade flag, multiple config
// documents) abort initialization.
func NewStorage(ctx context.Context, database *mongo.Database) (*Storage, error) {
	s := &Storage{
		groups:   database.Collection(colGroups),
		requests: database.Collection(colRequests),
		config:   database.Collection(colConfig),
	}
	// indexes MUST exist before the config check relies on them
	if err := s.ensureIndexes(ctx); err != nil {
		return nil, err
	}
	if err := s.checkConfig(ctx); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *Storage) ensureIndexes(ctx context.Context) error {
	unique := options.Index().SetUnique(true)
	uniqueSparse := options.Index().SetUnique(true).SetSparse(true)

	groupIndexes := []mongo.IndexModel{
		{Keys: bson.D{{Key: fieldGroupID, Value: 1}}, Options: unique},
		{Keys: bson.D{{Key: fieldGroupOwner, Value: 1}}},
	}
	requestIndexes := []mongo.IndexModel{
		{Keys: bson.D{{Key: fieldRequestID, Value: 1}}, Options: unique},
		// find by group & type, sort/filter by modification time
		{Keys: bson.D{
			{Key: fieldRequestGroupID, Value: 1},
			{Key: fieldRequestType, Value: 1},
			{Key: fieldRequestModified, Value: 1},
		}},
		{Keys: bson.D{
			{Key: fieldRequestGroupID, Value: 1},
			{Key: fieldRequestStatus, Value: 1},
			{Key: fieldRequestType, Value: 1},
			{Key: fieldRequestModified, Value: 1},
		}},
		// find by requester, sort/filter by modification time
		{Keys: bson.D{
			{Key: fieldRequestRequester, Value: 1},
			{Key: fieldRequestModified, Value: 1},
		}},
		{Keys: bson.D{
			{Key: fieldRequestRequester, Value: 1},
			{Key: fieldRequestStatus, Value: 1},
			{Key: fieldRequestModified, Value: 1},
		}},
		// find by administrated resources, sort/filter by modification time
		{Keys: bson.D{
			{Key: fieldRequestResAdmin, Value: 1},
			{Key: fieldRequestResType, Value: 1},
			{Key: fieldRequestType, Value: 1},
			{Key: fieldRequestModified, Value: 1},
		}},
		{Keys: bson.D{
			{Key: fieldRequestResAdmin, Value: 1},
			{Key: fieldRequestResType, Value: 1},
			{Key: fieldRequestStatus, Value: 1},
			{Key: fieldRequestType, Value: 1},
			{Key: fieldRequestModified, Value: 1},
		}},
		// find expired requests
		{Keys: bson.D{{Key: fieldRequestExpires, Value: 1}}},
		// reject duplicate open requests; sparse because the key is absent
		// on closed requests
		{Keys: bson.D{{Key: fieldRequestCharKey, Value: 1}}, Options: uniqueSparse},
	}
	configIndexes := []mongo.IndexModel{
		// ensure only one config document
		{Keys: bson.D{{Key: fieldSchemaKey, Value: 1}}, Options: unique},
	}

	for col, indexes := range map[*mongo.Collection][]mongo.IndexModel{
		s.groups:   groupIndexes,
		s.requests: requestIndexes,
		s.config:   configIndexes,
	} {
		if _, err := col.Indexes().CreateMany(ctx, indexes); err != nil {
			return domain.ErrUnavailable(err, "create indexes on %s", col.Name())
		}
	}
	return nil
}

// checkConfig inserts the singleton schema document on first startup, or
// verifies it on subsequent startups.
func (s *Storage) checkConfig(ctx context.Context) error {
	_, err := s.config.InsertOne(ctx, bson.D{
		{Key: fieldSchemaKey, Value: fieldSchemaKey},
		{Key: fieldSchemaInUpdate, Value: false},
		{Key: fieldSchemaVersion, Value: schemaVersion},
	})
	if err == nil {
		return nil // first startup
	}
	if !mongo.IsDuplicateKeyError(err) {
		return domain.ErrUnavailable(err, "store schema configuration")
	}
	count, err := s.config.CountDocuments(ctx, bson.D{})
	if err != nil {
		return domain.ErrUnavailable(err, "count schema configuration documents")
	}
	if count != 1 {
		return domain.ErrInvariant("multiple config documents found in the database; " +
			"this should not happen, something is very wrong")
	}
	var cfg struct {
		Version  int  `bson:"schemaver"`
		InUpdate bool `bson:"inupdate"`
	}
	err = s.config.FindOne(ctx, bson.D{{Key: fieldSchemaKey, Value: fieldSchemaKey}}).Decode(&cfg)
	if err != nil {
		return domain.ErrUnavailable(err, "fetch schema configuration")
	}
	if cfg.Version != schemaVersion {
		return domain.ErrInvariant(
			"incompatible database schema: server is v%d, database is v%d",
			schemaVersion, cfg.Version)
	}
	if cfg.InUpdate {
		return domain.ErrInvariant(
			"the database is in the middle of an update from v%d of the schema, aborting startup",
			cfg.Version)
	}
	return nil
}
