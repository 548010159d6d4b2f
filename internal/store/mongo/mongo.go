// Package mongo implements the store.Store interface on a MongoDB
// collection, matching the document layout of the memory_request_logs
// collection.
package mongo

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.mongodb.org/mongo-driver/mongo/readpref"

	"github.com/alfredjeanlab/memlog/internal/model"
	"github.com/alfredjeanlab/memlog/internal/store"
)

// CollectionName is the collection holding request log records.
const CollectionName = "memory_request_logs"

// BSON datetimes hold milliseconds, so timestamps are cut to that precision
// before they are written and the caller's record matches what reads return.
const timePrecision = time.Millisecond

// MongoStore implements store.Store backed by a MongoDB collection.
type MongoStore struct {
	client *mongo.Client
	coll   *mongo.Collection
	now    func() time.Time
}

var _ store.Store = (*MongoStore)(nil)

// New connects to the MongoDB deployment at uri, selects the named database,
// and ensures the collection indexes exist.
func New(ctx context.Context, uri, database string) (*MongoStore, error) {
	client, err := mongo.Connect(ctx, options.Client().ApplyURI(uri))
	if err != nil {
		return nil, fmt.Errorf("connect mongo: %w", err)
	}
	if err := client.Ping(ctx, readpref.Primary()); err != nil {
		_ = client.Disconnect(context.Background())
		return nil, fmt.Errorf("ping mongo: %w", err)
	}

	s := newWithCollection(client.Database(database).Collection(CollectionName))
	s.client = client
	if err := s.EnsureIndexes(ctx); err != nil {
		_ = client.Disconnect(context.Background())
		return nil, fmt.Errorf("ensure indexes: %w", err)
	}
	return s, nil
}

func newWithCollection(coll *mongo.Collection) *MongoStore {
	return &MongoStore{coll: coll, now: time.Now}
}

// EnsureIndexes creates the lookup and transition indexes. Creating an
// index that already exists is a no-op on the server.
func (s *MongoStore) EnsureIndexes(ctx context.Context) error {
	_, err := s.coll.Indexes().CreateMany(ctx, []mongo.IndexModel{
		{Keys: bson.D{{Key: "group_id", Value: 1}, {Key: "created_at", Value: 1}, {Key: "_id", Value: 1}}},
		{Keys: bson.D{{Key: "request_id", Value: 1}}},
		{Keys: bson.D{{Key: "user_id", Value: 1}}},
		{Keys: bson.D{{Key: "created_at", Value: -1}}},
		{Keys: bson.D{{Key: "event_id", Value: 1}}},
		{Keys: bson.D{{Key: "message_id", Value: 1}}},
		{Keys: bson.D{{Key: "group_id", Value: 1}, {Key: "message_create_time", Value: -1}}},
		{Keys: bson.D{{Key: "group_id", Value: 1}, {Key: "sync_status", Value: 1}}},
	})
	return store.Wrap("ensure indexes", err)
}

// Close disconnects the client when this store owns one.
func (s *MongoStore) Close() error {
	if s.client == nil {
		return nil
	}
	return s.client.Disconnect(context.Background())
}

func (s *MongoStore) Ping(ctx context.Context) error {
	return store.Wrap("ping", s.coll.Database().Client().Ping(ctx, readpref.Primary()))
}

func (s *MongoStore) InsertRecord(ctx context.Context, rec *model.Record) error {
	if err := store.PrepareInsert(rec, s.now()); err != nil {
		return err
	}
	rec.CreatedAt = rec.CreatedAt.Truncate(timePrecision)
	rec.UpdatedAt = rec.UpdatedAt.Truncate(timePrecision)
	_, err := s.coll.InsertOne(ctx, toDoc(rec))
	return store.Wrap("insert record", err)
}

func (s *MongoStore) GetByRequestID(ctx context.Context, requestID string) (*model.Record, error) {
	opts := options.FindOne().SetSort(bson.D{{Key: "created_at", Value: 1}, {Key: "_id", Value: 1}})
	var doc recordDoc
	err := s.coll.FindOne(ctx, bson.M{"request_id": requestID}, opts).Decode(&doc)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, store.ErrNotFound
	}
	if err != nil {
		return nil, store.Wrap("get by request id", err)
	}
	return doc.toRecord(), nil
}

// groupQuery translates filter into a find filter. After becomes a keyset
// condition on (created_at, _id), the sort order of every group read.
func groupQuery(filter model.RecordFilter) bson.M {
	q := bson.M{"group_id": filter.GroupID}
	if filter.Status != nil {
		q["sync_status"] = int(*filter.Status)
	}
	if filter.Start != nil || filter.End != nil {
		created := bson.M{}
		if filter.Start != nil {
			created["$gte"] = filter.Start.UTC()
		}
		if filter.End != nil {
			created["$lte"] = filter.End.UTC()
		}
		q["created_at"] = created
	}
	if filter.After != nil {
		at := filter.After.CreatedAt.UTC()
		q["$or"] = bson.A{
			bson.M{"created_at": bson.M{"$gt": at}},
			bson.M{"created_at": at, "_id": bson.M{"$gt": filter.After.ID}},
		}
	}
	return q
}

func (s *MongoStore) FindByGroup(ctx context.Context, filter model.RecordFilter) ([]*model.Record, error) {
	q := groupQuery(filter)
	opts := options.Find().
		SetSort(bson.D{{Key: "created_at", Value: 1}, {Key: "_id", Value: 1}}).
		SetLimit(int64(model.ClampLimit(filter.Limit)))
	recs, err := s.find(ctx, q, opts)
	return recs, store.Wrap("find by group", err)
}

func (s *MongoStore) FindByUser(ctx context.Context, userID string, limit int) ([]*model.Record, error) {
	opts := options.Find().
		SetSort(bson.D{{Key: "created_at", Value: -1}, {Key: "_id", Value: -1}}).
		SetLimit(int64(model.ClampLimit(limit)))
	recs, err := s.find(ctx, bson.M{"user_id": userID}, opts)
	return recs, store.Wrap("find by user", err)
}

func (s *MongoStore) find(ctx context.Context, q bson.M, opts *options.FindOptions) ([]*model.Record, error) {
	cur, err := s.coll.Find(ctx, q, opts)
	if err != nil {
		return nil, err
	}
	var docs []recordDoc
	if err := cur.All(ctx, &docs); err != nil {
		return nil, err
	}
	recs := make([]*model.Record, 0, len(docs))
	for i := range docs {
		recs = append(recs, docs[i].toRecord())
	}
	return recs, nil
}

func (s *MongoStore) DeleteByGroup(ctx context.Context, groupID string) (int64, error) {
	res, err := s.coll.DeleteMany(ctx, bson.M{"group_id": groupID})
	if err != nil {
		return 0, store.Wrap("delete by group", err)
	}
	return res.DeletedCount, nil
}

func (s *MongoStore) ConfirmGroup(ctx context.Context, groupID string) (int64, error) {
	return s.transition(ctx, "confirm group", bson.M{
		"group_id":    groupID,
		"sync_status": int(model.StatusLogged),
	}, model.StatusAccumulating)
}

func (s *MongoStore) ConfirmMessages(ctx context.Context, groupID string, messageIDs []string) (int64, error) {
	ids := store.CompactIDs(messageIDs)
	if len(ids) == 0 {
		return 0, nil
	}
	return s.transition(ctx, "confirm messages", bson.M{
		"group_id":    groupID,
		"message_id":  bson.M{"$in": ids},
		"sync_status": int(model.StatusLogged),
	}, model.StatusAccumulating)
}

func (s *MongoStore) CloseGroup(ctx context.Context, groupID string) (int64, error) {
	return s.transition(ctx, "close group", bson.M{
		"group_id":    groupID,
		"sync_status": bson.M{"$in": bson.A{int(model.StatusLogged), int(model.StatusAccumulating)}},
	}, model.StatusConsumed)
}

// transition moves every document matching filter to status next. The
// filter always carries the source status, so a document already moved by
// a concurrent caller no longer matches.
func (s *MongoStore) transition(ctx context.Context, op string, filter bson.M, next model.SyncStatus) (int64, error) {
	res, err := s.coll.UpdateMany(ctx, filter, bson.M{"$set": bson.M{
		"sync_status": int(next),
		"updated_at":  s.now().UTC().Truncate(timePrecision),
	}})
	if err != nil {
		return 0, store.Wrap(op, err)
	}
	return res.ModifiedCount, nil
}
