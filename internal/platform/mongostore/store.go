// Package mongostore implements the document store contract on MongoDB.
package mongostore

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.mongodb.org/mongo-driver/mongo/readpref"

	"github.com/orderable/products-api/internal/platform/docstore"
)

const idField = "_id"

// Precision is the timestamp resolution BSON dates keep.
const Precision = time.Millisecond

// Connect opens a client and verifies it with a ping. Callers own Disconnect.
func Connect(ctx context.Context, uri string, timeout time.Duration) (*mongo.Client, error) {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	client, err := mongo.Connect(ctx, options.Client().ApplyURI(uri))
	if err != nil {
		return nil, fmt.Errorf("mongo connect: %w", err)
	}
	if err := client.Ping(ctx, readpref.Primary()); err != nil {
		_ = client.Disconnect(context.Background())
		return nil, fmt.Errorf("mongo ping: %w", err)
	}
	return client, nil
}

// Store keeps one collection per key kind, using the key id as _id.
type Store struct {
	db *mongo.Database
}

var (
	_ docstore.DocumentStore = (*Store)(nil)
	_ docstore.Pinger        = (*Store)(nil)
)

// NewStore binds a Store to db.
func NewStore(db *mongo.Database) (*Store, error) {
	if db == nil {
		return nil, errors.New("mongostore: database is required")
	}
	return &Store{db: db}, nil
}

func (s *Store) collection(kind string) *mongo.Collection {
	return s.db.Collection(kind)
}

// Insert relies on the _id unique index to reject existing keys.
func (s *Store) Insert(ctx context.Context, key docstore.Key, doc map[string]any) error {
	payload := withID(key, doc)
	if _, err := s.collection(key.Kind).InsertOne(ctx, payload); err != nil {
		return wrap(op("insert", key), err)
	}
	return nil
}

// Update replaces the stored document wholesale.
func (s *Store) Update(ctx context.Context, key docstore.Key, doc map[string]any) error {
	res, err := s.collection(key.Kind).ReplaceOne(ctx, bson.M{idField: key.ID}, withID(key, doc))
	if err != nil {
		return wrap(op("update", key), err)
	}
	if res.MatchedCount == 0 {
		return fmt.Errorf("%w: %s", docstore.ErrEntityNotFound, key)
	}
	return nil
}

// Get implements docstore.DocumentStore.
func (s *Store) Get(ctx context.Context, key docstore.Key) (map[string]any, bool, error) {
	var raw bson.M
	err := s.collection(key.Kind).FindOne(ctx, bson.M{idField: key.ID}).Decode(&raw)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, wrap(op("get", key), err)
	}
	return normalizeDocument(raw), true, nil
}

// GetMulti issues one $in query per kind present in keys.
func (s *Store) GetMulti(ctx context.Context, keys []docstore.Key) ([]docstore.Document, error) {
	byKind := make(map[string][]string)
	var kinds []string
	for _, key := range keys {
		if _, ok := byKind[key.Kind]; !ok {
			kinds = append(kinds, key.Kind)
		}
		byKind[key.Kind] = append(byKind[key.Kind], key.ID)
	}

	var docs []docstore.Document
	for _, kind := range kinds {
		found, err := s.find(ctx, kind, bson.M{idField: bson.M{"$in": byKind[kind]}}, options.Find())
		if err != nil {
			return nil, err
		}
		docs = append(docs, found...)
	}
	return docs, nil
}

// Delete implements docstore.DocumentStore.
func (s *Store) Delete(ctx context.Context, key docstore.Key) error {
	if _, err := s.collection(key.Kind).DeleteOne(ctx, bson.M{idField: key.ID}); err != nil {
		return wrap(op("delete", key), err)
	}
	return nil
}

// RunQuery implements docstore.DocumentStore.
func (s *Store) RunQuery(ctx context.Context, query docstore.Query) ([]docstore.Document, error) {
	filter := bson.M{}
	for _, f := range query.Filters {
		filter[f.Field] = f.Value
	}
	if query.StartAfter != "" {
		filter[idField] = bson.M{"$gt": query.StartAfter}
	}
	opts := options.Find().SetSort(bson.D{{Key: idField, Value: 1}})
	if query.Limit > 0 {
		opts.SetLimit(int64(query.Limit))
	}
	return s.find(ctx, query.Kind, filter, opts)
}

func (s *Store) find(ctx context.Context, kind string, filter bson.M, opts *options.FindOptions) ([]docstore.Document, error) {
	cur, err := s.collection(kind).Find(ctx, filter, opts)
	if err != nil {
		return nil, wrap("mongo.find "+kind, err)
	}
	defer cur.Close(ctx)

	var docs []docstore.Document
	for cur.Next(ctx) {
		var raw bson.M
		if err := cur.Decode(&raw); err != nil {
			return nil, wrap("mongo.decode "+kind, err)
		}
		id, _ := raw[idField].(string)
		docs = append(docs, docstore.Document{
			Key:  docstore.Key{Kind: kind, ID: id},
			Data: normalizeDocument(raw),
		})
	}
	if err := cur.Err(); err != nil {
		return nil, wrap("mongo.cursor "+kind, err)
	}
	return docs, nil
}

// Ping implements docstore.Pinger.
func (s *Store) Ping(ctx context.Context) error {
	if err := s.db.Client().Ping(ctx, readpref.Primary()); err != nil {
		return wrap("mongo.ping", err)
	}
	return nil
}

func withID(key docstore.Key, doc map[string]any) bson.M {
	payload := make(bson.M, len(doc)+1)
	for k, v := range doc {
		payload[k] = v
	}
	payload[idField] = key.ID
	return payload
}

// normalizeDocument converts driver-specific BSON containers into plain Go values
// and drops _id.
func normalizeDocument(raw bson.M) map[string]any {
	out := make(map[string]any, len(raw))
	for k, v := range raw {
		if k == idField {
			continue
		}
		out[k] = normalizeValue(v)
	}
	return out
}

func normalizeValue(v any) any {
	switch typed := v.(type) {
	case primitive.DateTime:
		return typed.Time().UTC()
	case bson.M:
		out := make(map[string]any, len(typed))
		for k, inner := range typed {
			out[k] = normalizeValue(inner)
		}
		return out
	case bson.D:
		out := make(map[string]any, len(typed))
		for _, elem := range typed {
			out[elem.Key] = normalizeValue(elem.Value)
		}
		return out
	case bson.A:
		out := make([]any, len(typed))
		for i, inner := range typed {
			out[i] = normalizeValue(inner)
		}
		return out
	case int32:
		return int64(typed)
	default:
		return v
	}
}

func op(name string, key docstore.Key) string {
	return fmt.Sprintf("mongo.%s %s", name, key)
}
