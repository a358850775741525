package firestore

import (
	"context"
	"errors"
	"fmt"

	"cloud.google.com/go/firestore"
	"google.golang.org/api/iterator"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/orderable/products-api/internal/platform/docstore"
)

// Store implements docstore.DocumentStore on Firestore. Each key kind maps to a
// top-level collection and the key id is the document id.
type Store struct {
	provider *Provider
}

var (
	_ docstore.DocumentStore = (*Store)(nil)
	_ docstore.Pinger        = (*Store)(nil)
)

// NewStore binds a Store to provider.
func NewStore(provider *Provider) (*Store, error) {
	if provider == nil {
		return nil, errors.New("firestore store: provider is required")
	}
	return &Store{provider: provider}, nil
}

func (s *Store) docRef(ctx context.Context, key docstore.Key) (*firestore.DocumentRef, error) {
	client, err := s.provider.Client(ctx)
	if err != nil {
		return nil, err
	}
	return client.Collection(key.Kind).Doc(key.ID), nil
}

// Insert creates the document and fails with AlreadyExists when it is present.
func (s *Store) Insert(ctx context.Context, key docstore.Key, doc map[string]any) error {
	ref, err := s.docRef(ctx, key)
	if err != nil {
		return err
	}
	if _, err := ref.Create(ctx, doc); err != nil {
		return WrapError(op("insert", key), err)
	}
	return nil
}

// Update replaces the document content.
func (s *Store) Update(ctx context.Context, key docstore.Key, doc map[string]any) error {
	ref, err := s.docRef(ctx, key)
	if err != nil {
		return err
	}
	if _, err := ref.Set(ctx, doc); err != nil {
		return WrapError(op("update", key), err)
	}
	return nil
}

// Get implements docstore.DocumentStore.
func (s *Store) Get(ctx context.Context, key docstore.Key) (map[string]any, bool, error) {
	ref, err := s.docRef(ctx, key)
	if err != nil {
		return nil, false, err
	}
	snap, err := ref.Get(ctx)
	if err != nil {
		if status.Code(err) == codes.NotFound {
			return nil, false, nil
		}
		return nil, false, WrapError(op("get", key), err)
	}
	if !snap.Exists() {
		return nil, false, nil
	}
	return snap.Data(), true, nil
}

// GetMulti fetches all keys with a single BatchGet call.
func (s *Store) GetMulti(ctx context.Context, keys []docstore.Key) ([]docstore.Document, error) {
	if len(keys) == 0 {
		return nil, nil
	}
	client, err := s.provider.Client(ctx)
	if err != nil {
		return nil, err
	}

	refs := make([]*firestore.DocumentRef, 0, len(keys))
	byPath := make(map[string]docstore.Key, len(keys))
	for _, key := range keys {
		ref := client.Collection(key.Kind).Doc(key.ID)
		if _, dup := byPath[ref.Path]; dup {
			continue
		}
		byPath[ref.Path] = key
		refs = append(refs, ref)
	}

	snaps, err := client.GetAll(ctx, refs)
	if err != nil {
		return nil, WrapError("firestore.getAll", err)
	}
	docs := make([]docstore.Document, 0, len(snaps))
	for _, snap := range snaps {
		if snap == nil || !snap.Exists() {
			continue
		}
		docs = append(docs, docstore.Document{Key: byPath[snap.Ref.Path], Data: snap.Data()})
	}
	return docs, nil
}

// Delete implements docstore.DocumentStore.
func (s *Store) Delete(ctx context.Context, key docstore.Key) error {
	ref, err := s.docRef(ctx, key)
	if err != nil {
		return err
	}
	if _, err := ref.Delete(ctx); err != nil {
		return WrapError(op("delete", key), err)
	}
	return nil
}

// RunQuery translates the query into equality filters ordered by document id.
func (s *Store) RunQuery(ctx context.Context, query docstore.Query) ([]docstore.Document, error) {
	client, err := s.provider.Client(ctx)
	if err != nil {
		return nil, err
	}

	q := client.Collection(query.Kind).Query
	for _, filter := range query.Filters {
		q = q.Where(filter.Field, "==", filter.Value)
	}
	q = q.OrderBy(firestore.DocumentID, firestore.Asc)
	if query.StartAfter != "" {
		q = q.StartAfter(query.StartAfter)
	}
	if query.Limit > 0 {
		q = q.Limit(query.Limit)
	}

	iter := q.Documents(ctx)
	defer iter.Stop()

	var docs []docstore.Document
	for {
		snap, err := iter.Next()
		if errors.Is(err, iterator.Done) {
			break
		}
		if err != nil {
			return nil, WrapError(fmt.Sprintf("firestore.query %s", query.Kind), err)
		}
		docs = append(docs, docstore.Document{
			Key:  docstore.Key{Kind: query.Kind, ID: snap.Ref.ID},
			Data: snap.Data(),
		})
	}
	return docs, nil
}

// Ping lists collections to confirm the backend answers.
func (s *Store) Ping(ctx context.Context) error {
	client, err := s.provider.Client(ctx)
	if err != nil {
		return err
	}
	iter := client.Collections(ctx)
	if _, err := iter.Next(); err != nil && !errors.Is(err, iterator.Done) {
		return WrapError("firestore.ping", err)
	}
	return nil
}

func op(name string, key docstore.Key) string {
	return fmt.Sprintf("firestore.%s %s", name, key)
}
