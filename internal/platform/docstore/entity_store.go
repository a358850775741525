package docstore

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/orderable/products-api/internal/domain"
)

const defaultTimestampPrecision = time.Microsecond

// Observer receives the outcome of each entity store operation.
type Observer interface {
	ObserveOperation(kind, op string, err error, elapsed time.Duration)
}

// EntityStore maps records onto a DocumentStore: it owns metadata stamping, id
// attachment and not-found detection.
type EntityStore struct {
	store     DocumentStore
	codec     Codec
	clock     func() time.Time
	precision time.Duration
	observer  Observer
}

// EntityStoreOption customises an EntityStore.
type EntityStoreOption func(*EntityStore)

// WithCodec overrides the metadata codec. Defaults to NestedCodec.
func WithCodec(codec Codec) EntityStoreOption {
	return func(s *EntityStore) {
		if codec != nil {
			s.codec = codec
		}
	}
}

// WithClock injects the time source used for metadata stamps.
func WithClock(clock func() time.Time) EntityStoreOption {
	return func(s *EntityStore) {
		if clock != nil {
			s.clock = clock
		}
	}
}

// WithTimestampPrecision sets the resolution the backing store keeps for timestamps.
func WithTimestampPrecision(d time.Duration) EntityStoreOption {
	return func(s *EntityStore) {
		if d > 0 {
			s.precision = d
		}
	}
}

// WithObserver registers an operation observer, typically a metrics collector.
func WithObserver(observer Observer) EntityStoreOption {
	return func(s *EntityStore) {
		s.observer = observer
	}
}

// NewEntityStore wraps store.
func NewEntityStore(store DocumentStore, opts ...EntityStoreOption) (*EntityStore, error) {
	if store == nil {
		return nil, errors.New("entity store: document store is required")
	}
	s := &EntityStore{
		store:     store,
		codec:     NestedCodec{},
		clock:     time.Now,
		precision: defaultTimestampPrecision,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(s)
		}
	}
	return s, nil
}

// Get loads the record under key.
func (s *EntityStore) Get(ctx context.Context, key Key) (record domain.Record, err error) {
	defer s.observe(key.Kind, "get", time.Now(), &err)
	return s.get(ctx, key)
}

func (s *EntityStore) get(ctx context.Context, key Key) (domain.Record, error) {
	if err := validateKey(key); err != nil {
		return domain.Record{}, err
	}
	doc, ok, err := s.store.Get(ctx, key)
	if err != nil {
		return domain.Record{}, err
	}
	if !ok {
		return domain.Record{}, fmt.Errorf("%w: %s", ErrEntityNotFound, key)
	}
	return s.decode(key, doc), nil
}

// GetMulti loads all existing records for keys in a single store call. Keys with no
// document are left out; the result order is unspecified.
func (s *EntityStore) GetMulti(ctx context.Context, keys []Key) (records []domain.Record, err error) {
	kind := ""
	if len(keys) > 0 {
		kind = keys[0].Kind
	}
	defer s.observe(kind, "get_multi", time.Now(), &err)

	if len(keys) == 0 {
		return []domain.Record{}, nil
	}
	for _, key := range keys {
		if err := validateKey(key); err != nil {
			return nil, err
		}
	}
	docs, err := s.store.GetMulti(ctx, keys)
	if err != nil {
		return nil, err
	}
	records = make([]domain.Record, 0, len(docs))
	for _, doc := range docs {
		records = append(records, s.decode(doc.Key, doc.Data))
	}
	return records, nil
}

// Create stamps the creation time and inserts the record. The insert fails if a
// document already exists under key.
func (s *EntityStore) Create(ctx context.Context, key Key, record domain.Record) (created domain.Record, err error) {
	defer s.observe(key.Kind, "create", time.Now(), &err)

	if err := validateKey(key); err != nil {
		return domain.Record{}, err
	}
	record = record.Clone()
	record.ID = ""
	record.Metadata = domain.Metadata{Created: s.now()}

	if err := s.store.Insert(ctx, key, s.codec.Encode(record)); err != nil {
		return domain.Record{}, err
	}
	record.ID = key.ID
	return record, nil
}

// Update overwrites the record under key, keeping its creation time and stamping a
// fresh update time. The read and the write are separate calls; concurrent updates
// to one key resolve as last write wins.
func (s *EntityStore) Update(ctx context.Context, key Key, record domain.Record) (updated domain.Record, err error) {
	defer s.observe(key.Kind, "update", time.Now(), &err)

	existing, err := s.get(ctx, key)
	if err != nil {
		return domain.Record{}, err
	}

	record = record.Clone()
	record.ID = ""
	meta := existing.Metadata.Clone()
	meta.Updated = s.nextUpdate(meta)
	record.Metadata = meta

	if err := s.store.Update(ctx, key, s.codec.Encode(record)); err != nil {
		return domain.Record{}, err
	}
	record.ID = key.ID
	return record, nil
}

// Delete removes the record under key, reporting ErrEntityNotFound when absent.
func (s *EntityStore) Delete(ctx context.Context, key Key) (err error) {
	defer s.observe(key.Kind, "delete", time.Now(), &err)

	if _, err := s.get(ctx, key); err != nil {
		return err
	}
	return s.store.Delete(ctx, key)
}

// RunQuery executes query and decodes each match. No matches is not an error.
func (s *EntityStore) RunQuery(ctx context.Context, query Query) (records []domain.Record, err error) {
	defer s.observe(query.Kind, "query", time.Now(), &err)

	if query.Kind == "" {
		return nil, fmt.Errorf("%w: query kind is required", ErrInvalidArgument)
	}
	docs, err := s.store.RunQuery(ctx, query)
	if err != nil {
		return nil, err
	}
	records = make([]domain.Record, 0, len(docs))
	for _, doc := range docs {
		records = append(records, s.decode(doc.Key, doc.Data))
	}
	return records, nil
}

func (s *EntityStore) decode(key Key, doc map[string]any) domain.Record {
	record := s.codec.Decode(doc)
	delete(record.Fields, domain.FieldID)
	record.ID = key.ID
	return record
}

func (s *EntityStore) now() time.Time {
	return s.clock().UTC().Truncate(s.precision)
}

// nextUpdate returns a timestamp strictly after both metadata stamps, even when the
// clock has not advanced past the store's precision.
func (s *EntityStore) nextUpdate(meta domain.Metadata) time.Time {
	now := s.now()
	floor := meta.Created
	if meta.Updated.After(floor) {
		floor = meta.Updated
	}
	if !now.After(floor) {
		now = floor.Add(s.precision)
	}
	return now
}

func (s *EntityStore) observe(kind, op string, start time.Time, errp *error) {
	if s.observer == nil {
		return
	}
	var err error
	if errp != nil {
		err = *errp
	}
	s.observer.ObserveOperation(kind, op, err, time.Since(start))
}

func validateKey(key Key) error {
	_, err := BuildKey(key.Kind, key.ID)
	return err
}

// IsNotFound reports whether err means the requested entity does not exist.
func IsNotFound(err error) bool {
	if errors.Is(err, ErrEntityNotFound) {
		return true
	}
	var classified ClassifiedError
	return errors.As(err, &classified) && classified.IsNotFound()
}

// IsConflict reports whether err is an insert collision.
func IsConflict(err error) bool {
	if errors.Is(err, ErrConflict) {
		return true
	}
	var classified ClassifiedError
	return errors.As(err, &classified) && classified.IsConflict()
}

// IsUnavailable reports whether err is a transient backend outage.
func IsUnavailable(err error) bool {
	var classified ClassifiedError
	return errors.As(err, &classified) && classified.IsUnavailable()
}
