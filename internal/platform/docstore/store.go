package docstore

import "context"

// Document pairs a stored payload with the key it lives under.
type Document struct {
	Key  Key
	Data map[string]any
}

// Filter is an equality predicate on a top-level field.
type Filter struct {
	Field string
	Value any
}

// Query selects documents of one kind. Results are ordered by key id ascending.
type Query struct {
	Kind    string
	Filters []Filter
	Limit   int
	// StartAfter skips documents whose id sorts at or before this value.
	StartAfter string
}

// DocumentStore is the contract backends implement. Get reports absence through the
// boolean result rather than an error so callers can tell "missing" from "failed".
type DocumentStore interface {
	// Insert writes doc and must fail with a conflict when the key already exists.
	Insert(ctx context.Context, key Key, doc map[string]any) error
	// Update overwrites the full document stored under key.
	Update(ctx context.Context, key Key, doc map[string]any) error
	Get(ctx context.Context, key Key) (map[string]any, bool, error)
	// GetMulti fetches keys in one round trip. Missing keys are omitted.
	GetMulti(ctx context.Context, keys []Key) ([]Document, error)
	Delete(ctx context.Context, key Key) error
	RunQuery(ctx context.Context, query Query) ([]Document, error)
}

// Pinger is implemented by stores that can report backend reachability.
type Pinger interface {
	Ping(ctx context.Context) error
}

// ClassifiedError is the categorisation backend errors expose.
type ClassifiedError interface {
	error
	IsNotFound() bool
	IsConflict() bool
	IsUnavailable() bool
}
