package docstore

import (
	"errors"
	"fmt"
	"strings"
)

// ProductKind is the document kind used for catalog products.
const ProductKind = "Product"

var (
	// ErrInvalidArgument reports malformed input such as a blank identifier.
	ErrInvalidArgument = errors.New("docstore: invalid argument")
	// ErrEntityNotFound reports that no document exists for the requested key.
	ErrEntityNotFound = errors.New("docstore: entity not found")
	// ErrConflict reports that an insert targeted a key that already exists.
	ErrConflict = errors.New("docstore: document already exists")
)

// Key addresses a single document as a (kind, id) pair.
type Key struct {
	Kind string
	ID   string
}

// BuildKey validates and returns the key for kind/id.
func BuildKey(kind, id string) (Key, error) {
	kind = strings.TrimSpace(kind)
	id = strings.TrimSpace(id)
	if kind == "" {
		return Key{}, fmt.Errorf("%w: missing entity kind", ErrInvalidArgument)
	}
	if id == "" {
		return Key{}, fmt.Errorf("%w: missing %s identifier", ErrInvalidArgument, strings.ToLower(kind))
	}
	return Key{Kind: kind, ID: id}, nil
}

// ProductKey is BuildKey for the Product kind.
func ProductKey(id string) (Key, error) {
	return BuildKey(ProductKind, id)
}

// Path returns the key as an ordered path, kind first.
func (k Key) Path() []string {
	return []string{k.Kind, k.ID}
}

func (k Key) String() string {
	return k.Kind + "/" + k.ID
}

// IsZero reports whether the key was never built.
func (k Key) IsZero() bool {
	return k.Kind == "" && k.ID == ""
}
