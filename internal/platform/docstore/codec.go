package docstore

import (
	"fmt"
	"strings"
	"time"

	"github.com/orderable/products-api/internal/domain"
)

// MetadataPrefix marks flattened metadata keys in the prefixed layout.
const MetadataPrefix = domain.FieldMetadata + "_"

// Metadata encodings accepted by CodecFor.
const (
	EncodingNested   = "nested"
	EncodingPrefixed = "prefixed"
)

// Codec converts records to stored documents and back.
type Codec interface {
	Encode(record domain.Record) map[string]any
	Decode(doc map[string]any) domain.Record
}

// CodecFor returns the codec registered for encoding. Empty selects the nested layout.
func CodecFor(encoding string) (Codec, error) {
	switch strings.ToLower(strings.TrimSpace(encoding)) {
	case "", EncodingNested:
		return NestedCodec{}, nil
	case EncodingPrefixed:
		return PrefixCodec{}, nil
	default:
		return nil, fmt.Errorf("%w: unknown metadata encoding %q", ErrInvalidArgument, encoding)
	}
}

// PrefixCodec stores metadata beside domain fields as _metadata_<key> entries, for
// stores without nested document support.
type PrefixCodec struct{}

// Encode implements Codec.
func (PrefixCodec) Encode(record domain.Record) map[string]any {
	return Flatten(record)
}

// Decode implements Codec.
func (PrefixCodec) Decode(doc map[string]any) domain.Record {
	return Expand(doc)
}

// Flatten merges the record's metadata into its fields using MetadataPrefix.
func Flatten(record domain.Record) map[string]any {
	doc := make(map[string]any, len(record.Fields)+2)
	for k, v := range record.Fields {
		doc[k] = domain.CloneValue(v)
	}
	for k, v := range record.Metadata.Values() {
		doc[MetadataPrefix+k] = v
	}
	return doc
}

// Expand splits MetadataPrefix keys back into the metadata sub-record.
func Expand(doc map[string]any) domain.Record {
	record := domain.Record{Fields: make(map[string]any, len(doc))}
	meta := make(map[string]any)
	for k, v := range doc {
		if strings.HasPrefix(k, MetadataPrefix) {
			meta[strings.TrimPrefix(k, MetadataPrefix)] = v
			continue
		}
		record.Fields[k] = domain.CloneValue(v)
	}
	record.Metadata = metadataFromValues(meta)
	return record
}

// NestedCodec stores metadata as a native nested _metadata map. Decoding also accepts
// documents written in the prefixed layout.
type NestedCodec struct{}

// Encode implements Codec.
func (NestedCodec) Encode(record domain.Record) map[string]any {
	doc := make(map[string]any, len(record.Fields)+1)
	for k, v := range record.Fields {
		doc[k] = domain.CloneValue(v)
	}
	if values := record.Metadata.Values(); len(values) > 0 {
		doc[domain.FieldMetadata] = values
	}
	return doc
}

// Decode implements Codec.
func (NestedCodec) Decode(doc map[string]any) domain.Record {
	record := Expand(doc)
	nested, ok := record.Fields[domain.FieldMetadata]
	if !ok {
		return record
	}
	delete(record.Fields, domain.FieldMetadata)
	values, ok := nested.(map[string]any)
	if !ok {
		return record
	}
	merged := record.Metadata.Values()
	for k, v := range values {
		merged[k] = v
	}
	record.Metadata = metadataFromValues(merged)
	return record
}

func metadataFromValues(values map[string]any) domain.Metadata {
	var meta domain.Metadata
	for k, v := range values {
		switch k {
		case domain.MetadataCreated:
			if ts, ok := asTime(v); ok {
				meta.Created = ts
				continue
			}
		case domain.MetadataUpdated:
			if ts, ok := asTime(v); ok {
				meta.Updated = ts
				continue
			}
		}
		if meta.Extra == nil {
			meta.Extra = make(map[string]any)
		}
		meta.Extra[k] = domain.CloneValue(v)
	}
	return meta
}

func asTime(v any) (time.Time, bool) {
	switch typed := v.(type) {
	case time.Time:
		return typed.UTC(), true
	case *time.Time:
		if typed == nil {
			return time.Time{}, false
		}
		return typed.UTC(), true
	case string:
		ts, err := time.Parse(time.RFC3339Nano, typed)
		if err != nil {
			return time.Time{}, false
		}
		return ts.UTC(), true
	default:
		return time.Time{}, false
	}
}
