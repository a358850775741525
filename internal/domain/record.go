package domain

import (
	"encoding/json"
	"sort"
	"strings"
	"time"
)

// Wire names shared by the HTTP layer and the stored document layout.
const (
	FieldID                    = "id"
	FieldMetadata              = "_metadata"
	FieldName                  = "name"
	FieldProductType           = "product_type"
	FieldCategoryID            = "category_id"
	FieldCategory              = "category"
	FieldProductTypeAttributes = "product_type_attributes"

	MetadataCreated = "created"
	MetadataUpdated = "updated"
)

// Metadata holds system-managed bookkeeping kept apart from domain fields.
type Metadata struct {
	Created time.Time
	Updated time.Time
	// Extra carries metadata keys this service does not manage itself.
	Extra map[string]any
}

// IsZero reports whether no metadata has been recorded.
func (m Metadata) IsZero() bool {
	return m.Created.IsZero() && m.Updated.IsZero() && len(m.Extra) == 0
}

// Clone returns a copy that shares no mutable state with m.
func (m Metadata) Clone() Metadata {
	out := Metadata{Created: m.Created, Updated: m.Updated}
	if len(m.Extra) > 0 {
		out.Extra = CloneFields(m.Extra)
	}
	return out
}

// Values flattens the metadata into a key/value view. Zero timestamps are omitted.
func (m Metadata) Values() map[string]any {
	values := make(map[string]any, len(m.Extra)+2)
	for k, v := range m.Extra {
		values[k] = CloneValue(v)
	}
	if !m.Created.IsZero() {
		values[MetadataCreated] = m.Created
	}
	if !m.Updated.IsZero() {
		values[MetadataUpdated] = m.Updated
	}
	return values
}

// Record is a schemaless catalog entry: open-ended domain fields plus metadata.
type Record struct {
	ID       string
	Fields   map[string]any
	Metadata Metadata
}

// NewRecord builds a record from client supplied fields. Reserved keys are dropped.
func NewRecord(fields map[string]any) Record {
	return Record{Fields: StripReserved(fields)}
}

// Clone returns a deep copy of the record.
func (r Record) Clone() Record {
	return Record{
		ID:       r.ID,
		Fields:   CloneFields(r.Fields),
		Metadata: r.Metadata.Clone(),
	}
}

// Field returns the raw value stored under name.
func (r Record) Field(name string) (any, bool) {
	if r.Fields == nil {
		return nil, false
	}
	v, ok := r.Fields[name]
	return v, ok
}

// StringField returns the trimmed string value stored under name.
func (r Record) StringField(name string) string {
	v, ok := r.Field(name)
	if !ok {
		return ""
	}
	s, _ := v.(string)
	return strings.TrimSpace(s)
}

// ProductType returns the declared product type.
func (r Record) ProductType() string {
	return r.StringField(FieldProductType)
}

// CategoryID returns the raw category identifier, if any.
func (r Record) CategoryID() string {
	return r.StringField(FieldCategoryID)
}

// MarshalJSON renders the record with fields at the top level next to id and _metadata.
func (r Record) MarshalJSON() ([]byte, error) {
	out := make(map[string]any, len(r.Fields)+2)
	for k, v := range r.Fields {
		out[k] = v
	}
	if r.ID != "" {
		out[FieldID] = r.ID
	}
	if !r.Metadata.IsZero() {
		meta := make(map[string]any, len(r.Metadata.Extra)+2)
		for k, v := range r.Metadata.Extra {
			meta[k] = v
		}
		if !r.Metadata.Created.IsZero() {
			meta[MetadataCreated] = r.Metadata.Created.UTC().Format(time.RFC3339Nano)
		}
		if !r.Metadata.Updated.IsZero() {
			meta[MetadataUpdated] = r.Metadata.Updated.UTC().Format(time.RFC3339Nano)
		}
		out[FieldMetadata] = meta
	}
	return json.Marshal(out)
}

// StripReserved copies fields without id, _metadata or any metadata-prefixed key.
func StripReserved(fields map[string]any) map[string]any {
	out := make(map[string]any, len(fields))
	for k, v := range fields {
		if IsReservedField(k) {
			continue
		}
		out[k] = CloneValue(v)
	}
	return out
}

// IsReservedField reports whether name is managed by the store rather than clients.
func IsReservedField(name string) bool {
	return name == FieldID || strings.HasPrefix(name, FieldMetadata)
}

// ReservedFields lists the reserved keys present in fields, sorted.
func ReservedFields(fields map[string]any) []string {
	var names []string
	for k := range fields {
		if k != FieldID && strings.HasPrefix(k, FieldMetadata) {
			names = append(names, k)
		}
	}
	sort.Strings(names)
	return names
}

// CloneFields deep copies a field map built from JSON-like values.
func CloneFields(fields map[string]any) map[string]any {
	if fields == nil {
		return map[string]any{}
	}
	out := make(map[string]any, len(fields))
	for k, v := range fields {
		out[k] = CloneValue(v)
	}
	return out
}

// CloneValue deep copies maps and slices; scalars are returned as is.
func CloneValue(v any) any {
	switch typed := v.(type) {
	case map[string]any:
		return CloneFields(typed)
	case []any:
		out := make([]any, len(typed))
		for i, item := range typed {
			out[i] = CloneValue(item)
		}
		return out
	case []string:
		return append([]string(nil), typed...)
	default:
		return v
	}
}
