package docstore

import (
	"errors"
	"reflect"
	"testing"
	"time"

	"github.com/orderable/products-api/internal/domain"
)

func TestBuildKey(t *testing.T) {
	key, err := BuildKey(ProductKind, "p-1")
	if err != nil {
		t.Fatalf("BuildKey: %v", err)
	}
	if !reflect.DeepEqual(key.Path(), []string{"Product", "p-1"}) {
		t.Fatalf("unexpected path %v", key.Path())
	}
	if key.String() != "Product/p-1" {
		t.Fatalf("unexpected string %q", key.String())
	}

	for _, id := range []string{"", "   "} {
		_, err := ProductKey(id)
		if !errors.Is(err, ErrInvalidArgument) {
			t.Fatalf("expected invalid argument for %q, got %v", id, err)
		}
		if err.Error() != "docstore: invalid argument: missing product identifier" {
			t.Fatalf("unexpected message %q", err.Error())
		}
	}

	if _, err := BuildKey("", "p-1"); !errors.Is(err, ErrInvalidArgument) {
		t.Fatalf("expected invalid argument for missing kind, got %v", err)
	}
}

func TestPrefixCodecRoundTrip(t *testing.T) {
	created := time.Date(2024, 3, 1, 9, 30, 0, 0, time.UTC)
	updated := created.Add(time.Hour)
	record := domain.Record{
		Fields: map[string]any{
			"name":         "Hass Avocado",
			"pack_size":    float64(24),
			"product_type": "test_product",
			"product_type_attributes": []any{
				map[string]any{"name": "test_attribute", "values": []any{"a"}},
			},
		},
		Metadata: domain.Metadata{Created: created, Updated: updated},
	}

	doc := Flatten(record)
	if doc["_metadata_created"] != created {
		t.Fatalf("expected flattened created stamp, got %v", doc["_metadata_created"])
	}
	if doc["_metadata_updated"] != updated {
		t.Fatalf("expected flattened updated stamp, got %v", doc["_metadata_updated"])
	}
	if _, ok := doc["_metadata"]; ok {
		t.Fatalf("prefixed layout must not contain a nested metadata map")
	}

	got := Expand(doc)
	if !reflect.DeepEqual(got.Fields, record.Fields) {
		t.Fatalf("fields mismatch after round trip: %#v", got.Fields)
	}
	if !got.Metadata.Created.Equal(created) || !got.Metadata.Updated.Equal(updated) {
		t.Fatalf("metadata mismatch after round trip: %#v", got.Metadata)
	}
}

func TestPrefixCodecKeepsUnknownMetadata(t *testing.T) {
	doc := map[string]any{
		"name":             "x",
		"_metadata_source": "import",
	}
	record := PrefixCodec{}.Decode(doc)
	if record.Metadata.Extra["source"] != "import" {
		t.Fatalf("expected extra metadata to survive, got %#v", record.Metadata)
	}
	back := PrefixCodec{}.Encode(record)
	if !reflect.DeepEqual(back, doc) {
		t.Fatalf("expected %v, got %v", doc, back)
	}
}

func TestNestedCodec(t *testing.T) {
	created := time.Date(2024, 3, 1, 9, 30, 0, 0, time.UTC)
	record := domain.Record{
		Fields:   map[string]any{"name": "Hass Avocado"},
		Metadata: domain.Metadata{Created: created},
	}

	doc := NestedCodec{}.Encode(record)
	nested, ok := doc["_metadata"].(map[string]any)
	if !ok {
		t.Fatalf("expected nested metadata map, got %#v", doc["_metadata"])
	}
	if nested["created"] != created {
		t.Fatalf("unexpected created %v", nested["created"])
	}
	if _, ok := nested["updated"]; ok {
		t.Fatalf("zero updated stamp should be omitted")
	}

	got := NestedCodec{}.Decode(doc)
	if _, ok := got.Fields["_metadata"]; ok {
		t.Fatalf("metadata leaked into fields")
	}
	if !got.Metadata.Created.Equal(created) {
		t.Fatalf("unexpected created after decode %v", got.Metadata.Created)
	}

	legacy := NestedCodec{}.Decode(map[string]any{"name": "n", "_metadata_created": created.Format(time.RFC3339Nano)})
	if !legacy.Metadata.Created.Equal(created) {
		t.Fatalf("expected prefixed document to decode, got %#v", legacy.Metadata)
	}
}

func TestCodecFor(t *testing.T) {
	tests := []struct {
		encoding string
		want     Codec
		wantErr  bool
	}{
		{encoding: "", want: NestedCodec{}},
		{encoding: "nested", want: NestedCodec{}},
		{encoding: "PREFIXED", want: PrefixCodec{}},
		{encoding: "xml", wantErr: true},
	}
	for _, tc := range tests {
		got, err := CodecFor(tc.encoding)
		if tc.wantErr {
			if err == nil {
				t.Fatalf("expected error for %q", tc.encoding)
			}
			continue
		}
		if err != nil {
			t.Fatalf("CodecFor(%q): %v", tc.encoding, err)
		}
		if got != tc.want {
			t.Fatalf("CodecFor(%q) = %T, want %T", tc.encoding, got, tc.want)
		}
	}
}
