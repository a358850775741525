package mongostore

import (
	"reflect"
	"testing"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"

	"github.com/orderable/products-api/internal/platform/docstore"
)

func TestNormalizeDocument(t *testing.T) {
	created := time.Date(2024, 3, 1, 9, 30, 0, 0, time.UTC)
	raw := bson.M{
		"_id":       "p-1",
		"name":      "Hass Avocado",
		"pack_size": int32(24),
		"_metadata": bson.M{"created": primitive.NewDateTimeFromTime(created)},
		"product_type_attributes": bson.A{
			bson.D{{Key: "name", Value: "test_attribute"}, {Key: "values", Value: bson.A{"a"}}},
		},
	}

	got := normalizeDocument(raw)
	want := map[string]any{
		"name":      "Hass Avocado",
		"pack_size": int64(24),
		"_metadata": map[string]any{"created": created},
		"product_type_attributes": []any{
			map[string]any{"name": "test_attribute", "values": []any{"a"}},
		},
	}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("unexpected normalized document:\n got %#v\nwant %#v", got, want)
	}
}

func TestWithIDDoesNotMutateInput(t *testing.T) {
	doc := map[string]any{"name": "x"}
	key, _ := docstore.ProductKey("p-1")
	payload := withID(key, doc)
	if payload["_id"] != "p-1" {
		t.Fatalf("expected _id, got %v", payload["_id"])
	}
	if _, ok := doc["_id"]; ok {
		t.Fatalf("input document mutated")
	}
}

func TestWrapNil(t *testing.T) {
	if wrap("op", nil) != nil {
		t.Fatalf("expected nil")
	}
}
