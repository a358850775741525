package catalog

import (
	"os"
	"path/filepath"
	"reflect"
	"testing"

	"github.com/orderable/products-api/internal/domain"
)

func TestBundledCategoriesExpandAvocados(t *testing.T) {
	categories, err := LoadCategories("")
	if err != nil {
		t.Fatalf("LoadCategories: %v", err)
	}

	view, ok := categories.Expand("6572")
	if !ok {
		t.Fatalf("expected category 6572 to be known")
	}
	if view.ID != "6572" || view.Name != "Avocados" {
		t.Fatalf("unexpected view %#v", view)
	}
	want := []string{"412", "412.5793", "412.5793.6572"}
	if !reflect.DeepEqual(view.Metadata.Hierarchy, want) {
		t.Fatalf("expected hierarchy %v, got %v", want, view.Metadata.Hierarchy)
	}
}

func TestExpandUnknownCategory(t *testing.T) {
	categories := NewCategories(map[string]CategoryEntry{"c1": {Name: "category", Hierarchy: "1.2.3.c1"}})
	if view, ok := categories.Expand("unknown"); ok || view != nil {
		t.Fatalf("expected unknown category to report false, got %#v", view)
	}
}

func TestExpandRecord(t *testing.T) {
	categories := NewCategories(map[string]CategoryEntry{"c1": {Name: "category", Hierarchy: "1.2.3.c1"}})
	record := domain.Record{ID: "1", Fields: map[string]any{"category_id": "c1", "name": "x"}}

	if got := categories.ExpandRecord(record, nil); !reflect.DeepEqual(got, record) {
		t.Fatalf("expected record untouched without expansion, got %#v", got)
	}

	got := categories.ExpandRecord(record, []string{"category"})
	if _, ok := got.Fields["category_id"]; ok {
		t.Fatalf("category_id should be dropped after expansion")
	}
	view, ok := got.Fields["category"].(CategoryView)
	if !ok {
		t.Fatalf("expected category view, got %#v", got.Fields["category"])
	}
	if view.ID != "c1" || view.Name != "category" {
		t.Fatalf("unexpected view %#v", view)
	}
	if want := []string{"1", "1.2", "1.2.3", "1.2.3.c1"}; !reflect.DeepEqual(view.Metadata.Hierarchy, want) {
		t.Fatalf("expected hierarchy %v, got %v", want, view.Metadata.Hierarchy)
	}

	if _, ok := record.Fields["category"]; ok {
		t.Fatalf("input record was mutated")
	}
	if record.Fields["category_id"] != "c1" {
		t.Fatalf("input record lost category_id")
	}
}

func TestExpandManyLeavesUnknownCategoryUntouched(t *testing.T) {
	categories := NewCategories(map[string]CategoryEntry{"c1": {Name: "category", Hierarchy: "1.c1"}})
	records := []domain.Record{
		{ID: "1", Fields: map[string]any{"category_id": "c1"}},
		{ID: "2", Fields: map[string]any{"category_id": "unknown"}},
		{ID: "3", Fields: map[string]any{"name": "no category"}},
	}

	got := categories.ExpandMany(records, []string{"category"})
	if len(got) != 3 {
		t.Fatalf("expected 3 records, got %d", len(got))
	}
	if _, ok := got[0].Fields["category"]; !ok {
		t.Fatalf("expected first record expanded")
	}
	if got[1].Fields["category_id"] != "unknown" {
		t.Fatalf("expected unknown category id kept, got %#v", got[1].Fields)
	}
	if _, ok := got[1].Fields["category"]; ok {
		t.Fatalf("unknown category must not be expanded")
	}
	if !reflect.DeepEqual(got[2], records[2]) {
		t.Fatalf("record without category changed: %#v", got[2])
	}
}

func TestLoadCategoriesFromFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "categories.json")
	if err := os.WriteFile(path, []byte(`{"9": {"name": "Nine", "hierachy": "1.9"}}`), 0o600); err != nil {
		t.Fatalf("write: %v", err)
	}
	categories, err := LoadCategories(path)
	if err != nil {
		t.Fatalf("LoadCategories: %v", err)
	}
	if categories.Len() != 1 {
		t.Fatalf("expected 1 category, got %d", categories.Len())
	}

	if _, err := ParseCategories([]byte(`{"9": {"name": "Nine"}}`)); err == nil {
		t.Fatalf("expected error for category without hierarchy")
	}
	if _, err := ParseCategories([]byte(`[`)); err == nil {
		t.Fatalf("expected decode error")
	}
}
