// Package catalog holds the read-only category and product type tables loaded at startup.
package catalog

import (
	_ "embed"
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/orderable/products-api/internal/domain"
)

// ExpandCategory is the expansion flag that replaces category_id with the category view.
const ExpandCategory = "category"

//go:embed data/categories.json
var bundledCategories []byte

// CategoryEntry is one row of the category table. The hierarchy is a dot separated
// path of category ids ending in the entry's own id.
type CategoryEntry struct {
	Name      string `json:"name"`
	Hierarchy string `json:"hierachy"`
}

// CategoryView is the expanded form attached to products.
type CategoryView struct {
	ID       string           `json:"id"`
	Name     string           `json:"name"`
	Metadata CategoryMetadata `json:"_metadata"`
}

// CategoryMetadata lists every ancestor path, root first.
type CategoryMetadata struct {
	Hierarchy []string `json:"hierarchy"`
}

// Categories is an immutable lookup table; safe for concurrent use.
type Categories struct {
	entries map[string]CategoryEntry
}

// NewCategories copies entries into a table.
func NewCategories(entries map[string]CategoryEntry) *Categories {
	copied := make(map[string]CategoryEntry, len(entries))
	for id, entry := range entries {
		copied[id] = entry
	}
	return &Categories{entries: copied}
}

// LoadCategories reads the table from path, or the bundled table when path is empty.
func LoadCategories(path string) (*Categories, error) {
	data := bundledCategories
	if path = strings.TrimSpace(path); path != "" {
		raw, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("catalog: read categories: %w", err)
		}
		data = raw
	}
	return ParseCategories(data)
}

// ParseCategories decodes a JSON object keyed by category id.
func ParseCategories(data []byte) (*Categories, error) {
	var entries map[string]CategoryEntry
	if err := json.Unmarshal(data, &entries); err != nil {
		return nil, fmt.Errorf("catalog: decode categories: %w", err)
	}
	for id, entry := range entries {
		if strings.TrimSpace(entry.Hierarchy) == "" {
			return nil, fmt.Errorf("catalog: category %q has no hierarchy", id)
		}
	}
	return &Categories{entries: entries}, nil
}

// Len returns the number of known categories.
func (c *Categories) Len() int {
	if c == nil {
		return 0
	}
	return len(c.entries)
}

// Expand resolves id. Unknown ids report false; categories may be owned elsewhere.
func (c *Categories) Expand(id string) (*CategoryView, bool) {
	if c == nil {
		return nil, false
	}
	entry, ok := c.entries[id]
	if !ok {
		return nil, false
	}
	return &CategoryView{
		ID:       id,
		Name:     entry.Name,
		Metadata: CategoryMetadata{Hierarchy: ancestorPaths(entry.Hierarchy)},
	}, true
}

// ExpandRecord returns a copy of record with category_id replaced by the category
// view when the category expansion is requested and the id is known.
func (c *Categories) ExpandRecord(record domain.Record, expansions []string) domain.Record {
	if !HasExpansion(expansions, ExpandCategory) {
		return record
	}
	view, ok := c.Expand(record.CategoryID())
	if !ok {
		return record
	}
	out := record.Clone()
	delete(out.Fields, domain.FieldCategoryID)
	out.Fields[domain.FieldCategory] = *view
	return out
}

// ExpandMany applies ExpandRecord to each record.
func (c *Categories) ExpandMany(records []domain.Record, expansions []string) []domain.Record {
	out := make([]domain.Record, len(records))
	for i, record := range records {
		out[i] = c.ExpandRecord(record, expansions)
	}
	return out
}

// HasExpansion reports whether flag was requested.
func HasExpansion(expansions []string, flag string) bool {
	for _, e := range expansions {
		if strings.TrimSpace(e) == flag {
			return true
		}
	}
	return false
}

// ancestorPaths turns "a.b.c" into ["a", "a.b", "a.b.c"].
func ancestorPaths(hierarchy string) []string {
	segments := strings.Split(hierarchy, ".")
	paths := make([]string, len(segments))
	for i := range segments {
		paths[i] = strings.Join(segments[:i+1], ".")
	}
	return paths
}
