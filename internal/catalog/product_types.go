package catalog

import (
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/orderable/products-api/internal/domain"
)

//go:embed data/product_types.yaml
var bundledProductTypes []byte

// Value rule kinds.
const (
	StringList  = "string_list"
	NumberList  = "number_list"
	BooleanList = "boolean_list"
)

// ValueRule constrains the values list of one attribute.
type ValueRule struct {
	Type     string   `yaml:"type"`
	Allowed  []string `yaml:"allowed"`
	MinItems int      `yaml:"min_items"`
	MaxItems int      `yaml:"max_items"`
}

// AttributeSchema declares one attribute a product type accepts.
type AttributeSchema struct {
	Name     string    `yaml:"name"`
	Required bool      `yaml:"required"`
	Values   ValueRule `yaml:"values"`
}

// ProductTypeSchema is the attribute contract for one product type.
type ProductTypeSchema struct {
	Name       string            `yaml:"name"`
	Attributes []AttributeSchema `yaml:"attributes"`
}

func (s ProductTypeSchema) attribute(name string) (AttributeSchema, bool) {
	for _, attr := range s.Attributes {
		if attr.Name == name {
			return attr, true
		}
	}
	return AttributeSchema{}, false
}

// ProductTypeAttribute is one {name, values} pair supplied with a product.
type ProductTypeAttribute struct {
	Name   string `json:"name"`
	Values []any  `json:"values"`
}

// ProductTypes is the immutable schema table; safe for concurrent use.
type ProductTypes struct {
	schemas map[string]ProductTypeSchema
	names   []string
}

// LoadProductTypes reads schemas from path, or the bundled file when path is empty.
func LoadProductTypes(path string) (*ProductTypes, error) {
	data := bundledProductTypes
	if path = strings.TrimSpace(path); path != "" {
		raw, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("catalog: read product types: %w", err)
		}
		data = raw
	}
	return ParseProductTypes(data)
}

// ParseProductTypes decodes the YAML schema document.
func ParseProductTypes(data []byte) (*ProductTypes, error) {
	var doc struct {
		ProductTypes []ProductTypeSchema `yaml:"product_types"`
	}
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("catalog: decode product types: %w", err)
	}
	return NewProductTypes(doc.ProductTypes...)
}

// NewProductTypes builds a table from schemas. Rule types default to string_list.
func NewProductTypes(schemas ...ProductTypeSchema) (*ProductTypes, error) {
	table := &ProductTypes{schemas: make(map[string]ProductTypeSchema, len(schemas))}
	for _, schema := range schemas {
		name := strings.TrimSpace(schema.Name)
		if name == "" {
			return nil, errors.New("catalog: product type without a name")
		}
		if _, dup := table.schemas[name]; dup {
			return nil, fmt.Errorf("catalog: duplicate product type %q", name)
		}
		attrs := make([]AttributeSchema, len(schema.Attributes))
		for i, attr := range schema.Attributes {
			switch attr.Values.Type {
			case "":
				attr.Values.Type = StringList
			case StringList, NumberList, BooleanList:
			default:
				return nil, fmt.Errorf("catalog: product type %q attribute %q: unknown value type %q", name, attr.Name, attr.Values.Type)
			}
			attrs[i] = attr
		}
		table.schemas[name] = ProductTypeSchema{Name: name, Attributes: attrs}
		table.names = append(table.names, name)
	}
	sort.Strings(table.names)
	return table, nil
}

// Names lists the known product types in lexical order.
func (t *ProductTypes) Names() []string {
	return append([]string(nil), t.names...)
}

// Has reports whether name is a known product type.
func (t *ProductTypes) Has(name string) bool {
	_, ok := t.schemas[name]
	return ok
}

// Schema returns the schema for name.
func (t *ProductTypes) Schema(name string) (ProductTypeSchema, bool) {
	schema, ok := t.schemas[name]
	return schema, ok
}

// ValidationOutcome lists everything wrong with a product's attributes.
type ValidationOutcome struct {
	ProductType string
	Required    []string
	Forbidden   []string
	Invalid     []string
}

// Valid reports whether no problem was found.
func (o ValidationOutcome) Valid() bool {
	return len(o.Required) == 0 && len(o.Forbidden) == 0 && len(o.Invalid) == 0
}

// Err returns nil for a valid outcome and a *ValidationError otherwise.
func (o ValidationOutcome) Err() error {
	if o.Valid() {
		return nil
	}
	return &ValidationError{
		ProductType: o.ProductType,
		Required:    nonNil(o.Required),
		Forbidden:   nonNil(o.Forbidden),
		Invalid:     nonNil(o.Invalid),
	}
}

// ValidationError is the structured failure rendered as a 400 response.
type ValidationError struct {
	ProductType string
	Required    []string
	Forbidden   []string
	Invalid     []string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("%q are not valid for product_type %q", domain.FieldProductTypeAttributes, e.ProductType)
}

// Validate checks attributes against the schema of typeName.
func (t *ProductTypes) Validate(typeName string, attributes []ProductTypeAttribute) ValidationOutcome {
	outcome := ValidationOutcome{ProductType: typeName}

	schema, ok := t.schemas[typeName]
	if !ok {
		outcome.Invalid = append(outcome.Invalid, fmt.Sprintf("%q %q is not a known product type", domain.FieldProductType, typeName))
		return outcome
	}

	supplied := make(map[string]struct{}, len(attributes))
	forbidden := make(map[string]struct{})
	for _, attr := range attributes {
		supplied[attr.Name] = struct{}{}
		decl, declared := schema.attribute(attr.Name)
		if !declared {
			if _, seen := forbidden[attr.Name]; !seen {
				forbidden[attr.Name] = struct{}{}
				outcome.Forbidden = append(outcome.Forbidden, attr.Name)
			}
			continue
		}
		if msg := checkValues(decl, attr.Values); msg != "" {
			outcome.Invalid = append(outcome.Invalid, msg)
		}
	}

	for _, decl := range schema.Attributes {
		if !decl.Required {
			continue
		}
		if _, ok := supplied[decl.Name]; !ok {
			outcome.Required = append(outcome.Required, decl.Name)
		}
	}
	return outcome
}

// ValidateRecord validates the product_type and product_type_attributes fields of record.
func (t *ProductTypes) ValidateRecord(record domain.Record) ValidationOutcome {
	raw, _ := record.Field(domain.FieldProductTypeAttributes)
	return t.Validate(record.ProductType(), AttributesFrom(raw))
}

// AttributesFrom converts the JSON decoded product_type_attributes value. Entries that
// are not objects are skipped; field validation rejects them earlier.
func AttributesFrom(raw any) []ProductTypeAttribute {
	switch typed := raw.(type) {
	case []ProductTypeAttribute:
		return typed
	case []any:
		out := make([]ProductTypeAttribute, 0, len(typed))
		for _, item := range typed {
			entry, ok := item.(map[string]any)
			if !ok {
				continue
			}
			name, _ := entry["name"].(string)
			values, _ := entry["values"].([]any)
			out = append(out, ProductTypeAttribute{Name: name, Values: values})
		}
		return out
	}
	return nil
}

// checkValues renders failures in the form
// "attr" values fails because ["value" at position 0 fails because ["0" must be a string]].
func checkValues(decl AttributeSchema, values []any) string {
	var reasons []string
	rule := decl.Values

	if rule.MinItems > 0 && len(values) < rule.MinItems {
		reasons = append(reasons, fmt.Sprintf(`"values" must contain at least %d items`, rule.MinItems))
	}
	if rule.MaxItems > 0 && len(values) > rule.MaxItems {
		reasons = append(reasons, fmt.Sprintf(`"values" must contain less than or equal to %d items`, rule.MaxItems))
	}
	for i, v := range values {
		if reason := checkValue(rule, i, v); reason != "" {
			reasons = append(reasons, fmt.Sprintf(`"value" at position %d fails because [%s]`, i, reason))
		}
	}

	if len(reasons) == 0 {
		return ""
	}
	return fmt.Sprintf(`%q values fails because [%s]`, decl.Name, strings.Join(reasons, ", "))
}

func checkValue(rule ValueRule, pos int, v any) string {
	switch rule.Type {
	case NumberList:
		if !isNumber(v) {
			return fmt.Sprintf(`"%d" must be a number`, pos)
		}
	case BooleanList:
		if _, ok := v.(bool); !ok {
			return fmt.Sprintf(`"%d" must be a boolean`, pos)
		}
	default:
		s, ok := v.(string)
		if !ok {
			return fmt.Sprintf(`"%d" must be a string`, pos)
		}
		if len(rule.Allowed) > 0 && !contains(rule.Allowed, s) {
			return fmt.Sprintf(`"%d" must be one of [%s]`, pos, strings.Join(rule.Allowed, ", "))
		}
	}
	return ""
}

func isNumber(v any) bool {
	switch v.(type) {
	case float64, float32, int, int32, int64, json.Number:
		return true
	}
	return false
}

func contains(values []string, want string) bool {
	for _, v := range values {
		if v == want {
			return true
		}
	}
	return false
}

func nonNil(values []string) []string {
	if values == nil {
		return []string{}
	}
	return values
}
