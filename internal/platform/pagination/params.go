// Package pagination parses list query parameters and encodes page tokens.
package pagination

import (
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
)

const (
	DefaultPageSize    = 50
	DefaultMaxPageSize = 100

	maxFilterValueLength = 512
	equalityOperator     = "=="
)

var (
	ErrInvalidPageSize  = errors.New("pagination: invalid pageSize")
	ErrInvalidFilter    = errors.New("pagination: invalid filter")
	ErrInvalidPageToken = errors.New("pagination: invalid pageToken")
)

// Cursor is the decoded page token. StartAfter holds the last key of the previous page.
type Cursor struct {
	StartAfter []any `json:"startAfter,omitempty"`
}

// Filter is an equality predicate given as filter=field==value.
type Filter struct {
	Field string
	Value string
}

// Params is the parsed form of pageSize, pageToken and filter query parameters.
type Params struct {
	PageSize  int
	PageToken string
	Cursor    Cursor
	Filters   []Filter
}

// Filter returns the value of the first filter on field.
func (p Params) Filter(field string) (string, bool) {
	for _, f := range p.Filters {
		if f.Field == field {
			return f.Value, true
		}
	}
	return "", false
}

// Options configure Parse for one endpoint.
type Options struct {
	DefaultPageSize int
	MaxPageSize     int
	// FilterFields lists the fields that may appear in filter parameters.
	FilterFields []string
}

func FromRequest(r *http.Request, opts Options) (Params, error) {
	if r == nil {
		return Params{}, errors.New("pagination: nil request")
	}
	return Parse(r.URL.Query(), opts)
}

// Parse validates values. Oversized page sizes are clamped rather than rejected.
func Parse(values url.Values, opts Options) (Params, error) {
	pageSize, err := parsePageSize(values.Get("pageSize"), opts)
	if err != nil {
		return Params{}, err
	}
	params := Params{PageSize: pageSize}

	if raw := strings.TrimSpace(values.Get("pageToken")); raw != "" {
		cursor, err := DecodeToken(raw)
		if err != nil {
			return Params{}, err
		}
		params.PageToken = raw
		params.Cursor = cursor
	}

	for _, raw := range values["filter"] {
		if strings.TrimSpace(raw) == "" {
			continue
		}
		filter, err := parseFilter(raw, opts.FilterFields)
		if err != nil {
			return Params{}, err
		}
		params.Filters = append(params.Filters, filter)
	}
	return params, nil
}

func parsePageSize(raw string, opts Options) (int, error) {
	maxSize := opts.MaxPageSize
	if maxSize <= 0 {
		maxSize = DefaultMaxPageSize
	}
	size := opts.DefaultPageSize
	if size <= 0 {
		size = DefaultPageSize
	}
	if raw = strings.TrimSpace(raw); raw != "" {
		value, err := strconv.Atoi(raw)
		if err != nil {
			return 0, fmt.Errorf("%w: must be an integer", ErrInvalidPageSize)
		}
		if value <= 0 {
			return 0, fmt.Errorf("%w: must be greater than zero", ErrInvalidPageSize)
		}
		size = value
	}
	if size > maxSize {
		size = maxSize
	}
	return size, nil
}

func parseFilter(raw string, allowed []string) (Filter, error) {
	field, value, ok := strings.Cut(raw, equalityOperator)
	if !ok {
		return Filter{}, fmt.Errorf("%w: expected field==value in %q", ErrInvalidFilter, raw)
	}
	field = strings.TrimSpace(field)
	if !isAllowedFieldName(field) {
		return Filter{}, fmt.Errorf("%w: invalid field %q", ErrInvalidFilter, field)
	}
	if !contains(allowed, field) {
		return Filter{}, fmt.Errorf("%w: field %q is not allowed", ErrInvalidFilter, field)
	}
	value = strings.Trim(strings.TrimSpace(value), `"'`)
	value = strings.NewReplacer("\n", " ", "\r", " ").Replace(value)
	if value == "" {
		return Filter{}, fmt.Errorf("%w: empty value for field %q", ErrInvalidFilter, field)
	}
	if len(value) > maxFilterValueLength {
		value = value[:maxFilterValueLength]
	}
	return Filter{Field: field, Value: value}, nil
}

func isAllowedFieldName(field string) bool {
	if field == "" {
		return false
	}
	for _, r := range field {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '_':
		default:
			return false
		}
	}
	return true
}

func contains(values []string, want string) bool {
	for _, v := range values {
		if v == want {
			return true
		}
	}
	return false
}
