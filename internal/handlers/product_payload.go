package handlers

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"

	"github.com/orderable/products-api/internal/catalog"
)

const (
	maxProductRequestBody = 256 * 1024
	productTypeTag        = "product_type"
)

// productRequest lists the fields checked at the boundary. Anything else in the body
// is stored untouched.
type productRequest struct {
	Name                  *string           `json:"name" validate:"required"`
	ProductType           *string           `json:"product_type" validate:"required,product_type"`
	Brand                 *string           `json:"brand"`
	CategoryID            *string           `json:"category_id" validate:"required"`
	Description           *string           `json:"description"`
	ShortDescription      *string           `json:"short_description"`
	PackSize              *float64          `json:"pack_size"`
	UnitSize              *string           `json:"unit_size"`
	Taxable               *bool             `json:"taxable" validate:"required"`
	ProductTypeAttributes []json.RawMessage `json:"product_type_attributes" validate:"required"`
}

type attributeRequest struct {
	Name   *string `json:"name" validate:"required"`
	Values *[]any  `json:"values" validate:"required"`
}

// fieldError is a payload failure rendered in the
// child "x" fails because ["x" is required] form.
type fieldError struct {
	field  string
	reason string
}

func (e *fieldError) Error() string {
	return fmt.Sprintf("child %q fails because [%s]", e.field, e.reason)
}

var errEmptyBody = errors.New("request body required")

type payloadValidator struct {
	validate *validator.Validate
	types    *catalog.ProductTypes
}

func newPayloadValidator(types *catalog.ProductTypes) *payloadValidator {
	v := validator.New()
	v.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})
	_ = v.RegisterValidation(productTypeTag, func(fl validator.FieldLevel) bool {
		if types == nil {
			return true
		}
		field := fl.Field()
		if field.Kind() == reflect.Ptr {
			if field.IsNil() {
				return false
			}
			field = field.Elem()
		}
		return field.Kind() == reflect.String && types.Has(field.String())
	})
	return &payloadValidator{validate: v, types: types}
}

// decode reads a product body. The returned map holds every supplied field; the
// typed view is only used to check the known ones.
func (p *payloadValidator) decode(body io.Reader) (map[string]any, error) {
	data, err := io.ReadAll(io.LimitReader(body, maxProductRequestBody))
	if err != nil {
		return nil, fmt.Errorf("read request body: %w", err)
	}
	if len(bytes.TrimSpace(data)) == 0 {
		return nil, errEmptyBody
	}

	var fields map[string]any
	if err := json.Unmarshal(data, &fields); err != nil {
		return nil, fmt.Errorf("invalid request body: %w", err)
	}
	if fields == nil {
		return nil, errors.New("invalid request body: expected a JSON object")
	}

	var req productRequest
	if err := json.Unmarshal(data, &req); err != nil {
		return nil, typeError(err)
	}
	if err := p.validate.Struct(req); err != nil {
		return nil, p.firstFieldError(err)
	}

	for i, raw := range req.ProductTypeAttributes {
		if err := p.checkAttribute(raw); err != nil {
			return nil, &fieldError{
				field:  "product_type_attributes",
				reason: fmt.Sprintf(`"product_type_attributes" at position %d fails because [%s]`, i, err.Error()),
			}
		}
	}
	return fields, nil
}

func (p *payloadValidator) checkAttribute(raw json.RawMessage) error {
	var attr attributeRequest
	if err := json.Unmarshal(raw, &attr); err != nil {
		var typeErr *json.UnmarshalTypeError
		if errors.As(err, &typeErr) && typeErr.Field == "" {
			return errors.New(`"value" must be an object`)
		}
		return typeError(err)
	}
	if err := p.validate.Struct(attr); err != nil {
		return p.firstFieldError(err)
	}
	return nil
}

func (p *payloadValidator) firstFieldError(err error) error {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) || len(verrs) == 0 {
		return err
	}
	fe := verrs[0]
	name := fe.Field()
	switch fe.Tag() {
	case "required":
		return &fieldError{field: name, reason: fmt.Sprintf("%q is required", name)}
	case productTypeTag:
		var names []string
		if p.types != nil {
			names = p.types.Names()
		}
		return &fieldError{field: name, reason: fmt.Sprintf("%q must be one of [%s]", name, strings.Join(names, ", "))}
	default:
		return &fieldError{field: name, reason: fmt.Sprintf("%q fails %s", name, fe.Tag())}
	}
}

func typeError(err error) error {
	var typeErr *json.UnmarshalTypeError
	if !errors.As(err, &typeErr) {
		return fmt.Errorf("invalid request body: %w", err)
	}
	name := typeErr.Field
	if i := strings.LastIndex(name, "."); i >= 0 {
		name = name[i+1:]
	}
	if name == "" {
		return errors.New("invalid request body: expected a JSON object")
	}
	return &fieldError{field: name, reason: fmt.Sprintf("%q must be %s", name, kindName(typeErr.Type))}
}

func kindName(t reflect.Type) string {
	for t != nil && t.Kind() == reflect.Ptr {
		t = t.Elem()
	}
	if t == nil {
		return "valid"
	}
	switch t.Kind() {
	case reflect.String:
		return "a string"
	case reflect.Bool:
		return "a boolean"
	case reflect.Float32, reflect.Float64, reflect.Int, reflect.Int64:
		return "a number"
	case reflect.Slice, reflect.Array:
		return "an array"
	case reflect.Map, reflect.Struct:
		return "an object"
	}
	return "valid"
}
