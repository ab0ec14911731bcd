package validation

import (
	"fmt"
	"reflect"
	"strconv"
	"strings"
)

// Validator checks struct fields against their `validate` tags.
//
// Supported rules: required, oneof=a b c, min=N, max=N. For strings and
// slices min/max bound the length, for numbers the value. Nested structs and
// slices of structs are validated recursively.
type Validator struct{}

// NewValidator creates a new validator
func NewValidator() *Validator {
	return &Validator{}
}

// Validate validates a struct
func (v *Validator) Validate(s interface{}) error {
	val := reflect.ValueOf(s)
	if val.Kind() == reflect.Ptr {
		val = val.Elem()
	}
	if val.Kind() != reflect.Struct {
		return fmt.Errorf("validate expects a struct")
	}
	return v.validateStruct(val, "")
}

func (v *Validator) validateStruct(val reflect.Value, prefix string) error {
	typ := val.Type()
	for i := 0; i < val.NumField(); i++ {
		field := val.Field(i)
		fieldType := typ.Field(i)
		if !fieldType.IsExported() {
			continue
		}
		name := prefix + fieldType.Name

		if tag := fieldType.Tag.Get("validate"); tag != "" && tag != "-" {
			if err := v.validateField(field, tag); err != nil {
				return fmt.Errorf("%s: %w", name, err)
			}
		}

		switch field.Kind() {
		case reflect.Struct:
			if err := v.validateStruct(field, name+"."); err != nil {
				return err
			}
		case reflect.Slice:
			if field.Type().Elem().Kind() != reflect.Struct {
				continue
			}
			for j := 0; j < field.Len(); j++ {
				if err := v.validateStruct(field.Index(j), fmt.Sprintf("%s[%d].", name, j)); err != nil {
					return err
				}
			}
		}
	}
	return nil
}

// validateField validates a single field
func (v *Validator) validateField(field reflect.Value, tag string) error {
	for _, rule := range strings.Split(tag, ",") {
		ruleName, arg, _ := strings.Cut(rule, "=")

		switch ruleName {
		case "required":
			if field.IsZero() {
				return fmt.Errorf("field is required")
			}

		case "oneof":
			// 空值交给 required 判断
			if field.IsZero() {
				continue
			}
			s := fmt.Sprint(field.Interface())
			ok := false
			for _, opt := range strings.Fields(arg) {
				if s == opt {
					ok = true
					break
				}
			}
			if !ok {
				return fmt.Errorf("%q is not one of [%s]", s, arg)
			}

		case "min", "max":
			limit, err := strconv.ParseInt(arg, 10, 64)
			if err != nil {
				return fmt.Errorf("bad %s rule %q", ruleName, arg)
			}
			n, ok := measure(field)
			if !ok {
				continue
			}
			if ruleName == "min" && n < limit {
				return fmt.Errorf("minimum is %d, got %d", limit, n)
			}
			if ruleName == "max" && n > limit {
				return fmt.Errorf("maximum is %d, got %d", limit, n)
			}

		default:
			return fmt.Errorf("unknown rule %q", ruleName)
		}
	}
	return nil
}

// measure returns the length of strings and slices, the value of numbers
func measure(field reflect.Value) (int64, bool) {
	switch field.Kind() {
	case reflect.String, reflect.Slice, reflect.Map:
		return int64(field.Len()), true
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		return field.Int(), true
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		return int64(field.Uint()), true
	}
	return 0, false
}
