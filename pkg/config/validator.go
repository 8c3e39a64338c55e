package config

import (
	"fmt"
	"reflect"
	"strings"
)

// FieldError reports a configuration field that failed validation.
// Field is the dotted Go field path, e.g. "Worker.ChunkSize".
type FieldError struct {
	Field  string
	Reason string
}

func (e *FieldError) Error() string {
	return fmt.Sprintf("field %s %s", e.Field, e.Reason)
}

// lookup resolves a dotted field path inside a struct or struct pointer.
func lookup(config interface{}, path string) (reflect.Value, error) {
	v := reflect.ValueOf(config)
	for _, part := range strings.Split(path, ".") {
		for v.Kind() == reflect.Ptr {
			if v.IsNil() {
				return reflect.Value{}, &FieldError{Field: path, Reason: "is behind a nil pointer"}
			}
			v = v.Elem()
		}
		if v.Kind() != reflect.Struct {
			return reflect.Value{}, &FieldError{Field: path, Reason: "does not name a struct field"}
		}
		v = v.FieldByName(part)
		if !v.IsValid() {
			return reflect.Value{}, &FieldError{Field: path, Reason: "not found"}
		}
	}
	return v, nil
}

// fieldValidator builds a Validator that checks one field.
func fieldValidator(path string, check func(reflect.Value) string) Validator {
	return ValidatorFunc(func(config interface{}) error {
		v, err := lookup(config, path)
		if err != nil {
			return err
		}
		if reason := check(v); reason != "" {
			return &FieldError{Field: path, Reason: reason}
		}
		return nil
	})
}

// RequiredFields fails when any of the fields holds its zero value.
func RequiredFields(fields ...string) Validator {
	return ValidatorFunc(func(config interface{}) error {
		var missing []string
		for _, path := range fields {
			v, err := lookup(config, path)
			if err != nil {
				return err
			}
			if v.IsZero() {
				missing = append(missing, path)
			}
		}
		if len(missing) > 0 {
			return fmt.Errorf("required fields are missing: %s", strings.Join(missing, ", "))
		}
		return nil
	})
}

// numeric returns v as a float64. time.Duration compares in nanoseconds.
func numeric(v reflect.Value) (float64, bool) {
	switch v.Kind() {
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		return float64(v.Int()), true
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		return float64(v.Uint()), true
	case reflect.Float32, reflect.Float64:
		return v.Float(), true
	}
	return 0, false
}

// RangeValidator requires a numeric field to lie in [min, max].
func RangeValidator(fieldName string, min, max float64) Validator {
	return fieldValidator(fieldName, func(v reflect.Value) string {
		n, ok := numeric(v)
		if !ok {
			return "is not numeric"
		}
		if n < min || n > max {
			return fmt.Sprintf("value %v is out of range [%v, %v]", n, min, max)
		}
		return ""
	})
}

// StringLengthValidator requires a string field of minLen to maxLen bytes.
func StringLengthValidator(fieldName string, minLen, maxLen int) Validator {
	return fieldValidator(fieldName, func(v reflect.Value) string {
		if v.Kind() != reflect.String {
			return "is not a string"
		}
		if n := v.Len(); n < minLen || n > maxLen {
			return fmt.Sprintf("length %d is out of range [%d, %d]", n, minLen, maxLen)
		}
		return ""
	})
}

// OneOfValidator requires a field to equal one of allowed.
func OneOfValidator(fieldName string, allowed ...interface{}) Validator {
	return fieldValidator(fieldName, func(v reflect.Value) string {
		got := v.Interface()
		for _, a := range allowed {
			if reflect.DeepEqual(got, a) {
				return ""
			}
		}
		return fmt.Sprintf("value %q is not one of %v", fmt.Sprint(got), allowed)
	})
}
