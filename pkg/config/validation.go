package config

import (
	"reflect"
	"strings"
	"time"
)

const redacted = "***"

var durationType = reflect.TypeOf(time.Duration(0))

// Settings returns the configuration as a nested map keyed like the config
// file, ready for YAML output. String fields tagged secret:"true", and any
// field set in secrets, are masked. Durations are rendered as strings.
func (c *Config) Settings(secrets *Config) map[string]any {
	var mask reflect.Value
	if secrets != nil {
		mask = reflect.ValueOf(secrets).Elem()
	}
	out := map[string]any{}
	settingsInto(out, reflect.ValueOf(c).Elem(), mask)
	return out
}

func settingsInto(out map[string]any, v, mask reflect.Value) {
	t := v.Type()
	for i := 0; i < v.NumField(); i++ {
		field := t.Field(i)
		value := v.Field(i)
		if !field.IsExported() {
			continue
		}
		var maskValue reflect.Value
		if mask.IsValid() {
			maskValue = mask.Field(i)
		}

		name, inline := yamlName(field)
		switch {
		case inline:
			settingsInto(out, value, maskValue)
		case value.Kind() == reflect.Struct:
			child := map[string]any{}
			settingsInto(child, value, maskValue)
			out[name] = child
		case value.Type() == durationType:
			out[name] = time.Duration(value.Int()).String()
		case value.Kind() == reflect.String && value.String() != "" &&
			(field.Tag.Get("secret") == "true" || shouldRedact(maskValue)):
			out[name] = redacted
		default:
			out[name] = value.Interface()
		}
	}
}

func yamlName(field reflect.StructField) (string, bool) {
	tag := field.Tag.Get("yaml")
	name, opts, _ := strings.Cut(tag, ",")
	if opts == "inline" {
		return "", true
	}
	if name == "" {
		name = strings.ToLower(field.Name)
	}
	return name, false
}

func shouldRedact(v reflect.Value) bool {
	if !v.IsValid() {
		return false
	}
	switch v.Kind() {
	case reflect.String:
		return v.String() != ""
	case reflect.Slice, reflect.Map:
		return v.Len() > 0
	default:
		return false
	}
}
