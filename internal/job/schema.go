package job

import (
	"encoding/json"
	"fmt"
)

// Field types accepted by a Schema
const (
	FieldNumber = "number"
	FieldString = "string"
	FieldBool   = "bool"
)

// Field describes one named, typed payload field
type Field struct {
	Name     string `yaml:"name"`
	Type     string `yaml:"type"`
	Required bool   `yaml:"required"`
}

// Schema is the ordered set of fields a payload is validated against.
// An empty schema accepts any payload.
type Schema struct {
	Fields []Field `yaml:"fields"`
	Strict bool    `yaml:"strict"` // reject fields not listed in Fields
}

// IsDynamic reports whether the schema accepts arbitrary payloads
func (s *Schema) IsDynamic() bool {
	return s == nil || len(s.Fields) == 0
}

// Check verifies the schema definition itself
func (s *Schema) Check() error {
	if s == nil {
		return nil
	}
	seen := make(map[string]struct{}, len(s.Fields))
	for _, f := range s.Fields {
		if f.Name == "" {
			return fmt.Errorf("schema field name is required")
		}
		if _, ok := seen[f.Name]; ok {
			return fmt.Errorf("duplicate schema field %q", f.Name)
		}
		seen[f.Name] = struct{}{}

		switch f.Type {
		case FieldNumber, FieldString, FieldBool:
		default:
			return fmt.Errorf("schema field %q has unsupported type %q", f.Name, f.Type)
		}
	}
	return nil
}

// Validate checks a payload against the schema
func (s *Schema) Validate(p Payload) error {
	if s.IsDynamic() {
		return nil
	}

	known := make(map[string]struct{}, len(s.Fields))
	for _, f := range s.Fields {
		known[f.Name] = struct{}{}

		v, ok := p[f.Name]
		if !ok || v == nil {
			if f.Required {
				return fmt.Errorf("%w: missing required field %q", ErrInvalidPayload, f.Name)
			}
			continue
		}
		if !matchesType(v, f.Type) {
			return fmt.Errorf("%w: field %q must be a %s", ErrInvalidPayload, f.Name, f.Type)
		}
	}

	if s.Strict {
		for name := range p {
			if _, ok := known[name]; !ok {
				return fmt.Errorf("%w: unknown field %q", ErrInvalidPayload, name)
			}
		}
	}

	return nil
}

func matchesType(v any, fieldType string) bool {
	switch fieldType {
	case FieldNumber:
		_, ok := AsFloat(v)
		return ok
	case FieldString:
		_, ok := v.(string)
		return ok
	case FieldBool:
		_, ok := v.(bool)
		return ok
	default:
		return false
	}
}

// AsFloat converts the numeric representations a payload may carry into float64
func AsFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	case json.Number:
		f, err := n.Float64()
		return f, err == nil
	default:
		return 0, false
	}
}
