package models

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"strings"
)

// FieldKind selects the normalization applied to a field's raw value.
type FieldKind string

const (
	KindText  FieldKind = "text"
	KindEmail FieldKind = "email"
	KindURL   FieldKind = "url"
)

// Field is a single target field: its output name, the natural-language
// hint given to the model, and its normalization kind.
type Field struct {
	Name string    `json:"name"`
	Hint string    `json:"hint"`
	Kind FieldKind `json:"kind"`
}

// Schema is the ordered set of fields to extract. Field order defines
// output order. A Schema is treated as immutable once parsed.
type Schema struct {
	Fields []Field
}

// fieldSpec is the object form of a schema value:
//
//	{"email": {"description": "contact address", "type": "email"}}
type fieldSpec struct {
	Description string `json:"description"`
	Hint        string `json:"hint,omitempty"`
	Type        string `json:"type,omitempty"`
}

// NewSchema builds a schema from alternating name/hint pairs, detecting
// kinds from the names. It panics on an odd argument count.
func NewSchema(pairs ...string) *Schema {
	if len(pairs)%2 != 0 {
		panic("models: NewSchema requires name/hint pairs")
	}
	s := &Schema{Fields: make([]Field, 0, len(pairs)/2)}
	for i := 0; i < len(pairs); i += 2 {
		s.Fields = append(s.Fields, Field{
			Name: pairs[i],
			Hint: pairs[i+1],
			Kind: DetectKind(pairs[i]),
		})
	}
	return s
}

// ParseSchema decodes a flat JSON object into a Schema, preserving key order.
// Values are hint strings, or objects with "description" and "type".
func ParseSchema(data []byte) (*Schema, error) {
	dec := json.NewDecoder(bytes.NewReader(data))

	tok, err := dec.Token()
	if err != nil {
		return nil, NewScrapeError(ErrCodeConfiguration, "schema is not valid JSON", err)
	}
	if d, ok := tok.(json.Delim); !ok || d != '{' {
		return nil, ConfigError("schema must be a JSON object of field name to description")
	}

	s := &Schema{}
	for dec.More() {
		tok, err := dec.Token()
		if err != nil {
			return nil, NewScrapeError(ErrCodeConfiguration, "schema is not valid JSON", err)
		}
		name, _ := tok.(string)

		var raw json.RawMessage
		if err := dec.Decode(&raw); err != nil {
			return nil, NewScrapeError(ErrCodeConfiguration, fmt.Sprintf("schema field %q has an invalid value", name), err)
		}

		field, err := parseField(name, raw)
		if err != nil {
			return nil, err
		}
		s.Fields = append(s.Fields, field)
	}
	if _, err := dec.Token(); err != nil {
		return nil, NewScrapeError(ErrCodeConfiguration, "schema is not valid JSON", err)
	}

	if err := s.Validate(); err != nil {
		return nil, err
	}
	return s, nil
}

func parseField(name string, raw json.RawMessage) (Field, error) {
	f := Field{Name: strings.TrimSpace(name)}
	trimmed := bytes.TrimSpace(raw)

	switch {
	case len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null")):
	case trimmed[0] == '"':
		if err := json.Unmarshal(trimmed, &f.Hint); err != nil {
			return f, NewScrapeError(ErrCodeConfiguration, fmt.Sprintf("schema field %q has an invalid hint", name), err)
		}
	case trimmed[0] == '{':
		var spec fieldSpec
		if err := json.Unmarshal(trimmed, &spec); err != nil {
			return f, NewScrapeError(ErrCodeConfiguration, fmt.Sprintf("schema field %q has an invalid definition", name), err)
		}
		f.Hint = spec.Description
		if f.Hint == "" {
			f.Hint = spec.Hint
		}
		if spec.Type != "" {
			kind, ok := parseKind(spec.Type)
			if !ok {
				return f, ConfigError("schema field %q has unknown type %q (want text, email or url)", name, spec.Type)
			}
			f.Kind = kind
		}
	default:
		return f, ConfigError("schema field %q must map to a description string", name)
	}

	if f.Kind == "" {
		f.Kind = DetectKind(f.Name)
	}
	return f, nil
}

// LoadSchema reads and parses a schema file.
func LoadSchema(path string) (*Schema, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, NewScrapeError(ErrCodeConfiguration, fmt.Sprintf("cannot read schema file %s", path), err)
	}
	return ParseSchema(data)
}

// Validate checks that the schema has at least one field and that names
// are non-empty and unique.
func (s *Schema) Validate() error {
	if s == nil || len(s.Fields) == 0 {
		return ConfigError("schema must declare at least one field")
	}
	seen := make(map[string]struct{}, len(s.Fields))
	for _, f := range s.Fields {
		if f.Name == "" {
			return ConfigError("schema contains an empty field name")
		}
		if _, dup := seen[f.Name]; dup {
			return ConfigError("schema field %q is declared twice", f.Name)
		}
		seen[f.Name] = struct{}{}
	}
	return nil
}

// Names returns the field names in declaration order.
func (s *Schema) Names() []string {
	names := make([]string, len(s.Fields))
	for i, f := range s.Fields {
		names[i] = f.Name
	}
	return names
}

// Field looks up a field by name.
func (s *Schema) Field(name string) (Field, bool) {
	for _, f := range s.Fields {
		if f.Name == name {
			return f, true
		}
	}
	return Field{}, false
}

// WithKind returns a copy of the schema with field name forced to kind.
// The receiver is not modified.
func (s *Schema) WithKind(name string, kind FieldKind) *Schema {
	c := &Schema{Fields: append([]Field(nil), s.Fields...)}
	for i := range c.Fields {
		if c.Fields[i].Name == name {
			c.Fields[i].Kind = kind
		}
	}
	return c
}

// Has reports whether the schema declares name.
func (s *Schema) Has(name string) bool {
	_, ok := s.Field(name)
	return ok
}

// Fingerprint identifies the schema's content for cache keys.
func (s *Schema) Fingerprint() string {
	h := sha256.New()
	for _, f := range s.Fields {
		h.Write([]byte(f.Name))
		h.Write([]byte{0})
		h.Write([]byte(f.Hint))
		h.Write([]byte{0})
		h.Write([]byte(f.Kind))
		h.Write([]byte{0})
	}
	return hex.EncodeToString(h.Sum(nil))
}

// MarshalJSON writes the schema back in its flat object form, in field order.
func (s Schema) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte('{')
	for i, f := range s.Fields {
		if i > 0 {
			buf.WriteByte(',')
		}
		key, err := json.Marshal(f.Name)
		if err != nil {
			return nil, err
		}
		buf.Write(key)
		buf.WriteByte(':')

		var val []byte
		if f.Kind == DetectKind(f.Name) {
			val, err = json.Marshal(f.Hint)
		} else {
			val, err = json.Marshal(fieldSpec{Description: f.Hint, Type: string(f.Kind)})
		}
		if err != nil {
			return nil, err
		}
		buf.Write(val)
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}

// UnmarshalJSON lets a Schema be embedded directly in request payloads.
func (s *Schema) UnmarshalJSON(data []byte) error {
	parsed, err := ParseSchema(data)
	if err != nil {
		return err
	}
	*s = *parsed
	return nil
}

// DetectKind guesses a field's kind from its name.
func DetectKind(name string) FieldKind {
	n := strings.ToLower(name)
	switch {
	case strings.Contains(n, "email"), strings.Contains(n, "e-mail"), strings.Contains(n, "e_mail"), n == "mail":
		return KindEmail
	case strings.Contains(n, "url"), strings.Contains(n, "link"), strings.Contains(n, "href"),
		strings.Contains(n, "website"), strings.Contains(n, "homepage"):
		return KindURL
	default:
		return KindText
	}
}

func parseKind(s string) (FieldKind, bool) {
	switch FieldKind(strings.ToLower(strings.TrimSpace(s))) {
	case KindText, "string":
		return KindText, true
	case KindEmail:
		return KindEmail, true
	case KindURL, "link":
		return KindURL, true
	}
	return "", false
}
