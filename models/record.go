package models

import (
	"bytes"
	"encoding/json"
	"strings"
)

// RawRecord holds the uncleaned string fragments extracted from one item
// container. It never leaves the scrape pipeline.
type RawRecord struct {
	Values    map[string]string
	SourceURL string
	Page      int
	Item      int
}

// Provenance records where a Record came from.
type Provenance struct {
	SourceURL   string `json:"source_url"`
	Page        int    `json:"page"`
	Item        int    `json:"item"`
	DetailURL   string `json:"detail_url,omitempty"`
	DetailError string `json:"detail_error,omitempty"`
}

// Record is one cleaned output row. Fields fixes the key set and order;
// a nil value means the field could not be extracted.
type Record struct {
	Fields     []string
	Values     map[string]*string
	Provenance Provenance
}

// NewRecord returns a record with every field set to null.
func NewRecord(fields []string) *Record {
	r := &Record{
		Fields: append([]string(nil), fields...),
		Values: make(map[string]*string, len(fields)),
	}
	for _, f := range fields {
		r.Values[f] = nil
	}
	return r
}

// Set assigns a field value. Setting a field outside the record's field set
// is a no-op, so the key set never drifts from the schema.
func (r *Record) Set(field string, value *string) {
	if _, ok := r.Values[field]; !ok {
		return
	}
	r.Values[field] = value
}

// Get returns the value of field and whether it is non-null.
func (r *Record) Get(field string) (string, bool) {
	v := r.Values[field]
	if v == nil {
		return "", false
	}
	return *v, true
}

// Empty reports whether every field is null.
func (r *Record) Empty() bool {
	for _, v := range r.Values {
		if v != nil {
			return false
		}
	}
	return true
}

// ContentKey is the equality key over field values, ignoring provenance.
func (r *Record) ContentKey() string {
	var b strings.Builder
	for _, f := range r.Fields {
		b.WriteString(f)
		b.WriteByte('\x1f')
		if v := r.Values[f]; v != nil {
			b.WriteByte('=')
			b.WriteString(*v)
		} else {
			b.WriteByte('~')
		}
		b.WriteByte('\x1e')
	}
	return b.String()
}

// AddFields extends the record's field set with null values. Existing
// fields are left untouched.
func (r *Record) AddFields(fields []string) {
	for _, f := range fields {
		if _, ok := r.Values[f]; ok {
			continue
		}
		r.Fields = append(r.Fields, f)
		r.Values[f] = nil
	}
}

// Merge copies other's values into r, adding any fields r lacks.
func (r *Record) Merge(other *Record) {
	r.AddFields(other.Fields)
	for _, f := range other.Fields {
		r.Values[f] = other.Values[f]
	}
}

// MarshalJSON writes the record as a flat object in field order.
func (r Record) MarshalJSON() ([]byte, error) {
	return r.marshal(false)
}

// MarshalJSONWithProvenance is MarshalJSON plus a trailing "_provenance" key.
func (r Record) MarshalJSONWithProvenance() ([]byte, error) {
	return r.marshal(true)
}

func (r Record) marshal(withProvenance bool) ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte('{')
	for i, f := range r.Fields {
		if i > 0 {
			buf.WriteByte(',')
		}
		key, err := json.Marshal(f)
		if err != nil {
			return nil, err
		}
		buf.Write(key)
		buf.WriteByte(':')
		val, err := json.Marshal(r.Values[f])
		if err != nil {
			return nil, err
		}
		buf.Write(val)
	}
	if withProvenance {
		if len(r.Fields) > 0 {
			buf.WriteByte(',')
		}
		prov, err := json.Marshal(r.Provenance)
		if err != nil {
			return nil, err
		}
		buf.WriteString(`"_provenance":`)
		buf.Write(prov)
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}

// StringPtr returns a pointer to s.
func StringPtr(s string) *string {
	return &s
}
