package model

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"github.com/rotisserie/eris"
)

// Recognized contact fields. Records may carry any other field as well.
const (
	FieldID        = "id"
	FieldFullName  = "full_name"
	FieldFirstName = "first_name"
	FieldLastName  = "last_name"
	FieldEmail     = "email"
	FieldPhone     = "phone"
	FieldCompany   = "company"
	FieldTitle     = "title"
	FieldLinkedIn  = "linkedin"
	FieldLocation  = "location"
	FieldSource    = "source"
)

// UnknownSource labels provenance entries for records without a source.
const UnknownSource = "unknown"

// Record is a single contact as loaded from a source system. Keys are field
// names; values are JSON scalars. Records are treated as immutable once
// loaded.
type Record map[string]any

// ID returns the record identifier as a string.
func (r Record) ID() string {
	return r.String(FieldID)
}

// String returns the string form of a field, or "" when absent or null.
func (r Record) String(field string) string {
	v, ok := r[field]
	if !ok || v == nil {
		return ""
	}
	switch t := v.(type) {
	case string:
		return t
	case json.Number:
		return t.String()
	default:
		return fmt.Sprint(t)
	}
}

// Source returns the record's source label, defaulting to UnknownSource.
func (r Record) Source() string {
	if s := r.String(FieldSource); s != "" {
		return s
	}
	return UnknownSource
}

// Clone returns a shallow copy of the record.
func (r Record) Clone() Record {
	out := make(Record, len(r))
	for k, v := range r {
		out[k] = v
	}
	return out
}

// IsEmptyValue reports whether v carries no information: nil, or a string
// that is blank after trimming.
func IsEmptyValue(v any) bool {
	switch t := v.(type) {
	case nil:
		return true
	case string:
		return strings.TrimSpace(t) == ""
	default:
		return false
	}
}

// DecodeRecords reads a JSON array of records. Numbers are kept as
// json.Number so values round-trip unchanged.
func DecodeRecords(r io.Reader) ([]Record, error) {
	dec := json.NewDecoder(r)
	dec.UseNumber()
	var records []Record
	if err := dec.Decode(&records); err != nil {
		return nil, eris.Wrap(err, "model: decode records")
	}
	return records, nil
}

// UnmarshalRecords decodes a JSON array of records from raw bytes.
func UnmarshalRecords(data []byte) ([]Record, error) {
	return DecodeRecords(bytes.NewReader(data))
}

// ValidateRecords checks that every record has a non-empty, unique id.
func ValidateRecords(records []Record) error {
	seen := make(map[string]int, len(records))
	for i, r := range records {
		id := r.ID()
		if strings.TrimSpace(id) == "" {
			return eris.Wrapf(ErrMissingID, "record %d", i)
		}
		if prev, ok := seen[id]; ok {
			return eris.Wrapf(ErrDuplicateID, "id %q at records %d and %d", id, prev, i)
		}
		seen[id] = i
	}
	return nil
}

// Record validation errors.
var (
	ErrMissingID   = eris.New("record has no id")
	ErrDuplicateID = eris.New("duplicate record id")
)
