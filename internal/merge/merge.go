// Package merge folds a group of duplicate contact records into one
// MergedEntity without discarding any value.
package merge

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/rotisserie/eris"

	"github.com/sells-group/contact-resolver/internal/model"
)

// UnknownName is the canonical name of a group with no name values.
const UnknownName = "Unknown"

// ErrEmptyGroup is returned when Merge is given no records.
var ErrEmptyGroup = eris.New("merge: empty group")

// Tracked field buckets, in collection order.
var (
	nameFields    = []string{model.FieldFullName, model.FieldFirstName, model.FieldLastName}
	emailFields   = []string{model.FieldEmail}
	phoneFields   = []string{model.FieldPhone}
	companyFields = []string{model.FieldCompany}
	titleFields   = []string{model.FieldTitle}
)

var bucketed = func() map[string]bool {
	m := map[string]bool{model.FieldID: true, model.FieldSource: true}
	for _, fields := range [][]string{nameFields, emailFields, phoneFields, companyFields, titleFields} {
		for _, f := range fields {
			m[f] = true
		}
	}
	return m
}()

// Merger builds merged entities.
type Merger struct {
	now func() time.Time
}

// NewMerger returns a Merger stamping entities with the current time.
func NewMerger() *Merger {
	return &Merger{now: time.Now}
}

// WithClock returns a Merger that uses now for merge timestamps.
func WithClock(now func() time.Time) *Merger {
	return &Merger{now: now}
}

// Merge combines group into one entity. canonical_id is primaryID when
// given, else the first record's id. Every input record is kept verbatim in
// SourceRecords.
func (m *Merger) Merge(group []model.Record, primaryID string) (*model.MergedEntity, error) {
	if len(group) == 0 {
		return nil, ErrEmptyGroup
	}

	canonicalID := primaryID
	if canonicalID == "" {
		canonicalID = group[0].ID()
	}

	e := &model.MergedEntity{
		CanonicalID:    canonicalID,
		AllNames:       collect(group, nameFields),
		AllEmails:      collect(group, emailFields),
		AllPhones:      collect(group, phoneFields),
		AllCompanies:   collect(group, companyFields),
		AllTitles:      collect(group, titleFields),
		OtherFields:    make(map[string][]model.FieldValue),
		SourceRecords:  make([]model.Record, len(group)),
		MergeTimestamp: m.now().UTC().Format(time.RFC3339),
		Conflicts:      conflicts(group),
	}
	e.CanonicalName = canonicalName(e.AllNames)

	for i, r := range group {
		e.SourceRecords[i] = r.Clone()
		for _, f := range sortedFields(r) {
			if bucketed[f] {
				continue
			}
			if _, ok := e.OtherFields[f]; !ok {
				e.OtherFields[f] = collect(group, []string{f})
			}
		}
	}
	return e, nil
}

// collect gathers the non-empty values of fields across group, in group
// order then field order, skipping values already kept for this bucket.
func collect(group []model.Record, fields []string) []model.FieldValue {
	out := []model.FieldValue{}
	seen := make(map[string]bool)
	for _, r := range group {
		for _, f := range fields {
			v, ok := r[f]
			if !ok || model.IsEmptyValue(v) {
				continue
			}
			k := valueKey(v)
			if seen[k] {
				continue
			}
			seen[k] = true
			out = append(out, model.FieldValue{
				Value:    v,
				Field:    f,
				Source:   r.Source(),
				RecordID: r.ID(),
			})
		}
	}
	return out
}

// canonicalName prefers the first variant without an abbreviation period.
func canonicalName(names []model.FieldValue) string {
	for _, n := range names {
		s := fmt.Sprint(n.Value)
		if !strings.Contains(s, ".") {
			return s
		}
	}
	if len(names) > 0 {
		return fmt.Sprint(names[0].Value)
	}
	return UnknownName
}

// conflicts reports every field, other than id and source, that took more
// than one distinct non-empty value across group.
func conflicts(group []model.Record) []model.Conflict {
	var order []string
	values := make(map[string][]any)
	seen := make(map[string]map[string]bool)
	for _, r := range group {
		for _, f := range sortedFields(r) {
			if f == model.FieldID || f == model.FieldSource {
				continue
			}
			v := r[f]
			if model.IsEmptyValue(v) {
				continue
			}
			if seen[f] == nil {
				seen[f] = make(map[string]bool)
				order = append(order, f)
			}
			k := valueKey(v)
			if seen[f][k] {
				continue
			}
			seen[f][k] = true
			values[f] = append(values[f], v)
		}
	}

	out := []model.Conflict{}
	for _, f := range order {
		if len(values[f]) > 1 {
			out = append(out, model.Conflict{Field: f, Values: values[f]})
		}
	}
	return out
}

// sortedFields returns the record's field names in a stable order.
func sortedFields(r model.Record) []string {
	keys := make([]string, 0, len(r))
	for k := range r {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// valueKey returns a comparable identity for a JSON value so that composite
// values can be deduplicated too.
func valueKey(v any) string {
	if s, ok := v.(string); ok {
		return "s:" + s
	}
	b, err := json.Marshal(v)
	if err != nil {
		return fmt.Sprintf("%T:%v", v, v)
	}
	return "j:" + string(b)
}
