package model

// FieldValue records one value contributed to a merged entity, with the
// field, source system, and record it came from.
type FieldValue struct {
	Value    any    `json:"value"`
	Field    string `json:"field"`
	Source   string `json:"source"`
	RecordID string `json:"record_id"`
}

// Conflict lists the distinct values a field took across a merge group.
type Conflict struct {
	Field  string `json:"field"`
	Values []any  `json:"values"`
}

// MergedEntity is the lossless union of a merge group. SourceRecords holds
// every input record verbatim.
type MergedEntity struct {
	CanonicalID    string                  `json:"canonical_id"`
	CanonicalName  string                  `json:"canonical_name"`
	AllNames       []FieldValue            `json:"all_names"`
	AllEmails      []FieldValue            `json:"all_emails"`
	AllPhones      []FieldValue            `json:"all_phones"`
	AllCompanies   []FieldValue            `json:"all_companies"`
	AllTitles      []FieldValue            `json:"all_titles"`
	OtherFields    map[string][]FieldValue `json:"other_fields"`
	SourceRecords  []Record                `json:"source_records"`
	MergeTimestamp string                  `json:"merge_timestamp"`
	Conflicts      []Conflict              `json:"conflicts"`
}

// RecordIDs returns the ids of the entity's source records in order.
func (e *MergedEntity) RecordIDs() []string {
	ids := make([]string, len(e.SourceRecords))
	for i, r := range e.SourceRecords {
		ids[i] = r.ID()
	}
	return ids
}
