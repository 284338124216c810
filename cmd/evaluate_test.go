package main

import (
	"bytes"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/fatih/color"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/contact-resolver/internal/evaluate"
	"github.com/sells-group/contact-resolver/internal/storage"
)

func TestRunEvaluation(t *testing.T) {
	dir := t.TempDir()
	contacts := filepath.Join(dir, "contacts.json")
	labels := filepath.Join(dir, "labels.json")
	output := filepath.Join(dir, "report.json")
	require.NoError(t, os.WriteFile(contacts, []byte(`[
		{"id": "c1", "full_name": "Jane Doe", "company": "Acme"},
		{"id": "c2", "full_name": "Jane Doe", "company": "Acme"},
		{"id": "c3", "full_name": "Bob Roe", "company": "Globex"}
	]`), 0o644))
	require.NoError(t, os.WriteFile(labels, []byte(`[
		{"entity_a_id": "c1", "entity_b_id": "c2", "is_match": true},
		{"entity_a_id": "c1", "entity_b_id": "c3", "is_match": false},
		{"entity_a_id": "c1", "entity_b_id": "zz", "is_match": false}
	]`), 0o644))

	prevCfg := cfg
	prevContacts, prevLabels, prevOutput, prevTop := evalContacts, evalLabels, evalOutput, evalTopErrors
	t.Cleanup(func() {
		cfg = prevCfg
		evalContacts, evalLabels, evalOutput, evalTopErrors = prevContacts, prevLabels, prevOutput, prevTop
	})
	cfg = testConfig()
	evalContacts, evalLabels, evalOutput, evalTopErrors = contacts, labels, output, 5

	report, err := runEvaluation(context.Background(), storage.New(storage.Config{}), mergeAll)
	require.NoError(t, err)

	assert.Equal(t, 1, report.Metrics.TruePositives)
	assert.Equal(t, 1, report.Metrics.FalsePositives)
	assert.Len(t, report.Errors, 1)
	assert.Len(t, report.Skipped, 1)

	data, err := os.ReadFile(output)
	require.NoError(t, err)
	var written evaluate.Report
	require.NoError(t, json.Unmarshal(data, &written))
	assert.Equal(t, report.Metrics, written.Metrics)

	color.NoColor = true
	var buf bytes.Buffer
	printReport(&buf, report)
	assert.Contains(t, buf.String(), "F1 improvement over baseline")
	assert.Contains(t, buf.String(), "Skipped labels: 1")
}
