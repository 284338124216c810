package main

import (
	"bytes"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/fatih/color"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/contact-resolver/internal/model"
	"github.com/sells-group/contact-resolver/internal/pipeline"
	"github.com/sells-group/contact-resolver/internal/storage"
)

func TestApplyDedupeFlags(t *testing.T) {
	c := testConfig()
	f := dedupeCmd.Flags()
	require.NoError(t, f.Set("threshold", "0.9"))
	require.NoError(t, f.Set("concurrency", "8"))
	t.Cleanup(func() {
		f.Lookup("threshold").Changed = false
		f.Lookup("concurrency").Changed = false
		dedupeThreshold, dedupeConcurrency = 0, 0
	})

	applyDedupeFlags(dedupeCmd, c)

	assert.Equal(t, 0.9, c.Pipeline.ConfidenceThreshold)
	assert.Equal(t, 8, c.Pipeline.Concurrency)
	assert.Equal(t, 4, c.Pipeline.BatchSize, "unset flags keep config values")
}

func TestWriteJSON(t *testing.T) {
	path := filepath.Join(t.TempDir(), "out", "stats.json")
	store := storage.New(storage.Config{})

	require.NoError(t, writeJSON(context.Background(), store, path, model.Stats{RunID: "r1", FinalCount: 3}))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), "\n  \"run_id\": \"r1\"")

	var s model.Stats
	require.NoError(t, json.Unmarshal(data, &s))
	assert.Equal(t, 3, s.FinalCount)
}

func TestLoadContacts_File(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "contacts.csv")
	require.NoError(t, os.WriteFile(path, []byte("ID,Full Name,Company\nc1,Jane Doe,Acme\nc2,John Roe,\n"), 0o644))

	prevInput, prevFormat := dedupeInput, dedupeFormat
	t.Cleanup(func() { dedupeInput, dedupeFormat = prevInput, prevFormat })
	dedupeInput, dedupeFormat = path, ""

	records, err := loadContacts(context.Background(), storage.New(storage.Config{}))
	require.NoError(t, err)
	require.Len(t, records, 2)
	assert.Equal(t, "Jane Doe", records[0].String("full_name"))
	_, hasCompany := records[1]["company"]
	assert.False(t, hasCompany)
}

func TestLoadContacts_BadFormat(t *testing.T) {
	prevInput, prevFormat := dedupeInput, dedupeFormat
	t.Cleanup(func() { dedupeInput, dedupeFormat = prevInput, prevFormat })
	dedupeInput, dedupeFormat = "contacts.txt", "parquet"

	_, err := loadContacts(context.Background(), storage.New(storage.Config{}))
	require.Error(t, err)
}

func TestConnectSalesforce_RequiresKeyPath(t *testing.T) {
	c := testConfig()
	_, err := connectSalesforce(c)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "key_path")
}

func TestPrintSummary(t *testing.T) {
	prev := color.NoColor
	color.NoColor = true
	t.Cleanup(func() { color.NoColor = prev })

	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	p := pipeline.New(mergeAll, pipeline.DefaultOptions(),
		pipeline.WithClock(func() time.Time { return now }),
		pipeline.WithRunIDs(func() string { return "run-sum" }),
	)
	result, err := p.Deduplicate(context.Background(), []model.Record{
		{"id": "a1", "full_name": "Jane Doe", "company": "Acme"},
		{"id": "a2", "full_name": "Jane Doe", "company": "Acme"},
		{"id": "b1", "full_name": "Bob Roe", "company": "Globex"},
	})
	require.NoError(t, err)

	var buf bytes.Buffer
	printSummary(&buf, result)
	out := buf.String()

	assert.Contains(t, out, "Run run-sum: complete")
	assert.Contains(t, out, "Input:        3")
	assert.Contains(t, out, "Output:       2")
	assert.Contains(t, out, "Reduction:    1 (33.3%)")
	assert.NotContains(t, out, "Failed:")
}

func TestPercent(t *testing.T) {
	assert.Equal(t, 0.0, percent(1, 0))
	assert.Equal(t, 50.0, percent(1, 2))
}
