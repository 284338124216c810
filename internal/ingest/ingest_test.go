package ingest

import (
	"bytes"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tealeg/xlsx/v2"

	"github.com/sells-group/contact-resolver/internal/model"
	"github.com/sells-group/contact-resolver/internal/storage"
	"github.com/sells-group/contact-resolver/pkg/salesforce"
)

func createTestXLSX(t *testing.T, sheets map[string][][]string) []byte {
	t.Helper()
	f := xlsx.NewFile()
	for name, rows := range sheets {
		sheet, err := f.AddSheet(name)
		require.NoError(t, err)
		for _, rowData := range rows {
			row := sheet.AddRow()
			for _, cellData := range rowData {
				cell := row.AddCell()
				cell.SetString(cellData)
			}
		}
	}
	var buf bytes.Buffer
	require.NoError(t, f.Write(&buf))
	return buf.Bytes()
}

func TestDecodeJSON(t *testing.T) {
	in := `[{"id": 1, "full_name": "Robert Smith", "score": 0.5}, {"id": "b1", "company": null}]`
	records, err := DecodeJSON(context.Background(), strings.NewReader(in))
	require.NoError(t, err)
	require.Len(t, records, 2)

	assert.Equal(t, "1", records[0].ID())
	assert.Equal(t, json.Number("0.5"), records[0]["score"])
	assert.Equal(t, "b1", records[1].ID())
	assert.Nil(t, records[1]["company"])
}

func TestDecodeJSON_Errors(t *testing.T) {
	tests := map[string]string{
		"empty":     "",
		"object":    `{"id": "1"}`,
		"truncated": `[{"id": "1"}`,
		"null item": `[null]`,
		"bad item":  `[1]`,
	}
	for name, in := range tests {
		t.Run(name, func(t *testing.T) {
			_, err := DecodeJSON(context.Background(), strings.NewReader(in))
			assert.Error(t, err)
		})
	}
}

func TestDecodeJSON_EmptyArray(t *testing.T) {
	records, err := DecodeJSON(context.Background(), strings.NewReader(`[]`))
	require.NoError(t, err)
	assert.Empty(t, records)
}

func TestDecodeJSON_Cancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := DecodeJSON(ctx, strings.NewReader(`[{"id":"1"}]`))
	assert.Error(t, err)
}

func TestParseXLSX(t *testing.T) {
	data := createTestXLSX(t, map[string][][]string{
		"Contacts": {
			{"ID", "Full Name", "Company", "Email"},
			{"1", "Robert Smith", "Acme", "bob@acme.com"},
			{"2", "Bob Smith", "Acme", ""},
			{"", "", "", ""},
		},
	})

	records, err := ParseXLSX(data, XLSXOptions{})
	require.NoError(t, err)
	require.Len(t, records, 2)
	assert.Equal(t, model.Record{"id": "1", "full_name": "Robert Smith", "company": "Acme", "email": "bob@acme.com"}, records[0])
	assert.Equal(t, model.Record{"id": "2", "full_name": "Bob Smith", "company": "Acme"}, records[1])
}

func TestParseXLSX_SheetSelection(t *testing.T) {
	data := createTestXLSX(t, map[string][][]string{
		"Other": {{"id"}, {"x"}},
	})

	_, err := ParseXLSX(data, XLSXOptions{SheetName: "Missing"})
	assert.ErrorContains(t, err, "not found")

	_, err = ParseXLSX(data, XLSXOptions{SheetIndex: 3})
	assert.ErrorContains(t, err, "out of range")

	records, err := ParseXLSX(data, XLSXOptions{SheetName: "Other"})
	require.NoError(t, err)
	assert.Equal(t, []model.Record{{"id": "x"}}, records)
}

func TestParseXLSX_Invalid(t *testing.T) {
	_, err := ParseXLSX([]byte("not a spreadsheet"), XLSXOptions{})
	assert.Error(t, err)
}

func TestParseCSV(t *testing.T) {
	in := "id,First Name,last_name,Phone\n1,Ann,Lee,555\n2,  Bo ,,\n\n"
	records, err := ParseCSV(context.Background(), strings.NewReader(in))
	require.NoError(t, err)
	require.Len(t, records, 2)
	assert.Equal(t, model.Record{"id": "1", "first_name": "Ann", "last_name": "Lee", "phone": "555"}, records[0])
	assert.Equal(t, model.Record{"id": "2", "first_name": "Bo"}, records[1])
}

func TestParseCSV_Empty(t *testing.T) {
	records, err := ParseCSV(context.Background(), strings.NewReader(""))
	require.NoError(t, err)
	assert.Empty(t, records)
}

func TestFieldName(t *testing.T) {
	assert.Equal(t, "full_name", FieldName(" Full Name "))
	assert.Equal(t, "e_mail", FieldName("E-Mail"))
	assert.Equal(t, "id", FieldName("ID"))
	assert.Equal(t, "", FieldName("  "))
}

func TestDetectAndParseFormat(t *testing.T) {
	assert.Equal(t, FormatXLSX, DetectFormat("s3://b/contacts.XLSX"))
	assert.Equal(t, FormatCSV, DetectFormat("export.csv"))
	assert.Equal(t, FormatJSON, DetectFormat("contacts.json"))
	assert.Equal(t, FormatJSON, DetectFormat("-"))

	f, err := ParseFormat("XLSX")
	require.NoError(t, err)
	assert.Equal(t, FormatXLSX, f)
	_, err = ParseFormat("parquet")
	assert.Error(t, err)
}

func TestLoader_Load(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "contacts.json")
	require.NoError(t, os.WriteFile(path, []byte(`[{"id":"a1"},{"id":"a2"}]`), 0o644))

	l := NewLoader(storage.New(storage.Config{}))
	records, err := l.Load(context.Background(), path, FormatAuto)
	require.NoError(t, err)
	assert.Len(t, records, 2)

	xlsxPath := filepath.Join(dir, "contacts.xlsx")
	require.NoError(t, os.WriteFile(xlsxPath, createTestXLSX(t, map[string][][]string{
		"Sheet1": {{"id", "full_name"}, {"7", "Ann Lee"}},
	}), 0o644))
	records, err = l.Load(context.Background(), xlsxPath, FormatAuto)
	require.NoError(t, err)
	assert.Equal(t, []model.Record{{"id": "7", "full_name": "Ann Lee"}}, records)

	_, err = l.Load(context.Background(), filepath.Join(dir, "missing.json"), FormatAuto)
	assert.Error(t, err)
}

func TestLoader_Stdin(t *testing.T) {
	st := storage.New(storage.Config{}, storage.WithStdio(strings.NewReader(`[{"id":"s1"}]`), nil))
	records, err := NewLoader(st).Load(context.Background(), storage.Stdio, FormatAuto)
	require.NoError(t, err)
	assert.Equal(t, "s1", records[0].ID())
}

type fakeSF struct {
	contacts []salesforce.Contact
	soql     string
}

func (f *fakeSF) Query(_ context.Context, soql string, out any) error {
	f.soql = soql
	*out.(*[]salesforce.Contact) = f.contacts
	return nil
}

func TestLoadSalesforce(t *testing.T) {
	sf := &fakeSF{contacts: []salesforce.Contact{
		{
			ID: "003a", FirstName: "Robert", LastName: "Smith", Name: "Robert Smith",
			Email: "bob@acme.com", Phone: "555-1", MobilePhone: "555-2", Title: "CTO",
			Account: &salesforce.ContactAccount{Name: "Acme"}, MailingCity: "Austin", MailingState: "TX",
		},
		{ID: "003b", FirstName: "Ann", LastName: "Lee", MobilePhone: "555-3"},
	}}

	records, err := LoadSalesforce(context.Background(), sf, salesforce.ContactFilter{AccountID: "001"})
	require.NoError(t, err)
	assert.Contains(t, sf.soql, "AccountId = '001'")
	require.Len(t, records, 2)

	assert.Equal(t, model.Record{
		"id": "003a", "source": "salesforce", "full_name": "Robert Smith", "first_name": "Robert",
		"last_name": "Smith", "email": "bob@acme.com", "title": "CTO", "company": "Acme",
		"phone": "555-1", "mobile_phone": "555-2", "location": "Austin, TX",
	}, records[0])
	assert.Equal(t, model.Record{
		"id": "003b", "source": "salesforce", "full_name": "Ann Lee", "first_name": "Ann",
		"last_name": "Lee", "phone": "555-3",
	}, records[1])
}
