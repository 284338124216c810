// Package ingest loads contact records from JSON, XLSX, and CSV files
// (local, stdin, or S3) and from Salesforce.
package ingest

import (
	"bytes"
	"context"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/contact-resolver/internal/model"
	"github.com/sells-group/contact-resolver/internal/storage"
)

// Format names an input file format.
type Format string

const (
	FormatAuto Format = ""
	FormatJSON Format = "json"
	FormatXLSX Format = "xlsx"
	FormatCSV  Format = "csv"
)

// ParseFormat validates a user-supplied format name.
func ParseFormat(s string) (Format, error) {
	switch f := Format(strings.ToLower(strings.TrimSpace(s))); f {
	case FormatAuto, FormatJSON, FormatXLSX, FormatCSV:
		return f, nil
	default:
		return "", eris.Errorf("ingest: unknown format %q", s)
	}
}

// DetectFormat infers the format from a location's extension. Unknown
// extensions and stdin default to JSON.
func DetectFormat(location string) Format {
	switch strings.ToLower(filepath.Ext(location)) {
	case ".xlsx":
		return FormatXLSX
	case ".csv":
		return FormatCSV
	default:
		return FormatJSON
	}
}

// Loader reads records through a Storage.
type Loader struct {
	store *storage.Storage
}

// NewLoader creates a Loader.
func NewLoader(st *storage.Storage) *Loader {
	return &Loader{store: st}
}

// Load reads and parses the records at location.
func (l *Loader) Load(ctx context.Context, location string, format Format) ([]model.Record, error) {
	if format == FormatAuto {
		format = DetectFormat(location)
	}
	data, err := l.store.ReadAll(ctx, location)
	if err != nil {
		return nil, eris.Wrap(err, "ingest: read input")
	}
	records, err := Parse(ctx, data, format)
	if err != nil {
		return nil, eris.Wrapf(err, "ingest: parse %s", location)
	}
	zap.L().Info("ingest: loaded records",
		zap.String("location", location),
		zap.String("format", string(format)),
		zap.Int("records", len(records)),
	)
	return records, nil
}

// Parse decodes raw input in the given format.
func Parse(ctx context.Context, data []byte, format Format) ([]model.Record, error) {
	switch format {
	case FormatXLSX:
		return ParseXLSX(data, XLSXOptions{})
	case FormatCSV:
		return ParseCSV(ctx, bytes.NewReader(data))
	case FormatJSON, FormatAuto:
		return DecodeJSON(ctx, bytes.NewReader(data))
	default:
		return nil, eris.Errorf("ingest: unknown format %q", format)
	}
}

var nonWord = regexp.MustCompile(`[^a-z0-9]+`)

// FieldName normalizes a spreadsheet header to a record field name:
// "Full Name" becomes "full_name".
func FieldName(header string) string {
	s := strings.ToLower(strings.TrimSpace(header))
	s = nonWord.ReplaceAllString(s, "_")
	return strings.Trim(s, "_")
}

// rowsToRecords turns a header row plus data rows into records. Blank
// cells are omitted and fully blank rows are skipped.
func rowsToRecords(header []string, rows [][]string) []model.Record {
	fields := make([]string, len(header))
	for i, h := range header {
		fields[i] = FieldName(h)
	}

	var out []model.Record
	for _, row := range rows {
		r := model.Record{}
		for i, cell := range row {
			if i >= len(fields) || fields[i] == "" {
				continue
			}
			cell = strings.TrimSpace(cell)
			if cell == "" {
				continue
			}
			r[fields[i]] = cell
		}
		if len(r) > 0 {
			out = append(out, r)
		}
	}
	return out
}
