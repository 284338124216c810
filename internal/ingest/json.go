package ingest

import (
	"context"
	"encoding/json"
	"errors"
	"io"

	"github.com/rotisserie/eris"

	"github.com/sells-group/contact-resolver/internal/model"
)

// DecodeJSON reads a JSON array of contact objects element by element.
// Numbers are kept as json.Number so ids and values round-trip unchanged.
func DecodeJSON(ctx context.Context, r io.Reader) ([]model.Record, error) {
	decoder := json.NewDecoder(r)
	decoder.UseNumber()

	tok, err := decoder.Token()
	if err != nil {
		if errors.Is(err, io.EOF) {
			return nil, eris.New("json: empty input")
		}
		return nil, eris.Wrap(err, "json: read opening token")
	}
	if delim, ok := tok.(json.Delim); !ok || delim != '[' {
		return nil, eris.Errorf("json: expected '[', got %v", tok)
	}

	records := []model.Record{}
	for decoder.More() {
		if ctx.Err() != nil {
			return nil, eris.Wrap(ctx.Err(), "json: context cancelled")
		}
		var rec model.Record
		if err := decoder.Decode(&rec); err != nil {
			return nil, eris.Wrapf(err, "json: decode element %d", len(records))
		}
		if rec == nil {
			return nil, eris.Errorf("json: element %d is null", len(records))
		}
		records = append(records, rec)
	}

	if _, err := decoder.Token(); err != nil {
		return nil, eris.Wrap(err, "json: read closing token")
	}
	return records, nil
}
