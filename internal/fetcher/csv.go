package fetcher

import (
	"bytes"
	"context"
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/go-resty/resty/v2"

	"github.com/yairfalse/rankwatch/pkg/types"
)

var utf8BOM = []byte{0xEF, 0xBB, 0xBF}

// CSVFetcher reads a published CSV export, over HTTP or from a local path
type CSVFetcher struct {
	client *resty.Client
}

// NewCSVFetcher creates a CSV fetcher sharing the given HTTP client
func NewCSVFetcher(client *resty.Client) *CSVFetcher {
	return &CSVFetcher{client: client}
}

// Fetch implements SnapshotFetcher
func (f *CSVFetcher) Fetch(ctx context.Context, src *types.Source) (*types.RawTable, error) {
	data, err := f.read(ctx, src.Fetch.URL)
	if err != nil {
		return nil, err
	}
	return ParseCSV(bytes.NewReader(data))
}

func (f *CSVFetcher) read(ctx context.Context, location string) ([]byte, error) {
	switch {
	case strings.HasPrefix(location, "http://"), strings.HasPrefix(location, "https://"):
		return get(ctx, f.client, location)
	case strings.HasPrefix(location, "file://"):
		return os.ReadFile(strings.TrimPrefix(location, "file://"))
	default:
		return os.ReadFile(location)
	}
}

// ParseCSV reads a header row followed by data rows. A UTF-8 byte order
// mark is ignored and ragged rows are allowed.
func ParseCSV(r io.Reader) (*types.RawTable, error) {
	raw, err := io.ReadAll(r)
	if err != nil {
		return nil, err
	}
	raw = bytes.TrimPrefix(raw, utf8BOM)

	reader := csv.NewReader(bytes.NewReader(raw))
	reader.FieldsPerRecord = -1
	reader.TrimLeadingSpace = true

	records, err := reader.ReadAll()
	if err != nil {
		return nil, fmt.Errorf("failed to parse CSV: %w", err)
	}
	if len(records) == 0 {
		return &types.RawTable{}, nil
	}

	table := &types.RawTable{Headers: records[0]}
	for _, rec := range records[1:] {
		if anyText(rec) {
			table.Rows = append(table.Rows, rec)
		}
	}
	return table, nil
}
