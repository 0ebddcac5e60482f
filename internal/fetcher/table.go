package fetcher

import (
	"fmt"
	"io"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"github.com/yairfalse/rankwatch/pkg/types"
)

// DefaultTableSelector matches every table on the page
const DefaultTableSelector = "table"

// ParseHTMLTable extracts one table from an HTML document. With index 0 the
// first table holding more than one data row wins; otherwise the table at
// index among those matched by selector is used.
func ParseHTMLTable(r io.Reader, selector string, index int) (*types.RawTable, error) {
	doc, err := goquery.NewDocumentFromReader(r)
	if err != nil {
		return nil, fmt.Errorf("failed to parse HTML: %w", err)
	}
	return selectTable(doc.Selection, selector, index)
}

func selectTable(root *goquery.Selection, selector string, index int) (*types.RawTable, error) {
	if selector == "" {
		selector = DefaultTableSelector
	}
	tables := root.Find(selector)
	if tables.Length() == 0 {
		return nil, fmt.Errorf("no element matches %q", selector)
	}

	if index > 0 {
		if index >= tables.Length() {
			return nil, fmt.Errorf("table index %d out of range (%d matched %q)", index, tables.Length(), selector)
		}
		return extractTable(tables.Eq(index)), nil
	}

	var fallback *types.RawTable
	tables.EachWithBreak(func(_ int, t *goquery.Selection) bool {
		table := extractTable(t)
		if len(table.Rows) > 1 {
			fallback = table
			return false
		}
		if fallback == nil && len(table.Rows) > 0 {
			fallback = table
		}
		return true
	})
	if fallback == nil {
		return &types.RawTable{}, nil
	}
	return fallback, nil
}

// extractTable reads header cells from th elements and data rows from td
// elements. Without headers, columns are named Column_0, Column_1, ...
func extractTable(t *goquery.Selection) *types.RawTable {
	table := &types.RawTable{}

	headerRow := t.Find("thead tr").First()
	if headerRow.Length() == 0 {
		t.Find("tr").EachWithBreak(func(_ int, tr *goquery.Selection) bool {
			if tr.Find("th").Length() > 0 {
				headerRow = tr
				return false
			}
			return true
		})
	}
	headerRow.Find("th, td").Each(func(_ int, th *goquery.Selection) {
		table.Headers = append(table.Headers, cellText(th))
	})

	t.Find("tr").Each(func(_ int, tr *goquery.Selection) {
		// nested tables belong to their own parent
		if tr.ParentsFiltered("table").First().Get(0) != t.Get(0) {
			return
		}
		tds := tr.Find("td")
		if tds.Length() == 0 {
			return
		}
		if headerRow.Length() > 0 && tr.Get(0) == headerRow.Get(0) {
			return
		}
		row := make([]string, 0, tds.Length())
		tds.Each(func(_ int, td *goquery.Selection) {
			row = append(row, cellText(td))
		})
		if !anyText(row) {
			return
		}
		table.Rows = append(table.Rows, row)
	})

	if len(table.Headers) == 0 && len(table.Rows) > 0 {
		table.Headers = genericHeaders(len(table.Rows[0]))
	}
	return table
}

func genericHeaders(n int) []string {
	headers := make([]string, n)
	for i := range headers {
		headers[i] = fmt.Sprintf("Column_%d", i)
	}
	return headers
}

func cellText(s *goquery.Selection) string {
	return strings.Join(strings.Fields(s.Text()), " ")
}

func anyText(row []string) bool {
	for _, c := range row {
		if c != "" {
			return true
		}
	}
	return false
}
