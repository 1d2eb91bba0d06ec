package catalog

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"github.com/knowledge-engine/catalogsearch/internal/search"
)

// Record is one catalog row. Text is the searchable field; every other
// column is carried through unchanged in Attributes.
type Record struct {
	ID         string            `json:"id"`
	Text       string            `json:"text"`
	Attributes map[string]string `json:"attributes,omitempty"`
}

// Catalog is an ordered set of records. Record order defines the index
// used by the document matrix.
type Catalog struct {
	Records []Record
}

// Len is the number of records.
func (c *Catalog) Len() int {
	if c == nil {
		return 0
	}
	return len(c.Records)
}

// Texts returns the raw text of every record in catalog order.
func (c *Catalog) Texts() []string {
	texts := make([]string, len(c.Records))
	for i, r := range c.Records {
		texts[i] = r.Text
	}
	return texts
}

// Options select which columns feed the record fields.
type Options struct {
	IDColumn string
	// TextColumns are joined with a space to form Record.Text.
	TextColumns []string
	StripMarkup bool
}

// DefaultOptions reads the product dataset layout.
func DefaultOptions() Options {
	return Options{
		IDColumn:    "product_id",
		TextColumns: []string{"product_name", "product_description"},
	}
}

// fallbackTextColumns are used when none of the configured columns exist.
var fallbackTextColumns = []string{"text", "description"}

// Load reads a catalog from a file path or an http(s) URL.
func Load(ctx context.Context, source string, opts Options, fetcher *Fetcher) (*Catalog, error) {
	if isRemote(source) {
		if fetcher == nil {
			fetcher = NewFetcher(0)
		}
		body, err := fetcher.Fetch(ctx, source)
		if err != nil {
			return nil, search.Wrap(search.KindLoad, "fetch catalog", err)
		}
		defer body.Close()
		return LoadCSV(body, opts)
	}

	f, err := os.Open(source)
	if err != nil {
		return nil, search.Wrap(search.KindLoad, "open catalog", err)
	}
	defer f.Close()
	return LoadCSV(f, opts)
}

// LoadCSV parses a CSV catalog with a header row. Missing cells become
// empty strings.
func LoadCSV(r io.Reader, opts Options) (*Catalog, error) {
	const op = "parse catalog"

	reader := csv.NewReader(r)
	reader.FieldsPerRecord = -1

	header, err := reader.Read()
	if err != nil {
		if errors.Is(err, io.EOF) {
			return nil, search.Errorf(search.KindLoad, op, "missing header row")
		}
		return nil, search.Wrap(search.KindLoad, op, err)
	}
	for i := range header {
		header[i] = strings.TrimSpace(strings.TrimPrefix(header[i], "\ufeff"))
	}

	columns := make(map[string]int, len(header))
	for i, name := range header {
		columns[name] = i
	}

	idCol, hasID := columns[opts.IDColumn]
	textCols := resolveTextColumns(columns, opts.TextColumns)
	if len(textCols) == 0 {
		return nil, search.Errorf(search.KindLoad, op, "no text column found in header %v", header)
	}

	var rows [][]string
	for {
		fields, err := reader.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, search.Wrap(search.KindLoad, op, err)
		}
		rows = append(rows, fields)
	}

	// Explicit IDs first, so a row-number fallback never takes one
	ids := make([]string, len(rows))
	seen := make(map[string]int, len(rows))
	if hasID {
		for i, fields := range rows {
			id := strings.TrimSpace(cell(fields, idCol))
			if id == "" {
				continue
			}
			if prev, dup := seen[id]; dup {
				return nil, search.Errorf(search.KindLoad, op, "duplicate id %q on rows %d and %d", id, prev, i+1)
			}
			seen[id] = i + 1
			ids[i] = id
		}
	}
	for i := range ids {
		if ids[i] != "" {
			continue
		}
		id := strconv.Itoa(i + 1)
		for {
			if _, taken := seen[id]; !taken {
				break
			}
			id = "row-" + id
		}
		seen[id] = i + 1
		ids[i] = id
	}

	cat := &Catalog{Records: make([]Record, 0, len(rows))}
	for i, fields := range rows {
		rec := Record{ID: ids[i], Attributes: make(map[string]string, len(header))}

		parts := make([]string, 0, len(textCols))
		for _, c := range textCols {
			v := cell(fields, c)
			if opts.StripMarkup {
				v = StripMarkup(v)
			}
			if v != "" {
				parts = append(parts, v)
			}
		}
		rec.Text = strings.Join(parts, " ")

		// Every column but the ID passes through raw, text columns included
		for c, name := range header {
			if hasID && c == idCol {
				continue
			}
			rec.Attributes[name] = cell(fields, c)
		}

		cat.Records = append(cat.Records, rec)
	}

	return cat, nil
}

// cell returns the i-th field, or "" when the row is short.
func cell(fields []string, i int) string {
	if i < len(fields) {
		return fields[i]
	}
	return ""
}

func resolveTextColumns(columns map[string]int, wanted []string) []int {
	pick := func(names []string) []int {
		var idx []int
		for _, name := range names {
			if i, ok := columns[name]; ok {
				idx = append(idx, i)
			}
		}
		return idx
	}
	if idx := pick(wanted); len(idx) > 0 {
		return idx
	}
	return pick(fallbackTextColumns)
}

func isRemote(source string) bool {
	return strings.HasPrefix(source, "http://") || strings.HasPrefix(source, "https://")
}

// IDs returns record identifiers in catalog order.
func (c *Catalog) IDs() []string {
	ids := make([]string, len(c.Records))
	for i, r := range c.Records {
		ids[i] = r.ID
	}
	return ids
}

// IndexByID maps each record identifier to its catalog index.
func (c *Catalog) IndexByID() map[string]int {
	out := make(map[string]int, len(c.Records))
	for i, r := range c.Records {
		out[r.ID] = i
	}
	return out
}

// String summarizes the catalog for logs.
func (c *Catalog) String() string {
	return fmt.Sprintf("catalog(%d records)", c.Len())
}
