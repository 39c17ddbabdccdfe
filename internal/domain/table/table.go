// Package table parses delimited text with a header row into an immutable,
// column-addressable table and detects which columns hold numbers.
package table

import (
	"bytes"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"math"
	"math/big"
	"strconv"
	"strings"
)

// Sentinel parse errors. Callers match with errors.Is.
var (
	ErrEmptyInput = errors.New("table: empty input")
	ErrMalformed  = errors.New("table: malformed input")
)

var utf8BOM = []byte{0xEF, 0xBB, 0xBF}

// missingTokens are cell values read as "no value".
var missingTokens = map[string]struct{}{
	"":     {},
	"NA":   {},
	"N/A":  {},
	"n/a":  {},
	"NaN":  {},
	"nan":  {},
	"-NaN": {},
	"-nan": {},
	"null": {},
	"NULL": {},
	"None": {},
	"<NA>": {},
	"#N/A": {},
}

// IsMissing reports whether a raw cell value denotes a missing value.
func IsMissing(cell string) bool {
	_, ok := missingTokens[strings.TrimSpace(cell)]
	return ok
}

// Option configures Parse.
type Option func(*parser)

// WithDelimiter sets the field separator (default ',').
func WithDelimiter(r rune) Option {
	return func(p *parser) {
		if r != 0 && r != '"' && r != '\r' && r != '\n' {
			p.delimiter = r
		}
	}
}

type parser struct {
	delimiter rune
}

// Table is a parsed header plus data rows. It is immutable after Parse and
// safe for concurrent readers.
type Table struct {
	columns []string
	rows    [][]string
	numeric []bool
	index   map[string]int
}

// Parse reads data as a delimited table whose first non-blank line is the
// header. Duplicate header names are renamed name.1, name.2 and so on.
// A data row with more fields than the header is an error; a shorter row is
// padded with missing cells.
func Parse(data []byte, opts ...Option) (*Table, error) {
	p := parser{delimiter: ','}
	for _, opt := range opts {
		opt(&p)
	}

	data = bytes.TrimPrefix(data, utf8BOM)
	if len(bytes.TrimSpace(data)) == 0 {
		return nil, ErrEmptyInput
	}

	r := csv.NewReader(bytes.NewReader(data))
	r.Comma = p.delimiter
	r.FieldsPerRecord = -1

	header, err := r.Read()
	if err != nil {
		if errors.Is(err, io.EOF) {
			return nil, ErrEmptyInput
		}
		return nil, fmt.Errorf("%w: header: %w", ErrMalformed, err)
	}

	t := &Table{
		columns: dedupeHeader(header),
		index:   make(map[string]int, len(header)),
	}
	for i, name := range t.columns {
		t.index[name] = i
	}

	width := len(t.columns)
	for {
		rec, err := r.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("%w: %w", ErrMalformed, err)
		}
		if isBlank(rec) {
			continue
		}
		if len(rec) > width {
			line, _ := r.FieldPos(0)
			return nil, fmt.Errorf("%w: line %d: expected %d fields, saw %d", ErrMalformed, line, width, len(rec))
		}
		for len(rec) < width {
			rec = append(rec, "")
		}
		t.rows = append(t.rows, rec)
	}

	t.numeric = make([]bool, width)
	for c := range t.columns {
		t.numeric[c] = t.detectNumeric(c)
	}
	return t, nil
}

// dedupeHeader renames repeated names so every column is addressable.
func dedupeHeader(header []string) []string {
	out := make([]string, len(header))
	seen := make(map[string]int, len(header))
	taken := make(map[string]struct{}, len(header))
	for _, h := range header {
		taken[h] = struct{}{}
	}
	for i, h := range header {
		n, dup := seen[h]
		if !dup {
			out[i] = h
			seen[h] = 1
			continue
		}
		for {
			candidate := h + "." + strconv.Itoa(n)
			n++
			if _, clash := taken[candidate]; !clash {
				out[i] = candidate
				taken[candidate] = struct{}{}
				break
			}
		}
		seen[h] = n
	}
	return out
}

// isBlank matches whitespace-only lines; csv.Reader already drops empty ones.
func isBlank(rec []string) bool {
	return len(rec) == 1 && strings.TrimSpace(rec[0]) == ""
}

func (t *Table) detectNumeric(col int) bool {
	for _, row := range t.rows {
		cell := row[col]
		if IsMissing(cell) {
			continue
		}
		if _, err := strconv.ParseFloat(strings.TrimSpace(cell), 64); err != nil {
			return false
		}
	}
	return true
}

// Len returns the number of data rows.
func (t *Table) Len() int { return len(t.rows) }

// Columns returns the de-duplicated header in file order.
func (t *Table) Columns() []string {
	out := make([]string, len(t.columns))
	copy(out, t.columns)
	return out
}

// Column returns the index of the column named exactly name.
func (t *Table) Column(name string) (int, bool) {
	i, ok := t.index[name]
	return i, ok
}

// Lookup returns the first column whose name equals name ignoring case.
func (t *Table) Lookup(name string) (int, bool) {
	for i, c := range t.columns {
		if strings.EqualFold(c, name) {
			return i, true
		}
	}
	return 0, false
}

// Name returns the header name of column col.
func (t *Table) Name(col int) string { return t.columns[col] }

// IsNumeric reports whether every present value in col parses as a number.
func (t *Table) IsNumeric(col int) bool { return t.numeric[col] }

// NumericColumns returns the names of numeric columns in file order.
func (t *Table) NumericColumns() []string {
	var out []string
	for i, name := range t.columns {
		if t.numeric[i] {
			out = append(out, name)
		}
	}
	return out
}

// Cell returns the raw text of a cell.
func (t *Table) Cell(row, col int) string { return t.rows[row][col] }

// Float returns the numeric value of a cell. A missing cell yields NaN with
// ok set; text that does not parse yields ok == false.
func (t *Table) Float(row, col int) (v float64, ok bool) {
	cell := t.rows[row][col]
	if IsMissing(cell) {
		return math.NaN(), true
	}
	v, err := strconv.ParseFloat(strings.TrimSpace(cell), 64)
	if err != nil {
		return 0, false
	}
	return v, true
}

// Key returns a normalised join key for a cell: numbers compare by value,
// so "1", "1.0" and " 1 " share a key; anything else by trimmed text.
// Integers written without an exponent are compared exactly, so ids beyond
// 2^53 stay distinct. Other numbers go through float64.
func (t *Table) Key(row, col int) string {
	cell := strings.TrimSpace(t.rows[row][col])
	if !strings.ContainsAny(cell, "eEpP/") {
		if r, ok := new(big.Rat).SetString(cell); ok && r.IsInt() {
			return r.Num().String()
		}
	}
	if v, err := strconv.ParseFloat(cell, 64); err == nil && !math.IsNaN(v) {
		if !math.IsInf(v, 0) && v == math.Trunc(v) {
			return new(big.Rat).SetFloat64(v).Num().String()
		}
		return strconv.FormatFloat(v, 'g', -1, 64)
	}
	return cell
}
