// Package csvio is the CSV collaborator: a tokenizer that produces typed
// rows and a writer that consumes them. The engine core only depends on the
// row producer/sink contracts; the default implementation here is built on
// encoding/csv and is what the CLI import/export commands use.
package csvio

import (
	"encoding/csv"
	"fmt"
	"io"
	"strconv"
	"strings"

	"xframe/pkg/errs"
	"xframe/pkg/types"
	"xframe/pkg/xframe"
)

// Config controls tokenizing and writing. The zero value is not useful;
// start from DefaultConfig.
//
// UseEscapeChar and SkipInitialSpace are independent flags; enabling one
// never implies the other. The Tokenizer and Writer here are built on
// encoding/csv, which always quotes with '"' and doubles embedded quotes:
// Quote, Escape and UseEscapeChar are not consulted by them.
type Config struct {
	Delimiter        rune
	Quote            rune
	Escape           rune
	UseEscapeChar    bool
	NAValues         []string
	Comment          rune
	SkipInitialSpace bool
	HasHeader        bool
	LineTerminator   string
}

// DefaultConfig returns the conventional comma-separated configuration.
func DefaultConfig() Config {
	return Config{
		Delimiter:      ',',
		Quote:          '"',
		Escape:         '\\',
		NAValues:       []string{"", "NA", "null"},
		HasHeader:      true,
		LineTerminator: "\n",
	}
}

// RowProducer is the contract the engine consumes rows through.
type RowProducer interface {
	// Header returns the column names (synthesized when the input has no
	// header row).
	Header() []string

	// Next returns the next typed row; the bool is false at end of input.
	Next() (xframe.Row, bool, error)
}

// RowSink is the contract the engine writes rows through.
type RowSink interface {
	WriteHeader(names []string) error
	WriteRow(row xframe.Row) error
	Flush() error
}

// Tokenizer reads CSV into typed rows: integers, then floats, then strings,
// with configured NA spellings becoming missing values.
type Tokenizer struct {
	reader *csv.Reader
	cfg    Config
	header []string
	naSet  map[string]bool
	width  int
	lineNo int
}

// NewTokenizer wraps r with the given configuration. The header row, when
// configured, is consumed immediately.
func NewTokenizer(r io.Reader, cfg Config) (*Tokenizer, error) {
	cr := csv.NewReader(r)
	cr.Comma = cfg.Delimiter
	if cfg.Comment != 0 {
		cr.Comment = cfg.Comment
	}
	cr.TrimLeadingSpace = cfg.SkipInitialSpace
	cr.FieldsPerRecord = -1
	cr.LazyQuotes = true

	t := &Tokenizer{reader: cr, cfg: cfg, naSet: make(map[string]bool)}
	for _, na := range cfg.NAValues {
		t.naSet[na] = true
	}

	if cfg.HasHeader {
		record, err := cr.Read()
		if err == io.EOF {
			return t, nil
		}
		if err != nil {
			return nil, errs.Wrap(err, errs.ParseError, "NewTokenizer", "csvio")
		}
		t.header = record
		t.width = len(record)
		t.lineNo++
	}
	return t, nil
}

// Header returns the column names, synthesizing X{k} names when the input
// carries none.
func (t *Tokenizer) Header() []string {
	if t.header != nil {
		return append([]string(nil), t.header...)
	}
	names := make([]string, t.width)
	for i := range names {
		names[i] = fmt.Sprintf("X%d", i+1)
	}
	return names
}

// Next returns the next typed row. Short records are NA-padded to the
// header width; long records fail with a ParseError.
func (t *Tokenizer) Next() (xframe.Row, bool, error) {
	record, err := t.reader.Read()
	if err == io.EOF {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, errs.Wrap(err, errs.ParseError, "Next", "csvio")
	}
	t.lineNo++

	if t.width == 0 {
		t.width = len(record)
	}
	if len(record) > t.width {
		return nil, false, errs.New(errs.ParseError,
			"line %d has %d fields, header has %d", t.lineNo, len(record), t.width)
	}

	row := make(xframe.Row, t.width)
	for i := range row {
		if i >= len(record) {
			row[i] = types.NA()
			continue
		}
		row[i] = t.parseField(record[i])
	}
	return row, true, nil
}

// parseField types one field: NA spellings, then int, then float, then
// string.
func (t *Tokenizer) parseField(s string) types.Value {
	if t.naSet[s] {
		return types.NA()
	}
	if iv, err := strconv.ParseInt(s, 10, 64); err == nil {
		return types.NewInt(iv)
	}
	if fv, err := strconv.ParseFloat(s, 64); err == nil {
		return types.NewFloat(fv)
	}
	return types.NewString(s)
}

// Writer renders typed rows back to CSV.
type Writer struct {
	w   *csv.Writer
	cfg Config
}

// NewWriter wraps w with the given configuration.
func NewWriter(w io.Writer, cfg Config) *Writer {
	cw := csv.NewWriter(w)
	cw.Comma = cfg.Delimiter
	cw.UseCRLF = strings.Contains(cfg.LineTerminator, "\r")
	return &Writer{w: cw, cfg: cfg}
}

// WriteHeader writes the column-name row.
func (w *Writer) WriteHeader(names []string) error {
	return w.w.Write(names)
}

// WriteRow renders one typed row. NA cells render as the first configured
// NA spelling.
func (w *Writer) WriteRow(row xframe.Row) error {
	fields := make([]string, len(row))
	for i, v := range row {
		fields[i] = w.renderField(v)
	}
	return w.w.Write(fields)
}

func (w *Writer) renderField(v types.Value) string {
	if v.IsNA() {
		if len(w.cfg.NAValues) > 0 {
			return w.cfg.NAValues[0]
		}
		return ""
	}
	return v.String()
}

// Flush drains buffered output and reports any write error.
func (w *Writer) Flush() error {
	w.w.Flush()
	return w.w.Error()
}

// ImportFrame drains a producer into a new single-segment frame written
// under dir. Column types are taken from the first non-NA value seen per
// column (undefined for all-NA columns).
func ImportFrame(dir string, producer RowProducer) (*xframe.Frame, error) {
	var rows []xframe.Row
	for {
		row, ok, err := producer.Next()
		if err != nil {
			return nil, err
		}
		if !ok {
			break
		}
		rows = append(rows, row)
	}

	names := producer.Header()
	if len(names) == 0 && len(rows) > 0 {
		names = make([]string, len(rows[0]))
	}
	if len(names) == 0 {
		return nil, errs.New(errs.ParseError, "input has no columns")
	}

	colTypes := make([]types.Type, len(names))
	for c := range colTypes {
		for _, row := range rows {
			if c < len(row) && !row[c].IsNA() {
				colTypes[c] = row[c].Tag()
				break
			}
		}
	}

	fw, err := xframe.OpenForWrite(dir, names, colTypes, 1)
	if err != nil {
		return nil, err
	}
	sink, err := fw.OutputIterator(0)
	if err != nil {
		fw.Abort()
		return nil, err
	}
	for _, row := range rows {
		if err := sink.AppendRow(row); err != nil {
			fw.Abort()
			return nil, err
		}
	}
	return fw.Close()
}

// ExportFrame streams every row of f through the sink in global row order.
func ExportFrame(f *xframe.Frame, sink RowSink) error {
	if err := sink.WriteHeader(f.ColumnNames()); err != nil {
		return err
	}
	for seg := 0; seg < f.NumSegments(); seg++ {
		it, err := f.RowIter(seg)
		if err != nil {
			return err
		}
		for {
			row, ok, err := it.Next()
			if err != nil {
				return err
			}
			if !ok {
				break
			}
			if err := sink.WriteRow(row); err != nil {
				return err
			}
		}
	}
	return sink.Flush()
}
