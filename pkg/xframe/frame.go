// Package xframe implements the frame: an ordered set of named, typed
// columns that share segmentation and row count. Frames are cheap shared
// handles and are immutable once frozen; schema mutations are only legal
// while a frame is still under construction.
package xframe

import (
	"fmt"

	"xframe/pkg/errs"
	"xframe/pkg/sarray"
	"xframe/pkg/types"
)

// Row is one horizontal slice of a frame: a value per column.
type Row = []types.Value

// Frame is an ordered set of named columns sharing segmentation.
//
// Invariant: every column has the same length and the same per-segment row
// counts. Column names are unique and non-empty.
type Frame struct {
	names   []string
	columns []*sarray.Column
	frozen  bool

	// tempDir, when set, is a temp-manager directory backing this frame's
	// files; release through the tempfile manager drops it.
	tempDir string
}

// New builds a frozen frame over existing columns. Missing names are
// auto-generated as X{k} (with a numeric suffix on collision).
func New(names []string, columns []*sarray.Column) (*Frame, error) {
	f := NewUnderConstruction()
	for i, col := range columns {
		name := ""
		if i < len(names) {
			name = names[i]
		}
		if err := f.AddColumn(name, col); err != nil {
			return nil, err
		}
	}
	if err := f.Freeze(); err != nil {
		return nil, err
	}
	return f, nil
}

// NewUnderConstruction returns an empty, mutable frame. Add columns and then
// Freeze it before handing it to readers.
func NewUnderConstruction() *Frame {
	return &Frame{}
}

// NumRows returns the shared row count (zero for an empty frame).
func (f *Frame) NumRows() int64 {
	if len(f.columns) == 0 {
		return 0
	}
	return f.columns[0].Len()
}

// NumColumns returns the number of columns.
func (f *Frame) NumColumns() int {
	return len(f.columns)
}

// ColumnNames returns a copy of the column names in order.
func (f *Frame) ColumnNames() []string {
	return append([]string(nil), f.names...)
}

// ColumnTypes returns the element type of each column in order.
func (f *Frame) ColumnTypes() []types.Type {
	out := make([]types.Type, len(f.columns))
	for i, c := range f.columns {
		out[i] = c.Type()
	}
	return out
}

// SegmentSizes returns the shared per-segment row counts.
func (f *Frame) SegmentSizes() []int64 {
	if len(f.columns) == 0 {
		return nil
	}
	return f.columns[0].SegmentSizes()
}

// NumSegments returns the shared segment count.
func (f *Frame) NumSegments() int {
	if len(f.columns) == 0 {
		return 0
	}
	return f.columns[0].NumSegments()
}

// ColumnIndex resolves a column name to its position.
func (f *Frame) ColumnIndex(name string) (int, error) {
	for i, n := range f.names {
		if n == name {
			return i, nil
		}
	}
	return 0, errs.New(errs.OutOfRange, "no column named %q", name)
}

// SelectColumn returns the column at the given position.
func (f *Frame) SelectColumn(i int) (*sarray.Column, error) {
	if i < 0 || i >= len(f.columns) {
		return nil, errs.New(errs.OutOfRange,
			"column index %d out of range [0, %d)", i, len(f.columns))
	}
	return f.columns[i], nil
}

// SelectColumnByName returns the column with the given name.
func (f *Frame) SelectColumnByName(name string) (*sarray.Column, error) {
	i, err := f.ColumnIndex(name)
	if err != nil {
		return nil, err
	}
	return f.columns[i], nil
}

// SelectColumns returns a new frozen frame sharing the named columns.
func (f *Frame) SelectColumns(names []string) (*Frame, error) {
	out := NewUnderConstruction()
	for _, name := range names {
		col, err := f.SelectColumnByName(name)
		if err != nil {
			return nil, err
		}
		if err := out.AddColumn(name, col); err != nil {
			return nil, err
		}
	}
	if err := out.Freeze(); err != nil {
		return nil, err
	}
	return out, nil
}

// ProjectColumns returns a new frozen frame sharing columns by position.
// Repeating a position is legal; duplicate names get a disambiguating
// suffix.
func (f *Frame) ProjectColumns(indices []int) (*Frame, error) {
	out := NewUnderConstruction()
	for _, i := range indices {
		col, err := f.SelectColumn(i)
		if err != nil {
			return nil, err
		}
		name := f.names[i]
		if containsName(out.names, name) {
			name = disambiguate(out.names, name)
		}
		if err := out.AddColumn(name, col); err != nil {
			return nil, err
		}
	}
	if err := out.Freeze(); err != nil {
		return nil, err
	}
	return out, nil
}

// WithNames returns a frozen frame sharing this frame's columns under new
// names.
func (f *Frame) WithNames(names []string) (*Frame, error) {
	if len(names) != len(f.columns) {
		return nil, errs.New(errs.SchemaMismatch,
			"%d names for %d columns", len(names), len(f.columns))
	}
	out, err := New(names, f.columns)
	if err != nil {
		return nil, err
	}
	out.tempDir = f.tempDir
	return out, nil
}

// AddColumn appends a column to a frame under construction. An empty name
// is auto-generated.
func (f *Frame) AddColumn(name string, col *sarray.Column) error {
	if f.frozen {
		return errs.New(errs.Unsupported, "cannot add column to a frozen frame")
	}
	if name == "" {
		name = disambiguate(f.names, fmt.Sprintf("X%d", len(f.names)+1))
	}
	if containsName(f.names, name) {
		return errs.New(errs.DuplicateColumn, "column %q already exists", name)
	}
	if len(f.columns) > 0 {
		if err := checkSegmentation(f.columns[0], col); err != nil {
			return err
		}
	}
	f.names = append(f.names, name)
	f.columns = append(f.columns, col)
	return nil
}

// RemoveColumn removes the column at the given position from a frame under
// construction.
func (f *Frame) RemoveColumn(i int) error {
	if f.frozen {
		return errs.New(errs.Unsupported, "cannot remove column from a frozen frame")
	}
	if i < 0 || i >= len(f.columns) {
		return errs.New(errs.OutOfRange,
			"column index %d out of range [0, %d)", i, len(f.columns))
	}
	f.names = append(f.names[:i], f.names[i+1:]...)
	f.columns = append(f.columns[:i], f.columns[i+1:]...)
	return nil
}

// SwapColumns exchanges two column positions on a frame under construction.
func (f *Frame) SwapColumns(i, j int) error {
	if f.frozen {
		return errs.New(errs.Unsupported, "cannot swap columns of a frozen frame")
	}
	if i < 0 || i >= len(f.columns) || j < 0 || j >= len(f.columns) {
		return errs.New(errs.OutOfRange,
			"column index out of range: %d, %d not in [0, %d)", i, j, len(f.columns))
	}
	f.names[i], f.names[j] = f.names[j], f.names[i]
	f.columns[i], f.columns[j] = f.columns[j], f.columns[i]
	return nil
}

// RenameColumn renames a column on a frame under construction.
func (f *Frame) RenameColumn(oldName, newName string) error {
	if f.frozen {
		return errs.New(errs.Unsupported, "cannot rename column of a frozen frame")
	}
	if newName == "" {
		return errs.New(errs.DuplicateColumn, "column name cannot be empty")
	}
	i, err := f.ColumnIndex(oldName)
	if err != nil {
		return err
	}
	if oldName != newName && containsName(f.names, newName) {
		return errs.New(errs.DuplicateColumn, "column %q already exists", newName)
	}
	f.names[i] = newName
	return nil
}

// Freeze seals the frame. All columns must share segmentation; after Freeze
// every schema mutation fails.
func (f *Frame) Freeze() error {
	if f.frozen {
		return nil
	}
	for i := 1; i < len(f.columns); i++ {
		if err := checkSegmentation(f.columns[0], f.columns[i]); err != nil {
			return errs.Wrap(err, errs.SchemaMismatch, "Freeze", "xframe")
		}
	}
	f.frozen = true
	return nil
}

// IsFrozen reports whether the frame is sealed.
func (f *Frame) IsFrozen() bool {
	return f.frozen
}

// checkSegmentation verifies that two columns agree on length and
// per-segment row counts.
func checkSegmentation(a, b *sarray.Column) error {
	if a.Len() != b.Len() {
		return errs.New(errs.SchemaMismatch,
			"column length mismatch: %d vs %d", a.Len(), b.Len())
	}
	as, bs := a.SegmentSizes(), b.SegmentSizes()
	if len(as) != len(bs) {
		return errs.New(errs.SchemaMismatch,
			"segment count mismatch: %d vs %d", len(as), len(bs))
	}
	for i := range as {
		if as[i] != bs[i] {
			return errs.New(errs.SchemaMismatch,
				"segment %d row count mismatch: %d vs %d", i, as[i], bs[i])
		}
	}
	return nil
}

func containsName(names []string, name string) bool {
	for _, n := range names {
		if n == name {
			return true
		}
	}
	return false
}

// disambiguate appends ".k" suffixes until the name is free.
func disambiguate(names []string, base string) string {
	if !containsName(names, base) {
		return base
	}
	for k := 1; ; k++ {
		candidate := fmt.Sprintf("%s.%d", base, k)
		if !containsName(names, candidate) {
			return candidate
		}
	}
}
