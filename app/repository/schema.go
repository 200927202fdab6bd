package repository

import (
	"fmt"
	"strings"
)

// RowScanner matches (*sql.Row).Scan and (*sql.Rows).Scan.
type RowScanner func(dest ...any) error

// Schema binds an entity type to its table. Columns lists every column in the
// order Scan expects them, key included.
type Schema[T any] struct {
	Table   string
	Key     string
	Columns []string
	Scan    func(scan RowScanner) (*T, error)
}

func (s *Schema[T]) hasColumn(name string) bool {
	for _, column := range s.Columns {
		if column == name {
			return true
		}
	}
	return false
}

func (s *Schema[T]) checkColumn(name string) error {
	if !s.hasColumn(name) {
		return fmt.Errorf("%w: %s.%s", ErrUnknownColumn, s.Table, name)
	}
	return nil
}

// Check validates every column of fields against the schema.
func (s *Schema[T]) Check(fields Fields) error {
	for _, f := range fields {
		if err := s.checkColumn(f.Column); err != nil {
			return err
		}
	}
	return nil
}

func (s *Schema[T]) selectList() string {
	return strings.Join(s.Columns, ", ")
}

// Field is one column/value pair. Used both as an equality filter and as a value to write.
type Field struct {
	Column string
	Value  any
}

// F builds a Field.
func F(column string, value any) Field {
	return Field{Column: column, Value: value}
}

// Fields is an ordered list of column/value pairs.
type Fields []Field

// Get returns the value stored for column.
func (fs Fields) Get(column string) (any, bool) {
	for _, f := range fs {
		if f.Column == column {
			return f.Value, true
		}
	}
	return nil, false
}

// Without returns a copy of fs minus column.
func (fs Fields) Without(column string) Fields {
	out := make(Fields, 0, len(fs))
	for _, f := range fs {
		if f.Column != column {
			out = append(out, f)
		}
	}
	return out
}

// Merge returns fs overlaid by other; later values win, first-seen order is kept.
func (fs Fields) Merge(other Fields) Fields {
	out := make(Fields, 0, len(fs)+len(other))
	out = append(out, fs...)
	for _, f := range other {
		replaced := false
		for i := range out {
			if out[i].Column == f.Column {
				out[i].Value = f.Value
				replaced = true
				break
			}
		}
		if !replaced {
			out = append(out, f)
		}
	}
	return out
}

// only keeps the entries of fs whose column also appears in other.
func (fs Fields) only(other Fields) Fields {
	out := make(Fields, 0, len(fs))
	for _, f := range fs {
		if _, ok := other.Get(f.Column); ok {
			out = append(out, f)
		}
	}
	return out
}

// where renders an equality-only WHERE clause. A nil value compares with IS NULL.
func (fs Fields) where() (string, []any) {
	if len(fs) == 0 {
		return "", nil
	}

	parts := make([]string, 0, len(fs))
	args := make([]any, 0, len(fs))
	for _, f := range fs {
		if f.Value == nil {
			parts = append(parts, f.Column+" IS NULL")
			continue
		}
		parts = append(parts, f.Column+" = ?")
		args = append(args, f.Value)
	}
	return " WHERE " + strings.Join(parts, " AND "), args
}

// assignments renders "a = ?, b = ?" for UPDATE statements.
func (fs Fields) assignments() (string, []any) {
	parts := make([]string, 0, len(fs))
	args := make([]any, 0, len(fs))
	for _, f := range fs {
		parts = append(parts, f.Column+" = ?")
		args = append(args, f.Value)
	}
	return strings.Join(parts, ", "), args
}

// insert renders "(a, b) VALUES (?, ?)".
func (fs Fields) insert() (string, []any) {
	columns := make([]string, 0, len(fs))
	marks := make([]string, 0, len(fs))
	args := make([]any, 0, len(fs))
	for _, f := range fs {
		columns = append(columns, f.Column)
		marks = append(marks, "?")
		args = append(args, f.Value)
	}
	return "(" + strings.Join(columns, ", ") + ") VALUES (" + strings.Join(marks, ", ") + ")", args
}
