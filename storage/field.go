package storage

import (
	"strings"

	"github.com/xiaobogaga/miniframe/qerror"
)

// DType is the fixed set of column types the engine computes over. A column's
// dtype never changes after the column is built.
type DType int

const (
	Int64 DType = iota
	Float64
	Boolean
	Utf8
	// Date is stored as days since the unix epoch in an int64 buffer.
	Date
)

var dtypeNames = map[DType]string{
	Int64:   "int64",
	Float64: "float64",
	Boolean: "bool",
	Utf8:    "utf8",
	Date:    "date",
}

func (tp DType) String() string {
	name, ok := dtypeNames[tp]
	if !ok {
		return "unknown"
	}
	return name
}

func (tp DType) IsNumeric() bool {
	return tp == Int64 || tp == Float64
}

// Field is a column name plus its dtype.
type Field struct {
	Name string
	TP   DType
}

func (f Field) String() string {
	return f.Name + " " + f.TP.String()
}

// TableSchema is an ordered mapping from unique column name to dtype. Every
// plan node carries the schema describing its output rows.
type TableSchema struct {
	Columns []Field
}

// NewTableSchema builds a schema and rejects duplicate column names.
func NewTableSchema(fields []Field) (*TableSchema, error) {
	ret := &TableSchema{}
	for _, f := range fields {
		if ret.HasColumn(f.Name) {
			return nil, qerror.Schemaf("duplicate column '%s'", f.Name)
		}
		ret.AppendColumn(f)
	}
	return ret, nil
}

func (schema *TableSchema) AppendColumn(f Field) {
	schema.Columns = append(schema.Columns, f)
}

func (schema *TableSchema) ColumnCount() int {
	return len(schema.Columns)
}

// IndexOf returns the position of the named column, -1 when absent.
func (schema *TableSchema) IndexOf(name string) int {
	for i, col := range schema.Columns {
		if col.Name == name {
			return i
		}
	}
	return -1
}

func (schema *TableSchema) HasColumn(name string) bool {
	return schema.IndexOf(name) >= 0
}

func (schema *TableSchema) GetField(name string) (Field, bool) {
	i := schema.IndexOf(name)
	if i < 0 {
		return Field{}, false
	}
	return schema.Columns[i], true
}

func (schema *TableSchema) Names() []string {
	ret := make([]string, len(schema.Columns))
	for i, col := range schema.Columns {
		ret[i] = col.Name
	}
	return ret
}

func (schema *TableSchema) Clone() *TableSchema {
	ret := &TableSchema{Columns: make([]Field, len(schema.Columns))}
	copy(ret.Columns, schema.Columns)
	return ret
}

func (schema *TableSchema) Equal(other *TableSchema) bool {
	if len(schema.Columns) != len(other.Columns) {
		return false
	}
	for i, col := range schema.Columns {
		if col != other.Columns[i] {
			return false
		}
	}
	return true
}

func (schema *TableSchema) String() string {
	parts := make([]string, len(schema.Columns))
	for i, col := range schema.Columns {
		parts[i] = col.String()
	}
	return "[" + strings.Join(parts, ", ") + "]"
}

// Merge appends the other schema's columns to this one, renaming collisions
// by repeatedly appending suffix until the name is unique. Used for join
// output schemas.
func (schema *TableSchema) Merge(other *TableSchema, suffix string) *TableSchema {
	ret := schema.Clone()
	for _, col := range other.Columns {
		name := col.Name
		for ret.HasColumn(name) {
			name += suffix
		}
		ret.AppendColumn(Field{Name: name, TP: col.TP})
	}
	return ret
}
