package lemonproxy

import (
	"github.com/jinzhu/copier"
)

const (
	DefaultIDField = "id"
	ParentIDField  = "parentId"
	LeafField      = "leaf"
	ChildrenField  = "children"
	LoadedField    = "loaded"
)

// M is raw record field data.
type M map[string]interface{}

// Clone returns a shallow copy of m.
func (m M) Clone() M {
	if m == nil {
		return nil
	}

	cp := make(M, len(m))
	if err := copier.Copy(&cp, &m); err != nil {
		panic("could not copy record data: " + err.Error())
	}

	return cp
}

func (m M) Has(k string) bool {
	_, ok := m[k]
	return ok
}

func (m M) String(k string) string {
	v, ok := m[k].(string)
	if !ok {
		return ""
	}
	return v
}

func (m M) Bool(k string) bool {
	v, ok := m[k].(bool)
	if !ok {
		return false
	}
	return v
}

// Int64 returns an integral value stored under k. Values decoded from storage
// are int64; values set by callers may be any integer kind.
func (m M) Int64(k string) (int64, bool) {
	switch v := m[k].(type) {
	case int:
		return int64(v), true
	case int32:
		return int64(v), true
	case int64:
		return v, true
	case float64:
		if v == float64(int64(v)) {
			return int64(v), true
		}
	}
	return 0, false
}

// Field describes one model field. Fields are persisted unless Transient.
type Field struct {
	Name      string
	Transient bool
}

// Model is the host data model a proxy persists records of.
type Model struct {
	IDField string
	Fields  []Field
	creator func(data M) *Record
}

// NewModel declares a model with idField as its identity. The identity field
// is always persisted.
func NewModel(idField string, fields ...Field) *Model {
	if idField == "" {
		idField = DefaultIDField
	}

	m := &Model{IDField: idField}
	m.Fields = append(m.Fields, Field{Name: idField})
	for _, f := range fields {
		if f.Name == idField {
			continue
		}
		m.Fields = append(m.Fields, f)
	}

	return m
}

// TreeModel is NewModel with the node fields parentId and leaf persisted.
func TreeModel(idField string, fields ...Field) *Model {
	all := make([]Field, 0, len(fields)+2)
	all = append(all, Field{Name: ParentIDField}, Field{Name: LeafField})
	for _, f := range fields {
		if f.Name == ParentIDField || f.Name == LeafField {
			continue
		}
		all = append(all, f)
	}

	return NewModel(idField, all...)
}

// Fields returns the names of the given fields as a convenience for NewModel.
func Fields(names ...string) []Field {
	fields := make([]Field, len(names))
	for i, n := range names {
		fields[i] = Field{Name: n}
	}
	return fields
}

// WithCreator overrides how records of this model are constructed.
func (m *Model) WithCreator(fn func(data M) *Record) *Model {
	m.creator = fn
	return m
}

// NewRecord constructs a record of this model around data.
func (m *Model) NewRecord(data M) *Record {
	if m.creator != nil {
		return m.creator(data)
	}

	return newRecord(m, data)
}

func (m *Model) persistable() []string {
	names := make([]string, 0, len(m.Fields))
	for _, f := range m.Fields {
		if !f.Transient {
			names = append(names, f.Name)
		}
	}
	return names
}

// project keeps only the persistable fields of data.
func (m *Model) project(data M) M {
	out := make(M, len(m.Fields))
	for _, name := range m.persistable() {
		if v, ok := data[name]; ok {
			out[name] = v
		}
	}
	return out
}
