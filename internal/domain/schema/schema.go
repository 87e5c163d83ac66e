// Package schema holds the typed, read-only model of the extended database schema.
// It is built once at startup and consulted by value by the resolver, verifier and
// mutation engine.
package schema

import (
	"sort"

	"github.com/ovsrestd/backend/pkg/constants"
)

// Unbounded marks a column whose max instance count is "unlimited"
const Unbounded = -1

// ElementType is the atomic type of a column key or value
type ElementType int

const (
	TypeInteger ElementType = iota
	TypeReal
	TypeString
	TypeBoolean
	TypeUUID
)

func (t ElementType) String() string {
	switch t {
	case TypeInteger:
		return constants.TypeInteger
	case TypeReal:
		return constants.TypeReal
	case TypeString:
		return constants.TypeString
	case TypeBoolean:
		return constants.TypeBoolean
	case TypeUUID:
		return constants.TypeUUID
	}
	return "unknown"
}

// Category is the column category
type Category int

const (
	CategoryConfiguration Category = iota
	CategoryStatus
	CategoryStatistics
)

func (c Category) String() string {
	switch c {
	case CategoryStatus:
		return constants.CategoryStatus
	case CategoryStatistics:
		return constants.CategoryStatistics
	}
	return constants.CategoryConfiguration
}

// RefKind is the relationship kind of a reference column
type RefKind int

const (
	RefChild RefKind = iota
	RefParent
	RefReference
)

func (k RefKind) String() string {
	switch k {
	case RefChild:
		return "child"
	case RefParent:
		return "parent"
	case RefReference:
		return "reference"
	}
	return "unknown"
}

// BaseType is an atomic type with its constraints
type BaseType struct {
	Type       ElementType
	Enum       []interface{}
	MinInteger *int64
	MaxInteger *int64
	MinReal    *float64
	MaxReal    *float64
	MinLength  *int
	MaxLength  *int
	RefTable   string
}

// Column describes a non-relationship column
type Column struct {
	Name     string
	Category Category
	Key      BaseType
	Value    *BaseType
	Keys     map[string]BaseType
	Min      int
	Max      int
	Mutable  bool
}

// IsOptional reports whether the column may hold zero instances
func (c *Column) IsOptional() bool { return c.Min == 0 }

// IsMap reports whether the column is key-valued
func (c *Column) IsMap() bool { return c.Value != nil }

// IsList reports whether the column holds a set of values
func (c *Column) IsList() bool { return c.Value == nil && (c.Max > 1 || c.Max == Unbounded) }

// IsScalar reports whether the column holds at most one value
func (c *Column) IsScalar() bool { return c.Value == nil && c.Max == 1 }

// Reference describes a relationship column
type Reference struct {
	Column   string
	Table    string
	Kind     RefKind
	Category Category
	KeyValue bool
	KeyType  BaseType
	Min      int
	Max      int
	Mutable  bool
}

// IsPlural reports whether the column can reference more than one row
func (r *Reference) IsPlural() bool { return r.KeyValue || r.Max > 1 || r.Max == Unbounded }

// Rule is a table-level constraint. A row is rejected when Condition evaluates true.
type Rule struct {
	Condition string `json:"condition"`
	Message   string `json:"message"`
}

// ColumnSet is a name-ordered set of columns
type ColumnSet struct {
	order  []string
	byName map[string]*Column
}

func newColumnSet() *ColumnSet {
	return &ColumnSet{byName: make(map[string]*Column)}
}

func (s *ColumnSet) add(c *Column) {
	if _, ok := s.byName[c.Name]; !ok {
		s.order = append(s.order, c.Name)
		sort.Strings(s.order)
	}
	s.byName[c.Name] = c
}

// Names returns the column names in order
func (s *ColumnSet) Names() []string { return s.order }

// Get returns the named column
func (s *ColumnSet) Get(name string) (*Column, bool) {
	c, ok := s.byName[name]
	return c, ok
}

// Len returns the number of columns
func (s *ColumnSet) Len() int { return len(s.order) }

// Table describes one table and its relationships
type Table struct {
	Name       string
	PluralName string
	IsRoot     bool
	MaxRows    int
	Mutable    bool

	Config *ColumnSet
	Status *ColumnSet
	Stats  *ColumnSet

	References map[string]*Reference
	// Children are forward child reference columns owned by this table.
	Children []string
	// BackChildren are tables whose rows point up at this table through a parent column.
	BackChildren []string
	Parent       string
	Indexes      []string
	Rules        []Rule
}

// Column returns a non-relationship column from any category
func (t *Table) Column(name string) (*Column, bool) {
	for _, set := range []*ColumnSet{t.Config, t.Status, t.Stats} {
		if c, ok := set.Get(name); ok {
			return c, true
		}
	}
	return nil, false
}

// ReferenceNames returns the relationship column names in order
func (t *Table) ReferenceNames() []string {
	names := make([]string, 0, len(t.References))
	for n := range t.References {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// HasUUIDIndex reports whether rows are addressed by their UUID
func (t *Table) HasUUIDIndex() bool {
	return len(t.Indexes) == 0 || (len(t.Indexes) == 1 && t.Indexes[0] == constants.IndexUUID)
}

// ParentColumn returns the column pointing at the parent row, if the table has one
func (t *Table) ParentColumn() (string, bool) {
	for _, n := range t.ReferenceNames() {
		if t.References[n].Kind == RefParent {
			return n, true
		}
	}
	return "", false
}

// URIIndexes returns the index columns that appear as URI segments. The parent
// pointer is implied by the URI position and is not repeated.
func (t *Table) URIIndexes() []string {
	if t.HasUUIDIndex() {
		return []string{constants.IndexUUID}
	}
	parent, hasParent := t.ParentColumn()
	out := make([]string, 0, len(t.Indexes))
	for _, idx := range t.Indexes {
		if hasParent && idx == parent {
			continue
		}
		out = append(out, idx)
	}
	return out
}

// IsIndex reports whether the column participates in the table's index
func (t *Table) IsIndex(column string) bool {
	for _, idx := range t.Indexes {
		if idx == column {
			return true
		}
	}
	return false
}

// IsTopLevel reports whether the table hangs directly off the root URI
func (t *Table) IsTopLevel() bool {
	return t.Parent == "" && t.Name != constants.RootTable
}

// HasBackChild reports whether child rows of the named table point up at this table
func (t *Table) HasBackChild(table string) bool {
	for _, c := range t.BackChildren {
		if c == table {
			return true
		}
	}
	return false
}

// Referrer identifies a relationship column that points at some table
type Referrer struct {
	Table  string
	Column string
	Kind   RefKind
}

// Schema is the full typed model
type Schema struct {
	Name    string
	Version string
	Tables  map[string]*Table
	Root    *Table

	// ReferenceMap maps a relationship column name to its target table
	ReferenceMap map[string]string
	// PluralNameMap maps a pluralized URI segment to the canonical table name
	PluralNameMap map[string]string
	// ReferencesByTable maps a table to every relationship column that targets it
	ReferencesByTable map[string][]Referrer
}

// Table returns the named table
func (s *Schema) Table(name string) (*Table, bool) {
	t, ok := s.Tables[name]
	return t, ok
}

// TableNames returns the table names in order
func (s *Schema) TableNames() []string {
	names := make([]string, 0, len(s.Tables))
	for n := range s.Tables {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// CanonicalTable maps a URI segment (plural or canonical) to a table name
func (s *Schema) CanonicalTable(segment string) (string, bool) {
	if name, ok := s.PluralNameMap[segment]; ok {
		return name, true
	}
	if _, ok := s.Tables[segment]; ok {
		return segment, true
	}
	return "", false
}

// IndexColumns returns table → index columns for every table with named indexes.
// The replica uses this for its local uniqueness check.
func (s *Schema) IndexColumns() map[string][]string {
	out := make(map[string][]string)
	for name, t := range s.Tables {
		if !t.HasUUIDIndex() {
			out[name] = append([]string(nil), t.Indexes...)
		}
	}
	return out
}
