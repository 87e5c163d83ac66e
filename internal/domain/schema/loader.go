package schema

import (
	"encoding/json"
	"fmt"
	"os"
	"sort"
	"strings"

	"github.com/ovsrestd/backend/pkg/constants"
)

// Load reads and parses an extended schema file
func Load(path string) (*Schema, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading schema file: %w", err)
	}
	s, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("parsing schema file %s: %w", path, err)
	}
	return s, nil
}

// Parse builds the typed schema model from an extended schema document
func Parse(data []byte) (*Schema, error) {
	var def SchemaDefinition
	if err := json.Unmarshal(data, &def); err != nil {
		return nil, err
	}
	return Build(def)
}

// Build derives relationships, plural names and reverse reference indexes
func Build(def SchemaDefinition) (*Schema, error) {
	s := &Schema{
		Name:              def.Name,
		Version:           def.Version,
		Tables:            make(map[string]*Table, len(def.Tables)),
		ReferenceMap:      make(map[string]string),
		PluralNameMap:     make(map[string]string),
		ReferencesByTable: make(map[string][]Referrer),
	}

	names := make([]string, 0, len(def.Tables))
	for name := range def.Tables {
		names = append(names, name)
	}
	sort.Strings(names)

	for _, name := range names {
		t, err := buildTable(name, def.Tables[name])
		if err != nil {
			return nil, fmt.Errorf("table %s: %w", name, err)
		}
		s.Tables[name] = t
	}

	if err := s.link(names); err != nil {
		return nil, err
	}
	if err := s.checkIndexes(names); err != nil {
		return nil, err
	}

	root, ok := s.Tables[constants.RootTable]
	if !ok {
		return nil, fmt.Errorf("schema has no root table %s", constants.RootTable)
	}
	if !root.IsRoot || root.Parent != "" {
		return nil, fmt.Errorf("table %s must be a root table without a parent", constants.RootTable)
	}
	s.Root = root

	for _, name := range names {
		t := s.Tables[name]
		if other, dup := s.PluralNameMap[t.PluralName]; dup {
			return nil, fmt.Errorf("tables %s and %s share plural name %q", other, name, t.PluralName)
		}
		s.PluralNameMap[t.PluralName] = name
	}
	return s, nil
}

func buildTable(name string, def TableDefinition) (*Table, error) {
	t := &Table{
		Name:       name,
		PluralName: def.PluralName,
		IsRoot:     def.IsRoot,
		MaxRows:    def.MaxRows,
		Mutable:    def.Mutable == nil || *def.Mutable,
		Config:     newColumnSet(),
		Status:     newColumnSet(),
		Stats:      newColumnSet(),
		References: make(map[string]*Reference),
		Indexes:    append([]string(nil), def.Indexes...),
		Rules:      append([]Rule(nil), def.Rules...),
	}
	if t.PluralName == "" {
		t.PluralName = Pluralize(name)
	}

	colNames := make([]string, 0, len(def.Columns))
	for n := range def.Columns {
		colNames = append(colNames, n)
	}
	sort.Strings(colNames)

	for _, colName := range colNames {
		cd := def.Columns[colName]
		category, err := parseCategory(cd.Category)
		if err != nil {
			return nil, fmt.Errorf("column %s: %w", colName, err)
		}
		min, max, err := cd.Type.bounds()
		if err != nil {
			return nil, fmt.Errorf("column %s: %w", colName, err)
		}
		key, err := convertBase(cd.Type.Key)
		if err != nil {
			return nil, fmt.Errorf("column %s key: %w", colName, err)
		}
		var value *BaseType
		if cd.Type.Value != nil {
			v, err := convertBase(*cd.Type.Value)
			if err != nil {
				return nil, fmt.Errorf("column %s value: %w", colName, err)
			}
			value = &v
		}
		mutable := cd.Mutable == nil || *cd.Mutable

		if cd.Relationship != "" || key.RefTable != "" || (value != nil && value.RefTable != "") {
			ref, err := buildReference(colName, cd.Relationship, category, key, value, min, max, mutable)
			if err != nil {
				return nil, fmt.Errorf("column %s: %w", colName, err)
			}
			t.References[colName] = ref
			continue
		}

		col := &Column{
			Name:     colName,
			Category: category,
			Key:      key,
			Value:    value,
			Min:      min,
			Max:      max,
			Mutable:  mutable,
		}
		if len(cd.Keys) > 0 {
			if value == nil {
				return nil, fmt.Errorf("column %s: keys declared on a non-map column", colName)
			}
			col.Keys = make(map[string]BaseType, len(cd.Keys))
			for k, kd := range cd.Keys {
				bt, err := convertBase(kd)
				if err != nil {
					return nil, fmt.Errorf("column %s key %s: %w", colName, k, err)
				}
				col.Keys[k] = bt
			}
		}
		switch category {
		case CategoryStatus:
			t.Status.add(col)
		case CategoryStatistics:
			t.Stats.add(col)
		default:
			t.Config.add(col)
		}
	}
	return t, nil
}

func buildReference(column, relationship string, category Category, key BaseType, value *BaseType, min, max int, mutable bool) (*Reference, error) {
	ref := &Reference{
		Column:   column,
		Table:    key.RefTable,
		Category: category,
		Min:      min,
		Max:      max,
		Mutable:  mutable,
	}
	if value != nil && value.RefTable != "" {
		ref.Table = value.RefTable
		ref.KeyValue = true
		ref.KeyType = key
	}
	if ref.Table == "" {
		return nil, fmt.Errorf("relationship %q without refTable", relationship)
	}
	switch relationship {
	case constants.RelationshipChild:
		ref.Kind = RefChild
	case constants.RelationshipParent:
		ref.Kind = RefParent
		if ref.IsPlural() {
			return nil, fmt.Errorf("parent reference must be singular")
		}
	case constants.RelationshipReference, "":
		ref.Kind = RefReference
	default:
		return nil, fmt.Errorf("unknown relationship %q", relationship)
	}
	return ref, nil
}

// link resolves parent/child edges and the reverse reference index
func (s *Schema) link(names []string) error {
	setParent := func(child *Table, parent string) error {
		if child.Parent != "" && child.Parent != parent {
			return fmt.Errorf("table %s has more than one parent (%s, %s)", child.Name, child.Parent, parent)
		}
		child.Parent = parent
		return nil
	}

	for _, name := range names {
		t := s.Tables[name]
		for _, col := range t.ReferenceNames() {
			ref := t.References[col]
			target, ok := s.Tables[ref.Table]
			if !ok {
				return fmt.Errorf("table %s column %s references unknown table %s", name, col, ref.Table)
			}
			switch ref.Kind {
			case RefChild:
				if err := setParent(target, name); err != nil {
					return err
				}
				t.Children = append(t.Children, col)
			case RefParent:
				if err := setParent(t, target.Name); err != nil {
					return err
				}
				if !target.HasBackChild(name) {
					target.BackChildren = append(target.BackChildren, name)
				}
			case RefReference:
			}
			s.ReferenceMap[col] = ref.Table
			s.ReferencesByTable[ref.Table] = append(s.ReferencesByTable[ref.Table], Referrer{
				Table:  name,
				Column: col,
				Kind:   ref.Kind,
			})
		}
	}
	for _, t := range s.Tables {
		sort.Strings(t.Children)
		sort.Strings(t.BackChildren)
	}
	return nil
}

// checkIndexes validates index columns and forces them immutable
func (s *Schema) checkIndexes(names []string) error {
	for _, name := range names {
		t := s.Tables[name]
		for _, idx := range t.Indexes {
			if idx == constants.IndexUUID {
				if len(t.Indexes) != 1 {
					return fmt.Errorf("table %s: %s cannot be combined with other index columns", name, idx)
				}
				continue
			}
			if col, ok := t.Config.Get(idx); ok {
				if !col.IsScalar() || col.IsOptional() {
					return fmt.Errorf("table %s: index column %s must be a required scalar", name, idx)
				}
				col.Mutable = false
				continue
			}
			if ref, ok := t.References[idx]; ok && ref.Category == CategoryConfiguration && !ref.IsPlural() {
				ref.Mutable = false
				continue
			}
			return fmt.Errorf("table %s: index column %s is not a configuration column", name, idx)
		}
	}
	return nil
}

func parseCategory(s string) (Category, error) {
	switch s {
	case "", constants.CategoryConfiguration:
		return CategoryConfiguration, nil
	case constants.CategoryStatus:
		return CategoryStatus, nil
	case constants.CategoryStatistics:
		return CategoryStatistics, nil
	}
	return 0, fmt.Errorf("unknown category %q", s)
}

func parseElementType(s string) (ElementType, error) {
	switch s {
	case constants.TypeInteger:
		return TypeInteger, nil
	case constants.TypeReal:
		return TypeReal, nil
	case constants.TypeString:
		return TypeString, nil
	case constants.TypeBoolean:
		return TypeBoolean, nil
	case constants.TypeUUID:
		return TypeUUID, nil
	}
	return 0, fmt.Errorf("unknown type %q", s)
}

func convertBase(def BaseTypeDefinition) (BaseType, error) {
	et, err := parseElementType(def.Type)
	if err != nil {
		return BaseType{}, err
	}
	bt := BaseType{
		Type:       et,
		MinInteger: def.MinInteger,
		MaxInteger: def.MaxInteger,
		MinReal:    def.MinReal,
		MaxReal:    def.MaxReal,
		MinLength:  def.MinLength,
		MaxLength:  def.MaxLength,
		RefTable:   def.RefTable,
	}
	if bt.RefTable != "" && et != TypeUUID {
		return BaseType{}, fmt.Errorf("refTable requires type uuid")
	}
	for _, e := range def.Enum {
		switch et {
		case TypeInteger:
			f, ok := e.(float64)
			if !ok || f != float64(int64(f)) {
				return BaseType{}, fmt.Errorf("enum value %v is not an integer", e)
			}
			bt.Enum = append(bt.Enum, int64(f))
		case TypeReal:
			f, ok := e.(float64)
			if !ok {
				return BaseType{}, fmt.Errorf("enum value %v is not a real", e)
			}
			bt.Enum = append(bt.Enum, f)
		case TypeBoolean:
			b, ok := e.(bool)
			if !ok {
				return BaseType{}, fmt.Errorf("enum value %v is not a boolean", e)
			}
			bt.Enum = append(bt.Enum, b)
		default:
			s, ok := e.(string)
			if !ok {
				return BaseType{}, fmt.Errorf("enum value %v is not a string", e)
			}
			bt.Enum = append(bt.Enum, s)
		}
	}
	return bt, nil
}

// Pluralize derives the default URI segment for a table name
func Pluralize(name string) string {
	lower := strings.ToLower(name)
	switch {
	case strings.HasSuffix(lower, "y") && len(lower) > 1 && !strings.ContainsRune("aeiou", rune(lower[len(lower)-2])):
		return lower[:len(lower)-1] + "ies"
	case strings.HasSuffix(lower, "s"), strings.HasSuffix(lower, "x"),
		strings.HasSuffix(lower, "ch"), strings.HasSuffix(lower, "sh"):
		return lower + "es"
	}
	return lower + "s"
}
