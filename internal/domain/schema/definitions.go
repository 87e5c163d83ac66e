package schema

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/ovsrestd/backend/pkg/constants"
)

// SchemaDefinition is the on-disk extended schema document
type SchemaDefinition struct {
	Name    string                     `json:"name"`
	Version string                     `json:"version"`
	Tables  map[string]TableDefinition `json:"tables"`
}

// TableDefinition represents one table of the extended schema
type TableDefinition struct {
	IsRoot     bool                        `json:"isRoot,omitempty"`
	MaxRows    int                         `json:"maxRows,omitempty"`
	PluralName string                      `json:"pluralName,omitempty"`
	Indexes    []string                    `json:"indexes,omitempty"`
	Mutable    *bool                       `json:"mutable,omitempty"`
	Rules      []Rule                      `json:"rules,omitempty"`
	Columns    map[string]ColumnDefinition `json:"columns"`
}

// ColumnDefinition represents a single column of a table
type ColumnDefinition struct {
	Category     string                        `json:"category,omitempty"`
	Mutable      *bool                         `json:"mutable,omitempty"`
	Relationship string                        `json:"relationship,omitempty"` // 1:m, m:1, reference
	Type         TypeDefinition                `json:"type"`
	Keys         map[string]BaseTypeDefinition `json:"keys,omitempty"`
}

// TypeDefinition is either a bare atomic type name or a full key/value/min/max object
type TypeDefinition struct {
	Key   BaseTypeDefinition  `json:"key"`
	Value *BaseTypeDefinition `json:"value,omitempty"`
	Min   *int                `json:"min,omitempty"`
	Max   json.RawMessage     `json:"max,omitempty"`
}

// BaseTypeDefinition is either a bare atomic type name or an object with constraints
type BaseTypeDefinition struct {
	Type       string        `json:"type"`
	Enum       []interface{} `json:"enum,omitempty"`
	MinInteger *int64        `json:"minInteger,omitempty"`
	MaxInteger *int64        `json:"maxInteger,omitempty"`
	MinReal    *float64      `json:"minReal,omitempty"`
	MaxReal    *float64      `json:"maxReal,omitempty"`
	MinLength  *int          `json:"minLength,omitempty"`
	MaxLength  *int          `json:"maxLength,omitempty"`
	RefTable   string        `json:"refTable,omitempty"`
}

// UnmarshalJSON accepts "string" as shorthand for {"key": {"type": "string"}}
func (t *TypeDefinition) UnmarshalJSON(data []byte) error {
	var atomic string
	if err := json.Unmarshal(data, &atomic); err == nil {
		*t = TypeDefinition{Key: BaseTypeDefinition{Type: atomic}}
		return nil
	}
	type plain TypeDefinition
	var p plain
	if err := json.Unmarshal(data, &p); err != nil {
		return err
	}
	*t = TypeDefinition(p)
	return nil
}

// UnmarshalJSON accepts "integer" as shorthand for {"type": "integer"}
func (b *BaseTypeDefinition) UnmarshalJSON(data []byte) error {
	var atomic string
	if err := json.Unmarshal(data, &atomic); err == nil {
		*b = BaseTypeDefinition{Type: atomic}
		return nil
	}
	type plain BaseTypeDefinition
	var p plain
	if err := json.Unmarshal(data, &p); err != nil {
		return err
	}
	*b = BaseTypeDefinition(p)
	return nil
}

// bounds returns the (min, max) instance counts; max is Unbounded for "unlimited"
func (t TypeDefinition) bounds() (int, int, error) {
	min, max := 1, 1
	if t.Min != nil {
		min = *t.Min
	}
	if len(t.Max) > 0 {
		var n int
		if err := json.Unmarshal(t.Max, &n); err == nil {
			max = n
		} else {
			var s string
			if err := json.Unmarshal(t.Max, &s); err != nil || !strings.EqualFold(s, constants.Unlimited) {
				return 0, 0, fmt.Errorf("invalid max %s", string(t.Max))
			}
			max = Unbounded
		}
	}
	if min < 0 || (max != Unbounded && max < min) || max == 0 {
		return 0, 0, fmt.Errorf("invalid cardinality [%d, %d]", min, max)
	}
	return min, max, nil
}
