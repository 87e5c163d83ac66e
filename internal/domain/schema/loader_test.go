package schema

import (
	"testing"

	"github.com/ovsrestd/backend/pkg/constants"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func loadTestSchema(t *testing.T) *Schema {
	t.Helper()
	s, err := Load("../../../testdata/schema.json")
	require.NoError(t, err)
	return s
}

func TestLoad_DerivesRelationships(t *testing.T) {
	s := loadTestSchema(t)

	require.NotNil(t, s.Root)
	assert.Equal(t, constants.RootTable, s.Root.Name)
	assert.Equal(t, []string{"bridges", "vrfs"}, s.Root.Children)

	bridge, ok := s.Table("Bridge")
	require.True(t, ok)
	assert.Equal(t, "System", bridge.Parent)
	assert.Equal(t, []string{"ports"}, bridge.Children)
	assert.False(t, bridge.IsTopLevel())

	vrf, _ := s.Table("VRF")
	assert.Equal(t, []string{"Route"}, vrf.BackChildren)
	assert.Equal(t, []string{"bgp_routers"}, vrf.Children)
	assert.True(t, vrf.References["bgp_routers"].KeyValue)
	assert.Equal(t, TypeInteger, vrf.References["bgp_routers"].KeyType.Type)
	assert.Equal(t, RefReference, vrf.References["ports"].Kind)

	route, _ := s.Table("Route")
	assert.Equal(t, "VRF", route.Parent)
	parentCol, ok := route.ParentColumn()
	require.True(t, ok)
	assert.Equal(t, "vrf", parentCol)
	assert.Equal(t, []string{"from", "prefix"}, route.URIIndexes())

	iface, _ := s.Table("Interface")
	assert.True(t, iface.IsTopLevel())
	assert.False(t, iface.IsRoot)

	syslog, _ := s.Table("Syslog_Remote")
	assert.True(t, syslog.IsTopLevel())
	assert.True(t, syslog.HasUUIDIndex())
	assert.Equal(t, []string{constants.IndexUUID}, syslog.URIIndexes())
}

func TestLoad_ColumnCategoriesAndCardinality(t *testing.T) {
	s := loadTestSchema(t)
	port, _ := s.Table("Port")

	assert.Equal(t, []string{"name", "tag", "trunks", "vlan_mode"}, port.Config.Names())
	assert.Equal(t, []string{"status"}, port.Status.Names())

	tag, _ := port.Config.Get("tag")
	assert.True(t, tag.IsScalar())
	assert.True(t, tag.IsOptional())

	trunks, _ := port.Config.Get("trunks")
	assert.True(t, trunks.IsList())
	assert.Equal(t, 4094, trunks.Max)

	name, _ := port.Config.Get("name")
	assert.False(t, name.Mutable, "index columns are immutable")
	assert.False(t, name.IsOptional())

	sys := s.Root
	other, _ := sys.Config.Get("other_config")
	assert.True(t, other.IsMap())
	assert.Equal(t, Unbounded, other.Max)
	assert.Contains(t, other.Keys, "enable-statistics")

	iface, _ := s.Table("Interface")
	mode, _ := iface.Config.Get("admin_state")
	assert.Equal(t, []interface{}{"up", "down"}, mode.Key.Enum)
}

func TestLoad_PluralAndReverseMaps(t *testing.T) {
	s := loadTestSchema(t)

	for plural, table := range map[string]string{
		"bridges":        "Bridge",
		"ports":          "Port",
		"interfaces":     "Interface",
		"vrfs":           "VRF",
		"bgp_routers":    "BGP_Router",
		"routes":         "Route",
		"syslog_remotes": "Syslog_Remote",
	} {
		got, ok := s.CanonicalTable(plural)
		assert.True(t, ok, plural)
		assert.Equal(t, table, got)
	}

	referrers := s.ReferencesByTable["Port"]
	assert.ElementsMatch(t, []Referrer{
		{Table: "Bridge", Column: "ports", Kind: RefChild},
		{Table: "VRF", Column: "ports", Kind: RefReference},
	}, referrers)
	assert.Equal(t, "Interface", s.ReferenceMap["interfaces"])
}

func TestBuild_Errors(t *testing.T) {
	str := TypeDefinition{Key: BaseTypeDefinition{Type: "string"}}
	ref := func(table, rel string) ColumnDefinition {
		return ColumnDefinition{
			Relationship: rel,
			Type:         TypeDefinition{Key: BaseTypeDefinition{Type: "uuid", RefTable: table}},
		}
	}

	tests := []struct {
		name string
		def  SchemaDefinition
	}{
		{
			name: "Missing Root",
			def: SchemaDefinition{Tables: map[string]TableDefinition{
				"Bridge": {Columns: map[string]ColumnDefinition{"name": {Type: str}}},
			}},
		},
		{
			name: "Unknown Referenced Table",
			def: SchemaDefinition{Tables: map[string]TableDefinition{
				"System": {IsRoot: true, Columns: map[string]ColumnDefinition{"x": ref("Nope", "1:m")}},
			}},
		},
		{
			name: "Two Parents",
			def: SchemaDefinition{Tables: map[string]TableDefinition{
				"System": {IsRoot: true, Columns: map[string]ColumnDefinition{"a": ref("Leaf", "1:m")}},
				"Other":  {Columns: map[string]ColumnDefinition{"b": ref("Leaf", "1:m")}},
				"Leaf":   {Columns: map[string]ColumnDefinition{"name": {Type: str}}},
			}},
		},
		{
			name: "Index On Status Column",
			def: SchemaDefinition{Tables: map[string]TableDefinition{
				"System": {IsRoot: true, Indexes: []string{"s"}, Columns: map[string]ColumnDefinition{
					"s": {Category: "status", Type: str},
				}},
			}},
		},
		{
			name: "Unknown Type",
			def: SchemaDefinition{Tables: map[string]TableDefinition{
				"System": {IsRoot: true, Columns: map[string]ColumnDefinition{
					"x": {Type: TypeDefinition{Key: BaseTypeDefinition{Type: "blob"}}},
				}},
			}},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Build(tt.def)
			assert.Error(t, err)
		})
	}
}

func TestParse_ShorthandTypes(t *testing.T) {
	doc := `{"name":"t","tables":{"System":{"isRoot":true,"columns":{
		"a":{"type":"integer"},
		"b":{"type":{"key":"string","min":0,"max":"unlimited"}},
		"c":{"type":{"key":"string","max":"forever"}}}}}}`
	_, err := Parse([]byte(doc))
	require.Error(t, err, "invalid max spelling")

	doc = `{"name":"t","tables":{"System":{"isRoot":true,"columns":{
		"a":{"type":"integer"},
		"b":{"type":{"key":"string","min":0,"max":"unlimited"}}}}}}`
	s, err := Parse([]byte(doc))
	require.NoError(t, err)
	a, _ := s.Root.Config.Get("a")
	assert.True(t, a.IsScalar())
	assert.False(t, a.IsOptional())
	b, _ := s.Root.Config.Get("b")
	assert.True(t, b.IsList())
}

func TestPluralize(t *testing.T) {
	assert.Equal(t, "bridges", Pluralize("Bridge"))
	assert.Equal(t, "policies", Pluralize("Policy"))
	assert.Equal(t, "keys", Pluralize("Key"))
	assert.Equal(t, "addresses", Pluralize("Address"))
	assert.Equal(t, "vrfs", Pluralize("VRF"))
}
