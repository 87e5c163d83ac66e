package resource

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSplitDecodesSegments(t *testing.T) {
	segs, err := Split("/system/vrfs/vrf_default/routes/static/10.0.0.0%2F24/")
	require.NoError(t, err)
	assert.Equal(t, []string{"system", "vrfs", "vrf_default", "routes", "static", "10.0.0.0/24"}, segs)

	_, err = Split("/system/bridges/%zz")
	assert.Error(t, err)
}

func TestJoinRoundTrips(t *testing.T) {
	uri := Join("/rest/v1/", "system", "routes", "10.0.0.0/24", "a b")
	assert.Equal(t, "/rest/v1/system/routes/10.0.0.0%2F24/a%20b", uri)

	segs, err := Split(uri)
	require.NoError(t, err)
	assert.Equal(t, []string{"rest", "v1", "system", "routes", "10.0.0.0/24", "a b"}, segs)
}

func TestChainAccessors(t *testing.T) {
	r := &Resource{Hops: []Hop{
		{Table: "System", UUID: "root", Column: "bridges", Relation: RelationChild},
		{Table: "Bridge"},
	}}
	assert.False(t, r.IsRoot())
	assert.Equal(t, "System", r.Parent().Table)
	assert.False(t, r.Terminal().IsInstance())

	single := &Resource{Hops: []Hop{{Table: "System", UUID: "root"}}}
	assert.True(t, single.IsRoot())
	assert.Nil(t, single.Parent())
}

func TestRelationString(t *testing.T) {
	assert.Equal(t, "back", RelationBackReference.String())
	assert.Equal(t, "toplevel", RelationTopLevel.String())
	assert.Equal(t, "unknown", Relation(99).String())
}
