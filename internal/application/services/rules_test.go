package services

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ovsrestd/backend/internal/domain/schema"
)

func TestRuleEvaluator_Check(t *testing.T) {
	re := NewRuleEvaluator(nil)
	table := &schema.Table{
		Name: "Port",
		Rules: []schema.Rule{
			{Condition: `vlan_mode == "access" && EMPTY(tag)`, Message: "access ports need a tag"},
			{Condition: `vlan_mode == "access" && COUNT(trunks) > 0`, Message: "access ports cannot carry trunks"},
		},
	}

	tests := []struct {
		name string
		row  map[string]any
		want []string
	}{
		{"tagged access port", map[string]any{"vlan_mode": "access", "tag": int64(10)}, nil},
		{"missing tag", map[string]any{"vlan_mode": "access"}, []string{"access ports need a tag"}},
		{"empty trunks count as absent", map[string]any{"vlan_mode": "access", "tag": int64(10), "trunks": []any{}}, nil},
		{"trunks on access port", map[string]any{"vlan_mode": "access", "trunks": []any{int64(1)}},
			[]string{"access ports need a tag", "access ports cannot carry trunks"}},
		{"trunk port", map[string]any{"vlan_mode": "trunk"}, nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			errs := re.Check(table, tt.row)
			var got []string
			for _, e := range errs {
				got = append(got, e.Message)
			}
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestRuleEvaluator_Validate(t *testing.T) {
	re := NewRuleEvaluator(nil)
	require.NoError(t, re.Validate(loadTestSchema(t)))
	assert.Error(t, re.engine.Validate("EMPTY("))
}
