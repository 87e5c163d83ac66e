package services

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestRefMembers(t *testing.T) {
	tests := []struct {
		name  string
		value any
		want  []string
	}{
		{"absent", nil, nil},
		{"empty singular", "", nil},
		{"singular", "a", []string{"a"}},
		{"plural", []any{"a", "b"}, []string{"a", "b"}},
		{"key-valued in key order", map[string]any{"2": "b", "1": "a"}, []string{"a", "b"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, refMembers(tt.value))
		})
	}
}

func TestRefWithout(t *testing.T) {
	drop := map[string]bool{"b": true}

	got, changed := refWithout("b", drop)
	assert.True(t, changed)
	assert.Nil(t, got)

	got, changed = refWithout([]any{"a", "b", "c"}, drop)
	assert.True(t, changed)
	assert.Equal(t, []any{"a", "c"}, got)

	got, changed = refWithout(map[string]any{"1": "a", "2": "b"}, drop)
	assert.True(t, changed)
	assert.Equal(t, map[string]any{"1": "a"}, got)

	orig := []any{"a"}
	got, changed = refWithout(orig, drop)
	assert.False(t, changed)
	assert.Equal(t, orig, got)
}

func TestRefWith(t *testing.T) {
	orig := []any{"a"}
	got := refWith(orig, "b")
	assert.Equal(t, []any{"a", "b"}, got)
	assert.Equal(t, []any{"a"}, orig)
	assert.Equal(t, []any{"x"}, refWith(nil, "x"))

	key, ok := refKey(map[string]any{"65000": "x"}, "x")
	assert.True(t, ok)
	assert.Equal(t, "65000", key)
	assert.True(t, refContains([]any{"a", "x"}, "x"))
	assert.False(t, refContains("a", "x"))
}
