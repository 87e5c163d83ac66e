package services

import (
	"github.com/ovsrestd/backend/internal/domain/resource"
	"github.com/ovsrestd/backend/internal/domain/schema"
	"github.com/ovsrestd/backend/internal/infrastructure/replica"
	"github.com/ovsrestd/backend/pkg/constants"
)

// URIBuilder renders rows and resource chains back into URIs the Resolver accepts
type URIBuilder struct {
	schema   *schema.Schema
	accessor *Accessor
	prefix   string
}

// NewURIBuilder creates a builder for URIs under prefix
func NewURIBuilder(s *schema.Schema, a *Accessor, prefix string) *URIBuilder {
	return &URIBuilder{schema: s, accessor: a, prefix: prefix}
}

// Prefix returns the URI prefix
func (b *URIBuilder) Prefix() string { return b.prefix }

// RowURI returns the canonical URI of a committed row
func (b *URIBuilder) RowURI(table, id string) (string, bool) {
	segs, ok := b.Segments(table, id)
	if !ok {
		return "", false
	}
	return resource.Join(b.prefix, segs...), true
}

// Segments returns the decoded URI segments of a committed row, root first
func (b *URIBuilder) Segments(table, id string) ([]string, bool) {
	t, ok := b.schema.Table(table)
	if !ok {
		return nil, false
	}
	if t.Name == b.schema.Root.Name {
		return []string{constants.RootURIToken}, true
	}
	if t.IsTopLevel() {
		idx, ok := b.accessor.IndexValues(table, id)
		if !ok {
			return nil, false
		}
		return append([]string{constants.RootURIToken, t.PluralName}, idx...), true
	}

	if parentCol, ok := t.ParentColumn(); ok {
		row, ok := b.accessor.Row(table, id)
		if !ok {
			return nil, false
		}
		parentID, _ := row[parentCol].(string)
		segs, ok := b.Segments(t.Parent, parentID)
		if !ok {
			return nil, false
		}
		idx, ok := b.accessor.IndexValues(table, id)
		if !ok {
			return nil, false
		}
		segs = append(segs, t.PluralName)
		return append(segs, idx...), true
	}

	// forward child: find the owner row holding id
	parent := b.schema.Tables[t.Parent]
	for _, col := range parent.Children {
		ref := parent.References[col]
		if ref.Table != table {
			continue
		}
		for _, ownerID := range b.accessor.Rows(parent.Name) {
			owner, _ := b.accessor.Row(parent.Name, ownerID)
			if !refContains(owner[col], id) {
				continue
			}
			segs, ok := b.Segments(parent.Name, ownerID)
			if !ok {
				return nil, false
			}
			segs = append(segs, col)
			if ref.KeyValue {
				key, _ := refKey(owner[col], id)
				return append(segs, key), true
			}
			idx, ok := b.accessor.IndexValues(table, id)
			if !ok {
				return nil, false
			}
			return append(segs, idx...), true
		}
	}
	return nil, false
}

// ChainSegments returns the decoded URI segments of a resolved chain
func (b *URIBuilder) ChainSegments(res *resource.Resource) []string {
	segs := []string{constants.RootURIToken}
	for i := 0; i < len(res.Hops)-1; i++ {
		hop, next := res.Hops[i], res.Hops[i+1]
		switch hop.Relation {
		case resource.RelationChild, resource.RelationReference:
			segs = append(segs, hop.Column)
		case resource.RelationBackReference, resource.RelationTopLevel:
			segs = append(segs, b.schema.Tables[next.Table].PluralName)
		case resource.RelationNone:
		}
		if next.IsInstance() {
			segs = append(segs, next.Index...)
		}
	}
	return segs
}

// ResourceURI renders a resolved chain, optionally extended by index segments
func (b *URIBuilder) ResourceURI(res *resource.Resource, index ...string) string {
	return resource.Join(b.prefix, append(b.ChainSegments(res), index...)...)
}

// renderRef renders a reference column value as URIs in its stored shape
func (b *URIBuilder) renderRef(ref *schema.Reference, v any) any {
	uri := func(id string) any {
		if s, ok := b.RowURI(ref.Table, id); ok {
			return s
		}
		return id
	}
	switch t := v.(type) {
	case string:
		return uri(t)
	case []any:
		out := make([]any, len(t))
		for i, e := range t {
			s, _ := e.(string)
			out[i] = uri(s)
		}
		return out
	case map[string]any:
		out := make(map[string]any, len(t))
		for k, e := range t {
			s, _ := e.(string)
			out[k] = uri(s)
		}
		return out
	}
	return replica.CloneValue(v)
}
