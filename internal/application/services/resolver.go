package services

import (
	"fmt"
	"net/http"
	"slices"
	"strings"

	"github.com/ovsrestd/backend/internal/domain/resource"
	"github.com/ovsrestd/backend/internal/domain/schema"
	"github.com/ovsrestd/backend/internal/infrastructure/replica"
	"github.com/ovsrestd/backend/pkg/constants"
	apperrors "github.com/ovsrestd/backend/pkg/errors"
	"github.com/ovsrestd/backend/pkg/utils"
)

// Resolver walks URI segments against the schema and the replica and produces
// the chain of hops they address
type Resolver struct {
	schema   *schema.Schema
	accessor *Accessor
}

// NewResolver creates a new Resolver
func NewResolver(s *schema.Schema, a *Accessor) *Resolver {
	return &Resolver{schema: s, accessor: a}
}

// Resolve maps decoded path segments, starting with the root token, to a
// resource chain. Every failure is reported as a NotFoundError.
func (r *Resolver) Resolve(method string, segments []string) (*resource.Resource, error) {
	path := "/" + strings.Join(segments, "/")
	fail := func(format string, args ...any) (*resource.Resource, error) {
		return nil, apperrors.NewNotFoundError(path, fmt.Sprintf(format, args...))
	}

	if len(segments) == 0 || segments[0] != constants.RootURIToken {
		return fail("path must start with /%s", constants.RootURIToken)
	}
	rootID, ok := r.accessor.RootUUID()
	if !ok {
		return fail("dataset not initialized")
	}

	hops := []resource.Hop{{Table: r.schema.Root.Name, UUID: rootID}}
	rest := segments[1:]
	for len(rest) > 0 {
		cur := &hops[len(hops)-1]
		if len(hops) > 1 && hops[len(hops)-2].Relation == resource.RelationReference &&
			(method == http.MethodGet || method == http.MethodPost) {
			return fail("cannot follow %s past a reference", rest[0])
		}

		table := r.schema.Tables[cur.Table]
		next, column, relation, ok := r.classify(table, rest[0])
		if !ok {
			return fail("%s is not related to %s", rest[0], cur.Table)
		}
		cur.Column = column
		cur.Relation = relation
		rest = rest[1:]

		nt := r.schema.Tables[next]
		if len(rest) == 0 {
			if relation == resource.RelationBackReference && method != http.MethodGet && method != http.MethodPost {
				return fail("%s collection only supports GET and POST", nt.PluralName)
			}
			hops = append(hops, resource.Hop{Table: next, Rows: r.collection(cur, nt)})
			break
		}

		hop, consumed, ok := r.locate(cur, table, nt, rest)
		if !ok {
			return fail("no %s matches %s", next, strings.Join(rest[:min(consumed, len(rest))], "/"))
		}
		hops = append(hops, hop)
		rest = rest[consumed:]
	}
	return &resource.Resource{Hops: hops}, nil
}

// classify decides how segment leads away from table
func (r *Resolver) classify(table *schema.Table, segment string) (string, string, resource.Relation, bool) {
	if ref, ok := table.References[segment]; ok {
		switch ref.Kind {
		case schema.RefChild:
			return ref.Table, segment, resource.RelationChild, true
		case schema.RefReference:
			return ref.Table, segment, resource.RelationReference, true
		case schema.RefParent:
		}
		return "", "", resource.RelationNone, false
	}
	name, ok := r.schema.CanonicalTable(segment)
	if !ok {
		return "", "", resource.RelationNone, false
	}
	if table.HasBackChild(name) {
		parentCol, _ := r.schema.Tables[name].ParentColumn()
		return name, parentCol, resource.RelationBackReference, true
	}
	if table.Name == r.schema.Root.Name && r.schema.Tables[name].IsTopLevel() {
		return name, "", resource.RelationTopLevel, true
	}
	return "", "", resource.RelationNone, false
}

// collection lists the member rows of a bare collection reached from cur
func (r *Resolver) collection(cur *resource.Hop, nt *schema.Table) []string {
	switch cur.Relation {
	case resource.RelationChild, resource.RelationReference:
		row, _ := r.accessor.Row(cur.Table, cur.UUID)
		return refMembers(row[cur.Column])
	case resource.RelationBackReference:
		return r.accessor.RowsWhere(nt.Name, cur.Column, cur.UUID)
	case resource.RelationTopLevel:
		return r.accessor.Rows(nt.Name)
	case resource.RelationNone:
	}
	return nil
}

// locate consumes the index segments of the next hop and finds its row. It
// returns how many segments it needed.
func (r *Resolver) locate(cur *resource.Hop, table, nt *schema.Table, rest []string) (resource.Hop, int, bool) {
	hop := resource.Hop{Table: nt.Name}

	if cur.Relation == resource.RelationChild || cur.Relation == resource.RelationReference {
		ref := table.References[cur.Column]
		row, _ := r.accessor.Row(cur.Table, cur.UUID)
		if ref.KeyValue {
			key, ok := canonicalAtom(ref.KeyType, rest[0])
			if !ok {
				return hop, 1, false
			}
			m, _ := row[cur.Column].(map[string]any)
			id, ok := m[key].(string)
			if !ok {
				return hop, 1, false
			}
			hop.UUID, hop.Index = id, []string{key}
			return hop, 1, true
		}

		n := len(nt.URIIndexes())
		if len(rest) < n {
			return hop, n, false
		}
		values, ok := r.canonicalIndex(nt, rest[:n])
		if !ok {
			return hop, n, false
		}
		members := refMembers(row[cur.Column])
		if _, hasParent := nt.ParentColumn(); hasParent {
			// the full index names a parent this hop does not know, match members
			for _, m := range members {
				if got, ok := r.accessor.IndexValues(nt.Name, m); ok && slices.Equal(got, values) {
					hop.UUID, hop.Index = m, values
					return hop, n, true
				}
			}
			return hop, n, false
		}
		id, ok := r.accessor.LookupByIndex(nt.Name, values)
		if !ok || !slices.Contains(members, id) {
			return hop, n, false
		}
		hop.UUID, hop.Index = id, values
		return hop, n, true
	}

	n := len(nt.URIIndexes())
	if len(rest) < n {
		return hop, n, false
	}
	values, ok := r.canonicalIndex(nt, rest[:n])
	if !ok {
		return hop, n, false
	}
	full := values
	if cur.Relation == resource.RelationBackReference {
		full = fullIndex(nt, values, cur.UUID)
	}
	id, ok := r.accessor.LookupByIndex(nt.Name, full)
	if !ok {
		return hop, n, false
	}
	if cur.Relation == resource.RelationBackReference {
		row, _ := r.accessor.Row(nt.Name, id)
		if replica.FormatAtom(row[cur.Column]) != cur.UUID {
			return hop, n, false
		}
	}
	hop.UUID, hop.Index = id, values
	return hop, n, true
}

// canonicalIndex normalizes URI index segments to their stored rendering
func (r *Resolver) canonicalIndex(t *schema.Table, segs []string) ([]string, bool) {
	if t.HasUUIDIndex() {
		id, ok := utils.NormalizeUUID(segs[0])
		return []string{id}, ok
	}
	out := make([]string, len(segs))
	for i, col := range t.URIIndexes() {
		v := segs[i]
		if c, ok := t.Config.Get(col); ok {
			canon, ok := canonicalAtom(c.Key, v)
			if !ok {
				return nil, false
			}
			v = canon
		}
		out[i] = v
	}
	return out, true
}

// fullIndex expands URI index values with the parent UUID at the parent column
func fullIndex(t *schema.Table, uriValues []string, parentID string) []string {
	if t.HasUUIDIndex() {
		return uriValues
	}
	parentCol, _ := t.ParentColumn()
	out := make([]string, 0, len(t.Indexes))
	i := 0
	for _, col := range t.Indexes {
		if col == parentCol {
			out = append(out, parentID)
			continue
		}
		if i < len(uriValues) {
			out = append(out, uriValues[i])
		}
		i++
	}
	return out
}
