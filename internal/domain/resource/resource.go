// Package resource models the request-scoped chain of hops a URI resolves to.
package resource

import (
	"net/url"
	"strings"
)

// Relation says how a hop reaches the next hop's table
type Relation int

const (
	RelationNone Relation = iota
	RelationTopLevel
	RelationChild
	RelationReference
	RelationBackReference
)

func (r Relation) String() string {
	switch r {
	case RelationNone:
		return "none"
	case RelationTopLevel:
		return "toplevel"
	case RelationChild:
		return "child"
	case RelationReference:
		return "reference"
	case RelationBackReference:
		return "back"
	}
	return "unknown"
}

// Hop is one resolved position in the chain.
//
// A hop with UUID set denotes a single row. A hop without UUID denotes a
// collection; for back-reference collections Rows lists the member rows.
// Column and Relation describe how the next hop is reached and are only set on
// non-terminal hops.
type Hop struct {
	Table    string
	UUID     string
	Rows     []string
	Index    []string
	Column   string
	Relation Relation
}

// IsInstance reports whether the hop addresses a single row
func (h *Hop) IsInstance() bool { return h.UUID != "" }

// Resource is the full chain, root first
type Resource struct {
	Hops []Hop
}

// Len returns the number of hops
func (r *Resource) Len() int { return len(r.Hops) }

// Terminal returns the last hop
func (r *Resource) Terminal() *Hop { return &r.Hops[len(r.Hops)-1] }

// Parent returns the hop before the terminal one, or nil for the root alone
func (r *Resource) Parent() *Hop {
	if len(r.Hops) < 2 {
		return nil
	}
	return &r.Hops[len(r.Hops)-2]
}

// IsRoot reports whether the chain addresses the root row only
func (r *Resource) IsRoot() bool { return len(r.Hops) == 1 }

// Split breaks a URI path into percent-decoded segments
func Split(path string) ([]string, error) {
	raw := strings.Split(strings.Trim(path, "/"), "/")
	out := make([]string, 0, len(raw))
	for _, seg := range raw {
		if seg == "" {
			continue
		}
		dec, err := url.PathUnescape(seg)
		if err != nil {
			return nil, err
		}
		out = append(out, dec)
	}
	return out, nil
}

// Join escapes and joins segments into a URI path
func Join(prefix string, segments ...string) string {
	var b strings.Builder
	b.WriteString(strings.TrimRight(prefix, "/"))
	for _, seg := range segments {
		b.WriteByte('/')
		b.WriteString(url.PathEscape(seg))
	}
	return b.String()
}
