package services

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"slices"
	"sort"
	"strings"
	"unicode/utf8"

	"github.com/ovsrestd/backend/internal/domain/resource"
	"github.com/ovsrestd/backend/internal/domain/schema"
	"github.com/ovsrestd/backend/internal/infrastructure/replica"
	"github.com/ovsrestd/backend/pkg/constants"
	apperrors "github.com/ovsrestd/backend/pkg/errors"
	"github.com/ovsrestd/backend/pkg/utils"
)

// ReferenceTarget is a reference column of an existing row that a new
// top-level row must be attached to
type ReferenceTarget struct {
	Table  string
	UUID   string
	Column string
}

// Verified is a request body checked against the schema. Attributes holds the
// normalized column values to write; a nil value clears the column.
type Verified struct {
	Table        string
	Attributes   map[string]any
	ReferencedBy []ReferenceTarget
	// Key is the map key a new row is stored under in a key-valued parent column
	Key string
}

// Verifier validates request bodies for POST and PUT
type Verifier struct {
	schema   *schema.Schema
	accessor *Accessor
	resolver *Resolver
	rules    *RuleEvaluator
	prefix   string
}

// NewVerifier creates a new Verifier. prefix is stripped from reference URIs.
func NewVerifier(s *schema.Schema, a *Accessor, r *Resolver, rules *RuleEvaluator, prefix string) *Verifier {
	if rules == nil {
		rules = NewRuleEvaluator(nil)
	}
	return &Verifier{schema: s, accessor: a, resolver: r, rules: rules, prefix: prefix}
}

// Verify checks body against the terminal table of res. method is POST for a
// new row under a collection and PUT for an existing row.
func (v *Verifier) Verify(method string, res *resource.Resource, body map[string]any) (*Verified, error) {
	term := res.Terminal()
	t := v.schema.Tables[term.Table]
	post := method == http.MethodPost

	raw, ok := body[constants.KeyConfiguration]
	if !ok {
		return nil, apperrors.NewValidationError(constants.KeyConfiguration, "request body must contain configuration")
	}
	cfg, ok := raw.(map[string]any)
	if !ok {
		return nil, apperrors.NewValidationError(constants.KeyConfiguration, "configuration must be an object")
	}

	out := &Verified{Table: t.Name, Attributes: make(map[string]any)}
	var errs apperrors.ValidationErrors

	for _, name := range sortedNames(cfg) {
		if _, ok := t.Config.Get(name); ok {
			continue
		}
		if ref, ok := t.References[name]; ok && ref.Category == schema.CategoryConfiguration {
			// relationship columns are maintained through their own URIs
			if ref.Kind != schema.RefReference {
				errs = append(errs, apperrors.NewValidationError(name, "attribute is not writable"))
			}
			continue
		}
		errs = append(errs, apperrors.NewValidationError(name, "unknown attribute"))
	}

	for _, name := range t.Config.Names() {
		col, _ := t.Config.Get(name)
		mutable := col.Mutable && t.Mutable
		val, present := cfg[name]
		if !present {
			if !col.IsOptional() && (post || mutable) {
				errs = append(errs, apperrors.NewValidationError(name, "attribute is required"))
			}
			continue
		}
		if !post && !mutable {
			continue
		}
		norm, err := verifyColumn(col, val)
		if err != nil {
			errs = append(errs, apperrors.NewValidationError(name, err.Error()))
			continue
		}
		out.Attributes[name] = norm
	}

	for _, name := range t.ReferenceNames() {
		ref := t.References[name]
		if ref.Kind != schema.RefReference || ref.Category != schema.CategoryConfiguration {
			continue
		}
		mutable := ref.Mutable && t.Mutable
		val, present := cfg[name]
		if !present {
			if ref.Min > 0 && (post || mutable) {
				errs = append(errs, apperrors.NewValidationError(name, "attribute is required"))
			}
			continue
		}
		if !post && !mutable {
			continue
		}
		norm, err := v.verifyReference(ref, val)
		if err != nil {
			errs = append(errs, apperrors.NewValidationError(name, err.Error()))
			continue
		}
		out.Attributes[name] = norm
	}

	errs = append(errs, v.verifyPlacement(post, res, t, body, out)...)

	if post && len(errs) == 0 && !t.HasUUIDIndex() {
		values := make([]string, len(t.Indexes))
		for i, col := range t.Indexes {
			values[i] = replica.FormatAtom(out.Attributes[col])
		}
		if _, exists := v.accessor.LookupByIndex(t.Name, values); exists {
			errs = append(errs, apperrors.NewValidationError(t.URIIndexes()[0],
				fmt.Sprintf("duplicate index: %s %s already exists", t.Name, strings.Join(values, "/"))))
		}
	}

	if len(errs) == 0 && len(t.Rules) > 0 {
		merged := make(map[string]any)
		if !post {
			if current, ok := v.accessor.Row(t.Name, term.UUID); ok {
				merged = current
			}
		}
		for k, val := range out.Attributes {
			if replica.IsEmpty(val) {
				delete(merged, k)
				continue
			}
			merged[k] = val
		}
		errs = append(errs, v.rules.Check(t, merged)...)
	}

	if err := errs.OrNil(); err != nil {
		return nil, err
	}
	return out, nil
}

// verifyPlacement checks the parts of a request that depend on where the row
// sits: referenced_by, parent pointers and map keys
func (v *Verifier) verifyPlacement(post bool, res *resource.Resource, t *schema.Table, body map[string]any, out *Verified) apperrors.ValidationErrors {
	var errs apperrors.ValidationErrors
	rb, hasRB := body[constants.KeyReferencedBy]
	parent := res.Parent()

	if !post {
		if hasRB {
			errs = append(errs, apperrors.NewValidationError(constants.KeyReferencedBy, "referenced_by is not allowed on PUT"))
		}
		return errs
	}
	if parent == nil {
		return errs
	}

	switch parent.Relation {
	case resource.RelationTopLevel:
		switch {
		case hasRB:
			targets, rbErrs := v.verifyReferencedBy(t, rb)
			errs = append(errs, rbErrs...)
			out.ReferencedBy = targets
		case !t.IsRoot:
			errs = append(errs, apperrors.NewValidationError(constants.KeyReferencedBy,
				fmt.Sprintf("referenced_by is required to create %s", t.Name)))
		}
		return errs

	case resource.RelationBackReference:
		out.Attributes[parent.Column] = parent.UUID

	case resource.RelationChild, resource.RelationReference:
		pt := v.schema.Tables[parent.Table]
		ref := pt.References[parent.Column]
		prow, _ := v.accessor.Row(parent.Table, parent.UUID)
		current := prow[parent.Column]
		switch {
		case ref.KeyValue:
			key, err := v.deriveKey(t, ref, out)
			if err != nil {
				errs = append(errs, err)
				break
			}
			if m, _ := current.(map[string]any); m != nil {
				if _, dup := m[key]; dup {
					errs = append(errs, apperrors.NewValidationError(t.URIIndexes()[0],
						fmt.Sprintf("duplicate key %s in %s", key, parent.Column)))
				}
			}
			out.Key = key
		case ref.IsPlural():
			if ref.Max != schema.Unbounded && len(refMembers(current))+1 > ref.Max {
				errs = append(errs, apperrors.NewValidationError(parent.Column,
					fmt.Sprintf("%s already holds the maximum of %d rows", parent.Column, ref.Max)))
			}
		default:
			if len(refMembers(current)) > 0 {
				errs = append(errs, apperrors.NewValidationError(parent.Column,
					fmt.Sprintf("%s is already set", parent.Column)))
			}
		}

	case resource.RelationNone:
	}

	if hasRB {
		errs = append(errs, apperrors.NewValidationError(constants.KeyReferencedBy,
			"referenced_by is only allowed when creating top-level rows"))
	}
	return errs
}

func (v *Verifier) deriveKey(t *schema.Table, ref *schema.Reference, out *Verified) (string, *apperrors.ValidationError) {
	idx := t.URIIndexes()
	if t.HasUUIDIndex() || len(idx) != 1 {
		return "", apperrors.NewValidationError(ref.Column, fmt.Sprintf("cannot derive a %s key from %s", ref.Column, t.Name))
	}
	val, ok := out.Attributes[idx[0]]
	if !ok {
		// already reported as a missing attribute
		return "", nil
	}
	key, err := canonicalKey(ref.KeyType, replica.FormatAtom(val))
	if err != nil {
		return "", apperrors.NewValidationError(idx[0], err.Error())
	}
	return key, nil
}

func (v *Verifier) verifyReferencedBy(t *schema.Table, raw any) ([]ReferenceTarget, apperrors.ValidationErrors) {
	var errs apperrors.ValidationErrors
	list, ok := raw.([]any)
	if !ok {
		return nil, append(errs, apperrors.NewValidationError(constants.KeyReferencedBy, "referenced_by must be an array"))
	}
	if len(list) == 0 && !t.IsRoot {
		return nil, append(errs, apperrors.NewValidationError(constants.KeyReferencedBy,
			fmt.Sprintf("referenced_by is required to create %s", t.Name)))
	}

	var targets []ReferenceTarget
	for i, e := range list {
		field := fmt.Sprintf("%s[%d]", constants.KeyReferencedBy, i)
		entry, ok := e.(map[string]any)
		if !ok {
			errs = append(errs, apperrors.NewValidationError(field, "entry must be an object"))
			continue
		}
		uri, _ := entry[constants.KeyURI].(string)
		if uri == "" {
			errs = append(errs, apperrors.NewValidationError(field, "uri is required"))
			continue
		}
		res, err := v.resolveURI(uri)
		if err != nil || !res.Terminal().IsInstance() {
			errs = append(errs, apperrors.NewValidationError(field, fmt.Sprintf("%s does not name a row", uri)))
			continue
		}
		term := res.Terminal()
		rt := v.schema.Tables[term.Table]
		candidates := referenceCandidates(rt, t.Name)

		var attrs []string
		if rawAttrs, ok := entry[constants.KeyAttributes]; ok {
			names, ok := rawAttrs.([]any)
			if !ok || len(names) == 0 {
				errs = append(errs, apperrors.NewValidationError(field, "attributes must be a non-empty array"))
				continue
			}
			for _, n := range names {
				name, _ := n.(string)
				if !slices.Contains(candidates, name) {
					errs = append(errs, apperrors.NewValidationError(field,
						fmt.Sprintf("%s.%v is not a reference to %s", rt.Name, n, t.Name)))
					continue
				}
				attrs = append(attrs, name)
			}
		} else {
			switch len(candidates) {
			case 0:
				errs = append(errs, apperrors.NewValidationError(field,
					fmt.Sprintf("%s has no attribute referencing %s", rt.Name, t.Name)))
			case 1:
				attrs = candidates
			default:
				errs = append(errs, apperrors.NewValidationError(field,
					fmt.Sprintf("ambiguous reference from %s, specify attributes: %s", rt.Name, strings.Join(candidates, ", "))))
			}
		}

		row, _ := v.accessor.Row(rt.Name, term.UUID)
		for _, attr := range attrs {
			ref := rt.References[attr]
			if ref.IsPlural() && ref.Max != schema.Unbounded && len(refMembers(row[attr]))+1 > ref.Max {
				errs = append(errs, apperrors.NewValidationError(field,
					fmt.Sprintf("%s.%s already holds the maximum of %d rows", rt.Name, attr, ref.Max)))
				continue
			}
			targets = append(targets, ReferenceTarget{Table: rt.Name, UUID: term.UUID, Column: attr})
		}
	}
	return targets, errs
}

// referenceCandidates lists the mutable plain reference columns of rt that can point at target
func referenceCandidates(rt *schema.Table, target string) []string {
	var out []string
	for _, name := range rt.ReferenceNames() {
		ref := rt.References[name]
		if ref.Kind == schema.RefReference && !ref.KeyValue && ref.Table == target &&
			ref.Category == schema.CategoryConfiguration && ref.Mutable && rt.Mutable {
			out = append(out, name)
		}
	}
	return out
}

func (v *Verifier) resolveURI(uri string) (*resource.Resource, error) {
	rel, ok := strings.CutPrefix(uri, v.prefix)
	if !ok || !strings.HasPrefix(rel, "/") {
		return nil, fmt.Errorf("%s is outside %s", uri, v.prefix)
	}
	segs, err := resource.Split(rel)
	if err != nil {
		return nil, err
	}
	return v.resolver.Resolve(http.MethodGet, segs)
}

// verifyReference normalizes a reference column value to row UUIDs
func (v *Verifier) verifyReference(ref *schema.Reference, raw any) (any, error) {
	if raw == nil {
		if ref.Min > 0 {
			return nil, errors.New("attribute is required")
		}
		return nil, nil
	}

	if ref.KeyValue {
		m, ok := raw.(map[string]any)
		if !ok {
			return nil, errors.New("expected an object")
		}
		if err := checkCount(ref.Min, ref.Max, len(m)); err != nil {
			return nil, err
		}
		out := make(map[string]any, len(m))
		for _, k := range sortedNames(m) {
			key, err := canonicalKey(ref.KeyType, k)
			if err != nil {
				return nil, fmt.Errorf("key %q: %w", k, err)
			}
			if _, dup := out[key]; dup {
				return nil, fmt.Errorf("duplicate key %q", k)
			}
			id, err := v.lookupRef(ref.Table, m[k])
			if err != nil {
				return nil, err
			}
			out[key] = id
		}
		return out, nil
	}

	if ref.IsPlural() {
		list, ok := raw.([]any)
		if !ok {
			return nil, errors.New("expected an array")
		}
		if err := checkCount(ref.Min, ref.Max, len(list)); err != nil {
			return nil, err
		}
		out := make([]any, 0, len(list))
		seen := make(map[string]bool, len(list))
		for _, e := range list {
			id, err := v.lookupRef(ref.Table, e)
			if err != nil {
				return nil, err
			}
			if seen[id] {
				return nil, fmt.Errorf("duplicate reference %v", e)
			}
			seen[id] = true
			out = append(out, id)
		}
		return out, nil
	}

	return v.lookupRef(ref.Table, raw)
}

// lookupRef resolves a URI, a row UUID or a single index value to a row of table
func (v *Verifier) lookupRef(table string, raw any) (string, error) {
	s, ok := raw.(string)
	if !ok {
		return "", fmt.Errorf("expected a URI or identifier, got %s", describe(raw))
	}
	if strings.HasPrefix(s, "/") {
		res, err := v.resolveURI(s)
		if err != nil {
			return "", fmt.Errorf("%s does not resolve", s)
		}
		term := res.Terminal()
		if !term.IsInstance() || term.Table != table {
			return "", fmt.Errorf("%s does not name a %s row", s, table)
		}
		return term.UUID, nil
	}
	if id, ok := utils.NormalizeUUID(s); ok {
		if _, exists := v.accessor.Row(table, id); exists {
			return id, nil
		}
	}
	t := v.schema.Tables[table]
	if !t.HasUUIDIndex() && len(t.Indexes) == 1 {
		if col, ok := t.Config.Get(t.Indexes[0]); ok {
			if canon, ok := canonicalAtom(col.Key, s); ok {
				if id, ok := v.accessor.LookupByIndex(table, []string{canon}); ok {
					return id, nil
				}
			}
		}
	}
	return "", fmt.Errorf("no %s row matches %q", table, s)
}

// verifyColumn checks a value against a column's shape and element constraints
func verifyColumn(col *schema.Column, raw any) (any, error) {
	if raw == nil {
		if !col.IsOptional() {
			return nil, errors.New("attribute is required")
		}
		return nil, nil
	}

	switch {
	case col.IsMap():
		m, ok := raw.(map[string]any)
		if !ok {
			return nil, fmt.Errorf("expected an object, got %s", describe(raw))
		}
		if err := checkCount(col.Min, col.Max, len(m)); err != nil {
			return nil, err
		}
		out := make(map[string]any, len(m))
		for _, k := range sortedNames(m) {
			key, err := canonicalKey(col.Key, k)
			if err != nil {
				return nil, fmt.Errorf("key %q: %w", k, err)
			}
			bt := *col.Value
			if len(col.Keys) > 0 {
				kbt, ok := col.Keys[key]
				if !ok {
					return nil, fmt.Errorf("unknown key %q", k)
				}
				bt = kbt
			}
			if _, dup := out[key]; dup {
				return nil, fmt.Errorf("duplicate key %q", k)
			}
			val, err := verifyAtom(bt, m[k])
			if err != nil {
				return nil, fmt.Errorf("key %q: %w", k, err)
			}
			out[key] = val
		}
		return out, nil

	case col.IsList():
		list, ok := raw.([]any)
		if !ok {
			return nil, fmt.Errorf("expected an array, got %s", describe(raw))
		}
		if err := checkCount(col.Min, col.Max, len(list)); err != nil {
			return nil, err
		}
		out := make([]any, 0, len(list))
		seen := make(map[string]bool, len(list))
		for _, e := range list {
			val, err := verifyAtom(col.Key, e)
			if err != nil {
				return nil, err
			}
			k := replica.FormatAtom(val)
			if seen[k] {
				return nil, fmt.Errorf("duplicate value %s", k)
			}
			seen[k] = true
			out = append(out, val)
		}
		return out, nil
	}

	return verifyAtom(col.Key, raw)
}

// verifyAtom checks one element against its base type and returns it in
// stored form: int64, float64, string or bool
func verifyAtom(bt schema.BaseType, raw any) (any, error) {
	var val any
	switch bt.Type {
	case schema.TypeInteger:
		n, ok := utils.ToInt64(raw)
		if !ok {
			return nil, fmt.Errorf("expected an integer, got %s", describe(raw))
		}
		if bt.MinInteger != nil && n < *bt.MinInteger {
			return nil, fmt.Errorf("%d is below the minimum %d", n, *bt.MinInteger)
		}
		if bt.MaxInteger != nil && n > *bt.MaxInteger {
			return nil, fmt.Errorf("%d is above the maximum %d", n, *bt.MaxInteger)
		}
		val = n
	case schema.TypeReal:
		f, ok := utils.ToFloat64(raw)
		if !ok {
			return nil, fmt.Errorf("expected a number, got %s", describe(raw))
		}
		if bt.MinReal != nil && f < *bt.MinReal {
			return nil, fmt.Errorf("%g is below the minimum %g", f, *bt.MinReal)
		}
		if bt.MaxReal != nil && f > *bt.MaxReal {
			return nil, fmt.Errorf("%g is above the maximum %g", f, *bt.MaxReal)
		}
		val = f
	case schema.TypeString:
		s, ok := raw.(string)
		if !ok {
			return nil, fmt.Errorf("expected a string, got %s", describe(raw))
		}
		n := utf8.RuneCountInString(s)
		if bt.MinLength != nil && n < *bt.MinLength {
			return nil, fmt.Errorf("length %d is below the minimum %d", n, *bt.MinLength)
		}
		if bt.MaxLength != nil && n > *bt.MaxLength {
			return nil, fmt.Errorf("length %d is above the maximum %d", n, *bt.MaxLength)
		}
		val = s
	case schema.TypeBoolean:
		b, ok := raw.(bool)
		if !ok {
			return nil, fmt.Errorf("expected a boolean, got %s", describe(raw))
		}
		val = b
	case schema.TypeUUID:
		s, _ := raw.(string)
		id, ok := utils.NormalizeUUID(s)
		if !ok {
			return nil, fmt.Errorf("expected a uuid, got %s", describe(raw))
		}
		val = id
	}

	if len(bt.Enum) > 0 {
		for _, e := range bt.Enum {
			if replica.EqualValue(e, val) {
				return val, nil
			}
		}
		return nil, fmt.Errorf("%s is not one of %v", replica.FormatAtom(val), bt.Enum)
	}
	return val, nil
}

// canonicalKey checks a map key against its base type and returns its stored form
func canonicalKey(bt schema.BaseType, k string) (string, error) {
	canon, ok := canonicalAtom(bt, k)
	if !ok {
		return "", fmt.Errorf("expected a %s key", bt.Type)
	}
	var typed any = canon
	switch bt.Type {
	case schema.TypeInteger:
		n, _ := utils.ToInt64(json.Number(canon))
		typed = n
	case schema.TypeReal:
		f, _ := utils.ToFloat64(json.Number(canon))
		typed = f
	case schema.TypeBoolean:
		typed = canon == "true"
	case schema.TypeString, schema.TypeUUID:
	}
	val, err := verifyAtom(bt, typed)
	if err != nil {
		return "", err
	}
	return replica.FormatAtom(val), nil
}

func checkCount(min, max, n int) error {
	if n < min {
		return fmt.Errorf("expected at least %d values, got %d", min, n)
	}
	if max != schema.Unbounded && n > max {
		return fmt.Errorf("expected at most %d values, got %d", max, n)
	}
	return nil
}

func describe(v any) string {
	switch v.(type) {
	case nil:
		return "null"
	case string:
		return "a string"
	case bool:
		return "a boolean"
	case []any:
		return "an array"
	case map[string]any:
		return "an object"
	}
	return fmt.Sprintf("%v", v)
}

func sortedNames(m map[string]any) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
