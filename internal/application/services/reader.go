package services

import (
	"fmt"
	"net/url"
	"sort"
	"strconv"
	"strings"

	"github.com/ovsrestd/backend/internal/domain/resource"
	"github.com/ovsrestd/backend/internal/domain/schema"
	"github.com/ovsrestd/backend/internal/infrastructure/replica"
	"github.com/ovsrestd/backend/pkg/constants"
	apperrors "github.com/ovsrestd/backend/pkg/errors"
)

// MaxDepth bounds reference expansion on GET
const MaxDepth = 10

// GetOptions are the query options of a GET request
type GetOptions struct {
	Depth    int
	Selector string
	Filters  map[string]string
	Sort     []string
	Offset   int
	Limit    int
}

// ParseGetOptions reads GET options from a query string. Unrecognized
// parameters are column filters.
func ParseGetOptions(q url.Values) (GetOptions, error) {
	opts := GetOptions{Filters: make(map[string]string)}
	var errs apperrors.ValidationErrors

	nonNegative := func(key, val string) int {
		n, err := strconv.Atoi(val)
		if err != nil || n < 0 {
			errs = append(errs, apperrors.NewValidationError(key, fmt.Sprintf("%s must be a non-negative integer", key)))
			return 0
		}
		return n
	}

	keys := make([]string, 0, len(q))
	for k := range q {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	for _, key := range keys {
		val := q.Get(key)
		switch key {
		case constants.QueryDepth:
			opts.Depth = nonNegative(key, val)
			if opts.Depth > MaxDepth {
				errs = append(errs, apperrors.NewValidationError(key, fmt.Sprintf("depth must not exceed %d", MaxDepth)))
			}
		case constants.QuerySelector:
			switch val {
			case constants.KeyConfiguration, constants.KeyStatus, constants.KeyStatistics:
				opts.Selector = val
			default:
				errs = append(errs, apperrors.NewValidationError(key, fmt.Sprintf("unknown selector %q", val)))
			}
		case constants.QuerySort:
			for _, col := range strings.Split(val, ",") {
				col = strings.TrimSpace(col)
				if strings.TrimPrefix(col, "-") == "" {
					errs = append(errs, apperrors.NewValidationError(key, "empty sort column"))
					continue
				}
				opts.Sort = append(opts.Sort, col)
			}
		case constants.QueryOffset:
			opts.Offset = nonNegative(key, val)
		case constants.QueryLimit:
			opts.Limit = nonNegative(key, val)
		default:
			opts.Filters[key] = val
		}
	}
	if err := errs.OrNil(); err != nil {
		return GetOptions{}, err
	}
	return opts, nil
}

func (o GetOptions) hasCollectionOptions() bool {
	return len(o.Filters) > 0 || len(o.Sort) > 0 || o.Offset > 0 || o.Limit > 0
}

// Reader renders resolved resources for GET
type Reader struct {
	schema   *schema.Schema
	accessor *Accessor
	uris     *URIBuilder
}

// NewReader creates a new Reader
func NewReader(s *schema.Schema, a *Accessor, uris *URIBuilder) *Reader {
	return &Reader{schema: s, accessor: a, uris: uris}
}

// Get renders an instance as a category object, or a collection as a list of
// URIs (depth 0) or of category objects
func (rd *Reader) Get(res *resource.Resource, opts GetOptions) (any, error) {
	term := res.Terminal()
	t := rd.schema.Tables[term.Table]

	if term.IsInstance() {
		if opts.hasCollectionOptions() {
			return nil, apperrors.NewValidationError("", "filters, sort, offset and limit apply to collections only")
		}
		row, ok := rd.accessor.Row(t.Name, term.UUID)
		if !ok {
			return nil, apperrors.NewNotFoundError(t.Name+"/"+term.UUID, "row does not exist")
		}
		return rd.renderRow(t, row, opts.Depth, opts.Selector), nil
	}

	if opts.Depth == 0 {
		if len(opts.Filters) > 0 || len(opts.Sort) > 0 {
			return nil, apperrors.NewValidationError(constants.QueryDepth, "filters and sort require depth of at least 1")
		}
		uris := make([]string, 0, len(term.Rows))
		for _, id := range term.Rows {
			if uri, ok := rd.uris.RowURI(t.Name, id); ok {
				uris = append(uris, uri)
			}
		}
		sort.Strings(uris)
		uris = paginate(uris, opts.Offset, opts.Limit)
		out := make([]any, len(uris))
		for i, u := range uris {
			out[i] = u
		}
		return out, nil
	}

	var errs apperrors.ValidationErrors
	filters := make(map[string]string, len(opts.Filters))
	for col, want := range opts.Filters {
		canon, err := rd.filterValue(t, col, want)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		filters[col] = canon
	}
	for _, s := range opts.Sort {
		col := strings.TrimPrefix(s, "-")
		if !hasColumn(t, col) {
			errs = append(errs, apperrors.NewValidationError(constants.QuerySort, fmt.Sprintf("unknown column %s", col)))
		}
	}
	if err := errs.OrNil(); err != nil {
		return nil, err
	}

	rows := make([]map[string]any, 0, len(term.Rows))
	for _, id := range term.Rows {
		row, ok := rd.accessor.Row(t.Name, id)
		if !ok || !matchFilters(row, filters) {
			continue
		}
		rows = append(rows, row)
	}
	sortRows(rows, opts.Sort)
	rows = paginate(rows, opts.Offset, opts.Limit)

	out := make([]any, len(rows))
	for i, row := range rows {
		out[i] = rd.renderRow(t, row, opts.Depth-1, opts.Selector)
	}
	return out, nil
}

// Configuration returns the configuration object of an instance with
// references rendered as URIs
func (rd *Reader) Configuration(res *resource.Resource) (map[string]any, error) {
	out, err := rd.Get(res, GetOptions{Selector: constants.KeyConfiguration})
	if err != nil {
		return nil, err
	}
	obj, _ := out.(map[string]any)
	cfg, _ := obj[constants.KeyConfiguration].(map[string]any)
	return cfg, nil
}

func (rd *Reader) renderRow(t *schema.Table, row map[string]any, depth int, selector string) map[string]any {
	categories := []struct {
		key      string
		columns  *schema.ColumnSet
		category schema.Category
	}{
		{constants.KeyConfiguration, t.Config, schema.CategoryConfiguration},
		{constants.KeyStatus, t.Status, schema.CategoryStatus},
		{constants.KeyStatistics, t.Stats, schema.CategoryStatistics},
	}

	out := make(map[string]any, len(categories))
	for _, c := range categories {
		if selector != "" && selector != c.key {
			continue
		}
		m := make(map[string]any)
		for _, name := range c.columns.Names() {
			if v, ok := row[name]; ok && !replica.IsEmpty(v) {
				m[name] = replica.CloneValue(v)
			}
		}
		for _, name := range t.ReferenceNames() {
			ref := t.References[name]
			if ref.Kind != schema.RefReference || ref.Category != c.category || replica.IsEmpty(row[name]) {
				continue
			}
			m[name] = rd.renderReference(ref, row[name], depth)
		}
		out[c.key] = m
	}
	return out
}

func (rd *Reader) renderReference(ref *schema.Reference, v any, depth int) any {
	if depth == 0 {
		return rd.uris.renderRef(ref, v)
	}
	target := rd.schema.Tables[ref.Table]
	expand := func(id string) any {
		row, ok := rd.accessor.Row(target.Name, id)
		if !ok {
			return id
		}
		return rd.renderRow(target, row, depth-1, "")
	}
	switch t := v.(type) {
	case string:
		return expand(t)
	case []any:
		out := make([]any, len(t))
		for i, e := range t {
			s, _ := e.(string)
			out[i] = expand(s)
		}
		return out
	case map[string]any:
		out := make(map[string]any, len(t))
		for k, e := range t {
			s, _ := e.(string)
			out[k] = expand(s)
		}
		return out
	}
	return v
}

func (rd *Reader) filterValue(t *schema.Table, col, want string) (string, *apperrors.ValidationError) {
	if c, ok := t.Column(col); ok {
		canon, ok := canonicalAtom(c.Key, want)
		if !ok {
			return "", apperrors.NewValidationError(col, fmt.Sprintf("%q is not a valid %s", want, c.Key.Type))
		}
		return canon, nil
	}
	if _, ok := t.References[col]; ok {
		return want, nil
	}
	return "", apperrors.NewValidationError(col, "unknown column")
}

func hasColumn(t *schema.Table, col string) bool {
	if _, ok := t.Column(col); ok {
		return true
	}
	_, ok := t.References[col]
	return ok
}

// matchFilters keeps rows whose columns render as the wanted values. List and
// map columns match when any element or key does.
func matchFilters(row map[string]any, filters map[string]string) bool {
	for col, want := range filters {
		matched := false
		switch v := row[col].(type) {
		case []any:
			for _, e := range v {
				if replica.FormatAtom(e) == want {
					matched = true
					break
				}
			}
		case map[string]any:
			_, matched = v[want]
		default:
			matched = replica.FormatAtom(v) == want
		}
		if !matched {
			return false
		}
	}
	return true
}

func sortRows(rows []map[string]any, keys []string) {
	if len(keys) == 0 {
		return
	}
	sort.SliceStable(rows, func(i, j int) bool {
		for _, k := range keys {
			col, desc := strings.TrimPrefix(k, "-"), strings.HasPrefix(k, "-")
			c := compareValues(rows[i][col], rows[j][col])
			if c == 0 {
				continue
			}
			if desc {
				return c > 0
			}
			return c < 0
		}
		return false
	})
}

// compareValues orders absent values first, numbers numerically and
// everything else by rendering
func compareValues(a, b any) int {
	switch {
	case a == nil && b == nil:
		return 0
	case a == nil:
		return -1
	case b == nil:
		return 1
	}
	fa, aNum := number(a)
	fb, bNum := number(b)
	if aNum && bNum {
		switch {
		case fa < fb:
			return -1
		case fa > fb:
			return 1
		}
		return 0
	}
	return strings.Compare(replica.FormatAtom(a), replica.FormatAtom(b))
}

func number(v any) (float64, bool) {
	switch n := v.(type) {
	case int64:
		return float64(n), true
	case float64:
		return n, true
	}
	return 0, false
}

func paginate[T any](items []T, offset, limit int) []T {
	if offset >= len(items) {
		return items[:0]
	}
	items = items[offset:]
	if limit > 0 && limit < len(items) {
		items = items[:limit]
	}
	return items
}
