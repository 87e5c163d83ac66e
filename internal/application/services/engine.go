package services

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sort"

	jsonpatch "github.com/evanphx/json-patch/v5"
	"go.uber.org/zap"

	"github.com/ovsrestd/backend/internal/domain/resource"
	"github.com/ovsrestd/backend/internal/domain/schema"
	"github.com/ovsrestd/backend/internal/infrastructure/replica"
	"github.com/ovsrestd/backend/pkg/constants"
	apperrors "github.com/ovsrestd/backend/pkg/errors"
)

// Engine turns resolved resources and verified bodies into row operations and
// submits them as one transaction per request
type Engine struct {
	schema      *schema.Schema
	replica     *replica.Replica
	accessor    *Accessor
	verifier    *Verifier
	reader      *Reader
	coordinator *Coordinator
	uris        *URIBuilder
	logger      *zap.SugaredLogger
}

// NewEngine creates a new mutation Engine
func NewEngine(s *schema.Schema, r *replica.Replica, a *Accessor, v *Verifier, rd *Reader, c *Coordinator, uris *URIBuilder, logger *zap.SugaredLogger) *Engine {
	return &Engine{
		schema:      s,
		replica:     r,
		accessor:    a,
		verifier:    v,
		reader:      rd,
		coordinator: c,
		uris:        uris,
		logger:      ensureLogger(logger),
	}
}

// Post creates a row under the collection res addresses and returns its URI
func (e *Engine) Post(ctx context.Context, res *resource.Resource, body map[string]any) (string, error) {
	term := res.Terminal()
	if res.IsRoot() || term.IsInstance() {
		return "", apperrors.NewMethodNotAllowedError(http.MethodPost, "a row")
	}
	parent := res.Parent()

	v, err := e.verifier.Verify(http.MethodPost, res, body)
	if err != nil {
		return "", err
	}

	txn := e.replica.NewTxn()
	id, err := e.stagePost(txn, parent, v)
	if err != nil {
		txn.Abort()
		return "", err
	}
	if _, err := e.coordinator.Submit(ctx, txn); err != nil {
		return "", err
	}

	t := e.schema.Tables[v.Table]
	var index []string
	switch {
	case v.Key != "":
		index = []string{v.Key}
	case t.HasUUIDIndex():
		index = []string{id}
	default:
		for _, col := range t.URIIndexes() {
			index = append(index, replica.FormatAtom(v.Attributes[col]))
		}
	}
	uri := e.uris.ResourceURI(res, index...)
	e.logger.Infow("Row created", "table", v.Table, "uuid", id, "uri", uri)
	return uri, nil
}

func (e *Engine) stagePost(txn *replica.Txn, parent *resource.Hop, v *Verified) (string, error) {
	id, err := txn.Insert(v.Table)
	if err != nil {
		return "", err
	}
	if err := setAll(txn, v.Table, id, v.Attributes); err != nil {
		return "", err
	}

	switch parent.Relation {
	case resource.RelationChild, resource.RelationReference:
		ref := e.schema.Tables[parent.Table].References[parent.Column]
		row, ok := txn.Get(parent.Table, parent.UUID)
		if !ok {
			return "", apperrors.NewNotFoundError(parent.Table+"/"+parent.UUID, "row does not exist")
		}
		var value any
		switch {
		case ref.KeyValue:
			m := make(map[string]any)
			if cur, ok := row[parent.Column].(map[string]any); ok {
				for k, val := range cur {
					m[k] = val
				}
			}
			m[v.Key] = id
			value = m
		case ref.IsPlural():
			value = refWith(row[parent.Column], id)
		default:
			value = id
		}
		return id, txn.Set(parent.Table, parent.UUID, parent.Column, value)

	case resource.RelationBackReference:
		// the parent pointer is part of the verified attributes
		return id, nil

	case resource.RelationTopLevel:
		for _, target := range v.ReferencedBy {
			if err := attach(e.schema, txn, target, id); err != nil {
				return "", err
			}
		}
		return id, nil

	case resource.RelationNone:
	}
	return "", apperrors.NewMethodNotAllowedError(http.MethodPost, parent.Table)
}

// attach points a reference column of an existing row at id
func attach(s *schema.Schema, txn *replica.Txn, target ReferenceTarget, id string) error {
	ref := s.Tables[target.Table].References[target.Column]
	row, ok := txn.Get(target.Table, target.UUID)
	if !ok {
		return apperrors.NewNotFoundError(target.Table+"/"+target.UUID, "row does not exist")
	}
	if !ref.IsPlural() {
		return txn.Set(target.Table, target.UUID, target.Column, id)
	}
	if refContains(row[target.Column], id) {
		return nil
	}
	return txn.Set(target.Table, target.UUID, target.Column, refWith(row[target.Column], id))
}

// Put replaces the configuration of the row res addresses
func (e *Engine) Put(ctx context.Context, res *resource.Resource, body map[string]any) error {
	term := res.Terminal()
	if !term.IsInstance() {
		return apperrors.NewMethodNotAllowedError(http.MethodPut, "a collection")
	}
	v, err := e.verifier.Verify(http.MethodPut, res, body)
	if err != nil {
		return err
	}

	txn := e.replica.NewTxn()
	if err := setAll(txn, term.Table, term.UUID, v.Attributes); err != nil {
		txn.Abort()
		return err
	}
	_, err = e.coordinator.Submit(ctx, txn)
	return err
}

// Delete removes the row res addresses together with the rows it owns, and
// clears every reference to them
func (e *Engine) Delete(ctx context.Context, res *resource.Resource) error {
	term := res.Terminal()
	if res.IsRoot() {
		return apperrors.NewMethodNotAllowedError(http.MethodDelete, "the root row")
	}
	if !term.IsInstance() {
		return apperrors.NewMethodNotAllowedError(http.MethodDelete, "a collection")
	}
	parent := res.Parent()

	txn := e.replica.NewTxn()
	if err := e.stageDelete(txn, parent, term); err != nil {
		txn.Abort()
		return err
	}
	if _, err := e.coordinator.Submit(ctx, txn); err != nil {
		return err
	}
	e.logger.Infow("Row deleted", "table", term.Table, "uuid", term.UUID)
	return nil
}

func (e *Engine) stageDelete(txn *replica.Txn, parent, term *resource.Hop) error {
	if parent.Relation == resource.RelationChild || parent.Relation == resource.RelationReference {
		row, _ := txn.Get(parent.Table, parent.UUID)
		if pruned, changed := refWithout(row[parent.Column], map[string]bool{term.UUID: true}); changed {
			if err := txn.Set(parent.Table, parent.UUID, parent.Column, pruned); err != nil {
				return err
			}
		}
	}

	deleted := make(map[string]map[string]bool)
	if err := e.cascade(txn, term.Table, term.UUID, deleted); err != nil {
		return err
	}
	return e.sweep(txn, deleted)
}

// cascade deletes a row and every row it owns through child columns or
// parent pointers
func (e *Engine) cascade(txn *replica.Txn, table, id string, deleted map[string]map[string]bool) error {
	if deleted[table][id] {
		return nil
	}
	t := e.schema.Tables[table]
	row, ok := txn.Get(table, id)
	if !ok {
		return apperrors.NewNotFoundError(table+"/"+id, "row does not exist")
	}
	if deleted[table] == nil {
		deleted[table] = make(map[string]bool)
	}
	deleted[table][id] = true

	for _, col := range t.Children {
		for _, child := range refMembers(row[col]) {
			if err := e.cascade(txn, t.References[col].Table, child, deleted); err != nil {
				return err
			}
		}
	}
	for _, childTable := range t.BackChildren {
		parentCol, _ := e.schema.Tables[childTable].ParentColumn()
		for _, child := range txn.Rows(childTable) {
			crow, _ := txn.Get(childTable, child)
			if replica.FormatAtom(crow[parentCol]) == id {
				if err := e.cascade(txn, childTable, child, deleted); err != nil {
					return err
				}
			}
		}
	}
	return txn.Delete(table, id)
}

// sweep removes references to deleted rows from every surviving row
func (e *Engine) sweep(txn *replica.Txn, deleted map[string]map[string]bool) error {
	tables := make([]string, 0, len(deleted))
	for table := range deleted {
		tables = append(tables, table)
	}
	sort.Strings(tables)

	for _, table := range tables {
		ids := deleted[table]
		for _, referrer := range e.schema.ReferencesByTable[table] {
			if referrer.Kind == schema.RefParent {
				continue
			}
			for _, rid := range txn.Rows(referrer.Table) {
				if deleted[referrer.Table][rid] {
					continue
				}
				row, _ := txn.Get(referrer.Table, rid)
				pruned, changed := refWithout(row[referrer.Column], ids)
				if !changed {
					continue
				}
				if err := txn.Set(referrer.Table, rid, referrer.Column, pruned); err != nil {
					return err
				}
			}
		}
	}
	return nil
}

// Patch applies an RFC 6902 patch to the configuration of the row res
// addresses. It reports false when the patch only holds passing tests.
func (e *Engine) Patch(ctx context.Context, res *resource.Resource, doc []byte) (bool, error) {
	term := res.Terminal()
	if !term.IsInstance() {
		return false, apperrors.NewMethodNotAllowedError(http.MethodPatch, "a collection")
	}

	patch, err := jsonpatch.DecodePatch(doc)
	if err != nil {
		return false, apperrors.NewValidationError("patch", err.Error())
	}
	cfg, err := e.reader.Configuration(res)
	if err != nil {
		return false, err
	}
	current, err := json.Marshal(cfg)
	if err != nil {
		return false, apperrors.NewInternalError("encoding configuration", err)
	}
	patched, err := patch.Apply(current)
	if err != nil {
		return false, apperrors.NewValidationError("patch", err.Error())
	}
	if testOnly(patch) {
		return false, nil
	}

	var next map[string]any
	dec := json.NewDecoder(bytes.NewReader(patched))
	dec.UseNumber()
	if err := dec.Decode(&next); err != nil || next == nil {
		return false, apperrors.NewValidationError("patch", "patched configuration is not an object")
	}

	// GET omits empty columns and PUT keeps absent ones, so a column the patch
	// removed must be written back as explicitly empty
	t := e.schema.Tables[term.Table]
	for name := range cfg {
		if _, ok := next[name]; !ok {
			next[name] = emptyValue(t, name)
		}
	}

	body := map[string]any{constants.KeyConfiguration: next}
	if err := e.Put(ctx, res, body); err != nil {
		return false, err
	}
	return true, nil
}

func testOnly(p jsonpatch.Patch) bool {
	if len(p) == 0 {
		return false
	}
	for _, op := range p {
		if op.Kind() != "test" {
			return false
		}
	}
	return true
}

// emptyValue is the cleared form of a column: nil for scalars, [] for lists
// and {} for maps
func emptyValue(t *schema.Table, name string) any {
	if col, ok := t.Column(name); ok {
		switch {
		case col.IsMap():
			return map[string]any{}
		case col.IsList():
			return []any{}
		}
		return nil
	}
	if ref, ok := t.References[name]; ok {
		switch {
		case ref.KeyValue:
			return map[string]any{}
		case ref.IsPlural():
			return []any{}
		}
	}
	return nil
}

func setAll(txn *replica.Txn, table, id string, attrs map[string]any) error {
	names := make([]string, 0, len(attrs))
	for k := range attrs {
		names = append(names, k)
	}
	sort.Strings(names)
	for _, name := range names {
		if err := txn.Set(table, id, name, attrs[name]); err != nil {
			return fmt.Errorf("setting %s.%s: %w", table, name, err)
		}
	}
	return nil
}
