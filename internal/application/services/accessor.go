package services

import (
	"context"
	"sort"
	"strconv"
	"strings"
	"sync"

	"go.uber.org/zap"

	"github.com/ovsrestd/backend/internal/domain/schema"
	"github.com/ovsrestd/backend/internal/infrastructure/replica"
	"github.com/ovsrestd/backend/pkg/constants"
)

// Accessor is the read side of the replica. It keeps an index → row cache per
// table, maintained from replica change events.
type Accessor struct {
	schema  *schema.Schema
	replica *replica.Replica
	logger  *zap.SugaredLogger

	mu    sync.RWMutex
	index map[string]map[string]string // table → index key → uuid
	seqno uint64

	unsubscribe []func()
}

// NewAccessor creates an accessor and subscribes it to replica events
func NewAccessor(s *schema.Schema, r *replica.Replica, logger *zap.SugaredLogger) *Accessor {
	a := &Accessor{
		schema:  s,
		replica: r,
		logger:  ensureLogger(logger),
		index:   make(map[string]map[string]string),
	}
	bus := r.Events()
	a.unsubscribe = append(a.unsubscribe,
		bus.Subscribe(replica.EventRowsChanged, a.onRowsChanged),
		bus.Subscribe(replica.EventReloaded, a.onReloaded),
		bus.Subscribe(replica.EventOffline, a.onOffline),
	)
	a.rebuild(r.Seqno())
	return a
}

// Close detaches the accessor from the replica
func (a *Accessor) Close() {
	for _, fn := range a.unsubscribe {
		fn()
	}
	a.unsubscribe = nil
}

func (a *Accessor) onRowsChanged(_ context.Context, ev replica.Event) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	for _, ch := range ev.Changes {
		t, ok := a.schema.Table(ch.Table)
		if !ok || t.HasUUIDIndex() {
			continue
		}
		cache := a.tableCache(ch.Table)
		if ch.Old != nil {
			k := rowIndexKey(t, ch.Old)
			if cache[k] == ch.UUID {
				delete(cache, k)
			}
		}
		if ch.New != nil {
			cache[rowIndexKey(t, ch.New)] = ch.UUID
		}
	}
	a.seqno = ev.Seqno
	return nil
}

func (a *Accessor) onReloaded(_ context.Context, ev replica.Event) error {
	a.rebuild(ev.Seqno)
	a.logger.Debugw("Index cache rebuilt", "seqno", ev.Seqno)
	return nil
}

func (a *Accessor) onOffline(_ context.Context, ev replica.Event) error {
	a.mu.Lock()
	a.seqno = ev.Seqno
	a.mu.Unlock()
	return nil
}

func (a *Accessor) rebuild(seqno uint64) {
	index := make(map[string]map[string]string)
	for _, name := range a.schema.TableNames() {
		t := a.schema.Tables[name]
		if t.HasUUIDIndex() {
			continue
		}
		cache := make(map[string]string)
		a.replica.Each(name, func(id string, row map[string]any) {
			cache[rowIndexKey(t, row)] = id
		})
		index[name] = cache
	}
	a.mu.Lock()
	a.index = index
	a.seqno = seqno
	a.mu.Unlock()
}

// tableCache returns the cache of a table, creating it. Caller holds a.mu.
func (a *Accessor) tableCache(table string) map[string]string {
	cache, ok := a.index[table]
	if !ok {
		cache = make(map[string]string)
		a.index[table] = cache
	}
	return cache
}

// Row returns a copy of a committed row
func (a *Accessor) Row(table, id string) (map[string]any, bool) {
	return a.replica.Get(table, id)
}

// Rows returns every committed row UUID of a table, sorted
func (a *Accessor) Rows(table string) []string {
	return a.replica.Rows(table)
}

// RootUUID returns the UUID of the root singleton row
func (a *Accessor) RootUUID() (string, bool) {
	ids := a.replica.Rows(constants.RootTable)
	if len(ids) == 0 {
		return "", false
	}
	return ids[0], true
}

// IndexValues returns the URI index segments of a row
func (a *Accessor) IndexValues(table, id string) ([]string, bool) {
	t, ok := a.schema.Table(table)
	if !ok {
		return nil, false
	}
	if t.HasUUIDIndex() {
		return []string{id}, true
	}
	row, ok := a.replica.Get(table, id)
	if !ok {
		return nil, false
	}
	uriIndexes := t.URIIndexes()
	out := make([]string, len(uriIndexes))
	for i, col := range uriIndexes {
		out[i] = replica.FormatAtom(row[col])
	}
	return out, true
}

// LookupByIndex finds the row whose full index (every column of the table's
// indexes, in order) equals values. Values must already be canonical.
func (a *Accessor) LookupByIndex(table string, values []string) (string, bool) {
	t, ok := a.schema.Table(table)
	if !ok {
		return "", false
	}
	if t.HasUUIDIndex() {
		if len(values) != 1 {
			return "", false
		}
		_, ok := a.replica.Get(table, values[0])
		return values[0], ok
	}
	if len(values) != len(t.Indexes) {
		return "", false
	}
	key := strings.Join(values, "\x00")

	a.mu.RLock()
	id, hit := a.index[table][key]
	inSync := a.seqno == a.replica.Seqno()
	a.mu.RUnlock()

	if hit {
		if row, ok := a.replica.Get(table, id); ok && rowIndexKey(t, row) == key {
			return id, true
		}
	} else if inSync {
		return "", false
	}
	return a.scan(t, key)
}

func (a *Accessor) scan(t *schema.Table, key string) (string, bool) {
	var found string
	a.replica.Each(t.Name, func(id string, row map[string]any) {
		if found == "" && rowIndexKey(t, row) == key {
			found = id
		}
	})
	return found, found != ""
}

// RowsWhere returns the rows of table whose column renders as value, sorted
func (a *Accessor) RowsWhere(table, column, value string) []string {
	var ids []string
	a.replica.Each(table, func(id string, row map[string]any) {
		if replica.FormatAtom(row[column]) == value {
			ids = append(ids, id)
		}
	})
	sort.Strings(ids)
	return ids
}

func rowIndexKey(t *schema.Table, row map[string]any) string {
	parts := make([]string, len(t.Indexes))
	for i, col := range t.Indexes {
		parts[i] = replica.FormatAtom(row[col])
	}
	return strings.Join(parts, "\x00")
}

// canonicalAtom rewrites a URI segment into the form FormatAtom produces for a
// stored value of the given type
func canonicalAtom(bt schema.BaseType, seg string) (string, bool) {
	switch bt.Type {
	case schema.TypeInteger:
		n, err := strconv.ParseInt(strings.TrimSpace(seg), 10, 64)
		if err != nil {
			return "", false
		}
		return strconv.FormatInt(n, 10), true
	case schema.TypeReal:
		f, err := strconv.ParseFloat(strings.TrimSpace(seg), 64)
		if err != nil {
			return "", false
		}
		return replica.FormatAtom(f), true
	case schema.TypeBoolean:
		b, err := strconv.ParseBool(seg)
		if err != nil {
			return "", false
		}
		return strconv.FormatBool(b), true
	}
	return seg, true
}
