// Package replica keeps an in-memory copy of the database and stages transactions
// against it. Commits are shipped to the backing Store asynchronously; a commit that
// has been proposed but not yet confirmed reports StatusIncomplete until the store
// replies and the replica applies the change.
package replica

import (
	"context"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	apperrors "github.com/ovsrestd/backend/pkg/errors"
)

type row struct {
	data    map[string]any
	version uint64
}

type rowKey struct {
	table string
	uuid  string
}

// Replica is the local copy of all tables
type Replica struct {
	mu      sync.RWMutex
	tables  map[string]map[string]*row
	indexes map[string][]string
	seqno   uint64
	version uint64
	online  bool

	// reservations held by proposed but unconfirmed transactions
	busyRows    map[rowKey]uint64
	busyIndexes map[string]uint64

	// events are queued under mu and delivered in seqno order by whichever
	// goroutine holds pubMu
	queue []Event
	pubMu sync.Mutex

	store   Store
	events  *EventBus
	logger  *zap.SugaredLogger
	nextTxn atomic.Uint64
}

// New creates an offline replica. indexes maps table → index columns and drives
// the local uniqueness check.
func New(store Store, indexes map[string][]string, logger *zap.SugaredLogger) *Replica {
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	r := &Replica{
		tables:      make(map[string]map[string]*row),
		indexes:     indexes,
		busyRows:    make(map[rowKey]uint64),
		busyIndexes: make(map[string]uint64),
		store:       store,
		events:      NewEventBus(),
		logger:      logger,
	}
	return r
}

// Events returns the replica's event bus
func (r *Replica) Events() *EventBus { return r.events }

// Store returns the backing store
func (r *Replica) Store() Store { return r.store }

// Load fetches a snapshot from the store and replaces the local copy
func (r *Replica) Load(ctx context.Context) error {
	snap, err := r.store.Snapshot(ctx)
	if err != nil {
		return err
	}
	r.Reload(ctx, snap)
	return nil
}

// Reload replaces the local copy with snap and marks the replica online
func (r *Replica) Reload(ctx context.Context, snap Snapshot) {
	r.mu.Lock()
	r.tables = make(map[string]map[string]*row, len(snap))
	for table, rows := range snap {
		t := make(map[string]*row, len(rows))
		for id, data := range rows {
			r.version++
			t[id] = &row{data: CloneRow(data), version: r.version}
		}
		r.tables[table] = t
	}
	r.busyRows = make(map[rowKey]uint64)
	r.busyIndexes = make(map[string]uint64)
	r.online = true
	r.seqno++
	seq := r.seqno
	r.enqueue(Event{Type: EventReloaded, Seqno: seq})
	r.mu.Unlock()

	r.logger.Infow("Replica loaded", "seqno", seq, "tables", len(snap))
	r.flush(ctx)
}

// SetOffline marks the session lost. Reads keep working on the last copy but
// commits are refused until the next Reload.
func (r *Replica) SetOffline(reason string) {
	r.mu.Lock()
	was := r.online
	r.online = false
	if was {
		r.seqno++
		r.enqueue(Event{Type: EventOffline, Seqno: r.seqno})
	}
	r.mu.Unlock()

	if was {
		r.logger.Warnw("Replica offline", "reason", reason)
		r.flush(context.Background())
	}
}

// Online reports whether the store session is established
func (r *Replica) Online() bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.online
}

// Seqno returns the change sequence number
func (r *Replica) Seqno() uint64 {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.seqno
}

// Get returns a copy of a committed row
func (r *Replica) Get(table, uuid string) (map[string]any, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	rw, ok := r.tables[table][uuid]
	if !ok {
		return nil, false
	}
	return CloneRow(rw.data), true
}

// Rows returns the UUIDs of all committed rows of a table, sorted
func (r *Replica) Rows(table string) []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	ids := make([]string, 0, len(r.tables[table]))
	for id := range r.tables[table] {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Each calls fn for every committed row of a table. fn must not retain row.
func (r *Replica) Each(table string, fn func(uuid string, row map[string]any)) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for id, rw := range r.tables[table] {
		fn(id, rw.data)
	}
}

// NewTxn opens a transaction against the current replica state
func (r *Replica) NewTxn() *Txn {
	return &Txn{
		r:        r,
		id:       r.nextTxn.Add(1),
		inserted: make(map[string]map[string]map[string]any),
		updated:  make(map[string]map[string]map[string]any),
		deleted:  make(map[string]map[string]bool),
		versions: make(map[rowKey]uint64),
		done:     make(chan struct{}),
	}
}

// propose validates a transaction against the committed state and ships it to the
// store. It returns StatusIncomplete once the proposal is in flight.
func (r *Replica) propose(t *Txn) (Status, string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if !r.online {
		return StatusTryAgain, "replica offline"
	}

	ops := t.buildOps()
	if len(ops) == 0 {
		return StatusUnchanged, ""
	}

	for _, op := range ops {
		if op.Kind == OpInsert {
			continue
		}
		rw, ok := r.tables[op.Table][op.UUID]
		if !ok || rw.version != t.versions[rowKey{op.Table, op.UUID}] {
			return StatusTryAgain, "row " + op.Table + "/" + op.UUID + " changed since it was read"
		}
	}
	for _, op := range ops {
		if owner, busy := r.busyRows[rowKey{op.Table, op.UUID}]; busy && owner != t.id {
			return StatusTryAgain, "row " + op.Table + "/" + op.UUID + " has a pending change"
		}
	}

	keys, detail := r.checkIndexes(t, ops)
	if detail != "" {
		return StatusError, detail
	}

	for _, op := range ops {
		r.busyRows[rowKey{op.Table, op.UUID}] = t.id
	}
	for _, k := range keys {
		r.busyIndexes[k] = t.id
	}

	t.setState(StatusIncomplete, "")
	go r.dispatch(t, ops, keys)
	return StatusIncomplete, ""
}

// checkIndexes returns the index keys the transaction claims, or a constraint
// violation detail
func (r *Replica) checkIndexes(t *Txn, ops []Op) ([]string, string) {
	claimed := make(map[string]string)
	touched := make(map[rowKey]bool, len(ops))
	for _, op := range ops {
		touched[rowKey{op.Table, op.UUID}] = true
	}
	var keys []string
	for _, op := range ops {
		cols, ok := r.indexes[op.Table]
		if !ok || op.Kind == OpDelete {
			continue
		}
		key := indexKey(op.Table, cols, op.Row)
		if other, dup := claimed[key]; dup && other != op.UUID {
			return nil, "constraint violation: duplicate index in " + op.Table
		}
		claimed[key] = op.UUID
		if owner, busy := r.busyIndexes[key]; busy && owner != t.id {
			return nil, "constraint violation: index in " + op.Table + " is claimed by a pending transaction"
		}
		for id, rw := range r.tables[op.Table] {
			if touched[rowKey{op.Table, id}] {
				continue
			}
			if indexKey(op.Table, cols, rw.data) == key {
				return nil, "constraint violation: duplicate index in " + op.Table
			}
		}
		keys = append(keys, key)
	}
	return keys, ""
}

func (r *Replica) dispatch(t *Txn, ops []Op, keys []string) {
	err := r.store.Transact(context.Background(), ops)
	r.applyReply(t, ops, keys, err)
}

func (r *Replica) applyReply(t *Txn, ops []Op, keys []string, err error) {
	r.mu.Lock()
	for _, op := range ops {
		delete(r.busyRows, rowKey{op.Table, op.UUID})
	}
	for _, k := range keys {
		delete(r.busyIndexes, k)
	}

	var (
		status   Status
		detail   string
		changes  []RowChange
		lostLink bool
	)
	switch {
	case err == nil:
		status = StatusSuccess
		for _, op := range ops {
			changes = append(changes, r.applyOp(op))
		}
	case apperrors.Is(err, apperrors.ErrDisconnected):
		status, detail = StatusTryAgain, err.Error()
		lostLink = r.online
		r.online = false
	default:
		status, detail = StatusError, err.Error()
	}
	r.seqno++
	seq := r.seqno
	t.finish(status, detail)
	r.enqueue(Event{Type: EventRowsChanged, Seqno: seq, Changes: changes})
	if lostLink {
		r.enqueue(Event{Type: EventOffline, Seqno: seq})
	}
	r.mu.Unlock()

	r.logger.Debugw("Transaction reply processed", "txn", t.id, "status", status.String(), "seqno", seq)
	if lostLink {
		r.logger.Warnw("Replica offline", "reason", detail)
	}
	r.flush(context.Background())
}

// applyOp mutates the committed state; caller holds r.mu
func (r *Replica) applyOp(op Op) RowChange {
	t, ok := r.tables[op.Table]
	if !ok {
		t = make(map[string]*row)
		r.tables[op.Table] = t
	}
	change := RowChange{Table: op.Table, UUID: op.UUID}
	if old, ok := t[op.UUID]; ok {
		change.Old = CloneRow(old.data)
	}
	switch op.Kind {
	case OpInsert, OpUpdate:
		r.version++
		t[op.UUID] = &row{data: CloneRow(op.Row), version: r.version}
		change.New = CloneRow(op.Row)
	case OpDelete:
		delete(t, op.UUID)
	}
	return change
}

// enqueue records an event for delivery; caller holds r.mu
func (r *Replica) enqueue(ev Event) {
	ev.Timestamp = time.Now().UnixNano()
	r.queue = append(r.queue, ev)
}

// flush delivers queued events in order. If another goroutine is already
// delivering, it picks up our events too.
func (r *Replica) flush(ctx context.Context) {
	for {
		if !r.pubMu.TryLock() {
			return
		}
		for {
			r.mu.Lock()
			if len(r.queue) == 0 {
				r.mu.Unlock()
				break
			}
			ev := r.queue[0]
			r.queue = r.queue[1:]
			r.mu.Unlock()

			if err := r.events.Publish(ctx, ev); err != nil {
				r.logger.Warnw("Replica event delivery failed", "event", string(ev.Type), "error", err)
			}
		}
		r.pubMu.Unlock()

		r.mu.RLock()
		pending := len(r.queue)
		r.mu.RUnlock()
		if pending == 0 {
			return
		}
	}
}

func indexKey(table string, cols []string, data map[string]any) string {
	parts := make([]string, 0, len(cols)+1)
	parts = append(parts, table)
	for _, c := range cols {
		parts = append(parts, FormatAtom(data[c]))
	}
	return strings.Join(parts, "\x00")
}
