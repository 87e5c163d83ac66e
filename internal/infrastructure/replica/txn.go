package replica

import (
	"sort"
	"sync"

	apperrors "github.com/ovsrestd/backend/pkg/errors"
	"github.com/ovsrestd/backend/pkg/utils"
)

// Txn stages row changes against the replica. Reads through a Txn see its own
// staged changes on top of the committed state.
type Txn struct {
	mu sync.Mutex // guards staged changes
	r  *Replica
	id uint64

	stateMu sync.Mutex // leaf lock, may be taken while holding r.mu
	status  Status
	detail  string
	done    chan struct{}

	inserted map[string]map[string]map[string]any
	updated  map[string]map[string]map[string]any
	deleted  map[string]map[string]bool
	versions map[rowKey]uint64
}

// ID returns the transaction identifier, unique per replica
func (t *Txn) ID() uint64 { return t.id }

// Insert stages a new empty row and returns its UUID
func (t *Txn) Insert(table string) (string, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.Status() != StatusUncommitted {
		return "", apperrors.ErrTxnClosed
	}
	id := utils.GenerateID()
	if t.inserted[table] == nil {
		t.inserted[table] = make(map[string]map[string]any)
	}
	t.inserted[table][id] = make(map[string]any)
	return id, nil
}

// Get returns a copy of a row as seen by this transaction
func (t *Txn) Get(table, id string) (map[string]any, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if data, ok := t.staged(table, id); ok {
		return CloneRow(data), true
	}
	if t.deleted[table][id] {
		return nil, false
	}
	return t.r.Get(table, id)
}

// Rows returns the UUIDs of every row of a table as seen by this transaction, sorted
func (t *Txn) Rows(table string) []string {
	t.mu.Lock()
	defer t.mu.Unlock()
	var ids []string
	for _, id := range t.r.Rows(table) {
		if !t.deleted[table][id] {
			ids = append(ids, id)
		}
	}
	for id := range t.inserted[table] {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Set stages a column write. An empty value clears the column.
func (t *Txn) Set(table, id, column string, value any) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.Status() != StatusUncommitted {
		return apperrors.ErrTxnClosed
	}
	data, err := t.writable(table, id)
	if err != nil {
		return err
	}
	if EqualValue(data[column], value) {
		return nil
	}
	if IsEmpty(value) {
		delete(data, column)
	} else {
		data[column] = CloneValue(value)
	}
	return nil
}

// Delete stages a row deletion
func (t *Txn) Delete(table, id string) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.Status() != StatusUncommitted {
		return apperrors.ErrTxnClosed
	}
	if _, ok := t.inserted[table][id]; ok {
		delete(t.inserted[table], id)
		return nil
	}
	if t.deleted[table][id] {
		return apperrors.NewNotFoundError(table+"/"+id, "row does not exist")
	}
	if _, ok := t.updated[table][id]; !ok {
		if !t.track(table, id) {
			return apperrors.NewNotFoundError(table+"/"+id, "row does not exist")
		}
	}
	delete(t.updated[table], id)
	if t.deleted[table] == nil {
		t.deleted[table] = make(map[string]bool)
	}
	t.deleted[table][id] = true
	return nil
}

// Commit proposes the staged changes. It returns StatusIncomplete while the store
// has not answered; calling Commit again afterwards reports the current status.
func (t *Txn) Commit() Status {
	t.mu.Lock()
	defer t.mu.Unlock()
	if st := t.Status(); st != StatusUncommitted {
		return st
	}
	status, detail := t.r.propose(t)
	if status != StatusIncomplete {
		t.setState(status, detail)
		close(t.done)
	}
	return t.Status()
}

// Abort discards the staged changes of an uncommitted transaction
func (t *Txn) Abort() {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.Status() != StatusUncommitted {
		return
	}
	t.inserted = nil
	t.updated = nil
	t.deleted = nil
	t.setState(StatusAborted, "")
	close(t.done)
}

// Status returns the current transaction status
func (t *Txn) Status() Status {
	t.stateMu.Lock()
	defer t.stateMu.Unlock()
	return t.status
}

// Detail returns the store's explanation for a failed commit
func (t *Txn) Detail() string {
	t.stateMu.Lock()
	defer t.stateMu.Unlock()
	return t.detail
}

// Done is closed once the transaction reaches a terminal status
func (t *Txn) Done() <-chan struct{} { return t.done }

func (t *Txn) setState(status Status, detail string) {
	t.stateMu.Lock()
	defer t.stateMu.Unlock()
	t.status = status
	t.detail = detail
}

// finish records the store's answer for an incomplete transaction
func (t *Txn) finish(status Status, detail string) {
	t.stateMu.Lock()
	if t.status != StatusIncomplete {
		t.stateMu.Unlock()
		return
	}
	t.status = status
	t.detail = detail
	t.stateMu.Unlock()
	close(t.done)
}

func (t *Txn) staged(table, id string) (map[string]any, bool) {
	if data, ok := t.inserted[table][id]; ok {
		return data, true
	}
	if data, ok := t.updated[table][id]; ok {
		return data, true
	}
	return nil, false
}

// writable returns the staged post-image of a row, copying it from the committed
// state on first write
func (t *Txn) writable(table, id string) (map[string]any, error) {
	if data, ok := t.staged(table, id); ok {
		return data, nil
	}
	if t.deleted[table][id] || !t.track(table, id) {
		return nil, apperrors.NewNotFoundError(table+"/"+id, "row does not exist")
	}
	return t.updated[table][id], nil
}

// track snapshots a committed row and its version into the update set
func (t *Txn) track(table, id string) bool {
	t.r.mu.RLock()
	rw, ok := t.r.tables[table][id]
	var data map[string]any
	if ok {
		data = CloneRow(rw.data)
		t.versions[rowKey{table, id}] = rw.version
	}
	t.r.mu.RUnlock()
	if !ok {
		return false
	}
	if t.updated[table] == nil {
		t.updated[table] = make(map[string]map[string]any)
	}
	t.updated[table][id] = data
	return true
}

// buildOps turns the staged changes into store operations: deletes, then inserts,
// then updates, each ordered by table and UUID. Updates that end up equal to the
// committed row are dropped. Caller holds t.mu and r.mu.
func (t *Txn) buildOps() []Op {
	var ops []Op
	for _, table := range sortedKeys(t.deleted) {
		for _, id := range sortedKeys(t.deleted[table]) {
			ops = append(ops, Op{Kind: OpDelete, Table: table, UUID: id})
		}
	}
	for _, table := range sortedKeys(t.inserted) {
		for _, id := range sortedKeys(t.inserted[table]) {
			ops = append(ops, Op{Kind: OpInsert, Table: table, UUID: id, Row: CloneRow(t.inserted[table][id])})
		}
	}
	for _, table := range sortedKeys(t.updated) {
		for _, id := range sortedKeys(t.updated[table]) {
			post := t.updated[table][id]
			if committed, ok := t.r.tables[table][id]; ok && EqualRow(committed.data, post) {
				continue
			}
			ops = append(ops, Op{Kind: OpUpdate, Table: table, UUID: id, Row: CloneRow(post)})
		}
	}
	return ops
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
