package replica

import "context"

// OpKind is the kind of a row operation shipped to the store
type OpKind int

const (
	OpInsert OpKind = iota
	OpUpdate
	OpDelete
)

func (k OpKind) String() string {
	switch k {
	case OpInsert:
		return "insert"
	case OpUpdate:
		return "update"
	case OpDelete:
		return "delete"
	}
	return "unknown"
}

// Op is one row operation. Row carries the full post-image for inserts and updates.
type Op struct {
	Kind  OpKind
	Table string
	UUID  string
	Row   map[string]any
}

// Snapshot is table → uuid → row
type Snapshot map[string]map[string]map[string]any

// Store is the authoritative database the replica mirrors.
// Transact must apply all ops atomically or none of them.
type Store interface {
	Snapshot(ctx context.Context) (Snapshot, error)
	Transact(ctx context.Context, ops []Op) error
	Ping(ctx context.Context) error
	Close() error
}
