// Package store provides the authoritative databases a replica mirrors.
package store

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/ovsrestd/backend/internal/infrastructure/replica"
	apperrors "github.com/ovsrestd/backend/pkg/errors"
)

// MemoryStore is an in-process store. Commits can be delayed and failures
// injected, which makes it the store of choice for tests and demos.
type MemoryStore struct {
	mu       sync.Mutex
	tables   replica.Snapshot
	latency  time.Duration
	down     bool
	failNext error
}

// NewMemoryStore creates an empty store whose commits are answered after latency
func NewMemoryStore(latency time.Duration) *MemoryStore {
	return &MemoryStore{
		tables:  make(replica.Snapshot),
		latency: latency,
	}
}

// Seed writes a row directly, bypassing transactions
func (s *MemoryStore) Seed(table, uuid string, row map[string]any) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.tables[table] == nil {
		s.tables[table] = make(map[string]map[string]any)
	}
	s.tables[table][uuid] = replica.CloneRow(row)
}

// SetDown simulates losing (or regaining) the store session
func (s *MemoryStore) SetDown(down bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.down = down
}

// FailNext makes the next Transact call return err without applying anything
func (s *MemoryStore) FailNext(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failNext = err
}

// Snapshot returns a deep copy of every table
func (s *MemoryStore) Snapshot(ctx context.Context) (replica.Snapshot, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.down {
		return nil, apperrors.ErrDisconnected
	}
	out := make(replica.Snapshot, len(s.tables))
	for table, rows := range s.tables {
		t := make(map[string]map[string]any, len(rows))
		for id, row := range rows {
			t[id] = replica.CloneRow(row)
		}
		out[table] = t
	}
	return out, nil
}

// Transact applies ops atomically
func (s *MemoryStore) Transact(ctx context.Context, ops []replica.Op) error {
	if s.latency > 0 {
		select {
		case <-time.After(s.latency):
		case <-ctx.Done():
			return ctx.Err()
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.down {
		return apperrors.ErrDisconnected
	}
	if err := s.failNext; err != nil {
		s.failNext = nil
		return err
	}

	for _, op := range ops {
		_, exists := s.tables[op.Table][op.UUID]
		switch op.Kind {
		case replica.OpInsert:
			if exists {
				return fmt.Errorf("insert %s/%s: row already exists", op.Table, op.UUID)
			}
		case replica.OpUpdate, replica.OpDelete:
			if !exists {
				return fmt.Errorf("%s %s/%s: row does not exist", op.Kind, op.Table, op.UUID)
			}
		}
	}

	for _, op := range ops {
		switch op.Kind {
		case replica.OpInsert, replica.OpUpdate:
			if s.tables[op.Table] == nil {
				s.tables[op.Table] = make(map[string]map[string]any)
			}
			s.tables[op.Table][op.UUID] = replica.CloneRow(op.Row)
		case replica.OpDelete:
			delete(s.tables[op.Table], op.UUID)
		}
	}
	return nil
}

// Ping reports whether the store session is up
func (s *MemoryStore) Ping(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.down {
		return apperrors.ErrDisconnected
	}
	return nil
}

// Close is a no-op
func (s *MemoryStore) Close() error { return nil }
