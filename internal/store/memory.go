package store

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"sync"

	"github.com/google/uuid"
	"github.com/newthinker/stratsync/internal/core"
)

// FaultFunc lets tests inject failures. It is called before every
// operation; op is "list", "update" or "bulk_update" and id is empty for
// whole-call checks. A non-nil error fails the call (or the single id).
type FaultFunc func(op, entityType, id string) error

// MemoryStore is a thread-safe in-process entity store.
type MemoryStore struct {
	mu      sync.RWMutex
	records map[string]map[string]Record
	order   map[string][]string
	fault   FaultFunc
}

// Compile-time interface check.
var _ Store = (*MemoryStore)(nil)

// NewMemoryStore creates an empty store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		records: make(map[string]map[string]Record),
		order:   make(map[string][]string),
	}
}

// SetFault installs a fault injection hook. Pass nil to clear it.
func (m *MemoryStore) SetFault(fn FaultFunc) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.fault = fn
}

func (m *MemoryStore) checkFault(op, entityType, id string) error {
	m.mu.RLock()
	fn := m.fault
	m.mu.RUnlock()
	if fn == nil {
		return nil
	}
	return fn(op, entityType, id)
}

// Create inserts a record, assigning an id if it has none.
func (m *MemoryStore) Create(entityType string, rec Record) Record {
	m.mu.Lock()
	defer m.mu.Unlock()

	rec = rec.Clone()
	id := rec.ID()
	if id == "" {
		id = uuid.NewString()
		rec["id"] = id
	}

	bucket, ok := m.records[entityType]
	if !ok {
		bucket = make(map[string]Record)
		m.records[entityType] = bucket
	}
	if _, exists := bucket[id]; !exists {
		m.order[entityType] = append(m.order[entityType], id)
	}
	bucket[id] = rec
	return rec.Clone()
}

// Get returns a copy of a single record.
func (m *MemoryStore) Get(entityType, id string) (Record, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	rec, ok := m.records[entityType][id]
	if !ok {
		return nil, false
	}
	return rec.Clone(), true
}

// List returns records of entityType matching q, in insertion order
// unless q.Sort is set.
func (m *MemoryStore) List(ctx context.Context, entityType string, q Query) ([]Record, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if err := m.checkFault("list", entityType, ""); err != nil {
		return nil, err
	}

	m.mu.RLock()
	all := make([]Record, 0, len(m.order[entityType]))
	for _, id := range m.order[entityType] {
		all = append(all, m.records[entityType][id].Clone())
	}
	m.mu.RUnlock()

	return Apply(all, q), nil
}

// Update merges patch into the record and returns the result.
func (m *MemoryStore) Update(ctx context.Context, entityType, id string, patch Patch) (Record, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if err := m.checkFault("update", entityType, id); err != nil {
		return nil, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	return m.applyLocked(entityType, id, patch)
}

// BulkUpdate applies patch to every id; unknown ids are reported as failed.
func (m *MemoryStore) BulkUpdate(ctx context.Context, entityType string, ids []string, patch Patch) (BulkResult, error) {
	if err := ctx.Err(); err != nil {
		return BulkResult{}, err
	}
	if err := m.checkFault("bulk_update", entityType, ""); err != nil {
		return BulkResult{}, err
	}

	var res BulkResult
	for _, id := range ids {
		if err := m.checkFault("bulk_update", entityType, id); err != nil {
			res.Failed = append(res.Failed, id)
			continue
		}
		m.mu.Lock()
		_, err := m.applyLocked(entityType, id, patch)
		m.mu.Unlock()
		if err != nil {
			res.Failed = append(res.Failed, id)
			continue
		}
		res.Succeeded = append(res.Succeeded, id)
	}
	return res, nil
}

func (m *MemoryStore) applyLocked(entityType, id string, patch Patch) (Record, error) {
	rec, ok := m.records[entityType][id]
	if !ok {
		return nil, core.WrapError(core.ErrNotFound, fmt.Errorf("%s %s", entityType, id))
	}
	for k, v := range patch {
		rec[k] = v
	}
	return rec.Clone(), nil
}

// Count returns the number of records of entityType.
func (m *MemoryStore) Count(entityType string) int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.records[entityType])
}

// LoadSeedFile populates the store from a seed file. See ReadSeedFile.
func (m *MemoryStore) LoadSeedFile(path string) error {
	seed, err := ReadSeedFile(path)
	if err != nil {
		return err
	}
	for entityType, recs := range seed {
		for _, rec := range recs {
			m.Create(entityType, rec)
		}
	}
	return nil
}

// ReadSeedFile parses a JSON document keyed by entity type, e.g.
// {"Trade": [...], "Strategy": [...]}.
func ReadSeedFile(path string) (map[string][]Record, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading seed file: %w", err)
	}

	var seed map[string][]Record
	if err := json.Unmarshal(data, &seed); err != nil {
		return nil, fmt.Errorf("parsing seed file: %w", err)
	}
	return seed, nil
}
